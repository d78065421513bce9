package pwrlog

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionOf(t *testing.T) {
	for _, tt := range []struct {
		name    string
		info    *debug.BuildInfo
		version string
		sum     string
	}{
		{"nil", nil, "", ""},
		{"main module", &debug.BuildInfo{Main: debug.Module{Path: root, Version: "(devel)"}}, "(devel)", ""},
		{
			"dependency",
			&debug.BuildInfo{Deps: []*debug.Module{{Path: root, Version: "v0.2.0", Sum: "h1:x"}}},
			"v0.2.0", "h1:x",
		},
		{
			"replaced",
			&debug.BuildInfo{Deps: []*debug.Module{{Path: root, Version: "v0.2.0", Replace: &debug.Module{Path: "../pwrlog"}}}},
			"../pwrlog", "",
		},
		{"missing", &debug.BuildInfo{Deps: []*debug.Module{{Path: "example.com/other"}}}, "", ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			version, sum := versionOf(tt.info)
			assert.Equal(t, tt.version, version)
			assert.Equal(t, tt.sum, sum)
		})
	}
}

func TestRevisionOf(t *testing.T) {
	b := &debug.BuildInfo{
		Main: debug.Module{Path: root, Version: "v1.0.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123abcd"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	assert.Equal(t, "0123abcd+dirty", revisionOf(b))

	b.Settings = b.Settings[:1]
	assert.Equal(t, "0123abcd", revisionOf(b))

	b.Settings = nil
	assert.Equal(t, "v1.0.0", revisionOf(b))

	assert.Equal(t, "unknown", revisionOf(&debug.BuildInfo{}))
	assert.NotEmpty(t, Revision())
}
