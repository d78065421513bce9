package control

import "fmt"

// ErrorCode is a device error reported to the host in the Init ack.
type ErrorCode uint8

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeFsFormat
	ErrCodeFsMount
	ErrCodeFileOpen
	ErrCodeFileClose
	ErrCodeStoreWrite
	ErrCodeLinkTx
	ErrCodeRingOverflow
	ErrCodeFrontend
	ErrCodeRingSelfTest
	ErrCodeFsSelfTest
)

var errorNames = [...]string{
	ErrCodeNone:         "none",
	ErrCodeFsFormat:     "fs-format",
	ErrCodeFsMount:      "fs-mount",
	ErrCodeFileOpen:     "file-open",
	ErrCodeFileClose:    "file-close",
	ErrCodeStoreWrite:   "store-write",
	ErrCodeLinkTx:       "link-tx",
	ErrCodeRingOverflow: "ring-overflow",
	ErrCodeFrontend:     "frontend",
	ErrCodeRingSelfTest: "ring-self-test",
	ErrCodeFsSelfTest:   "fs-self-test",
}

func (c ErrorCode) String() string {
	if int(c) < len(errorNames) {
		return errorNames[c]
	}
	return fmt.Sprintf("error(%d)", uint8(c))
}
