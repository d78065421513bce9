package link

import (
	"context"
	"io"
	"time"

	"github.com/itohio/pwrlog/pkg/sample"
)

// Device defines the host view of a logger (real or simulated).
type Device interface {
	Init(ctx context.Context) (int8, error)
	Reset(ctx context.Context) error
	SetGain(ctx context.Context, gain uint16) error
	StartStream(ctx context.Context) error
	StartStore(ctx context.Context) error
	IsPortable(ctx context.Context) (bool, error)
	SetRTC(ctx context.Context, t time.Time) error
	GetRTC(ctx context.Context, seq uint16) (time.Time, error)
	SelfTest(ctx context.Context, arg uint16) (int8, error)
	SampleCount(ctx context.Context) (uint32, error)
	GitHash(ctx context.Context) (string, error)
	ReadEEPROM(ctx context.Context, n uint16) ([]byte, error)
	ReadFrame(ctx context.Context, seq, index uint16) ([]byte, error)
	ReadFile(ctx context.Context, seq uint16, w io.Writer) (int64, error)
	Frames() <-chan sample.Frame
	Close() error
}

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)
