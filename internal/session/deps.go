package session

import (
	"context"
	"io"
	"os"

	"github.com/RenatoCabral2022/xrecorder/internal/compositor"
	"github.com/RenatoCabral2022/xrecorder/internal/encoder"
	"github.com/RenatoCabral2022/xrecorder/internal/mainloop"
)

// CaptureGrant is the capture authorization a session runs under.
// *grant.Grant implements it.
type CaptureGrant interface {
	compositor.Binder
	Token() string
	Active() bool
	RegisterCallback(cb func(), exec mainloop.Executor) error
	UnregisterCallback()
	Stop() error
}

// Encoder is the encoder pipeline owned by one session.
// *encoder.FFmpeg implements it.
type Encoder interface {
	Prepare(cfg encoder.Config, out *os.File) error
	Surface() (io.WriteCloser, error)
	Start() error
	Stop() error
	Release() error
}

// EncoderFactory creates a fresh, unconfigured encoder per session.
type EncoderFactory func() Encoder

// OutputSlot is a pending media store entry with its write descriptor.
// *mediastore.Slot implements it.
type OutputSlot interface {
	ID() string
	Descriptor() *os.File
	Close() error
	Publish(ctx context.Context) error
	Discard(ctx context.Context) error
}

// SlotStore creates output slots.
type SlotStore interface {
	CreateSlot(ctx context.Context, displayName, mimeType string) (OutputSlot, error)
}

// SlotStoreFunc adapts a function to SlotStore.
type SlotStoreFunc func(ctx context.Context, displayName, mimeType string) (OutputSlot, error)

func (f SlotStoreFunc) CreateSlot(ctx context.Context, displayName, mimeType string) (OutputSlot, error) {
	return f(ctx, displayName, mimeType)
}

// Announcer shows the user that a recording is in progress.
type Announcer interface {
	Announce(active bool, label string)
}
