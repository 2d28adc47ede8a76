package session

import (
	"context"
	"errors"
	"sync"
)

// ErrCaptureBusy rejects acquiring the audio device while a handle is live.
var ErrCaptureBusy = errors.New("session: capture device already held")

// LocalCapture guards the host audio path: at most one live handle at a
// time. The owner of the audio pipeline feeds amplitude samples via
// SetLevel; Level reads the latest sample and resets to zero on release.
type LocalCapture struct {
	mu    sync.Mutex
	held  bool
	level float64
}

func NewLocalCapture() *LocalCapture {
	return &LocalCapture{}
}

func (d *LocalCapture) Acquire(ctx context.Context) (CaptureHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held {
		return nil, ErrCaptureBusy
	}
	d.held = true
	return &localHandle{dev: d}, nil
}

// SetLevel records the latest amplitude sample. Samples fed while no handle
// is held are dropped.
func (d *LocalCapture) SetLevel(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held {
		d.level = v
	}
}

type localHandle struct {
	dev  *LocalCapture
	once sync.Once
}

func (h *localHandle) Level() float64 {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	return h.dev.level
}

func (h *localHandle) Release() {
	h.once.Do(func() {
		h.dev.mu.Lock()
		h.dev.held = false
		h.dev.level = 0
		h.dev.mu.Unlock()
	})
}
