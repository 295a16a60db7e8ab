package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/driftlake/intake/internal/domain"
)

// watchdogReader aborts its request when a single Read stalls past the
// timeout. Each successful read re-arms the timer, so slow-but-moving
// bodies of any length pass while a dead connection fails within one
// timeout period.
type watchdogReader struct {
	rc      io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
	cancel  context.CancelFunc
	fired   atomic.Bool
}

func newWatchdogReader(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) io.ReadCloser {
	if timeout <= 0 {
		return &cancelOnClose{ReadCloser: rc, cancel: cancel}
	}
	w := &watchdogReader{rc: rc, timeout: timeout, cancel: cancel}
	w.timer = time.AfterFunc(timeout, w.abort)
	return w
}

// abort kills the request. Read reports the stall as a transport
// error; a bare context cancellation always means the caller itself
// gave up.
func (w *watchdogReader) abort() {
	w.fired.Store(true)
	w.cancel()
}

func (w *watchdogReader) Read(p []byte) (int, error) {
	n, err := w.rc.Read(p)
	if err == nil {
		w.timer.Reset(w.timeout)
		return n, nil
	}
	// A body that finished cleanly in the abort window is still EOF.
	if w.fired.Load() && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: read stalled past %s", domain.ErrTransport, w.timeout)
	}
	return n, err
}

func (w *watchdogReader) Close() error {
	w.timer.Stop()
	err := w.rc.Close()
	w.cancel()
	return err
}

// cancelOnClose releases the request context when the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
