package buffer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrClosed is returned when writing to a closed ThresholdWriter.
var ErrClosed = errors.New("threshold writer is closed")

// SpillFunc opens the target that receives everything written once the
// threshold has been reached.
type SpillFunc func() (io.WriteCloser, error)

// ThresholdWriter accumulates writes in memory until the total reaches the
// threshold, then switches, exactly once, to the target returned by the
// SpillFunc. Bytes buffered so far are flushed to the target before any
// further write. A negative threshold never spills.
//
// ThresholdWriter is not safe for concurrent use.
type ThresholdWriter struct {
	threshold int64
	spill     SpillFunc

	mem     *bytes.Buffer
	target  io.WriteCloser
	written int64
	closed  bool
}

// NewThresholdWriter creates a writer whose memory buffer starts with
// initialSize bytes of capacity.
func NewThresholdWriter(threshold int64, initialSize int, spill SpillFunc) *ThresholdWriter {
	if initialSize < 0 {
		initialSize = 0
	}
	return &ThresholdWriter{
		threshold: threshold,
		spill:     spill,
		mem:       bytes.NewBuffer(make([]byte, 0, initialSize)),
	}
}

// Write implements io.Writer.
func (w *ThresholdWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}

	if w.target != nil {
		n, err := w.target.Write(p)
		w.written += int64(n)
		return n, err
	}

	n, _ := w.mem.Write(p)
	w.written += int64(n)

	if w.threshold >= 0 && w.written >= w.threshold {
		if err := w.transition(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (w *ThresholdWriter) transition() error {
	if w.spill == nil {
		return fmt.Errorf("threshold reached but no spill target configured")
	}
	target, err := w.spill()
	if err != nil {
		return err
	}
	w.target = target

	if _, err := target.Write(w.mem.Bytes()); err != nil {
		return err
	}
	w.mem = nil
	return nil
}

// Spilled reports whether the writer has switched to its spill target.
func (w *ThresholdWriter) Spilled() bool {
	return w.target != nil
}

// Len returns the total number of bytes accepted so far.
func (w *ThresholdWriter) Len() int64 {
	return w.written
}

// Bytes returns the buffered content. It is nil once the writer has spilled.
func (w *ThresholdWriter) Bytes() []byte {
	if w.mem == nil {
		return nil
	}
	return w.mem.Bytes()
}

// Close finishes writing. When the writer has spilled, the target is closed
// and its error returned.
func (w *ThresholdWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.target != nil {
		return w.target.Close()
	}
	return nil
}

// Abort discards buffered bytes and closes the spill target, ignoring errors.
// Removing whatever the target wrote is left to the SpillFunc's owner.
func (w *ThresholdWriter) Abort() {
	if !w.closed && w.target != nil {
		_ = w.target.Close()
	}
	w.closed = true
	w.mem = nil
}
