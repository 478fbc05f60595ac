package chrome

import (
	"context"
	"fmt"
	"io"
)

// WriterSink adapts a plain io.Writer to the ByteSink capability. It
// never signals Stopped: callers that need early-abandonment backpressure
// should implement their own ByteSink.
type WriterSink struct {
	w       io.Writer
	stopped chan struct{}
}

// NewWriterSink wraps w as a ByteSink with no backpressure signal.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w, stopped: make(chan struct{})}
}

// Write implements ByteSink.
func (s *WriterSink) Write(ctx context.Context, p []byte) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("sink write cancelled: %w", ctx.Err())
	default:
	}

	if _, err := s.w.Write(p); err != nil {
		return fmt.Errorf("sink write: %w", err)
	}

	return nil
}

// Complete implements ByteSink. Nothing to flush for a raw io.Writer.
func (s *WriterSink) Complete() error {
	return nil
}

// Stopped implements ByteSink.
func (s *WriterSink) Stopped() <-chan struct{} {
	return s.stopped
}
