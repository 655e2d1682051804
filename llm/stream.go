package llm

import (
	"context"
	"sync"
)

// Stream is a cancellable sequence of text deltas.
// Deltas is closed when the producer finishes; Err is valid after that.
type Stream struct {
	deltas chan string
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// EmitFunc hands one delta to the consumer. It returns false once the stream is canceled.
type EmitFunc func(delta string) bool

// NewStream runs produce in its own goroutine and exposes what it emits.
// The error returned by produce becomes Err. A producer that returns nil after emit refused a
// delta reports the context error instead; a producer that finished on its own reports nil,
// even if whatever it was reading from has been canceled since.
func NewStream(ctx context.Context, produce func(ctx context.Context, emit EmitFunc) error) *Stream {
	sctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		deltas: make(chan string),
		cancel: cancel,
	}

	// stopped is only touched by the producer goroutine.
	stopped := false
	emit := func(delta string) bool {
		select {
		case s.deltas <- delta:
			return true
		case <-sctx.Done():
			stopped = true
			return false
		}
	}

	go func() {
		defer close(s.deltas)
		defer cancel()

		err := produce(sctx, emit)
		if err == nil && stopped {
			err = context.Cause(sctx)
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()

	return s
}

// StreamOf returns a stream that yields the given deltas in order and then ends.
func StreamOf(ctx context.Context, deltas ...string) *Stream {
	return NewStream(ctx, func(_ context.Context, emit EmitFunc) error {
		for _, d := range deltas {
			if !emit(d) {
				return nil
			}
		}
		return nil
	})
}

func (s *Stream) Deltas() <-chan string {
	return s.deltas
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the producer. Safe to call more than once and after the stream ended.
func (s *Stream) Close() {
	s.cancel()
}
