// Package eventstream reads raw probe firings off the BPF ring buffer and
// dispatches them to a handler.
package eventstream

import (
	"context"
	"errors"

	"github.com/cilium/ebpf/ringbuf"
	"go.uber.org/zap"

	"github.com/zxd1994/ecapture/internal/bpf"
)

// FiringHandler consumes decoded probe firings.
type FiringHandler interface {
	HandleFiring(f *bpf.Firing) error
}

// Stream reads firings from a ringbuffer and dispatches them to a handler.
type Stream struct {
	reader  *ringbuf.Reader
	handler FiringHandler
	log     *zap.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a new Stream with the given ringbuffer reader and handler.
func New(reader *ringbuf.Reader, handler FiringHandler, log *zap.Logger) *Stream {
	return &Stream{
		reader:  reader,
		handler: handler,
		log:     log,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins reading firings from the ringbuffer in a goroutine.
// It returns immediately and processes firings in the background until
// the context is cancelled or Stop is called.
func (s *Stream) Start(ctx context.Context) error {
	go s.processFirings(ctx)
	return nil
}

// Stop signals the processing goroutine to stop.
func (s *Stream) Stop() error {
	close(s.stopCh)
	return nil
}

// Done is closed once the processing goroutine has exited. No further
// firings are dispatched after it is closed.
func (s *Stream) Done() <-chan struct{} {
	return s.doneCh
}

// processFirings is the main loop that reads and dispatches firings.
func (s *Stream) processFirings(ctx context.Context) {
	defer close(s.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
			record, err := s.reader.Read()
			if err != nil {
				if errors.Is(err, ringbuf.ErrClosed) {
					return
				}
				s.log.Warn("reading from ring buffer", zap.Error(err))
				continue
			}

			firing, err := bpf.DecodeFiring(record.RawSample)
			if err != nil {
				s.log.Warn("parsing firing", zap.Error(err))
				continue
			}

			if err := s.handler.HandleFiring(firing); err != nil {
				s.log.Warn("handling firing", zap.Error(err))
			}
		}
	}
}
