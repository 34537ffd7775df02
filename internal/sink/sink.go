// Package sink publishes assembled events to the consumer over bounded,
// never-blocking channels.
//
// Data and connection events travel on separate channels so a slow consumer
// of one class cannot head-of-line block the other. When a channel is full
// the event is dropped and counted; the probe path is never stalled.
package sink

import (
	"sync/atomic"

	"github.com/zxd1994/ecapture/internal/event"
)

// Sink owns the two outbound event channels.
type Sink struct {
	data  chan *event.DataEvent
	conns chan *event.ConnectionEvent

	droppedData  atomic.Uint64
	droppedConns atomic.Uint64
}

// New creates a sink with the given per-channel capacities.
func New(dataCapacity, connCapacity int) *Sink {
	return &Sink{
		data:  make(chan *event.DataEvent, dataCapacity),
		conns: make(chan *event.ConnectionEvent, connCapacity),
	}
}

// PublishData hands a data event to the consumer. Ownership transfers on
// success; on a full channel the event is dropped and false is returned,
// leaving ownership with the caller.
func (s *Sink) PublishData(ev *event.DataEvent) bool {
	select {
	case s.data <- ev:
		return true
	default:
		s.droppedData.Add(1)
		return false
	}
}

// PublishConnection hands a connection event to the consumer, with the same
// non-blocking contract as PublishData.
func (s *Sink) PublishConnection(ev *event.ConnectionEvent) bool {
	select {
	case s.conns <- ev:
		return true
	default:
		s.droppedConns.Add(1)
		return false
	}
}

// DataEvents is the consumer side of the data channel.
func (s *Sink) DataEvents() <-chan *event.DataEvent {
	return s.data
}

// ConnectionEvents is the consumer side of the connection channel.
func (s *Sink) ConnectionEvents() <-chan *event.ConnectionEvent {
	return s.conns
}

// Drops reports how many events of each class were discarded.
func (s *Sink) Drops() (data, conns uint64) {
	return s.droppedData.Load(), s.droppedConns.Load()
}

// Close closes both channels. Producers must have stopped publishing.
func (s *Sink) Close() {
	close(s.data)
	close(s.conns)
}
