// Package output consumes the published event channels.
//
// Console renders captured transfers and connections for an operator;
// SpanEmitter optionally mirrors connections to OpenTelemetry. Both sit on
// the consumer side of the sink: they may be arbitrarily slow without ever
// stalling the probe path, at the cost of dropped events.
package output

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/zxd1994/ecapture/internal/event"
	"github.com/zxd1994/ecapture/internal/sink"
	"github.com/zxd1994/ecapture/internal/timesync"
)

// Console drains the sink and renders events.
type Console struct {
	log     *zap.Logger
	conv    *timesync.Converter
	hexDump bool
	release func(*event.DataEvent)
	spans   *SpanEmitter
}

// NewConsole creates a console consumer. release returns data events to the
// engine's scratch pool once rendered; spans may be nil.
func NewConsole(log *zap.Logger, conv *timesync.Converter, hexDump bool, release func(*event.DataEvent), spans *SpanEmitter) *Console {
	return &Console{
		log:     log,
		conv:    conv,
		hexDump: hexDump,
		release: release,
		spans:   spans,
	}
}

// Run consumes both channels until the context is cancelled and the
// channels are drained and closed.
func (c *Console) Run(ctx context.Context, s *sink.Sink) {
	data := s.DataEvents()
	conns := s.ConnectionEvents()

	for data != nil || conns != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-data:
			if !ok {
				data = nil
				continue
			}
			c.handleData(ev)
		case ev, ok := <-conns:
			if !ok {
				conns = nil
				continue
			}
			c.handleConnection(ev)
		}
	}
}

func (c *Console) handleData(ev *event.DataEvent) {
	c.log.Info("captured",
		zap.String("direction", ev.Type.String()),
		zap.Time("time", c.conv.MonotonicToWallClock(ev.TimestampNs)),
		zap.String("comm", ev.CommString()),
		zap.Uint32("pid", ev.PID),
		zap.Uint32("tid", ev.TID),
		zap.Uint32("fd", ev.FD),
		zap.Int32("len", ev.DataLen),
	)
	if c.hexDump {
		fmt.Fprint(os.Stdout, hex.Dump(ev.Payload()))
	}
	c.release(ev)
}

func (c *Console) handleConnection(ev *event.ConnectionEvent) {
	c.log.Info("connect",
		zap.Time("time", c.conv.MonotonicToWallClock(ev.TimestampNs)),
		zap.String("comm", ev.CommString()),
		zap.Uint32("pid", ev.PID),
		zap.Uint32("tid", ev.TID),
		zap.Uint32("fd", ev.FD),
		zap.String("dst", ev.AddrPort().String()),
	)
	if c.spans != nil {
		c.spans.Emit(ev)
	}
}
