package output

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zxd1994/ecapture/internal/event"
	"github.com/zxd1994/ecapture/internal/timesync"
)

// SpanEmitter mirrors connection events to OpenTelemetry, one zero-duration
// span per observed connect().
type SpanEmitter struct {
	tracer trace.Tracer
	conv   *timesync.Converter
}

// NewSpanEmitter creates an emitter on the given tracer.
func NewSpanEmitter(tracer trace.Tracer, conv *timesync.Converter) *SpanEmitter {
	return &SpanEmitter{tracer: tracer, conv: conv}
}

// Emit records one connection event as a span.
func (e *SpanEmitter) Emit(ev *event.ConnectionEvent) {
	ts := e.conv.MonotonicToWallClock(ev.TimestampNs)
	dst := ev.AddrPort()

	_, span := e.tracer.Start(context.Background(), "connect",
		trace.WithTimestamp(ts),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("process.command", ev.CommString()),
			attribute.Int64("process.pid", int64(ev.PID)),
			attribute.Int64("thread.id", int64(ev.TID)),
			attribute.Int64("net.sock.fd", int64(ev.FD)),
			attribute.String("net.peer.address", dst.Addr().String()),
			attribute.Int64("net.peer.port", int64(dst.Port())),
		),
	)
	span.End(trace.WithTimestamp(ts))
}
