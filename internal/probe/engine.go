package probe

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/zxd1994/ecapture/internal/bpf"
	"github.com/zxd1994/ecapture/internal/event"
	"github.com/zxd1994/ecapture/internal/filter"
	"github.com/zxd1994/ecapture/internal/memread"
	"github.com/zxd1994/ecapture/internal/openssl"
	"github.com/zxd1994/ecapture/internal/registry"
	"github.com/zxd1994/ecapture/internal/sink"
	"github.com/zxd1994/ecapture/internal/timesync"
)

// CommResolver supplies the fixed-width process name for a pid.
type CommResolver interface {
	Comm(pid uint32) [event.TaskCommLen]byte
}

// Params configures an Engine.
type Params struct {
	// TargetPID filters firings to one process; 0 captures all.
	TargetPID uint32
	// RegistryCapacity bounds each direction's pending-call store.
	RegistryCapacity int
	// Offsets selects the OpenSSL layout for descriptor resolution.
	Offsets openssl.Offsets
	// Mem reads target process memory.
	Mem memread.Reader
	// Comms resolves process names at return time.
	Comms CommResolver
	// Filter optionally restricts published data events. May be nil.
	Filter *filter.Filter
	// Sink receives assembled events.
	Sink *sink.Sink
	// Clock supplies monotonic nanoseconds for firings without timestamps.
	// Defaults to timesync.MonotonicNow.
	Clock func() uint64
	// Logger is used for debug-level tracing only; the hot path stays quiet.
	Logger *zap.Logger
}

// Engine is the entry/return pairing and event-extraction core.
type Engine struct {
	targetPID uint32
	pending   [2]*registry.Registry // indexed by event.Type
	fds       *openssl.FDResolver
	mem       memread.Reader
	comms     CommResolver
	filter    *filter.Filter
	sink      *sink.Sink
	clock     func() uint64
	pool      *sync.Pool
	log       *zap.Logger
}

// NewEngine creates an engine from the given parameters.
func NewEngine(p Params) (*Engine, error) {
	if p.Mem == nil || p.Comms == nil || p.Sink == nil {
		return nil, fmt.Errorf("probe engine requires memory reader, comm resolver and sink")
	}
	if p.RegistryCapacity <= 0 {
		return nil, fmt.Errorf("registry capacity must be positive, got %d", p.RegistryCapacity)
	}

	readPending, err := registry.New(p.RegistryCapacity)
	if err != nil {
		return nil, err
	}
	writePending, err := registry.New(p.RegistryCapacity)
	if err != nil {
		return nil, err
	}

	clock := p.Clock
	if clock == nil {
		clock = timesync.MonotonicNow
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Engine{
		targetPID: p.TargetPID,
		pending:   [2]*registry.Registry{event.TypeRead: readPending, event.TypeWrite: writePending},
		fds:       openssl.NewFDResolver(p.Mem, p.Offsets),
		mem:       p.Mem,
		comms:     p.Comms,
		filter:    p.Filter,
		sink:      p.Sink,
		clock:     clock,
		pool: &sync.Pool{
			New: func() interface{} { return new(event.DataEvent) },
		},
		log: log,
	}, nil
}

// HandleFiring routes one probe firing. It implements
// eventstream.FiringHandler and never returns an error: every failure mode
// on this path is silent by contract.
func (e *Engine) HandleFiring(f *bpf.Firing) error {
	if e.targetPID != 0 && e.targetPID != f.Pid() {
		return nil
	}

	switch f.Kind {
	case bpf.FIRING_READ_ENTER:
		e.handleEntry(event.TypeRead, f)
	case bpf.FIRING_WRITE_ENTER:
		e.handleEntry(event.TypeWrite, f)
	case bpf.FIRING_READ_RET:
		e.handleReturn(event.TypeRead, f)
	case bpf.FIRING_WRITE_RET:
		e.handleReturn(event.TypeWrite, f)
	case bpf.FIRING_CONNECT:
		e.handleConnect(f)
	default:
		// Unknown firing kind - ignore
	}
	return nil
}

// handleEntry arms the call: it captures the buffer address and, for
// OpenSSL, walks the live SSL handle to the descriptor, then stores both
// keyed by thread identity until the matching return fires.
func (e *Engine) handleEntry(dir event.Type, f *bpf.Firing) {
	ctx := registry.CallContext{BufAddr: f.Args[1]}

	if f.Source == bpf.SOURCE_OPENSSL {
		fd, err := e.fds.ReadFD(f.Pid(), uintptr(f.Args[0]), dir)
		if err == nil {
			ctx.FD = fd
		}
		// On a fault the descriptor stays at the invalid sentinel; the
		// payload capture is unaffected.
	}

	e.pending[dir].Put(f.PidTgid, ctx)
}

// handleReturn resolves an armed call: looks up (and always removes) the
// entry state, then assembles and publishes an event if the call succeeded.
func (e *Engine) handleReturn(dir event.Type, f *bpf.Firing) {
	ctx, ok := e.pending[dir].Take(f.PidTgid)
	if !ok {
		// Call was in flight before attachment, or evicted. Not an error.
		return
	}
	if f.Ret < 0 {
		// The instrumented call itself failed, nothing to capture.
		return
	}

	ev := e.pool.Get().(*event.DataEvent)

	// Identity and length first: the pooled buffer may hold a previous
	// occupant's bytes past the new payload length.
	ev.Type = dir
	ev.TimestampNs = e.timestamp(f)
	ev.PID = f.Pid()
	ev.TID = f.Tid()
	ev.FD = ctx.FD

	n := clampPayload(f.Ret)
	ev.DataLen = int32(n)
	if n > 0 && ctx.BufAddr != 0 {
		// A faulted or short read leaves the tail zeroed (the pool clears
		// the used prefix on release); DataLen still reports the transfer
		// size the library returned.
		_, _ = e.mem.ReadAt(f.Pid(), uintptr(ctx.BufAddr), ev.Data[:n])
	}

	ev.Comm = e.comms.Comm(f.Pid())

	if !e.filter.Match(ev) {
		e.Release(ev)
		return
	}
	if !e.sink.PublishData(ev) {
		e.Release(ev)
	}
}

// handleConnect is the single-shot path: everything needed is present in
// the entry firing, so there is no armed state.
func (e *Engine) handleConnect(f *bpf.Firing) {
	if f.SaFamily != unix.AF_INET {
		return
	}

	ev := &event.ConnectionEvent{
		TimestampNs: e.timestamp(f),
		PID:         f.Pid(),
		TID:         f.Tid(),
		FD:          uint32(f.Args[0]),
		SaData:      f.SaData,
		Comm:        e.comms.Comm(f.Pid()),
	}
	e.sink.PublishConnection(ev)
}

// Release returns a published data event to the scratch pool once the
// consumer is done with it. The used payload prefix is cleared so the next
// occupant's record is zero-padded past its own length.
func (e *Engine) Release(ev *event.DataEvent) {
	n := int(ev.DataLen)
	if n < 0 {
		n = 0
	}
	if n > event.MaxDataSize {
		n = event.MaxDataSize
	}
	clear(ev.Data[:n])
	ev.DataLen = 0
	e.pool.Put(ev)
}

// PendingCalls reports the number of armed calls per direction,
// for diagnostics.
func (e *Engine) PendingCalls() (reads, writes int) {
	return e.pending[event.TypeRead].Len(), e.pending[event.TypeWrite].Len()
}

func (e *Engine) timestamp(f *bpf.Firing) uint64 {
	if f.TimestampNs != 0 {
		return f.TimestampNs
	}
	return e.clock()
}

// clampPayload bounds a call's return value to the capture capacity.
func clampPayload(ret int64) int {
	if ret < 0 {
		return 0
	}
	if ret > event.MaxDataSize {
		return event.MaxDataSize
	}
	return int(ret)
}
