package probe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"

	"github.com/zxd1994/ecapture/internal/bpf"
	"github.com/zxd1994/ecapture/internal/event"
	"github.com/zxd1994/ecapture/internal/filter"
	"github.com/zxd1994/ecapture/internal/memread"
	"github.com/zxd1994/ecapture/internal/openssl"
	"github.com/zxd1994/ecapture/internal/sink"
)

// fakeMemory is a sparse target address space.
type fakeMemory map[uintptr][]byte

func (m fakeMemory) ReadAt(_ uint32, addr uintptr, buf []byte) (int, error) {
	src, ok := m[addr]
	if !ok {
		return 0, memread.ErrFault
	}
	n := copy(buf, src)
	if n < len(buf) {
		return n, memread.ErrFault
	}
	return n, nil
}

func (m fakeMemory) putPointer(addr, value uintptr) {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint64(raw, uint64(value))
	m[addr] = raw
}

func (m fakeMemory) putUint32(addr uintptr, value uint32) {
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, value)
	m[addr] = raw
}

// putSSLHandle wires ssl -> bio -> num so the fd walk finds fd for both
// directions.
func (m fakeMemory) putSSLHandle(off openssl.Offsets, ssl, bio uintptr, fd uint32) {
	m.putPointer(ssl+off.ReadBIO, bio)
	m.putPointer(ssl+off.WriteBIO, bio)
	m.putUint32(bio+off.BIONum, fd)
}

type fixedComm [event.TaskCommLen]byte

func (c fixedComm) Comm(uint32) [event.TaskCommLen]byte {
	return c
}

func namedComm(name string) fixedComm {
	var c fixedComm
	copy(c[:], name)
	return c
}

type testEngine struct {
	*Engine
	mem  fakeMemory
	sink *sink.Sink
	off  openssl.Offsets
}

func newTestEngine(t *testing.T, targetPID uint32, flt *filter.Filter) *testEngine {
	t.Helper()

	off, err := openssl.OffsetsFor(openssl.DefaultVersion)
	require.NoError(t, err)

	mem := fakeMemory{}
	s := sink.New(64, 64)
	eng, err := NewEngine(Params{
		TargetPID:        targetPID,
		RegistryCapacity: 64,
		Offsets:          off,
		Mem:              mem,
		Comms:            namedComm("curl"),
		Filter:           flt,
		Sink:             s,
		Clock:            func() uint64 { return 1111 },
		Logger:           zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	return &testEngine{Engine: eng, mem: mem, sink: s, off: off}
}

func entryFiring(kind uint8, pidTgid uint64, ssl, buf uintptr) *bpf.Firing {
	return &bpf.Firing{
		PidTgid:     pidTgid,
		TimestampNs: 2222,
		Args:        [3]uint64{uint64(ssl), uint64(buf), 0},
		Kind:        kind,
		Source:      bpf.SOURCE_OPENSSL,
	}
}

func returnFiring(kind uint8, pidTgid uint64, ret int64) *bpf.Firing {
	return &bpf.Firing{
		PidTgid:     pidTgid,
		TimestampNs: 3333,
		Ret:         ret,
		Kind:        kind,
		Source:      bpf.SOURCE_OPENSSL,
	}
}

func drainData(s *sink.Sink) []*event.DataEvent {
	var evs []*event.DataEvent
	for {
		select {
		case ev := <-s.DataEvents():
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func drainConnections(s *sink.Sink) []*event.ConnectionEvent {
	var evs []*event.ConnectionEvent
	for {
		select {
		case ev := <-s.ConnectionEvents():
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

// Entry fires with buffer 0xAAAA and descriptor 7; return fires with 42.
// Expect one write event with fd=7, data_len=42 and the 42 bytes at 0xAAAA.
func TestWritePairProducesOneEvent(t *testing.T) {
	te := newTestEngine(t, 0, nil)

	const (
		pidTgid = uint64(500)<<32 | 501
		ssl     = uintptr(0x7f0000001000)
		bio     = uintptr(0x7f0000002000)
		buf     = uintptr(0xAAAA)
	)
	te.mem.putSSLHandle(te.off, ssl, bio, 7)
	payload := make([]byte, 42)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	te.mem[buf] = payload

	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_WRITE_ENTER, pidTgid, ssl, buf)))
	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_WRITE_RET, pidTgid, 42)))

	evs := drainData(te.sink)
	require.Len(t, evs, 1)
	ev := evs[0]
	assert.Equal(t, event.TypeWrite, ev.Type)
	assert.Equal(t, uint32(500), ev.PID)
	assert.Equal(t, uint32(501), ev.TID)
	assert.Equal(t, uint32(7), ev.FD)
	assert.Equal(t, int32(42), ev.DataLen)
	assert.Equal(t, payload, ev.Payload())
	assert.Equal(t, "curl", ev.CommString())
	assert.Equal(t, uint64(3333), ev.TimestampNs)

	// The armed entry was consumed.
	reads, writes := te.PendingCalls()
	assert.Zero(t, reads)
	assert.Zero(t, writes)
}

func TestReturnWithoutEntryIsSilent(t *testing.T) {
	te := newTestEngine(t, 0, nil)

	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_READ_RET, 42, 100)))
	assert.Empty(t, drainData(te.sink))

	// And a consumed entry cannot resolve twice.
	te.mem[0xBBBB] = []byte("data")
	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_READ_ENTER, 42, 0, 0xBBBB)))
	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_READ_RET, 42, 4)))
	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_READ_RET, 42, 4)))
	assert.Len(t, drainData(te.sink), 1)
}

func TestPidFilterSkipsWithoutArming(t *testing.T) {
	te := newTestEngine(t, 999, nil)

	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_WRITE_ENTER, uint64(500)<<32|500, 0, 0xAAAA)))

	reads, writes := te.PendingCalls()
	assert.Zero(t, reads)
	assert.Zero(t, writes)

	// Matching pid arms normally.
	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_WRITE_ENTER, uint64(999)<<32|999, 0, 0xAAAA)))
	_, writes = te.PendingCalls()
	assert.Equal(t, 1, writes)
}

func TestNegativeReturnProducesNothingButClearsEntry(t *testing.T) {
	te := newTestEngine(t, 0, nil)

	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_WRITE_ENTER, 77, 0, 0xAAAA)))
	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_WRITE_RET, 77, -1)))

	assert.Empty(t, drainData(te.sink))
	_, writes := te.PendingCalls()
	assert.Zero(t, writes, "entry must be removed even when no event is produced")
}

func TestReturnOfExactlyMaxDataSize(t *testing.T) {
	te := newTestEngine(t, 0, nil)

	full := make([]byte, event.MaxDataSize)
	for i := range full {
		full[i] = byte(i)
	}
	te.mem[0xC000] = full

	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_READ_ENTER, 88, 0, 0xC000)))
	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_READ_RET, 88, event.MaxDataSize)))

	evs := drainData(te.sink)
	require.Len(t, evs, 1)
	// Exactly the capacity, not capacity-1.
	assert.Equal(t, int32(event.MaxDataSize), evs[0].DataLen)
	assert.Equal(t, full, evs[0].Payload())
}

func TestOversizedReturnIsTruncated(t *testing.T) {
	te := newTestEngine(t, 0, nil)

	full := make([]byte, event.MaxDataSize)
	te.mem[0xC000] = full

	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_READ_ENTER, 88, 0, 0xC000)))
	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_READ_RET, 88, event.MaxDataSize+512)))

	evs := drainData(te.sink)
	require.Len(t, evs, 1)
	assert.Equal(t, int32(event.MaxDataSize), evs[0].DataLen)
}

func TestInterleavedThreadsDoNotCrossContaminate(t *testing.T) {
	te := newTestEngine(t, 0, nil)

	const (
		threadA = uint64(600)<<32 | 601
		threadB = uint64(600)<<32 | 602
		sslA    = uintptr(0x1000)
		sslB    = uintptr(0x5000)
	)
	te.mem.putSSLHandle(te.off, sslA, 0x2000, 10)
	te.mem.putSSLHandle(te.off, sslB, 0x6000, 20)
	te.mem[0xA000] = []byte("thread A data")
	te.mem[0xB000] = []byte("thread B data")

	// Entries interleave, returns arrive in reverse order.
	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_WRITE_ENTER, threadA, sslA, 0xA000)))
	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_WRITE_ENTER, threadB, sslB, 0xB000)))
	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_WRITE_RET, threadB, 13)))
	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_WRITE_RET, threadA, 13)))

	evs := drainData(te.sink)
	require.Len(t, evs, 2)

	byTid := map[uint32]*event.DataEvent{}
	for _, ev := range evs {
		byTid[ev.TID] = ev
	}
	require.Contains(t, byTid, uint32(601))
	require.Contains(t, byTid, uint32(602))
	assert.Equal(t, "thread A data", string(byTid[601].Payload()))
	assert.Equal(t, uint32(10), byTid[601].FD)
	assert.Equal(t, "thread B data", string(byTid[602].Payload()))
	assert.Equal(t, uint32(20), byTid[602].FD)
}

func TestReenteredCallOverwritesArmedState(t *testing.T) {
	te := newTestEngine(t, 0, nil)

	te.mem[0x2000] = []byte("second")

	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_READ_ENTER, 99, 0, 0x1000)))
	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_READ_ENTER, 99, 0, 0x2000)))
	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_READ_RET, 99, 6)))

	evs := drainData(te.sink)
	require.Len(t, evs, 1)
	assert.Equal(t, "second", string(evs[0].Payload()))
}

func TestFaultedPayloadReadKeepsEvent(t *testing.T) {
	te := newTestEngine(t, 0, nil)

	// Buffer address never mapped: the payload stays zeroed but the event
	// still reports the transfer size.
	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_WRITE_ENTER, 55, 0, 0xDEAD)))
	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_WRITE_RET, 55, 16)))

	evs := drainData(te.sink)
	require.Len(t, evs, 1)
	assert.Equal(t, int32(16), evs[0].DataLen)
	assert.Equal(t, make([]byte, 16), evs[0].Payload())
}

func TestFDFaultLeavesSentinel(t *testing.T) {
	te := newTestEngine(t, 0, nil)

	te.mem[0xAAAA] = []byte("data")

	// SSL handle unmapped: fd resolution faults, capture continues.
	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_WRITE_ENTER, 11, 0xF000, 0xAAAA)))
	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_WRITE_RET, 11, 4)))

	evs := drainData(te.sink)
	require.Len(t, evs, 1)
	assert.Equal(t, uint32(event.InvalidFD), evs[0].FD)
	assert.Equal(t, "data", string(evs[0].Payload()))
}

func TestNSPRFiringsCarryNoDescriptor(t *testing.T) {
	te := newTestEngine(t, 0, nil)

	te.mem[0x3000] = []byte("nspr bytes")

	entry := entryFiring(bpf.FIRING_READ_ENTER, 33, 0x7000, 0x3000)
	entry.Source = bpf.SOURCE_NSPR
	ret := returnFiring(bpf.FIRING_READ_RET, 33, 10)
	ret.Source = bpf.SOURCE_NSPR

	require.NoError(t, te.HandleFiring(entry))
	require.NoError(t, te.HandleFiring(ret))

	evs := drainData(te.sink)
	require.Len(t, evs, 1)
	assert.Equal(t, uint32(event.InvalidFD), evs[0].FD)
	assert.Equal(t, "nspr bytes", string(evs[0].Payload()))
}

func TestConnectFamilyFilter(t *testing.T) {
	te := newTestEngine(t, 0, nil)

	inet := &bpf.Firing{
		PidTgid:     uint64(700)<<32 | 701,
		TimestampNs: 4444,
		Args:        [3]uint64{9},
		Kind:        bpf.FIRING_CONNECT,
		Source:      bpf.SOURCE_LIBC,
		SaFamily:    unix.AF_INET,
		SaData:      [14]byte{0x01, 0xbb, 10, 0, 0, 1},
	}
	require.NoError(t, te.HandleFiring(inet))

	inet6 := *inet
	inet6.SaFamily = unix.AF_INET6
	require.NoError(t, te.HandleFiring(&inet6))

	unixSock := *inet
	unixSock.SaFamily = unix.AF_UNIX
	require.NoError(t, te.HandleFiring(&unixSock))

	conns := drainConnections(te.sink)
	require.Len(t, conns, 1, "only AF_INET produces a connection event")
	ev := conns[0]
	assert.Equal(t, uint32(700), ev.PID)
	assert.Equal(t, uint32(9), ev.FD)
	assert.Equal(t, "10.0.0.1:443", ev.AddrPort().String())
	assert.Equal(t, "curl", ev.CommString())
}

func TestFilterDropsNonMatching(t *testing.T) {
	flt, err := filter.Compile(`direction == "write"`, zaptest.NewLogger(t))
	require.NoError(t, err)
	te := newTestEngine(t, 0, flt)

	te.mem[0x1000] = []byte("payload")

	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_READ_ENTER, 1, 0, 0x1000)))
	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_READ_RET, 1, 7)))
	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_WRITE_ENTER, 1, 0, 0x1000)))
	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_WRITE_RET, 1, 7)))

	evs := drainData(te.sink)
	require.Len(t, evs, 1)
	assert.Equal(t, event.TypeWrite, evs[0].Type)
}

func TestReleasedEventIsZeroPadded(t *testing.T) {
	te := newTestEngine(t, 0, nil)

	te.mem[0x1000] = []byte("long first payload")
	te.mem[0x2000] = []byte("hi")

	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_WRITE_ENTER, 5, 0, 0x1000)))
	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_WRITE_RET, 5, 18)))
	first := drainData(te.sink)
	require.Len(t, first, 1)
	te.Release(first[0])

	require.NoError(t, te.HandleFiring(entryFiring(bpf.FIRING_WRITE_ENTER, 5, 0, 0x2000)))
	require.NoError(t, te.HandleFiring(returnFiring(bpf.FIRING_WRITE_RET, 5, 2)))
	second := drainData(te.sink)
	require.Len(t, second, 1)

	ev := second[0]
	assert.Equal(t, "hi", string(ev.Payload()))
	// No stale bytes from the first occupant past the new length.
	assert.Equal(t, make([]byte, 18), ev.Data[2:20])
}

func TestChannelFullDropsWithoutBlocking(t *testing.T) {
	off, err := openssl.OffsetsFor(openssl.DefaultVersion)
	require.NoError(t, err)

	mem := fakeMemory{}
	mem[0x1000] = []byte("x")
	s := sink.New(1, 1)
	eng, err := NewEngine(Params{
		RegistryCapacity: 8,
		Offsets:          off,
		Mem:              mem,
		Comms:            namedComm("curl"),
		Sink:             s,
		Logger:           zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, eng.HandleFiring(entryFiring(bpf.FIRING_WRITE_ENTER, 6, 0, 0x1000)))
		require.NoError(t, eng.HandleFiring(returnFiring(bpf.FIRING_WRITE_RET, 6, 1)))
	}

	dataDrops, _ := s.Drops()
	assert.Equal(t, uint64(2), dataDrops)
	assert.Len(t, drainData(s), 1)
}
