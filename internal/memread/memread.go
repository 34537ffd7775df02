// Package memread copies bounded byte ranges out of another process's
// address space.
//
// Reads are fault-tolerant: an unmapped or hostile address yields an error
// (and possibly a short read), never a crash of the calling context. Callers
// treat failures as missing telemetry, not as conditions to surface.
package memread

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrFault reports that the target address range could not be read.
var ErrFault = errors.New("memread: unreadable target address")

// Reader copies up to len(buf) bytes from addr in the target process.
// It returns the number of bytes copied; a short count with a nil error
// does not occur, but a short count alongside an error may.
type Reader interface {
	ReadAt(pid uint32, addr uintptr, buf []byte) (int, error)
}

// ProcessVM reads target memory with the process_vm_readv(2) syscall.
// No ptrace attachment is needed; CAP_SYS_PTRACE (or same-uid target)
// is required.
type ProcessVM struct{}

// ReadAt implements Reader.
func (ProcessVM) ReadAt(pid uint32, addr uintptr, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if addr == 0 {
		return 0, ErrFault
	}

	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: addr, Len: len(buf)}}

	n, err := unix.ProcessVMReadv(int(pid), local, remote, 0)
	if err != nil {
		return n, fmt.Errorf("%w: pid %d addr %#x: %v", ErrFault, pid, addr, err)
	}
	if n < len(buf) {
		return n, fmt.Errorf("%w: pid %d addr %#x: short read %d of %d", ErrFault, pid, addr, n, len(buf))
	}
	return n, nil
}

// ReadPointer reads one pointer-sized field at addr in the target process.
func ReadPointer(r Reader, pid uint32, addr uintptr) (uintptr, error) {
	var raw [8]byte
	if _, err := r.ReadAt(pid, addr, raw[:]); err != nil {
		return 0, err
	}
	return uintptr(binary.LittleEndian.Uint64(raw[:])), nil
}

// ReadUint32 reads one 32-bit field at addr in the target process.
func ReadUint32(r Reader, pid uint32, addr uintptr) (uint32, error) {
	var raw [4]byte
	if _, err := r.ReadAt(pid, addr, raw[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw[:]), nil
}
