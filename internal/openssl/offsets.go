// Package openssl knows the pieces of OpenSSL's internal object layout
// needed to recover the socket descriptor behind an SSL handle.
//
// The descriptor lives at ssl->rbio->num (reads) or ssl->wbio->num (writes).
// Those offsets are private ABI and shift between OpenSSL releases, so they
// are kept in a version-keyed table rather than a single constant; the
// target version is selected at configuration time.
package openssl

import (
	"fmt"
	"sort"

	"github.com/zxd1994/ecapture/internal/event"
	"github.com/zxd1994/ecapture/internal/memread"
)

// Offsets describes one library version's layout.
type Offsets struct {
	// ReadBIO and WriteBIO locate the BIO pointers inside struct ssl_st.
	ReadBIO  uintptr
	WriteBIO uintptr
	// BIONum locates the int descriptor field inside struct bio_st.
	BIONum uintptr
}

// DefaultVersion is the layout assumed when none is configured.
const DefaultVersion = "1.1.1"

// offsetTable maps an OpenSSL release line to its layout.
//
// 1.1.1: ssl_st{version, method, rbio, wbio, ...}; bio_st puts num after
// method, two callbacks, cb_arg and four ints. 3.0 inserts a libctx pointer
// at the head of bio_st, shifting num by one pointer.
var offsetTable = map[string]Offsets{
	"1.1.1": {ReadBIO: 0x10, WriteBIO: 0x18, BIONum: 0x30},
	"3.0":   {ReadBIO: 0x10, WriteBIO: 0x18, BIONum: 0x38},
	"3.1":   {ReadBIO: 0x10, WriteBIO: 0x18, BIONum: 0x38},
}

// OffsetsFor returns the layout for an OpenSSL release line.
func OffsetsFor(version string) (Offsets, error) {
	off, ok := offsetTable[version]
	if !ok {
		return Offsets{}, fmt.Errorf("unsupported OpenSSL version %q (known: %v)", version, Versions())
	}
	return off, nil
}

// Versions lists the release lines with known layouts.
func Versions() []string {
	vs := make([]string, 0, len(offsetTable))
	for v := range offsetTable {
		vs = append(vs, v)
	}
	sort.Strings(vs)
	return vs
}

// FDResolver walks a live SSL handle to its socket descriptor.
type FDResolver struct {
	mem memread.Reader
	off Offsets
}

// NewFDResolver creates a resolver using the given memory reader and layout.
func NewFDResolver(mem memread.Reader, off Offsets) *FDResolver {
	return &FDResolver{mem: mem, off: off}
}

// ReadFD resolves the descriptor for a call in the given direction:
// ssl -> direction's BIO pointer -> BIO.num. Any fault along the walk
// returns the invalid sentinel with the error; callers treat that as a
// missing field, not a failed capture.
func (r *FDResolver) ReadFD(pid uint32, ssl uintptr, dir event.Type) (uint32, error) {
	if ssl == 0 {
		return event.InvalidFD, memread.ErrFault
	}

	bioField := r.off.ReadBIO
	if dir == event.TypeWrite {
		bioField = r.off.WriteBIO
	}

	bio, err := memread.ReadPointer(r.mem, pid, ssl+bioField)
	if err != nil {
		return event.InvalidFD, fmt.Errorf("reading BIO pointer: %w", err)
	}
	if bio == 0 {
		return event.InvalidFD, memread.ErrFault
	}

	num, err := memread.ReadUint32(r.mem, pid, bio+r.off.BIONum)
	if err != nil {
		return event.InvalidFD, fmt.Errorf("reading BIO num: %w", err)
	}
	return num, nil
}
