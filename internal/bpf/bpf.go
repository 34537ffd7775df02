// Package bpf provides Go bindings for the SSL firing forwarder.
//
// The kernel side is deliberately thin: each uprobe/uretprobe emits one raw
// Firing record and does nothing else. Entry/return pairing, memory reads
// and event assembly all happen in userspace (internal/probe).
package bpf

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cilium/ebpf"
)

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -target amd64 sslFiring ../../kern/ssl_firing.bpf.c -- -I../../kern -I/usr/include

// Firing kind constants matching kernel/C conventions.
//
//nolint:revive,staticcheck // ALL_CAPS naming matches C/kernel conventions
const (
	FIRING_READ_ENTER  = 1
	FIRING_READ_RET    = 2
	FIRING_WRITE_ENTER = 3
	FIRING_WRITE_RET   = 4
	FIRING_CONNECT     = 5
)

// Source library constants matching kernel/C conventions.
//
//nolint:revive,staticcheck // ALL_CAPS naming matches C/kernel conventions
const (
	SOURCE_OPENSSL = 1
	SOURCE_NSPR    = 2
	SOURCE_LIBC    = 3
)

// Firing matches struct firing_t in kern/ssl_firing.bpf.c.
// One record per probe hit, fixed layout, explicit padding.
type Firing struct {
	PidTgid     uint64
	TimestampNs uint64
	Args        [3]uint64 // raw register arguments at entry; unused slots zero
	Ret         int64     // return value at return firings
	Kind        uint8
	Source      uint8
	SaFamily    uint16  // connect firings only
	_           [4]byte // align SaData copy in the C struct
	SaData      [14]byte
	_           [2]byte
}

// Pid extracts the process id (tgid) from the combined identifier.
func (f *Firing) Pid() uint32 {
	return uint32(f.PidTgid >> 32)
}

// Tid extracts the thread id from the combined identifier.
func (f *Firing) Tid() uint32 {
	return uint32(f.PidTgid & 0xffffffff)
}

// DecodeFiring parses a raw ring buffer sample into a Firing.
func DecodeFiring(raw []byte) (*Firing, error) {
	var f Firing
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &f); err != nil {
		return nil, fmt.Errorf("decoding firing record: %w", err)
	}
	return &f, nil
}

// SSLFiringObjects provides access to the loaded BPF objects.
type SSLFiringObjects = sslFiringObjects

// SSLFiringPrograms provides access to the BPF programs.
type SSLFiringPrograms = sslFiringPrograms

// SSLFiringMaps provides access to the BPF maps.
type SSLFiringMaps = sslFiringMaps

// LoadSSLFiringObjects loads the BPF programs and maps.
func LoadSSLFiringObjects(obj *sslFiringObjects, opts *ebpf.CollectionOptions) error {
	return loadSslFiringObjects(obj, opts)
}
