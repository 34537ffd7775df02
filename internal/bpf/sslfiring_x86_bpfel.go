// Code generated by bpf2go; DO NOT EDIT.
//go:build 386 || amd64

package bpf

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"

	"github.com/cilium/ebpf"
)

// loadSslFiring returns the embedded CollectionSpec for sslFiring.
func loadSslFiring() (*ebpf.CollectionSpec, error) {
	reader := bytes.NewReader(_SslFiringBytes)
	spec, err := ebpf.LoadCollectionSpecFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("can't load sslFiring: %w", err)
	}

	return spec, err
}

// loadSslFiringObjects loads sslFiring and converts it into a struct.
//
// The following types are suitable as obj argument:
//
//	*sslFiringObjects
//	*sslFiringPrograms
//	*sslFiringMaps
//
// See ebpf.CollectionSpec.LoadAndAssign documentation for details.
func loadSslFiringObjects(obj interface{}, opts *ebpf.CollectionOptions) error {
	spec, err := loadSslFiring()
	if err != nil {
		return err
	}

	return spec.LoadAndAssign(obj, opts)
}

// sslFiringSpecs contains maps and programs before they are loaded into the kernel.
//
// It can be passed ebpf.CollectionSpec.Assign.
type sslFiringSpecs struct {
	sslFiringProgramSpecs
	sslFiringMapSpecs
}

// sslFiringSpecs contains programs before they are loaded into the kernel.
//
// It can be passed ebpf.CollectionSpec.Assign.
type sslFiringProgramSpecs struct {
	ProbeConnect        *ebpf.ProgramSpec `ebpf:"probe_connect"`
	ProbeEntryNsprRead  *ebpf.ProgramSpec `ebpf:"probe_entry_nspr_read"`
	ProbeEntryNsprWrite *ebpf.ProgramSpec `ebpf:"probe_entry_nspr_write"`
	ProbeEntrySslRead   *ebpf.ProgramSpec `ebpf:"probe_entry_ssl_read"`
	ProbeEntrySslWrite  *ebpf.ProgramSpec `ebpf:"probe_entry_ssl_write"`
	ProbeRetNsprRead    *ebpf.ProgramSpec `ebpf:"probe_ret_nspr_read"`
	ProbeRetNsprWrite   *ebpf.ProgramSpec `ebpf:"probe_ret_nspr_write"`
	ProbeRetSslRead     *ebpf.ProgramSpec `ebpf:"probe_ret_ssl_read"`
	ProbeRetSslWrite    *ebpf.ProgramSpec `ebpf:"probe_ret_ssl_write"`
}

// sslFiringMapSpecs contains maps before they are loaded into the kernel.
//
// It can be passed ebpf.CollectionSpec.Assign.
type sslFiringMapSpecs struct {
	Firings *ebpf.MapSpec `ebpf:"firings"`
}

// sslFiringObjects contains all objects after they have been loaded into the kernel.
//
// It can be passed to loadSslFiringObjects or ebpf.CollectionSpec.LoadAndAssign.
type sslFiringObjects struct {
	sslFiringPrograms
	sslFiringMaps
}

func (o *sslFiringObjects) Close() error {
	return _SslFiringClose(
		&o.sslFiringPrograms,
		&o.sslFiringMaps,
	)
}

// sslFiringMaps contains all maps after they have been loaded into the kernel.
//
// It can be passed to loadSslFiringObjects or ebpf.CollectionSpec.LoadAndAssign.
type sslFiringMaps struct {
	Firings *ebpf.Map `ebpf:"firings"`
}

func (m *sslFiringMaps) Close() error {
	return _SslFiringClose(
		m.Firings,
	)
}

// sslFiringPrograms contains all programs after they have been loaded into the kernel.
//
// It can be passed to loadSslFiringObjects or ebpf.CollectionSpec.LoadAndAssign.
type sslFiringPrograms struct {
	ProbeConnect        *ebpf.Program `ebpf:"probe_connect"`
	ProbeEntryNsprRead  *ebpf.Program `ebpf:"probe_entry_nspr_read"`
	ProbeEntryNsprWrite *ebpf.Program `ebpf:"probe_entry_nspr_write"`
	ProbeEntrySslRead   *ebpf.Program `ebpf:"probe_entry_ssl_read"`
	ProbeEntrySslWrite  *ebpf.Program `ebpf:"probe_entry_ssl_write"`
	ProbeRetNsprRead    *ebpf.Program `ebpf:"probe_ret_nspr_read"`
	ProbeRetNsprWrite   *ebpf.Program `ebpf:"probe_ret_nspr_write"`
	ProbeRetSslRead     *ebpf.Program `ebpf:"probe_ret_ssl_read"`
	ProbeRetSslWrite    *ebpf.Program `ebpf:"probe_ret_ssl_write"`
}

func (p *sslFiringPrograms) Close() error {
	return _SslFiringClose(
		p.ProbeConnect,
		p.ProbeEntryNsprRead,
		p.ProbeEntryNsprWrite,
		p.ProbeEntrySslRead,
		p.ProbeEntrySslWrite,
		p.ProbeRetNsprRead,
		p.ProbeRetNsprWrite,
		p.ProbeRetSslRead,
		p.ProbeRetSslWrite,
	)
}

func _SslFiringClose(closers ...io.Closer) error {
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Do not access this directly.
//
//go:embed sslfiring_x86_bpfel.o
var _SslFiringBytes []byte
