// Package bpfloader manages the lifecycle of the firing-forwarder BPF
// programs and their uprobe attachments.
package bpfloader

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"

	"github.com/zxd1994/ecapture/internal/bpf"
)

// Loader loads the BPF objects and plants uprobe/uretprobe pairs into the
// target libraries' already-mapped images.
type Loader struct {
	objs  bpf.SSLFiringObjects
	links []link.Link
}

// New loads the BPF objects into the kernel.
func New() (*Loader, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("removing memlock limit: %w", err)
	}

	l := &Loader{}
	if err := bpf.LoadSSLFiringObjects(&l.objs, nil); err != nil {
		return nil, fmt.Errorf("loading BPF objects: %w", err)
	}
	return l, nil
}

// closeErrorf closes all attached links and returns a formatted error.
// Cleanup errors are intentionally ignored since we're already in an error path.
func (l *Loader) closeErrorf(errstr string, e error) error {
	for i := len(l.links) - 1; i >= 0; i-- {
		_ = l.links[i].Close() //nolint:errcheck // Best-effort cleanup in error path
	}
	l.links = nil
	return fmt.Errorf("%s: %w", errstr, e)
}

// AttachOpenSSL plants entry/return probe pairs on SSL_read and SSL_write
// in the given libssl shared object.
func (l *Loader) AttachOpenSSL(libssl string) error {
	ex, err := link.OpenExecutable(libssl)
	if err != nil {
		return fmt.Errorf("opening %s: %w", libssl, err)
	}

	up, err := ex.Uprobe("SSL_read", l.objs.ProbeEntrySslRead, nil)
	if err != nil {
		return l.closeErrorf("attaching SSL_read uprobe", err)
	}
	l.links = append(l.links, up)

	ur, err := ex.Uretprobe("SSL_read", l.objs.ProbeRetSslRead, nil)
	if err != nil {
		return l.closeErrorf("attaching SSL_read uretprobe", err)
	}
	l.links = append(l.links, ur)

	up, err = ex.Uprobe("SSL_write", l.objs.ProbeEntrySslWrite, nil)
	if err != nil {
		return l.closeErrorf("attaching SSL_write uprobe", err)
	}
	l.links = append(l.links, up)

	ur, err = ex.Uretprobe("SSL_write", l.objs.ProbeRetSslWrite, nil)
	if err != nil {
		return l.closeErrorf("attaching SSL_write uretprobe", err)
	}
	l.links = append(l.links, ur)

	return nil
}

// AttachNSPR plants entry/return probe pairs on PR_Read and PR_Write in the
// given libnspr4 shared object.
func (l *Loader) AttachNSPR(libnspr string) error {
	ex, err := link.OpenExecutable(libnspr)
	if err != nil {
		return fmt.Errorf("opening %s: %w", libnspr, err)
	}

	up, err := ex.Uprobe("PR_Read", l.objs.ProbeEntryNsprRead, nil)
	if err != nil {
		return l.closeErrorf("attaching PR_Read uprobe", err)
	}
	l.links = append(l.links, up)

	ur, err := ex.Uretprobe("PR_Read", l.objs.ProbeRetNsprRead, nil)
	if err != nil {
		return l.closeErrorf("attaching PR_Read uretprobe", err)
	}
	l.links = append(l.links, ur)

	up, err = ex.Uprobe("PR_Write", l.objs.ProbeEntryNsprWrite, nil)
	if err != nil {
		return l.closeErrorf("attaching PR_Write uprobe", err)
	}
	l.links = append(l.links, up)

	ur, err = ex.Uretprobe("PR_Write", l.objs.ProbeRetNsprWrite, nil)
	if err != nil {
		return l.closeErrorf("attaching PR_Write uretprobe", err)
	}
	l.links = append(l.links, ur)

	return nil
}

// AttachConnect plants the single-shot connect() probe in libc.
func (l *Loader) AttachConnect(libc string) error {
	ex, err := link.OpenExecutable(libc)
	if err != nil {
		return fmt.Errorf("opening %s: %w", libc, err)
	}

	up, err := ex.Uprobe("connect", l.objs.ProbeConnect, nil)
	if err != nil {
		return l.closeErrorf("attaching connect uprobe", err)
	}
	l.links = append(l.links, up)

	return nil
}

// OpenRingBuffer opens and returns a ring buffer reader for receiving firings.
func (l *Loader) OpenRingBuffer() (*ringbuf.Reader, error) {
	rd, err := ringbuf.NewReader(l.objs.Firings)
	if err != nil {
		return nil, fmt.Errorf("opening ring buffer: %w", err)
	}
	return rd, nil
}

// Close releases all BPF resources including links and loaded objects.
func (l *Loader) Close() error {
	var errs []error

	for i := len(l.links) - 1; i >= 0; i-- {
		if err := l.links[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing link %d: %w", i, err))
		}
	}
	l.links = nil

	if err := l.objs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing BPF objects: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during cleanup: %w", errors.Join(errs...))
	}

	return nil
}
