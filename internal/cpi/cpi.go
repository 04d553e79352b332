// Package cpi implements the control-plane interface shim of SPEC_FULL.md
// component 8 (spec.md §4.4): a kernel-visible TAP device that exposes
// the dataplane to everything routing-socket and userspace-daemon based
// (BGP, bonding monitors) that wants to see it as an ordinary NIC.
//
// The TAP device is opened with a raw TUNSETIFF ioctl the way
// macvmgr/vnet opens its socketpairs with raw unix syscalls rather than a
// higher-level wrapper library: golang.org/x/sys/unix exposes the ioctl
// primitive directly and nothing in the retrieved corpus wraps TAP
// creation further, so the shim does the same.
package cpi

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

const (
	tunDevicePath = "/dev/net/tun"

	iffTap        = 0x0002
	iffNoPI       = 0x1000
	iffVNetHdr    = 0x4000
	tunSetIffBase = 0x400454ca // TUNSETIFF on linux/amd64
)

type ifReq struct {
	Name  [unix.IFNAMSIZ]byte
	Flags uint16
	_     [22]byte // pad to match struct ifreq's union size
}

// AdminRequest is one pending administrative request surfaced by the
// kernel side of the TAP device, per spec.md's CPI administrative
// interface: an MTU change, a link up/down toggle, or both at once if the
// kernel's netlink notification carried both.
type AdminRequest struct {
	MTU    *int
	LinkUp *bool
}

// Shim owns the kernel-visible TAP file descriptor for one interface.
type Shim struct {
	file *os.File
	name string
	mtu  int

	admin     chan AdminRequest
	watchDone chan struct{}
	lastMTU   int
	lastUp    bool
	haveState bool
}

// Open creates (or attaches to) a TAP device named name and returns a
// Shim wrapping its file descriptor. The device is not marked persistent
// (no TUNSETPERSIST), so one created here exists only while the
// descriptor is open. The returned file is in
// IFF_TAP|IFF_NO_PI mode: raw Ethernet frames in and out, no packet
// information header prefix.
func Open(name string) (*Shim, error) {
	f, err := os.OpenFile(tunDevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("cpi: open %s: %w", tunDevicePath, err)
	}

	var req ifReq
	copy(req.Name[:], name)
	req.Flags = iffTap | iffNoPI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(tunSetIffBase), uintptr(unsafe.Pointer(&req))); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("cpi: TUNSETIFF %s: %w", name, errno)
	}

	if err := unix.SetNonblock(int(f.Fd()), true); err != nil {
		f.Close()
		return nil, fmt.Errorf("cpi: setnonblock: %w", err)
	}

	s := &Shim{
		file:      f,
		name:      name,
		mtu:       1500,
		admin:     make(chan AdminRequest, 16),
		watchDone: make(chan struct{}),
	}
	s.watchAdmin()
	return s, nil
}

// watchAdmin subscribes to netlink link updates for this device's kernel-
// visible name and turns MTU/oper-state changes into buffered
// AdminRequests, mirroring how scon/netlink.go watches link state via a
// raw netlink group subscription. The worker polls PollAdmin once per
// loop iteration rather than blocking on this channel directly, keeping
// the cooperative loop's "no blocking I/O" invariant intact.
func (s *Shim) watchAdmin() {
	updates := make(chan netlink.LinkUpdate)
	if err := netlink.LinkSubscribe(updates, s.watchDone); err != nil {
		logrus.WithError(err).WithField("iface", s.name).Warn("cpi: admin watch subscribe failed")
		close(s.watchDone)
		return
	}

	go func() {
		for upd := range updates {
			attrs := upd.Link.Attrs()
			if attrs.Name != s.name {
				continue
			}

			mtu := attrs.MTU
			up := attrs.OperState == netlink.OperUp

			var req AdminRequest
			changed := false
			if !s.haveState || mtu != s.lastMTU {
				req.MTU = &mtu
				changed = true
			}
			if !s.haveState || up != s.lastUp {
				req.LinkUp = &up
				changed = true
			}
			s.lastMTU, s.lastUp, s.haveState = mtu, up, true

			if !changed {
				continue
			}
			select {
			case s.admin <- req:
			default:
				logrus.WithField("iface", s.name).Warn("cpi: admin request queue full, dropping")
			}
		}
	}()
}

// PollAdmin returns the next pending administrative request, if any,
// without blocking. Callers (the CPS worker's own polling loop) apply it
// and continue; a non-zero handler result is only ever a warning, never
// fatal to the worker, per spec.md's CPI administrative interface.
func (s *Shim) PollAdmin() (AdminRequest, bool) {
	select {
	case req := <-s.admin:
		return req, true
	default:
		return AdminRequest{}, false
	}
}

// Name returns the TAP device's interface name.
func (s *Shim) Name() string { return s.name }

// MTU returns the last MTU value set via SetMTU, defaulting to 1500.
func (s *Shim) MTU() int { return s.mtu }

// SetMTU records the MTU the caller has configured on the kernel side
// (via netlink, outside this package) so CPI-bound frames can be sized
// accordingly.
func (s *Shim) SetMTU(mtu int) { s.mtu = mtu }

// KernelRX reads one Ethernet frame delivered by the kernel to the TAP
// device (e.g. an outbound BGP segment or ARP probe the kernel emitted).
// Returns (0, nil) under EAGAIN so callers can poll without blocking the
// single dataplane lcore.
func (s *Shim) KernelRX(buf []byte) (int, error) {
	n, err := s.file.Read(buf)
	if err != nil {
		if isEAGAIN(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("cpi: kernel rx: %w", err)
	}
	return n, nil
}

// KernelTX delivers one Ethernet frame to the kernel (e.g. a synthesized
// ARP reply or ND advertisement, or a BGP segment arriving from the
// front/back network).
func (s *Shim) KernelTX(frame []byte) error {
	if _, err := s.file.Write(frame); err != nil {
		if isEAGAIN(err) {
			return nil
		}
		return fmt.Errorf("cpi: kernel tx: %w", err)
	}
	return nil
}

// Close releases the TAP file descriptor and stops the admin-request
// watch. A TAP device that Open created (not persistent) is removed by
// the kernel once this last descriptor closes.
func (s *Shim) Close() error {
	select {
	case <-s.watchDone:
	default:
		close(s.watchDone)
	}
	return s.file.Close()
}

func isEAGAIN(err error) bool {
	pe, ok := err.(*os.PathError)
	if !ok {
		return false
	}
	return pe.Err == unix.EAGAIN
}
