// Package tundev opens the kernel TUN device backing a tunnel
// interface and exchanges raw IP datagrams with it in non-blocking
// mode.
package tundev

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrNoPacket is returned by [Device.ReadPacket] when no datagram is
// pending on the device.
var ErrNoPacket = errors.New("tundev: no packet available")

// clonePath is the TUN/TAP clone device.
const clonePath = "/dev/net/tun"

// Device is an open TUN file descriptor bound to a named interface.
// The zero value is invalid; use [Open]. Close has once semantics.
type Device struct {
	closeOnce sync.Once
	fd        int
	name      string
}

// Open opens the clone device in non-blocking mode and binds it to the
// interface with the given name, which must already exist.
func Open(name string) (*Device, error) {
	fd, err := unix.Open(clonePath, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("tundev: open %s: %w", clonePath, err)
	}
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tundev: bad interface name %q: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tundev: TUNSETIFF %s: %w", name, err)
	}
	return &Device{fd: fd, name: name}, nil
}

// Name returns the interface name the device is bound to.
func (d *Device) Name() string {
	return d.name
}

// ReadPacket reads one datagram into buf. When the device has nothing
// pending it returns [ErrNoPacket] instead of blocking.
func (d *Device) ReadPacket(buf []byte) (int, error) {
	n, err := unix.Read(d.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return 0, ErrNoPacket
		}
		return 0, fmt.Errorf("tundev: read %s: %w", d.name, err)
	}
	return n, nil
}

// WritePacket hands one datagram to the kernel.
func (d *Device) WritePacket(pkt []byte) error {
	if _, err := unix.Write(d.fd, pkt); err != nil {
		return fmt.Errorf("tundev: write %s: %w", d.name, err)
	}
	return nil
}

// Close closes the descriptor. The kernel drops the interface binding;
// destroying the interface itself is the registry's concern.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		err = unix.Close(d.fd)
	})
	return err
}
