// Package listener accepts one DTLS peer at a time: it binds a fresh
// UDP socket to the service port, waits for the cleartext connect
// probe, connects the socket to the probe's source, and drives the
// DTLS handshake.
package listener

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/pion/dtls/v2"
	"golang.org/x/sys/unix"

	"github.com/xi1314/linux-vpn-2017-autumn/internal/model"
)

// ErrAcceptFailed is returned when a socket-level failure prevents
// accepting a peer. Handshake failures are retried internally and do
// not surface as this error.
var ErrAcceptFailed = errors.New("listener: accept failed")

const (
	// bindRetryWait is how long to sleep between bind attempts while
	// the port is still held by a closing socket.
	bindRetryWait = 100 * time.Millisecond

	// probePollWait bounds each blocking probe read so that shutdown
	// is observed promptly.
	probePollWait = 500 * time.Millisecond

	// handshakeTimeout bounds the DTLS accept handshake. The legacy
	// state machine drove the handshake for 50 tries spaced 200 ms
	// apart; peers rely on the resulting ten-second window.
	handshakeTimeout = 50 * 200 * time.Millisecond
)

// Listener owns the server DTLS configuration, shared read-only across
// every tunnel worker. The zero value is invalid; use [New].
type Listener struct {
	config *dtls.Config
	logger model.Logger
}

// New creates a [Listener] using the given identity. When clientCAs is
// not nil, peers must present a certificate chaining to it.
func New(cert tls.Certificate, clientCAs *x509.CertPool, logger model.Logger) *Listener {
	clientAuth := dtls.NoClientCert
	if clientCAs != nil {
		clientAuth = dtls.RequireAndVerifyClientCert
	}
	return &Listener{
		config: &dtls.Config{
			Certificates:         []tls.Certificate{cert},
			ClientAuth:           clientAuth,
			ClientCAs:            clientCAs,
			ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
			LoggerFactory:        &loggerFactory{logger: logger},
			ConnectContextMaker: func() (context.Context, func()) {
				return context.WithTimeout(context.Background(), handshakeTimeout)
			},
		},
		logger: logger,
	}
}

// AcceptOne accepts a single peer on the given port and returns the
// established DTLS association, which owns the underlying socket.
//
// A peer that sends the probe but never completes the handshake only
// costs us the handshake window: the socket is recycled and we bind a
// fresh one for the next probe.
func (l *Listener) AcceptOne(ctx context.Context, port int) (net.Conn, error) {
	for {
		sock, peer, err := l.bindAndConnect(ctx, port)
		if err != nil {
			return nil, err
		}
		assoc, err := dtls.Server(sock, l.config)
		if err == nil {
			return assoc, nil
		}
		l.logger.Warnf("listener: handshake with %s: %s", peer, err.Error())
		sock.Close()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

// bindAndConnect performs steps 1-5 of the accept sequence: bind a dual
// stack UDP socket to the port, wait for the connect probe, and connect
// the socket to the probe's source address.
func (l *Listener) bindAndConnect(ctx context.Context, port int) (*net.UDPConn, *net.UDPAddr, error) {
	sock, err := l.bind(ctx, port)
	if err != nil {
		return nil, nil, err
	}
	peer, err := l.awaitProbe(ctx, sock)
	if err != nil {
		sock.Close()
		return nil, nil, err
	}
	if err := connectSocket(sock, peer); err != nil {
		sock.Close()
		return nil, nil, fmt.Errorf("%w: connect: %s", ErrAcceptFailed, err.Error())
	}
	l.logger.Infof("listener: peer selected: %s", peer)
	return sock, peer, nil
}

// bind opens an IPv6 UDP socket accepting both families and binds it to
// the service port, retrying while the previous tunnel's socket still
// holds the address.
func (l *Listener) bind(ctx context.Context, port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if serr != nil {
					return
				}
				serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
			})
			if err != nil {
				return err
			}
			return serr
		},
	}
	address := fmt.Sprintf("[::]:%d", port)
	for {
		pc, err := lc.ListenPacket(ctx, "udp6", address)
		if err == nil {
			return pc.(*net.UDPConn), nil
		}
		if !errors.Is(err, unix.EADDRINUSE) {
			return nil, fmt.Errorf("%w: bind %s: %s", ErrAcceptFailed, address, err.Error())
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(bindRetryWait):
		}
	}
}

// awaitProbe discards datagrams until the two-byte connect probe
// arrives and returns its source address.
func (l *Listener) awaitProbe(ctx context.Context, sock *net.UDPConn) (*net.UDPAddr, error) {
	buffer := make([]byte, 1024)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		sock.SetReadDeadline(time.Now().Add(probePollWait))
		count, peer, err := sock.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return nil, fmt.Errorf("%w: recvfrom: %s", ErrAcceptFailed, err.Error())
		}
		if model.IsConnectProbe(buffer[:count]) {
			sock.SetReadDeadline(time.Time{})
			return peer, nil
		}
		l.logger.Debugf("listener: discarding %d-byte datagram from %s", count, peer)
	}
}

// connectSocket calls connect(2) on the socket's descriptor so that
// from here on it only exchanges datagrams with the selected peer.
func connectSocket(sock *net.UDPConn, peer *net.UDPAddr) error {
	sa := &unix.SockaddrInet6{Port: peer.Port}
	copy(sa.Addr[:], peer.IP.To16())
	if peer.Zone != "" {
		iface, err := net.InterfaceByName(peer.Zone)
		if err != nil {
			return err
		}
		sa.ZoneId = uint32(iface.Index)
	}
	raw, err := sock.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = unix.Connect(int(fd), sa)
	}); err != nil {
		return err
	}
	return serr
}
