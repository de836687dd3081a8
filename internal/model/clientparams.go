package model

//
// ClientParams is the per-session configuration the server pushes to the
// peer right after the DTLS handshake. The encoding follows the legacy
// wire format: a leading control byte, then an ASCII string of the form
//
//	m,<mtu> a,<peerip>,32 d,<dns> r,<route>,<rmask>
//
// space-padded to a fixed payload size so that clients can receive the
// frame into a fixed array.
//

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// paramsPayloadSize is the number of ASCII bytes following the leading
// control byte. Clients allocate a buffer of exactly this size, so the
// encoded text must never exceed it.
const paramsPayloadSize = 1024

// ParamsFrameSize is the total size of the encoded ClientParams frame.
const ParamsFrameSize = 1 + paramsPayloadSize

// ErrBadParams indicates that a ClientParams frame could not be parsed.
var ErrBadParams = errors.New("model: malformed client parameters")

// ClientParams is the immutable per-session record pushed to the peer.
type ClientParams struct {
	// MTU is the tunnel MTU.
	MTU int

	// PeerIP is the address assigned to the peer, always a /32.
	PeerIP net.IP

	// DNS is the DNS server the peer should use.
	DNS net.IP

	// RouteIP and RouteMask form the single route advertised to the peer.
	RouteIP   net.IP
	RouteMask int
}

// Encode serializes the parameters into the fixed-size control frame.
func (cp *ClientParams) Encode() []byte {
	text := fmt.Sprintf("m,%d a,%s,32 d,%s r,%s,%d",
		cp.MTU, cp.PeerIP, cp.DNS, cp.RouteIP, cp.RouteMask)
	if len(text) > paramsPayloadSize {
		// cannot happen with valid IPv4 fields
		panic("model: client parameters overflow the frame")
	}
	frame := make([]byte, ParamsFrameSize)
	frame[0] = ControlByte
	copy(frame[1:], text)
	for i := 1 + len(text); i < len(frame); i++ {
		frame[i] = ' '
	}
	return frame
}

// ParseClientParams decodes a frame produced by [ClientParams.Encode].
func ParseClientParams(frame []byte) (*ClientParams, error) {
	if len(frame) != ParamsFrameSize || frame[0] != ControlByte {
		return nil, fmt.Errorf("%w: bad frame shape", ErrBadParams)
	}
	text := strings.TrimRight(string(frame[1:]), " ")
	cp := &ClientParams{}
	for _, field := range strings.Fields(text) {
		parts := strings.Split(field, ",")
		switch {
		case parts[0] == "m" && len(parts) == 2:
			mtu, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, fmt.Errorf("%w: bad mtu: %s", ErrBadParams, parts[1])
			}
			cp.MTU = mtu
		case parts[0] == "a" && len(parts) == 3:
			if parts[2] != "32" {
				return nil, fmt.Errorf("%w: peer address must be a /32", ErrBadParams)
			}
			cp.PeerIP = net.ParseIP(parts[1])
			if cp.PeerIP == nil {
				return nil, fmt.Errorf("%w: bad peer address: %s", ErrBadParams, parts[1])
			}
		case parts[0] == "d" && len(parts) == 2:
			cp.DNS = net.ParseIP(parts[1])
			if cp.DNS == nil {
				return nil, fmt.Errorf("%w: bad dns address: %s", ErrBadParams, parts[1])
			}
		case parts[0] == "r" && len(parts) == 3:
			cp.RouteIP = net.ParseIP(parts[1])
			if cp.RouteIP == nil {
				return nil, fmt.Errorf("%w: bad route address: %s", ErrBadParams, parts[1])
			}
			mask, err := strconv.Atoi(parts[2])
			if err != nil {
				return nil, fmt.Errorf("%w: bad route mask: %s", ErrBadParams, parts[2])
			}
			cp.RouteMask = mask
		default:
			return nil, fmt.Errorf("%w: unknown field %q", ErrBadParams, field)
		}
	}
	return cp, nil
}
