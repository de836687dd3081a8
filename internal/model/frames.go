package model

//
// Wire framing inside (and, for the connect probe, before) the DTLS
// association. A payload whose first byte is zero is a control frame;
// anything else is a raw IPv4 datagram for the TUN device. The IPv4
// version nibble guarantees real packets never start with 0x00.
//

const (
	// ControlByte is the leading byte of every control frame.
	ControlByte = 0x00

	// ClientWantConnect is the second byte of the cleartext connect
	// probe a client sends to select itself as the peer of a freshly
	// bound UDP socket.
	ClientWantConnect = 0x01

	// ClientWantDisconnect is the second byte of the graceful-close
	// control frame sent inside the DTLS association.
	ClientWantDisconnect = 0x02
)

// Keepalive returns the one-byte keepalive control frame.
func Keepalive() []byte {
	return []byte{ControlByte}
}

// IsConnectProbe returns true when the given cleartext datagram is the
// two-byte connect probe.
func IsConnectProbe(pkt []byte) bool {
	return len(pkt) == 2 && pkt[0] == ControlByte && pkt[1] == ClientWantConnect
}

// IsDisconnect returns true when the given DTLS payload is the two-byte
// graceful-close control frame.
func IsDisconnect(pkt []byte) bool {
	return len(pkt) == 2 && pkt[0] == ControlByte && pkt[1] == ClientWantDisconnect
}
