package tunnel

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// assocConn adapts the established DTLS association to the engine's
// non-blocking contract. An immediate read deadline turns every Read
// into a poll.
type assocConn struct {
	conn net.Conn
}

var _ assoc = &assocConn{}

// Poll implements assoc.
func (a *assocConn) Poll(buf []byte) (int, error) {
	a.conn.SetReadDeadline(time.Now())
	count, err := a.conn.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, errNoRecord
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return 0, errPeerClosed
		}
		return 0, err
	}
	return count, nil
}

// Send implements assoc.
func (a *assocConn) Send(pkt []byte) error {
	_, err := a.conn.Write(pkt)
	return err
}
