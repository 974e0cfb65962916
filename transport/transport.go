// Package transport provides a minimal datagram-preserving channel for
// exchanging sync messages between two peers. It is not part of the
// sync core: the core (package syncstate) only ever consumes and
// produces []byte and never imports this package. cmd/syncpeerd is
// this package's only caller.
//
// Two framings are provided: UDP, where net.PacketConn already
// preserves datagram boundaries, and a length-prefixed framing over a
// stream (TCP or Unix-domain) for hosts that prefer a reliable
// transport. Neither framing authenticates, encrypts, or compresses a
// message; hosts that need those wrap the channel themselves.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// MaxDatagramSize bounds a single UDP read. Sync messages larger than
// this must use the stream framing instead.
const MaxDatagramSize = 64 * 1024

// ErrMessageTooLarge is returned by PacketChannel.Send when a message
// exceeds MaxDatagramSize.
var ErrMessageTooLarge = errors.New("transport: message exceeds MaxDatagramSize")

// Channel is the boundary-preserving interface the sync host drives:
// Send transmits one complete message, Receive blocks for the next one.
// Implementations need not be safe for concurrent use by multiple
// goroutines calling Send or Receive at once; each peer actor is
// expected to own its Channel exclusively.
type Channel interface {
	Send(b []byte) error
	Receive() ([]byte, error)
	Close() error
}

// PacketChannel implements Channel over a connected net.PacketConn (a
// UDP socket dialed or dedicated to one remote peer). UDP already
// preserves datagram boundaries, so framing is a no-op beyond a size
// check on send.
type PacketChannel struct {
	conn net.PacketConn
	peer net.Addr
	buf  []byte
}

// NewPacketChannel wraps conn, sending to and receiving only from peer.
func NewPacketChannel(conn net.PacketConn, peer net.Addr) *PacketChannel {
	return &PacketChannel{conn: conn, peer: peer, buf: make([]byte, MaxDatagramSize)}
}

// Send implements Channel.
func (c *PacketChannel) Send(b []byte) error {
	if len(b) > MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(b))
	}
	_, err := c.conn.WriteTo(b, c.peer)
	return err
}

// Receive implements Channel. Datagrams from any address other than
// the configured peer are discarded; a caller sharing one socket
// between peers must demultiplex upstream of this type.
func (c *PacketChannel) Receive() ([]byte, error) {
	for {
		n, addr, err := c.conn.ReadFrom(c.buf)
		if err != nil {
			return nil, err
		}
		if c.peer != nil && addr.String() != c.peer.String() {
			continue
		}
		out := make([]byte, n)
		copy(out, c.buf[:n])
		return out, nil
	}
}

// Close implements Channel.
func (c *PacketChannel) Close() error {
	return c.conn.Close()
}

// StreamChannel implements Channel over a net.Conn (TCP or
// Unix-domain) using uint32 length-prefix framing.
type StreamChannel struct {
	conn net.Conn
}

// NewStreamChannel wraps conn with length-prefixed framing.
func NewStreamChannel(conn net.Conn) *StreamChannel {
	return &StreamChannel{conn: conn}
}

// Send implements Channel.
func (c *StreamChannel) Send(b []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := c.conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := c.conn.Write(b)
	return err
}

// Receive implements Channel.
func (c *StreamChannel) Receive() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close implements Channel.
func (c *StreamChannel) Close() error {
	return c.conn.Close()
}
