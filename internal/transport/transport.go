// Package transport defines the minimal datagram-socket contract Session
// needs and a default UDP implementation. This package exists only so the
// module ships a working default rather than forcing every host to supply
// one.
package transport

import (
	"errors"
	"net"
	"time"
)

// ErrWouldBlock is returned by SendTo when a send could not complete
// synchronously; the caller logs it and drops that packet, and the
// transport itself never retries it.
var ErrWouldBlock = errors.New("transport: send would block")

// Transport is the non-blocking send / blocking receive contract Session and
// the background job manager drive a peer connection through.
type Transport interface {
	// SendTo attempts to deliver b to addr without blocking. It either
	// completes synchronously or returns ErrWouldBlock.
	SendTo(addr string, b []byte) error
	// ReadFrom blocks until a datagram arrives or the deadline set by
	// SetReadDeadline elapses, returning the payload and sender address.
	ReadFrom() (b []byte, addr string, err error)
	// SetReadDeadline bounds the next ReadFrom call, so the background
	// job's receive loop can periodically check for cancellation.
	SetReadDeadline(t time.Time) error
	// LocalAddr returns the transport's bound local address.
	LocalAddr() string
	// Close releases the underlying socket.
	Close() error
}

// UDPTransport is the default Transport, a thin non-blocking-send wrapper
// around net.UDPConn.
type UDPTransport struct {
	conn *net.UDPConn
}

// Listen binds a UDP socket on addr (host:port, or ":0" for an ephemeral
// port) and returns a ready-to-use UDPTransport.
func Listen(addr string) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &UDPTransport{conn: conn}, nil
}

func (t *UDPTransport) SendTo(addr string, b []byte) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(b, udpAddr)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return ErrWouldBlock
		}
		return err
	}
	return nil
}

func (t *UDPTransport) ReadFrom() ([]byte, string, error) {
	buf := make([]byte, 8192)
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, "", err
	}
	return buf[:n], addr.String(), nil
}

func (t *UDPTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *UDPTransport) LocalAddr() string { return t.conn.LocalAddr().String() }

func (t *UDPTransport) Close() error { return t.conn.Close() }
