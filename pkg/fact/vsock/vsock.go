// Package vsock implements the host-guest transport fact uses when RPC
// connectivity to the sensor isn't available: a length-prefixed framing
// protocol carried over AF_VSOCK, grounded on
// original_source/fact/src/vsock.rs (same constants, same wire framing,
// reimplemented on top of github.com/mdlayher/vsock instead of hand-rolled
// nix socket calls).
package vsock

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/mdlayher/vsock"
)

const (
	// HostCID is the context ID of the hypervisor host, used by guests to
	// dial the relay.
	HostCID = 2
	// AnyCID is the wildcard context ID the host binds to when listening
	// for guest connections.
	AnyCID = 0xFFFFFFFF

	// DefaultPort is the vsock port fact listens on / dials by default.
	DefaultPort = 818

	// maxFrameLen bounds a single frame's payload so a corrupt or hostile
	// length header can't force an unbounded allocation.
	maxFrameLen = 64 << 20
)

// Available reports whether AF_VSOCK is usable on this system, by probing
// the host's own context ID. Guests and hosts both use this before
// attempting to dial or bind.
func Available() bool {
	_, err := vsock.ContextID()
	return err == nil
}

// ContextID returns this machine's own vsock context ID, used by a guest to
// stamp the IndexReport.VsockCID field it sends upstream.
func ContextID() (uint32, error) {
	return vsock.ContextID()
}

// Dial connects to the host relay on port from a guest.
func Dial(ctx context.Context, port uint32) (net.Conn, error) {
	conn, err := vsock.Dial(HostCID, port, nil)
	if err != nil {
		return nil, fmt.Errorf("vsock: dial host port %d: %w", port, err)
	}
	return conn, nil
}

// Listen binds the host side of the relay to the given port, accepting
// connections from any guest context ID.
func Listen(port uint32) (*vsock.Listener, error) {
	l, err := vsock.Listen(port, nil)
	if err != nil {
		return nil, fmt.Errorf("vsock: listen on port %d: %w", port, err)
	}
	return l, nil
}

// WriteFrame writes a single length-prefixed frame: a little-endian uint32
// length followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("vsock: writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("vsock: writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads a single length-prefixed frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("vsock: frame length %d exceeds maximum %d", n, maxFrameLen)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("vsock: reading frame payload: %w", err)
	}
	return payload, nil
}

// ack status codes. Only Success is currently produced; non-zero codes are
// reserved for future use by the relay.
const (
	AckSuccess uint32 = 0
)

// WriteAck writes a 4-byte little-endian status code.
func WriteAck(w io.Writer, code uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], code)
	_, err := w.Write(buf[:])
	return err
}

// ReadAck reads a 4-byte little-endian status code.
func ReadAck(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Send writes payload as a single frame and waits for the relay's
// acknowledgment, returning an error if the ack status is non-zero.
func Send(conn net.Conn, payload []byte) error {
	if err := WriteFrame(conn, payload); err != nil {
		return err
	}
	code, err := ReadAck(conn)
	if err != nil {
		return fmt.Errorf("vsock: reading acknowledgment: %w", err)
	}
	if code != AckSuccess {
		return fmt.Errorf("vsock: relay returned error code %d", code)
	}
	return nil
}
