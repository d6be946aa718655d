package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"syscall"
)

const (
	// MaxFrameSize is the maximum allowed payload size (96 MiB). A 50 MB
	// attachment grows to ~67 MB after base64, plus the JSON envelope.
	MaxFrameSize = 96 * 1024 * 1024
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size (96 MiB)")

	// ErrConnectionClosed is returned when the peer closes the stream
	// mid-header or mid-payload. It is terminal for the connection.
	ErrConnectionClosed = errors.New("connection closed by peer")

	// ErrConnectionReset is returned on an abrupt transport reset.
	// Callers treat it identically to ErrConnectionClosed.
	ErrConnectionReset = errors.New("connection reset by peer")
)

// EncodeFrame writes a length-prefixed frame to the writer.
// Format: [Length (4 bytes, big-endian)][Payload (N bytes)]
func EncodeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return wrapTransportErr(err)
	}

	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return wrapTransportErr(err)
		}
	}

	return nil
}

// ReadFrame reads one length-prefixed frame from the reader. It blocks
// until the 4-byte header and then exactly the announced number of payload
// bytes have arrived; io.ReadFull loops over partial reads, so a payload
// split across many TCP segments is reassembled before returning. A partial
// frame is never handed to the caller.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, wrapTransportErr(err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, wrapTransportErr(err)
		}
	}

	return payload, nil
}

// EncodeFrameBytes encodes a payload into a standalone byte slice,
// header included.
func EncodeFrameBytes(payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return buf, nil
}

// wrapTransportErr maps raw I/O errors onto the protocol's transport
// sentinels so callers can classify with errors.Is.
func wrapTransportErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syscall.ECONNRESET):
		return ErrConnectionReset
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.EPIPE):
		return ErrConnectionClosed
	default:
		return err
	}
}

// IsTerminal reports whether err means the connection is unusable and the
// caller should run its close path. Closed and reset are equivalent here.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrConnectionReset)
}
