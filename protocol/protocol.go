// Package protocol implements the length-prefixed frame format used on the
// wire.
//
// It solves TCP's sticky packet problem: the stream gives no message
// boundaries, so every message body is prefixed with its length. The
// receiver reads the fixed-size header first to learn the body length, then
// reads exactly that many bytes.
//
// Frame format:
//
//	0         4
//	┌─────────┬───────────────┐
//	│ bodyLen │    body ...    │
//	│ uint32  │ bodyLen bytes  │
//	└─────────┴───────────────┘
//
// The length is a 4-byte big-endian unsigned integer (network byte order).
// Length-prefixing is chosen over delimiter-based framing because bodies may
// contain arbitrary bytes; there is nothing to escape and boundary detection
// is O(1) regardless of payload content.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the fixed size of the length prefix in bytes.
const HeaderSize = 4

// DefaultMaxFrameSize bounds the body length accepted by ReadFrame when the
// caller passes 0. A hostile or corrupted length prefix is rejected before
// any allocation happens.
const DefaultMaxFrameSize = 1024 * 1024

var (
	// ErrConnectionClosed is returned when the stream ends cleanly between
	// frames. This is the normal way a peer hangs up, not a protocol error.
	ErrConnectionClosed = errors.New("protocol: connection closed by peer")

	// ErrTruncatedFrame is returned when the stream ends in the middle of a
	// frame, leaving an incomplete header or body behind.
	ErrTruncatedFrame = errors.New("protocol: connection closed mid-frame")

	// ErrFrameTooLarge is returned when the declared body length exceeds
	// the configured maximum.
	ErrFrameTooLarge = errors.New("protocol: declared length exceeds limit")
)

// WriteFrame writes one complete frame (length prefix + body) to w.
// The caller must hold a write lock if multiple goroutines share the same
// writer, otherwise frames will interleave and corrupt the stream.
func WriteFrame(w io.Writer, body []byte) error {
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return nil
}

// ReadFrame reads one complete frame from r and returns its body.
// maxSize bounds the declared body length; pass 0 for DefaultMaxFrameSize.
//
// io.ReadFull guarantees exact reads, so framing is independent of how the
// transport chunks the byte stream. A clean EOF before any header byte is
// reported as ErrConnectionClosed; an EOF after the frame started is
// ErrTruncatedFrame.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrConnectionClosed
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedFrame
		}
		return nil, err
	}

	bodyLen := binary.BigEndian.Uint32(header[:])
	if bodyLen > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, bodyLen, maxSize)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedFrame
		}
		return nil, err
	}
	return body, nil
}
