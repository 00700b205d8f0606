package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"tcplink/message"
)

var (
	// ErrEncode wraps serialization failures on the send path.
	ErrEncode = errors.New("codec: encode failed")
	// ErrBadBody is returned when a frame body does not conform to the
	// tagged layout.
	ErrBadBody = errors.New("codec: malformed body")
)

// Tagged is the default body codec. Layout:
//
//	┌─────────┬───────────┬──────────────┐
//	│ tagLen  │    tag    │   payload    │
//	│ uint16  │ tagLen B  │  rest of body │
//	└─────────┴───────────┴──────────────┘
//
// The tag length is big-endian. The payload is whatever MarshalBody of the
// concrete message type produced; the registry's decoder for the tag gets it
// back verbatim.
type Tagged struct {
	Registry *message.Registry
}

// NewTagged creates a tagged codec backed by the given registry.
func NewTagged(reg *message.Registry) *Tagged {
	return &Tagged{Registry: reg}
}

func (c *Tagged) Encode(m message.Message) ([]byte, error) {
	tag := m.Tag()
	if len(tag) == 0 || len(tag) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: bad tag length %d", ErrEncode, len(tag))
	}

	payload, err := m.MarshalBody()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	body := make([]byte, 2+len(tag)+len(payload))

	offset := 0
	// Tag length -- 2 bytes
	binary.BigEndian.PutUint16(body[offset:offset+2], uint16(len(tag)))
	offset += 2

	// Tag -- n bytes
	copy(body[offset:offset+len(tag)], tag)
	offset += len(tag)

	// Payload -- rest
	copy(body[offset:], payload)
	return body, nil
}

func (c *Tagged) Decode(body []byte) (message.Message, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("%w: body shorter than tag length field", ErrBadBody)
	}

	tagLen := int(binary.BigEndian.Uint16(body[:2]))
	if tagLen == 0 || 2+tagLen > len(body) {
		return nil, fmt.Errorf("%w: tag length %d out of range", ErrBadBody, tagLen)
	}

	tag := string(body[2 : 2+tagLen])
	payload := body[2+tagLen:]

	m, err := c.Registry.Decode(tag, payload)
	if err != nil {
		return nil, err
	}
	return m, nil
}
