// Package message defines the contract every message type must satisfy to
// travel over a tcplink connection, plus the registry that maps type tags
// back to concrete decoders.
//
// The core is generic over this contract: the framing and connection layers
// never inspect message contents, they only ask a message to serialize
// itself and ask the registry to reconstruct one from a tag and a payload.
package message

import (
	"errors"
	"fmt"
	"sync"
)

// Message is implemented by every request and response type an application
// sends over a connection.
//
//   - Tag returns the type tag identifying the concrete schema on the wire,
//     e.g. "echo.request". Tags are matched against the registry on the
//     receiving side.
//   - MarshalBody serializes the message payload. The bytes must be
//     reconstructible by the DecodeFunc registered under the same tag.
type Message interface {
	Tag() string
	MarshalBody() ([]byte, error)
}

// DecodeFunc reconstructs a message from its serialized payload.
type DecodeFunc func(payload []byte) (Message, error)

var (
	// ErrUnknownTag is returned when a payload arrives with a tag no
	// decoder was registered for.
	ErrUnknownTag = errors.New("message: unknown type tag")
	// ErrDuplicateTag is returned when two decoders claim the same tag.
	ErrDuplicateTag = errors.New("message: duplicate type tag")
)

// Registry maps type tags to decoders. Both peers of a connection must
// register the same tags for an exchange to round-trip.
//
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]DecodeFunc)}
}

// Register adds a decoder for the given tag.
func (r *Registry) Register(tag string, fn DecodeFunc) error {
	if tag == "" {
		return errors.New("message: empty type tag")
	}
	if fn == nil {
		return errors.New("message: nil decode func")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.decoders[tag]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTag, tag)
	}
	r.decoders[tag] = fn
	return nil
}

// MustRegister is Register that panics on error. Intended for registering an
// application's message types at init time.
func (r *Registry) MustRegister(tag string, fn DecodeFunc) {
	if err := r.Register(tag, fn); err != nil {
		panic(err)
	}
}

// Decode reconstructs a message from its tag and payload bytes.
func (r *Registry) Decode(tag string, payload []byte) (Message, error) {
	r.mu.RLock()
	fn, ok := r.decoders[tag]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	return fn(payload)
}
