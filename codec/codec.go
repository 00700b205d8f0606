// Package codec converts messages to and from frame bodies.
//
// A Codec sits between the message contract and the frame layer: Encode
// produces the bytes that become one frame body, Decode reconstructs a
// message from one. The default Tagged codec prefixes the payload with the
// message's type tag so the receiver knows which registered schema to
// reconstruct into; applications with their own body layout can supply a
// different Codec to the connection.
package codec

import "tcplink/message"

// Codec encodes messages into frame bodies and decodes frame bodies back
// into messages. Implementations must be safe for concurrent use: one
// connection may encode and decode at the same time.
type Codec interface {
	Encode(m message.Message) ([]byte, error)
	Decode(body []byte) (message.Message, error)
}
