// Package serde defines the serialization and deserialization mechanisms.
//
// The serialization of a message is done through a format engine registered
// for each supported format. A message is serialized by looking up the engine
// associated with the format of the context, which means the same message can
// be encoded differently depending on the context it is sent with.
package serde

// Format is the identifier of a format implementation.
type Format string

const (
	// FormatJSON is the identifier for JSON formats.
	FormatJSON Format = "JSON"
)

// Message is the interface a data model should implemented to be serialized.
type Message interface {
	// Serialize returns the data of the message according to the context.
	Serialize(ctx Context) ([]byte, error)
}

// Factory is the interface to implement to instantiate a message from its data.
type Factory interface {
	// Deserialize returns the message populated with the data, if
	// appropriate, otherwise an error.
	Deserialize(ctx Context, data []byte) (Message, error)
}

// FormatEngine is the interface to implement to provide the encoding and the
// decoding of messages for a specific format.
type FormatEngine interface {
	// Encode returns the bytes of the message according to the format.
	Encode(ctx Context, message Message) ([]byte, error)

	// Decode populates the message with the data according to the format.
	Decode(ctx Context, data []byte) (Message, error)
}
