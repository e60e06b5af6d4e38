package fake

import (
	"encoding/json"

	"go.dedis.ch/merk/serde"
)

// BadFormat is the identifier of the bad format engine. Formats can register
// the bad engine for this identifier so that tests can trigger errors.
const BadFormat = serde.Format("BadFormat")

// Message is a fake implementation of a serde message.
//
// - implements serde.Message
type Message struct {
	Digest []byte
}

// Serialize implements serde.Message. It returns the JSON data of the message.
func (m Message) Serialize(ctx serde.Context) ([]byte, error) {
	return ctx.Marshal(m)
}

// MessageFactory is a fake implementation of a serde factory.
//
// - implements serde.Factory
type MessageFactory struct {
	err error
}

// NewBadMessageFactory returns a factory that always returns an error.
func NewBadMessageFactory() MessageFactory {
	return MessageFactory{err: fakeErr}
}

// Deserialize implements serde.Factory. It returns a fake message or the error
// if configured to.
func (f MessageFactory) Deserialize(ctx serde.Context, data []byte) (serde.Message, error) {
	return Message{}, f.err
}

// Format is a fake format engine.
//
// - implements serde.FormatEngine
type Format struct {
	err  error
	Msg  serde.Message
	Call *Call
}

// NewBadFormat returns a format engine that always returns an error.
func NewBadFormat() Format {
	return Format{err: fakeErr}
}

// Encode implements serde.FormatEngine.
func (f Format) Encode(ctx serde.Context, m serde.Message) ([]byte, error) {
	if f.Call != nil {
		f.Call.Add(ctx, m)
	}

	if f.err != nil {
		return nil, f.err
	}

	return []byte("{}"), nil
}

// Decode implements serde.FormatEngine.
func (f Format) Decode(ctx serde.Context, data []byte) (serde.Message, error) {
	if f.Call != nil {
		f.Call.Add(ctx, data)
	}

	return f.Msg, f.err
}

type contextEngine struct {
	format serde.Format
}

func (ctx contextEngine) GetFormat() serde.Format {
	return ctx.format
}

func (ctx contextEngine) Marshal(m interface{}) ([]byte, error) {
	return json.Marshal(m)
}

func (ctx contextEngine) Unmarshal(data []byte, m interface{}) error {
	return json.Unmarshal(data, m)
}

// NewContextWithFormat returns a context that will use the given format.
func NewContextWithFormat(f serde.Format) serde.Context {
	return serde.NewContext(contextEngine{format: f})
}

