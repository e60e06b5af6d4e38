// Package json implements the context engine for the JSON format. Decoding is
// strict: node records, chunks and proofs come from disks and peers, so a
// message with unknown fields or trailing data is rejected.
package json

import (
	"bytes"
	"encoding/json"
	"io"

	"go.dedis.ch/merk/serde"
	"golang.org/x/xerrors"
)

// jsonEngine is a context engine to marshal and unmarshal in JSON format.
//
// - implements serde.ContextEngine
type jsonEngine struct{}

// NewContext returns a JSON context.
func NewContext() serde.Context {
	return serde.NewContext(jsonEngine{})
}

// GetFormat implements serde.ContextEngine. It returns the JSON format name.
func (ctx jsonEngine) GetFormat() serde.Format {
	return serde.FormatJSON
}

// Marshal implements serde.ContextEngine. It returns the bytes of the message
// marshaled in JSON format.
func (ctx jsonEngine) Marshal(m interface{}) ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal implements serde.ContextEngine. It populates the message with a
// single JSON value.
func (ctx jsonEngine) Unmarshal(data []byte, m interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	err := dec.Decode(m)
	if err == io.EOF {
		return xerrors.New("empty message")
	}

	if err != nil {
		return err
	}

	_, err = dec.Token()
	if err != io.EOF {
		return xerrors.New("trailing data after the message")
	}

	return nil
}
