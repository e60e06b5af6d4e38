// Package registry maps serialization formats to their engines. Lookups for an
// unknown format return an engine that always fails.
package registry

import (
	"go.dedis.ch/merk/serde"
)

// Registry is an interface to register and get format engines for a specific
// format.
type Registry interface {
	// Register takes a format and its engine and it registers them so that the
	// engine can be looked up later.
	Register(serde.Format, serde.FormatEngine)

	// Get returns the engine associated with the format.
	Get(serde.Format) serde.FormatEngine
}
