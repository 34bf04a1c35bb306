// Package adapters is the pluggable seam between this engine and concrete
// upstream exchange SDKs. It never imports a CCXT-like client itself: each
// deployment registers a Builder for every exchange id it actually
// connects to, typically from an init() in a sibling package that does
// import the real client library.
package adapters

import (
	"fmt"

	"github.com/nullstate/arb/internal/config"
	"github.com/nullstate/arb/internal/sdkiface"
)

// Builder constructs a session factory for one exchange from its
// credentials. Builders are registered by exchange id (e.g. "binance",
// "kraken") rather than by SDK, since two configured exchanges can share
// one underlying client library with different base URLs.
type Builder func(id string, creds config.ExchangeCredentials) (sdkiface.Factory, error)

var registered = map[string]Builder{}

// Register binds a Builder to an exchange id. Called from an init() in
// the package that wires a concrete SDK client; registering the same id
// twice overwrites the earlier binder.
func Register(id string, b Builder) {
	registered[id] = b
}

// Resolve looks up the Builder for id and invokes it with creds. It
// returns an error rather than panicking so a deployment missing an
// adapter fails at startup with a clear message instead of a nil
// dereference deep in Connection.
func Resolve(id string, creds config.ExchangeCredentials) (sdkiface.Factory, error) {
	b, ok := registered[id]
	if !ok {
		return nil, fmt.Errorf("adapters: no SDK adapter registered for exchange %q", id)
	}
	return b(id, creds)
}
