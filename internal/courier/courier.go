// Package courier executes cross-exchange transfers: it resolves the
// destination exchange's deposit address and pushes a withdrawal from
// the departure exchange for the matching chain.
package courier

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nullstate/arb/internal/coin"
	"github.com/nullstate/arb/internal/connection"
	"github.com/nullstate/arb/internal/sdkiface"
)

// DepositResolver looks up the deposit address a destination exchange
// publishes for a given coin address (same chain as the departure side).
type DepositResolver interface {
	DepositAddress(ctx context.Context, destinationExchange, coinAddress string) (sdkiface.DepositAddress, error)
}

// Courier withdraws from one exchange to another.
type Courier struct {
	exchangeID string
	conn       *connection.Connection
	resolver   DepositResolver
	log        zerolog.Logger
}

// New constructs a Courier bound to its departure exchange's connection.
func New(exchangeID string, conn *connection.Connection, resolver DepositResolver, log zerolog.Logger) *Courier {
	return &Courier{
		exchangeID: exchangeID,
		conn:       conn,
		resolver:   resolver,
		log:        log.With().Str("exchange", exchangeID).Str("component", "courier").Logger(),
	}
}

// Withdraw resolves destinationExchange's deposit address for c and
// submits a withdrawal for amount. It returns a boolean result: upstream
// SDK errors are logged and collapsed rather than propagated, matching
// the source's "withdraw never throws, it just tells you yes or no"
// contract that Manager's fallback-to-sell logic depends on.
func (c *Courier) Withdraw(ctx context.Context, coinVariant coin.Coin, amount float64, destinationExchange string) bool {
	sess, ok := c.conn.Acquire()
	if !ok {
		return false
	}

	dest, err := c.resolver.DepositAddress(ctx, destinationExchange, coinVariant.Address())
	if err != nil {
		c.log.Warn().Err(err).Str("destination", destinationExchange).Msg("could not resolve deposit address")
		return false
	}

	err = sess.Withdraw(ctx, coinVariant.Name(), amount, dest.Address, dest.Tag, coinVariant.Chain())
	if err == nil {
		return true
	}

	switch sdkiface.KindOf(err) {
	case sdkiface.KindCancelled:
		return false
	default:
		c.log.Warn().Err(err).Str("coin", coinVariant.Name()).Str("destination", destinationExchange).Msg("withdraw failed")
		return false
	}
}

// GetDepositAddress exposes this exchange's own deposit address for coin,
// for use when it is acting as a destination exchange.
func (c *Courier) GetDepositAddress(ctx context.Context, name, network string) (sdkiface.DepositAddress, error) {
	sess, ok := c.conn.Acquire()
	if !ok {
		return sdkiface.DepositAddress{}, context.DeadlineExceeded
	}
	return sess.FetchDepositAddress(ctx, name, network)
}
