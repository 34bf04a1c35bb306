// Package registry builds and owns the per-cycle set of collaborators —
// Mapper, EventBus, the exchange map, and the cross-exchange deposit
// resolver that wires Courier.Withdraw to "whichever other Exchange the
// destination id names". It replaces the source's module-level globals
// with an explicit container built fresh by AutoReconnectBot's cycle
// function every time a cycle (re)enters, so a torn-down cycle can never
// leak state into the next attempt.
package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nullstate/arb/internal/events"
	"github.com/nullstate/arb/internal/exchange"
	"github.com/nullstate/arb/internal/mapper"
	"github.com/nullstate/arb/internal/sdkiface"
	"github.com/nullstate/arb/internal/utils"
)

// AdapterFactory builds a fresh upstream SDK factory for one exchange id.
// Concrete CCXT-like client construction lives behind this so Registry
// never imports a specific SDK package.
type AdapterFactory func(exchangeID string) sdkiface.Factory

// Registry is the one-cycle container: every Exchange it holds shares
// this Registry's Mapper and EventBus.
type Registry struct {
	Mapper *mapper.Mapper
	Bus    *events.Manager
	Log    zerolog.Logger

	exchanges map[string]*exchange.Exchange
}

// New constructs an empty Registry. Call AddExchange for every configured
// exchange id before starting the exchanges.
func New(bus *events.Manager, log zerolog.Logger) *Registry {
	return &Registry{
		Mapper:    mapper.New(),
		Bus:       bus,
		Log:       log,
		exchanges: make(map[string]*exchange.Exchange),
	}
}

// AddExchange constructs and registers one exchange, wiring its Courier
// to this Registry's cross-exchange deposit resolver.
func (r *Registry) AddExchange(id string, factory sdkiface.Factory) *exchange.Exchange {
	e := exchange.New(id, factory, r, r.Bus, r.Log)
	r.exchanges[id] = e
	return e
}

// Exchange returns the named exchange, or (nil, false) if it isn't
// registered.
func (r *Registry) Exchange(id string) (*exchange.Exchange, bool) {
	e, ok := r.exchanges[id]
	return e, ok
}

// Exchanges returns every registered exchange, in no particular order.
func (r *Registry) Exchanges() []*exchange.Exchange {
	out := make([]*exchange.Exchange, 0, len(r.exchanges))
	for _, e := range r.exchanges {
		out = append(out, e)
	}
	return out
}

// DepositAddress implements courier.DepositResolver: coinAddress is the
// on-chain identity the departure side already resolved from its own
// catalog (coin.Coin.Address()); Mapper.CoinByAddress turns that back
// into destinationExchange's own name/chain for the same coin, and the
// destination Exchange is asked for its live deposit address on that
// chain.
func (r *Registry) DepositAddress(ctx context.Context, destinationExchange, coinAddress string) (sdkiface.DepositAddress, error) {
	dest, ok := r.exchanges[destinationExchange]
	if !ok {
		return sdkiface.DepositAddress{}, fmt.Errorf("registry: unknown destination exchange %q", destinationExchange)
	}
	c, ok := r.Mapper.CoinByAddress(destinationExchange, coinAddress)
	if !ok {
		return sdkiface.DepositAddress{}, fmt.Errorf("registry: %q does not report coin address %q", destinationExchange, coinAddress)
	}
	return dest.GetDepositAddress(ctx, c.Name(), c.Chain())
}

// RefreshCatalogs fetches every exchange's catalog and regenerates the
// mapper's id/transfer table. It is meant to run once at cycle start and
// again on the catalog-resync schedule.
func (r *Registry) RefreshCatalogs(ctx context.Context) error {
	defer utils.OperationTimer("refresh_catalogs", r.Log)()

	catalogs := make(map[string]mapper.Catalog, len(r.exchanges))
	for id, e := range r.exchanges {
		catalog, err := e.FetchCatalog(ctx)
		if err != nil {
			return fmt.Errorf("registry: refresh catalog for %q: %w", id, err)
		}
		catalogs[id] = catalog
	}
	r.Mapper.GenerateData(catalogs)
	return nil
}

// WireAll builds the coin-dependent components (BalanceObserver,
// PriceObserver, Trader) for every registered exchange, once the mapper
// has assigned ids. The USDT id passed to every exchange is the
// process-wide one (0 if none of the catalogs exposed it).
func (r *Registry) WireAll() {
	usdtID, _ := r.Mapper.USDT()
	for id, e := range r.exchanges {
		coins := make(map[string]int64)
		for _, coinID := range r.Mapper.AnalyzedCoins() {
			if name, ok := r.Mapper.CoinName(id, coinID); ok {
				coins[name] = coinID
			}
		}
		e.WireCoins(r.Mapper, coins, usdtID, r.Bus)
	}
}
