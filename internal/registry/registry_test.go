package registry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstate/arb/internal/events"
	"github.com/nullstate/arb/internal/sdkiface"
)

type stubSession struct {
	currencies map[string][]sdkiface.CurrencyVariant
	deposit    sdkiface.DepositAddress
}

func (s *stubSession) LoadMarkets(ctx context.Context) (map[string]sdkiface.Market, error) {
	return map[string]sdkiface.Market{}, nil
}
func (s *stubSession) FetchBalance(ctx context.Context) (map[string]float64, error) { return nil, nil }
func (s *stubSession) WatchBalance(ctx context.Context) (map[string]float64, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (s *stubSession) WatchTickers(ctx context.Context, symbols []string) (map[string]sdkiface.Ticker, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (s *stubSession) WatchTicker(ctx context.Context, symbol string) (sdkiface.Ticker, error) {
	<-ctx.Done()
	return sdkiface.Ticker{}, ctx.Err()
}
func (s *stubSession) CreateOrder(ctx context.Context, symbol string, side sdkiface.OrderSide, amount float64) error {
	return nil
}
func (s *stubSession) Withdraw(ctx context.Context, name string, amount float64, address, tag, network string) error {
	return nil
}
func (s *stubSession) FetchDepositAddress(ctx context.Context, name, network string) (sdkiface.DepositAddress, error) {
	return s.deposit, nil
}
func (s *stubSession) FetchCurrencies(ctx context.Context) (map[string][]sdkiface.CurrencyVariant, error) {
	return s.currencies, nil
}
func (s *stubSession) FetchMarkets(ctx context.Context) (map[string]sdkiface.Market, error) {
	return map[string]sdkiface.Market{}, nil
}
func (s *stubSession) Close() error { return nil }

func readyRegistry(t *testing.T) (*Registry, map[string]*stubSession) {
	t.Helper()

	binance := &stubSession{
		currencies: map[string][]sdkiface.CurrencyVariant{
			"USDT": {{Address: "addrUSDT", Name: "USDT", Chain: "TRC20", Fee: 1.0}},
			"LTC":  {{Address: "addrLTC", Name: "LTC", Chain: "LTC", Fee: 0.001}},
		},
		deposit: sdkiface.DepositAddress{Address: "binance-wallet-ltc", Tag: ""},
	}
	kraken := &stubSession{
		currencies: map[string][]sdkiface.CurrencyVariant{
			"USDT": {{Address: "addrUSDT", Name: "USDT", Chain: "TRC20", Fee: 1.0}},
			"XLTC": {{Address: "addrLTC", Name: "XLTC", Chain: "LTC", Fee: 0.0005}},
		},
		deposit: sdkiface.DepositAddress{Address: "kraken-wallet-ltc", Tag: "memo-1"},
	}

	bus := events.NewManager(events.NewBus(), zerolog.Nop())
	r := New(bus, zerolog.Nop())
	r.AddExchange("binance", func(ctx context.Context) (sdkiface.Session, error) { return binance, nil })
	r.AddExchange("kraken", func(ctx context.Context) (sdkiface.Session, error) { return kraken, nil })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	for _, e := range r.Exchanges() {
		e.Start(ctx)
		require.True(t, e.Conn.WaitReady(ctx))
		t.Cleanup(e.Stop)
	}

	require.NoError(t, r.RefreshCatalogs(ctx))
	r.WireAll()

	return r, map[string]*stubSession{"binance": binance, "kraken": kraken}
}

func TestRegistry_RefreshCatalogsAssignsSharedCoinIDs(t *testing.T) {
	r, _ := readyRegistry(t)

	ltcID, ok := r.Mapper.CoinID("binance", "LTC")
	require.True(t, ok)
	krakenLTCID, ok := r.Mapper.CoinID("kraken", "XLTC")
	require.True(t, ok)
	assert.Equal(t, ltcID, krakenLTCID, "same on-chain address must resolve to the same process-wide id")
	assert.True(t, r.Mapper.IsAnalyzed(ltcID))
}

func TestRegistry_WireAllBuildsCoinDependentComponents(t *testing.T) {
	r, _ := readyRegistry(t)

	binance, ok := r.Exchange("binance")
	require.True(t, ok)
	assert.NotNil(t, binance.Balances)
	assert.NotNil(t, binance.Prices)
	assert.NotNil(t, binance.Trader)
}

func TestRegistry_DepositAddressResolvesCrossExchange(t *testing.T) {
	r, _ := readyRegistry(t)

	dest, err := r.DepositAddress(context.Background(), "kraken", "addrLTC")
	require.NoError(t, err)
	assert.Equal(t, "kraken-wallet-ltc", dest.Address)
	assert.Equal(t, "memo-1", dest.Tag)
}

func TestRegistry_DepositAddressFailsForUnknownExchange(t *testing.T) {
	r, _ := readyRegistry(t)

	_, err := r.DepositAddress(context.Background(), "coinbase", "addrLTC")
	assert.Error(t, err)
}

func TestRegistry_DepositAddressFailsForUnreportedCoin(t *testing.T) {
	r, _ := readyRegistry(t)

	_, err := r.DepositAddress(context.Background(), "kraken", "addr-nonexistent")
	assert.Error(t, err)
}
