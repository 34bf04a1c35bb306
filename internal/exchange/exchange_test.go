package exchange

import (
	"context"
	"testing"
	"time"

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

func readyExchange(t *testing.T, sess *stubSession) *Exchange {
	t.Helper()
	factory := func(ctx context.Context) (sdkiface.Session, error) { return sess, nil }
	e := New("binance", factory, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	e.Start(ctx)
	require.True(t, e.Conn.WaitReady(ctx))
	t.Cleanup(e.Stop)
	return e
}

func TestExchange_FetchCatalogAdaptsCurrencies(t *testing.T) {
	sess := &stubSession{
		currencies: map[string][]sdkiface.CurrencyVariant{
			"USDT": {{Address: "addrUSDT", Name: "USDT", Chain: "TRC20", Fee: 1.0}},
			"BTC":  {{Address: "addrBTC", Name: "BTC", Chain: "BTC", Fee: 0.0005}},
		},
	}
	e := readyExchange(t, sess)

	catalog, err := e.FetchCatalog(context.Background())
	require.NoError(t, err)
	require.Contains(t, catalog, "USDT")
	require.Len(t, catalog["USDT"], 1)
	assert.Equal(t, "addrUSDT", catalog["USDT"][0].Address())
	assert.Equal(t, 0.0005, catalog["BTC"][0].Fee())
}

func TestExchange_FetchCatalogFailsWhenNotConnected(t *testing.T) {
	factory := func(ctx context.Context) (sdkiface.Session, error) { return nil, context.DeadlineExceeded }
	e := New("binance", factory, nil, events.NewManager(events.NewBus(), zerolog.Nop()), zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	_, err := e.FetchCatalog(ctx)
	assert.Error(t, err)
}

func TestExchange_GetDepositAddressDelegatesToCourier(t *testing.T) {
	sess := &stubSession{deposit: sdkiface.DepositAddress{Address: "0xdest", Tag: "memo"}}
	e := readyExchange(t, sess)

	addr, err := e.GetDepositAddress(context.Background(), "USDT", "TRC20")
	require.NoError(t, err)
	assert.Equal(t, "0xdest", addr.Address)
	assert.Equal(t, "memo", addr.Tag)
}
