package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstate/arb/internal/sdkiface"
)

type fakeSession struct {
	closed bool
}

func (f *fakeSession) LoadMarkets(ctx context.Context) (map[string]sdkiface.Market, error) {
	return map[string]sdkiface.Market{}, nil
}
func (f *fakeSession) FetchBalance(ctx context.Context) (map[string]float64, error) { return nil, nil }
func (f *fakeSession) WatchBalance(ctx context.Context) (map[string]float64, error) { return nil, nil }
func (f *fakeSession) WatchTickers(ctx context.Context, symbols []string) (map[string]sdkiface.Ticker, error) {
	return nil, nil
}
func (f *fakeSession) WatchTicker(ctx context.Context, symbol string) (sdkiface.Ticker, error) {
	return sdkiface.Ticker{}, nil
}
func (f *fakeSession) CreateOrder(ctx context.Context, symbol string, side sdkiface.OrderSide, amount float64) error {
	return nil
}
func (f *fakeSession) Withdraw(ctx context.Context, name string, amount float64, address, tag, network string) error {
	return nil
}
func (f *fakeSession) FetchDepositAddress(ctx context.Context, name, network string) (sdkiface.DepositAddress, error) {
	return sdkiface.DepositAddress{}, nil
}
func (f *fakeSession) FetchCurrencies(ctx context.Context) (map[string][]sdkiface.CurrencyVariant, error) {
	return nil, nil
}
func (f *fakeSession) FetchMarkets(ctx context.Context) (map[string]sdkiface.Market, error) {
	return nil, nil
}
func (f *fakeSession) Close() error { f.closed = true; return nil }

func TestConnection_ConnectsAndReachesReady(t *testing.T) {
	factory := func(ctx context.Context) (sdkiface.Session, error) { return &fakeSession{}, nil }
	c := New("test", factory, nil, zerolog.Nop())
	c.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.True(t, c.WaitReady(ctx))
	assert.Equal(t, Connected, c.State())

	sess, ok := c.Acquire()
	require.True(t, ok)
	assert.NotNil(t, sess)

	c.Stop()
}

func TestConnection_AuthErrorDisables(t *testing.T) {
	factory := func(ctx context.Context) (sdkiface.Session, error) {
		return nil, &sdkiface.Error{Kind: sdkiface.KindAuthentication, Message: "bad key", Err: errors.New("401")}
	}
	c := New("test", factory, nil, zerolog.Nop())
	c.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.False(t, c.WaitReady(ctx))
	assert.Equal(t, Disabled, c.State())
}

func TestConnection_StopIsIdempotent(t *testing.T) {
	factory := func(ctx context.Context) (sdkiface.Session, error) { return &fakeSession{}, nil }
	c := New("test", factory, nil, zerolog.Nop())
	c.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.True(t, c.WaitReady(ctx))

	assert.NotPanics(t, func() {
		c.Stop()
		c.Stop()
	})
}

func TestConnection_ReportErrorReconnects(t *testing.T) {
	attempts := 0
	factory := func(ctx context.Context) (sdkiface.Session, error) {
		attempts++
		return &fakeSession{}, nil
	}
	c := New("test", factory, nil, zerolog.Nop())
	c.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.True(t, c.WaitReady(ctx))

	c.ReportError(ctx, &sdkiface.Error{Kind: sdkiface.KindNetwork, Message: "reset"})

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	require.True(t, c.WaitReady(ctx2))
	assert.Equal(t, Connected, c.State())
	c.Stop()
}
