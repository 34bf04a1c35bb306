package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstate/arb/internal/analyst"
	"github.com/nullstate/arb/internal/brain"
	"github.com/nullstate/arb/internal/coin"
	"github.com/nullstate/arb/internal/mapper"
)

type stubDealSource struct {
	best    analyst.Deal
	haveBest bool
	all     analyst.Deal
	haveAll bool
}

func (s *stubDealSource) GetBestDeal() (analyst.Deal, bool) { return s.best, s.haveBest }
func (s *stubDealSource) GetAllBenefits(currentExchange string, coinID int64) (analyst.Deal, bool) {
	return s.all, s.haveAll
}

type recordingTrader struct {
	mu        sync.Mutex
	buyCalls  []int64
	sellCalls []int64
}

func (t *recordingTrader) Buy(ctx context.Context, baseCoin int64, usdtQuantity float64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buyCalls = append(t.buyCalls, baseCoin)
	return true, nil
}
func (t *recordingTrader) Sell(ctx context.Context, baseCoin int64, amount float64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sellCalls = append(t.sellCalls, baseCoin)
	return true, nil
}

type stubCourier struct {
	result int32 // 1 = success, 0 = failure
	calls  int32
}

func (c *stubCourier) Withdraw(ctx context.Context, coinVariant coin.Coin, amount float64, destinationExchange string) bool {
	atomic.AddInt32(&c.calls, 1)
	return atomic.LoadInt32(&c.result) == 1
}

func seededMapper(t *testing.T) *mapper.Mapper {
	t.Helper()
	m := mapper.New()
	m.GenerateData(map[string]mapper.Catalog{
		"binance": {
			"USDT": {coin.New("addrUSDT", "USDT", "TRC20", 1.0, 0)},
			"BTC":  {coin.New("addrBTC", "BTC", "BTC", 0.0005, 0)},
		},
		"okx": {
			"USDT": {coin.New("addrUSDT", "USDT", "TRC20", 0.5, 0)},
			"BTC":  {coin.New("addrBTC", "BTC", "BTC", 0.0004, 0)},
		},
	})
	return m
}

func TestManager_AnalyzedCoinTransferDispatchesToCourier(t *testing.T) {
	m := seededMapper(t)
	btcID, _ := m.CoinID("binance", "BTC")

	deals := &stubDealSource{all: analyst.Deal{CoinID: btcID, Departure: "binance", Destination: "okx", Benefit: 1.0}, haveAll: true}
	b := brain.New(deals, m, 0.0, zerolog.Nop())
	trader := &recordingTrader{}
	courier := &stubCourier{result: 1}
	mgr := New("binance", m, b, trader, courier, nil, zerolog.Nop())
	defer mgr.Stop()

	mgr.OnBalanceUpdate("binance", btcID, 10)

	assert.Equal(t, int32(1), atomic.LoadInt32(&courier.calls))
	assert.Empty(t, trader.sellCalls, "a successful transfer must not fall back to selling")
}

func TestManager_FailedTransferFallsBackToSell(t *testing.T) {
	m := seededMapper(t)
	btcID, _ := m.CoinID("binance", "BTC")

	deals := &stubDealSource{all: analyst.Deal{CoinID: btcID, Departure: "binance", Destination: "okx", Benefit: 1.0}, haveAll: true}
	b := brain.New(deals, m, 0.0, zerolog.Nop())
	trader := &recordingTrader{}
	courier := &stubCourier{result: 0}
	mgr := New("binance", m, b, trader, courier, nil, zerolog.Nop())
	defer mgr.Stop()

	mgr.OnBalanceUpdate("binance", btcID, 10)

	assert.Equal(t, int32(1), atomic.LoadInt32(&courier.calls))
	require.Len(t, trader.sellCalls, 1)
	assert.Equal(t, btcID, trader.sellCalls[0])
}

func TestManager_PendingUpdateCollapsesIntoLastAmount(t *testing.T) {
	m := seededMapper(t)
	usdtID, _ := m.USDT()

	b := brain.New(&stubDealSource{}, m, 0.0, zerolog.Nop()) // no best deal -> always Wait
	trader := &recordingTrader{}
	courier := &stubCourier{}
	mgr := New("binance", m, b, trader, courier, nil, zerolog.Nop())
	defer mgr.Stop()

	mgr.OnBalanceUpdate("binance", usdtID, 100)
	mgr.OnBalanceUpdate("binance", usdtID, 200)
	mgr.OnBalanceUpdate("binance", usdtID, 300)

	mgr.locksMu.Lock()
	amount := mgr.pending[usdtID]
	mgr.locksMu.Unlock()
	assert.Equal(t, 300.0, amount, "multiple updates while waiting must collapse to the last amount seen")
}

func TestManager_TradeDispatchesBuyWhenSellingUSDT(t *testing.T) {
	m := seededMapper(t)
	usdtID, _ := m.USDT()
	btcID, _ := m.CoinID("binance", "BTC")

	deal := analyst.Deal{CoinID: btcID, Departure: "binance", Destination: "okx", Benefit: 0.1}
	b := brain.New(&stubDealSource{best: deal, haveBest: true}, m, 0.0, zerolog.Nop())
	trader := &recordingTrader{}
	mgr := New("okx", m, b, trader, &stubCourier{}, nil, zerolog.Nop())
	defer mgr.Stop()

	mgr.OnBalanceUpdate("okx", usdtID, 1000)

	require.Len(t, trader.buyCalls, 1)
	assert.Equal(t, btcID, trader.buyCalls[0])
}

func TestManager_ScheduleConsultPopsPendingAndReconsults(t *testing.T) {
	m := seededMapper(t)
	usdtID, _ := m.USDT()
	btcID, _ := m.CoinID("binance", "BTC")

	deal := analyst.Deal{CoinID: btcID, Departure: "binance", Destination: "okx", Benefit: 0.1}
	deals := &stubDealSource{best: deal, haveBest: true}
	b := brain.New(deals, m, 0.0, zerolog.Nop())
	trader := &recordingTrader{}
	mgr := New("okx", m, b, trader, &stubCourier{}, nil, zerolog.Nop())
	defer mgr.Stop()

	// Simulate "a Wait already fired and left coinID pending"; scheduleConsult
	// is what a Wait decision starts; it re-consults once the delay elapses.
	mgr.pending[usdtID] = 1000

	done := make(chan struct{})
	go func() {
		mgr.scheduleConsult(usdtID, 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduleConsult did not return")
	}

	require.Len(t, trader.buyCalls, 1, "the re-run consultation must act on the last pending amount")
	mgr.locksMu.Lock()
	_, stillPending := mgr.pending[usdtID]
	mgr.locksMu.Unlock()
	assert.False(t, stillPending)
}
