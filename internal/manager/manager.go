// Package manager is the per-exchange BalanceObserver subscriber that
// drives Brain and, through it, Trader and Courier. It is grounded on
// the source's Execution/Manager: a pending-coin debounce map collapses
// balance updates that arrive while a Wait is outstanding, and Brain's
// recommendation is translated into exactly one Trade, Transfer, or
// rescheduled consultation.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nullstate/arb/internal/brain"
	"github.com/nullstate/arb/internal/coin"
	"github.com/nullstate/arb/internal/events"
	"github.com/nullstate/arb/internal/mapper"
)

// Trader is the subset of trader.Trader Manager drives.
type Trader interface {
	Buy(ctx context.Context, baseCoin int64, usdtQuantity float64) (bool, error)
	Sell(ctx context.Context, baseCoin int64, amount float64) (bool, error)
}

// Courier is the subset of courier.Courier Manager drives.
type Courier interface {
	Withdraw(ctx context.Context, coinVariant coin.Coin, amount float64, destinationExchange string) bool
}

// Manager subscribes to one exchange's BalanceObserver and dispatches
// Brain's recommendation to Trader or Courier.
type Manager struct {
	exchangeID string
	mapper     *mapper.Mapper
	brain      *brain.Brain
	trader     Trader
	courier    Courier
	bus        *events.Manager
	log        zerolog.Logger

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
	pending map[int64]float64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Manager bound to one exchange.
func New(exchangeID string, m *mapper.Mapper, b *brain.Brain, trader Trader, courier Courier, bus *events.Manager, log zerolog.Logger) *Manager {
	return &Manager{
		exchangeID: exchangeID,
		mapper:     m,
		brain:      b,
		trader:     trader,
		courier:    courier,
		bus:        bus,
		log:        log.With().Str("exchange", exchangeID).Str("component", "manager").Logger(),
		locks:      make(map[int64]*sync.Mutex),
		pending:    make(map[int64]float64),
		stopCh:     make(chan struct{}),
	}
}

// Stop cancels every outstanding postponed consultation. It is idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) coinLock(coinID int64) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.locks[coinID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[coinID] = lock
	}
	return lock
}

// OnBalanceUpdate implements observer.BalanceSubscriber. If coinID
// already has a pending Wait outstanding, the new amount simply
// overwrites the stored one; otherwise Brain is consulted immediately.
func (m *Manager) OnBalanceUpdate(exchange string, coinID int64, amount float64) {
	lock := m.coinLock(coinID)
	lock.Lock()
	defer lock.Unlock()

	if _, waiting := m.pending[coinID]; waiting {
		m.pending[coinID] = amount
		return
	}
	m.actLocked(context.Background(), coinID, amount)
}

// actLocked requires coinID's lock to already be held. It consults Brain
// and dispatches exactly one of Wait/Trade/Transfer.
func (m *Manager) actLocked(ctx context.Context, coinID int64, amount float64) {
	action := m.brain.Analyse(m.exchangeID, coinID, amount)

	switch {
	case action.Wait != nil:
		m.pending[coinID] = amount
		seconds := action.Wait.Seconds
		if m.bus != nil {
			m.bus.Emit(events.WaitScheduled, m.exchangeID, &events.WaitScheduledData{
				Exchange: m.exchangeID, CoinID: coinID, Seconds: seconds,
			})
		}
		go m.scheduleConsult(coinID, seconds)
	case action.Trade != nil:
		m.executeTrade(ctx, action.Trade)
	case action.Transfer != nil:
		m.executeTransfer(ctx, action.Transfer, amount)
	}
}

// scheduleConsult fires after seconds, atomically pops the latest pending
// amount for coinID (if any — it may have been cleared by a Trade/Transfer
// that raced it) and re-runs consultation with it.
func (m *Manager) scheduleConsult(coinID int64, seconds float64) {
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-m.stopCh:
		return
	}

	lock := m.coinLock(coinID)
	lock.Lock()
	defer lock.Unlock()

	amount, ok := m.pending[coinID]
	if !ok {
		return
	}
	delete(m.pending, coinID)
	m.actLocked(context.Background(), coinID, amount)
}

func (m *Manager) executeTrade(ctx context.Context, trade *brain.Trade) {
	usdtID, _ := m.mapper.USDT()
	var err error
	if trade.SellCoin == usdtID {
		_, err = m.trader.Buy(ctx, trade.BuyCoin, 0)
	} else {
		_, err = m.trader.Sell(ctx, trade.SellCoin, 0)
	}
	if err != nil {
		m.log.Warn().Err(err).Int64("sell_coin", trade.SellCoin).Int64("buy_coin", trade.BuyCoin).Msg("trade failed")
		return
	}
	if m.bus != nil {
		m.bus.Emit(events.TradeExecuted, m.exchangeID, &events.TradeExecutedData{
			Exchange: m.exchangeID, BuyCoin: trade.BuyCoin, SellCoin: trade.SellCoin,
		})
	}
}

func (m *Manager) executeTransfer(ctx context.Context, transfer *brain.Transfer, amount float64) {
	ok := false
	if transfer.Departure != m.exchangeID {
		m.log.Error().Str("departure", transfer.Departure).Msg("transfer recommended departure does not match this exchange")
	} else if variant, found := m.mapper.GetBestCoinTransfer(m.exchangeID, transfer.Destination, transfer.CoinID); found {
		ok = m.courier.Withdraw(ctx, variant, amount, transfer.Destination)
	} else {
		m.log.Error().Int64("coin_id", transfer.CoinID).Str("destination", transfer.Destination).Msg("no transfer route available")
	}

	if ok {
		if m.bus != nil {
			m.bus.Emit(events.TransferExecuted, m.exchangeID, &events.TransferExecutedData{
				CoinID: transfer.CoinID, Departure: transfer.Departure, Destination: transfer.Destination, Amount: amount,
			})
		}
		return
	}

	// Transfer failed or was misrouted: fall back to selling locally.
	if _, err := m.trader.Sell(ctx, transfer.CoinID, amount); err != nil {
		m.log.Warn().Err(err).Int64("coin_id", transfer.CoinID).Msg("fallback sell after failed transfer also failed")
	}
}
