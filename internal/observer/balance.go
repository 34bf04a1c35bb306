// Package observer implements the streaming balance and price watchers.
// Both loop on the upstream stream, diffing and broadcasting;
// BalanceObserver first seeds its wallet from a one-shot snapshot, and
// wallet writes are serialized by the wallet's own lock.
// Subscribers are held as an identity-keyed set implementing a small
// capability interface rather than a duck-typed callback, so membership
// is exact and Unsubscribe on an unknown subscriber is always a safe
// no-op.
package observer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nullstate/arb/internal/connection"
	"github.com/nullstate/arb/internal/events"
	"github.com/nullstate/arb/internal/sdkiface"
	"github.com/nullstate/arb/internal/wallet"
)

// BalanceSubscriber receives coin-level wallet deltas.
type BalanceSubscriber interface {
	OnBalanceUpdate(exchange string, coinID int64, amount float64)
}

// CoinIndex resolves an exchange-local coin ticker to its process-wide
// coin id. The mapper is the sole implementation in production; tests
// supply a stub.
type CoinIndex interface {
	CoinID(exchange, name string) (int64, bool)
}

// restartLimitExceeded marks an observer run that exhausted its own
// retriable recovery paths and must be restarted by the Supervisor rather
// than retried in place.
type restartLimitExceeded struct{ cause error }

func (e *restartLimitExceeded) Error() string { return "observer: restart required: " + e.cause.Error() }
func (e *restartLimitExceeded) Unwrap() error { return e.cause }

// IsRestartLimitExceeded reports whether err signals that the Supervisor
// should recreate the observer rather than let it keep looping.
func IsRestartLimitExceeded(err error) bool {
	_, ok := err.(*restartLimitExceeded)
	return ok
}

// BalanceObserver streams one exchange's balances and fans out
// significant deltas to subscribers.
type BalanceObserver struct {
	exchangeID string
	conn       *connection.Connection
	wallet     *wallet.Wallet
	coins      CoinIndex
	bus        *events.Manager
	log        zerolog.Logger

	mu   sync.Mutex
	subs map[BalanceSubscriber]struct{}
}

// NewBalanceObserver constructs an observer bound to one exchange's
// connection and wallet.
func NewBalanceObserver(exchangeID string, conn *connection.Connection, w *wallet.Wallet, coins CoinIndex, bus *events.Manager, log zerolog.Logger) *BalanceObserver {
	return &BalanceObserver{
		exchangeID: exchangeID,
		conn:       conn,
		wallet:     w,
		coins:      coins,
		bus:        bus,
		log:        log.With().Str("exchange", exchangeID).Str("observer", "balance").Logger(),
		subs:       make(map[BalanceSubscriber]struct{}),
	}
}

// Subscribe registers sub. Subscribing the same subscriber twice leaves a
// single subscription.
func (o *BalanceObserver) Subscribe(sub BalanceSubscriber) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs[sub] = struct{}{}
}

// Unsubscribe removes sub. Unsubscribing an unknown subscriber is a no-op.
func (o *BalanceObserver) Unsubscribe(sub BalanceSubscriber) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.subs, sub)
}

// GetBalance returns a snapshot of the current wallet.
func (o *BalanceObserver) GetBalance() map[int64]float64 {
	return o.wallet.Snapshot()
}

// Launch runs the observer until ctx is cancelled or a non-recoverable
// error is hit. It blocks; callers run it in its own goroutine, typically
// supervised.
func (o *BalanceObserver) Launch(ctx context.Context) error {
	if !o.conn.WaitReady(ctx) {
		return ctx.Err()
	}
	if err := o.prepare(ctx); err != nil {
		return err
	}
	return o.streamLoop(ctx)
}

func (o *BalanceObserver) prepare(ctx context.Context) error {
	sess, ok := o.conn.Acquire()
	if !ok {
		return nil
	}
	balances, err := sess.FetchBalance(ctx)
	if err != nil {
		o.conn.ReportError(ctx, err)
		return nil
	}
	o.applyBalances(balances)
	return nil
}

func (o *BalanceObserver) streamLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sess, ok := o.conn.Acquire()
		if !ok {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		balances, err := sess.WatchBalance(ctx)
		if err != nil {
			exit, sleep := o.recover(ctx, err)
			if exit != nil {
				return exit
			}
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		o.applyBalances(balances)
	}
}

// recover classifies a stream error per the component's recovery table.
// A non-nil returned error means the loop must exit; sleep is only
// meaningful when the returned error is nil.
func (o *BalanceObserver) recover(ctx context.Context, err error) (exitErr error, sleep time.Duration) {
	kind := sdkiface.KindOf(err)
	switch kind {
	case sdkiface.KindCancelled:
		return err, 0
	case sdkiface.KindUnsupported, sdkiface.KindPermission:
		return &restartLimitExceeded{cause: err}, 0
	case sdkiface.KindRateLimitExceeded:
		return nil, 60 * time.Second
	case sdkiface.KindNetwork, sdkiface.KindRequestTimeout:
		o.conn.ReportError(ctx, err)
		return nil, 10 * time.Second
	case sdkiface.KindInvalidNonce:
		return nil, 10 * time.Second
	default:
		o.log.Warn().Err(err).Msg("balance stream error, retrying")
		return nil, 5 * time.Second
	}
}

func (o *BalanceObserver) applyBalances(balances map[string]float64) {
	for name, amount := range balances {
		coinID, ok := o.coins.CoinID(o.exchangeID, name)
		if !ok {
			continue
		}
		if o.wallet.Set(coinID, amount) {
			o.broadcast(coinID, amount)
		}
	}
}

func (o *BalanceObserver) broadcast(coinID int64, amount float64) {
	if o.bus != nil {
		o.bus.Emit(events.BalanceUpdated, o.exchangeID, &events.BalanceUpdatedData{
			Exchange: o.exchangeID, CoinID: coinID, Amount: amount,
		})
	}

	o.mu.Lock()
	targets := make([]BalanceSubscriber, 0, len(o.subs))
	for sub := range o.subs {
		targets = append(targets, sub)
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, sub := range targets {
		wg.Add(1)
		go func(s BalanceSubscriber) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.log.Error().Interface("panic", r).Msg("balance subscriber panicked")
				}
			}()
			s.OnBalanceUpdate(o.exchangeID, coinID, amount)
		}(sub)
	}
	wg.Wait()
}
