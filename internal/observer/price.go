package observer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nullstate/arb/internal/connection"
	"github.com/nullstate/arb/internal/events"
	"github.com/nullstate/arb/internal/sdkiface"
)

// PriceSubscriber receives per-coin price ticks.
type PriceSubscriber interface {
	OnPriceUpdate(exchange string, coinID int64, price float64)
}

// DefaultChunkSize is the symbol-subscription batch size used for
// exchanges that don't need a smaller one. A couple of venues in
// practice cannot watch more than a handful of tickers per stream and
// need a smaller override (see PriceObserver.ChunkSize).
const DefaultChunkSize = 45

// PriceObserver streams ticker prices for a configured coin set and fans
// out per-coin updates to subscribers.
type PriceObserver struct {
	exchangeID string
	conn       *connection.Connection
	coins      CoinIndex
	symbols    []symbolCoin
	ChunkSize  int
	bus        *events.Manager
	log        zerolog.Logger

	mu   sync.Mutex
	subs map[PriceSubscriber]struct{}
}

type symbolCoin struct {
	symbol string
	coinID int64
}

// NewPriceObserver builds a PriceObserver watching {name}/USDT for every
// (name, coinID) pair in coinNames, skipping USDT itself.
func NewPriceObserver(exchangeID string, conn *connection.Connection, coins CoinIndex, coinNames map[string]int64, bus *events.Manager, log zerolog.Logger) *PriceObserver {
	symbols := make([]symbolCoin, 0, len(coinNames))
	for name, id := range coinNames {
		if name == "USDT" {
			continue
		}
		symbols = append(symbols, symbolCoin{symbol: fmt.Sprintf("%s/USDT", name), coinID: id})
	}
	return &PriceObserver{
		exchangeID: exchangeID,
		conn:       conn,
		coins:      coins,
		symbols:    symbols,
		ChunkSize:  DefaultChunkSize,
		bus:        bus,
		log:        log.With().Str("exchange", exchangeID).Str("observer", "price").Logger(),
		subs:       make(map[PriceSubscriber]struct{}),
	}
}

// Subscribe registers sub, idempotently.
func (o *PriceObserver) Subscribe(sub PriceSubscriber) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs[sub] = struct{}{}
}

// Unsubscribe removes sub; a no-op if sub was never subscribed.
func (o *PriceObserver) Unsubscribe(sub PriceSubscriber) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.subs, sub)
}

// Launch runs every chunked ticker watcher until ctx is cancelled or one
// chunk hits a non-recoverable error.
func (o *PriceObserver) Launch(ctx context.Context) error {
	if !o.conn.WaitReady(ctx) {
		return ctx.Err()
	}
	if len(o.symbols) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	chunkSize := o.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	chunkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	var wg sync.WaitGroup
	for start := 0; start < len(o.symbols); start += chunkSize {
		end := start + chunkSize
		if end > len(o.symbols) {
			end = len(o.symbols)
		}
		chunk := o.symbols[start:end]
		wg.Add(1)
		go func(chunk []symbolCoin) {
			defer wg.Done()
			if err := o.watchChunk(chunkCtx, chunk); err != nil && chunkCtx.Err() == nil {
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}(chunk)
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (o *PriceObserver) watchChunk(ctx context.Context, chunk []symbolCoin) error {
	bySymbol := make(map[string]int64, len(chunk))
	symbols := make([]string, 0, len(chunk))
	for _, sc := range chunk {
		bySymbol[sc.symbol] = sc.coinID
		symbols = append(symbols, sc.symbol)
	}

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

		tickers, err := sess.WatchTickers(ctx, symbols)
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

		for symbol, ticker := range tickers {
			coinID, ok := bySymbol[symbol]
			if !ok {
				continue
			}
			price, usable := ticker.Price()
			if !usable {
				o.log.Warn().Str("symbol", symbol).Msg("ticker has no usable price field")
				continue
			}
			o.broadcast(coinID, price)
		}
	}
}

// recover mirrors BalanceObserver's policy except bad-symbol never exits.
func (o *PriceObserver) recover(ctx context.Context, err error) (exitErr error, sleep time.Duration) {
	kind := sdkiface.KindOf(err)
	switch kind {
	case sdkiface.KindCancelled:
		return err, 0
	case sdkiface.KindUnsupported, sdkiface.KindPermission:
		return &restartLimitExceeded{cause: err}, 0
	case sdkiface.KindBadSymbol:
		return nil, 5 * time.Second
	case sdkiface.KindRateLimitExceeded:
		return nil, 60 * time.Second
	case sdkiface.KindNetwork, sdkiface.KindRequestTimeout:
		o.conn.ReportError(ctx, err)
		return nil, 10 * time.Second
	case sdkiface.KindInvalidNonce:
		return nil, 10 * time.Second
	default:
		o.log.Warn().Err(err).Msg("price stream error, retrying")
		return nil, 5 * time.Second
	}
}

func (o *PriceObserver) broadcast(coinID int64, price float64) {
	if o.bus != nil {
		o.bus.Emit(events.PriceUpdated, o.exchangeID, &events.PriceUpdatedData{
			Exchange: o.exchangeID, CoinID: coinID, Price: price,
		})
	}

	o.mu.Lock()
	targets := make([]PriceSubscriber, 0, len(o.subs))
	for sub := range o.subs {
		targets = append(targets, sub)
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, sub := range targets {
		wg.Add(1)
		go func(s PriceSubscriber) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.log.Error().Interface("panic", r).Msg("price subscriber panicked")
				}
			}()
			s.OnPriceUpdate(o.exchangeID, coinID, price)
		}(sub)
	}
	wg.Wait()
}
