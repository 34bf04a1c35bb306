// Package sanity guards the analyst against bad ticks: a price more than
// a configured multiple away from its coin's EMA is dropped rather than
// fed into the benefit calculation. It sits between PriceObserver's
// broadcast and Analyst.OnPriceUpdate, implementing the same
// PriceSubscriber interface on both sides so it is a drop-in tap.
package sanity

import (
	"sync"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/nullstate/arb/internal/observer"
)

// Config tunes the filter.
type Config struct {
	Warmup   int     // minimum samples before rejection activates
	Multiple float64 // reject ticks further than this multiple of the EMA away from it
}

// Filter wraps a downstream PriceSubscriber, forwarding only ticks that
// pass the spike check.
type Filter struct {
	downstream observer.PriceSubscriber
	cfg        Config
	log        zerolog.Logger

	mu      sync.Mutex
	history map[key][]float64
}

type key struct {
	exchange string
	coinID   int64
}

// New constructs a Filter forwarding accepted ticks to downstream.
func New(downstream observer.PriceSubscriber, cfg Config, log zerolog.Logger) *Filter {
	if cfg.Warmup <= 0 {
		cfg.Warmup = 8
	}
	if cfg.Multiple <= 0 {
		cfg.Multiple = 0.2
	}
	return &Filter{
		downstream: downstream,
		cfg:        cfg,
		log:        log.With().Str("component", "price_sanity_filter").Logger(),
		history:    make(map[key][]float64),
	}
}

// OnPriceUpdate implements observer.PriceSubscriber. Every tick is
// recorded regardless of outcome, so a coin's EMA keeps tracking reality
// even while ticks are being rejected.
func (f *Filter) OnPriceUpdate(exchange string, coinID int64, price float64) {
	k := key{exchange, coinID}

	f.mu.Lock()
	hist := append(f.history[k], price)
	maxLen := f.cfg.Warmup * 4
	if maxLen > 0 && len(hist) > maxLen {
		hist = hist[len(hist)-maxLen:]
	}
	f.history[k] = hist
	warm := len(hist) >= f.cfg.Warmup
	var ema float64
	if warm {
		ema = lastEMA(hist, f.cfg.Warmup)
	}
	f.mu.Unlock()

	if !warm || ema <= 0 {
		f.downstream.OnPriceUpdate(exchange, coinID, price)
		return
	}

	deviation := (price - ema) / ema
	if deviation < 0 {
		deviation = -deviation
	}
	if deviation > f.cfg.Multiple {
		f.log.Warn().Str("exchange", exchange).Int64("coin_id", coinID).
			Float64("price", price).Float64("ema", ema).Float64("deviation", deviation).
			Msg("rejecting price spike")
		return
	}

	f.downstream.OnPriceUpdate(exchange, coinID, price)
}

func lastEMA(closes []float64, period int) float64 {
	values := talib.Ema(closes, period)
	for i := len(values) - 1; i >= 0; i-- {
		if values[i] == values[i] { // NaN check: NaN never equals itself
			return values[i]
		}
	}
	return 0
}
