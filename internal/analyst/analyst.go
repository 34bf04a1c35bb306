// Package analyst maintains the live cross-exchange price grid and the
// best-deal index derived from it. It is grounded on the source's
// Analyst service, with the value-sorted dict redesigned (per the
// project's redesign notes) into an indexed max-heap whose entries are
// removed and re-heapified in place (heap.Remove/heap.Fix): Go has no
// sorted-map-by-value container in the standard library, and
// container/heap is the idiomatic substitute for "peek the largest,
// mutate arbitrary entries, repeat".
package analyst

import (
	"container/heap"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nullstate/arb/internal/mapper"
)

// Config holds the tunables the benefit/ROI calculation needs, sourced
// from config.AnalystConfig so the engine never hardcodes commission
// constants.
type Config struct {
	ProcedureTime float64
	BuyFee        float64
	SellFee       float64
}

// Deal is a candidate or elected arbitrage opportunity for one coin.
type Deal struct {
	CoinID      int64
	Departure   string
	Destination string
	Benefit     float64
}

type coinEntry struct {
	mu     sync.Mutex
	prices map[string]float64 // exchange -> price
	deal   *Deal              // nil until at least two exchanges carry a price
}

// Analyst maintains one locked grid entry and sorted-index entry per
// coin id. A coin only appears in the grid once Mapper reports it as
// analyzed (present on at least two exchanges); coins outside that set
// are Brain's "unknown coin" fallback, not the Analyst's concern.
type Analyst struct {
	mapper *mapper.Mapper
	cfg    Config
	log    zerolog.Logger

	mu      sync.RWMutex // guards coins map membership and the heap
	coins   map[int64]*coinEntry
	byCoin  map[int64]*heapItem // coin id -> its live heap slot, for in-place update
	index   dealHeap
}

// New constructs an Analyst seeded with every coin Mapper currently
// considers analyzed.
func New(m *mapper.Mapper, cfg Config, log zerolog.Logger) *Analyst {
	a := &Analyst{
		mapper: m,
		cfg:    cfg,
		log:    log.With().Str("component", "analyst").Logger(),
		coins:  make(map[int64]*coinEntry),
		byCoin: make(map[int64]*heapItem),
	}
	for _, coinID := range m.AnalyzedCoins() {
		a.coins[coinID] = &coinEntry{prices: make(map[string]float64)}
	}
	return a
}

// Sync adds a grid entry for every coin Mapper now considers analyzed but
// that Analyst has not yet seen. It is idempotent and safe to call
// repeatedly (e.g. from the periodic catalog-refresh job) so that coins
// discovered after construction still receive price updates instead of
// being silently dropped by OnPriceUpdate's membership check.
func (a *Analyst) Sync() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, coinID := range a.mapper.AnalyzedCoins() {
		if _, ok := a.coins[coinID]; !ok {
			a.coins[coinID] = &coinEntry{prices: make(map[string]float64)}
		}
	}
}

// heapItem is one coin's current best deal, tracked by pointer so its
// Benefit can be mutated in place and re-heapified instead of removed
// and re-inserted.
type heapItem struct {
	coinID int64
	deal   Deal
	index  int
}

type dealHeap []*heapItem

func (h dealHeap) Len() int            { return len(h) }
func (h dealHeap) Less(i, j int) bool  { return h[i].deal.Benefit > h[j].deal.Benefit } // max-heap
func (h dealHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *dealHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *dealHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// OnPriceUpdate implements observer.PriceSubscriber. A price <= 0 means
// "this exchange no longer carries the coin" and removes it from the
// grid entry; any other value upserts it. Both paths recompute the
// coin's entry under its own lock, so Analyst recomputation for one coin
// never blocks another's.
func (a *Analyst) OnPriceUpdate(exchange string, coinID int64, price float64) {
	a.mu.RLock()
	entry, ok := a.coins[coinID]
	a.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	if price > 0 {
		entry.prices[exchange] = price
	} else {
		delete(entry.prices, exchange)
	}
	deal := a.recompute(coinID, entry)
	entry.mu.Unlock()

	a.updateIndex(coinID, deal)
}

// recompute must be called with entry.mu held. It returns the newly
// computed deal, or nil if fewer than two exchanges carry a price.
func (a *Analyst) recompute(coinID int64, entry *coinEntry) *Deal {
	if len(entry.prices) < 2 {
		entry.deal = nil
		return nil
	}

	buyExchange := ""
	buyPrice := math.Inf(1)
	for exchange, price := range entry.prices {
		if price < buyPrice {
			buyPrice = price
			buyExchange = exchange
		}
	}

	bestBenefit := math.Inf(-1)
	bestExchange := ""
	for exchange, sellPrice := range entry.prices {
		if exchange == buyExchange {
			continue
		}
		benefit := a.benefit(buyPrice, sellPrice)
		if benefit >= bestBenefit {
			bestBenefit = benefit
			bestExchange = exchange
		}
	}
	if bestExchange == "" {
		entry.deal = nil
		return nil
	}

	deal := &Deal{CoinID: coinID, Departure: buyExchange, Destination: bestExchange, Benefit: bestBenefit}
	entry.deal = deal
	return deal
}

func (a *Analyst) benefit(buyPrice, sellPrice float64) float64 {
	if a.cfg.ProcedureTime <= 0 || buyPrice <= 0 {
		return math.Inf(-1)
	}
	roi := (sellPrice*(1-a.cfg.SellFee)*(1-a.cfg.BuyFee))/buyPrice - 1
	return roi / a.cfg.ProcedureTime
}

func (a *Analyst) updateIndex(coinID int64, deal *Deal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	item, tracked := a.byCoin[coinID]
	if deal == nil {
		if tracked {
			heap.Remove(&a.index, item.index)
			delete(a.byCoin, coinID)
		}
		return
	}

	if tracked {
		item.deal = *deal
		heap.Fix(&a.index, item.index)
		return
	}

	item = &heapItem{coinID: coinID, deal: *deal}
	heap.Push(&a.index, item)
	a.byCoin[coinID] = item
}

// GetBestDeal peeks the globally best benefit across every coin in the
// index. Within one coin, recompute's `>=` keeps the last seller
// enumerated among equal benefits. Across coins, the heap orders by
// benefit only: when several coins share the top benefit, which of them
// is returned is not defined.
func (a *Analyst) GetBestDeal() (Deal, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.index) == 0 {
		return Deal{}, false
	}
	return a.index[0].deal, true
}

// GetAllBenefits holds currentExchange as the buyer and picks the best
// seller among every other exchange carrying coinID. It returns false if
// no other exchange carries the coin at all.
func (a *Analyst) GetAllBenefits(currentExchange string, coinID int64) (Deal, bool) {
	a.mu.RLock()
	entry, ok := a.coins[coinID]
	a.mu.RUnlock()
	if !ok {
		return Deal{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	buyPrice, buyKnown := entry.prices[currentExchange]
	if !buyKnown {
		return Deal{}, false
	}

	best := Deal{CoinID: coinID, Departure: currentExchange, Destination: currentExchange, Benefit: math.Inf(-1)}
	found := false
	for exchange, sellPrice := range entry.prices {
		if exchange == currentExchange {
			continue
		}
		benefit := a.benefit(buyPrice, sellPrice)
		if benefit >= best.Benefit {
			best.Destination = exchange
			best.Benefit = benefit
			found = true
		}
	}
	if !found {
		return Deal{}, false
	}
	return best, true
}
