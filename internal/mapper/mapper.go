// Package mapper assigns stable, process-wide coin IDs across exchange
// catalogs and computes the cheapest same-coin transfer route between
// every ordered pair of exchanges. It is grounded on the source's
// Mapper service: per-exchange catalogs go in, a frozen id/transfer
// table comes out, and every lookup after ingest is a pure read.
package mapper

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nullstate/arb/internal/coin"
)

// blacklistedChains are withdrawal networks this engine never routes
// transfers over, regardless of which exchange reports them.
var blacklistedChains = map[string]struct{}{
	"Aptos": {},
	"ETH":   {},
	"ERC20": {},
}

// Catalog is one exchange's reported coins: ticker name to every
// chain-specific variant the exchange exposes for it.
type Catalog map[string][]coin.Coin

// Mapper holds the cross-exchange id assignment and best-transfer table.
// It is safe for concurrent read access once GenerateData has returned;
// GenerateData itself must not race with lookups.
type Mapper struct {
	mu sync.RWMutex

	nextID        int64
	addressToID   map[string]int64
	exchangeNames map[string]map[string]int64       // exchange -> name -> id
	exchangeCoins map[string]map[int64][]coin.Coin   // exchange -> id -> accepted variants
	bestTransfer  map[string]map[string]map[int64]coin.Coin // departure -> destination -> id -> Coin

	usdtID    int64
	usdtKnown bool
}

// New returns an empty Mapper ready for GenerateData.
func New() *Mapper {
	return &Mapper{
		addressToID:   make(map[string]int64),
		exchangeNames: make(map[string]map[string]int64),
		exchangeCoins: make(map[string]map[int64][]coin.Coin),
		bestTransfer:  make(map[string]map[string]map[int64]coin.Coin),
	}
}

// GenerateData ingests every exchange's catalog, assigns IDs and computes
// the best-transfer table. It runs at cycle start and again on every
// catalog resync: ids already assigned to an address are kept, while each
// given exchange's tables and the whole best-transfer table are rebuilt.
func (m *Mapper) GenerateData(catalogs map[string]Catalog) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for exchangeID, catalog := range catalogs {
		m.ingestExchange(exchangeID, catalog)
	}
	m.computeBestTransfer()
}

func (m *Mapper) ingestExchange(exchangeID string, catalog Catalog) {
	names := make(map[string]int64, len(catalog))
	byID := make(map[int64][]coin.Coin)

	tickers := make([]string, 0, len(catalog))
	for name := range catalog {
		tickers = append(tickers, name)
	}
	sort.Strings(tickers)

	for _, name := range tickers {
		variants := catalog[name]
		id := m.nextID + 1
		var accepted []coin.Coin

		for _, c := range variants {
			if !acceptable(c) {
				continue
			}
			accepted = append(accepted, c)
			if existing, ok := m.addressToID[c.Address()]; ok {
				id = existing
			}
		}
		if len(accepted) == 0 {
			continue
		}
		if id == m.nextID+1 {
			m.nextID = id
		}

		if _, exists := names[name]; !exists {
			names[name] = id
		}
		for _, c := range accepted {
			m.addressToID[c.Address()] = id
		}
		byID[id] = append(byID[id], accepted...)
	}

	m.exchangeNames[exchangeID] = names
	m.exchangeCoins[exchangeID] = byID
}

// acceptable applies the id-assignment filter: an address, a name, a
// non-negative fee (the UnknownFee sentinel is -1 and passes this check —
// it marks an unreported fee, not an invalid one) and a non-blacklisted
// chain.
func acceptable(c coin.Coin) bool {
	if c.Address() == "" || c.Name() == "" {
		return false
	}
	if c.Fee() < 0 && c.HasKnownFee() {
		return false
	}
	if _, blocked := blacklistedChains[c.Chain()]; blocked {
		return false
	}
	return true
}

func (m *Mapper) computeBestTransfer() {
	m.bestTransfer = make(map[string]map[string]map[int64]coin.Coin)

	exchangeIDs := make([]string, 0, len(m.exchangeCoins))
	for id := range m.exchangeCoins {
		exchangeIDs = append(exchangeIDs, id)
	}
	sort.Strings(exchangeIDs)

	for _, departure := range exchangeIDs {
		for _, destination := range exchangeIDs {
			if departure == destination {
				continue
			}
			table := m.intersect(departure, destination)
			if len(table) == 0 {
				continue
			}
			if _, ok := m.bestTransfer[departure]; !ok {
				m.bestTransfer[departure] = make(map[string]map[int64]coin.Coin)
			}
			m.bestTransfer[departure][destination] = table
		}
	}
}

func (m *Mapper) intersect(departure, destination string) map[int64]coin.Coin {
	departureCoins := m.exchangeCoins[departure]
	destinationCoins := m.exchangeCoins[destination]

	out := make(map[int64]coin.Coin)
	for coinID, depVariants := range departureCoins {
		destVariants, ok := destinationCoins[coinID]
		if !ok {
			continue
		}
		best, found := bestMatch(depVariants, destVariants)
		if found {
			out[coinID] = best
		}
	}
	return out
}

// bestMatch intersects two variant sets by address and returns the
// cheapest one, owned by the departure side (dep wins both the address
// match and Coin.Min's tie-break).
func bestMatch(dep, dest []coin.Coin) (coin.Coin, bool) {
	destByAddress := make(map[string]struct{}, len(dest))
	for _, c := range dest {
		destByAddress[c.Address()] = struct{}{}
	}

	var best coin.Coin
	found := false
	for _, c := range dep {
		if _, ok := destByAddress[c.Address()]; !ok {
			continue
		}
		if !found {
			best = c
			found = true
			continue
		}
		best = coin.Min(best, c)
	}
	return best, found
}

// CoinID resolves an exchange-local ticker to its process-wide id.
func (m *Mapper) CoinID(exchangeID, name string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.exchangeNames[exchangeID][name]
	return id, ok
}

// CoinName resolves a process-wide id back to the exchange-local ticker,
// used by Trader to build the {name}/USDT order symbol.
func (m *Mapper) CoinName(exchangeID string, coinID int64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, id := range m.exchangeNames[exchangeID] {
		if id == coinID {
			return name, true
		}
	}
	return "", false
}

// CoinByAddress returns the accepted variant exchangeID itself reported
// for address, or (Coin{}, false) if that exchange never reported it.
// It is how a deposit resolver turns "the address the departure side
// already knows" back into the destination exchange's own name/chain.
func (m *Mapper) CoinByAddress(exchangeID, address string) (coin.Coin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.addressToID[address]
	if !ok {
		return coin.Coin{}, false
	}
	for _, c := range m.exchangeCoins[exchangeID][id] {
		if c.Address() == address {
			return c, true
		}
	}
	return coin.Coin{}, false
}

// USDT resolves lazily to the id assigned to the first exchange (in
// alphabetical order of exchange id) that exposes a USDT ticker.
func (m *Mapper) USDT() (int64, bool) {
	m.mu.RLock()
	if m.usdtKnown {
		defer m.mu.RUnlock()
		return m.usdtID, true
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.usdtKnown {
		return m.usdtID, true
	}
	exchangeIDs := make([]string, 0, len(m.exchangeNames))
	for id := range m.exchangeNames {
		exchangeIDs = append(exchangeIDs, id)
	}
	sort.Strings(exchangeIDs)
	for _, exchangeID := range exchangeIDs {
		if id, ok := m.exchangeNames[exchangeID]["USDT"]; ok {
			m.usdtID = id
			m.usdtKnown = true
			return id, true
		}
	}
	return 0, false
}

// AnalyzedCoins returns every coin id present in at least two exchanges'
// catalogs — the set Analyst and Brain treat as "known" rather than
// falling back to an immediate USDT sell.
func (m *Mapper) AnalyzedCoins() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[int64]int)
	for _, names := range m.exchangeNames {
		for _, id := range names {
			counts[id]++
		}
	}
	var out []int64
	for id, n := range counts {
		if n >= 2 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsAnalyzed reports whether coinID is present on at least two exchanges.
func (m *Mapper) IsAnalyzed(coinID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, names := range m.exchangeNames {
		for _, id := range names {
			if id == coinID {
				count++
				if count >= 2 {
					return true
				}
			}
		}
	}
	return false
}

// GetBestCoinTransfer returns the chosen transfer Coin for a departure,
// destination, coin id triple, or (Coin{}, false) if no route exists.
func (m *Mapper) GetBestCoinTransfer(departure, destination string, coinID int64) (coin.Coin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.bestTransfer[departure][destination][coinID]
	return c, ok
}

// GetFee returns the non-negative fee for a departure/destination/coin
// transfer, or (0, false) if no route exists or the fee is unreported.
func (m *Mapper) GetFee(departure, destination string, coinID int64) (float64, bool) {
	c, ok := m.GetBestCoinTransfer(departure, destination, coinID)
	if !ok || !c.HasKnownFee() {
		return 0, false
	}
	return c.Fee(), true
}

// Snapshot is the msgpack-serializable form of a Mapper's state, used by
// the persistence layer to survive process restarts without re-ingesting
// every exchange's catalog.
type Snapshot struct {
	NextID        int64
	AddressToID   map[string]int64
	ExchangeNames map[string]map[string]int64
	ExchangeCoins map[string]map[int64][]coin.Coin
	BestTransfer  map[string]map[string]map[int64]coin.Coin
	USDTID        int64
	USDTKnown     bool
}

// MarshalSnapshot encodes the Mapper's full state as msgpack.
func (m *Mapper) MarshalSnapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{
		NextID:        m.nextID,
		AddressToID:   m.addressToID,
		ExchangeNames: m.exchangeNames,
		ExchangeCoins: m.exchangeCoins,
		BestTransfer:  m.bestTransfer,
		USDTID:        m.usdtID,
		USDTKnown:     m.usdtKnown,
	}
	return msgpack.Marshal(&snap)
}

// RestoreSnapshot replaces the Mapper's state with a previously marshaled
// snapshot. It is meant to run once, before any exchange catalog is
// ingested, to warm-start the process.
func (m *Mapper) RestoreSnapshot(blob []byte) error {
	var snap Snapshot
	if err := msgpack.Unmarshal(blob, &snap); err != nil {
		return fmt.Errorf("mapper: restoring snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID = snap.NextID
	m.addressToID = snap.AddressToID
	m.exchangeNames = snap.ExchangeNames
	m.exchangeCoins = snap.ExchangeCoins
	m.bestTransfer = snap.BestTransfer
	m.usdtID = snap.USDTID
	m.usdtKnown = snap.USDTKnown
	if m.addressToID == nil {
		m.addressToID = make(map[string]int64)
	}
	if m.exchangeNames == nil {
		m.exchangeNames = make(map[string]map[string]int64)
	}
	if m.exchangeCoins == nil {
		m.exchangeCoins = make(map[string]map[int64][]coin.Coin)
	}
	if m.bestTransfer == nil {
		m.bestTransfer = make(map[string]map[string]map[int64]coin.Coin)
	}
	return nil
}
