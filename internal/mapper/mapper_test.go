package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstate/arb/internal/coin"
)

func TestMapper_AssignsSharedIDByAddress(t *testing.T) {
	m := New()
	m.GenerateData(map[string]Catalog{
		"binance": {
			"USDT": {coin.New("addrUSDT", "USDT", "TRC20", 1.0, 0)},
			"BTC":  {coin.New("addrBTC", "BTC", "BTC", 0.0005, 0)},
		},
		"okx": {
			"USDT": {coin.New("addrUSDT", "USDT", "TRC20", 0.8, 0)},
			"ETHX": {coin.New("addrETHX", "ETHX", "BSC", 0.1, 0)},
		},
	})

	binanceUSDT, ok := m.CoinID("binance", "USDT")
	require.True(t, ok)
	okxUSDT, ok := m.CoinID("okx", "USDT")
	require.True(t, ok)
	assert.Equal(t, binanceUSDT, okxUSDT, "coins sharing an address must share an id across exchanges")

	usdtID, ok := m.USDT()
	require.True(t, ok)
	assert.Equal(t, binanceUSDT, usdtID)
}

func TestMapper_BlacklistedChainDropped(t *testing.T) {
	m := New()
	m.GenerateData(map[string]Catalog{
		"binance": {
			"FOO": {coin.New("addrFOO", "FOO", "ERC20", 1.0, 0)},
		},
		"okx": {
			"FOO": {coin.New("addrFOO", "FOO", "ERC20", 1.0, 0)},
		},
	})

	_, ok := m.CoinID("binance", "FOO")
	assert.False(t, ok, "a coin whose only variant is on a blacklisted chain must be dropped entirely")
}

func TestMapper_BestTransferPicksCheaperFeeOwnedByDeparture(t *testing.T) {
	m := New()
	m.GenerateData(map[string]Catalog{
		"binance": {
			"USDT": {
				coin.New("addrUSDT", "USDT", "TRC20", 1.0, 0),
				coin.New("addrUSDT", "USDT", "BSC", 0.2, 0),
			},
		},
		"okx": {
			"USDT": {
				coin.New("addrUSDT", "USDT", "TRC20", 0.5, 0),
			},
		},
	})

	id, ok := m.CoinID("binance", "USDT")
	require.True(t, ok)

	best, ok := m.GetBestCoinTransfer("binance", "okx", id)
	require.True(t, ok)
	assert.Equal(t, 0.2, best.Fee(), "the cheaper known fee among the intersected variants must win")
}

func TestMapper_NoRouteWhenCoinNotOnBothExchanges(t *testing.T) {
	m := New()
	m.GenerateData(map[string]Catalog{
		"binance": {"BTC": {coin.New("addrBTC", "BTC", "BTC", 0.0005, 0)}},
		"okx":     {"ETH2": {coin.New("addrETH2", "ETH2", "BSC", 0.01, 0)}},
	})

	id, _ := m.CoinID("binance", "BTC")
	_, ok := m.GetBestCoinTransfer("binance", "okx", id)
	assert.False(t, ok)
}

func TestMapper_AnalyzedCoinsRequiresTwoExchanges(t *testing.T) {
	m := New()
	m.GenerateData(map[string]Catalog{
		"binance": {
			"USDT": {coin.New("addrUSDT", "USDT", "TRC20", 1.0, 0)},
			"SOLO": {coin.New("addrSOLO", "SOLO", "SOL", 0.01, 0)},
		},
		"okx": {
			"USDT": {coin.New("addrUSDT", "USDT", "TRC20", 0.5, 0)},
		},
	})

	usdtID, _ := m.CoinID("binance", "USDT")
	soloID, _ := m.CoinID("binance", "SOLO")

	assert.True(t, m.IsAnalyzed(usdtID))
	assert.False(t, m.IsAnalyzed(soloID), "a coin on only one exchange is not analyzed")
}

func TestMapper_SnapshotRoundTrip(t *testing.T) {
	m := New()
	m.GenerateData(map[string]Catalog{
		"binance": {"USDT": {coin.New("addrUSDT", "USDT", "TRC20", 1.0, 0)}},
		"okx":     {"USDT": {coin.New("addrUSDT", "USDT", "TRC20", 0.5, 0)}},
	})

	blob, err := m.MarshalSnapshot()
	require.NoError(t, err)

	restored := New()
	require.NoError(t, restored.RestoreSnapshot(blob))

	wantID, ok := m.CoinID("binance", "USDT")
	require.True(t, ok)
	gotID, ok := restored.CoinID("binance", "USDT")
	require.True(t, ok)
	assert.Equal(t, wantID, gotID)

	wantFee, ok := m.GetFee("binance", "okx", wantID)
	require.True(t, ok)
	gotFee, ok := restored.GetFee("binance", "okx", gotID)
	require.True(t, ok)
	assert.Equal(t, wantFee, gotFee)
}
