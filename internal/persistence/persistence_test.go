package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstate/arb/internal/coin"
	"github.com/nullstate/arb/internal/mapper"
)

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

func TestStore_SaveAndLoadSnapshotRoundTrips(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	m := seededMapper(t)
	btcID, ok := m.CoinID("binance", "BTC")
	require.True(t, ok)

	bytesWritten, err := store.SaveSnapshot(context.Background(), m)
	require.NoError(t, err)
	assert.Greater(t, bytesWritten, 0)

	restored := mapper.New()
	found, err := store.LoadSnapshot(context.Background(), restored)
	require.NoError(t, err)
	require.True(t, found)

	restoredID, ok := restored.CoinID("binance", "BTC")
	require.True(t, ok)
	assert.Equal(t, btcID, restoredID)
}

func TestStore_LoadSnapshotNotFound(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	found, err := store.LoadSnapshot(context.Background(), mapper.New())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_RecordAndReadLedger(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.RecordTrade(context.Background(), "binance", LedgerTrade, 7, 10.5, "buy BTC"))
	require.NoError(t, store.RecordTrade(context.Background(), "okx", LedgerTransfer, 7, 5.0, "transfer to binance"))

	entries, err := store.RecentLedger(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, LedgerTransfer, entries[0].Kind, "newest entry first")
	assert.Equal(t, LedgerTrade, entries[1].Kind)
}
