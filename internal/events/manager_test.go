package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestManager_RecentReturnsBoundedHistoryOldestFirst(t *testing.T) {
	m := NewManager(NewBus(), zerolog.Nop())

	for i := 0; i < 5; i++ {
		m.Emit(WaitScheduled, "okx", &WaitScheduledData{Seconds: float64(i)})
	}

	recent := m.Recent(2)
	require := assert.New(t)
	require.Len(recent, 2)
	require.Equal(3.0, recent[0].Data.(*WaitScheduledData).Seconds)
	require.Equal(4.0, recent[1].Data.(*WaitScheduledData).Seconds)
}

func TestManager_RecentCapsAtHistoryLimit(t *testing.T) {
	m := NewManager(NewBus(), zerolog.Nop())

	for i := 0; i < historyLimit+10; i++ {
		m.Emit(WaitScheduled, "okx", &WaitScheduledData{Seconds: float64(i)})
	}

	assert.Len(t, m.Recent(0), historyLimit)
}
