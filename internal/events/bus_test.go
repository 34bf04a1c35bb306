package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeReceivesEmit(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	bus.Emit(DealFound, "okx", &DealFoundData{CoinID: 7, Departure: "okx", Destination: "binance", Benefit: 0.01})

	select {
	case ev := <-ch:
		assert.Equal(t, DealFound, ev.Type)
		assert.Equal(t, "okx", ev.Source)
		data, ok := ev.Data.(*DealFoundData)
		require.True(t, ok)
		assert.Equal(t, int64(7), data.CoinID)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(1)
	unsubscribe()

	bus.Emit(WaitScheduled, "okx", &WaitScheduledData{Seconds: 10})

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBus_SlowSubscriberDoesNotBlockEmit(t *testing.T) {
	bus := NewBus()
	_, unsubscribe := bus.Subscribe(1) // never drained
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Emit(PriceUpdated, "okx", &PriceUpdatedData{CoinID: int64(i), Price: 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full subscriber channel")
	}
}

func TestBus_MultipleSubscribersAllReceive(t *testing.T) {
	bus := NewBus()
	ch1, unsub1 := bus.Subscribe(2)
	ch2, unsub2 := bus.Subscribe(2)
	defer unsub1()
	defer unsub2()

	bus.Emit(TradeExecuted, "binance", &TradeExecutedData{Exchange: "binance", BuyCoin: 1, SellCoin: 2, Amount: 5})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, TradeExecuted, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}
