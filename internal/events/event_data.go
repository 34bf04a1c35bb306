package events

// EventData is the interface every typed event payload implements. This
// keeps Emit's call sites type-safe while letting the bus carry a single
// concrete Event struct.
type EventData interface {
	// EventType returns the event type this data is associated with.
	EventType() EventType
}

// ConnectionStateChangedData describes a Connection's state transition.
type ConnectionStateChangedData struct {
	Exchange string `json:"exchange"`
	From     string `json:"from"`
	To       string `json:"to"`
	Reason   string `json:"reason,omitempty"`
}

func (d *ConnectionStateChangedData) EventType() EventType { return ConnectionStateChanged }

// BalanceUpdatedData describes a wallet change on one exchange.
type BalanceUpdatedData struct {
	Exchange string  `json:"exchange"`
	CoinID   int64   `json:"coin_id"`
	Amount   float64 `json:"amount"`
}

func (d *BalanceUpdatedData) EventType() EventType { return BalanceUpdated }

// PriceUpdatedData describes an accepted price tick.
type PriceUpdatedData struct {
	Exchange string  `json:"exchange"`
	CoinID   int64   `json:"coin_id"`
	Price    float64 `json:"price"`
}

func (d *PriceUpdatedData) EventType() EventType { return PriceUpdated }

// ObserverRestartedData describes a supervised observer restart.
type ObserverRestartedData struct {
	Exchange string `json:"exchange"`
	Observer string `json:"observer"`
	Attempt  int    `json:"attempt"`
}

func (d *ObserverRestartedData) EventType() EventType { return ObserverRestarted }

// DealFoundData describes a newly elected best deal.
type DealFoundData struct {
	CoinID      int64   `json:"coin_id"`
	Departure   string  `json:"departure"`
	Destination string  `json:"destination"`
	Benefit     float64 `json:"benefit"`
}

func (d *DealFoundData) EventType() EventType { return DealFound }

// TradeExecutedData describes a completed same-exchange buy/sell.
type TradeExecutedData struct {
	Exchange string  `json:"exchange"`
	BuyCoin  int64   `json:"buy_coin"`
	SellCoin int64   `json:"sell_coin"`
	Amount   float64 `json:"amount"`
}

func (d *TradeExecutedData) EventType() EventType { return TradeExecuted }

// TransferExecutedData describes a submitted cross-exchange withdrawal.
type TransferExecutedData struct {
	CoinID      int64   `json:"coin_id"`
	Departure   string  `json:"departure"`
	Destination string  `json:"destination"`
	Amount      float64 `json:"amount"`
}

func (d *TransferExecutedData) EventType() EventType { return TransferExecuted }

// WaitScheduledData describes a brain decision to do nothing for a while.
type WaitScheduledData struct {
	Exchange string  `json:"exchange"`
	CoinID   int64   `json:"coin_id"`
	Seconds  float64 `json:"seconds"`
}

func (d *WaitScheduledData) EventType() EventType { return WaitScheduled }

// SupervisorHaltedData describes a supervised loop giving up.
type SupervisorHaltedData struct {
	Name     string `json:"name"`
	Attempts int    `json:"attempts"`
	LastErr  string `json:"last_err,omitempty"`
}

func (d *SupervisorHaltedData) EventType() EventType { return SupervisorHalted }

// SnapshotPersistedData describes a completed mapper snapshot write.
type SnapshotPersistedData struct {
	Bytes    int  `json:"bytes"`
	Uploaded bool `json:"uploaded"`
}

func (d *SnapshotPersistedData) EventType() EventType { return SnapshotPersisted }

// ErrorOccurredData wraps an arbitrary error for the status API and
// structured logs.
type ErrorOccurredData struct {
	Module  string `json:"module"`
	Message string `json:"message"`
}

func (d *ErrorOccurredData) EventType() EventType { return ErrorOccurred }
