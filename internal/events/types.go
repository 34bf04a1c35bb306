package events

// EventType identifies the shape of an event's Data payload.
type EventType string

const (
	// ConnectionStateChanged fires whenever a Connection moves between
	// Disabled, Disconnected, Connecting and Connected.
	ConnectionStateChanged EventType = "connection_state_changed"
	// BalanceUpdated fires when a wallet entry changes by more than the
	// dust threshold.
	BalanceUpdated EventType = "balance_updated"
	// PriceUpdated fires on every accepted price tick for a coin.
	PriceUpdated EventType = "price_updated"
	// ObserverRestarted fires when the supervisor restarts a balance or
	// price observer after a failure.
	ObserverRestarted EventType = "observer_restarted"
	// DealFound marks a newly elected best deal. The analyst holds no
	// event bus, and no component in this repository emits it.
	DealFound EventType = "deal_found"
	// TradeExecuted fires after a same-exchange buy/sell completes.
	TradeExecuted EventType = "trade_executed"
	// TransferExecuted fires after a cross-exchange withdrawal is placed.
	TransferExecuted EventType = "transfer_executed"
	// WaitScheduled fires when the brain decides to wait rather than act.
	WaitScheduled EventType = "wait_scheduled"
	// SupervisorHalted fires when a supervised loop exhausts its restart
	// budget and gives up.
	SupervisorHalted EventType = "supervisor_halted"
	// SnapshotPersisted marks a completed mapper snapshot write. No
	// component in this repository emits it.
	SnapshotPersisted EventType = "snapshot_persisted"
	// ErrorOccurred is a catch-all for errors that do not fit a more
	// specific event type but are worth surfacing to the status API.
	ErrorOccurred EventType = "error_occurred"
)
