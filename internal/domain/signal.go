package domain

import "time"

// Bus channels.
const (
	ChannelSnapshots     = "snapshots"
	ChannelTrades        = "trades"
	ChannelNotifications = "notifications"
)

// Event kinds carried on the bus.
const (
	EventSnapshotRefreshed = "snapshot_refreshed"
	EventTradeSettled      = "trade_settled"
	EventTradeFailed       = "trade_failed"
	EventTradeState        = "trade_state"
	EventNotification      = "notification"
)

// BusEvent is the envelope published on every bus channel.
type BusEvent struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// SnapshotSummary is the payload of snapshot_refreshed.
type SnapshotSummary struct {
	Counter   string    `json:"counter"`
	Orders    int       `json:"orders"`
	Active    int       `json:"active"`
	Completed int       `json:"completed"`
	Cancelled int       `json:"cancelled"`
	Partial   bool      `json:"partial"`
	FailedIDs []string  `json:"failed_ids,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Summarize builds the snapshot_refreshed payload for snap.
func Summarize(snap *CatalogSnapshot) SnapshotSummary {
	sum := SnapshotSummary{
		Orders:    len(snap.Orders),
		Active:    len(snap.Active),
		Completed: len(snap.Completed),
		Cancelled: len(snap.Cancelled),
		Partial:   snap.Partial,
		FailedIDs: snap.FailedIDs,
		FetchedAt: snap.FetchedAt,
	}
	if snap.Counter != nil {
		sum.Counter = snap.Counter.String()
	}
	return sum
}
