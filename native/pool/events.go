package pool

import (
	"time"

	"github.com/google/uuid"

	"tranchepool/observability"
)

// Event types emitted by the pool.
const (
	EventEpochClosed         = "pool.epoch_closed"
	EventDeposit             = "pool.deposit"
	EventRedemptionRequested = "pool.redemption_requested"
	EventRedemptionCancelled = "pool.redemption_cancelled"
	EventRedemptionProcessed = "pool.redemption_processed"
	EventDisbursed           = "pool.disbursed"
	EventProfitDistributed   = "pool.profit_distributed"
	EventLossAbsorbed        = "pool.loss_absorbed"
	EventLossRecovered       = "pool.loss_recovered"
	EventYieldProcessed      = "pool.yield_processed"
	EventFeesInvestedInCover = "pool.fees_invested_in_cover"
)

// Event is a canonical record of a pool state transition, suitable for the
// gateway's event feed and the epoch archive.
type Event struct {
	ID         string
	Type       string
	Timestamp  time.Time
	Attributes map[string]string
}

// EventLog is a bounded in-memory ring of recent events.
type EventLog struct {
	events []Event
	max    int
}

func NewEventLog(max int) *EventLog {
	if max <= 0 {
		max = 1024
	}
	return &EventLog{max: max}
}

func (l *EventLog) Append(eventType string, at time.Time, attrs map[string]string) Event {
	evt := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  at.UTC(),
		Attributes: attrs,
	}
	l.events = append(l.events, evt)
	if len(l.events) > l.max {
		l.events = l.events[len(l.events)-l.max:]
	}
	observability.Events().RecordEvent(eventType)
	return evt
}

// Events returns a copy of the retained events, oldest first.
func (l *EventLog) Events() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}
