package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds published by the preview engine. Subscribers filter by
// namespace prefix, e.g. "ingest." or "gate.".
const (
	KindGateStateChanged = "gate.state_changed"

	KindIngestStarted      = "ingest.started"
	KindIngestBatchApplied = "ingest.batch_applied"
	KindIngestProgress     = "ingest.progress"
	KindIngestDone         = "ingest.done"
	KindIngestFailed       = "ingest.failed"

	KindProfilePersisted = "profile.persisted"
	KindProfileUnsynced  = "profile.unsynced"
	KindProfilesError    = "profile.error"

	KindTabSelected  = "ui.tab_selected"
	KindActiveMarked = "ui.active_marked"

	KindBadgeChanged = "badge.changed"
	KindENSResolved  = "ens.resolved"
)

// Event represents a domain event published on the bus.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(kind string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
