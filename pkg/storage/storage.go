// Package storage defines the journal the engine writes after every
// successful state mutation. The journal is observability, not a source of
// truth: sink failures are logged by the engine and never fail the
// originating operation.
package storage

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventPositionOpened        EventKind = "position_opened"
	EventPositionClosed        EventKind = "position_closed"
	EventEarlyUnlockRequested  EventKind = "early_unlock_requested"
	EventEarlyUnlockCancelled  EventKind = "early_unlock_cancelled"
	EventCacheRefreshCompleted EventKind = "cache_refresh_completed"
	EventEpochFinalized        EventKind = "epoch_finalized"
	EventEpochSkipped          EventKind = "epoch_skipped"
	EventSnapshotTaken         EventKind = "snapshot_taken"
	EventClaimProcessed        EventKind = "claim_processed"
)

// Event is one journal entry. Amount-bearing fields are base-unit decimal
// strings so no precision is lost in transit.
type Event struct {
	ID          string
	Kind        EventKind
	Participant string
	PositionID  uint64
	Epoch       uint64
	Amount      string
	Weight      string
	OccurredAt  time.Time
}

// NewEvent stamps a fresh event with a uuid.
func NewEvent(kind EventKind, occurredAt time.Time) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		OccurredAt: occurredAt,
	}
}

// Sink receives journal events.
type Sink interface {
	Write(event *Event) error
}
