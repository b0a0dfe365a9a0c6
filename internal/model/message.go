package model

import (
	"strings"
	"time"
)

type BroadcastStatus string

const (
	Pending BroadcastStatus = "pending"
	Sending BroadcastStatus = "sending"
	Sent    BroadcastStatus = "sent"
)

// PersonalEntry is one payload for one contact at one due time.
type PersonalEntry struct {
	ID        int64
	ContactID int64
	Payload   Payload
	DueAt     time.Time
	Sent      bool
	CreatedAt time.Time
}

func (e PersonalEntry) Validate() error {
	if e.ContactID == 0 {
		return invalid("contact", "contact id is required")
	}
	if e.DueAt.IsZero() {
		return invalid("due time", "due time is required")
	}
	if e.Payload == nil {
		return invalid("payload", "payload is required")
	}
	return e.Payload.Validate()
}

// BroadcastJob targets every contact, or the members of SegmentID when set.
// A nil Status is treated as Pending.
type BroadcastJob struct {
	ID        int64
	Title     string
	Payload   Payload
	SegmentID *int64
	DueAt     time.Time
	Status    *BroadcastStatus
	IsSent    bool
	SentCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (j BroadcastJob) EffectiveStatus() BroadcastStatus {
	if j.Status == nil {
		return Pending
	}
	return *j.Status
}

func (j BroadcastJob) Validate() error {
	if strings.TrimSpace(j.Title) == "" {
		return invalid("title", "title is required")
	}
	if j.DueAt.IsZero() {
		return invalid("due time", "due time is required")
	}
	if j.Payload == nil {
		return invalid("payload", "payload is required")
	}
	return j.Payload.Validate()
}

// DefaultBroadcastTitle names a job after its creation day.
func DefaultBroadcastTitle(now time.Time) string {
	return "Broadcast " + now.Format("02.01.2006")
}

// CanTransition reports whether a job may move from one status to the next.
// Only forward moves are allowed.
func CanTransition(from, to BroadcastStatus) bool {
	switch to {
	case Sending:
		return from == Pending
	case Sent:
		return from == Sending
	default:
		return false
	}
}
