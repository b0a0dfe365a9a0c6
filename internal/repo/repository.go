package repo

import (
	"context"
	"time"

	"github.com/LeventeLantos/funnel-messaging/internal/model"
)

// ScheduleStore holds the two work queues: personal entries and broadcast
// jobs.
type ScheduleStore interface {
	CreatePersonalEntry(ctx context.Context, e model.PersonalEntry) (model.PersonalEntry, error)
	// CreatePersonalEntries inserts all entries in one transaction, or none.
	CreatePersonalEntries(ctx context.Context, entries []model.PersonalEntry) ([]model.PersonalEntry, error)
	// EnrollContact sets the contact's segment and inserts its entries in
	// one transaction, or does neither.
	EnrollContact(ctx context.Context, contactID, segmentID int64, entries []model.PersonalEntry) ([]model.PersonalEntry, error)
	ListDuePersonalEntries(ctx context.Context, now time.Time) ([]model.PersonalEntry, error)
	MarkPersonalEntrySent(ctx context.Context, id int64) error
	DeletePersonalEntry(ctx context.Context, id int64) error
	CountPendingPersonalEntries(ctx context.Context) (int, error)

	CreateBroadcastJob(ctx context.Context, j model.BroadcastJob) (model.BroadcastJob, error)
	GetBroadcastJob(ctx context.Context, id int64) (model.BroadcastJob, error)
	ListBroadcastJobs(ctx context.Context, limit, offset int) ([]model.BroadcastJob, error)
	ListDueBroadcastJobs(ctx context.Context, now time.Time, limit int) ([]model.BroadcastJob, error)
	TransitionBroadcastJob(ctx context.Context, id int64, to model.BroadcastStatus) error
	FinalizeBroadcastJob(ctx context.Context, id int64, sentCount int) error
}

type RecipientStore interface {
	UpsertContact(ctx context.Context, c model.Contact) (model.Contact, error)
	GetContact(ctx context.Context, id int64) (model.Contact, error)
	ListContactsBySegment(ctx context.Context, segmentID int64) ([]model.Contact, error)
	ListAllContacts(ctx context.Context) ([]model.Contact, error)
	ListContacts(ctx context.Context, segmentID *int64, limit, offset int) ([]model.Contact, error)
	SetContactSegment(ctx context.Context, contactID int64, segmentID *int64) error

	CreateSegment(ctx context.Context, name, description string) (model.Segment, error)
	// EnsureSegment returns the named segment, creating it when missing.
	EnsureSegment(ctx context.Context, name string) (model.Segment, error)
	GetSegmentByName(ctx context.Context, name string) (model.Segment, error)
	ListSegments(ctx context.Context) ([]model.Segment, error)
	// DeleteSegment returns ErrConflict while broadcast jobs target the
	// segment.
	DeleteSegment(ctx context.Context, id int64) error
}

// ContentStore holds administrator-edited stage texts.
type ContentStore interface {
	GetStageContent(ctx context.Context, stage string) (model.StageContent, error)
	UpsertStageContent(ctx context.Context, c model.StageContent) error
	GetFeedbackOptions(ctx context.Context, stage string) (model.FeedbackOptions, error)
	UpsertFeedbackOptions(ctx context.Context, f model.FeedbackOptions) error
}
