// Package funnel enrolls contacts into marketing funnels and turns a
// funnel's message plan into personal schedule entries.
package funnel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeventeLantos/funnel-messaging/internal/model"
	"github.com/LeventeLantos/funnel-messaging/internal/repo"
	"github.com/LeventeLantos/funnel-messaging/internal/stage"
)

var ErrUnknownFunnel = errors.New("unknown funnel")

type Orchestrator struct {
	cfg        *Config
	recipients repo.RecipientStore
	schedules  repo.ScheduleStore
	log        zerolog.Logger
	now        func() time.Time
}

func New(cfg *Config, recipients repo.RecipientStore, schedules repo.ScheduleStore, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		recipients: recipients,
		schedules:  schedules,
		log:        log.With().Str("comp", "funnel").Logger(),
		now:        time.Now,
	}
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

func (o *Orchestrator) Config() *Config { return o.cfg }

type Enrollment struct {
	ContactID  int64
	Label      string
	Stage      stage.ID
	SegmentID  int64
	EnrolledAt time.Time
	Entries    []model.PersonalEntry
	// Skipped counts plan steps whose due time was already past.
	Skipped int
}

// Enroll moves the contact into the funnel's segment and schedules the
// funnel's plan. The segment change and the entries are committed together;
// on error the contact keeps its old segment and nothing is scheduled.
// Enrolling again overwrites the segment and adds a
// fresh set of entries next to the existing ones.
func (o *Orchestrator) Enroll(ctx context.Context, contactID int64, label string) (Enrollment, error) {
	f, ok := o.cfg.Funnel(label)
	if !ok {
		return Enrollment{}, fmt.Errorf("%w: %q", ErrUnknownFunnel, label)
	}

	if _, err := o.recipients.GetContact(ctx, contactID); err != nil {
		return Enrollment{}, fmt.Errorf("enroll contact %d: %w", contactID, err)
	}

	seg, err := o.recipients.EnsureSegment(ctx, f.Segment)
	if err != nil {
		return Enrollment{}, fmt.Errorf("enroll contact %d: segment %s: %w", contactID, f.Segment, err)
	}

	enrolledAt := o.now()
	en := Enrollment{
		ContactID:  contactID,
		Label:      f.Label,
		Stage:      f.Stage,
		SegmentID:  seg.ID,
		EnrolledAt: enrolledAt,
	}

	entries := Plan(f, contactID, enrolledAt)
	en.Skipped = len(f.Plan) - len(entries)

	created, err := o.schedules.EnrollContact(ctx, contactID, seg.ID, entries)
	if err != nil {
		o.log.Error().Err(err).
			Int64("contact_id", contactID).
			Str("funnel", f.Label).
			Msg("enrollment failed, nothing scheduled")
		return Enrollment{}, fmt.Errorf("enroll contact %d: schedule plan: %w", contactID, err)
	}
	en.Entries = created

	o.log.Info().
		Int64("contact_id", contactID).
		Str("funnel", f.Label).
		Str("stage", string(f.Stage)).
		Int("scheduled", len(created)).
		Int("skipped", en.Skipped).
		Msg("contact enrolled")
	return en, nil
}

// Plan computes the entries for one enrollment. Steps due before
// enrolledAt are dropped; a step due exactly at enrolledAt is kept.
func Plan(f Funnel, contactID int64, enrolledAt time.Time) []model.PersonalEntry {
	out := make([]model.PersonalEntry, 0, len(f.Plan))
	for _, step := range f.Plan {
		due := step.DueAt(enrolledAt)
		if due.Before(enrolledAt) {
			continue
		}
		out = append(out, model.PersonalEntry{
			ContactID: contactID,
			Payload:   step.Payload,
			DueAt:     due,
		})
	}
	return out
}

// CurrentStage resolves the active stage at now. Nothing is cached.
func (o *Orchestrator) CurrentStage(now time.Time) (stage.ID, bool) {
	return stage.Resolve(now, o.cfg.Windows)
}

func (o *Orchestrator) StageFor(label string) (stage.ID, bool) {
	f, ok := o.cfg.Funnel(label)
	if !ok {
		return "", false
	}
	return f.Stage, true
}

// FunnelsFor lists the funnels open for enrollment during the given stage.
func (o *Orchestrator) FunnelsFor(id stage.ID) []Funnel {
	var out []Funnel
	for _, f := range o.cfg.Funnels {
		if f.Stage == id {
			out = append(out, f)
		}
	}
	return out
}
