package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/LeventeLantos/funnel-messaging/internal/cache"
	"github.com/LeventeLantos/funnel-messaging/internal/delivery"
	"github.com/LeventeLantos/funnel-messaging/internal/model"
	"github.com/LeventeLantos/funnel-messaging/internal/repo"
)

// Dispatcher runs one tick of due work: the personal sweep, then the
// broadcast sweep. It assumes it is the only dispatcher running against the
// store.
type Dispatcher struct {
	schedules  repo.ScheduleStore
	recipients repo.RecipientStore
	sender     *Sender
	cache      cache.DeliveryCache
	log        zerolog.Logger
	now        func() time.Time
}

func NewDispatcher(schedules repo.ScheduleStore, recipients repo.RecipientStore, sender *Sender, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		schedules:  schedules,
		recipients: recipients,
		sender:     sender,
		cache:      cache.Nop{},
		log:        log.With().Str("comp", "dispatcher").Logger(),
		now:        time.Now,
	}
}

func (d *Dispatcher) WithCache(c cache.DeliveryCache) *Dispatcher {
	if c != nil {
		d.cache = c
	}
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

type PersonalResult struct {
	Due int
	// Deduped entries already carried a delivered marker and were only
	// marked sent.
	Deduped int
	BatchResult
}

type BroadcastResult struct {
	JobID      int64
	Recipients int
	BatchResult
	// Interrupted jobs were left in sending without a final count.
	Interrupted bool
}

type TickResult struct {
	ID        string
	At        time.Time
	Personal  PersonalResult
	Broadcast *BroadcastResult
}

// Tick runs both sweeps. A store error aborts only the sweep it happened
// in; the returned error joins the errors of both sweeps.
func (d *Dispatcher) Tick(ctx context.Context) (TickResult, error) {
	res := TickResult{ID: uuid.NewString(), At: d.now()}
	log := d.log.With().Str("tick", res.ID).Logger()

	personal, perr := d.sweepPersonal(ctx, log, res.At)
	res.Personal = personal
	if perr != nil {
		log.Error().Err(perr).Msg("personal sweep aborted")
	}

	if ctx.Err() != nil {
		return res, errors.Join(perr, ctx.Err())
	}

	broadcast, berr := d.sweepBroadcast(ctx, log, res.At)
	res.Broadcast = broadcast
	if berr != nil {
		log.Error().Err(berr).Msg("broadcast sweep aborted")
	}

	if personal.Due > 0 || broadcast != nil {
		ev := log.Info().
			Int("personal_due", personal.Due).
			Int("personal_sent", personal.Sent)
		if broadcast != nil {
			ev = ev.Int64("broadcast_id", broadcast.JobID).Int("broadcast_sent", broadcast.Sent)
		}
		ev.Msg("tick done")
	}

	return res, errors.Join(perr, berr)
}

func (d *Dispatcher) sweepPersonal(ctx context.Context, log zerolog.Logger, now time.Time) (PersonalResult, error) {
	var res PersonalResult

	entries, err := d.schedules.ListDuePersonalEntries(ctx, now)
	if err != nil {
		return res, err
	}
	res.Due = len(entries)
	if len(entries) == 0 {
		return res, nil
	}

	batch := make([]Delivery, 0, len(entries))
	for _, e := range entries {
		done, err := d.cache.Delivered(ctx, cache.PersonalKey(e.ID))
		if err != nil {
			log.Warn().Err(err).Int64("entry_id", e.ID).Msg("delivery cache lookup failed")
		}
		if !done {
			batch = append(batch, Delivery{ID: e.ID, Recipient: e.ContactID, Payload: e.Payload})
			continue
		}
		if err := d.markPersonal(ctx, log, e.ID); err != nil {
			return res, err
		}
		res.Deduped++
	}

	sender := d.sender.WithHooks(
		func(ctx context.Context, dl Delivery) error {
			if err := d.cache.MarkDelivered(ctx, cache.PersonalKey(dl.ID), d.now()); err != nil {
				log.Warn().Err(err).Int64("entry_id", dl.ID).Msg("delivery cache write failed")
			}
			return d.markPersonal(ctx, log, dl.ID)
		},
		func(ctx context.Context, dl Delivery, err error) error {
			logAttempt(log, dl, err).Int64("entry_id", dl.ID).Msg("personal delivery failed")
			return d.markPersonal(ctx, log, dl.ID)
		},
	)

	br, err := sender.ProcessBatch(ctx, batch)
	res.BatchResult = br
	return res, err
}

// markPersonal sets sent=true. An entry deleted since it was listed is not
// an error.
func (d *Dispatcher) markPersonal(ctx context.Context, log zerolog.Logger, id int64) error {
	err := d.schedules.MarkPersonalEntrySent(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		log.Warn().Int64("entry_id", id).Msg("personal entry vanished before mark")
		return nil
	}
	return err
}

func (d *Dispatcher) sweepBroadcast(ctx context.Context, log zerolog.Logger, now time.Time) (*BroadcastResult, error) {
	jobs, err := d.schedules.ListDueBroadcastJobs(ctx, now, 1)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	job := jobs[0]
	log = log.With().Int64("broadcast_id", job.ID).Logger()

	contacts, err := d.resolveRecipients(ctx, job)
	if err != nil {
		return nil, err
	}

	if err := d.schedules.TransitionBroadcastJob(ctx, job.ID, model.Sending); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			log.Warn().Msg("broadcast already claimed, skipping")
			return nil, nil
		}
		return nil, err
	}

	res := &BroadcastResult{JobID: job.ID, Recipients: len(contacts)}

	// A payload that cannot be sent fails every recipient the same way;
	// close the job so it does not hold up the queue.
	payloadErr := errors.New("payload is required")
	if job.Payload != nil {
		payloadErr = job.Payload.Validate()
	}
	if payloadErr != nil {
		log.Error().Err(payloadErr).Msg("broadcast payload invalid, closing without sending")
		res.Failed = len(contacts)
		return res, d.schedules.FinalizeBroadcastJob(context.WithoutCancel(ctx), job.ID, 0)
	}

	log.Info().Int("recipients", len(contacts)).Str("title", job.Title).Msg("broadcast sending")

	batch := make([]Delivery, 0, len(contacts))
	for _, c := range contacts {
		batch = append(batch, Delivery{ID: c.ID, Recipient: c.ID, Payload: job.Payload})
	}

	sender := d.sender.WithHooks(nil, func(_ context.Context, dl Delivery, err error) error {
		logAttempt(log, dl, err).Msg("broadcast delivery failed")
		return nil
	})
	br, _ := sender.ProcessBatch(ctx, batch)
	res.BatchResult = br

	if br.Skipped > 0 {
		res.Interrupted = true
		log.Warn().
			Int("attempted", br.Attempted()).
			Int("skipped", br.Skipped).
			Msg("broadcast interrupted, left in sending")
		return res, nil
	}

	if err := d.schedules.FinalizeBroadcastJob(context.WithoutCancel(ctx), job.ID, br.Sent); err != nil {
		return res, err
	}

	log.Info().
		Int("sent", br.Sent).
		Int("unreachable", br.Unreachable).
		Int("failed", br.Failed).
		Msg("broadcast sent")
	return res, nil
}

func (d *Dispatcher) resolveRecipients(ctx context.Context, job model.BroadcastJob) ([]model.Contact, error) {
	if job.SegmentID == nil {
		return d.recipients.ListAllContacts(ctx)
	}
	return d.recipients.ListContactsBySegment(ctx, *job.SegmentID)
}

// logAttempt picks the level by failure kind. Unreachable recipients are
// expected and stay at debug.
func logAttempt(log zerolog.Logger, dl Delivery, err error) *zerolog.Event {
	var ev *zerolog.Event
	switch delivery.KindOf(err) {
	case delivery.Unreachable:
		ev = log.Debug()
	case delivery.Invalid:
		ev = log.Error()
	default:
		ev = log.Warn()
	}
	return ev.Err(err).
		Int64("recipient", dl.Recipient).
		Str("kind", delivery.KindOf(err).String())
}
