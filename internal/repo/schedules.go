package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/LeventeLantos/funnel-messaging/internal/model"
)

var personalColumns = []string{
	"id", "contact_id", "body", "media_ref", "media_kind", "due_at", "sent", "created_at",
}

var broadcastColumns = []string{
	"id", "title", "body", "media_ref", "media_kind", "segment_id",
	"due_at", "status", "is_sent", "sent_count", "created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPersonal(r rowScanner) (model.PersonalEntry, error) {
	var (
		e         model.PersonalEntry
		body      string
		mediaRef  sql.NullString
		mediaKind sql.NullString
	)
	if err := r.Scan(&e.ID, &e.ContactID, &body, &mediaRef, &mediaKind, &e.DueAt, &e.Sent, &e.CreatedAt); err != nil {
		return e, err
	}
	e.Payload = decodePayload(body, mediaRef, mediaKind)
	e.DueAt = e.DueAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// decodePayload never fails a scan. A row that no longer parses comes back
// as model.Undecodable so one bad row cannot hide the others.
func decodePayload(body string, mediaRef, mediaKind sql.NullString) model.Payload {
	p, err := model.PayloadFromColumns(body, ptrString(mediaRef), ptrString(mediaKind))
	if err != nil {
		return model.Undecodable{Reason: err.Error()}
	}
	return p
}

func scanBroadcast(r rowScanner) (model.BroadcastJob, error) {
	var (
		j         model.BroadcastJob
		body      string
		mediaRef  sql.NullString
		mediaKind sql.NullString
		segmentID sql.NullInt64
		status    sql.NullString
	)
	if err := r.Scan(
		&j.ID,
		&j.Title,
		&body,
		&mediaRef,
		&mediaKind,
		&segmentID,
		&j.DueAt,
		&status,
		&j.IsSent,
		&j.SentCount,
		&j.CreatedAt,
		&j.UpdatedAt,
	); err != nil {
		return j, err
	}
	j.Payload = decodePayload(body, mediaRef, mediaKind)
	if segmentID.Valid {
		id := segmentID.Int64
		j.SegmentID = &id
	}
	if status.Valid {
		st := model.BroadcastStatus(status.String)
		j.Status = &st
	}
	j.DueAt = j.DueAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return j, nil
}

func (s *SQLStore) insertPersonal(ctx context.Context, q queryer, e model.PersonalEntry) (model.PersonalEntry, error) {
	body, ref, kind := model.PayloadColumns(e.Payload)
	e.DueAt = e.DueAt.UTC()
	e.CreatedAt = s.now()
	e.Sent = false

	query, args, err := s.sb.Insert("personal_entries").
		Columns("contact_id", "body", "media_ref", "media_kind", "due_at", "sent", "created_at").
		Values(e.ContactID, body, nullPtr(ref), nullPtr(kind), e.DueAt, false, e.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return e, err
	}
	if err := q.QueryRowContext(ctx, query, args...).Scan(&e.ID); err != nil {
		return e, err
	}
	return e, nil
}

func (s *SQLStore) CreatePersonalEntry(ctx context.Context, e model.PersonalEntry) (model.PersonalEntry, error) {
	if err := e.Validate(); err != nil {
		return e, err
	}
	out, err := s.insertPersonal(ctx, s.db, e)
	return out, storeErr("create personal entry", err)
}

func (s *SQLStore) CreatePersonalEntries(ctx context.Context, entries []model.PersonalEntry) ([]model.PersonalEntry, error) {
	if err := validateEntries(entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	var out []model.PersonalEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = s.insertPersonalAll(ctx, tx, entries)
		return err
	})
	if err != nil {
		return nil, storeErr("create personal entries", err)
	}
	return out, nil
}

// EnrollContact moves the contact into segmentID and inserts its entries in
// the same transaction. On error the contact keeps its previous segment.
func (s *SQLStore) EnrollContact(ctx context.Context, contactID, segmentID int64, entries []model.PersonalEntry) ([]model.PersonalEntry, error) {
	if err := validateEntries(entries); err != nil {
		return nil, err
	}

	var out []model.PersonalEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.setSegment(ctx, tx, contactID, &segmentID); err != nil {
			return err
		}
		var err error
		out, err = s.insertPersonalAll(ctx, tx, entries)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, storeErr("enroll contact", err)
	}
	return out, nil
}

func validateEntries(entries []model.PersonalEntry) error {
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) insertPersonalAll(ctx context.Context, q queryer, entries []model.PersonalEntry) ([]model.PersonalEntry, error) {
	out := make([]model.PersonalEntry, 0, len(entries))
	for _, e := range entries {
		created, err := s.insertPersonal(ctx, q, e)
		if err != nil {
			return nil, err
		}
		out = append(out, created)
	}
	return out, nil
}

// ListDuePersonalEntries returns unsent entries due at or before now,
// earliest first.
func (s *SQLStore) ListDuePersonalEntries(ctx context.Context, now time.Time) ([]model.PersonalEntry, error) {
	query, args, err := s.sb.Select(personalColumns...).
		From("personal_entries").
		Where(sq.Eq{"sent": false}).
		Where(sq.LtOrEq{"due_at": now.UTC()}).
		OrderBy("due_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, storeErr("list due personal entries", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list due personal entries", err)
	}
	defer rows.Close()

	var out []model.PersonalEntry
	for rows.Next() {
		e, err := scanPersonal(rows)
		if err != nil {
			return nil, storeErr("list due personal entries", err)
		}
		out = append(out, e)
	}
	return out, storeErr("list due personal entries", rows.Err())
}

func (s *SQLStore) MarkPersonalEntrySent(ctx context.Context, id int64) error {
	query, args, err := s.sb.Update("personal_entries").
		Set("sent", true).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return storeErr("mark personal entry sent", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("mark personal entry sent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("mark personal entry sent", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePersonalEntry removes an entry that has not been sent yet.
func (s *SQLStore) DeletePersonalEntry(ctx context.Context, id int64) error {
	query, args, err := s.sb.Delete("personal_entries").
		Where(sq.Eq{"id": id, "sent": false}).
		ToSql()
	if err != nil {
		return storeErr("delete personal entry", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("delete personal entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("delete personal entry", err)
	}
	if n > 0 {
		return nil
	}

	query, args, err = s.sb.Select("sent").From("personal_entries").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return storeErr("delete personal entry", err)
	}
	var sent bool
	switch err := s.db.QueryRowContext(ctx, query, args...).Scan(&sent); {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return storeErr("delete personal entry", err)
	default:
		return ErrConflict
	}
}

func (s *SQLStore) CountPendingPersonalEntries(ctx context.Context) (int, error) {
	query, args, err := s.sb.Select("COUNT(*)").
		From("personal_entries").
		Where(sq.Eq{"sent": false}).
		ToSql()
	if err != nil {
		return 0, storeErr("count personal entries", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storeErr("count personal entries", err)
	}
	return n, nil
}

func (s *SQLStore) CreateBroadcastJob(ctx context.Context, j model.BroadcastJob) (model.BroadcastJob, error) {
	if err := j.Validate(); err != nil {
		return j, err
	}

	body, ref, kind := model.PayloadColumns(j.Payload)
	now := s.now()
	pending := model.Pending
	j.Status = &pending
	j.IsSent = false
	j.SentCount = 0
	j.DueAt = j.DueAt.UTC()
	j.CreatedAt = now
	j.UpdatedAt = now

	query, args, err := s.sb.Insert("broadcast_jobs").
		Columns("title", "body", "media_ref", "media_kind", "segment_id",
			"due_at", "status", "is_sent", "sent_count", "created_at", "updated_at").
		Values(j.Title, body, nullPtr(ref), nullPtr(kind), nullInt(j.SegmentID),
			j.DueAt, string(pending), false, 0, now, now).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return j, storeErr("create broadcast job", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&j.ID); err != nil {
		return j, storeErr("create broadcast job", err)
	}
	return j, nil
}

func (s *SQLStore) GetBroadcastJob(ctx context.Context, id int64) (model.BroadcastJob, error) {
	query, args, err := s.sb.Select(broadcastColumns...).
		From("broadcast_jobs").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return model.BroadcastJob{}, storeErr("get broadcast job", err)
	}
	j, err := scanBroadcast(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.BroadcastJob{}, ErrNotFound
	}
	if err != nil {
		return model.BroadcastJob{}, storeErr("get broadcast job", err)
	}
	return j, nil
}

// ListBroadcastJobs pages through all jobs, newest first.
func (s *SQLStore) ListBroadcastJobs(ctx context.Context, limit, offset int) ([]model.BroadcastJob, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query, args, err := s.sb.Select(broadcastColumns...).
		From("broadcast_jobs").
		OrderBy("id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, storeErr("list broadcast jobs", err)
	}
	return s.queryBroadcasts(ctx, "list broadcast jobs", query, args)
}

// ListDueBroadcastJobs returns pending jobs due at or before now, earliest
// first. A NULL status counts as pending.
func (s *SQLStore) ListDueBroadcastJobs(ctx context.Context, now time.Time, limit int) ([]model.BroadcastJob, error) {
	if limit <= 0 {
		limit = 1
	}
	query, args, err := s.sb.Select(broadcastColumns...).
		From("broadcast_jobs").
		Where(sq.LtOrEq{"due_at": now.UTC()}).
		Where(sq.Or{sq.Eq{"status": nil}, sq.Eq{"status": string(model.Pending)}}).
		Where(sq.Eq{"is_sent": false}).
		OrderBy("due_at ASC", "id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, storeErr("list due broadcast jobs", err)
	}
	return s.queryBroadcasts(ctx, "list due broadcast jobs", query, args)
}

func (s *SQLStore) queryBroadcasts(ctx context.Context, op, query string, args []any) ([]model.BroadcastJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []model.BroadcastJob
	for rows.Next() {
		j, err := scanBroadcast(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, j)
	}
	return out, storeErr(op, rows.Err())
}

// TransitionBroadcastJob moves a job one step forward. The update only
// matches rows in the predecessor status, so a concurrent or repeated
// transition returns ErrConflict instead of overwriting.
func (s *SQLStore) TransitionBroadcastJob(ctx context.Context, id int64, to model.BroadcastStatus) error {
	upd := s.sb.Update("broadcast_jobs").
		Set("status", string(to)).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": id})

	switch to {
	case model.Sending:
		upd = upd.Where(sq.Or{sq.Eq{"status": nil}, sq.Eq{"status": string(model.Pending)}}).
			Where(sq.Eq{"is_sent": false})
	case model.Sent:
		upd = upd.Set("is_sent", true).
			Where(sq.Eq{"status": string(model.Sending)})
	default:
		return &model.ValidationError{Field: "status", Reason: "cannot transition to " + string(to)}
	}

	return s.execTransition(ctx, "transition broadcast job", id, upd)
}

// FinalizeBroadcastJob records the delivered count and marks a sending job
// sent.
func (s *SQLStore) FinalizeBroadcastJob(ctx context.Context, id int64, sentCount int) error {
	if sentCount < 0 {
		return &model.ValidationError{Field: "sent count", Reason: "must not be negative"}
	}
	upd := s.sb.Update("broadcast_jobs").
		Set("status", string(model.Sent)).
		Set("is_sent", true).
		Set("sent_count", sentCount).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": id, "status": string(model.Sending)})

	return s.execTransition(ctx, "finalize broadcast job", id, upd)
}

func (s *SQLStore) execTransition(ctx context.Context, op string, id int64, upd sq.UpdateBuilder) error {
	query, args, err := upd.ToSql()
	if err != nil {
		return storeErr(op, err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(op, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetBroadcastJob(ctx, id); err != nil {
		return err
	}
	return ErrConflict
}
