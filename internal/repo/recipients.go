package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/LeventeLantos/funnel-messaging/internal/model"
)

var contactColumns = []string{
	"id", "username", "first_name", "last_name", "phone", "segment_id", "registered_at",
}

func scanContact(r rowScanner) (model.Contact, error) {
	var (
		c                                  model.Contact
		username, firstName, lastName, tel sql.NullString
		segmentID                          sql.NullInt64
	)
	if err := r.Scan(&c.ID, &username, &firstName, &lastName, &tel, &segmentID, &c.RegisteredAt); err != nil {
		return c, err
	}
	c.Username = username.String
	c.FirstName = firstName.String
	c.LastName = lastName.String
	c.Phone = tel.String
	if segmentID.Valid {
		id := segmentID.Int64
		c.SegmentID = &id
	}
	c.RegisteredAt = c.RegisteredAt.UTC()
	return c, nil
}

// UpsertContact inserts the contact if it is new and returns the stored row.
// An existing contact is left unchanged.
func (s *SQLStore) UpsertContact(ctx context.Context, c model.Contact) (model.Contact, error) {
	if c.ID == 0 {
		return c, &model.ValidationError{Field: "contact", Reason: "contact id is required"}
	}
	if c.RegisteredAt.IsZero() {
		c.RegisteredAt = s.now()
	}

	query, args, err := s.sb.Insert("contacts").
		Columns(contactColumns...).
		Values(c.ID, nullString(c.Username), nullString(c.FirstName), nullString(c.LastName),
			nullString(c.Phone), nullInt(c.SegmentID), c.RegisteredAt.UTC()).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return c, storeErr("upsert contact", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return c, storeErr("upsert contact", err)
	}
	return s.GetContact(ctx, c.ID)
}

func (s *SQLStore) GetContact(ctx context.Context, id int64) (model.Contact, error) {
	query, args, err := s.sb.Select(contactColumns...).
		From("contacts").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return model.Contact{}, storeErr("get contact", err)
	}
	c, err := scanContact(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Contact{}, ErrNotFound
	}
	if err != nil {
		return model.Contact{}, storeErr("get contact", err)
	}
	return c, nil
}

func (s *SQLStore) ListContactsBySegment(ctx context.Context, segmentID int64) ([]model.Contact, error) {
	return s.listContacts(ctx, "list segment contacts", sq.Eq{"segment_id": segmentID}, 0, 0)
}

func (s *SQLStore) ListAllContacts(ctx context.Context) ([]model.Contact, error) {
	return s.listContacts(ctx, "list contacts", nil, 0, 0)
}

// ListContacts pages through contacts by id, optionally limited to one
// segment. A non-positive limit defaults to 50.
func (s *SQLStore) ListContacts(ctx context.Context, segmentID *int64, limit, offset int) ([]model.Contact, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var where sq.Sqlizer
	if segmentID != nil {
		where = sq.Eq{"segment_id": *segmentID}
	}
	return s.listContacts(ctx, "list contacts page", where, limit, offset)
}

// listContacts returns every match when limit is zero.
func (s *SQLStore) listContacts(ctx context.Context, op string, where sq.Sqlizer, limit, offset int) ([]model.Contact, error) {
	sel := s.sb.Select(contactColumns...).From("contacts").OrderBy("id ASC")
	if where != nil {
		sel = sel.Where(where)
	}
	if limit > 0 {
		sel = sel.Limit(uint64(limit)).Offset(uint64(offset))
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, storeErr(op, err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, c)
	}
	return out, storeErr(op, rows.Err())
}

// SetContactSegment moves a contact into a segment, or out of any segment
// when segmentID is nil.
func (s *SQLStore) SetContactSegment(ctx context.Context, contactID int64, segmentID *int64) error {
	return s.setSegment(ctx, s.db, contactID, segmentID)
}

func (s *SQLStore) setSegment(ctx context.Context, q queryer, contactID int64, segmentID *int64) error {
	query, args, err := s.sb.Update("contacts").
		Set("segment_id", nullInt(segmentID)).
		Where(sq.Eq{"id": contactID}).
		ToSql()
	if err != nil {
		return storeErr("set contact segment", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("set contact segment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("set contact segment", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) CreateSegment(ctx context.Context, name, description string) (model.Segment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Segment{}, &model.ValidationError{Field: "segment", Reason: "name is required"}
	}

	query, args, err := s.sb.Insert("segments").
		Columns("name", "description", "created_at").
		Values(name, description, s.now()).
		Suffix("ON CONFLICT (name) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return model.Segment{}, storeErr("create segment", err)
	}

	seg := model.Segment{Name: name, Description: description}
	switch err := s.db.QueryRowContext(ctx, query, args...).Scan(&seg.ID); {
	case errors.Is(err, sql.ErrNoRows):
		return model.Segment{}, ErrConflict
	case err != nil:
		return model.Segment{}, storeErr("create segment", err)
	}
	return seg, nil
}

func (s *SQLStore) EnsureSegment(ctx context.Context, name string) (model.Segment, error) {
	seg, err := s.GetSegmentByName(ctx, name)
	if !errors.Is(err, ErrNotFound) {
		return seg, err
	}
	seg, err = s.CreateSegment(ctx, name, "")
	if errors.Is(err, ErrConflict) {
		// created concurrently
		return s.GetSegmentByName(ctx, name)
	}
	return seg, err
}

func (s *SQLStore) GetSegmentByName(ctx context.Context, name string) (model.Segment, error) {
	query, args, err := s.sb.Select("id", "name", "description").
		From("segments").
		Where(sq.Eq{"name": strings.TrimSpace(name)}).
		ToSql()
	if err != nil {
		return model.Segment{}, storeErr("get segment", err)
	}
	var seg model.Segment
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&seg.ID, &seg.Name, &seg.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Segment{}, ErrNotFound
	}
	if err != nil {
		return model.Segment{}, storeErr("get segment", err)
	}
	return seg, nil
}

func (s *SQLStore) ListSegments(ctx context.Context) ([]model.Segment, error) {
	query, args, err := s.sb.Select("id", "name", "description").
		From("segments").
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, storeErr("list segments", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list segments", err)
	}
	defer rows.Close()

	var out []model.Segment
	for rows.Next() {
		var seg model.Segment
		if err := rows.Scan(&seg.ID, &seg.Name, &seg.Description); err != nil {
			return nil, storeErr("list segments", err)
		}
		out = append(out, seg)
	}
	return out, storeErr("list segments", rows.Err())
}

// DeleteSegment removes a segment. Its members drop back to no segment. A
// segment still targeted by any broadcast job is kept and ErrConflict is
// returned.
func (s *SQLStore) DeleteSegment(ctx context.Context, id int64) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query, args, err := s.sb.Select("COUNT(*)").
			From("broadcast_jobs").
			Where(sq.Eq{"segment_id": id}).
			ToSql()
		if err != nil {
			return err
		}
		var refs int
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&refs); err != nil {
			return err
		}
		if refs > 0 {
			return ErrConflict
		}

		// Cleared here too so the result does not depend on the driver
		// enforcing ON DELETE SET NULL.
		if err := s.clearSegment(ctx, tx, id); err != nil {
			return err
		}

		query, args, err = s.sb.Delete("segments").Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return err
	}
	return storeErr("delete segment", err)
}

func (s *SQLStore) clearSegment(ctx context.Context, q queryer, id int64) error {
	query, args, err := s.sb.Update("contacts").
		Set("segment_id", nil).
		Where(sq.Eq{"segment_id": id}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, query, args...)
	return err
}
