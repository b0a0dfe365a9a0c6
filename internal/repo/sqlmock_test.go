package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/funnel-messaging/internal/model"
	"github.com/LeventeLantos/funnel-messaging/internal/repo"
)

func newMockStore(t *testing.T) (*repo.SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repo.New(db, repo.Postgres), mock
}

func TestPostgres_UsesDollarPlaceholders(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	now := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM personal_entries WHERE sent = \$1 AND due_at <= \$2 ORDER BY due_at ASC, id ASC`).
		WithArgs(false, now).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "contact_id", "body", "media_ref", "media_kind", "due_at", "sent", "created_at",
		}).AddRow(int64(7), int64(42), "hello", nil, nil, now, false, now))

	due, err := st.ListDuePersonalEntries(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, model.Text{Body: "hello"}, due[0].Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFailuresAreWrapped(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)
	boom := errors.New("connection reset")

	mock.ExpectExec(`UPDATE personal_entries SET sent = \$1 WHERE id = \$2`).
		WithArgs(true, int64(1)).
		WillReturnError(boom)

	err := st.MarkPersonalEntrySent(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, repo.IsStoreError(err))
	assert.ErrorIs(t, err, boom)

	var se *repo.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "mark personal entry sent", se.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionToSending_IsConditional(t *testing.T) {
	t.Parallel()

	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE broadcast_jobs SET status = \$1, updated_at = \$2 WHERE id = \$3 AND \(status IS NULL OR status = \$4\) AND is_sent = \$5`).
		WithArgs("sending", sqlmock.AnyArg(), int64(9), "pending", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, st.TransitionBroadcastJob(context.Background(), 9, model.Sending))
	assert.NoError(t, mock.ExpectationsWereMet())
}
