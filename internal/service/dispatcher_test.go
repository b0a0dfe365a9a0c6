package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/funnel-messaging/internal/cache"
	"github.com/LeventeLantos/funnel-messaging/internal/model"
	"github.com/LeventeLantos/funnel-messaging/internal/repo"
	"github.com/LeventeLantos/funnel-messaging/internal/service"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newDispatcher(st *repo.SQLStore, c *fakeClient, clk *clock, workers int) *service.Dispatcher {
	sender := service.NewSender(c, service.SenderOptions{Workers: workers, Timeout: time.Second})
	return service.NewDispatcher(st, st, sender, nopLogger()).WithClock(clk.Now)
}

func seedContacts(t *testing.T, st *repo.SQLStore, segment *int64, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, err := st.UpsertContact(context.Background(), model.Contact{ID: id, SegmentID: segment})
		require.NoError(t, err)
	}
}

func TestDispatcher_PastDueEntrySentExactlyOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)
	seedContacts(t, st, nil, 42)

	due := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	entry, err := st.CreatePersonalEntry(ctx, model.PersonalEntry{
		ContactID: 42, Payload: model.Text{Body: "welcome"}, DueAt: due,
	})
	require.NoError(t, err)

	c := newFakeClient()
	clk := &clock{t: due.Add(-3 * time.Minute)}
	d := newDispatcher(st, c, clk, 2)

	// empty ticks before the entry is due
	for i := 0; i < 3; i++ {
		res, err := d.Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Personal.Due)
		clk.t = clk.t.Add(time.Minute)
	}
	assert.Empty(t, c.Calls())

	clk.t = due.Add(5 * time.Minute)
	res, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Personal.Due)
	assert.Equal(t, 1, res.Personal.Sent)
	assert.Equal(t, []int64{42}, c.Calls())

	for i := 0; i < 2; i++ {
		clk.t = clk.t.Add(time.Minute)
		_, err = d.Tick(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []int64{42}, c.Calls())

	n, err := st.CountPendingPersonalEntries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.ErrorIs(t, st.DeletePersonalEntry(ctx, entry.ID), repo.ErrConflict, "entry must be marked sent")
}

func TestDispatcher_PersonalEntryMarkedSentOnFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)
	seedContacts(t, st, nil, 1, 2, 3)

	due := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	for _, id := range []int64{1, 2, 3} {
		_, err := st.CreatePersonalEntry(ctx, model.PersonalEntry{ContactID: id, Payload: model.Text{Body: "x"}, DueAt: due})
		require.NoError(t, err)
	}

	c := newFakeClient()
	c.errs[1] = flaky()
	c.errs[2] = blocked()

	d := newDispatcher(st, c, &clock{t: due}, 3)
	res, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Personal.Sent)
	assert.Equal(t, 1, res.Personal.Failed)
	assert.Equal(t, 1, res.Personal.Unreachable)

	due2, err := st.ListDuePersonalEntries(ctx, due.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due2, "no retry: every attempted entry is marked sent")

	_, err = d.Tick(ctx)
	require.NoError(t, err)
	assert.Len(t, c.Calls(), 3)
}

func TestDispatcher_EmptyTickIsNoOp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)
	seedContacts(t, st, nil, 1)

	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := st.CreatePersonalEntry(ctx, model.PersonalEntry{ContactID: 1, Payload: model.Text{Body: "later"}, DueAt: future})
	require.NoError(t, err)
	job, err := st.CreateBroadcastJob(ctx, model.BroadcastJob{Title: "later", Payload: model.Text{Body: "x"}, DueAt: future})
	require.NoError(t, err)

	c := newFakeClient()
	d := newDispatcher(st, c, &clock{t: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)}, 1)

	for i := 0; i < 2; i++ {
		res, err := d.Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Personal.Due)
		assert.Nil(t, res.Broadcast)
	}
	assert.Empty(t, c.Calls())

	got, err := st.GetBroadcastJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Pending, got.EffectiveStatus())
	assert.True(t, got.UpdatedAt.Equal(job.UpdatedAt))

	n, err := st.CountPendingPersonalEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDispatcher_BroadcastEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	challenge, err := st.CreateSegment(ctx, "challenge", "")
	require.NoError(t, err)
	seedContacts(t, st, &challenge.ID, 101, 102, 103)
	seedContacts(t, st, nil, 900)

	due := time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC)
	job, err := st.CreateBroadcastJob(ctx, model.BroadcastJob{
		Title:     "Challenge day 3",
		Payload:   model.Text{Body: "Day 3 starts now"},
		SegmentID: &challenge.ID,
		DueAt:     due,
	})
	require.NoError(t, err)

	c := newFakeClient()
	c.errs[102] = blocked()

	d := newDispatcher(st, c, &clock{t: due}, 2)
	res, err := d.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Broadcast)
	assert.Equal(t, job.ID, res.Broadcast.JobID)
	assert.False(t, res.Broadcast.Interrupted)

	got, err := st.GetBroadcastJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Sent, got.EffectiveStatus())
	assert.True(t, got.IsSent)
	assert.Equal(t, 2, got.SentCount)

	assert.ElementsMatch(t, []int64{101, 102, 103}, c.Calls())

	// a sent job is never picked again
	res, err = d.Tick(ctx)
	require.NoError(t, err)
	assert.Nil(t, res.Broadcast)
	assert.Len(t, c.Calls(), 3)
}

func TestDispatcher_BroadcastWithoutSegmentReachesEveryone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	seg, err := st.CreateSegment(ctx, "webinar", "")
	require.NoError(t, err)
	seedContacts(t, st, &seg.ID, 1, 2)
	seedContacts(t, st, nil, 3)

	due := time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC)
	_, err = st.CreateBroadcastJob(ctx, model.BroadcastJob{Title: "all", Payload: model.Text{Body: "x"}, DueAt: due})
	require.NoError(t, err)

	c := newFakeClient()
	d := newDispatcher(st, c, &clock{t: due}, 4)
	_, err = d.Tick(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, c.Calls())
}

func TestDispatcher_KOfNUnreachable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)
	seedContacts(t, st, nil, 1, 2, 3, 4, 5)

	due := time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC)
	job, err := st.CreateBroadcastJob(ctx, model.BroadcastJob{
		Title:   "promo",
		Payload: model.Media{Caption: "look", Ref: "AgAC", Kind: model.MediaImage},
		DueAt:   due,
	})
	require.NoError(t, err)

	c := newFakeClient()
	c.errs[2] = blocked()
	c.errs[4] = blocked()

	d := newDispatcher(st, c, &clock{t: due.Add(time.Minute)}, 3)
	res, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Broadcast.Unreachable)
	assert.Zero(t, res.Broadcast.Failed)

	got, err := st.GetBroadcastJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Sent, got.EffectiveStatus())
	assert.Equal(t, 3, got.SentCount)
}

func TestDispatcher_OneBroadcastPerTickEarliestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)
	seedContacts(t, st, nil, 1)

	base := time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC)
	later, err := st.CreateBroadcastJob(ctx, model.BroadcastJob{Title: "b", Payload: model.Text{Body: "b"}, DueAt: base.Add(time.Minute)})
	require.NoError(t, err)
	earlier, err := st.CreateBroadcastJob(ctx, model.BroadcastJob{Title: "a", Payload: model.Text{Body: "a"}, DueAt: base})
	require.NoError(t, err)

	d := newDispatcher(st, newFakeClient(), &clock{t: base.Add(time.Hour)}, 1)

	res, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, earlier.ID, res.Broadcast.JobID)

	res, err = d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, later.ID, res.Broadcast.JobID)
}

func TestDispatcher_CacheMarkerPreventsRedelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)
	seedContacts(t, st, nil, 7)

	due := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	entry, err := st.CreatePersonalEntry(ctx, model.PersonalEntry{ContactID: 7, Payload: model.Text{Body: "x"}, DueAt: due})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	rc := cache.NewRedisCache(rdb, time.Hour)

	// delivered before a crash, but never marked sent
	require.NoError(t, rc.MarkDelivered(ctx, cache.PersonalKey(entry.ID), due))

	c := newFakeClient()
	d := newDispatcher(st, c, &clock{t: due}, 1).WithCache(rc)
	res, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Personal.Deduped)
	assert.Empty(t, c.Calls())

	n, err := st.CountPendingPersonalEntries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatcher_InterruptedBroadcastStaysSending(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	seedContacts(t, st, nil, 1, 2, 3)

	due := time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC)
	job, err := st.CreateBroadcastJob(context.Background(), model.BroadcastJob{Title: "x", Payload: model.Text{Body: "x"}, DueAt: due})
	require.NoError(t, err)

	c := newFakeClient()
	c.started = make(chan int64, 3)
	c.release = make(chan struct{})

	d := newDispatcher(st, c, &clock{t: due}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type tickOut struct {
		res service.TickResult
		err error
	}
	done := make(chan tickOut, 1)
	go func() {
		res, err := d.Tick(ctx)
		done <- tickOut{res, err}
	}()

	<-c.started
	cancel()
	close(c.release)

	var out tickOut
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "tick did not return after shutdown")
	}
	require.NoError(t, out.err)
	require.NotNil(t, out.res.Broadcast)
	assert.True(t, out.res.Broadcast.Interrupted)
	assert.Positive(t, out.res.Broadcast.Skipped)

	got, err := st.GetBroadcastJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Sending, got.EffectiveStatus())
	assert.False(t, got.IsSent)
}

// failingMarks makes every MarkPersonalEntrySent fail like a lost database.
type failingMarks struct {
	*repo.SQLStore
}

func (f failingMarks) MarkPersonalEntrySent(context.Context, int64) error {
	return &repo.StoreError{Op: "mark personal entry sent", Err: errors.New("connection refused")}
}

func TestDispatcher_StoreErrorAbortsPersonalSweepOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)
	seedContacts(t, st, nil, 1, 2, 3, 4)

	due := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	for _, id := range []int64{1, 2, 3} {
		_, err := st.CreatePersonalEntry(ctx, model.PersonalEntry{ContactID: id, Payload: model.Text{Body: "x"}, DueAt: due})
		require.NoError(t, err)
	}
	job, err := st.CreateBroadcastJob(ctx, model.BroadcastJob{Title: "x", Payload: model.Text{Body: "x"}, DueAt: due})
	require.NoError(t, err)

	c := newFakeClient()
	sender := service.NewSender(c, service.SenderOptions{Workers: 1, Timeout: time.Second})
	d := service.NewDispatcher(failingMarks{st}, st, sender, nopLogger()).WithClock((&clock{t: due}).Now)

	res, err := d.Tick(ctx)
	require.Error(t, err)
	assert.True(t, repo.IsStoreError(err))
	assert.Positive(t, res.Personal.Skipped, "sweep stops after the failed mark")

	// the broadcast sweep still ran
	require.NotNil(t, res.Broadcast)
	got, err := st.GetBroadcastJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Sent, got.EffectiveStatus())
	assert.Equal(t, 4, got.SentCount)
}

// corruptMedia rewrites a stored row so its payload no longer decodes.
func corruptMedia(t *testing.T, st *repo.SQLStore, table string, id int64) {
	t.Helper()
	_, err := st.DB().ExecContext(context.Background(),
		"UPDATE "+table+" SET media_ref = 'AgAD', media_kind = 'audio' WHERE id = ?", id)
	require.NoError(t, err)
}

func TestDispatcher_UndecodableEntryDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)
	seedContacts(t, st, nil, 1, 2)

	due := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	bad, err := st.CreatePersonalEntry(ctx, model.PersonalEntry{ContactID: 1, Payload: model.Text{Body: "x"}, DueAt: due})
	require.NoError(t, err)
	_, err = st.CreatePersonalEntry(ctx, model.PersonalEntry{ContactID: 2, Payload: model.Text{Body: "y"}, DueAt: due})
	require.NoError(t, err)
	corruptMedia(t, st, "personal_entries", bad.ID)

	c := newFakeClient()
	d := newDispatcher(st, c, &clock{t: due}, 2)

	res, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Personal.Due)
	assert.Equal(t, 1, res.Personal.Sent)
	assert.Equal(t, 1, res.Personal.Failed)
	assert.Equal(t, []int64{2}, c.Calls(), "the undecodable entry never reaches the client")

	res, err = d.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Personal.Due, "the undecodable entry is retired, not retried")

	n, err := st.CountPendingPersonalEntries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatcher_UndecodableBroadcastIsClosed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)
	seedContacts(t, st, nil, 1, 2)

	due := time.Date(2025, 11, 5, 4, 0, 0, 0, time.UTC)
	bad, err := st.CreateBroadcastJob(ctx, model.BroadcastJob{Title: "bad", Payload: model.Text{Body: "x"}, DueAt: due})
	require.NoError(t, err)
	good, err := st.CreateBroadcastJob(ctx, model.BroadcastJob{Title: "good", Payload: model.Text{Body: "y"}, DueAt: due.Add(time.Minute)})
	require.NoError(t, err)
	corruptMedia(t, st, "broadcast_jobs", bad.ID)

	c := newFakeClient()
	d := newDispatcher(st, c, &clock{t: due.Add(time.Hour)}, 2)

	res, err := d.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Broadcast)
	assert.Equal(t, bad.ID, res.Broadcast.JobID)
	assert.Equal(t, 2, res.Broadcast.Failed)
	assert.Empty(t, c.Calls())

	got, err := st.GetBroadcastJob(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Sent, got.EffectiveStatus())
	assert.Zero(t, got.SentCount)

	res, err = d.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Broadcast)
	assert.Equal(t, good.ID, res.Broadcast.JobID)
	assert.Equal(t, 2, res.Broadcast.Sent)
}
