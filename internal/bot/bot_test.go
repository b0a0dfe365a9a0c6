package bot

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/funnel-messaging/internal/funnel"
	"github.com/LeventeLantos/funnel-messaging/internal/model"
	"github.com/LeventeLantos/funnel-messaging/internal/repo"
)

var (
	stage1Time = time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	stage2Time = time.Date(2025, 11, 8, 6, 0, 0, 0, time.UTC)
	gapTime    = time.Date(2025, 11, 13, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	bot   *Bot
	store *repo.SQLStore
}

func newFixture(t *testing.T, now time.Time, admins ...int64) fixture {
	t.Helper()
	ctx := context.Background()

	st, err := repo.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	clock := func() time.Time { return now }
	orch := funnel.New(funnel.Default(), st, st, zerolog.Nop()).WithClock(clock)
	isAdmin := func(id int64) bool {
		for _, a := range admins {
			if a == id {
				return true
			}
		}
		return false
	}

	b := New(orch, st, st, st, isAdmin, zerolog.Nop()).WithClock(clock)
	return fixture{bot: b, store: st}
}

func pending(t *testing.T, st *repo.SQLStore) int {
	t.Helper()
	n, err := st.CountPendingPersonalEntries(context.Background())
	require.NoError(t, err)
	return n
}

func TestStart_DeepLinkEnrolls(t *testing.T) {
	f := newFixture(t, stage1Time)
	ctx := context.Background()

	r, err := f.bot.Start(ctx, User{ID: 42, Username: "aru"}, "webinar")
	require.NoError(t, err)

	c, err := f.store.GetContact(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "aru", c.Username)
	require.NotNil(t, c.SegmentID)

	seg, err := f.store.GetSegmentByName(ctx, "webinar")
	require.NoError(t, err)
	assert.Equal(t, seg.ID, *c.SegmentID)
	assert.Equal(t, 2, pending(t, f.store))

	assert.Equal(t, defaultMenuText, r.Text)
	require.Len(t, r.Buttons, 1)
	assert.Equal(t, "enroll:webinar", r.Buttons[0].Data)
}

func TestStart_UnknownPayloadOnlyRegisters(t *testing.T) {
	f := newFixture(t, stage1Time)
	ctx := context.Background()

	_, err := f.bot.Start(ctx, User{ID: 7}, "yoga")
	require.NoError(t, err)

	c, err := f.store.GetContact(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, c.SegmentID)
	assert.Equal(t, 0, pending(t, f.store))
}

func TestMenu_UsesStageContent(t *testing.T) {
	f := newFixture(t, stage2Time)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertStageContent(ctx, model.StageContent{
		Stage:       "stage2",
		WelcomeText: "Challenge week!",
		MenuText:    "Pick one:",
	}))

	r, err := f.bot.Menu(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Challenge week!\n\nPick one:", r.Text)
	require.Len(t, r.Buttons, 1)
	assert.Equal(t, Button{Text: "Join the mini challenge", Data: "enroll:challenge"}, r.Buttons[0])
}

func TestMenu_NoActiveStage(t *testing.T) {
	f := newFixture(t, gapTime)

	r, err := f.bot.Menu(context.Background())
	require.NoError(t, err)
	assert.Equal(t, funnel.Default().FallbackText, r.Text)
	assert.Empty(t, r.Buttons)
}

func TestCallback_EnrollOnce(t *testing.T) {
	f := newFixture(t, stage2Time)
	ctx := context.Background()
	u := User{ID: 101, FirstName: "Dana"}

	r, err := f.bot.Callback(ctx, u, "enroll:challenge")
	require.NoError(t, err)
	assert.Contains(t, r.Text, "signed up")
	assert.Equal(t, 3, pending(t, f.store))

	r, err = f.bot.Callback(ctx, u, "enroll:challenge")
	require.NoError(t, err)
	assert.Contains(t, r.Text, "already")
	assert.Equal(t, 3, pending(t, f.store))

	// Switching funnels is an enrollment of its own.
	_, err = f.bot.Callback(ctx, u, "enroll:webinar")
	require.NoError(t, err)
	assert.Equal(t, 5, pending(t, f.store))
}

func TestCallback_UnknownData(t *testing.T) {
	f := newFixture(t, stage1Time)
	ctx := context.Background()

	r, err := f.bot.Callback(ctx, User{ID: 1}, "something:else")
	require.NoError(t, err)
	assert.Empty(t, r.Text)

	r, err = f.bot.Callback(ctx, User{ID: 1}, "enroll:yoga")
	require.NoError(t, err)
	assert.Contains(t, r.Text, "no longer available")
	assert.Equal(t, 0, pending(t, f.store))
}

func TestFeedback(t *testing.T) {
	f := newFixture(t, stage1Time)
	ctx := context.Background()

	r, err := f.bot.Feedback(ctx)
	require.NoError(t, err)
	assert.Empty(t, r.Buttons)

	require.NoError(t, f.store.UpsertFeedbackOptions(ctx, model.FeedbackOptions{
		Stage:   "stage1",
		Options: [3]string{"Great", "", "Not for me"},
	}))

	r, err = f.bot.Feedback(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Button{
		{Text: "Great", Data: "feedback:1"},
		{Text: "Not for me", Data: "feedback:3"},
	}, r.Buttons)

	r, err = f.bot.Callback(ctx, User{ID: 5}, "feedback:3")
	require.NoError(t, err)
	assert.Contains(t, r.Text, "Thank you")

	r, err = f.bot.Callback(ctx, User{ID: 5}, "feedback:9")
	require.NoError(t, err)
	assert.Empty(t, r.Text)
}

func TestMyID(t *testing.T) {
	f := newFixture(t, stage1Time)
	assert.Equal(t, "Your chat id: 42", f.bot.MyID(User{ID: 42}).Text)
}

func TestAdmin(t *testing.T) {
	f := newFixture(t, stage1Time, 900)
	ctx := context.Background()

	r, err := f.bot.Admin(ctx, User{ID: 1})
	require.NoError(t, err)
	assert.Contains(t, r.Text, "administrators")

	_, err = f.bot.Start(ctx, User{ID: 42}, "webinar")
	require.NoError(t, err)
	_, err = f.store.CreateBroadcastJob(ctx, model.BroadcastJob{
		Title:   "Day 3",
		Payload: model.Text{Body: "hi"},
		DueAt:   time.Date(2025, 11, 5, 4, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	r, err = f.bot.Admin(ctx, User{ID: 900})
	require.NoError(t, err)
	assert.Contains(t, r.Text, "Stage: stage1")
	assert.Contains(t, r.Text, "Pending personal messages: 2")
	assert.Contains(t, r.Text, "Day 3 [pending] due 2025-11-05 09:00")
}

func TestReplyMarkup(t *testing.T) {
	assert.Nil(t, Reply{Text: "x"}.markup())
	assert.Empty(t, Reply{Text: "x"}.sendOptions())

	rm := Reply{Buttons: []Button{{Text: "A", Data: "enroll:a"}, {Text: "B", Data: "enroll:b"}}}.markup()
	require.NotNil(t, rm)
	require.Len(t, rm.InlineKeyboard, 2)
	assert.Equal(t, "enroll:a", rm.InlineKeyboard[0][0].Data)
	assert.True(t, strings.HasPrefix(rm.InlineKeyboard[1][0].Text, "B"))
}
