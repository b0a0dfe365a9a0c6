// Package bot is the chat front end: deep-link registration, the stage menu
// and enrollment buttons. Handlers are thin; the logic lives in methods that
// return a Reply so it can be tested without Telegram.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeventeLantos/funnel-messaging/internal/funnel"
	"github.com/LeventeLantos/funnel-messaging/internal/model"
	"github.com/LeventeLantos/funnel-messaging/internal/repo"
	"github.com/LeventeLantos/funnel-messaging/internal/stage"
)

const (
	enrollPrefix   = "enroll:"
	feedbackPrefix = "feedback:"

	defaultMenuText = "Choose what you are interested in:"
	errorText       = "Something went wrong, please try again later."
)

type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

type Button struct {
	Text string
	Data string
}

type Reply struct {
	Text    string
	Buttons []Button
}

type Bot struct {
	funnels    *funnel.Orchestrator
	recipients repo.RecipientStore
	schedules  repo.ScheduleStore
	content    repo.ContentStore
	isAdmin    func(int64) bool
	log        zerolog.Logger
	now        func() time.Time
}

func New(
	funnels *funnel.Orchestrator,
	recipients repo.RecipientStore,
	schedules repo.ScheduleStore,
	content repo.ContentStore,
	isAdmin func(int64) bool,
	log zerolog.Logger,
) *Bot {
	if isAdmin == nil {
		isAdmin = func(int64) bool { return false }
	}
	return &Bot{
		funnels:    funnels,
		recipients: recipients,
		schedules:  schedules,
		content:    content,
		isAdmin:    isAdmin,
		log:        log.With().Str("comp", "bot").Logger(),
		now:        time.Now,
	}
}

func (b *Bot) WithClock(now func() time.Time) *Bot {
	b.now = now
	return b
}

// Start registers the user and, when payload names a funnel, enrolls them.
// Unknown payloads are ignored. The reply is always the current stage menu.
func (b *Bot) Start(ctx context.Context, u User, payload string) (Reply, error) {
	if _, err := b.register(ctx, u); err != nil {
		return Reply{}, err
	}

	label := strings.TrimSpace(payload)
	if label != "" {
		if _, ok := b.funnels.Config().Funnel(label); ok {
			if _, err := b.funnels.Enroll(ctx, u.ID, label); err != nil {
				return Reply{}, err
			}
		} else {
			b.log.Debug().Int64("contact_id", u.ID).Str("payload", label).Msg("unknown deep link ignored")
		}
	}

	return b.Menu(ctx)
}

// Menu is the welcome text of the active stage with one button per open
// funnel.
func (b *Bot) Menu(ctx context.Context) (Reply, error) {
	cfg := b.funnels.Config()
	id, ok := b.funnels.CurrentStage(b.now())
	if !ok {
		return Reply{Text: cfg.FallbackText}, nil
	}

	text, err := b.stageText(ctx, id)
	if err != nil {
		return Reply{}, err
	}

	var buttons []Button
	for _, f := range b.funnels.FunnelsFor(id) {
		caption := f.Button
		if caption == "" {
			caption = f.Label
		}
		buttons = append(buttons, Button{Text: caption, Data: enrollPrefix + f.Label})
	}
	return Reply{Text: text, Buttons: buttons}, nil
}

func (b *Bot) stageText(ctx context.Context, id stage.ID) (string, error) {
	c, err := b.content.GetStageContent(ctx, string(id))
	if errors.Is(err, repo.ErrNotFound) {
		return defaultMenuText, nil
	}
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, 2)
	for _, s := range []string{c.WelcomeText, c.MenuText} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return defaultMenuText, nil
	}
	return strings.Join(parts, "\n\n"), nil
}

// Callback handles inline button data. Unknown data yields an empty reply.
func (b *Bot) Callback(ctx context.Context, u User, data string) (Reply, error) {
	data = strings.TrimSpace(data)
	switch {
	case strings.HasPrefix(data, enrollPrefix):
		return b.enroll(ctx, u, strings.TrimPrefix(data, enrollPrefix))
	case strings.HasPrefix(data, feedbackPrefix):
		return b.feedbackChoice(ctx, u, strings.TrimPrefix(data, feedbackPrefix))
	default:
		return Reply{}, nil
	}
}

// enroll is idempotent per segment: a second tap on the same button does
// not schedule the plan twice.
func (b *Bot) enroll(ctx context.Context, u User, label string) (Reply, error) {
	f, ok := b.funnels.Config().Funnel(label)
	if !ok {
		return Reply{Text: "This program is no longer available."}, nil
	}

	c, err := b.register(ctx, u)
	if err != nil {
		return Reply{}, err
	}

	seg, err := b.recipients.GetSegmentByName(ctx, f.Segment)
	switch {
	case err == nil && c.SegmentID != nil && *c.SegmentID == seg.ID:
		return Reply{Text: "You are already signed up."}, nil
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		return Reply{}, err
	}

	if _, err := b.funnels.Enroll(ctx, u.ID, f.Label); err != nil {
		return Reply{}, err
	}
	return Reply{Text: "You are signed up. Watch this chat for the next messages."}, nil
}

// Feedback shows the feedback options configured for the active stage.
func (b *Bot) Feedback(ctx context.Context) (Reply, error) {
	id, ok := b.funnels.CurrentStage(b.now())
	if !ok {
		return Reply{Text: b.funnels.Config().FallbackText}, nil
	}

	opts, err := b.content.GetFeedbackOptions(ctx, string(id))
	if errors.Is(err, repo.ErrNotFound) {
		return Reply{Text: "Feedback is not open yet."}, nil
	}
	if err != nil {
		return Reply{}, err
	}

	var buttons []Button
	for i, o := range opts.Options {
		if strings.TrimSpace(o) == "" {
			continue
		}
		buttons = append(buttons, Button{Text: o, Data: feedbackPrefix + strconv.Itoa(i+1)})
	}
	return Reply{Text: "How did it go?", Buttons: buttons}, nil
}

func (b *Bot) feedbackChoice(ctx context.Context, u User, raw string) (Reply, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 3 {
		return Reply{}, nil
	}

	st, _ := b.funnels.CurrentStage(b.now())
	opts, err := b.content.GetFeedbackOptions(ctx, string(st))
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return Reply{}, err
	}

	b.log.Info().
		Int64("contact_id", u.ID).
		Str("stage", string(st)).
		Int("option", n).
		Str("answer", opts.Options[n-1]).
		Msg("feedback received")
	return Reply{Text: "Thank you for the feedback!"}, nil
}

func (b *Bot) MyID(u User) Reply {
	return Reply{Text: fmt.Sprintf("Your chat id: %d", u.ID)}
}

// Admin is a read-only status summary. Non-admins get a refusal.
func (b *Bot) Admin(ctx context.Context, u User) (Reply, error) {
	if !b.isAdmin(u.ID) {
		return Reply{Text: "This command is for administrators."}, nil
	}

	pending, err := b.schedules.CountPendingPersonalEntries(ctx)
	if err != nil {
		return Reply{}, err
	}
	jobs, err := b.schedules.ListBroadcastJobs(ctx, 5, 0)
	if err != nil {
		return Reply{}, err
	}

	now := b.now()
	cfg := b.funnels.Config()

	var sb strings.Builder
	if id, ok := b.funnels.CurrentStage(now); ok {
		fmt.Fprintf(&sb, "Stage: %s\n", id)
	} else {
		sb.WriteString("Stage: none\n")
	}
	fmt.Fprintf(&sb, "Pending personal messages: %d\n", pending)

	if len(jobs) == 0 {
		sb.WriteString("Broadcasts: none")
		return Reply{Text: sb.String()}, nil
	}
	sb.WriteString("Latest broadcasts:")
	for _, j := range jobs {
		fmt.Fprintf(&sb, "\n#%d %s [%s] due %s sent %d",
			j.ID, j.Title, j.EffectiveStatus(),
			cfg.InZone(j.DueAt).Format(model.DueTimeLayout), j.SentCount)
	}
	return Reply{Text: sb.String()}, nil
}

func (b *Bot) register(ctx context.Context, u User) (model.Contact, error) {
	return b.recipients.UpsertContact(ctx, model.Contact{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	})
}
