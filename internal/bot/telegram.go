package bot

import (
	"context"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Register wires the handlers into a telebot instance. Each update gets its
// own timeout derived from ctx.
func (b *Bot) Register(ctx context.Context, tb *tele.Bot, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	run := func(c tele.Context, fn func(context.Context, User) (Reply, error)) error {
		if c.Sender() == nil {
			return nil
		}
		uctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		r, err := fn(uctx, userOf(c.Sender()))
		if err != nil {
			b.log.Error().Err(err).Int64("contact_id", c.Sender().ID).Msg("update failed")
			return c.Send(errorText)
		}
		if r.Text == "" {
			return nil
		}
		return c.Send(r.Text, r.sendOptions()...)
	}

	tb.Handle("/start", func(c tele.Context) error {
		return run(c, func(ctx context.Context, u User) (Reply, error) {
			return b.Start(ctx, u, c.Message().Payload)
		})
	})
	tb.Handle("/menu", func(c tele.Context) error {
		return run(c, func(ctx context.Context, _ User) (Reply, error) { return b.Menu(ctx) })
	})
	tb.Handle("/feedback", func(c tele.Context) error {
		return run(c, func(ctx context.Context, _ User) (Reply, error) { return b.Feedback(ctx) })
	})
	tb.Handle("/myid", func(c tele.Context) error {
		return run(c, func(_ context.Context, u User) (Reply, error) { return b.MyID(u), nil })
	})
	tb.Handle("/admin", func(c tele.Context) error {
		return run(c, b.Admin)
	})

	tb.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		_ = c.Respond()
		return run(c, func(ctx context.Context, u User) (Reply, error) {
			return b.Callback(ctx, u, cb.Data)
		})
	})
}

func userOf(s *tele.User) User {
	return User{
		ID:        s.ID,
		Username:  s.Username,
		FirstName: s.FirstName,
		LastName:  s.LastName,
	}
}

func (r Reply) markup() *tele.ReplyMarkup {
	if len(r.Buttons) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(r.Buttons))
	for _, btn := range r.Buttons {
		rows = append(rows, rm.Row(tele.Btn{Text: btn.Text, Data: btn.Data}))
	}
	rm.Inline(rows...)
	return rm
}

func (r Reply) sendOptions() []interface{} {
	if rm := r.markup(); rm != nil {
		return []interface{}{rm}
	}
	return nil
}
