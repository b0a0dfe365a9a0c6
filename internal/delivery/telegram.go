package delivery

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Sender is the part of *tele.Bot the client needs.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type TelegramClient struct {
	bot Sender
}

func NewTelegramClient(bot Sender) *TelegramClient {
	return &TelegramClient{bot: bot}
}

// NewBot builds a long-polling bot whose HTTP calls are bounded by timeout.
func NewBot(token string, pollTimeout, timeout time.Duration) (*tele.Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
		// long polling holds the request open for pollTimeout
		Client: &http.Client{Timeout: pollTimeout + timeout},
	})
}

func (c *TelegramClient) SendText(ctx context.Context, recipient int64, body string) error {
	return c.send(ctx, recipient, body)
}

func (c *TelegramClient) SendImage(ctx context.Context, recipient int64, ref, caption string) error {
	return c.send(ctx, recipient, &tele.Photo{File: fileRef(ref), Caption: caption})
}

func (c *TelegramClient) SendDocument(ctx context.Context, recipient int64, ref, caption string) error {
	return c.send(ctx, recipient, &tele.Document{File: fileRef(ref), Caption: caption})
}

func (c *TelegramClient) SendVideo(ctx context.Context, recipient int64, ref, caption string) error {
	return c.send(ctx, recipient, &tele.Video{File: fileRef(ref), Caption: caption})
}

func (c *TelegramClient) send(ctx context.Context, recipient int64, what interface{}) error {
	if err := ctx.Err(); err != nil {
		return classified(Transient, err)
	}

	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := c.bot.Send(tele.ChatID(recipient), what)
		done <- result{err: err}
	}()

	select {
	case <-ctx.Done():
		return classified(Transient, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return classifyTelegram(r.err)
		}
		return nil
	}
}

// fileRef accepts either a Telegram file id or a public URL.
func fileRef(ref string) tele.File {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return tele.FromURL(ref)
	}
	return tele.File{FileID: ref}
}

func classifyTelegram(err error) error {
	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrChatNotFound):
		return classified(Unreachable, err)
	}

	var te *tele.Error
	if errors.As(err, &te) {
		switch {
		case te.Code == http.StatusForbidden:
			return classified(Unreachable, err)
		case te.Code == http.StatusTooManyRequests, te.Code >= 500:
			return classified(Transient, err)
		case te.Code >= 400:
			return classified(Invalid, err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "blocked by the user"), strings.Contains(msg, "chat not found"):
		return classified(Unreachable, err)
	case strings.Contains(msg, "retry after"), strings.Contains(msg, "too many requests"):
		return classified(Transient, err)
	}
	return classified(Transient, err)
}
