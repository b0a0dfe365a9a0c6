// Package delivery sends payloads to a single recipient over a messaging
// transport and classifies the failures.
package delivery

import (
	"context"
	"fmt"

	"github.com/LeventeLantos/funnel-messaging/internal/model"
)

// Client is one transport. Implementations return *Error for failures they
// can classify.
type Client interface {
	SendText(ctx context.Context, recipient int64, body string) error
	SendImage(ctx context.Context, recipient int64, ref, caption string) error
	SendDocument(ctx context.Context, recipient int64, ref, caption string) error
	SendVideo(ctx context.Context, recipient int64, ref, caption string) error
}

// Deliver routes a payload to the matching Client method.
func Deliver(ctx context.Context, c Client, recipient int64, p model.Payload) error {
	switch v := p.(type) {
	case model.Text:
		return c.SendText(ctx, recipient, v.Body)
	case model.Media:
		switch v.Kind {
		case model.MediaImage:
			return c.SendImage(ctx, recipient, v.Ref, v.Caption)
		case model.MediaDocument:
			return c.SendDocument(ctx, recipient, v.Ref, v.Caption)
		case model.MediaVideo:
			return c.SendVideo(ctx, recipient, v.Ref, v.Caption)
		default:
			return classified(Invalid, fmt.Errorf("unknown media kind %q", v.Kind))
		}
	default:
		return classified(Invalid, fmt.Errorf("unsupported payload %T", p))
	}
}
