package cache

import (
	"context"
	"fmt"
	"time"
)

// DeliveryCache remembers which work items were already handed to the
// transport, so a crash between delivery and the store update does not
// deliver the same item twice.
type DeliveryCache interface {
	MarkDelivered(ctx context.Context, key string, at time.Time) error
	Delivered(ctx context.Context, key string) (bool, error)
}

func PersonalKey(entryID int64) string {
	return fmt.Sprintf("personal:%d", entryID)
}

// Nop is used when no cache is configured.
type Nop struct{}

func (Nop) MarkDelivered(context.Context, string, time.Time) error { return nil }
func (Nop) Delivered(context.Context, string) (bool, error)         { return false, nil }
