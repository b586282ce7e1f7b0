package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"unlockd/internal/server/ledger"

	"github.com/google/uuid"
)

const (
	EventContentCreated     = "content.created"
	EventAccessPurchased    = "access.purchased"
	EventEarningsWithdrawn  = "earnings.withdrawn"
	EventPriceUpdated       = "content.price_updated"
	EventContentDeactivated = "content.deactivated"
)

// Event is a structured notification of a committed ledger change.
type Event struct {
	ID         string
	Type       string
	At         time.Time
	Attributes map[string]string
}

// Emitter receives events after the change they describe has committed.
type Emitter interface {
	Emit(ctx context.Context, evt Event)
}

// NoopEmitter discards events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, Event) {}

// LogEmitter writes every event to slog.
type LogEmitter struct{}

func (LogEmitter) Emit(_ context.Context, evt Event) {
	args := []any{"event_id", evt.ID, "type", evt.Type}
	for k, v := range evt.Attributes {
		args = append(args, k, v)
	}
	slog.Info("ledger event", args...)
}

// MultiEmitter fans an event out to several emitters in order.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ctx context.Context, evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(ctx, evt)
		}
	}
}

func newEvent(typ string, at time.Time, attrs map[string]string) Event {
	return Event{ID: uuid.NewString(), Type: typ, At: at, Attributes: attrs}
}

func contentCreatedEvent(item *ledger.ContentItem) Event {
	return newEvent(EventContentCreated, item.CreatedAt, map[string]string{
		"content_id":   strconv.FormatUint(item.ID, 10),
		"creator":      item.Creator.Hex(),
		"content_type": item.ContentType.String(),
		"price":        item.Price.String(),
	})
}

func accessPurchasedEvent(grant *ledger.AccessGrant, creator string) Event {
	return newEvent(EventAccessPurchased, grant.GrantedAt, map[string]string{
		"content_id": strconv.FormatUint(grant.ContentID, 10),
		"buyer":      grant.Buyer.Hex(),
		"creator":    creator,
		"amount":     grant.AmountPaid.String(),
	})
}

func earningsWithdrawnEvent(w *ledger.Withdrawal) Event {
	return newEvent(EventEarningsWithdrawn, w.CreatedAt, map[string]string{
		"creator":   w.Creator.Hex(),
		"amount":    w.Amount.String(),
		"reference": w.Reference,
	})
}

func priceUpdatedEvent(item *ledger.ContentItem, old string, at time.Time) Event {
	return newEvent(EventPriceUpdated, at, map[string]string{
		"content_id": strconv.FormatUint(item.ID, 10),
		"creator":    item.Creator.Hex(),
		"old_price":  old,
		"new_price":  item.Price.String(),
	})
}

func contentDeactivatedEvent(item *ledger.ContentItem, by string, at time.Time) Event {
	return newEvent(EventContentDeactivated, at, map[string]string{
		"content_id": strconv.FormatUint(item.ID, 10),
		"creator":    item.Creator.Hex(),
		"by":         by,
	})
}
