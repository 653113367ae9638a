package inventory

import (
	"context"
	"time"
)

// MovementPostedEvent describes a committed on-hand quantity change.
type MovementPostedEvent struct {
	VariantID int64
	SKU       string
	Delta     int64
	OnHand    int64
	Reserved  int64
	Available int64
	Reason    string
	Reference string
	PostedAt  time.Time
}

// IntegrationHandler receives stock movement events after commit, e.g.
// for low-stock alerting.
type IntegrationHandler interface {
	HandleStockMovementPosted(ctx context.Context, evt MovementPostedEvent) error
}
