// Package stream fans out record changes to live subscribers.
package stream

import (
	"context"
	"time"

	"sre-platform/internal/models"
)

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Change describes one write to a collection.
type Change struct {
	Collection string          `json:"collection"`
	Action     Action          `json:"action"`
	ID         string          `json:"id"`
	Record     models.Document `json:"record,omitempty"`
	At         time.Time       `json:"at"`
}

// Broker publishes changes and hands them to subscribers. Delivery is best
// effort: a subscriber that falls behind misses changes.
type Broker interface {
	Publish(ctx context.Context, c Change) error
	// Subscribe returns a channel of changes and a func that ends the
	// subscription. The channel is closed once the subscription ends or ctx
	// is done.
	Subscribe(ctx context.Context) (<-chan Change, func())
	Close() error
}

const subscriberBuffer = 64
