// Package queue keeps the durable FIFO of local mutations waiting to be
// pushed to the remote store.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Action is the kind of mutation recorded in the queue.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionUpsert Action = "upsert"
	ActionDelete Action = "delete"
)

// EntityType names the local entity a queue item refers to.
type EntityType string

const (
	EntitySettings    EntityType = "settings"
	EntityInvoice     EntityType = "invoice"
	EntityInvoiceItem EntityType = "invoice_item"
)

// ErrClosed is returned by write operations on a closed store.
var ErrClosed = errors.New("queue store closed")

// Mutation is what callers hand to Enqueue.
type Mutation struct {
	Action     Action          `json:"action"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Item is one pending mutation.
type Item struct {
	ID         int64           `json:"id"`
	Action     Action          `json:"action"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
}

// Store is the persistence contract used by the sync processor.
//
// Reads never fail: storage errors are logged and an empty result is
// returned. Writes return the error after one reconnect attempt. Remove and
// UpdateRetry on an unknown id are no-ops.
type Store interface {
	Enqueue(ctx context.Context, m Mutation) (Item, error)
	DequeueOldest(ctx context.Context) (Item, bool)
	GetAll(ctx context.Context) []Item
	Remove(ctx context.Context, id int64) error
	UpdateRetry(ctx context.Context, id int64, errMsg string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) int
	Close()
}
