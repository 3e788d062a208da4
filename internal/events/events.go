// Package events publishes table domain events to a message broker.
// Publishing is best-effort: callers log failures and carry on.
package events

import (
	"context"
	"time"
)

// Kind names a domain event. It doubles as the message type on the wire.
type Kind string

const (
	KindTableClaimed       Kind = "table.claimed"
	KindTableQueued        Kind = "table.queued"
	KindTableStatusChanged Kind = "table.status_changed"
	KindQueueReordered     Kind = "table.queue_reordered"
	KindTableCreated       Kind = "table.created"
	KindTableUpdated       Kind = "table.updated"
	KindTableDeleted       Kind = "table.deleted"
)

// Event is a committed change to a table.
type Event struct {
	Kind      Kind      `json:"kind"`
	TableID   string    `json:"tableId"`
	TableName string    `json:"tableName,omitempty"`
	Status    string    `json:"status,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher delivers events to interested parties outside the process.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
