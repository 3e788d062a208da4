// Package notification turns table snapshots into staff notifications.
package notification

import (
	"context"
	"fmt"
	"time"

	"table-status-backend/internal/model"
	"table-status-backend/internal/registry"
)

// Event reports that a table changed status between two snapshots.
type Event struct {
	TableID   string            `json:"tableId"`
	TableName string            `json:"tableName"`
	From      model.TableStatus `json:"from"`
	To        model.TableStatus `json:"to"`
	// Alert is set for changes that should be announced audibly.
	Alert bool      `json:"alert"`
	At    time.Time `json:"at"`
}

// Message is the human-readable text of the event.
func (e Event) Message() string {
	if e.To == model.StatusClaimed {
		return fmt.Sprintf("Table %s was claimed. Please review.", e.TableName)
	}
	return fmt.Sprintf("Table %s is now %s", e.TableName, e.To)
}

// IsAlert reports whether a change into status warrants an audible alert.
func IsAlert(status model.TableStatus) bool {
	return status == model.StatusClaimed || status == model.StatusOccupied
}

// Observer diffs consecutive snapshots. The first snapshot only primes it, so nothing fires
// for the initial load. It is not safe for concurrent use.
type Observer struct {
	lastSeen map[string]model.TableStatus
	primed   bool
}

func NewObserver() *Observer {
	return &Observer{lastSeen: make(map[string]model.TableStatus)}
}

// Observe returns an event for every known table whose status differs from the last
// snapshot. Stale snapshots are ignored. Tables that appear for the first time are
// recorded silently and tables that disappear are forgotten.
func (o *Observer) Observe(snap registry.Snapshot) []Event {
	if snap.Stale {
		return nil
	}

	var out []Event
	present := make(map[string]struct{}, len(snap.Tables))
	for _, t := range snap.Tables {
		present[t.ID] = struct{}{}
		prev, known := o.lastSeen[t.ID]
		if o.primed && known && prev != t.Status {
			out = append(out, Event{
				TableID:   t.ID,
				TableName: t.Name,
				From:      prev,
				To:        t.Status,
				Alert:     IsAlert(t.Status),
				At:        snap.At,
			})
		}
		o.lastSeen[t.ID] = t.Status
	}
	for id := range o.lastSeen {
		if _, ok := present[id]; !ok {
			delete(o.lastSeen, id)
		}
	}
	o.primed = true
	return out
}

// Run feeds every snapshot of sub through the observer and hands the events to sink, until
// ctx is done or the subscription is closed. It unsubscribes on return.
func (o *Observer) Run(ctx context.Context, sub *registry.Subscription, sink func(Event)) {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.C:
			if !ok {
				return
			}
			for _, e := range o.Observe(snap) {
				sink(e)
			}
		}
	}
}
