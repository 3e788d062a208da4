package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"table-status-backend/config"
	"table-status-backend/internal/model"
	"table-status-backend/internal/store"
)

// Registry is the table collection as seen by the rest of the service. Writes go to the
// underlying store and trigger a hub refresh once committed, so subscribers observe every
// commit in order.
type Registry struct {
	store store.TableStore
	hub   *Hub
	log   logrus.FieldLogger
}

// New wraps s. The hub must be started with Run by the caller.
func New(s store.TableStore, hub *Hub, log logrus.FieldLogger) *Registry {
	return &Registry{store: s, hub: hub, log: log}
}

// Subscribe returns a live stream of snapshots.
func (r *Registry) Subscribe() *Subscription {
	return r.hub.Subscribe()
}

func (r *Registry) ListTables(ctx context.Context) ([]model.Table, error) {
	return r.store.ListTables(ctx)
}

func (r *Registry) CountTables(ctx context.Context) (int64, error) {
	return r.store.CountTables(ctx)
}

func (r *Registry) GetTable(ctx context.Context, id string) (*model.Table, error) {
	return r.store.GetTable(ctx, id)
}

func (r *Registry) CreateTable(ctx context.Context, t *model.Table) error {
	if err := r.store.CreateTable(ctx, t); err != nil {
		return err
	}
	r.hub.Refresh()
	return nil
}

func (r *Registry) UpdateTable(ctx context.Context, id string, patch store.TablePatch, now time.Time) (*model.Table, error) {
	t, err := r.store.UpdateTable(ctx, id, patch, now)
	if err != nil {
		return nil, err
	}
	r.hub.Refresh()
	return t, nil
}

func (r *Registry) DeleteTable(ctx context.Context, id string) error {
	if err := r.store.DeleteTable(ctx, id); err != nil {
		return err
	}
	r.hub.Refresh()
	return nil
}

func (r *Registry) UpdateTableIfVersion(ctx context.Context, t *model.Table, expectedVersion int64, columns ...string) error {
	if err := r.store.UpdateTableIfVersion(ctx, t, expectedVersion, columns...); err != nil {
		return err
	}
	r.hub.Refresh()
	return nil
}

func (r *Registry) ClaimTable(ctx context.Context, id string, expectedVersion int64, userID string, now time.Time) (*store.ClaimResult, error) {
	res, err := r.store.ClaimTable(ctx, id, expectedVersion, userID, now)
	if err != nil {
		return nil, err
	}
	r.hub.Refresh()
	return res, nil
}

func (r *Registry) AppendToQueue(ctx context.Context, id, userID string, now time.Time) (*model.Table, error) {
	t, err := r.store.AppendToQueue(ctx, id, userID, now)
	if err != nil {
		return nil, err
	}
	r.hub.Refresh()
	return t, nil
}

// Seed creates the configured tables if the collection is empty.
func (r *Registry) Seed(ctx context.Context, seeds []config.SeedTable) error {
	if len(seeds) == 0 {
		return nil
	}
	n, err := r.store.CountTables(ctx)
	if err != nil {
		return fmt.Errorf("seed tables: %w", err)
	}
	if n > 0 {
		r.log.WithField("count", n).Debug("tables already present; skipping seed")
		return nil
	}

	now := time.Now().UTC()
	for _, s := range seeds {
		status := model.TableStatus(s.Status)
		if status == "" {
			status = model.StatusAvailable
		}
		if !status.Valid() {
			return fmt.Errorf("seed table %q: invalid status %q", s.Name, s.Status)
		}
		t := &model.Table{
			Name:        s.Name,
			Capacity:    s.Capacity,
			Status:      status,
			LastUpdated: now,
		}
		if status == model.StatusOccupied {
			t.OccupiedAt = &now
		}
		if err := r.store.CreateTable(ctx, t); err != nil {
			return fmt.Errorf("seed table %q: %w", s.Name, err)
		}
	}
	r.log.WithField("count", len(seeds)).Info("seeded tables")
	r.hub.Refresh()
	return nil
}
