package admission

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"table-status-backend/internal/auth"
	"table-status-backend/internal/events"
	"table-status-backend/internal/model"
	"table-status-backend/internal/store"
)

// NewTable is the staff input for creating a table.
type NewTable struct {
	Name     string
	Capacity int
}

// TableEdit is the staff input for editing a table. Nil fields are left untouched.
type TableEdit struct {
	Name              *string
	Capacity          *int
	CustomWaitMessage *string
}

// CreateTable adds an Available table. Name and a positive capacity are required.
func (c *Controller) CreateTable(ctx context.Context, user *auth.Identity, in NewTable) (*model.Table, error) {
	if err := requireStaff(user); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" || in.Capacity <= 0 {
		return nil, fmt.Errorf("%w: please provide both table name and capacity", ErrValidation)
	}

	now := c.now().UTC()
	t := &model.Table{Name: name, Capacity: in.Capacity, Status: model.StatusAvailable, LastUpdated: now}
	if err := c.tables.CreateTable(ctx, t); err != nil {
		return nil, storeError(err)
	}
	c.log.WithFields(logrus.Fields{"table_id": t.ID, "user_id": user.UserID}).Info("table created")
	c.publish(ctx, events.KindTableCreated, t, user.UserID, now)
	return t, nil
}

// EditTable updates the descriptive fields of a table.
func (c *Controller) EditTable(ctx context.Context, user *auth.Identity, id string, in TableEdit) (*model.Table, error) {
	if err := requireStaff(user); err != nil {
		return nil, err
	}
	patch := store.TablePatch{Capacity: in.Capacity, CustomWaitMessage: in.CustomWaitMessage}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: table name must not be empty", ErrValidation)
		}
		patch.Name = &name
	}
	if in.Capacity != nil && *in.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrValidation)
	}
	if patch.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}
	return c.patch(ctx, user, id, patch)
}

// SetNote replaces the staff note of a table. An empty note clears it.
func (c *Controller) SetNote(ctx context.Context, user *auth.Identity, id, note string) (*model.Table, error) {
	if err := requireStaff(user); err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)
	return c.patch(ctx, user, id, store.TablePatch{Note: &note})
}

func (c *Controller) patch(ctx context.Context, user *auth.Identity, id string, patch store.TablePatch) (*model.Table, error) {
	now := c.now().UTC()
	t, err := c.tables.UpdateTable(ctx, id, patch, now)
	if err != nil {
		return nil, storeError(err)
	}
	c.log.WithFields(logrus.Fields{"table_id": id, "user_id": user.UserID}).Info("table updated")
	c.publish(ctx, events.KindTableUpdated, t, user.UserID, now)
	return t, nil
}

// DeleteTable removes a table.
func (c *Controller) DeleteTable(ctx context.Context, user *auth.Identity, id string) error {
	if err := requireStaff(user); err != nil {
		return err
	}
	if err := c.tables.DeleteTable(ctx, id); err != nil {
		return storeError(err)
	}
	c.log.WithFields(logrus.Fields{"table_id": id, "user_id": user.UserID}).Info("table deleted")
	c.publish(ctx, events.KindTableDeleted, &model.Table{ID: id}, user.UserID, c.now().UTC())
	return nil
}
