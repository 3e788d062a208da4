package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"table-status-backend/internal/model"
)

// TableStore is the "tables" collection.
type TableStore interface {
	ListTables(ctx context.Context) ([]model.Table, error)
	CountTables(ctx context.Context) (int64, error)
	GetTable(ctx context.Context, id string) (*model.Table, error)
	CreateTable(ctx context.Context, t *model.Table) error
	UpdateTable(ctx context.Context, id string, patch TablePatch, now time.Time) (*model.Table, error)
	DeleteTable(ctx context.Context, id string) error
	UpdateTableIfVersion(ctx context.Context, t *model.Table, expectedVersion int64, columns ...string) error
	ClaimTable(ctx context.Context, id string, expectedVersion int64, userID string, now time.Time) (*ClaimResult, error)
	AppendToQueue(ctx context.Context, id, userID string, now time.Time) (*model.Table, error)
}

// AttemptStore is the "claimAttempts" collection.
type AttemptStore interface {
	GetClaimAttempts(ctx context.Context, userID string) ([]time.Time, error)
	UpdateClaimAttempts(ctx context.Context, userID string, fn AttemptsFunc) ([]time.Time, error)
}

// StatsStore is the "userStats" collection.
type StatsStore interface {
	GetUserStats(ctx context.Context, userID string) (*model.UserStats, error)
	IncrementClaimCount(ctx context.Context, userID string, now time.Time) error
}

// ReportStore is the "reports" collection.
type ReportStore interface {
	AddReport(ctx context.Context, r *model.Report) error
}

// UserStore holds accounts of the identity provider.
type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}

// SettingStore holds persisted process-wide settings.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// SubscriptionStore holds browser push subscriptions.
type SubscriptionStore interface {
	PutSubscription(ctx context.Context, sub *model.PushSubscription) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error)
}

// Store defines the interface for all database operations.
type Store interface {
	TableStore
	AttemptStore
	StatsStore
	ReportStore
	UserStore
	SettingStore
	SubscriptionStore
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// ListTables returns every table ordered by name.
func (s *gormStore) ListTables(ctx context.Context) ([]model.Table, error) {
	var tables []model.Table
	if err := s.db.WithContext(ctx).Order("name, id").Find(&tables).Error; err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

func (s *gormStore) CountTables(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Table{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count tables: %w", err)
	}
	return n, nil
}

func (s *gormStore) GetTable(ctx context.Context, id string) (*model.Table, error) {
	return getTable(s.db.WithContext(ctx), id, false)
}

// CreateTable assigns an id and an initial version before inserting.
func (s *gormStore) CreateTable(ctx context.Context, t *model.Table) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = model.StatusAvailable
	}
	if t.LastUpdated.IsZero() {
		t.LastUpdated = time.Now().UTC()
	}
	t.Version = 1
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// UpdateTable applies a partial update. It fails with ErrNotFound if the table does not exist.
func (s *gormStore) UpdateTable(ctx context.Context, id string, patch TablePatch, now time.Time) (*model.Table, error) {
	fields := map[string]any{
		"last_updated": now,
		"version":      gorm.Expr("version + 1"),
	}
	if patch.Name != nil {
		fields["name"] = *patch.Name
	}
	if patch.Capacity != nil {
		fields["capacity"] = *patch.Capacity
	}
	if patch.Note != nil {
		fields["note"] = *patch.Note
	}
	if patch.CustomWaitMessage != nil {
		fields["custom_wait_message"] = *patch.CustomWaitMessage
	}

	var updated *model.Table
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Table{}).Where("id = ?", id).Updates(fields)
		if res.Error != nil {
			return fmt.Errorf("update table %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		t, err := getTable(tx, id, false)
		if err != nil {
			return err
		}
		updated = t
		return nil
	})
	return updated, err
}

func (s *gormStore) DeleteTable(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Table{})
	if res.Error != nil {
		return fmt.Errorf("delete table %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTableIfVersion writes the given columns of t only if the stored version still equals
// expectedVersion. On success t.Version holds the new version.
func (s *gormStore) UpdateTableIfVersion(ctx context.Context, t *model.Table, expectedVersion int64, columns ...string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return compareAndSwap(tx, t, expectedVersion, "", nil, columns...)
	})
}

// ClaimTable moves an Available table to Claimed if nobody changed it since expectedVersion,
// and counts the claim for the user in the same transaction.
func (s *gormStore) ClaimTable(ctx context.Context, id string, expectedVersion int64, userID string, now time.Time) (*ClaimResult, error) {
	var result ClaimResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t := &model.Table{
			ID:          id,
			Status:      model.StatusClaimed,
			ClaimedAt:   &now,
			ClaimedBy:   userID,
			LastUpdated: now,
		}
		if err := compareAndSwap(tx, t, expectedVersion, "status = ?", []any{model.StatusAvailable},
			"status", "claimed_at", "claimed_by", "last_updated"); err != nil {
			return err
		}
		if err := incrementClaimCount(tx, userID, now); err != nil {
			return err
		}

		claimed, err := getTable(tx, id, false)
		if err != nil {
			return err
		}
		var stats model.UserStats
		if err := tx.First(&stats, "user_id = ?", userID).Error; err != nil {
			return fmt.Errorf("read user stats %s: %w", userID, err)
		}
		result = ClaimResult{Table: *claimed, ClaimCount: stats.ClaimCount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AppendToQueue appends userID to the table's queue. Duplicates are kept.
func (s *gormStore) AppendToQueue(ctx context.Context, id, userID string, now time.Time) (*model.Table, error) {
	var updated *model.Table
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := getTable(tx, id, true)
		if err != nil {
			return err
		}
		t.Queue = append(t.Queue, userID)
		t.LastUpdated = now
		if err := compareAndSwap(tx, t, t.Version, "", nil, "queue", "last_updated"); err != nil {
			return err
		}
		updated = t
		return nil
	})
	return updated, err
}

// compareAndSwap updates columns of t where the row still carries expectedVersion (and the optional
// extra condition holds), bumping the version. It distinguishes a missing row from a lost race.
func compareAndSwap(tx *gorm.DB, t *model.Table, expectedVersion int64, cond string, args []any, columns ...string) error {
	t.Version = expectedVersion + 1
	selected := append([]string{"version", "updated_at"}, columns...)

	q := tx.Model(t).Where("version = ?", expectedVersion)
	if cond != "" {
		q = q.Where(cond, args...)
	}
	res := q.Select(selected).Updates(t)
	if res.Error != nil {
		t.Version = expectedVersion
		return fmt.Errorf("update table %s: %w", t.ID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	t.Version = expectedVersion
	var n int64
	if err := tx.Model(&model.Table{}).Where("id = ?", t.ID).Count(&n).Error; err != nil {
		return fmt.Errorf("check table %s: %w", t.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func getTable(tx *gorm.DB, id string, forUpdate bool) (*model.Table, error) {
	if forUpdate && supportsRowLocks(tx) {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var t model.Table
	if err := tx.First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get table %s: %w", id, err)
	}
	return &t, nil
}

// supportsRowLocks reports whether SELECT ... FOR UPDATE is meaningful for the dialect.
// SQLite serializes writers and rejects the clause.
func supportsRowLocks(tx *gorm.DB) bool {
	return tx.Dialector.Name() != "sqlite"
}
