package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"table-status-backend/internal/model"
)

// GetClaimAttempts returns the stored attempts of a user, or nil if none were recorded.
func (s *gormStore) GetClaimAttempts(ctx context.Context, userID string) ([]time.Time, error) {
	var entry model.ClaimAttemptLog
	err := s.db.WithContext(ctx).First(&entry, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get claim attempts for %s: %w", userID, err)
	}
	return entry.Attempts, nil
}

// UpdateClaimAttempts runs fn over the user's attempts inside a transaction and persists its result.
// An empty log is inserted first so that concurrent first attempts of a user lock the same row.
func (s *gormStore) UpdateClaimAttempts(ctx context.Context, userID string, fn AttemptsFunc) ([]time.Time, error) {
	var out []time.Time
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := model.ClaimAttemptLog{UserID: userID, UpdatedAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).Create(&seed).Error; err != nil {
			return fmt.Errorf("create claim attempts for %s: %w", userID, err)
		}

		q := tx
		if supportsRowLocks(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var entry model.ClaimAttemptLog
		if err := q.First(&entry, "user_id = ?", userID).Error; err != nil {
			return fmt.Errorf("get claim attempts for %s: %w", userID, err)
		}

		next, err := fn(entry.Attempts)
		if err != nil {
			return err
		}

		entry.Attempts = next
		entry.UpdatedAt = time.Now().UTC()
		if err := tx.Model(&entry).Select("attempts", "updated_at").Updates(&entry).Error; err != nil {
			return fmt.Errorf("save claim attempts for %s: %w", userID, err)
		}
		out = next
		return nil
	})
	return out, err
}

// GetUserStats returns the stats of a user, zero-valued if none exist.
func (s *gormStore) GetUserStats(ctx context.Context, userID string) (*model.UserStats, error) {
	stats := model.UserStats{UserID: userID}
	err := s.db.WithContext(ctx).First(&stats, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.UserStats{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user stats for %s: %w", userID, err)
	}
	return &stats, nil
}

func (s *gormStore) IncrementClaimCount(ctx context.Context, userID string, now time.Time) error {
	return incrementClaimCount(s.db.WithContext(ctx), userID, now)
}

func incrementClaimCount(tx *gorm.DB, userID string, now time.Time) error {
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"claim_count": gorm.Expr("user_stats.claim_count + 1"),
			"updated_at":  now,
		}),
	}).Create(&model.UserStats{UserID: userID, ClaimCount: 1, UpdatedAt: now}).Error
	if err != nil {
		return fmt.Errorf("increment claim count for %s: %w", userID, err)
	}
	return nil
}

func (s *gormStore) AddReport(ctx context.Context, r *model.Report) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ReportedAt.IsZero() {
		r.ReportedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("add report: %w", err)
	}
	return nil
}

// CreateUser inserts a new account. A duplicate email yields ErrConflict.
func (s *gormStore) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.User{}).Where("email = ?", u.Email).Count(&n).Error; err != nil {
			return fmt.Errorf("check user %s: %w", u.Email, err)
		}
		if n > 0 {
			return ErrConflict
		}
		if err := tx.Create(u).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrConflict
			}
			return fmt.Errorf("create user %s: %w", u.Email, err)
		}
		return nil
	})
}

func (s *gormStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(ctx, "id = ?", id)
}

func (s *gormStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUser(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *gormStore) findUser(ctx context.Context, query string, arg any) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

// GetSetting returns the stored value for key or ErrNotFound.
func (s *gormStore) GetSetting(ctx context.Context, key string) (string, error) {
	var setting model.Setting
	if err := s.db.WithContext(ctx).First(&setting, "name = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return setting.Value, nil
}

func (s *gormStore) PutSetting(ctx context.Context, key, value string) error {
	setting := model.Setting{Name: key, Value: value, UpdatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error; err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

func (s *gormStore) PutSubscription(ctx context.Context, sub *model.PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "user_id"}),
	}).Create(sub).Error; err != nil {
		return fmt.Errorf("put subscription: %w", err)
	}
	return nil
}

// GetSubscription returns the subscription registered for endpoint or ErrNotFound.
func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func (s *gormStore) ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}
