// Package ratelimit implements the sliding-window claim attempt limiter.
//
// Attempts are kept in the user's persisted attempt log so that the limit holds across
// sessions and service replicas. Entries older than the window are dropped on every write.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"table-status-backend/internal/store"
)

// ErrLimited is returned by Admit when the user has no attempts left in the window.
var ErrLimited = errors.New("claim attempt limit reached")

// Limiter is a sliding-window counter keyed by user id.
type Limiter struct {
	store  store.AttemptStore
	window time.Duration
	max    int
}

// New creates a limiter allowing max attempts per window.
func New(s store.AttemptStore, window time.Duration, max int) *Limiter {
	return &Limiter{store: s, window: window, max: max}
}

// Window returns the lookback window.
func (l *Limiter) Window() time.Duration { return l.window }

// Max returns the number of attempts allowed per window.
func (l *Limiter) Max() int { return l.max }

// Prune returns the attempts strictly newer than now-window, preserving order.
func Prune(attempts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	valid := make([]time.Time, 0, len(attempts))
	for _, a := range attempts {
		if a.After(cutoff) {
			valid = append(valid, a)
		}
	}
	return valid
}

// RecordAttempt appends now to the user's log after discarding expired entries.
// It does not enforce the limit.
func (l *Limiter) RecordAttempt(ctx context.Context, userID string, now time.Time) error {
	_, err := l.store.UpdateClaimAttempts(ctx, userID, func(attempts []time.Time) ([]time.Time, error) {
		return append(Prune(attempts, now, l.window), now), nil
	})
	return err
}

// AttemptsRemaining returns how many attempts the user has left at now, never below zero.
func (l *Limiter) AttemptsRemaining(ctx context.Context, userID string, now time.Time) (int, error) {
	attempts, err := l.store.GetClaimAttempts(ctx, userID)
	if err != nil {
		return 0, err
	}
	return l.remaining(len(Prune(attempts, now, l.window))), nil
}

// Admit records an attempt if the user is under the limit and returns the attempts left
// afterwards. At or over the limit it returns ErrLimited and records nothing.
func (l *Limiter) Admit(ctx context.Context, userID string, now time.Time) (int, error) {
	stored, err := l.store.UpdateClaimAttempts(ctx, userID, func(attempts []time.Time) ([]time.Time, error) {
		valid := Prune(attempts, now, l.window)
		if len(valid) >= l.max {
			return nil, ErrLimited
		}
		return append(valid, now), nil
	})
	if err != nil {
		return 0, err
	}
	return l.remaining(len(stored)), nil
}

// RetryAt returns when the oldest attempt in the window expires, or zero time if the user
// is not limited.
func (l *Limiter) RetryAt(ctx context.Context, userID string, now time.Time) (time.Time, error) {
	attempts, err := l.store.GetClaimAttempts(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	valid := Prune(attempts, now, l.window)
	if len(valid) < l.max {
		return time.Time{}, nil
	}
	oldest := valid[0]
	for _, a := range valid[1:] {
		if a.Before(oldest) {
			oldest = a
		}
	}
	return oldest.Add(l.window), nil
}

func (l *Limiter) remaining(used int) int {
	if used >= l.max {
		return 0
	}
	return l.max - used
}
