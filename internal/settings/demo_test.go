package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"table-status-backend/internal/logging"
	"table-status-backend/internal/store"
)

type memSettings struct {
	values map[string]string
	err    error
}

func (m *memSettings) GetSetting(ctx context.Context, key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.values[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (m *memSettings) PutSetting(ctx context.Context, key, value string) error {
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	return nil
}

func TestDemoMode_DefaultUntilPersisted(t *testing.T) {
	s := &memSettings{values: map[string]string{}}
	d := NewDemoMode(s, true, logging.Discard())

	require.NoError(t, d.Load(context.Background()))
	assert.True(t, d.Enabled(), "default applies when nothing is stored")

	require.NoError(t, d.Set(context.Background(), false))
	assert.False(t, d.Enabled())
	assert.Equal(t, "false", s.values[demoModeKey])

	// A fresh process picks up the persisted value over the default.
	restarted := NewDemoMode(s, true, logging.Discard())
	require.NoError(t, restarted.Load(context.Background()))
	assert.False(t, restarted.Enabled())
}

func TestDemoMode_SetFailureKeepsValue(t *testing.T) {
	s := &memSettings{values: map[string]string{}, err: errors.New("db down")}
	d := NewDemoMode(s, false, logging.Discard())

	assert.Error(t, d.Set(context.Background(), true))
	assert.False(t, d.Enabled())
	assert.Error(t, d.Load(context.Background()))
}
