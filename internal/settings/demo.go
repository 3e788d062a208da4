// Package settings holds process-wide switches that staff can change at runtime.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"table-status-backend/internal/store"
)

const demoModeKey = "demo_mode"

// DemoMode is the persisted switch that disables the geofence. It satisfies geo.DemoSwitch.
type DemoMode struct {
	store   store.SettingStore
	enabled atomic.Bool
	log     logrus.FieldLogger
}

// NewDemoMode returns a switch initialised to def until Load finds a persisted value.
func NewDemoMode(s store.SettingStore, def bool, log logrus.FieldLogger) *DemoMode {
	d := &DemoMode{store: s, log: log}
	d.enabled.Store(def)
	return d
}

// Load reads the persisted value, keeping the default if none was stored.
func (d *DemoMode) Load(ctx context.Context) error {
	raw, err := d.store.GetSetting(ctx, demoModeKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load demo mode: %w", err)
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("parse demo mode %q: %w", raw, err)
	}
	d.enabled.Store(v)
	return nil
}

// Enabled reports whether demo mode is on.
func (d *DemoMode) Enabled() bool {
	return d.enabled.Load()
}

// Set persists the new value and then applies it.
func (d *DemoMode) Set(ctx context.Context, on bool) error {
	if err := d.store.PutSetting(ctx, demoModeKey, strconv.FormatBool(on)); err != nil {
		return err
	}
	d.enabled.Store(on)
	d.log.WithField("demo_mode", on).Warn("demo mode changed")
	return nil
}
