package pos

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/stevemurr/pos-server/store"
)

// SettingsID is the _id of the single system settings document.
const SettingsID = "system_settings"

// DefaultBackupInterval applies when settings carry no usable interval.
const DefaultBackupInterval = 6 * time.Hour

// MaxBackupInterval caps backup_interval_hours.
const MaxBackupInterval = 366 * 24 * time.Hour

// DefaultSettings returns the settings inserted on first read.
func DefaultSettings() store.Document {
	return store.Document{
		store.IDField:                 SettingsID,
		"disableUserPassLogin":        false,
		"allowLoginUsingMobileNumber": true,
		"allowLoginUsingUsername":     true,
		"loginWithEmailLink":          false,
		"sessionExpiry":               "06:00",
		"backup_interval_hours":       float64(6),
	}
}

// Settings returns the system settings, inserting the defaults if none are
// stored yet.
func (s *Service) Settings(ctx context.Context) (store.Document, error) {
	c := s.store.Collection(SystemSettings)
	doc, err := c.FindOne(ctx, store.Filter{store.IDField: SettingsID})
	if err != nil || doc != nil {
		return doc, err
	}
	def := DefaultSettings()
	if _, err := c.InsertOne(ctx, def); err != nil {
		// Another caller inserted first.
		if errors.Is(err, store.ErrDuplicateKey) {
			return c.FindOne(ctx, store.Filter{store.IDField: SettingsID})
		}
		return nil, err
	}
	s.logger.Info("inserted default system settings")
	return def, nil
}

// SaveSettings replaces the system settings document.
func (s *Service) SaveSettings(ctx context.Context, settings store.Document) (store.Document, error) {
	doc := settings.Clone()
	if doc == nil {
		doc = store.Document{}
	}
	doc[store.IDField] = SettingsID
	if _, err := s.store.Collection(SystemSettings).ReplaceOne(ctx,
		store.Filter{store.IDField: SettingsID}, doc, store.WithUpsert(true)); err != nil {
		return nil, err
	}
	s.logger.Info("system settings saved")
	return doc, nil
}

// BackupInterval reads backup_interval_hours from settings. Missing,
// non-positive and non-finite values give DefaultBackupInterval; anything
// above MaxBackupInterval is clamped to it.
func BackupInterval(settings store.Document) time.Duration {
	h, ok := settings["backup_interval_hours"].(float64)
	if !ok || math.IsNaN(h) || h <= 0 {
		return DefaultBackupInterval
	}
	if h >= MaxBackupInterval.Hours() {
		return MaxBackupInterval
	}
	d := time.Duration(h * float64(time.Hour))
	if d <= 0 {
		return DefaultBackupInterval
	}
	return d
}
