package vault

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const settingsKey = "settings"

// Theme is the display theme preference. The core stores it; rendering is
// up to the UI.
type Theme string

// Themes
const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeAuto  Theme = "auto"
)

// MaxAutoLockMinutes caps the idle timeout at one day.
const MaxAutoLockMinutes = 24 * 60

// Settings are the user preferences persisted with the vault.
type Settings struct {
	// AutoLock is the idle timeout in minutes.
	AutoLock int   `json:"autoLock"`
	Theme    Theme `json:"theme"`
}

// DefaultSettings returns a 10 minute auto-lock and the light theme.
func DefaultSettings() Settings {
	return Settings{AutoLock: 10, Theme: ThemeLight}
}

// Timeout is AutoLock as a duration.
func (s Settings) Timeout() time.Duration {
	return time.Duration(s.AutoLock) * time.Minute
}

// Validate checks the ranges of every field.
func (s Settings) Validate() error {
	if s.AutoLock <= 0 || s.AutoLock > MaxAutoLockMinutes {
		return invalid("autoLock", "must be between 1 and %d minutes", MaxAutoLockMinutes)
	}
	switch s.Theme {
	case ThemeLight, ThemeDark, ThemeAuto:
	default:
		return invalid("theme", "must be one of light, dark, auto")
	}
	return nil
}

// loadSettings decodes the saved settings over the defaults, so a value
// missing from storage keeps its default.
func (s *Service) loadSettings() (Settings, error) {
	settings := s.defaults
	raw, ok, err := s.store.Get(settingsKey)
	if err != nil {
		return Settings{}, fmt.Errorf("vault: failed to read settings: %w", err)
	}
	if !ok {
		return settings, nil
	}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		s.logger.Warn("ignoring unreadable settings", zap.Error(err))
		return s.defaults, nil
	}
	if err := settings.Validate(); err != nil {
		s.logger.Warn("ignoring invalid saved settings", zap.Error(err))
		return s.defaults, nil
	}
	return settings, nil
}

func (s *Service) saveSettings(settings Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("vault: failed to marshal settings: %w", err)
	}
	if err := s.store.Set(settingsKey, string(data)); err != nil {
		return fmt.Errorf("vault: failed to write settings: %w", err)
	}
	return nil
}
