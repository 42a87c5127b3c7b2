package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/panfm/panfm/pkg/types"
)

// DefaultAlertCooldown is the per-severity re-notification window applied
// when no override is configured.
const DefaultAlertCooldown = 300 * time.Second

const settingsFile = "settings.json"

// Settings are the runtime-tunable knobs. They live in settings.json in the
// data dir so admins can change them without restarting; the scheduler
// heartbeat re-reads them every minute.
type Settings struct {
	RefreshIntervalSeconds int            `json:"refresh_interval_seconds"`
	RetentionDays          int            `json:"retention_days"`
	TopN                   int            `json:"top_n"`
	InsecureTLS            bool           `json:"insecure_tls"`
	AlertCooldownSeconds   map[string]int `json:"alert_cooldown_seconds,omitempty"`
}

// DefaultSettings returns the values used when settings.json does not exist.
func DefaultSettings() Settings {
	return Settings{
		RefreshIntervalSeconds: 60,
		RetentionDays:          90,
		TopN:                   5,
		InsecureTLS:            true,
	}
}

// RefreshInterval returns the collection cadence as a duration.
func (s Settings) RefreshInterval() time.Duration {
	if s.RefreshIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.RefreshIntervalSeconds) * time.Second
}

// CooldownFor returns the alert re-notification window for a severity.
func (s Settings) CooldownFor(severity types.AlertSeverity) time.Duration {
	if sec, ok := s.AlertCooldownSeconds[string(severity)]; ok && sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return DefaultAlertCooldown
}

// Validate rejects values outside operational bounds.
func (s Settings) Validate() error {
	if s.RefreshIntervalSeconds < 10 || s.RefreshIntervalSeconds > 3600 {
		return fmt.Errorf("refresh_interval_seconds must be in [10, 3600], got %d", s.RefreshIntervalSeconds)
	}
	if s.RetentionDays < 1 || s.RetentionDays > 365 {
		return fmt.Errorf("retention_days must be in [1, 365], got %d", s.RetentionDays)
	}
	if s.TopN < 1 || s.TopN > 25 {
		return fmt.Errorf("top_n must be in [1, 25], got %d", s.TopN)
	}
	for sev, secs := range s.AlertCooldownSeconds {
		if !types.AlertSeverity(sev).Valid() {
			return fmt.Errorf("unknown alert severity %q in cooldown overrides", sev)
		}
		if secs < 0 || secs > 86400 {
			return fmt.Errorf("cooldown for %s must be in [0, 86400] seconds, got %d", sev, secs)
		}
	}
	return nil
}

// LoadSettings reads settings.json from dir. A missing file yields defaults,
// not an error.
func LoadSettings(dir string) (Settings, error) {
	data, err := os.ReadFile(filepath.Join(dir, settingsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return DefaultSettings(), fmt.Errorf("read settings: %w", err)
	}

	s := DefaultSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// SaveSettings writes settings.json atomically (temp file + rename) so a
// concurrent reader never sees a partial file.
func SaveSettings(dir string, s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp, err := os.CreateTemp(dir, settingsFile+".*")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, settingsFile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
