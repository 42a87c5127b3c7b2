package config

import (
	"sync"
)

// Runtime holds the live settings for one process. Load once at startup,
// Reload on the heartbeat cadence; Current is safe for concurrent readers.
type Runtime struct {
	dir string

	mu sync.RWMutex
	s  Settings
}

// NewRuntime loads settings from dir and returns a holder bound to it.
func NewRuntime(dir string) (*Runtime, error) {
	s, err := LoadSettings(dir)
	if err != nil {
		return nil, err
	}
	return &Runtime{dir: dir, s: s}, nil
}

// Current returns the settings as of the last load.
func (r *Runtime) Current() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s
}

// Reload re-reads settings from disk and swaps them in. On read failure the
// previous settings stay in effect.
func (r *Runtime) Reload() (Settings, error) {
	s, err := LoadSettings(r.dir)
	if err != nil {
		return r.Current(), err
	}
	r.mu.Lock()
	r.s = s
	r.mu.Unlock()
	return s, nil
}

// Save validates, persists and swaps in new settings.
func (r *Runtime) Save(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := SaveSettings(r.dir, s); err != nil {
		return err
	}
	r.mu.Lock()
	r.s = s
	r.mu.Unlock()
	return nil
}
