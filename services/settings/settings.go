// Package settings holds the arena-wide GeneralSetting values.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// General is the arena-wide configuration staff edit from the dashboard.
type General struct {
	ArenaName  string `yaml:"arena_name" json:"arena_name"`
	TimeZone   string `yaml:"time_zone" json:"time_zone"`
	DateFormat string `yaml:"date_format" json:"date_format"`
	// SessionLength is the default budget in minutes for new signups. Zero
	// falls back to the process default.
	SessionLength  int   `yaml:"session_length" json:"session_length"`
	SessionPresets []int `yaml:"session_presets" json:"session_presets"`
	AllowExtension bool  `yaml:"allow_extension" json:"allow_extension"`
	AllowReduction bool  `yaml:"allow_reduction" json:"allow_reduction"`

	UpdatedAt time.Time `yaml:"updated_at,omitempty" json:"updated_at"`
}

// Validate checks field ranges and normalizes presets.
func (g *General) Validate() error {
	g.ArenaName = strings.TrimSpace(g.ArenaName)
	g.TimeZone = strings.TrimSpace(g.TimeZone)
	if g.TimeZone != "" {
		if _, err := time.LoadLocation(g.TimeZone); err != nil {
			return fmt.Errorf("time_zone: %w", err)
		}
	}
	if g.SessionLength < 0 {
		return errors.New("session_length must not be negative")
	}

	seen := map[int]bool{}
	presets := make([]int, 0, len(g.SessionPresets))
	for _, p := range g.SessionPresets {
		if p <= 0 {
			return fmt.Errorf("session preset %d must be positive", p)
		}
		if !seen[p] {
			seen[p] = true
			presets = append(presets, p)
		}
	}
	sort.Ints(presets)
	g.SessionPresets = presets
	return nil
}

// Provider serves the current General value. Reads are lock-free; Replace
// swaps the value atomically and persists it when backed by a file.
type Provider struct {
	path    string
	current atomic.Pointer[General]
	writeMu sync.Mutex
	now     func() time.Time
}

// NewProvider returns a Provider holding g, not backed by a file.
func NewProvider(g General) *Provider {
	p := &Provider{now: func() time.Time { return time.Now().UTC() }}
	p.current.Store(&g)
	return p
}

// Load reads settings from path. A missing file yields zero settings; the
// file is created on the first Replace.
func Load(path string) (*Provider, error) {
	p := &Provider{path: path, now: func() time.Time { return time.Now().UTC() }}

	var g General
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		if err := yaml.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", path, err)
		}
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("invalid settings %s: %w", path, err)
		}
	}
	p.current.Store(&g)
	return p, nil
}

// Current returns a copy of the active settings.
func (p *Provider) Current() General {
	g := *p.current.Load()
	g.SessionPresets = append([]int(nil), g.SessionPresets...)
	return g
}

// Replace validates g, persists it, and makes it current.
func (p *Provider) Replace(g General) (General, error) {
	if err := g.Validate(); err != nil {
		return General{}, err
	}
	g.UpdatedAt = p.now()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.path != "" {
		if err := writeFile(p.path, g); err != nil {
			return General{}, err
		}
	}
	stored := g
	p.current.Store(&stored)
	return p.Current(), nil
}

func writeFile(path string, g General) error {
	data, err := yaml.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
