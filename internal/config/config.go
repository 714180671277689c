package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents the root configuration for the signal service. All
// fields are optional in the JSON file; the Get* accessors provide the
// defaults, so partial configs are safe.
type Config struct {
	// Server params
	Listen *string `json:"listen,omitempty"`
	DBPath *string `json:"db_path,omitempty"`

	// Aggregation loop params
	WindowSize    *int    `json:"window_size,omitempty"`
	CycleInterval *string `json:"cycle_interval,omitempty"` // duration string like "200ms"
	FrameSkip     *int    `json:"frame_skip,omitempty"`

	// Signal timing params (seconds)
	MinGreenTime *int `json:"min_green_time,omitempty"`
	MaxGreenTime *int `json:"max_green_time,omitempty"`

	// ClearanceHold is the symbolic in-process hold applied while the
	// outgoing lane passes through yellow and all-red.
	ClearanceHold *string `json:"clearance_hold,omitempty"` // duration string like "100ms"

	// Starvation control
	MaxConsecutiveGrants *int `json:"max_consecutive_grants,omitempty"`

	// Congestion level thresholds
	LowCongestion      *float64 `json:"low_congestion,omitempty"`
	MediumCongestion   *float64 `json:"medium_congestion,omitempty"`
	HighCongestion     *float64 `json:"high_congestion,omitempty"`
	CriticalCongestion *float64 `json:"critical_congestion,omitempty"`

	// Advisor params
	AdvisorCooldown *string `json:"advisor_cooldown,omitempty"` // duration string like "15s"
}

// Empty returns a Config with all fields set to nil. Use Load to read
// actual values from a file.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file is validated to ensure it
// has a .json extension and is under the max file size. Fields omitted from
// the JSON retain their defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.WindowSize != nil && *c.WindowSize < 1 {
		return fmt.Errorf("window_size must be positive, got %d", *c.WindowSize)
	}

	if c.FrameSkip != nil && *c.FrameSkip < 1 {
		return fmt.Errorf("frame_skip must be positive, got %d", *c.FrameSkip)
	}

	if c.CycleInterval != nil && *c.CycleInterval != "" {
		if _, err := time.ParseDuration(*c.CycleInterval); err != nil {
			return fmt.Errorf("invalid cycle_interval '%s': %w", *c.CycleInterval, err)
		}
	}

	if c.ClearanceHold != nil && *c.ClearanceHold != "" {
		if _, err := time.ParseDuration(*c.ClearanceHold); err != nil {
			return fmt.Errorf("invalid clearance_hold '%s': %w", *c.ClearanceHold, err)
		}
	}

	if c.AdvisorCooldown != nil && *c.AdvisorCooldown != "" {
		if _, err := time.ParseDuration(*c.AdvisorCooldown); err != nil {
			return fmt.Errorf("invalid advisor_cooldown '%s': %w", *c.AdvisorCooldown, err)
		}
	}

	if c.MinGreenTime != nil && *c.MinGreenTime < 1 {
		return fmt.Errorf("min_green_time must be positive, got %d", *c.MinGreenTime)
	}
	if c.MaxGreenTime != nil && *c.MaxGreenTime < 1 {
		return fmt.Errorf("max_green_time must be positive, got %d", *c.MaxGreenTime)
	}
	if c.MinGreenTime != nil && c.MaxGreenTime != nil && *c.MinGreenTime > *c.MaxGreenTime {
		return fmt.Errorf("min_green_time %d exceeds max_green_time %d", *c.MinGreenTime, *c.MaxGreenTime)
	}

	// Thresholds must stay ordered so level banding remains well defined.
	low, med := c.GetLowCongestion(), c.GetMediumCongestion()
	high, crit := c.GetHighCongestion(), c.GetCriticalCongestion()
	if !(low < med && med < high && high < crit) {
		return fmt.Errorf("congestion thresholds must be strictly increasing: %v %v %v %v", low, med, high, crit)
	}

	return nil
}

// GetListen returns the listen address or the default.
func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetDBPath returns the sqlite database path or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "signal_history.db"
	}
	return *c.DBPath
}

// GetWindowSize returns the per-lane rolling window capacity or the default.
func (c *Config) GetWindowSize() int {
	if c.WindowSize == nil {
		return 30
	}
	return *c.WindowSize
}

// GetCycleInterval parses and returns the loop cadence as a time.Duration.
func (c *Config) GetCycleInterval() time.Duration {
	if c.CycleInterval == nil || *c.CycleInterval == "" {
		return 200 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.CycleInterval)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

// GetFrameSkip returns the frame sampling stride or the default.
func (c *Config) GetFrameSkip() int {
	if c.FrameSkip == nil {
		return 3
	}
	return *c.FrameSkip
}

// GetMinGreenTime returns the minimum green grant in seconds.
func (c *Config) GetMinGreenTime() int {
	if c.MinGreenTime == nil {
		return 15
	}
	return *c.MinGreenTime
}

// GetMaxGreenTime returns the maximum green grant in seconds.
func (c *Config) GetMaxGreenTime() int {
	if c.MaxGreenTime == nil {
		return 120
	}
	return *c.MaxGreenTime
}

// GetClearanceHold parses and returns the clearance hold duration.
func (c *Config) GetClearanceHold() time.Duration {
	if c.ClearanceHold == nil || *c.ClearanceHold == "" {
		return 100 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.ClearanceHold)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

// GetMaxConsecutiveGrants returns the starvation cap or the default.
func (c *Config) GetMaxConsecutiveGrants() int {
	if c.MaxConsecutiveGrants == nil {
		return 25
	}
	return *c.MaxConsecutiveGrants
}

// GetLowCongestion returns the LOW level threshold.
func (c *Config) GetLowCongestion() float64 {
	if c.LowCongestion == nil {
		return 15
	}
	return *c.LowCongestion
}

// GetMediumCongestion returns the MEDIUM level threshold.
func (c *Config) GetMediumCongestion() float64 {
	if c.MediumCongestion == nil {
		return 35
	}
	return *c.MediumCongestion
}

// GetHighCongestion returns the HIGH level threshold.
func (c *Config) GetHighCongestion() float64 {
	if c.HighCongestion == nil {
		return 60
	}
	return *c.HighCongestion
}

// GetCriticalCongestion returns the CRITICAL level threshold.
func (c *Config) GetCriticalCongestion() float64 {
	if c.CriticalCongestion == nil {
		return 100
	}
	return *c.CriticalCongestion
}

// GetAdvisorCooldown parses and returns the advisory rate-limit window.
func (c *Config) GetAdvisorCooldown() time.Duration {
	if c.AdvisorCooldown == nil || *c.AdvisorCooldown == "" {
		return 15 * time.Second
	}
	d, err := time.ParseDuration(*c.AdvisorCooldown)
	if err != nil {
		return 15 * time.Second
	}
	return d
}
