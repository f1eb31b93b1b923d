// Package config reads and writes the JSON configuration in ~/.traindb.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the application configuration
type Config struct {
	Database  string          `json:"database"`
	Ingest    IngestConfig    `json:"ingest"`
	Athlete   AthleteConfig   `json:"athlete"`
	Elevation ElevationConfig `json:"elevation"`
}

// IngestConfig names the directories scanned for FIT files
type IngestConfig struct {
	ActivityDir string `json:"activity_dir"`
	MonitorDir  string `json:"monitor_dir"`
}

// AthleteConfig holds athlete-specific settings
type AthleteConfig struct {
	RestingHR   float64 `json:"resting_hr"`
	MaxHR       float64 `json:"max_hr"`
	ThresholdHR float64 `json:"threshold_hr"`
}

// ElevationConfig locates SRTM elevation tiles; empty disables the
// elevation oracle.
type ElevationConfig struct {
	SRTMDir string `json:"srtm_dir"`
}

// ErrNoConfig is returned when the config file doesn't exist
var ErrNoConfig = errors.New("config file not found")

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Athlete: AthleteConfig{
			RestingHR:   50,
			MaxHR:       185,
			ThresholdHR: 165,
		},
	}
}

// Load reads the configuration from ~/.traindb/config.json
func Load() (*Config, error) {
	path, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNoConfig
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults for missing values
	defaults := DefaultConfig()
	if cfg.Athlete.RestingHR == 0 {
		cfg.Athlete.RestingHR = defaults.Athlete.RestingHR
	}
	if cfg.Athlete.MaxHR == 0 {
		cfg.Athlete.MaxHR = defaults.Athlete.MaxHR
	}
	if cfg.Athlete.ThresholdHR == 0 {
		cfg.Athlete.ThresholdHR = defaults.Athlete.ThresholdHR
	}

	return &cfg, nil
}

// Save writes the configuration to ~/.traindb/config.json
func Save(cfg *Config) error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// CreateExample creates an example config file if none exists
func CreateExample() error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}

	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return nil // Config exists, don't overwrite
	}

	example := DefaultConfig()
	example.Ingest = IngestConfig{
		ActivityDir: "~/fit/activities",
		MonitorDir:  "~/fit/monitor",
	}
	return Save(&example)
}

// Validate checks the config for inconsistent values
func (c *Config) Validate() error {
	if c.Athlete.MaxHR > 0 && c.Athlete.RestingHR >= c.Athlete.MaxHR {
		return fmt.Errorf("athlete.resting_hr (%v) must be less than athlete.max_hr (%v)",
			c.Athlete.RestingHR, c.Athlete.MaxHR)
	}
	if c.Athlete.ThresholdHR > 0 && c.Athlete.MaxHR > 0 && c.Athlete.ThresholdHR >= c.Athlete.MaxHR {
		return fmt.Errorf("athlete.threshold_hr (%v) must be less than athlete.max_hr (%v)",
			c.Athlete.ThresholdHR, c.Athlete.MaxHR)
	}
	return nil
}

// ExpandPath resolves a leading ~ against the user's home directory.
func ExpandPath(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// getConfigPath returns the path to the config file
func getConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".traindb", "config.json"), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".traindb"), nil
}
