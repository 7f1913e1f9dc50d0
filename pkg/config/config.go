// Package config provides configuration loading and management for lsmeasure.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"lsmeasure/pkg/mask"
	"lsmeasure/pkg/session"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Volume loading and normalization parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// TargetSpacing resamples the volume to this isotropic voxel
		// size in mm before inference; 0 keeps the native spacing
		TargetSpacing float64 `yaml:"targetSpacing"`

		// NormalizeLowPercentile and NormalizeHighPercentile bound the
		// intensity window mapped to [0, 1]
		NormalizeLowPercentile  float64 `yaml:"normalizeLowPercentile"`
		NormalizeHighPercentile float64 `yaml:"normalizeHighPercentile"`
	} `yaml:"processing"`

	// Segmentation and post-processing parameters
	Segmentation struct {
		// ProbThreshold is the foreground cutoff applied to the
		// engine's probability output
		ProbThreshold float64 `yaml:"probThreshold"`

		// Connectivity is the component neighborhood, 6 or 26
		Connectivity int `yaml:"connectivity"`

		// MinVoxels drops connected components smaller than this
		MinVoxels int `yaml:"minVoxels"`

		// SmoothRadius enables majority-vote label smoothing when > 0
		SmoothRadius int `yaml:"smoothRadius"`

		// TimeoutSeconds bounds one inference call; 0 means no limit
		TimeoutSeconds int `yaml:"timeoutSeconds"`

		// Threshold engine parameters, used when no external engine is
		// configured
		Bins      int     `yaml:"bins"`
		LowSigma  float64 `yaml:"lowSigma"`
		HighSigma float64 `yaml:"highSigma"`
	} `yaml:"segmentation"`

	// Output parameters
	Output struct {
		// ReportFormat selects the report encoding, json or yaml
		ReportFormat string `yaml:"reportFormat"`

		// SaveOverlay renders the annotated mid-sagittal slice
		SaveOverlay bool `yaml:"saveOverlay"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.TargetSpacing = 0
	cfg.Processing.NormalizeLowPercentile = 0.5
	cfg.Processing.NormalizeHighPercentile = 99.5

	cfg.Segmentation.ProbThreshold = 0.5
	cfg.Segmentation.Connectivity = 26
	cfg.Segmentation.MinVoxels = 100
	cfg.Segmentation.SmoothRadius = 1
	cfg.Segmentation.TimeoutSeconds = 120
	cfg.Segmentation.Bins = 27
	cfg.Segmentation.LowSigma = 0.46
	cfg.Segmentation.HighSigma = 0.81

	cfg.Output.ReportFormat = "json"
	cfg.Output.SaveOverlay = true
	cfg.Output.Verbose = true

	return cfg
}

// PostProcessOptions converts the segmentation section into the options
// the correction session consumes.
func (c *Config) PostProcessOptions() (session.PostProcessOptions, error) {
	var conn mask.Connectivity
	switch c.Segmentation.Connectivity {
	case 6:
		conn = mask.Connect6
	case 26:
		conn = mask.Connect26
	default:
		return session.PostProcessOptions{}, fmt.Errorf("invalid connectivity %d (must be 6 or 26)", c.Segmentation.Connectivity)
	}

	return session.PostProcessOptions{
		ProbThreshold: c.Segmentation.ProbThreshold,
		Connectivity:  conn,
		MinVoxels:     c.Segmentation.MinVoxels,
		SmoothRadius:  c.Segmentation.SmoothRadius,
	}, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
