// Package config provides configuration loading and management for cryodrgn.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Reconstruction parameters
	Reconstruction struct {
		// NumWorkers specifies how many CPU cores to use for parallel accumulation
		NumWorkers int `yaml:"numWorkers"`

		// RegWeight is the relative weight of the uniform regularization term
		// added to the accumulated per-voxel weights before division
		RegWeight float64 `yaml:"regWeight"`

		// CTFMode selects how the contrast transfer function is applied to
		// each image slice: "mul" multiplies by the CTF, "flip" only corrects
		// the sign of each coefficient
		CTFMode string `yaml:"ctfMode"`

		// InvertData negates image data before accumulation, converting
		// dark-on-light micrograph contrast into positive density
		InvertData bool `yaml:"invertData"`

		// First limits the run to the first N images when positive
		First int `yaml:"first"`
	} `yaml:"reconstruction"`

	// Tilt-series parameters
	Tilt struct {
		// NTilts is how many tilts per particle to backproject,
		// counted from the lowest tilt number
		NTilts int `yaml:"ntilts"`

		// DosePerTilt is the electron dose in e-/A^2 deposited per tilt image.
		// A positive value enables dose weighting
		DosePerTilt float64 `yaml:"dosePerTilt"`

		// AnglePerTilt is the stage tilt increment in degrees used to derive
		// the per-tilt amplitude scale factor
		AnglePerTilt float64 `yaml:"anglePerTilt"`
	} `yaml:"tilt"`

	// Resolution-estimation parameters
	FSC struct {
		// LooseDilation is the dilation distance in Angstrom for the loose map mask
		LooseDilation float64 `yaml:"looseDilation"`

		// LooseEdge is the cosine soft-edge width in Angstrom for the loose map mask
		LooseEdge float64 `yaml:"looseEdge"`

		// TightDilation is the dilation distance in Angstrom for the tight map mask
		TightDilation float64 `yaml:"tightDilation"`

		// TightEdge is the cosine soft-edge width in Angstrom for the tight map mask
		TightEdge float64 `yaml:"tightEdge"`

		// Seed fixes the phase-randomization RNG for reproducible corrected curves
		Seed uint64 `yaml:"seed"`
	} `yaml:"fsc"`

	// Output parameters
	Output struct {
		// HalfMaps controls whether the two half-map reconstructions are
		// kept and written alongside the full map
		HalfMaps bool `yaml:"halfMaps"`

		// SumCounts writes the raw accumulated sum and weight grids
		// next to the output volume
		SumCounts bool `yaml:"sumCounts"`

		// Preview writes orthogonal central-slice PNG previews of the
		// reconstructed volume
		Preview bool `yaml:"preview"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default reconstruction parameters
	cfg.Reconstruction.NumWorkers = runtime.NumCPU()
	cfg.Reconstruction.RegWeight = 1.0
	cfg.Reconstruction.CTFMode = "mul"
	cfg.Reconstruction.InvertData = true
	cfg.Reconstruction.First = 0

	// Set default tilt parameters
	cfg.Tilt.NTilts = 10
	cfg.Tilt.DosePerTilt = 0
	cfg.Tilt.AnglePerTilt = 3.0

	// Set default resolution-estimation parameters
	cfg.FSC.LooseDilation = 25.0
	cfg.FSC.LooseEdge = 15.0
	cfg.FSC.TightDilation = 6.0
	cfg.FSC.TightEdge = 6.0
	cfg.FSC.Seed = 0

	// Set default output parameters
	cfg.Output.HalfMaps = true
	cfg.Output.SumCounts = false
	cfg.Output.Preview = false
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks the configuration for invalid values or combinations.
// It is called before any accumulation begins so configuration mistakes
// fail fast instead of surfacing mid-run.
func (cfg *Config) Validate() error {
	if cfg.Reconstruction.NumWorkers < 0 {
		return fmt.Errorf("numWorkers must not be negative, got %d", cfg.Reconstruction.NumWorkers)
	}
	if cfg.Reconstruction.RegWeight < 0 {
		return fmt.Errorf("regWeight must not be negative, got %g", cfg.Reconstruction.RegWeight)
	}
	if mode := cfg.Reconstruction.CTFMode; mode != "mul" && mode != "flip" {
		return fmt.Errorf("ctfMode must be \"mul\" or \"flip\", got %q", mode)
	}
	if cfg.Reconstruction.First < 0 {
		return fmt.Errorf("first must not be negative, got %d", cfg.Reconstruction.First)
	}
	if cfg.Tilt.NTilts <= 0 {
		return fmt.Errorf("ntilts must be positive, got %d", cfg.Tilt.NTilts)
	}
	if cfg.Tilt.DosePerTilt < 0 {
		return fmt.Errorf("dosePerTilt must not be negative, got %g", cfg.Tilt.DosePerTilt)
	}
	if cfg.Tilt.AnglePerTilt <= 0 {
		return fmt.Errorf("anglePerTilt must be positive, got %g", cfg.Tilt.AnglePerTilt)
	}
	for _, p := range []struct {
		name  string
		value float64
	}{
		{"looseDilation", cfg.FSC.LooseDilation},
		{"looseEdge", cfg.FSC.LooseEdge},
		{"tightDilation", cfg.FSC.TightDilation},
		{"tightEdge", cfg.FSC.TightEdge},
	} {
		if p.value < 0 {
			return fmt.Errorf("%s must not be negative, got %g", p.name, p.value)
		}
	}
	return nil
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
