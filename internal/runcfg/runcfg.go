// Package runcfg loads and stores run configurations for the tracer CLI.
// Flags override file values. The config.txt companion file in the result
// directory records the literal command line and the potential metadata,
// not the merged configuration.
package runcfg

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults for tracer runs.
const (
	DefaultParticles   = 10000
	DefaultEndTime     = 1.0
	DefaultRelErrBound = 1e-6
	DefaultAbsErrBound = 1e-6
	DefaultMemoryMB    = 4096
	DefaultResultDir   = "result"
)

// TracerConfig mirrors the tracer command line.
type TracerConfig struct {
	Particles    int      `yaml:"particles"`
	Potential    string   `yaml:"potential"`
	Strength     float64  `yaml:"strength"`
	Periodic     bool     `yaml:"periodic"`
	Incoming     []string `yaml:"incoming"`
	Observers    []string `yaml:"observers"`
	Dynamics     []string `yaml:"dynamics"`
	RelErrBound  float64  `yaml:"rel_err_bound"`
	AbsErrBound  float64  `yaml:"abs_err_bound"`
	EndTime      float64  `yaml:"end_time"`
	ResultDir    string   `yaml:"result_dir"`
	NoNormEnergy bool     `yaml:"no_norm_energy"`
	Threads      int      `yaml:"threads"`
	MemoryMB     int      `yaml:"memory_mb"`
	Integrator   string   `yaml:"integrator"`
	TimeStep     float64  `yaml:"time_step"`
}

// Default returns the configuration the CLI starts from.
func Default() *TracerConfig {
	return &TracerConfig{
		Particles:   DefaultParticles,
		Strength:    -1, // negative means keep the stored strength
		Incoming:    []string{"planar"},
		Dynamics:    []string{"particle"},
		RelErrBound: DefaultRelErrBound,
		AbsErrBound: DefaultAbsErrBound,
		EndTime:     DefaultEndTime,
		ResultDir:   DefaultResultDir,
		MemoryMB:    DefaultMemoryMB,
		Integrator:  "adaptive",
	}
}

// Load reads a yaml configuration on top of the defaults.
func Load(path string) (*TracerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as yaml.
func Save(path string, cfg *TracerConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
