// Package config loads circuit descriptions from YAML files and turns them
// into synapse construction parameters.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfluke/dendrite/synapse"
)

// Config describes one simulation run.
type Config struct {
	// Steps is the number of simulation steps to run.
	Steps int `yaml:"steps"`

	// Seed drives the run's data generator.
	Seed int64 `yaml:"seed"`

	// Logging configures the run's logger.
	Logging LoggingConfig `yaml:"logging"`

	// Synapses are the synaptic cables of the circuit, stepped in order.
	Synapses []SynapseConfig `yaml:"synapses"`
}

// LoggingConfig configures the run's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default) or "debug".
	Level string `yaml:"level"`
}

// InitConfig describes a parameter initializer.
type InitConfig struct {
	// Dist is "uniform", "gaussian", or "constant".
	Dist string `yaml:"dist"`

	Min    float32 `yaml:"min"`
	Max    float32 `yaml:"max"`
	Mean   float32 `yaml:"mean"`
	Stddev float32 `yaml:"stddev"`
	Value  float32 `yaml:"value"`
}

// build turns an initializer description into a synapse.Initializer.
func (ic *InitConfig) build() (synapse.Initializer, error) {
	if ic == nil {
		return nil, nil
	}
	switch strings.ToLower(ic.Dist) {
	case "uniform":
		return synapse.UniformInit(ic.Min, ic.Max), nil
	case "gaussian":
		return synapse.GaussianInit(ic.Mean, ic.Stddev), nil
	case "constant":
		return synapse.ConstantInit(ic.Value), nil
	default:
		return nil, fmt.Errorf("%w: unknown initializer dist %q", synapse.ErrConfiguration, ic.Dist)
	}
}

// SynapseConfig describes one convolutional synapse.
type SynapseConfig struct {
	Name        string `yaml:"name"`
	KernelSize  int    `yaml:"kernel_size"`
	InChannels  int    `yaml:"in_channels"`
	OutChannels int    `yaml:"out_channels"`
	XSize       int    `yaml:"x_size"`
	BatchSize   int    `yaml:"batch_size"`
	Stride      int    `yaml:"stride"`
	Padding     string `yaml:"padding"`

	Eta         float32 `yaml:"eta"`
	ResistScale float32 `yaml:"resist_scale"`
	WBound      float32 `yaml:"w_bound"`
	WDecay      float32 `yaml:"w_decay"`
	SignValue   float32 `yaml:"sign_value"`
	Nonnegative bool    `yaml:"nonnegative"`
	Optimizer   string  `yaml:"optimizer"`

	FilterInit *InitConfig `yaml:"filter_init"`

	// BiasInit enables biases when present; absent disables them.
	BiasInit *InitConfig `yaml:"bias_init"`
}

// ToSynapse converts the description into a synapse.Config. The run seed is
// mixed with the synapse's index so each cable gets distinct parameters.
func (sc SynapseConfig) ToSynapse(seed int64) (synapse.Config, error) {
	filterInit, err := sc.FilterInit.build()
	if err != nil {
		return synapse.Config{}, fmt.Errorf("synapse %q filter_init: %w", sc.Name, err)
	}
	biasInit, err := sc.BiasInit.build()
	if err != nil {
		return synapse.Config{}, fmt.Errorf("synapse %q bias_init: %w", sc.Name, err)
	}

	return synapse.Config{
		Name: sc.Name,
		Shape: synapse.SynapseShape{
			KernelHeight: sc.KernelSize,
			KernelWidth:  sc.KernelSize,
			InChannels:   sc.InChannels,
			OutChannels:  sc.OutChannels,
		},
		XSize:         sc.XSize,
		BatchSize:     sc.BatchSize,
		Eta:           sc.Eta,
		FilterInit:    filterInit,
		BiasInit:      biasInit,
		Stride:        sc.Stride,
		Padding:       synapse.PaddingMode(strings.ToUpper(sc.Padding)),
		ResistScale:   sc.ResistScale,
		WBound:        sc.WBound,
		WDecay:        sc.WDecay,
		SignValue:     sc.SignValue,
		IsNonnegative: sc.Nonnegative,
		OptimType:     strings.ToLower(sc.Optimizer),
		Seed:          seed,
	}, nil
}

// Load reads and validates a YAML run description.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the run description before any synapse is constructed,
// so malformed files fail with a file-level error instead of a
// construction-time one.
func (c *Config) Validate() error {
	if c.Steps < 1 {
		return fmt.Errorf("%w: steps must be at least 1", synapse.ErrConfiguration)
	}
	if len(c.Synapses) == 0 {
		return fmt.Errorf("%w: no synapses configured", synapse.ErrConfiguration)
	}
	for i, sc := range c.Synapses {
		if sc.Name == "" {
			return fmt.Errorf("%w: synapse %d has no name", synapse.ErrConfiguration, i)
		}
		switch strings.ToUpper(sc.Padding) {
		case "", "SAME", "VALID":
		default:
			return fmt.Errorf("%w: synapse %q has unsupported padding %q",
				synapse.ErrConfiguration, sc.Name, sc.Padding)
		}
		switch strings.ToLower(sc.Optimizer) {
		case "", "sgd", "adam":
		default:
			return fmt.Errorf("%w: synapse %q has unsupported optimizer %q",
				synapse.ErrConfiguration, sc.Name, sc.Optimizer)
		}
	}
	return nil
}
