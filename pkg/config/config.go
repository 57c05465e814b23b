// Package config provides the configuration file of the sampling binaries
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fako1024/kegscale/pkg/adc"
	"github.com/fako1024/kegscale/pkg/sampler"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
)

// Config represents the application configuration
type Config struct {
	ADC      ADCConfig      `yaml:"adc"`
	Trigger  TriggerConfig  `yaml:"trigger"`
	Sampling SamplingConfig `yaml:"sampling"`
	API      APIConfig      `yaml:"api"`
	Debug    bool           `yaml:"debug"`
}

// ADCConfig contains the I2C connection settings of the ADC
type ADCConfig struct {
	Selector string `yaml:"selector"` // Bus name, alias or number (e.g. "I2C1")
	Address  uint16 `yaml:"address"`
	SpeedKHz int64  `yaml:"speed_khz"`
	Sharing  string `yaml:"sharing"` // "shared" or "exclusive"
}

// TriggerConfig contains the settings of the conversion-ready line
type TriggerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Pin     string `yaml:"pin"`
}

// SamplingConfig contains the parameters of the periodic acquisition
type SamplingConfig struct {
	Interval   time.Duration `yaml:"interval"`
	AccessMode string        `yaml:"access_mode"` // "guarded" or "legacy"
}

// APIConfig contains the REST API settings (disabled if the endpoint is empty)
type APIConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// Default returns the default configuration of the load sensor
func Default() *Config {
	def := adc.DefaultSettings()
	return &Config{
		ADC: ADCConfig{
			Selector: def.Selector,
			Address:  def.Address,
			SpeedKHz: int64(def.Speed / physic.KiloHertz),
			Sharing:  def.Sharing.String(),
		},
		Trigger: TriggerConfig{
			Enabled: true,
			Pin:     "GPIO27",
		},
		Sampling: SamplingConfig{
			Interval:   500 * time.Millisecond,
			AccessMode: sampler.AccessGuarded.String(),
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ensureDefaults()

	if _, err := cfg.AccessMode(); err != nil {
		return nil, err
	}
	if _, err := cfg.Settings(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Settings returns the ADC connection settings
func (c *Config) Settings() (adc.Settings, error) {
	settings := adc.Settings{
		Selector: c.ADC.Selector,
		Address:  c.ADC.Address,
		Speed:    physic.Frequency(c.ADC.SpeedKHz) * physic.KiloHertz,
	}

	switch strings.ToLower(c.ADC.Sharing) {
	case "shared":
		settings.Sharing = adc.SharingShared
	case "exclusive":
		settings.Sharing = adc.SharingExclusive
	default:
		return settings, fmt.Errorf("invalid sharing mode `%s`", c.ADC.Sharing)
	}

	return settings, nil
}

// AccessMode returns the device access mode of the sampler
func (c *Config) AccessMode() (sampler.AccessMode, error) {
	switch strings.ToLower(c.Sampling.AccessMode) {
	case "guarded":
		return sampler.AccessGuarded, nil
	case "legacy":
		return sampler.AccessLegacy, nil
	default:
		return 0, fmt.Errorf("invalid access mode `%s`", c.Sampling.AccessMode)
	}
}

// ensureDefaults ensures that all required fields have default values if missing
func (c *Config) ensureDefaults() {
	def := Default()

	if c.ADC.Selector == "" {
		c.ADC.Selector = def.ADC.Selector
	}
	if c.ADC.Address == 0 {
		c.ADC.Address = def.ADC.Address
	}
	if c.ADC.SpeedKHz == 0 {
		c.ADC.SpeedKHz = def.ADC.SpeedKHz
	}
	if c.ADC.Sharing == "" {
		c.ADC.Sharing = def.ADC.Sharing
	}

	if c.Trigger.Pin == "" {
		c.Trigger.Pin = def.Trigger.Pin
	}

	if c.Sampling.Interval <= 0 {
		c.Sampling.Interval = def.Sampling.Interval
	}
	if c.Sampling.AccessMode == "" {
		c.Sampling.AccessMode = def.Sampling.AccessMode
	}
}
