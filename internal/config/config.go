package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type StageCfg struct {
	Port           string  `yaml:"port"` // e.g. /dev/ttyUSB0
	VelocityMMS    float64 `yaml:"velocity_mm_s"`
	ParkVelocity   float64 `yaml:"park_velocity_mm_s"`
	PositiveLimit  float64 `yaml:"positive_limit_mm"`
	NegativeLimit  float64 `yaml:"negative_limit_mm"`
	HomeTimeoutSec int     `yaml:"home_timeout_sec"`
}

type LightCfg struct {
	Intensity      int `yaml:"intensity"`
	WarmUpTimeout  int `yaml:"warmup_timeout_sec"`
	StatusPollMs   int `yaml:"status_poll_ms,omitempty"`
	DeviceIndex    int `yaml:"device_index"`
	SettleDelaySec int `yaml:"settle_delay_sec"`
}

type Config struct {
	Driver   string `yaml:"driver"` // "serial" | "sim"
	ImageDir string `yaml:"image_dir"`
	FPS      int    `yaml:"fps"`

	StepSizeMM            float64 `yaml:"step_size_mm"`
	DarkTimeMS            int     `yaml:"dark_time_ms"`
	MaxImageDisplayCount  int     `yaml:"max_image_display_count"`
	InitialExposureFrames int     `yaml:"initial_exposure_frames"`
	InitialLayers         int     `yaml:"initial_layers"`
	ClipMode              bool    `yaml:"clip_mode"`
	PumpingMM             float64 `yaml:"pumping_mm"`

	SettingsFile string `yaml:"settings_file,omitempty"`
	MonitorAddr  string `yaml:"monitor_addr,omitempty"`

	Stage StageCfg `yaml:"stage"`
	Light LightCfg `yaml:"light"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Driver:               "serial",
		ImageDir:             "images",
		FPS:                  30,
		StepSizeMM:           0.05,
		DarkTimeMS:           500,
		MaxImageDisplayCount: 30,
		InitialLayers:        0,
		ClipMode:             true,
		Stage: StageCfg{
			Port:           "/dev/ttyUSB0",
			VelocityMMS:    1.0,
			ParkVelocity:   5.0,
			HomeTimeoutSec: 60,
		},
		Light: LightCfg{
			Intensity:      128,
			WarmUpTimeout:  600,
			SettleDelaySec: 2,
		},
	}
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	return c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
