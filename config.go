package main

import (
	"fmt"
	"os"
	"time"

	"github.com/linht/fm-tuner/panel"
	"github.com/linht/fm-tuner/tuner"
	"gopkg.in/yaml.v3"
)

// Bus backends
const (
	BusI2C  = "i2c"
	BusGPIO = "gpio"
	BusSim  = "sim"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`
	Auth struct {
		PasswordHash string `yaml:"password_hash"`
	} `yaml:"auth"`
	Tuner   TunerConfig `yaml:"tuner"`
	Presets struct {
		Path string `yaml:"path"`
	} `yaml:"presets"`
	Status struct {
		RefreshInterval time.Duration `yaml:"refresh_interval"`
	} `yaml:"status"`
	Panel struct {
		Enabled        bool          `yaml:"enabled"`
		GPIOChip       string        `yaml:"gpio_chip"`
		Pins           panel.Pins    `yaml:"pins"`
		SampleInterval time.Duration `yaml:"sample_interval"`
	} `yaml:"panel"`
	Plugins []string `yaml:"plugins"`
}

// TunerConfig selects the bus backend and the radio settings applied at
// startup.
type TunerConfig struct {
	Bus        string `yaml:"bus"`
	I2CBus     string `yaml:"i2c_bus"`
	I2CSpeedHz int64  `yaml:"i2c_speed_hz"`
	Address    uint16 `yaml:"address"`

	GPIOChip   string        `yaml:"gpio_chip"`
	ResetPin   int           `yaml:"reset_pin"`
	SDIOPin    int           `yaml:"sdio_pin"`
	SCLKPin    int           `yaml:"sclk_pin"`
	HalfPeriod time.Duration `yaml:"half_period"`

	Band       string `yaml:"band"`
	SpacingKHz int    `yaml:"spacing_khz"`
	DeEmphasis int    `yaml:"de_emphasis_us"`
	Seek       struct {
		Mode             string `yaml:"mode"`
		RSSIThreshold    uint8  `yaml:"rssi_threshold"`
		ImpulseThreshold uint8  `yaml:"impulse_threshold"`
		SNRThreshold     uint8  `yaml:"snr_threshold"`
		AGCDisable       bool   `yaml:"agc_disable"`
	} `yaml:"seek"`
	PollInterval time.Duration `yaml:"poll_interval"`
	TuneTimeout  time.Duration `yaml:"tune_timeout"`
	SeekTimeout  time.Duration `yaml:"seek_timeout"`

	StartFrequency int `yaml:"start_frequency"`
	StartVolume    int `yaml:"start_volume"`

	Sim struct {
		Stations []tuner.SimStation `yaml:"stations"`
	} `yaml:"sim"`
}

func loadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	config = defaultConfig()
	return yaml.Unmarshal(data, &config)
}

func defaultConfig() Config {
	var c Config
	c.Server.Host = "0.0.0.0"
	c.Server.Port = "8080"
	c.Presets.Path = "presets.yaml"
	c.Status.RefreshInterval = time.Second
	c.Panel.GPIOChip = "gpiochip0"
	c.Panel.SampleInterval = panel.DefaultSampleInterval
	c.Plugins = []string{"radio"}

	d := tuner.DefaultConfig()
	t := &c.Tuner
	t.Bus = BusI2C
	t.Address = tuner.DefaultAddress
	t.GPIOChip = "gpiochip0"
	t.ResetPin = -1
	t.Band = "wide"
	t.SpacingKHz = 100
	t.DeEmphasis = 75
	t.Seek.Mode = "stop"
	t.Seek.RSSIThreshold = d.Seek.RSSIThreshold
	t.Seek.ImpulseThreshold = d.Seek.ImpulseThreshold
	t.Seek.SNRThreshold = d.Seek.SNRThreshold
	t.PollInterval = d.PollInterval
	t.TuneTimeout = d.TuneTimeout
	t.SeekTimeout = d.SeekTimeout
	t.StartVolume = -1
	return c
}

var bandNames = map[string]tuner.Band{
	"wide":       tuner.BandWide,
	"japan_wide": tuner.BandJapanWide,
	"japan":      tuner.BandJapan,
}

var spacings = map[int]tuner.Spacing{
	200: tuner.Spacing200kHz,
	100: tuner.Spacing100kHz,
	50:  tuner.Spacing50kHz,
}

// TunerSettings converts the YAML settings to a tuner configuration.
func (c TunerConfig) TunerSettings() (tuner.Config, error) {
	cfg := tuner.DefaultConfig()

	band, ok := bandNames[c.Band]
	if !ok {
		return cfg, fmt.Errorf("unknown band %q (use wide, japan_wide or japan)", c.Band)
	}
	spacing, ok := spacings[c.SpacingKHz]
	if !ok {
		return cfg, fmt.Errorf("unsupported channel spacing %d kHz (use 200, 100 or 50)", c.SpacingKHz)
	}
	cfg.Band, cfg.Spacing = band, spacing

	switch c.DeEmphasis {
	case 75:
		cfg.DeEmphasis = tuner.DeEmphasis75us
	case 50:
		cfg.DeEmphasis = tuner.DeEmphasis50us
	default:
		return cfg, fmt.Errorf("unsupported de-emphasis %d us (use 75 or 50)", c.DeEmphasis)
	}

	switch c.Seek.Mode {
	case "stop":
		cfg.Seek.Mode = tuner.SeekStop
	case "wrap":
		cfg.Seek.Mode = tuner.SeekWrap
	default:
		return cfg, fmt.Errorf("unknown seek mode %q (use stop or wrap)", c.Seek.Mode)
	}
	if c.Seek.ImpulseThreshold > 15 || c.Seek.SNRThreshold > 15 {
		return cfg, fmt.Errorf("seek impulse and SNR thresholds must be 0-15")
	}
	cfg.Seek.RSSIThreshold = c.Seek.RSSIThreshold
	cfg.Seek.ImpulseThreshold = c.Seek.ImpulseThreshold
	cfg.Seek.SNRThreshold = c.Seek.SNRThreshold
	cfg.Seek.AGCDisable = c.Seek.AGCDisable

	cfg.PollInterval = c.PollInterval
	cfg.TuneTimeout = c.TuneTimeout
	cfg.SeekTimeout = c.SeekTimeout
	return cfg, nil
}
