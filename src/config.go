package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	Read the YAML configuration file.
 *
 * Description:	Everything has a default so an empty file, or no file
 *		at all, gives a working setup with the GNSS receiver on
 *		/dev/ttyACM0 and the raw TCP input on port 2102.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPollInterval   = 50 * time.Millisecond
	DefaultInjectPort     = 2102
	DefaultLBandFrequency = 1556290000 // Hz, the EU beam.
	DefaultCaptureFormat  = "hpgmux-%Y-%m-%d.csv"
)

// If search order is changed, update the sample in data/ too.
var config_search_locations = []string{
	"hpgmux.yaml",      // Current working directory
	"data/hpgmux.yaml", // Source tree
	"/etc/hpgmux/hpgmux.yaml",
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type CorrectionsConfig struct {
	QueueCapacity        int           `yaml:"queue_capacity"`
	SourceTimeout        time.Duration `yaml:"source_timeout"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	ReplayAfterReconnect bool          `yaml:"replay_after_reconnect"`
}

type ResetLineConfig struct {
	Chip      string        `yaml:"chip"` // e.g. gpiochip0, empty to disable.
	Line      int           `yaml:"line"`
	ActiveLow bool          `yaml:"active_low"`
	After     int           `yaml:"after"` // Consecutive failed detections.
	Pulse     time.Duration `yaml:"pulse"`
}

type ConfigItem struct {
	Key   uint32 `yaml:"key"`
	Value uint64 `yaml:"value"`
}

type ReceiverConfig struct {
	Device      string          `yaml:"device"`
	Baud        int             `yaml:"baud"`
	AckTimeout  time.Duration   `yaml:"ack_timeout"`
	DetectRetry time.Duration   `yaml:"detect_retry"`
	Hotplug     bool            `yaml:"hotplug"`
	Reset       ResetLineConfig `yaml:"reset"`
	ExtraConfig []ConfigItem    `yaml:"extra_config"`
}

type LBandConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Device      string        `yaml:"device"`
	Baud        int           `yaml:"baud"`
	AckTimeout  time.Duration `yaml:"ack_timeout"`
	DetectRetry time.Duration `yaml:"detect_retry"`
	Frequency   uint32        `yaml:"frequency"`
}

type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id"`
	CACert          string `yaml:"ca_cert"`
	ClientCert      string `yaml:"client_cert"`
	ClientKey       string `yaml:"client_key"`
	CorrectionTopic string `yaml:"correction_topic"`
	KeyTopic        string `yaml:"key_topic"`
	AssistTopic     string `yaml:"assist_topic"`
	Source          string `yaml:"source"` // wlan or lte
	QoS             byte   `yaml:"qos"`

	source Source
}

type InjectServerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Listen   string `yaml:"listen"`
	Source   string `yaml:"source"`
	Announce bool   `yaml:"announce"`
	Name     string `yaml:"name"` // DNS-SD instance name.

	source Source
}

type CaptureConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
	Format    string `yaml:"format"` // strftime pattern
}

type Config struct {
	Log         LogConfig          `yaml:"log"`
	Corrections CorrectionsConfig  `yaml:"corrections"`
	GNSS        ReceiverConfig     `yaml:"gnss"`
	LBand       LBandConfig        `yaml:"lband"`
	MQTT        MQTTConfig         `yaml:"mqtt"`
	Inject      InjectServerConfig `yaml:"inject"`
	Capture     CaptureConfig      `yaml:"capture"`
	KeyFile     string             `yaml:"key_file"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Corrections: CorrectionsConfig{
			QueueCapacity: DefaultQueueCapacity,
			SourceTimeout: DefaultSourceTimeout,
			PollInterval:  DefaultPollInterval,
		},
		GNSS: ReceiverConfig{
			Device:      "/dev/ttyACM0",
			AckTimeout:  DefaultAckTimeout,
			DetectRetry: DefaultDetectRetry,
			Reset:       ResetLineConfig{Pulse: DefaultResetPulse, After: 5},
		},
		LBand: LBandConfig{
			Device:      "/dev/ttyACM1",
			Baud:        lbandUARTBaud,
			AckTimeout:  DefaultAckTimeout,
			DetectRetry: DefaultDetectRetry,
			Frequency:   DefaultLBandFrequency,
		},
		MQTT: MQTTConfig{
			ClientID:        "hpgmux",
			CorrectionTopic: "/pp/ip/eu",
			KeyTopic:        "/pp/ubx/0236/ip",
			Source:          "wlan",
		},
		Inject: InjectServerConfig{
			Enabled: true,
			Listen:  fmt.Sprintf(":%d", DefaultInjectPort),
			Source:  "lte",
		},
		Capture: CaptureConfig{Format: DefaultCaptureFormat},
	}
}

// LoadConfig reads path, or the first file found in the search list when
// path is empty.  No file at all is not an error.
func LoadConfig(path string) (*Config, string, error) {
	var candidates = config_search_locations
	if path != "" {
		candidates = []string{path}
	}

	var cfg = DefaultConfig()

	for _, location := range candidates {
		var data, readErr = os.ReadFile(location)
		if errors.Is(readErr, fs.ErrNotExist) && path == "" {
			continue
		} else if readErr != nil {
			return nil, "", fmt.Errorf("could not read config file %s: %w", location, readErr)
		}

		var unmarshalErr = yaml.Unmarshal(data, cfg)
		if unmarshalErr != nil {
			return nil, "", fmt.Errorf("config file %s: %w", location, unmarshalErr)
		}

		var validateErr = cfg.Validate()
		if validateErr != nil {
			return nil, "", fmt.Errorf("config file %s: %w", location, validateErr)
		}

		return cfg, location, nil
	}

	return cfg, "", cfg.Validate()
}

// Validate checks values and fills in defaults for anything left zero.
func (c *Config) Validate() error {
	if c.Corrections.QueueCapacity == 0 {
		c.Corrections.QueueCapacity = DefaultQueueCapacity
	} else if c.Corrections.QueueCapacity < 0 {
		return fmt.Errorf("corrections.queue_capacity must be positive, got %d", c.Corrections.QueueCapacity)
	}

	if c.Corrections.SourceTimeout <= 0 {
		c.Corrections.SourceTimeout = DefaultSourceTimeout
	}

	if c.Corrections.PollInterval <= 0 {
		c.Corrections.PollInterval = DefaultPollInterval
	}

	if c.GNSS.Device == "" {
		return errors.New("gnss.device is required")
	}

	if c.GNSS.DetectRetry <= 0 {
		c.GNSS.DetectRetry = DefaultDetectRetry
	}

	if c.GNSS.Reset.Chip != "" && c.GNSS.Reset.After <= 0 {
		return fmt.Errorf("gnss.reset.after must be positive, got %d", c.GNSS.Reset.After)
	}

	if c.LBand.Enabled {
		if c.LBand.Device == "" {
			return errors.New("lband.device is required")
		}

		if c.LBand.Frequency == 0 {
			c.LBand.Frequency = DefaultLBandFrequency
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.broker is required")
		}

		var src, err = parseNetworkSource("mqtt.source", c.MQTT.Source)
		if err != nil {
			return err
		}

		c.MQTT.source = src

		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}

	if c.Inject.Enabled {
		if c.Inject.Listen == "" {
			c.Inject.Listen = fmt.Sprintf(":%d", DefaultInjectPort)
		}

		var src, err = parseNetworkSource("inject.source", c.Inject.Source)
		if err != nil {
			return err
		}

		c.Inject.source = src
	}

	if c.Capture.Format == "" {
		c.Capture.Format = DefaultCaptureFormat
	}

	return nil
}

// parseNetworkSource accepts the sources an IP stream can be tagged with.
func parseNetworkSource(field, name string) (Source, error) {
	var src, err = ParseSource(name)
	if err != nil {
		return SourceOther, fmt.Errorf("%s: %w", field, err)
	}

	if src != SourceWLAN && src != SourceLTE {
		return SourceOther, fmt.Errorf("%s must be wlan or lte, got %q", field, name)
	}

	return src, nil
}
