package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"BarcodeScanner/internal/media"
	"BarcodeScanner/internal/scan"
)

// Settings is the process configuration, read from a YAML file.
type Settings struct {
	HTTPAddr string  `yaml:"http_addr"`
	LogFile  string  `yaml:"log_file"`
	LogLevel string  `yaml:"log_level"`
	Scanner  Scanner `yaml:"scanner"`
	Preview  Preview `yaml:"preview"`
}

type Scanner struct {
	Policy           string   `yaml:"policy"`
	RetryIntervalMS  int      `yaml:"retry_interval_ms"`
	ReadyTimeoutMS   int      `yaml:"ready_timeout_ms"`
	ProcessingHoldMS int      `yaml:"processing_hold_ms"`
	Formats          []string `yaml:"formats"`
	TryHarder        bool     `yaml:"try_harder"`
	MaxFrameWidth    int      `yaml:"max_frame_width"`
	PreferredDevice  string   `yaml:"preferred_device"`
	DeviceMonitor    bool     `yaml:"device_monitor"`
	ImageCameraDir   string   `yaml:"image_camera_dir"`
	ImageCameraFPS   int      `yaml:"image_camera_fps"`
}

type Preview struct {
	FPS         int `yaml:"fps"`
	JPEGQuality int `yaml:"jpeg_quality"`
}

func DefaultSettings() *Settings {
	formats := make([]string, 0, 6)
	for _, f := range scan.RetailHints().Formats {
		formats = append(formats, string(f))
	}
	return &Settings{
		HTTPAddr: ":9981",
		LogLevel: "info",
		Scanner: Scanner{
			Policy:           scan.PolicyContinuous.String(),
			RetryIntervalMS:  300,
			ReadyTimeoutMS:   5000,
			ProcessingHoldMS: 1000,
			Formats:          formats,
			MaxFrameWidth:    1280,
			ImageCameraFPS:   10,
		},
		Preview: Preview{
			FPS:         5,
			JPEGQuality: 70,
		},
	}
}

// Validate clamps values to usable ranges. It only fails on values that
// cannot be repaired.
func (s *Settings) Validate() error {
	def := DefaultSettings()
	if s.HTTPAddr == "" {
		s.HTTPAddr = def.HTTPAddr
	}
	if _, ok := scan.ParsePolicy(s.Scanner.Policy); !ok {
		return fmt.Errorf("scanner.policy: unknown policy %q", s.Scanner.Policy)
	}
	if s.Scanner.RetryIntervalMS < 10 {
		s.Scanner.RetryIntervalMS = def.Scanner.RetryIntervalMS
	}
	if s.Scanner.ReadyTimeoutMS <= 0 {
		s.Scanner.ReadyTimeoutMS = def.Scanner.ReadyTimeoutMS
	}
	if s.Scanner.ProcessingHoldMS <= 0 {
		s.Scanner.ProcessingHoldMS = def.Scanner.ProcessingHoldMS
	}
	if len(s.Scanner.Formats) == 0 {
		s.Scanner.Formats = def.Scanner.Formats
	}
	if s.Scanner.MaxFrameWidth < 160 {
		s.Scanner.MaxFrameWidth = def.Scanner.MaxFrameWidth
	}
	if s.Scanner.ImageCameraFPS <= 0 || s.Scanner.ImageCameraFPS > 60 {
		s.Scanner.ImageCameraFPS = def.Scanner.ImageCameraFPS
	}
	if s.Preview.FPS <= 0 || s.Preview.FPS > 30 {
		s.Preview.FPS = def.Preview.FPS
	}
	if s.Preview.JPEGQuality <= 0 || s.Preview.JPEGQuality > 100 {
		s.Preview.JPEGQuality = def.Preview.JPEGQuality
	}
	return nil
}

// Load reads settings from path. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, err
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return DefaultSettings(), fmt.Errorf("parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return DefaultSettings(), err
	}
	return s, nil
}

// Level maps log_level onto a slog level; unknown names mean info.
func (s *Settings) Level() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Policy is the configured default policy.
func (s *Settings) Policy() scan.Policy {
	p, _ := scan.ParsePolicy(s.Scanner.Policy)
	return p
}

// SessionOptions builds session options for policy. The preview sink is left
// for the caller.
func (s *Settings) SessionOptions(policy scan.Policy) scan.Options {
	hints := scan.Hints{TryHarder: s.Scanner.TryHarder}
	for _, f := range s.Scanner.Formats {
		hints.Formats = append(hints.Formats, scan.Format(strings.ToLower(f)))
	}
	return scan.Options{
		Policy:            policy,
		RetryInterval:     time.Duration(s.Scanner.RetryIntervalMS) * time.Millisecond,
		ReadyTimeout:      time.Duration(s.Scanner.ReadyTimeoutMS) * time.Millisecond,
		ProcessingHold:    time.Duration(s.Scanner.ProcessingHoldMS) * time.Millisecond,
		Hints:             hints,
		PreferredDeviceID: s.Scanner.PreferredDevice,
	}
}

func (s *Settings) MediaOptions() media.Options {
	return media.Options{
		MaxFrameWidth: s.Scanner.MaxFrameWidth,
		DeviceMonitor: s.Scanner.DeviceMonitor,
	}
}
