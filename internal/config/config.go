// Package config loads the bot configuration from YAML. User settings live
// in ~/.config/meetagent/config.yaml; a missing file yields the defaults so
// the bot runs with nothing but a meeting URL.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BotConfig is the on-disk configuration.
type BotConfig struct {
	MeetingURL string `yaml:"meeting_url,omitempty"` // usually given on the command line
	BotName    string `yaml:"bot_name"`
	Headless   bool   `yaml:"headless"`
	BrowserBin string `yaml:"browser_bin,omitempty"`

	DisableMic    bool `yaml:"disable_mic"`
	DisableCamera bool `yaml:"disable_camera"`

	Recording     RecordingConfig     `yaml:"recording"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Monitor       MonitorConfig       `yaml:"monitor"`

	// SelectorDir holds page selector rule overrides.
	SelectorDir string `yaml:"selector_dir,omitempty"`
}

// RecordingConfig controls media capture.
type RecordingConfig struct {
	EnableAudio bool     `yaml:"enable_audio"`
	EnableVideo bool     `yaml:"enable_video"`
	AutoRecord  bool     `yaml:"auto_record"`
	Dir         string   `yaml:"dir"`
	Formats     []string `yaml:"transcript_formats,omitempty"` // txt, json, srt, vtt
}

// TranscriptionConfig selects and configures the transcription variant.
type TranscriptionConfig struct {
	Mode            string        `yaml:"mode"` // whisper | captions | off
	KeepAudio       bool          `yaml:"keep_audio"` // default false: delete audio once transcribed
	CaptionInterval int           `yaml:"caption_interval_seconds,omitempty"`
	Whisper         WhisperConfig `yaml:"whisper"`
}

// WhisperConfig holds the speech-to-text API settings.
type WhisperConfig struct {
	BaseURL        string  `yaml:"base_url,omitempty"`
	APIKey         string  `yaml:"api_key,omitempty"` // falls back to OPENAI_API_KEY
	Model          string  `yaml:"model,omitempty"`
	Language       string  `yaml:"language,omitempty"`
	Prompt         string  `yaml:"prompt,omitempty"`
	Temperature    float64 `yaml:"temperature,omitempty"`
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"`
	Retries        int     `yaml:"retries,omitempty"`
}

// MonitorConfig controls the in-meeting watch loop.
type MonitorConfig struct {
	ParticipantIntervalSeconds int `yaml:"participant_interval_seconds,omitempty"`
	LivenessIntervalSeconds    int `yaml:"liveness_interval_seconds,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *BotConfig {
	return &BotConfig{
		BotName:       "MeetAgent",
		Headless:      true,
		DisableMic:    true,
		DisableCamera: true,
		Recording: RecordingConfig{
			EnableAudio: true,
			AutoRecord:  true,
			Dir:         "recordings",
			Formats:     []string{"txt", "json"},
		},
		Transcription: TranscriptionConfig{
			Mode: "off",
		},
	}
}

// DefaultPath returns ~/.config/meetagent/config.yaml.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "meetagent", "config.yaml")
}

// Load reads the config at path, or the default location when path is empty.
// A missing file is not an error; the defaults are returned. Values absent
// from the file keep their defaults.
func Load(path string) (*BotConfig, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Transcription.Whisper.APIKey == "" {
		cfg.Transcription.Whisper.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to ~/.config/meetagent/config.yaml.
func Save(cfg *BotConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	configDir := filepath.Join(os.Getenv("HOME"), ".config", "meetagent")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Validate checks the configuration for values the bot cannot run with.
func (c *BotConfig) Validate() error {
	switch c.Transcription.Mode {
	case "", "off", "whisper", "captions":
	default:
		return fmt.Errorf("transcription.mode must be whisper, captions or off, got %q", c.Transcription.Mode)
	}

	if c.Transcription.Mode == "whisper" && c.Transcription.Whisper.APIKey == "" {
		return fmt.Errorf("transcription.whisper.api_key (or OPENAI_API_KEY) is required for whisper mode")
	}

	if t := c.Transcription.Whisper.Temperature; t < 0 || t > 1 {
		return fmt.Errorf("transcription.whisper.temperature must be between 0 and 1, got %g", t)
	}

	if c.Transcription.CaptionInterval < 0 {
		return fmt.Errorf("transcription.caption_interval_seconds must not be negative")
	}

	for _, f := range c.Recording.Formats {
		switch f {
		case "txt", "json", "srt", "vtt":
		default:
			return fmt.Errorf("recording.transcript_formats: unknown format %q", f)
		}
	}

	if c.Monitor.ParticipantIntervalSeconds < 0 || c.Monitor.LivenessIntervalSeconds < 0 {
		return fmt.Errorf("monitor intervals must not be negative")
	}

	return nil
}
