package shared

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

const (
	DropOldest = "drop_oldest"
	DropNewest = "drop_newest"
)

// Environment overrides applied by Config.ApplyEnv.
const (
	EnvProvider      = "LIVE_PROVIDER"
	EnvGeminiAPIKey  = "GEMINI_API_KEY"
	EnvGeminiBaseURL = "GEMINI_BASE_URL"
	EnvOpenAIAPIKey  = "OPENAI_API_KEY"
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	EnvMetricsListen = "METRICS_LISTEN"
)

// Duration is a time.Duration written as "1s", "250ms" in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		var n int64
		if err2 := unmarshal(&n); err2 != nil {
			return err
		}
		*d = Duration(time.Duration(n) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	Provider string        `yaml:"provider"`
	Gemini   GeminiConfig  `yaml:"gemini"`
	OpenAI   OpenAIConfig  `yaml:"openai"`
	Audio    AudioConfig   `yaml:"audio"`
	Session  SessionConfig `yaml:"session"`
	Log      LogConfig     `yaml:"log"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Catalog  CatalogConfig `yaml:"catalog"`
}

type GeminiConfig struct {
	APIKey     string `yaml:"api_key,omitempty"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	VoiceVideo string `yaml:"voice_video"`
	VoicePhone string `yaml:"voice_phone"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Voice   string `yaml:"voice"`
	// Eagerness of semantic VAD: low, medium, high or auto.
	Eagerness string `yaml:"eagerness"`
}

type AudioConfig struct {
	CaptureRate  int      `yaml:"capture_rate"`
	FrameSamples int      `yaml:"frame_samples"`
	PlaybackRate int      `yaml:"playback_rate"`
	OutputBuffer Duration `yaml:"output_buffer"`
}

type SessionConfig struct {
	OutboundQueue   int      `yaml:"outbound_queue"`
	DropPolicy      string   `yaml:"drop_policy"`
	MaxPlaybackLead Duration `yaml:"max_playback_lead"`
	TickInterval    Duration `yaml:"tick_interval"`
	ConnectTimeout  Duration `yaml:"connect_timeout"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type MetricsConfig struct {
	// Listen is the address of the Prometheus endpoint. Empty disables it.
	Listen string `yaml:"listen"`
}

type CatalogConfig struct {
	// Path to a YAML consultant catalog. Empty uses the built-in one.
	Path string `yaml:"path"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderGemini
	}
	if c.Gemini.BaseURL == "" {
		c.Gemini.BaseURL = "wss://generativelanguage.googleapis.com/ws"
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.5-flash-native-audio-preview-09-2025"
	}
	if c.Gemini.VoiceVideo == "" {
		c.Gemini.VoiceVideo = "Kore"
	}
	if c.Gemini.VoicePhone == "" {
		c.Gemini.VoicePhone = "Charon"
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-realtime"
	}
	if c.OpenAI.Voice == "" {
		c.OpenAI.Voice = "marin"
	}
	if c.OpenAI.Eagerness == "" {
		c.OpenAI.Eagerness = "auto"
	}
	if c.Audio.CaptureRate == 0 {
		c.Audio.CaptureRate = 16000
	}
	if c.Audio.FrameSamples == 0 {
		c.Audio.FrameSamples = 4096
	}
	if c.Audio.PlaybackRate == 0 {
		c.Audio.PlaybackRate = 24000
	}
	if c.Audio.OutputBuffer == 0 {
		c.Audio.OutputBuffer = Duration(100 * time.Millisecond)
	}
	if c.Session.OutboundQueue == 0 {
		c.Session.OutboundQueue = 64
	}
	if c.Session.DropPolicy == "" {
		c.Session.DropPolicy = DropOldest
	}
	if c.Session.MaxPlaybackLead == 0 {
		c.Session.MaxPlaybackLead = Duration(30 * time.Second)
	}
	if c.Session.TickInterval == 0 {
		c.Session.TickInterval = Duration(time.Second)
	}
	if c.Session.ConnectTimeout == 0 {
		c.Session.ConnectTimeout = Duration(15 * time.Second)
	}
	if c.Log.File == "" {
		c.Log.File = "consult-live.log"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 2
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 3
	}
}

// LoadConfig reads a YAML config file. Keys left out keep their defaults.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()
	return LoadConfigFromReader(f)
}

func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := &Config{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.UnmarshalWithOptions(data, cfg, yaml.DisallowUnknownField()); err != nil {
			return nil, fmt.Errorf("decoding config: %w", err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ApplyEnv overrides provider, credentials and endpoints from the
// environment.
func (c *Config) ApplyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		v, err := Getenv(GetenvString, key, false, *dst)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	str(EnvProvider, &c.Provider)
	str(EnvGeminiAPIKey, &c.Gemini.APIKey)
	str(EnvGeminiBaseURL, &c.Gemini.BaseURL)
	str(EnvOpenAIAPIKey, &c.OpenAI.APIKey)
	str(EnvOpenAIBaseURL, &c.OpenAI.BaseURL)
	str(EnvMetricsListen, &c.Metrics.Listen)
	str(EnvLogLevel, &c.Log.Level)
	return errors.Join(errs...)
}

// Validate checks the config and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	switch c.Provider {
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			errs = append(errs, fmt.Errorf("gemini.api_key: %w", ErrNoAPIKey))
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			errs = append(errs, fmt.Errorf("openai.api_key: %w", ErrNoAPIKey))
		}
	default:
		errs = append(errs, fmt.Errorf("provider %q: %w", c.Provider, ErrUnknownProvider))
	}
	if c.Audio.CaptureRate <= 0 {
		errs = append(errs, errors.New("audio.capture_rate must be positive"))
	}
	if c.Audio.PlaybackRate <= 0 {
		errs = append(errs, errors.New("audio.playback_rate must be positive"))
	}
	if c.Audio.FrameSamples <= 0 {
		errs = append(errs, errors.New("audio.frame_samples must be positive"))
	}
	if c.Session.OutboundQueue <= 0 {
		errs = append(errs, errors.New("session.outbound_queue must be positive"))
	}
	if c.Session.DropPolicy != DropOldest && c.Session.DropPolicy != DropNewest {
		errs = append(errs, fmt.Errorf("session.drop_policy %q: want %s or %s", c.Session.DropPolicy, DropOldest, DropNewest))
	}
	if c.Session.TickInterval <= 0 {
		errs = append(errs, errors.New("session.tick_interval must be positive"))
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			errs = append(errs, fmt.Errorf("metrics.listen: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Dump renders the config as YAML with credentials removed.
func (c *Config) Dump() ([]byte, error) {
	redacted := *c
	redacted.Gemini.APIKey = ""
	redacted.OpenAI.APIKey = ""
	return yaml.Marshal(&redacted)
}
