// Package config loads lens settings from defaults, an optional YAML file
// and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-lens/pkg/camera"
	"github.com/teslashibe/go-lens/pkg/inference"
	"github.com/teslashibe/go-lens/pkg/video"
)

// Camera sources.
const (
	SourceNone   = "none"
	SourceWebcam = "webcam"
	SourceWebRTC = "webrtc"
	SourceReplay = "replay"
)

// Config is the complete lens configuration.
type Config struct {
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text, json
	AccessLog bool   `yaml:"access_log"`
	StaticDir string `yaml:"static_dir"`

	// Prompt replaces the default describe instruction when set.
	Prompt string `yaml:"prompt"`

	Provider ProviderConfig `yaml:"provider"`
	Camera   CameraConfig   `yaml:"camera"`
}

// ProviderConfig selects and authenticates the vision model.
type ProviderConfig struct {
	Name            string        `yaml:"name"` // gemini, openai, ollama, mock
	Model           string        `yaml:"model"`
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	CredentialsFile string        `yaml:"credentials_file"`
	AccessToken     string        `yaml:"access_token"`
	MaxTokens       int           `yaml:"max_tokens"`
	Temperature     float64       `yaml:"temperature"`
	Timeout         time.Duration `yaml:"timeout"`
}

// CameraConfig selects the frame producer.
type CameraConfig struct {
	Source string `yaml:"source"` // none, webcam, webrtc, replay
	Preset string `yaml:"preset"`

	// Path is the image file or directory for replay.
	Path string `yaml:"path"`
	Loop bool   `yaml:"loop"`

	Capture camera.Config `yaml:"capture"`
	WebRTC  video.Config  `yaml:"webrtc"`
}

// Default returns a configuration that serves the API on :8080 with
// Gemini and no local camera. Model is left empty so each provider uses
// its own default.
func Default() *Config {
	return &Config{
		Port:      8080,
		LogLevel:  "info",
		LogFormat: "text",
		Provider: ProviderConfig{
			Name:        inference.ProviderGemini,
			MaxTokens:   2048,
			Temperature: 0.4,
			Timeout:     60 * time.Second,
		},
		Camera: CameraConfig{
			Source:  SourceNone,
			Loop:    true,
			Capture: camera.DefaultConfig(),
			WebRTC:  video.DefaultConfig(),
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Camera.Preset != "" {
		preset := camera.GetPreset(cfg.Camera.Preset)
		if preset == nil {
			return nil, fmt.Errorf("unknown camera preset: %s", cfg.Camera.Preset)
		}
		device := cfg.Camera.Capture.Device
		cfg.Camera.Capture = *preset
		cfg.Camera.Capture.Device = device
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("LENS_PROVIDER"); v != "" {
		c.SetProvider(v)
	}
	if v := getenv("LENS_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := getenv("LENS_PROMPT"); v != "" {
		c.Prompt = v
	}
	if v := getenv("LENS_CAMERA"); v != "" {
		c.Camera.Source = strings.ToLower(v)
	}
	if v := getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	switch c.Provider.Name {
	case inference.ProviderOpenAI:
		if v := getenv("OPENAI_API_KEY"); v != "" {
			c.Provider.APIKey = v
		}
	case inference.ProviderGemini, "":
		if v := getenv("GEMINI_API_KEY"); v != "" {
			c.Provider.APIKey = v
		} else if v := getenv("GOOGLE_API_KEY"); v != "" {
			c.Provider.APIKey = v
		}
		if v := getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && c.Provider.CredentialsFile == "" {
			c.Provider.CredentialsFile = v
		}
	}
}

// SetProvider switches to the named provider. Switching drops the model and
// credentials, which belong to the previous provider.
func (c *Config) SetProvider(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == c.Provider.Name {
		return
	}
	c.Provider.Name = name
	c.Provider.Model = ""
	c.Provider.APIKey = ""
	c.Provider.CredentialsFile = ""
	c.Provider.AccessToken = ""
}

// ModelName returns the configured model or the provider's default.
func (p ProviderConfig) ModelName() string {
	if p.Model != "" {
		return p.Model
	}
	return inference.DefaultModel(p.Name)
}

// Validate returns every problem found, joined, or nil.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Port < 1 || c.Port > 65535 {
		add("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		add("log_format must be text or json, got %q", c.LogFormat)
	}

	p := c.Provider
	switch p.Name {
	case inference.ProviderGemini, "":
		if p.APIKey == "" && p.CredentialsFile == "" && p.AccessToken == "" {
			add("gemini needs GEMINI_API_KEY, GOOGLE_API_KEY, a credentials file or an access token")
		}
	case inference.ProviderOpenAI:
		if p.APIKey == "" && p.BaseURL == "" {
			add("openai needs OPENAI_API_KEY or a base_url for a local server")
		}
	case inference.ProviderOllama, inference.ProviderMock:
	default:
		add("unknown provider %q", p.Name)
	}
	if p.MaxTokens < 0 {
		add("max_tokens must not be negative")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		add("temperature must be between 0 and 2, got %g", p.Temperature)
	}
	if p.Timeout <= 0 {
		add("provider timeout must be positive")
	}

	cam := c.Camera
	switch cam.Source {
	case SourceNone, "":
	case SourceWebcam:
		for _, e := range cam.Capture.Validate() {
			add("camera: %s", e)
		}
	case SourceReplay:
		if cam.Path == "" {
			add("camera: replay needs a path")
		}
		for _, e := range cam.Capture.Validate() {
			add("camera: %s", e)
		}
	case SourceWebRTC:
		if cam.WebRTC.SignallingURL == "" {
			add("camera: webrtc needs a signalling_url")
		}
	default:
		add("unknown camera source %q", cam.Source)
	}

	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ProviderOptions converts the provider settings to inference options.
func (c *Config) ProviderOptions() []inference.Option {
	p := c.Provider
	opts := []inference.Option{
		inference.WithMaxTokens(p.MaxTokens),
		inference.WithTemperature(p.Temperature),
		inference.WithTimeout(p.Timeout),
		inference.WithJPEGQuality(c.Camera.Capture.Quality),
	}
	if p.Model != "" {
		opts = append(opts, inference.WithVisionModel(p.Model))
	}
	if p.BaseURL != "" {
		opts = append(opts, inference.WithBaseURL(p.BaseURL))
	}
	if p.APIKey != "" {
		opts = append(opts, inference.WithAPIKey(p.APIKey))
	}
	if p.CredentialsFile != "" {
		opts = append(opts, inference.WithCredentialsFile(p.CredentialsFile))
	}
	if p.AccessToken != "" {
		opts = append(opts, inference.WithAccessToken(p.AccessToken))
	}
	return opts
}
