// Package camera provides capture settings and frame producers that feed a
// frame.Source.
package camera

// Config holds capture parameters. It can be changed at runtime through a
// Manager.
type Config struct {
	Width     int `json:"width" yaml:"width"`         // Frame width in pixels
	Height    int `json:"height" yaml:"height"`       // Frame height in pixels
	Framerate int `json:"framerate" yaml:"framerate"` // Frames pushed per second
	Quality   int `json:"quality" yaml:"quality"`     // JPEG quality 1-100

	// Device is the capture device index for webcams.
	Device int `json:"device" yaml:"device"`

	// Mirror flips frames horizontally, as front cameras usually do.
	Mirror bool `json:"mirror" yaml:"mirror"`
}

// Capture limits.
const (
	MaxWidth     = 4096
	MaxHeight    = 2160
	MaxFramerate = 60
)

// DefaultConfig returns 720p at 15 fps. Only the latest frame is ever
// described, so a high framerate buys nothing but CPU.
func DefaultConfig() Config {
	return Config{
		Width:     1280,
		Height:    720,
		Framerate: 15,
		Quality:   85,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Width < 160 || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 4096")
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 1 and 60")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}
	if c.Device < 0 {
		errors = append(errors, "device must not be negative")
	}

	return errors
}

// Capabilities returns the capture limits.
func Capabilities() map[string]interface{} {
	return map[string]interface{}{
		"max_width":     MaxWidth,
		"max_height":    MaxHeight,
		"max_framerate": MaxFramerate,
		"presets":       PresetNames(),
	}
}
