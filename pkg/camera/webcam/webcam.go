// Package webcam captures frames from a local video device with OpenCV.
package webcam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-lens/internal/log"
	"github.com/teslashibe/go-lens/pkg/camera"
	"github.com/teslashibe/go-lens/pkg/frame"
)

// lostAfter is the number of consecutive empty reads after which the
// device counts as disconnected.
const lostAfter = 30

// Capture reads a device at the configured framerate and pushes every
// frame to a sink.
type Capture struct {
	sink   camera.Sink
	logger *slog.Logger

	mu      sync.Mutex
	cfg     camera.Config
	pending bool // resolution change not yet applied to the device

	device *gocv.VideoCapture
}

// Open opens cfg.Device and requests the configured resolution.
func Open(cfg camera.Config, sink camera.Sink) (*Capture, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid camera config: %v", errs)
	}

	device, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open device %d: %w", cfg.Device, err)
	}
	if !device.IsOpened() {
		device.Close()
		return nil, fmt.Errorf("device %d not available", cfg.Device)
	}

	c := &Capture{
		sink:   sink,
		logger: log.Component("webcam"),
		cfg:    cfg,
		device: device,
	}
	c.applySize(cfg)

	c.logger.Info("device opened",
		"device", cfg.Device,
		"width", device.Get(gocv.VideoCaptureFrameWidth),
		"height", device.Get(gocv.VideoCaptureFrameHeight),
	)
	return c, nil
}

func (c *Capture) applySize(cfg camera.Config) {
	c.device.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	c.device.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	c.device.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
}

// SetConfig updates capture settings. Resolution changes are applied by
// the Run loop before the next read.
func (c *Capture) SetConfig(cfg camera.Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid camera config: %v", errs)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.Device != c.cfg.Device {
		return fmt.Errorf("changing device requires a restart")
	}
	if cfg.Width != c.cfg.Width || cfg.Height != c.cfg.Height || cfg.Framerate != c.cfg.Framerate {
		c.pending = true
	}
	c.cfg = cfg
	return nil
}

// Run reads and pushes frames until ctx is done. It owns the device while
// running.
func (c *Capture) Run(ctx context.Context) error {
	mat := gocv.NewMat()
	defer mat.Close()

	misses := 0
	for {
		c.mu.Lock()
		cfg := c.cfg
		if c.pending {
			c.applySize(cfg)
			c.pending = false
		}
		c.mu.Unlock()

		if ok := c.device.Read(&mat); !ok || mat.Empty() {
			misses++
			if misses == lostAfter {
				c.logger.Warn("device returning empty frames", "device", cfg.Device)
				c.sink.Clear()
			}
		} else {
			misses = 0
			if f, err := c.toFrame(mat, cfg); err != nil {
				c.logger.Debug("frame conversion failed", "error", err)
			} else {
				c.sink.Push(f)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second / time.Duration(cfg.Framerate)):
		}
	}
}

func (c *Capture) toFrame(mat gocv.Mat, cfg camera.Config) (*frame.Frame, error) {
	src := mat
	if cfg.Mirror {
		flipped := gocv.NewMat()
		defer flipped.Close()
		gocv.Flip(mat, &flipped, 1)
		src = flipped
	}

	img, err := src.ToImage()
	if err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, src, []int{gocv.IMWriteJpegQuality, cfg.Quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	f := frame.FromImage(img, frame.OriginWebcam)
	f.JPEG = append([]byte(nil), buf.GetBytes()...)
	return f, nil
}

// Close releases the device. Call it after Run has returned.
func (c *Capture) Close() error {
	return c.device.Close()
}
