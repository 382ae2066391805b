// lens: describe what a camera sees with a multimodal model.
// Serves the trigger/reset API and streams the description state over
// websockets. Frames come from uploads, a local webcam, a WebRTC
// producer or a directory of still images.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-lens/internal/config"
	"github.com/teslashibe/go-lens/internal/log"
	"github.com/teslashibe/go-lens/pkg/camera"
	"github.com/teslashibe/go-lens/pkg/camera/webcam"
	"github.com/teslashibe/go-lens/pkg/describe"
	"github.com/teslashibe/go-lens/pkg/frame"
	"github.com/teslashibe/go-lens/pkg/inference"
	"github.com/teslashibe/go-lens/pkg/video"
	"github.com/teslashibe/go-lens/pkg/web"
)

var (
	version    = "0.1.0"
	configPath = flag.String("config", os.Getenv("LENS_CONFIG"), "Path to YAML config file")
	port       = flag.Int("port", 0, "HTTP server port (overrides config)")
	source     = flag.String("camera", "", "Camera source: none, webcam, webrtc, replay")
	debug      = flag.Bool("debug", false, "Enable debug logging and access log")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		log.Error("lens stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.Getenv)
	if *port != 0 {
		cfg.Port = *port
	}
	if *source != "" {
		cfg.Camera.Source = *source
	}
	if *debug {
		cfg.LogLevel = "debug"
		cfg.AccessLog = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}

	log.Init(cfg.LogLevel, cfg.LogFormat)
	log.Info("lens starting", "version", version, "provider", cfg.Provider.Name, "camera", cfg.Camera.Source)

	provider, err := inference.New(cfg.Provider.Name, cfg.ProviderOptions()...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := provider.Health(healthCtx); err != nil {
		log.Warn("provider health check failed", "provider", provider.Name(), "error", err)
	}
	cancel()

	frames := frame.NewSource()

	opts := []describe.Option{
		describe.WithMaxTokens(cfg.Provider.MaxTokens),
		describe.WithTemperature(cfg.Provider.Temperature),
	}
	if cfg.Prompt != "" {
		opts = append(opts, describe.WithPrompt(cfg.Prompt))
	}
	if cfg.Provider.Model != "" {
		opts = append(opts, describe.WithModel(cfg.Provider.Model))
	}
	ctrl := describe.New(frames, provider, opts...)
	defer ctrl.Close()

	manager, closeCamera, err := startCamera(ctx, cfg, frames)
	if err != nil {
		return err
	}
	defer closeCamera()

	srv := web.NewServer(web.Config{
		Controller:  ctrl,
		Source:      frames,
		Camera:      manager,
		Provider:    provider.Name(),
		Model:       cfg.Provider.ModelName(),
		StaticDir:   cfg.StaticDir,
		JPEGQuality: cfg.Camera.Capture.Quality,
		AccessLog:   cfg.AccessLog,
	})

	log.Info("endpoints",
		"api", fmt.Sprintf("http://localhost:%d/api/state", cfg.Port),
		"state_ws", fmt.Sprintf("ws://localhost:%d/ws/state", cfg.Port),
		"camera_ws", fmt.Sprintf("ws://localhost:%d/ws/camera", cfg.Port))

	err = srv.Run(ctx, cfg.Addr())
	stop()
	log.Info("shutting down")
	return err
}

// startCamera launches the configured frame producer. The returned manager
// is nil when no local camera is configurable.
func startCamera(ctx context.Context, cfg *config.Config, sink camera.Sink) (*camera.Manager, func(), error) {
	noop := func() {}
	logger := log.Component("camera")

	switch cfg.Camera.Source {
	case config.SourceReplay:
		replay, err := camera.NewReplay(cfg.Camera.Path, cfg.Camera.Capture, sink, cfg.Camera.Loop)
		if err != nil {
			return nil, noop, err
		}
		manager := camera.NewManager(cfg.Camera.Capture)
		manager.OnConfigChange = replay.SetConfig
		logger.Info("replaying images", "path", cfg.Camera.Path, "count", replay.Len())

		go func() {
			if err := replay.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("replay stopped", "error", err)
			}
		}()
		return manager, noop, nil

	case config.SourceWebcam:
		capture, err := webcam.Open(cfg.Camera.Capture, sink)
		if err != nil {
			return nil, noop, err
		}
		manager := camera.NewManager(cfg.Camera.Capture)
		manager.OnConfigChange = capture.SetConfig
		logger.Info("webcam opened", "device", cfg.Camera.Capture.Device,
			"width", cfg.Camera.Capture.Width, "height", cfg.Camera.Capture.Height)

		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := capture.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("webcam stopped", "error", err)
			}
		}()
		return manager, func() {
			<-done
			capture.Close()
		}, nil

	case config.SourceWebRTC:
		client := video.NewClient(cfg.Camera.WebRTC, sink)
		if err := client.Connect(ctx); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("webrtc connect: %w", err)
		}
		logger.Info("webrtc stream connected", "url", cfg.Camera.WebRTC.SignallingURL)
		return nil, func() { client.Close() }, nil
	}

	logger.Info("no local camera, waiting for uploads")
	return nil, noop, nil
}
