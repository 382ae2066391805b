package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-lens/internal/log"
	"github.com/teslashibe/go-lens/pkg/frame"
)

// Sink receives captured frames. *frame.Source implements it. Producers
// call Clear when the camera goes away so a stale frame is not described.
type Sink interface {
	Push(f *frame.Frame)
	Clear()
}

// ErrNoImages is returned when a replay path holds no decodable images.
var ErrNoImages = errors.New("camera: no images to replay")

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Replay pushes still images from disk as if they came from a camera.
// A file path is pushed repeatedly; a directory is cycled in name order.
type Replay struct {
	sink   Sink
	frames []*frame.Frame
	loop   bool
	logger *slog.Logger

	mu  sync.RWMutex
	cfg Config
}

// NewReplay loads every image under path. Files that fail to decode are
// skipped with a warning.
func NewReplay(path string, cfg Config, sink Sink, loop bool) (*Replay, error) {
	files, err := replayFiles(path)
	if err != nil {
		return nil, err
	}

	logger := log.Component("replay")
	r := &Replay{sink: sink, loop: loop, logger: logger, cfg: cfg}

	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		f, err := frame.Decode(data, frame.OriginReplay)
		if err != nil {
			logger.Warn("skipping file", "path", name, "error", err)
			continue
		}
		r.frames = append(r.frames, f)
	}
	if len(r.frames) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoImages, path)
	}

	logger.Info("replay loaded", "path", path, "images", len(r.frames))
	return r, nil
}

func replayFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Len returns the number of loaded images.
func (r *Replay) Len() int {
	return len(r.frames)
}

// SetConfig changes the framerate and mirroring of a running replay.
func (r *Replay) SetConfig(cfg Config) error {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	return nil
}

func (r *Replay) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Run pushes frames until ctx is done or, when not looping, the images are
// exhausted. The first frame is pushed immediately.
func (r *Replay) Run(ctx context.Context) error {
	for i := 0; ; i++ {
		if i == len(r.frames) {
			if !r.loop {
				return nil
			}
			i = 0
		}

		cfg := r.config()
		r.sink.Push(r.prepare(r.frames[i], cfg))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(frameInterval(cfg.Framerate)):
		}
	}
}

// prepare returns a fresh frame per push so sequence numbers stay unique.
func (r *Replay) prepare(src *frame.Frame, cfg Config) *frame.Frame {
	if cfg.Mirror {
		return frame.FromImage(MirrorImage(src.Image), frame.OriginReplay)
	}
	f := frame.FromImage(src.Image, frame.OriginReplay)
	f.JPEG = src.JPEG
	return f
}

func frameInterval(fps int) time.Duration {
	if fps <= 0 {
		fps = DefaultConfig().Framerate
	}
	return time.Second / time.Duration(fps)
}

// MirrorImage flips img horizontally.
func MirrorImage(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(b.Max.X-1-(x-b.Min.X), y, img.At(x, y))
		}
	}
	return out
}
