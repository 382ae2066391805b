package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-lens/pkg/frame"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Errorf("Default config invalid: %v", errs)
	}
}

func TestPresetsValid(t *testing.T) {
	presets := Presets()
	for _, name := range PresetNames() {
		cfg, ok := presets[name]
		if !ok {
			t.Errorf("Preset %s listed but missing", name)
			continue
		}
		if errs := cfg.Validate(); len(errs) > 0 {
			t.Errorf("Preset %s invalid: %v", name, errs)
		}
	}
	if GetPreset("nope") != nil {
		t.Error("Expected nil for unknown preset")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Config{Width: 10, Height: 10, Framerate: 0, Quality: 101, Device: -1}
	if errs := cfg.Validate(); len(errs) != 5 {
		t.Errorf("Expected 5 errors, got %d: %v", len(errs), errs)
	}
}

func TestManagerUpdateConfig(t *testing.T) {
	m := NewManager(DefaultConfig())

	var applied Config
	m.OnConfigChange = func(cfg Config) error {
		applied = cfg
		return nil
	}

	err := m.UpdateConfig(map[string]interface{}{
		"preset":    Preset480p,
		"framerate": float64(5),
		"mirror":    true,
	})
	if err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}

	cfg := m.GetConfig()
	if cfg.Width != 640 || cfg.Framerate != 5 || !cfg.Mirror {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if applied != cfg {
		t.Error("Expected callback to receive the new config")
	}
}

func TestManagerRejectsInvalid(t *testing.T) {
	m := NewManager(DefaultConfig())

	if err := m.UpdateConfig(map[string]interface{}{"preset": "8k"}); err == nil {
		t.Error("Expected error for unknown preset")
	}
	if err := m.UpdateConfig(map[string]interface{}{"quality": 0}); err == nil {
		t.Error("Expected validation error")
	}
	if m.GetConfig() != DefaultConfig() {
		t.Error("Config should be unchanged after rejected updates")
	}
}

func TestManagerCallbackError(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.OnConfigChange = func(Config) error { return errors.New("device busy") }

	if err := m.SetConfig(HD1080Config()); err == nil {
		t.Error("Expected callback error to be returned")
	}
}

type recorder struct {
	mu      sync.Mutex
	frames  []*frame.Frame
	cleared int
}

func (r *recorder) Push(f *frame.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recorder) Clear() {
	r.mu.Lock()
	r.cleared++
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, c)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestReplayDirectory(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), color.RGBA{B: 255, A: 255})
	writePNG(t, filepath.Join(dir, "a.png"), color.RGBA{R: 255, A: 255})
	os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not a jpeg"), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644)

	cfg := DefaultConfig()
	cfg.Framerate = MaxFramerate
	sink := &recorder{}

	r, err := NewReplay(dir, cfg, sink, false)
	if err != nil {
		t.Fatalf("NewReplay failed: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("Expected 2 images, got %d", r.Len())
	}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sink.count() != 2 {
		t.Fatalf("Expected 2 pushes, got %d", sink.count())
	}

	first := sink.frames[0]
	if first.Origin != frame.OriginReplay {
		t.Errorf("Expected replay origin, got %s", first.Origin)
	}
	if r, _, _, _ := first.Image.At(0, 0).RGBA(); r == 0 {
		t.Error("Expected a.png to be replayed first")
	}
	if sink.frames[0] == sink.frames[1] {
		t.Error("Expected a fresh frame per push")
	}
}

func TestReplayLoopStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "only.png")
	writePNG(t, path, color.White)

	cfg := DefaultConfig()
	cfg.Framerate = MaxFramerate
	sink := &recorder{}

	r, err := NewReplay(path, cfg, sink, true)
	if err != nil {
		t.Fatalf("NewReplay failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if sink.count() < 2 {
		t.Errorf("Expected the single image to repeat, got %d pushes", sink.count())
	}
}

func TestReplayEmptyDirectory(t *testing.T) {
	_, err := NewReplay(t.TempDir(), DefaultConfig(), &recorder{}, false)
	if !errors.Is(err, ErrNoImages) {
		t.Errorf("Expected ErrNoImages, got %v", err)
	}
}

func TestMirrorImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	out := MirrorImage(img)
	if r, _, _, _ := out.At(1, 0).RGBA(); r == 0 {
		t.Error("Expected red pixel to move to the right edge")
	}
	if r, _, _, _ := out.At(0, 0).RGBA(); r != 0 {
		t.Error("Expected left edge to be empty")
	}
}
