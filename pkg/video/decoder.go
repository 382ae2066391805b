package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"os/exec"
	"sync"
	"time"
)

// ErrNoPicture means ffmpeg produced nothing usable, usually because the
// buffer did not yet hold a complete keyframe.
var ErrNoPicture = errors.New("video: no picture decoded")

var jpegSOI = []byte{0xFF, 0xD8, 0xFF}

// Decoder turns buffered H264 Annex-B data into JPEG with an ffmpeg pipe.
// Calls are rate limited by Due.
type Decoder struct {
	// Binary is the ffmpeg executable.
	Binary string

	// Timeout bounds a single ffmpeg run.
	Timeout time.Duration

	minInterval time.Duration

	mu         sync.Mutex
	lastDecode time.Time
}

// NewDecoder creates a decoder that decodes at most once per interval.
func NewDecoder(interval time.Duration) *Decoder {
	return &Decoder{
		Binary:      "ffmpeg",
		Timeout:     2 * time.Second,
		minInterval: interval,
	}
}

// Due reports whether enough time has passed since the last decode, and
// if so claims the slot.
func (d *Decoder) Due() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if time.Since(d.lastDecode) < d.minInterval {
		return false
	}
	d.lastDecode = time.Now()
	return true
}

// Decode runs ffmpeg over annexB and returns the last picture as JPEG.
func (d *Decoder) Decode(ctx context.Context, annexB []byte) ([]byte, error) {
	if len(annexB) < 100 {
		return nil, ErrNoPicture
	}

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.Binary,
		"-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(annexB)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil && stdout.Len() == 0 {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v: %s", ErrNoPicture, err, bytes.TrimSpace(stderr.Bytes()))
	}

	pic := lastJPEG(stdout.Bytes())
	if pic == nil || isGrayJPEG(pic) {
		return nil, ErrNoPicture
	}
	return pic, nil
}

// lastJPEG returns the final image of an MJPEG stream.
func lastJPEG(stream []byte) []byte {
	i := bytes.LastIndex(stream, jpegSOI)
	if i < 0 {
		return nil
	}
	return stream[i:]
}

// isGrayJPEG checks if a JPEG is likely gray/corrupt. Decoders emit flat
// gray pictures while waiting for a keyframe.
func isGrayJPEG(jpegData []byte) bool {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return true
	}

	bounds := img.Bounds()
	if bounds.Dx() < 10 || bounds.Dy() < 10 {
		return true
	}

	var rSum, gSum, bSum int
	samples := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y += bounds.Dy() / 10 {
		for x := bounds.Min.X; x < bounds.Max.X; x += bounds.Dx() / 10 {
			r, g, b, _ := img.At(x, y).RGBA()
			rSum += int(r >> 8)
			gSum += int(g >> 8)
			bSum += int(b >> 8)
			samples++
		}
	}

	avgR := rSum / samples
	avgG := gSum / samples
	avgB := bSum / samples

	// Black
	if avgR < 30 && avgG < 30 && avgB < 30 {
		return true
	}

	// Uniform mid gray
	colorDiff := abs(avgR-avgG) + abs(avgG-avgB) + abs(avgR-avgB)
	return colorDiff < 15 && avgR > 100 && avgR < 150
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
