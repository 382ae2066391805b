// Package frame holds the most recent camera frame.
//
// A Source is a single-slot mailbox: every Push replaces whatever was there
// and nothing is ever queued. Producers (camera callbacks, websocket
// uploads, file replay) never block, and readers always see the newest
// frame or nothing.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"time"
)

// ErrUndecodable is returned by Decode when the bytes are not a supported image.
var ErrUndecodable = errors.New("frame: undecodable image")

// Origin identifies which collaborator produced a frame.
type Origin string

// Known frame origins.
const (
	OriginUpload Origin = "upload"
	OriginStream Origin = "websocket"
	OriginWebcam Origin = "webcam"
	OriginWebRTC Origin = "webrtc"
	OriginReplay Origin = "replay"
	OriginFile   Origin = "file"
)

// Frame is one decoded camera image.
type Frame struct {
	// Seq is assigned by the Source on Push and increases by one per push.
	Seq uint64

	// Image is the decoded raster.
	Image image.Image

	// JPEG holds the original encoded bytes when the producer supplied JPEG.
	// Providers send these as-is instead of re-encoding Image.
	JPEG []byte

	// CapturedAt is when the producer obtained the frame.
	CapturedAt time.Time

	// Origin names the producer.
	Origin Origin
}

// FromImage wraps an already decoded image.
func FromImage(img image.Image, origin Origin) *Frame {
	return &Frame{
		Image:      img,
		CapturedAt: time.Now(),
		Origin:     origin,
	}
}

// Decode parses JPEG or PNG bytes into a Frame. JPEG input is kept verbatim
// on the frame.
func Decode(data []byte, origin Origin) (*Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUndecodable)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	f := FromImage(img, origin)
	if format == "jpeg" {
		f.JPEG = data
	}
	return f, nil
}

// Size returns the frame dimensions, or zeros when there is no image.
func (f *Frame) Size() (width, height int) {
	if f == nil || f.Image == nil {
		return 0, 0
	}
	b := f.Image.Bounds()
	return b.Dx(), b.Dy()
}
