package inference

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
)

// DefaultJPEGQuality is used when an image must be encoded before upload.
const DefaultJPEGQuality = 85

// EncodeImageBase64 encodes an image to base64 JPEG format.
func EncodeImageBase64(img image.Image, quality int) (string, error) {
	data, err := EncodeJPEG(img, quality)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeJPEG encodes an image as JPEG. Quality outside 1..100 uses the default.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// requestImageBase64 returns the request's image as base64 JPEG, preferring
// the pre-encoded bytes.
func requestImageBase64(req *VisionRequest, quality int) (string, error) {
	if len(req.JPEG) > 0 {
		return base64.StdEncoding.EncodeToString(req.JPEG), nil
	}
	if req.Image == nil {
		return "", ErrNoImage
	}
	return EncodeImageBase64(req.Image, quality)
}
