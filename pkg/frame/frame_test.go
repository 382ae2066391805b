package frame

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestLatestEmpty(t *testing.T) {
	s := NewSource()
	if f, ok := s.Latest(); ok || f != nil {
		t.Fatalf("Expected no frame, got %v", f)
	}
}

func TestLatestReturnsMostRecent(t *testing.T) {
	s := NewSource()

	var last *Frame
	for i := 0; i < 5; i++ {
		last = FromImage(testImage(4, 4), OriginReplay)
		s.Push(last)
	}

	got, ok := s.Latest()
	if !ok {
		t.Fatal("Expected a frame")
	}
	if got != last {
		t.Errorf("Expected the last pushed frame, got seq %d", got.Seq)
	}
	if got.Seq != 5 {
		t.Errorf("Expected seq 5, got %d", got.Seq)
	}
}

func TestPushNilIgnored(t *testing.T) {
	s := NewSource()
	s.Push(nil)
	if _, ok := s.Latest(); ok {
		t.Error("Expected nil push to be ignored")
	}
	if s.Stats().Pushes != 0 {
		t.Error("Expected no pushes recorded")
	}
}

func TestLatestIsPureRead(t *testing.T) {
	s := NewSource()
	f := FromImage(testImage(2, 2), OriginUpload)
	s.Push(f)

	a, _ := s.Latest()
	b, _ := s.Latest()
	if a != b || a != f {
		t.Error("Expected repeated reads to return the same frame")
	}
}

func TestPeekLeavesCountersAlone(t *testing.T) {
	s := NewSource()
	if _, ok := s.Peek(); ok {
		t.Error("Expected empty Peek")
	}

	f := FromImage(testImage(2, 2), OriginUpload)
	s.Push(f)
	if got, ok := s.Peek(); !ok || got != f {
		t.Error("Expected Peek to return the pushed frame")
	}
	s.Push(FromImage(testImage(2, 2), OriginUpload))

	st := s.Stats()
	if st.Reads != 0 || st.Dropped != 1 {
		t.Errorf("Expected no reads and one drop, got %+v", st)
	}
}

func TestClear(t *testing.T) {
	s := NewSource()
	s.Push(FromImage(testImage(2, 2), OriginWebcam))
	s.Clear()
	if _, ok := s.Latest(); ok {
		t.Error("Expected empty slot after Clear")
	}
}

func TestStatsDropTracking(t *testing.T) {
	s := NewSource()

	s.Push(FromImage(testImage(2, 2), OriginWebcam)) // 1, overwritten unread
	s.Push(FromImage(testImage(2, 2), OriginWebcam)) // 2
	s.Latest()                                       // reads 2
	s.Push(FromImage(testImage(2, 2), OriginWebcam)) // 3, replaces read frame

	st := s.Stats()
	if st.Pushes != 3 {
		t.Errorf("Expected 3 pushes, got %d", st.Pushes)
	}
	if st.Dropped != 1 {
		t.Errorf("Expected 1 dropped, got %d", st.Dropped)
	}
	if st.Reads != 1 {
		t.Errorf("Expected 1 read, got %d", st.Reads)
	}
	if st.LastSeq != 3 || !st.HasFrame {
		t.Errorf("Unexpected stats: %+v", st)
	}
	if st.LastPush.IsZero() {
		t.Error("Expected LastPush to be set")
	}
}

func TestConcurrentPushers(t *testing.T) {
	s := NewSource()

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Push(FromImage(testImage(1, 1), OriginStream))
				s.Latest()
			}
		}()
	}
	wg.Wait()

	if _, ok := s.Latest(); !ok {
		t.Fatal("Expected a frame")
	}
	st := s.Stats()
	if st.Pushes != 800 || st.LastSeq != 800 {
		t.Errorf("Expected 800 pushes, got %+v", st)
	}
}

func TestDecodeJPEGKeepsBytes(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(16, 8), nil); err != nil {
		t.Fatal(err)
	}

	f, err := Decode(buf.Bytes(), OriginUpload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(f.JPEG, buf.Bytes()) {
		t.Error("Expected JPEG bytes to be retained")
	}
	if w, h := f.Size(); w != 16 || h != 8 {
		t.Errorf("Expected 16x8, got %dx%d", w, h)
	}
	if f.Origin != OriginUpload {
		t.Errorf("Expected origin upload, got %s", f.Origin)
	}
}

func TestDecodePNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(3, 3)); err != nil {
		t.Fatal(err)
	}

	f, err := Decode(buf.Bytes(), OriginFile)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f.JPEG != nil {
		t.Error("Expected no JPEG bytes for PNG input")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("not an image")} {
		if _, err := Decode(data, OriginUpload); !errors.Is(err, ErrUndecodable) {
			t.Errorf("Expected ErrUndecodable for %q, got %v", data, err)
		}
	}
}
