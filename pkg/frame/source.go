package frame

import (
	"sync/atomic"
	"time"
)

// Source keeps only the latest pushed frame. It is safe for concurrent use;
// the last write wins.
type Source struct {
	slot atomic.Pointer[Frame]

	seq      atomic.Uint64
	pushes   atomic.Uint64
	reads    atomic.Uint64
	dropped  atomic.Uint64
	lastPush atomic.Int64 // unix nanos

	// readSeq is the Seq of the frame last returned by Latest.
	readSeq atomic.Uint64
}

// Stats describes Source activity since creation.
type Stats struct {
	Pushes   uint64    `json:"pushes"`
	Reads    uint64    `json:"reads"`
	Dropped  uint64    `json:"dropped"` // overwritten before anyone read them
	LastSeq  uint64    `json:"last_seq"`
	LastPush time.Time `json:"last_push,omitempty"`
	HasFrame bool      `json:"has_frame"`
}

// NewSource returns an empty Source.
func NewSource() *Source {
	return &Source{}
}

// Push stores f as the latest frame, replacing any previous one. It assigns
// f.Seq. A nil frame is ignored.
func (s *Source) Push(f *Frame) {
	if f == nil {
		return
	}
	f.Seq = s.seq.Add(1)
	if f.CapturedAt.IsZero() {
		f.CapturedAt = time.Now()
	}

	prev := s.slot.Swap(f)
	if prev != nil && prev.Seq > s.readSeq.Load() {
		s.dropped.Add(1)
	}

	s.pushes.Add(1)
	s.lastPush.Store(time.Now().UnixNano())
}

// Latest returns the current frame, or false if nothing has been pushed
// (or the Source was cleared). The frame is shared; callers must not mutate it.
func (s *Source) Latest() (*Frame, bool) {
	f := s.slot.Load()
	if f == nil {
		return nil, false
	}
	s.reads.Add(1)
	for {
		cur := s.readSeq.Load()
		if f.Seq <= cur || s.readSeq.CompareAndSwap(cur, f.Seq) {
			break
		}
	}
	return f, true
}

// Peek returns the current frame like Latest but does not count as a read.
// Previews use it so they do not skew the read and drop statistics.
func (s *Source) Peek() (*Frame, bool) {
	f := s.slot.Load()
	return f, f != nil
}

// Clear empties the slot, e.g. when the camera disconnects.
func (s *Source) Clear() {
	s.slot.Store(nil)
}

// Stats returns a snapshot of the counters.
func (s *Source) Stats() Stats {
	st := Stats{
		Pushes:   s.pushes.Load(),
		Reads:    s.reads.Load(),
		Dropped:  s.dropped.Load(),
		LastSeq:  s.seq.Load(),
		HasFrame: s.slot.Load() != nil,
	}
	if ns := s.lastPush.Load(); ns != 0 {
		st.LastPush = time.Unix(0, ns)
	}
	return st
}
