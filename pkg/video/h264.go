package video

import (
	"bytes"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// H264 NAL unit types used for keyframe detection.
const (
	nalIDR   = 5
	nalSPS   = 7
	nalSTAPA = 24
	nalFUA   = 28
)

// maxGOPBytes caps the buffered group of pictures. A stream that never
// sends another keyframe is restarted from scratch.
const maxGOPBytes = 8 << 20

// assembler depacketises RTP into an Annex-B buffer that always starts at
// the most recent keyframe, so ffmpeg can decode it without history.
type assembler struct {
	depack codecs.H264Packet
	gop    bytes.Buffer
	gopTS  uint32
	keyed  bool
}

// push adds a packet. It returns true when the packet completes an access
// unit and the buffer holds a decodable sequence.
func (a *assembler) push(pkt *rtp.Packet) (bool, error) {
	if keyframeStart(pkt.Payload) && (!a.keyed || pkt.Timestamp != a.gopTS) {
		a.gop.Reset()
		a.gopTS = pkt.Timestamp
		a.keyed = true
	}

	nals, err := a.depack.Unmarshal(pkt.Payload)
	if err != nil {
		return false, err
	}
	if !a.keyed {
		return false, nil
	}

	a.gop.Write(nals)
	if a.gop.Len() > maxGOPBytes {
		a.gop.Reset()
		a.keyed = false
		return false, nil
	}
	return pkt.Marker, nil
}

// snapshot copies the buffered Annex-B data.
func (a *assembler) snapshot() []byte {
	return append([]byte(nil), a.gop.Bytes()...)
}

// keyframeStart reports whether payload begins an SPS or IDR NAL unit,
// looking inside STAP-A aggregates and FU-A start fragments.
func keyframeStart(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	switch payload[0] & 0x1F {
	case nalSPS, nalIDR:
		return true
	case nalSTAPA:
		// 1 byte header, 2 byte size, then the first aggregated NAL
		if len(payload) < 4 {
			return false
		}
		inner := payload[3] & 0x1F
		return inner == nalSPS || inner == nalIDR
	case nalFUA:
		if len(payload) < 2 {
			return false
		}
		start := payload[1]&0x80 != 0
		inner := payload[1] & 0x1F
		return start && (inner == nalSPS || inner == nalIDR)
	}
	return false
}
