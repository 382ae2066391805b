package video

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
)

// ErrNoProducer is returned when the signalling server lists no matching
// producer.
var ErrNoProducer = errors.New("video: producer not found")

// signaller speaks the GStreamer webrtcsink signalling protocol.
type signaller struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	peerID    string
	sessionMu sync.RWMutex
	sessionID string
}

// peerMessage is the "peer" envelope carrying SDP or ICE.
type peerMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	SDP       *sdpPayload `json:"sdp,omitempty"`
	ICE       *icePayload `json:"ice,omitempty"`
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type icePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

func dialSignalling(url string) (*signaller, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("signalling connect failed: %w", err)
	}
	return &signaller{ws: ws}, nil
}

func (s *signaller) readJSON(timeout time.Duration, v interface{}) error {
	s.ws.SetReadDeadline(time.Now().Add(timeout))
	defer s.ws.SetReadDeadline(time.Time{})

	_, msg, err := s.ws.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(msg, v)
}

func (s *signaller) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteJSON(v)
}

func (s *signaller) welcome() error {
	var msg struct {
		Type   string `json:"type"`
		PeerID string `json:"peerId"`
	}
	if err := s.readJSON(10*time.Second, &msg); err != nil {
		return err
	}
	if msg.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %s", msg.Type)
	}
	s.peerID = msg.PeerID
	return nil
}

// findProducer returns the id of the producer whose meta name equals name,
// or the first producer when name is empty.
func (s *signaller) findProducer(name string) (string, error) {
	if err := s.writeJSON(map[string]string{"type": "list"}); err != nil {
		return "", err
	}

	var resp struct {
		Type      string `json:"type"`
		Producers []struct {
			ID   string            `json:"id"`
			Meta map[string]string `json:"meta"`
		} `json:"producers"`
	}
	if err := s.readJSON(5*time.Second, &resp); err != nil {
		return "", err
	}

	for _, p := range resp.Producers {
		if name == "" || p.Meta["name"] == name {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q among %d producers", ErrNoProducer, name, len(resp.Producers))
}

func (s *signaller) startSession(producerID string) error {
	return s.writeJSON(map[string]string{
		"type":   "startSession",
		"peerId": producerID,
	})
}

func (s *signaller) session() string {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.sessionID
}

func (s *signaller) setSession(id string) {
	s.sessionMu.Lock()
	s.sessionID = id
	s.sessionMu.Unlock()
}

func (s *signaller) sendSDP(sdp webrtc.SessionDescription) error {
	return s.writeJSON(peerMessage{
		Type:      "peer",
		SessionID: s.session(),
		SDP:       &sdpPayload{Type: sdp.Type.String(), SDP: sdp.SDP},
	})
}

func (s *signaller) sendICE(c webrtc.ICECandidateInit) error {
	if s.session() == "" {
		return nil
	}
	return s.writeJSON(peerMessage{
		Type:      "peer",
		SessionID: s.session(),
		ICE: &icePayload{
			Candidate:     c.Candidate,
			SDPMid:        c.SDPMid,
			SDPMLineIndex: c.SDPMLineIndex,
		},
	})
}

func (s *signaller) close() error {
	return s.ws.Close()
}
