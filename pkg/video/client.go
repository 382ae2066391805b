// Package video receives a camera over WebRTC and feeds decoded frames to
// a frame sink.
//
// The remote side is a GStreamer webrtcsink producer. The client joins its
// signalling server, negotiates a receive-only H264 track, reassembles RTP
// into Annex-B, and decodes pictures with ffmpeg at a bounded rate.
package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-lens/internal/log"
	"github.com/teslashibe/go-lens/pkg/camera"
	"github.com/teslashibe/go-lens/pkg/frame"
)

// Config describes the remote producer.
type Config struct {
	// SignallingURL is the webrtcsink signalling endpoint, e.g. ws://host:8443.
	SignallingURL string `yaml:"signalling_url"`

	// Producer selects a producer by its meta name. Empty picks the first.
	Producer string `yaml:"producer"`

	// DecodeInterval bounds how often a picture is decoded.
	DecodeInterval time.Duration `yaml:"decode_interval"`

	// ConnectTimeout bounds the wait for the video track.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ICEServers are STUN/TURN URLs. Empty works on a LAN.
	ICEServers []string `yaml:"ice_servers"`
}

// DefaultConfig decodes five pictures per second.
func DefaultConfig() Config {
	return Config{
		DecodeInterval: 200 * time.Millisecond,
		ConnectTimeout: 15 * time.Second,
	}
}

// Client connects to a WebRTC video producer.
type Client struct {
	cfg     Config
	sink    camera.Sink
	logger  *slog.Logger
	decoder *Decoder

	sig *signaller
	pc  *webrtc.PeerConnection

	trackReady chan struct{}
	readyOnce  sync.Once
	decoding   atomic.Bool
	closed     atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a client pushing decoded frames into sink.
func NewClient(cfg Config, sink camera.Sink) *Client {
	def := DefaultConfig()
	if cfg.DecodeInterval <= 0 {
		cfg.DecodeInterval = def.DecodeInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:        cfg,
		sink:       sink,
		logger:     log.Component("video"),
		decoder:    NewDecoder(cfg.DecodeInterval),
		trackReady: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Connect performs the signalling handshake and waits until the video
// track arrives.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.SignallingURL == "" {
		return errors.New("video: signalling URL required")
	}

	c.logger.Info("connecting to signalling server", "url", c.cfg.SignallingURL)
	sig, err := dialSignalling(c.cfg.SignallingURL)
	if err != nil {
		return err
	}
	c.sig = sig

	if err := sig.welcome(); err != nil {
		return fmt.Errorf("welcome failed: %w", err)
	}
	c.logger.Debug("got peer id", "peer_id", sig.peerID)

	producerID, err := sig.findProducer(c.cfg.Producer)
	if err != nil {
		return fmt.Errorf("find producer failed: %w", err)
	}
	c.logger.Info("found producer", "producer_id", producerID)

	if err := c.createPeerConnection(); err != nil {
		return fmt.Errorf("peer connection failed: %w", err)
	}
	if err := sig.startSession(producerID); err != nil {
		return fmt.Errorf("start session failed: %w", err)
	}

	c.wg.Add(1)
	go c.handleSignalling()

	select {
	case <-c.trackReady:
		c.logger.Info("video connected")
		return nil
	case <-time.After(c.cfg.ConnectTimeout):
		return errors.New("video: timeout waiting for track")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) createPeerConnection() error {
	config := webrtc.Configuration{}
	if len(c.cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: c.cfg.ICEServers}}
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return err
	}
	c.pc = pc

	if _, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info("got track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeH264) {
			c.logger.Warn("unsupported codec, ignoring track", "codec", track.Codec().MimeType)
			return
		}
		c.wg.Add(1)
		go c.handleVideoTrack(track)
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if err := c.sig.sendICE(candidate.ToJSON()); err != nil {
			c.logger.Debug("send ice failed", "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Info("connection state", "state", state.String())
	})

	return nil
}

func (c *Client) handleSignalling() {
	defer c.wg.Done()

	for !c.closed.Load() {
		_, msg, err := c.sig.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.lost("signalling error", err)
			}
			return
		}

		var m peerMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			c.logger.Debug("bad signalling message", "error", err)
			continue
		}

		switch m.Type {
		case "sessionStarted":
			c.sig.setSession(m.SessionID)
		case "peer":
			c.handlePeerMessage(m)
		case "endSession":
			c.lost("producer ended session", nil)
			return
		}
	}
}

func (c *Client) handlePeerMessage(m peerMessage) {
	if m.SDP != nil && m.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP.SDP}
		if err := c.pc.SetRemoteDescription(offer); err != nil {
			c.logger.Error("set remote description failed", "error", err)
			return
		}
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			c.logger.Error("create answer failed", "error", err)
			return
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			c.logger.Error("set local description failed", "error", err)
			return
		}
		if err := c.sig.sendSDP(answer); err != nil {
			c.logger.Error("send answer failed", "error", err)
		}
	}

	if m.ICE != nil {
		if err := c.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     m.ICE.Candidate,
			SDPMid:        m.ICE.SDPMid,
			SDPMLineIndex: m.ICE.SDPMLineIndex,
		}); err != nil {
			c.logger.Debug("add ice candidate failed", "error", err)
		}
	}
}

func (c *Client) handleVideoTrack(track *webrtc.TrackRemote) {
	defer c.wg.Done()
	c.readyOnce.Do(func() { close(c.trackReady) })

	var asm assembler
	for !c.closed.Load() {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !c.closed.Load() {
				c.lost("track read failed", err)
			}
			return
		}

		complete, err := asm.push(pkt)
		if err != nil {
			c.logger.Debug("depacketise failed", "error", err)
			continue
		}
		if !complete || !c.decoder.Due() {
			continue
		}
		if !c.decoding.CompareAndSwap(false, true) {
			continue
		}

		c.wg.Add(1)
		go c.decode(asm.snapshot())
	}
}

// lost drops the last frame once the stream is gone.
func (c *Client) lost(reason string, err error) {
	if err != nil {
		c.logger.Warn(reason, "error", err)
	} else {
		c.logger.Info(reason)
	}
	c.sink.Clear()
}

func (c *Client) decode(annexB []byte) {
	defer c.wg.Done()
	defer c.decoding.Store(false)

	pic, err := c.decoder.Decode(c.ctx, annexB)
	if err != nil {
		if !errors.Is(err, ErrNoPicture) {
			c.logger.Debug("decode failed", "error", err)
		}
		return
	}

	f, err := frame.Decode(pic, frame.OriginWebRTC)
	if err != nil {
		c.logger.Debug("decoded picture unreadable", "error", err)
		return
	}
	c.sink.Push(f)
}

// Close tears down the peer connection and waits for background work.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()

	var err error
	if c.pc != nil {
		err = c.pc.Close()
	}
	if c.sig != nil {
		c.sig.close()
	}
	c.wg.Wait()
	return err
}
