package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-lens/pkg/camera"
	"github.com/teslashibe/go-lens/pkg/describe"
	"github.com/teslashibe/go-lens/pkg/frame"
	"github.com/teslashibe/go-lens/pkg/hub"
	"github.com/teslashibe/go-lens/pkg/inference"
)

// Commands accepted as text messages on /ws/camera.
const (
	CommandTrigger = "trigger"
	CommandReset   = "reset"
)

// triggerStatus maps controller errors to HTTP status codes.
func triggerStatus(err error) int {
	switch {
	case errors.Is(err, describe.ErrInFlight):
		return fiber.StatusConflict
	case errors.Is(err, describe.ErrNoFrame):
		return fiber.StatusPreconditionFailed
	case errors.Is(err, describe.ErrClosed):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"provider": s.cfg.Provider,
		"model":    s.cfg.Model,
		"phase":    s.cfg.Controller.State().Phase,
		"uptime_s": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	stats := s.cfg.Source.Stats()
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(fmt.Sprintf(`# HELP lens_frames_pushed_total Frames pushed into the source
# TYPE lens_frames_pushed_total counter
lens_frames_pushed_total %d

# HELP lens_frames_dropped_total Frames replaced before anyone read them
# TYPE lens_frames_dropped_total counter
lens_frames_dropped_total %d

# HELP lens_frames_read_total Frames read for description
# TYPE lens_frames_read_total counter
lens_frames_read_total %d

# HELP lens_ws_clients Connected websocket clients
# TYPE lens_ws_clients gauge
lens_ws_clients{hub="state"} %d
lens_ws_clients{hub="camera"} %d
`, stats.Pushes, stats.Dropped, stats.Reads, s.stateHub.ClientCount(), s.cameraHub.ClientCount()))
}

func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Controller.State())
}

func (s *Server) handleTrigger(c *fiber.Ctx) error {
	st, err := s.cfg.Controller.Trigger()
	if err != nil {
		return c.Status(triggerStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
			"state": st,
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(st)
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Controller.Reset())
}

func (s *Server) handlePushFrame(c *fiber.Ctx) error {
	// fasthttp reuses the body buffer after the handler returns.
	data := append([]byte(nil), c.Body()...)

	f, err := frame.Decode(data, frame.OriginUpload)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	s.cfg.Source.Push(f)

	c.Set("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleLatestFrame(c *fiber.Ctx) error {
	f, ok := s.cfg.Source.Peek()
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, describe.ErrNoFrame.Error())
	}

	data := f.JPEG
	if data == nil {
		var err error
		if data, err = inference.EncodeJPEG(f.Image, s.cfg.JPEGQuality); err != nil {
			return err
		}
	}

	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Set("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	return c.Send(data)
}

func (s *Server) handleFrameStats(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Source.Stats())
}

func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	if s.cfg.Camera == nil {
		return fiber.NewError(fiber.StatusNotFound, "no local camera")
	}
	return c.JSON(fiber.Map{
		"config":       s.cfg.Camera.GetConfig(),
		"capabilities": camera.Capabilities(),
	})
}

func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	if s.cfg.Camera == nil {
		return fiber.NewError(fiber.StatusNotFound, "no local camera")
	}

	var params map[string]interface{}
	if err := json.Unmarshal(c.Body(), &params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	if err := s.cfg.Camera.UpdateConfig(params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(s.cfg.Camera.GetConfig())
}

func (s *Server) handleCameraPresets(c *fiber.Ctx) error {
	return c.JSON(camera.Presets())
}

// handleStateWS streams every published state, starting with the current one.
func (s *Server) handleStateWS(conn *websocket.Conn) {
	client := hub.NewClient(s.stateHub, conn, hub.WithGreeting(func() (hub.Message, bool) {
		data, err := json.Marshal(s.cfg.Controller.State())
		if err != nil {
			return hub.Message{}, false
		}
		return hub.NewTextMessage(data), true
	}))
	if client == nil {
		return
	}
	client.Run()
}

// handleCameraWS accepts binary JPEG/PNG frames and text commands.
func (s *Server) handleCameraWS(conn *websocket.Conn) {
	client := hub.NewClient(s.cameraHub, conn, hub.WithHandler(s.onCameraMessage))
	if client == nil {
		return
	}
	client.Run()
}

func (s *Server) onCameraMessage(client *hub.Client, msg hub.Message) {
	if msg.Type == hub.BinaryMessage {
		f, err := frame.Decode(msg.Data, frame.OriginStream)
		if err != nil {
			reply(client, fiber.Map{"error": err.Error()})
			return
		}
		s.cfg.Source.Push(f)
		return
	}

	switch cmd := strings.ToLower(strings.TrimSpace(string(msg.Data))); cmd {
	case CommandTrigger:
		st, err := s.cfg.Controller.Trigger()
		if err != nil {
			reply(client, fiber.Map{"error": err.Error(), "state": st})
			return
		}
		reply(client, st)
	case CommandReset:
		reply(client, s.cfg.Controller.Reset())
	default:
		reply(client, fiber.Map{"error": fmt.Sprintf("unknown command %q", cmd)})
	}
}

func reply(client *hub.Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	client.Send(hub.NewTextMessage(data))
}
