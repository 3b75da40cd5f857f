package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voiceloop/pkg/hub"
)

// handleHealth is a liveness probe
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleStatus returns the session snapshot
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Status())
}

// RecordingRequest is the body of POST /api/recording
type RecordingRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleSetRecording turns capture on or off
func (s *Server) handleSetRecording(c *fiber.Ctx) error {
	var req RecordingRequest
	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": `expected {"enabled": true|false}`,
		})
	}
	s.ctrl.SetRecording(*req.Enabled)
	return c.JSON(fiber.Map{"recording": *req.Enabled})
}

// handleToggleRecording flips capture
func (s *Server) handleToggleRecording(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"recording": s.ctrl.ToggleRecording()})
}

// handleStopPlayback interrupts the reply being spoken
func (s *Server) handleStopPlayback(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"stopped": s.ctrl.StopPlayback()})
}

// handleTurns returns recent turns with their latencies
func (s *Server) handleTurns(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Turns())
}

func (s *Server) handleEventsWS(c *websocket.Conn) {
	client := hub.NewClient(s.events, c)
	if client == nil {
		c.Close()
		return
	}
	client.Run()
}
