package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-sslteam/pkg/field"
	"github.com/teslashibe/go-sslteam/pkg/filter"
	"github.com/teslashibe/go-sslteam/pkg/hub"
	"github.com/teslashibe/go-sslteam/pkg/protocol"
)

func errorJSON(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// handleWorld returns the current world snapshot.
func (s *Server) handleWorld(c *fiber.Ctx) error {
	return c.JSON(s.world.Snapshot())
}

func (s *Server) handleGetGeometry(c *fiber.Ctx) error {
	d, ok := s.geometry()
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, errors.New("no field geometry yet"))
	}
	return c.JSON(d)
}

// handlePutGeometry stores geometry edited by hand and pins it.
func (s *Server) handlePutGeometry(c *fiber.Ctx) error {
	var req protocol.GeometryData
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	if err := s.field.Set(req.SSL()); err != nil {
		if errors.Is(err, field.ErrInvalidDimension) {
			return errorJSON(c, fiber.StatusBadRequest, err)
		}
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	d, _ := s.geometry()
	s.broadcast(protocol.NewGeometryMessage(d))
	return c.JSON(d)
}

func (s *Server) handleUnpinGeometry(c *fiber.Ctx) error {
	s.field.Unpin()
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleGetBallSettings(c *fiber.Ctx) error {
	return c.JSON(s.world.BallSettings())
}

// handlePutBallSettings retunes the ball filter. Omitted fields keep their
// current values.
func (s *Server) handlePutBallSettings(c *fiber.Ctx) error {
	req := s.world.BallSettings()
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	if err := s.world.SetBallSettings(req); err != nil {
		if errors.Is(err, filter.ErrInvalidSettings) {
			return errorJSON(c, fiber.StatusBadRequest, err)
		}
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	s.broadcast(protocol.NewBallSettingsMessage(req))
	if s.OnBallSettings != nil {
		s.OnBallSettings(req)
	}
	return c.JSON(req)
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.stats())
}

// handleWorldWS sends the current geometry, ball settings and world, then
// streams updates until the viewer disconnects.
func (s *Server) handleWorldWS(c *websocket.Conn) {
	var initial []hub.Message
	add := func(msg *protocol.Message, err error) {
		if err != nil {
			return
		}
		if b, err := msg.Bytes(); err == nil {
			initial = append(initial, hub.NewTextMessage(b))
		}
	}
	if d, ok := s.geometry(); ok {
		add(protocol.NewGeometryMessage(d))
	}
	add(protocol.NewBallSettingsMessage(s.world.BallSettings()))
	add(protocol.NewWorldMessage(s.world.Snapshot()))

	client := hub.NewClient(s.worldHub, c, initial...)
	if client == nil {
		return
	}
	client.Run()
}
