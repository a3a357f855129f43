// Package providers exposes the HTTP surface: room REST endpoints, the
// status endpoint, and the WebSocket upgrade.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/quickna/socket/src/hub"
	"github.com/quickna/socket/src/session"
	"github.com/quickna/socket/src/store"
	"github.com/quickna/socket/src/types"
	"github.com/rs/zerolog"
)

// RoomStore is the subset of the persistence gateway the REST layer needs.
type RoomStore interface {
	CreateRoom(ctx context.Context, name string) (types.Room, error)
	RoomByID(ctx context.Context, id string) (types.Room, error)
	Ping(ctx context.Context) error
}

// Server wires the hub and session protocol into HTTP handlers.
type Server struct {
	hub     *hub.Hub
	session *session.Session
	rooms   RoomStore
	logger  zerolog.Logger
	started time.Time
}

// New creates the HTTP provider.
func New(h *hub.Hub, sess *session.Session, rooms RoomStore, logger zerolog.Logger) *Server {
	return &Server{
		hub:     h,
		session: sess,
		rooms:   rooms,
		logger:  logger.With().Str("component", "http").Logger(),
		started: time.Now(),
	}
}

// RegisterRoutes registers the REST and info routes on the Fiber app.
// The WebSocket upgrade itself is served by Handler, since Fiber v3 does
// not expose *fasthttp.RequestCtx.
func (s *Server) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/v1")
	api.Post("/room", s.handleCreateRoom)
	api.Get("/room/:id", s.handleGetRoom)
	api.Get("/status", s.handleStatus)

	app.Get("/ws/info", s.handleWsInfo)
}

type createRoomRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateRoom(c fiber.Ctx) error {
	var req createRoomRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Name is required and must be a string",
		})
	}

	room, err := s.rooms.CreateRoom(c.Context(), req.Name)
	if err != nil {
		s.logger.Error().Err(err).Msg("room creation failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "An error occurred while creating the room",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"id":      room.ID,
	})
}

func (s *Server) handleGetRoom(c fiber.Ctx) error {
	id := c.Params("id")

	room, err := s.rooms.RoomByID(c.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidRoomID):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		case errors.Is(err, store.ErrRoomNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Room not found",
			})
		default:
			s.logger.Error().Err(err).Str("room_id", id).Msg("room lookup failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "An error occurred while fetching the room",
			})
		}
	}

	return c.JSON(room)
}

func (s *Server) handleStatus(c fiber.Ctx) error {
	dbHealthy := s.rooms.Ping(c.Context()) == nil

	status := fiber.StatusOK
	if !dbHealthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"database": dbHealthy,
		"clients":  s.hub.ClientCount(),
		"rooms":    len(s.hub.Rooms()),
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleWsInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  "/ws",
		"clients":   s.hub.ClientCount(),
		"rooms":     len(s.hub.Rooms()),
	})
}
