// Package httpapi exposes the permission gate and event dispatch over HTTP.
package httpapi

import (
	"context"
	"errors"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/kompo/authlib/authz"
	"github.com/kompo/authlib/authz/remote"
	"github.com/kompo/authlib/communication"
	"github.com/kompo/authlib/types"
)

// EventHandler accepts events for asynchronous dispatch.
type EventHandler interface {
	Handle(ctx context.Context, ev communication.Event) error
}

type errorResponse struct {
	Error string `json:"error"`
}

type eventResponse struct {
	Trigger string `json:"trigger"`
}

type Handler struct {
	logger  log.Logger
	checker types.PermissionChecker
	events  EventHandler
}

func NewHandler(checker types.PermissionChecker, events EventHandler, logger log.Logger) *Handler {
	return &Handler{
		logger:  logger,
		checker: checker,
		events:  events,
	}
}

// Routes holds the components guarding the endpoints. Nil components leave an endpoint ungated.
type Routes struct {
	Authenticate fiber.Handler
	Check        *authz.ComponentGate
	Events       *authz.ComponentGate
}

// NewApp builds the fiber application serving h.
func NewApp(h *Handler, routes Routes) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(RequestLogger(h.logger))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	api := app.Group("/api/v1")
	if routes.Authenticate != nil {
		api.Use(routes.Authenticate)
	}

	check := []fiber.Handler{}
	if routes.Check != nil {
		check = append(check, RequireRead(routes.Check))
	}
	api.Get("/permissions/check", append(check, h.CheckPermission)...)

	events := []fiber.Handler{}
	if routes.Events != nil {
		events = append(events, RequireRead(routes.Events), RequireWrite(routes.Events))
	}
	api.Post("/events", append(events, h.PostEvent)...)

	return app
}

// CheckPermission answers whether the caller holds a permission.
func (h *Handler) CheckPermission(c *fiber.Ctx) error {
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		return writeError(c, fiber.StatusBadRequest, errors.New("key is required"))
	}

	typ, err := types.ParsePermissionType(c.Query("type", types.PermissionRead.String()))
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, err)
	}

	team, err := types.ParseTeamID(c.Query("team"))
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, err)
	}

	allowed, err := h.checker.CheckPermission(c.UserContext(), key, typ, team)
	if err != nil {
		level.Error(h.logger).Log("msg", "permission check failed", "permission", key, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(remote.CheckResponse{Allowed: false, Error: err.Error()})
	}

	return c.Status(fiber.StatusOK).JSON(remote.CheckResponse{Allowed: allowed})
}

// PostEvent queues an event for dispatch.
func (h *Handler) PostEvent(c *fiber.Ctx) error {
	var ev communication.NamedEvent
	if err := c.BodyParser(&ev); err != nil {
		return writeError(c, fiber.StatusBadRequest, errors.New("invalid body"))
	}

	ev.Trigger = strings.TrimSpace(ev.Trigger)
	if ev.Trigger == "" {
		return writeError(c, fiber.StatusBadRequest, errors.New("trigger is required"))
	}

	if err := h.events.Handle(c.UserContext(), ev); err != nil {
		level.Warn(h.logger).Log("msg", "could not queue event", "trigger", ev.Trigger, "err", err)
		return writeError(c, fiber.StatusServiceUnavailable, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(eventResponse{Trigger: ev.Trigger})
}

func writeError(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(errorResponse{Error: err.Error()})
}
