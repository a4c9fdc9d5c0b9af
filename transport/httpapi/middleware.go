package httpapi

import (
	"errors"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gofiber/fiber/v2"

	"github.com/kompo/authlib/authn"
	"github.com/kompo/authlib/authz"
	"github.com/kompo/authlib/types"
)

// RequestLogger logs HTTP requests with method, path, status and duration.
func RequestLogger(logger log.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		level.Debug(logger).Log(
			"msg", "http",
			"method", c.Method(),
			"path", c.OriginalURL(),
			"status", c.Response().StatusCode(),
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
		)
		return err
	}
}

// Authenticate puts the actor of the bearer token in the user context.
// Requests without a token continue anonymously; invalid tokens are rejected with 401.
func Authenticate(auth authn.Authenticator, resolve authn.ActorResolver, logger log.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		id, err := auth.Authenticate(ctx, authn.BearerToken(c.Get(fiber.HeaderAuthorization)))
		switch {
		case errors.Is(err, authn.ErrMissingRequiredToken):
			return c.Next()
		case authn.IsInvalidTokenErr(err):
			return writeError(c, fiber.StatusUnauthorized, err)
		case err != nil:
			level.Error(logger).Log("msg", "authentication failed", "err", err)
			return writeError(c, fiber.StatusInternalServerError, err)
		}

		actor, err := resolve(ctx, id)
		if err != nil {
			level.Error(logger).Log("msg", "could not resolve actor", "subject", id.Subject, "err", err)
			return writeError(c, fiber.StatusInternalServerError, err)
		}

		c.SetUserContext(types.WithActor(ctx, actor))
		return c.Next()
	}
}

// RequireRead runs the read gate of component and ends the request with 403 on denial.
func RequireRead(component *authz.ComponentGate) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := component.OnBoot(c.UserContext())
		switch {
		case err == nil:
			return c.Next()
		case errors.Is(err, authz.ErrForbidden):
			return writeError(c, fiber.StatusForbidden, err)
		default:
			return writeError(c, fiber.StatusInternalServerError, err)
		}
	}
}

// RequireWrite runs the write gate of component and ends the request with 403 on denial.
func RequireWrite(component *authz.ComponentGate) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !component.Authorize(c.UserContext()) {
			return writeError(c, fiber.StatusForbidden, authz.ErrForbidden)
		}
		return c.Next()
	}
}
