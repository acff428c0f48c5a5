package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContentHandler describes the component that answers /ipfs/* requests. It
// allows injecting fake handlers during tests.
type ContentHandler interface {
	Handle(c fiber.Ctx, cidPath string) error
}

// ContentHandlerFunc adapts a function to the ContentHandler interface.
type ContentHandlerFunc func(fiber.Ctx, string) error

// Handle makes ContentHandlerFunc satisfy ContentHandler.
func (f ContentHandlerFunc) Handle(c fiber.Ctx, cidPath string) error {
	return f(c, cidPath)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Handler    ContentHandler
	ListenPort int
}

const (
	contextKeyRequestID = "_cidhub_request_id"
	contentPrefix       = "/ipfs/"
)

// NewApp builds a Fiber application with request-id middleware, the content
// route and structured 404s. Diagnostics routes under /-/ are registered by
// the caller afterwards.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("content handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		rawPath := string(c.Request().URI().Path())
		if isDiagnosticsPath(rawPath) {
			return c.Next()
		}
		if !strings.HasPrefix(rawPath, contentPrefix) {
			return renderNotFound(c, opts.Logger, rawPath)
		}
		method := c.Method()
		if method != fiber.MethodGet && method != fiber.MethodHead {
			c.Set(fiber.HeaderAllow, "GET, HEAD")
			return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{
				"error": "method_not_allowed",
			})
		}
		return opts.Handler.Handle(c, strings.TrimPrefix(rawPath, contentPrefix))
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID 并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func renderNotFound(c fiber.Ctx, logger *logrus.Logger, path string) error {
	logger.WithFields(logrus.Fields{
		"action":     "route_lookup",
		"path":       path,
		"request_id": RequestID(c),
	}).Debug("route unmapped")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "not_found",
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
