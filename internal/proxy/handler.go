package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/cid-hub/cid-hub/internal/cache"
	"github.com/cid-hub/cid-hub/internal/gateway"
	"github.com/cid-hub/cid-hub/internal/logging"
	"github.com/cid-hub/cid-hub/internal/metrics"
	"github.com/cid-hub/cid-hub/internal/provider"
	"github.com/cid-hub/cid-hub/internal/server"
)

// Resolver 由 *gateway.Resolver 实现，测试中可注入替身。
type Resolver interface {
	Resolve(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// Handler 把 Resolver 的结果写成 Fiber 响应：状态码、头部与正文，
// 并把内部错误映射为不泄露上游细节的 JSON 错误。
type Handler struct {
	resolver Resolver
	logger   *logrus.Logger
	metrics  *metrics.Collector
}

// NewHandler constructs a content handler around the shared resolver.
func NewHandler(resolver Resolver, logger *logrus.Logger, collector *metrics.Collector) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		resolver: resolver,
		logger:   logger,
		metrics:  collector,
	}
}

// Handle serves GET/HEAD /ipfs/{cidPath}.
func (h *Handler) Handle(c fiber.Ctx, cidPath string) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resp, err := h.resolver.Resolve(ctx, gateway.Request{
		Path:      cidPath,
		Range:     string(c.Request().Header.Peek(fiber.HeaderRange)),
		RequestID: requestID,
	})
	if err != nil {
		return h.writeError(c, cidPath, requestID, started, err)
	}
	defer resp.Close()

	return h.writeResponse(c, resp, requestID, started)
}

func (h *Handler) writeResponse(c fiber.Ctx, resp *gateway.Response, requestID string, started time.Time) error {
	desc := resp.Descriptor
	for key, values := range desc.Header {
		if key == fiber.HeaderContentLength {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
	c.Response().Header.SetContentLength(int(desc.Length))
	c.Status(desc.Status)

	if c.Method() == http.MethodHead {
		h.logResult(resp, requestID, desc.Status, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(resp, requestID, desc.Status, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("write body failed: %v", err))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, cidPath, requestID string, started time.Time, err error) error {
	status, code := classifyError(err)

	fields := logging.RequestFields(requestID, cidPath, "", false)
	fields["action"] = "resolve"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	fields["error"] = err.Error()
	var aggregate *provider.AggregateError
	if errors.As(err, &aggregate) {
		fields["attempts"] = len(aggregate.Attempts)
		fields["attempt_details"] = attemptDetails(aggregate.Attempts)
	}
	entry := h.logger.WithFields(fields)
	if status >= fiber.StatusInternalServerError {
		entry.Error("resolve_failed")
	} else {
		entry.Warn("resolve_failed")
	}
	h.metrics.Response(status)

	var rangeErr *gateway.RangeError
	if errors.As(err, &rangeErr) {
		c.Set(fiber.HeaderContentRange, "bytes */"+strconv.FormatInt(rangeErr.Size, 10))
		c.Set(fiber.HeaderAcceptRanges, "bytes")
		return c.SendStatus(status)
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}

// attemptDetails 展开每次 Provider 尝试，上游 URL 只进入日志。
func attemptDetails(attempts []provider.Attempt) []logrus.Fields {
	details := make([]logrus.Fields, 0, len(attempts))
	for _, attempt := range attempts {
		detail := logrus.Fields{
			"provider":   attempt.Provider,
			"url":        attempt.URL,
			"outcome":    attempt.Outcome(),
			"elapsed_ms": attempt.Elapsed.Milliseconds(),
		}
		if attempt.Status != 0 {
			detail["status"] = attempt.Status
		}
		if attempt.Err != nil {
			detail["error"] = attempt.Err.Error()
		}
		details = append(details, detail)
	}
	return details
}

// classifyError 把解析错误映射为 HTTP 状态与对外错误码。
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, cache.ErrInvalidPath):
		return fiber.StatusBadRequest, "invalid_path"
	case errors.Is(err, gateway.ErrInvalidCID):
		return fiber.StatusBadRequest, "invalid_cid"
	case errors.Is(err, gateway.ErrRangeUnsatisfiable):
		return fiber.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable"
	case errors.Is(err, provider.ErrAllProvidersFailed):
		return fiber.StatusBadGateway, "fetch_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "canceled"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) logResult(resp *gateway.Response, requestID string, status int, started time.Time, err error) {
	h.metrics.Response(status)

	fields := logging.RequestFields(requestID, resp.CIDPath, resp.Key.String(), resp.CacheHit)
	fields["action"] = "resolve"
	fields["status"] = status
	fields["size_bytes"] = resp.Descriptor.Length
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if resp.Provider != "" {
		fields["provider"] = resp.Provider
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("resolve_failed")
		return
	}
	h.logger.WithFields(fields).Info("resolve_complete")
}
