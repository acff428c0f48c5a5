package routes

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/cid-hub/cid-hub/internal/metrics"
	"github.com/cid-hub/cid-hub/internal/provider"
	"github.com/cid-hub/cid-hub/internal/version"
)

// ProviderLister 返回按尝试顺序排列的 Provider，*provider.Chain 实现该接口。
type ProviderLister interface {
	List() []provider.Info
}

// DiagnosticsOptions 描述 /-/ 诊断接口依赖的组件；Metrics 为 nil 时不暴露 /-/metrics。
type DiagnosticsOptions struct {
	Providers   ProviderLister
	Metrics     *metrics.Collector
	StoragePath string
}

// RegisterDiagnosticRoutes 暴露 /-/providers、/-/healthz 与 /-/metrics，供 SRE 查询 Provider 顺序与运行状态。
func RegisterDiagnosticRoutes(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil || opts.Providers == nil {
		return
	}
	started := time.Now()

	app.Get("/-/providers", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"providers": opts.Providers.List(),
		})
	})

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(healthPayload{
			Status:         "ok",
			Version:        version.Full(),
			Providers:      len(opts.Providers.List()),
			StoragePath:    opts.StoragePath,
			UptimeSeconds:  int64(time.Since(started) / time.Second),
			MetricsEnabled: opts.Metrics != nil,
		})
	})

	if opts.Metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}
}

type healthPayload struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	Providers      int    `json:"providers"`
	StoragePath    string `json:"storage_path"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	MetricsEnabled bool   `json:"metrics_enabled"`
}
