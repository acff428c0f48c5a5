package routes

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/cid-hub/cid-hub/internal/metrics"
	"github.com/cid-hub/cid-hub/internal/provider"
)

type staticLister []provider.Info

func (s staticLister) List() []provider.Info { return s }

func TestProvidersRouteKeepsOrder(t *testing.T) {
	app := fiber.New()
	RegisterDiagnosticRoutes(app, DiagnosticsOptions{
		Providers: staticLister{
			{Name: "kubo", Upstream: "http://127.0.0.1:8080", Local: true, TimeoutSeconds: 2},
			{Name: "ipfs-io", Upstream: "https://ipfs.io"},
		},
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/providers", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Providers []provider.Info `json:"providers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(payload.Providers) != 2 || payload.Providers[0].Name != "kubo" || payload.Providers[1].Name != "ipfs-io" {
		t.Fatalf("unexpected providers %+v", payload.Providers)
	}
	if !payload.Providers[0].Local {
		t.Fatalf("expected kubo to be reported as local")
	}
}

func TestHealthzRoute(t *testing.T) {
	app := fiber.New()
	RegisterDiagnosticRoutes(app, DiagnosticsOptions{
		Providers:   staticLister{{Name: "ipfs-io"}},
		StoragePath: "/var/cache/cid-hub",
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/healthz", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload healthPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.Status != "ok" || payload.Providers != 1 || payload.StoragePath != "/var/cache/cid-hub" {
		t.Fatalf("unexpected health payload %+v", payload)
	}
	if payload.MetricsEnabled {
		t.Fatalf("metrics should be reported as disabled")
	}
}

func TestMetricsRouteExposesCollector(t *testing.T) {
	collector, err := metrics.NewCollector()
	if err != nil {
		t.Fatalf("collector error: %v", err)
	}
	collector.CacheLookup("hit")

	app := fiber.New()
	RegisterDiagnosticRoutes(app, DiagnosticsOptions{
		Providers: staticLister{},
		Metrics:   collector,
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `cidhub_cache_lookups_total{result="hit"} 1`) {
		t.Fatalf("expected cache lookup metric, got %s", string(body))
	}
}

func TestMetricsRouteAbsentWhenDisabled(t *testing.T) {
	app := fiber.New()
	RegisterDiagnosticRoutes(app, DiagnosticsOptions{Providers: staticLister{}})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
