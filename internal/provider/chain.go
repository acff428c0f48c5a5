// Package provider implements the ordered fallback over HTTP content
// providers: the local node first, then remote public gateways, tried one at
// a time until the first success.
package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/cid-hub/cid-hub/internal/config"
	"github.com/cid-hub/cid-hub/internal/logging"
	"github.com/cid-hub/cid-hub/internal/metrics"
)

// Chain 按配置顺序依次尝试 Provider，首个成功者胜出。
type Chain struct {
	providers []*Provider
	client    *http.Client
	logger    *logrus.Logger
	metrics   *metrics.Collector
}

// Info 是 Provider 的只读描述，供诊断接口输出。
type Info struct {
	Name              string  `json:"name"`
	Upstream          string  `json:"upstream"`
	Local             bool    `json:"local"`
	TimeoutSeconds    float64 `json:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
}

// NewChain 根据配置构建有序 Provider 列表。调用方应在启动阶段创建一次并复用。
func NewChain(cfg *config.Config, client *http.Client, logger *logrus.Logger, collector *metrics.Collector) (*Chain, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	chain := &Chain{
		providers: make([]*Provider, 0, len(cfg.Providers)),
		client:    client,
		logger:    logger,
		metrics:   collector,
	}
	for _, pc := range cfg.Providers {
		p, err := newProvider(cfg, pc)
		if err != nil {
			return nil, err
		}
		chain.providers = append(chain.providers, p)
	}
	return chain, nil
}

// Fetch 严格按顺序尝试每个 Provider，每个只尝试一次；全部失败时返回 *AggregateError。
func (c *Chain) Fetch(ctx context.Context, cidPath string) (*Payload, error) {
	attempts := make([]Attempt, 0, len(c.providers))
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload, attempt := p.fetch(ctx, c.client, cidPath)
		c.record(cidPath, attempt)
		if payload != nil {
			return payload, nil
		}
		if attempt.Kind == KindCanceled {
			return nil, context.Canceled
		}
		attempts = append(attempts, attempt)
	}
	return nil, &AggregateError{Attempts: attempts}
}

// List 返回按配置顺序排列的 Provider 描述。
func (c *Chain) List() []Info {
	if c == nil {
		return nil
	}
	result := make([]Info, len(c.providers))
	for i, p := range c.providers {
		info := Info{
			Name:           p.Name,
			Upstream:       p.BaseURL.String(),
			Local:          p.Local,
			TimeoutSeconds: p.Timeout.Seconds(),
		}
		if p.limiter != nil {
			info.RequestsPerSecond = float64(p.limiter.Limit())
		}
		result[i] = info
	}
	return result
}

func (c *Chain) record(cidPath string, attempt Attempt) {
	c.metrics.ProviderAttempt(attempt.Provider, attempt.Outcome(), attempt.Elapsed)

	fields := logging.ProviderFields(attempt.Provider, attempt.Local)
	fields["action"] = "provider_attempt"
	fields["cid_path"] = cidPath
	fields["upstream"] = attempt.URL
	fields["upstream_status"] = attempt.Status
	fields["elapsed_ms"] = attempt.Elapsed.Milliseconds()
	fields["outcome"] = attempt.Outcome()
	if attempt.Kind == "" {
		c.logger.WithFields(fields).Debug("provider_attempt")
		return
	}
	if attempt.Err != nil {
		fields["error"] = attempt.Err.Error()
	}
	c.logger.WithFields(fields).Warn("provider_failed")
}
