package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/cid-hub/cid-hub/internal/cache"
	"github.com/cid-hub/cid-hub/internal/config"
)

// Provider 是一个可通过 HTTP 获取 /ipfs/{cid} 的内容源（本地节点或公共网关）。
// 列表在启动时构建一次，运行期间不再修改。
type Provider struct {
	Name    string
	BaseURL *url.URL
	Local   bool
	// Timeout 为 0 表示不设上限。
	Timeout time.Duration

	userAgent string
	maxSize   int64
	limiter   *rate.Limiter
}

// Payload 是一次成功获取的结果。
type Payload struct {
	Body        []byte
	ContentType string
	Provider    string
	Local       bool
}

// newProvider 根据配置构建 Provider，并解析 BaseURL 与限流器。
func newProvider(cfg *config.Config, pc config.ProviderConfig) (*Provider, error) {
	base, err := url.Parse(pc.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream for provider %s: %w", pc.Name, err)
	}

	p := &Provider{
		Name:      pc.Name,
		BaseURL:   base,
		Local:     pc.Local,
		Timeout:   cfg.EffectiveTimeout(pc),
		userAgent: cfg.Global.UserAgent,
		maxSize:   cfg.Global.MaxObjectSize,
	}
	if pc.RequestsPerSecond > 0 {
		burst := pc.Burst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(pc.RequestsPerSecond), burst)
	}
	return p, nil
}

// Target 返回 {BaseURL}/ipfs/{cidPath}。
func (p *Provider) Target(cidPath string) *url.URL {
	return p.BaseURL.JoinPath("ipfs", cidPath)
}

// fetch 执行一次 GET，不做重试；payload 为 nil 时 Attempt 描述失败原因。
func (p *Provider) fetch(ctx context.Context, client *http.Client, cidPath string) (*Payload, Attempt) {
	started := time.Now()
	target := p.Target(cidPath)
	attempt := Attempt{Provider: p.Name, Local: p.Local, URL: target.String()}
	finish := func(kind FailureKind, err error) (*Payload, Attempt) {
		attempt.Kind = kind
		attempt.Err = err
		attempt.Elapsed = time.Since(started)
		return nil, attempt
	}

	if p.limiter != nil && !p.limiter.Allow() {
		return finish(KindRateLimited, nil)
	}

	attemptCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return finish(KindUnavailable, err)
	}
	req.Header.Set("Accept", "*/*")
	if !p.Local && p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return finish(classify(ctx, err), err)
	}
	defer resp.Body.Close()

	attempt.Status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return finish(KindBadStatus, nil)
	}
	if p.maxSize > 0 && resp.ContentLength > p.maxSize {
		return finish(KindTooLarge, fmt.Errorf("content length %d exceeds %d", resp.ContentLength, p.maxSize))
	}

	var reader io.Reader = resp.Body
	if p.maxSize > 0 {
		reader = io.LimitReader(resp.Body, p.maxSize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return finish(classify(ctx, err), err)
	}
	if p.maxSize > 0 && int64(len(body)) > p.maxSize {
		return finish(KindTooLarge, fmt.Errorf("body exceeds %d bytes", p.maxSize))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = cache.DefaultContentType
	}

	attempt.Elapsed = time.Since(started)
	return &Payload{
		Body:        body,
		ContentType: contentType,
		Provider:    p.Name,
		Local:       p.Local,
	}, attempt
}

// classify 区分调用方取消、单次超时与其它传输错误。
func classify(parent context.Context, err error) FailureKind {
	if parent.Err() != nil && errors.Is(parent.Err(), context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnavailable
}
