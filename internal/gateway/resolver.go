package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/cid-hub/cid-hub/internal/cache"
	"github.com/cid-hub/cid-hub/internal/logging"
	"github.com/cid-hub/cid-hub/internal/metrics"
	"github.com/cid-hub/cid-hub/internal/provider"
)

// ErrInvalidCID 表示开启 StrictCID 时路径首段无法解析为 CID。
var ErrInvalidCID = errors.New("invalid cid")

const defaultPinTimeout = 30 * time.Second

// Fetcher 按顺序从 Provider 获取内容，*provider.Chain 实现该接口。
type Fetcher interface {
	Fetch(ctx context.Context, cidPath string) (*provider.Payload, error)
}

// Pinner 把远程获取的内容交给本地节点持久化。
type Pinner interface {
	Pin(ctx context.Context, cidPath string, body []byte) error
}

// Options 汇总 Resolver 的依赖，Store 与 Fetcher 为必填项。
type Options struct {
	Store      cache.Store
	Fetcher    Fetcher
	Pinner     Pinner
	Logger     *logrus.Logger
	Metrics    *metrics.Collector
	StrictCID  bool
	PinTimeout time.Duration

	// FetchTimeout 限制一次共享获取（含所有 Provider 尝试与落盘）的总时长，0 表示不设上限。
	FetchTimeout time.Duration
}

// Request 是一次解析请求。Range 为原始 Range 头，可为空。
type Request struct {
	Path      string
	Range     string
	RequestID string
}

// Response 描述解析结果；调用方写完正文后必须 Close。
type Response struct {
	Descriptor *Descriptor
	Body       io.Reader
	Key        cache.Key
	CIDPath    string
	CacheHit   bool
	// Provider 为本次获取内容的 Provider 名称，命中缓存时为空。
	Provider string

	closer io.Closer
}

// Close 释放缓存文件句柄。
func (r *Response) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Resolver 实现 缓存检查 -> Provider 获取 -> 持久化 -> 应答 的流程。
type Resolver struct {
	store      cache.Store
	fetcher    Fetcher
	pinner     Pinner
	logger     *logrus.Logger
	metrics    *metrics.Collector
	strictCID  bool
	pinTimeout time.Duration
	fetchLimit time.Duration

	group   singleflight.Group
	pending sync.WaitGroup
}

// NewResolver 校验依赖并构建 Resolver。
func NewResolver(opts Options) (*Resolver, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	pinTimeout := opts.PinTimeout
	if pinTimeout <= 0 {
		pinTimeout = defaultPinTimeout
	}
	return &Resolver{
		store:      opts.Store,
		fetcher:    opts.Fetcher,
		pinner:     opts.Pinner,
		logger:     logger,
		metrics:    opts.Metrics,
		strictCID:  opts.StrictCID,
		pinTimeout: pinTimeout,
		fetchLimit: opts.FetchTimeout,
	}, nil
}

// Resolve 返回请求路径对应的内容。可能的错误：cache.ErrInvalidPath、
// ErrInvalidCID、*RangeError、包装后的 provider.ErrAllProvidersFailed，
// 以及调用方取消时的 context 错误。
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Response, error) {
	cidPath, err := cache.CleanPath(req.Path)
	if err != nil {
		return nil, err
	}
	if r.strictCID {
		if err := validateRoot(cidPath); err != nil {
			return nil, err
		}
	}
	key, err := cache.DeriveKey(cidPath)
	if err != nil {
		return nil, err
	}
	spec := ParseRange(req.Range)

	if resp, ok, err := r.serveCached(ctx, req, cidPath, key, spec); ok || err != nil {
		return resp, err
	}
	r.metrics.CacheLookup("miss")

	payload, err := r.fetchShared(ctx, cidPath, key)
	if err != nil {
		return nil, err
	}

	contentType := cache.NormalizeContentType(payload.ContentType)
	desc, body, err := Respond(int64(len(payload.Body)), spec, bytes.NewReader(payload.Body), contentType)
	if err != nil {
		return nil, err
	}
	return &Response{
		Descriptor: desc,
		Body:       body,
		Key:        key,
		CIDPath:    cidPath,
		Provider:   payload.Provider,
	}, nil
}

// Wait 阻塞直到所有后台 pin 任务结束，供关闭流程与测试使用。
func (r *Resolver) Wait() {
	r.pending.Wait()
}

// serveCached 尝试从缓存应答；ok 为 false 且 err 为 nil 表示应继续走获取流程。
func (r *Resolver) serveCached(ctx context.Context, req Request, cidPath string, key cache.Key, spec *RangeSpec) (*Response, bool, error) {
	if !r.store.Exists(ctx, key) {
		return nil, false, nil
	}

	artifact, err := r.store.Read(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrCorrupt) {
			r.metrics.CacheLookup("corrupt")
		}
		if !errors.Is(err, cache.ErrNotFound) {
			fields := logging.RequestFields(req.RequestID, cidPath, key.String(), false)
			fields["action"] = "cache_read"
			fields["error"] = err.Error()
			r.logger.WithFields(fields).Warn("cache_corrupt")
		}
		return nil, false, nil
	}

	r.metrics.CacheLookup("hit")
	desc, body, err := Respond(artifact.SizeBytes, spec, artifact.Reader, artifact.ContentType)
	if err != nil {
		artifact.Close()
		return nil, false, err
	}
	return &Response{
		Descriptor: desc,
		Body:       body,
		Key:        key,
		CIDPath:    cidPath,
		CacheHit:   true,
		closer:     artifact,
	}, true, nil
}

// fetchShared 合并同一缓存键的并发未命中请求。共享获取运行在脱离调用方的
// context 上，调用方断开只会让其自身提前返回，不会中断获取与落盘；
// fetchLimit 保证挂起的上游不会永久占住该键。
func (r *Resolver) fetchShared(ctx context.Context, cidPath string, key cache.Key) (*provider.Payload, error) {
	ch := r.group.DoChan(string(key), func() (any, error) {
		detached := context.WithoutCancel(ctx)
		if r.fetchLimit > 0 {
			var cancel context.CancelFunc
			detached, cancel = context.WithTimeout(detached, r.fetchLimit)
			defer cancel()
		}
		payload, err := r.fetcher.Fetch(detached, cidPath)
		if err != nil {
			return nil, err
		}
		r.persist(detached, cidPath, key, payload)
		if !payload.Local {
			r.pin(cidPath, payload.Body)
		}
		return payload, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-ch:
		if result.Err != nil {
			return nil, fmt.Errorf("fetch %s: %w", cidPath, result.Err)
		}
		return result.Val.(*provider.Payload), nil
	}
}

func (r *Resolver) persist(ctx context.Context, cidPath string, key cache.Key, payload *provider.Payload) {
	_, err := r.store.Write(ctx, key, payload.Body, payload.ContentType)
	r.metrics.CacheWrite(err)
	if err == nil {
		return
	}
	fields := logging.RequestFields("", cidPath, key.String(), false)
	fields["action"] = "cache_write"
	fields["provider"] = payload.Provider
	fields["error"] = err.Error()
	r.logger.WithFields(fields).Error("cache_write_failed")
}

func (r *Resolver) pin(cidPath string, body []byte) {
	if r.pinner == nil {
		return
	}
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.pinTimeout)
		defer cancel()

		started := time.Now()
		err := r.pinner.Pin(ctx, cidPath, body)
		r.metrics.Pin(err)

		fields := logrus.Fields{
			"action":     "pin",
			"cid_path":   cidPath,
			"size_bytes": len(body),
			"elapsed_ms": time.Since(started).Milliseconds(),
		}
		if err != nil {
			fields["error"] = err.Error()
			r.logger.WithFields(fields).Warn("pin_failed")
			return
		}
		r.logger.WithFields(fields).Info("pin_complete")
	}()
}

func validateRoot(cidPath string) error {
	root, _, _ := strings.Cut(cidPath, "/")
	if _, err := cid.Decode(root); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	return nil
}
