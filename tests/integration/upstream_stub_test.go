package integration

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

type gatewayMode string

const (
	gatewayServe gatewayMode = "serve"
	gatewayError gatewayMode = "error"
	gatewayHang  gatewayMode = "hang"
)

// gatewayStub 模拟本地节点或公共网关的 /ipfs/{cid} 接口，供集成测试复用。
type gatewayStub struct {
	server   *http.Server
	listener net.Listener
	URL      string

	mu       sync.Mutex
	requests []RecordedRequest
	mode     gatewayMode
	objects  map[string]stubObject
	release  chan struct{}
}

type stubObject struct {
	body        []byte
	contentType string
}

// RecordedRequest 捕获每次请求的方法/路径/Headers，便于断言 Provider 行为。
type RecordedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

func newGatewayStub(t *testing.T, mode gatewayMode) *gatewayStub {
	t.Helper()

	stub := &gatewayStub{
		mode:    mode,
		objects: make(map[string]stubObject),
		release: make(chan struct{}),
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.recordRequest(r)
		stub.handle(w, r)
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start gateway stub listener: %v", err)
	}
	server := &http.Server{Handler: handler}

	stub.server = server
	stub.listener = listener
	stub.URL = "http://" + listener.Addr().String()

	go func() {
		_ = server.Serve(listener)
	}()

	t.Cleanup(stub.Close)
	return stub
}

// Put 注册 /ipfs/{cidPath} 对应的内容。
func (s *gatewayStub) Put(cidPath string, body []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects["/ipfs/"+strings.TrimPrefix(cidPath, "/")] = stubObject{body: body, contentType: contentType}
}

// SetMode 在测试过程中切换行为，例如模拟网关下线。
func (s *gatewayStub) SetMode(mode gatewayMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

func (s *gatewayStub) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	mode := s.mode
	obj, ok := s.objects[r.URL.Path]
	s.mu.Unlock()

	switch mode {
	case gatewayError:
		http.Error(w, "upstream exploded at "+s.URL, http.StatusInternalServerError)
		return
	case gatewayHang:
		select {
		case <-s.release:
		case <-r.Context().Done():
		}
		return
	}

	if !ok {
		http.NotFound(w, r)
		return
	}
	if obj.contentType != "" {
		w.Header().Set("Content-Type", obj.contentType)
	} else {
		w.Header()["Content-Type"] = nil
	}
	_, _ = w.Write(obj.body)
}

func (s *gatewayStub) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	select {
	case <-s.release:
	default:
		close(s.release)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if s.server != nil {
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *gatewayStub) recordRequest(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()
	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: cloneHeader(r.Header),
		Body:    body,
	})
	s.mu.Unlock()
	r.Body = io.NopCloser(bytes.NewReader(body))
}

func (s *gatewayStub) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]RecordedRequest, len(s.requests))
	copy(result, s.requests)
	return result
}

func cloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, values := range src {
		cp := make([]string, len(values))
		copy(cp, values)
		dst[k] = cp
	}
	return dst
}

func TestGatewayStubServesObjects(t *testing.T) {
	stub := newGatewayStub(t, gatewayServe)
	stub.Put("bafy123", []byte("hello"), "text/plain")

	resp, err := http.Get(stub.URL + "/ipfs/bafy123")
	if err != nil {
		t.Fatalf("stub request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "hello" {
		t.Fatalf("unexpected stub response %d %q", resp.StatusCode, string(body))
	}

	stub.SetMode(gatewayError)
	resp, err = http.Get(stub.URL + "/ipfs/bafy123")
	if err != nil {
		t.Fatalf("stub request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 in error mode, got %d", resp.StatusCode)
	}
	if len(stub.Requests()) != 2 {
		t.Fatalf("expected 2 recorded requests, got %d", len(stub.Requests()))
	}
}
