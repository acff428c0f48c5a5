package server

import (
	"net"
	"net/http"
	"time"
)

// Shared HTTP transport tunings，复用长连接并集中配置拨号与握手超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// maxRedirects 是最多跟随的跳转次数（如子域名网关的重定向），超出后返回最后一个跳转响应。
const maxRedirects = 10

// NewUpstreamClient 返回所有 Provider 共享的 http.Client。
// 客户端本身不设置 Timeout：每次 Provider 尝试由 context 控制截止时间，
// UpstreamTimeout 为 0 时远程请求不设上限。
func NewUpstreamClient() *http.Client {
	return &http.Client{
		Transport: defaultTransport.Clone(),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}
