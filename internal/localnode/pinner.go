// Package localnode talks to the local content node's RPC API. After a
// remote provider serves an object, the bytes are added and pinned on the
// local node so later lookups are answered without leaving the host.
package localnode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"resty.dev/v3"
)

const addEndpoint = "/api/v0/add"

// AddResult 对应节点 add 接口返回的 JSON。
type AddResult struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Pinner 通过 multipart 上传把内容加入本地节点并 pin 住。
type Pinner struct {
	client *resty.Client
}

// NewPinner 以 RPC 基础地址（如 http://127.0.0.1:5001）创建 Pinner。
func NewPinner(rpcBase, userAgent string) (*Pinner, error) {
	rpcBase = strings.TrimRight(strings.TrimSpace(rpcBase), "/")
	if rpcBase == "" {
		return nil, errors.New("local rpc address is required")
	}
	client := resty.New().SetBaseURL(rpcBase)
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return &Pinner{client: client}, nil
}

// Pin 上传正文，表单字段为 file，文件名为 CID 路径。
func (p *Pinner) Pin(ctx context.Context, cidPath string, body []byte) error {
	_, err := p.Add(ctx, cidPath, body)
	return err
}

// Add 执行 add?pin=true 并返回节点计算出的结果。
func (p *Pinner) Add(ctx context.Context, cidPath string, body []byte) (*AddResult, error) {
	var result AddResult
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("pin", "true").
		SetFileReader("file", cidPath, bytes.NewReader(body)).
		SetResult(&result).
		Post(addEndpoint)
	if err != nil {
		return nil, fmt.Errorf("add %s to local node: %w", cidPath, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("add %s to local node: unexpected status %d", cidPath, resp.StatusCode())
	}
	return &result, nil
}

// Close 释放底层 HTTP 客户端资源。
func (p *Pinner) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
