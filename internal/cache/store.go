package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<key>.cache          # 原始内容
//	<StoragePath>/<key>.content-type   # 单行 MIME 类型
//
// 两个文件同时存在才视为一个有效条目，条目写入后永不修改。
type Store interface {
	// Exists 仅当正文与 content-type 文件均存在且可读时返回 true。
	Exists(ctx context.Context, key Key) bool

	// Read 返回可随机读取的缓存条目。任一文件缺失返回 ErrNotFound，
	// content-type 文件无法作为文本解析时返回 ErrCorrupt。
	Read(ctx context.Context, key Key) (*Artifact, error)

	// Write 通过临时文件 + rename 依次写入正文与 content-type，
	// 失败时不会留下可被识别为命中的半成品。
	Write(ctx context.Context, key Key, body []byte, contentType string) (*Entry, error)

	// Root 返回缓存根目录的绝对路径。
	Root() string
}

// ArtifactReader 同时支持顺序读取、Seek 与 ReadAt，便于按字节范围响应。
type ArtifactReader interface {
	io.ReadSeekCloser
	io.ReaderAt
}

// Entry 描述一次写入或命中的条目元信息。
type Entry struct {
	Key         Key       `json:"key"`
	FilePath    string    `json:"file_path"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	ModTime     time.Time `json:"mod_time"`
}

// Artifact 组合 Entry 与正文 Reader，调用方负责在请求结束时 Close。
type Artifact struct {
	Entry
	Reader ArtifactReader
}

// Close 释放底层文件句柄。
func (a *Artifact) Close() error {
	if a == nil || a.Reader == nil {
		return nil
	}
	return a.Reader.Close()
}

// DefaultContentType 在上游或 sidecar 未给出类型时使用。
const DefaultContentType = "application/octet-stream"

var (
	// ErrNotFound 表示缓存不存在（正文或 sidecar 任一缺失）。
	ErrNotFound = errors.New("cache entry not found")
	// ErrCorrupt 表示 sidecar 内容无法作为 MIME 文本解析。
	ErrCorrupt = errors.New("cache entry corrupt")
	// ErrInvalidPath 表示请求路径无法映射为缓存键。
	ErrInvalidPath = errors.New("invalid content path")
)
