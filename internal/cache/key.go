package cache

import (
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/zeebo/blake3"
)

// Key 是由 CID 路径推导出的缓存键，同时用于正文与 sidecar 的文件名。
type Key string

// String implements fmt.Stringer.
func (k Key) String() string {
	return string(k)
}

const (
	maxKeyLength = 200
	digestPrefix = "~b3~"
)

// escaper 先转义会与分隔符冲突的字符，保证 a/b 与 a_b 不会落到同一个键。
var escaper = strings.NewReplacer(
	"%", "%25",
	"_", "%5F",
	"~", "%7E",
)

// CleanPath 规范化请求路径：去掉前导 /、冗余的 ipfs/ 前缀以及 . 段。
func CleanPath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.ContainsRune(trimmed, 0) {
		return "", fmt.Errorf("%w: nul byte", ErrInvalidPath)
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: parent segment", ErrInvalidPath)
		}
	}

	clean := strings.TrimPrefix(path.Clean("/"+trimmed), "/")
	clean = strings.TrimPrefix(clean, "ipfs/")
	if clean == "" || clean == "." || clean == "ipfs" {
		return "", fmt.Errorf("%w: missing cid", ErrInvalidPath)
	}
	return clean, nil
}

// DeriveKey 将 CID 路径映射为文件系统安全的缓存键：路径分隔符替换为 _，
// 超长键改用 BLAKE3 摘要以避开文件名长度限制。
func DeriveKey(cidPath string) (Key, error) {
	clean, err := CleanPath(cidPath)
	if err != nil {
		return "", err
	}

	escaped := strings.ReplaceAll(escaper.Replace(clean), "/", "_")
	if len(escaped) <= maxKeyLength {
		return Key(escaped), nil
	}

	sum := blake3.Sum256([]byte(escaped))
	return Key(digestPrefix + hex.EncodeToString(sum[:])), nil
}
