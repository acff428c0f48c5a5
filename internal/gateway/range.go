package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// CacheControl 是所有内容响应统一携带的缓存策略，条目按内容寻址因此永不变化。
const CacheControl = "public, max-age=31557600, immutable"

// ErrRangeUnsatisfiable 表示 Range 越界，调用方应返回 416。
var ErrRangeUnsatisfiable = errors.New("range not satisfiable")

// RangeError 携带条目大小，供 416 响应生成 `Content-Range: bytes */size`。
type RangeError struct {
	Size int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s (size %d)", ErrRangeUnsatisfiable, e.Size)
}

func (e *RangeError) Unwrap() error {
	return ErrRangeUnsatisfiable
}

// RangeSpec 是解析后的单段 Range：`start-end`、`start-` 或 `-suffix`。
type RangeSpec struct {
	Start   int64
	End     int64
	OpenEnd bool
	// Suffix 为 true 时只使用 SuffixLength，表示最后 N 个字节。
	Suffix       bool
	SuffixLength int64
}

// Descriptor 描述应答的状态码、头部以及正文在条目中的位置。
type Descriptor struct {
	Status int
	Header http.Header
	Offset int64
	Length int64
}

// ParseRange 解析 Range 头。缺失、格式错误或多段请求均返回 nil，即整份内容。
func ParseRange(header string) *RangeSpec {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	const prefix = "bytes="
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return nil
	}
	spec := strings.TrimSpace(header[len(prefix):])
	if spec == "" || strings.Contains(spec, ",") {
		return nil
	}

	startRaw, endRaw, ok := strings.Cut(spec, "-")
	if !ok {
		return nil
	}
	startRaw = strings.TrimSpace(startRaw)
	endRaw = strings.TrimSpace(endRaw)

	if startRaw == "" {
		length, ok := parseOffset(endRaw)
		if !ok {
			return nil
		}
		return &RangeSpec{Suffix: true, SuffixLength: length}
	}

	start, ok := parseOffset(startRaw)
	if !ok {
		return nil
	}
	if endRaw == "" {
		return &RangeSpec{Start: start, OpenEnd: true}
	}
	end, ok := parseOffset(endRaw)
	if !ok {
		return nil
	}
	return &RangeSpec{Start: start, End: end}
}

func parseOffset(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}

// Respond 根据条目大小与可选 Range 生成响应描述及对应正文片段。
// 越界时返回 *RangeError。
func Respond(size int64, spec *RangeSpec, src io.ReaderAt, contentType string) (*Descriptor, io.Reader, error) {
	start, end, partial, err := resolveBounds(size, spec)
	if err != nil {
		return nil, nil, err
	}

	header := make(http.Header)
	header.Set("Content-Type", contentType)
	header.Set("Cache-Control", CacheControl)
	header.Set("Accept-Ranges", "bytes")

	desc := &Descriptor{Status: http.StatusOK, Offset: 0, Length: size}
	if partial {
		desc.Status = http.StatusPartialContent
		desc.Offset = start
		desc.Length = end - start + 1
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	}
	header.Set("Content-Length", strconv.FormatInt(desc.Length, 10))
	desc.Header = header

	return desc, io.NewSectionReader(src, desc.Offset, desc.Length), nil
}

// resolveBounds 返回闭区间 [start,end]；partial 为 false 表示应返回整份内容。
func resolveBounds(size int64, spec *RangeSpec) (start, end int64, partial bool, err error) {
	if spec == nil {
		return 0, size - 1, false, nil
	}

	if spec.Suffix {
		if spec.SuffixLength == 0 {
			return 0, 0, false, &RangeError{Size: size}
		}
		if spec.SuffixLength >= size {
			return 0, size - 1, false, nil
		}
		return size - spec.SuffixLength, size - 1, true, nil
	}

	start = spec.Start
	if start >= size {
		return 0, 0, false, &RangeError{Size: size}
	}
	end = size - 1
	if !spec.OpenEnd {
		if spec.End < start {
			return 0, 0, false, &RangeError{Size: size}
		}
		if spec.End < end {
			end = spec.End
		}
	}
	if start == 0 && end == size-1 {
		return start, end, false, nil
	}
	return start, end, true, nil
}
