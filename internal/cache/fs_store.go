package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	contentSuffix     = ".cache"
	contentTypeSuffix = ".content-type"
	maxSidecarBytes   = 1024
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[Key]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 Key 并发写入，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[Key]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Root() string {
	return s.basePath
}

func (s *fileStore) Exists(ctx context.Context, key Key) bool {
	if ctx.Err() != nil {
		return false
	}
	contentPath, sidecarPath, err := s.entryPaths(key)
	if err != nil {
		return false
	}
	return isReadableFile(contentPath) && isReadableFile(sidecarPath)
}

func (s *fileStore) Read(ctx context.Context, key Key) (*Artifact, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	contentPath, sidecarPath, err := s.entryPaths(key)
	if err != nil {
		return nil, err
	}

	contentType, err := readSidecar(sidecarPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(contentPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}

	return &Artifact{
		Entry: Entry{
			Key:         key,
			FilePath:    contentPath,
			ContentType: contentType,
			SizeBytes:   info.Size(),
			ModTime:     info.ModTime(),
		},
		Reader: f,
	}, nil
}

func (s *fileStore) Write(ctx context.Context, key Key, body []byte, contentType string) (*Entry, error) {
	unlock := s.lockEntry(key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contentPath, sidecarPath, err := s.entryPaths(key)
	if err != nil {
		return nil, err
	}

	contentType = NormalizeContentType(contentType)

	if err := s.writeAtomic(contentPath, body); err != nil {
		return nil, fmt.Errorf("write content: %w", err)
	}
	if err := s.writeAtomic(sidecarPath, []byte(contentType)); err != nil {
		// 没有 sidecar 的正文不会被 Exists 识别为命中，删除只是保持目录整洁。
		os.Remove(contentPath)
		return nil, fmt.Errorf("write content-type: %w", err)
	}

	return &Entry{
		Key:         key,
		FilePath:    contentPath,
		ContentType: contentType,
		SizeBytes:   int64(len(body)),
		ModTime:     time.Now().UTC(),
	}, nil
}

func (s *fileStore) writeAtomic(target string, data []byte) error {
	tempFile, err := os.CreateTemp(s.basePath, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Chmod(tempName, 0o644); err != nil {
		os.Remove(tempName)
		return err
	}
	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) lockEntry(key Key) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) entryPaths(key Key) (string, string, error) {
	name := string(key)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return filepath.Join(s.basePath, name+contentSuffix),
		filepath.Join(s.basePath, name+contentTypeSuffix),
		nil
}

func readSidecar(sidecarPath string) (string, error) {
	info, err := os.Stat(sidecarPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	if info.IsDir() {
		return "", ErrNotFound
	}
	if info.Size() > maxSidecarBytes {
		return "", fmt.Errorf("%w: content-type sidecar too large", ErrCorrupt)
	}

	raw, err := os.ReadFile(sidecarPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	if !utf8.Valid(raw) || bytes.IndexByte(raw, 0) >= 0 {
		return "", fmt.Errorf("%w: content-type is not text", ErrCorrupt)
	}
	value := strings.TrimRight(string(raw), " \t\r\n")
	if value == "" || strings.ContainsAny(value, "\r\n") {
		return "", fmt.Errorf("%w: content-type must be a single line", ErrCorrupt)
	}
	return value, nil
}

func isReadableFile(p string) bool {
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return false
	}
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// NormalizeContentType 返回写入 sidecar 时实际使用的 MIME 类型。
func NormalizeContentType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || strings.ContainsAny(value, "\r\n") {
		return DefaultContentType
	}
	return value
}
