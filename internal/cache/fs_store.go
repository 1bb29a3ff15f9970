package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
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
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// snapshotMeta 是 .meta 文件的 JSON 结构，正文单独存放在 .body 中。
type snapshotMeta struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	StoredAt time.Time   `json:"stored_at"`
}

func (s *fileStore) Match(ctx context.Context, generation string, locator Locator) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 读取与写入共用条目锁：.meta 与 .body 是两个文件，
	// 不加锁的读者可能把旧元数据配上新正文。
	unlock := s.lockEntry(generation, locator)
	defer unlock()

	metaPath, bodyPath, err := s.paths(generation, locator)
	if err != nil {
		return nil, err
	}

	rawMeta, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var meta snapshotMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		// 元数据损坏视为未命中，后续写入会覆盖修复。
		return nil, ErrNotFound
	}

	body, err := os.ReadFile(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &Snapshot{
		Status:   meta.Status,
		Header:   meta.Header,
		Body:     body,
		StoredAt: meta.StoredAt,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, generation string, locator Locator, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.lockEntry(generation, locator)
	defer unlock()

	metaPath, bodyPath, err := s.paths(generation, locator)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return err
	}

	storedAt := snap.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	meta := snapshotMeta{
		Status:   snap.Status,
		Header:   snap.Header,
		Method:   locator.Method,
		URL:      locator.URL,
		StoredAt: storedAt,
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	// 先落正文再落元数据：读取方以 .meta 为入口，
	// 保证任何时刻命中的条目都拥有完整正文。
	if err := atomicWrite(bodyPath, snap.Body); err != nil {
		return err
	}
	return atomicWrite(metaPath, rawMeta)
}

func (s *fileStore) Generations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (s *fileStore) DeleteGeneration(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("invalid generation name: %q", name)
	}
	return os.RemoveAll(filepath.Join(s.basePath, name))
}

func (s *fileStore) lockEntry(generation string, locator Locator) func() {
	key := generation + "::" + locatorKey(locator)
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

func (s *fileStore) paths(generation string, locator Locator) (string, string, error) {
	if generation == "" || strings.ContainsAny(generation, "/\\") {
		return "", "", fmt.Errorf("invalid generation name: %q", generation)
	}
	if locator.Method == "" || locator.URL == "" {
		return "", "", errors.New("locator method and url required")
	}

	base := filepath.Join(s.basePath, generation, hashKey(locatorKey(locator)))
	return base + ".meta", base + ".body", nil
}

func atomicWrite(path string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func hashKey(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

func locatorKey(locator Locator) string {
	return locator.Method + "::" + locator.URL
}
