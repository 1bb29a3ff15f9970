package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Store 负责管理响应缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<generation>/<sha1(method+url)>.meta    # 状态码与头部
//	<StoragePath>/<generation>/<sha1(method+url)>.body    # 实际正文
//
// 同一时刻只有一个 generation 是“当前代”，其余均为待清理的旧代。
type Store interface {
	// Match 在指定 generation 中查找请求对应的快照，不存在返回 ErrNotFound。
	Match(ctx context.Context, generation string, locator Locator) (*Snapshot, error)

	// Put 将一份响应快照写入缓存，覆盖同一请求身份的旧条目。实现需通过
	// 临时文件 + rename 保证写入原子性，并在失败时清理临时文件。
	Put(ctx context.Context, generation string, locator Locator, snap Snapshot) error

	// Generations 枚举存储根目录下现存的所有 generation 名称。
	Generations(ctx context.Context) ([]string, error)

	// DeleteGeneration 整体删除一个 generation 目录。
	DeleteGeneration(ctx context.Context, name string) error
}

// Locator 唯一定位一个缓存条目：请求方法 + 完整 URL。
type Locator struct {
	Method string
	URL    string
}

// Snapshot 是一次成功响应的可回放快照。
type Snapshot struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"-"`
	StoredAt time.Time   `json:"stored_at"`
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
