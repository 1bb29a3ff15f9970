package store

import (
	"context"
	"errors"

	"github.com/story-sync/story-sync/internal/story"
)

// Store 是领域实体的持久层：以故事 ID 为唯一键的幂等 upsert 语义，
// 断网时仍可读取，进程重启后数据保留。
type Store interface {
	// UpsertMany 在单个事务内写入全部实体；部分失败时整体回滚，
	// 读者只会看到调用前或调用后的完整集合。空输入直接成功返回。
	UpsertMany(ctx context.Context, stories []story.Story) error

	// UpsertOne 写入单个实体，ID 为空时返回 ErrMissingID。
	UpsertOne(ctx context.Context, s story.Story) error

	// GetAll 返回当前存储的全部实体，顺序由底层桶迭代决定，
	// 调用方不得假设与写入顺序一致。
	GetAll(ctx context.Context) ([]story.Story, error)

	// DeleteOne 删除指定 ID 的实体，不存在时视为成功。
	DeleteOne(ctx context.Context, id string) error

	Close() error
}

// ErrMissingID 表示实体缺少持久化主键。
var ErrMissingID = errors.New("story id required")
