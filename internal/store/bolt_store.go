package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/story-sync/story-sync/internal/story"
)

var bucketStories = []byte("stories")

// boltStore 基于 bbolt 实现 Store。bbolt 自身保证单写者事务，
// 并发 UpsertMany/DeleteOne 不会交错出现半套新旧值。
type boltStore struct {
	db *bolt.DB
}

// Open 打开（必要时创建）实体库文件并初始化桶。
func Open(path string) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStories)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error {
	return s.db.Close()
}

func (s *boltStore) UpsertMany(ctx context.Context, stories []story.Story) error {
	if len(stories) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStories)
		for _, item := range stories {
			if item.ID == "" {
				return ErrMissingID
			}
			data, err := json.Marshal(item)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(item.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *boltStore) UpsertOne(ctx context.Context, item story.Story) error {
	if item.ID == "" {
		return ErrMissingID
	}
	return s.UpsertMany(ctx, []story.Story{item})
}

func (s *boltStore) GetAll(ctx context.Context) ([]story.Story, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var stories []story.Story
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStories)
		return b.ForEach(func(k, v []byte) error {
			var item story.Story
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			stories = append(stories, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stories, nil
}

func (s *boltStore) DeleteOne(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		// bbolt 对不存在的 key 删除返回 nil，天然满足 no-op 语义。
		return tx.Bucket(bucketStories).Delete([]byte(id))
	})
}
