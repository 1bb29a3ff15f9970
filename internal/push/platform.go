package push

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/story-sync/story-sync/internal/story"
)

// LocalPlatform 是网关进程自身的推送平台：订阅端点指向网关的推送
// 入口，密钥对随机生成，订阅描述符持久化为磁盘文件，跨重启保持幂等。
type LocalPlatform struct {
	path     string
	endpoint string
}

// NewLocalPlatform 创建本地平台。path 为订阅描述符文件位置，
// endpoint 为本网关接收推送事件的完整 URL。
func NewLocalPlatform(path, endpoint string) *LocalPlatform {
	return &LocalPlatform{path: path, endpoint: endpoint}
}

func (p *LocalPlatform) Supported() bool {
	return true
}

// RequestPermission 本地守护进程无权限弹窗，视为始终授权。
func (p *LocalPlatform) RequestPermission(ctx context.Context) (Permission, error) {
	return PermissionGranted, nil
}

func (p *LocalPlatform) Existing(ctx context.Context) (*story.Subscription, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取订阅文件失败: %w", err)
	}

	var sub story.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("订阅文件损坏: %w", err)
	}
	return &sub, nil
}

func (p *LocalPlatform) Subscribe(ctx context.Context, applicationServerKey string) (*story.Subscription, error) {
	sub := story.Subscription{
		Endpoint: p.endpoint,
		Keys: story.SubscriptionKeys{
			P256dh: randomKey(65),
			Auth:   randomKey(16),
		},
	}

	data, err := json.Marshal(sub)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return nil, fmt.Errorf("创建订阅目录失败: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o600); err != nil {
		return nil, fmt.Errorf("写入订阅文件失败: %w", err)
	}
	return &sub, nil
}

func (p *LocalPlatform) Remove(ctx context.Context, sub story.Subscription) error {
	err := os.Remove(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func randomKey(size int) string {
	buf := make([]byte, size)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
