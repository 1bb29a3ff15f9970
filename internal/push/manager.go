package push

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/story-sync/story-sync/internal/story"
)

// Permission 表示通知权限状态。
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Platform 抽象推送平台能力：权限申请与订阅的创建/查询/移除。
// 不支持推送的环境返回 Supported() == false，管理器随即静默退出。
type Platform interface {
	Supported() bool
	RequestPermission(ctx context.Context) (Permission, error)
	Existing(ctx context.Context) (*story.Subscription, error)
	Subscribe(ctx context.Context, applicationServerKey string) (*story.Subscription, error)
	Remove(ctx context.Context, sub story.Subscription) error
}

// Registrar 是源站侧的订阅注册接口（由 API 客户端实现）。
type Registrar interface {
	Subscribe(ctx context.Context, sub story.Subscription) error
	Unsubscribe(ctx context.Context, sub story.Subscription) error
}

// Manager 使设备的推送注册状态跟随登录态，所有失败均为非致命：
// 订阅环节的任何错误都不得影响已完成的登录/登出切换。
type Manager struct {
	platform  Platform
	registrar Registrar
	logger    *logrus.Logger
	vapidKey  string
}

// NewManager 创建订阅管理器。vapidKey 是公开的 application server key。
func NewManager(platform Platform, registrar Registrar, vapidKey string, logger *logrus.Logger) *Manager {
	return &Manager{
		platform:  platform,
		registrar: registrar,
		logger:    logger,
		vapidKey:  vapidKey,
	}
}

// OnAuthenticated 在登录成功后对齐订阅状态。返回 error 时调用方应以
// 非致命提示透出；返回 nil 表示成功、无需订阅或平台不支持。
func (m *Manager) OnAuthenticated(ctx context.Context) error {
	if !m.platform.Supported() {
		return nil
	}

	permission, err := m.platform.RequestPermission(ctx)
	if err != nil {
		m.logWarn("request_permission", err)
		return err
	}
	if permission != PermissionGranted {
		return nil
	}

	existing, err := m.platform.Existing(ctx)
	if err != nil {
		m.logWarn("lookup_subscription", err)
		return err
	}
	if existing != nil {
		// 平台已有订阅，视为已注册，不重复订阅。
		return nil
	}

	sub, err := m.platform.Subscribe(ctx, m.vapidKey)
	if err != nil {
		m.logWarn("platform_subscribe", err)
		return err
	}

	if err := m.registrar.Subscribe(ctx, *sub); err != nil {
		m.logWarn("register_subscription", err)
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"action":   "push_subscribe",
		"endpoint": sub.Endpoint,
	}).Info("push subscription registered")
	return nil
}

// OnDeauthenticated 在登出前尽力清理订阅：先从源站注销，再移除平台订阅。
// 任一步骤失败只记录日志，绝不阻止登出完成。
func (m *Manager) OnDeauthenticated(ctx context.Context) {
	if !m.platform.Supported() {
		return
	}

	existing, err := m.platform.Existing(ctx)
	if err != nil {
		m.logWarn("lookup_subscription", err)
		return
	}
	if existing == nil {
		return
	}

	if err := m.registrar.Unsubscribe(ctx, *existing); err != nil {
		m.logWarn("unregister_subscription", err)
	}
	if err := m.platform.Remove(ctx, *existing); err != nil {
		m.logWarn("platform_remove", err)
	}
}

func (m *Manager) logWarn(step string, err error) {
	m.logger.WithError(err).WithFields(logrus.Fields{
		"action": "push_lifecycle",
		"step":   step,
	}).Warn("push subscription step failed")
}
