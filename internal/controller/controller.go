package controller

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/story-sync/story-sync/internal/api"
	"github.com/story-sync/story-sync/internal/logging"
	"github.com/story-sync/story-sync/internal/story"
)

// View 标识当前激活的渲染模式。
type View string

const (
	// ViewFeed 是实时故事流，数据优先来自网络。
	ViewFeed View = "feed"
	// ViewSaved 是离线收藏视图，永远只读实体库，不碰网络。
	ViewSaved View = "saved"
)

// FeedAPI 是协调层对故事 API 的依赖面，便于测试注入假实现。
type FeedAPI interface {
	Login(ctx context.Context, email, password string) (*api.LoginResult, error)
	Register(ctx context.Context, name, email, password string) error
	ListStories(ctx context.Context) ([]story.Story, error)
	CreateStory(ctx context.Context, description string, photo io.Reader, filename string, loc *story.Location) error
}

// EntityStore 是协调层需要的实体库操作子集。
type EntityStore interface {
	UpsertMany(ctx context.Context, stories []story.Story) error
	UpsertOne(ctx context.Context, s story.Story) error
	GetAll(ctx context.Context) ([]story.Story, error)
	DeleteOne(ctx context.Context, id string) error
}

// AuthListener 在登录态切换时收到通知（推送订阅管理器实现此接口）。
// 监听器内部的失败不会阻断登录/登出流程。
type AuthListener interface {
	OnAuthenticated(ctx context.Context) *Notice
	OnDeauthenticated(ctx context.Context)
}

// Controller 决定实时流数据来自网络还是本地回退，并暴露离线持久化操作。
type Controller struct {
	api      FeedAPI
	store    EntityStore
	auth     *story.AuthContext
	listener AuthListener
	logger   *logrus.Logger

	mu      sync.Mutex
	stories []story.Story // 实时流的内存列表，降级时被清空
	view    View
	loadSeq uint64
}

// New 创建协调控制器。listener 可为 nil（无推送能力的部署）。
func New(feedAPI FeedAPI, entityStore EntityStore, auth *story.AuthContext, listener AuthListener, logger *logrus.Logger) *Controller {
	return &Controller{
		api:      feedAPI,
		store:    entityStore,
		auth:     auth,
		listener: listener,
		logger:   logger,
		view:     ViewFeed,
	}
}

// SetView 切换当前视图。切换会使仍在途的实时流加载结果失效，
// 避免慢响应把新视图的内容覆盖回旧数据。
func (c *Controller) SetView(v View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = v
	c.loadSeq++
}

// CurrentView 返回当前激活的视图。
func (c *Controller) CurrentView() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// FeedResult 是一次实时流加载的最终呈现内容。
type FeedResult struct {
	Stories  []story.Story `json:"stories"`
	Degraded bool          `json:"degraded"`
	Notice   *Notice       `json:"notice,omitempty"`
}

// LoadFeed 执行实时流加载状态机：未登录 → 清空返回；已登录 → 拉取网络；
// 网络或服务端失败 → 降级读实体库并附带非致命提示。
func (c *Controller) LoadFeed(ctx context.Context) (FeedResult, error) {
	c.mu.Lock()
	c.view = ViewFeed
	c.loadSeq++
	seq := c.loadSeq
	loggedIn := c.auth.LoggedIn()
	if !loggedIn {
		c.stories = nil
	}
	c.mu.Unlock()

	if !loggedIn {
		return FeedResult{}, nil
	}

	fetched, err := c.api.ListStories(ctx)
	if err == nil {
		if c.applyFeed(seq, fetched) {
			fields := logging.SyncFields("load_feed", string(ViewFeed))
			fields["count"] = len(fetched)
			c.logger.WithFields(fields).Debug("feed loaded from network")
		}
		return FeedResult{Stories: fetched}, nil
	}

	// 服务端错误或网络失败都走降级路径：清空实时列表，用已保存数据兜底。
	c.logger.WithError(err).WithFields(logging.SyncFields("load_feed", string(ViewFeed))).
		Warn("feed fetch failed, falling back to entity store")

	c.applyFeed(seq, nil)

	saved, storeErr := c.store.GetAll(ctx)
	if storeErr != nil {
		return FeedResult{Degraded: true, Notice: errorNotice("Gagal membaca data tersimpan.")}, nil
	}
	return FeedResult{
		Stories:  saved,
		Degraded: true,
		Notice:   infoNotice("Anda sedang offline. Menampilkan data yang tersimpan."),
	}, nil
}

// applyFeed 在确认本次加载仍是最新一轮且视图仍为实时流时更新内存列表。
func (c *Controller) applyFeed(seq uint64, stories []story.Story) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.loadSeq || c.view != ViewFeed {
		return false
	}
	c.stories = stories
	return true
}

// LiveStories 返回实时流内存列表的副本。
func (c *Controller) LiveStories() []story.Story {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]story.Story, len(c.stories))
	copy(out, c.stories)
	return out
}

// SavedStories 读取离线收藏视图的内容，完全绕过网络。
func (c *Controller) SavedStories(ctx context.Context) ([]story.Story, error) {
	return c.store.GetAll(ctx)
}

// SaveForOffline 将实时列表中的指定故事写入实体库。
// ID 不在实时列表中时静默跳过；写入失败对用户可见。
func (c *Controller) SaveForOffline(ctx context.Context, id string) *Notice {
	c.mu.Lock()
	var found *story.Story
	for i := range c.stories {
		if c.stories[i].ID == id {
			item := c.stories[i]
			found = &item
			break
		}
	}
	c.mu.Unlock()

	if found == nil {
		return nil
	}

	if err := c.store.UpsertOne(ctx, *found); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action": "save_offline",
			"id":     id,
		}).Error("entity store write failed")
		return errorNotice("Gagal menyimpan story untuk offline.")
	}
	return successNotice("Story tersimpan untuk offline.")
}

// RemoveFromOffline 从实体库删除指定故事，成功时返回刷新后的收藏列表，
// 保证调用方渲染的一定是删除后的状态。失败不改变内存状态。
func (c *Controller) RemoveFromOffline(ctx context.Context, id string) ([]story.Story, *Notice) {
	if err := c.store.DeleteOne(ctx, id); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action": "remove_offline",
			"id":     id,
		}).Error("entity store delete failed")
		return nil, errorNotice("Gagal menghapus story tersimpan.")
	}

	saved, err := c.store.GetAll(ctx)
	if err != nil {
		return nil, errorNotice("Gagal membaca data tersimpan.")
	}
	return saved, successNotice("Story dihapus dari penyimpanan offline.")
}

// SubmitStory 先做本地校验再发起 multipart 创建请求；任何校验失败都
// 不触发网络调用。创建成功后整体重载实时流，使列表反映服务端分配的字段。
func (c *Controller) SubmitStory(ctx context.Context, description string, photo []byte, filename string, loc *story.Location) (FeedResult, error) {
	if err := validateSubmission(description, photo); err != nil {
		return FeedResult{}, err
	}

	if err := c.api.CreateStory(ctx, description, bytes.NewReader(photo), filename, loc); err != nil {
		return FeedResult{}, err
	}

	return c.LoadFeed(ctx)
}

// Login 执行登录并在成功时切换登录态，随后尽力完成推送订阅。
// 订阅失败只产生提示，不影响已建立的登录态。
func (c *Controller) Login(ctx context.Context, email, password string) (*api.LoginResult, *Notice, error) {
	result, err := c.api.Login(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}

	c.auth.Set(result.Token, result.Name, result.UserID)

	var notice *Notice
	if c.listener != nil {
		notice = c.listener.OnAuthenticated(ctx)
	}
	return result, notice, nil
}

// Register 注册新用户，不建立登录态。
func (c *Controller) Register(ctx context.Context, name, email, password string) error {
	return c.api.Register(ctx, name, email, password)
}

// Logout 先尽力注销推送订阅（需要仍持有令牌），再清空登录态与实时列表。
// 订阅清理失败不会阻止登出完成。
func (c *Controller) Logout(ctx context.Context) {
	if c.listener != nil {
		c.listener.OnDeauthenticated(ctx)
	}

	c.auth.Clear()

	c.mu.Lock()
	c.stories = nil
	c.loadSeq++
	c.mu.Unlock()
}
