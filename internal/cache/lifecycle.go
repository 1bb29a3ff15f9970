package cache

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Lifecycle 管理缓存代的安装与激活：安装阶段预缓存应用壳资源，
// 激活阶段清理本应用命名空间下被取代的旧代。
type Lifecycle struct {
	store      Store
	client     *http.Client
	logger     *logrus.Logger
	origin     string
	generation string
	prefix     string
}

// LifecycleOptions 汇总构建 Lifecycle 所需的依赖。
type LifecycleOptions struct {
	Store        Store
	Client       *http.Client
	Logger       *logrus.Logger
	OriginBase   string
	Generation   string
	NamePrefix   string
	PrecacheURLs []string
}

// NewLifecycle 创建缓存代生命周期控制器。
func NewLifecycle(opts LifecycleOptions) *Lifecycle {
	return &Lifecycle{
		store:      opts.Store,
		client:     opts.Client,
		logger:     opts.Logger,
		origin:     strings.TrimRight(opts.OriginBase, "/"),
		generation: opts.Generation,
		prefix:     opts.NamePrefix,
	}
}

// Install 打开当前代并预缓存应用壳资源。单个资源失败只记录日志，
// 不阻塞安装完成——应用壳缺一页仍然可用，而安装失败会让整个缓存层瘫痪。
func (l *Lifecycle) Install(ctx context.Context, precacheURLs []string) error {
	for _, path := range precacheURLs {
		if err := l.precache(ctx, path); err != nil {
			l.logger.WithError(err).WithFields(logrus.Fields{
				"action":     "precache",
				"generation": l.generation,
				"path":       path,
			}).Warn("precache failed")
		}
	}
	return nil
}

func (l *Lifecycle) precache(ctx context.Context, path string) error {
	url := l.origin + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil // 非成功响应不进缓存，也不算安装失败
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	return l.store.Put(ctx, l.generation, Locator{Method: http.MethodGet, URL: url}, Snapshot{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	})
}

// Activate 枚举现存的所有代，删除名称携带本应用前缀且不等于当前代的目录。
// 前缀之外的目录一律不动，避免误删不属于本应用的缓存。
func (l *Lifecycle) Activate(ctx context.Context) error {
	names, err := l.store.Generations(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		if name == l.generation {
			continue
		}
		if !strings.HasPrefix(name, l.prefix) {
			continue
		}
		if err := l.store.DeleteGeneration(ctx, name); err != nil {
			l.logger.WithError(err).WithFields(logrus.Fields{
				"action":     "activate",
				"generation": name,
			}).Warn("delete old generation failed")
			continue
		}
		l.logger.WithFields(logrus.Fields{
			"action":     "activate",
			"generation": name,
		}).Info("old generation deleted")
	}
	return nil
}
