package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/story-sync/story-sync/internal/cache"
	"github.com/story-sync/story-sync/internal/logging"
)

// Handler orchestrate “缓存命中 → 立即返回 → 后台刷新” 的全流程。
// 命中时调用方拿到的是旧快照，新鲜度只在下一次同身份请求时可见；
// 未命中时同步回源，网络也失败才向调用方报错。
type Handler struct {
	client     *http.Client
	logger     *logrus.Logger
	store      cache.Store
	origin     string
	generation string

	revalidations sync.WaitGroup
}

// NewHandler 创建拦截处理器，origin 为回源基地址。
func NewHandler(client *http.Client, logger *logrus.Logger, store cache.Store, origin, generation string) *Handler {
	return &Handler{
		client:     client,
		logger:     logger,
		store:      store,
		origin:     strings.TrimRight(origin, "/"),
		generation: generation,
	}
}

// Intercepts 判断请求是否进入缓存策略：只有 GET，且目标属于本系统
// 控制的 http/https 命名空间。绝对形式 URL 携带其他 scheme 时放行不拦截。
func Intercepts(method, target string) bool {
	if method != http.MethodGet {
		return false
	}
	if parsed, err := url.Parse(target); err == nil && parsed.Scheme != "" {
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return false
		}
	}
	return true
}

// Handle 实现拦截入口。不满足拦截条件的请求直接透传回源。
func (h *Handler) Handle(c fiber.Ctx) error {
	target := c.OriginalURL()
	if !Intercepts(c.Method(), target) {
		return h.passThrough(c)
	}

	started := time.Now()
	locator := cache.Locator{Method: http.MethodGet, URL: h.originURL(target)}

	snap, err := h.store.Match(c.Context(), h.generation, locator)
	switch {
	case err == nil:
		// stale-while-revalidate：先用缓存应答，再后台刷新同一条目。
		// 凭据在请求返回前拷贝一份，后台刷新必须以同样的身份回源，
		// 否则受保护资源的刷新永远是 401，缓存副本无法更新。
		authorization := append([]byte(nil), c.Request().Header.Peek("Authorization")...)
		h.revalidateAsync(locator, authorization)
		return h.serveSnapshot(c, snap, started)
	case errors.Is(err, cache.ErrNotFound):
		// miss, fall through to network
	default:
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_match",
			"url":    locator.URL,
		}).Warn("cache_match_failed")
	}

	return h.fetchAndServe(c, locator, started)
}

// WaitIdle 阻塞直到所有后台刷新完成，供测试与优雅退出使用。
func (h *Handler) WaitIdle() {
	h.revalidations.Wait()
}

func (h *Handler) serveSnapshot(c fiber.Ctx, snap *cache.Snapshot, started time.Time) error {
	copyResponseHeaders(c, snap.Header)
	c.Set("X-Story-Sync-Cache-Hit", "true")
	c.Status(snap.Status)

	fields := logging.InterceptFields(h.generation, c.Method(), c.OriginalURL(), true)
	fields["duration_ms"] = time.Since(started).Milliseconds()
	h.logger.WithFields(fields).Debug("served from cache")

	return c.Send(snap.Body)
}

func (h *Handler) fetchAndServe(c fiber.Ctx, locator cache.Locator, started time.Time) error {
	resp, body, err := h.fetchOrigin(c.Context(), locator, c.Request().Header.Peek("Authorization"))
	if err != nil {
		fields := logging.InterceptFields(h.generation, c.Method(), locator.URL, false)
		h.logger.WithError(err).WithFields(fields).Warn("network unavailable, no cached copy")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "network_unavailable",
		})
	}

	if isSuccess(resp.StatusCode) {
		h.writeBack(locator, resp, body)
	}

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Story-Sync-Cache-Hit", "false")
	c.Status(resp.StatusCode)

	fields := logging.InterceptFields(h.generation, c.Method(), locator.URL, false)
	fields["status"] = resp.StatusCode
	fields["duration_ms"] = time.Since(started).Milliseconds()
	h.logger.WithFields(fields).Debug("served from network")

	return c.Send(body)
}

// revalidateAsync 在后台刷新缓存条目。刷新使用独立的 context，
// 不随已经应答的请求一起取消；任何失败只记录日志，绝不影响调用方。
func (h *Handler) revalidateAsync(locator cache.Locator, authorization []byte) {
	h.revalidations.Add(1)
	go func() {
		defer h.revalidations.Done()

		timeout := h.client.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		resp, body, err := h.fetchOrigin(ctx, locator, authorization)
		if err != nil {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"action": "revalidate",
				"url":    locator.URL,
			}).Debug("background revalidation failed")
			return
		}
		if !isSuccess(resp.StatusCode) {
			return
		}
		h.writeBack(locator, resp, body)
	}()
}

func (h *Handler) fetchOrigin(ctx context.Context, locator cache.Locator, authorization []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, locator.Method, locator.URL, nil)
	if err != nil {
		return nil, nil, err
	}
	if len(authorization) > 0 {
		req.Header.Set("Authorization", string(authorization))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func (h *Handler) writeBack(locator cache.Locator, resp *http.Response, body []byte) {
	snap := cache.Snapshot{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.store.Put(ctx, h.generation, locator, snap); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_put",
			"url":    locator.URL,
		}).Warn("cache write-back failed")
	}
}

// passThrough 原样转发非拦截请求（POST/DELETE 等），不经过缓存。
func (h *Handler) passThrough(c fiber.Ctx) error {
	target := h.originURL(c.OriginalURL())
	req, err := http.NewRequestWithContext(c.Context(), c.Method(), target, strings.NewReader(string(c.Body())))
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}
	copyRequestHeaders(req, c)

	resp, err := h.client.Do(req)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "network_unavailable"})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}

	copyResponseHeaders(c, resp.Header)
	c.Status(resp.StatusCode)
	return c.Send(body)
}

// originURL 把请求目标改写为配置的回源地址。绝对形式的 URI 只保留
// path+query：上游主机永远由配置决定，不允许调用方指定任意回源目标，
// 缓存键也因此始终落在源站命名空间内。
func (h *Handler) originURL(target string) string {
	if parsed, err := url.Parse(target); err == nil && parsed.IsAbs() {
		return h.origin + parsed.RequestURI()
	}
	return h.origin + target
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}

// copyResponseHeaders 将上游/快照响应头写入 fiber 响应，跳过 hop-by-hop 字段。
func copyResponseHeaders(c fiber.Ctx, src http.Header) {
	for key, values := range src {
		if isHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}

func copyRequestHeaders(req *http.Request, c fiber.Ctx) {
	c.Request().Header.VisitAll(func(key, value []byte) {
		name := string(key)
		if isHopByHopHeader(name) || strings.EqualFold(name, "Host") {
			return
		}
		req.Header.Add(name, string(value))
	})
}
