package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/story-sync/story-sync/internal/cache"
	"github.com/story-sync/story-sync/internal/story"
)

type flakyUpstream struct {
	mu   sync.Mutex
	body string
	fail bool
	hits int

	server *httptest.Server
}

func newFlakyUpstream(t *testing.T, body string) *flakyUpstream {
	t.Helper()
	u := &flakyUpstream{body: body}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.hits++
		if u.fail {
			// 强制断开连接模拟网络不可达
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
				return
			}
			panic("hijack unsupported")
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(u.body))
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *flakyUpstream) setBody(body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.body = body
}

func (u *flakyUpstream) setFail(fail bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.fail = fail
}

func (u *flakyUpstream) hitCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits
}

type recordingNotifier struct {
	mu        sync.Mutex
	displayed []story.PushMessage
	focusCnt  int
	fail      error
}

func (n *recordingNotifier) Display(ctx context.Context, msg story.PushMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.displayed = append(n.displayed, msg)
	return nil
}

func (n *recordingNotifier) FocusApp(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.focusCnt++
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestGateway(t *testing.T, upstream *flakyUpstream) (*Handler, *fiber.App, func(method, path string) *http.Response) {
	t.Helper()

	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}

	// 禁用连接复用：否则 http.Transport 会在复用连接被对端重置时
	// 自动重试幂等 GET，使上游命中计数多出一次（见评审 F5）。
	client := &http.Client{
		Timeout:   2 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	handler := NewHandler(client, testLogger(), store, upstream.server.URL, "story-app-v1")

	app, err := NewApp(Options{Logger: testLogger(), Handler: handler, Notifier: &recordingNotifier{}})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}

	doRequest := func(method, path string) *http.Response {
		req := httptest.NewRequest(method, "http://localhost:5000"+path, nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test error: %v", err)
		}
		return resp
	}
	return handler, app, doRequest
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body error: %v", err)
	}
	return string(body)
}

func TestInterceptMissFetchesNetwork(t *testing.T) {
	upstream := newFlakyUpstream(t, "fresh")
	_, _, doRequest := newTestGateway(t, upstream)

	resp := doRequest(http.MethodGet, "/stories")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Story-Sync-Cache-Hit") != "false" {
		t.Fatalf("首次请求应回源")
	}
	if readBody(t, resp) != "fresh" {
		t.Fatalf("正文应来自上游")
	}
}

func TestCachePresentNetworkDownServesCached(t *testing.T) {
	upstream := newFlakyUpstream(t, "cached copy")
	handler, _, doRequest := newTestGateway(t, upstream)

	// 先正常请求一次，填充缓存。
	readBody(t, doRequest(http.MethodGet, "/stories"))
	handler.WaitIdle()

	upstream.setFail(true)
	resp := doRequest(http.MethodGet, "/stories")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("缓存命中时网络故障不应失败: %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Story-Sync-Cache-Hit") != "true" {
		t.Fatalf("应命中缓存")
	}
	if readBody(t, resp) != "cached copy" {
		t.Fatalf("应返回缓存副本")
	}
	handler.WaitIdle()
}

func TestNoCacheNetworkDownFails(t *testing.T) {
	upstream := newFlakyUpstream(t, "unreachable")
	upstream.setFail(true)
	_, _, doRequest := newTestGateway(t, upstream)

	resp := doRequest(http.MethodGet, "/stories")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("无缓存且网络失败应返回 503: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStaleWhileRevalidate(t *testing.T) {
	upstream := newFlakyUpstream(t, "v1")
	handler, _, doRequest := newTestGateway(t, upstream)

	readBody(t, doRequest(http.MethodGet, "/stories"))
	handler.WaitIdle()

	// 上游内容更新后：本次请求仍返回旧正文，后台刷新写入新正文。
	upstream.setBody("v2")
	resp := doRequest(http.MethodGet, "/stories")
	if body := readBody(t, resp); body != "v1" {
		t.Fatalf("命中请求应立即返回旧副本: %s", body)
	}
	handler.WaitIdle()

	resp2 := doRequest(http.MethodGet, "/stories")
	if body := readBody(t, resp2); body != "v2" {
		t.Fatalf("后台刷新完成后的下一次请求应看到新正文: %s", body)
	}
	handler.WaitIdle()
}

func TestRevalidationFailureInvisibleToCaller(t *testing.T) {
	upstream := newFlakyUpstream(t, "v1")
	handler, _, doRequest := newTestGateway(t, upstream)

	readBody(t, doRequest(http.MethodGet, "/stories"))
	handler.WaitIdle()

	upstream.setFail(true)
	resp := doRequest(http.MethodGet, "/stories")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("后台刷新失败不应影响已拿到缓存的调用方: %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "v1" {
		t.Fatalf("应继续返回缓存副本: %s", body)
	}
	handler.WaitIdle()
}

func TestNonGETPassesThrough(t *testing.T) {
	upstream := newFlakyUpstream(t, "created")
	handler, _, doRequest := newTestGateway(t, upstream)

	resp := doRequest(http.MethodPost, "/stories")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST 应透传: %d", resp.StatusCode)
	}
	readBody(t, resp)
	hitsAfterPost := upstream.hitCount()

	// 透传不写缓存：断网后同路径 GET 不应命中。
	upstream.setFail(true)
	getResp := doRequest(http.MethodGet, "/stories")
	if getResp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("POST 不应产生缓存条目: %d", getResp.StatusCode)
	}
	getResp.Body.Close()
	if upstream.hitCount() != hitsAfterPost+1 {
		t.Fatalf("GET 应尝试回源一次")
	}
	handler.WaitIdle()
}

func TestInterceptsPolicy(t *testing.T) {
	cases := []struct {
		method string
		target string
		want   bool
	}{
		{http.MethodGet, "/stories", true},
		{http.MethodGet, "https://story-api.dicoding.dev/v1/stories", true},
		{http.MethodPost, "/stories", false},
		{http.MethodGet, "chrome-extension://abcdef/script.js", false},
		{http.MethodGet, "ftp://example.com/file", false},
	}
	for _, tc := range cases {
		if got := Intercepts(tc.method, tc.target); got != tc.want {
			t.Errorf("Intercepts(%s, %s) = %v, want %v", tc.method, tc.target, got, tc.want)
		}
	}
}

func TestAbsoluteFormTargetRewrittenToOrigin(t *testing.T) {
	upstream := newFlakyUpstream(t, "origin data")
	handler, app, doRequest := newTestGateway(t, upstream)

	// 绝对形式的请求目标指向别的主机，回源仍必须落在配置的源站上。
	req := httptest.NewRequest(http.MethodGet, "http://attacker.example/stories?page=1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if readBody(t, resp) != "origin data" {
		t.Fatalf("正文应来自配置的源站")
	}
	if upstream.hitCount() != 1 {
		t.Fatalf("应回源一次, got %d", upstream.hitCount())
	}
	handler.WaitIdle()

	// 缓存键应落在源站命名空间：断网后同路径的相对形式请求应命中。
	upstream.setFail(true)
	resp2 := doRequest(http.MethodGet, "/stories?page=1")
	if resp2.Header.Get("X-Story-Sync-Cache-Hit") != "true" {
		t.Fatalf("相对形式请求应命中同一条目")
	}
	if readBody(t, resp2) != "origin data" {
		t.Fatalf("应返回缓存副本")
	}
	handler.WaitIdle()
}

func TestRevalidationForwardsAuthorization(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	body := "v1"
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "Bearer t1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(origin.Close)

	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	handler := NewHandler(&http.Client{Timeout: 2 * time.Second}, testLogger(), store, origin.URL, "story-app-v1")
	app, err := NewApp(Options{Logger: testLogger(), Handler: handler, Notifier: &recordingNotifier{}})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}

	authGet := func() *http.Response {
		req := httptest.NewRequest(http.MethodGet, "http://localhost:5000/stories", nil)
		req.Header.Set("Authorization", "Bearer t1")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test error: %v", err)
		}
		return resp
	}

	// 带凭据填充缓存。
	if got := readBody(t, authGet()); got != "v1" {
		t.Fatalf("首次请求应取回 v1: %s", got)
	}
	handler.WaitIdle()

	mu.Lock()
	body = "v2"
	mu.Unlock()

	// 命中请求返回旧副本，同时触发带同样凭据的后台刷新。
	if got := readBody(t, authGet()); got != "v1" {
		t.Fatalf("命中请求应返回旧副本: %s", got)
	}
	handler.WaitIdle()

	mu.Lock()
	for _, header := range seen {
		if header != "Bearer t1" {
			mu.Unlock()
			t.Fatalf("后台刷新应携带原请求的凭据, got %q", header)
		}
	}
	mu.Unlock()

	if got := readBody(t, authGet()); got != "v2" {
		t.Fatalf("后台刷新应以同样身份拿到新正文: %s", got)
	}
	handler.WaitIdle()
}

func TestRevalidationWithZeroTimeoutClient(t *testing.T) {
	upstream := newFlakyUpstream(t, "v1")

	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	// 客户端未设置超时，后台刷新仍应在有效期内完成。
	handler := NewHandler(&http.Client{}, testLogger(), store, upstream.server.URL, "story-app-v1")
	app, err := NewApp(Options{Logger: testLogger(), Handler: handler, Notifier: &recordingNotifier{}})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}

	get := func() *http.Response {
		req := httptest.NewRequest(http.MethodGet, "http://localhost:5000/stories", nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test error: %v", err)
		}
		return resp
	}

	readBody(t, get())
	handler.WaitIdle()

	upstream.setBody("v2")
	if got := readBody(t, get()); got != "v1" {
		t.Fatalf("命中请求应返回旧副本: %s", got)
	}
	handler.WaitIdle()

	if got := readBody(t, get()); got != "v2" {
		t.Fatalf("零超时客户端的后台刷新也应更新缓存: %s", got)
	}
	handler.WaitIdle()
}
