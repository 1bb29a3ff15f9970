package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestInstallPrecachesShell(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/index.html":
			w.Write([]byte("<html>shell</html>"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer upstream.Close()

	store := newTestStore(t)
	lc := NewLifecycle(LifecycleOptions{
		Store:      store,
		Client:     upstream.Client(),
		Logger:     testLogger(),
		OriginBase: upstream.URL,
		Generation: "story-app-v1",
		NamePrefix: "story-app-",
	})

	if err := lc.Install(context.Background(), []string{"/", "/index.html"}); err != nil {
		t.Fatalf("install error: %v", err)
	}

	snap, err := store.Match(context.Background(), "story-app-v1", Locator{Method: http.MethodGet, URL: upstream.URL + "/index.html"})
	if err != nil {
		t.Fatalf("应用壳应已被预缓存: %v", err)
	}
	if string(snap.Body) != "<html>shell</html>" {
		t.Fatalf("预缓存正文错误: %s", snap.Body)
	}
}

func TestInstallToleratesFailedResource(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	store := newTestStore(t)
	lc := NewLifecycle(LifecycleOptions{
		Store:      store,
		Client:     upstream.Client(),
		Logger:     testLogger(),
		OriginBase: upstream.URL,
		Generation: "story-app-v1",
		NamePrefix: "story-app-",
	})

	// 非关键资源失败不应让安装整体失败。
	if err := lc.Install(context.Background(), []string{"/", "/broken.css"}); err != nil {
		t.Fatalf("install 不应失败: %v", err)
	}

	if _, err := store.Match(context.Background(), "story-app-v1", Locator{Method: http.MethodGet, URL: upstream.URL + "/"}); err != nil {
		t.Fatalf("成功的资源仍应入缓存: %v", err)
	}
	if _, err := store.Match(context.Background(), "story-app-v1", Locator{Method: http.MethodGet, URL: upstream.URL + "/broken.css"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("失败的资源不应入缓存: %v", err)
	}
}

func TestActivateDeletesOwnedGenerationsOnly(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Method: http.MethodGet, URL: "https://example.com/feed"}

	for _, generation := range []string{"story-app-v1", "story-app-v2", "unrelated-cache"} {
		if err := store.Put(context.Background(), generation, locator, Snapshot{Status: 200, Body: []byte(generation)}); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}

	lc := NewLifecycle(LifecycleOptions{
		Store:      store,
		Logger:     testLogger(),
		Generation: "story-app-v2",
		NamePrefix: "story-app-",
	})
	if err := lc.Activate(context.Background()); err != nil {
		t.Fatalf("activate error: %v", err)
	}

	if _, err := store.Match(context.Background(), "story-app-v1", locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("旧代应被删除: %v", err)
	}
	if _, err := store.Match(context.Background(), "story-app-v2", locator); err != nil {
		t.Fatalf("当前代应保留: %v", err)
	}
	if _, err := store.Match(context.Background(), "unrelated-cache", locator); err != nil {
		t.Fatalf("前缀之外的目录不应被删除: %v", err)
	}
}
