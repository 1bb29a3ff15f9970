package gateway

import (
	"net/http"
	"testing"
	"time"
)

func TestNewUpstreamClientTimeout(t *testing.T) {
	client := NewUpstreamClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", client.Timeout)
	}

	fallback := NewUpstreamClient(0)
	if fallback.Timeout != 30*time.Second {
		t.Errorf("非法超时应回退默认值: %v", fallback.Timeout)
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Set("Content-Type", "application/json")
	src.Set("Connection", "keep-alive")
	src.Set("Transfer-Encoding", "chunked")
	src.Add("X-Custom", "a")
	src.Add("X-Custom", "b")

	dst := http.Header{}
	CopyHeaders(dst, src)

	if dst.Get("Content-Type") != "application/json" {
		t.Errorf("普通头应透传")
	}
	if dst.Get("Connection") != "" || dst.Get("Transfer-Encoding") != "" {
		t.Errorf("hop-by-hop 头不应透传")
	}
	if got := dst.Values("X-Custom"); len(got) != 2 {
		t.Errorf("多值头应全部透传: %v", got)
	}
}
