package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/helpdeck/internal/cache"
	"github.com/conneroisu/helpdeck/internal/config"
	"github.com/conneroisu/helpdeck/internal/content"
	"github.com/conneroisu/helpdeck/internal/help"
	"github.com/conneroisu/helpdeck/internal/renderer"
	"github.com/conneroisu/helpdeck/internal/trigger"
)

const testOrigin = "http://helpdeck.test"

type testSource struct {
	mu   sync.Mutex
	doc  content.Document
	fail error
}

func (s *testSource) Load(context.Context) (*content.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	return content.Build(s.doc, "test")
}

func (s *testSource) set(doc content.Document, fail error) {
	s.mu.Lock()
	s.doc, s.fail = doc, fail
	s.mu.Unlock()
}

func testDoc(title string) content.Document {
	return content.Document{
		Title: title,
		Categories: []content.CategoryDoc{
			{
				Name: "🤖 基础功能",
				Plugins: []content.PluginDoc{
					{Name: "Kovi 核心", Desc: "机器人基础控制", Commands: []string{"登录", "重启", "状态"}},
				},
			},
			{
				Name: "🎮 娱乐插件",
				Plugins: []content.PluginDoc{
					{Name: "今日运势", Desc: "看看今天的人品", Commands: []string{"jrrp", "运势"}},
				},
			},
		},
	}
}

type fixture struct {
	server  *Server
	http    *httptest.Server
	source  *testSource
	renders *int64
	fail    *atomic.Value
}

func newFixture(t *testing.T, rateLimit int) *fixture {
	t.Helper()

	var renders int64
	fail := &atomic.Value{}
	fail.Store("")

	src := &testSource{doc: testDoc("帮助菜单")}
	svc, err := help.New(context.Background(), help.Options{
		Source: src,
		Renderer: renderer.Func{
			Name: "test",
			Type: "image/png",
			Fn: func(_ context.Context, markup string, _ content.Theme) ([]byte, error) {
				atomic.AddInt64(&renders, 1)
				if msg := fail.Load().(string); msg != "" {
					return nil, fmt.Errorf("%s", msg)
				}
				return []byte("PNG:" + markup[:16]), nil
			},
		},
		Cache: cache.New(cache.Options{RenderTimeout: 2 * time.Second}),
	})
	require.NoError(t, err)

	s := New(config.ServerConfig{
		Host:           "127.0.0.1",
		AllowedOrigins: []string{testOrigin},
		RateLimit:      rateLimit,
	}, svc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.hub.Run(ctx)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		_ = s.Shutdown(context.Background())
	})

	return &fixture{server: s, http: ts, source: src, renders: &renders, fail: fail}
}

func (f *fixture) get(t *testing.T, path string, header ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.http.URL+path, nil)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := f.http.Client().Post(f.http.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "version")
	checks := body["checks"].(map[string]interface{})
	assert.EqualValues(t, 1, checks["content"].(map[string]interface{})["generation"])
}

func TestMenu(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.get(t, "/menu")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(readAll(t, resp), "PNG:"))
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	again := f.get(t, "/menu", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, again.StatusCode)
	assert.Equal(t, int64(1), atomic.LoadInt64(f.renders), "second request is a cache hit")

	wrongMethod := f.post(t, "/menu", "")
	assert.Equal(t, http.StatusMethodNotAllowed, wrongMethod.StatusCode)
}

func TestSearch(t *testing.T) {
	f := newFixture(t, 0)

	t.Run("artifact", func(t *testing.T) {
		resp := f.get(t, "/search?q="+url.QueryEscape("运势"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	})

	t.Run("json", func(t *testing.T) {
		resp := f.get(t, "/search?format=json&q="+url.QueryEscape("运势"))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body SearchResponse
		decode(t, resp, &body)
		require.NotEmpty(t, body.Results)
		assert.Equal(t, "今日运势", body.Results[0].Plugin.Name)
		assert.Equal(t, 90, body.Results[0].Score)
		require.NotNil(t, body.Artifact)
		assert.Equal(t, "/artifacts/"+body.Artifact.Key, body.Artifact.URL)
		assert.False(t, body.NotFound)
	})

	t.Run("not found", func(t *testing.T) {
		resp := f.get(t, "/search?q=xyz")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Contains(t, readAll(t, resp), "xyz")
	})

	t.Run("not found json", func(t *testing.T) {
		resp := f.get(t, "/search?format=json&q=xyz")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body SearchResponse
		decode(t, resp, &body)
		assert.True(t, body.NotFound)
		assert.Nil(t, body.Artifact)
	})
}

func TestCategories(t *testing.T) {
	f := newFixture(t, 0)

	text := readAll(t, f.get(t, "/categories"))
	assert.Contains(t, text, "1. 🤖 基础功能")
	assert.Contains(t, text, "2. 🎮 娱乐插件")

	var body map[string][]string
	decode(t, f.get(t, "/categories?format=json"), &body)
	assert.Equal(t, []string{"🤖 基础功能", "🎮 娱乐插件"}, body["categories"])
}

func TestReload(t *testing.T) {
	f := newFixture(t, 0)

	first := f.get(t, "/menu")
	require.Equal(t, http.StatusOK, first.StatusCode)

	f.source.set(testDoc("新菜单"), nil)
	resp := f.post(t, "/reload", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decode(t, resp, &body)
	assert.EqualValues(t, 2, body["generation"])
	assert.Equal(t, true, body["changed"])

	second := f.get(t, "/menu")
	assert.NotEqual(t, first.Header.Get("ETag"), second.Header.Get("ETag"))

	f.source.set(testDoc("x"), fmt.Errorf("disk gone"))
	failed := f.post(t, "/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, failed.StatusCode)
	var errBody ErrorResponse
	decode(t, failed, &errBody)
	assert.Contains(t, errBody.Error, "disk gone")
	assert.NotEmpty(t, errBody.RequestID)

	// The previous content is still served.
	assert.Equal(t, second.Header.Get("ETag"), f.get(t, "/menu").Header.Get("ETag"))
}

func TestMessage(t *testing.T) {
	f := newFixture(t, 0)

	t.Run("menu trigger", func(t *testing.T) {
		var body MessageResponse
		resp := f.post(t, "/message", `{"text":"  HELP "}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		decode(t, resp, &body)
		assert.Equal(t, trigger.ActionMenu, body.Action)
		require.NotNil(t, body.Artifact)

		art := f.get(t, body.Artifact.URL)
		require.Equal(t, http.StatusOK, art.StatusCode)
		assert.Equal(t, "image/png", art.Header.Get("Content-Type"))
	})

	t.Run("search", func(t *testing.T) {
		var body MessageResponse
		decode(t, f.post(t, "/message", `{"text":"帮助 核心"}`), &body)
		assert.Equal(t, trigger.ActionSearch, body.Action)
		assert.Equal(t, "核心", body.Keyword)
		assert.NotNil(t, body.Artifact)
	})

	t.Run("search without match", func(t *testing.T) {
		var body MessageResponse
		decode(t, f.post(t, "/message", `{"text":"搜索 xyz"}`), &body)
		assert.Equal(t, trigger.ActionSearch, body.Action)
		assert.Nil(t, body.Artifact)
		assert.Contains(t, body.Text, "xyz")
	})

	t.Run("reload", func(t *testing.T) {
		var body MessageResponse
		decode(t, f.post(t, "/message", `{"text":"重载帮助"}`), &body)
		assert.Equal(t, trigger.ActionReload, body.Action)
		assert.Equal(t, help.ReloadOKText, body.Text)
	})

	t.Run("unmatched", func(t *testing.T) {
		resp := f.post(t, "/message", `{"text":"good morning"}`)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("bad body", func(t *testing.T) {
		resp := f.post(t, "/message", `{"text":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("oversized body", func(t *testing.T) {
		big := `{"text":"` + strings.Repeat("a", maxMessageBody) + `"}`
		resp := f.post(t, "/message", big)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestArtifact(t *testing.T) {
	f := newFixture(t, 0)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/artifacts/not-a-key").StatusCode)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/artifacts/"+strings.Repeat("ab", 32)).StatusCode)
}

func TestRenderFailure(t *testing.T) {
	f := newFixture(t, 0)
	f.fail.Store("rasterizer crashed")

	resp := f.get(t, "/menu")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	var body ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "ERR_RENDER_FAILED", body.Code)

	f.fail.Store("")
	assert.Equal(t, http.StatusOK, f.get(t, "/menu").StatusCode, "failures are not cached")
}

func TestStats(t *testing.T) {
	f := newFixture(t, 100)
	f.get(t, "/menu")
	f.get(t, "/menu")

	var body struct {
		Service   help.Stats             `json:"service"`
		RateLimit map[string]interface{} `json:"rate_limit"`
	}
	decode(t, f.get(t, "/stats"), &body)
	assert.Equal(t, uint64(1), body.Service.Generation)
	assert.Equal(t, "func:test", body.Service.Target)
	assert.Equal(t, int64(1), body.Service.Cache.Hits)
	assert.EqualValues(t, 100, body.RateLimit["requests_per_min"])
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, 0)

	id := "7d444840-9dc0-11d1-b245-5ffdce74fad2"
	assert.Equal(t, id, f.get(t, "/health", RequestIDHeader, id).Header.Get(RequestIDHeader))

	generated := f.get(t, "/health", RequestIDHeader, "<script>").Header.Get(RequestIDHeader)
	assert.NotEqual(t, "<script>", generated)
	assert.Len(t, generated, 36)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, 0)

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, f.http.URL+"/message", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		resp, err := f.http.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	ok := preflight(testOrigin)
	assert.Equal(t, http.StatusNoContent, ok.StatusCode)
	assert.Equal(t, testOrigin, ok.Header.Get("Access-Control-Allow-Origin"))

	denied := preflight("http://evil.example")
	assert.Equal(t, http.StatusForbidden, denied.StatusCode)
	assert.Empty(t, denied.Header.Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, 1)

	assert.Equal(t, http.StatusOK, f.get(t, "/categories").StatusCode)
	limited := f.get(t, "/categories")
	assert.Equal(t, http.StatusTooManyRequests, limited.StatusCode)
	assert.NotEmpty(t, limited.Header.Get("Retry-After"))

	assert.Equal(t, http.StatusOK, f.get(t, "/health").StatusCode, "health is exempt")
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(60, 2, nil)
	defer rl.Stop()

	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Check("a").Allowed)
	assert.True(t, rl.Check("a").Allowed)
	denied := rl.Check("a")
	assert.False(t, denied.Allowed)
	assert.Equal(t, time.Second, denied.RetryAfter)
	assert.True(t, rl.Check("b").Allowed, "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, rl.Check("a").Allowed)

	now = now.Add(bucketExpiry + time.Minute)
	rl.cleanup()
	assert.EqualValues(t, 0, rl.Stats()["active_buckets"])
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", getClientIP(r))

	r.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", getClientIP(r))

	r.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.3", getClientIP(r))
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestWebSocket_ReloadNotification(t *testing.T) {
	f := newFixture(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(f.http), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{testOrigin}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return f.server.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.source.set(testDoc("新菜单"), nil)
	require.Equal(t, http.StatusOK, f.post(t, "/reload", "").StatusCode)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, string(help.EventReloaded), msg.Type)
	assert.Equal(t, uint64(2), msg.Generation)
	assert.True(t, msg.Changed)
}

func TestWebSocket_RejectsOrigin(t *testing.T) {
	f := newFixture(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(f.http), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://evil.example"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = websocket.Dial(ctx, wsURL(f.http), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHub_CloseDisconnects(t *testing.T) {
	f := newFixture(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(f.http), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{testOrigin}},
	})
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return f.server.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.server.hub.Close()

	_, _, err = conn.Read(ctx)
	assert.Error(t, err)
	require.Eventually(t, func() bool { return f.server.hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("plain")))
}
