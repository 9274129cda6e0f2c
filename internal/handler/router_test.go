package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/relay/internal/auth"
	"github.com/johndosdos/relay/internal/model"
	ratelimiter "github.com/johndosdos/relay/internal/rate_limiter"
	"github.com/johndosdos/relay/internal/store"
	"github.com/johndosdos/relay/internal/testutil"
	ws "github.com/johndosdos/relay/internal/websocket"
)

type testServer struct {
	*httptest.Server
	tokens *auth.Issuer
	hub    *ws.Hub
}

func newTestServer(t *testing.T, opts ...func(*Deps)) *testServer {
	t.Helper()

	repo := testutil.SQLiteStore(t)

	creds, err := auth.NewCredentials(repo)
	require.NoError(t, err)
	tokens, err := auth.NewIssuer("test-secret", "relay", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := ws.NewHub(repo)
	go hub.Run(ctx)

	deps := Deps{
		Repo:           repo,
		Credentials:    creds,
		Tokens:         tokens,
		Hub:            hub,
		AllowedOrigins: []string{"*"},
		MaxFrameBytes:  1 << 15,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv := httptest.NewServer(NewRouter(deps))
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, tokens: tokens, hub: hub}
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()

	p, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(p))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (ts *testServer) history(t *testing.T, path string) (int, []byte) {
	t.Helper()

	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.Bytes()
}

func (ts *testServer) dial(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) model.OutboundFrame {
	t.Helper()

	msgType, p, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, msgType)

	var f model.OutboundFrame
	require.NoError(t, json.Unmarshal(p, &f))
	return f
}

func TestEndToEnd(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	code, body := ts.postJSON(t, "/register", map[string]string{"username": "alice", "password": "pw1"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "User registered successfully", body["message"])
	assert.Equal(t, float64(1), body["userId"])

	code, body = ts.postJSON(t, "/login", map[string]string{"username": "alice", "password": "pw1"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["userId"])
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	conn := ts.dial(t, ctx, token)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"userId":1,"content":"hi"}`)))
	assert.Equal(t, model.OutboundFrame{Content: "hi", UserID: 1, IsFromServer: true}, readFrame(t, ctx, conn))

	code, raw := ts.history(t, "/messages/1")
	require.Equal(t, http.StatusOK, code)

	var msgs []model.Message
	require.NoError(t, json.Unmarshal(raw, &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.False(t, msgs[0].IsFromServer)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.True(t, msgs[1].IsFromServer)
	assert.Equal(t, int64(1), msgs[0].UserID)
	assert.Less(t, msgs[0].ID, msgs[1].ID)

	var fields []map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"id", "content", "userId", "isFromServer", "createdAt"} {
		assert.Contains(t, fields[0], key)
	}
}

func TestWebsocketIdentity(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	code, _ := ts.postJSON(t, "/register", map[string]string{"username": "alice", "password": "pw1"})
	require.Equal(t, http.StatusOK, code)

	valid, err := ts.tokens.Issue(1)
	require.NoError(t, err)
	unknown, err := ts.tokens.Issue(999)
	require.NoError(t, err)
	forger, err := auth.NewIssuer("other-secret", "relay", 0)
	require.NoError(t, err)
	forged, err := forger.Issue(1)
	require.NoError(t, err)

	t.Run("rejected_upgrades", func(t *testing.T) {
		for name, target := range map[string]string{
			"no_token":     "/ws",
			"forged_token": "/ws?token=" + forged,
			"tampered":     "/ws?token=" + valid + "A",
			"unknown_user": "/ws?token=" + unknown,
		} {
			t.Run(name, func(t *testing.T) {
				_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+target, nil)
				require.Error(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			})
		}
		assert.Equal(t, 0, ts.hub.Len())
	})

	t.Run("bearer_header", func(t *testing.T) {
		conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", &websocket.DialOptions{
			HTTPHeader: http.Header{"Authorization": []string{"Bearer " + valid}},
		})
		require.NoError(t, err)
		defer conn.CloseNow()

		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"content":"header"}`)))
		assert.Equal(t, model.OutboundFrame{Content: "header", UserID: 1, IsFromServer: true}, readFrame(t, ctx, conn))
		require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	})

	t.Run("mismatched_frame_dropped", func(t *testing.T) {
		conn := ts.dial(t, ctx, valid)

		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"userId":2,"content":"spoof"}`)))
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"content":`)))
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"userId":1,"content":"real"}`)))

		// The first reply belongs to the last frame, so the session survived
		// both rejected ones.
		assert.Equal(t, model.OutboundFrame{Content: "real", UserID: 1, IsFromServer: true}, readFrame(t, ctx, conn))

		code, raw := ts.history(t, "/messages/2")
		assert.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `[]`, string(raw))

		code, raw = ts.history(t, "/messages/1")
		require.Equal(t, http.StatusOK, code)
		assert.NotContains(t, string(raw), "spoof")
	})
}

func TestAccountRoutes(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.postJSON(t, "/register", map[string]string{"username": "bob", "password": "secret"})
	require.Equal(t, http.StatusOK, code)

	tests := []struct {
		name     string
		path     string
		body     any
		wantCode int
		wantBody map[string]any
	}{
		{"duplicate_username", "/register", map[string]string{"username": "bob", "password": "other"}, http.StatusBadRequest, map[string]any{"error": "Registration failed"}},
		{"blank_username", "/register", map[string]string{"username": " ", "password": "x"}, http.StatusBadRequest, map[string]any{"error": "Registration failed"}},
		{"missing_password", "/register", map[string]string{"username": "carol"}, http.StatusBadRequest, map[string]any{"error": "Registration failed"}},
		{"wrong_password", "/login", map[string]string{"username": "bob", "password": "nope"}, http.StatusBadRequest, map[string]any{"error": "Invalid credentials"}},
		{"unknown_user", "/login", map[string]string{"username": "nobody", "password": "secret"}, http.StatusBadRequest, map[string]any{"error": "Invalid credentials"}},
		{"login_not_an_object", "/login", []string{"bob"}, http.StatusBadRequest, map[string]any{"error": "Invalid credentials"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := ts.postJSON(t, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestMessagesRoute(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/messages/abc", http.StatusBadRequest, `{"error":"Invalid user id"}`},
		{"/messages/0", http.StatusBadRequest, `{"error":"Invalid user id"}`},
		{"/messages/-3", http.StatusBadRequest, `{"error":"Invalid user id"}`},
		{"/messages/1.5", http.StatusBadRequest, `{"error":"Invalid user id"}`},
		{"/messages/999", http.StatusOK, `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, raw := ts.history(t, tt.path)
			assert.Equal(t, tt.wantCode, code)
			assert.JSONEq(t, tt.wantBody, string(raw))
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	code, raw := ts.history(t, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func withAuthLimit(t *testing.T, requests int) func(*Deps) {
	limiter := ratelimiter.NewIPRateLimiter(requests, time.Hour, ratelimiter.CleanupOpts{TTL: time.Hour, Interval: time.Hour})
	t.Cleanup(limiter.Cancel)
	return func(d *Deps) { d.AuthLimiter = limiter }
}

func (ts *testServer) login(t *testing.T, forwardedFor string) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/login", strings.NewReader(`{"username":"eve","password":"pw"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestAuthRateLimit(t *testing.T) {
	ts := newTestServer(t, withAuthLimit(t, 2))

	creds := map[string]string{"username": "eve", "password": "pw"}
	for range 2 {
		code, _ := ts.postJSON(t, "/login", creds)
		assert.Equal(t, http.StatusBadRequest, code)
	}

	code, body := ts.postJSON(t, "/login", creds)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, map[string]any{"error": "Too many requests. Try again later."}, body)

	// Forwarding headers are not trusted by default.
	for _, xff := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		assert.Equal(t, http.StatusTooManyRequests, ts.login(t, xff), "X-Forwarded-For %s", xff)
	}

	// History is not throttled.
	code, _ = ts.history(t, "/messages/1")
	assert.Equal(t, http.StatusOK, code)
}

func TestAuthRateLimitBehindProxy(t *testing.T) {
	ts := newTestServer(t, withAuthLimit(t, 1), func(d *Deps) { d.TrustProxy = true })

	assert.Equal(t, http.StatusBadRequest, ts.login(t, "203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, ts.login(t, "203.0.113.1"))

	// Each forwarded client has its own bucket.
	assert.Equal(t, http.StatusBadRequest, ts.login(t, "203.0.113.2"))
}

type failingRepo struct{ err error }

func (f failingRepo) ListMessages(context.Context, int64) ([]model.Message, error) {
	return nil, f.err
}

func (f failingRepo) Ping(context.Context) error { return f.err }

func TestStorageFailures(t *testing.T) {
	repo := failingRepo{err: store.ErrStorageUnavailable}

	r := chi.NewRouter()
	r.Get("/messages/{userId}", ServeMessages(repo))
	r.Get("/readyz", ServeReady(repo))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch messages"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingCreds struct{}

func (failingCreds) Register(context.Context, string, string) (int64, error) {
	return 0, store.ErrStorageUnavailable
}

func (failingCreds) Verify(context.Context, string, string) (int64, error) {
	return 0, errors.Join(store.ErrStorageUnavailable, errors.New("connection refused"))
}

func TestAccountStorageFailures(t *testing.T) {
	body := `{"username":"a","password":"b"}`

	rec := httptest.NewRecorder()
	SubmitRegister(failingCreds{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Registration failed"}`, rec.Body.String())

	tokens, err := auth.NewIssuer("s", "relay", 0)
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	SubmitLogin(failingCreds{}, tokens).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Login failed"}`, rec.Body.String())
}

func TestAcceptOptions(t *testing.T) {
	assert.True(t, acceptOptions([]string{"*"}).InsecureSkipVerify)
	assert.True(t, acceptOptions(nil).InsecureSkipVerify)

	opts := acceptOptions([]string{"https://chat.example.com", "localhost:5173"})
	assert.False(t, opts.InsecureSkipVerify)
	assert.Equal(t, []string{"chat.example.com", "localhost:5173"}, opts.OriginPatterns)
}
