package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"collabcanvas/api/internal/config"
	"collabcanvas/api/internal/export"
	"collabcanvas/api/internal/history"
	"collabcanvas/api/internal/lease"
	"collabcanvas/api/internal/mutation"
	"collabcanvas/api/internal/retry"
	"collabcanvas/api/internal/room"
	"collabcanvas/api/internal/search"
)

type testEnv struct {
	room    *room.Room
	leases  *lease.MemoryManager
	history *history.Service
	service *Service
	handler http.Handler
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error {
	return f.err
}

func newTestEnv(t *testing.T, configure ...func(*Deps)) *testEnv {
	t.Helper()
	r := room.New("rooms/test")
	leases := lease.NewMemoryManager(lease.DefaultTTL, nil)
	policy := retry.DefaultPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	mutations := mutation.NewService(r, lease.NewGuard(leases, policy, nil), nil)
	hist := history.New(t.TempDir())

	deps := Deps{
		Room:      r,
		Mutations: mutations,
		Search:    search.NewService(nil, search.NewScan(r), nil),
		Export:    export.NewService(r, hist, nil, nil),
		History:   hist,
	}
	for _, fn := range configure {
		fn(&deps)
	}
	cfg := config.Config{TokenSecret: "test-secret", TokenTTL: time.Hour, CORSOrigin: "*"}
	svc := New(cfg, deps)
	t.Cleanup(func() { svc.Hub().Close() })
	return &testEnv{
		room:    r,
		leases:  leases,
		history: hist,
		service: svc,
		handler: NewHTTPServer(svc, "*", nil).Handler(),
	}
}

func (e *testEnv) login(t *testing.T, name, role string) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/session/login", "", map[string]any{"name": name, "role": role})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	return body.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}
