package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"friendwatch/internal/presence"
	logx "friendwatch/pkg/logx"
)

func newEngine(t *testing.T) *presence.Engine {
	t.Helper()
	e := presence.NewEngine(presence.Options{})
	_, err := e.Init(context.Background(), presence.Seed{Tracked: []presence.ContactID{"1"}})
	require.NoError(t, err)
	return e
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestTrackedRoutes(t *testing.T) {
	e := newEngine(t)
	h := NewRouter(e, nil, logx.Nop())

	rec := do(h, http.MethodGet, "/tracked/")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []presence.TrackedContact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, presence.StatusOffline, list[0].LastStatus)

	assert.Equal(t, http.StatusCreated, do(h, http.MethodPut, "/tracked/2").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPut, "/tracked/2").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/tracked/2").Code)
	assert.Equal(t, http.StatusNoContent, do(h, http.MethodDelete, "/tracked/2").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodDelete, "/tracked/2").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/tracked/2").Code)
}

func TestHealthz(t *testing.T) {
	e := newEngine(t)
	healthy := true
	h := NewRouter(e, func() (map[string]any, error) {
		if !healthy {
			return map[string]any{"tracked": 1}, errors.New("store down")
		}
		return map[string]any{"tracked": 1}, nil
	}, logx.Nop())

	rec := do(h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","tracked":1}`, rec.Body.String())

	healthy = false
	rec = do(h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "store down")
}

func TestProfilerMounted(t *testing.T) {
	h := NewRouter(newEngine(t), nil, logx.Nop())
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/debug/pprof/").Code)
}

func TestApplyLifecycle(t *testing.T) {
	s := New(newEngine(t), nil, logx.Nop())
	ctx := context.Background()
	s.Apply(ctx, Config{Enabled: true, Address: "127.0.0.1:0"})
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.Apply(ctx, Config{Enabled: false})
	assert.Empty(t, s.Addr())
}
