package client

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method string
	path   string
	query  string
}

type fakeController struct {
	mu    sync.Mutex
	calls []call
	mux   *http.ServeMux
}

func newFake(t *testing.T) (*fakeController, *httptest.Server) {
	t.Helper()
	f := &fakeController{mux: http.NewServeMux()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, call{r.Method, r.URL.Path, r.URL.RawQuery})
		f.mu.Unlock()
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeController) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestTurnOnOff(t *testing.T) {
	f, srv := newFake(t)
	f.mux.HandleFunc("/api/meadow/module/2/on", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
	})
	f.mux.HandleFunc("/api/meadow/module/2/off", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	c := New(srv.URL+"/", WithLogger(quietLogger()))

	assert.True(t, c.TurnOn(context.Background(), 2))
	assert.False(t, c.TurnOff(context.Background(), 2), "non-2xx is a failure")
}

func TestTurnOnRangeCheckedLocally(t *testing.T) {
	f, srv := newFake(t)
	c := New(srv.URL, WithLogger(quietLogger()))

	assert.False(t, c.TurnOn(context.Background(), 0))
	assert.False(t, c.TurnOff(context.Background(), 4))
	assert.Zero(t, f.count())

	c = New(srv.URL, WithLogger(quietLogger()), WithModuleCount(5))
	f.mux.HandleFunc("/api/meadow/module/5/on", func(http.ResponseWriter, *http.Request) {})
	assert.True(t, c.TurnOn(context.Background(), 5))
}

func TestTemperature(t *testing.T) {
	f, srv := newFake(t)
	f.mux.HandleFunc("/api/meadow/temperature", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Temperature":23.5,"Event":"inicio prueba","Timestamp":"2024-05-01T10:00:00Z"}`))
	})
	c := New(srv.URL, WithLogger(quietLogger()))

	v, ok := c.Temperature(context.Background(), "inicio prueba")
	require.True(t, ok)
	assert.InDelta(t, 23.5, v, 1e-9)
	assert.Equal(t, "eventName=inicio+prueba", f.calls[0].query)

	_, ok = c.Temperature(context.Background(), "")
	require.True(t, ok)
	assert.Empty(t, f.calls[1].query)
}

func TestTemperatureBadBody(t *testing.T) {
	f, srv := newFake(t)
	f.mux.HandleFunc("/api/meadow/temperature", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	c := New(srv.URL, WithLogger(quietLogger()))
	_, ok := c.Temperature(context.Background(), "")
	assert.False(t, ok)
}

func TestWait(t *testing.T) {
	f, srv := newFake(t)
	f.mux.HandleFunc("/api/meadow/wait", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "1500", r.URL.Query().Get("milliseconds"))
	})
	c := New(srv.URL, WithLogger(quietLogger()))

	assert.False(t, c.Wait(context.Background(), 0))
	assert.False(t, c.Wait(context.Background(), -10))
	assert.Zero(t, f.count(), "non-positive waits never reach the server")

	assert.True(t, c.Wait(context.Background(), 1500))
}

func TestStatus(t *testing.T) {
	f, srv := newFake(t)
	f.mux.HandleFunc("/api/meadow/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ModuleStatus":[true,false,true]}`))
	})
	c := New(srv.URL, WithLogger(quietLogger()))

	st, ok := c.Status(context.Background())
	require.True(t, ok)
	assert.Equal(t, map[int]bool{1: true, 2: false, 3: true}, st)
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, WithLogger(quietLogger()))
	ctx := context.Background()
	assert.False(t, c.TurnOn(ctx, 1))
	assert.False(t, c.Wait(ctx, 10))
	_, ok := c.Temperature(ctx, "")
	assert.False(t, ok)
	st, ok := c.Status(ctx)
	assert.False(t, ok)
	assert.Nil(t, st)
}

func TestBasicAuth(t *testing.T) {
	f, srv := newFake(t)
	f.mux.HandleFunc("/api/meadow/status", func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != "lab" || p != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ModuleStatus":[]}`))
	})

	_, ok := New(srv.URL, WithLogger(quietLogger())).Status(context.Background())
	assert.False(t, ok)

	st, ok := New(srv.URL, WithLogger(quietLogger()), WithBasicAuth("lab", "secret")).Status(context.Background())
	assert.True(t, ok)
	assert.Empty(t, st)
}
