package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"labrig/internal/hal"
)

type testRig struct {
	srv   *Server
	http  *httptest.Server
	pins  []*gpiotest.Pin
	adc   *hal.SimADC
	mu    sync.Mutex
	slept []time.Duration
}

func newRig(t *testing.T, mutate func(*Config)) *testRig {
	t.Helper()
	dir := t.TempDir()
	cm := NewConfigManager(filepath.Join(dir, "config.json"))
	require.NoError(t, cm.Load())
	require.NoError(t, cm.Update(func(c *Config) error {
		c.LogFile = filepath.Join(dir, "events.log")
		if mutate != nil {
			mutate(c)
		}
		return nil
	}))
	cfg := cm.Get()
	hw, err := cfg.hardware()
	require.NoError(t, err)

	rig := &testRig{}
	out := make([]gpio.PinOut, len(hw.Pins))
	for i, n := range hw.Pins {
		p := &gpiotest.Pin{N: fmt.Sprintf("GPIO%d", n), Num: n}
		rig.pins = append(rig.pins, p)
		out[i] = p
	}
	rig.adc = hal.NewSimADC("CH0", hw.Ref, hal.RawForCelsius(25, hw.Ref))
	var adc analog.PinADC = rig.adc
	drv, err := hal.New(out, adc, hw.Polarity, hw.Ref)
	require.NoError(t, err)

	rig.srv = newServer(cm, drv)
	rig.srv.sleep = func(d time.Duration) {
		rig.mu.Lock()
		rig.slept = append(rig.slept, d)
		rig.mu.Unlock()
	}
	rig.http = httptest.NewServer(rig.srv.Handler())
	t.Cleanup(func() {
		rig.http.Close()
		rig.srv.hub.stop()
	})
	return rig
}

func (r *testRig) do(t *testing.T, method, path string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, r.http.URL+path, nil)
	require.NoError(t, err)
	return r.send(t, req)
}

func (r *testRig) send(t *testing.T, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (r *testRig) status(t *testing.T) []bool {
	t.Helper()
	resp, body := r.do(t, http.MethodGet, "/api/meadow/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st ModuleStatus
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	return st.ModuleStatus
}

func TestModuleOnOff(t *testing.T) {
	rig := newRig(t, nil)

	resp, _ := rig.do(t, http.MethodPost, "/api/meadow/module/2/on")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []bool{false, true, false}, rig.status(t))
	assert.Equal(t, gpio.High, rig.pins[1].Read(), "default polarity is active high")

	resp, _ = rig.do(t, http.MethodPost, "/api/meadow/module/2/off")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []bool{false, false, false}, rig.status(t))
	assert.Equal(t, gpio.Low, rig.pins[1].Read())
}

func TestModuleActiveLow(t *testing.T) {
	rig := newRig(t, func(c *Config) { c.Polarity = "active_low" })
	resp, _ := rig.do(t, http.MethodPost, "/api/meadow/module/1/on")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, gpio.Low, rig.pins[0].Read())
}

func TestModuleInvalidID(t *testing.T) {
	rig := newRig(t, nil)
	rig.do(t, http.MethodPost, "/api/meadow/module/3/on")

	for _, id := range []string{"0", "4", "-1", "abc"} {
		resp, body := rig.do(t, http.MethodPost, "/api/meadow/module/"+id+"/on")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, id)
		assert.Contains(t, body, "between 1 and 3")
	}
	assert.Equal(t, []bool{false, false, true}, rig.status(t))
}

func TestModuleRouting(t *testing.T) {
	rig := newRig(t, nil)

	resp, _ := rig.do(t, http.MethodGet, "/api/meadow/module/1/on")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = rig.do(t, http.MethodPost, "/api/meadow/module/1/toggle")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = rig.do(t, http.MethodPost, "/api/meadow/module/1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTemperature(t *testing.T) {
	rig := newRig(t, nil)

	resp, body := rig.do(t, http.MethodGet, "/api/meadow/temperature")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &raw))
	assert.Contains(t, raw, "Event")
	assert.Nil(t, raw["Event"])
	assert.Contains(t, raw, "Timestamp")
	assert.InDelta(t, 25.0, raw["Temperature"], 0.33)

	resp, body = rig.do(t, http.MethodGet, "/api/meadow/temperature?eventName=calentador%20on")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tr TemperatureReading
	require.NoError(t, json.Unmarshal([]byte(body), &tr))
	require.NotNil(t, tr.Event)
	assert.Equal(t, "calentador on", *tr.Event)
	assert.WithinDuration(t, time.Now(), tr.Timestamp, time.Minute)

	resp, _ = rig.do(t, http.MethodPost, "/api/meadow/temperature")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestTemperatureSensorError(t *testing.T) {
	rig := newRig(t, nil)
	drv, err := hal.New([]gpio.PinOut{&gpiotest.Pin{N: "GPIO17"}}, nil, hal.ActiveHigh, hal.RESTADC)
	require.NoError(t, err)
	rig.srv.driver = drv

	resp, _ := rig.do(t, http.MethodGet, "/api/meadow/temperature")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestWait(t *testing.T) {
	rig := newRig(t, nil)

	for _, q := range []string{"", "?milliseconds=", "?milliseconds=0", "?milliseconds=-5", "?milliseconds=abc",
		"?milliseconds=9223372036855", "?milliseconds=99999999999999999999"} {
		resp, _ := rig.do(t, http.MethodPost, "/api/meadow/wait"+q)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
	assert.Empty(t, rig.slept)

	resp, _ := rig.do(t, http.MethodPost, "/api/meadow/wait?milliseconds=1500")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, rig.slept)

	resp, _ = rig.do(t, http.MethodPost, "/api/meadow/wait?milliseconds=9223372036854")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "largest wait a Duration holds")
	require.Len(t, rig.slept, 2)
	assert.Positive(t, rig.slept[1])

	resp, _ = rig.do(t, http.MethodGet, "/api/meadow/wait?milliseconds=10")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWaitBlocksHardwareRoutes(t *testing.T) {
	rig := newRig(t, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	rig.srv.sleep = func(time.Duration) {
		close(entered)
		<-release
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		resp, err := http.Post(rig.http.URL+"/api/meadow/wait?milliseconds=100000", "", nil)
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-entered

	onDone := make(chan struct{})
	go func() {
		defer wg.Done()
		resp, err := http.Post(rig.http.URL+"/api/meadow/module/1/on", "", nil)
		if err == nil {
			resp.Body.Close()
		}
		close(onDone)
	}()

	select {
	case <-onDone:
		t.Fatal("module request completed during wait")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, gpio.Low, rig.pins[0].Read())

	close(release)
	wg.Wait()
	assert.Equal(t, gpio.High, rig.pins[0].Read())
}

func TestHealth(t *testing.T) {
	rig := newRig(t, nil)
	resp, body := rig.do(t, http.MethodGet, "/api/meadow/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","modules":3,"auth":false}`, body)
}

func TestLogs(t *testing.T) {
	rig := newRig(t, nil)

	resp, _ := rig.do(t, http.MethodGet, "/api/meadow/logs")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no events yet")

	rig.do(t, http.MethodPost, "/api/meadow/module/1/on")
	rig.do(t, http.MethodPost, "/api/meadow/module/1/off")
	rig.do(t, http.MethodPost, "/api/meadow/wait?milliseconds=5")

	resp, body := rig.do(t, http.MethodGet, "/api/meadow/logs?lines=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lines []string
	require.NoError(t, json.Unmarshal([]byte(body), &lines))
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "waiting 5 ms"), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "wait of 5 ms done"), lines[1])
}

func TestBasicAuth(t *testing.T) {
	rig := newRig(t, func(c *Config) {
		c.Users = []User{
			{Username: "lab", PasswordHash: hashPassword("secret")},
			{Username: "root", PasswordHash: hashPassword("toor"), Admin: true},
		}
	})

	resp, _ := rig.do(t, http.MethodGet, "/api/meadow/status")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	req, _ := http.NewRequest(http.MethodGet, rig.http.URL+"/api/meadow/status", nil)
	req.SetBasicAuth("lab", "wrong")
	resp, _ = rig.send(t, req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, rig.http.URL+"/api/meadow/status", nil)
	req.SetBasicAuth("lab", "secret")
	resp, _ = rig.send(t, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, rig.http.URL+"/api/meadow/logs", nil)
	req.SetBasicAuth("lab", "secret")
	resp, _ = rig.send(t, req)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "logs are admin only")

	req, _ = http.NewRequest(http.MethodGet, rig.http.URL+"/api/meadow/logs", nil)
	req.SetBasicAuth("root", "toor")
	resp, body := rig.send(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `login failed for \"lab\"`)
}

func TestUserManagement(t *testing.T) {
	rig := newRig(t, nil)

	req, _ := http.NewRequest(http.MethodPost, rig.http.URL+"/api/meadow/users",
		strings.NewReader(`{"username":"root","password":"toor","admin":true}`))
	resp, _ := rig.send(t, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = rig.do(t, http.MethodGet, "/api/meadow/users")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "first user enables auth")

	req, _ = http.NewRequest(http.MethodPost, rig.http.URL+"/api/meadow/users",
		strings.NewReader(`{"username":"root","password":"x"}`))
	req.SetBasicAuth("root", "toor")
	resp, _ = rig.send(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "duplicate")

	req, _ = http.NewRequest(http.MethodGet, rig.http.URL+"/api/meadow/users", nil)
	req.SetBasicAuth("root", "toor")
	resp, body := rig.send(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[{"username":"root","admin":true}]`, body)

	req, _ = http.NewRequest(http.MethodDelete, rig.http.URL+"/api/meadow/users/nobody", nil)
	req.SetBasicAuth("root", "toor")
	resp, _ = rig.send(t, req)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodDelete, rig.http.URL+"/api/meadow/users/root", nil)
	req.SetBasicAuth("root", "toor")
	resp, _ = rig.send(t, req)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, rig.srv.cfgMgr.HasUsers())
}

func TestTemperatureLimitAlert(t *testing.T) {
	limit := 30.0
	rig := newRig(t, func(c *Config) {
		c.TemperatureLimits = TemperatureLimits{Max: &limit}
		c.Alerts = []AlertConfig{{Type: "log"}}
	})
	rig.adc.Set(hal.RawForCelsius(40, hal.RESTADC))

	rig.do(t, http.MethodGet, "/api/meadow/temperature?eventName=horno")
	rig.do(t, http.MethodGet, "/api/meadow/temperature")
	rig.adc.Set(hal.RawForCelsius(20, hal.RESTADC))
	rig.do(t, http.MethodGet, "/api/meadow/temperature")
	rig.adc.Set(hal.RawForCelsius(45, hal.RESTADC))
	rig.do(t, http.MethodGet, "/api/meadow/temperature")

	lines, err := rig.srv.logger.Tail(100)
	require.NoError(t, err)
	var alerts []string
	for _, l := range lines {
		if strings.Contains(l, "alert:") {
			alerts = append(alerts, l)
		}
	}
	require.Len(t, alerts, 2, "one alert per excursion")
	assert.Contains(t, alerts[0], `above maximum (max 30.00 °C) during "horno"`)
}

func TestEventStream(t *testing.T) {
	rig := newRig(t, nil)
	wsURL := "ws" + strings.TrimPrefix(rig.http.URL, "http") + "/api/meadow/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The listener registers asynchronously; keep producing events until one
	// arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
				resp, err := http.Post(rig.http.URL+"/api/meadow/module/3/on", "", nil)
				if err == nil {
					resp.Body.Close()
				}
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "module 3 on", ev.Message)
}
