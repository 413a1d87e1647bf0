package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"labrig/internal/hal"
)

// apiPrefix is the root of every route.
const apiPrefix = "/api/meadow/"

// maxWaitMS is the longest wait a time.Duration can hold.
const maxWaitMS = math.MaxInt64 / int64(time.Millisecond)

// Server holds the HTTP facade state: configuration, the hardware driver
// and the event plumbing.
type Server struct {
	cfgMgr *ConfigManager
	driver *hal.Driver
	logger *EventLogger
	hub    *Hub
	alerts []AlertHandler

	// execMu serializes every hardware operation.  A wait holds it for its
	// whole duration, so the other hardware routes queue behind it.
	execMu sync.Mutex

	alertMu    sync.Mutex
	outOfRange bool

	sleep func(time.Duration)
	now   func() time.Time
}

// NewServer opens the hardware described by the configuration and
// constructs a Server around it.
func NewServer(cfgMgr *ConfigManager) (*Server, error) {
	hw, err := cfgMgr.Get().hardware()
	if err != nil {
		return nil, err
	}
	drv, err := hal.Open(hw)
	if err != nil {
		return nil, fmt.Errorf("open hardware: %w", err)
	}
	return newServer(cfgMgr, drv), nil
}

func newServer(cfgMgr *ConfigManager, drv *hal.Driver) *Server {
	cfg := cfgMgr.Get()
	s := &Server{
		cfgMgr: cfgMgr,
		driver: drv,
		logger: NewEventLogger(cfg.LogFile),
		hub:    newHub(),
		alerts: initAlertHandlers(cfg),
		sleep:  time.Sleep,
		now:    time.Now,
	}
	s.logger.SetPublisher(s.hub.Publish)
	go s.hub.run()
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"module/", s.withAuth(public(s.handleModule)))
	mux.HandleFunc(apiPrefix+"temperature", s.withAuth(public(s.handleTemperature)))
	mux.HandleFunc(apiPrefix+"wait", s.withAuth(public(s.handleWait)))
	mux.HandleFunc(apiPrefix+"status", s.withAuth(public(s.handleStatus)))
	mux.HandleFunc(apiPrefix+"health", s.withAuth(public(s.handleHealth)))
	mux.HandleFunc(apiPrefix+"events", s.withAuth(public(s.hub.serveEvents)))
	mux.HandleFunc(apiPrefix+"logs", s.withAuth(s.handleLogs))
	mux.HandleFunc(apiPrefix+"users", s.withAuth(s.handleUsers))
	mux.HandleFunc(apiPrefix+"users/", s.withAuth(s.handleUserByName))
	return mux
}

// Start listens on the configured address and serves until ctx is done.
// TLS is used when both a certificate and a key are configured.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfgMgr.Get()
	addr := net.JoinHostPort(cfg.ListenAddress, strconv.Itoa(cfg.HTTPPort))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}

	if p := cfg.TemperatureLimits.MonitorSeconds; p > 0 {
		go s.monitorTemperature(ctx, time.Duration(p)*time.Second)
	}

	errc := make(chan error, 1)
	go func() {
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			slog.Info("listening", "url", "https://"+addr)
			errc <- srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
			return
		}
		slog.Info("listening", "url", "http://"+addr)
		errc <- srv.ListenAndServe()
	}()
	s.logger.Log("controller started on %s with %d modules", addr, s.driver.Len())

	select {
	case err := <-errc:
		s.hub.stop()
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.hub.stop()
	s.execMu.Lock()
	if herr := s.driver.Halt(); herr != nil {
		slog.Error("halt modules", "err", herr)
	}
	s.execMu.Unlock()
	s.logger.Log("controller stopped")
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// handleModule serves POST /api/meadow/module/{id}/on|off.
func (s *Server) handleModule(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 5 {
		http.NotFound(w, r)
		return
	}
	var on bool
	switch parts[4] {
	case "on":
		on = true
	case "off":
	default:
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.Atoi(parts[3])
	if err != nil || id < 1 || id > s.driver.Len() {
		http.Error(w, fmt.Sprintf("Invalid module id %q: must be between 1 and %d", parts[3], s.driver.Len()),
			http.StatusBadRequest)
		return
	}

	s.execMu.Lock()
	err = s.driver.SetState(id-1, on)
	s.execMu.Unlock()
	if err != nil {
		s.logger.Log("module %d %s failed: %v", id, parts[4], err)
		http.Error(w, "hardware error", http.StatusInternalServerError)
		return
	}
	s.logger.Log("module %d %s", id, parts[4])
	fmt.Fprintf(w, "Module %d turned %s\n", id, parts[4])
}

// handleTemperature serves GET /api/meadow/temperature[?eventName=].
func (s *Server) handleTemperature(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var event *string
	if name := r.URL.Query().Get("eventName"); name != "" {
		event = &name
	}

	s.execMu.Lock()
	rd, err := s.driver.ReadTemperature()
	s.execMu.Unlock()
	if err != nil {
		s.logger.Log("temperature read failed: %v", err)
		http.Error(w, "sensor error", http.StatusInternalServerError)
		return
	}
	now := s.now()
	if event != nil {
		s.logger.Log("temperature %.2f °C (%s)", rd.Celsius, *event)
		s.checkLimits(rd.Celsius, *event, now)
	} else {
		s.logger.Log("temperature %.2f °C", rd.Celsius)
		s.checkLimits(rd.Celsius, "", now)
	}
	writeJSON(w, TemperatureReading{Temperature: rd.Celsius, Event: event, Timestamp: now})
}

// handleWait serves POST /api/meadow/wait?milliseconds=n.  The sleep cannot
// be cancelled once started.
func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := r.URL.Query().Get("milliseconds")
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		http.Error(w, fmt.Sprintf("Invalid milliseconds %q: must be a positive integer", raw), http.StatusBadRequest)
		return
	}
	if ms > maxWaitMS {
		http.Error(w, fmt.Sprintf("Invalid milliseconds %q: must not exceed %d", raw, maxWaitMS), http.StatusBadRequest)
		return
	}

	s.execMu.Lock()
	s.logger.Log("waiting %d ms", ms)
	s.sleep(time.Duration(ms) * time.Millisecond)
	s.execMu.Unlock()
	s.logger.Log("wait of %d ms done", ms)
	fmt.Fprintf(w, "Waited %d ms\n", ms)
}

// handleStatus serves GET /api/meadow/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.execMu.Lock()
	states := s.driver.States()
	s.execMu.Unlock()
	writeJSON(w, ModuleStatus{ModuleStatus: states})
}

// handleHealth reports liveness without touching the hardware lock.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{
		"status":  "ok",
		"modules": s.driver.Len(),
		"auth":    s.cfgMgr.HasUsers(),
	})
}

// handleLogs returns the event log.  Admins only.  Accepts optional query
// parameter `lines=n` to limit number of lines returned.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request, user User) {
	if !user.Admin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 200
	if p := r.URL.Query().Get("lines"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			limit = n
		}
	}
	lines, err := s.logger.Tail(limit)
	if err != nil {
		if errors.Is(err, errNoLog) {
			http.Error(w, "log not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, lines)
}

var errUserExists = errors.New("user exists")

// handleUsers lists (GET) or creates (POST) API accounts.  Admins only.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, user User) {
	if !user.Admin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	switch r.Method {
	case http.MethodGet:
		cfg := s.cfgMgr.Get()
		// Do not expose password hashes to clients
		type userView struct {
			Username string `json:"username"`
			Admin    bool   `json:"admin"`
		}
		users := make([]userView, len(cfg.Users))
		for i, u := range cfg.Users {
			users[i] = userView{Username: u.Username, Admin: u.Admin}
		}
		writeJSON(w, users)
	case http.MethodPost:
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Admin    bool   `json:"admin"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		if req.Username == "" || req.Password == "" {
			http.Error(w, "missing username or password", http.StatusBadRequest)
			return
		}
		err := s.cfgMgr.Update(func(c *Config) error {
			for _, u := range c.Users {
				if u.Username == req.Username {
					return errUserExists
				}
			}
			c.Users = append(c.Users, User{Username: req.Username, PasswordHash: hashPassword(req.Password), Admin: req.Admin})
			return nil
		})
		if err != nil {
			if errors.Is(err, errUserExists) {
				http.Error(w, "user exists", http.StatusBadRequest)
			} else {
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}
		s.logger.Log("create user %s by %s", req.Username, user.Username)
		w.WriteHeader(http.StatusCreated)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

var errUserNotFound = errors.New("user not found")

// handleUserByName deletes /api/meadow/users/{name}.  Admins only.
func (s *Server) handleUserByName(w http.ResponseWriter, r *http.Request, user User) {
	if !user.Admin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, apiPrefix+"users/")
	if name == "" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	err := s.cfgMgr.Update(func(c *Config) error {
		for i, u := range c.Users {
			if u.Username == name {
				c.Users = slices.Delete(slices.Clone(c.Users), i, i+1)
				return nil
			}
		}
		return errUserNotFound
	})
	if err != nil {
		if errors.Is(err, errUserNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
		} else {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	s.logger.Log("delete user %s by %s", name, user.Username)
	w.WriteHeader(http.StatusNoContent)
}
