package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"labrig/internal/hal"
)

// defaultConfigPath is the default filename for persisted configuration.
const defaultConfigPath = "config.json"

// errInvalidCredentials is returned by Authenticate for unknown users and
// wrong passwords alike.
var errInvalidCredentials = errors.New("invalid credentials")

// ConfigManager wraps the loaded configuration and a mutex for concurrent access.
// Changes made through Update are persisted immediately.
type ConfigManager struct {
	mu     sync.RWMutex
	path   string
	cfg    Config
	loaded bool
}

// NewConfigManager returns a manager for the file at path.  An empty path
// selects config.json in the working directory.
func NewConfigManager(path string) *ConfigManager {
	if path == "" {
		path = defaultConfigPath
	}
	return &ConfigManager{path: path}
}

// DefaultConfig is written on first run: three active-high modules on BCM
// 17, 27 and 22, a 3.3 V 10-bit ADC, no users (the API is open) and a log
// alert.
func DefaultConfig() Config {
	return Config{
		HTTPPort: 5000,
		Modules: []ModuleConfig{
			{Name: "Módulo 1", Pin: 17},
			{Name: "Módulo 2", Pin: 27},
			{Name: "Módulo 3", Pin: 22},
		},
		Polarity: hal.ActiveHigh.String(),
		ADC: ADCConfig{
			VRef:   hal.RESTADC.VRef,
			Bits:   10,
			SimRaw: hal.RawForCelsius(22, hal.RESTADC),
		},
		Users:    []User{},
		LogFile:  "events.log",
		LogLevel: "info",
		Alerts:   []AlertConfig{{Type: "log"}},
	}
}

// Load reads configuration from disk.  If the file does not exist the
// default configuration is persisted and used.
func (cm *ConfigManager) Load() error {
	cm.mu.Lock()
	if cm.loaded {
		cm.mu.Unlock()
		return nil
	}
	data, err := os.ReadFile(cm.path)
	if err != nil {
		if os.IsNotExist(err) {
			cm.cfg = DefaultConfig()
			cm.loaded = true
			// Save takes the read lock.
			cm.mu.Unlock()
			return cm.Save()
		}
		cm.mu.Unlock()
		return fmt.Errorf("unable to read config: %w", err)
	}
	cfg := DefaultConfig()
	cfg.Users = nil
	cfg.Alerts = nil
	if err := json.Unmarshal(data, &cfg); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("invalid %s: %w", cm.path, err)
	}
	if err := cfg.validate(); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("invalid %s: %w", cm.path, err)
	}
	cm.cfg = cfg
	cm.loaded = true
	cm.mu.Unlock()
	return nil
}

// Save writes the configuration to disk through a temporary file.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	bytes, err := json.MarshalIndent(cm.cfg, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := cm.path + ".tmp"
	if err := os.WriteFile(tmpPath, bytes, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, cm.path)
}

// Get returns a copy of the current configuration.  Slices are cloned so
// the copy does not share backing arrays with later updates.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	cfg := cm.cfg
	cfg.Modules = slices.Clone(cm.cfg.Modules)
	cfg.Users = slices.Clone(cm.cfg.Users)
	cfg.Alerts = slices.Clone(cm.cfg.Alerts)
	return cfg
}

// Update applies fn to the configuration under the write lock and persists
// the result.  fn must not keep the pointer.
func (cm *ConfigManager) Update(fn func(*Config) error) error {
	cm.mu.Lock()
	if err := fn(&cm.cfg); err != nil {
		cm.mu.Unlock()
		return err
	}
	cm.mu.Unlock()
	return cm.Save()
}

// FindUser returns a user and its index by username.  If not found, index
// will be -1.
func (cm *ConfigManager) FindUser(username string) (User, int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for i, u := range cm.cfg.Users {
		if u.Username == username {
			return u, i
		}
	}
	return User{}, -1
}

// HasUsers reports whether authentication is enabled.
func (cm *ConfigManager) HasUsers() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.cfg.Users) > 0
}

// Authenticate checks whether the provided username and password are valid.
func (cm *ConfigManager) Authenticate(username, password string) (User, error) {
	user, i := cm.FindUser(username)
	if i < 0 {
		return User{}, errInvalidCredentials
	}
	if err := checkPasswordHash(password, user.PasswordHash); err != nil {
		return User{}, errInvalidCredentials
	}
	return user, nil
}

func (c Config) validate() error {
	if len(c.Modules) == 0 {
		return errors.New("no modules configured")
	}
	if _, err := hal.ParsePolarity(c.Polarity); err != nil {
		return err
	}
	if c.ADC.VRef <= 0 {
		return fmt.Errorf("adc vref must be positive, got %v", c.ADC.VRef)
	}
	if c.ADC.Bits <= 0 || c.ADC.Bits > 24 {
		return fmt.Errorf("adc bits out of range: %d", c.ADC.Bits)
	}
	if l := c.TemperatureLimits; l.Min != nil && l.Max != nil && *l.Min > *l.Max {
		return fmt.Errorf("temperature limits reversed: %v > %v", *l.Min, *l.Max)
	}
	return nil
}

// hardware translates the configuration into driver settings.
func (c Config) hardware() (hal.Config, error) {
	pol, err := hal.ParsePolarity(c.Polarity)
	if err != nil {
		return hal.Config{}, err
	}
	pins := make([]int, len(c.Modules))
	for i, m := range c.Modules {
		pins[i] = m.Pin
	}
	return hal.Config{
		Pins:     pins,
		Polarity: pol,
		Ref:      hal.RefForBits(c.ADC.VRef, c.ADC.Bits),
		SPIPort:  c.ADC.SPIPort,
		Channel:  c.ADC.Channel,
		SimRaw:   c.ADC.SimRaw,
	}, nil
}
