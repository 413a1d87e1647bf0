package main

import "time"

// ModuleConfig maps one controllable module onto a GPIO pin.  Modules are
// addressed by their 1-based position in Config.Modules.
type ModuleConfig struct {
	Name string `json:"name"` // human-readable label (e.g. "Bomba")
	Pin  int    `json:"pin"`  // GPIO pin number (BCM numbering)
}

// ADCConfig describes the converter the TMP36 sensor is wired to.
type ADCConfig struct {
	VRef    float64 `json:"vref"`     // reference voltage, 3.3 on the stock board
	Bits    int     `json:"bits"`     // resolution, 10 for the MCP3008
	SPIPort string  `json:"spi_port"` // "" picks the first SPI port
	Channel int     `json:"channel"`  // MCP3008 input 0..7
	SimRaw  int32   `json:"sim_raw"`  // sample returned when no hardware is present
}

// User is an account allowed to call the API.  Passwords are stored as
// bcrypt hashes.  Only admins may manage other accounts.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	Admin        bool   `json:"admin"`
}

// AlertConfig selects an alert handler.  Type is "log" or "email"; the SMTP
// fields apply to "email" only.
type AlertConfig struct {
	Type       string `json:"type"`
	SMTPServer string `json:"smtp_server,omitempty"`
	SMTPPort   int    `json:"smtp_port,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Subject    string `json:"subject,omitempty"`
}

// TemperatureLimits bounds the acceptable sensor range.  A nil bound is not
// checked.  When MonitorSeconds is positive the sensor is also sampled in
// the background at that period.
type TemperatureLimits struct {
	Min            *float64 `json:"min,omitempty"`
	Max            *float64 `json:"max,omitempty"`
	MonitorSeconds int      `json:"monitor_seconds,omitempty"`
}

// Config is the top-level structure serialized to config.json.
type Config struct {
	HTTPPort          int               `json:"http_port"`
	ListenAddress     string            `json:"listen_address"`
	CertFile          string            `json:"cert_file,omitempty"` // TLS when both cert and key are set
	KeyFile           string            `json:"key_file,omitempty"`
	Modules           []ModuleConfig    `json:"modules"`
	Polarity          string            `json:"polarity"` // "active_high" or "active_low"
	ADC               ADCConfig         `json:"adc"`
	Users             []User            `json:"users"`
	LogFile           string            `json:"log_file"`
	LogLevel          string            `json:"log_level"`
	Alerts            []AlertConfig     `json:"alerts"`
	TemperatureLimits TemperatureLimits `json:"temperature_limits"`
}

// TemperatureReading is the body of GET /api/meadow/temperature.
type TemperatureReading struct {
	Temperature float64   `json:"Temperature"`
	Event       *string   `json:"Event"`
	Timestamp   time.Time `json:"Timestamp"`
}

// ModuleStatus is the body of GET /api/meadow/status, one entry per module
// in configuration order.
type ModuleStatus struct {
	ModuleStatus []bool `json:"ModuleStatus"`
}
