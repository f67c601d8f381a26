// Package config handles configuration loading, validation and
// persistence for the urd login gateway.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/urd-project/urd/internal/protocol"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultLoginPort  = 6900
	DefaultAPIPort    = 6901
)

// Account store modes.
const (
	AccountsOpen     = "open"
	AccountsDatabase = "database"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Login           LoginConfig     `json:"login"`
	Accounts        AccountsConfig  `json:"accounts"`
	Database        DatabaseConfig  `json:"database"`
	ApplicationData ApplicationData `json:"application_data"`
}

// LoginConfig configures the login listener and handler.
type LoginConfig struct {
	BindAddress string `json:"bind_address"`
	Port        int    `json:"port"`

	MaxConnections     int `json:"max_connections"`
	ReadChunkSize      int `json:"read_chunk_size"`
	EmptyReadLimit     int `json:"empty_read_limit"`
	IdleTimeoutSec     int `json:"idle_timeout_sec"`
	WriteTimeoutSec    int `json:"write_timeout_sec"`
	ShutdownTimeoutSec int `json:"shutdown_timeout_sec"`
	KeepAliveSec       int `json:"keepalive_sec"`

	MinClientVersion uint32 `json:"min_client_version"`
	MaxSessions      int    `json:"max_sessions"`
	ClientCharset    string `json:"client_charset"`

	CharServers []CharServerConfig `json:"char_servers"`
}

// CharServerConfig is one entry of the server list sent on login.
type CharServerConfig struct {
	Name   string `json:"name"`
	IP     string `json:"ip"`
	Port   int    `json:"port"`
	Users  int    `json:"users"`
	Status string `json:"status"`
	IsNew  bool   `json:"is_new"`
}

// AccountsConfig selects the account store.
type AccountsConfig struct {
	Mode         string `json:"mode"`
	DefaultLevel uint32 `json:"default_level"`
	DefaultSex   string `json:"default_sex"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path                  string `json:"path"`
	LoginLogRetentionDays int    `json:"login_log_retention_days"`
	PruneTime             string `json:"prune_time"`
}

// ApplicationData contains the surrounding service configuration.
type ApplicationData struct {
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Logging LoggingConfig `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
	Health  HealthConfig  `json:"health"`
}

// APIConfig configures the admin HTTP API.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	BindAddress    string   `json:"bind_address"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	UseTLS         bool     `json:"use_tls"`
	CertFile       string   `json:"cert_file"`
	KeyFile        string   `json:"key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	ClientID  string `json:"client_id"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
	Console   bool   `json:"console"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// HealthConfig controls the char-server reachability checks. An
// interval of 0 disables them.
type HealthConfig struct {
	CharServerCheckSec int `json:"char_server_check_sec"`
	DialTimeoutSec     int `json:"dial_timeout_sec"`
}

// CheckInterval returns the char-server check interval.
func (h HealthConfig) CheckInterval() time.Duration {
	return time.Duration(h.CharServerCheckSec) * time.Second
}

// DialTimeout returns the per-server dial timeout.
func (h HealthConfig) DialTimeout() time.Duration {
	return time.Duration(h.DialTimeoutSec) * time.Second
}

// DefaultConfig returns a configuration with the stock defaults.
func DefaultConfig() *Config {
	return &Config{
		Login: LoginConfig{
			BindAddress:        "0.0.0.0",
			Port:               DefaultLoginPort,
			MaxConnections:     1024,
			ReadChunkSize:      512,
			EmptyReadLimit:     5,
			IdleTimeoutSec:     300,
			WriteTimeoutSec:    10,
			ShutdownTimeoutSec: 10,
			KeepAliveSec:       60,
			ClientCharset:      protocol.CharsetUTF8,
			CharServers: []CharServerConfig{
				{
					Name:   "Urd",
					IP:     "127.0.0.1",
					Port:   DefaultLoginPort,
					Status: protocol.ServerNormal.String(),
					IsNew:  true,
				},
			},
		},
		Accounts: AccountsConfig{
			Mode:         AccountsOpen,
			DefaultLevel: 1,
			DefaultSex:   "M",
		},
		Database: DatabaseConfig{
			Path:                  filepath.Join("data", "urd.db"),
			LoginLogRetentionDays: 30,
			PruneTime:             "04:00",
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled:      true,
				BindAddress:  "127.0.0.1",
				Port:         DefaultAPIPort,
				RateLimitRPS: 100,
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    8883,
				UseTLS:  true,
			},
			Logging: LoggingConfig{
				Level:     "info",
				Directory: "logs",
				Console:   true,
			},
			Metrics: MetricsConfig{
				Enabled: true,
			},
			Health: HealthConfig{
				CharServerCheckSec: 60,
				DialTimeoutSec:     3,
			},
		},
	}
}

// Load reads config.json from configDir over the defaults. A missing file
// is created with the defaults.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	defaultServers := cfg.Login.CharServers
	// A configured list replaces the default entry instead of merging into it.
	cfg.Login.CharServers = nil
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	if cfg.Login.CharServers == nil {
		cfg.Login.CharServers = defaultServers
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetLogin returns a copy of the login configuration.
func (c *Config) GetLogin() LoginConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	login := c.Login
	login.CharServers = append([]CharServerConfig(nil), c.Login.CharServers...)
	return login
}

// SetLogin replaces the login configuration.
func (c *Config) SetLogin(login LoginConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Login = login
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData replaces the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath changes where Save writes.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// ListenAddr returns the login listener address.
func (l LoginConfig) ListenAddr() string {
	return net.JoinHostPort(l.BindAddress, strconv.Itoa(l.Port))
}

// IdleTimeout returns the read idle timeout; zero disables it.
func (l LoginConfig) IdleTimeout() time.Duration {
	return time.Duration(l.IdleTimeoutSec) * time.Second
}

// WriteTimeout returns the per-response write deadline.
func (l LoginConfig) WriteTimeout() time.Duration {
	return time.Duration(l.WriteTimeoutSec) * time.Second
}

// ShutdownTimeout bounds how long shutdown waits for connections.
func (l LoginConfig) ShutdownTimeout() time.Duration {
	return time.Duration(l.ShutdownTimeoutSec) * time.Second
}

// KeepAlive returns the TCP keep-alive period.
func (l LoginConfig) KeepAlive() time.Duration {
	return time.Duration(l.KeepAliveSec) * time.Second
}

// ServerDescriptors converts the configured char servers to their wire form.
func (l LoginConfig) ServerDescriptors() ([]protocol.ServerDescriptor, error) {
	servers := make([]protocol.ServerDescriptor, 0, len(l.CharServers))
	for i, cs := range l.CharServers {
		d, err := cs.Descriptor()
		if err != nil {
			return nil, fmt.Errorf("char_servers[%d]: %w", i, err)
		}
		servers = append(servers, d)
	}
	return servers, nil
}

// Descriptor converts one char server entry.
func (cs CharServerConfig) Descriptor() (protocol.ServerDescriptor, error) {
	addr, err := netip.ParseAddr(cs.IP)
	if err != nil {
		return protocol.ServerDescriptor{}, fmt.Errorf("invalid ip %q: %w", cs.IP, err)
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return protocol.ServerDescriptor{}, fmt.Errorf("ip %q is not IPv4", cs.IP)
	}
	if cs.Port < 1 || cs.Port > 65535 {
		return protocol.ServerDescriptor{}, fmt.Errorf("invalid port %d", cs.Port)
	}
	if cs.Users < 0 || cs.Users > 65535 {
		return protocol.ServerDescriptor{}, fmt.Errorf("invalid user count %d", cs.Users)
	}
	if len(cs.Name) > protocol.ServerNameSize {
		return protocol.ServerDescriptor{}, fmt.Errorf("name %q is longer than %d bytes", cs.Name, protocol.ServerNameSize)
	}

	status := protocol.ServerNormal
	if cs.Status != "" {
		s, ok := protocol.ParseServerStatus(cs.Status)
		if !ok {
			return protocol.ServerDescriptor{}, fmt.Errorf("unknown status %q", cs.Status)
		}
		status = s
	}

	return protocol.ServerDescriptor{
		IP:     addr,
		Port:   uint16(cs.Port),
		Name:   cs.Name,
		Users:  uint16(cs.Users),
		Status: status,
		IsNew:  cs.IsNew,
	}, nil
}
