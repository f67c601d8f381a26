package config

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/urd-project/urd/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Err joins the errors into one, or returns nil.
func (r *ValidationResult) Err() error {
	if r.IsValid() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Field + ": " + e.Message
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateLogin(&cfg.Login, result)
	validateAccounts(&cfg.Accounts, result)
	validateDatabase(&cfg.Database, cfg.Accounts.Mode, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateLogin(l *LoginConfig, result *ValidationResult) {
	if l.BindAddress != "" && net.ParseIP(l.BindAddress) == nil {
		result.AddError("login.bind_address", fmt.Sprintf("not an IP address: %q", l.BindAddress))
	}
	validatePort(l.Port, "login.port", result)

	if l.MaxConnections < 1 {
		result.AddError("login.max_connections", "must be at least 1")
	}
	if l.ReadChunkSize < protocol.LoginRequestSize {
		result.AddError("login.read_chunk_size",
			fmt.Sprintf("must be at least %d bytes to hold a login request", protocol.LoginRequestSize))
	}
	if l.EmptyReadLimit < 1 {
		result.AddError("login.empty_read_limit", "must be at least 1")
	}
	if l.IdleTimeoutSec < 0 {
		result.AddError("login.idle_timeout_sec", "must not be negative")
	} else if l.IdleTimeoutSec == 0 {
		result.AddWarning("login.idle_timeout_sec", "idle timeout disabled, silent peers are only dropped by keep-alive")
	}
	if l.WriteTimeoutSec < 1 {
		result.AddError("login.write_timeout_sec", "must be at least 1")
	}
	if l.ShutdownTimeoutSec < 0 {
		result.AddError("login.shutdown_timeout_sec", "must not be negative")
	}
	if l.MaxSessions < 0 {
		result.AddError("login.max_sessions", "must not be negative")
	}
	codec, err := protocol.NewCodec(l.ClientCharset)
	if err != nil {
		result.AddError("login.client_charset", err.Error())
	}

	if len(l.CharServers) == 0 {
		result.AddWarning("login.char_servers", "no char servers configured, clients get an empty server list")
	}
	if len(l.CharServers) > protocol.MaxServers {
		result.AddError("login.char_servers", fmt.Sprintf("at most %d servers fit in a login response", protocol.MaxServers))
	}
	for i, cs := range l.CharServers {
		field := fmt.Sprintf("login.char_servers[%d]", i)
		d, err := cs.Descriptor()
		if err != nil {
			result.AddError(field, err.Error())
			continue
		}
		if codec != nil {
			if err := codec.CheckServers([]protocol.ServerDescriptor{d}); err != nil {
				result.AddError(field+".name", err.Error())
			}
		}
		if addr, _ := netip.ParseAddr(cs.IP); addr.IsUnspecified() {
			result.AddWarning(field+".ip", "0.0.0.0 is not reachable by clients")
		}
	}
}

func validateAccounts(a *AccountsConfig, result *ValidationResult) {
	switch a.Mode {
	case AccountsOpen:
		result.AddWarning("accounts.mode", "open mode accepts any credentials")
	case AccountsDatabase:
	default:
		result.AddError("accounts.mode", fmt.Sprintf("unknown mode %q (want %q or %q)", a.Mode, AccountsOpen, AccountsDatabase))
	}
	switch strings.ToUpper(a.DefaultSex) {
	case "", "M", "F":
	default:
		result.AddError("accounts.default_sex", fmt.Sprintf("must be M or F, got %q", a.DefaultSex))
	}
}

func validateDatabase(d *DatabaseConfig, mode string, result *ValidationResult) {
	if strings.TrimSpace(d.Path) == "" {
		if mode == AccountsDatabase {
			result.AddError("database.path", "database path is required in database mode")
		}
		return
	}
	if d.LoginLogRetentionDays < 0 {
		result.AddError("database.login_log_retention_days", "must not be negative")
	}
	if d.PruneTime != "" {
		if _, err := time.Parse("15:04", d.PruneTime); err != nil {
			result.AddError("database.prune_time", fmt.Sprintf("want HH:MM, got %q", d.PruneTime))
		}
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if data.API.Token == "" && data.API.BindAddress != "127.0.0.1" && data.API.BindAddress != "localhost" {
			result.AddWarning("application_data.api.token", "admin API is reachable from the network without a token")
		}
		if data.API.RateLimitRPS < 1 {
			result.AddWarning("application_data.api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
	}

	if data.API.Enabled && data.API.UseTLS {
		if (data.API.CertFile == "") != (data.API.KeyFile == "") {
			result.AddError("application_data.api.cert_file", "cert_file and key_file must be set together")
		} else if data.API.CertFile == "" {
			result.AddWarning("application_data.api.cert_file", "no certificate configured, a self-signed one will be generated")
		}
	}

	if data.Health.CharServerCheckSec < 0 {
		result.AddError("application_data.health.char_server_check_sec", "must not be negative")
	}
	if data.Health.CharServerCheckSec > 0 && data.Health.DialTimeoutSec < 1 {
		result.AddError("application_data.health.dial_timeout_sec", "must be at least 1 when checks are enabled")
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
		if (data.MQTT.CertFile == "") != (data.MQTT.KeyFile == "") {
			result.AddError("application_data.mqtt.cert_file", "cert_file and key_file must be set together")
		}
	}

	switch strings.ToLower(data.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		result.AddWarning("application_data.logging.level", fmt.Sprintf("unknown level %q, using info", data.Logging.Level))
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
