// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides security configuration loading for authguard.
//
// Supports both TOML and JSON configuration formats, with defaults taken
// from the lockout policy, environment variable overrides, and validation.
// A Config is loaded once at startup and treated as read-only afterwards.
//
// Configuration file locations (in order of precedence):
//   - an explicit path passed to LoadFromPath
//   - ~/.authguard/config.toml
//   - ~/.authguard/config.json
package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/authguard/internal/util"
)

// ErrConfiguration marks a configuration that cannot be used. It is fatal at
// startup.
var ErrConfiguration = errors.New("invalid security configuration")

// Key material sizes in bytes.
const (
	KeySize = 32
	IVSize  = 16
)

// Policy defaults.
const (
	DefaultMaxLoginAttempts       = 5
	DefaultInitialBlockSeconds    = 60
	DefaultCooldownIncrementSecs  = 30
	DefaultResetAttemptsMinutes   = 15
	DefaultPasswordIterations     = 100000
	DefaultAlertThreshold         = 3
	DefaultMaxRetryAttempts       = 3
	DefaultRetryIntervalSeconds   = 5
	DefaultSendTimeoutSeconds     = 10
	DefaultShipQueueSize          = 256
	DefaultCentralNode            = "loopback"
	DefaultMFAIssuer              = "authguard"
	DefaultKeystoreDriver         = "memory"
	DefaultCredentialsFileName    = "user_db.json"
	DefaultAuditLogFileName       = "audit.log"
	DefaultKeystoreSQLiteFileName = "keys.db"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the security configuration.
type Config struct {
	MaxLoginAttempts             int    `toml:"max_login_attempts" json:"max_login_attempts"`
	InitialBlockDurationSeconds  int    `toml:"initial_block_duration_seconds" json:"initial_block_duration_seconds"`
	CooldownIncrementSeconds     int    `toml:"cooldown_increment_seconds" json:"cooldown_increment_seconds"`
	ResetAttemptsDurationMinutes int    `toml:"reset_attempts_duration_minutes" json:"reset_attempts_duration_minutes"`
	PasswordIterations           int    `toml:"password_iterations" json:"password_iterations"`
	AlertThreshold               int    `toml:"alert_threshold" json:"alert_threshold"`
	NodeID                       string `toml:"node_id" json:"node_id"`
	CredentialsFile              string `toml:"credentials_file" json:"credentials_file"`

	Audit    AuditConfig    `toml:"audit" json:"audit"`
	Keystore KeystoreConfig `toml:"keystore" json:"keystore"`
	MFA      MFAConfig      `toml:"mfa" json:"mfa"`
}

// AuditConfig controls the audit trail and log shipping.
type AuditConfig struct {
	LogFile              string           `toml:"log_file" json:"log_file"`
	CentralNode          string           `toml:"central_node" json:"central_node"`
	Mirror               bool             `toml:"mirror" json:"mirror"`
	Watch                bool             `toml:"watch" json:"watch"`
	ShipQueueSize        int              `toml:"ship_queue_size" json:"ship_queue_size"`
	MaxRetryAttempts     int              `toml:"max_retry_attempts" json:"max_retry_attempts"`
	RetryIntervalSeconds int              `toml:"retry_interval_seconds" json:"retry_interval_seconds"`
	SendTimeoutSeconds   int              `toml:"send_timeout_seconds" json:"send_timeout_seconds"`
	Encryption           EncryptionConfig `toml:"audit_trail_encryption" json:"audit_trail_encryption"`
}

// EncryptionConfig holds the audit/credential key material. Key and IV are
// given either hex encoded or as raw strings of exactly the right length.
type EncryptionConfig struct {
	Key           string `toml:"key" json:"key"`
	IV            string `toml:"iv" json:"iv"`
	LegacyFixedIV bool   `toml:"legacy_fixed_iv" json:"legacy_fixed_iv"`
}

// KeystoreConfig selects the backing store for managed keys.
type KeystoreConfig struct {
	Driver string `toml:"driver" json:"driver"`
	Path   string `toml:"path" json:"path"`
}

// MFAConfig controls TOTP enrollment.
type MFAConfig struct {
	Issuer string `toml:"issuer" json:"issuer"`
}

// Default returns the default configuration. Key material is left empty and
// must be supplied.
func Default() *Config {
	return &Config{
		MaxLoginAttempts:             DefaultMaxLoginAttempts,
		InitialBlockDurationSeconds:  DefaultInitialBlockSeconds,
		CooldownIncrementSeconds:     DefaultCooldownIncrementSecs,
		ResetAttemptsDurationMinutes: DefaultResetAttemptsMinutes,
		PasswordIterations:           DefaultPasswordIterations,
		AlertThreshold:               DefaultAlertThreshold,
		Audit: AuditConfig{
			CentralNode:          DefaultCentralNode,
			Mirror:               true,
			Watch:                true,
			ShipQueueSize:        DefaultShipQueueSize,
			MaxRetryAttempts:     DefaultMaxRetryAttempts,
			RetryIntervalSeconds: DefaultRetryIntervalSeconds,
			SendTimeoutSeconds:   DefaultSendTimeoutSeconds,
		},
		Keystore: KeystoreConfig{Driver: DefaultKeystoreDriver},
		MFA:      MFAConfig{Issuer: DefaultMFAIssuer},
	}
}

// =============================================================================
// DURATION ACCESSORS
// =============================================================================

// InitialBlockDuration is the lock duration of the first lockout.
func (c *Config) InitialBlockDuration() time.Duration {
	return time.Duration(c.InitialBlockDurationSeconds) * time.Second
}

// CooldownIncrement is added to the lock duration for every failure past the limit.
func (c *Config) CooldownIncrement() time.Duration {
	return time.Duration(c.CooldownIncrementSeconds) * time.Second
}

// ResetWindow is the observation window used by pattern analysis.
func (c *Config) ResetWindow() time.Duration {
	return time.Duration(c.ResetAttemptsDurationMinutes) * time.Minute
}

// RetryInterval is the fixed delay between log shipping attempts.
func (c *AuditConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}

// SendTimeout bounds a single log shipping attempt.
func (c *AuditConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the authguard configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".authguard"), nil
}

// ensureSecurePermissions tightens a config file to 0600 since it carries key material.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load looks for config.toml then config.json in ConfigDir. A missing file is
// not an error by itself, but the defaults carry no key material and so fail
// validation unless AUTHGUARD_AUDIT_KEY and AUTHGUARD_AUDIT_IV are set.
func Load() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"config.toml", "config.json"} {
		path := filepath.Join(dir, name)
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults(dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file. The format is chosen
// by extension; anything other than .json is decoded as TOML.
func LoadFromPath(path string) (*Config, error) {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	cfg := Default()
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to decode JSON config %s: %v", ErrConfiguration, path, err)
		}
	} else {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to decode TOML config %s: %v", ErrConfiguration, path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults fills file locations relative to baseDir and derives a node id
// when none is configured.
func (c *Config) SetDefaults(baseDir string) {
	if c.CredentialsFile == "" {
		c.CredentialsFile = filepath.Join(baseDir, DefaultCredentialsFileName)
	}
	if c.Audit.LogFile == "" {
		c.Audit.LogFile = filepath.Join(baseDir, DefaultAuditLogFileName)
	}
	if c.Keystore.Driver == "" {
		c.Keystore.Driver = DefaultKeystoreDriver
	}
	if c.Keystore.Driver == "sqlite" && c.Keystore.Path == "" {
		c.Keystore.Path = filepath.Join(baseDir, DefaultKeystoreSQLiteFileName)
	}
	if c.Audit.CentralNode == "" {
		c.Audit.CentralNode = DefaultCentralNode
	}
	if c.MFA.Issuer == "" {
		c.MFA.Issuer = DefaultMFAIssuer
	}
	if c.NodeID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.NodeID = host
		} else {
			c.NodeID = util.NewNodeID()
		}
	}
}

// Save writes the configuration as TOML or JSON depending on the extension.
func Save(cfg *Config, path string) error {
	var data []byte
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		b, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		data = b
	} else {
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		data = []byte(sb.String())
	}
	return util.AtomicWriteFile(path, data, 0600)
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap lets errors.Is(err, ErrConfiguration) match any validation failure.
func (e ValidateErrors) Unwrap() error {
	return ErrConfiguration
}

// Validate checks policy values and key material.
func (c *Config) Validate() error {
	var errs ValidateErrors

	positive := []struct {
		field string
		value int
	}{
		{"max_login_attempts", c.MaxLoginAttempts},
		{"initial_block_duration_seconds", c.InitialBlockDurationSeconds},
		{"reset_attempts_duration_minutes", c.ResetAttemptsDurationMinutes},
		{"password_iterations", c.PasswordIterations},
		{"audit.max_retry_attempts", c.Audit.MaxRetryAttempts},
		{"audit.ship_queue_size", c.Audit.ShipQueueSize},
		{"audit.send_timeout_seconds", c.Audit.SendTimeoutSeconds},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, ValidationError{Field: p.field, Message: fmt.Sprintf("must be positive, got %d", p.value)})
		}
	}
	if c.CooldownIncrementSeconds < 0 {
		errs = append(errs, ValidationError{Field: "cooldown_increment_seconds", Message: "must not be negative"})
	}
	if c.Audit.RetryIntervalSeconds < 0 {
		errs = append(errs, ValidationError{Field: "audit.retry_interval_seconds", Message: "must not be negative"})
	}
	if c.AlertThreshold < 0 {
		errs = append(errs, ValidationError{Field: "alert_threshold", Message: "must not be negative"})
	}

	if _, err := c.Key(); err != nil {
		errs = append(errs, ValidationError{Field: "audit.audit_trail_encryption.key", Message: err.Error()})
	}
	if _, err := c.IV(); err != nil {
		errs = append(errs, ValidationError{Field: "audit.audit_trail_encryption.iv", Message: err.Error()})
	}

	switch c.Keystore.Driver {
	case "memory":
	case "sqlite":
		if c.Keystore.Path == "" {
			errs = append(errs, ValidationError{Field: "keystore.path", Message: "required for sqlite driver"})
		}
	default:
		errs = append(errs, ValidationError{Field: "keystore.driver", Message: fmt.Sprintf("unknown driver '%s', must be one of: memory, sqlite", c.Keystore.Driver)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Key returns the 32-byte master key.
func (c *Config) Key() ([]byte, error) {
	return ParseKeyMaterial(c.Audit.Encryption.Key, KeySize)
}

// IV returns the 16-byte configured IV.
func (c *Config) IV() ([]byte, error) {
	return ParseKeyMaterial(c.Audit.Encryption.IV, IVSize)
}

// ParseKeyMaterial accepts either a hex string encoding exactly size bytes or
// a raw string of exactly size bytes.
func ParseKeyMaterial(s string, size int) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("missing, %d bytes required", size)
	}
	if len(s) == size*2 {
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}
	if len(s) == size {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("must be %d bytes (or %d hex characters), got %d characters", size, size*2, len(s))
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies AUTHGUARD_* environment variables:
//   - AUTHGUARD_MAX_LOGIN_ATTEMPTS: overrides max_login_attempts
//   - AUTHGUARD_NODE_ID: overrides node_id
//   - AUTHGUARD_CREDENTIALS_FILE: overrides credentials_file
//   - AUTHGUARD_AUDIT_LOG: overrides audit.log_file
//   - AUTHGUARD_AUDIT_KEY: overrides audit.audit_trail_encryption.key
//   - AUTHGUARD_AUDIT_IV: overrides audit.audit_trail_encryption.iv
//   - AUTHGUARD_CENTRAL_NODE: overrides audit.central_node
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("AUTHGUARD_MAX_LOGIN_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxLoginAttempts = n
		}
	}
	if v := os.Getenv("AUTHGUARD_NODE_ID"); v != "" {
		c.NodeID = v
	}
	if v := os.Getenv("AUTHGUARD_CREDENTIALS_FILE"); v != "" {
		c.CredentialsFile = v
	}
	if v := os.Getenv("AUTHGUARD_AUDIT_LOG"); v != "" {
		c.Audit.LogFile = v
	}
	if v := os.Getenv("AUTHGUARD_AUDIT_KEY"); v != "" {
		c.Audit.Encryption.Key = v
	}
	if v := os.Getenv("AUTHGUARD_AUDIT_IV"); v != "" {
		c.Audit.Encryption.IV = v
	}
	if v := os.Getenv("AUTHGUARD_CENTRAL_NODE"); v != "" {
		c.Audit.CentralNode = v
	}
}

// String renders the configuration with key material masked.
func (c *Config) String() string {
	clone := *c
	if clone.Audit.Encryption.Key != "" {
		clone.Audit.Encryption.Key = "[REDACTED]"
	}
	if clone.Audit.Encryption.IV != "" {
		clone.Audit.Encryption.IV = "[REDACTED]"
	}
	data, err := json.MarshalIndent(&clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
