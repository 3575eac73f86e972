// Package config loads the plain YAML configuration each process reads
// at startup. The core neither requires nor forbids any particular
// option beyond the ports and the binary-integrity directory (§6); it
// never parses command-line flags itself.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoginServer holds all configuration for the login process (C5).
type LoginServer struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// SparkListenHost/Port is the inter-service RPC fabric (C8) endpoint
	// that realm processes dial to publish realm status.
	SparkListenHost string `yaml:"spark_listen_host"`
	SparkListenPort int    `yaml:"spark_listen_port"`

	// Database
	Database DatabaseConfig `yaml:"database"`

	// Logging
	LogLevel string `yaml:"log_level"` // debug, info, warn, error (default: info)

	// IntegrityBlobDir points at the directory of per-(build,platform,os)
	// client binary blobs the Integrity Verifier (C3) loads at startup.
	// Empty disables the check (§4.3: "the engine is optional, a toggle").
	IntegrityBlobDir string `yaml:"integrity_blob_dir"`

	// AllowedBuilds is the exact-match allow-list consulted before the
	// Patch Graph is searched (§4.5 version gating).
	AllowedBuilds []int `yaml:"allowed_builds"`

	AutoCreateAccounts bool `yaml:"auto_create_accounts"`

	// SRP6Mode selects the byte-encoding convention the SRP6 Engine (C2)
	// negotiates with clients: "game" for the little-endian custom
	// variant, "rfc5054" for the standard big-endian group (§4.2).
	SRP6Mode string `yaml:"srp6_mode"`

	// SurveyFilePath, if set, is the file served to accounts flagged
	// survey_requested immediately after a successful login proof
	// (§4.5 SURVEY_INITIATE). Empty disables the survey step entirely.
	SurveyFilePath string `yaml:"survey_file_path"`

	// SessionTimeout closes a login connection that goes this long
	// without completing its current state's expected message (§5:
	// "each suspended state has an associated steady-clock deadline").
	SessionTimeout time.Duration `yaml:"session_timeout"`

	SendBufSize int `yaml:"send_buf_size"`
	ReadBufSize int `yaml:"read_buf_size"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`

	// Connection pool parameters (optional, defaults from pgxpool apply if not set)
	MaxConns        int32  `yaml:"max_conns"`
	MinConns        int32  `yaml:"min_conns"`
	MaxConnLifetime string `yaml:"max_conn_lifetime"` // duration, e.g. "1h"
	MaxConnIdleTime string `yaml:"max_conn_idle_time"` // duration, e.g. "30m"
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	base := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)

	var params []string
	if d.MaxConns > 0 {
		params = append(params, fmt.Sprintf("pool_max_conns=%d", d.MaxConns))
	}
	if d.MinConns > 0 {
		params = append(params, fmt.Sprintf("pool_min_conns=%d", d.MinConns))
	}
	if d.MaxConnLifetime != "" {
		params = append(params, fmt.Sprintf("pool_max_conn_lifetime=%s", d.MaxConnLifetime))
	}
	if d.MaxConnIdleTime != "" {
		params = append(params, fmt.Sprintf("pool_max_conn_idle_time=%s", d.MaxConnIdleTime))
	}

	if len(params) > 0 {
		return base + "&" + strings.Join(params, "&")
	}
	return base
}

// DefaultLoginServer returns LoginServer config with sensible defaults.
func DefaultLoginServer() LoginServer {
	return LoginServer{
		BindAddress:        "0.0.0.0",
		Port:               3724,
		SparkListenHost:    "127.0.0.1",
		SparkListenPort:    9013,
		LogLevel:           "info",
		AllowedBuilds:      []int{5875},
		AutoCreateAccounts: false,
		SRP6Mode:           "game",
		SessionTimeout:     60 * time.Second,
		SendBufSize:        8192,
		ReadBufSize:        8192,
		Database: DatabaseConfig{
			Host:    "127.0.0.1",
			Port:    5432,
			User:    "wowcore",
			Password: "wowcore",
			DBName:  "wowcore",
			SSLMode: "disable",
		},
	}
}

// LoadLoginServer loads login server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadLoginServer(path string) (LoginServer, error) {
	cfg := DefaultLoginServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}
