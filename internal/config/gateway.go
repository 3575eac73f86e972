package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// GatewayServer holds all configuration for one realm's gateway process (C6).
type GatewayServer struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// SparkHost/Port is where this gateway dials the login process's RPC
	// fabric (C8) to publish realm status. Session keys do not travel over
	// this link; they come from the in-process account service.
	SparkHost string `yaml:"spark_host"`
	SparkPort int    `yaml:"spark_port"`

	RealmID   int32  `yaml:"realm_id"`
	RealmName string `yaml:"realm_name"`

	Database DatabaseConfig `yaml:"database"`

	LogLevel string `yaml:"log_level"`

	// Admission queue (C7)
	SlotCeiling      int           `yaml:"slot_ceiling"`
	QueueBroadcast   time.Duration `yaml:"queue_broadcast_interval"`

	// Timeouts (C6 §4.6)
	AuthTimeout        time.Duration `yaml:"auth_timeout"`
	CharacterListTimeout time.Duration `yaml:"character_list_timeout"`

	SendBufSize int `yaml:"send_buf_size"`
	ReadBufSize int `yaml:"read_buf_size"`

	// MaskNewCharacterZone toggles the quirk that hides zone IDs for a
	// character's first login (§4.6).
	MaskNewCharacterZone bool `yaml:"mask_new_character_zone"`
}

// DefaultGatewayServer returns GatewayServer config with sensible defaults.
func DefaultGatewayServer() GatewayServer {
	return GatewayServer{
		BindAddress:          "0.0.0.0",
		Port:                 8085,
		SparkHost:            "127.0.0.1",
		SparkPort:            9013,
		RealmID:              1,
		RealmName:            "Azshara",
		LogLevel:             "info",
		SlotCeiling:          2000,
		QueueBroadcast:       250 * time.Millisecond,
		AuthTimeout:          30 * time.Second,
		CharacterListTimeout: 60 * time.Second,
		SendBufSize:          8192,
		ReadBufSize:          8192,
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

// LoadGatewayServer loads gateway server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadGatewayServer(path string) (GatewayServer, error) {
	cfg := DefaultGatewayServer()

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
