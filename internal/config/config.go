// ABOUTME: Configuration loading for the rpcd server, management API, and middleware
// ABOUTME: Supports YAML files, RPCD_* environment overrides, and a local .env file

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/harper/rpcd/internal/middleware"
	"github.com/harper/rpcd/internal/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides, e.g. RPCD_SERVER_PORT.
const EnvPrefix = "RPCD"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Management ManagementConfig `mapstructure:"management"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Name string `mapstructure:"name"`
	Host string `mapstructure:"host"`
	// Port serves WebSocket connections.
	Port int `mapstructure:"port"`
	// HTTPPort serves the HTTP adaptation path; 0 disables it.
	HTTPPort               int    `mapstructure:"http_port"`
	H2C                    bool   `mapstructure:"h2c"`
	Workers                int    `mapstructure:"workers"` // 0 means one per CPU
	MaxConnections         int    `mapstructure:"max_connections"`
	QueueSize              int    `mapstructure:"queue_size"`
	MaxMessageBytes        int64  `mapstructure:"max_message_bytes"`
	PIDFile                string `mapstructure:"pid_file"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

type ManagementConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

type MiddlewareConfig struct {
	// Priority orders middleware regardless of where routes list them.
	Priority []string `mapstructure:"priority"`
	// Groups name lists of middleware. Keys keep their YAML case.
	Groups map[string][]string `mapstructure:"groups"`
}

type LogConfig struct {
	Verbose bool `mapstructure:"verbose"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "rpcd")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 9501)
	v.SetDefault("server.http_port", 0)
	v.SetDefault("server.h2c", false)
	v.SetDefault("server.workers", 0)
	v.SetDefault("server.max_connections", 10240)
	v.SetDefault("server.queue_size", 256)
	v.SetDefault("server.max_message_bytes", 1<<20)
	v.SetDefault("server.pid_file", xdg.PIDFile())
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("management.enabled", true)
	v.SetDefault("management.host", "127.0.0.1")
	v.SetDefault("management.port", 9503)
	v.SetDefault("log.verbose", false)
}

// Load reads path when given, applies RPCD_* overrides, and validates.
// An empty path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Viper lowercases map keys; middleware group names are case-sensitive.
	if path != "" {
		//nolint:gosec // config file path from validated user input
		data, err := os.ReadFile(path)
		if err == nil {
			var raw struct {
				Middleware struct {
					Groups map[string][]string `yaml:"groups"`
				} `yaml:"middleware"`
			}
			if yaml.Unmarshal(data, &raw) == nil && len(raw.Middleware.Groups) > 0 {
				cfg.Middleware.Groups = raw.Middleware.Groups
			}
		}
	}

	cfg.Server.PIDFile = xdg.ExpandPath(cfg.Server.PIDFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Validate checks ports, sizes, and that listeners do not collide.
func (c *Config) Validate() error {
	var errs []error
	checkPort := func(name string, port int, optional bool) {
		if optional && port == 0 {
			return
		}
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("invalid %s: %d (must be 1-65535)", name, port))
		}
	}

	checkPort("server.port", c.Server.Port, false)
	checkPort("server.http_port", c.Server.HTTPPort, true)
	if c.Management.Enabled {
		checkPort("management.port", c.Management.Port, false)
	}
	if c.Server.Workers < 0 {
		errs = append(errs, fmt.Errorf("invalid server.workers: %d", c.Server.Workers))
	}
	if c.Server.MaxConnections < 1 {
		errs = append(errs, fmt.Errorf("invalid server.max_connections: %d (must be positive)", c.Server.MaxConnections))
	}
	if c.Server.MaxMessageBytes < 1 {
		errs = append(errs, fmt.Errorf("invalid server.max_message_bytes: %d (must be positive)", c.Server.MaxMessageBytes))
	}
	if c.Server.PIDFile == "" {
		errs = append(errs, errors.New("server.pid_file must not be empty"))
	}

	seen := map[string]string{}
	for name, addr := range c.listeners() {
		if other, ok := seen[addr]; ok {
			errs = append(errs, fmt.Errorf("%s and %s both listen on %s", other, name, addr))
		}
		seen[addr] = name
	}
	return errors.Join(errs...)
}

func (c *Config) listeners() map[string]string {
	l := map[string]string{"server.port": c.WebSocketAddr()}
	if c.Server.HTTPPort != 0 {
		l["server.http_port"] = c.HTTPAddr()
	}
	if c.Management.Enabled {
		l["management.port"] = c.ManagementAddr()
	}
	return l
}

func (c *Config) WebSocketAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.HTTPPort))
}

func (c *Config) ManagementAddr() string {
	return net.JoinHostPort(c.Management.Host, strconv.Itoa(c.Management.Port))
}

// Apply registers the configured priority list and groups.
func (m MiddlewareConfig) Apply(r *middleware.Registry) {
	if len(m.Priority) > 0 {
		r.SetPriority(m.Priority...)
	}
	for name, members := range m.Groups {
		r.Group(name, members...)
	}
}
