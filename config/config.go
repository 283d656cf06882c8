package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cwrk-planet/docsync/pkg/logger"
)

const defaultPath = "./config/config.yaml"

type GRPC struct {
	Addr string `yaml:"addr"`
}

type HTTP struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

type WS struct {
	MaxMessageSize  int64         `yaml:"maxMessageSize"` // bytes
	ReadBufferSize  int           `yaml:"readBufferSize"`
	WriteBufferSize int           `yaml:"writeBufferSize"`
	SendQueue       int           `yaml:"sendQueue"` // frames per connection
	PingPeriod      time.Duration `yaml:"pingPeriod"`
	PongWait        time.Duration `yaml:"pongWait"`
	WriteWait       time.Duration `yaml:"writeWait"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

type Registry struct {
	Shards int `yaml:"shards"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // docsync-relay
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

// Postgres is optional: without a DSN the document API is not mounted.
type Postgres struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwtSecret"`
	ClockSkew time.Duration `yaml:"clockSkew"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	WS       WS       `yaml:"ws"`
	Registry Registry `yaml:"registry"`
	Logging  Logging  `yaml:"logging"`
	Postgres Postgres `yaml:"postgres"`
	Auth     Auth     `yaml:"auth"`
}

// LoadConfig reads CONFIG_PATH (or ./config/config.yaml) after loading .env.
func LoadConfig() (*Config, error) {
	loadDotEnv()
	return Load(pathFromEnv())
}

func Load(path string) (*Config, error) {
	var cfg Config
	if err := readYAML(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func pathFromEnv() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return defaultPath
}

func loadDotEnv() {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "config: .env ignored: %v\n", err)
	}
}

func readYAML(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	overrideString(&c.HTTP.Addr, "HTTP_ADDR")
	overrideString(&c.GRPC.Addr, "GRPC_ADDR")
	overrideString(&c.Postgres.DSN, "POSTGRES_DSN")
	overrideString(&c.Auth.JWTSecret, "JWT_SECRET")
	overrideString(&c.Logging.Env, "APP_ENV")
}

func overrideString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.GRPC.Addr == "" {
		return errors.New("grpc.addr is required")
	}
	if c.Postgres.DSN != "" && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret is required when postgres.dsn is set")
	}

	// defaults for unset values
	if c.HTTP.ReadHeaderTimeout <= 0 {
		c.HTTP.ReadHeaderTimeout = 10 * time.Second
	}
	if c.HTTP.IdleTimeout <= 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}

	if c.WS.MaxMessageSize <= 0 {
		c.WS.MaxMessageSize = 1 << 20
	}
	if c.WS.ReadBufferSize <= 0 {
		c.WS.ReadBufferSize = 4096
	}
	if c.WS.WriteBufferSize <= 0 {
		c.WS.WriteBufferSize = 4096
	}
	if c.WS.SendQueue <= 0 {
		c.WS.SendQueue = 256
	}
	if c.WS.PongWait <= 0 {
		c.WS.PongWait = 60 * time.Second
	}
	if c.WS.PingPeriod <= 0 {
		c.WS.PingPeriod = c.WS.PongWait * 9 / 10
	}
	if c.WS.PingPeriod >= c.WS.PongWait {
		return fmt.Errorf("ws.pingPeriod (%s) must be shorter than ws.pongWait (%s)", c.WS.PingPeriod, c.WS.PongWait)
	}
	if c.WS.WriteWait <= 0 {
		c.WS.WriteWait = 10 * time.Second
	}

	if c.Registry.Shards <= 0 {
		c.Registry.Shards = 32
	}

	if c.Logging.Service == "" {
		c.Logging.Service = "docsync-relay"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	return nil
}

// Logger converts the logging section into a logger.Config.
func (l Logging) Logger() logger.Config {
	return logger.Config{
		Env:       logger.ParseEnv(l.Env),
		Service:   l.Service,
		Version:   l.Version,
		Backend:   logger.Backend(l.Backend),
		AddSource: l.AddSource,
		Debug:     l.Debug,
	}
}
