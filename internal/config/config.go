package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides, e.g. CODEROOM_REDIS_ADDR.
const EnvPrefix = "CODEROOM"

type Config struct {
	Server struct {
		Port            string `yaml:"port"`
		ShutdownTimeout string `yaml:"shutdownTimeout" split_words:"true"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Auth struct {
		Secret   string `yaml:"secret"`
		Issuer   string `yaml:"issuer"`
		TokenTTL string `yaml:"tokenTTL" envconfig:"TOKEN_TTL"`
	} `yaml:"auth"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Problems struct {
		TTL      string `yaml:"ttl"`
		SeedFile string `yaml:"seedFile" split_words:"true"`
	} `yaml:"problems"`
	Judge struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"judge"`
	Rooms struct {
		CompletionGrace  string `yaml:"completionGrace" split_words:"true"`
		Retention        string `yaml:"retention"`
		SweepInterval    string `yaml:"sweepInterval" split_words:"true"`
		SubscriberBuffer int    `yaml:"subscriberBuffer" split_words:"true"`
		RelayQueue       int    `yaml:"relayQueue" split_words:"true"`
	} `yaml:"rooms"`
	WS struct {
		LeaveOnDisconnect bool    `yaml:"leaveOnDisconnect" split_words:"true"`
		RateLimit         float64 `yaml:"rateLimit" split_words:"true"`
		RateBurst         int     `yaml:"rateBurst" split_words:"true"`
		PingInterval      string  `yaml:"pingInterval" split_words:"true"`
	} `yaml:"ws"`
}

// Load reads YAML config from path and applies CODEROOM_* environment
// overrides. An empty path yields defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("env overrides: %w", err)
	}
	return cfg, nil
}

// Defaults returns a config that runs fully in memory.
func Defaults() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Server.ShutdownTimeout = "5s"
	cfg.Log.Level = "info"
	cfg.Auth.Issuer = "coderoom"
	cfg.Auth.TokenTTL = "24h"
	cfg.Redis.TTL = "1h"
	cfg.Problems.TTL = "5m"
	cfg.Judge.Timeout = "10s"
	cfg.Rooms.CompletionGrace = "10s"
	cfg.Rooms.Retention = "10m"
	cfg.Rooms.SweepInterval = "1m"
	cfg.Rooms.SubscriberBuffer = 8
	cfg.Rooms.RelayQueue = 256
	cfg.WS.RateLimit = 10
	cfg.WS.RateBurst = 20
	cfg.WS.PingInterval = "30s"
	return cfg
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
