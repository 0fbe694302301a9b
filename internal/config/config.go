package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mtzanidakis/sminos/internal/schedule"
	"gopkg.in/yaml.v3"
)

type Config struct {
	NATS    NATSConfig              `yaml:"nats"`
	Store   StoreConfig             `yaml:"store"`
	Web     WebConfig               `yaml:"web"`
	Monitor MonitorConfig           `yaml:"monitor"`
	Reason  ReasonConfig            `yaml:"reason"`
	Sweep   SweepConfig             `yaml:"sweep"`
	Agents  map[string]AgentProfile `yaml:"agents"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type MonitorConfig struct {
	Interval   time.Duration `yaml:"interval"`
	HistoryCap int           `yaml:"history_cap"`
}

type ReasonConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type SweepConfig struct {
	Schedule  string        `yaml:"schedule"`
	Retention time.Duration `yaml:"retention"`
}

// AgentProfile declares a swarm-capable agent seeded into the directory
// at startup. Scores are 0-100, capability proficiency 0-100.
type AgentProfile struct {
	Name            string             `yaml:"name"`
	UserID          string             `yaml:"user_id"`
	Capabilities    []Capability       `yaml:"capabilities"`
	Specializations []Specialization   `yaml:"specializations"`
	TrustScore      float64            `yaml:"trust_score"`
	CollabScore     float64            `yaml:"collaboration_score"`
	CompletionRate  float64            `yaml:"completion_rate"`
	Satisfaction    float64            `yaml:"satisfaction_score"`
	MaxLoad         int                `yaml:"max_load"`
	Roles           map[string]float64 `yaml:"roles"`
}

type Capability struct {
	Name        string   `yaml:"name"`
	Proficiency float64  `yaml:"proficiency"`
	Domains     []string `yaml:"domains"`
}

type Specialization struct {
	Domain string `yaml:"domain"`
	Level  string `yaml:"level"`
}

func defaults() Config {
	return Config{
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/sminos.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Monitor: MonitorConfig{
			Interval:   30 * time.Second,
			HistoryCap: 100,
		},
		Reason: ReasonConfig{
			Timeout: 20 * time.Second,
		},
		Sweep: SweepConfig{
			Schedule:  `{"kind":"cron","cron_expr":"0 3 * * *"}`,
			Retention: 7 * 24 * time.Hour,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("SMINOS_CONFIG")
	if path == "" {
		path = "config/sminos.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	// Accept plain cron expressions for the sweep schedule and reject
	// invalid ones at startup instead of silently disabling the sweeper.
	normalized, err := schedule.NormalizeSchedule(cfg.Sweep.Schedule)
	if err != nil {
		return nil, fmt.Errorf("sweep schedule: %w", err)
	}
	cfg.Sweep.Schedule = normalized

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SMINOS_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("SMINOS_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("SMINOS_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("SMINOS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SMINOS_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.Interval = d
		}
	}
	if v := os.Getenv("SMINOS_REASON_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reason.Timeout = d
		}
	}
}
