package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Consent   ConsentConfig   `yaml:"consent"`
	Sync      SyncConfig      `yaml:"sync"`
	SLA       SLAConfig       `yaml:"sla"`
	Anchor    AnchorConfig    `yaml:"anchor"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Evidence  EvidenceConfig  `yaml:"evidence"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ConsentConfig struct {
	// CurrentVersion of the consent document. A bump resets all grants until
	// users re-consent at the new version.
	CurrentVersion int `yaml:"current_version"`
}

type SyncConfig struct {
	MaxBatchSize int `yaml:"max_batch_size"`
}

type SLAConfig struct {
	// DefaultHours applies when a category has no explicit rule.
	DefaultHours int `yaml:"default_hours"`
	// Categories maps complaint category -> hours per escalation level.
	Categories map[string]SLALevels `yaml:"categories"`
}

type SLALevels struct {
	District int `yaml:"district"`
	State    int `yaml:"state"`
	National int `yaml:"national"`
}

type AnchorConfig struct {
	Enabled         bool   `yaml:"enabled"`
	RPCURL          string `yaml:"rpc_url"`
	ContractAddress string `yaml:"contract_address"`
	PrivateKey      string `yaml:"private_key"`
	ChainID         int64  `yaml:"chain_id"`
	MaxRetrySeconds int    `yaml:"max_retry_seconds"`
}

type AnalyticsConfig struct {
	KThreshold      int `yaml:"k_threshold"`
	BufferSize      int `yaml:"buffer_size"`
	FlushIntervalS  int `yaml:"flush_interval_seconds"`
	TimeBucketMins  int `yaml:"time_bucket_minutes"`
	GeoPrefixDigits int `yaml:"geo_prefix_digits"`
}

type DashboardConfig struct {
	RefreshIntervalS int `yaml:"refresh_interval_seconds"`
}

type SchedulerConfig struct {
	SLAIntervalS    int `yaml:"sla_interval_seconds"`
	AnchorIntervalS int `yaml:"anchor_interval_seconds"`
	OutboxIntervalS int `yaml:"outbox_interval_seconds"`
}

type EvidenceConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads the YAML config at path and applies environment overrides.
// A missing file yields defaults, so the service can boot from env alone.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Environment overrides (12-factor deploys set these instead of a file).
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ANCHOR_RPC_URL"); v != "" {
		cfg.Anchor.RPCURL = v
		cfg.Anchor.Enabled = true
	}
	if v := os.Getenv("ANCHOR_CONTRACT_ADDRESS"); v != "" {
		cfg.Anchor.ContractAddress = v
	}
	if v := os.Getenv("ANCHOR_PRIVATE_KEY"); v != "" {
		cfg.Anchor.PrivateKey = v
	}
	if v := os.Getenv("ANALYTICS_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			cfg.Analytics.KThreshold = k
		}
	}
	if v := os.Getenv("EVIDENCE_DIR"); v != "" {
		cfg.Evidence.Dir = v
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", Env: "development"},
		Database: DatabaseConfig{URL: "postgres://localhost:5432/sahay?sslmode=disable"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Consent:  ConsentConfig{CurrentVersion: 1},
		Sync:     SyncConfig{MaxBatchSize: 500},
		SLA: SLAConfig{
			DefaultHours: 72,
			Categories: map[string]SLALevels{
				"medication_error": {District: 24, State: 12, National: 6},
				"discrimination":   {District: 48, State: 24, National: 12},
			},
		},
		Anchor: AnchorConfig{MaxRetrySeconds: 300},
		Analytics: AnalyticsConfig{
			KThreshold:      5,
			BufferSize:      100,
			FlushIntervalS:  300,
			TimeBucketMins:  15,
			GeoPrefixDigits: 3,
		},
		Dashboard: DashboardConfig{RefreshIntervalS: 600},
		Scheduler: SchedulerConfig{
			SLAIntervalS:    60,
			AnchorIntervalS: 30,
			OutboxIntervalS: 15,
		},
		Evidence: EvidenceConfig{Dir: "./data/evidence"},
	}
}

// SLAFor returns the deadline duration for a category at a level.
func (c *Config) SLAFor(category string, level string) time.Duration {
	hours := c.SLA.DefaultHours
	if lv, ok := c.SLA.Categories[category]; ok {
		switch level {
		case "district":
			hours = lv.District
		case "state":
			hours = lv.State
		case "national":
			hours = lv.National
		}
	}
	if hours <= 0 {
		hours = c.SLA.DefaultHours
	}
	return time.Duration(hours) * time.Hour
}
