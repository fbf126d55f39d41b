package utils

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FlowguardConfig configures the detection service.
type FlowguardConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Buffer   BufferConfig   `yaml:"buffer"`
	Scorer   ScorerConfig   `yaml:"scorer"`
	Identity IdentityConfig `yaml:"identity"`
	Redis    RedisConfig    `yaml:"redis"`
	Live     LiveConfig     `yaml:"live"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AlertsConfig configures the alerts API and stream consumer service.
type AlertsConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Database DatabaseConfig `yaml:"database"`
	Alerting AlertingConfig `yaml:"alerting"`
	Live     LiveConfig     `yaml:"live"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type BufferConfig struct {
	SoftTrigger            int    `yaml:"soft_trigger"`
	MaxWaitSeconds         int    `yaml:"max_wait_seconds"`
	Capacity               int    `yaml:"capacity"`
	EvictionPolicy         string `yaml:"eviction_policy"`
	MonitorIntervalSeconds int    `yaml:"monitor_interval_seconds"`
}

type ScorerConfig struct {
	ModelPath           string  `yaml:"model_path"`
	DecisionThreshold   float64 `yaml:"decision_threshold"`
	ThresholdPolarity   string  `yaml:"threshold_polarity"`
	StrictFeatures      bool    `yaml:"strict_features"`
	IncludeExplanations bool    `yaml:"include_explanations"`
}

// IdentityConfig names the traffic source in published messages.
type IdentityConfig struct {
	ClientID   string `yaml:"client_id"`
	ResourceID string `yaml:"resource_id"`
}

type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Stream    string `yaml:"stream"`
	Group     string `yaml:"group"`
	DLQStream string `yaml:"dlq_stream"`
	MaxLen    int64  `yaml:"max_len"`
}

type ConsumerConfig struct {
	ConsumerPrefix      string `yaml:"consumer_prefix"`
	ReadCount           int64  `yaml:"read_count"`
	BlockSeconds        int    `yaml:"block_seconds"`
	MaxRetries          int    `yaml:"max_retries"`
	DedupTTLHours       int    `yaml:"dedup_ttl_hours"`
	RetryTTLSeconds     int    `yaml:"retry_ttl_seconds"`
	ClaimMinIdleSeconds int    `yaml:"claim_min_idle_seconds"`
	Workers             int    `yaml:"workers"`
}

type DatabaseConfig struct {
	DSN            string `yaml:"dsn"`
	MigrationsPath string `yaml:"migrations_path"`
}

type AlertingConfig struct {
	MinBatchFlows      int                 `yaml:"min_batch_flows"`
	MinAttackRatio     float64             `yaml:"min_attack_ratio"`
	CriticalPct        float64             `yaml:"critical_pct"`
	HighPct            float64             `yaml:"high_pct"`
	MediumPct          float64             `yaml:"medium_pct"`
	MaxAlertsPerMinute int                 `yaml:"max_alerts_per_minute"`
	Channels           AlertChannelsConfig `yaml:"channels"`
	Telegram           TelegramConfig      `yaml:"telegram"`
}

type AlertChannelsConfig struct {
	Log      bool `yaml:"log"`
	Telegram bool `yaml:"telegram"`
}

type TelegramConfig struct {
	BotToken        string `yaml:"bot_token"`
	ChatID          string `yaml:"chat_id"`
	ParseMode       string `yaml:"parse_mode"`
	Enabled         bool   `yaml:"enabled"`
	MessageTemplate string `yaml:"message_template,omitempty"`
}

type LiveConfig struct {
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadFlowguardConfig reads and validates a detector config file.
// Environment references like ${REDIS_PASSWORD} are expanded first.
func LoadFlowguardConfig(filename string) (*FlowguardConfig, error) {
	if filename == "" {
		filename = "configs/flowguard.yaml"
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
	}

	var config FlowguardConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file %s: %v", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}

	return &config, nil
}

func (c *FlowguardConfig) Validate() error {
	if c.Server.Port == "" {
		c.Server.Port = "8000"
	}

	if c.Buffer.SoftTrigger <= 0 {
		c.Buffer.SoftTrigger = 500
	}
	if c.Buffer.MaxWaitSeconds <= 0 {
		c.Buffer.MaxWaitSeconds = 5
	}
	if c.Buffer.Capacity <= 0 {
		c.Buffer.Capacity = 2000
	}
	if c.Buffer.EvictionPolicy == "" {
		c.Buffer.EvictionPolicy = "drop_oldest"
	}
	if c.Buffer.MonitorIntervalSeconds <= 0 {
		c.Buffer.MonitorIntervalSeconds = 1
	}
	if c.Buffer.SoftTrigger > c.Buffer.Capacity {
		return fmt.Errorf("buffer soft_trigger %d exceeds capacity %d", c.Buffer.SoftTrigger, c.Buffer.Capacity)
	}

	if c.Scorer.ModelPath == "" {
		return fmt.Errorf("scorer model_path cannot be empty")
	}
	if c.Scorer.DecisionThreshold <= 0 {
		c.Scorer.DecisionThreshold = 0.022
	}
	if c.Scorer.ThresholdPolarity == "" {
		c.Scorer.ThresholdPolarity = "below"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	if c.Live.HeartbeatSeconds <= 0 {
		c.Live.HeartbeatSeconds = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

// GetDefaultFlowguardConfig returns a default FlowguardConfig
func GetDefaultFlowguardConfig() *FlowguardConfig {
	return &FlowguardConfig{
		Server: ServerConfig{Port: "8000"},
		Buffer: BufferConfig{
			SoftTrigger:            500,
			MaxWaitSeconds:         5,
			Capacity:               2000,
			EvictionPolicy:         "drop_oldest",
			MonitorIntervalSeconds: 1,
		},
		Scorer: ScorerConfig{
			ModelPath:           "models/ensemble.json",
			DecisionThreshold:   0.022,
			ThresholdPolarity:   "below",
			IncludeExplanations: true,
		},
		Redis: RedisConfig{
			Enabled: true,
			Addr:    "localhost:6379",
		},
		Live: LiveConfig{HeartbeatSeconds: 30},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "json",
		},
	}
}

// LoadAlertsConfig reads and validates an alerts service config file.
func LoadAlertsConfig(filename string) (*AlertsConfig, error) {
	if filename == "" {
		filename = "configs/alerts.yaml"
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
	}

	var config AlertsConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file %s: %v", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}

	return &config, nil
}

func (c *AlertsConfig) Validate() error {
	if c.Server.Port == "" {
		c.Server.Port = "5001"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	if c.Consumer.ConsumerPrefix == "" {
		c.Consumer.ConsumerPrefix = "alerts_worker"
	}
	if c.Consumer.ReadCount <= 0 {
		c.Consumer.ReadCount = 100
	}
	if c.Consumer.BlockSeconds <= 0 {
		c.Consumer.BlockSeconds = 5
	}
	if c.Consumer.MaxRetries <= 0 {
		c.Consumer.MaxRetries = 5
	}
	if c.Consumer.DedupTTLHours <= 0 {
		c.Consumer.DedupTTLHours = 24
	}
	if c.Consumer.RetryTTLSeconds <= 0 {
		c.Consumer.RetryTTLSeconds = 3600
	}
	if c.Consumer.ClaimMinIdleSeconds <= 0 {
		c.Consumer.ClaimMinIdleSeconds = 60
	}
	if c.Consumer.Workers <= 0 {
		c.Consumer.Workers = 1
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.Database.MigrationsPath == "" {
		c.Database.MigrationsPath = "migrations"
	}

	if c.Alerting.MinBatchFlows <= 0 {
		c.Alerting.MinBatchFlows = 40
	}
	if c.Alerting.MinAttackRatio <= 0 {
		c.Alerting.MinAttackRatio = 0.40
	}
	if c.Alerting.CriticalPct <= 0 {
		c.Alerting.CriticalPct = 80
	}
	if c.Alerting.HighPct <= 0 {
		c.Alerting.HighPct = 65
	}
	if c.Alerting.MediumPct <= 0 {
		c.Alerting.MediumPct = 50
	}
	if c.Alerting.MaxAlertsPerMinute <= 0 {
		c.Alerting.MaxAlertsPerMinute = 10
	}

	if c.Live.HeartbeatSeconds <= 0 {
		c.Live.HeartbeatSeconds = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

// GetDefaultAlertsConfig returns a default AlertsConfig. The database
// DSN has no default and must come from config or environment.
func GetDefaultAlertsConfig() *AlertsConfig {
	return &AlertsConfig{
		Server: ServerConfig{Port: "5001"},
		Redis: RedisConfig{
			Enabled: true,
			Addr:    "localhost:6379",
		},
		Consumer: ConsumerConfig{
			ConsumerPrefix:      "alerts_worker",
			ReadCount:           100,
			BlockSeconds:        5,
			MaxRetries:          5,
			DedupTTLHours:       24,
			RetryTTLSeconds:     3600,
			ClaimMinIdleSeconds: 60,
			Workers:             1,
		},
		Database: DatabaseConfig{
			MigrationsPath: "migrations",
		},
		Alerting: AlertingConfig{
			MinBatchFlows:      40,
			MinAttackRatio:     0.40,
			CriticalPct:        80,
			HighPct:            65,
			MediumPct:          50,
			MaxAlertsPerMinute: 10,
			Channels: AlertChannelsConfig{
				Log:      true,
				Telegram: false,
			},
			Telegram: TelegramConfig{
				ParseMode: "Markdown",
			},
		},
		Live: LiveConfig{HeartbeatSeconds: 30},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "json",
		},
	}
}
