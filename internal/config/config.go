package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Sanitizer    SanitizerConfig    `yaml:"sanitizer"`
	Consent      ConsentConfig      `yaml:"consent"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Workers      WorkersConfig      `yaml:"workers"`
	Audit        AuditConfig        `yaml:"audit"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	GRPCHealthPort   int           `yaml:"grpc_health_port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

type SanitizerConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxInputRunes int  `yaml:"max_input_runes"`
	// BlockRiskLevel halts the turn when the threat report reaches this level.
	// Empty disables blocking; input is then only sanitized.
	BlockRiskLevel string `yaml:"block_risk_level"`
}

type ConsentConfig struct {
	// Backend is one of "static", "postgres" or "policy".
	Backend       string        `yaml:"backend"`
	RequiredType  string        `yaml:"required_type"`
	DataCategory  string        `yaml:"data_category"`
	PolicyPath    string        `yaml:"policy_path"`
	OracleTimeout time.Duration `yaml:"oracle_timeout"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

type RateLimitConfig struct {
	// Backend is "memory" or "redis".
	Backend       string                `yaml:"backend"`
	Endpoint      string                `yaml:"endpoint"`
	IdleTTL       time.Duration         `yaml:"idle_ttl"`
	SweepInterval time.Duration         `yaml:"sweep_interval"`
	Scopes        map[string]ScopeLimit `yaml:"scopes"`
}

type ScopeLimit struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	Burst       int           `yaml:"burst"`
}

type WorkersConfig struct {
	EvictIdleAfter      time.Duration               `yaml:"evict_idle_after"`
	EvictInterval       time.Duration               `yaml:"evict_interval"`
	HealthCheckInterval time.Duration               `yaml:"health_check_interval"`
	CircuitBreaker      CircuitBreakerConfig        `yaml:"circuit_breaker"`
	Definitions         map[string]WorkerDefinition `yaml:"definitions"`
}

type CircuitBreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

type WorkerDefinition struct {
	// Kind is "remote" or "static".
	Kind     string            `yaml:"kind"`
	Endpoint string            `yaml:"endpoint,omitempty"`
	APIKey   string            `yaml:"api_key,omitempty"`
	Timeout  time.Duration     `yaml:"timeout,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	// Replies maps a language code to the canned reply of a static worker.
	Replies map[string]string `yaml:"replies,omitempty"`
}

type AuditConfig struct {
	// Sink is "log" or "postgres".
	Sink          string        `yaml:"sink"`
	QueueSize     int           `yaml:"queue_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
}

type OrchestratorConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	WorkerTimeout   time.Duration `yaml:"worker_timeout"`
	DefaultLanguage string        `yaml:"default_language"`
	MaxHistory      int           `yaml:"max_history"`
	// SessionBackend is "memory" or "redis".
	SessionBackend string        `yaml:"session_backend"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			GRPCHealthPort:   0,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "aegis",
			User:            "aegis",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			DB:        0,
			PoolSize:  50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			MetricsEnabled: true,
		},
		Sanitizer: SanitizerConfig{
			Enabled:       true,
			MaxInputRunes: 4000,
		},
		Consent: ConsentConfig{
			Backend:       "static",
			RequiredType:  "FUNCTIONAL",
			DataCategory:  "conversation_data",
			OracleTimeout: 500 * time.Millisecond,
			CacheTTL:      time.Minute,
		},
		RateLimit: RateLimitConfig{
			Backend:       "memory",
			Endpoint:      "chat",
			IdleTTL:       10 * time.Minute,
			SweepInterval: time.Minute,
			Scopes: map[string]ScopeLimit{
				"global":   {MaxRequests: 10000, Window: time.Minute, Burst: 500},
				"endpoint": {MaxRequests: 5000, Window: time.Minute, Burst: 250},
				"ip":       {MaxRequests: 300, Window: time.Minute, Burst: 20},
				"user":     {MaxRequests: 100, Window: time.Minute, Burst: 0},
			},
		},
		Workers: WorkersConfig{
			EvictIdleAfter:      30 * time.Minute,
			EvictInterval:       5 * time.Minute,
			HealthCheckInterval: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:      5,
				RecoveryProbeInterval: 15 * time.Second,
			},
		},
		Audit: AuditConfig{
			Sink:          "log",
			QueueSize:     10000,
			BatchSize:     100,
			FlushInterval: time.Second,
			MaxRetries:    3,
		},
		Orchestrator: OrchestratorConfig{
			MaxRetries:      1,
			WorkerTimeout:   30 * time.Second,
			DefaultLanguage: "hu",
			MaxHistory:      50,
			SessionBackend:  "memory",
			SessionTTL:      24 * time.Hour,
		},
	}
}
