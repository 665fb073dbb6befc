// Package config loads process configuration once at startup: a yaml file
// named by SOLVER_CONFIG, with environment overrides on top. The result is
// immutable afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes yaml values like "2h" or "1500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like 30s or 2h: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// App enables one solver application on the listener.
type App struct {
	Name       string   `yaml:"name"`
	StickyKeys []string `yaml:"sticky_keys"`
}

type Config struct {
	HTTPPort      string `yaml:"http_port"`
	ChainEndpoint string `yaml:"chain_endpoint"`
	FromAccount   string `yaml:"from_account"`

	FromLatest bool   `yaml:"from_latest"`
	FromBlock  uint64 `yaml:"from_block"`

	ListenerMode   string `yaml:"listener_mode"`
	TargetContract string `yaml:"target_contract"`
	TargetApp      string `yaml:"target_app"`

	Laminator   string            `yaml:"laminator"`
	CallBreaker string            `yaml:"call_breaker"`
	SolverAddr  string            `yaml:"solver_address"`
	Contracts   map[string]string `yaml:"contracts"`

	Apps []App `yaml:"apps"`

	GasLimit         uint64   `yaml:"gas_limit"`
	MaxBatchSize     int      `yaml:"max_batch_size"`
	SettlementWindow Duration `yaml:"settlement_window"`
	Tick             Duration `yaml:"tick"`
	LogPollInterval  Duration `yaml:"log_poll_interval"`

	StatsBuffer      int     `yaml:"stats_buffer"`
	ReportRatePerSec float64 `yaml:"report_rate_per_sec"`
	ReportBurst      int     `yaml:"report_burst"`
}

// Load reads the yaml file named by SOLVER_CONFIG (if set), applies env
// overrides, and fills defaults.
func Load() (Config, error) {
	cfg := Config{}
	if path := getenv("SOLVER_CONFIG", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPPort = getenv("SOLVER_HTTP_PORT", cfg.HTTPPort)
	cfg.ChainEndpoint = getenv("SOLVER_CHAIN_ENDPOINT", cfg.ChainEndpoint)
	cfg.FromAccount = getenv("SOLVER_FROM_ACCOUNT", cfg.FromAccount)
	cfg.FromLatest = getenvBool("SOLVER_FROM_LATEST", cfg.FromLatest)
	cfg.FromBlock = uint64(getenvInt("SOLVER_FROM_BLOCK", int(cfg.FromBlock)))
	cfg.ListenerMode = getenv("SOLVER_LISTENER_MODE", cfg.ListenerMode)
	cfg.TargetContract = getenv("SOLVER_TARGET_CONTRACT", cfg.TargetContract)
	cfg.TargetApp = getenv("SOLVER_TARGET_APP", cfg.TargetApp)
	cfg.Laminator = getenv("SOLVER_LAMINATOR", cfg.Laminator)
	cfg.CallBreaker = getenv("SOLVER_CALL_BREAKER", cfg.CallBreaker)
	cfg.SolverAddr = getenv("SOLVER_ADDRESS", cfg.SolverAddr)
	cfg.GasLimit = uint64(getenvInt("SOLVER_GAS_LIMIT", int(cfg.GasLimit)))
	cfg.MaxBatchSize = getenvInt("SOLVER_MAX_BATCH_SIZE", cfg.MaxBatchSize)
	if sec := getenvInt("SOLVER_TICK_SECONDS", 0); sec > 0 {
		cfg.Tick = Duration(time.Duration(sec) * time.Second)
	}
	if sec := getenvInt("SOLVER_SETTLEMENT_WINDOW_SECONDS", 0); sec > 0 {
		cfg.SettlementWindow = Duration(time.Duration(sec) * time.Second)
	}
	if ms := getenvInt("SOLVER_LOG_POLL_MILLIS", 0); ms > 0 {
		cfg.LogPollInterval = Duration(time.Duration(ms) * time.Millisecond)
	}
	cfg.StatsBuffer = getenvInt("SOLVER_STATS_BUFFER", cfg.StatsBuffer)
	cfg.ReportRatePerSec = getenvFloat("SOLVER_REPORT_RATE_PER_SEC", cfg.ReportRatePerSec)
	cfg.ReportBurst = getenvInt("SOLVER_REPORT_BURST", cfg.ReportBurst)
}

func applyDefaults(cfg *Config) {
	if cfg.HTTPPort == "" {
		cfg.HTTPPort = "8080"
	}
	if cfg.ChainEndpoint == "" {
		cfg.ChainEndpoint = "http://localhost:8545"
	}
	if cfg.ListenerMode == "" {
		cfg.ListenerMode = "selector"
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 1_000_000
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.SettlementWindow <= 0 {
		cfg.SettlementWindow = Duration(24 * time.Hour)
	}
	if cfg.Tick <= 0 {
		cfg.Tick = Duration(2 * time.Second)
	}
	if cfg.LogPollInterval <= 0 {
		cfg.LogPollInterval = Duration(1500 * time.Millisecond)
	}
	if cfg.StatsBuffer <= 0 {
		cfg.StatsBuffer = 256
	}
	if cfg.ReportRatePerSec <= 0 {
		cfg.ReportRatePerSec = 50
	}
	if cfg.ReportBurst <= 0 {
		cfg.ReportBurst = 100
	}
	if len(cfg.Apps) == 0 {
		cfg.Apps = []App{{Name: "CLEANAPP.SCHEDULER", StickyKeys: []string{"CRON", "PAYOUT"}}}
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}
