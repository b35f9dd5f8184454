package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config carries every tunable of the monitor. Values resolve in three
// layers: built-in defaults, then the optional YAML file, then environment
// variables (environment always wins).
type Config struct {
	Monitor MonitorConfig `yaml:"monitor"`
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

type MonitorConfig struct {
	Symbols                []string  `yaml:"symbols"`
	Depth                  int       `yaml:"depth"`
	BaseMmNotional         float64   `yaml:"base_mm_notional"`
	LargeMoveNotional      float64   `yaml:"large_move_notional"`
	LargeMoveWindowBps     float64   `yaml:"large_move_window_bps"`
	LargeMoveNotionalFloor float64   `yaml:"large_move_notional_floor"`
	SizeBins               []float64 `yaml:"size_bins"`
	DistanceBinsBps        []float64 `yaml:"distance_bins_bps"`
	MetricsIntervalMs      int       `yaml:"metrics_interval_ms"`
	LogIntervalMs          int       `yaml:"log_interval_ms"`
	PollIntervalMs         int       `yaml:"poll_interval_ms"`
	LiveMonitoring         bool      `yaml:"live_monitoring"`
	OutlierZ               float64   `yaml:"outlier_z"`
	MetricsOutlierZ        float64   `yaml:"metrics_outlier_z"`
	SpanTradeProximityBps  float64   `yaml:"span_trade_proximity_bps"`
	MidHistoryRetentionSec int       `yaml:"mid_history_retention_sec"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
}

type StoreConfig struct {
	DataDir string `yaml:"data_dir"`
	DBFile  string `yaml:"db_file"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func defaults() *Config {
	return &Config{
		Monitor: MonitorConfig{
			Symbols:                []string{"WHITEWHALEUSDT"},
			Depth:                  50,
			BaseMmNotional:         30000,
			LargeMoveNotional:      30000,
			LargeMoveWindowBps:     200,
			LargeMoveNotionalFloor: 2000,
			SizeBins:               []float64{500, 1000, 2500, 5000, 10000, 25000, 50000},
			DistanceBinsBps:        []float64{5, 10, 25, 50, 100, 200},
			MetricsIntervalMs:      1000,
			LogIntervalMs:          5000,
			PollIntervalMs:         2000,
			LiveMonitoring:         true,
			OutlierZ:               5,
			MetricsOutlierZ:        4,
			SpanTradeProximityBps:  5,
			MidHistoryRetentionSec: 300,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3000,
		},
		Store: StoreConfig{
			DataDir: "data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load resolves the configuration. The YAML file is optional; a missing
// file is not an error so the monitor can run on environment alone.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.Store.DBFile == "" {
		cfg.Store.DBFile = filepath.Join(cfg.Store.DataDir, "depthwatch.db")
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SYMBOLS"); v != "" {
		cfg.Monitor.Symbols = splitSymbols(v)
	}
	envInt("DEPTH", &cfg.Monitor.Depth)
	envFloat("BASE_MM_NOTIONAL", &cfg.Monitor.BaseMmNotional)
	envFloat("LARGE_MOVE_NOTIONAL", &cfg.Monitor.LargeMoveNotional)
	envFloat("LARGE_MOVE_WINDOW_BPS", &cfg.Monitor.LargeMoveWindowBps)
	envFloat("LARGE_MOVE_NOTIONAL_FLOOR", &cfg.Monitor.LargeMoveNotionalFloor)
	if v := os.Getenv("SIZE_BINS"); v != "" {
		if bins, err := splitFloats(v); err == nil {
			cfg.Monitor.SizeBins = bins
		}
	}
	if v := os.Getenv("DISTANCE_BINS_BPS"); v != "" {
		if bins, err := splitFloats(v); err == nil {
			cfg.Monitor.DistanceBinsBps = bins
		}
	}
	envInt("METRICS_INTERVAL_MS", &cfg.Monitor.MetricsIntervalMs)
	envInt("LOG_INTERVAL_MS", &cfg.Monitor.LogIntervalMs)
	envInt("POLL_INTERVAL_MS", &cfg.Monitor.PollIntervalMs)
	if v := os.Getenv("LIVE_MONITORING"); v != "" {
		cfg.Monitor.LiveMonitoring = !isFalsy(v)
	}

	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	envInt("PORT", &cfg.Server.Port)
	if v, ok := os.LookupEnv("BASE_PATH"); ok {
		cfg.Server.BasePath = normalizeBasePath(v)
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
		cfg.Store.DBFile = ""
	}
	if v := os.Getenv("DB_FILE"); v != "" {
		cfg.Store.DBFile = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.Output = v
	}
}

func validate(cfg *Config) error {
	if len(cfg.Monitor.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if cfg.Monitor.Depth <= 0 {
		return fmt.Errorf("depth must be positive, got %d", cfg.Monitor.Depth)
	}
	if cfg.Monitor.MetricsIntervalMs <= 0 {
		return fmt.Errorf("metrics interval must be positive, got %d", cfg.Monitor.MetricsIntervalMs)
	}
	if cfg.Monitor.PollIntervalMs < 1000 {
		cfg.Monitor.PollIntervalMs = 1000
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Server.Port)
	}
	return nil
}

func splitSymbols(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitFloats(v string) ([]float64, error) {
	parts := strings.Split(v, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func isFalsy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0", "no", "off":
		return true
	}
	return false
}

// normalizeBasePath forces a leading slash and strips the trailing one so
// route groups can concatenate safely. Empty stays empty.
func normalizeBasePath(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "/" {
		return ""
	}
	if !strings.HasPrefix(v, "/") {
		v = "/" + v
	}
	return strings.TrimSuffix(v, "/")
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}
