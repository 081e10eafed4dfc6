package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"grid-trader-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string        `yaml:"env"` // sim 或 live
	Symbol  string        `yaml:"symbol"`
	Account AccountConfig `yaml:"account"`
	Grid    GridConfig    `yaml:"grid"`
	Data    DataConfig    `yaml:"data"`
	Logger  logger.Config `yaml:"logger"`
	Metrics MetricsConfig `yaml:"metrics"`
	Gateway GatewayConfig `yaml:"gateway"`
}

type AccountConfig struct {
	InitialCash float64 `yaml:"initialCash"`
	Fee         float64 `yaml:"fee"` // 单边费率
}

type GridConfig struct {
	Boundaries []float64 `yaml:"boundaries"` // 升序档位边界价
	StopOffset float64   `yaml:"stopOffset"` // 触发价相对边界的偏移
}

type DataConfig struct {
	CSV string `yaml:"csv"` // 历史行情文件
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // Prometheus 监听地址，留空关闭
}

// GatewayConfig 保存实盘适配层的访问凭据（仅 env=live 时必填）。
type GatewayConfig struct {
	BaseURL    string `yaml:"baseURL"`
	WSURL      string `yaml:"wsURL"`
	APIKey     string `yaml:"apiKey"`
	APISecret  string `yaml:"apiSecret"`
	Passphrase string `yaml:"passphrase"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

func parse(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if cfg.Logger.Level == "" {
		cfg.Logger = logger.DefaultConfig()
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env
// vars before validation, so live credentials can live outside the file.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("GT_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("GT_GATEWAY_API_SECRET"); v != "" {
		cfg.Gateway.APISecret = v
	}
	if v := os.Getenv("GT_GATEWAY_PASSPHRASE"); v != "" {
		cfg.Gateway.Passphrase = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present and consistent.
func Validate(cfg AppConfig) error {
	if cfg.Env != "sim" && cfg.Env != "live" {
		return fmt.Errorf("env must be sim or live, got %q", cfg.Env)
	}
	if cfg.Symbol == "" {
		return errors.New("symbol is required")
	}
	if cfg.Account.InitialCash <= 0 {
		return errors.New("account.initialCash must be > 0")
	}
	if cfg.Account.Fee < 0 || cfg.Account.Fee >= 1 {
		return errors.New("account.fee must be in [0,1)")
	}
	if len(cfg.Grid.Boundaries) < 2 {
		return errors.New("grid.boundaries needs at least 2 entries")
	}
	for i := 1; i < len(cfg.Grid.Boundaries); i++ {
		if cfg.Grid.Boundaries[i] <= cfg.Grid.Boundaries[i-1] {
			return fmt.Errorf("grid.boundaries must be strictly increasing at index %d", i)
		}
	}
	if cfg.Grid.Boundaries[0] <= 0 {
		return errors.New("grid.boundaries must be positive")
	}
	if cfg.Grid.StopOffset < 0 {
		return errors.New("grid.stopOffset must be >= 0")
	}
	if cfg.Env == "live" {
		if cfg.Gateway.BaseURL == "" || cfg.Gateway.WSURL == "" {
			return errors.New("gateway.baseURL/wsURL is required for live env")
		}
		if cfg.Gateway.APIKey == "" || cfg.Gateway.APISecret == "" {
			return errors.New("gateway.apiKey/apiSecret is required for live env (or env overrides)")
		}
	}
	return nil
}
