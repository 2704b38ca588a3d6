// Package clientconfig はcartctlの設定ファイル（YAML）。
package clientconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseURL     string        `yaml:"base_url"`
	StorePath   string        `yaml:"store_path"`
	Timeout     time.Duration `yaml:"timeout"`
	Debounce    time.Duration `yaml:"debounce"`
	Retries     int           `yaml:"retries"`
	RetryBase   time.Duration `yaml:"retry_base"`
	LogLevel    string        `yaml:"log_level"`
	Locale      string        `yaml:"locale"`
	CurrencySym string        `yaml:"currency_symbol"`
}

func Default() Config {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return Config{
		BaseURL:     "http://localhost:8080",
		StorePath:   filepath.Join(dir, "cartctl", "cart.db"),
		Timeout:     5 * time.Second,
		Debounce:    400 * time.Millisecond,
		Retries:     3,
		RetryBase:   200 * time.Millisecond,
		LogLevel:    "warn",
		Locale:      "en",
		CurrencySym: "$",
	}
}

// pathのYAMLを読む。ファイルが無ければデフォルト。
// CARTCTL_BASE_URL / CARTCTL_STORE があればそちらを優先する。
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("CARTCTL_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("CARTCTL_STORE"); v != "" {
		cfg.StorePath = v
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		return Config{}, errors.New("base_url is required")
	}
	if cfg.Timeout <= 0 {
		return Config{}, errors.New("timeout must be > 0")
	}
	return cfg, nil
}

// 設定ファイルの既定の場所
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "cartctl.yaml"
	}
	return filepath.Join(dir, "cartctl", "config.yaml")
}
