package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type AssetConfig struct {
	Symbol string `yaml:"symbol"`
	Basis  string `yaml:"basis"`
}

type ExchangeConfig struct {
	Name         string   `yaml:"name"`
	RESTEndpoint string   `yaml:"rest_endpoint"`
	WSEndpoint   string   `yaml:"ws_endpoint"`
	Category     string   `yaml:"category"`
	Symbols      []string `yaml:"symbols"`
	BookDepth    int      `yaml:"book_depth"`
	BarInterval  string   `yaml:"bar_interval"`
}

type Config struct {
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	MarketData struct {
		ImpliedUSDT *bool `yaml:"implied_usdt"`
	} `yaml:"marketdata"`
	Storage struct {
		Enabled      bool   `yaml:"enabled"`
		Path         string `yaml:"path"`
		QueueSize    int    `yaml:"queue_size"`
		RestoreLimit int    `yaml:"restore_limit"`
		LogPath      string `yaml:"log_path"`
	} `yaml:"storage"`
	Assets    []AssetConfig    `yaml:"assets"`
	Exchanges []ExchangeConfig `yaml:"exchanges"`
}

// Load reads an optional .env file, the YAML config at path, then applies defaults,
// environment overrides and validation.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.MarketData.ImpliedUSDT == nil {
		seed := true
		c.MarketData.ImpliedUSDT = &seed
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "quotes.db"
	}
	if c.Storage.QueueSize == 0 {
		c.Storage.QueueSize = 1024
	}
	if c.Storage.RestoreLimit == 0 {
		c.Storage.RestoreLimit = 200
	}
	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		if ex.Category == "" {
			ex.Category = "linear"
		}
		if ex.BookDepth == 0 {
			ex.BookDepth = 50
		}
		if ex.BarInterval == "" {
			ex.BarInterval = "1"
		}
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("QUOTES_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("QUOTES_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QUOTES_SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("QUOTES_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	return nil
}

// SeedUSDT reports whether USD and USDT are pegged in the implied matrices.
func (c *Config) SeedUSDT() bool {
	return c.MarketData.ImpliedUSDT == nil || *c.MarketData.ImpliedUSDT
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Storage.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("storage.queue_size must not be negative"))
	}
	seen := make(map[string]bool)
	for _, a := range c.Assets {
		sym := strings.TrimSpace(a.Symbol)
		if sym == "" {
			errs = append(errs, errors.New("asset without symbol"))
			continue
		}
		if seen[sym] {
			errs = append(errs, fmt.Errorf("asset %s listed twice", sym))
		}
		seen[sym] = true
		basis, err := decimal.NewFromString(a.Basis)
		if err != nil || basis.Sign() <= 0 {
			errs = append(errs, fmt.Errorf("asset %s: basis %q must be a positive decimal", sym, a.Basis))
		}
	}
	for _, ex := range c.Exchanges {
		if ex.Name == "" {
			errs = append(errs, errors.New("exchange without name"))
		}
		if ex.BookDepth < 0 {
			errs = append(errs, fmt.Errorf("exchange %s: negative book_depth", ex.Name))
		}
		if _, err := BarInterval(ex.BarInterval); err != nil {
			errs = append(errs, fmt.Errorf("exchange %s: %w", ex.Name, err))
		}
	}
	return errors.Join(errs...)
}

// BarInterval converts a venue kline interval ("1", "60", "D", "W") into a duration.
func BarInterval(v string) (time.Duration, error) {
	switch strings.ToUpper(v) {
	case "D":
		return 24 * time.Hour, nil
	case "W":
		return 7 * 24 * time.Hour, nil
	}
	minutes, err := strconv.Atoi(v)
	if err != nil || minutes <= 0 {
		return 0, fmt.Errorf("bar interval %q is not a positive number of minutes", v)
	}
	return time.Duration(minutes) * time.Minute, nil
}
