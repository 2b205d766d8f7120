package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Server    ServerConfig    `toml:"server"`
	Allocator AllocatorConfig `toml:"allocator"`
	Search    SearchConfig    `toml:"search"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type ServerConfig struct {
	Bind        string `toml:"bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

type AllocatorConfig struct {
	MaxRetries     int `toml:"max_retries"`
	RetryBackoffMS int `toml:"retry_backoff_ms"`
}

type SearchConfig struct {
	DefaultPageSize int `toml:"default_page_size"`
	MaxPageSize     int `toml:"max_page_size"`
	// LegacyTenantField names a fallback scope field scanned alongside
	// tenant_id for records written before the primary scope existed.
	LegacyTenantField string `toml:"legacy_tenant_field"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Server: ServerConfig{
			Bind:        "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Allocator: AllocatorConfig{
			MaxRetries:     5,
			RetryBackoffMS: 25,
		},
		Search: SearchConfig{
			DefaultPageSize: 50,
			MaxPageSize:     500,
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}
	if strings.TrimSpace(c.Server.Bind) == "" {
		return errors.New("server bind address is required")
	}
	if c.Allocator.MaxRetries <= 0 {
		return errors.New("allocator.max_retries must be > 0")
	}
	if c.Allocator.RetryBackoffMS < 0 {
		return errors.New("allocator.retry_backoff_ms must be >= 0")
	}
	if c.Search.DefaultPageSize <= 0 {
		return errors.New("search.default_page_size must be > 0")
	}
	if c.Search.MaxPageSize < c.Search.DefaultPageSize {
		return errors.New("search.max_page_size must be >= search.default_page_size")
	}
	if field := strings.TrimSpace(c.Search.LegacyTenantField); field != "" {
		for _, r := range field {
			switch {
			case r >= 'a' && r <= 'z':
			case r >= '0' && r <= '9':
			case r == '_':
			default:
				return fmt.Errorf("invalid search.legacy_tenant_field: %q", field)
			}
		}
	}
	return nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
