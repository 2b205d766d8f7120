package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	charmLog "github.com/charmbracelet/log"
	"github.com/google/uuid"
	serveradapter "github.com/hylla/traq/internal/adapters/server"
	"github.com/hylla/traq/internal/adapters/storage/sqlitedoc"
	"github.com/hylla/traq/internal/app"
	"github.com/hylla/traq/internal/audit"
	"github.com/hylla/traq/internal/config"
	"github.com/hylla/traq/internal/notify"
	"github.com/hylla/traq/internal/platform"
	"github.com/hylla/traq/internal/sequence"
)

// version stores a package-level helper value.
var version = "dev"

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

// main handles main.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run runs the requested command flow.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("traq", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		configPath string
		dbPath     string
		appName    string
		devMode    bool
		showVer    bool
	)
	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv("TRAQ_DEV_MODE"); ok {
		defaultDevMode = envDev
	}
	if envApp := strings.TrimSpace(os.Getenv("TRAQ_APP_NAME")); envApp != "" {
		appName = envApp
	} else {
		appName = "traq"
	}
	fs.StringVar(&configPath, "config", "", "path to config TOML")
	fs.StringVar(&dbPath, "db", "", "path to sqlite database (:memory: for an in-memory store)")
	fs.StringVar(&appName, "app", appName, "application name for config/data path resolution")
	fs.BoolVar(&devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")
	fs.BoolVar(&showVer, "version", false, "show version")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showVer {
		_, _ = fmt.Fprintf(stdout, "traq %s\n", version)
		return nil
	}

	paths, err := platform.DefaultPathsWithOptions(platform.Options{
		AppName: appName,
		DevMode: devMode,
	})
	if err != nil {
		return err
	}

	command := firstArg(fs.Args())
	switch command {
	case "paths":
		_, _ = fmt.Fprintf(stdout, "app: %s\n", appName)
		_, _ = fmt.Fprintf(stdout, "dev_mode: %t\n", devMode)
		_, _ = fmt.Fprintf(stdout, "config: %s\n", paths.ConfigPath)
		_, _ = fmt.Fprintf(stdout, "data_dir: %s\n", paths.DataDir)
		_, _ = fmt.Fprintf(stdout, "db: %s\n", paths.DBPath)
		return nil
	case "", "serve":
		// Continue.
	default:
		return fmt.Errorf("unknown command: %s", command)
	}

	dbOverridden := strings.TrimSpace(dbPath) != ""
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("TRAQ_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	if !dbOverridden {
		if envPath := strings.TrimSpace(os.Getenv("TRAQ_DB_PATH")); envPath != "" {
			dbPath = envPath
			dbOverridden = true
		} else {
			dbPath = paths.DBPath
		}
	}

	defaultCfg := config.Default(dbPath)
	cfg, err := config.Load(configPath, defaultCfg)
	if err != nil {
		return fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}

	logger := charmLog.NewWithOptions(stderr, charmLog.Options{
		ReportTimestamp: true,
		Prefix:          appName,
	})
	if devMode {
		logger.SetLevel(charmLog.DebugLevel)
	}

	logger.Info("startup configuration resolved", "app", appName, "dev_mode", devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", dbPath)

	storeOpts := sqlitedoc.Options{
		MaxRetries:   cfg.Allocator.MaxRetries,
		RetryBackoff: time.Duration(cfg.Allocator.RetryBackoffMS) * time.Millisecond,
	}
	var gw *sqlitedoc.Gateway
	if cfg.Database.Path == ":memory:" {
		logger.Info("opening in-memory document store")
		gw, err = sqlitedoc.OpenInMemory(storeOpts)
	} else {
		if err := platform.EnsureDataDir(cfg.Database.Path); err != nil {
			return fmt.Errorf("ensure data dir: %w", err)
		}
		logger.Info("opening document store", "db_path", cfg.Database.Path)
		gw, err = sqlitedoc.Open(cfg.Database.Path, storeOpts)
	}
	if err != nil {
		logger.Error("document store open failed", "db_path", cfg.Database.Path, "err", err)
		return fmt.Errorf("open document store: %w", err)
	}
	defer func() {
		if closeErr := gw.Close(); closeErr != nil {
			logger.Warn("document store close failed", "db_path", cfg.Database.Path, "err", closeErr)
		}
	}()
	logger.Info("document store ready", "db_path", cfg.Database.Path, "migrations", "ensured")

	idGen := uuid.NewString
	clock := time.Now
	svc := app.NewService(
		gw,
		sequence.NewAllocator(gw),
		audit.NewLogger(gw, idGen, clock),
		notify.NewDispatcher(gw, idGen, clock),
		idGen,
		clock,
		logger,
		app.ServiceConfig{
			LegacyTenantField: cfg.Search.LegacyTenantField,
			DefaultPageSize:   cfg.Search.DefaultPageSize,
			MaxPageSize:       cfg.Search.MaxPageSize,
		},
	)
	logger.Debug("application service initialized", "default_page_size", cfg.Search.DefaultPageSize)

	logger.Info("command flow start", "command", "serve")
	if err := runServe(ctx, svc, fs.Args(), appName, cfg); err != nil {
		logger.Error("command flow failed", "command", "serve", "err", err)
		return fmt.Errorf("run serve command: %w", err)
	}
	logger.Info("command flow complete", "command", "serve")
	return nil
}

// runServe runs the serve subcommand flow.
func runServe(ctx context.Context, svc *app.Service, args []string, appName string, cfg config.Config) error {
	if len(args) > 0 && args[0] == "serve" {
		args = args[1:]
	}
	fs := flag.NewFlagSet("traq serve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		httpBind    string
		apiEndpoint string
		mcpEndpoint string
	)
	fs.StringVar(&httpBind, "http", cfg.Server.Bind, "HTTP listen address")
	fs.StringVar(&apiEndpoint, "api-endpoint", cfg.Server.APIEndpoint, "HTTP API base endpoint")
	fs.StringVar(&mcpEndpoint, "mcp-endpoint", cfg.Server.MCPEndpoint, "MCP streamable HTTP endpoint")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse serve flags: %w", err)
	}
	if len(fs.Args()) > 0 {
		return fmt.Errorf("unexpected serve arguments: %v", fs.Args())
	}

	return serveCommandRunner(ctx, serveradapter.Config{
		HTTPBind:      httpBind,
		APIEndpoint:   apiEndpoint,
		MCPEndpoint:   mcpEndpoint,
		ServerName:    appName,
		ServerVersion: version,
	}, serveradapter.Dependencies{
		Tracker: svc,
	})
}

// firstArg handles first arg.
func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(args[0])
}

// parseBoolEnv parses input into a normalized form.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return parsed, true
}
