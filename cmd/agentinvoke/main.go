// Command agentinvoke runs prompts through the invocation engine.
//
// Usage:
//
//	agentinvoke invoke "fix the bug"
//	agentinvoke stream --timeout 10s "write a haiku"
//	agentinvoke batch --concurrency 4 "first" "second" "third"
//	agentinvoke capabilities --config agentinvoke.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/agentinvoke"
	"github.com/hupe1980/agentinvoke/config"
	"github.com/hupe1980/agentinvoke/core"
	"github.com/hupe1980/agentinvoke/logging"
)

// CLI defines the command-line interface.
type CLI struct {
	Version      VersionCmd      `cmd:"" help:"Show version information."`
	Invoke       InvokeCmd       `cmd:"" help:"Run a single-shot invocation."`
	Stream       StreamCmd       `cmd:"" help:"Run a streaming invocation and print chunks as they arrive."`
	Batch        BatchCmd        `cmd:"" help:"Run several prompts concurrently."`
	Capabilities CapabilitiesCmd `cmd:"" help:"Show the backend's capabilities."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	EnvFile   string `name:"env-file" help:"Dotenv file loaded before the config." default:".env"`
	Provider  string `help:"Override backend.provider (echo, anthropic, openai)."`
	LogLevel  string `help:"Override logging.level (debug, info, warn, error)."`
	LogFormat string `help:"Override logging.format (text, json)."`
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("agentinvoke"),
		kong.Description("Invocation lifecycle manager for pluggable agent backends"),
		kong.UsageOnError(),
	)

	if err := loadDotEnv(cli.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", cli.EnvFile, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	err := kctx.Run(&cli)
	if code := exitCode(err); code != 0 {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(code)
	}
}

// loadDotEnv loads path into the environment; a missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// exitCode maps error kinds onto process exit codes.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	switch core.KindOf(err) {
	case core.KindValidation:
		return 2
	case core.KindTimeout:
		return 3
	case core.KindCancelled:
		return 130
	default:
		return 1
	}
}

// loadConfig reads the config file (or defaults) and applies flag overrides.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if c.Config != "" {
		var err error
		if cfg, err = config.Load(c.Config); err != nil {
			return nil, err
		}
	}

	if c.Provider != "" {
		cfg.Backend.Provider = c.Provider
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Logging.Format = c.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// setup builds the façade and, when enabled, serves /metrics until the
// returned cleanup runs.
func (c *CLI) setup() (*agentinvoke.AgentInvoke, func(), error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	ai, err := agentinvoke.NewFromConfig(cfg, reg)
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Metrics.Enabled {
		return ai, func() {}, nil
	}

	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logger := logging.NewSlogLogger(level, cfg.Logging.Format, false).WithComponent("cli")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", cfg.Metrics.Addr, "error", err.Error())
		}
	}()
	logger.Info("serving metrics", "addr", cfg.Metrics.Addr)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return ai, cleanup, nil
}
