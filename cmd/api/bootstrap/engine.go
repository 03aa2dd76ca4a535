// Package bootstrap assembles the service with manual dependency injection
// and owns the process lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/rendis/docgen-engine/internal/core/port"
	"github.com/rendis/docgen-engine/internal/infra/config"
	"github.com/rendis/docgen-engine/internal/infra/logging"
)

// Engine is the embedding entry point. Extensions are registered before Run.
type Engine struct {
	secrets   config.SecretProvider
	providers map[string]port.DataProvider
}

func New() *Engine {
	return &Engine{
		secrets:   config.EnvSecretProvider{},
		providers: map[string]port.DataProvider{},
	}
}

// SetSecretProvider overrides the default environment-backed secret source.
func (e *Engine) SetSecretProvider(p config.SecretProvider) {
	e.secrets = p
}

// RegisterDataProvider makes a named custom data provider available to
// templates configured with a CUSTOM data source.
func (e *Engine) RegisterDataProvider(name string, p port.DataProvider) {
	e.providers[name] = p
}

// Run loads configuration, builds all components, and serves until SIGINT or
// SIGTERM. It returns once shutdown has drained.
func (e *Engine) Run(ctx context.Context) error {
	cfg, err := config.Load(e.secrets)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logging.Setup(cfg.Env)
	slog.InfoContext(ctx, "starting docgen engine", "env", cfg.Env, "port", cfg.Server.Port)

	components, err := e.initialize(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components.poller.Start(runCtx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- components.httpServer.Start()
	}()

	select {
	case err := <-serveErr:
		components.cleanup(context.Background())
		return err
	case <-runCtx.Done():
		slog.Info("shutdown signal received")
	}

	components.cleanup(context.Background())
	return nil
}
