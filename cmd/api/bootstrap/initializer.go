package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/docgen-engine/internal/adapters/primary/http/controller"
	httpmapper "github.com/rendis/docgen-engine/internal/adapters/primary/http/mapper"
	"github.com/rendis/docgen-engine/internal/adapters/primary/http/middleware"
	"github.com/rendis/docgen-engine/internal/adapters/secondary/salesforce"
	templaterepo "github.com/rendis/docgen-engine/internal/adapters/secondary/salesforce/template_repo"
	trackingrepo "github.com/rendis/docgen-engine/internal/adapters/secondary/salesforce/tracking_repo"
	"github.com/rendis/docgen-engine/internal/core/service/assembly"
	"github.com/rendis/docgen-engine/internal/core/service/generation"
	"github.com/rendis/docgen-engine/internal/core/service/idempotency"
	"github.com/rendis/docgen-engine/internal/core/service/merge"
	"github.com/rendis/docgen-engine/internal/core/service/merge/docx"
	"github.com/rendis/docgen-engine/internal/core/service/publish"
	"github.com/rendis/docgen-engine/internal/core/service/rendering"
	"github.com/rendis/docgen-engine/internal/core/service/template"
	"github.com/rendis/docgen-engine/internal/infra/config"
	"github.com/rendis/docgen-engine/internal/infra/server"
	"github.com/rendis/docgen-engine/internal/infra/worker"
)

// appComponents holds everything with a lifecycle.
type appComponents struct {
	httpServer *server.Server
	poller     *worker.Poller
}

func (a *appComponents) cleanup(ctx context.Context) {
	slog.Info("cleaning up resources")
	a.poller.Stop()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		slog.Warn("http server shutdown", "error", err)
	}
	slog.Info("cleanup complete")
}

// initialize creates all components using manual DI.
func (e *Engine) initialize(ctx context.Context, cfg *config.Config) (*appComponents, error) {
	// --- Operational Defaults ---
	defaults, err := config.LoadDefaults()
	if err != nil {
		return nil, err
	}

	// --- Record Store Client ---
	sfClient, err := salesforce.New(&salesforce.Config{
		Domain:     cfg.Salesforce.Domain,
		ClientID:   cfg.Salesforce.ClientID,
		Username:   cfg.Salesforce.Username,
		PrivateKey: cfg.Salesforce.PrivateKey,
		APIVersion: cfg.Salesforce.APIVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("building record store client: %w", err)
	}

	// --- Repositories ---
	trackingRepo := trackingrepo.New(sfClient)
	templateRepo := templaterepo.New(sfClient)

	// --- Template Cache ---
	cache := template.NewCache(cfg.Cache.MaxBytes)
	loader := template.NewLoader(cache, templateRepo)

	// --- Merge + Concatenation ---
	mergeEngine := merge.NewEngine(cfg.Merge.ExpressionTimeout())
	concatenator := docx.NewConcatenator()

	// --- Conversion Pool ---
	pool := rendering.NewPool(
		cfg.Conversion.BinPath,
		cfg.Conversion.Workdir,
		cfg.Conversion.Timeout(),
		int64(cfg.Conversion.MaxConcurrent),
	)

	// --- Publisher ---
	publisher := publish.New(sfClient, templateRepo, trackingRepo)

	// --- Assembly ---
	providerRegistry := assembly.NewRegistry()
	for name, p := range e.providers {
		providerRegistry.Register(name, p)
	}
	soqlProvider := assembly.NewSOQLProvider(sfClient)
	assembler := assembly.NewAssembler(templateRepo, providerRegistry, soqlProvider, defaults.WellKnownForeignKeys)

	// --- Idempotency Guard ---
	guard := idempotency.NewGuard(trackingRepo, cfg.Idempotency.Window())

	// --- Generation Pipeline ---
	pipeline := generation.NewPipeline(loader, mergeEngine, concatenator, pool, publisher, cfg.Merge.AllowedImageHosts())

	// --- Batch Poller ---
	poller := worker.New(worker.Config{
		ActiveInterval: cfg.Poller.ActiveInterval(),
		IdleInterval:   cfg.Poller.IdleInterval(),
		BatchSize:      cfg.Poller.BatchSize,
		LockTTL:        cfg.Poller.LockTTL(),
		MaxAttempts:    cfg.Poller.MaxAttempts,
		DrainGrace:     cfg.Poller.DrainGrace(),
		StartupJitter:  5 * time.Second,
	}, trackingRepo, pipeline, defaults.Backoff)

	// --- Inbound Auth ---
	verifier, err := middleware.NewVerifier(ctx, &cfg.Auth)
	if err != nil {
		return nil, err
	}

	// --- Controllers ---
	generateCtrl := controller.NewGenerateController(
		httpmapper.NewGenerateMapper(), assembler, guard, pipeline, trackingRepo, sfClient,
	)
	workerCtrl := controller.NewWorkerController(poller, pool, cache)
	healthCtrl := controller.NewHealthController(sfClient, verifier, true)

	// --- HTTP Server ---
	router := server.NewRouter(&cfg.Server, cfg.Env, verifier, server.Controllers{
		Generate: generateCtrl,
		Worker:   workerCtrl,
		Health:   healthCtrl,
	})
	httpServer := server.New(&cfg.Server, router)

	return &appComponents{
		httpServer: httpServer,
		poller:     poller,
	}, nil
}
