package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/flexprice/invoicing/internal/api"
	v1 "github.com/flexprice/invoicing/internal/api/v1"
	"github.com/flexprice/invoicing/internal/cache"
	"github.com/flexprice/invoicing/internal/config"
	domainRate "github.com/flexprice/invoicing/internal/domain/exchangerate"
	"github.com/flexprice/invoicing/internal/domain/invoice"
	"github.com/flexprice/invoicing/internal/email"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/exchangerate"
	"github.com/flexprice/invoicing/internal/httpclient"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/numbering"
	"github.com/flexprice/invoicing/internal/paymentlink"
	"github.com/flexprice/invoicing/internal/pdf"
	"github.com/flexprice/invoicing/internal/postgres"
	repo "github.com/flexprice/invoicing/internal/repository/postgres"
	"github.com/flexprice/invoicing/internal/s3"
	"github.com/flexprice/invoicing/internal/sentry"
	"github.com/flexprice/invoicing/internal/service"
	"github.com/flexprice/invoicing/internal/sideeffect"
	"github.com/flexprice/invoicing/internal/typst"
	"github.com/flexprice/invoicing/internal/validator"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	var opts []fx.Option

	// Core dependencies
	opts = append(opts,
		fx.Provide(
			validator.NewValidator,
			config.NewConfig,
			logger.NewLogger,
			cache.NewCache,
		),
		sentry.Module(),
		postgres.Module(),
		fx.Decorate(postgres.NewSentryClient),
	)

	// Repositories and engines
	opts = append(opts,
		fx.Provide(
			provideInvoiceRepository,
			provideCounterRepository,
			provideRateFeed,
			exchangerate.NewService,
			provideNumbering,
		),
	)

	// Side-effect collaborators
	opts = append(opts,
		fx.Provide(
			typst.NewCompilerFromConfig,
			pdf.NewGenerator,
			s3.NewService,
			pdf.NewRenderer,
			provideCollaborators,
			provideOrchestrator,
		),
	)

	// Service layer and API
	opts = append(opts,
		fx.Provide(
			service.NewServiceParams,
			service.NewInvoiceService,
			provideHandlers,
			api.NewRouter,
		),
		fx.Invoke(startServer),
	)

	app := fx.New(opts...)
	app.Run()
}

func provideInvoiceRepository(db *postgres.DB, log *logger.Logger) (invoice.Repository, error) {
	if db == nil {
		return nil, ierr.NewError("postgres is required to persist invoices").
			WithHint("Set postgres.enabled to true").
			Mark(ierr.ErrDependency)
	}
	return repo.NewInvoiceRepository(db, log), nil
}

// provideCounterRepository returns a nil interface without postgres so
// numbering can decide whether the in-process fallback is acceptable.
func provideCounterRepository(db *postgres.DB, log *logger.Logger) invoice.CounterRepository {
	if db == nil {
		return nil
	}
	return repo.NewCounterRepository(db, log)
}

func provideRateFeed(cfg *config.Configuration) domainRate.Feed {
	client := httpclient.NewClient(httpclient.ClientConfig{
		Timeout:      cfg.ExchangeRate.FetchTimeout,
		RetryMax:     2,
		RetryWaitMin: 200 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	})
	return exchangerate.NewBNRFeed(client, cfg.ExchangeRate.FeedURL, cfg.ExchangeRate.Provider)
}

func provideNumbering(cfg *config.Configuration, counters invoice.CounterRepository, log *logger.Logger) (numbering.Service, error) {
	return numbering.NewService(cfg, counters, log)
}

// provideCollaborators turns disabled adapters into nil interfaces so the
// orchestrator skips their steps.
func provideCollaborators(cfg *config.Configuration, renderer *pdf.Renderer, log *logger.Logger) sideeffect.Collaborators {
	var collaborators sideeffect.Collaborators

	if links := paymentlink.NewStripeProvider(cfg, log); links != nil {
		collaborators.Links = links
	}
	if sender := email.NewSender(email.NewEmailClient(cfg.Email), log); sender != nil {
		collaborators.Sender = sender
	}
	if cfg.Typst.Enabled {
		collaborators.Renderer = renderer
	}

	log.Infow("side effect collaborators configured",
		"payment_link", collaborators.Links != nil,
		"document", collaborators.Renderer != nil,
		"notification", collaborators.Sender != nil,
		"mode", cfg.SideEffects.Mode)
	return collaborators
}

func provideOrchestrator(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	collaborators sideeffect.Collaborators,
	invoices invoice.Repository,
	sentrySvc *sentry.Service,
	log *logger.Logger,
) sideeffect.Dispatcher {
	orchestrator := sideeffect.NewOrchestrator(cfg, collaborators, invoices, sentrySvc, log)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("waiting for pending side effects...")
			return orchestrator.Shutdown(ctx)
		},
	})
	return orchestrator
}

func provideHandlers(
	db *postgres.DB,
	invoiceService service.InvoiceService,
	log *logger.Logger,
) api.Handlers {
	var pinger v1.Pinger
	if db != nil {
		pinger = db
	}

	return api.Handlers{
		Health:       v1.NewHealthHandler(pinger, log),
		Invoice:      v1.NewInvoiceHandler(invoiceService, log),
		Counter:      v1.NewCounterHandler(invoiceService),
		ExchangeRate: v1.NewExchangeRateHandler(invoiceService, log),
	}
}

func startServer(lc fx.Lifecycle, r *gin.Engine, cfg *config.Configuration, log *logger.Logger) {
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server", "address", cfg.Server.Address)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server...")
			return srv.Shutdown(ctx)
		},
	})
}
