package api

import (
	v1 "github.com/flexprice/invoicing/internal/api/v1"
	"github.com/flexprice/invoicing/internal/config"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/rest/middleware"
	"github.com/flexprice/invoicing/internal/types"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Health       *v1.HealthHandler
	Invoice      *v1.InvoiceHandler
	Counter      *v1.CounterHandler
	ExchangeRate *v1.ExchangeRateHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, logger *logger.Logger) *gin.Engine {
	if cfg.Deployment.Mode != types.ModeLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.CORSMiddleware,
		middleware.SentryMiddleware(cfg),
		middleware.ErrorHandler(logger),
	)

	router.GET("/health", handlers.Health.Health)

	v1Router := router.Group("/v1")

	invoices := v1Router.Group("/invoices")
	{
		invoices.POST("/proforma", handlers.Invoice.IssueProforma)
		invoices.GET("", handlers.Invoice.ListInvoices)
		invoices.GET("/:id", handlers.Invoice.GetInvoice)
		invoices.GET("/:id/status", handlers.Invoice.GetStatus)
		invoices.POST("/:id/pay", handlers.Invoice.MarkPaid)
		invoices.POST("/:id/cancel", handlers.Invoice.CancelInvoice)
		invoices.POST("/:id/resend", handlers.Invoice.ResendDocuments)
	}

	v1Router.GET("/counters", handlers.Counter.ListCounters)

	rates := v1Router.Group("/exchange-rates")
	{
		rates.GET("/cache", handlers.ExchangeRate.GetCacheStatus)
		rates.DELETE("/cache", handlers.ExchangeRate.ClearCache)
	}

	return router
}
