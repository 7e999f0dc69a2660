package service

import (
	"github.com/flexprice/invoicing/internal/config"
	"github.com/flexprice/invoicing/internal/domain/invoice"
	"github.com/flexprice/invoicing/internal/exchangerate"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/numbering"
	"github.com/flexprice/invoicing/internal/postgres"
	"github.com/flexprice/invoicing/internal/sideeffect"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient

	// Repositories
	InvoiceRepo invoice.Repository

	// Engines
	Numbering     numbering.Service
	ExchangeRates exchangerate.Service
	SideEffects   sideeffect.Dispatcher
}

// NewServiceParams creates a new ServiceParams instance
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	invoiceRepo invoice.Repository,
	numbering numbering.Service,
	exchangeRates exchangerate.Service,
	sideEffects sideeffect.Dispatcher,
) ServiceParams {
	return ServiceParams{
		Logger:        logger,
		Config:        config,
		DB:            db,
		InvoiceRepo:   invoiceRepo,
		Numbering:     numbering,
		ExchangeRates: exchangeRates,
		SideEffects:   sideEffects,
	}
}
