package testutil

import (
	"context"
	"time"

	"github.com/flexprice/invoicing/internal/cache"
	"github.com/flexprice/invoicing/internal/config"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/types"
	"github.com/flexprice/invoicing/internal/validator"
	"github.com/stretchr/testify/suite"
)

// Stores holds the in-memory repositories used by service tests
type Stores struct {
	InvoiceRepo *InMemoryInvoiceStore
	CounterRepo *InMemoryCounterStore
}

// Collaborators holds the mocked side-effect collaborators
type Collaborators struct {
	Links    *MockPaymentLinkProvider
	Renderer *MockDocumentRenderer
	Sender   *MockNotificationSender
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx           context.Context
	stores        Stores
	collaborators Collaborators
	db            *MockPostgresClient
	cache         cache.Cache
	rateFeed      *FakeRateFeed
	logger        *logger.Logger
	config        *config.Configuration
	now           time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	validator.NewValidator()
	s.logger = logger.NewNoopLogger()
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = SetupContext()
	s.now = time.Now().UTC()
	s.setupConfig()
	s.setupStores()
	s.db = NewMockPostgresClient(s.logger)
	s.cache = cache.NewInMemoryCache()
	s.rateFeed = NewFakeRateFeed("5.00")
	s.collaborators = Collaborators{
		Links:    new(MockPaymentLinkProvider),
		Renderer: new(MockDocumentRenderer),
		Sender:   new(MockNotificationSender),
	}
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.clearStores()
}

func (s *BaseServiceTestSuite) setupConfig() {
	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = types.LogLevelInfo
	cfg.ExchangeRate.LocalCurrency = "RON"
	cfg.ExchangeRate.ForeignCurrency = "EUR"
	cfg.SideEffects.Mode = types.SideEffectModeSync
	cfg.SideEffects.StepTimeout = time.Second
	s.config = cfg
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		InvoiceRepo: NewInMemoryInvoiceStore(),
		CounterRepo: NewInMemoryCounterStore(),
	}
}

func (s *BaseServiceTestSuite) clearStores() {
	s.stores.InvoiceRepo.Clear()
	s.stores.CounterRepo.Clear()
}

func (s *BaseServiceTestSuite) ClearStores() {
	s.clearStores()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetCollaborators returns the side-effect mocks
func (s *BaseServiceTestSuite) GetCollaborators() Collaborators {
	return s.collaborators
}

// GetDB returns the test database client
func (s *BaseServiceTestSuite) GetDB() *MockPostgresClient {
	return s.db
}

// GetCache returns the in-memory cache backing the rate service
func (s *BaseServiceTestSuite) GetCache() cache.Cache {
	return s.cache
}

// GetRateFeed returns the fake exchange rate feed
func (s *BaseServiceTestSuite) GetRateFeed() *FakeRateFeed {
	return s.rateFeed
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetNow returns the current test time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now.UTC()
}

// GetUUID returns a new UUID string
func (s *BaseServiceTestSuite) GetUUID() string {
	return types.GenerateUUID()
}
