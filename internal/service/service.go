package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/matt-riley/orderz/internal/catalog"
	"github.com/matt-riley/orderz/internal/repository"
)

const (
	defaultCacheResyncInterval = time.Minute
	cacheReloadTimeout         = 5 * time.Second
	defaultCurrency            = "USD"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrVersionNotFound   = errors.New("catalog version not found")
	ErrNoCatalogVersion  = errors.New("no catalog version is in effect")
	ErrIncompleteProduct = errors.New("product is missing required selections")
	ErrInvalidRequest    = errors.New("invalid request")
)

type Repository interface {
	ListCatalogRows(ctx context.Context) ([]catalog.Row, error)
	ListCatalogVersions(ctx context.Context) ([]catalog.Version, error)
	ApplyCatalogDiff(ctx context.Context, diff catalog.Diff) error
	CreateCatalogVersion(ctx context.Context, version catalog.Version) (catalog.Version, error)
	CreateOrder(ctx context.Context, order repository.Order) (repository.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (repository.Order, error)
}

type cacheInvalidationSubscriber interface {
	SubscribeCatalogInvalidation(ctx context.Context) (<-chan struct{}, error)
}

// PricingDefaults are applied to every order that does not override them.
// A placed order stores the defaults it was priced with.
type PricingDefaults struct {
	Currency     string           `json:"currency"`
	TaxRate      decimal.Decimal  `json:"tax_rate"`
	GratuityRate *decimal.Decimal `json:"gratuity_rate,omitempty"`
	// ServiceFee is in minor units of Currency.
	ServiceFee int64 `json:"service_fee"`
}

type Service struct {
	repo  Repository
	store *catalog.Store
	// editMu serializes catalog edits so each one prepares against the
	// state the previous one published.
	editMu sync.Mutex

	logger         *slog.Logger
	now            func() time.Time
	location       *time.Location
	defaults       PricingDefaults
	resyncInterval time.Duration

	onCacheLoad         func()
	onCacheInvalidation func()
	onCatalogSize       func(rowsByKind map[string]int, versions int)
	onGeneration        func(result string)
	onPricing           func(outcome string)
	onOrderPlaced       func()
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now for availability checks and version stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the restaurant time zone that availability windows are
// evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithPricingDefaults(defaults PricingDefaults) Option {
	return func(s *Service) {
		if defaults.Currency == "" {
			defaults.Currency = defaultCurrency
		}
		s.defaults = defaults
	}
}

func WithCacheResyncInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.resyncInterval = interval
		}
	}
}

// WithCacheMetrics registers callbacks fired on every catalog reload and
// every NOTIFY-triggered invalidation. Nil callbacks are ignored.
func WithCacheMetrics(onLoad, onInvalidation func(), onSize func(rowsByKind map[string]int, versions int)) Option {
	return func(s *Service) {
		s.onCacheLoad = onLoad
		s.onCacheInvalidation = onInvalidation
		s.onCatalogSize = onSize
	}
}

// WithEngineMetrics registers callbacks fired after each metadata
// generation, each pricing run and each persisted order.
func WithEngineMetrics(onGeneration, onPricing func(string), onOrderPlaced func()) Option {
	return func(s *Service) {
		s.onGeneration = onGeneration
		s.onPricing = onPricing
		s.onOrderPlaced = onOrderPlaced
	}
}

func New(ctx context.Context, repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}

	svc := &Service{
		repo:           repo,
		logger:         slog.Default(),
		now:            time.Now,
		location:       time.UTC,
		defaults:       PricingDefaults{Currency: defaultCurrency},
		resyncInterval: defaultCacheResyncInterval,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.store = catalog.NewStore(catalog.WithStoreClock(svc.clock))

	if err := svc.LoadCache(ctx); err != nil {
		return nil, err
	}
	if subscriber, ok := repo.(cacheInvalidationSubscriber); ok {
		if err := svc.startCacheInvalidationListener(ctx, subscriber); err != nil {
			return nil, err
		}
	}

	return svc, nil
}

func (s *Service) clock() time.Time {
	return s.now().In(s.location)
}

// LoadCache replaces the in-memory catalog with the persisted rows and
// versions.
func (s *Service) LoadCache(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "service.LoadCache")
	defer func() { endSpan(span, err) }()

	rows, err := s.repo.ListCatalogRows(ctx)
	if err != nil {
		return fmt.Errorf("load catalog rows: %w", err)
	}
	versions, err := s.repo.ListCatalogVersions(ctx)
	if err != nil {
		return fmt.Errorf("load catalog versions: %w", err)
	}
	if err := s.store.Load(rows, versions); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	if s.onCacheLoad != nil {
		s.onCacheLoad()
	}
	if s.onCatalogSize != nil {
		byKind := make(map[string]int, len(catalog.Kinds))
		for _, row := range rows {
			byKind[string(row.Kind)]++
		}
		s.onCatalogSize(byKind, len(versions))
	}
	span.SetAttributes(attribute.Int("orderz.catalog_rows", len(rows)), attribute.Int("orderz.catalog_versions", len(versions)))
	return nil
}

func (s *Service) startCacheInvalidationListener(ctx context.Context, subscriber cacheInvalidationSubscriber) error {
	invalidations, err := subscriber.SubscribeCatalogInvalidation(ctx)
	if err != nil {
		return fmt.Errorf("subscribe cache invalidation: %w", err)
	}

	go func() {
		resyncTicker := time.NewTicker(s.resyncInterval)
		defer resyncTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-resyncTicker.C:
				if invalidations == nil {
					next, err := subscriber.SubscribeCatalogInvalidation(ctx)
					if err == nil {
						invalidations = next
					}
				}
				s.reloadCache(ctx)
			case _, ok := <-invalidations:
				if !ok {
					next, err := subscriber.SubscribeCatalogInvalidation(ctx)
					if err != nil {
						invalidations = nil
						continue
					}
					invalidations = next
					continue
				}
				if s.onCacheInvalidation != nil {
					s.onCacheInvalidation()
				}
				s.reloadCache(ctx)
			}
		}
	}()

	return nil
}

func (s *Service) reloadCache(ctx context.Context) {
	reloadCtx, cancel := context.WithTimeout(ctx, cacheReloadTimeout)
	defer cancel()
	if err := s.LoadCache(reloadCtx); err != nil {
		s.logger.Warn("catalog reload failed", "error", err)
	}
}

func (s *Service) recordGeneration(result string) {
	if s.onGeneration != nil {
		s.onGeneration(result)
	}
}

func (s *Service) recordPricing(outcome string) {
	if s.onPricing != nil {
		s.onPricing(outcome)
	}
}
