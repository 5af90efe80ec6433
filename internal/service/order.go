package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matt-riley/orderz/internal/catalog"
	"github.com/matt-riley/orderz/internal/expr"
	"github.com/matt-riley/orderz/internal/metadata"
	"github.com/matt-riley/orderz/internal/money"
	"github.com/matt-riley/orderz/internal/pricing"
	"github.com/matt-riley/orderz/internal/repository"
)

// Result labels passed to the engine metric callbacks.
const (
	resultOK         = "ok"
	resultIncomplete = "incomplete"
	resultInvalid    = "invalid"
	resultError      = "error"
)

type MetadataRequest struct {
	ProductID     string                `json:"product_id"`
	Selections    []expr.SelectedOption `json:"selections,omitempty"`
	FulfillmentID string                `json:"fulfillment_id,omitempty"`
	At            *time.Time            `json:"at,omitempty"`
	// VersionID evaluates against a published version instead of the live
	// catalog.
	VersionID *uuid.UUID `json:"version_id,omitempty"`
}

type OrderItem struct {
	ProductID  string                `json:"product_id" yaml:"product_id"`
	Quantity   int                   `json:"quantity" yaml:"quantity"`
	Selections []expr.SelectedOption `json:"selections,omitempty" yaml:"selections,omitempty"`
	// CategoryID defaults to the product's first category.
	CategoryID string `json:"category_id,omitempty" yaml:"category_id,omitempty"`
}

// OrderRequest is what a client submits. Rates left nil fall back to the
// configured pricing defaults.
type OrderRequest struct {
	FulfillmentID string             `json:"fulfillment_id,omitempty" yaml:"fulfillment_id,omitempty"`
	At            *time.Time         `json:"at,omitempty" yaml:"at,omitempty"`
	Items         []OrderItem        `json:"items" yaml:"items"`
	TaxRate       *decimal.Decimal   `json:"tax_rate,omitempty" yaml:"tax_rate,omitempty"`
	GratuityRate  *decimal.Decimal   `json:"gratuity_rate,omitempty" yaml:"gratuity_rate,omitempty"`
	Tip           pricing.Tip        `json:"tip" yaml:"tip"`
	Discounts     []pricing.Discount `json:"discounts,omitempty" yaml:"discounts,omitempty"`
	Payments      []pricing.Payment  `json:"payments,omitempty" yaml:"payments,omitempty"`
	CardToken     string             `json:"card_token,omitempty" yaml:"card_token,omitempty"`
}

// PricedOrder is the result of pricing a request against one catalog.
type PricedOrder struct {
	CatalogVersionID *uuid.UUID          `json:"catalog_version_id,omitempty"`
	At               time.Time           `json:"at"`
	Items            []pricing.CartEntry `json:"items"`
	Totals           pricing.Totals      `json:"totals"`
}

// Order is a persisted order. Item metadata is not stored; RepriceOrder
// derives it again from the pinned catalog version.
type Order struct {
	ID               uuid.UUID    `json:"id"`
	CatalogVersionID uuid.UUID    `json:"catalog_version_id"`
	Request          OrderRequest `json:"request"`
	// Pricing holds the defaults in force when the order was placed.
	Pricing   PricingDefaults `json:"pricing"`
	Totals    pricing.Totals  `json:"totals"`
	CreatedAt time.Time       `json:"created_at"`
}

// Quote derives item metadata and runs the pricing pipeline for req against
// snapshot at the given instant. It touches no shared state.
func Quote(snapshot *catalog.Snapshot, at time.Time, req OrderRequest, defaults PricingDefaults) (PricedOrder, error) {
	if len(req.Items) == 0 {
		return PricedOrder{}, fmt.Errorf("%w: order has no items", ErrInvalidRequest)
	}
	if req.FulfillmentID != "" {
		if _, ok := snapshot.Fulfillment(req.FulfillmentID); !ok {
			return PricedOrder{}, fmt.Errorf("%w: unknown fulfillment %q", ErrInvalidRequest, req.FulfillmentID)
		}
	}

	cart := make([]pricing.CartEntry, 0, len(req.Items))
	for i, item := range req.Items {
		product, ok := snapshot.Product(item.ProductID)
		if !ok {
			return PricedOrder{}, fmt.Errorf("items[%d] %q: %w", i, item.ProductID, ErrProductNotFound)
		}
		if err := checkSelections(snapshot, product, item.Selections); err != nil {
			return PricedOrder{}, fmt.Errorf("items[%d]: %w", i, err)
		}
		md, err := metadata.Generate(catalog.ProductInstance{ProductID: item.ProductID, Selections: item.Selections}, snapshot, at, req.FulfillmentID)
		if err != nil {
			return PricedOrder{}, fmt.Errorf("items[%d]: %w", i, classify(err))
		}
		if md.Incomplete {
			return PricedOrder{}, fmt.Errorf("items[%d] %q: %w", i, item.ProductID, ErrIncompleteProduct)
		}
		category := item.CategoryID
		if category == "" && len(product.CategoryIDs) > 0 {
			category = product.CategoryIDs[0]
		}
		cart = append(cart, pricing.CartEntry{Product: md, Quantity: item.Quantity, CategoryID: category})
	}

	currency := defaults.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	order := pricing.Order{
		Currency:     currency,
		Cart:         cart,
		ServiceFee:   money.New(defaults.ServiceFee, currency),
		GratuityRate: defaults.GratuityRate,
		TaxRate:      defaults.TaxRate,
		Tip:          req.Tip,
		Discounts:    req.Discounts,
		Payments:     req.Payments,
		CardToken:    req.CardToken,
	}
	if req.TaxRate != nil {
		order.TaxRate = *req.TaxRate
	}
	if req.GratuityRate != nil {
		order.GratuityRate = req.GratuityRate
	}

	totals, err := pricing.PriceOrder(order)
	if err != nil {
		return PricedOrder{}, classify(err)
	}
	return PricedOrder{At: at, Items: cart, Totals: totals}, nil
}

// classify wraps caller mistakes in ErrInvalidRequest and leaves catalog
// faults untouched.
func classify(err error) error {
	var validation *pricing.ValidationError
	if errors.Is(err, metadata.ErrInvalidSelection) || errors.As(err, &validation) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return err
}

// checkSelections rejects selections that name options the product does not
// offer. Inside the engine such references are catalog integrity faults.
func checkSelections(snapshot *catalog.Snapshot, product catalog.Product, selections []expr.SelectedOption) error {
	for _, sel := range selections {
		option, ok := snapshot.Option(sel.OptionID)
		if !ok || option.ModifierTypeID != sel.ModifierTypeID || !slices.Contains(product.Modifiers, sel.ModifierTypeID) {
			return fmt.Errorf("%w: product %q has no option %s/%s", ErrInvalidRequest, product.ID, sel.ModifierTypeID, sel.OptionID)
		}
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return resultOK
	case errors.Is(err, ErrIncompleteProduct):
		return resultIncomplete
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrProductNotFound):
		return resultInvalid
	default:
		return resultError
	}
}

// GenerateMetadata derives the customization state of one product instance.
func (s *Service) GenerateMetadata(_ context.Context, req MetadataRequest) (metadata.ProductMetadata, error) {
	md, err := s.generateMetadata(req)
	switch {
	case err != nil:
		s.recordGeneration(outcomeOf(err))
	case md.Incomplete:
		s.recordGeneration(resultIncomplete)
	default:
		s.recordGeneration(resultOK)
	}
	return md, err
}

func (s *Service) generateMetadata(req MetadataRequest) (metadata.ProductMetadata, error) {
	if strings.TrimSpace(req.ProductID) == "" {
		return metadata.ProductMetadata{}, fmt.Errorf("%w: product_id is required", ErrInvalidRequest)
	}
	at := s.resolveAt(req.At)
	snapshot, err := s.snapshot(at, req.VersionID)
	if err != nil {
		return metadata.ProductMetadata{}, err
	}
	product, ok := snapshot.Product(req.ProductID)
	if !ok {
		return metadata.ProductMetadata{}, fmt.Errorf("%q: %w", req.ProductID, ErrProductNotFound)
	}
	if err := checkSelections(snapshot, product, req.Selections); err != nil {
		return metadata.ProductMetadata{}, err
	}
	if req.FulfillmentID != "" {
		if _, ok := snapshot.Fulfillment(req.FulfillmentID); !ok {
			return metadata.ProductMetadata{}, fmt.Errorf("%w: unknown fulfillment %q", ErrInvalidRequest, req.FulfillmentID)
		}
	}

	md, err := metadata.Generate(catalog.ProductInstance{ProductID: req.ProductID, Selections: req.Selections}, snapshot, at, req.FulfillmentID)
	if err != nil {
		return metadata.ProductMetadata{}, classify(err)
	}
	return md, nil
}

// PriceOrder prices req against the live catalog without persisting it.
func (s *Service) PriceOrder(_ context.Context, req OrderRequest) (PricedOrder, error) {
	at := s.resolveAt(req.At)
	snapshot, err := s.store.AsOf(at)
	if err != nil {
		s.recordPricing(resultError)
		return PricedOrder{}, fmt.Errorf("catalog as of %s: %w", at.Format(time.RFC3339), err)
	}
	priced, err := Quote(snapshot, at, req, s.defaults)
	s.recordPricing(outcomeOf(err))
	return priced, err
}

// PlaceOrder prices req against the latest published catalog version and
// stores the request, the totals and the version id.
func (s *Service) PlaceOrder(ctx context.Context, req OrderRequest) (Order, PricedOrder, error) {
	ctx, span := tracer.Start(ctx, "service.PlaceOrder", trace.WithAttributes(
		attribute.Int("orderz.items", len(req.Items)),
	))
	order, priced, err := s.placeOrder(ctx, req)
	if err == nil {
		span.SetAttributes(
			attribute.String("orderz.order_id", order.ID.String()),
			attribute.String("orderz.catalog_version_id", order.CatalogVersionID.String()),
			attribute.Int64("orderz.total", priced.Totals.Total.Amount),
		)
	}
	endSpan(span, err)
	return order, priced, err
}

func (s *Service) placeOrder(ctx context.Context, req OrderRequest) (Order, PricedOrder, error) {
	at := s.resolveAt(req.At)
	version, ok := s.store.LatestVersion(at)
	if !ok {
		s.recordPricing(resultError)
		return Order{}, PricedOrder{}, ErrNoCatalogVersion
	}
	snapshot, err := s.store.SnapshotForVersion(version.ID)
	if err != nil {
		s.recordPricing(resultError)
		return Order{}, PricedOrder{}, fmt.Errorf("catalog version %s: %w", version.ID, err)
	}

	req.At = &at
	priced, err := Quote(snapshot, at, req, s.defaults)
	s.recordPricing(outcomeOf(err))
	if err != nil {
		return Order{}, PricedOrder{}, err
	}
	priced.CatalogVersionID = &version.ID

	pricingUsed := s.defaults
	if pricingUsed.Currency == "" {
		pricingUsed.Currency = defaultCurrency
	}
	requestJSON, err := json.Marshal(storedRequest{OrderRequest: req, Pricing: &pricingUsed})
	if err != nil {
		return Order{}, PricedOrder{}, fmt.Errorf("marshal order request: %w", err)
	}
	totalsJSON, err := json.Marshal(priced.Totals)
	if err != nil {
		return Order{}, PricedOrder{}, fmt.Errorf("marshal order totals: %w", err)
	}

	stored, err := s.repo.CreateOrder(ctx, repository.Order{
		ID:               uuid.New(),
		CatalogVersionID: version.ID,
		FulfillmentID:    req.FulfillmentID,
		Request:          requestJSON,
		Totals:           totalsJSON,
		CreatedAt:        s.clock(),
	})
	if err != nil {
		return Order{}, PricedOrder{}, fmt.Errorf("create order: %w", err)
	}
	if s.onOrderPlaced != nil {
		s.onOrderPlaced()
	}

	return Order{
		ID:               stored.ID,
		CatalogVersionID: stored.CatalogVersionID,
		Request:          req,
		Pricing:          pricingUsed,
		Totals:           priced.Totals,
		CreatedAt:        stored.CreatedAt,
	}, priced, nil
}

// storedRequest is the persisted form of a placed order's request. Rows
// written before pricing was recorded have no Pricing and fall back to the
// current defaults.
type storedRequest struct {
	OrderRequest
	Pricing *PricingDefaults `json:"pricing,omitempty"`
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	stored, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("get order: %w", err)
	}

	order := Order{
		ID:               stored.ID,
		CatalogVersionID: stored.CatalogVersionID,
		CreatedAt:        stored.CreatedAt,
	}
	var request storedRequest
	if err := json.Unmarshal(stored.Request, &request); err != nil {
		return Order{}, fmt.Errorf("decode order %s request: %w", id, err)
	}
	order.Request = request.OrderRequest
	order.Pricing = s.defaults
	if request.Pricing != nil {
		order.Pricing = *request.Pricing
	}
	if err := json.Unmarshal(stored.Totals, &order.Totals); err != nil {
		return Order{}, fmt.Errorf("decode order %s totals: %w", id, err)
	}
	return order, nil
}

// RepriceOrder prices a stored order again against the catalog version,
// instant and pricing defaults it was placed with. Later catalog edits and
// configuration changes do not change the result.
func (s *Service) RepriceOrder(ctx context.Context, id uuid.UUID) (PricedOrder, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return PricedOrder{}, err
	}
	snapshot, err := s.store.SnapshotForVersion(order.CatalogVersionID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return PricedOrder{}, fmt.Errorf("order %s: %w", id, ErrVersionNotFound)
		}
		return PricedOrder{}, err
	}

	at := order.CreatedAt
	if order.Request.At != nil {
		at = *order.Request.At
	}
	priced, err := Quote(snapshot, at.In(s.location), order.Request, order.Pricing)
	s.recordPricing(outcomeOf(err))
	if err != nil {
		return PricedOrder{}, err
	}
	priced.CatalogVersionID = &order.CatalogVersionID
	return priced, nil
}

func (s *Service) resolveAt(at *time.Time) time.Time {
	if at == nil || at.IsZero() {
		return s.clock()
	}
	return at.In(s.location)
}

func (s *Service) snapshot(at time.Time, versionID *uuid.UUID) (*catalog.Snapshot, error) {
	if versionID == nil {
		snapshot, err := s.store.AsOf(at)
		if err != nil {
			return nil, fmt.Errorf("catalog as of %s: %w", at.Format(time.RFC3339), err)
		}
		return snapshot, nil
	}
	snapshot, err := s.store.SnapshotForVersion(*versionID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", versionID, ErrVersionNotFound)
		}
		return nil, err
	}
	return snapshot, nil
}
