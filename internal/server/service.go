package server

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/matt-riley/orderz/internal/catalog"
	"github.com/matt-riley/orderz/internal/metadata"
	"github.com/matt-riley/orderz/internal/service"
)

type Service interface {
	GenerateMetadata(ctx context.Context, req service.MetadataRequest) (metadata.ProductMetadata, error)
	PriceOrder(ctx context.Context, req service.OrderRequest) (service.PricedOrder, error)
	PlaceOrder(ctx context.Context, req service.OrderRequest) (service.Order, service.PricedOrder, error)
	GetOrder(ctx context.Context, id uuid.UUID) (service.Order, error)
	RepriceOrder(ctx context.Context, id uuid.UUID) (service.PricedOrder, error)
	PutEntity(ctx context.Context, entity catalog.Entity, effectiveAt *time.Time) (catalog.Diff, error)
	RetireEntity(ctx context.Context, kind catalog.EntityKind, id string, effectiveAt *time.Time) (catalog.Diff, error)
	ListVersions(ctx context.Context) []catalog.Version
	CreateVersion(ctx context.Context, effectiveAt *time.Time, description string) (catalog.Version, error)
	Snapshot(ctx context.Context, at *time.Time, versionID *uuid.UUID) (catalog.Export, error)
}

var _ Service = (*service.Service)(nil)
