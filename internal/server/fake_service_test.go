package server

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/matt-riley/orderz/internal/catalog"
	"github.com/matt-riley/orderz/internal/metadata"
	"github.com/matt-riley/orderz/internal/service"
)

type fakeService struct {
	generateMetadataFunc func(context.Context, service.MetadataRequest) (metadata.ProductMetadata, error)
	priceOrderFunc       func(context.Context, service.OrderRequest) (service.PricedOrder, error)
	placeOrderFunc       func(context.Context, service.OrderRequest) (service.Order, service.PricedOrder, error)
	getOrderFunc         func(context.Context, uuid.UUID) (service.Order, error)
	repriceOrderFunc     func(context.Context, uuid.UUID) (service.PricedOrder, error)
	putEntityFunc        func(context.Context, catalog.Entity, *time.Time) (catalog.Diff, error)
	retireEntityFunc     func(context.Context, catalog.EntityKind, string, *time.Time) (catalog.Diff, error)
	listVersionsFunc     func(context.Context) []catalog.Version
	createVersionFunc    func(context.Context, *time.Time, string) (catalog.Version, error)
	snapshotFunc         func(context.Context, *time.Time, *uuid.UUID) (catalog.Export, error)
}

func (f *fakeService) GenerateMetadata(ctx context.Context, req service.MetadataRequest) (metadata.ProductMetadata, error) {
	if f.generateMetadataFunc == nil {
		return metadata.ProductMetadata{}, nil
	}
	return f.generateMetadataFunc(ctx, req)
}

func (f *fakeService) PriceOrder(ctx context.Context, req service.OrderRequest) (service.PricedOrder, error) {
	if f.priceOrderFunc == nil {
		return service.PricedOrder{}, nil
	}
	return f.priceOrderFunc(ctx, req)
}

func (f *fakeService) PlaceOrder(ctx context.Context, req service.OrderRequest) (service.Order, service.PricedOrder, error) {
	if f.placeOrderFunc == nil {
		return service.Order{}, service.PricedOrder{}, nil
	}
	return f.placeOrderFunc(ctx, req)
}

func (f *fakeService) GetOrder(ctx context.Context, id uuid.UUID) (service.Order, error) {
	if f.getOrderFunc == nil {
		return service.Order{}, service.ErrOrderNotFound
	}
	return f.getOrderFunc(ctx, id)
}

func (f *fakeService) RepriceOrder(ctx context.Context, id uuid.UUID) (service.PricedOrder, error) {
	if f.repriceOrderFunc == nil {
		return service.PricedOrder{}, service.ErrOrderNotFound
	}
	return f.repriceOrderFunc(ctx, id)
}

func (f *fakeService) PutEntity(ctx context.Context, entity catalog.Entity, effectiveAt *time.Time) (catalog.Diff, error) {
	if f.putEntityFunc == nil {
		return catalog.Diff{}, nil
	}
	return f.putEntityFunc(ctx, entity, effectiveAt)
}

func (f *fakeService) RetireEntity(ctx context.Context, kind catalog.EntityKind, id string, effectiveAt *time.Time) (catalog.Diff, error) {
	if f.retireEntityFunc == nil {
		return catalog.Diff{}, nil
	}
	return f.retireEntityFunc(ctx, kind, id, effectiveAt)
}

func (f *fakeService) ListVersions(ctx context.Context) []catalog.Version {
	if f.listVersionsFunc == nil {
		return nil
	}
	return f.listVersionsFunc(ctx)
}

func (f *fakeService) CreateVersion(ctx context.Context, effectiveAt *time.Time, description string) (catalog.Version, error) {
	if f.createVersionFunc == nil {
		return catalog.Version{}, nil
	}
	return f.createVersionFunc(ctx, effectiveAt, description)
}

func (f *fakeService) Snapshot(ctx context.Context, at *time.Time, versionID *uuid.UUID) (catalog.Export, error) {
	if f.snapshotFunc == nil {
		return catalog.Export{}, nil
	}
	return f.snapshotFunc(ctx, at, versionID)
}
