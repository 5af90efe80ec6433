package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matt-riley/orderz/internal/catalog"
)

// EditCatalog stages fn against the catalog at effectiveAt, persists the
// resulting row changes and publishes them. A nil effectiveAt means now.
func (s *Service) EditCatalog(ctx context.Context, effectiveAt *time.Time, fn func(*catalog.Tx) error) (catalog.Diff, error) {
	ctx, span := tracer.Start(ctx, "service.EditCatalog")
	diff, err := s.editCatalog(ctx, effectiveAt, fn)
	span.SetAttributes(
		attribute.Int("orderz.rows_closed", len(diff.Closed)),
		attribute.Int("orderz.rows_added", len(diff.Added)),
	)
	endSpan(span, err)
	return diff, err
}

func (s *Service) editCatalog(ctx context.Context, effectiveAt *time.Time, fn func(*catalog.Tx) error) (catalog.Diff, error) {
	at := s.resolveAt(effectiveAt)

	s.editMu.Lock()
	defer s.editMu.Unlock()

	pending, err := s.store.Prepare(at, fn)
	if err != nil {
		return catalog.Diff{}, err
	}
	diff := pending.Diff()
	if diff.Empty() {
		return diff, nil
	}

	if err := s.repo.ApplyCatalogDiff(ctx, diff); err != nil {
		if errors.Is(err, catalog.ErrConcurrentUpdate) {
			s.reloadCache(context.WithoutCancel(ctx))
		}
		return catalog.Diff{}, fmt.Errorf("persist catalog edit: %w", err)
	}
	if err := s.store.Commit(pending); err != nil {
		// The edit is durable; a reload picked up in between wins the race,
		// so load again to include it.
		s.logger.Info("catalog changed while committing edit, reloading", "error", err)
		s.reloadCache(context.WithoutCancel(ctx))
	}
	return diff, nil
}

// PutEntity makes entity the current definition of its id from effectiveAt.
func (s *Service) PutEntity(ctx context.Context, entity catalog.Entity, effectiveAt *time.Time) (catalog.Diff, error) {
	return s.EditCatalog(ctx, effectiveAt, func(tx *catalog.Tx) error {
		return tx.Put(entity)
	})
}

// RetireEntity ends the current definition of an entity at effectiveAt.
func (s *Service) RetireEntity(ctx context.Context, kind catalog.EntityKind, id string, effectiveAt *time.Time) (catalog.Diff, error) {
	if !kind.Valid() || strings.TrimSpace(id) == "" {
		return catalog.Diff{}, fmt.Errorf("%w: unknown entity %s %q", ErrInvalidRequest, kind, id)
	}
	return s.EditCatalog(ctx, effectiveAt, func(tx *catalog.Tx) error {
		return tx.Retire(kind, id)
	})
}

func (s *Service) ListVersions(_ context.Context) []catalog.Version {
	return s.store.Versions()
}

// CreateVersion publishes the catalog as of effectiveAt (now when nil) as a
// version orders can pin.
func (s *Service) CreateVersion(ctx context.Context, effectiveAt *time.Time, description string) (_ catalog.Version, err error) {
	at := s.resolveAt(effectiveAt)
	ctx, span := tracer.Start(ctx, "service.CreateVersion", trace.WithAttributes(
		attribute.String("orderz.effective_at", at.Format(time.RFC3339)),
	))
	defer func() { endSpan(span, err) }()

	s.editMu.Lock()
	defer s.editMu.Unlock()

	version, err := s.store.NewVersion(at, strings.TrimSpace(description))
	if err != nil {
		return catalog.Version{}, err
	}
	created, err := s.repo.CreateCatalogVersion(ctx, version)
	if err != nil {
		return catalog.Version{}, fmt.Errorf("create catalog version: %w", err)
	}
	if err := s.store.AddVersion(created); err != nil {
		s.logger.Info("catalog changed while publishing version, reloading", "error", err)
		s.reloadCache(context.WithoutCancel(ctx))
	}
	return created, nil
}

// Snapshot exports the catalog of a version, or the live catalog at the
// given instant when versionID is nil.
func (s *Service) Snapshot(_ context.Context, at *time.Time, versionID *uuid.UUID) (catalog.Export, error) {
	snapshot, err := s.snapshot(s.resolveAt(at), versionID)
	if err != nil {
		return catalog.Export{}, err
	}
	return snapshot.Export(), nil
}
