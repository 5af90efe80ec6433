// Package repository provides PostgreSQL-backed persistence for the temporal
// catalog, its published versions, and placed orders. It also handles
// LISTEN/NOTIFY-based invalidation so every replica reloads the catalog after
// an edit made through any other replica.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matt-riley/orderz/internal/catalog"
)

const (
	defaultNotifyChannel = "catalog_events"

	EventCatalogEdited  = "catalog_edited"
	EventVersionCreated = "version_created"
)

// Order is the repository-level representation of a placed order. Request
// and Totals are stored as opaque JSON; the service layer owns their shape.
type Order struct {
	ID               uuid.UUID       `json:"id"`
	CatalogVersionID uuid.UUID       `json:"catalog_version_id"`
	FulfillmentID    string          `json:"fulfillment_id"`
	Request          json.RawMessage `json:"request"`
	Totals           json.RawMessage `json:"totals"`
	CreatedAt        time.Time       `json:"created_at"`
}

// CatalogEvent is the NOTIFY payload sent after every catalog write.
type CatalogEvent struct {
	EventType   string    `json:"event_type"`
	EffectiveAt time.Time `json:"effective_at"`
	Closed      int       `json:"closed,omitempty"`
	Added       int       `json:"added,omitempty"`
	VersionID   string    `json:"version_id,omitempty"`
}

// PostgresRepository implements catalog and order persistence backed by a
// pgxpool connection pool.
type PostgresRepository struct {
	pool          *pgxpool.Pool
	notifyChannel string
}

// NewPostgresRepository creates a [PostgresRepository] using the default
// "catalog_events" notification channel.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return NewPostgresRepositoryWithChannel(pool, defaultNotifyChannel)
}

// NewPostgresRepositoryWithChannel creates a [PostgresRepository] using the
// specified LISTEN/NOTIFY channel name for catalog notifications.
func NewPostgresRepositoryWithChannel(pool *pgxpool.Pool, notifyChannel string) *PostgresRepository {
	return &PostgresRepository{
		pool:          pool,
		notifyChannel: normalizeNotifyChannel(notifyChannel),
	}
}

// ListCatalogRows returns every catalog row, open and closed, ordered by
// entity and validity start.
func (r *PostgresRepository) ListCatalogRows(ctx context.Context) ([]catalog.Row, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT kind, entity_id, valid_from, valid_to, body
		FROM catalog_rows
		ORDER BY kind, entity_id, valid_from, row_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list catalog rows: %w", err)
	}
	defer rows.Close()

	result := make([]catalog.Row, 0)
	for rows.Next() {
		var (
			kind string
			body []byte
			row  catalog.Row
		)
		if err := rows.Scan(&kind, &row.EntityID, &row.ValidFrom, &row.ValidTo, &body); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		row.Kind = catalog.EntityKind(kind)
		entity, err := catalog.DecodeEntity(row.Kind, body)
		if err != nil {
			return nil, fmt.Errorf("catalog row %s %q: %w", kind, row.EntityID, err)
		}
		row.Entity = entity
		result = append(result, normalizeRow(row))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list catalog rows: %w", err)
	}

	return result, nil
}

// ListCatalogVersions returns every published version ordered by effective
// instant.
func (r *PostgresRepository) ListCatalogVersions(ctx context.Context) ([]catalog.Version, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, effective_at, description, created_at
		FROM catalog_versions
		ORDER BY effective_at, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list catalog versions: %w", err)
	}
	defer rows.Close()

	versions := make([]catalog.Version, 0)
	for rows.Next() {
		var v catalog.Version
		if err := rows.Scan(&v.ID, &v.EffectiveAt, &v.Description, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan catalog version: %w", err)
		}
		v.EffectiveAt = v.EffectiveAt.UTC()
		v.CreatedAt = v.CreatedAt.UTC()
		versions = append(versions, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list catalog versions: %w", err)
	}

	return versions, nil
}

// ApplyCatalogDiff persists one catalog edit in a single transaction: closed
// rows get their valid_to, new rows are inserted, and a notification is sent.
// A closed row that is no longer open in the database means another writer
// got there first; the edit is rolled back with [catalog.ErrConcurrentUpdate].
func (r *PostgresRepository) ApplyCatalogDiff(ctx context.Context, diff catalog.Diff) error {
	if diff.Empty() {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin catalog edit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, row := range diff.Closed {
		commandTag, err := tx.Exec(ctx, `
			UPDATE catalog_rows
			SET valid_to = $3
			WHERE kind = $1 AND entity_id = $2 AND valid_to IS NULL
		`, string(row.Kind), row.EntityID, row.ValidTo)
		if err != nil {
			return fmt.Errorf("close catalog row %s %q: %w", row.Kind, row.EntityID, err)
		}
		if err := closeRowNoRows(commandTag); err != nil {
			return fmt.Errorf("close catalog row %s %q: %w", row.Kind, row.EntityID, err)
		}
	}

	for _, row := range diff.Added {
		body, err := catalog.EncodeEntity(row.Entity)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO catalog_rows (kind, entity_id, valid_from, valid_to, body)
			VALUES ($1, $2, $3, $4, $5)
		`, string(row.Kind), row.EntityID, row.ValidFrom, row.ValidTo, body); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert catalog row %s %q: %w", row.Kind, row.EntityID, catalog.ErrConcurrentUpdate)
			}
			return fmt.Errorf("insert catalog row %s %q: %w", row.Kind, row.EntityID, err)
		}
	}

	if err := r.notify(ctx, tx, CatalogEvent{
		EventType:   EventCatalogEdited,
		EffectiveAt: diff.EffectiveAt,
		Closed:      len(diff.Closed),
		Added:       len(diff.Added),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit catalog edit tx: %w", err)
	}
	return nil
}

// CreateCatalogVersion inserts a version record and notifies listeners. It
// returns the version with the server-generated creation timestamp.
func (r *PostgresRepository) CreateCatalogVersion(ctx context.Context, version catalog.Version) (catalog.Version, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return catalog.Version{}, fmt.Errorf("begin create version tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var created catalog.Version
	if err := tx.QueryRow(ctx, `
		INSERT INTO catalog_versions (id, effective_at, description, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, effective_at, description, created_at
	`,
		version.ID,
		version.EffectiveAt,
		version.Description,
		version.CreatedAt,
	).Scan(
		&created.ID,
		&created.EffectiveAt,
		&created.Description,
		&created.CreatedAt,
	); err != nil {
		return catalog.Version{}, fmt.Errorf("create catalog version: %w", err)
	}
	created.EffectiveAt = created.EffectiveAt.UTC()
	created.CreatedAt = created.CreatedAt.UTC()

	if err := r.notify(ctx, tx, CatalogEvent{
		EventType:   EventVersionCreated,
		EffectiveAt: created.EffectiveAt,
		VersionID:   created.ID.String(),
	}); err != nil {
		return catalog.Version{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return catalog.Version{}, fmt.Errorf("commit create version tx: %w", err)
	}
	return created, nil
}

// CreateOrder inserts a placed order and returns it with the server-generated
// timestamp.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order Order) (Order, error) {
	var created Order
	err := r.pool.QueryRow(ctx, `
		INSERT INTO orders (id, catalog_version_id, fulfillment_id, request, totals)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, catalog_version_id, fulfillment_id, request, totals, created_at
	`,
		order.ID,
		order.CatalogVersionID,
		order.FulfillmentID,
		ensureJSON(order.Request, "{}"),
		ensureJSON(order.Totals, "{}"),
	).Scan(
		&created.ID,
		&created.CatalogVersionID,
		&created.FulfillmentID,
		&created.Request,
		&created.Totals,
		&created.CreatedAt,
	)
	if err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}

	return created, nil
}

// GetOrder retrieves a single order. Returns pgx.ErrNoRows (wrapped) if not
// found.
func (r *PostgresRepository) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	var order Order
	err := r.pool.QueryRow(ctx, `
		SELECT id, catalog_version_id, fulfillment_id, request, totals, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(
		&order.ID,
		&order.CatalogVersionID,
		&order.FulfillmentID,
		&order.Request,
		&order.Totals,
		&order.CreatedAt,
	)
	if err != nil {
		return Order{}, fmt.Errorf("get order: %w", err)
	}

	return order, nil
}

// SubscribeCatalogInvalidation returns a channel that receives a signal
// whenever a catalog notification arrives on the PostgreSQL LISTEN channel.
// The channel is closed if the underlying connection is lost for good.
func (r *PostgresRepository) SubscribeCatalogInvalidation(ctx context.Context) (<-chan struct{}, error) {
	invalidations := make(chan struct{}, 1)

	go r.runInvalidationListener(ctx, invalidations)

	return invalidations, nil
}

func (r *PostgresRepository) runInvalidationListener(ctx context.Context, invalidations chan<- struct{}) {
	defer close(invalidations)

	for {
		err := r.listenForInvalidation(ctx, invalidations)
		if err == nil || ctx.Err() != nil {
			return
		}

		retryTimer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			retryTimer.Stop()
			return
		case <-retryTimer.C:
		}
	}
}

func (r *PostgresRepository) listenForInvalidation(ctx context.Context, invalidations chan<- struct{}) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, listenStatement(r.notifyChannel)); err != nil {
		return fmt.Errorf("listen on %q: %w", r.notifyChannel, err)
	}

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for catalog notification: %w", err)
		}

		select {
		case invalidations <- struct{}{}:
		default:
		}
	}
}

func (r *PostgresRepository) notify(ctx context.Context, tx pgx.Tx, event CatalogEvent) error {
	payload, err := marshalNotifyPayload(event)
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, r.notifyChannel, payload); err != nil {
		return fmt.Errorf("notify %s: %w", event.EventType, err)
	}
	return nil
}

// normalizeRow keeps timestamps in UTC so rows loaded from the database
// compare equal to rows built in memory.
func normalizeRow(row catalog.Row) catalog.Row {
	row.ValidFrom = row.ValidFrom.UTC()
	if row.ValidTo != nil {
		end := row.ValidTo.UTC()
		row.ValidTo = &end
	}
	return row
}

func closeRowNoRows(commandTag pgconn.CommandTag) error {
	if commandTag.RowsAffected() == 0 {
		return catalog.ErrConcurrentUpdate
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func normalizeNotifyChannel(channel string) string {
	if trimmed := strings.TrimSpace(channel); trimmed != "" {
		return trimmed
	}

	return defaultNotifyChannel
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}

	return input
}

func listenStatement(channel string) string {
	return fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())
}

func marshalNotifyPayload(event CatalogEvent) (string, error) {
	serialized, err := json.Marshal(event)
	if err != nil {
		return "", err
	}

	return string(serialized), nil
}
