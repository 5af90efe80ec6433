package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/matt-riley/orderz/internal/catalog"
	"github.com/matt-riley/orderz/internal/catalog/catalogtest"
	"github.com/matt-riley/orderz/internal/expr"
	"github.com/matt-riley/orderz/internal/metadata"
	"github.com/matt-riley/orderz/internal/pricing"
	"github.com/matt-riley/orderz/internal/repository"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newTestService(t *testing.T, repo Repository, opts ...Option) *Service {
	t.Helper()

	base := []Option{
		WithClock(fixedClock(catalogtest.Lunch)),
		WithPricingDefaults(PricingDefaults{Currency: "USD", TaxRate: decimal.RequireFromString("0.0825")}),
	}
	svc, err := New(context.Background(), repo, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return svc
}

func saladOrder(quantity int) OrderRequest {
	return OrderRequest{
		FulfillmentID: "pickup",
		Items:         []OrderItem{{ProductID: "salad", Quantity: quantity}},
	}
}

func TestServiceGenerateMetadata(t *testing.T) {
	repo := newSeededServiceRepository(t, true)
	svc := newTestService(t, repo)
	ctx := context.Background()

	md, err := svc.GenerateMetadata(ctx, MetadataRequest{
		ProductID:     "pizza",
		FulfillmentID: "delivery",
		Selections: []expr.SelectedOption{
			{ModifierTypeID: "crust", OptionID: "thin"},
			{ModifierTypeID: "cut", OptionID: "square"},
		},
	})
	if err != nil {
		t.Fatalf("GenerateMetadata() error = %v", err)
	}
	if md.Incomplete {
		t.Fatal("GenerateMetadata().Incomplete = true, want false with crust and cut chosen")
	}
	anchovies := md.Modifiers["toppings"].Options["anchovies"].Whole
	if _, ok := anchovies.Reason.(metadata.FulfillmentTypeDisabled); !ok {
		t.Fatalf("anchovies on delivery = %#v, want FulfillmentTypeDisabled", anchovies.Reason)
	}

	tests := []struct {
		name string
		req  MetadataRequest
		want error
	}{
		{name: "blank product", req: MetadataRequest{ProductID: " "}, want: ErrInvalidRequest},
		{name: "unknown product", req: MetadataRequest{ProductID: "calzone"}, want: ErrProductNotFound},
		{name: "unknown fulfillment", req: MetadataRequest{ProductID: "pizza", FulfillmentID: "drone"}, want: ErrInvalidRequest},
		{
			name: "option from another type",
			req: MetadataRequest{ProductID: "pizza", Selections: []expr.SelectedOption{
				{ModifierTypeID: "sauce", OptionID: "thin"},
			}},
			want: ErrInvalidRequest,
		},
		{
			name: "duplicate selection",
			req: MetadataRequest{ProductID: "pizza", Selections: []expr.SelectedOption{
				{ModifierTypeID: "crust", OptionID: "thin"},
				{ModifierTypeID: "crust", OptionID: "thin"},
			}},
			want: ErrInvalidRequest,
		},
		{name: "unknown version", req: MetadataRequest{ProductID: "pizza", VersionID: ptr(uuid.New())}, want: ErrVersionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.GenerateMetadata(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("GenerateMetadata() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestServiceGenerateMetadataUsesLocation(t *testing.T) {
	repo := newSeededServiceRepository(t, true)
	req := MetadataRequest{ProductID: "pizza"}

	utc := newTestService(t, repo)
	md, err := utc.GenerateMetadata(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateMetadata() error = %v", err)
	}
	if md.Modifiers["toppings"].Options["bacon"].Whole.IsEnabled() {
		t.Fatal("bacon enabled at 12:00 UTC, want breakfast only")
	}

	eastern := newTestService(t, repo, WithLocation(time.FixedZone("EST", -5*60*60)))
	md, err = eastern.GenerateMetadata(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateMetadata() error = %v", err)
	}
	if !md.Modifiers["toppings"].Options["bacon"].Whole.IsEnabled() {
		t.Fatal("bacon disabled at 07:00 local, want enabled")
	}
}

func TestServicePriceOrder(t *testing.T) {
	repo := newSeededServiceRepository(t, true)
	svc := newTestService(t, repo)
	ctx := context.Background()

	priced, err := svc.PriceOrder(ctx, saladOrder(2))
	if err != nil {
		t.Fatalf("PriceOrder() error = %v", err)
	}
	if priced.Totals.CartSubtotal.Amount != 1600 || priced.Totals.TaxAmount.Amount != 132 || priced.Totals.Total.Amount != 1732 {
		t.Fatalf("PriceOrder() totals = subtotal %s tax %s total %s, want 16.00/1.32/17.32",
			priced.Totals.CartSubtotal, priced.Totals.TaxAmount, priced.Totals.Total)
	}
	if priced.CatalogVersionID != nil {
		t.Fatalf("PriceOrder().CatalogVersionID = %v, want nil for the live catalog", priced.CatalogVersionID)
	}
	if got := priced.Items[0].CategoryID; got != "salads" {
		t.Fatalf("Items[0].CategoryID = %q, want product default salads", got)
	}

	override := saladOrder(2)
	override.TaxRate = ptr(decimal.Zero)
	priced, err = svc.PriceOrder(ctx, override)
	if err != nil {
		t.Fatalf("PriceOrder(no tax) error = %v", err)
	}
	if priced.Totals.Total.Amount != 1600 {
		t.Fatalf("PriceOrder(no tax).Total = %s, want 16.00", priced.Totals.Total)
	}

	tests := []struct {
		name string
		req  OrderRequest
		want error
	}{
		{name: "no items", req: OrderRequest{}, want: ErrInvalidRequest},
		{name: "unknown product", req: OrderRequest{Items: []OrderItem{{ProductID: "calzone", Quantity: 1}}}, want: ErrProductNotFound},
		{name: "missing crust", req: OrderRequest{Items: []OrderItem{{ProductID: "pizza", Quantity: 1}}}, want: ErrIncompleteProduct},
		{name: "zero quantity", req: OrderRequest{Items: []OrderItem{{ProductID: "salad"}}}, want: ErrInvalidRequest},
		{
			name: "unknown discount method",
			req: OrderRequest{
				Items:     []OrderItem{{ProductID: "salad", Quantity: 1}},
				Discounts: []pricing.Discount{{Method: "coupon"}},
			},
			want: ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.PriceOrder(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("PriceOrder() error = %v, want %v", err, tt.want)
			}
		})
	}

	var validation *pricing.ValidationError
	_, err = svc.PriceOrder(ctx, OrderRequest{Items: []OrderItem{{ProductID: "salad"}}})
	if !errors.As(err, &validation) || validation.Field != "cart[0]" {
		t.Fatalf("PriceOrder() error = %v, want ValidationError on cart[0]", err)
	}
}

func TestServicePlaceAndRepriceOrder(t *testing.T) {
	repo := newSeededServiceRepository(t, true)
	svc := newTestService(t, repo)
	ctx := context.Background()

	placed, priced, err := svc.PlaceOrder(ctx, saladOrder(2))
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if placed.ID == uuid.Nil {
		t.Fatal("PlaceOrder().ID is nil")
	}
	if placed.CatalogVersionID != repo.versionIDs()[0] {
		t.Fatalf("PlaceOrder().CatalogVersionID = %s, want the fixture version", placed.CatalogVersionID)
	}
	if priced.CatalogVersionID == nil || *priced.CatalogVersionID != placed.CatalogVersionID {
		t.Fatalf("priced.CatalogVersionID = %v, want %s", priced.CatalogVersionID, placed.CatalogVersionID)
	}

	// Raise the salad price after the order was placed.
	salad := catalog.Product{ID: "salad", Name: "Salad", Description: "Garden salad", Price: catalogtest.USD(900), CategoryIDs: []string{"salads"}}
	if _, err := svc.PutEntity(ctx, salad, ptr(catalogtest.Lunch.Add(time.Hour))); err != nil {
		t.Fatalf("PutEntity() error = %v", err)
	}

	got, err := svc.GetOrder(ctx, placed.ID)
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.Totals.Total.Amount != 1732 || got.Request.At == nil || !got.Request.At.Equal(catalogtest.Lunch) {
		t.Fatalf("GetOrder() = total %s at %v, want 17.32 at lunch", got.Totals.Total, got.Request.At)
	}

	repriced, err := svc.RepriceOrder(ctx, placed.ID)
	if err != nil {
		t.Fatalf("RepriceOrder() error = %v", err)
	}
	if repriced.Totals.Total != placed.Totals.Total {
		t.Fatalf("RepriceOrder().Total = %s, want %s from the pinned version", repriced.Totals.Total, placed.Totals.Total)
	}

	later := saladOrder(2)
	later.At = ptr(catalogtest.Lunch.Add(2 * time.Hour))
	live, err := svc.PriceOrder(ctx, later)
	if err != nil {
		t.Fatalf("PriceOrder() error = %v", err)
	}
	if live.Totals.Total.Amount != 1949 {
		t.Fatalf("PriceOrder().Total after edit = %s, want 19.49", live.Totals.Total)
	}

	if _, err := svc.GetOrder(ctx, uuid.New()); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("GetOrder(missing) error = %v, want %v", err, ErrOrderNotFound)
	}
	if _, err := svc.RepriceOrder(ctx, uuid.New()); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("RepriceOrder(missing) error = %v, want %v", err, ErrOrderNotFound)
	}
}

func TestServiceRepriceUsesPricingPlacedWith(t *testing.T) {
	repo := newSeededServiceRepository(t, true)
	svc := newTestService(t, repo)
	ctx := context.Background()

	placed, _, err := svc.PlaceOrder(ctx, saladOrder(2))
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}

	// A restart with new configuration must not change historical orders.
	svc.defaults = PricingDefaults{Currency: "USD", TaxRate: decimal.RequireFromString("0.10"), ServiceFee: 500}

	got, err := svc.GetOrder(ctx, placed.ID)
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if !got.Pricing.TaxRate.Equal(decimal.RequireFromString("0.0825")) || got.Pricing.ServiceFee != 0 || got.Pricing.Currency != "USD" {
		t.Fatalf("GetOrder().Pricing = %+v, want the defaults at placement", got.Pricing)
	}

	repriced, err := svc.RepriceOrder(ctx, placed.ID)
	if err != nil {
		t.Fatalf("RepriceOrder() error = %v", err)
	}
	if repriced.Totals.Total != placed.Totals.Total || repriced.Totals.ServiceFee.Amount != 0 {
		t.Fatalf("RepriceOrder() = total %s fee %s, want %s and no fee", repriced.Totals.Total, repriced.Totals.ServiceFee, placed.Totals.Total)
	}

	// Orders stored without pricing fall back to the current defaults.
	legacy := repo.orders[placed.ID]
	legacy.Request, err = json.Marshal(saladOrder(2))
	if err != nil {
		t.Fatalf("marshal legacy request: %v", err)
	}
	repo.orders[placed.ID] = legacy
	got, err = svc.GetOrder(ctx, placed.ID)
	if err != nil {
		t.Fatalf("GetOrder(legacy) error = %v", err)
	}
	if got.Pricing.ServiceFee != 500 {
		t.Fatalf("GetOrder(legacy).Pricing.ServiceFee = %d, want 500", got.Pricing.ServiceFee)
	}
}

func TestServicePlaceOrderRequiresVersion(t *testing.T) {
	repo := newSeededServiceRepository(t, false)
	svc := newTestService(t, repo)

	if _, _, err := svc.PlaceOrder(context.Background(), saladOrder(1)); !errors.Is(err, ErrNoCatalogVersion) {
		t.Fatalf("PlaceOrder() error = %v, want %v", err, ErrNoCatalogVersion)
	}
	if len(repo.orders) != 0 {
		t.Fatalf("orders stored = %d, want 0", len(repo.orders))
	}
}

func TestServiceEditCatalog(t *testing.T) {
	ctx := context.Background()

	t.Run("persists the diff before publishing", func(t *testing.T) {
		repo := newSeededServiceRepository(t, true)
		svc := newTestService(t, repo)
		at := catalogtest.Lunch.Add(time.Hour)

		diff, err := svc.RetireEntity(ctx, catalog.KindOption, "truffle", &at)
		if err != nil {
			t.Fatalf("RetireEntity() error = %v", err)
		}
		if len(diff.Closed) != 1 || len(diff.Added) != 0 {
			t.Fatalf("RetireEntity() diff = %d closed, %d added, want 1, 0", len(diff.Closed), len(diff.Added))
		}
		if repo.openRows(catalog.KindOption, "truffle") != 0 {
			t.Fatal("repository still holds an open truffle row")
		}

		export, err := svc.Snapshot(ctx, ptr(at.Add(time.Minute)), nil)
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if slices.ContainsFunc(export.Options, func(o catalog.ModifierOption) bool { return o.ID == "truffle" }) {
			t.Fatal("Snapshot() after retire still lists truffle")
		}
		before, err := svc.Snapshot(ctx, nil, ptr(repo.versionIDs()[0]))
		if err != nil {
			t.Fatalf("Snapshot(version) error = %v", err)
		}
		if !slices.ContainsFunc(before.Options, func(o catalog.ModifierOption) bool { return o.ID == "truffle" }) {
			t.Fatal("Snapshot(version) lost truffle")
		}
	})

	t.Run("rejects edits at or before the latest version", func(t *testing.T) {
		repo := newSeededServiceRepository(t, true)
		svc := newTestService(t, repo)

		_, err := svc.RetireEntity(ctx, catalog.KindOption, "truffle", ptr(catalogtest.Epoch))
		if !errors.Is(err, catalog.ErrHistoryRewrite) {
			t.Fatalf("RetireEntity() error = %v, want %v", err, catalog.ErrHistoryRewrite)
		}
	})

	t.Run("rejects dangling references", func(t *testing.T) {
		repo := newSeededServiceRepository(t, true)
		svc := newTestService(t, repo)

		_, err := svc.RetireEntity(ctx, catalog.KindFunction, "white_sauce", nil)
		var integrity *catalog.IntegrityError
		if !errors.As(err, &integrity) {
			t.Fatalf("RetireEntity() error = %v, want *IntegrityError", err)
		}
		if len(repo.appliedDiffs()) != 1 {
			t.Fatal("a rejected edit reached the repository")
		}
	})

	t.Run("unknown entity", func(t *testing.T) {
		repo := newSeededServiceRepository(t, true)
		svc := newTestService(t, repo)

		if _, err := svc.RetireEntity(ctx, catalog.KindProduct, "calzone", nil); !errors.Is(err, catalog.ErrNotFound) {
			t.Fatalf("RetireEntity() error = %v, want %v", err, catalog.ErrNotFound)
		}
		if _, err := svc.RetireEntity(ctx, "widget", "x", nil); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("RetireEntity(bad kind) error = %v, want %v", err, ErrInvalidRequest)
		}
	})

	t.Run("repository failure leaves the catalog unchanged", func(t *testing.T) {
		repo := newSeededServiceRepository(t, true)
		svc := newTestService(t, repo)
		repo.applyErr = errors.New("connection reset")

		if _, err := svc.RetireEntity(ctx, catalog.KindOption, "truffle", nil); err == nil {
			t.Fatal("RetireEntity() error = nil, want repository failure")
		}
		if rows := svc.store.History(catalog.KindOption, "truffle"); len(rows) != 1 || !rows[0].Open() {
			t.Fatalf("History(truffle) = %+v, want the original open row", rows)
		}
	})
}

func TestServiceCreateVersion(t *testing.T) {
	repo := newSeededServiceRepository(t, true)
	svc := newTestService(t, repo)
	ctx := context.Background()

	version, err := svc.CreateVersion(ctx, nil, "  lunch menu  ")
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	if version.Description != "lunch menu" || !version.EffectiveAt.Equal(catalogtest.Lunch) {
		t.Fatalf("CreateVersion() = %+v, want lunch menu at lunch", version)
	}

	versions := svc.ListVersions(ctx)
	if len(versions) != 2 || versions[1].ID != version.ID {
		t.Fatalf("ListVersions() = %+v, want the fixture version then %s", versions, version.ID)
	}
	if got := repo.versionIDs(); len(got) != 2 || got[1] != version.ID {
		t.Fatalf("repository versions = %v, want %s persisted", got, version.ID)
	}

	if _, err := svc.CreateVersion(ctx, ptr(catalogtest.Epoch.Add(-time.Hour)), "rewind"); !errors.Is(err, catalog.ErrHistoryRewrite) {
		t.Fatalf("CreateVersion(past) error = %v, want %v", err, catalog.ErrHistoryRewrite)
	}
}

func TestServiceRefreshesCacheFromInvalidations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newNotifyingFakeServiceRepository(t)
	svc, err := New(ctx, repo, WithClock(fixedClock(catalogtest.Lunch)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := len(svc.ListVersions(ctx)); got != 1 {
		t.Fatalf("ListVersions() = %d versions, want 1", got)
	}

	repo.addVersion(catalog.Version{ID: uuid.New(), EffectiveAt: catalogtest.Lunch, Description: "remote", CreatedAt: catalogtest.Lunch})
	repo.notifyInvalidation()
	waitForCondition(t, time.Second, func() bool {
		return len(svc.ListVersions(ctx)) == 2
	})
}

func TestServiceResubscribesAfterInvalidationChannelClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newResubscribingFakeServiceRepository(t)
	svc, err := New(ctx, repo, WithClock(fixedClock(catalogtest.Lunch)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	repo.closeInvalidationChannel()
	waitForCondition(t, time.Second, func() bool {
		return repo.subscriptionCalls() >= 2
	})

	repo.addVersion(catalog.Version{ID: uuid.New(), EffectiveAt: catalogtest.Lunch, Description: "remote", CreatedAt: catalogtest.Lunch})
	repo.notifyInvalidation()
	waitForCondition(t, time.Second, func() bool {
		return len(svc.ListVersions(ctx)) == 2
	})
}

func TestWithCacheMetrics(t *testing.T) {
	repo := newSeededServiceRepository(t, true)

	var (
		loads    int
		rows     map[string]int
		versions int
	)
	svc := newTestService(t, repo, WithCacheMetrics(
		func() { loads++ },
		nil,
		func(byKind map[string]int, n int) { rows, versions = byKind, n },
	))

	if loads != 1 {
		t.Fatalf("onLoad calls = %d, want 1", loads)
	}
	want := map[string]int{"fulfillment": 2, "function": 2, "modifier_type": 4, "modifier_option": 12, "product": 2}
	for kind, n := range want {
		if rows[kind] != n {
			t.Fatalf("rows[%s] = %d, want %d (all %v)", kind, rows[kind], n, rows)
		}
	}
	if versions != 1 {
		t.Fatalf("versions = %d, want 1", versions)
	}

	if err := svc.LoadCache(context.Background()); err != nil {
		t.Fatalf("LoadCache() error = %v", err)
	}
	if loads != 2 {
		t.Fatalf("onLoad calls after reload = %d, want 2", loads)
	}
}

func TestWithEngineMetrics(t *testing.T) {
	repo := newSeededServiceRepository(t, true)

	results := map[string]int{}
	outcomes := map[string]int{}
	placed := 0
	svc := newTestService(t, repo, WithEngineMetrics(
		func(r string) { results[r]++ },
		func(o string) { outcomes[o]++ },
		func() { placed++ },
	))
	ctx := context.Background()

	_, _ = svc.GenerateMetadata(ctx, MetadataRequest{ProductID: "pizza"})
	_, _ = svc.GenerateMetadata(ctx, MetadataRequest{ProductID: "salad"})
	_, _ = svc.GenerateMetadata(ctx, MetadataRequest{ProductID: "calzone"})
	_, _ = svc.PriceOrder(ctx, saladOrder(1))
	_, _ = svc.PriceOrder(ctx, OrderRequest{})
	_, _, _ = svc.PlaceOrder(ctx, saladOrder(1))

	if results[resultIncomplete] != 1 || results[resultOK] != 1 || results[resultInvalid] != 1 {
		t.Fatalf("generation results = %v, want one each of incomplete, ok, invalid", results)
	}
	if outcomes[resultOK] != 2 || outcomes[resultInvalid] != 1 {
		t.Fatalf("pricing outcomes = %v, want 2 ok and 1 invalid", outcomes)
	}
	if placed != 1 {
		t.Fatalf("orders placed = %d, want 1", placed)
	}
}

func TestNewRejectsNilRepository(t *testing.T) {
	if _, err := New(context.Background(), nil); err == nil {
		t.Fatal("New(nil) error = nil, want error")
	}
}

func TestNewFailsOnInconsistentRows(t *testing.T) {
	repo := newFakeServiceRepository()
	repo.rows = []catalog.Row{
		{Kind: catalog.KindProduct, EntityID: "salad", ValidFrom: catalogtest.Epoch, Entity: catalog.Product{ID: "soup"}},
	}
	if _, err := New(context.Background(), repo); err == nil {
		t.Fatal("New() error = nil, want integrity failure")
	}
}

type fakeServiceRepository struct {
	mu       sync.RWMutex
	rows     []catalog.Row
	versions []catalog.Version
	orders   map[uuid.UUID]repository.Order
	diffs    []catalog.Diff
	applyErr error
}

func newFakeServiceRepository() *fakeServiceRepository {
	return &fakeServiceRepository{orders: make(map[uuid.UUID]repository.Order)}
}

// newSeededServiceRepository holds the fixture catalog from Epoch and,
// when versioned, one version published at Epoch.
func newSeededServiceRepository(t testing.TB, versioned bool) *fakeServiceRepository {
	t.Helper()

	repo := newFakeServiceRepository()
	store := catalog.NewStore()
	diff, err := store.Apply(catalogtest.Epoch, func(tx *catalog.Tx) error {
		for _, entity := range catalogtest.Entities() {
			if err := tx.Put(entity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := repo.ApplyCatalogDiff(context.Background(), diff); err != nil {
		t.Fatalf("ApplyCatalogDiff() error = %v", err)
	}
	if versioned {
		version, err := store.NewVersion(catalogtest.Epoch, "fixture catalog")
		if err != nil {
			t.Fatalf("NewVersion() error = %v", err)
		}
		repo.addVersion(version)
	}
	return repo
}

func (f *fakeServiceRepository) ListCatalogRows(_ context.Context) ([]catalog.Row, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.rows), nil
}

func (f *fakeServiceRepository) ListCatalogVersions(_ context.Context) ([]catalog.Version, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.versions), nil
}

func (f *fakeServiceRepository) ApplyCatalogDiff(_ context.Context, diff catalog.Diff) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.applyErr != nil {
		return f.applyErr
	}
	for _, closed := range diff.Closed {
		idx := slices.IndexFunc(f.rows, func(r catalog.Row) bool {
			return r.Kind == closed.Kind && r.EntityID == closed.EntityID && r.Open()
		})
		if idx < 0 {
			return fmt.Errorf("close %s %q: %w", closed.Kind, closed.EntityID, catalog.ErrConcurrentUpdate)
		}
		f.rows[idx] = closed
	}
	f.rows = append(f.rows, diff.Added...)
	f.diffs = append(f.diffs, diff)
	return nil
}

func (f *fakeServiceRepository) CreateCatalogVersion(_ context.Context, version catalog.Version) (catalog.Version, error) {
	f.addVersion(version)
	return version, nil
}

func (f *fakeServiceRepository) CreateOrder(_ context.Context, order repository.Order) (repository.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = order
	return order, nil
}

func (f *fakeServiceRepository) GetOrder(_ context.Context, id uuid.UUID) (repository.Order, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	order, ok := f.orders[id]
	if !ok {
		return repository.Order{}, fmt.Errorf("get order %s: %w", id, pgx.ErrNoRows)
	}
	return order, nil
}

func (f *fakeServiceRepository) addVersion(version catalog.Version) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions = append(f.versions, version)
}

func (f *fakeServiceRepository) versionIDs() []uuid.UUID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(f.versions))
	for _, v := range f.versions {
		ids = append(ids, v.ID)
	}
	return ids
}

func (f *fakeServiceRepository) openRows(kind catalog.EntityKind, id string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, r := range f.rows {
		if r.Kind == kind && r.EntityID == id && r.Open() {
			n++
		}
	}
	return n
}

func (f *fakeServiceRepository) appliedDiffs() []catalog.Diff {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.diffs)
}

type notifyingFakeServiceRepository struct {
	*fakeServiceRepository
	invalidations chan struct{}
}

func newNotifyingFakeServiceRepository(t testing.TB) *notifyingFakeServiceRepository {
	return &notifyingFakeServiceRepository{
		fakeServiceRepository: newSeededServiceRepository(t, true),
		invalidations:         make(chan struct{}, 1),
	}
}

func (f *notifyingFakeServiceRepository) SubscribeCatalogInvalidation(_ context.Context) (<-chan struct{}, error) {
	return f.invalidations, nil
}

func (f *notifyingFakeServiceRepository) notifyInvalidation() {
	select {
	case f.invalidations <- struct{}{}:
	default:
	}
}

type resubscribingFakeServiceRepository struct {
	*fakeServiceRepository
	invalidationMu sync.Mutex
	invalidations  chan struct{}
	subscriptions  int
}

func newResubscribingFakeServiceRepository(t testing.TB) *resubscribingFakeServiceRepository {
	return &resubscribingFakeServiceRepository{
		fakeServiceRepository: newSeededServiceRepository(t, true),
		invalidations:         make(chan struct{}, 1),
	}
}

func (f *resubscribingFakeServiceRepository) SubscribeCatalogInvalidation(_ context.Context) (<-chan struct{}, error) {
	f.invalidationMu.Lock()
	defer f.invalidationMu.Unlock()

	if f.invalidations == nil {
		f.invalidations = make(chan struct{}, 1)
	}
	f.subscriptions++
	return f.invalidations, nil
}

func (f *resubscribingFakeServiceRepository) closeInvalidationChannel() {
	f.invalidationMu.Lock()
	ch := f.invalidations
	f.invalidations = nil
	f.invalidationMu.Unlock()

	if ch != nil {
		close(ch)
	}
}

func (f *resubscribingFakeServiceRepository) notifyInvalidation() {
	f.invalidationMu.Lock()
	ch := f.invalidations
	f.invalidationMu.Unlock()
	if ch == nil {
		return
	}

	select {
	case ch <- struct{}{}:
	default:
	}
}

func (f *resubscribingFakeServiceRepository) subscriptionCalls() int {
	f.invalidationMu.Lock()
	defer f.invalidationMu.Unlock()
	return f.subscriptions
}

func ptr[T any](v T) *T {
	return &v
}

func waitForCondition(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if check() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
