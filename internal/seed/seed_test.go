package seed_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/matt-riley/orderz/internal/catalog"
	"github.com/matt-riley/orderz/internal/catalog/catalogtest"
	"github.com/matt-riley/orderz/internal/expr"
	"github.com/matt-riley/orderz/internal/seed"
)

func byKindAndID(entities []catalog.Entity) map[string]catalog.Entity {
	out := make(map[string]catalog.Entity, len(entities))
	for _, entity := range entities {
		out[string(entity.EntityKind())+"/"+entity.EntityID()] = entity
	}
	return out
}

func TestReadFileMatchesFixtureCatalog(t *testing.T) {
	c, err := seed.ReadFile("testdata/catalog.yaml")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	got, err := c.Entities()
	if err != nil {
		t.Fatalf("Entities() error = %v", err)
	}

	want := byKindAndID(catalogtest.Entities())
	if diff := cmp.Diff(want, byKindAndID(got), cmp.AllowUnexported(expr.Value{})); diff != "" {
		t.Fatalf("seed entities mismatch (-want +got):\n%s", diff)
	}
}

func TestApply(t *testing.T) {
	c, err := seed.ReadFile("testdata/catalog.yaml")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	store := catalog.NewStore()
	diff, err := store.Apply(catalogtest.Epoch, c.Apply)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(diff.Added) != len(catalogtest.Entities()) || len(diff.Closed) != 0 {
		t.Fatalf("Apply() diff = %d added, %d closed", len(diff.Added), len(diff.Closed))
	}

	snapshot, err := store.AsOf(catalogtest.Lunch)
	if err != nil {
		t.Fatalf("AsOf() error = %v", err)
	}
	if _, ok := snapshot.Product("pizza"); !ok {
		t.Fatal("Product(pizza) not found after seeding")
	}
	if got := len(snapshot.OptionsOf("toppings")); got != 6 {
		t.Fatalf("len(OptionsOf(toppings)) = %d, want 6", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "empty document", doc: ""},
		{name: "missing currency", doc: "fulfillments: []\n"},
		{name: "unknown key", doc: "currency: USD\nproducts:\n  - {id: pizza, colour: red}\n"},
		{name: "malformed yaml", doc: "currency: [USD\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := seed.Decode(strings.NewReader(tt.doc))
			if !errors.Is(err, seed.ErrInvalidSeed) {
				t.Fatalf("Decode() error = %v, want ErrInvalidSeed", err)
			}
		})
	}
}

func TestEntitiesErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{
			name:    "unknown expression kind",
			doc:     "currency: USD\nfunctions:\n  - {id: f, name: F, expression: {kind: maybe}}\n",
			wantErr: expr.ErrInvalidExpression,
		},
		{
			name:    "foreign price currency",
			doc:     "currency: USD\nproducts:\n  - {id: pizza, name: Pizza, price: {amount: 100, currency: EUR}}\n",
			wantErr: seed.ErrInvalidSeed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := seed.Decode(strings.NewReader(tt.doc))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if _, err := c.Entities(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Entities() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyRejectsIntegrityViolations(t *testing.T) {
	doc := `currency: USD
modifier_types:
  - {id: crust, name: Crust, max_selected: 1}
options:
  - {id: thin, modifier_type_id: crusts, name: Thin, price: {amount: 0}}
`
	c, err := seed.Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	store := catalog.NewStore()
	_, err = store.Apply(catalogtest.Epoch, c.Apply)
	var integrity *catalog.IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("Apply() error = %v, want *IntegrityError", err)
	}
	if integrity.Kind != catalog.KindOption || integrity.ID != "thin" {
		t.Fatalf("IntegrityError = %+v, want modifier_option thin", integrity)
	}
}
