// Package catalogtest provides a small pizza catalog for tests.
package catalogtest

import (
	"testing"
	"time"

	"github.com/matt-riley/orderz/internal/catalog"
	"github.com/matt-riley/orderz/internal/expr"
	"github.com/matt-riley/orderz/internal/money"
)

const Currency = "USD"

// Epoch is when the fixture catalog takes effect.
var Epoch = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

// Lunch is a Monday noon instant inside every fixture availability window
// except breakfast.
var Lunch = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func USD(amount int64) money.Money {
	return money.New(amount, Currency)
}

// Entities returns the fixture catalog:
//
//	pizza (1200): crust (min 1, max 1), sauce (max 1), toppings (max 3), cut (toggle)
//	salad (800): no modifiers
//
// Anchovies cannot be delivered, pineapple requires no anchovies, truffle is
// disabled indefinitely and bacon is breakfast only.
func Entities() []catalog.Entity {
	return []catalog.Entity{
		catalog.Fulfillment{ID: "pickup", Name: "Pickup"},
		catalog.Fulfillment{ID: "delivery", Name: "Delivery", ExcludedOptionIDs: []string{"anchovies"}},

		catalog.Function{ID: "no_anchovies", Name: "No anchovies", Expression: expr.Not(expr.Has("toppings", "anchovies"))},
		catalog.Function{ID: "white_sauce", Name: "White sauce only", Expression: expr.Has("sauce", "white")},

		catalog.ModifierType{ID: "crust", Name: "Crust", Ordinal: 0, MinSelected: 1, MaxSelected: 1, DisplayAs: catalog.DisplaySelect},
		catalog.ModifierType{ID: "sauce", Name: "Sauce", DisplayName: "Sauces", Ordinal: 1, MaxSelected: 1, DisplayAs: catalog.DisplaySelect},
		catalog.ModifierType{ID: "toppings", Name: "Toppings", Ordinal: 2, MaxSelected: 3, DisplayAs: catalog.DisplayList},
		catalog.ModifierType{ID: "cut", Name: "Cut", Ordinal: 3, MinSelected: 1, MaxSelected: 1, DisplayAs: catalog.DisplayToggle, OmitFromName: true},

		catalog.ModifierOption{ID: "thin", ModifierTypeID: "crust", Name: "Thin Crust", ShortName: "Thin", Ordinal: 0, Price: USD(0)},
		catalog.ModifierOption{ID: "deep", ModifierTypeID: "crust", Name: "Deep Dish", ShortName: "Deep", Ordinal: 1, Price: USD(300), BakeFactor: 1},
		catalog.ModifierOption{ID: "red", ModifierTypeID: "sauce", Name: "Red Sauce", Ordinal: 0, Price: USD(0)},
		catalog.ModifierOption{ID: "white", ModifierTypeID: "sauce", Name: "White Sauce", Ordinal: 1, Price: USD(50)},
		catalog.ModifierOption{
			ID: "pepperoni", ModifierTypeID: "toppings", Name: "Pepperoni", Ordinal: 0, Price: USD(150),
			FlavorFactor: 1, BakeFactor: 1, CanSplit: true, AllowHeavy: true, AllowLite: true,
		},
		catalog.ModifierOption{
			ID: "anchovies", ModifierTypeID: "toppings", Name: "Anchovies", Ordinal: 1, Price: USD(150),
			FlavorFactor: 2, CanSplit: true,
		},
		catalog.ModifierOption{
			ID: "extra_cheese", ModifierTypeID: "toppings", Name: "Extra Cheese", ShortName: "Cheese", Ordinal: 2, Price: USD(100),
			BakeFactor: 2, AllowHeavy: true,
		},
		catalog.ModifierOption{
			ID: "pineapple", ModifierTypeID: "toppings", Name: "Pineapple", Ordinal: 3, Price: USD(125),
			FlavorFactor: 1, BakeFactor: 1, CanSplit: true, EnableFunctionID: "no_anchovies",
		},
		catalog.ModifierOption{
			ID: "truffle", ModifierTypeID: "toppings", Name: "Truffle", Ordinal: 4, Price: USD(500),
			EnableFunctionID: "white_sauce",
			Disabled:         &catalog.Interval{Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), End: time.Time{}},
		},
		catalog.ModifierOption{
			ID: "bacon", ModifierTypeID: "toppings", Name: "Breakfast Bacon", ShortName: "Bacon", Ordinal: 5, Price: USD(200),
			FlavorFactor: 1, BakeFactor: 1,
			Availability: []catalog.Window{{StartMinute: 6 * 60, EndMinute: 11 * 60}},
		},
		catalog.ModifierOption{ID: "square", ModifierTypeID: "cut", Name: "Square Cut", Ordinal: 0, Price: USD(0)},
		catalog.ModifierOption{ID: "pie", ModifierTypeID: "cut", Name: "Pie Cut", Ordinal: 1, Price: USD(0)},

		catalog.Product{
			ID: "pizza", Name: "Pizza", Description: "Hand-stretched pizza", Price: USD(1200),
			Modifiers: []string{"crust", "sauce", "toppings", "cut"},
			MaxFlavor: 4, MaxBake: 4, MaxBakeDifferential: 2,
			CategoryIDs: []string{"pizzas"},
		},
		catalog.Product{ID: "salad", Name: "Salad", Description: "Garden salad", Price: USD(800), CategoryIDs: []string{"salads"}},
	}
}

// Snapshot builds the fixture catalog as an ad hoc snapshot.
func Snapshot(tb testing.TB, at time.Time) *catalog.Snapshot {
	tb.Helper()

	snapshot, err := catalog.NewSnapshot(at, Entities())
	if err != nil {
		tb.Fatalf("NewSnapshot() error = %v", err)
	}
	return snapshot
}

// Store returns a store holding the fixture catalog from Epoch with one
// version published at Epoch.
func Store(tb testing.TB, opts ...catalog.StoreOption) (*catalog.Store, catalog.Version) {
	tb.Helper()

	store := catalog.NewStore(opts...)
	_, err := store.Apply(Epoch, func(tx *catalog.Tx) error {
		for _, entity := range Entities() {
			if err := tx.Put(entity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tb.Fatalf("Apply() error = %v", err)
	}

	version, err := store.CreateVersion(Epoch, "fixture catalog")
	if err != nil {
		tb.Fatalf("CreateVersion() error = %v", err)
	}
	return store, version
}
