package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/matt-riley/orderz/internal/catalog/catalogtest"
	"github.com/matt-riley/orderz/internal/expr"
)

func BenchmarkGenerateMetadata(b *testing.B) {
	ctx := context.Background()
	svc, err := New(ctx, newSeededServiceRepository(b, true), WithClock(fixedClock(catalogtest.Lunch)))
	if err != nil {
		b.Fatalf("New() error = %v", err)
	}

	req := MetadataRequest{
		ProductID:     "pizza",
		FulfillmentID: "pickup",
		Selections: []expr.SelectedOption{
			{ModifierTypeID: "crust", OptionID: "thin"},
			{ModifierTypeID: "toppings", OptionID: "pepperoni", Placement: expr.PlacementLeft},
			{ModifierTypeID: "toppings", OptionID: "pineapple", Placement: expr.PlacementRight},
		},
	}

	b.ResetTimer()
	for b.Loop() {
		_, _ = svc.GenerateMetadata(ctx, req)
	}
}

func BenchmarkPriceOrder(b *testing.B) {
	ctx := context.Background()
	svc, err := New(ctx, newSeededServiceRepository(b, true),
		WithClock(fixedClock(catalogtest.Lunch)),
		WithPricingDefaults(PricingDefaults{Currency: "USD", TaxRate: decimal.RequireFromString("0.0825")}),
	)
	if err != nil {
		b.Fatalf("New() error = %v", err)
	}

	req := OrderRequest{
		FulfillmentID: "pickup",
		Items: []OrderItem{
			{ProductID: "pizza", Quantity: 2, Selections: []expr.SelectedOption{
				{ModifierTypeID: "crust", OptionID: "deep"},
				{ModifierTypeID: "cut", OptionID: "pie"},
				{ModifierTypeID: "toppings", OptionID: "extra_cheese"},
			}},
			{ProductID: "salad", Quantity: 3},
		},
	}

	b.ResetTimer()
	for b.Loop() {
		_, _ = svc.PriceOrder(ctx, req)
	}
}
