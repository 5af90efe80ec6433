package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/matt-riley/orderz/internal/catalog"
	"github.com/matt-riley/orderz/internal/client"
	"github.com/matt-riley/orderz/internal/seed"
	"github.com/matt-riley/orderz/internal/service"
)

// offlineEpoch is when a seed priced offline takes effect. Every instant an
// order can be priced at falls after it.
var offlineEpoch = time.Unix(0, 0).UTC()

type priceOptions struct {
	catalogFile string
	orderFile   string
	at          string
	timeZone    string
	taxRate     string
	serviceFee  int64
	server      string
}

func newPriceCmd(_ *rootOptions) *cobra.Command {
	priceOpts := &priceOptions{}

	cmd := &cobra.Command{
		Use:   "price",
		Short: "Price a YAML order against a YAML catalog, or against a running server",
		Long: `Without --server the order is priced offline against the catalog seed
given by --catalog. With --server it is sent to the orderz HTTP API and priced
against the live catalog there.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPrice(cmd, priceOpts)
		},
	}
	cmd.Flags().StringVar(&priceOpts.catalogFile, "catalog", "", "path to the YAML catalog seed")
	cmd.Flags().StringVar(&priceOpts.orderFile, "order", "", "path to the YAML order")
	cmd.Flags().StringVar(&priceOpts.at, "at", "", "RFC 3339 pricing instant (default: the order's at, else now)")
	cmd.Flags().StringVar(&priceOpts.timeZone, "time-zone", "UTC", "IANA zone for availability windows")
	cmd.Flags().StringVar(&priceOpts.taxRate, "tax-rate", "0", "default tax rate as a decimal fraction")
	cmd.Flags().Int64Var(&priceOpts.serviceFee, "service-fee", 0, "flat service fee in minor units")
	cmd.Flags().StringVar(&priceOpts.server, "server", "", "base URL of an orderz server to price against")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}

func runPrice(cmd *cobra.Command, priceOpts *priceOptions) error {
	req, err := readOrder(priceOpts.orderFile)
	if err != nil {
		return err
	}
	if priceOpts.server != "" {
		return priceRemote(cmd, priceOpts, req)
	}
	if priceOpts.catalogFile == "" {
		return errors.New("--catalog is required without --server")
	}

	doc, err := seed.ReadFile(priceOpts.catalogFile)
	if err != nil {
		return err
	}
	location, err := time.LoadLocation(priceOpts.timeZone)
	if err != nil {
		return fmt.Errorf("--time-zone: %w", err)
	}
	taxRate, err := decimal.NewFromString(priceOpts.taxRate)
	if err != nil {
		return fmt.Errorf("--tax-rate: %w", err)
	}
	flagAt, err := parseInstantFlag("at", priceOpts.at)
	if err != nil {
		return err
	}

	at := time.Now()
	switch {
	case flagAt != nil:
		at = *flagAt
	case req.At != nil:
		at = *req.At
	}
	at = at.In(location)

	store := catalog.NewStore()
	if _, err := store.Apply(offlineEpoch, doc.Apply); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	snapshot, err := store.AsOf(at)
	if err != nil {
		return fmt.Errorf("snapshot catalog: %w", err)
	}

	priced, err := service.Quote(snapshot, at, req, service.PricingDefaults{
		Currency:   doc.Currency,
		TaxRate:    taxRate,
		ServiceFee: priceOpts.serviceFee,
	})
	if err != nil {
		return err
	}

	return writeJSON(cmd, priced)
}

func priceRemote(cmd *cobra.Command, priceOpts *priceOptions, req service.OrderRequest) error {
	at, err := parseInstantFlag("at", priceOpts.at)
	if err != nil {
		return err
	}
	if at != nil {
		req.At = at
	}

	priced, err := client.New(client.Config{BaseURL: priceOpts.server}).PriceOrder(cmd.Context(), req)
	if err != nil {
		return err
	}
	return writeJSON(cmd, priced)
}

func writeJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func readOrder(path string) (service.OrderRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return service.OrderRequest{}, fmt.Errorf("read order: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)

	var req service.OrderRequest
	if err := decoder.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return service.OrderRequest{}, fmt.Errorf("%s: empty order", path)
		}
		return service.OrderRequest{}, fmt.Errorf("%s: %w", path, err)
	}
	return req, nil
}
