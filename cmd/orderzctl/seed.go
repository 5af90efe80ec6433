package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matt-riley/orderz/internal/repository"
	"github.com/matt-riley/orderz/internal/seed"
	"github.com/matt-riley/orderz/internal/service"
)

type seedOptions struct {
	file        string
	effective   string
	description string
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	seedOpts := &seedOptions{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Apply a YAML catalog and publish it as a new catalog version",
		Long: `Applies every entity of a YAML catalog seed as one catalog edit and then
publishes a catalog version at the same instant. Entities missing from the
seed are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, opts, seedOpts)
		},
	}
	cmd.Flags().StringVarP(&seedOpts.file, "file", "f", "", "path to the YAML catalog seed")
	cmd.Flags().StringVar(&seedOpts.effective, "effective", "", "RFC 3339 instant the edit takes effect (default now)")
	cmd.Flags().StringVar(&seedOpts.description, "description", "", "description of the published version")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runSeed(cmd *cobra.Command, opts *rootOptions, seedOpts *seedOptions) error {
	doc, err := seed.ReadFile(seedOpts.file)
	if err != nil {
		return err
	}
	effectiveAt, err := parseInstantFlag("effective", seedOpts.effective)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	pool, err := opts.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	log := opts.logger(cmd)
	svc, err := service.New(ctx, repository.NewPostgresRepository(pool), service.WithLogger(log))
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	diff, err := svc.EditCatalog(ctx, effectiveAt, doc.Apply)
	if err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}
	log.Info("seed applied", "closed", len(diff.Closed), "added", len(diff.Added))

	at := effectiveAt
	if !diff.Empty() {
		at = &diff.EffectiveAt
	}
	description := strings.TrimSpace(seedOpts.description)
	if description == "" {
		description = "seed " + seedOpts.file
	}
	version, err := svc.CreateVersion(ctx, at, description)
	if err != nil {
		return fmt.Errorf("publish version: %w", err)
	}

	return writeJSON(cmd, version)
}
