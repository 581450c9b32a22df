package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"anno-linker/config"
	"anno-linker/providers"
	"anno-linker/providers/globalise"
	"anno-linker/providers/iiif"
	"anno-linker/services"
	"anno-linker/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type snapshotOptions struct {
	project  string
	maxPages int
	keep     int
}

func newRootCmd() *cobra.Command {
	opts := &snapshotOptions{}
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export the aggregated gazetteer of a project to S3",
		Long: `Faltet alle Seiten des Linking-Feeds eines Projekts zu Orten, lädt das
Ergebnis als gzip-komprimiertes JSON nach S3 und behält nur die neuesten Stände.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.project, "project", "", "project slug (default: DEFAULT_PROJECT)")
	cmd.Flags().IntVar(&opts.maxPages, "max-pages", 0, "maximum feed pages to aggregate (0 = all)")
	cmd.Flags().IntVar(&opts.keep, "keep", -1, "number of snapshots to keep (default: KEEP_SNAPSHOTS)")
	return cmd
}

func runSnapshot(ctx context.Context, opts *snapshotOptions) error {
	logging, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %w", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if !cfg.SnapshotsEnabled() {
		return fmt.Errorf("S3_URL and S3_BUCKET must be set")
	}
	keep := opts.keep
	if keep < 0 {
		keep = cfg.KeepSnapshots
	}

	snapshotStore, err := storage.NewSnapshotStore(cfg)
	if err != nil {
		return fmt.Errorf("S3-Client konnte nicht erstellt werden: %w", err)
	}
	stores := services.NewStores(cfg, logging)
	enrichers := []providers.PlaceProvider{globalise.NewFetcher(cfg, logging)}
	aggregator := services.NewAggregator(cfg, logging, stores, nil, iiif.NewFetcher(cfg, logging), enrichers...)
	exporter := services.NewSnapshotExporter(aggregator, snapshotStore, logging)

	report, err := exporter.Export(ctx, opts.project, opts.maxPages, keep)
	if err != nil {
		return err
	}
	log.Printf("Snapshot erfolgreich hochgeladen: %s (%d Orte)", report.Link, report.Places)
	for _, key := range report.Rotated {
		log.Printf("Alter Snapshot gelöscht: %s", key)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Println("Snapshot fehlgeschlagen:", err)
		os.Exit(1)
	}
}
