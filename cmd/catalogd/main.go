package main

import (
	"context"
	"flag"
	"log/slog"
	"time"

	"catalogsync-backend/lib/configutil"
	"catalogsync-backend/lib/serviceutil"
	"catalogsync-backend/services/catalog"
)

type Config struct {
	// Database points at the ledger, either a local sqlite path or a
	// libsql url.
	Database string `json:"database"`
	// SweepIntervalSeconds is how often the input directory is swept
	// and active files are processed.
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`

	Pipeline    catalog.Config    `json:"pipeline"`
	Scraper     ScraperConfig     `json:"scraper"`
	Woocommerce WoocommerceConfig `json:"woocommerce"`

	ExtractOnly     bool `json:"extract_only"`
	ForceRedownload bool `json:"force_redownload"`
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	InitTelemetry(ctx, *verbose)

	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	service, err := InitCatalog(ctx, cfg)
	if err != nil {
		serviceutil.Fatal("init catalog", err)
	}

	interval := time.Duration(cfg.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute * 5
	}
	opts := catalog.RunOptions{
		ExtractOnly:     cfg.ExtractOnly,
		ForceRedownload: cfg.ForceRedownload,
	}

	slog.InfoContext(ctx, "catalogd running", "input_dir", cfg.Pipeline.InputDir, "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sweep(ctx, service, cfg, opts)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, service *catalog.Service, cfg Config, opts catalog.RunOptions) {
	if err := service.IngestDir(ctx, cfg.Pipeline.InputDir); err != nil {
		slog.ErrorContext(ctx, "ingest sweep failed", "err", err)
		return
	}
	if err := service.Run(ctx, opts); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.ErrorContext(ctx, "pipeline run failed", "err", err)
	}
}
