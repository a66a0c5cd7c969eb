package main

import (
	"context"
	"time"

	"catalogsync-backend/lib/imageutil"
	"catalogsync-backend/lib/scrapers/mercadolibre"
	"catalogsync-backend/lib/sqliteutil"
	"catalogsync-backend/lib/woocommerce"
	"catalogsync-backend/services/catalog"
	catalogdb "catalogsync-backend/services/catalog/db"
)

type ScraperConfig struct {
	HostDelayMs    int `json:"host_delay_ms"`
	TimeoutSeconds int `json:"timeout_seconds"`
}

type WoocommerceConfig struct {
	woocommerce.Options
	// Disabled turns the upload stage off entirely, products stop at
	// image_downloaded.
	Disabled bool `json:"disabled"`
}

func InitCatalog(ctx context.Context, cfg Config) (*catalog.Service, error) {
	sqlite, err := sqliteutil.OpenDB(catalogdb.Schema, cfg.Database)
	if err != nil {
		return nil, err
	}

	scrapeClient := mercadolibre.NewClient(mercadolibre.ClientOptions{
		HostDelay: time.Duration(cfg.Scraper.HostDelayMs) * time.Millisecond,
		Timeout:   time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second,
	})
	registry := catalog.NewExtractorRegistry(
		&catalog.MercadoLibreExtractor{
			Scraper: mercadolibre.NewScraper(scrapeClient, mercadolibre.Config{}),
		},
	)
	err = catalog.RegisterStores(ctx, catalogdb.New(sqlite), registry, scrapeClient)
	if err != nil {
		return nil, err
	}

	adapters := catalog.Adapters{
		Extractor: registry,
		Fetcher: imageutil.NewFetcher(imageutil.FetcherOptions{
			HostDelay: time.Duration(cfg.Scraper.HostDelayMs) * time.Millisecond,
		}),
		Optimizer: imageutil.NewOptimizer(imageutil.OptimizerOptions{}),
	}
	if !cfg.Woocommerce.Disabled {
		adapters.Uploader = catalog.NewWoocommerceUploader(cfg.Woocommerce.Options)
	}

	return catalog.NewService(sqlite, adapters, cfg.Pipeline), nil
}
