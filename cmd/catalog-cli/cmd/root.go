package cmd

import (
	"fmt"
	"os"
	"time"

	"catalogsync-backend/lib/configutil"
	"catalogsync-backend/lib/imageutil"
	"catalogsync-backend/lib/scrapers/mercadolibre"
	"catalogsync-backend/lib/sqliteutil"
	"catalogsync-backend/lib/telemetry"
	"catalogsync-backend/lib/woocommerce"
	"catalogsync-backend/services/catalog"
	catalogdb "catalogsync-backend/services/catalog/db"

	"github.com/spf13/cobra"
)

type Config struct {
	Database string `json:"database"`

	Pipeline catalog.Config `json:"pipeline"`
	Scraper  struct {
		HostDelayMs    int `json:"host_delay_ms"`
		TimeoutSeconds int `json:"timeout_seconds"`
	} `json:"scraper"`
	Woocommerce struct {
		woocommerce.Options
		Disabled bool `json:"disabled"`
	} `json:"woocommerce"`
}

var (
	configPath string
	verbose    bool

	config  Config
	queries *catalogdb.Queries
	service *catalog.Service
)

var rootCmd = &cobra.Command{
	Use:   "catalog-cli",
	Short: "catalog-cli drives the product sync pipeline from the command line.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)

		var err error
		config, err = configutil.ReadConfig[Config](configPath)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		sqlite, err := sqliteutil.OpenDB(catalogdb.Schema, config.Database)
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		queries = catalogdb.New(sqlite)

		scrapeClient := mercadolibre.NewClient(mercadolibre.ClientOptions{
			HostDelay: time.Duration(config.Scraper.HostDelayMs) * time.Millisecond,
			Timeout:   time.Duration(config.Scraper.TimeoutSeconds) * time.Second,
		})
		registry := catalog.NewExtractorRegistry(
			&catalog.MercadoLibreExtractor{
				Scraper: mercadolibre.NewScraper(scrapeClient, mercadolibre.Config{}),
			},
		)
		err = catalog.RegisterStores(cmd.Context(), queries, registry, scrapeClient)
		if err != nil {
			return fmt.Errorf("registering stores: %w", err)
		}

		adapters := catalog.Adapters{
			Extractor: registry,
			Fetcher: imageutil.NewFetcher(imageutil.FetcherOptions{
				HostDelay: time.Duration(config.Scraper.HostDelayMs) * time.Millisecond,
			}),
			Optimizer: imageutil.NewOptimizer(imageutil.OptimizerOptions{}),
		}
		if !config.Woocommerce.Disabled {
			adapters.Uploader = catalog.NewWoocommerceUploader(config.Woocommerce.Options)
		}

		service = catalog.NewService(sqlite, adapters, config.Pipeline)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json5", "Path to the configuration file.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
