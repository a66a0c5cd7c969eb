// Command dev bootstraps a local environment for catalogd and
// catalog-cli: state directories, an empty ledger, a seeded store
// config and a config.json5 in the repository root.
package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	catalogdb "catalogsync-backend/services/catalog/db"

	"github.com/tcnksm/go-input"
	_ "modernc.org/sqlite"
)

func create(recreate bool) error {
	_, err := os.Stat("go.mod")
	if os.IsNotExist(err) {
		return fmt.Errorf("the dev environment must be created in the repository root (the same directory as the 'go.mod' file)")
	}

	if recreate {
		err = os.RemoveAll("dev/.state")
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	for _, dir := range []string{
		"dev/.state",
		"dev/.state/input",
		"dev/.state/images",
		"dev/.state/optimized",
	} {
		err = os.MkdirAll(dir, 0777)
		if err != nil && !os.IsExist(err) {
			return err
		}
	}

	err = createLedger()
	if err != nil {
		return err
	}
	return writeConfig()
}

func createLedger() error {
	db, err := sql.Open("sqlite", "dev/.state/catalog.db")
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.Exec(catalogdb.Schema)
	if err != nil && strings.Contains(err.Error(), "already exists") {
		err = nil
	}
	if err != nil {
		return err
	}

	row := db.QueryRow(`SELECT COUNT(*) FROM store_configs`)
	var count int
	if err := row.Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := time.Now().Unix()
	_, err = db.Exec(`
INSERT INTO store_configs (store_name, base_url, config_json, is_active, created_at, updated_at)
VALUES (?, ?, ?, 1, ?, ?)`,
		"mercadolibre-mx", "https://articulo.mercadolibre.com.mx", "{}", now, now)
	return err
}

func writeConfig() error {
	_, err := os.Stat("config.json5")
	if !os.IsNotExist(err) {
		slog.Info("config.json5 already exists, leaving it alone")
		return err
	}

	ui := input.DefaultUI()
	opts := &input.Options{
		Default: "",
		Mask:    false,
		Loop:    false,
	}
	baseUrl, err := ui.Ask("woocommerce base url (empty disables uploads):", opts)
	if err != nil {
		return err
	}

	cfg := map[string]any{
		"database":               "dev/.state/catalog.db",
		"sweep_interval_seconds": 60,
		"pipeline": map[string]any{
			"input_dir":     "dev/.state/input",
			"image_dir":     "dev/.state/images",
			"optimized_dir": "dev/.state/optimized",
		},
		"scraper": map[string]any{
			"host_delay_ms": 1500,
		},
	}
	if baseUrl == "" {
		cfg["woocommerce"] = map[string]any{"disabled": true}
	} else {
		key, err := ui.Ask("woocommerce consumer key:", opts)
		if err != nil {
			return err
		}
		secret, err := ui.Ask("woocommerce consumer secret:", opts)
		if err != nil {
			return err
		}
		cfg["woocommerce"] = map[string]any{
			"base_url":        baseUrl,
			"consumer_key":    key,
			"consumer_secret": secret,
		}
	}

	out, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile("config.json5", out, 0644)
}

func main() {
	recreate := flag.Bool("recreate", false, "recreate the dev environment from scratch")
	flag.Parse()

	err := create(*recreate)
	if err != nil {
		slog.Error("failed to create dev environment", "err", err.Error())
		os.Exit(1)
	}

	slog.Info("dev environment created successfully!")
}
