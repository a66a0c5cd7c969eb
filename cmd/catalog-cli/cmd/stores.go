package cmd

import (
	"database/sql"
	"log"
	"os"
	"time"

	catalogdb "catalogsync-backend/services/catalog/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	storeBaseUrl string
	storeConfig  string
)

func init() {
	storesAddCmd.Flags().StringVar(&storeBaseUrl, "base-url", "", "Base url of the store, products whose host matches are routed to it.")
	storesAddCmd.Flags().StringVar(&storeConfig, "config", "{}", "Store settings as json (label aliases, host delay).")
	storesCmd.AddCommand(storesAddCmd)
	storesCmd.AddCommand(storesListCmd)
	rootCmd.AddCommand(storesCmd)
}

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "Manage the store configurations that drive extraction.",
}

var storesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Prints all known store configurations.",
	Run: func(cmd *cobra.Command, args []string) {
		stores, err := queries.ListStoreConfigs(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "Name", "Base URL", "Active", "Config"})
		for _, store := range stores {
			t.AppendRow(table.Row{
				store.ID,
				store.StoreName,
				store.BaseUrl.String,
				store.IsActive,
				store.ConfigJson,
			})
		}
		t.Render()
	},
}

var storesAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Registers a store configuration.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		now := time.Now().Unix()
		store, err := queries.CreateStoreConfig(cmd.Context(), catalogdb.CreateStoreConfigParams{
			StoreName:  args[0],
			BaseUrl:    sql.NullString{String: storeBaseUrl, Valid: storeBaseUrl != ""},
			ConfigJson: storeConfig,
			IsActive:   true,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("created store %d (%s)", store.ID, store.StoreName)
	},
}
