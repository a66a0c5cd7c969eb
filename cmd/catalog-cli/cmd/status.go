package cmd

import (
	"fmt"
	"log"
	"os"
	"time"

	"catalogsync-backend/services/catalog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Prints every input file with its progress counters and product breakdown.",
	Run: func(cmd *cobra.Command, args []string) {
		summaries, err := service.Report(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{
			"ID", "Filename", "Type", "Status", "Total", "Processed", "Errors", "Products", "Created",
		})
		for _, summary := range summaries {
			file := summary.File
			t.AppendRow(table.Row{
				file.ID,
				file.Filename,
				file.FileType,
				file.Status,
				file.TotalProducts,
				file.ProcessedProducts,
				file.ErrorProducts,
				formatBreakdown(summary.ByStatus),
				time.Unix(file.CreatedAt, 0).Format(time.DateTime),
			})
		}
		t.Render()
	},
}

func formatBreakdown(byStatus map[catalog.ProductStatus]int64) string {
	order := []catalog.ProductStatus{
		catalog.ProductPending,
		catalog.ProductScraping,
		catalog.ProductScraped,
		catalog.ProductImageDownloading,
		catalog.ProductImageDownloaded,
		catalog.ProductUploading,
		catalog.ProductUploaded,
		catalog.ProductFailed,
	}
	out := ""
	for _, status := range order {
		count, ok := byStatus[status]
		if !ok {
			continue
		}
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%s:%d", status, count)
	}
	return out
}
