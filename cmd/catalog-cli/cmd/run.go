package cmd

import (
	"log"

	"catalogsync-backend/services/catalog"

	"github.com/spf13/cobra"
)

var (
	extractOnly     bool
	forceRedownload bool
	fileID          int64
)

func init() {
	runCmd.Flags().BoolVar(&extractOnly, "extract-only", false, "Stop every product after the scrape stage.")
	runCmd.Flags().BoolVar(&forceRedownload, "force-redownload", false, "Reset finished images and fetch them again.")
	runCmd.Flags().Int64Var(&fileID, "file", 0, "Process only the given input file id.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Processes active input files through scrape, image and upload stages.",
	Run: func(cmd *cobra.Command, args []string) {
		opts := catalog.RunOptions{
			ExtractOnly:     extractOnly,
			ForceRedownload: forceRedownload,
		}

		var err error
		if fileID != 0 {
			err = service.ProcessFile(cmd.Context(), fileID, opts)
		} else {
			err = service.Run(cmd.Context(), opts)
		}
		if err != nil {
			log.Fatal(err)
		}
	},
}
