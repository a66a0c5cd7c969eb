package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Registers input files in the ledger. With no arguments the configured input directory is swept.",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			err := service.IngestDir(cmd.Context(), config.Pipeline.InputDir)
			if err != nil {
				log.Fatal(err)
			}
			return
		}
		for _, path := range args {
			id, err := service.IngestFile(cmd.Context(), path)
			if err != nil {
				log.Fatal(err)
			}
			fmt.Printf("%s -> input file %d\n", path, id)
		}
	},
}
