package main

import (
	"fmt"
	"os"

	"dctledger/internal/ingest"
	"dctledger/internal/sot"

	"github.com/spf13/cobra"
)

func (c *cli) ingestCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Record a JSON array or NDJSON file of envelopes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			items, err := sot.ParseBatch(body)
			if err != nil {
				return err
			}

			db, st, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			recorder := ingest.NewRecorder(st, ingest.NewResolver(st), ingest.WithLogger(c.logger))
			result := recorder.RecordBatch(cmd.Context(), items)
			if err := c.printJSON(result); err != nil {
				return err
			}
			if result.Errors > 0 {
				return fmt.Errorf("%d of %d envelopes rejected", result.Errors, result.Received)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the envelopes file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
