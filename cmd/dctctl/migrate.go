package main

import (
	"github.com/spf13/cobra"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the event store schema and apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.logger.WithField("driver", c.cfg.Driver()).Info("Applying SQL migrations...")
			db, _, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			c.logger.Info("Migration successful")
			return nil
		},
	}
}
