package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// registerCmd builds register-repo and register-domain. Registering an
// existing name returns the existing row.
func (c *cli) registerCmd(use, what string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: fmt.Sprintf("Register a %s so envelopes can reference it by name", what),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("%s name is required", what)
			}
			db, st, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if what == "domain" {
				domain, err := st.RegisterDomain(cmd.Context(), name)
				if err != nil {
					return err
				}
				return c.printJSON(map[string]any{"id": domain.ID, "domain": domain.Domain})
			}
			repo, err := st.RegisterRepo(cmd.Context(), name)
			if err != nil {
				return err
			}
			return c.printJSON(map[string]any{"id": repo.ID, "name": repo.Name})
		},
	}
}
