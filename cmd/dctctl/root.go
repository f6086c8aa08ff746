package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"dctledger/internal/config"
	"dctledger/internal/logging"
	"dctledger/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// cli carries what every subcommand needs once the root has loaded config.
type cli struct {
	out    io.Writer
	errOut io.Writer

	envFile     string
	databaseURL string
	logLevel    string

	cfg    config.Config
	logger *logrus.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:          "dctctl",
		Short:        "Operate the SoT event log and its DCT projection",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&c.envFile, "env-file", ".env", "optional dotenv file loaded before the environment")
	flags.StringVar(&c.databaseURL, "database-url", "", "overrides DATABASE_URL")
	flags.StringVar(&c.logLevel, "log-level", "", "overrides DCT_LOG_LEVEL")

	root.AddCommand(
		c.migrateCmd(),
		c.replayCheckCmd(),
		c.ingestCmd(),
		c.registerCmd("register-repo", "repo"),
		c.registerCmd("register-domain", "domain"),
	)
	return root
}

func (c *cli) init() error {
	cfg, err := config.Load(c.envFile)
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.databaseURL) != "" {
		cfg.DatabaseURL = c.databaseURL
	}
	if strings.TrimSpace(c.logLevel) != "" {
		cfg.LogLevel = c.logLevel
	}
	logger, err := logging.New(c.errOut, cfg.LogLevel, logging.FormatText)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

// openStore connects to the configured database and brings its schema up
// to date.
func (c *cli) openStore(ctx context.Context) (*sqlx.DB, *store.SQLStore, error) {
	db, err := store.Open(ctx, c.cfg.Driver(), c.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := store.ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, store.NewSQLStore(db), nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
