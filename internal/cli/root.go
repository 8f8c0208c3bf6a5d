// Package cli implements the ingest command-line tool: one-shot imports,
// ledger listing and schema migration against the configured database.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/JonMunkholm/ingest/internal/config"
	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/JonMunkholm/ingest/internal/core/dialects"
	"github.com/JonMunkholm/ingest/internal/database"
	"github.com/JonMunkholm/ingest/internal/logging"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// NewRootCommand builds the ingest command tree. Command output goes to
// stdout; logs and cobra's own messages go to stderr.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var (
		envFile   string
		logLevel  string
		logFormat string
	)

	rc := &cobra.Command{
		Use:   "ingest",
		Short: "Load tabular report exports into Postgres.",
		Long: `Loads CSV, TSV and XLSX report exports into Postgres tables.

Each file is matched to a report dialect by its header, validated as a
whole, and loaded inside one transaction. Every load is recorded in the
ingest ledger, so re-importing an unchanged file is skipped.

Database and engine settings are read from the environment (DATABASE_URL,
INGEST_*), optionally from a .env file.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnv(envFile); err != nil {
				return err
			}
			logging.SetupWriter(stderr, logLevel, logFormat)
			return nil
		},
	}

	flags := rc.PersistentFlags()
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file to load; values override the environment")
	flags.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text, json")

	rc.AddCommand(newImportCommand(stdout, stderr))
	rc.AddCommand(newLedgerCommand(stdout))
	rc.AddCommand(newDialectsCommand(stdout))
	rc.AddCommand(newMigrateCommand(stdout))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// loadEnv applies path with godotenv.Overload. A missing default file is
// not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Overload(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// session is the database-backed state shared by commands.
type session struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	engine *core.Engine
}

func (s *session) Close() {
	s.pool.Close()
}

// openSession loads configuration, connects and builds an engine over the
// production dialects. migrate also applies the ledger schema.
func openSession(ctx context.Context, migrate bool) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	engineCfg, err := core.EngineConfigFrom(cfg.Ingest)
	if err != nil {
		return nil, err
	}
	registry, err := dialects.NewRegistry()
	if err != nil {
		return nil, err
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &session{
		cfg:    cfg,
		pool:   pool,
		engine: core.NewEngine(pool, registry, engineCfg),
	}, nil
}
