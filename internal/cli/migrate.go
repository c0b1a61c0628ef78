package cli

import (
	"context"
	"database/sql"
	"fmt"

	"coderoom-service/internal/config"
	"coderoom-service/internal/infra/postgres"
	pgmigrations "coderoom-service/internal/infra/postgres/migrations"
	"coderoom-service/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

// NewMigrateCmd applies database migrations and optionally seeds problems.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var seedFile string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log.Level, cfg.Log.Pretty)
			if seedFile == "" {
				seedFile = cfg.Problems.SeedFile
			}
			db, err := openBun(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := runMigrations(cmd.Context(), db, log); err != nil {
				return err
			}
			return seedProblems(cmd.Context(), db, seedFile, log)
		},
	}
	cmd.Flags().StringVar(&seedFile, "seed", "", "YAML file of problems to upsert after migrating")
	return cmd
}

func openBun(cfg config.Config) (*bun.DB, error) {
	if cfg.Postgres.URL == "" {
		return nil, fmt.Errorf("postgres url not configured")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func runMigrations(ctx context.Context, db *bun.DB, log zerolog.Logger) error {
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if group.IsZero() {
		log.Info().Msg("database is up to date")
		return nil
	}
	log.Info().Str("group", group.String()).Msg("migrations applied")
	return nil
}

func seedProblems(ctx context.Context, db *bun.DB, path string, log zerolog.Logger) error {
	if path == "" {
		return nil
	}
	problems, err := config.LoadProblems(path)
	if err != nil {
		return err
	}
	if err := postgres.SeedProblems(ctx, db, problems); err != nil {
		return err
	}
	log.Info().Int("problems", len(problems)).Str("file", path).Msg("problems seeded")
	return nil
}
