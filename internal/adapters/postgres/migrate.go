package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/okian/safescore/pkg/logger"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// gooseLogger routes goose output through the service logger.
type gooseLogger struct{ l logger.Logger }

func (g gooseLogger) Printf(format string, v ...any) {
	g.l.Info(context.Background(), fmt.Sprintf(format, v...))
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.l.Error(context.Background(), fmt.Sprintf(format, v...))
}

// Migrate applies every pending migration.
func (s *Store) Migrate(ctx context.Context) error {
	return s.migrate(ctx, "up")
}

// MigrationStatus logs the state of each migration.
func (s *Store) MigrationStatus(ctx context.Context) error {
	return s.migrate(ctx, "status")
}

func (s *Store) migrate(ctx context.Context, command string) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{l: s.logger.Named("migrate")})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrate, err)
	}
	if err := goose.RunContext(ctx, command, db, migrationsDir); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMigrate, command, err)
	}
	return nil
}
