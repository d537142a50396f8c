package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/pressly/goose/v3"

	"github.com/Spok95/school-roster/internal/db/migrations"
)

func prepareGoose() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return nil
}

// Migrate накатывает все встроенные миграции.
func Migrate(ctx context.Context, database *sql.DB) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, database, "."); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// MigrateDown откатывает последнюю миграцию.
func MigrateDown(ctx context.Context, database *sql.DB) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, database, "."); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// MigrateStatus печатает состояние миграций в w.
func MigrateStatus(ctx context.Context, database *sql.DB, w io.Writer) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	current, err := goose.GetDBVersionContext(ctx, database)
	if err != nil {
		return fmt.Errorf("migrate status: %w", err)
	}
	ms, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
	if err != nil {
		return fmt.Errorf("collect migrations: %w", err)
	}
	for _, m := range ms {
		state := "pending"
		if m.Version <= current {
			state = "applied"
		}
		_, _ = fmt.Fprintf(w, "%05d  %-8s %s\n", m.Version, state, m.Source)
	}
	return nil
}
