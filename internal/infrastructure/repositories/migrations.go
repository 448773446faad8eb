package repositories

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// AppointmentInsertChannel is the NOTIFY channel fired for every appointment insert
const AppointmentInsertChannel = "appointment_inserts"

//go:embed migrations/*.sql
var embedMigrations embed.FS

func migrationDB(pool *pgxpool.Pool) (*sql.DB, error) {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return stdlib.OpenDBFromPool(pool), nil
}

// RunMigrations applies all pending migrations
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	db, err := migrationDB(pool)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrationStatus logs the applied state of every migration
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool) error {
	db, err := migrationDB(pool)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return goose.StatusContext(ctx, db, "migrations")
}

// RollbackMigration reverts the latest migration
func RollbackMigration(ctx context.Context, pool *pgxpool.Pool) error {
	db, err := migrationDB(pool)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return goose.DownContext(ctx, db, "migrations")
}
