// Package database handles database connections and migrations.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"postscript/internal/config"
	"postscript/internal/models"
	"postscript/internal/observability"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Database owns the gorm handle and, for PostgreSQL, the pgx pool behind it.
type Database struct {
	DB   *gorm.DB
	pool *pgxpool.Pool
}

// Connect opens the primary store selected by cfg.DBDriver and migrates it outside production.
func Connect(ctx context.Context, cfg *config.Config) (*Database, error) {
	var (
		d   *Database
		err error
	)

	switch strings.ToLower(cfg.DBDriver) {
	case "sqlite":
		var db *gorm.DB
		db, err = OpenSQLite(cfg.SQLitePath)
		d = &Database{DB: db}
	default:
		d, err = openPostgres(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}

	observability.Logger.InfoContext(ctx, "Database connected successfully", "driver", cfg.DBDriver)

	if !cfg.IsProduction() {
		if err := Migrate(d.DB); err != nil {
			d.Close()
			return nil, err
		}
		observability.Logger.InfoContext(ctx, "Database migration completed")
	}

	return d, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*Database, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = cfg.DBMaxConns
	}
	poolCfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), gormConfig())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Database{DB: db, pool: pool}, nil
}

// OpenSQLite opens a SQLite database with foreign keys enforced. Writes are
// serialized through a single connection, which also keeps ":memory:" databases
// stable across calls.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_foreign_keys=on"

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         NewGormLogger(observability.Logger),
		TranslateError: true,
	}
}

// Migrate creates or updates the tables the comment pipeline needs.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Post{},
		&models.Comment{},
		&models.OutboxEvent{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Ping checks the store is reachable.
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the gorm handle and the pgx pool.
func (d *Database) Close() {
	if d == nil {
		return
	}
	if sqlDB, err := d.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			observability.Logger.Error("failed to close database", "error", err)
		}
	}
	if d.pool != nil {
		d.pool.Close()
	}
}
