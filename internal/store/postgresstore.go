package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/router-for-me/GenGateway/internal/config"
	log "github.com/sirupsen/logrus"
)

const defaultSettingsTable = "gateway_settings"

// undefinedTable is the SQLSTATE postgres reports for a missing relation.
const undefinedTable = "42P01"

// PostgresStoreConfig captures configuration required to initialize a Postgres-backed store.
type PostgresStoreConfig struct {
	DSN    string
	Schema string
	Table  string
	// EnsureSchema creates the schema and table on Prepare. Off by default so a
	// read-only role can be used.
	EnsureSchema bool
}

// PostgresStore reads settings from a name/value table.
type PostgresStore struct {
	db  *sql.DB
	cfg PostgresStoreConfig
}

// NewPostgresStore establishes a connection to PostgreSQL.
func NewPostgresStore(ctx context.Context, cfg PostgresStoreConfig) (*PostgresStore, error) {
	trimmedDSN := strings.TrimSpace(cfg.DSN)
	if trimmedDSN == "" {
		return nil, fmt.Errorf("postgres store: DSN is required")
	}
	cfg.DSN = trimmedDSN

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open database connection: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: ping database: %w", err)
	}
	return NewPostgresStoreWithDB(db, cfg), nil
}

// NewPostgresStoreWithDB wraps an already opened database.
func NewPostgresStoreWithDB(db *sql.DB, cfg PostgresStoreConfig) *PostgresStore {
	if strings.TrimSpace(cfg.Table) == "" {
		cfg.Table = defaultSettingsTable
	}
	return &PostgresStore{db: db, cfg: cfg}
}

// Close releases the underlying database connection.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prepare runs EnsureSchema when the store was configured to own its table.
func (s *PostgresStore) Prepare(ctx context.Context) error {
	if s == nil || !s.cfg.EnsureSchema {
		return nil
	}
	return s.EnsureSchema(ctx)
}

// EnsureSchema creates the settings table (and schema when provided).
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store: not initialized")
	}
	if schema := strings.TrimSpace(s.cfg.Schema); schema != "" {
		query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(schema))
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("postgres store: create schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, s.fullTableName())); err != nil {
		return fmt.Errorf("postgres store: create settings table: %w", err)
	}
	return nil
}

// Lookup reads the project-id and region rows. Missing rows leave the field empty and a
// missing table reads as no settings.
func (s *PostgresStore) Lookup(ctx context.Context) (config.Settings, error) {
	query := fmt.Sprintf("SELECT name, value FROM %s WHERE name IN ($1, $2)", s.fullTableName())
	rows, err := s.db.QueryContext(ctx, query, KeyProjectID, KeyRegion)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
			log.Debugf("postgres store: settings table %s does not exist", s.fullTableName())
			return config.Settings{}, nil
		}
		return config.Settings{}, fmt.Errorf("postgres store: query settings: %w", err)
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			log.Errorf("postgres store: close rows error: %v", errClose)
		}
	}()

	var settings config.Settings
	for rows.Next() {
		var name, value string
		if err = rows.Scan(&name, &value); err != nil {
			return config.Settings{}, fmt.Errorf("postgres store: scan setting: %w", err)
		}
		switch name {
		case KeyProjectID:
			settings.ProjectID = strings.TrimSpace(value)
		case KeyRegion:
			settings.Region = strings.TrimSpace(value)
		}
	}
	if err = rows.Err(); err != nil {
		return config.Settings{}, fmt.Errorf("postgres store: iterate settings: %w", err)
	}
	return settings, nil
}

func (s *PostgresStore) fullTableName() string {
	if strings.TrimSpace(s.cfg.Schema) == "" {
		return quoteIdentifier(s.cfg.Table)
	}
	return quoteIdentifier(s.cfg.Schema) + "." + quoteIdentifier(s.cfg.Table)
}

func quoteIdentifier(identifier string) string {
	replaced := strings.ReplaceAll(identifier, "\"", "\"\"")
	return "\"" + replaced + "\""
}
