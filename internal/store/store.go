// Package store provides the deployment settings stores consulted by the gateway.
// A store supplies the project identifier and region that override environment defaults;
// the gateway only ever reads from it.
package store

import (
	"context"
	"fmt"

	"github.com/router-for-me/GenGateway/internal/config"
	log "github.com/sirupsen/logrus"
)

// Settings keys shared by every backend.
const (
	KeyProjectID = "project-id"
	KeyRegion    = "region"
)

// SettingsStore supplies deployment-level settings. Empty fields mean "not set".
type SettingsStore interface {
	Lookup(ctx context.Context) (config.Settings, error)
}

// StaticStore returns fixed settings. The zero value is the "none" backend.
type StaticStore struct {
	Settings config.Settings
}

// Lookup returns the fixed settings.
func (s StaticStore) Lookup(context.Context) (config.Settings, error) {
	return s.Settings, nil
}

// Open builds the store selected by cfg.Settings.Backend. The returned close function
// releases watchers and connections and is never nil.
func Open(ctx context.Context, cfg *config.Config) (SettingsStore, func() error, error) {
	noop := func() error { return nil }
	settings := cfg.Settings

	switch settings.Backend {
	case config.SettingsBackendNone, "":
		return StaticStore{}, noop, nil

	case config.SettingsBackendFile:
		fileStore, err := NewFileStore(settings.File)
		if err != nil {
			return nil, noop, err
		}
		w, err := fileStore.Watch(ctx)
		if err != nil {
			log.Warnf("settings file %s will not be hot reloaded: %v", settings.File, err)
			return fileStore, noop, nil
		}
		return fileStore, w.Stop, nil

	case config.SettingsBackendRedis:
		redisStore, err := NewRedisStore(ctx, settings.Redis)
		if err != nil {
			return nil, noop, err
		}
		return redisStore, redisStore.Close, nil

	case config.SettingsBackendPostgres:
		pgStore, err := NewPostgresStore(ctx, PostgresStoreConfig{
			DSN:          settings.Postgres.DSN,
			Schema:       settings.Postgres.Schema,
			Table:        settings.Postgres.Table,
			EnsureSchema: settings.Postgres.EnsureSchema,
		})
		if err != nil {
			return nil, noop, err
		}
		if err = pgStore.Prepare(ctx); err != nil {
			_ = pgStore.Close()
			return nil, noop, err
		}
		return pgStore, pgStore.Close, nil

	default:
		return nil, noop, fmt.Errorf("store: unknown settings backend %q", settings.Backend)
	}
}
