package valconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"idx-validator/internal/catalog"
	"idx-validator/internal/store"
)

// Store persists validation configs in Postgres, keyed by table name.
// Reads for tables that were never saved return the built-in defaults.
type Store struct {
	db      *store.Store
	catalog *catalog.Registry
}

func NewStore(db *store.Store, cat *catalog.Registry) *Store {
	return &Store{db: db, catalog: cat}
}

// Get returns the saved config for a table, or its defaults when unset.
func (s *Store) Get(ctx context.Context, tableName string) (*ValidationConfig, error) {
	table := s.catalog.Get(tableName)
	if table == nil {
		return nil, fmt.Errorf("unknown table %s", tableName)
	}

	row, err := store.QueryRow(ctx, s.db.Pool,
		"SELECT config FROM validation_configs WHERE table_name = $1", tableName)
	if errors.Is(err, store.ErrNotFound) {
		return DefaultConfig(table), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get config %s: %w", tableName, err)
	}

	cfg, err := decodeConfig(row["config"])
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", tableName, err)
	}
	cfg.TableName = tableName
	return cfg, nil
}

// Save validates and persists a config as a full replacement. The write is
// synchronous: a subsequent Get reflects it immediately.
func (s *Store) Save(ctx context.Context, tableName string, cfg *ValidationConfig) error {
	if s.catalog.Get(tableName) == nil {
		return fmt.Errorf("unknown table %s", tableName)
	}
	cfg.TableName = tableName
	if verr := cfg.Validate(); verr != nil {
		return verr
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config %s: %w", tableName, err)
	}

	_, err = store.Exec(ctx, s.db.Pool,
		`INSERT INTO validation_configs (table_name, config)
		 VALUES ($1, $2)
		 ON CONFLICT (table_name) DO UPDATE SET config = $2, updated_at = NOW()`,
		tableName, payload)
	if err != nil {
		return fmt.Errorf("save config %s: %w", tableName, err)
	}
	return nil
}

func decodeConfig(raw any) (*ValidationConfig, error) {
	var data []byte
	switch v := raw.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		// pgx decodes jsonb into map[string]any; round-trip through JSON.
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		data = encoded
	}

	var cfg ValidationConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.EmailRecipients == nil {
		cfg.EmailRecipients = []string{}
	}
	return &cfg, nil
}
