package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PGStore is a self-hosted record backend over Postgres. It keeps the
// same persisted layout as the hosted store: one row per record, the
// field-id → value mapping stored as a JSONB document.
type PGStore struct {
	pool      *pgxpool.Pool
	userField string
}

// OpenPool creates a PostgreSQL connection pool
func OpenPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Int32("max_conns", cfg.MaxConns).
		Msg("postgres connection pool created")

	return pool, nil
}

// NewPGStore creates a Postgres-backed record store. userField is the
// field identifier carrying the user id, used by FindByUser.
func NewPGStore(pool *pgxpool.Pool, userField string) *PGStore {
	return &PGStore{pool: pool, userField: userField}
}

// Migrate creates the backing table if it does not exist
func (s *PGStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS board_record (
			id         CHAR(24) PRIMARY KEY,
			fields     JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

// Get fetches a record by identifier
func (s *PGStore) Get(ctx context.Context, id string) (*Record, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT fields FROM board_record WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToRecord(id, raw)
}

// Update merges fields into an existing record
func (s *PGStore) Update(ctx context.Context, id string, fields map[string]any) (*Record, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record fields: %w", err)
	}
	var raw []byte
	err = s.pool.QueryRow(ctx,
		`UPDATE board_record
		 SET fields = fields || $2::jsonb, updated_at = now()
		 WHERE id = $1
		 RETURNING fields`, id, patch).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToRecord(id, raw)
}

// Create inserts a new record with a generated identifier
func (s *PGStore) Create(ctx context.Context, fields map[string]any) (*Record, error) {
	id := newRecordID()
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record fields: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO board_record (id, fields) VALUES ($1, $2::jsonb)`, id, data); err != nil {
		return nil, err
	}
	return rowToRecord(id, data)
}

// FindByUser returns the record whose user-identifier field equals
// userID
func (s *PGStore) FindByUser(ctx context.Context, userID string) (*Record, error) {
	var id string
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, fields FROM board_record
		 WHERE fields->>$1 = $2
		 ORDER BY updated_at DESC
		 LIMIT 1`, s.userField, userID).Scan(&id, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToRecord(strings.TrimSpace(id), raw)
}

func rowToRecord(id string, raw []byte) (*Record, error) {
	fields := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode record fields: %w", err)
		}
	}
	return &Record{ID: id, Fields: fields}, nil
}

// newRecordID generates a 24-character hexadecimal identifier matching
// the hosted store's format
func newRecordID() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return hex[:24]
}
