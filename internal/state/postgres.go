package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"stacklend/internal/model"
)

// PostgresStore keeps the relayer state document in a single-row table.
// Useful when the relayer host has no durable local disk.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS relayer_state (
			id smallint PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			doc jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) Load() model.RelayerState {
	var data []byte
	err := s.pool.QueryRow(context.Background(),
		`SELECT doc FROM relayer_state WHERE id = 1`).Scan(&data)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Warn("load state row failed, starting fresh", zap.Error(err))
		}
		return model.DefaultState()
	}

	var st model.RelayerState
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("parse state row failed, starting fresh", zap.Error(err))
		return model.DefaultState()
	}

	st.Normalize()
	return st
}

func (s *PostgresStore) Save(st model.RelayerState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO relayer_state (id, doc, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
	`, data)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}
