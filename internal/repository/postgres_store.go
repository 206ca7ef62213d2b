package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"Consilium/internal/domain/models"
	domrepo "Consilium/internal/domain/repository"
	xerrors "Consilium/pkg/errors"
	applogger "Consilium/pkg/logger"
	pkgpg "Consilium/pkg/postgres"
)

// PostgresStore implements ConsensusStore on a relational table with the full result in jsonb.
type PostgresStore struct {
	db *sqlx.DB
	l  *applogger.Logger
}

func NewPostgresStore(pg *pkgpg.Client, l *applogger.Logger) *PostgresStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &PostgresStore{db: pg.DB(), l: l}
}

var _ domrepo.ConsensusStore = (*PostgresStore)(nil)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS consensus_results (
		id          UUID PRIMARY KEY,
		request_id  TEXT NOT NULL DEFAULT '',
		ticker      TEXT NOT NULL,
		signal      TEXT NOT NULL,
		confidence  TEXT NOT NULL,
		score       DOUBLE PRECISION NOT NULL,
		agreement   DOUBLE PRECISION NOT NULL,
		degraded    BOOLEAN NOT NULL DEFAULT FALSE,
		dissenters  TEXT[] NOT NULL DEFAULT '{}',
		payload     JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_consensus_results_ticker_created ON consensus_results (ticker, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_consensus_results_signal ON consensus_results (signal)`,
}

type resultRow struct {
	ID      string `db:"id"`
	Payload []byte `db:"payload"`
}

func (s *PostgresStore) Init(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init consensus_results: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, r *models.ConsensusResult) (string, error) {
	id := r.ID
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	payload, err := encodeResult(r)
	if err != nil {
		return "", err
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	dissenters := r.Dissenters
	if dissenters == nil {
		dissenters = []string{}
	}

	query := `
		INSERT INTO consensus_results (id, request_id, ticker, signal, confidence, score, agreement, degraded, dissenters, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`
	_, err = s.db.ExecContext(ctx, query,
		id,
		r.RequestID,
		r.Ticker,
		string(r.Signal),
		string(r.Confidence),
		r.Score,
		r.AgreementRatio,
		r.Degraded,
		pq.Array(dissenters),
		payload,
		createdAt,
	)
	if err != nil {
		s.l.Error("postgres save_result error",
			applogger.String("ticker", r.Ticker),
			applogger.Error(err),
		)
		return "", fmt.Errorf("save result: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*models.ConsensusResult, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("result %s: %w", id, xerrors.ErrNotFound)
	}
	var row resultRow
	err := s.db.GetContext(ctx, &row, `SELECT id, payload FROM consensus_results WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("result %s: %w", id, xerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("load result: %w", err)
	}
	r, err := decodeResult(row.ID, row.Payload)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) LoadHistory(ctx context.Context, f models.HistoryFilter) ([]models.ConsensusResult, error) {
	where, args := historyWhere(f, dollar)
	args = append(args, historyLimit(f))
	query := fmt.Sprintf(`SELECT id, payload FROM consensus_results%s ORDER BY created_at DESC LIMIT $%d`, where, len(args))

	var rows []resultRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		s.l.Error("postgres load_history error",
			applogger.String("ticker", f.Ticker),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]models.ConsensusResult, 0, len(rows))
	for _, row := range rows {
		r, err := decodeResult(row.ID, row.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return nil // pool is owned by pkg/postgres
}
