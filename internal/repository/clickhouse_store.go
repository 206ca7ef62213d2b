package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"Consilium/internal/domain/models"
	domrepo "Consilium/internal/domain/repository"
	pkgch "Consilium/pkg/clickhouse"
	xerrors "Consilium/pkg/errors"
	applogger "Consilium/pkg/logger"
)

// ClickHouseStore implements ConsensusStore on a ReplacingMergeTree table so results can be
// sliced by ticker and signal for analytics.
type ClickHouseStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

// NewClickHouseStore stores results in table inside the client's database.
func NewClickHouseStore(ch *pkgch.Client, table string, l *applogger.Logger) *ClickHouseStore {
	if table == "" {
		table = "consensus_results"
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseStore{db: ch.DB(), table: ch.Table(table), l: l}
}

var _ domrepo.ConsensusStore = (*ClickHouseStore)(nil)

// Schema returns the idempotent DDL for the results table.
func (s *ClickHouseStore) Schema() []string {
	return []string{fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id            String,
			request_id    String,
			ticker        LowCardinality(String),
			signal        LowCardinality(String),
			confidence    LowCardinality(String),
			score         Float64,
			agreement     Float64,
			responded     UInt16,
			selected      UInt16,
			degraded      UInt8,
			payload       String,
			created_at    DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree
		ORDER BY (ticker, created_at, id)`, s.table)}
}

func (s *ClickHouseStore) Init(ctx context.Context) error {
	for _, stmt := range s.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init %s: %w", s.table, err)
		}
	}
	return nil
}

func (s *ClickHouseStore) Save(ctx context.Context, r *models.ConsensusResult) (string, error) {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	payload, err := encodeResult(r)
	if err != nil {
		return "", err
	}
	degraded := uint8(0)
	if r.Degraded {
		degraded = 1
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	q := fmt.Sprintf(`INSERT INTO %s (id, request_id, ticker, signal, confidence, score, agreement, responded, selected, degraded, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err = s.db.ExecContext(ctx, q,
		id,
		r.RequestID,
		r.Ticker,
		string(r.Signal),
		string(r.Confidence),
		r.Score,
		r.AgreementRatio,
		uint16(r.Responded()),
		uint16(r.Selected()),
		degraded,
		string(payload),
		createdAt,
	)
	if err != nil {
		s.l.Error("clickhouse save_result error",
			applogger.String("table", s.table),
			applogger.String("ticker", r.Ticker),
			applogger.Error(err),
		)
		return "", fmt.Errorf("save result: %w", err)
	}
	return id, nil
}

func (s *ClickHouseStore) Load(ctx context.Context, id string) (*models.ConsensusResult, error) {
	q := fmt.Sprintf("SELECT payload FROM %s FINAL WHERE id = ? LIMIT 1", s.table)
	var payload string
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("result %s: %w", id, xerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("load result: %w", err)
	}
	r, err := decodeResult(id, []byte(payload))
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *ClickHouseStore) LoadHistory(ctx context.Context, f models.HistoryFilter) ([]models.ConsensusResult, error) {
	where, args := historyWhere(f, questionMark)
	q := fmt.Sprintf("SELECT id, payload FROM %s FINAL%s ORDER BY created_at DESC LIMIT %d", s.table, where, historyLimit(f))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse load_history query error",
			applogger.String("table", s.table),
			applogger.String("ticker", f.Ticker),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var out []models.ConsensusResult
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r, err := decodeResult(id, []byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *ClickHouseStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStore) Close() error {
	return nil // pool is owned by pkg/clickhouse
}
