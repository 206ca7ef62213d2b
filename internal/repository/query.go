package repository

import (
	"encoding/json"
	"fmt"
	"strings"

	"Consilium/internal/domain/models"
)

const defaultHistoryLimit = 50

// historyWhere renders the WHERE clause for a history filter. bind returns the placeholder
// for the n-th argument, 1-based.
func historyWhere(f models.HistoryFilter, bind func(n int) string) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, bind(len(args))))
	}
	if f.Ticker != "" {
		add("ticker = %s", strings.ToUpper(f.Ticker))
	}
	if f.Signal != "" {
		add("signal = %s", string(f.Signal))
	}
	if !f.From.IsZero() {
		add("created_at >= %s", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("created_at <= %s", f.To.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func historyLimit(f models.HistoryFilter) int {
	if f.Limit <= 0 {
		return defaultHistoryLimit
	}
	return f.Limit
}

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

// The full result is kept as a JSON payload next to the indexed columns.
func encodeResult(r *models.ConsensusResult) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return b, nil
}

func decodeResult(id string, payload []byte) (models.ConsensusResult, error) {
	var r models.ConsensusResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return r, fmt.Errorf("decode result %s: %w", id, err)
	}
	r.ID = id
	return r, nil
}
