package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"Consilium/internal/domain/models"
)

func TestHistoryWhere(t *testing.T) {
	where, args := historyWhere(models.HistoryFilter{}, dollar)
	assert.Empty(t, where)
	assert.Empty(t, args)

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	where, args = historyWhere(models.HistoryFilter{Ticker: "aapl", Signal: models.SignalBuy, From: from}, dollar)
	assert.Equal(t, " WHERE ticker = $1 AND signal = $2 AND created_at >= $3", where)
	assert.Equal(t, []interface{}{"AAPL", "BUY", from}, args)

	where, _ = historyWhere(models.HistoryFilter{Ticker: "MSFT", To: from}, questionMark)
	assert.Equal(t, " WHERE ticker = ? AND created_at <= ?", where)

	assert.Equal(t, 50, historyLimit(models.HistoryFilter{}))
	assert.Equal(t, 5, historyLimit(models.HistoryFilter{Limit: 5}))
}

func TestResultPayloadRoundTrip(t *testing.T) {
	r := &models.ConsensusResult{Ticker: "AAPL", Signal: models.SignalBuy, Score: 54.41, Dissenters: []string{"graham"}}
	b, err := encodeResult(r)
	assert.NoError(t, err)
	got, err := decodeResult("id-1", b)
	assert.NoError(t, err)
	assert.Equal(t, "id-1", got.ID)
	assert.Equal(t, r.Dissenters, got.Dissenters)
}
