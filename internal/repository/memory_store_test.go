package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Consilium/internal/domain/models"
	xerrors "Consilium/pkg/errors"
)

func TestMemoryStoreSaveLoadHistory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	seed := []models.ConsensusResult{
		{Ticker: "AAPL", Signal: models.SignalBuy, CreatedAt: base},
		{Ticker: "AAPL", Signal: models.SignalHold, CreatedAt: base.Add(time.Hour)},
		{Ticker: "MSFT", Signal: models.SignalBuy, CreatedAt: base.Add(2 * time.Hour)},
	}
	var ids []string
	for i := range seed {
		id, err := s.Save(ctx, &seed[i])
		require.NoError(t, err)
		ids = append(ids, id)
	}

	got, err := s.Load(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got.Ticker)
	assert.Equal(t, ids[0], got.ID)

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	hist, err := s.LoadHistory(ctx, models.HistoryFilter{Ticker: "aapl"})
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, models.SignalHold, hist[0].Signal, "newest first")

	hist, err = s.LoadHistory(ctx, models.HistoryFilter{Signal: models.SignalBuy, Limit: 1})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "MSFT", hist[0].Ticker)

	hist, err = s.LoadHistory(ctx, models.HistoryFilter{From: base.Add(30 * time.Minute), To: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, models.SignalHold, hist[0].Signal)
}
