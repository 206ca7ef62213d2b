package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Consilium/internal/domain/models"
	xerrors "Consilium/pkg/errors"
	"Consilium/pkg/metrics"
)

type recordingAnalyzer struct{ got []AnalyzeInput }

func (r *recordingAnalyzer) Analyze(_ context.Context, in AnalyzeInput) (*models.AnalysisResult, error) {
	r.got = append(r.got, in)
	return &models.AnalysisResult{RequestID: "req-1", Tickers: in.Tickers}, nil
}

func TestAnalysisRequestHandler(t *testing.T) {
	a := &recordingAnalyzer{}
	h := NewAnalysisRequestHandler("consilium.analysis.requests", a, metrics.Nop{}, nil)
	assert.Equal(t, "consilium.analysis.requests", h.Topic())

	err := h.Handle(context.Background(), []byte(`{"tickers":["AAPL","MSFT"],"agents":["buffett"],"skip_specialists":true,"deadline_seconds":120}`))
	require.NoError(t, err)
	require.Len(t, a.got, 1)
	assert.Equal(t, []string{"AAPL", "MSFT"}, a.got[0].Tickers)
	assert.Equal(t, []string{"buffett"}, a.got[0].Filter.IDs)
	assert.True(t, a.got[0].Filter.SkipSpecialists)
	assert.Equal(t, 2*time.Minute, a.got[0].Deadline)
}

func TestAnalysisRequestHandlerRejectsBadPayloads(t *testing.T) {
	h := NewAnalysisRequestHandler("t", &recordingAnalyzer{}, metrics.Nop{}, nil)
	for _, body := range []string{`not json`, `{"tickers":[]}`, `{"tickers":["AAPL"],"deadline_seconds":-1}`} {
		err := h.Handle(context.Background(), []byte(body))
		require.Error(t, err, body)
		assert.ErrorIs(t, err, xerrors.ErrInvalidInput, body)
	}
}
