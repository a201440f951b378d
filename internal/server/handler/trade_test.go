package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachelabs/solsniper/internal/domain"
	"github.com/cachelabs/solsniper/internal/service"
)

type stubBuyer struct {
	pos   domain.Position
	err   error
	calls []service.BuySignal
}

func (s *stubBuyer) Buy(ctx context.Context, sig service.BuySignal) (domain.Position, error) {
	s.calls = append(s.calls, sig)
	if s.err != nil {
		return domain.Position{}, s.err
	}
	return s.pos, nil
}

func newBuyRouter(buyer *stubBuyer) *http.ServeMux {
	h := NewTradeHandler(buyer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/buy", h.Buy)
	return mux
}

func TestBuyOpensPosition(t *testing.T) {
	buyer := &stubBuyer{pos: domain.Position{Address: "mint1", Ticker: "AAA", Status: domain.StatusOpen}}
	mux := newBuyRouter(buyer)

	body := `{"address":"mint1","ticker":"AAA","source":"scanner"}`
	req := httptest.NewRequest(http.MethodPost, "/api/buy", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "mint1", got.Address)

	require.Len(t, buyer.calls, 1)
	assert.Equal(t, "scanner", buyer.calls[0].Source)
}

func TestBuyRejectsMissingAddress(t *testing.T) {
	buyer := &stubBuyer{}
	mux := newBuyRouter(buyer)

	req := httptest.NewRequest(http.MethodPost, "/api/buy", strings.NewReader(`{"ticker":"AAA"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, buyer.calls)
}

func TestBuyConflictWhenAlreadyOpen(t *testing.T) {
	buyer := &stubBuyer{err: domain.ErrAlreadyExists}
	mux := newBuyRouter(buyer)

	req := httptest.NewRequest(http.MethodPost, "/api/buy", strings.NewReader(`{"address":"mint1"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBuyDefaultsSource(t *testing.T) {
	buyer := &stubBuyer{pos: domain.Position{Address: "mint1"}}
	mux := newBuyRouter(buyer)

	req := httptest.NewRequest(http.MethodPost, "/api/buy", strings.NewReader(`{"address":"mint1"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, buyer.calls, 1)
	assert.Equal(t, "api", buyer.calls[0].Source)
}
