package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachelabs/solsniper/internal/domain"
)

type stubReader struct {
	positions map[string]domain.Position
	sells     map[string][]domain.SellRecord
}

func (s *stubReader) Get(ctx context.Context, address string) (domain.Position, error) {
	p, ok := s.positions[address]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *stubReader) ListActive(ctx context.Context) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status.Active() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubReader) ListSells(ctx context.Context, address string) ([]domain.SellRecord, error) {
	return s.sells[address], nil
}

type stubSeller struct {
	requested []string
	err       error
}

func (s *stubSeller) RequestSell(ctx context.Context, address string) error {
	if s.err != nil {
		return s.err
	}
	s.requested = append(s.requested, address)
	return nil
}

type stubPnL struct{ value float64 }

func (s *stubPnL) RealizedPnL(ctx context.Context, address string) (float64, error) {
	return s.value, nil
}

func newTestHandler(reader *stubReader, seller *stubSeller) *PositionHandler {
	return NewPositionHandler(reader, seller, &stubPnL{value: 0.25},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newRouter(h *PositionHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/positions", h.ListPositions)
	mux.HandleFunc("GET /api/positions/{address}", h.GetPosition)
	mux.HandleFunc("GET /api/positions/{address}/pnl", h.GetRealizedPnL)
	mux.HandleFunc("POST /api/positions/{address}/sell", h.RequestSell)
	return mux
}

func TestListPositions(t *testing.T) {
	reader := &stubReader{positions: map[string]domain.Position{
		"addr1": {Address: "addr1", Ticker: "AAA", Status: domain.StatusOpen},
		"addr2": {Address: "addr2", Ticker: "BBB", Status: domain.StatusClosed},
	}}
	mux := newRouter(newTestHandler(reader, &stubSeller{}))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp listPositionsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Positions, 1, "closed positions are not listed")
	assert.Equal(t, "addr1", resp.Positions[0].Address)
}

func TestGetPositionWithLedger(t *testing.T) {
	reader := &stubReader{
		positions: map[string]domain.Position{
			"addr1": {Address: "addr1", Status: domain.StatusPartial, SoldFraction: 0.5},
		},
		sells: map[string][]domain.SellRecord{
			"addr1": {{Address: "addr1", Fraction: 0.5, Reason: "TP 1.8x"}},
		},
	}
	mux := newRouter(newTestHandler(reader, &stubSeller{}))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/positions/addr1", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp positionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "addr1", resp.Position.Address)
	require.Len(t, resp.Sells, 1)
	assert.Equal(t, "TP 1.8x", resp.Sells[0].Reason)
}

func TestGetPositionNotFound(t *testing.T) {
	mux := newRouter(newTestHandler(&stubReader{positions: map[string]domain.Position{}}, &stubSeller{}))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/positions/missing", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRequestSellAccepted(t *testing.T) {
	reader := &stubReader{positions: map[string]domain.Position{
		"addr1": {Address: "addr1", Status: domain.StatusOpen},
	}}
	seller := &stubSeller{}
	mux := newRouter(newTestHandler(reader, seller))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/positions/addr1/sell", nil))

	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, []string{"addr1"}, seller.requested)
}

func TestRequestSellUnknownPosition(t *testing.T) {
	seller := &stubSeller{err: domain.ErrNotFound}
	mux := newRouter(newTestHandler(&stubReader{positions: map[string]domain.Position{}}, seller))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/positions/missing/sell", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetRealizedPnL(t *testing.T) {
	reader := &stubReader{positions: map[string]domain.Position{
		"addr1": {Address: "addr1", Status: domain.StatusClosed},
	}}
	mux := newRouter(newTestHandler(reader, &stubSeller{}))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/positions/addr1/pnl", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.InDelta(t, 0.25, resp["realized_pnl"].(float64), 1e-9)
}
