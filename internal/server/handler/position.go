package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cachelabs/solsniper/internal/domain"
)

// PositionReader is the store subset the position handler requires.
type PositionReader interface {
	Get(ctx context.Context, address string) (domain.Position, error)
	ListActive(ctx context.Context) ([]domain.Position, error)
	ListSells(ctx context.Context, address string) ([]domain.SellRecord, error)
}

// SellRequester forces a full liquidation of a monitored position.
type SellRequester interface {
	RequestSell(ctx context.Context, address string) error
}

// PnLReader recomputes realized PnL from the sell ledger.
type PnLReader interface {
	RealizedPnL(ctx context.Context, address string) (float64, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionReader
	seller    SellRequester
	pnl       PnLReader
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given collaborators.
func NewPositionHandler(positions PositionReader, seller SellRequester, pnl PnLReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		seller:    seller,
		pnl:       pnl,
		logger:    logger,
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns every position currently under management.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.ListActive(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// positionResponse is one position with its full sell ledger.
type positionResponse struct {
	Position domain.Position     `json:"position"`
	Sells    []domain.SellRecord `json:"sells"`
}

// GetPosition returns one position with its sell ledger.
// GET /api/positions/{address}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	pos, err := h.positions.Get(r.Context(), address)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load position")
		return
	}

	sells, err := h.positions.ListSells(r.Context(), address)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: list sells failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
	}
	if sells == nil {
		sells = []domain.SellRecord{}
	}
	writeJSON(w, http.StatusOK, positionResponse{Position: pos, Sells: sells})
}

// RequestSell flags a position for immediate full liquidation.
// POST /api/positions/{address}/sell
func (h *PositionHandler) RequestSell(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if err := h.seller.RequestSell(r.Context(), address); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: sell request failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to request sell")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: sell requested",
		slog.String("address", address),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"address": address,
		"status":  string(domain.StatusSellRequest),
	})
}

// GetRealizedPnL recomputes a position's realized PnL from its ledger.
// GET /api/positions/{address}/pnl
func (h *PositionHandler) GetRealizedPnL(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	realized, err := h.pnl.RealizedPnL(r.Context(), address)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: realized pnl failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute realized pnl")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":          address,
		"realized_pnl":     realized,
		"realized_pnl_pct": realized * 100,
	})
}
