package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cachelabs/solsniper/internal/domain"
	"github.com/cachelabs/solsniper/internal/service"
)

// Buyer takes one parsed entry signal through the full buy flow.
type Buyer interface {
	Buy(ctx context.Context, sig service.BuySignal) (domain.Position, error)
}

// TradeHandler serves the manual buy endpoint. It is only registered in trade
// mode; monitor mode runs without it.
type TradeHandler struct {
	buyer  Buyer
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(buyer Buyer, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{buyer: buyer, logger: logger}
}

type buyRequest struct {
	Address string `json:"address"`
	Ticker  string `json:"ticker"`
	Source  string `json:"source"`
}

// Buy opens a position for the given token, subject to the entry filters.
// POST /api/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	pos, err := h.buyer.Buy(r.Context(), service.BuySignal{
		Address: req.Address,
		Ticker:  req.Ticker,
		Source:  req.Source,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrLockHeld):
			writeError(w, http.StatusConflict, "position already open or buy in progress")
		default:
			h.logger.WarnContext(r.Context(), "handler: buy failed",
				slog.String("address", req.Address),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}
