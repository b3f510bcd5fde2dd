package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/gregtusar/tradesim/pkg/ledger"
	"github.com/gregtusar/tradesim/pkg/models"
	"github.com/gregtusar/tradesim/pkg/trader"
)

// PlaceTradeRequest is the body of POST /api/trades. Stake and expiration
// fall back to the session defaults when omitted.
type PlaceTradeRequest struct {
	AssetID           string           `json:"asset_id"`
	Direction         models.Direction `json:"direction"`
	Stake             *decimal.Decimal `json:"stake,omitempty"`
	ExpirationSeconds int              `json:"expiration_seconds,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Assets())
}

func (s *Server) handleExpirations(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"choices": s.session.ExpirationChoices(),
		"default": s.session.DefaultExpiration(),
	})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.PriceHistory())
}

func (s *Server) handlePriceSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.session.PriceSummary()
	if err != nil {
		s.logger.WithError(err).Error("Failed to summarize prices")
		s.writeError(w, http.StatusInternalServerError, "price summary unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleTerms(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Terms())
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Positions())
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	position, err := s.session.Position(chi.URLParam(r, "id"))
	if errors.Is(err, ledger.ErrPositionNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, position)
}

func (s *Server) handlePlaceTrade(w http.ResponseWriter, r *http.Request) {
	var req PlaceTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	stake := s.session.DefaultStake()
	if req.Stake != nil {
		stake = *req.Stake
	}
	expiration := req.ExpirationSeconds
	if expiration == 0 {
		expiration = s.session.DefaultExpiration()
	}

	position, err := s.session.PlaceTrade(trader.TradeRequest{
		AssetID:           req.AssetID,
		Direction:         req.Direction,
		Stake:             stake,
		ExpirationSeconds: expiration,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidStake),
			errors.Is(err, trader.ErrUnknownAsset),
			errors.Is(err, trader.ErrInvalidExpiration),
			errors.Is(err, trader.ErrInvalidDirection):
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.logger.WithError(err).Error("Failed to place trade")
			s.writeError(w, http.StatusInternalServerError, "failed to place trade")
		}
		return
	}

	s.writeJSON(w, http.StatusCreated, position)
}

func (s *Server) handleExportTrades(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="trades.csv"`)
	if err := s.session.Ledger().WriteCSV(w); err != nil {
		s.logger.WithError(err).Error("Failed to export trades")
	}
}
