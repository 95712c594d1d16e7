package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aoikurokawa/zone/internal/domain"
)

// MarketReader is the read side of the engine used by the market endpoints.
type MarketReader interface {
	Market(ctx context.Context, assetID string) (domain.Market, error)
	Prediction(ctx context.Context, assetID string, user common.Address) (domain.Prediction, error)
	Predictions(ctx context.Context, assetID string, opts domain.ListOpts) ([]domain.Prediction, error)
	Now() int64
}

// MarketHandler serves markets and their predictions.
type MarketHandler struct {
	markets MarketReader
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger.With(slog.String("handler", "markets"))}
}

// marketResponse adds the lifecycle phase derived at request time.
type marketResponse struct {
	domain.Market
	Status domain.MarketStatus `json:"status"`
}

type listPredictionsResponse struct {
	Predictions []domain.Prediction `json:"predictions"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

// GetMarket returns one market.
// GET /api/markets/{asset}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.Market(r.Context(), r.PathValue("asset"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, marketResponse{Market: m, Status: m.Status(h.markets.Now())})
}

// ListPredictions returns a page of a market's predictions.
// GET /api/markets/{asset}/predictions?limit=50&offset=0
func (h *MarketHandler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ps, err := h.markets.Predictions(r.Context(), r.PathValue("asset"), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if ps == nil {
		ps = []domain.Prediction{}
	}
	writeJSON(w, http.StatusOK, listPredictionsResponse{Predictions: ps, Limit: opts.Limit, Offset: opts.Offset})
}

// GetPrediction returns one user's prediction on a market.
// GET /api/markets/{asset}/predictions/{user}
func (h *MarketHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	user, ok := parseAddress(r.PathValue("user"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}
	p, err := h.markets.Prediction(r.Context(), r.PathValue("asset"), user)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
