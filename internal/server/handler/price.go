package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aoikurokawa/zone/internal/crypto"
	"github.com/aoikurokawa/zone/internal/domain"
)

// PriceHandler publishes and serves the prices the keeper settles from.
// Writes must carry a valid feed signature.
type PriceHandler struct {
	prices domain.PriceCache
	feed   crypto.FeedAuth
	skew   time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler. A feed without a key rejects every
// write.
func NewPriceHandler(prices domain.PriceCache, feed crypto.FeedAuth, skew time.Duration, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		prices: prices,
		feed:   feed,
		skew:   skew,
		now:    time.Now,
		logger: logger.With(slog.String("handler", "prices")),
	}
}

type setPriceRequest struct {
	Price uint64 `json:"price" validate:"required,gt=0"`
	// ObservedAt is unix seconds; zero means now.
	ObservedAt int64 `json:"observed_at" validate:"gte=0"`
}

type priceResponse struct {
	AssetID    string    `json:"asset_id"`
	Price      uint64    `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// SetPrice records the latest price of an asset.
// PUT /api/prices/{asset}
func (h *PriceHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	now := h.now()
	if err := h.feed.Verify(r.Header, r.Method, r.URL.Path, body, now, h.skew); err != nil {
		h.logger.WarnContext(r.Context(), "handler: rejected price write",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, r, h.logger, err)
		return
	}

	assetID := r.PathValue("asset")
	if err := domain.ValidateAssetID(assetID); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	var req setPriceRequest
	if err := decodeStrict(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	at := now.UTC()
	if req.ObservedAt > 0 {
		at = time.Unix(req.ObservedAt, 0).UTC()
	}
	if at.After(now.Add(h.skew)) {
		writeError(w, http.StatusBadRequest, "observed_at is in the future")
		return
	}

	if err := h.prices.SetPrice(r.Context(), assetID, req.Price, at); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{AssetID: assetID, Price: req.Price, ObservedAt: at})
}

// GetPrice returns the latest price of an asset.
// GET /api/prices/{asset}
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("asset")
	price, at, err := h.prices.GetPrice(r.Context(), assetID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{AssetID: assetID, Price: price, ObservedAt: at.UTC()})
}
