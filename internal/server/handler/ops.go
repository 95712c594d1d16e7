package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aoikurokawa/zone/internal/crypto"
	"github.com/aoikurokawa/zone/internal/domain"
)

// OpExecutor runs an operation on behalf of caller.
type OpExecutor interface {
	Execute(ctx context.Context, caller common.Address, op domain.Operation) (domain.Receipt, error)
}

// envelopeRequest is the wire form of crypto.Envelope with validation tags.
type envelopeRequest struct {
	Kind      string          `json:"kind" validate:"required,oneof=initialize_vault initialize_market start_market create_prediction settle_prediction"`
	Params    json.RawMessage `json:"params" validate:"required"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp" validate:"required,gt=0"`
	Signature string          `json:"signature" validate:"required,hexadecimal"`
}

type initializeVaultParams struct {
	Authority string `json:"authority" validate:"required,eth_addr"`
	Amount    uint64 `json:"amount"`
}

type initializeMarketParams struct {
	Authority        string `json:"authority" validate:"required,eth_addr"`
	AssetID          string `json:"asset_id" validate:"required"`
	PayoutMultiplier uint64 `json:"payout_multiplier"`
}

type startMarketParams struct {
	AssetID string `json:"asset_id" validate:"required"`
	EndTime int64  `json:"end_time" validate:"required"`
}

type createPredictionParams struct {
	User           string `json:"user" validate:"required,eth_addr"`
	AssetID        string `json:"asset_id" validate:"required"`
	Direction      string `json:"direction" validate:"required"`
	Amount         uint64 `json:"amount"`
	ReferencePrice uint64 `json:"reference_price"`
}

type settlePredictionParams struct {
	AssetID     string `json:"asset_id" validate:"required"`
	User        string `json:"user" validate:"required,eth_addr"`
	ActualPrice uint64 `json:"actual_price"`
}

// DecodeOperation turns an envelope kind and its params into an operation.
// Amount, multiplier and asset rules are left to the engine so their typed
// errors reach the client.
func DecodeOperation(kind string, params []byte) (domain.Operation, error) {
	switch domain.OpKind(kind) {
	case domain.OpInitializeVault:
		var p initializeVaultParams
		if err := decodeStrict(params, &p); err != nil {
			return nil, err
		}
		return domain.InitializeVault{Authority: common.HexToAddress(p.Authority), Amount: p.Amount}, nil
	case domain.OpInitializeMarket:
		var p initializeMarketParams
		if err := decodeStrict(params, &p); err != nil {
			return nil, err
		}
		return domain.InitializeMarket{
			Authority:        common.HexToAddress(p.Authority),
			AssetID:          p.AssetID,
			PayoutMultiplier: p.PayoutMultiplier,
		}, nil
	case domain.OpStartMarket:
		var p startMarketParams
		if err := decodeStrict(params, &p); err != nil {
			return nil, err
		}
		return domain.StartMarket{AssetID: p.AssetID, EndTime: p.EndTime}, nil
	case domain.OpCreatePrediction:
		var p createPredictionParams
		if err := decodeStrict(params, &p); err != nil {
			return nil, err
		}
		dir, err := domain.ParseDirection(p.Direction)
		if err != nil {
			return nil, err
		}
		return domain.CreatePrediction{
			User:           common.HexToAddress(p.User),
			AssetID:        p.AssetID,
			Direction:      dir,
			Amount:         p.Amount,
			ReferencePrice: p.ReferencePrice,
		}, nil
	case domain.OpSettlePrediction:
		var p settlePredictionParams
		if err := decodeStrict(params, &p); err != nil {
			return nil, err
		}
		return domain.SettlePrediction{
			AssetID:     p.AssetID,
			User:        common.HexToAddress(p.User),
			ActualPrice: p.ActualPrice,
		}, nil
	default:
		return nil, fmt.Errorf("unknown operation kind %q", kind)
	}
}

// OpsHandler accepts signed operation envelopes. The recovered signer is the
// caller; the engine decides whether that caller may run the operation.
type OpsHandler struct {
	engine OpExecutor
	domain crypto.Domain
	replay *crypto.Replay
	logger *slog.Logger
}

// NewOpsHandler creates an OpsHandler.
func NewOpsHandler(engine OpExecutor, dom crypto.Domain, replay *crypto.Replay, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{
		engine: engine,
		domain: dom,
		replay: replay,
		logger: logger.With(slog.String("handler", "ops")),
	}
}

// Submit verifies and executes one envelope and returns its receipt.
// POST /api/ops
func (h *OpsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	var req envelopeRequest
	if err := decodeStrict(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	env := crypto.Envelope{
		Kind:      req.Kind,
		Params:    req.Params,
		Nonce:     req.Nonce,
		Timestamp: req.Timestamp,
		Signature: req.Signature,
	}

	signer, err := h.domain.Recover(env)
	if err != nil {
		writeDomainError(w, r, h.logger, crypto.ErrBadSignature)
		return
	}

	// Decode before consuming the nonce so a malformed request can be fixed
	// and resent with the same nonce.
	op, err := DecodeOperation(env.Kind, env.Params)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			writeDomainError(w, r, h.logger, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.replay.Check(signer, env.Nonce, env.Timestamp); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	rcpt, err := h.engine.Execute(r.Context(), signer, op)
	if err != nil {
		h.logger.InfoContext(r.Context(), "handler: operation rejected",
			slog.String("op", env.Kind),
			slog.String("caller", signer.Hex()),
			slog.String("code", domain.CodeOf(err)),
		)
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}
