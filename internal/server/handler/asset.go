package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/deedmarket/deedmarket/internal/domain"
)

// AssetService defines the methods the asset handler requires from the
// ledger layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type AssetService interface {
	InitializeAsset(ctx context.Context, caller, name, symbol string, decimals uint8, monitorSupply bool) error
	Register(ctx context.Context, account string) error
	Mint(ctx context.Context, caller, to string, amount uint64) error
	Transfer(ctx context.Context, from, to string, amount uint64) error
	Freeze(ctx context.Context, caller, target string, frozen bool) error
	Burn(ctx context.Context, caller string, amount uint64) error
	BurnFrom(ctx context.Context, caller, target string, amount uint64) error
	Balance(ctx context.Context, account string) (uint64, error)
	Meta(ctx context.Context) (domain.Asset, error)
	TotalSupply(ctx context.Context) (uint64, error)
}

// AssetHandler serves the settlement asset endpoints.
type AssetHandler struct {
	asset  AssetService
	logger *slog.Logger
}

// NewAssetHandler creates an AssetHandler.
func NewAssetHandler(asset AssetService, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{asset: asset, logger: logger}
}

type initAssetRequest struct {
	Caller        string `json:"caller"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	Decimals      uint8  `json:"decimals"`
	MonitorSupply bool   `json:"monitor_supply"`
}

// InitAsset registers the settlement asset. Administrator only.
// POST /api/asset/init
func (h *AssetHandler) InitAsset(w http.ResponseWriter, r *http.Request) {
	var req initAssetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "name and symbol are required")
		return
	}
	if err := h.asset.InitializeAsset(r.Context(), req.Caller, req.Name, req.Symbol, req.Decimals, req.MonitorSupply); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "initialized"})
}

type registerRequest struct {
	Account string `json:"account"`
}

// Register opens a zero balance holding for an account.
// POST /api/asset/register
func (h *AssetHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	if err := h.asset.Register(r.Context(), req.Account); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

type mintRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// Mint credits new supply to an account. Administrator only.
// POST /api/asset/mint
func (h *AssetHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.asset.Mint(r.Context(), req.Caller, req.To, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "minted"})
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// Transfer moves balance between holders.
// POST /api/asset/transfer
func (h *AssetHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.asset.Transfer(r.Context(), req.From, req.To, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

type freezeRequest struct {
	Caller string `json:"caller"`
	Target string `json:"target"`
	Frozen bool   `json:"frozen"`
}

// Freeze toggles the frozen flag on a holding. Administrator only.
// POST /api/asset/freeze
func (h *AssetHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	var req freezeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.asset.Freeze(r.Context(), req.Caller, req.Target, req.Frozen); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type burnRequest struct {
	Caller string `json:"caller"`
	Target string `json:"target"`
	Amount uint64 `json:"amount"`
}

// Burn destroys supply from the caller's own holding. Administrator only.
// POST /api/asset/burn
func (h *AssetHandler) Burn(w http.ResponseWriter, r *http.Request) {
	var req burnRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.asset.Burn(r.Context(), req.Caller, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "burned"})
}

// BurnFrom destroys supply from an arbitrary holding. Administrator only.
// POST /api/asset/burn-from
func (h *AssetHandler) BurnFrom(w http.ResponseWriter, r *http.Request) {
	var req burnRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}
	if err := h.asset.BurnFrom(r.Context(), req.Caller, req.Target, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "burned"})
}

// Balance returns the settlement balance of an account.
// GET /api/asset/balance/{account}
func (h *AssetHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account := pathParam(r, "account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "missing account")
		return
	}
	bal, err := h.asset.Balance(r.Context(), account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"balance": bal,
	})
}

// Meta returns the asset identity record.
// GET /api/asset/meta
func (h *AssetHandler) Meta(w http.ResponseWriter, r *http.Request) {
	meta, err := h.asset.Meta(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// Supply returns the current total supply.
// GET /api/asset/supply
func (h *AssetHandler) Supply(w http.ResponseWriter, r *http.Request) {
	supply, err := h.asset.TotalSupply(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"total_supply": supply})
}
