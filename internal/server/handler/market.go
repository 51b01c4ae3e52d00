package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/deedmarket/deedmarket/internal/domain"
)

// MarketService defines the methods the market handler requires from the
// marketplace layer.
type MarketService interface {
	Initialize(ctx context.Context, caller string) error
	List(ctx context.Context, seller, itemName string, price uint64) error
	Delist(ctx context.Context, seller, itemName string) error
	Buy(ctx context.Context, buyer, itemName string) error
	Listing(ctx context.Context, itemName string) (domain.Listing, error)
	Listings(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error)
	Ownership(ctx context.Context, owner string) ([]domain.OwnershipRecord, error)
}

// MarketHandler serves the marketplace endpoints.
type MarketHandler struct {
	market MarketService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(market MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{market: market, logger: logger}
}

type marketInitRequest struct {
	Caller string `json:"caller"`
}

// Init provisions the marketplace agent. Administrator only, idempotent.
// POST /api/market/init
func (h *MarketHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req marketInitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.market.Initialize(r.Context(), req.Caller); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "initialized"})
}

type listRequest struct {
	Seller   string `json:"seller"`
	ItemName string `json:"item_name"`
	Price    uint64 `json:"price"`
}

// CreateListing puts an item up for sale.
// POST /api/market/listings
func (h *MarketHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Seller == "" || req.ItemName == "" {
		writeError(w, http.StatusBadRequest, "seller and item_name are required")
		return
	}
	if err := h.market.List(r.Context(), req.Seller, req.ItemName, req.Price); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "listed"})
}

// listListingsResponse wraps the list endpoint output with the paging that
// produced it.
type listListingsResponse struct {
	Listings []domain.Listing `json:"listings"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// ListListings returns live listings with pagination, newest first.
// GET /api/market/listings?limit=50&offset=0
func (h *MarketHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	listings, err := h.market.Listings(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list listings failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list listings")
		return
	}
	writeJSON(w, http.StatusOK, listListingsResponse{
		Listings: listings,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// GetListing returns a single live listing by item name.
// GET /api/market/listings/{name}
func (h *MarketHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing item name")
		return
	}
	listing, err := h.market.Listing(r.Context(), name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

type delistRequest struct {
	Seller string `json:"seller"`
}

// Delist removes the caller's own listing.
// DELETE /api/market/listings/{name}
func (h *MarketHandler) Delist(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing item name")
		return
	}
	var req delistRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.market.Delist(r.Context(), req.Seller, name); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delisted"})
}

type buyRequest struct {
	Buyer string `json:"buyer"`
}

// Buy purchases a listed item.
// POST /api/market/listings/{name}/buy
func (h *MarketHandler) Buy(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing item name")
		return
	}
	var req buyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Buyer == "" {
		writeError(w, http.StatusBadRequest, "buyer is required")
		return
	}
	if err := h.market.Buy(r.Context(), req.Buyer, name); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purchased"})
}

// Ownership returns the ownership records held by an account.
// GET /api/market/ownership/{account}
func (h *MarketHandler) Ownership(w http.ResponseWriter, r *http.Request) {
	account := pathParam(r, "account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "missing account")
		return
	}
	recs, err := h.market.Ownership(r.Context(), account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   account,
		"records": recs,
	})
}
