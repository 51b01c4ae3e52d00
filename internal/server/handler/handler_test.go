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
	"time"

	"github.com/deedmarket/deedmarket/internal/domain"
	"github.com/deedmarket/deedmarket/internal/ledger"
	"github.com/deedmarket/deedmarket/internal/market"
	"github.com/deedmarket/deedmarket/internal/store/memory"
	"github.com/deedmarket/deedmarket/internal/vault"
)

const (
	admin  = "0x1111111111111111111111111111111111111111"
	seller = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	buyer  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

// newTestMux builds a mux with real services over the in-memory backend,
// ready for end-to-end request tests.
func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	ctx := context.Background()
	mem := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	v := vault.New(mem.Vault(), admin, "test seed material", "test-password")
	led := ledger.NewService(mem, mem.Events(), mem, nil, v, logger)
	mkt := market.NewService(
		mem.Listings(), mem.Ownership(), mem, mem.Events(), mem,
		led, v, nil, nil, nil,
		market.Config{PlatformFee: 5, LockTTL: time.Second},
		logger,
	)

	if err := mkt.Initialize(ctx, admin); err != nil {
		t.Fatal(err)
	}
	if err := led.InitializeAsset(ctx, admin, "Deed Settlement Coin", "DSC", 6, true); err != nil {
		t.Fatal(err)
	}
	for _, acct := range []string{seller, buyer} {
		if err := led.Register(ctx, acct); err != nil {
			t.Fatal(err)
		}
		if err := led.Mint(ctx, admin, acct, 2000); err != nil {
			t.Fatal(err)
		}
	}

	assetH := NewAssetHandler(led, logger)
	marketH := NewMarketHandler(mkt, logger)
	eventsH := NewEventHandler(mkt, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/market/listings", marketH.CreateListing)
	mux.HandleFunc("GET /api/market/listings", marketH.ListListings)
	mux.HandleFunc("GET /api/market/listings/{name}", marketH.GetListing)
	mux.HandleFunc("DELETE /api/market/listings/{name}", marketH.Delist)
	mux.HandleFunc("POST /api/market/listings/{name}/buy", marketH.Buy)
	mux.HandleFunc("GET /api/market/ownership/{account}", marketH.Ownership)
	mux.HandleFunc("POST /api/asset/mint", assetH.Mint)
	mux.HandleFunc("POST /api/asset/transfer", assetH.Transfer)
	mux.HandleFunc("GET /api/asset/balance/{account}", assetH.Balance)
	mux.HandleFunc("GET /api/asset/meta", assetH.Meta)
	mux.HandleFunc("GET /api/asset/supply", assetH.Supply)
	mux.HandleFunc("GET /api/events", eventsH.ListEvents)
	return mux
}

func do(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestListAndBuyOverHTTP(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, "POST", "/api/market/listings",
		`{"seller":"`+seller+`","item_name":"blackacre","price":100}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("list status = %d, body %s", rec.Code, rec.Body)
	}

	rec = do(t, mux, "GET", "/api/market/listings/blackacre", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get listing status = %d", rec.Code)
	}
	var listing domain.Listing
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if listing.Price != 100 || listing.Seller != seller {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	rec = do(t, mux, "POST", "/api/market/listings/blackacre/buy",
		`{"buyer":"`+buyer+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("buy status = %d, body %s", rec.Code, rec.Body)
	}

	rec = do(t, mux, "GET", "/api/asset/balance/"+buyer, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d", rec.Code)
	}
	var bal struct {
		Balance uint64 `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &bal); err != nil {
		t.Fatal(err)
	}
	if want := uint64(2000 - 100*domain.PriceMultiplier - 5); bal.Balance != want {
		t.Fatalf("buyer balance = %d, want %d", bal.Balance, want)
	}

	rec = do(t, mux, "GET", "/api/market/ownership/"+buyer, "")
	if !strings.Contains(rec.Body.String(), "blackacre") {
		t.Fatalf("ownership body = %s", rec.Body)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	mux := newTestMux(t)

	// 404: buying an unlisted item.
	rec := do(t, mux, "POST", "/api/market/listings/ghost/buy", `{"buyer":"`+buyer+`"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unlisted buy status = %d, want 404", rec.Code)
	}

	// 409: duplicate listing.
	do(t, mux, "POST", "/api/market/listings", `{"seller":"`+seller+`","item_name":"dup","price":10}`)
	rec = do(t, mux, "POST", "/api/market/listings", `{"seller":"`+buyer+`","item_name":"dup","price":20}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate list status = %d, want 409", rec.Code)
	}

	// 403: delist by a non-seller.
	rec = do(t, mux, "DELETE", "/api/market/listings/dup", `{"seller":"`+buyer+`"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign delist status = %d, want 403", rec.Code)
	}

	// 402: purchase the buyer cannot cover.
	do(t, mux, "POST", "/api/market/listings", `{"seller":"`+seller+`","item_name":"estate","price":500}`)
	rec = do(t, mux, "POST", "/api/market/listings/estate/buy", `{"buyer":"`+buyer+`"}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("underfunded buy status = %d, want 402", rec.Code)
	}

	// 403: non-admin mint.
	rec = do(t, mux, "POST", "/api/asset/mint", `{"caller":"`+seller+`","to":"`+seller+`","amount":1}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin mint status = %d, want 403", rec.Code)
	}

	// 400: malformed body.
	rec = do(t, mux, "POST", "/api/market/listings", `{"seller":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	mux := newTestMux(t)

	do(t, mux, "POST", "/api/market/listings", `{"seller":"`+seller+`","item_name":"blackacre","price":100}`)

	rec := do(t, mux, "GET", "/api/events?category=listed", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d", rec.Code)
	}
	var resp struct {
		Events []domain.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Category != domain.EventListed {
		t.Fatalf("unexpected events: %+v", resp.Events)
	}

	rec = do(t, mux, "GET", "/api/events?category=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus category status = %d, want 400", rec.Code)
	}
}

func TestAssetMetaAndSupply(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, "GET", "/api/asset/meta", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "DSC") {
		t.Fatalf("meta: status %d body %s", rec.Code, rec.Body)
	}

	rec = do(t, mux, "GET", "/api/asset/supply", "")
	var supply struct {
		TotalSupply uint64 `json:"total_supply"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &supply); err != nil {
		t.Fatal(err)
	}
	if supply.TotalSupply != 4000 {
		t.Fatalf("supply = %d, want 4000", supply.TotalSupply)
	}
}
