// Package api exposes the ledger over JSON/HTTP and streams committed
// ledger changes to WebSocket clients.
//
// Route paths in this package are relative to wherever Handler.Mount is
// called; cmd/server mounts them under /api/v1.
//
// All monetary values are JSON strings decoded into shopspring/decimal.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/divest/share-engine/internal/catalog"
	"github.com/divest/share-engine/internal/currency"
	"github.com/divest/share-engine/internal/ledger"
	"github.com/divest/share-engine/internal/model"
)

// Handler serves the ledger HTTP API.
type Handler struct {
	engine   *ledger.Engine
	hub      *WSHub // optional
	currency string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithCurrency sets the ISO 4217 code used for formatted prices.
func WithCurrency(code string) HandlerOption {
	return func(h *Handler) {
		if code != "" {
			h.currency = code
		}
	}
}

// NewHandler creates the API handler. Pass nil for hub if WebSocket
// streaming is not needed.
func NewHandler(engine *ledger.Engine, hub *WSHub, opts ...HandlerOption) *Handler {
	h := &Handler{engine: engine, hub: hub, currency: currency.Default}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Mount registers every route on r.
func (h *Handler) Mount(r chi.Router) {
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	r.Get("/assets", h.ListAssets)
	r.Get("/assets/{assetID}", h.GetAsset)
	r.Get("/assets/{assetID}/quote", h.Quote)
	r.Put("/assets/{assetID}/mark", h.SetMark)

	r.Post("/accounts", h.OpenAccount)
	r.Get("/accounts/{accountID}", h.GetAccount)
	r.Post("/accounts/{accountID}/deposit", h.Deposit)
	r.Post("/accounts/{accountID}/withdraw", h.Withdraw)
	r.Post("/accounts/{accountID}/investments", h.Invest)
	r.Get("/accounts/{accountID}/positions", h.Positions)
	r.Get("/accounts/{accountID}/summary", h.Summary)
	r.Get("/accounts/{accountID}/portfolio", h.Portfolio)

	r.Get("/listings", h.ListListings)
	r.Post("/listings", h.ListShares)
	r.Get("/listings/{listingID}", h.GetListing)
	r.Post("/listings/{listingID}/buy", h.BuyListing)
	r.Post("/listings/{listingID}/cancel", h.CancelListing)
}

// --- Request types ---

// OpenAccountRequest is the JSON body for POST /accounts.
type OpenAccountRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AmountRequest is the JSON body for deposits and withdrawals.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// InvestRequest is the JSON body for POST /accounts/{id}/investments.
type InvestRequest struct {
	AssetID string          `json:"asset_id"`
	Amount  decimal.Decimal `json:"amount"` // cash to convert; the remainder stays in the wallet
}

// ListSharesRequest is the JSON body for POST /listings.
type ListSharesRequest struct {
	SellerID  string          `json:"seller_id"`
	AssetID   string          `json:"asset_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// BuyListingRequest is the JSON body for POST /listings/{id}/buy.
type BuyListingRequest struct {
	BuyerID string `json:"buyer_id"`
}

// CancelListingRequest is the JSON body for POST /listings/{id}/cancel.
type CancelListingRequest struct {
	AccountID string `json:"account_id"`
}

// MarkRequest is the JSON body for PUT /assets/{id}/mark.
type MarkRequest struct {
	Price decimal.Decimal `json:"price"`
}

// --- Catalog ---

// ListAssets handles GET /assets
// Optional query: q (name or location search), location, roi
// (high|medium|low), min_roi, max_roi.
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeMessage(w, err.Error(), "validation", http.StatusBadRequest)
		return
	}
	assets, err := h.engine.Catalog(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]assetView, 0, len(assets))
	for _, a := range assets {
		views = append(views, h.assetView(a))
	}
	writeJSON(w, http.StatusOK, views)
}

func parseFilter(r *http.Request) (catalog.Filter, error) {
	q := r.URL.Query()
	f := catalog.Filter{Query: q.Get("q"), Location: q.Get("location")}

	var err error
	if f.MinROI, f.MaxROI, err = catalog.ROIBand(q.Get("roi")); err != nil {
		return f, err
	}
	for param, dst := range map[string]*decimal.NullDecimal{"min_roi": &f.MinROI, "max_roi": &f.MaxROI} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return f, fmt.Errorf("%s must be a decimal", param)
		}
		*dst = decimal.NewNullDecimal(d)
	}
	return f, nil
}

// GetAsset handles GET /assets/{assetID}
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.Asset(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.assetView(*a))
}

// assetView adds the derived fields to an asset.
type assetView struct {
	model.Asset
	SharePrice   decimal.Decimal `json:"share_price"`
	SoldShares   int64           `json:"sold_shares"`
	Currency     string          `json:"currency"`
	DisplayPrice string          `json:"display_price"`
}

func (h *Handler) assetView(a model.Asset) assetView {
	return assetView{
		Asset:        a,
		SharePrice:   a.SharePrice(),
		SoldShares:   a.SoldShares(),
		Currency:     h.currency,
		DisplayPrice: currency.Format(a.SharePrice(), h.currency),
	}
}

// Quote handles GET /assets/{assetID}/quote?amount=250000
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		writeMessage(w, "amount query parameter must be a decimal", "validation", http.StatusBadRequest)
		return
	}
	q, err := h.engine.Quote(r.Context(), chi.URLParam(r, "assetID"), amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// SetMark handles PUT /assets/{assetID}/mark
func (h *Handler) SetMark(w http.ResponseWriter, r *http.Request) {
	var req MarkRequest
	if !decode(w, r, &req) {
		return
	}
	assetID := chi.URLParam(r, "assetID")
	if err := h.engine.SetMark(r.Context(), assetID, req.Price); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset_id": assetID, "price": req.Price.String()})
}

// --- Accounts ---

// OpenAccount handles POST /accounts
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if !decode(w, r, &req) {
		return
	}
	acc, err := h.engine.OpenAccount(r.Context(), req.Name, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

// GetAccount handles GET /accounts/{accountID}
// The event and cash histories double as the account's recent activity.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.engine.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if acc.Events == nil {
		acc.Events = []model.PurchaseEvent{}
	}
	if acc.Cash == nil {
		acc.Cash = []model.CashEntry{}
	}
	writeJSON(w, http.StatusOK, acc)
}

// Deposit handles POST /accounts/{accountID}/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	acc, err := h.engine.Deposit(r.Context(), chi.URLParam(r, "accountID"), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceView(acc))
}

// Withdraw handles POST /accounts/{accountID}/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	acc, err := h.engine.Withdraw(r.Context(), chi.URLParam(r, "accountID"), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceView(acc))
}

func balanceView(acc *model.Account) map[string]any {
	return map[string]any{"account_id": acc.ID, "balance": acc.Balance}
}

// Invest handles POST /accounts/{accountID}/investments
func (h *Handler) Invest(w http.ResponseWriter, r *http.Request) {
	var req InvestRequest
	if !decode(w, r, &req) {
		return
	}
	if req.AssetID == "" {
		writeMessage(w, "asset_id is required", "validation", http.StatusBadRequest)
		return
	}
	ev, err := h.engine.Invest(r.Context(), chi.URLParam(r, "accountID"), req.AssetID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// Positions handles GET /accounts/{accountID}/positions
func (h *Handler) Positions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.engine.Positions(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// Summary handles GET /accounts/{accountID}/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Summary(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Portfolio handles GET /accounts/{accountID}/portfolio
func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Portfolio(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Marketplace ---

// ListListings handles GET /listings
// Returns open listings unless ?status=fulfilled|cancelled|all is given.
func (h *Handler) ListListings(w http.ResponseWriter, r *http.Request) {
	var (
		listings []model.Listing
		err      error
	)
	switch status := r.URL.Query().Get("status"); status {
	case "", string(model.ListingOpen):
		listings, err = h.engine.OpenListings(r.Context())
	case "all":
		listings, err = h.engine.Listings(r.Context(), "")
	default:
		listings, err = h.engine.Listings(r.Context(), model.ListingStatus(status))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

// ListShares handles POST /listings
func (h *Handler) ListShares(w http.ResponseWriter, r *http.Request) {
	var req ListSharesRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SellerID == "" || req.AssetID == "" {
		writeMessage(w, "seller_id and asset_id are required", "validation", http.StatusBadRequest)
		return
	}
	l, err := h.engine.ListShares(r.Context(), req.SellerID, req.AssetID, req.Quantity, req.UnitPrice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// GetListing handles GET /listings/{listingID}
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	l, err := h.engine.GetListing(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// BuyListing handles POST /listings/{listingID}/buy
func (h *Handler) BuyListing(w http.ResponseWriter, r *http.Request) {
	var req BuyListingRequest
	if !decode(w, r, &req) {
		return
	}
	if req.BuyerID == "" {
		writeMessage(w, "buyer_id is required", "validation", http.StatusBadRequest)
		return
	}
	ev, err := h.engine.BuyListing(r.Context(), req.BuyerID, chi.URLParam(r, "listingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// CancelListing handles POST /listings/{listingID}/cancel
func (h *Handler) CancelListing(w http.ResponseWriter, r *http.Request) {
	var req CancelListingRequest
	if !decode(w, r, &req) {
		return
	}
	if req.AccountID == "" {
		writeMessage(w, "account_id is required", "validation", http.StatusBadRequest)
		return
	}
	l, err := h.engine.CancelListing(r.Context(), req.AccountID, chi.URLParam(r, "listingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// --- helpers ---

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeMessage(w, "invalid request body", "validation", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusFor maps a ledger error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrBelowMinimum):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrNoInventory),
		errors.Is(err, ledger.ErrListingUnavailable),
		errors.Is(err, ledger.ErrHoldingLimit),
		errors.Is(err, ledger.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrPersistence):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError writes a ledger error as {"error": ..., "code": ...}. Store
// failure details stay in the logs.
func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		msg = "ledger temporarily unavailable"
	case http.StatusInternalServerError:
		msg = "internal error"
	}
	writeMessage(w, msg, ledger.Code(err), status)
}

func writeMessage(w http.ResponseWriter, message, code string, status int) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
