package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"posoffice/backend/internal/domain"
	"posoffice/backend/internal/service"
	"posoffice/backend/internal/store"
)

// caller-correctable failures and the message the client sees for each.
var businessErrors = []struct {
	target  error
	status  int
	message string
}{
	{service.ErrInsufficientStock, http.StatusBadRequest, "Insufficient stock"},
	{service.ErrProductNotFound, http.StatusBadRequest, "Product not found"},
	{service.ErrShopInventoryNotFound, http.StatusBadRequest, "Shop inventory not found"},
	{service.ErrSaleNotFound, http.StatusBadRequest, "Sale not found"},
	{service.ErrInvalidRefundAmount, http.StatusBadRequest, "Invalid refund amount"},
	{service.ErrSaleNotRefundable, http.StatusBadRequest, "Cannot refund this sale"},
	{service.ErrCannotVoidSale, http.StatusBadRequest, "Cannot void this sale"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden role"},
	{service.ErrDuplicate, http.StatusConflict, "already exists"},
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrValidation) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if errors.Is(err, store.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, errors.New("invalid input"))
		return
	}
	for _, be := range businessErrors {
		if errors.Is(err, be.target) {
			writeError(w, be.status, errors.New(be.message))
			return
		}
	}
	a.writeInternalError(w, r, err)
}

func actorFrom(r *http.Request) domain.Actor {
	actor, _ := service.ActorFromContext(r.Context())
	return actor
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor := actorFrom(r)
	req.BusinessID = actor.BusinessID
	req.CashierID = actor.Username

	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.SaleResponse{Sale: sale})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), actorFrom(r).BusinessID, chi.URLParam(r, "saleId"))
	if err != nil {
		if errors.Is(err, service.ErrSaleNotFound) {
			writeError(w, http.StatusNotFound, errors.New("Sale not found"))
			return
		}
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SaleResponse{Sale: sale})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.SaleFilter{
		BusinessID: actorFrom(r).BusinessID,
		ShopID:     strings.TrimSpace(q.Get("shop_id")),
		Status:     domain.SaleStatus(strings.TrimSpace(q.Get("status"))),
		Limit:      parsePositiveLimit(q.Get("limit"), 50, 200),
	}
	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !from.IsZero() {
		filter.From = &from
	}
	if !to.IsZero() {
		filter.To = &to
	}

	sales, err := a.service.ListSales(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleRefundSale(w http.ResponseWriter, r *http.Request) {
	var req domain.RefundSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sale, err := a.service.RefundSale(r.Context(), actorFrom(r).BusinessID, chi.URLParam(r, "saleId"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SaleResponse{Sale: sale})
}

func (a *API) handleVoidSale(w http.ResponseWriter, r *http.Request) {
	// An empty body means no reason.
	var req domain.VoidSaleRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sale, err := a.service.VoidSale(r.Context(), actorFrom(r).BusinessID, chi.URLParam(r, "saleId"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SaleResponse{Sale: sale})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context(), actorFrom(r).BusinessID)
	if err != nil {
		a.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.CreateProduct(r.Context(), actorFrom(r).BusinessID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleProductInventory(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.GetProductInventory(r.Context(), actorFrom(r).BusinessID, chi.URLParam(r, "productId"))
	if err != nil {
		if errors.Is(err, service.ErrProductNotFound) {
			writeError(w, http.StatusNotFound, errors.New("Product not found"))
			return
		}
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSetInventory(w http.ResponseWriter, r *http.Request) {
	var req domain.InventorySetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := a.service.SetInventory(r.Context(), actorFrom(r).BusinessID, chi.URLParam(r, "productId"), chi.URLParam(r, "shopId"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": entry})
}

func (a *API) handleAdjustInventory(w http.ResponseWriter, r *http.Request) {
	var req domain.InventoryAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := a.service.AdjustInventory(r.Context(), actorFrom(r).BusinessID, chi.URLParam(r, "productId"), chi.URLParam(r, "shopId"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": entry})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.LowStock(r.Context(), actorFrom(r).BusinessID, r.URL.Query().Get("shop_id"))
	if err != nil {
		a.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleSalesSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	summary, err := a.service.SalesSummary(r.Context(), actorFrom(r).BusinessID, q.Get("shop_id"), from, to)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// parseTimeParam accepts RFC3339 or a bare YYYY-MM-DD date (UTC midnight).
// An empty value yields the zero time.
func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: use RFC3339 or YYYY-MM-DD", raw)
}
