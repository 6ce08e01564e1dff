package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"posoffice/backend/internal/domain"
	"posoffice/backend/internal/service"
	"posoffice/backend/internal/store"
	"posoffice/backend/internal/store/memory"
)

// newTestAPI builds a full API with a seeded in-memory store, real AuthManager
// and real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T, opts ...Option) (*API, *memory.Store) {
	t.Helper()

	log := zaptest.NewLogger(t)
	repo := memory.NewSeeded(log)
	svc := service.New(repo, service.Options{Logger: log})
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, repo, log)

	return New(svc, auth, "*", log, opts...), repo
}

func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func messageOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	msg, _ := body["message"].(string)
	return msg
}

func decodeSale(t *testing.T, rec *httptest.ResponseRecorder) domain.Sale {
	t.Helper()
	var resp domain.SaleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Sale
}

func coffeeSale(qty int, paid int64) map[string]any {
	return map[string]any{
		"shop_id": memory.DemoShopID,
		"items":   []map[string]any{{"product_id": "prod-coffee", "quantity": qty}},
		"payment": map[string]any{"method": "cash", "paid_cents": paid},
	}
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
}

func TestHandleHealthReportsUnavailableDependency(t *testing.T) {
	api, _ := newTestAPI(t, WithReadiness(func(*http.Request) error {
		return errors.New("db down")
	}))

	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleLogin(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/auth/login", "", domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, domain.RoleAdmin, resp.Role)
	assert.Equal(t, memory.DemoBusinessID, resp.BusinessID)

	rec = doJSON(t, handler, http.MethodPost, "/auth/login", "", domain.LoginRequest{Username: "admin", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", messageOf(t, rec))
}

func TestRoutesRequireBearerToken(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/sales", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/sales", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateSaleEndpoint(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/sales", token, coffeeSale(2, 2000))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	sale := decodeSale(t, rec)
	assert.Equal(t, "INV-000001", sale.SaleNumber)
	assert.Equal(t, domain.SaleStatusCompleted, sale.Status)
	assert.Equal(t, memory.DemoBusinessID, sale.BusinessID)
	assert.Equal(t, "cashier", sale.CashierID)
	assert.Equal(t, "Front Cashier", sale.CashierName)
	assert.Equal(t, int64(1700), sale.Totals.SubtotalCents)
	assert.Equal(t, int64(170), sale.Totals.TaxCents)
	assert.Equal(t, int64(1870), sale.Totals.TotalCents)
	assert.Equal(t, int64(130), sale.Payment.ChangeCents)
	assert.Equal(t, domain.PaymentStatusPaid, sale.Payment.Status)

	entries, err := repo.ListInventory(context.Background(), "prod-coffee")
	require.NoError(t, err)
	for _, e := range entries {
		if e.ShopID == memory.DemoShopID {
			assert.Equal(t, 98, e.Quantity)
		}
	}

	rec = doJSON(t, handler, http.MethodGet, "/sales/"+sale.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sale.ID, decodeSale(t, rec).ID)
}

func TestCreateSaleRejectsClientSuppliedBusiness(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	body := coffeeSale(1, 1000)
	body["business_id"] = "biz-other"
	rec := doJSON(t, handler, http.MethodPost, "/sales", token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSaleBusinessErrors(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/sales", token, coffeeSale(101, 0))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Insufficient stock", messageOf(t, rec))

	unknown := map[string]any{
		"shop_id": memory.DemoShopID,
		"items":   []map[string]any{{"product_id": "prod-caviar", "quantity": 1}},
		"payment": map[string]any{"method": "cash", "paid_cents": 0},
	}
	rec = doJSON(t, handler, http.MethodPost, "/sales", token, unknown)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Product not found", messageOf(t, rec))

	wrongShop := coffeeSale(1, 0)
	wrongShop["shop_id"] = "shop-ghost"
	rec = doJSON(t, handler, http.MethodPost, "/sales", token, wrongShop)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Shop inventory not found", messageOf(t, rec))

	noItems := coffeeSale(1, 0)
	noItems["items"] = []map[string]any{}
	rec = doJSON(t, handler, http.MethodPost, "/sales", token, noItems)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, messageOf(t, rec), "at least one item")
}

func TestRefundAndVoidRequireSupervisor(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/sales", token, coffeeSale(1, 1000))
	require.Equal(t, http.StatusCreated, rec.Code)
	sale := decodeSale(t, rec)

	rec = doJSON(t, handler, http.MethodPost, "/sales/"+sale.ID+"/refund", token, domain.RefundSaleRequest{RefundCents: 100})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/sales/"+sale.ID+"/void", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPartialRefundThenFurtherOperationsAreRejected(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	cashier := login(t, handler, "cashier", "cashier123")
	manager := login(t, handler, "manager", "manager123")

	rec := doJSON(t, handler, http.MethodPost, "/sales", cashier, coffeeSale(2, 2000))
	require.Equal(t, http.StatusCreated, rec.Code)
	sale := decodeSale(t, rec)

	rec = doJSON(t, handler, http.MethodPost, "/sales/"+sale.ID+"/refund", manager, domain.RefundSaleRequest{RefundCents: sale.Totals.TotalCents + 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid refund amount", messageOf(t, rec))

	rec = doJSON(t, handler, http.MethodPost, "/sales/"+sale.ID+"/refund", manager, domain.RefundSaleRequest{RefundCents: 500, Reason: "damaged"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refunded := decodeSale(t, rec)
	assert.Equal(t, domain.SaleStatusPartialRefund, refunded.Status)
	assert.Equal(t, int64(500), refunded.TotalRefundedCents)
	assert.Contains(t, refunded.Notes, "refund amount=500 reason=damaged")

	rec = doJSON(t, handler, http.MethodPost, "/sales/"+sale.ID+"/refund", manager, domain.RefundSaleRequest{RefundCents: 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Cannot refund this sale", messageOf(t, rec))

	rec = doJSON(t, handler, http.MethodPost, "/sales/"+sale.ID+"/void", manager, domain.VoidSaleRequest{Reason: "late"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Cannot void this sale", messageOf(t, rec))
}

func TestVoidEndpointRestoresInventory(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	cashier := login(t, handler, "cashier", "cashier123")
	admin := login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/sales", cashier, coffeeSale(5, 5000))
	require.Equal(t, http.StatusCreated, rec.Code)
	sale := decodeSale(t, rec)

	rec = doJSON(t, handler, http.MethodPost, "/sales/"+sale.ID+"/void", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	voided := decodeSale(t, rec)
	assert.Equal(t, domain.SaleStatusVoided, voided.Status)
	assert.Contains(t, voided.Notes, "void reason=unspecified")

	entries, err := repo.ListInventory(context.Background(), "prod-coffee")
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, 100, e.Quantity)
	}
}

func TestSalesAreInvisibleToOtherBusinesses(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	require.NoError(t, repo.CreateStaff(context.Background(), domain.StaffAccount{
		Username:   "outsider",
		Password:   mustHashPassword(t, "outsider-pass"),
		Role:       domain.RoleManager,
		BusinessID: "biz-other",
		Active:     true,
	}))

	cashier := login(t, handler, "cashier", "cashier123")
	outsider := login(t, handler, "outsider", "outsider-pass")

	rec := doJSON(t, handler, http.MethodPost, "/sales", cashier, coffeeSale(1, 1000))
	require.Equal(t, http.StatusCreated, rec.Code)
	sale := decodeSale(t, rec)

	rec = doJSON(t, handler, http.MethodGet, "/sales/"+sale.ID, outsider, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Sale not found", messageOf(t, rec))

	rec = doJSON(t, handler, http.MethodPost, "/sales/"+sale.ID+"/void", outsider, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Sale not found", messageOf(t, rec))

	rec = doJSON(t, handler, http.MethodPost, "/sales", outsider, coffeeSale(1, 1000))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Product not found", messageOf(t, rec))

	rec = doJSON(t, handler, http.MethodGet, "/sales", outsider, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sales []domain.Sale `json:"sales"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Empty(t, list.Sales)
}

func TestListSalesQueryValidation(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	for i := 0; i < 3; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/sales", token, coffeeSale(1, 1000))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, handler, http.MethodGet, "/sales?limit=2&status=completed&shop_id="+memory.DemoShopID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sales []domain.Sale `json:"sales"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Sales, 2)
	assert.Equal(t, "INV-000003", list.Sales[0].SaleNumber)

	rec = doJSON(t, handler, http.MethodGet, "/sales?status=lost", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/sales?from=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/sales/sale_missing", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProductAndInventoryEndpoints(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	cashier := login(t, handler, "cashier", "cashier123")
	manager := login(t, handler, "manager", "manager123")

	rec := doJSON(t, handler, http.MethodPost, "/products", cashier, domain.ProductCreateRequest{Name: "Jam", SKU: "jam-1", PriceCents: 400})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/products", manager, domain.ProductCreateRequest{Name: "Jam", SKU: "jam-1", PriceCents: 400})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Product domain.Product `json:"product"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "JAM-1", created.Product.SKU)

	rec = doJSON(t, handler, http.MethodPost, "/products", manager, domain.ProductCreateRequest{Name: "Jam again", SKU: "JAM-1", PriceCents: 400})
	assert.Equal(t, http.StatusConflict, rec.Code)

	path := "/products/" + created.Product.ID + "/inventory/" + memory.DemoShopID
	rec = doJSON(t, handler, http.MethodPut, path, manager, domain.InventorySetRequest{Quantity: 4, MinStock: 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodPost, path+"/adjust", manager, domain.InventoryAdjustRequest{Delta: -5, Reason: "count"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Insufficient stock", messageOf(t, rec))

	rec = doJSON(t, handler, http.MethodGet, "/products/"+created.Product.ID+"/inventory", cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view domain.ProductInventoryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	require.Len(t, view.Inventory, 1)
	assert.Equal(t, 4, view.Inventory[0].Quantity)

	rec = doJSON(t, handler, http.MethodGet, "/products/prod-missing/inventory", cashier, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/inventory/low-stock?shop_id="+memory.DemoShopID, manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var low struct {
		Items []domain.LowStockItem `json:"items"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&low))
	require.Len(t, low.Items, 1)
	assert.Equal(t, created.Product.ID, low.Items[0].ProductID)
}

func TestSalesSummaryEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	cashier := login(t, handler, "cashier", "cashier123")
	manager := login(t, handler, "manager", "manager123")

	rec := doJSON(t, handler, http.MethodPost, "/sales", cashier, coffeeSale(2, 2000))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/reports/sales/summary", cashier, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/reports/sales/summary", manager, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary domain.SalesSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	assert.Equal(t, int64(1), summary.Sales)
	assert.Equal(t, int64(1870), summary.GrossCents)

	rec = doJSON(t, handler, http.MethodGet, "/reports/sales/summary?from=2026-02-01&to=2026-01-01", manager, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseTimeParam(t *testing.T) {
	got, err := parseTimeParam("2026-03-04")
	require.NoError(t, err)
	assert.True(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC).Equal(got))

	got, err = parseTimeParam("2026-03-04T10:00:00+02:00")
	require.NoError(t, err)
	assert.True(t, time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC).Equal(got))

	got, err = parseTimeParam("  ")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = parseTimeParam("04/03/2026")
	assert.Error(t, err)
}

func TestVoidAcceptsEmptyChunkedBody(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	cashier := login(t, handler, "cashier", "cashier123")
	manager := login(t, handler, "manager", "manager123")

	rec := doJSON(t, handler, http.MethodPost, "/sales", cashier, coffeeSale(1, 1000))
	require.Equal(t, http.StatusCreated, rec.Code)
	sale := decodeSale(t, rec)

	body := struct{ io.Reader }{strings.NewReader("")}
	req := httptest.NewRequest(http.MethodPost, "/sales/"+sale.ID+"/void", body)
	req.ContentLength = -1
	req.Header.Set("Authorization", "Bearer "+manager)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.SaleStatusVoided, decodeSale(t, rec).Status)
}

func TestWriteServiceErrorMapsInvalidInputToBadRequest(t *testing.T) {
	api, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPut, "/products/p1/inventory/shop-a", nil)

	rec := httptest.NewRecorder()
	api.writeServiceError(rec, req, fmt.Errorf("set inventory: %w", store.ErrInvalidInput))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid input", messageOf(t, rec))

	rec = httptest.NewRecorder()
	api.writeServiceError(rec, req, errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", messageOf(t, rec))
}
