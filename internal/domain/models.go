package domain

import "time"

type Product struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Name       string    `json:"name"`
	SKU        string    `json:"sku"`
	PriceCents int64     `json:"price_cents"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	PriceCents int64  `json:"price_cents"`
}

// InventoryEntry is the stock of one product in one shop.
type InventoryEntry struct {
	ProductID string    `json:"product_id"`
	ShopID    string    `json:"shop_id"`
	Quantity  int       `json:"quantity"`
	MinStock  int       `json:"min_stock"`
	MaxStock  *int      `json:"max_stock,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LowStock reports quantity <= minStock. It is a signal only; sales may
// proceed until quantity reaches zero.
func (e InventoryEntry) LowStock() bool {
	return e.Quantity <= e.MinStock
}

type InventorySetRequest struct {
	Quantity int  `json:"quantity"`
	MinStock int  `json:"min_stock"`
	MaxStock *int `json:"max_stock,omitempty"`
}

type InventoryAdjustRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type ProductInventoryResponse struct {
	Product   Product          `json:"product"`
	Inventory []InventoryEntry `json:"inventory"`
}

type LowStockItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	ShopID    string `json:"shop_id"`
	Quantity  int    `json:"quantity"`
	MinStock  int    `json:"min_stock"`
}

type SaleStatus string

const (
	SaleStatusCompleted     SaleStatus = "completed"
	SaleStatusPartialRefund SaleStatus = "partial_refund"
	SaleStatusRefunded      SaleStatus = "refunded"
	SaleStatusVoided        SaleStatus = "voided"
)

// Terminal reports whether no further refund or void is accepted.
func (s SaleStatus) Terminal() bool {
	return s != SaleStatusCompleted
}

const (
	PaymentMethodCash         = "cash"
	PaymentMethodCard         = "card"
	PaymentMethodMobileMoney  = "mobile_money"
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodCredit       = "credit"
)

const (
	PaymentStatusPaid    = "paid"
	PaymentStatusPartial = "partial"
)

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodMobileMoney, PaymentMethodBankTransfer, PaymentMethodCredit:
		return true
	default:
		return false
	}
}

// SaleItem is captured at sale time; later product edits do not change it.
type SaleItem struct {
	ProductID       string `json:"product_id"`
	Name            string `json:"name"`
	SKU             string `json:"sku"`
	Quantity        int    `json:"quantity"`
	UnitPriceCents  int64  `json:"unit_price_cents"`
	TotalPriceCents int64  `json:"total_price_cents"`
}

type SaleTotals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	TaxCents      int64 `json:"tax_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TotalCents    int64 `json:"total_cents"`
}

type SalePayment struct {
	Method      string `json:"method"`
	Status      string `json:"status"`
	PaidCents   int64  `json:"paid_cents"`
	ChangeCents int64  `json:"change_cents"`
}

type Sale struct {
	ID                 string      `json:"id"`
	SaleNumber         string      `json:"sale_number"`
	BusinessID         string      `json:"business_id"`
	ShopID             string      `json:"shop_id"`
	CashierID          string      `json:"cashier_id"`
	CashierName        string      `json:"cashier_name,omitempty"`
	Items              []SaleItem  `json:"items"`
	Totals             SaleTotals  `json:"totals"`
	Payment            SalePayment `json:"payment"`
	Status             SaleStatus  `json:"status"`
	TotalRefundedCents int64       `json:"total_refunded_cents"`
	Notes              string      `json:"notes"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

type SaleItemRequest struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents *int64 `json:"unit_price_cents,omitempty"`
}

type SalePaymentRequest struct {
	Method    string `json:"method"`
	PaidCents int64  `json:"paid_cents"`
}

type SaleTotalsRequest struct {
	TaxCents      *int64 `json:"tax_cents,omitempty"`
	DiscountCents *int64 `json:"discount_cents,omitempty"`
}

// CreateSaleRequest is the sale input. BusinessID and CashierID come from the
// authenticated identity, never from the request body.
type CreateSaleRequest struct {
	BusinessID string             `json:"-"`
	CashierID  string             `json:"-"`
	ShopID     string             `json:"shop_id"`
	Items      []SaleItemRequest  `json:"items"`
	Payment    SalePaymentRequest `json:"payment"`
	Totals     *SaleTotalsRequest `json:"totals,omitempty"`
	Notes      string             `json:"notes,omitempty"`
}

type RefundSaleRequest struct {
	RefundCents int64  `json:"refund_cents"`
	Reason      string `json:"reason,omitempty"`
}

type VoidSaleRequest struct {
	Reason string `json:"reason,omitempty"`
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

type SaleFilter struct {
	BusinessID string
	ShopID     string
	Status     SaleStatus
	From       *time.Time
	To         *time.Time
	Limit      int
}

type SalesSummaryPayment struct {
	Method     string `json:"method"`
	Sales      int64  `json:"sales"`
	TotalCents int64  `json:"total_cents"`
}

type SalesSummary struct {
	BusinessID    string                `json:"business_id"`
	ShopID        string                `json:"shop_id,omitempty"`
	From          string                `json:"from"`
	To            string                `json:"to"`
	Sales         int64                 `json:"sales"`
	Completed     int64                 `json:"completed"`
	PartialRefund int64                 `json:"partial_refund"`
	Refunded      int64                 `json:"refunded"`
	Voided        int64                 `json:"voided"`
	GrossCents    int64                 `json:"gross_cents"`
	TaxCents      int64                 `json:"tax_cents"`
	DiscountCents int64                 `json:"discount_cents"`
	RefundedCents int64                 `json:"refunded_cents"`
	NetCents      int64                 `json:"net_cents"`
	ByPayment     []SalesSummaryPayment `json:"by_payment"`
}

const (
	RoleCashier = "cashier"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	BusinessID  string `json:"business_id"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated staff member behind a request.
type Actor struct {
	Username   string
	Role       string
	BusinessID string
}

// StaffAccount is an internal persistence model for auth credentials.
type StaffAccount struct {
	Username    string
	Password    string
	DisplayName string
	Role        string
	BusinessID  string
	Active      bool
	CreatedAt   time.Time
}

const (
	SaleEventCreated  = "sale.created"
	SaleEventRefunded = "sale.refunded"
	SaleEventVoided   = "sale.voided"
)

type SaleEvent struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	SaleID      string     `json:"sale_id"`
	SaleNumber  string     `json:"sale_number"`
	BusinessID  string     `json:"business_id"`
	ShopID      string     `json:"shop_id"`
	Status      string     `json:"status"`
	TotalCents  int64      `json:"total_cents"`
	AmountCents int64      `json:"amount_cents,omitempty"`
	Items       []SaleItem `json:"items,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}
