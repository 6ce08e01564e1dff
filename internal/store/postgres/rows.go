package postgres

import (
	"database/sql"
	"time"

	"posoffice/backend/internal/domain"
)

const saleColumns = `id, sale_number, business_id, shop_id, cashier_id, cashier_name,
	subtotal_cents, tax_cents, discount_cents, total_cents,
	payment_method, payment_status, paid_cents, change_cents,
	status, total_refunded_cents, notes, created_at, updated_at`

type productRow struct {
	ID         string    `db:"id"`
	BusinessID string    `db:"business_id"`
	Name       string    `db:"name"`
	SKU        string    `db:"sku"`
	PriceCents int64     `db:"price_cents"`
	Active     bool      `db:"active"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:         r.ID,
		BusinessID: r.BusinessID,
		Name:       r.Name,
		SKU:        r.SKU,
		PriceCents: r.PriceCents,
		Active:     r.Active,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

type inventoryRow struct {
	ProductID string        `db:"product_id"`
	ShopID    string        `db:"shop_id"`
	Quantity  int           `db:"quantity"`
	MinStock  int           `db:"min_stock"`
	MaxStock  sql.NullInt32 `db:"max_stock"`
	UpdatedAt time.Time     `db:"updated_at"`
}

func (r inventoryRow) toDomain() domain.InventoryEntry {
	entry := domain.InventoryEntry{
		ProductID: r.ProductID,
		ShopID:    r.ShopID,
		Quantity:  r.Quantity,
		MinStock:  r.MinStock,
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.MaxStock.Valid {
		maxStock := int(r.MaxStock.Int32)
		entry.MaxStock = &maxStock
	}
	return entry
}

type saleRow struct {
	ID                 string    `db:"id"`
	SaleNumber         string    `db:"sale_number"`
	BusinessID         string    `db:"business_id"`
	ShopID             string    `db:"shop_id"`
	CashierID          string    `db:"cashier_id"`
	CashierName        string    `db:"cashier_name"`
	SubtotalCents      int64     `db:"subtotal_cents"`
	TaxCents           int64     `db:"tax_cents"`
	DiscountCents      int64     `db:"discount_cents"`
	TotalCents         int64     `db:"total_cents"`
	PaymentMethod      string    `db:"payment_method"`
	PaymentStatus      string    `db:"payment_status"`
	PaidCents          int64     `db:"paid_cents"`
	ChangeCents        int64     `db:"change_cents"`
	Status             string    `db:"status"`
	TotalRefundedCents int64     `db:"total_refunded_cents"`
	Notes              string    `db:"notes"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func newSaleRow(sale domain.Sale) saleRow {
	return saleRow{
		ID:                 sale.ID,
		SaleNumber:         sale.SaleNumber,
		BusinessID:         sale.BusinessID,
		ShopID:             sale.ShopID,
		CashierID:          sale.CashierID,
		CashierName:        sale.CashierName,
		SubtotalCents:      sale.Totals.SubtotalCents,
		TaxCents:           sale.Totals.TaxCents,
		DiscountCents:      sale.Totals.DiscountCents,
		TotalCents:         sale.Totals.TotalCents,
		PaymentMethod:      sale.Payment.Method,
		PaymentStatus:      sale.Payment.Status,
		PaidCents:          sale.Payment.PaidCents,
		ChangeCents:        sale.Payment.ChangeCents,
		Status:             string(sale.Status),
		TotalRefundedCents: sale.TotalRefundedCents,
		Notes:              sale.Notes,
		CreatedAt:          sale.CreatedAt,
		UpdatedAt:          sale.UpdatedAt,
	}
}

func (r saleRow) toDomain(items []domain.SaleItem) domain.Sale {
	if items == nil {
		items = []domain.SaleItem{}
	}
	return domain.Sale{
		ID:          r.ID,
		SaleNumber:  r.SaleNumber,
		BusinessID:  r.BusinessID,
		ShopID:      r.ShopID,
		CashierID:   r.CashierID,
		CashierName: r.CashierName,
		Items:       items,
		Totals: domain.SaleTotals{
			SubtotalCents: r.SubtotalCents,
			TaxCents:      r.TaxCents,
			DiscountCents: r.DiscountCents,
			TotalCents:    r.TotalCents,
		},
		Payment: domain.SalePayment{
			Method:      r.PaymentMethod,
			Status:      r.PaymentStatus,
			PaidCents:   r.PaidCents,
			ChangeCents: r.ChangeCents,
		},
		Status:             domain.SaleStatus(r.Status),
		TotalRefundedCents: r.TotalRefundedCents,
		Notes:              r.Notes,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

type saleItemRow struct {
	SaleID          string `db:"sale_id"`
	LineNo          int    `db:"line_no"`
	ProductID       string `db:"product_id"`
	Name            string `db:"name"`
	SKU             string `db:"sku"`
	Quantity        int    `db:"quantity"`
	UnitPriceCents  int64  `db:"unit_price_cents"`
	TotalPriceCents int64  `db:"total_price_cents"`
}

func newSaleItemRow(saleID string, lineNo int, item domain.SaleItem) saleItemRow {
	return saleItemRow{
		SaleID:          saleID,
		LineNo:          lineNo,
		ProductID:       item.ProductID,
		Name:            item.Name,
		SKU:             item.SKU,
		Quantity:        item.Quantity,
		UnitPriceCents:  item.UnitPriceCents,
		TotalPriceCents: item.TotalPriceCents,
	}
}

func (r saleItemRow) toDomain() domain.SaleItem {
	return domain.SaleItem{
		ProductID:       r.ProductID,
		Name:            r.Name,
		SKU:             r.SKU,
		Quantity:        r.Quantity,
		UnitPriceCents:  r.UnitPriceCents,
		TotalPriceCents: r.TotalPriceCents,
	}
}

type staffRow struct {
	Username    string    `db:"username"`
	Password    string    `db:"password_hash"`
	DisplayName string    `db:"display_name"`
	Role        string    `db:"role"`
	BusinessID  string    `db:"business_id"`
	Active      bool      `db:"active"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r staffRow) toDomain() domain.StaffAccount {
	return domain.StaffAccount{
		Username:    r.Username,
		Password:    r.Password,
		DisplayName: r.DisplayName,
		Role:        r.Role,
		BusinessID:  r.BusinessID,
		Active:      r.Active,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}
