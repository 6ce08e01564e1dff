package store

import (
	"context"
	"errors"
	"time"

	"posoffice/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock is returned when an adjustment would drive a
	// ledger entry below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicate         = errors.New("duplicate")
	// ErrConflict marks a concurrent write conflict. The whole unit of work
	// may be retried.
	ErrConflict = errors.New("write conflict")
)

// Tx is one unit of work. Every mutation made through it commits together
// when the function passed to Repository.WithinTx returns nil, and none of
// them persist otherwise.
type Tx interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	// GetInventory loads and locks the ledger entry for the rest of the unit.
	GetInventory(ctx context.Context, productID string, shopID string) (*domain.InventoryEntry, error)
	AdjustInventory(ctx context.Context, productID string, shopID string, delta int) (*domain.InventoryEntry, error)
	NextSaleNumber(ctx context.Context, shopID string) (int64, error)
	CreateSale(ctx context.Context, sale domain.Sale) error
	// GetSaleForUpdate loads and locks a sale for the rest of the unit.
	GetSaleForUpdate(ctx context.Context, saleID string) (*domain.Sale, error)
	UpdateSaleStatus(ctx context.Context, sale domain.Sale) error
}

type Repository interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)

	ListProducts(ctx context.Context, businessID string) ([]domain.Product, error)
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListInventory(ctx context.Context, productID string) ([]domain.InventoryEntry, error)
	SetInventory(ctx context.Context, entry domain.InventoryEntry) (*domain.InventoryEntry, error)
	ListLowStock(ctx context.Context, businessID string, shopID string) ([]domain.LowStockItem, error)

	GetSalesSummary(ctx context.Context, businessID string, shopID string, from time.Time, to time.Time) (domain.SalesSummary, error)

	GetStaff(ctx context.Context, username string) (*domain.StaffAccount, error)
	CreateStaff(ctx context.Context, staff domain.StaffAccount) error
	UpdateStaffPassword(ctx context.Context, username string, password string) error
}
