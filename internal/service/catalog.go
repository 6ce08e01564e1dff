package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"posoffice/backend/internal/domain"
	"posoffice/backend/internal/store"
)

func (s *Service) ListProducts(ctx context.Context, businessID string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, businessID)
}

func (s *Service) CreateProduct(ctx context.Context, businessID string, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleManager, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" || req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: name and sku are required", ErrValidation)
	}
	if req.PriceCents < 0 {
		return domain.Product{}, fmt.Errorf("%w: price must not be negative", ErrValidation)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		BusinessID: businessID,
		Name:       req.Name,
		SKU:        req.SKU,
		PriceCents: req.PriceCents,
		Active:     true,
		CreatedAt:  s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Product{}, fmt.Errorf("sku %s: %w", req.SKU, ErrDuplicate)
		}
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) GetProductInventory(ctx context.Context, businessID string, productID string) (domain.ProductInventoryResponse, error) {
	product, err := s.productInBusiness(ctx, businessID, productID)
	if err != nil {
		return domain.ProductInventoryResponse{}, err
	}
	entries, err := s.repo.ListInventory(ctx, product.ID)
	if err != nil {
		return domain.ProductInventoryResponse{}, err
	}
	return domain.ProductInventoryResponse{Product: *product, Inventory: entries}, nil
}

// SetInventory upserts the ledger entry for a product in a shop, e.g. on
// stock intake or a stock count.
func (s *Service) SetInventory(ctx context.Context, businessID string, productID string, shopID string, req domain.InventorySetRequest) (domain.InventoryEntry, error) {
	if _, err := requireRole(ctx, domain.RoleManager, domain.RoleAdmin); err != nil {
		return domain.InventoryEntry{}, err
	}
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		return domain.InventoryEntry{}, fmt.Errorf("%w: shop id is required", ErrValidation)
	}
	if req.Quantity < 0 || req.MinStock < 0 {
		return domain.InventoryEntry{}, fmt.Errorf("%w: quantity and min_stock must not be negative", ErrValidation)
	}
	if req.MaxStock != nil && *req.MaxStock < req.MinStock {
		return domain.InventoryEntry{}, fmt.Errorf("%w: max_stock must not be below min_stock", ErrValidation)
	}

	product, err := s.productInBusiness(ctx, businessID, productID)
	if err != nil {
		return domain.InventoryEntry{}, err
	}
	entry, err := s.repo.SetInventory(ctx, domain.InventoryEntry{
		ProductID: product.ID,
		ShopID:    shopID,
		Quantity:  req.Quantity,
		MinStock:  req.MinStock,
		MaxStock:  req.MaxStock,
	})
	if err != nil {
		return domain.InventoryEntry{}, err
	}
	return *entry, nil
}

// AdjustInventory applies a signed delta to one ledger entry in its own unit
// of work. Results below zero are rejected.
func (s *Service) AdjustInventory(ctx context.Context, businessID string, productID string, shopID string, req domain.InventoryAdjustRequest) (domain.InventoryEntry, error) {
	actor, err := requireRole(ctx, domain.RoleManager, domain.RoleAdmin)
	if err != nil {
		return domain.InventoryEntry{}, err
	}
	if req.Delta == 0 {
		return domain.InventoryEntry{}, fmt.Errorf("%w: delta must not be zero", ErrValidation)
	}
	shopID = strings.TrimSpace(shopID)

	var adjusted domain.InventoryEntry
	err = s.atomic(ctx, "adjust inventory", func(tx store.Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && product.BusinessID != businessID) {
			return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		if err != nil {
			return err
		}

		entry, err := tx.AdjustInventory(ctx, product.ID, shopID, req.Delta)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("%w: product %s in shop %s", ErrShopInventoryNotFound, product.ID, shopID)
		case errors.Is(err, store.ErrInsufficientStock):
			return fmt.Errorf("%w: %s", ErrInsufficientStock, product.Name)
		case err != nil:
			return err
		}
		adjusted = *entry
		return nil
	})
	if err != nil {
		return domain.InventoryEntry{}, err
	}

	s.log.Info("inventory adjusted",
		zap.String("product_id", productID),
		zap.String("shop_id", shopID),
		zap.Int("delta", req.Delta),
		zap.Int("quantity", adjusted.Quantity),
		zap.String("reason", strings.TrimSpace(req.Reason)),
		zap.String("actor", actor.Username),
	)
	return adjusted, nil
}

func (s *Service) LowStock(ctx context.Context, businessID string, shopID string) ([]domain.LowStockItem, error) {
	return s.repo.ListLowStock(ctx, businessID, strings.TrimSpace(shopID))
}

// SalesSummary aggregates sales created in [from, to). A zero to means now;
// a zero from means 24 hours before to.
func (s *Service) SalesSummary(ctx context.Context, businessID string, shopID string, from time.Time, to time.Time) (domain.SalesSummary, error) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	if !from.Before(to) {
		return domain.SalesSummary{}, fmt.Errorf("%w: from must be before to", ErrValidation)
	}
	if to.Sub(from) > maxSummaryRange {
		return domain.SalesSummary{}, fmt.Errorf("%w: range must not exceed 366 days", ErrValidation)
	}
	return s.repo.GetSalesSummary(ctx, businessID, strings.TrimSpace(shopID), from.UTC(), to.UTC())
}

func (s *Service) productInBusiness(ctx context.Context, businessID string, productID string) (*domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(productID))
	if errors.Is(err, store.ErrNotFound) || (err == nil && product.BusinessID != businessID) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, err
	}
	return product, nil
}
