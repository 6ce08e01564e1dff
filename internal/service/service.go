package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"posoffice/backend/internal/cache"
	"posoffice/backend/internal/domain"
	"posoffice/backend/internal/events"
	"posoffice/backend/internal/store"
	"posoffice/backend/internal/xid"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrProductNotFound       = errors.New("product not found")
	ErrShopInventoryNotFound = errors.New("shop inventory not found")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrSaleNotFound          = errors.New("sale not found")
	ErrInvalidRefundAmount   = errors.New("invalid refund amount")
	ErrSaleNotRefundable     = errors.New("sale cannot be refunded")
	ErrCannotVoidSale        = errors.New("sale cannot be voided")
	ErrForbidden             = errors.New("forbidden")

	ErrConflict  = store.ErrConflict
	ErrNotFound  = store.ErrNotFound
	ErrDuplicate = store.ErrDuplicate
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxSummaryRange  = 366 * 24 * time.Hour
)

var defaultTaxRate = decimal.RequireFromString("0.10")

type Options struct {
	Cache         cache.SaleCache
	Publisher     events.Publisher
	Logger        *zap.Logger
	// TaxRate nil means the default 10%. An explicit zero disables tax.
	TaxRate       *decimal.Decimal
	MaxTxAttempts int
	SaleCacheTTL  time.Duration
}

type Service struct {
	repo        store.Repository
	cache       cache.SaleCache
	publisher   events.Publisher
	log         *zap.Logger
	taxRate     decimal.Decimal
	maxAttempts int
	cacheTTL    time.Duration
	now         func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopSaleCache{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	taxRate := defaultTaxRate
	if opts.TaxRate != nil && !opts.TaxRate.IsNegative() && !opts.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		taxRate = *opts.TaxRate
	}
	if opts.MaxTxAttempts < 1 {
		opts.MaxTxAttempts = 3
	}
	if opts.SaleCacheTTL <= 0 {
		opts.SaleCacheTTL = time.Minute
	}

	return &Service{
		repo:        repo,
		cache:       opts.Cache,
		publisher:   opts.Publisher,
		log:         opts.Logger.Named("service"),
		taxRate:     taxRate,
		maxAttempts: opts.MaxTxAttempts,
		cacheTTL:    opts.SaleCacheTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// TaxRate is the rate applied when a sale does not carry an explicit tax.
func (s *Service) TaxRate() decimal.Decimal {
	return s.taxRate
}

// atomic runs fn as one unit of work and re-runs the whole unit when storage
// reports a write conflict. fn must not keep state across invocations.
func (s *Service) atomic(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.repo.WithinTx(ctx, fn)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.log.Warn("write conflict, retrying unit of work",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.maxAttempts),
		)
	}
	return fmt.Errorf("%s: gave up after %d attempts: %w", op, s.maxAttempts, err)
}

func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.Sale, error) {
	if err := normalizeCreateSale(&req); err != nil {
		return domain.Sale{}, err
	}

	cashierName := s.cashierDisplayName(ctx, req.CashierID)

	var created domain.Sale
	err := s.atomic(ctx, "create sale", func(tx store.Tx) error {
		now := s.now()

		number, err := tx.NextSaleNumber(ctx, req.ShopID)
		if err != nil {
			return fmt.Errorf("next sale number: %w", err)
		}

		items := make([]domain.SaleItem, 0, len(req.Items))
		subtotal := int64(0)
		for _, item := range req.Items {
			product, err := tx.GetProduct(ctx, item.ProductID)
			if errors.Is(err, store.ErrNotFound) || (err == nil && (product.BusinessID != req.BusinessID || !product.Active)) {
				return fmt.Errorf("%w: %s", ErrProductNotFound, item.ProductID)
			}
			if err != nil {
				return err
			}

			entry, err := tx.GetInventory(ctx, product.ID, req.ShopID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: product %s in shop %s", ErrShopInventoryNotFound, product.ID, req.ShopID)
			}
			if err != nil {
				return err
			}
			if entry.Quantity < item.Quantity {
				return fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientStock, product.Name, entry.Quantity, item.Quantity)
			}
			if _, err := tx.AdjustInventory(ctx, product.ID, req.ShopID, -item.Quantity); err != nil {
				if errors.Is(err, store.ErrInsufficientStock) {
					return fmt.Errorf("%w: %s", ErrInsufficientStock, product.Name)
				}
				return err
			}

			unitPrice := product.PriceCents
			if item.UnitPriceCents != nil {
				unitPrice = *item.UnitPriceCents
			}
			lineTotal := unitPrice * int64(item.Quantity)
			subtotal += lineTotal

			items = append(items, domain.SaleItem{
				ProductID:       product.ID,
				Name:            product.Name,
				SKU:             product.SKU,
				Quantity:        item.Quantity,
				UnitPriceCents:  unitPrice,
				TotalPriceCents: lineTotal,
			})
		}

		totals := s.computeTotals(subtotal, req.Totals)
		if totals.TotalCents < 0 {
			return fmt.Errorf("%w: discount exceeds sale amount", ErrValidation)
		}

		sale := domain.Sale{
			ID:          xid.New("sale"),
			SaleNumber:  formatSaleNumber(number),
			BusinessID:  req.BusinessID,
			ShopID:      req.ShopID,
			CashierID:   req.CashierID,
			CashierName: cashierName,
			Items:       items,
			Totals:      totals,
			Payment:     buildPayment(req.Payment, totals.TotalCents),
			Status:      domain.SaleStatusCompleted,
			Notes:       req.Notes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.CreateSale(ctx, sale); err != nil {
			return fmt.Errorf("persist sale: %w", err)
		}
		created = sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.log.Info("sale created",
		zap.String("sale_id", created.ID),
		zap.String("sale_number", created.SaleNumber),
		zap.String("business_id", created.BusinessID),
		zap.String("shop_id", created.ShopID),
		zap.Int64("total_cents", created.Totals.TotalCents),
		zap.String("payment_status", created.Payment.Status),
	)
	s.storeInCache(ctx, &created)
	s.publish(ctx, domain.SaleEventCreated, created, created.Totals.TotalCents)

	return created, nil
}

func (s *Service) RefundSale(ctx context.Context, businessID string, saleID string, req domain.RefundSaleRequest) (domain.Sale, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, ErrSaleNotFound
	}
	reason := defaultString(strings.TrimSpace(req.Reason), "unspecified")

	var updated domain.Sale
	err := s.atomic(ctx, "refund sale", func(tx store.Tx) error {
		sale, err := s.loadSaleForUpdate(ctx, tx, businessID, saleID)
		if err != nil {
			return err
		}
		if sale.Status.Terminal() {
			return fmt.Errorf("%w: status is %s", ErrSaleNotRefundable, sale.Status)
		}
		remaining := sale.Totals.TotalCents - sale.TotalRefundedCents
		if req.RefundCents <= 0 || req.RefundCents > remaining {
			return fmt.Errorf("%w: %d not in (0, %d]", ErrInvalidRefundAmount, req.RefundCents, remaining)
		}

		now := s.now()
		if req.RefundCents == remaining {
			if err := s.restoreInventory(ctx, tx, sale); err != nil {
				return err
			}
			sale.Status = domain.SaleStatusRefunded
		} else {
			sale.Status = domain.SaleStatusPartialRefund
		}
		sale.TotalRefundedCents += req.RefundCents
		sale.Notes = appendNote(sale.Notes, fmt.Sprintf("%s refund amount=%d reason=%s", now.Format(time.RFC3339), req.RefundCents, reason))
		sale.UpdatedAt = now

		if err := tx.UpdateSaleStatus(ctx, *sale); err != nil {
			return fmt.Errorf("update sale: %w", err)
		}
		updated = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.log.Info("sale refunded",
		zap.String("sale_id", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.Int64("refund_cents", req.RefundCents),
	)
	s.evictFromCache(ctx, updated.ID)
	s.publish(ctx, domain.SaleEventRefunded, updated, req.RefundCents)

	return updated, nil
}

func (s *Service) VoidSale(ctx context.Context, businessID string, saleID string, req domain.VoidSaleRequest) (domain.Sale, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, ErrSaleNotFound
	}
	reason := defaultString(strings.TrimSpace(req.Reason), "unspecified")

	var updated domain.Sale
	err := s.atomic(ctx, "void sale", func(tx store.Tx) error {
		sale, err := s.loadSaleForUpdate(ctx, tx, businessID, saleID)
		if err != nil {
			return err
		}
		if sale.Status.Terminal() {
			return fmt.Errorf("%w: status is %s", ErrCannotVoidSale, sale.Status)
		}
		if err := s.restoreInventory(ctx, tx, sale); err != nil {
			return err
		}

		now := s.now()
		sale.Status = domain.SaleStatusVoided
		sale.Notes = appendNote(sale.Notes, fmt.Sprintf("%s void reason=%s", now.Format(time.RFC3339), reason))
		sale.UpdatedAt = now

		if err := tx.UpdateSaleStatus(ctx, *sale); err != nil {
			return fmt.Errorf("update sale: %w", err)
		}
		updated = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.log.Info("sale voided", zap.String("sale_id", updated.ID), zap.String("reason", reason))
	s.evictFromCache(ctx, updated.ID)
	s.publish(ctx, domain.SaleEventVoided, updated, updated.Totals.TotalCents)

	return updated, nil
}

func (s *Service) GetSale(ctx context.Context, businessID string, saleID string) (domain.Sale, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, ErrSaleNotFound
	}

	if cached, ok, err := s.cache.Get(ctx, saleID); err != nil {
		s.log.Warn("sale cache read failed", zap.String("sale_id", saleID), zap.Error(err))
	} else if ok {
		if cached.BusinessID != businessID {
			return domain.Sale{}, ErrSaleNotFound
		}
		return *cached, nil
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Sale{}, ErrSaleNotFound
	}
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.BusinessID != businessID {
		return domain.Sale{}, ErrSaleNotFound
	}

	s.storeInCache(ctx, sale)
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if filter.BusinessID == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrValidation)
	}
	if filter.Status != "" && !isKnownStatus(filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, fmt.Errorf("%w: from must be before to", ErrValidation)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) loadSaleForUpdate(ctx context.Context, tx store.Tx, businessID string, saleID string) (*domain.Sale, error) {
	sale, err := tx.GetSaleForUpdate(ctx, saleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSaleNotFound
	}
	if err != nil {
		return nil, err
	}
	if sale.BusinessID != businessID {
		return nil, ErrSaleNotFound
	}
	return sale, nil
}

// restoreInventory puts every item of the sale back into the shop it was
// sold from. Products or ledger entries removed since the sale are skipped.
func (s *Service) restoreInventory(ctx context.Context, tx store.Tx, sale *domain.Sale) error {
	for _, item := range sale.Items {
		if _, err := tx.GetProduct(ctx, item.ProductID); errors.Is(err, store.ErrNotFound) {
			s.log.Debug("restore skipped, product gone", zap.String("sale_id", sale.ID), zap.String("product_id", item.ProductID))
			continue
		} else if err != nil {
			return err
		}

		_, err := tx.AdjustInventory(ctx, item.ProductID, sale.ShopID, item.Quantity)
		if errors.Is(err, store.ErrNotFound) {
			s.log.Debug("restore skipped, no shop inventory", zap.String("sale_id", sale.ID), zap.String("product_id", item.ProductID), zap.String("shop_id", sale.ShopID))
			continue
		}
		if err != nil {
			return fmt.Errorf("restore inventory for %s: %w", item.ProductID, err)
		}
	}
	return nil
}

func (s *Service) computeTotals(subtotal int64, req *domain.SaleTotalsRequest) domain.SaleTotals {
	totals := domain.SaleTotals{SubtotalCents: subtotal}
	if req != nil && req.TaxCents != nil {
		totals.TaxCents = *req.TaxCents
	} else {
		totals.TaxCents = decimal.NewFromInt(subtotal).Mul(s.taxRate).Round(0).IntPart()
	}
	if req != nil && req.DiscountCents != nil {
		totals.DiscountCents = *req.DiscountCents
	}
	totals.TotalCents = totals.SubtotalCents + totals.TaxCents - totals.DiscountCents
	return totals
}

func buildPayment(req domain.SalePaymentRequest, totalCents int64) domain.SalePayment {
	status := domain.PaymentStatusPaid
	if req.PaidCents < totalCents {
		status = domain.PaymentStatusPartial
	}
	return domain.SalePayment{
		Method:      req.Method,
		Status:      status,
		PaidCents:   req.PaidCents,
		ChangeCents: req.PaidCents - totalCents,
	}
}

func normalizeCreateSale(req *domain.CreateSaleRequest) error {
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.CashierID = strings.TrimSpace(req.CashierID)
	req.ShopID = strings.TrimSpace(req.ShopID)
	req.Notes = strings.TrimSpace(req.Notes)
	req.Payment.Method = strings.ToLower(strings.TrimSpace(req.Payment.Method))

	if req.BusinessID == "" || req.CashierID == "" {
		return fmt.Errorf("%w: business and cashier are required", ErrValidation)
	}
	if req.ShopID == "" {
		return fmt.Errorf("%w: shop_id is required", ErrValidation)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	for i := range req.Items {
		item := &req.Items[i]
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return fmt.Errorf("%w: item %d has no product_id", ErrValidation, i+1)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be at least 1", ErrValidation, i+1)
		}
		if item.UnitPriceCents != nil && *item.UnitPriceCents < 0 {
			return fmt.Errorf("%w: item %d unit price must not be negative", ErrValidation, i+1)
		}
	}
	if !domain.IsSupportedPaymentMethod(req.Payment.Method) {
		return fmt.Errorf("%w: unsupported payment method %q", ErrValidation, req.Payment.Method)
	}
	if req.Payment.PaidCents < 0 {
		return fmt.Errorf("%w: paid amount must not be negative", ErrValidation)
	}
	if req.Totals != nil {
		if req.Totals.TaxCents != nil && *req.Totals.TaxCents < 0 {
			return fmt.Errorf("%w: tax must not be negative", ErrValidation)
		}
		if req.Totals.DiscountCents != nil && *req.Totals.DiscountCents < 0 {
			return fmt.Errorf("%w: discount must not be negative", ErrValidation)
		}
	}
	return nil
}

func (s *Service) cashierDisplayName(ctx context.Context, cashierID string) string {
	staff, err := s.repo.GetStaff(ctx, cashierID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("cashier lookup failed", zap.String("cashier_id", cashierID), zap.Error(err))
		}
		return ""
	}
	return staff.DisplayName
}

func (s *Service) storeInCache(ctx context.Context, sale *domain.Sale) {
	if err := s.cache.Set(ctx, sale, s.cacheTTL); err != nil {
		s.log.Warn("sale cache write failed", zap.String("sale_id", sale.ID), zap.Error(err))
	}
}

func (s *Service) evictFromCache(ctx context.Context, saleID string) {
	if err := s.cache.Delete(ctx, saleID); err != nil {
		s.log.Warn("sale cache eviction failed", zap.String("sale_id", saleID), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, eventType string, sale domain.Sale, amountCents int64) {
	event := domain.SaleEvent{
		ID:          xid.New("evt"),
		Type:        eventType,
		SaleID:      sale.ID,
		SaleNumber:  sale.SaleNumber,
		BusinessID:  sale.BusinessID,
		ShopID:      sale.ShopID,
		Status:      string(sale.Status),
		TotalCents:  sale.Totals.TotalCents,
		AmountCents: amountCents,
		OccurredAt:  s.now(),
	}
	if eventType != domain.SaleEventRefunded || sale.Status == domain.SaleStatusRefunded {
		event.Items = sale.Items
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Error("sale event publish failed",
			zap.String("event_type", eventType),
			zap.String("sale_id", sale.ID),
			zap.Error(err),
		)
	}
}

func formatSaleNumber(n int64) string {
	return fmt.Sprintf("INV-%06d", n)
}

func appendNote(notes string, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

func isKnownStatus(status domain.SaleStatus) bool {
	return slices.Contains([]domain.SaleStatus{
		domain.SaleStatusCompleted,
		domain.SaleStatusPartialRefund,
		domain.SaleStatusRefunded,
		domain.SaleStatusVoided,
	}, status)
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, fmt.Errorf("%w: requires one of %s", ErrForbidden, strings.Join(roles, ", "))
	}
	return actor, nil
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
