package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"posoffice/backend/internal/domain"
	"posoffice/backend/internal/store"
	"posoffice/backend/internal/xid"
)

const (
	DemoBusinessID = "biz-demo"
	DemoShopID     = "shop-main"
)

type inventoryKey struct {
	productID string
	shopID    string
}

// Store keeps all state in maps guarded by one lock. A unit of work holds the
// write lock for its whole duration and stages its writes, so a failed unit
// leaves nothing behind.
type Store struct {
	mu           sync.RWMutex
	products     map[string]domain.Product
	inventory    map[inventoryKey]domain.InventoryEntry
	salesByID    map[string]*domain.Sale
	saleOrder    []string
	saleCounters map[string]int64
	staff        map[string]domain.StaffAccount
}

func New() *Store {
	return &Store{
		products:     make(map[string]domain.Product),
		inventory:    make(map[inventoryKey]domain.InventoryEntry),
		salesByID:    make(map[string]*domain.Sale),
		saleOrder:    make([]string, 0, 64),
		saleCounters: make(map[string]int64),
		staff:        make(map[string]domain.StaffAccount),
	}
}

// NewSeeded builds a demo catalogue and staff for dev mode. Staff passwords
// come from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD, with dev defaults when unset.
func NewSeeded(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "prod-coffee", Name: "Ground Coffee 250g", SKU: "COF-250", PriceCents: 850},
		{ID: "prod-milk", Name: "Whole Milk 1L", SKU: "MLK-1L", PriceCents: 199},
		{ID: "prod-bread", Name: "Sourdough Loaf", SKU: "BRD-SD", PriceCents: 450},
		{ID: "prod-eggs", Name: "Eggs (12)", SKU: "EGG-12", PriceCents: 375},
		{ID: "prod-tea", Name: "Green Tea 20 bags", SKU: "TEA-GR20", PriceCents: 325},
		{ID: "prod-soap", Name: "Hand Soap", SKU: "SOAP-HND", PriceCents: 299},
	}
	for _, p := range products {
		p.BusinessID = DemoBusinessID
		p.Active = true
		p.CreatedAt = now
		s.products[p.ID] = p
		for _, shopID := range []string{DemoShopID, "shop-north"} {
			s.inventory[inventoryKey{p.ID, shopID}] = domain.InventoryEntry{
				ProductID: p.ID,
				ShopID:    shopID,
				Quantity:  100,
				MinStock:  10,
				UpdatedAt: now,
			}
		}
	}

	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn("memory store using default dev credentials; set SEED_*_PASSWORD to override")
	}
	for _, u := range []struct {
		username string
		name     string
		password string
		role     string
	}{
		{"admin", "Store Admin", envOr("SEED_ADMIN_PASSWORD", "admin123"), domain.RoleAdmin},
		{"manager", "Shift Manager", envOr("SEED_MANAGER_PASSWORD", "manager123"), domain.RoleManager},
		{"cashier", "Front Cashier", envOr("SEED_CASHIER_PASSWORD", "cashier123"), domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		s.staff[u.username] = domain.StaffAccount{
			Username:    u.username,
			Password:    string(hash),
			DisplayName: u.name,
			Role:        u.role,
			BusinessID:  DemoBusinessID,
			Active:      true,
			CreatedAt:   now,
		}
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:     s,
		inventory: make(map[inventoryKey]domain.InventoryEntry),
		sales:     make(map[string]domain.Sale),
		counters:  make(map[string]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	store     *Store
	inventory map[inventoryKey]domain.InventoryEntry
	sales     map[string]domain.Sale
	newSales  []string
	counters  map[string]int64
}

func (t *memTx) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	p, ok := t.store.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) GetInventory(_ context.Context, productID string, shopID string) (*domain.InventoryEntry, error) {
	key := inventoryKey{productID, shopID}
	if entry, ok := t.inventory[key]; ok {
		return cloneEntry(&entry), nil
	}
	entry, ok := t.store.inventory[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneEntry(&entry), nil
}

func (t *memTx) AdjustInventory(ctx context.Context, productID string, shopID string, delta int) (*domain.InventoryEntry, error) {
	entry, err := t.GetInventory(ctx, productID, shopID)
	if err != nil {
		return nil, err
	}
	if entry.Quantity+delta < 0 {
		return nil, store.ErrInsufficientStock
	}
	entry.Quantity += delta
	entry.UpdatedAt = time.Now().UTC()
	t.inventory[inventoryKey{productID, shopID}] = *entry
	return cloneEntry(entry), nil
}

func (t *memTx) NextSaleNumber(_ context.Context, shopID string) (int64, error) {
	current, ok := t.counters[shopID]
	if !ok {
		current = t.store.saleCounters[shopID]
	}
	current++
	t.counters[shopID] = current
	return current, nil
}

func (t *memTx) CreateSale(_ context.Context, sale domain.Sale) error {
	if sale.ID == "" {
		return store.ErrInvalidInput
	}
	if _, exists := t.store.salesByID[sale.ID]; exists {
		return store.ErrDuplicate
	}
	if _, exists := t.sales[sale.ID]; exists {
		return store.ErrDuplicate
	}
	t.sales[sale.ID] = *cloneSale(&sale)
	t.newSales = append(t.newSales, sale.ID)
	return nil
}

func (t *memTx) GetSaleForUpdate(_ context.Context, saleID string) (*domain.Sale, error) {
	if sale, ok := t.sales[saleID]; ok {
		return cloneSale(&sale), nil
	}
	sale, ok := t.store.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (t *memTx) UpdateSaleStatus(ctx context.Context, sale domain.Sale) error {
	if _, err := t.GetSaleForUpdate(ctx, sale.ID); err != nil {
		return err
	}
	t.sales[sale.ID] = *cloneSale(&sale)
	return nil
}

func (t *memTx) commit() {
	for key, entry := range t.inventory {
		t.store.inventory[key] = entry
	}
	for shopID, n := range t.counters {
		t.store.saleCounters[shopID] = n
	}
	for id, sale := range t.sales {
		t.store.salesByID[id] = cloneSale(&sale)
	}
	t.store.saleOrder = append(t.store.saleOrder, t.newSales...)
}

func (s *Store) GetSale(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	result := make([]domain.Sale, 0, min(limit, len(s.saleOrder)))
	for i := len(s.saleOrder) - 1; i >= 0 && len(result) < limit; i-- {
		sale := s.salesByID[s.saleOrder[i]]
		if !matchesFilter(sale, filter) {
			continue
		}
		result = append(result, *cloneSale(sale))
	}
	return result, nil
}

func matchesFilter(sale *domain.Sale, filter domain.SaleFilter) bool {
	if sale.BusinessID != filter.BusinessID {
		return false
	}
	if filter.ShopID != "" && sale.ShopID != filter.ShopID {
		return false
	}
	if filter.Status != "" && sale.Status != filter.Status {
		return false
	}
	if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
		return false
	}
	if filter.To != nil && !sale.CreatedAt.Before(*filter.To) {
		return false
	}
	return true
}

func (s *Store) ListProducts(_ context.Context, businessID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.BusinessID == businessID && p.Active {
			products = append(products, p)
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.BusinessID == "" || product.Name == "" || product.SKU == "" || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if existing.BusinessID == product.BusinessID && strings.EqualFold(existing.SKU, product.SKU) {
			return nil, store.ErrDuplicate
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true
	s.products[product.ID] = product

	created := product
	return &created, nil
}

func (s *Store) ListInventory(_ context.Context, productID string) ([]domain.InventoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return nil, store.ErrNotFound
	}
	entries := make([]domain.InventoryEntry, 0, 4)
	for key, entry := range s.inventory {
		if key.productID == productID {
			entries = append(entries, *cloneEntry(&entry))
		}
	}
	slices.SortFunc(entries, func(a, b domain.InventoryEntry) int {
		return strings.Compare(a.ShopID, b.ShopID)
	})
	return entries, nil
}

func (s *Store) SetInventory(_ context.Context, entry domain.InventoryEntry) (*domain.InventoryEntry, error) {
	if entry.ProductID == "" || entry.ShopID == "" || entry.Quantity < 0 || entry.MinStock < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[entry.ProductID]; !ok {
		return nil, store.ErrNotFound
	}
	entry.UpdatedAt = time.Now().UTC()
	s.inventory[inventoryKey{entry.ProductID, entry.ShopID}] = *cloneEntry(&entry)
	return cloneEntry(&entry), nil
}

func (s *Store) ListLowStock(_ context.Context, businessID string, shopID string) ([]domain.LowStockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.LowStockItem, 0, 16)
	for key, entry := range s.inventory {
		if shopID != "" && key.shopID != shopID {
			continue
		}
		product, ok := s.products[key.productID]
		if !ok || product.BusinessID != businessID || !entry.LowStock() {
			continue
		}
		items = append(items, domain.LowStockItem{
			ProductID: product.ID,
			Name:      product.Name,
			SKU:       product.SKU,
			ShopID:    entry.ShopID,
			Quantity:  entry.Quantity,
			MinStock:  entry.MinStock,
		})
	}
	slices.SortFunc(items, func(a, b domain.LowStockItem) int {
		if c := strings.Compare(a.ShopID, b.ShopID); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return items, nil
}

func (s *Store) GetSalesSummary(_ context.Context, businessID string, shopID string, from time.Time, to time.Time) (domain.SalesSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.SalesSummary{
		BusinessID: businessID,
		ShopID:     shopID,
		From:       from.Format(time.RFC3339),
		To:         to.Format(time.RFC3339),
	}
	byPayment := make(map[string]*domain.SalesSummaryPayment)
	filter := domain.SaleFilter{BusinessID: businessID, ShopID: shopID, From: &from, To: &to}
	for _, id := range s.saleOrder {
		sale := s.salesByID[id]
		if !matchesFilter(sale, filter) {
			continue
		}
		summary.Sales++
		switch sale.Status {
		case domain.SaleStatusCompleted:
			summary.Completed++
		case domain.SaleStatusPartialRefund:
			summary.PartialRefund++
		case domain.SaleStatusRefunded:
			summary.Refunded++
		case domain.SaleStatusVoided:
			summary.Voided++
			continue
		}
		summary.GrossCents += sale.Totals.TotalCents
		summary.TaxCents += sale.Totals.TaxCents
		summary.DiscountCents += sale.Totals.DiscountCents
		summary.RefundedCents += sale.TotalRefundedCents

		p, ok := byPayment[sale.Payment.Method]
		if !ok {
			p = &domain.SalesSummaryPayment{Method: sale.Payment.Method}
			byPayment[sale.Payment.Method] = p
		}
		p.Sales++
		p.TotalCents += sale.Totals.TotalCents
	}
	summary.NetCents = summary.GrossCents - summary.RefundedCents

	summary.ByPayment = make([]domain.SalesSummaryPayment, 0, len(byPayment))
	for _, p := range byPayment {
		summary.ByPayment = append(summary.ByPayment, *p)
	}
	slices.SortFunc(summary.ByPayment, func(a, b domain.SalesSummaryPayment) int {
		return strings.Compare(a.Method, b.Method)
	})
	return summary, nil
}

func (s *Store) GetStaff(_ context.Context, username string) (*domain.StaffAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	staff, ok := s.staff[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &staff, nil
}

func (s *Store) CreateStaff(_ context.Context, staff domain.StaffAccount) error {
	username := strings.ToLower(strings.TrimSpace(staff.Username))
	if username == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.staff[username]; exists {
		return store.ErrDuplicate
	}
	staff.Username = username
	if staff.CreatedAt.IsZero() {
		staff.CreatedAt = time.Now().UTC()
	}
	s.staff[username] = staff
	return nil
}

func (s *Store) UpdateStaffPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staff, ok := s.staff[username]
	if !ok {
		return store.ErrNotFound
	}
	staff.Password = password
	s.staff[username] = staff
	return nil
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = make([]domain.SaleItem, len(src.Items))
	copy(dup.Items, src.Items)
	return &dup
}

func cloneEntry(src *domain.InventoryEntry) *domain.InventoryEntry {
	dup := *src
	if src.MaxStock != nil {
		maxStock := *src.MaxStock
		dup.MaxStock = &maxStock
	}
	return &dup
}
