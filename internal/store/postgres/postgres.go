package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"posoffice/backend/internal/domain"
	"posoffice/backend/internal/store"
	"posoffice/backend/internal/xid"
)

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx runs fn inside one SERIALIZABLE transaction. Serialization
// failures and deadlocks come back wrapped in store.ErrConflict.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapTxError(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapTxError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapTxError(err)
	}
	return nil
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(ctx, t.tx, productID)
}

func (t *pgTx) GetInventory(ctx context.Context, productID string, shopID string) (*domain.InventoryEntry, error) {
	var row inventoryRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT product_id, shop_id, quantity, min_stock, max_stock, updated_at
		FROM product_inventory
		WHERE product_id = $1 AND shop_id = $2
		FOR UPDATE
	`, productID, shopID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	entry := row.toDomain()
	return &entry, nil
}

func (t *pgTx) AdjustInventory(ctx context.Context, productID string, shopID string, delta int) (*domain.InventoryEntry, error) {
	var row inventoryRow
	err := t.tx.GetContext(ctx, &row, `
		UPDATE product_inventory
		SET quantity = quantity + $3, updated_at = now()
		WHERE product_id = $1 AND shop_id = $2 AND quantity + $3 >= 0
		RETURNING product_id, shop_id, quantity, min_stock, max_stock, updated_at
	`, productID, shopID, delta)
	if err == nil {
		entry := row.toDomain()
		return &entry, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := t.tx.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM product_inventory WHERE product_id = $1 AND shop_id = $2)
	`, productID, shopID); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrInsufficientStock
}

func (t *pgTx) NextSaleNumber(ctx context.Context, shopID string) (int64, error) {
	var n int64
	err := t.tx.GetContext(ctx, &n, `
		INSERT INTO shop_sale_counters (shop_id, last_number)
		VALUES ($1, 1)
		ON CONFLICT (shop_id)
		DO UPDATE SET last_number = shop_sale_counters.last_number + 1
		RETURNING last_number
	`, shopID)
	return n, err
}

func (t *pgTx) CreateSale(ctx context.Context, sale domain.Sale) error {
	if sale.ID == "" {
		return store.ErrInvalidInput
	}
	if _, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sales (
			id, sale_number, business_id, shop_id, cashier_id, cashier_name,
			subtotal_cents, tax_cents, discount_cents, total_cents,
			payment_method, payment_status, paid_cents, change_cents,
			status, total_refunded_cents, notes, created_at, updated_at
		) VALUES (
			:id, :sale_number, :business_id, :shop_id, :cashier_id, :cashier_name,
			:subtotal_cents, :tax_cents, :discount_cents, :total_cents,
			:payment_method, :payment_status, :paid_cents, :change_cents,
			:status, :total_refunded_cents, :notes, :created_at, :updated_at
		)
	`, newSaleRow(sale)); err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}

	if len(sale.Items) == 0 {
		return nil
	}
	items := make([]saleItemRow, 0, len(sale.Items))
	for i, item := range sale.Items {
		items = append(items, newSaleItemRow(sale.ID, i+1, item))
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sale_items (sale_id, line_no, product_id, name, sku, quantity, unit_price_cents, total_price_cents)
		VALUES (:sale_id, :line_no, :product_id, :name, :sku, :quantity, :unit_price_cents, :total_price_cents)
	`, items)
	return err
}

func (t *pgTx) GetSaleForUpdate(ctx context.Context, saleID string) (*domain.Sale, error) {
	return getSale(ctx, t.tx, saleID, true)
}

func (t *pgTx) UpdateSaleStatus(ctx context.Context, sale domain.Sale) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, total_refunded_cents = $3, notes = $4, updated_at = $5
		WHERE id = $1
	`, sale.ID, string(sale.Status), sale.TotalRefundedCents, sale.Notes, sale.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	return getSale(ctx, s.db, saleID, false)
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	where := []string{"business_id = ?"}
	args := []any{filter.BusinessID}
	if filter.ShopID != "" {
		where = append(where, "shop_id = ?")
		args = append(args, filter.ShopID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		where = append(where, "created_at < ?")
		args = append(args, *filter.To)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := s.db.Rebind(`SELECT ` + saleColumns + ` FROM sales WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id DESC LIMIT ?`)
	var rows []saleRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []domain.Sale{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	itemsQuery, itemsArgs, err := sqlx.In(`
		SELECT sale_id, line_no, product_id, name, sku, quantity, unit_price_cents, total_price_cents
		FROM sale_items
		WHERE sale_id IN (?)
		ORDER BY sale_id, line_no
	`, ids)
	if err != nil {
		return nil, err
	}
	var itemRows []saleItemRow
	if err := s.db.SelectContext(ctx, &itemRows, s.db.Rebind(itemsQuery), itemsArgs...); err != nil {
		return nil, err
	}
	itemsBySale := make(map[string][]domain.SaleItem, len(rows))
	for _, ir := range itemRows {
		itemsBySale[ir.SaleID] = append(itemsBySale[ir.SaleID], ir.toDomain())
	}

	sales := make([]domain.Sale, 0, len(rows))
	for _, r := range rows {
		sales = append(sales, r.toDomain(itemsBySale[r.ID]))
	}
	return sales, nil
}

func (s *Store) ListProducts(ctx context.Context, businessID string) ([]domain.Product, error) {
	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, business_id, name, sku, price_cents, active, created_at
		FROM products
		WHERE business_id = $1 AND active = true
		ORDER BY name
	`, businessID); err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, r.toDomain())
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(ctx, s.db, productID)
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.BusinessID == "" || product.Name == "" || product.SKU == "" || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, business_id, name, sku, price_cents, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, product.ID, product.BusinessID, product.Name, product.SKU, product.PriceCents, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) ListInventory(ctx context.Context, productID string) ([]domain.InventoryEntry, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	var rows []inventoryRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT product_id, shop_id, quantity, min_stock, max_stock, updated_at
		FROM product_inventory
		WHERE product_id = $1
		ORDER BY shop_id
	`, productID); err != nil {
		return nil, err
	}
	entries := make([]domain.InventoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toDomain())
	}
	return entries, nil
}

func (s *Store) SetInventory(ctx context.Context, entry domain.InventoryEntry) (*domain.InventoryEntry, error) {
	if entry.ProductID == "" || entry.ShopID == "" || entry.Quantity < 0 || entry.MinStock < 0 {
		return nil, store.ErrInvalidInput
	}

	var row inventoryRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO product_inventory (product_id, shop_id, quantity, min_stock, max_stock, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (product_id, shop_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, min_stock = EXCLUDED.min_stock,
			max_stock = EXCLUDED.max_stock, updated_at = now()
		RETURNING product_id, shop_id, quantity, min_stock, max_stock, updated_at
	`, entry.ProductID, entry.ShopID, entry.Quantity, entry.MinStock, nullInt(entry.MaxStock))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	saved := row.toDomain()
	return &saved, nil
}

func (s *Store) ListLowStock(ctx context.Context, businessID string, shopID string) ([]domain.LowStockItem, error) {
	var items []domain.LowStockItem
	rows, err := s.db.QueryxContext(ctx, `
		SELECT p.id, p.name, p.sku, i.shop_id, i.quantity, i.min_stock
		FROM product_inventory i
		JOIN products p ON p.id = i.product_id
		WHERE p.business_id = $1
			AND ($2 = '' OR i.shop_id = $2)
			AND i.quantity <= i.min_stock
		ORDER BY i.shop_id, p.name
	`, businessID, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items = make([]domain.LowStockItem, 0, 16)
	for rows.Next() {
		var item domain.LowStockItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.SKU, &item.ShopID, &item.Quantity, &item.MinStock); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) GetSalesSummary(ctx context.Context, businessID string, shopID string, from time.Time, to time.Time) (domain.SalesSummary, error) {
	summary := domain.SalesSummary{
		BusinessID: businessID,
		ShopID:     shopID,
		From:       from.Format(time.RFC3339),
		To:         to.Format(time.RFC3339),
	}

	var totals struct {
		Sales         int64 `db:"sales"`
		Completed     int64 `db:"completed"`
		PartialRefund int64 `db:"partial_refund"`
		Refunded      int64 `db:"refunded"`
		Voided        int64 `db:"voided"`
		GrossCents    int64 `db:"gross_cents"`
		TaxCents      int64 `db:"tax_cents"`
		DiscountCents int64 `db:"discount_cents"`
		RefundedCents int64 `db:"refunded_cents"`
	}
	if err := s.db.GetContext(ctx, &totals, `
		SELECT
			count(*) AS sales,
			count(*) FILTER (WHERE status = 'completed') AS completed,
			count(*) FILTER (WHERE status = 'partial_refund') AS partial_refund,
			count(*) FILTER (WHERE status = 'refunded') AS refunded,
			count(*) FILTER (WHERE status = 'voided') AS voided,
			COALESCE(sum(total_cents) FILTER (WHERE status <> 'voided'), 0) AS gross_cents,
			COALESCE(sum(tax_cents) FILTER (WHERE status <> 'voided'), 0) AS tax_cents,
			COALESCE(sum(discount_cents) FILTER (WHERE status <> 'voided'), 0) AS discount_cents,
			COALESCE(sum(total_refunded_cents) FILTER (WHERE status <> 'voided'), 0) AS refunded_cents
		FROM sales
		WHERE business_id = $1
			AND ($2 = '' OR shop_id = $2)
			AND created_at >= $3 AND created_at < $4
	`, businessID, shopID, from, to); err != nil {
		return domain.SalesSummary{}, err
	}
	summary.Sales = totals.Sales
	summary.Completed = totals.Completed
	summary.PartialRefund = totals.PartialRefund
	summary.Refunded = totals.Refunded
	summary.Voided = totals.Voided
	summary.GrossCents = totals.GrossCents
	summary.TaxCents = totals.TaxCents
	summary.DiscountCents = totals.DiscountCents
	summary.RefundedCents = totals.RefundedCents
	summary.NetCents = totals.GrossCents - totals.RefundedCents

	var byPayment []struct {
		Method     string `db:"method"`
		Sales      int64  `db:"sales"`
		TotalCents int64  `db:"total_cents"`
	}
	if err := s.db.SelectContext(ctx, &byPayment, `
		SELECT payment_method AS method, count(*) AS sales, COALESCE(sum(total_cents), 0) AS total_cents
		FROM sales
		WHERE business_id = $1
			AND ($2 = '' OR shop_id = $2)
			AND created_at >= $3 AND created_at < $4
			AND status <> 'voided'
		GROUP BY payment_method
		ORDER BY payment_method
	`, businessID, shopID, from, to); err != nil {
		return domain.SalesSummary{}, err
	}
	summary.ByPayment = make([]domain.SalesSummaryPayment, 0, len(byPayment))
	for _, p := range byPayment {
		summary.ByPayment = append(summary.ByPayment, domain.SalesSummaryPayment{Method: p.Method, Sales: p.Sales, TotalCents: p.TotalCents})
	}
	return summary, nil
}

func (s *Store) GetStaff(ctx context.Context, username string) (*domain.StaffAccount, error) {
	var row staffRow
	err := s.db.GetContext(ctx, &row, `
		SELECT username, password_hash, display_name, role, business_id, active, created_at
		FROM staff
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	staff := row.toDomain()
	return &staff, nil
}

func (s *Store) CreateStaff(ctx context.Context, staff domain.StaffAccount) error {
	username := strings.ToLower(strings.TrimSpace(staff.Username))
	if username == "" {
		return store.ErrInvalidInput
	}
	if staff.CreatedAt.IsZero() {
		staff.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff (username, password_hash, display_name, role, business_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, username, staff.Password, staff.DisplayName, staff.Role, staff.BusinessID, staff.Active, staff.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) UpdateStaffPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE staff SET password_hash = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func getProduct(ctx context.Context, q sqlx.QueryerContext, productID string) (*domain.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT id, business_id, name, sku, price_cents, active, created_at
		FROM products
		WHERE id = $1
	`, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product := row.toDomain()
	return &product, nil
}

func getSale(ctx context.Context, q sqlx.QueryerContext, saleID string, forUpdate bool) (*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row saleRow
	if err := sqlx.GetContext(ctx, q, &row, query, saleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	var itemRows []saleItemRow
	if err := sqlx.SelectContext(ctx, q, &itemRows, `
		SELECT sale_id, line_no, product_id, name, sku, quantity, unit_price_cents, total_price_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY line_no
	`, saleID); err != nil {
		return nil, err
	}
	items := make([]domain.SaleItem, 0, len(itemRows))
	for _, ir := range itemRows {
		items = append(items, ir.toDomain())
	}

	sale := row.toDomain(items)
	return &sale, nil
}

// mapTxError folds serialization failures and deadlocks into store.ErrConflict
// while keeping the driver error in the chain.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
