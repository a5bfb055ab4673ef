package possync

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/possync/internal/platform/db"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the tables used by the engine when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("possync: apply schema: %w", err)
	}
	return nil
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

// Repository persists engine state in PostgreSQL.
type Repository struct {
	db   dbtx
	pool *pgxpool.Pool
	inTx bool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool, pool: pool}
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{db: tx, pool: r.pool, inTx: true})
	})
}

func (r *Repository) atomic(ctx context.Context, fn func(*Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&Repository{db: tx, pool: r.pool, inTx: true})
	})
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

// ListProfiles returns every tenant.
func (r *Repository) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, sync_enabled FROM profiles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.SyncEnabled); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListStores returns the stores of a tenant, deleted ones included.
func (r *Repository) ListStores(ctx context.Context, profileID int64) ([]Store, error) {
	rows, err := r.db.Query(ctx, `SELECT id, profile_id, name, address, is_shop, is_truck, is_warehouse,
COALESCE(remote_id, ''), is_deleted, deleted_date
FROM stores WHERE profile_id = $1 ORDER BY id`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Store
	for rows.Next() {
		var s Store
		if err := rows.Scan(&s.ID, &s.ProfileID, &s.Name, &s.Address, &s.IsShop, &s.IsTruck, &s.IsWarehouse,
			&s.RemoteID, &s.IsDeleted, &s.DeletedDate); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateStore inserts a store.
func (r *Repository) CreateStore(ctx context.Context, store Store) (Store, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO stores (profile_id, name, address, is_shop, is_truck, is_warehouse, remote_id, is_deleted, deleted_date)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9) RETURNING id`,
		store.ProfileID, store.Name, store.Address, store.IsShop, store.IsTruck, store.IsWarehouse,
		store.RemoteID, store.IsDeleted, store.DeletedDate).Scan(&store.ID)
	if err != nil {
		return Store{}, mapWriteErr(err)
	}
	return store, nil
}

// UpdateStore updates the mutable store fields.
func (r *Repository) UpdateStore(ctx context.Context, store Store) error {
	_, err := r.db.Exec(ctx, `UPDATE stores SET name = $2, address = $3, is_deleted = $4, deleted_date = $5 WHERE id = $1`,
		store.ID, store.Name, store.Address, store.IsDeleted, store.DeletedDate)
	return mapWriteErr(err)
}

// ListEmployees returns the users of a tenant with their store access.
func (r *Repository) ListEmployees(ctx context.Context, profileID int64) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT u.id, u.profile_id, u.name, u.email, u.phone, COALESCE(u.remote_employee_id, ''),
u.remote_store_id, COALESCE(rg.name, ''),
COALESCE(array_agg(us.store_id ORDER BY us.store_id) FILTER (WHERE us.store_id IS NOT NULL), '{}')
FROM users u
LEFT JOIN employee_profiles ep ON ep.user_id = u.id
LEFT JOIN role_groups rg ON rg.id = ep.role_group_id
LEFT JOIN user_stores us ON us.user_id = u.id
WHERE u.profile_id = $1
GROUP BY u.id, rg.name
ORDER BY u.id`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.ProfileID, &u.Name, &u.Email, &u.Phone, &u.RemoteEmployeeID,
			&u.RemoteStoreID, &u.Role, &u.StoreIDs); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CreateEmployee inserts a user. A non-empty Role also creates the role
// group when missing and the employee profile linking both.
func (r *Repository) CreateEmployee(ctx context.Context, user User) (User, error) {
	err := r.atomic(ctx, func(tx *Repository) error {
		err := tx.db.QueryRow(ctx, `INSERT INTO users (profile_id, name, email, phone, password_hash, remote_employee_id, remote_store_id)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7) RETURNING id`,
			user.ProfileID, user.Name, user.Email, user.Phone, user.PasswordHash, user.RemoteEmployeeID, user.RemoteStoreID).Scan(&user.ID)
		if err != nil {
			return mapWriteErr(err)
		}
		if user.Role == "" {
			return nil
		}
		var groupID int64
		err = tx.db.QueryRow(ctx, `INSERT INTO role_groups (profile_id, name) VALUES ($1, $2)
ON CONFLICT (profile_id, name) DO UPDATE SET name = EXCLUDED.name RETURNING id`, user.ProfileID, user.Role).Scan(&groupID)
		if err != nil {
			return err
		}
		_, err = tx.db.Exec(ctx, `INSERT INTO employee_profiles (user_id, role_group_id) VALUES ($1, $2)`, user.ID, groupID)
		return err
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// AddUserStores grants store access, ignoring grants that already exist.
func (r *Repository) AddUserStores(ctx context.Context, userID int64, storeIDs []int64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO user_stores (user_id, store_id)
SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, userID, storeIDs)
	return err
}

// ListTaxes returns the taxes of a tenant.
func (r *Repository) ListTaxes(ctx context.Context, profileID int64) ([]Tax, error) {
	rows, err := r.db.Query(ctx, `SELECT id, profile_id, name, rate, COALESCE(remote_id, '') FROM taxes WHERE profile_id = $1 ORDER BY id`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tax
	for rows.Next() {
		var t Tax
		if err := rows.Scan(&t.ID, &t.ProfileID, &t.Name, &t.Rate, &t.RemoteID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTax inserts a tax.
func (r *Repository) CreateTax(ctx context.Context, tax Tax) (Tax, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO taxes (profile_id, name, rate, remote_id) VALUES ($1, $2, $3, NULLIF($4, '')) RETURNING id`,
		tax.ProfileID, tax.Name, tax.Rate, tax.RemoteID).Scan(&tax.ID)
	if err != nil {
		return Tax{}, mapWriteErr(err)
	}
	return tax, nil
}

// UpdateTax updates name and rate.
func (r *Repository) UpdateTax(ctx context.Context, tax Tax) error {
	_, err := r.db.Exec(ctx, `UPDATE taxes SET name = $2, rate = $3 WHERE id = $1`, tax.ID, tax.Name, tax.Rate)
	return mapWriteErr(err)
}

// ListCategories returns the categories of a tenant.
func (r *Repository) ListCategories(ctx context.Context, profileID int64) ([]Category, error) {
	rows, err := r.db.Query(ctx, `SELECT id, profile_id, name, product_count, COALESCE(remote_id, '') FROM categories WHERE profile_id = $1 ORDER BY id`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.ProfileID, &c.Name, &c.ProductCount, &c.RemoteID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCategory inserts a category.
func (r *Repository) CreateCategory(ctx context.Context, category Category) (Category, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO categories (profile_id, name, remote_id) VALUES ($1, $2, NULLIF($3, '')) RETURNING id`,
		category.ProfileID, category.Name, category.RemoteID).Scan(&category.ID)
	if err != nil {
		return Category{}, mapWriteErr(err)
	}
	return category, nil
}

// UpdateCategory renames a category.
func (r *Repository) UpdateCategory(ctx context.Context, category Category) error {
	_, err := r.db.Exec(ctx, `UPDATE categories SET name = $2 WHERE id = $1`, category.ID, category.Name)
	return mapWriteErr(err)
}

// RefreshCategory recounts the products of a category.
func (r *Repository) RefreshCategory(ctx context.Context, categoryID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE categories SET product_count = (SELECT COUNT(*) FROM products WHERE category_id = $1) WHERE id = $1`, categoryID)
	return err
}

// ListCustomers returns the customers of a tenant.
func (r *Repository) ListCustomers(ctx context.Context, profileID int64) ([]Customer, error) {
	rows, err := r.db.Query(ctx, `SELECT id, profile_id, name, email, phone, customer_code, COALESCE(remote_id, '')
FROM customers WHERE profile_id = $1 ORDER BY id`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.ProfileID, &c.Name, &c.Email, &c.Phone, &c.CustomerCode, &c.RemoteID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCustomer inserts a customer.
func (r *Repository) CreateCustomer(ctx context.Context, customer Customer) (Customer, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO customers (profile_id, name, email, phone, customer_code, remote_id)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')) RETURNING id`,
		customer.ProfileID, customer.Name, customer.Email, customer.Phone, customer.CustomerCode, customer.RemoteID).Scan(&customer.ID)
	if err != nil {
		return Customer{}, mapWriteErr(err)
	}
	return customer, nil
}

// UpdateCustomer updates the contact fields.
func (r *Repository) UpdateCustomer(ctx context.Context, customer Customer) error {
	_, err := r.db.Exec(ctx, `UPDATE customers SET name = $2, email = $3, phone = $4, customer_code = $5 WHERE id = $1`,
		customer.ID, customer.Name, customer.Email, customer.Phone, customer.CustomerCode)
	return mapWriteErr(err)
}

// ListProducts returns the products of a tenant with the stores they are attached to.
func (r *Repository) ListProducts(ctx context.Context, profileID int64) ([]Product, error) {
	rows, err := r.db.Query(ctx, `SELECT p.id, p.profile_id, p.name, p.sku, p.barcode, p.cost, p.price, p.average_price,
COALESCE(p.remote_id, ''), p.is_composite, p.is_variant, p.tax_id, p.category_id,
COALESCE(array_agg(sl.store_id ORDER BY sl.store_id) FILTER (WHERE sl.store_id IS NOT NULL), '{}')
FROM products p
LEFT JOIN stock_levels sl ON sl.product_id = p.id
WHERE p.profile_id = $1
GROUP BY p.id
ORDER BY p.id`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.ProfileID, &p.Name, &p.SKU, &p.Barcode, &p.Cost, &p.Price, &p.AveragePrice,
			&p.RemoteID, &p.IsComposite, &p.IsVariant, &p.TaxID, &p.CategoryID, &p.StoreIDs); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateProduct inserts a product without store attachments.
func (r *Repository) CreateProduct(ctx context.Context, product Product) (Product, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO products (profile_id, name, sku, barcode, cost, price, average_price, remote_id, is_composite, is_variant, tax_id, category_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12) RETURNING id`,
		product.ProfileID, product.Name, product.SKU, product.Barcode, product.Cost, product.Price, product.AveragePrice,
		product.RemoteID, product.IsComposite, product.IsVariant, product.TaxID, product.CategoryID).Scan(&product.ID)
	if err != nil {
		return Product{}, mapWriteErr(err)
	}
	return product, nil
}

// UpdateProduct updates name, barcode, price, sku and kind flags. Cost is never rewritten.
func (r *Repository) UpdateProduct(ctx context.Context, product Product) error {
	_, err := r.db.Exec(ctx, `UPDATE products SET name = $2, barcode = $3, price = $4, sku = $5,
is_composite = $6, is_variant = $7 WHERE id = $1`,
		product.ID, product.Name, product.Barcode, product.Price, product.SKU,
		product.IsComposite, product.IsVariant)
	return mapWriteErr(err)
}

// AttachProductStores creates the stock level of each store, refreshing
// pricing where one already exists.
func (r *Repository) AttachProductStores(ctx context.Context, productID int64, pricing []StockPricing) error {
	return r.atomic(ctx, func(tx *Repository) error {
		for _, p := range pricing {
			_, err := tx.db.Exec(ctx, `INSERT INTO stock_levels (store_id, product_id, units, price, is_sellable)
VALUES ($1, $2, 0, $3, $4)
ON CONFLICT (store_id, product_id) DO UPDATE SET price = EXCLUDED.price, is_sellable = EXCLUDED.is_sellable`,
				p.StoreID, productID, p.Price, p.IsSellable)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DetachProductStores removes the stock levels of the given stores.
func (r *Repository) DetachProductStores(ctx context.Context, productID int64, storeIDs []int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM stock_levels WHERE product_id = $1 AND store_id = ANY($2)`, productID, storeIDs)
	return err
}

// UpdateStockPricing updates price and sellability of one stock level.
func (r *Repository) UpdateStockPricing(ctx context.Context, productID int64, pricing StockPricing) error {
	_, err := r.db.Exec(ctx, `UPDATE stock_levels SET price = $3, is_sellable = $4 WHERE product_id = $1 AND store_id = $2`,
		productID, pricing.StoreID, pricing.Price, pricing.IsSellable)
	return err
}

// SetProductTax links a product to a tax, or clears the link when taxID is nil.
func (r *Repository) SetProductTax(ctx context.Context, productID int64, taxID *int64) error {
	_, err := r.db.Exec(ctx, `UPDATE products SET tax_id = $2 WHERE id = $1`, productID, taxID)
	return err
}

// SetProductCategory links a product to a category, or clears the link.
func (r *Repository) SetProductCategory(ctx context.Context, productID int64, categoryID *int64) error {
	_, err := r.db.Exec(ctx, `UPDATE products SET category_id = $2 WHERE id = $1`, productID, categoryID)
	return err
}

// ListBundleComponents returns the bundle rows of a tenant.
func (r *Repository) ListBundleComponents(ctx context.Context, profileID int64) ([]BundleComponent, error) {
	rows, err := r.db.Query(ctx, `SELECT bc.id, bc.master_id, bc.component_id, bc.quantity
FROM bundle_components bc JOIN products p ON p.id = bc.master_id
WHERE p.profile_id = $1 ORDER BY bc.id`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BundleComponent
	for rows.Next() {
		var bc BundleComponent
		if err := rows.Scan(&bc.ID, &bc.MasterID, &bc.ComponentID, &bc.Quantity); err != nil {
			return nil, err
		}
		out = append(out, bc)
	}
	return out, rows.Err()
}

// CreateBundleComponent inserts a bundle row.
func (r *Repository) CreateBundleComponent(ctx context.Context, component BundleComponent) (BundleComponent, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO bundle_components (master_id, component_id, quantity) VALUES ($1, $2, $3) RETURNING id`,
		component.MasterID, component.ComponentID, component.Quantity).Scan(&component.ID)
	if err != nil {
		return BundleComponent{}, mapWriteErr(err)
	}
	return component, nil
}

// ListStockLevels returns every stock level of a tenant with remote ids.
func (r *Repository) ListStockLevels(ctx context.Context, profileID int64) ([]StockLevelView, error) {
	rows, err := r.db.Query(ctx, `SELECT sl.product_id, sl.store_id, COALESCE(p.remote_id, ''), COALESCE(s.remote_id, ''),
sl.units, sl.price, sl.is_sellable
FROM stock_levels sl
JOIN products p ON p.id = sl.product_id
JOIN stores s ON s.id = sl.store_id
WHERE p.profile_id = $1
ORDER BY sl.id`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockLevelView
	for rows.Next() {
		var v StockLevelView
		if err := rows.Scan(&v.ProductID, &v.StoreID, &v.RemoteVariant, &v.RemoteStore, &v.Units, &v.Price, &v.IsSellable); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SetStockUnits overwrites the units of one stock level.
func (r *Repository) SetStockUnits(ctx context.Context, productID, storeID int64, units decimal.Decimal) error {
	tag, err := r.db.Exec(ctx, `UPDATE stock_levels SET units = $3 WHERE product_id = $1 AND store_id = $2`, productID, storeID, units)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProductStockLevels returns the stock levels of one product.
func (r *Repository) ListProductStockLevels(ctx context.Context, productID int64) ([]StockLevel, error) {
	rows, err := r.db.Query(ctx, `SELECT id, store_id, product_id, units, price, is_sellable FROM stock_levels WHERE product_id = $1 ORDER BY store_id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockLevel
	for rows.Next() {
		var l StockLevel
		if err := rows.Scan(&l.ID, &l.StoreID, &l.ProductID, &l.Units, &l.Price, &l.IsSellable); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetAveragePrice stores a product's average price.
func (r *Repository) SetAveragePrice(ctx context.Context, productID int64, price decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `UPDATE products SET average_price = $2 WHERE id = $1`, productID, price)
	return err
}

// FindReceipt loads a receipt header by number. The product and units of
// each line are loaded when stock has not been applied yet.
func (r *Repository) FindReceipt(ctx context.Context, profileID int64, receiptNumber string) (*Receipt, error) {
	rec := Receipt{ProfileID: profileID, ReceiptNumber: receiptNumber}
	err := r.db.QueryRow(ctx, `SELECT id, store_id, is_refund, created_date, changed_stock
FROM receipts WHERE profile_id = $1 AND receipt_number = $2`, profileID, receiptNumber).
		Scan(&rec.ID, &rec.StoreID, &rec.IsRefund, &rec.CreatedDate, &rec.ChangedStock)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.ChangedStock {
		return &rec, nil
	}
	rows, err := r.db.Query(ctx, `SELECT id, product_id, units FROM receipt_lines WHERE receipt_id = $1 ORDER BY id`, rec.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		line := ReceiptLine{ReceiptID: rec.ID, StoreID: rec.StoreID, IsRefund: rec.IsRefund}
		if err := rows.Scan(&line.ID, &line.ProductID, &line.Units); err != nil {
			return nil, err
		}
		rec.Lines = append(rec.Lines, line)
	}
	return &rec, rows.Err()
}

// InsertReceipt inserts a receipt header.
func (r *Repository) InsertReceipt(ctx context.Context, receipt Receipt) (int64, error) {
	info, err := json.Marshal(receipt.CustomerInfo)
	if err != nil {
		return 0, fmt.Errorf("possync: encode customer info: %w", err)
	}
	var id int64
	err = r.db.QueryRow(ctx, `INSERT INTO receipts (profile_id, store_id, user_id, customer_id, customer_info,
subtotal_amount, discount_amount, tax_amount, total_amount, total_cost, item_count,
is_refund, receipt_number, refund_for_receipt_number, created_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15) RETURNING id`,
		receipt.ProfileID, receipt.StoreID, receipt.UserID, receipt.CustomerID, info,
		receipt.SubtotalAmount, receipt.DiscountAmount, receipt.TaxAmount, receipt.TotalAmount, receipt.TotalCost, receipt.ItemCount,
		receipt.IsRefund, receipt.ReceiptNumber, receipt.RefundForReceiptNumber, receipt.CreatedDate).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateReceipt
		}
		return 0, err
	}
	return id, nil
}

// InsertReceiptLines inserts the lines of a receipt in one batch.
func (r *Repository) InsertReceiptLines(ctx context.Context, receiptID int64, lines []ReceiptLine) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO receipt_lines (receipt_id, product_id, tax_id, store_id, user_id, product_name, tax_name, tax_rate,
user_name, units, price, cost, discount, subtotal, tax_amount, total, is_refund, created_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			receiptID, l.ProductID, l.TaxID, l.StoreID, l.UserID, l.ProductName, l.TaxName, l.TaxRate,
			l.UserName, l.Units, l.Price, l.Cost, l.Discount, l.Subtotal, l.TaxAmount, l.Total, l.IsRefund, l.CreatedDate)
	}
	results := r.db.SendBatch(ctx, batch)
	for range lines {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

// AdjustStockUnits adds delta to a stock level, creating it at the product
// price when the product was not yet attached to the store.
func (r *Repository) AdjustStockUnits(ctx context.Context, storeID, productID int64, delta decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `INSERT INTO stock_levels (store_id, product_id, units, price, is_sellable)
SELECT $1, $2, $3, p.price, TRUE FROM products p WHERE p.id = $2
ON CONFLICT (store_id, product_id) DO UPDATE SET units = stock_levels.units + EXCLUDED.units`,
		storeID, productID, delta)
	return err
}

// MarkStockChanged flags a receipt whose stock has been applied. The row
// lock taken here serialises concurrent deliveries of the same receipt.
func (r *Repository) MarkStockChanged(ctx context.Context, receiptID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE receipts SET changed_stock = TRUE WHERE id = $1 AND NOT changed_stock`, receiptID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStockAlreadyApplied
	}
	return nil
}

var (
	_ RepositoryPort = (*Repository)(nil)
	_ TxRepository   = (*Repository)(nil)
)
