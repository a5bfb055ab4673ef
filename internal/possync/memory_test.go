package possync

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const testProfile int64 = 1

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRun() *RunContext {
	return NewRunContext(testProfile, discardLogger(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type memoryRepo struct {
	nextID     int64
	profiles   []Profile
	stores     []Store
	users      []User
	taxes      []Tax
	categories []Category
	customers  []Customer
	products   []Product
	bundles    []BundleComponent
	levels     []StockLevel
	receipts   []Receipt

	writes    int
	refreshed []int64

	failAdjust error
}

type memoryTx struct {
	repo *memoryRepo
}

var (
	_ RepositoryPort = (*memoryRepo)(nil)
	_ TxRepository   = (*memoryTx)(nil)
)

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	levels := append([]StockLevel(nil), r.levels...)
	receipts := append([]Receipt(nil), r.receipts...)
	products := append([]Product(nil), r.products...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.levels, r.receipts, r.products = levels, receipts, products
		return err
	}
	return nil
}

func (r *memoryRepo) ListProfiles(ctx context.Context) ([]Profile, error) {
	return append([]Profile(nil), r.profiles...), nil
}

func (r *memoryRepo) ListStores(ctx context.Context, profileID int64) ([]Store, error) {
	var out []Store
	for _, s := range r.stores {
		if s.ProfileID == profileID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateStore(ctx context.Context, store Store) (Store, error) {
	for _, s := range r.stores {
		if s.ProfileID == store.ProfileID && store.RemoteID != "" && s.RemoteID == store.RemoteID {
			return Store{}, ErrDuplicate
		}
	}
	store.ID = r.id()
	r.stores = append(r.stores, store)
	r.writes++
	return store, nil
}

func (r *memoryRepo) UpdateStore(ctx context.Context, store Store) error {
	for i := range r.stores {
		if r.stores[i].ID == store.ID {
			r.stores[i] = store
			r.writes++
			return nil
		}
	}
	return ErrNotFound
}

func (r *memoryRepo) ListEmployees(ctx context.Context, profileID int64) ([]User, error) {
	var out []User
	for _, u := range r.users {
		if u.ProfileID == profileID {
			u.StoreIDs = append([]int64(nil), u.StoreIDs...)
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateEmployee(ctx context.Context, user User) (User, error) {
	for _, u := range r.users {
		if u.ProfileID == user.ProfileID && u.RemoteEmployeeID == user.RemoteEmployeeID {
			return User{}, ErrDuplicate
		}
	}
	user.ID = r.id()
	user.StoreIDs = nil
	r.users = append(r.users, user)
	r.writes++
	return user, nil
}

func (r *memoryRepo) AddUserStores(ctx context.Context, userID int64, storeIDs []int64) error {
	for i := range r.users {
		if r.users[i].ID == userID {
			r.users[i].StoreIDs = append(r.users[i].StoreIDs, storeIDs...)
			r.writes++
			return nil
		}
	}
	return ErrNotFound
}

func (r *memoryRepo) ListTaxes(ctx context.Context, profileID int64) ([]Tax, error) {
	var out []Tax
	for _, t := range r.taxes {
		if t.ProfileID == profileID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateTax(ctx context.Context, tax Tax) (Tax, error) {
	tax.ID = r.id()
	r.taxes = append(r.taxes, tax)
	r.writes++
	return tax, nil
}

func (r *memoryRepo) UpdateTax(ctx context.Context, tax Tax) error {
	for i := range r.taxes {
		if r.taxes[i].ID == tax.ID {
			r.taxes[i] = tax
			r.writes++
			return nil
		}
	}
	return ErrNotFound
}

func (r *memoryRepo) ListCategories(ctx context.Context, profileID int64) ([]Category, error) {
	var out []Category
	for _, c := range r.categories {
		if c.ProfileID == profileID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateCategory(ctx context.Context, category Category) (Category, error) {
	category.ID = r.id()
	r.categories = append(r.categories, category)
	r.writes++
	return category, nil
}

func (r *memoryRepo) UpdateCategory(ctx context.Context, category Category) error {
	for i := range r.categories {
		if r.categories[i].ID == category.ID {
			r.categories[i].Name = category.Name
			r.writes++
			return nil
		}
	}
	return ErrNotFound
}

func (r *memoryRepo) RefreshCategory(ctx context.Context, categoryID int64) error {
	count := 0
	for _, p := range r.products {
		if p.CategoryID != nil && *p.CategoryID == categoryID {
			count++
		}
	}
	for i := range r.categories {
		if r.categories[i].ID == categoryID {
			r.categories[i].ProductCount = count
		}
	}
	r.refreshed = append(r.refreshed, categoryID)
	return nil
}

func (r *memoryRepo) ListCustomers(ctx context.Context, profileID int64) ([]Customer, error) {
	var out []Customer
	for _, c := range r.customers {
		if c.ProfileID == profileID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateCustomer(ctx context.Context, customer Customer) (Customer, error) {
	customer.ID = r.id()
	r.customers = append(r.customers, customer)
	r.writes++
	return customer, nil
}

func (r *memoryRepo) UpdateCustomer(ctx context.Context, customer Customer) error {
	for i := range r.customers {
		if r.customers[i].ID == customer.ID {
			r.customers[i] = customer
			r.writes++
			return nil
		}
	}
	return ErrNotFound
}

func (r *memoryRepo) storeIDsOf(productID int64) []int64 {
	var out []int64
	for _, l := range r.levels {
		if l.ProductID == productID {
			out = append(out, l.StoreID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *memoryRepo) ListProducts(ctx context.Context, profileID int64) ([]Product, error) {
	var out []Product
	for _, p := range r.products {
		if p.ProfileID == profileID {
			p.StoreIDs = r.storeIDsOf(p.ID)
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateProduct(ctx context.Context, product Product) (Product, error) {
	for _, p := range r.products {
		if p.ProfileID == product.ProfileID && product.RemoteID != "" && p.RemoteID == product.RemoteID {
			return Product{}, ErrDuplicate
		}
	}
	product.ID = r.id()
	product.StoreIDs = nil
	r.products = append(r.products, product)
	r.writes++
	return product, nil
}

func (r *memoryRepo) product(id int64) *Product {
	for i := range r.products {
		if r.products[i].ID == id {
			return &r.products[i]
		}
	}
	return nil
}

func (r *memoryRepo) productByRemote(remoteID string) *Product {
	for i := range r.products {
		if r.products[i].RemoteID == remoteID {
			return &r.products[i]
		}
	}
	return nil
}

func (r *memoryRepo) UpdateProduct(ctx context.Context, product Product) error {
	p := r.product(product.ID)
	if p == nil {
		return ErrNotFound
	}
	p.Name, p.Barcode, p.Price = product.Name, product.Barcode, product.Price
	p.SKU, p.IsComposite, p.IsVariant = product.SKU, product.IsComposite, product.IsVariant
	r.writes++
	return nil
}

func (r *memoryRepo) level(storeID, productID int64) *StockLevel {
	for i := range r.levels {
		if r.levels[i].StoreID == storeID && r.levels[i].ProductID == productID {
			return &r.levels[i]
		}
	}
	return nil
}

func (r *memoryRepo) AttachProductStores(ctx context.Context, productID int64, pricing []StockPricing) error {
	for _, p := range pricing {
		if lvl := r.level(p.StoreID, productID); lvl != nil {
			lvl.Price, lvl.IsSellable = p.Price, p.IsSellable
			continue
		}
		r.levels = append(r.levels, StockLevel{ID: r.id(), StoreID: p.StoreID, ProductID: productID, Price: p.Price, IsSellable: p.IsSellable})
	}
	r.writes++
	return nil
}

func (r *memoryRepo) DetachProductStores(ctx context.Context, productID int64, storeIDs []int64) error {
	drop := make(map[int64]struct{}, len(storeIDs))
	for _, id := range storeIDs {
		drop[id] = struct{}{}
	}
	kept := r.levels[:0]
	for _, l := range r.levels {
		if _, ok := drop[l.StoreID]; ok && l.ProductID == productID {
			continue
		}
		kept = append(kept, l)
	}
	r.levels = kept
	r.writes++
	return nil
}

func (r *memoryRepo) UpdateStockPricing(ctx context.Context, productID int64, pricing StockPricing) error {
	lvl := r.level(pricing.StoreID, productID)
	if lvl == nil {
		return ErrNotFound
	}
	lvl.Price, lvl.IsSellable = pricing.Price, pricing.IsSellable
	r.writes++
	return nil
}

func (r *memoryRepo) SetProductTax(ctx context.Context, productID int64, taxID *int64) error {
	p := r.product(productID)
	if p == nil {
		return ErrNotFound
	}
	p.TaxID = taxID
	r.writes++
	return nil
}

func (r *memoryRepo) SetProductCategory(ctx context.Context, productID int64, categoryID *int64) error {
	p := r.product(productID)
	if p == nil {
		return ErrNotFound
	}
	p.CategoryID = categoryID
	r.writes++
	return nil
}

func (r *memoryRepo) ListBundleComponents(ctx context.Context, profileID int64) ([]BundleComponent, error) {
	var out []BundleComponent
	for _, bc := range r.bundles {
		if p := r.product(bc.MasterID); p != nil && p.ProfileID == profileID {
			out = append(out, bc)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateBundleComponent(ctx context.Context, component BundleComponent) (BundleComponent, error) {
	component.ID = r.id()
	r.bundles = append(r.bundles, component)
	r.writes++
	return component, nil
}

func (r *memoryRepo) ListStockLevels(ctx context.Context, profileID int64) ([]StockLevelView, error) {
	var out []StockLevelView
	for _, l := range r.levels {
		p := r.product(l.ProductID)
		if p == nil || p.ProfileID != profileID {
			continue
		}
		view := StockLevelView{ProductID: l.ProductID, StoreID: l.StoreID, RemoteVariant: p.RemoteID, Units: l.Units, Price: l.Price, IsSellable: l.IsSellable}
		for _, s := range r.stores {
			if s.ID == l.StoreID {
				view.RemoteStore = s.RemoteID
			}
		}
		out = append(out, view)
	}
	return out, nil
}

func (r *memoryRepo) ListProductStockLevels(ctx context.Context, productID int64) ([]StockLevel, error) {
	var out []StockLevel
	for _, l := range r.levels {
		if l.ProductID == productID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memoryRepo) SetAveragePrice(ctx context.Context, productID int64, price decimal.Decimal) error {
	p := r.product(productID)
	if p == nil {
		return ErrNotFound
	}
	p.AveragePrice = price
	r.writes++
	return nil
}

func (r *memoryRepo) SetStockUnits(ctx context.Context, productID, storeID int64, units decimal.Decimal) error {
	lvl := r.level(storeID, productID)
	if lvl == nil {
		return ErrNotFound
	}
	lvl.Units = units
	r.writes++
	return nil
}

func (r *memoryRepo) FindReceipt(ctx context.Context, profileID int64, receiptNumber string) (*Receipt, error) {
	for _, rec := range r.receipts {
		if rec.ProfileID == profileID && rec.ReceiptNumber == receiptNumber {
			rec.Lines = append([]ReceiptLine(nil), rec.Lines...)
			return &rec, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) receipt(number string) *Receipt {
	for i := range r.receipts {
		if r.receipts[i].ReceiptNumber == number {
			return &r.receipts[i]
		}
	}
	return nil
}

func (tx *memoryTx) ListProductStockLevels(ctx context.Context, productID int64) ([]StockLevel, error) {
	return tx.repo.ListProductStockLevels(ctx, productID)
}

func (tx *memoryTx) SetAveragePrice(ctx context.Context, productID int64, price decimal.Decimal) error {
	return tx.repo.SetAveragePrice(ctx, productID, price)
}

func (tx *memoryTx) InsertReceipt(ctx context.Context, receipt Receipt) (int64, error) {
	existing, _ := tx.repo.FindReceipt(ctx, receipt.ProfileID, receipt.ReceiptNumber)
	if existing != nil {
		return 0, ErrDuplicateReceipt
	}
	receipt.ID = tx.repo.id()
	receipt.Lines = nil
	tx.repo.receipts = append(tx.repo.receipts, receipt)
	return receipt.ID, nil
}

func (tx *memoryTx) InsertReceiptLines(ctx context.Context, receiptID int64, lines []ReceiptLine) error {
	for i := range tx.repo.receipts {
		if tx.repo.receipts[i].ID != receiptID {
			continue
		}
		for _, line := range lines {
			line.ID = tx.repo.id()
			line.ReceiptID = receiptID
			tx.repo.receipts[i].Lines = append(tx.repo.receipts[i].Lines, line)
		}
		return nil
	}
	return ErrNotFound
}

func (tx *memoryTx) AdjustStockUnits(ctx context.Context, storeID, productID int64, delta decimal.Decimal) error {
	if tx.repo.failAdjust != nil {
		return tx.repo.failAdjust
	}
	if lvl := tx.repo.level(storeID, productID); lvl != nil {
		lvl.Units = lvl.Units.Add(delta)
		return nil
	}
	price := decimal.Zero
	if p := tx.repo.product(productID); p != nil {
		price = p.Price
	}
	tx.repo.levels = append(tx.repo.levels, StockLevel{ID: tx.repo.id(), StoreID: storeID, ProductID: productID, Units: delta, Price: price, IsSellable: true})
	return nil
}

func (tx *memoryTx) MarkStockChanged(ctx context.Context, receiptID int64) error {
	for i := range tx.repo.receipts {
		if tx.repo.receipts[i].ID == receiptID {
			if tx.repo.receipts[i].ChangedStock {
				return ErrStockAlreadyApplied
			}
			tx.repo.receipts[i].ChangedStock = true
			return nil
		}
	}
	return ErrNotFound
}
