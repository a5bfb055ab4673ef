package possync

import (
	"context"

	"github.com/shopspring/decimal"
)

// ProfileRepository lists the tenants known to the backend.
type ProfileRepository interface {
	ListProfiles(ctx context.Context) ([]Profile, error)
}

// StoreLookup loads stores in bulk and creates missing ones.
type StoreLookup interface {
	ListStores(ctx context.Context, profileID int64) ([]Store, error)
	CreateStore(ctx context.Context, store Store) (Store, error)
}

// MasterDataRepository persists stores, employees, taxes, categories and customers.
type MasterDataRepository interface {
	StoreLookup
	UpdateStore(ctx context.Context, store Store) error

	ListEmployees(ctx context.Context, profileID int64) ([]User, error)
	CreateEmployee(ctx context.Context, user User) (User, error)
	AddUserStores(ctx context.Context, userID int64, storeIDs []int64) error

	ListTaxes(ctx context.Context, profileID int64) ([]Tax, error)
	CreateTax(ctx context.Context, tax Tax) (Tax, error)
	UpdateTax(ctx context.Context, tax Tax) error

	ListCategories(ctx context.Context, profileID int64) ([]Category, error)
	CreateCategory(ctx context.Context, category Category) (Category, error)
	UpdateCategory(ctx context.Context, category Category) error

	ListCustomers(ctx context.Context, profileID int64) ([]Customer, error)
	CreateCustomer(ctx context.Context, customer Customer) (Customer, error)
	UpdateCustomer(ctx context.Context, customer Customer) error
}

// CatalogRepository persists products, store attachments, bundles and the
// tax/category associations of products.
type CatalogRepository interface {
	ListStores(ctx context.Context, profileID int64) ([]Store, error)
	ListTaxes(ctx context.Context, profileID int64) ([]Tax, error)
	ListCategories(ctx context.Context, profileID int64) ([]Category, error)
	ListStockLevels(ctx context.Context, profileID int64) ([]StockLevelView, error)

	ListProducts(ctx context.Context, profileID int64) ([]Product, error)
	CreateProduct(ctx context.Context, product Product) (Product, error)
	UpdateProduct(ctx context.Context, product Product) error
	AttachProductStores(ctx context.Context, productID int64, pricing []StockPricing) error
	DetachProductStores(ctx context.Context, productID int64, storeIDs []int64) error
	UpdateStockPricing(ctx context.Context, productID int64, pricing StockPricing) error
	SetProductTax(ctx context.Context, productID int64, taxID *int64) error
	SetProductCategory(ctx context.Context, productID int64, categoryID *int64) error
	RefreshCategory(ctx context.Context, categoryID int64) error

	ListBundleComponents(ctx context.Context, profileID int64) ([]BundleComponent, error)
	CreateBundleComponent(ctx context.Context, component BundleComponent) (BundleComponent, error)
}

// AveragePricePort is the subset needed to recompute a product's average price.
type AveragePricePort interface {
	ListProductStockLevels(ctx context.Context, productID int64) ([]StockLevel, error)
	SetAveragePrice(ctx context.Context, productID int64, price decimal.Decimal) error
}

// StockRepository persists stock level quantities.
type StockRepository interface {
	AveragePricePort
	ListStockLevels(ctx context.Context, profileID int64) ([]StockLevelView, error)
	SetStockUnits(ctx context.Context, productID, storeID int64, units decimal.Decimal) error
}

// ReceiptRepository provides the lookups and writes of receipt ingestion.
type ReceiptRepository interface {
	StoreLookup
	ListEmployees(ctx context.Context, profileID int64) ([]User, error)
	CreateEmployee(ctx context.Context, user User) (User, error)
	ListCustomers(ctx context.Context, profileID int64) ([]Customer, error)
	ListTaxes(ctx context.Context, profileID int64) ([]Tax, error)
	ListProducts(ctx context.Context, profileID int64) ([]Product, error)
	CreateProduct(ctx context.Context, product Product) (Product, error)

	// FindReceipt returns nil when the tenant has no such receipt number.
	// Lines are loaded only while the receipt's stock is still pending.
	FindReceipt(ctx context.Context, profileID int64, receiptNumber string) (*Receipt, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes that must commit atomically.
type TxRepository interface {
	AveragePricePort
	// InsertReceipt returns ErrDuplicateReceipt when the receipt number is
	// already taken for the tenant.
	InsertReceipt(ctx context.Context, receipt Receipt) (int64, error)
	InsertReceiptLines(ctx context.Context, receiptID int64, lines []ReceiptLine) error
	// AdjustStockUnits adds delta to the stock level of (store, product),
	// attaching the product to the store when no stock level exists yet.
	AdjustStockUnits(ctx context.Context, storeID, productID int64, delta decimal.Decimal) error
	// MarkStockChanged returns ErrStockAlreadyApplied when the flag was
	// already set.
	MarkStockChanged(ctx context.Context, receiptID int64) error
}

// RepositoryPort is the full persistence surface used by Service.
type RepositoryPort interface {
	ProfileRepository
	MasterDataRepository
	CatalogRepository
	StockRepository
	ReceiptRepository
}
