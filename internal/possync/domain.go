package possync

import (
	"time"

	"github.com/shopspring/decimal"
)

// Profile is a tenant whose data is mirrored from one POS account.
type Profile struct {
	ID          int64
	Name        string
	SyncEnabled bool
}

// Store is a physical or logical selling location.
type Store struct {
	ID          int64
	ProfileID   int64
	Name        string
	Address     string
	IsShop      bool
	IsTruck     bool
	IsWarehouse bool
	RemoteID    string
	IsDeleted   bool
	DeletedDate *time.Time
}

// User is an employee account. Employees mirrored from the POS carry the
// remote employee id and the id of their home store on the POS side.
type User struct {
	ID               int64
	ProfileID        int64
	Name             string
	Email            string
	Phone            string
	PasswordHash     string
	RemoteEmployeeID string
	RemoteStoreID    string
	// Role names the permission group assigned on creation. Empty for
	// minimal users created while ingesting receipts.
	Role     string
	StoreIDs []int64
}

// Tax is a named rate expressed in percent (0-100).
type Tax struct {
	ID        int64
	ProfileID int64
	Name      string
	Rate      decimal.Decimal
	RemoteID  string
}

// Category groups products. ProductCount is a derived aggregate refreshed
// whenever category membership changes.
type Category struct {
	ID           int64
	ProfileID    int64
	Name         string
	ProductCount int
	RemoteID     string
}

// Customer is a loyalty customer known to the POS.
type Customer struct {
	ID           int64
	ProfileID    int64
	Name         string
	Email        string
	Phone        string
	CustomerCode string
	RemoteID     string
}

// Product is one sellable variant. RemoteID holds the POS variant id.
type Product struct {
	ID           int64
	ProfileID    int64
	Name         string
	SKU          string
	Barcode      string
	Cost         decimal.Decimal
	Price        decimal.Decimal
	AveragePrice decimal.Decimal
	RemoteID     string
	IsComposite  bool
	IsVariant    bool
	TaxID        *int64
	CategoryID   *int64
	StoreIDs     []int64
}

// BundleComponent links a composite product to one of its components.
type BundleComponent struct {
	ID          int64
	MasterID    int64
	ComponentID int64
	Quantity    decimal.Decimal
}

// StockLevel is the stock of one product in one store.
type StockLevel struct {
	ID         int64
	StoreID    int64
	ProductID  int64
	Units      decimal.Decimal
	Price      decimal.Decimal
	IsSellable bool
}

// StockPricing is the per-store price attached alongside a store attachment.
type StockPricing struct {
	StoreID    int64
	Price      decimal.Decimal
	IsSellable bool
}

// StockLevelView joins a stock level with the remote ids of its product and store.
type StockLevelView struct {
	ProductID     int64
	StoreID       int64
	RemoteVariant string
	RemoteStore   string
	Units         decimal.Decimal
	Price         decimal.Decimal
	IsSellable    bool
}

// CustomerSnapshot is the denormalised customer copy kept on a receipt.
type CustomerSnapshot struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	CustomerCode string `json:"customer_code"`
}

// Receipt is the header of an ingested sale or refund.
type Receipt struct {
	ID                     int64
	ProfileID              int64
	StoreID                int64
	UserID                 int64
	CustomerID             *int64
	CustomerInfo           CustomerSnapshot
	SubtotalAmount         decimal.Decimal
	DiscountAmount         decimal.Decimal
	TaxAmount              decimal.Decimal
	TotalAmount            decimal.Decimal
	TotalCost              decimal.Decimal
	ItemCount              decimal.Decimal
	IsRefund               bool
	ReceiptNumber          string
	RefundForReceiptNumber string
	CreatedDate            time.Time
	ChangedStock           bool
	Lines                  []ReceiptLine
}

// ReceiptLine is one product line of a receipt. ProductName, TaxName,
// TaxRate and UserName are captured at ingestion and never rewritten.
type ReceiptLine struct {
	ID          int64
	ReceiptID   int64
	ProductID   int64
	TaxID       *int64
	StoreID     int64
	UserID      int64
	ProductName string
	TaxName     string
	TaxRate     decimal.Decimal
	UserName    string
	Units       decimal.Decimal
	Price       decimal.Decimal
	Cost        decimal.Decimal
	Discount    decimal.Decimal
	Subtotal    decimal.Decimal
	TaxAmount   decimal.Decimal
	Total       decimal.Decimal
	IsRefund    bool
	CreatedDate time.Time
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func int64Ptr(v int64) *int64 {
	return &v
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
