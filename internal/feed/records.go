// Package feed fetches and decodes the collections published by the external
// point-of-sale API.
package feed

import (
	"time"

	"github.com/shopspring/decimal"
)

// StoreRecord is a store as published by the POS.
type StoreRecord struct {
	ID      string `validate:"required"`
	Name    string
	Address string
}

// EmployeeRecord is an employee as published by the POS.
type EmployeeRecord struct {
	ID          string `validate:"required"`
	Name        string
	Email       string
	PhoneNumber string
	StoreIDs    []string
}

// TaxRecord is a tax as published by the POS.
type TaxRecord struct {
	ID   string `validate:"required"`
	Name string
	Rate decimal.Decimal
}

// CategoryRecord is a category as published by the POS.
type CategoryRecord struct {
	ID   string `validate:"required"`
	Name string
}

// CustomerRecord is a customer as published by the POS.
type CustomerRecord struct {
	ID           string `validate:"required"`
	Name         string
	Email        string
	PhoneNumber  string
	CustomerCode string
}

// ItemRecord is a catalog item. Each variant becomes one local product.
type ItemRecord struct {
	ID          string `validate:"required"`
	ItemName    string
	IsComposite bool
	Option1Name string
	TaxIDs      []string
	CategoryID  string
	Components  []ComponentRecord
	Variants    []VariantRecord `validate:"dive"`
}

// ComponentRecord is one entry of a composite item's recipe.
type ComponentRecord struct {
	VariantID string
	Quantity  decimal.Decimal
}

// VariantRecord is one variant of an item.
type VariantRecord struct {
	VariantID    string `validate:"required"`
	SKU          string
	Barcode      string
	Cost         decimal.Decimal
	DefaultPrice *decimal.Decimal
	Stores       []VariantStoreRecord
}

// VariantStoreRecord is the per-store pricing of a variant.
type VariantStoreRecord struct {
	StoreID          string
	Price            decimal.Decimal
	AvailableForSale bool
}

// InventoryLevelRecord is the stock of one variant in one store.
type InventoryLevelRecord struct {
	VariantID string `validate:"required"`
	StoreID   string `validate:"required"`
	InStock   decimal.Decimal
}

// ReceiptRecord is a sale or refund receipt.
type ReceiptRecord struct {
	ReceiptNumber          string `validate:"required"`
	RefundForReceiptNumber string
	IsRefund               bool
	EmployeeID             string
	StoreID                string
	CustomerID             string
	ReceiptDate            time.Time
	LineItems              []LineItemRecord
}

// LineItemRecord is one line of a receipt.
type LineItemRecord struct {
	VariantID string
	ItemName  string
	Price     decimal.Decimal
	Units     decimal.Decimal
	Discount  decimal.Decimal
	Cost      decimal.Decimal
	LineTaxes []LineTaxRecord
}

// LineTaxRecord is a tax applied to a receipt line.
type LineTaxRecord struct {
	ID          string
	Name        string
	Rate        decimal.Decimal
	MoneyAmount *decimal.Decimal
}

// Snapshot aggregates every master-data collection fetched for one sync cycle.
// Errors lists the kinds that degraded to an empty collection.
type Snapshot struct {
	Stores          []StoreRecord
	Employees       []EmployeeRecord
	Taxes           []TaxRecord
	Categories      []CategoryRecord
	Customers       []CustomerRecord
	Items           []ItemRecord
	InventoryLevels []InventoryLevelRecord
	Errors          []error
}
