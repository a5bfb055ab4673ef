package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

type storeWire struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

type employeeWire struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	PhoneNumber string   `json:"phone_number"`
	Stores      []string `json:"stores"`
}

type taxWire struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Rate decimal.Decimal `json:"rate"`
}

type categoryWire struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type customerWire struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PhoneNumber  string `json:"phone_number"`
	CustomerCode string `json:"customer_code"`
}

type itemWire struct {
	ID          string   `json:"id"`
	ItemName    string   `json:"item_name"`
	IsComposite bool     `json:"is_composite"`
	Option1Name string   `json:"option1_name"`
	TaxIDs      []string `json:"tax_ids"`
	CategoryID  string   `json:"category_id"`
	Components  []struct {
		VariantID string          `json:"variant_id"`
		Quantity  decimal.Decimal `json:"quantity"`
	} `json:"components"`
	Variants []struct {
		VariantID    string           `json:"variant_id"`
		SKU          string           `json:"sku"`
		Barcode      string           `json:"barcode"`
		Cost         decimal.Decimal  `json:"cost"`
		DefaultPrice *decimal.Decimal `json:"default_price"`
		Stores       []struct {
			StoreID          string          `json:"store_id"`
			Price            decimal.Decimal `json:"price"`
			AvailableForSale bool            `json:"available_for_sale"`
		} `json:"stores"`
	} `json:"variants"`
}

type inventoryLevelWire struct {
	VariantID string          `json:"variant_id"`
	StoreID   string          `json:"store_id"`
	InStock   decimal.Decimal `json:"in_stock"`
}

type receiptWire struct {
	ReceiptNumber          string `json:"receipt_number"`
	ReceiptType            string `json:"receipt_type"`
	RefundForReceiptNumber string `json:"refund_for_receipt_number"`
	EmployeeID             string `json:"employee_id"`
	StoreID                string `json:"store_id"`
	CustomerID             string `json:"customer_id"`
	ReceiptDate            string `json:"receipt_date"`
	CreatedAt              string `json:"created_at"`
	LineItems              []struct {
		VariantID string          `json:"variant_id"`
		ItemName  string          `json:"item_name"`
		Price     decimal.Decimal `json:"price"`
		Quantity  decimal.Decimal `json:"quantity"`
		Units     decimal.Decimal `json:"units"`
		Discount  decimal.Decimal `json:"total_discount"`
		Disc      decimal.Decimal `json:"discount"`
		Cost      decimal.Decimal `json:"cost"`
		LineTaxes []struct {
			ID          string           `json:"id"`
			Name        string           `json:"name"`
			Rate        decimal.Decimal  `json:"rate"`
			MoneyAmount *decimal.Decimal `json:"money_amount"`
		} `json:"line_taxes"`
	} `json:"line_items"`
}

// RecordError reports a single record that could not be unpacked.
type RecordError struct {
	Kind  string
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("feed: %s[%d]: %v", e.Kind, e.Index, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// InvalidReceiptError reports a receipt with a readable date that failed
// validation. The date lets callers hold their checkpoint before it.
type InvalidReceiptError struct {
	ReceiptNumber string
	ReceiptDate   time.Time
	Err           error
}

func (e *InvalidReceiptError) Error() string {
	return fmt.Sprintf("receipt %s: %v", e.ReceiptNumber, e.Err)
}

func (e *InvalidReceiptError) Unwrap() error {
	return e.Err
}

// UnpackStore maps one raw store object to a StoreRecord.
func UnpackStore(raw json.RawMessage) (StoreRecord, error) {
	var w storeWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return StoreRecord{}, err
	}
	rec := StoreRecord{ID: w.ID, Name: strings.TrimSpace(w.Name), Address: w.Address}
	return rec, validate.Struct(rec)
}

// UnpackEmployee maps one raw employee object to an EmployeeRecord.
func UnpackEmployee(raw json.RawMessage) (EmployeeRecord, error) {
	var w employeeWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return EmployeeRecord{}, err
	}
	rec := EmployeeRecord{
		ID:          w.ID,
		Name:        strings.TrimSpace(w.Name),
		Email:       strings.TrimSpace(w.Email),
		PhoneNumber: w.PhoneNumber,
		StoreIDs:    w.Stores,
	}
	return rec, validate.Struct(rec)
}

// UnpackTax maps one raw tax object to a TaxRecord.
func UnpackTax(raw json.RawMessage) (TaxRecord, error) {
	var w taxWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return TaxRecord{}, err
	}
	rec := TaxRecord{ID: w.ID, Name: strings.TrimSpace(w.Name), Rate: w.Rate}
	if rec.Rate.IsNegative() || rec.Rate.GreaterThan(decimal.NewFromInt(100)) {
		return rec, fmt.Errorf("tax rate %s out of range", rec.Rate)
	}
	return rec, validate.Struct(rec)
}

// UnpackCategory maps one raw category object to a CategoryRecord.
func UnpackCategory(raw json.RawMessage) (CategoryRecord, error) {
	var w categoryWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return CategoryRecord{}, err
	}
	rec := CategoryRecord{ID: w.ID, Name: strings.TrimSpace(w.Name)}
	return rec, validate.Struct(rec)
}

// UnpackCustomer maps one raw customer object to a CustomerRecord.
func UnpackCustomer(raw json.RawMessage) (CustomerRecord, error) {
	var w customerWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return CustomerRecord{}, err
	}
	rec := CustomerRecord{
		ID:           w.ID,
		Name:         strings.TrimSpace(w.Name),
		Email:        strings.TrimSpace(w.Email),
		PhoneNumber:  w.PhoneNumber,
		CustomerCode: w.CustomerCode,
	}
	return rec, validate.Struct(rec)
}

// UnpackItem maps one raw item object to an ItemRecord.
func UnpackItem(raw json.RawMessage) (ItemRecord, error) {
	var w itemWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return ItemRecord{}, err
	}
	rec := ItemRecord{
		ID:          w.ID,
		ItemName:    strings.TrimSpace(w.ItemName),
		IsComposite: w.IsComposite,
		Option1Name: w.Option1Name,
		TaxIDs:      w.TaxIDs,
		CategoryID:  w.CategoryID,
	}
	for _, c := range w.Components {
		rec.Components = append(rec.Components, ComponentRecord{VariantID: c.VariantID, Quantity: c.Quantity})
	}
	for _, v := range w.Variants {
		variant := VariantRecord{
			VariantID:    v.VariantID,
			SKU:          v.SKU,
			Barcode:      v.Barcode,
			Cost:         v.Cost,
			DefaultPrice: v.DefaultPrice,
		}
		for _, s := range v.Stores {
			variant.Stores = append(variant.Stores, VariantStoreRecord{
				StoreID:          s.StoreID,
				Price:            s.Price,
				AvailableForSale: s.AvailableForSale,
			})
		}
		rec.Variants = append(rec.Variants, variant)
	}
	return rec, validate.Struct(rec)
}

// UnpackInventoryLevel maps one raw inventory level to an InventoryLevelRecord.
func UnpackInventoryLevel(raw json.RawMessage) (InventoryLevelRecord, error) {
	var w inventoryLevelWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return InventoryLevelRecord{}, err
	}
	rec := InventoryLevelRecord{VariantID: w.VariantID, StoreID: w.StoreID, InStock: w.InStock}
	return rec, validate.Struct(rec)
}

// UnpackReceipt maps one raw receipt object to a ReceiptRecord.
func UnpackReceipt(raw json.RawMessage) (ReceiptRecord, error) {
	var w receiptWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return ReceiptRecord{}, err
	}
	stamp := w.ReceiptDate
	if stamp == "" {
		stamp = w.CreatedAt
	}
	date, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return ReceiptRecord{}, fmt.Errorf("receipt %s: receipt_date: %w", w.ReceiptNumber, err)
	}
	rec := ReceiptRecord{
		ReceiptNumber:          strings.TrimSpace(w.ReceiptNumber),
		RefundForReceiptNumber: w.RefundForReceiptNumber,
		IsRefund:               strings.EqualFold(w.ReceiptType, "REFUND") || w.RefundForReceiptNumber != "",
		EmployeeID:             w.EmployeeID,
		StoreID:                w.StoreID,
		CustomerID:             w.CustomerID,
		ReceiptDate:            date.UTC(),
	}
	for _, li := range w.LineItems {
		units := li.Units
		if units.IsZero() {
			units = li.Quantity
		}
		discount := li.Discount
		if discount.IsZero() {
			discount = li.Disc
		}
		line := LineItemRecord{
			VariantID: li.VariantID,
			ItemName:  strings.TrimSpace(li.ItemName),
			Price:     li.Price,
			Units:     units,
			Discount:  discount,
			Cost:      li.Cost,
		}
		for _, t := range li.LineTaxes {
			line.LineTaxes = append(line.LineTaxes, LineTaxRecord{
				ID:          t.ID,
				Name:        t.Name,
				Rate:        t.Rate,
				MoneyAmount: t.MoneyAmount,
			})
		}
		rec.LineItems = append(rec.LineItems, line)
	}
	if err := validate.Struct(rec); err != nil {
		return ReceiptRecord{}, &InvalidReceiptError{ReceiptNumber: rec.ReceiptNumber, ReceiptDate: rec.ReceiptDate, Err: err}
	}
	return rec, nil
}

// UnpackAll applies fn to every raw record, collecting one RecordError per
// record that fails. Successful records keep their relative order.
func UnpackAll[T any](kind string, raws []json.RawMessage, fn func(json.RawMessage) (T, error)) ([]T, []error) {
	out := make([]T, 0, len(raws))
	var errs []error
	for i, raw := range raws {
		rec, err := fn(raw)
		if err != nil {
			errs = append(errs, &RecordError{Kind: kind, Index: i, Err: err})
			continue
		}
		out = append(out, rec)
	}
	return out, errs
}
