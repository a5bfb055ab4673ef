package possync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/possync/internal/feed"
)

// unassignedRemoteID keys the placeholder created for receipts that carry
// no employee, store or variant id.
const unassignedRemoteID = "unassigned"

// placeholderDeletedDate stamps stores created only to anchor historical receipts.
var placeholderDeletedDate = time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)

// ReceiptConfig controls stock application and auto-created users.
type ReceiptConfig struct {
	// StockCutover is the first instant whose receipts move stock.
	StockCutover         time.Time
	SyntheticEmailDomain string
}

// ReceiptPipeline ingests remote receipts exactly once per receipt number.
type ReceiptPipeline struct {
	repo ReceiptRepository
	cfg  ReceiptConfig
}

// NewReceiptPipeline builds a ReceiptPipeline.
func NewReceiptPipeline(repo ReceiptRepository, cfg ReceiptConfig) *ReceiptPipeline {
	if cfg.SyntheticEmailDomain == "" {
		cfg.SyntheticEmailDomain = "possync.local"
	}
	return &ReceiptPipeline{repo: repo, cfg: cfg}
}

type receiptIndex struct {
	stores    map[string]Store
	users     map[string]User
	customers map[string]Customer
	products  map[string]Product
	taxes     map[string]Tax
}

// Ingest processes receipts strictly in the given order. One receipt failing
// never stops the batch; only a failed index load or a cancelled context
// returns an error.
func (p *ReceiptPipeline) Ingest(ctx context.Context, rc *RunContext, receipts []feed.ReceiptRecord) error {
	idx, err := p.loadIndex(ctx, rc.ProfileID)
	if err != nil {
		return err
	}
	for _, rec := range receipts {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome, err := p.ingestOne(ctx, rc, idx, rec)
		if err != nil {
			rc.fail(EntityReceipt, rec.ReceiptNumber, "ingest receipt failed", err)
			continue
		}
		if outcome == OutcomeSkipped {
			rc.Logger.Debug("receipt already ingested", slog.String("receipt", rec.ReceiptNumber))
		}
		rc.Report.Record(EntityReceipt, rec.ReceiptNumber, outcome, nil)
	}
	return nil
}

func (p *ReceiptPipeline) loadIndex(ctx context.Context, profileID int64) (*receiptIndex, error) {
	idx := &receiptIndex{
		stores:    make(map[string]Store),
		users:     make(map[string]User),
		customers: make(map[string]Customer),
		products:  make(map[string]Product),
		taxes:     make(map[string]Tax),
	}
	stores, err := p.repo.ListStores(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("possync: list stores: %w", err)
	}
	for _, s := range stores {
		if s.RemoteID != "" {
			idx.stores[s.RemoteID] = s
		}
	}
	users, err := p.repo.ListEmployees(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("possync: list employees: %w", err)
	}
	for _, u := range users {
		if u.RemoteEmployeeID != "" {
			idx.users[u.RemoteEmployeeID] = u
		}
	}
	customers, err := p.repo.ListCustomers(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("possync: list customers: %w", err)
	}
	for _, c := range customers {
		if c.RemoteID != "" {
			idx.customers[c.RemoteID] = c
		}
	}
	products, err := p.repo.ListProducts(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("possync: list products: %w", err)
	}
	for _, pr := range products {
		if pr.RemoteID != "" {
			idx.products[pr.RemoteID] = pr
		}
	}
	taxes, err := p.repo.ListTaxes(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("possync: list taxes: %w", err)
	}
	for _, t := range taxes {
		if t.RemoteID != "" {
			idx.taxes[t.RemoteID] = t
		}
	}
	return idx, nil
}

func (p *ReceiptPipeline) ingestOne(ctx context.Context, rc *RunContext, idx *receiptIndex, rec feed.ReceiptRecord) (Outcome, error) {
	existing, err := p.repo.FindReceipt(ctx, rc.ProfileID, rec.ReceiptNumber)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("check receipt: %w", err)
	}
	if existing != nil {
		return p.resumeStock(ctx, rc, *existing)
	}

	user, err := p.resolveUser(ctx, rc, idx, rec)
	if err != nil {
		return OutcomeFailed, err
	}
	store, err := p.resolveStore(ctx, rc, idx, rec.StoreID)
	if err != nil {
		return OutcomeFailed, err
	}

	receipt := Receipt{
		ProfileID:              rc.ProfileID,
		StoreID:                store.ID,
		UserID:                 user.ID,
		IsRefund:               rec.IsRefund,
		ReceiptNumber:          rec.ReceiptNumber,
		RefundForReceiptNumber: rec.RefundForReceiptNumber,
		CreatedDate:            rec.ReceiptDate.UTC(),
	}
	if rec.CustomerID != "" {
		if customer, ok := idx.customers[rec.CustomerID]; ok {
			receipt.CustomerID = int64Ptr(customer.ID)
			receipt.CustomerInfo = CustomerSnapshot{
				Name:         customer.Name,
				Email:        customer.Email,
				Phone:        customer.Phone,
				CustomerCode: customer.CustomerCode,
			}
		} else {
			rc.Logger.Debug("receipt customer not found", slog.String("receipt", rec.ReceiptNumber), slog.String("customer", rec.CustomerID))
		}
	}

	for i, item := range rec.LineItems {
		product, err := p.resolveProduct(ctx, rc, idx, item)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("line %d: %w", i, err)
		}
		line := buildLine(receipt, user, product, lineTax(idx, item), item)
		line.CreatedDate = receipt.CreatedDate.Add(time.Duration(i) * time.Microsecond)
		receipt.Lines = append(receipt.Lines, line)
	}
	applyAggregates(&receipt)

	err = p.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertReceipt(ctx, receipt)
		if err != nil {
			return err
		}
		receipt.ID = id
		for i := range receipt.Lines {
			receipt.Lines[i].ReceiptID = id
		}
		return tx.InsertReceiptLines(ctx, id, receipt.Lines)
	})
	if errors.Is(err, ErrDuplicateReceipt) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("persist receipt: %w", err)
	}

	if receipt.CreatedDate.Before(p.cfg.StockCutover) {
		return OutcomeCreated, nil
	}
	if err := p.applyStock(ctx, receipt); err != nil {
		if errors.Is(err, ErrStockAlreadyApplied) {
			return OutcomeCreated, nil
		}
		return OutcomeFailed, fmt.Errorf("apply stock: %w", err)
	}
	return OutcomeCreated, nil
}

// resumeStock finishes a receipt persisted by an earlier delivery whose
// stock transaction did not commit. Anything else is a duplicate.
func (p *ReceiptPipeline) resumeStock(ctx context.Context, rc *RunContext, existing Receipt) (Outcome, error) {
	if existing.ChangedStock || existing.CreatedDate.Before(p.cfg.StockCutover) {
		return OutcomeSkipped, nil
	}
	err := p.applyStock(ctx, existing)
	if errors.Is(err, ErrStockAlreadyApplied) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("apply stock: %w", err)
	}
	rc.Logger.Info("receipt stock applied on redelivery", slog.String("receipt", existing.ReceiptNumber), slog.Int64("receipt_id", existing.ID))
	return OutcomeUpdated, nil
}

// applyStock moves stock for every line of a persisted receipt. Sales
// decrement, refunds increment. The receipt is flagged first so a second
// delivery racing this one fails with ErrStockAlreadyApplied.
func (p *ReceiptPipeline) applyStock(ctx context.Context, receipt Receipt) error {
	return p.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.MarkStockChanged(ctx, receipt.ID); err != nil {
			return err
		}
		var touched []int64
		seen := make(map[int64]struct{})
		for _, line := range receipt.Lines {
			delta := line.Units.Abs()
			if !receipt.IsRefund {
				delta = delta.Neg()
			}
			if err := tx.AdjustStockUnits(ctx, receipt.StoreID, line.ProductID, delta); err != nil {
				return err
			}
			if _, ok := seen[line.ProductID]; !ok {
				seen[line.ProductID] = struct{}{}
				touched = append(touched, line.ProductID)
			}
		}
		for _, productID := range touched {
			if _, _, err := recomputeAveragePrice(ctx, tx, productID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *ReceiptPipeline) resolveUser(ctx context.Context, rc *RunContext, idx *receiptIndex, rec feed.ReceiptRecord) (User, error) {
	remoteID := orUnassigned(rec.EmployeeID)
	if user, ok := idx.users[remoteID]; ok {
		return user, nil
	}
	hash, err := unusablePassword()
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := p.repo.CreateEmployee(ctx, User{
		ProfileID:        rc.ProfileID,
		Name:             "Employee " + shortID(remoteID),
		Email:            syntheticEmail(remoteID, p.cfg.SyntheticEmailDomain),
		PasswordHash:     hash,
		RemoteEmployeeID: remoteID,
		RemoteStoreID:    rec.StoreID,
	})
	if err != nil {
		return User{}, fmt.Errorf("create employee %s: %w", remoteID, err)
	}
	rc.Logger.Info("employee created from receipt", slog.String("employee", remoteID), slog.Int64("user_id", user.ID))
	rc.Report.Record(EntityEmployee, remoteID, OutcomeCreated, nil)
	idx.users[remoteID] = user
	return user, nil
}

func (p *ReceiptPipeline) resolveStore(ctx context.Context, rc *RunContext, idx *receiptIndex, storeID string) (Store, error) {
	remoteID := orUnassigned(storeID)
	if store, ok := idx.stores[remoteID]; ok {
		return store, nil
	}
	deleted := placeholderDeletedDate
	store, err := p.repo.CreateStore(ctx, Store{
		ProfileID:   rc.ProfileID,
		Name:        shortID(remoteID),
		RemoteID:    remoteID,
		IsShop:      true,
		IsDeleted:   true,
		DeletedDate: &deleted,
	})
	if err != nil {
		return Store{}, fmt.Errorf("create store %s: %w", remoteID, err)
	}
	rc.Logger.Info("placeholder store created from receipt", slog.String("store", remoteID), slog.Int64("store_id", store.ID))
	rc.Report.Record(EntityStore, remoteID, OutcomeCreated, nil)
	idx.stores[remoteID] = store
	return store, nil
}

func (p *ReceiptPipeline) resolveProduct(ctx context.Context, rc *RunContext, idx *receiptIndex, item feed.LineItemRecord) (Product, error) {
	remoteID := orUnassigned(item.VariantID)
	if product, ok := idx.products[remoteID]; ok {
		return product, nil
	}
	name := strings.TrimSpace(item.ItemName)
	if name == "" {
		name = "Product " + shortID(remoteID)
	}
	product, err := p.repo.CreateProduct(ctx, Product{
		ProfileID: rc.ProfileID,
		Name:      name,
		Cost:      round2(item.Cost),
		Price:     round2(item.Price),
		RemoteID:  remoteID,
	})
	if err != nil {
		return Product{}, fmt.Errorf("create product %s: %w", remoteID, err)
	}
	rc.Logger.Info("product created from receipt", slog.String("variant", remoteID), slog.Int64("product_id", product.ID))
	rc.Report.Record(EntityProduct, remoteID, OutcomeCreated, nil)
	idx.products[remoteID] = product
	return product, nil
}

// lineTax returns the first line tax known locally. Unknown taxes
// degrade to a "0" tax with a zero rate.
func lineTax(idx *receiptIndex, item feed.LineItemRecord) *Tax {
	for _, lt := range item.LineTaxes {
		if tax, ok := idx.taxes[lt.ID]; ok {
			return &tax
		}
	}
	return nil
}

func buildLine(receipt Receipt, user User, product Product, tax *Tax, item feed.LineItemRecord) ReceiptLine {
	line := ReceiptLine{
		ProductID:   product.ID,
		StoreID:     receipt.StoreID,
		UserID:      user.ID,
		ProductName: product.Name,
		TaxName:     "0",
		TaxRate:     decimal.Zero,
		UserName:    user.Name,
		Units:       round2(item.Units),
		Price:       round2(item.Price),
		Discount:    round2(item.Discount),
		IsRefund:    receipt.IsRefund,
	}
	if tax != nil {
		line.TaxID = int64Ptr(tax.ID)
		line.TaxName = tax.Name
		line.TaxRate = tax.Rate
	}

	unitCost := item.Cost
	if unitCost.IsZero() {
		unitCost = product.Cost
	}
	line.Cost = round2(unitCost.Mul(item.Units.Abs()))
	line.Subtotal = round2(item.Price.Mul(item.Units.Abs()))
	net := line.Subtotal.Sub(line.Discount)

	var reported *decimal.Decimal
	for _, lt := range item.LineTaxes {
		if lt.MoneyAmount == nil {
			continue
		}
		sum := lt.MoneyAmount.Abs()
		if reported != nil {
			sum = sum.Add(*reported)
		}
		reported = &sum
	}
	if reported != nil {
		line.TaxAmount = round2(*reported)
	} else {
		line.TaxAmount = round2(net.Mul(line.TaxRate).Div(decimal.NewFromInt(100)))
	}
	line.Total = net.Add(line.TaxAmount)
	return line
}

// applyAggregates sums the receipt header amounts from its lines.
func applyAggregates(receipt *Receipt) {
	var subtotal, discount, tax, total, cost, units decimal.Decimal
	for _, line := range receipt.Lines {
		subtotal = subtotal.Add(line.Subtotal)
		discount = discount.Add(line.Discount)
		tax = tax.Add(line.TaxAmount)
		total = total.Add(line.Total)
		cost = cost.Add(line.Cost)
		units = units.Add(line.Units.Abs())
	}
	receipt.SubtotalAmount = subtotal
	receipt.DiscountAmount = discount
	receipt.TaxAmount = tax
	receipt.TotalAmount = total
	receipt.TotalCost = cost
	receipt.ItemCount = units
}

func orUnassigned(remoteID string) string {
	if strings.TrimSpace(remoteID) == "" {
		return unassignedRemoteID
	}
	return remoteID
}

func shortID(remoteID string) string {
	if len(remoteID) <= 8 {
		return remoteID
	}
	return remoteID[:8]
}

// LineTotals is the signed contribution of receipt lines to sales reporting.
// Refund lines contribute negated values.
type LineTotals struct {
	Units      decimal.Decimal `json:"units"`
	GrossSales decimal.Decimal `json:"gross_sales"`
	Discount   decimal.Decimal `json:"discount"`
	NetSales   decimal.Decimal `json:"net_sales"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
	Cost       decimal.Decimal `json:"cost"`
}

// Totals returns the signed contribution of the line.
func (l ReceiptLine) Totals() LineTotals {
	t := LineTotals{
		Units:      l.Units.Abs(),
		GrossSales: l.Subtotal,
		Discount:   l.Discount,
		NetSales:   l.Subtotal.Sub(l.Discount),
		Tax:        l.TaxAmount,
		Total:      l.Total,
		Cost:       l.Cost,
	}
	if l.IsRefund {
		t = t.neg()
	}
	return t
}

func (t LineTotals) add(o LineTotals) LineTotals {
	return LineTotals{
		Units:      t.Units.Add(o.Units),
		GrossSales: t.GrossSales.Add(o.GrossSales),
		Discount:   t.Discount.Add(o.Discount),
		NetSales:   t.NetSales.Add(o.NetSales),
		Tax:        t.Tax.Add(o.Tax),
		Total:      t.Total.Add(o.Total),
		Cost:       t.Cost.Add(o.Cost),
	}
}

func (t LineTotals) neg() LineTotals {
	return LineTotals{
		Units:      t.Units.Neg(),
		GrossSales: t.GrossSales.Neg(),
		Discount:   t.Discount.Neg(),
		NetSales:   t.NetSales.Neg(),
		Tax:        t.Tax.Neg(),
		Total:      t.Total.Neg(),
		Cost:       t.Cost.Neg(),
	}
}

// Summarize aggregates the signed totals of lines.
func Summarize(lines []ReceiptLine) LineTotals {
	var out LineTotals
	for _, line := range lines {
		out = out.add(line.Totals())
	}
	return out
}
