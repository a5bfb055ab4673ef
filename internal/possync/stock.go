package possync

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/possync/internal/feed"
)

// StockReconciler aligns stock level quantities with the remote inventory.
type StockReconciler struct {
	repo StockRepository
}

// NewStockReconciler builds a StockReconciler.
func NewStockReconciler(repo StockRepository) *StockReconciler {
	return &StockReconciler{repo: repo}
}

type remoteStockKey struct {
	variant string
	store   string
}

// Reconcile writes the quantity of every (variant, store) pair known on both
// sides whose 2-decimal value differs, then recomputes the average price of
// every product it wrote to.
func (s *StockReconciler) Reconcile(ctx context.Context, rc *RunContext, levels []feed.InventoryLevelRecord) error {
	views, err := s.repo.ListStockLevels(ctx, rc.ProfileID)
	if err != nil {
		return fmt.Errorf("possync: list stock levels: %w", err)
	}
	local := make(map[remoteStockKey]StockLevelView, len(views))
	for _, v := range views {
		if v.RemoteVariant == "" || v.RemoteStore == "" {
			continue
		}
		local[remoteStockKey{v.RemoteVariant, v.RemoteStore}] = v
	}

	remote := make(map[remoteStockKey]decimal.Decimal, len(levels))
	order := make([]remoteStockKey, 0, len(levels))
	for _, lvl := range levels {
		key := remoteStockKey{lvl.VariantID, lvl.StoreID}
		if _, ok := remote[key]; !ok {
			order = append(order, key)
		}
		remote[key] = round2(lvl.InStock)
	}

	var touched []int64
	seen := make(map[int64]struct{})
	for _, key := range order {
		view, ok := local[key]
		if !ok {
			continue
		}
		target := remote[key]
		if round2(view.Units).Equal(target) {
			continue
		}
		remoteID := key.variant + "@" + key.store
		if err := s.repo.SetStockUnits(ctx, view.ProductID, view.StoreID, target); err != nil {
			rc.fail(EntityStockLevel, remoteID, "set stock units failed", err)
			continue
		}
		rc.Report.Record(EntityStockLevel, remoteID, OutcomeUpdated, nil)
		if _, ok := seen[view.ProductID]; !ok {
			seen[view.ProductID] = struct{}{}
			touched = append(touched, view.ProductID)
		}
	}

	for _, productID := range touched {
		if _, _, err := recomputeAveragePrice(ctx, s.repo, productID); err != nil {
			rc.fail(EntityProduct, fmt.Sprint(productID), "recompute average price failed", err)
		}
	}
	return nil
}

// recomputeAveragePrice sets the product's average price to the mean price
// of the stores currently holding stock. When no store holds stock the
// stored price is left as is and false is returned.
func recomputeAveragePrice(ctx context.Context, port AveragePricePort, productID int64) (decimal.Decimal, bool, error) {
	levels, err := port.ListProductStockLevels(ctx, productID)
	if err != nil {
		return decimal.Zero, false, err
	}
	avg, ok := averagePrice(levels)
	if !ok {
		return decimal.Zero, false, nil
	}
	if err := port.SetAveragePrice(ctx, productID, avg); err != nil {
		return decimal.Zero, false, err
	}
	return avg, true, nil
}

func averagePrice(levels []StockLevel) (decimal.Decimal, bool) {
	sum := decimal.Zero
	n := 0
	for _, lvl := range levels {
		if !lvl.Units.IsPositive() {
			continue
		}
		sum = sum.Add(lvl.Price)
		n++
	}
	if n == 0 {
		return decimal.Zero, false
	}
	return round2(sum.Div(decimal.NewFromInt(int64(n)))), true
}
