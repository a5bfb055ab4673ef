package possync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/possync/internal/feed"
)

// CatalogReconciler upserts products from catalog items. Stages run in a
// fixed order: plain items, composite items, bundle wiring, then tax and
// category attachment once every product exists.
type CatalogReconciler struct {
	repo CatalogRepository
}

// NewCatalogReconciler builds a CatalogReconciler.
func NewCatalogReconciler(repo CatalogRepository) *CatalogReconciler {
	return &CatalogReconciler{repo: repo}
}

type catalogIndex struct {
	stores   map[string]int64
	products map[string]*Product
	pricing  map[stockKey]StockPricing
}

type stockKey struct {
	productID int64
	storeID   int64
}

// Reconcile runs all catalog stages for items.
func (c *CatalogReconciler) Reconcile(ctx context.Context, rc *RunContext, items []feed.ItemRecord) error {
	idx, err := c.loadIndex(ctx, rc.ProfileID)
	if err != nil {
		return err
	}
	var plain, composite []feed.ItemRecord
	for _, item := range items {
		if item.IsComposite {
			composite = append(composite, item)
		} else {
			plain = append(plain, item)
		}
	}

	c.upsertItems(ctx, rc, idx, plain)
	c.upsertItems(ctx, rc, idx, composite)
	if err := c.wireBundles(ctx, rc, idx, composite); err != nil {
		return err
	}
	return c.attachTaxAndCategory(ctx, rc, idx, items)
}

func (c *CatalogReconciler) loadIndex(ctx context.Context, profileID int64) (*catalogIndex, error) {
	stores, err := c.repo.ListStores(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("possync: list stores: %w", err)
	}
	products, err := c.repo.ListProducts(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("possync: list products: %w", err)
	}
	levels, err := c.repo.ListStockLevels(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("possync: list stock levels: %w", err)
	}
	idx := &catalogIndex{
		stores:   storeIndex(stores),
		products: make(map[string]*Product, len(products)),
		pricing:  make(map[stockKey]StockPricing, len(levels)),
	}
	for i := range products {
		if products[i].RemoteID != "" {
			idx.products[products[i].RemoteID] = &products[i]
		}
	}
	for _, lvl := range levels {
		idx.pricing[stockKey{lvl.ProductID, lvl.StoreID}] = StockPricing{StoreID: lvl.StoreID, Price: lvl.Price, IsSellable: lvl.IsSellable}
	}
	return idx, nil
}

func (c *CatalogReconciler) upsertItems(ctx context.Context, rc *RunContext, idx *catalogIndex, items []feed.ItemRecord) {
	for _, item := range items {
		isVariant := item.Option1Name != "" || len(item.Variants) > 1
		for _, variant := range item.Variants {
			outcome, err := c.upsertVariant(ctx, rc, idx, item, variant, isVariant)
			if err != nil {
				rc.fail(EntityProduct, variant.VariantID, "upsert product failed", err)
				continue
			}
			rc.Report.Record(EntityProduct, variant.VariantID, outcome, nil)
		}
	}
}

func (c *CatalogReconciler) upsertVariant(ctx context.Context, rc *RunContext, idx *catalogIndex, item feed.ItemRecord, variant feed.VariantRecord, isVariant bool) (Outcome, error) {
	pricing := desiredPricing(rc, idx, variant)
	price := variantPrice(variant)

	current, ok := idx.products[variant.VariantID]
	if !ok {
		created, err := c.repo.CreateProduct(ctx, Product{
			ProfileID:   rc.ProfileID,
			Name:        item.ItemName,
			SKU:         variant.SKU,
			Barcode:     variant.Barcode,
			Cost:        round2(variant.Cost),
			Price:       price,
			RemoteID:    variant.VariantID,
			IsComposite: item.IsComposite,
			IsVariant:   isVariant,
		})
		if err != nil {
			return OutcomeFailed, err
		}
		if len(pricing) > 0 {
			if err := c.repo.AttachProductStores(ctx, created.ID, pricing); err != nil {
				return OutcomeFailed, fmt.Errorf("attach stores: %w", err)
			}
			for _, p := range pricing {
				created.StoreIDs = append(created.StoreIDs, p.StoreID)
				idx.pricing[stockKey{created.ID, p.StoreID}] = p
			}
		}
		idx.products[variant.VariantID] = &created
		return OutcomeCreated, nil
	}

	sku := current.SKU
	if sku == "" {
		sku = variant.SKU
	}
	changed := false
	if current.Name != item.ItemName || current.Barcode != variant.Barcode || !current.Price.Equal(price) ||
		current.SKU != sku || current.IsComposite != item.IsComposite || current.IsVariant != isVariant {
		current.Name = item.ItemName
		current.Barcode = variant.Barcode
		current.Price = price
		current.SKU = sku
		current.IsComposite = item.IsComposite
		current.IsVariant = isVariant
		if err := c.repo.UpdateProduct(ctx, *current); err != nil {
			return OutcomeFailed, err
		}
		changed = true
	}
	attached, err := c.syncAttachments(ctx, idx, current, pricing)
	if err != nil {
		return OutcomeFailed, err
	}
	if changed || attached {
		return OutcomeUpdated, nil
	}
	return OutcomeUnchanged, nil
}

// syncAttachments applies an exact add/remove diff between the product's
// stores and the remote per-store list, refreshing price and sellability of
// stores kept on both sides.
func (c *CatalogReconciler) syncAttachments(ctx context.Context, idx *catalogIndex, product *Product, pricing []StockPricing) (bool, error) {
	want := make(map[int64]StockPricing, len(pricing))
	for _, p := range pricing {
		want[p.StoreID] = p
	}
	have := make(map[int64]struct{}, len(product.StoreIDs))
	for _, id := range product.StoreIDs {
		have[id] = struct{}{}
	}

	var add []StockPricing
	var remove []int64
	changed := false
	for _, p := range pricing {
		if _, ok := have[p.StoreID]; !ok {
			add = append(add, p)
			continue
		}
		cur, ok := idx.pricing[stockKey{product.ID, p.StoreID}]
		if ok && cur.IsSellable == p.IsSellable && cur.Price.Equal(p.Price) {
			continue
		}
		if err := c.repo.UpdateStockPricing(ctx, product.ID, p); err != nil {
			return false, fmt.Errorf("update stock pricing: %w", err)
		}
		idx.pricing[stockKey{product.ID, p.StoreID}] = p
		changed = true
	}
	for _, id := range product.StoreIDs {
		if _, ok := want[id]; !ok {
			remove = append(remove, id)
		}
	}

	if len(add) > 0 {
		if err := c.repo.AttachProductStores(ctx, product.ID, add); err != nil {
			return false, fmt.Errorf("attach stores: %w", err)
		}
		for _, p := range add {
			idx.pricing[stockKey{product.ID, p.StoreID}] = p
		}
		changed = true
	}
	if len(remove) > 0 {
		if err := c.repo.DetachProductStores(ctx, product.ID, remove); err != nil {
			return false, fmt.Errorf("detach stores: %w", err)
		}
		for _, id := range remove {
			delete(idx.pricing, stockKey{product.ID, id})
		}
		changed = true
	}
	if changed {
		storeIDs := make([]int64, 0, len(pricing))
		for _, p := range pricing {
			storeIDs = append(storeIDs, p.StoreID)
		}
		product.StoreIDs = storeIDs
	}
	return changed, nil
}

// wireBundles creates the missing (master, component) rows of every
// composite variant. A bundle whose components do not all resolve is
// skipped as a whole.
func (c *CatalogReconciler) wireBundles(ctx context.Context, rc *RunContext, idx *catalogIndex, composite []feed.ItemRecord) error {
	if len(composite) == 0 {
		return nil
	}
	existing, err := c.repo.ListBundleComponents(ctx, rc.ProfileID)
	if err != nil {
		return fmt.Errorf("possync: list bundle components: %w", err)
	}
	wired := make(map[stockKey]struct{}, len(existing))
	for _, bc := range existing {
		wired[stockKey{bc.MasterID, bc.ComponentID}] = struct{}{}
	}

	for _, item := range composite {
		for _, variant := range item.Variants {
			master, ok := idx.products[variant.VariantID]
			if !ok {
				continue
			}
			var pending []BundleComponent
			var resolveErr error
			for _, comp := range item.Components {
				component, ok := idx.products[comp.VariantID]
				if !ok {
					resolveErr = &ComponentResolutionError{
						MasterVariantID:    variant.VariantID,
						ComponentVariantID: comp.VariantID,
						Err:                &UnresolvedReferenceError{Kind: EntityProduct, RemoteID: comp.VariantID},
					}
					break
				}
				key := stockKey{master.ID, component.ID}
				if _, ok := wired[key]; ok {
					continue
				}
				pending = append(pending, BundleComponent{MasterID: master.ID, ComponentID: component.ID, Quantity: comp.Quantity})
			}
			if resolveErr != nil {
				rc.fail(EntityBundle, variant.VariantID, "bundle component unresolved", resolveErr)
				continue
			}
			if len(pending) == 0 {
				rc.Report.Record(EntityBundle, variant.VariantID, OutcomeUnchanged, nil)
				continue
			}
			var createErr error
			for _, bc := range pending {
				if _, err := c.repo.CreateBundleComponent(ctx, bc); err != nil {
					createErr = err
					break
				}
				wired[stockKey{bc.MasterID, bc.ComponentID}] = struct{}{}
			}
			if createErr != nil {
				rc.fail(EntityBundle, variant.VariantID, "create bundle component failed", createErr)
				continue
			}
			rc.Report.Record(EntityBundle, variant.VariantID, OutcomeCreated, nil)
		}
	}
	return nil
}

// attachTaxAndCategory links products to their tax and category. An item
// without tax ids or category clears the link; a remote id that does not
// resolve leaves the current link untouched.
func (c *CatalogReconciler) attachTaxAndCategory(ctx context.Context, rc *RunContext, idx *catalogIndex, items []feed.ItemRecord) error {
	taxes, err := c.repo.ListTaxes(ctx, rc.ProfileID)
	if err != nil {
		return fmt.Errorf("possync: list taxes: %w", err)
	}
	categories, err := c.repo.ListCategories(ctx, rc.ProfileID)
	if err != nil {
		return fmt.Errorf("possync: list categories: %w", err)
	}
	taxIDs := make(map[string]int64, len(taxes))
	for _, t := range taxes {
		if t.RemoteID != "" {
			taxIDs[t.RemoteID] = t.ID
		}
	}
	categoryIDs := make(map[string]int64, len(categories))
	for _, cat := range categories {
		if cat.RemoteID != "" {
			categoryIDs[cat.RemoteID] = cat.ID
		}
	}

	refresh := make(map[int64]struct{})
	for _, item := range items {
		wantTax, taxKnown := resolveTax(item.TaxIDs, taxIDs)
		if !taxKnown {
			rc.Logger.Warn("item tax not found", slog.String("item", item.ID), slog.Any("tax_ids", item.TaxIDs))
		}
		wantCategory, categoryKnown := resolveOptional(item.CategoryID, categoryIDs)
		if !categoryKnown {
			rc.Logger.Warn("item category not found", slog.String("item", item.ID), slog.String("category", item.CategoryID))
		}

		for _, variant := range item.Variants {
			product, ok := idx.products[variant.VariantID]
			if !ok {
				continue
			}
			changed := false
			if taxKnown && !sameID(product.TaxID, wantTax) {
				if err := c.repo.SetProductTax(ctx, product.ID, wantTax); err != nil {
					rc.fail(EntityAttachment, variant.VariantID, "attach tax failed", err)
					continue
				}
				product.TaxID = wantTax
				changed = true
			}
			if categoryKnown && !sameID(product.CategoryID, wantCategory) {
				if err := c.repo.SetProductCategory(ctx, product.ID, wantCategory); err != nil {
					rc.fail(EntityAttachment, variant.VariantID, "attach category failed", err)
					continue
				}
				if product.CategoryID != nil {
					refresh[*product.CategoryID] = struct{}{}
				}
				if wantCategory != nil {
					refresh[*wantCategory] = struct{}{}
				}
				product.CategoryID = wantCategory
				changed = true
			}
			if changed {
				rc.Report.Record(EntityAttachment, variant.VariantID, OutcomeUpdated, nil)
			}
		}
	}

	ids := make([]int64, 0, len(refresh))
	for id := range refresh {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := c.repo.RefreshCategory(ctx, id); err != nil {
			rc.fail(EntityCategory, fmt.Sprint(id), "refresh category failed", err)
		}
	}
	return nil
}

func desiredPricing(rc *RunContext, idx *catalogIndex, variant feed.VariantRecord) []StockPricing {
	out := make([]StockPricing, 0, len(variant.Stores))
	seen := make(map[int64]struct{}, len(variant.Stores))
	for _, s := range variant.Stores {
		id, ok := idx.stores[s.StoreID]
		if !ok {
			rc.Logger.Debug("variant store not found", slog.String("variant", variant.VariantID), slog.String("store", s.StoreID))
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, StockPricing{StoreID: id, Price: round2(s.Price), IsSellable: s.AvailableForSale})
	}
	return out
}

// variantPrice is the default price, falling back to the first store price.
func variantPrice(variant feed.VariantRecord) decimal.Decimal {
	if variant.DefaultPrice != nil {
		return round2(*variant.DefaultPrice)
	}
	if len(variant.Stores) > 0 {
		return round2(variant.Stores[0].Price)
	}
	return decimal.Zero
}

// resolveTax picks the first remote tax id that resolves locally.
func resolveTax(remoteIDs []string, local map[string]int64) (*int64, bool) {
	if len(remoteIDs) == 0 {
		return nil, true
	}
	for _, remote := range remoteIDs {
		if id, ok := local[remote]; ok {
			return int64Ptr(id), true
		}
	}
	return nil, false
}

func resolveOptional(remoteID string, local map[string]int64) (*int64, bool) {
	if remoteID == "" {
		return nil, true
	}
	id, ok := local[remoteID]
	if !ok {
		return nil, false
	}
	return int64Ptr(id), true
}
