package possync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/possync/internal/feed"
)

func catalogRepo() *memoryRepo {
	repo := newMemoryRepo()
	repo.stores = []Store{
		{ID: 1, ProfileID: testProfile, Name: "Computer Store", RemoteID: "S1"},
		{ID: 2, ProfileID: testProfile, Name: "Mall Kiosk", RemoteID: "S2"},
		{ID: 3, ProfileID: testProfile, Name: "Warehouse", RemoteID: "S3"},
	}
	repo.taxes = []Tax{{ID: 10, ProfileID: testProfile, Name: "VAT", Rate: dec("16"), RemoteID: "T1"}}
	repo.categories = []Category{
		{ID: 20, ProfileID: testProfile, Name: "Drinks", RemoteID: "C1"},
		{ID: 21, ProfileID: testProfile, Name: "Snacks", RemoteID: "C2"},
	}
	repo.nextID = 100
	return repo
}

func plainItem(itemID, variantID, name string, stores ...feed.VariantStoreRecord) feed.ItemRecord {
	return feed.ItemRecord{
		ID:       itemID,
		ItemName: name,
		Variants: []feed.VariantRecord{{VariantID: variantID, SKU: "SKU-" + variantID, Cost: dec("4.555"), Stores: stores}},
	}
}

func storePrice(storeID, price string) feed.VariantStoreRecord {
	return feed.VariantStoreRecord{StoreID: storeID, Price: dec(price), AvailableForSale: true}
}

func TestCatalogCreatesProductWithStoreAttachments(t *testing.T) {
	repo := catalogRepo()
	c := NewCatalogReconciler(repo)
	rc := newTestRun()

	item := plainItem("I1", "V1", "Soda", storePrice("S1", "10"), storePrice("S2", "12.5"), storePrice("S-gone", "9"))
	require.NoError(t, c.Reconcile(context.Background(), rc, []feed.ItemRecord{item}))

	p := repo.productByRemote("V1")
	require.NotNil(t, p)
	require.Equal(t, "Soda", p.Name)
	require.Equal(t, "SKU-V1", p.SKU)
	require.True(t, p.Cost.Equal(dec("4.56")))
	require.True(t, p.Price.Equal(dec("10")))
	require.False(t, p.IsVariant)
	require.Equal(t, []int64{1, 2}, repo.storeIDsOf(p.ID))
	require.True(t, repo.level(2, p.ID).Price.Equal(dec("12.5")))
	require.True(t, repo.level(2, p.ID).Units.IsZero())
	require.Equal(t, 1, rc.Report.Count(EntityProduct, OutcomeCreated))
}

func TestCatalogDefaultPriceWinsOverStorePrice(t *testing.T) {
	repo := catalogRepo()
	c := NewCatalogReconciler(repo)

	item := plainItem("I1", "V1", "Soda", storePrice("S1", "10"))
	item.Option1Name = "Size"
	item.Variants[0].DefaultPrice = decPtr("11.999")
	require.NoError(t, c.Reconcile(context.Background(), newTestRun(), []feed.ItemRecord{item}))

	p := repo.productByRemote("V1")
	require.True(t, p.Price.Equal(dec("12")))
	require.True(t, p.IsVariant)
}

func TestCatalogUpdateNeverOverwritesCost(t *testing.T) {
	repo := catalogRepo()
	c := NewCatalogReconciler(repo)
	ctx := context.Background()

	require.NoError(t, c.Reconcile(ctx, newTestRun(), []feed.ItemRecord{plainItem("I1", "V1", "Soda", storePrice("S1", "10"))}))

	changed := plainItem("I1", "V1", "Soda 500ml", storePrice("S1", "15"))
	changed.Variants[0].Cost = dec("9.99")
	changed.Variants[0].Barcode = "600123"
	rc := newTestRun()
	require.NoError(t, c.Reconcile(ctx, rc, []feed.ItemRecord{changed}))

	p := repo.productByRemote("V1")
	require.Equal(t, "Soda 500ml", p.Name)
	require.Equal(t, "600123", p.Barcode)
	require.True(t, p.Price.Equal(dec("15")))
	require.True(t, p.Cost.Equal(dec("4.56")))
	require.Equal(t, 1, rc.Report.Count(EntityProduct, OutcomeUpdated))
}

func TestCatalogAttachmentDiff(t *testing.T) {
	repo := catalogRepo()
	c := NewCatalogReconciler(repo)
	ctx := context.Background()

	require.NoError(t, c.Reconcile(ctx, newTestRun(), []feed.ItemRecord{
		plainItem("I1", "V1", "Soda", storePrice("S1", "10"), storePrice("S2", "10")),
	}))
	p := repo.productByRemote("V1")
	repo.level(2, p.ID).Units = dec("6")

	rc := newTestRun()
	require.NoError(t, c.Reconcile(ctx, rc, []feed.ItemRecord{
		plainItem("I1", "V1", "Soda", storePrice("S2", "11"), storePrice("S3", "10")),
	}))

	require.Equal(t, []int64{2, 3}, repo.storeIDsOf(p.ID))
	kept := repo.level(2, p.ID)
	require.True(t, kept.Price.Equal(dec("11")))
	require.True(t, kept.Units.Equal(dec("6")))
	require.Equal(t, 1, rc.Report.Count(EntityProduct, OutcomeUpdated))

	rc = newTestRun()
	require.NoError(t, c.Reconcile(ctx, rc, []feed.ItemRecord{
		plainItem("I1", "V1", "Soda", storePrice("S2", "11"), storePrice("S3", "10")),
	}))
	require.Zero(t, rc.Report.Writes())
}

func compositeItem(itemID, variantID string, components ...feed.ComponentRecord) feed.ItemRecord {
	return feed.ItemRecord{
		ID:          itemID,
		ItemName:    "Combo " + itemID,
		IsComposite: true,
		Components:  components,
		Variants:    []feed.VariantRecord{{VariantID: variantID, Stores: []feed.VariantStoreRecord{storePrice("S1", "25")}}},
	}
}

func TestCatalogBundleWithTwoComponents(t *testing.T) {
	repo := catalogRepo()
	c := NewCatalogReconciler(repo)
	ctx := context.Background()

	// The composite comes first in the feed; components must still resolve.
	items := []feed.ItemRecord{
		compositeItem("B1", "VB1",
			feed.ComponentRecord{VariantID: "VA", Quantity: dec("2")},
			feed.ComponentRecord{VariantID: "VC", Quantity: dec("0.5")},
		),
		plainItem("IA", "VA", "Burger", storePrice("S1", "15")),
		plainItem("IC", "VC", "Fries", storePrice("S1", "8")),
	}
	rc := newTestRun()
	require.NoError(t, c.Reconcile(ctx, rc, items))
	require.Empty(t, rc.Report.Failures())

	master := repo.productByRemote("VB1")
	require.NotNil(t, master)
	require.True(t, master.IsComposite)
	require.Len(t, repo.bundles, 2)
	quantities := map[int64]string{}
	for _, bc := range repo.bundles {
		require.Equal(t, master.ID, bc.MasterID)
		quantities[bc.ComponentID] = bc.Quantity.String()
	}
	require.Equal(t, "2", quantities[repo.productByRemote("VA").ID])
	require.Equal(t, "0.5", quantities[repo.productByRemote("VC").ID])

	rc = newTestRun()
	require.NoError(t, c.Reconcile(ctx, rc, items))
	require.Len(t, repo.bundles, 2)
	require.Equal(t, 1, rc.Report.Count(EntityBundle, OutcomeUnchanged))
}

func TestCatalogEnrichesProductCreatedFromReceipt(t *testing.T) {
	repo := catalogRepo()
	// Receipt ingestion creates a bare product: no sku and no kind flags.
	repo.products = append(repo.products, Product{ID: 50, ProfileID: testProfile, Name: "Combo", Cost: dec("3"), Price: dec("20"), RemoteID: "VB1"})
	c := NewCatalogReconciler(repo)

	item := compositeItem("B1", "VB1",
		feed.ComponentRecord{VariantID: "VA", Quantity: dec("1")},
		feed.ComponentRecord{VariantID: "VC", Quantity: dec("1")},
	)
	item.Variants[0].SKU = "SKU-VB1"
	rc := newTestRun()
	require.NoError(t, c.Reconcile(context.Background(), rc, []feed.ItemRecord{
		item,
		plainItem("IA", "VA", "Burger", storePrice("S1", "15")),
		plainItem("IC", "VC", "Fries", storePrice("S1", "8")),
	}))
	require.Empty(t, rc.Report.Failures())

	master := repo.product(50)
	require.True(t, master.IsComposite)
	require.Equal(t, "SKU-VB1", master.SKU)
	require.True(t, master.Cost.Equal(dec("3")))
	require.Len(t, repo.bundles, 2)

	// An existing sku is kept.
	item.Variants[0].SKU = "SKU-OTHER"
	require.NoError(t, c.Reconcile(context.Background(), newTestRun(), []feed.ItemRecord{item}))
	require.Equal(t, "SKU-VB1", repo.product(50).SKU)
}

func TestCatalogBundleWithUnresolvedComponent(t *testing.T) {
	repo := catalogRepo()
	c := NewCatalogReconciler(repo)
	rc := newTestRun()

	items := []feed.ItemRecord{
		plainItem("IA", "VA", "Burger", storePrice("S1", "15")),
		compositeItem("B1", "VB1",
			feed.ComponentRecord{VariantID: "VA", Quantity: dec("1")},
			feed.ComponentRecord{VariantID: "V-missing", Quantity: dec("1")},
		),
		compositeItem("B2", "VB2", feed.ComponentRecord{VariantID: "VA", Quantity: dec("3")}),
	}
	require.NoError(t, c.Reconcile(context.Background(), rc, items))

	failures := rc.Report.Failures()
	require.Len(t, failures, 1)
	require.Equal(t, EntityBundle, failures[0].Entity)
	require.Equal(t, "VB1", failures[0].RemoteID)
	var compErr *ComponentResolutionError
	require.True(t, errors.As(failures[0].Err, &compErr))
	require.Equal(t, "V-missing", compErr.ComponentVariantID)

	require.Len(t, repo.bundles, 1)
	require.Equal(t, repo.productByRemote("VB2").ID, repo.bundles[0].MasterID)
}

func TestCatalogAttachesTaxAndCategory(t *testing.T) {
	repo := catalogRepo()
	c := NewCatalogReconciler(repo)
	ctx := context.Background()

	item := plainItem("I1", "V1", "Soda", storePrice("S1", "10"))
	item.TaxIDs = []string{"T-unknown", "T1"}
	item.CategoryID = "C1"
	require.NoError(t, c.Reconcile(ctx, newTestRun(), []feed.ItemRecord{item}))

	p := repo.productByRemote("V1")
	require.NotNil(t, p.TaxID)
	require.Equal(t, int64(10), *p.TaxID)
	require.NotNil(t, p.CategoryID)
	require.Equal(t, int64(20), *p.CategoryID)
	require.Equal(t, 1, repo.categories[0].ProductCount)
	require.Equal(t, []int64{20}, repo.refreshed)

	item.CategoryID = "C2"
	item.TaxIDs = nil
	rc := newTestRun()
	require.NoError(t, c.Reconcile(ctx, rc, []feed.ItemRecord{item}))
	require.Nil(t, p.TaxID)
	require.Equal(t, int64(21), *p.CategoryID)
	require.Equal(t, 0, repo.categories[0].ProductCount)
	require.Equal(t, 1, repo.categories[1].ProductCount)
	require.Equal(t, []int64{20, 20, 21}, repo.refreshed)
	require.Equal(t, 1, rc.Report.Count(EntityAttachment, OutcomeUpdated))
}

func TestCatalogUnknownCategoryKeepsLink(t *testing.T) {
	repo := catalogRepo()
	c := NewCatalogReconciler(repo)
	ctx := context.Background()

	item := plainItem("I1", "V1", "Soda", storePrice("S1", "10"))
	item.CategoryID = "C1"
	require.NoError(t, c.Reconcile(ctx, newTestRun(), []feed.ItemRecord{item}))

	item.CategoryID = "C-deleted"
	require.NoError(t, c.Reconcile(ctx, newTestRun(), []feed.ItemRecord{item}))
	p := repo.productByRemote("V1")
	require.NotNil(t, p.CategoryID)
	require.Equal(t, int64(20), *p.CategoryID)
}
