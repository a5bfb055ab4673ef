package feed

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestUnpackItemComposite(t *testing.T) {
	raw := json.RawMessage(`{
		"id":"I1","item_name":" Gift Box ","is_composite":true,"tax_ids":["T1"],"category_id":"C1",
		"components":[{"variant_id":"V1","quantity":2},{"variant_id":"V2","quantity":"0.5"}],
		"variants":[{"variant_id":"VB","sku":"10001","barcode":"123","cost":4.5,
			"stores":[{"store_id":"S1","price":12.5,"available_for_sale":true}]}]
	}`)

	item, err := UnpackItem(raw)
	require.NoError(t, err)
	require.Equal(t, "Gift Box", item.ItemName)
	require.True(t, item.IsComposite)
	require.Len(t, item.Components, 2)
	require.Equal(t, "0.5", item.Components[1].Quantity.String())
	require.Len(t, item.Variants, 1)
	require.Equal(t, "12.5", item.Variants[0].Stores[0].Price.String())
	require.True(t, item.Variants[0].Stores[0].AvailableForSale)
}

func TestUnpackItemRejectsVariantWithoutID(t *testing.T) {
	_, err := UnpackItem(json.RawMessage(`{"id":"I1","variants":[{"sku":"1"}]}`))
	require.Error(t, err)
}

func TestUnpackTaxRejectsOutOfRangeRate(t *testing.T) {
	_, err := UnpackTax(json.RawMessage(`{"id":"T1","name":"VAT","rate":160}`))
	require.Error(t, err)

	tax, err := UnpackTax(json.RawMessage(`{"id":"T1","name":"VAT","rate":16}`))
	require.NoError(t, err)
	require.Equal(t, "16", tax.Rate.String())
}

func TestUnpackReceiptRefund(t *testing.T) {
	raw := json.RawMessage(`{
		"receipt_number":"2-1002","receipt_type":"REFUND","refund_for_receipt_number":"2-1001",
		"employee_id":"E1","store_id":"S1","customer_id":null,
		"receipt_date":"2024-03-05T10:15:30.123Z",
		"line_items":[{"variant_id":"V1","price":"10.00","units":1,"discount":0,
			"line_taxes":[{"id":"T1","name":"VAT","rate":16,"money_amount":1.6}]}]
	}`)

	rec, err := UnpackReceipt(raw)
	require.NoError(t, err)
	require.True(t, rec.IsRefund)
	require.Equal(t, "2-1001", rec.RefundForReceiptNumber)
	require.Equal(t, time.Date(2024, 3, 5, 10, 15, 30, 123000000, time.UTC), rec.ReceiptDate)
	require.Len(t, rec.LineItems[0].LineTaxes, 1)
	require.NotNil(t, rec.LineItems[0].LineTaxes[0].MoneyAmount)
	require.Equal(t, "1.6", rec.LineItems[0].LineTaxes[0].MoneyAmount.String())
}

func TestUnpackReceiptRejectsBadDate(t *testing.T) {
	_, err := UnpackReceipt(json.RawMessage(`{"receipt_number":"1","receipt_date":"yesterday"}`))
	require.Error(t, err)
}

func TestUnpackReceiptInvalidKeepsDate(t *testing.T) {
	raws := []json.RawMessage{json.RawMessage(`{"receipt_number":"","receipt_date":"2024-03-05T10:15:30Z"}`)}
	receipts, errs := UnpackAll(KindReceipts.Name, raws, UnpackReceipt)
	require.Empty(t, receipts)
	require.Len(t, errs, 1)

	var invalid *InvalidReceiptError
	require.ErrorAs(t, errs[0], &invalid)
	require.Equal(t, time.Date(2024, 3, 5, 10, 15, 30, 0, time.UTC), invalid.ReceiptDate)
}

func TestUnpackAllCollectsRecordErrors(t *testing.T) {
	raws := []json.RawMessage{
		json.RawMessage(`{"id":"C1","name":"Drinks"}`),
		json.RawMessage(`{"name":"no id"}`),
		json.RawMessage(`not json`),
	}
	cats, errs := UnpackAll(KindCategories.Name, raws, UnpackCategory)
	require.Len(t, cats, 1)
	require.Len(t, errs, 2)

	var recErr *RecordError
	require.ErrorAs(t, errs[0], &recErr)
	require.Equal(t, 1, recErr.Index)
	require.Equal(t, "categories", recErr.Kind)
}
