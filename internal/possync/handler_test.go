package possync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/possync/internal/feed"
)

type stubIngester struct {
	profileID int64
	got       []feed.ReceiptRecord
	err       error
}

func (s *stubIngester) IngestReceipts(ctx context.Context, profileID int64, receipts []feed.ReceiptRecord) (*Report, error) {
	s.profileID = profileID
	s.got = receipts
	if s.err != nil {
		return nil, s.err
	}
	report := &Report{}
	for i, rec := range receipts {
		switch i {
		case 0:
			report.Record(EntityReceipt, rec.ReceiptNumber, OutcomeCreated, nil)
		case 1:
			report.Record(EntityReceipt, rec.ReceiptNumber, OutcomeSkipped, nil)
		default:
			report.Record(EntityReceipt, rec.ReceiptNumber, OutcomeFailed, errors.New("persist receipt: timeout"))
		}
	}
	return report, nil
}

func newWebhookServer(ingester ReceiptIngester) http.Handler {
	r := chi.NewRouter()
	NewHandler(ingester, discardLogger()).MountRoutes(r)
	return r
}

func postReceipts(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookIngestsReceipts(t *testing.T) {
	stub := &stubIngester{}
	h := newWebhookServer(stub)

	body := `{"receipts":[
		{"receipt_number":"R-1","store_id":"S1","employee_id":"E1","receipt_date":"2024-05-01T09:00:00Z","line_items":[]},
		{"receipt_number":"R-2","receipt_date":"2024-05-01T09:05:00Z"},
		{"receipt_number":"R-3","receipt_date":"2024-05-01T09:10:00Z"},
		{"receipt_number":"R-4","receipt_date":"not a date"}
	]}`
	rec := postReceipts(t, h, "/webhooks/7/receipts", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Created)
	require.Equal(t, 1, resp.Skipped)
	require.Equal(t, 1, resp.Failed)
	require.Equal(t, 1, resp.Rejected)
	require.Len(t, resp.Errors, 2)

	require.Equal(t, int64(7), stub.profileID)
	require.Len(t, stub.got, 3)
	require.Equal(t, "R-1", stub.got[0].ReceiptNumber)
}

func TestWebhookRejectsBadRequests(t *testing.T) {
	h := newWebhookServer(&stubIngester{})

	cases := map[string]struct {
		path string
		body string
	}{
		"bad profile":    {path: "/webhooks/abc/receipts", body: `{"receipts":[{}]}`},
		"zero profile":   {path: "/webhooks/0/receipts", body: `{"receipts":[{}]}`},
		"malformed body": {path: "/webhooks/1/receipts", body: `{"receipts":`},
		"no receipts":    {path: "/webhooks/1/receipts", body: `{"receipts":[]}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := postReceipts(t, h, tc.path, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestWebhookMapsIngestionErrors(t *testing.T) {
	h := newWebhookServer(&stubIngester{err: errors.New("list stores: connection refused")})
	rec := postReceipts(t, h, "/webhooks/1/receipts", `{"receipts":[{"receipt_number":"R-1","receipt_date":"2024-05-01T09:00:00Z"}]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type countingObserver struct {
	seen map[string]int
}

func (o *countingObserver) ObserveWebhook(outcomes map[string]int) {
	if o.seen == nil {
		o.seen = make(map[string]int)
	}
	for k, v := range outcomes {
		o.seen[k] += v
	}
}

func TestWebhookReportsOutcomesToObserver(t *testing.T) {
	obs := &countingObserver{}
	r := chi.NewRouter()
	NewHandler(&stubIngester{}, discardLogger()).WithObserver(obs).MountRoutes(r)

	body := `{"receipts":[
		{"receipt_number":"R-1","receipt_date":"2024-05-01T09:00:00Z"},
		{"receipt_number":"R-2","receipt_date":"2024-05-01T09:05:00Z"},
		{"receipt_number":"R-9","receipt_date":"yesterday"}
	]}`
	rec := postReceipts(t, r, "/webhooks/1/receipts", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, obs.seen["created"])
	require.Equal(t, 1, obs.seen["skipped"])
	require.Equal(t, 1, obs.seen["rejected"])
	require.Zero(t, obs.seen["failed"])
}
