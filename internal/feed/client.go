package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Kind identifies one paginated collection of the POS API.
type Kind struct {
	Name string
	Path string
	Key  string
}

var (
	KindStores          = Kind{Name: "stores", Path: "/stores", Key: "stores"}
	KindEmployees       = Kind{Name: "employees", Path: "/employees", Key: "employees"}
	KindTaxes           = Kind{Name: "taxes", Path: "/taxes", Key: "taxes"}
	KindCategories      = Kind{Name: "categories", Path: "/categories", Key: "categories"}
	KindCustomers       = Kind{Name: "customers", Path: "/customers", Key: "customers"}
	KindItems           = Kind{Name: "items", Path: "/items", Key: "items"}
	KindInventoryLevels = Kind{Name: "inventory_levels", Path: "/inventory", Key: "inventory_levels"}
	KindReceipts        = Kind{Name: "receipts", Path: "/receipts", Key: "receipts"}
)

// ErrNoToken indicates that no access token is stored for the tenant.
var ErrNoToken = errors.New("feed: no access token")

// ErrCursorLoop indicates the API returned the same cursor twice in a row.
var ErrCursorLoop = errors.New("feed: cursor did not advance")

// TransientFetchError reports a collection that could not be fetched. The
// sync cycle treats the collection as empty and carries on.
type TransientFetchError struct {
	Kind   string
	Status int
	Err    error
}

func (e *TransientFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("feed: fetch %s: status %d", e.Kind, e.Status)
	}
	return fmt.Sprintf("feed: fetch %s: %v", e.Kind, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// TokenSource supplies bearer tokens per tenant.
type TokenSource interface {
	Token(ctx context.Context, profileID int64) (string, error)
}

// StaticToken is a TokenSource returning the same token for every tenant.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context, int64) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// ClientConfig collects the settings of a Client.
type ClientConfig struct {
	BaseURL     string
	ProfileID   int64
	Tokens      TokenSource
	HTTPClient  *http.Client
	Rate        float64
	Burst       int
	PageLimit   int
	Concurrency int
	Logger      *slog.Logger
}

// Client fetches paginated collections for one tenant.
type Client struct {
	baseURL     string
	profileID   int64
	tokens      TokenSource
	http        *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[*page]
	pageLimit   int
	concurrency int
	logger      *slog.Logger
}

type page struct {
	items  []json.RawMessage
	cursor string
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("feed: base url required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("feed: token source required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Limit(cfg.Rate)
	if cfg.Rate <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = 250
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.Int64("profile_id", cfg.ProfileID))

	name := fmt.Sprintf("pos-feed-%d", cfg.ProfileID)
	breaker := gobreaker.NewCircuitBreaker[*page](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("feed circuit breaker", slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		profileID:   cfg.ProfileID,
		tokens:      cfg.Tokens,
		http:        httpClient,
		limiter:     rate.NewLimiter(limit, burst),
		breaker:     breaker,
		pageLimit:   pageLimit,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// FetchAll follows the cursor of kind until it is exhausted and returns every
// raw record in page order.
func (c *Client) FetchAll(ctx context.Context, kind Kind, query url.Values) ([]json.RawMessage, error) {
	var all []json.RawMessage
	cursor := ""
	for {
		p, err := c.fetchPage(ctx, kind, query, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, p.items...)
		if p.cursor == "" {
			return all, nil
		}
		if p.cursor == cursor {
			return nil, &TransientFetchError{Kind: kind.Name, Err: ErrCursorLoop}
		}
		cursor = p.cursor
	}
}

func (c *Client) fetchPage(ctx context.Context, kind Kind, query url.Values, cursor string) (*page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	token, err := c.tokens.Token(ctx, c.profileID)
	if err != nil {
		return nil, fmt.Errorf("feed: token: %w", err)
	}
	params := url.Values{}
	for k, v := range query {
		params[k] = v
	}
	params.Set("limit", strconv.Itoa(c.pageLimit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	reqURL := c.baseURL + kind.Path + "?" + params.Encode()

	return c.breaker.Execute(func() (*page, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("feed: create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &TransientFetchError{Kind: kind.Name, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, &TransientFetchError{Kind: kind.Name, Status: resp.StatusCode}
		}

		var body map[string]json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, &TransientFetchError{Kind: kind.Name, Err: fmt.Errorf("decode page: %w", err)}
		}
		p := &page{}
		if raw, ok := body[kind.Key]; ok && len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &p.items); err != nil {
				return nil, &TransientFetchError{Kind: kind.Name, Err: fmt.Errorf("decode %s: %w", kind.Key, err)}
			}
		}
		if raw, ok := body["cursor"]; ok && string(raw) != "null" {
			if err := json.Unmarshal(raw, &p.cursor); err != nil {
				return nil, &TransientFetchError{Kind: kind.Name, Err: fmt.Errorf("decode cursor: %w", err)}
			}
		}
		return p, nil
	})
}

// FetchSnapshot fetches every master-data collection. A collection that
// fails to load is logged, recorded in Snapshot.Errors and left empty.
func (c *Client) FetchSnapshot(ctx context.Context) Snapshot {
	kinds := []Kind{KindStores, KindEmployees, KindTaxes, KindCategories, KindCustomers, KindItems, KindInventoryLevels}
	raws := make([][]json.RawMessage, len(kinds))
	fetchErrs := make([]error, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, kind := range kinds {
		g.Go(func() error {
			items, err := c.FetchAll(gctx, kind, nil)
			if err != nil {
				var tfe *TransientFetchError
				if !errors.As(err, &tfe) {
					err = &TransientFetchError{Kind: kind.Name, Err: err}
				}
				c.logger.Error("fetch collection", slog.String("kind", kind.Name), slog.Any("error", err))
				fetchErrs[i] = err
				return nil
			}
			raws[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var snap Snapshot
	for _, err := range fetchErrs {
		if err != nil {
			snap.Errors = append(snap.Errors, err)
		}
	}
	var errs []error
	snap.Stores, errs = UnpackAll(KindStores.Name, raws[0], UnpackStore)
	snap.Errors = append(snap.Errors, errs...)
	snap.Employees, errs = UnpackAll(KindEmployees.Name, raws[1], UnpackEmployee)
	snap.Errors = append(snap.Errors, errs...)
	snap.Taxes, errs = UnpackAll(KindTaxes.Name, raws[2], UnpackTax)
	snap.Errors = append(snap.Errors, errs...)
	snap.Categories, errs = UnpackAll(KindCategories.Name, raws[3], UnpackCategory)
	snap.Errors = append(snap.Errors, errs...)
	snap.Customers, errs = UnpackAll(KindCustomers.Name, raws[4], UnpackCustomer)
	snap.Errors = append(snap.Errors, errs...)
	snap.Items, errs = UnpackAll(KindItems.Name, raws[5], UnpackItem)
	snap.Errors = append(snap.Errors, errs...)
	snap.InventoryLevels, errs = UnpackAll(KindInventoryLevels.Name, raws[6], UnpackInventoryLevel)
	snap.Errors = append(snap.Errors, errs...)
	return snap
}

// FetchReceipts fetches receipts created at or after since. A zero since
// fetches the full history. Records that fail to unpack are returned as
// RecordErrors alongside the decoded receipts.
func (c *Client) FetchReceipts(ctx context.Context, since time.Time) ([]ReceiptRecord, []error, error) {
	query := url.Values{}
	if !since.IsZero() {
		query.Set("created_at_min", since.UTC().Format(time.RFC3339Nano))
	}
	raws, err := c.FetchAll(ctx, KindReceipts, query)
	if err != nil {
		return nil, nil, err
	}
	receipts, errs := UnpackAll(KindReceipts.Name, raws, UnpackReceipt)
	return receipts, errs, nil
}
