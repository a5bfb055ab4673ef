package possync

import (
	"errors"
	"sync"
)

// Outcome is the fate of one reconciled or ingested record.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Entity names used in reports.
const (
	EntityStore      = "store"
	EntityEmployee   = "employee"
	EntityTax        = "tax"
	EntityCategory   = "category"
	EntityCustomer   = "customer"
	EntityProduct    = "product"
	EntityBundle     = "bundle"
	EntityAttachment = "attachment"
	EntityStockLevel = "stock_level"
	EntityReceipt    = "receipt"
	EntityFeed       = "feed"
)

// Result is the per-item outcome of a batch.
type Result struct {
	Entity   string  `json:"entity"`
	RemoteID string  `json:"remote_id"`
	Outcome  Outcome `json:"outcome"`
	Err      error   `json:"-"`
}

// Report collects the results of one run. Processing never stops on a failed
// item; callers decide what to do with Failures.
type Report struct {
	mu      sync.Mutex
	results []Result
}

// Record appends one result.
func (r *Report) Record(entity, remoteID string, outcome Outcome, err error) {
	if r == nil {
		return
	}
	if err != nil {
		outcome = OutcomeFailed
	}
	r.mu.Lock()
	r.results = append(r.results, Result{Entity: entity, RemoteID: remoteID, Outcome: outcome, Err: err})
	r.mu.Unlock()
}

// Results returns a copy of every recorded result.
func (r *Report) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

// Count returns how many results of entity ended with outcome. An empty
// entity matches every entity.
func (r *Report) Count(entity string, outcome Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, res := range r.results {
		if (entity == "" || res.Entity == entity) && res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Writes returns how many results created or updated a row.
func (r *Report) Writes() int {
	return r.Count("", OutcomeCreated) + r.Count("", OutcomeUpdated)
}

// Failures returns the failed results.
func (r *Report) Failures() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Result
	for _, res := range r.results {
		if res.Outcome == OutcomeFailed {
			out = append(out, res)
		}
	}
	return out
}

// Err joins every failure into one error, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failures() {
		errs = append(errs, res.Err)
	}
	return errors.Join(errs...)
}

// Summary counts results per outcome.
func (r *Report) Summary() map[Outcome]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Outcome]int)
	for _, res := range r.results {
		out[res.Outcome]++
	}
	return out
}
