package possync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/odyssey-erp/possync/internal/feed"
	"github.com/odyssey-erp/possync/internal/platform/httpx"
)

const maxWebhookBody = 8 << 20

// ReceiptIngester ingests receipts for a tenant.
type ReceiptIngester interface {
	IngestReceipts(ctx context.Context, profileID int64, receipts []feed.ReceiptRecord) (*Report, error)
}

// WebhookObserver receives per-outcome receipt counts of each delivery.
type WebhookObserver interface {
	ObserveWebhook(outcomes map[string]int)
}

// Handler exposes the receipt webhook.
type Handler struct {
	ingester ReceiptIngester
	logger   *slog.Logger
	observer WebhookObserver
}

// NewHandler builds Handler.
func NewHandler(ingester ReceiptIngester, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ingester: ingester, logger: logger}
}

// WithObserver attaches obs to every delivery and returns h.
func (h *Handler) WithObserver(obs WebhookObserver) *Handler {
	h.observer = obs
	return h
}

// MountRoutes registers the webhook routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/webhooks/{profileID}/receipts", h.receiveReceipts)
}

type webhookRequest struct {
	Receipts []json.RawMessage `json:"receipts"`
}

// WebhookResponse summarises one webhook delivery.
type WebhookResponse struct {
	Created  int      `json:"created"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

func (h *Handler) receiveReceipts(w http.ResponseWriter, r *http.Request) {
	profileID, err := strconv.ParseInt(chi.URLParam(r, "profileID"), 10, 64)
	if err != nil || profileID <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: profile id", httpx.ErrValidation))
		return
	}
	var req webhookRequest
	if err := httpx.DecodeJSON(w, r, maxWebhookBody, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if len(req.Receipts) == 0 {
		httpx.RespondError(w, fmt.Errorf("%w: receipts required", httpx.ErrValidation))
		return
	}

	receipts, rejected := feed.UnpackAll(feed.KindReceipts.Name, req.Receipts, feed.UnpackReceipt)
	resp := WebhookResponse{Rejected: len(rejected)}
	for _, rerr := range rejected {
		h.logger.Warn("webhook receipt rejected", slog.Int64("profile_id", profileID), slog.Any("error", rerr))
		resp.Errors = append(resp.Errors, rerr.Error())
	}

	if len(receipts) > 0 {
		report, err := h.ingester.IngestReceipts(r.Context(), profileID, receipts)
		if err != nil {
			h.logger.Error("webhook ingestion failed", slog.Int64("profile_id", profileID), slog.Any("error", err))
			if errors.Is(err, ErrInvalidProfile) {
				httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
				return
			}
			httpx.RespondError(w, err)
			return
		}
		resp.Created = report.Count(EntityReceipt, OutcomeCreated)
		resp.Skipped = report.Count(EntityReceipt, OutcomeSkipped)
		for _, f := range report.Failures() {
			if f.Entity != EntityReceipt {
				continue
			}
			resp.Failed++
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", f.RemoteID, f.Err))
		}
	}
	if h.observer != nil {
		h.observer.ObserveWebhook(map[string]int{
			string(OutcomeCreated): resp.Created,
			string(OutcomeSkipped): resp.Skipped,
			string(OutcomeFailed):  resp.Failed,
			"rejected":             resp.Rejected,
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}
