package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"confreg/internal/platform/middleware"
	"confreg/internal/reconciliation/service"
	"confreg/internal/registration/models"
	dErrors "confreg/pkg/domain-errors"
	"confreg/pkg/platform/httputil"
)

// Service defines the reconciliation operations the handler depends on.
type Service interface {
	ApplyGatewayStatus(ctx context.Context, gatewayID, rawStatus, notificationID string) (*models.Payment, error)
	CheckStatus(ctx context.Context, gatewayID string) (*service.StatusResult, error)
	RefreshFromGateway(ctx context.Context, gatewayID string) (*models.Payment, error)
	ApproveManual(ctx context.Context, nameHint string) (*models.Payment, error)
	ReconcileRecent(ctx context.Context, since time.Time) (int, error)
}

// Handler wires webhook and payment status endpoints to the reconciliation
// service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a reconciliation handler with its dependencies.
func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// Register mounts the public endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/gateway", h.HandleWebhook)
	r.Get("/api/payments/{gatewayID}/status", h.HandleStatus)
	r.Post("/api/payments/{gatewayID}/refresh", h.HandleRefresh)
}

// RegisterAdmin mounts the operator endpoints; callers guard the router with
// the admin middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/payments/approve-manual", h.HandleApproveManual)
	r.Post("/payments/recover", h.HandleRecover)
}

// webhookRequest follows the provider's notification shape. Status is
// optional; when absent the current status is fetched from the provider.
type webhookRequest struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// HandleWebhook handles POST /webhooks/gateway requests. Unknown payments
// are acknowledged and discarded so provider retries stop.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid webhook body"))
		return
	}
	if req.Data.ID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing payment id"))
		return
	}

	var err error
	if req.Data.Status != "" {
		_, err = h.service.ApplyGatewayStatus(ctx, req.Data.ID, req.Data.Status, req.ID)
	} else {
		// Notification without an inline status: ask the provider.
		_, err = h.service.RefreshFromGateway(ctx, req.Data.ID)
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			err = nil
		}
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "webhook processing failed",
			"request_id", requestID,
			"gateway_id", req.Data.ID,
			"action", req.Action,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "webhook processed",
		"request_id", requestID,
		"gateway_id", req.Data.ID,
		"action", req.Action,
	)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus handles GET /api/payments/{gatewayID}/status requests. Reads
// the store only; the browser polls this while the poller and webhooks do
// the settling.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CheckStatus(r.Context(), chi.URLParam(r, "gatewayID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleRefresh handles POST /api/payments/{gatewayID}/refresh requests.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	gatewayID := chi.URLParam(r, "gatewayID")

	payment, err := h.service.RefreshFromGateway(ctx, gatewayID)
	if err != nil {
		h.logger.ErrorContext(ctx, "payment refresh failed",
			"request_id", middleware.GetRequestID(ctx),
			"gateway_id", gatewayID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, payment)
}

type approveManualRequest struct {
	Name string `json:"name"`
}

// HandleApproveManual handles POST /admin/payments/approve-manual requests.
func (h *Handler) HandleApproveManual(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req approveManualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	payment, err := h.service.ApproveManual(ctx, req.Name)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "payment approved manually",
		"request_id", middleware.GetRequestID(ctx),
		"admin", middleware.GetAdminUser(ctx),
		"payment_id", payment.ID,
	)
	httputil.WriteJSON(w, http.StatusOK, payment)
}

type recoverRequest struct {
	Hours int `json:"hours"`
}

type recoverResponse struct {
	Recovered int `json:"recovered"`
}

// HandleRecover handles POST /admin/payments/recover requests, backfilling
// payments settled at the provider during a webhook outage.
func (h *Handler) HandleRecover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := recoverRequest{Hours: 24}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
	}
	if req.Hours <= 0 {
		req.Hours = 24
	}

	since := time.Now().Add(-time.Duration(req.Hours) * time.Hour)
	recovered, err := h.service.ReconcileRecent(ctx, since)
	if err != nil {
		h.logger.ErrorContext(ctx, "payment recovery failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "payment recovery completed",
		"request_id", middleware.GetRequestID(ctx),
		"admin", middleware.GetAdminUser(ctx),
		"recovered", recovered,
		"window_hours", req.Hours,
	)
	httputil.WriteJSON(w, http.StatusOK, recoverResponse{Recovered: recovered})
}
