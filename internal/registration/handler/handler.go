package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"confreg/internal/platform/middleware"
	"confreg/internal/registration/models"
	"confreg/internal/registration/service"
	dErrors "confreg/pkg/domain-errors"
	"confreg/pkg/platform/httputil"
)

// Service defines the registration operations the handler depends on.
type Service interface {
	Submit(ctx context.Context, req *models.SubmitRequest) (*service.SubmitResult, error)
	Lookup(ctx context.Context, nationalID string) (*service.LookupResult, error)
}

// Handler wires registration endpoints to the registration service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a registration handler with its dependencies.
func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// Register mounts registration endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/registrations", h.HandleSubmit)
	r.Get("/api/registrants/lookup", h.HandleLookup)
}

// HandleSubmit handles POST /api/registrations requests.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	start := time.Now()

	var req models.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	result, err := h.service.Submit(ctx, &req)
	if err != nil {
		h.logger.ErrorContext(ctx, "registration submission failed",
			"request_id", requestID,
			"payment_method", req.Method,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "registration submitted",
		"request_id", requestID,
		"registrant_id", result.Registrant.ID,
		"payment_id", result.Payment.ID,
		"state", result.Payment.State,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	httputil.WriteJSON(w, http.StatusCreated, result)
}

// HandleLookup handles GET /api/registrants/lookup?national_id= requests.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	nationalID := r.URL.Query().Get("national_id")
	result, err := h.service.Lookup(ctx, nationalID)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) && !dErrors.HasCode(err, dErrors.CodeValidation) {
			h.logger.ErrorContext(ctx, "registrant lookup failed",
				"request_id", middleware.GetRequestID(ctx),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}
