package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"confreg/internal/admin/service"
	"confreg/internal/platform/middleware"
	dErrors "confreg/pkg/domain-errors"
	"confreg/pkg/platform/httputil"
)

// Service defines the admin operations the handler depends on.
type Service interface {
	Login(ctx context.Context, username, password string) (string, error)
	DashboardCounts(ctx context.Context) (*service.Dashboard, error)
	ListPending(ctx context.Context) ([]service.PendingEntry, error)
	ExportCSV(ctx context.Context, w io.Writer) error
	SeedManual(ctx context.Context, req service.SeedManualRequest) (*service.RecentRegistration, error)
}

// Handler wires the staff endpoints to the admin service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an admin handler with its dependencies.
func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// RegisterPublic mounts the unauthenticated login endpoint.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/admin/login", h.HandleLogin)
}

// Register mounts the guarded staff endpoints; callers wrap the router with
// the admin middleware.
func (h *Handler) Register(r chi.Router) {
	r.Get("/dashboard", h.HandleDashboard)
	r.Get("/payments/pending", h.HandleListPending)
	r.Get("/export.csv", h.HandleExport)
	r.Post("/registrations", h.HandleSeedManual)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// HandleLogin handles POST /admin/login requests.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	token, err := h.service.Login(ctx, req.Username, req.Password)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "admin logged in",
		"request_id", middleware.GetRequestID(ctx),
		"username", req.Username,
	)
	httputil.WriteJSON(w, http.StatusOK, loginResponse{Token: token})
}

// HandleDashboard handles GET /admin/dashboard requests.
func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.service.DashboardCounts(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "dashboard aggregation failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dashboard)
}

// HandleListPending handles GET /admin/payments/pending requests.
func (h *Handler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListPending(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

// HandleExport handles GET /admin/export.csv requests, streaming the full
// registration list as a CSV download.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filename := "registrations-" + time.Now().Format("2006-01-02") + ".csv"
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	if err := h.service.ExportCSV(ctx, w); err != nil {
		// Headers are already on the wire; log and truncate.
		h.logger.ErrorContext(ctx, "csv export failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
	}
}

// HandleSeedManual handles POST /admin/registrations requests.
func (h *Handler) HandleSeedManual(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.SeedManualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	result, err := h.service.SeedManual(ctx, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "registrant seeded manually",
		"request_id", middleware.GetRequestID(ctx),
		"admin", middleware.GetAdminUser(ctx),
		"registrant_id", result.Registrant.ID,
	)
	httputil.WriteJSON(w, http.StatusCreated, result)
}
