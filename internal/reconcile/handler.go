package reconcile

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/commission-engine/internal/payments"
	"github.com/odyssey-erp/commission-engine/internal/platform/httpx"
)

// Handler exposes validation reports.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/deals/{dealID}/validation", h.validate)
	r.With(httprate.LimitByIP(5, time.Minute)).Post("/reconcile/scan", h.scan)
}

type scanRequest struct {
	DealIDs []int64 `json:"dealIds" validate:"required,min=1,max=500,dive,gt=0"`
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	dealID, err := strconv.ParseInt(chi.URLParam(r, "dealID"), 10, 64)
	if err != nil || dealID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "dealID must be a positive integer")
		return
	}
	rep, err := h.service.Validate(r.Context(), dealID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rep)
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Scan(r.Context(), req.DealIDs, nil)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	sentinel := payments.Classify(err)
	if sentinel == nil {
		h.logger.Error("reconcile request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondError(w, fmt.Errorf("%w: %w", sentinel, err))
}
