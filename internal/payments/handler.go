package payments

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/commission-engine/internal/commission"
	"github.com/odyssey-erp/commission-engine/internal/deals"
	"github.com/odyssey-erp/commission-engine/internal/platform/httpx"
	"github.com/odyssey-erp/commission-engine/internal/shared"
)

// Handler exposes the payment lifecycle over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/deals/{dealID}/payments", func(r chi.Router) {
		r.Get("/", h.listPayments)
		r.Post("/", h.createPayment)
		r.Group(func(r chi.Router) {
			// Deal wide writes are comparatively expensive.
			r.Use(httprate.LimitByIP(30, time.Minute))
			r.Post("/generate", h.generate)
			r.Post("/recompute", h.recompute)
			r.Post("/archive", h.archive)
		})
	})
	r.Route("/payments/{paymentID}", func(r chi.Router) {
		r.Get("/", h.getPayment)
		r.Delete("/", h.deletePayment)
		r.Put("/override", h.setOverride)
		r.Delete("/override", h.clearOverride)
		r.Put("/referral-override", h.setReferralOverride)
		r.Put("/referral-paid", h.markReferralPaid)
		r.Put("/received", h.markReceived)
		r.Get("/disbursement", h.disbursement)
	})
	r.Route("/splits/{splitID}", func(r chi.Router) {
		r.Put("/paid", h.markSplitPaid)
		r.Put("/percents", h.updateSplitPercents)
		r.Delete("/", h.deleteSplit)
	})
}

type createPaymentRequest struct {
	Amount                     *decimal.Decimal `json:"amount" validate:"omitempty,gte=0"`
	ReferralFeePercentOverride *decimal.Decimal `json:"referralFeePercentOverride" validate:"omitempty,gte=0,lte=100"`
}

type overrideRequest struct {
	Amount *decimal.Decimal `json:"amount" validate:"required,gte=0"`
}

type referralOverrideRequest struct {
	Percent *decimal.Decimal `json:"percent" validate:"omitempty,gte=0,lte=100"`
}

type paidRequest struct {
	Paid *bool `json:"paid" validate:"required"`
}

type receivedRequest struct {
	Received *bool `json:"received" validate:"required"`
}

type percentsRequest struct {
	Origination *decimal.Decimal `json:"originationPercent" validate:"required,gte=0,lte=100"`
	Site        *decimal.Decimal `json:"sitePercent" validate:"required,gte=0,lte=100"`
	Deal        *decimal.Decimal `json:"dealPercent" validate:"required,gte=0,lte=100"`
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	dealID, ok := h.pathID(w, r, "dealID")
	if !ok {
		return
	}
	res, err := h.service.Generate(r.Context(), dealID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyExisted {
		status = http.StatusOK
	}
	httpx.JSON(w, status, res)
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	dealID, ok := h.pathID(w, r, "dealID")
	if !ok {
		return
	}
	res, err := h.service.UpdateAmounts(r.Context(), dealID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) archive(w http.ResponseWriter, r *http.Request) {
	dealID, ok := h.pathID(w, r, "dealID")
	if !ok {
		return
	}
	res, err := h.service.Archive(r.Context(), dealID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	dealID, ok := h.pathID(w, r, "dealID")
	if !ok {
		return
	}
	includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("includeArchived"))
	list, err := h.service.ListPayments(r.Context(), dealID, includeArchived)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": list})
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	dealID, ok := h.pathID(w, r, "dealID")
	if !ok {
		return
	}
	var req createPaymentRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.service.CreatePayment(r.Context(), dealID, CreateInput{
		Amount:                     req.Amount,
		ReferralFeePercentOverride: req.ReferralFeePercentOverride,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "paymentID")
	if !ok {
		return
	}
	p, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "paymentID")
	if !ok {
		return
	}
	res, err := h.service.Delete(r.Context(), id, forceParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) setOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "paymentID")
	if !ok {
		return
	}
	var req overrideRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.service.SetAmountOverride(r.Context(), id, *req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) clearOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "paymentID")
	if !ok {
		return
	}
	p, err := h.service.ClearAmountOverride(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) setReferralOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "paymentID")
	if !ok {
		return
	}
	var req referralOverrideRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.service.SetReferralOverride(r.Context(), id, req.Percent)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) markReferralPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "paymentID")
	if !ok {
		return
	}
	var req paidRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.MarkReferralPaid(r.Context(), id, *req.Paid); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markReceived(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "paymentID")
	if !ok {
		return
	}
	var req receivedRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.MarkPaymentReceived(r.Context(), id, *req.Received); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) disbursement(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "paymentID")
	if !ok {
		return
	}
	totals, err := h.service.Disbursement(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) markSplitPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "splitID")
	if !ok {
		return
	}
	var req paidRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.MarkSplitPaid(r.Context(), id, *req.Paid); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateSplitPercents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "splitID")
	if !ok {
		return
	}
	var req percentsRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	split, err := h.service.UpdateSplitPercents(r.Context(), id, commission.CategoryPercents{
		Origination: *req.Origination,
		Site:        *req.Site,
		Deal:        *req.Deal,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, split)
}

func (h *Handler) deleteSplit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "splitID")
	if !ok {
		return
	}
	res, err := h.service.DeleteSplit(r.Context(), id, forceParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// fail maps lifecycle errors onto HTTP problems.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	sentinel := Classify(err)
	if sentinel == nil {
		h.logger.Error("payments request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.RespondError(w, fmt.Errorf("%w: %w", sentinel, err))
}

// Classify returns the httpx sentinel matching a domain error, or nil when
// err is not a known domain failure.
func Classify(err error) error {
	switch {
	case errors.Is(err, httpx.ErrValidation):
		return httpx.ErrValidation
	case errors.Is(err, commission.ErrConfiguration):
		return httpx.ErrUnprocessable
	case errors.Is(err, ErrExternalReference), errors.Is(err, ErrArchived):
		return httpx.ErrConflict
	case errors.Is(err, ErrPaymentNotFound), errors.Is(err, ErrSplitNotFound), errors.Is(err, deals.ErrDealNotFound):
		return httpx.ErrNotFound
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidPercent):
		return httpx.ErrValidation
	case errors.Is(err, shared.ErrLockHeld):
		return httpx.ErrLocked
	}
	return nil
}

func forceParam(r *http.Request) bool {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	return force
}
