package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/visit-reminders/internal/model"
	xhttp "github.com/nimasrn/visit-reminders/pkg/http"
)

type ReconcileService interface {
	ReconcileProviderMessage(ctx context.Context, providerMessageID string) (*model.ReconcileOutcome, error)
	Sweep(ctx context.Context) *model.SweepReport
}

type FacilityDirectory interface {
	Reload(ctx context.Context) error
	Len() int
}

type ReconcileHandler struct {
	svc        ReconcileService
	facilities FacilityDirectory
}

func RegisterReconcileRoutes(e *router.Group, h *ReconcileHandler) {
	e.POST("/reconcile/sweep", h.Sweep)
	e.POST("/reconcile/{providerId}", h.ReconcileOne)
	e.POST("/facilities/refresh", h.RefreshFacilities)
}

func NewReconcileHandler(svc ReconcileService, facilities FacilityDirectory) *ReconcileHandler {
	return &ReconcileHandler{svc: svc, facilities: facilities}
}

func (h *ReconcileHandler) Sweep(ctx *xhttp.RequestCtx) {
	writeJSON(ctx, xhttp.StatusOK, h.svc.Sweep(ctx))
}

func (h *ReconcileHandler) ReconcileOne(ctx *xhttp.RequestCtx) {
	pid, _ := ctx.UserValue("providerId").(string)
	if pid == "" {
		writeError(ctx, xhttp.StatusBadRequest, "provider message id is required")
		return
	}
	out, err := h.svc.ReconcileProviderMessage(ctx, pid)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, out)
}

// RefreshFacilities reloads the facility table after an admin edit.
func (h *ReconcileHandler) RefreshFacilities(ctx *xhttp.RequestCtx) {
	if err := h.facilities.Reload(ctx); err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]int{"facilities": h.facilities.Len()})
}
