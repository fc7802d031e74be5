package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/internal/services"
	xhttp "github.com/nimasrn/visit-reminders/pkg/http"
)

type SendService interface {
	Send(ctx context.Context, req model.SendRequest) *model.SendResult
	SendBatch(ctx context.Context, reqs []model.SendRequest) *model.BatchResult
}

type ReminderService interface {
	List(ctx context.Context, f model.ReminderFilter) ([]*model.Reminder, int64, error)
	Get(ctx context.Context, id int64) (*services.ReminderDetail, error)
	UpdateStatus(ctx context.Context, id int64, u model.ReminderStatusUpdate) (*model.Reminder, error)
	Enqueue(ctx context.Context, reqs []model.SendRequest) (*services.DispatchResult, error)
}

type UrgencyService interface {
	Board(ctx context.Context, facility string) (*model.UrgencyBoard, error)
}

type ReminderHandler struct {
	send      SendService
	reminders ReminderService
	urgency   UrgencyService
}

func RegisterReminderRoutes(e *router.Group, h *ReminderHandler) {
	e.GET("/reminders", h.ListReminders)
	e.GET("/reminders/urgency", h.GetUrgency)
	e.POST("/reminders/send-batch", h.SendBatch)
	e.POST("/reminders/dispatch", h.Dispatch)
	e.GET("/reminders/{id}", h.GetReminder)
	e.POST("/reminders/{id}/send", h.SendReminder)
	e.POST("/reminders/{id}/status", h.UpdateStatus)
}

func NewReminderHandler(send SendService, reminders ReminderService, urgency UrgencyService) *ReminderHandler {
	return &ReminderHandler{
		send:      send,
		reminders: reminders,
		urgency:   urgency,
	}
}

type sendReminderRequest struct {
	Phone string `json:"phone"`
}

type batchRequest struct {
	Items []model.SendRequest `json:"items"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func sendStatusCode(res *model.SendResult) int {
	switch res.Kind {
	case model.SendErrorValidation:
		return xhttp.StatusBadRequest
	case model.SendErrorNotFound:
		return xhttp.StatusNotFound
	case model.SendErrorGateway:
		return xhttp.StatusBadGateway
	case model.SendErrorCancelled:
		return xhttp.StatusRequestTimeout
	default:
		// includes a send the provider accepted but we could not record
		return xhttp.StatusOK
	}
}

func (h *ReminderHandler) SendReminder(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	var req sendReminderRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res := h.send.Send(ctx, model.SendRequest{ReminderID: id, Phone: req.Phone})
	writeJSON(ctx, sendStatusCode(res), res)
}

func (h *ReminderHandler) SendBatch(ctx *xhttp.RequestCtx) {
	var req batchRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(ctx, xhttp.StatusBadRequest, "items must not be empty")
		return
	}
	writeJSON(ctx, xhttp.StatusOK, h.send.SendBatch(ctx, req.Items))
}

func (h *ReminderHandler) Dispatch(ctx *xhttp.RequestCtx) {
	var req batchRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	out, err := h.reminders.Enqueue(ctx, req.Items)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusAccepted, out)
}

func (h *ReminderHandler) GetUrgency(ctx *xhttp.RequestCtx) {
	board, err := h.urgency.Board(ctx, query(ctx, "facility"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, board)
}

func (h *ReminderHandler) ListReminders(ctx *xhttp.RequestCtx) {
	f := model.ReminderFilter{
		Limit:  queryInt(ctx, "limit"),
		Offset: queryInt(ctx, "offset"),
	}
	for _, s := range queryList(ctx, "status") {
		st, err := model.ParseReminderStatus(s)
		if err != nil {
			writeError(ctx, xhttp.StatusBadRequest, err.Error()+": "+s)
			return
		}
		f.Statuses = append(f.Statuses, st)
	}
	if v := query(ctx, "facility"); v != "" {
		f.Facility = &v
	}

	items, total, err := h.reminders.List(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[*model.Reminder]{Items: items, Total: total})
}

func (h *ReminderHandler) GetReminder(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	detail, err := h.reminders.Get(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, detail)
}

func (h *ReminderHandler) UpdateStatus(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	var req updateStatusRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	r, err := h.reminders.UpdateStatus(ctx, id, model.ReminderStatusUpdate{Status: model.ReminderStatus(req.Status), Note: req.Note})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, r)
}
