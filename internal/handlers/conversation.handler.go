package handlers

import (
	"context"
	"strings"

	"github.com/fasthttp/router"
	"github.com/nimasrn/visit-reminders/internal/model"
	xhttp "github.com/nimasrn/visit-reminders/pkg/http"
)

type ConversationService interface {
	List(ctx context.Context, f model.ConversationFilter) ([]*model.Conversation, int64, error)
	Messages(ctx context.Context, conversationID int64, f model.MessageFilter) ([]*model.Message, int64, error)
	MarkRead(ctx context.Context, id int64) error
}

type ConversationHandler struct {
	svc ConversationService
}

func RegisterConversationRoutes(e *router.Group, h *ConversationHandler) {
	e.GET("/conversations", h.ListConversations)
	e.GET("/conversations/{id}/messages", h.ListMessages)
	e.POST("/conversations/{id}/read", h.MarkRead)
}

func NewConversationHandler(svc ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

func (h *ConversationHandler) ListConversations(ctx *xhttp.RequestCtx) {
	f := model.ConversationFilter{
		UnreadOnly: queryBool(ctx, "unread"),
		Limit:      queryInt(ctx, "limit"),
		Offset:     queryInt(ctx, "offset"),
	}
	if v := query(ctx, "status"); v != "" {
		st := model.ConversationStatus(v)
		f.Status = &st
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[*model.Conversation]{Items: items, Total: total})
}

func (h *ConversationHandler) ListMessages(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	f := model.MessageFilter{
		Limit:  queryInt(ctx, "limit"),
		Offset: queryInt(ctx, "offset"),
		Desc:   strings.EqualFold(query(ctx, "order"), "desc"),
	}
	if v := query(ctx, "direction"); v != "" {
		d := model.MessageDirection(v)
		f.Direction = &d
	}

	items, total, err := h.svc.Messages(ctx, id, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[*model.Message]{Items: items, Total: total})
}

func (h *ConversationHandler) MarkRead(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.MarkRead(ctx, id); err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]bool{"success": true})
}
