package handlers

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/internal/repository"
	"github.com/nimasrn/visit-reminders/internal/services"
	xhttp "github.com/nimasrn/visit-reminders/pkg/http"
)

type listResponse[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

// writeServiceError maps service and repository sentinels to status codes.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, repository.ErrReminderNotFound),
		errors.Is(err, repository.ErrConversationNotFound),
		errors.Is(err, repository.ErrClientNotFound),
		errors.Is(err, repository.ErrMessageNotFound):
		writeError(ctx, xhttp.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidReminderStatus),
		errors.Is(err, services.ErrNothingToDispatch):
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
	default:
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
	}
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	v, _ := ctx.UserValue(name).(string)
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func queryInt(ctx *xhttp.RequestCtx, key string) int {
	n, _ := strconv.Atoi(query(ctx, key))
	return n
}

func queryBool(ctx *xhttp.RequestCtx, key string) bool {
	b, _ := strconv.ParseBool(query(ctx, key))
	return b
}

func queryList(ctx *xhttp.RequestCtx, key string) []string {
	v := query(ctx, key)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
