package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/internal/services"
	xhttp "github.com/nimasrn/visit-reminders/pkg/http"
	"github.com/nimasrn/visit-reminders/pkg/logger"
)

const signatureHeader = "X-Hub-Signature-256"

type WebhookService interface {
	Handshake(mode, token, challenge string) (string, bool)
	Ingest(ctx context.Context, payload *model.WebhookPayload) *services.IngestReport
}

type WebhookHandler struct {
	svc       WebhookService
	appSecret []byte
	timeout   time.Duration
	envelope  *envelopeValidator
}

type WebhookConfig struct {
	// AppSecret enables signature checks when set.
	AppSecret string
	Timeout   time.Duration
}

func RegisterWebhookRoutes(e *router.Group, h *WebhookHandler) {
	e.GET("/webhooks/whatsapp", h.Verify)
	e.POST("/webhooks/whatsapp", h.Receive)
}

func NewWebhookHandler(svc WebhookService, cfg WebhookConfig) (*WebhookHandler, error) {
	v, err := newEnvelopeValidator()
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebhookHandler{
		svc:       svc,
		appSecret: []byte(cfg.AppSecret),
		timeout:   cfg.Timeout,
		envelope:  v,
	}, nil
}

type webhookAck struct {
	Success bool `json:"success"`
}

func (h *WebhookHandler) Verify(ctx *xhttp.RequestCtx) {
	challenge, ok := h.svc.Handshake(query(ctx, "hub.mode"), query(ctx, "hub.verify_token"), query(ctx, "hub.challenge"))
	if !ok {
		logger.Warn("Webhook verification rejected", "mode", query(ctx, "hub.mode"))
		ctx.Response.SetStatusCode(xhttp.StatusForbidden)
		ctx.Response.SetBodyString("forbidden")
		return
	}
	ctx.Response.Header.Set("Content-Type", "text/plain; charset=utf-8")
	ctx.Response.SetStatusCode(xhttp.StatusOK)
	ctx.Response.SetBodyString(challenge)
}

// Receive answers 200 for anything the provider should not retry. Only a
// malformed body, a foreign object type or a bad signature are refused.
func (h *WebhookHandler) Receive(ctx *xhttp.RequestCtx) {
	body := ctx.PostBody()

	if len(h.appSecret) > 0 && !h.validSignature(body, string(ctx.Request.Header.Peek(signatureHeader))) {
		logger.Warn("Webhook signature mismatch", "request_id", xhttp.RequestID(ctx))
		writeError(ctx, xhttp.StatusUnauthorized, "invalid signature")
		return
	}

	var payload model.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if payload.Object != model.WebhookObjectType {
		writeError(ctx, xhttp.StatusBadRequest, "unexpected object type: "+payload.Object)
		return
	}

	if err := h.envelope.Validate(body); err != nil {
		logger.Warn("Webhook payload rejected by schema", "error", err)
		writeJSON(ctx, xhttp.StatusOK, webhookAck{Success: false})
		return
	}

	// the provider may hang up early, ingestion still has to finish
	ingestCtx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	report := h.svc.Ingest(ingestCtx, &payload)
	logger.Debug("Webhook ingested", "messages", report.Messages, "duplicates", report.Duplicates, "statuses", report.Statuses, "failures", report.Failures)
	writeJSON(ctx, xhttp.StatusOK, webhookAck{Success: report.Failures == 0})
}

func (h *WebhookHandler) validSignature(body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.appSecret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
