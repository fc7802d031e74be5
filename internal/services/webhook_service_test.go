package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	gateway "github.com/nimasrn/visit-reminders/internal/gateways"
	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type memoryGuard struct {
	mu      sync.Mutex
	seen    map[string]bool
	failing bool
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{seen: map[string]bool{}}
}

func (g *memoryGuard) Claim(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failing {
		return false, errors.New("redis unavailable")
	}
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func (g *memoryGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
	return nil
}

func (e *testEnv) webhookService(guard ReplayGuard) *WebhookService {
	return NewWebhookService("s3cret", WebhookServiceDeps{
		Conversations: e.conversations,
		Clients:       e.clients,
		Messages:      e.messages,
		Replies:       e.reminders,
		StatusLog:     e.statusLog,
		Reconciler:    e.reconciler,
		Guard:         guard,
		Tx:            e.db,
	})
}

func parsePayload(t *testing.T, raw string) *model.WebhookPayload {
	var p model.WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return &p
}

const textPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "1029384756",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "123456"},
        "contacts": [{"wa_id": "5511987654321", "profile": {"name": "Rui"}}],
        "messages": [{
          "id": "wamid.IN1",
          "from": "5511987654321",
          "timestamp": "1760000000",
          "type": "text",
          "text": {"body": "Can I come on Friday?"}
        }]
      }
    }]
  }]
}`

func TestWebhookService_Handshake(t *testing.T) {
	svc := NewWebhookService("s3cret", WebhookServiceDeps{})

	tests := []struct {
		name      string
		mode      string
		token     string
		want      string
		wantValid bool
	}{
		{"valid", "subscribe", "s3cret", "challenge-42", true},
		{"wrong token", "subscribe", "nope", "", false},
		{"wrong mode", "unsubscribe", "s3cret", "", false},
		{"empty token", "subscribe", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := svc.Handshake(tt.mode, tt.token, "challenge-42")
			assert.Equal(t, tt.wantValid, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("no verify token configured", func(t *testing.T) {
		svc := NewWebhookService("", WebhookServiceDeps{})
		_, ok := svc.Handshake("subscribe", "", "c")
		assert.False(t, ok)
	})
}

func TestWebhookService_IngestText(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, r := env.seed(t, model.ReminderStatusReminderSent, "Lisboa Centro")
	svc := env.webhookService(newMemoryGuard())

	report := svc.Ingest(ctx, parsePayload(t, textPayload))
	assert.Equal(t, &IngestReport{Messages: 1}, report)

	conv, err := env.conversations.GetByPhone(ctx, "5511987654321")
	require.NoError(t, err)
	require.NotNil(t, conv.ClientID)
	assert.Equal(t, c.ID, *conv.ClientID)
	assert.Equal(t, 1, conv.UnreadCount)
	require.NotNil(t, conv.LastMessageAt)
	assert.Equal(t, time.Unix(1760000000, 0).UTC(), conv.LastMessageAt.UTC())

	msg, err := env.messages.GetByProviderID(ctx, "wamid.IN1")
	require.NoError(t, err)
	assert.Equal(t, model.MessageDirectionInbound, msg.Direction)
	assert.Equal(t, "Can I come on Friday?", msg.Body)
	assert.Equal(t, "text", msg.Type)
	assert.Equal(t, "Rui", msg.Metadata["contact_name"])

	got, err := env.reminders.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReminderStatusReplied, got.Status)
	assert.NotNil(t, got.ResponseReceivedAt)
}

func TestWebhookService_Replays(t *testing.T) {
	t.Run("replay guard", func(t *testing.T) {
		env := newTestEnv(t)
		svc := env.webhookService(newMemoryGuard())

		first := svc.Ingest(context.Background(), parsePayload(t, textPayload))
		second := svc.Ingest(context.Background(), parsePayload(t, textPayload))
		assert.Equal(t, 1, first.Messages)
		assert.Equal(t, 0, second.Messages)
		assert.Equal(t, 1, second.Duplicates)
	})

	t.Run("unique index when the guard is down", func(t *testing.T) {
		env := newTestEnv(t)
		guard := newMemoryGuard()
		guard.failing = true
		svc := env.webhookService(guard)

		svc.Ingest(context.Background(), parsePayload(t, textPayload))
		second := svc.Ingest(context.Background(), parsePayload(t, textPayload))
		assert.Equal(t, 1, second.Duplicates)

		conv, err := env.conversations.GetByPhone(context.Background(), "5511987654321")
		require.NoError(t, err)
		assert.Equal(t, 1, conv.UnreadCount, "a replay does not bump the unread count")
	})
}

func TestWebhookService_UnknownSenderOpensConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.webhookService(nil)

	p := parsePayload(t, textPayload)
	p.Entry[0].Changes[0].Value.Messages[0].From = "4915112345678"

	report := svc.Ingest(ctx, p)
	assert.Equal(t, 1, report.Messages)

	conv, err := env.conversations.GetByPhone(ctx, "4915112345678")
	require.NoError(t, err)
	assert.Nil(t, conv.ClientID)
}

func TestReplyStatus(t *testing.T) {
	tests := []struct {
		name    string
		content model.InboundContent
		want    model.ReminderStatus
		isReply bool
	}{
		{"text", model.TextContent{Text: "ok"}, model.ReminderStatusReplied, true},
		{"confirm button", model.ButtonContent{Payload: "CONFIRM_VISIT", Text: "Confirm"}, model.ReminderStatusAppointmentConfirmed, true},
		{"callback button", model.ButtonContent{Payload: "CALLBACK", Text: "Call me back"}, model.ReminderStatusCallbackRequested, true},
		{"other button", model.ButtonContent{Payload: "STOP", Text: "Stop"}, model.ReminderStatusReplied, true},
		{"interactive confirm", model.InteractiveContent{ReplyID: "confirm", Title: "Yes"}, model.ReminderStatusAppointmentConfirmed, true},
		{"media", model.MediaContent{MediaType: "image"}, model.ReminderStatusReplied, true},
		{"reaction", model.ReactionContent{Emoji: "👍"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ReplyStatus(tt.content)
			assert.Equal(t, tt.isReply, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWebhookService_ConfirmButtonBeatsEarlierReply(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, r := env.seed(t, model.ReminderStatusReminderSent, "Lisboa Centro")
	svc := env.webhookService(nil)

	svc.Ingest(ctx, parsePayload(t, textPayload))

	p := parsePayload(t, textPayload)
	m := &p.Entry[0].Changes[0].Value.Messages[0]
	m.ID = "wamid.IN2"
	m.Type = "button"
	m.Text = nil
	m.Button = &model.RawButton{Payload: "CONFIRM", Text: "Confirm visit"}

	report := svc.Ingest(ctx, p)
	assert.Equal(t, 1, report.Messages)

	got, err := env.reminders.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReminderStatusAppointmentConfirmed, got.Status)
}

// A delivered callback for a message sent moments ago is applied at once and
// leaves the reminder status alone.
func TestWebhookService_ImmediateStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, r := env.seed(t, model.ReminderStatusPending, "Lisboa Centro")

	env.gateway.On("SendTemplate", mock.Anything, mock.Anything).
		Return(&gateway.SendResponse{MessageID: "wamid.Y"}, nil).Once()
	res := env.send.Send(ctx, model.SendRequest{ReminderID: r.ID, Phone: "5511987654321"})
	require.True(t, res.StatusRecorded)

	svc := env.webhookService(nil)
	report := svc.Ingest(ctx, parsePayload(t, `{
	  "object": "whatsapp_business_account",
	  "entry": [{"id": "1", "changes": [{"field": "messages", "value": {
	    "messaging_product": "whatsapp",
	    "statuses": [{"id": "wamid.Y", "status": "delivered", "timestamp": "1760000100", "recipient_id": "5511987654321"}]
	  }}]}]
	}`))
	assert.Equal(t, 1, report.Statuses)

	msg, err := env.messages.GetByProviderID(ctx, "wamid.Y")
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusDelivered, msg.Status)

	entries, err := env.statusLog.ListByProviderID(ctx, "wamid.Y")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Processed)

	got, err := env.reminders.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReminderStatusReminderSent, got.Status)
}

func TestWebhookService_StatusForUnknownMessageIsLogged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.webhookService(nil)

	report := svc.Ingest(ctx, parsePayload(t, `{
	  "object": "whatsapp_business_account",
	  "entry": [{"id": "1", "changes": [{"field": "messages", "value": {
	    "statuses": [
	      {"id": "wamid.LATE", "status": "READ", "timestamp": "1760000200"},
	      {"id": "wamid.LATE", "status": "failed", "errors": [{"code": 131047, "title": "Re-engagement message"}]}
	    ]
	  }}]}]
	}`))
	assert.Equal(t, 2, report.Statuses)
	assert.Zero(t, report.Failures)

	open, err := env.statusLog.ListUnprocessed(ctx, "wamid.LATE")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, model.MessageStatusRead, open[0].Status)
	assert.JSONEq(t, `[{"code": 131047, "title": "Re-engagement message"}]`, string(open[1].ErrorPayload))
}
