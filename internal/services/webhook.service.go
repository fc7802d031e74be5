package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/internal/repository"
	"github.com/nimasrn/visit-reminders/pkg/logger"
	"github.com/nimasrn/visit-reminders/pkg/prom"
)

const handshakeMode = "subscribe"

type InboundConversationStore interface {
	GetByPhone(ctx context.Context, phone string) (*model.Conversation, error)
	FindOrCreate(ctx context.Context, phone string, clientID *int64) (*model.Conversation, error)
	TouchInbound(ctx context.Context, id int64, at time.Time) error
}

type ClientFinder interface {
	FindByPhone(ctx context.Context, phone string) (*model.Client, error)
}

type ReplyRecorder interface {
	RecordReply(ctx context.Context, clientID int64, status model.ReminderStatus, at time.Time) (int64, error)
}

type StatusAppender interface {
	Append(ctx context.Context, entry *model.StatusLogEntry) (*model.StatusLogEntry, error)
}

// ReplayGuard remembers provider message ids that were already ingested.
type ReplayGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// IngestReport counts what one webhook delivery contained.
type IngestReport struct {
	Messages   int `json:"messages"`
	Duplicates int `json:"duplicates"`
	Statuses   int `json:"statuses"`
	Failures   int `json:"failures"`
}

type WebhookService struct {
	verifyToken   string
	conversations InboundConversationStore
	clients       ClientFinder
	messages      MessageStore
	replies       ReplyRecorder
	statusLog     StatusAppender
	reconciler    ProviderReconciler
	guard         ReplayGuard
	tx            Transactor
	now           func() time.Time
}

type WebhookServiceDeps struct {
	Conversations InboundConversationStore
	Clients       ClientFinder
	Messages      MessageStore
	Replies       ReplyRecorder
	StatusLog     StatusAppender
	Reconciler    ProviderReconciler
	Guard         ReplayGuard
	Tx            Transactor
}

func NewWebhookService(verifyToken string, deps WebhookServiceDeps) *WebhookService {
	return &WebhookService{
		verifyToken:   verifyToken,
		conversations: deps.Conversations,
		clients:       deps.Clients,
		messages:      deps.Messages,
		replies:       deps.Replies,
		statusLog:     deps.StatusLog,
		reconciler:    deps.Reconciler,
		guard:         deps.Guard,
		tx:            deps.Tx,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Handshake answers the subscription challenge. It succeeds only for the
// subscribe mode with the configured, non-empty verify token.
func (s *WebhookService) Handshake(mode, token, challenge string) (string, bool) {
	if mode != handshakeMode || s.verifyToken == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.verifyToken)) != 1 {
		return "", false
	}
	return challenge, true
}

// Ingest stores every message and status event of the payload. Individual
// failures are logged and counted, they never abort the rest.
func (s *WebhookService) Ingest(ctx context.Context, payload *model.WebhookPayload) *IngestReport {
	report := &IngestReport{}
	messages, statuses := payload.Events()

	for _, m := range messages {
		inserted, err := s.ingestMessage(ctx, m)
		switch {
		case err != nil:
			report.Failures++
			prom.IncWebhookEvent("message_error")
			logger.Error("Inbound message not stored", "provider_message_id", m.ProviderMessageID, "from", m.From, "error", err)
		case !inserted:
			report.Duplicates++
			prom.IncWebhookEvent("duplicate")
		default:
			report.Messages++
			prom.IncWebhookEvent("message_" + string(m.Content.Kind()))
		}
	}

	seen := make(map[string]struct{}, len(statuses))
	var pids []string
	for _, ev := range statuses {
		if err := s.appendStatus(ctx, ev); err != nil {
			report.Failures++
			prom.IncWebhookEvent("status_error")
			logger.Error("Status callback not logged", "provider_message_id", ev.ProviderMessageID, "status", ev.Status, "error", err)
			continue
		}
		report.Statuses++
		prom.IncWebhookEvent("status_" + string(ev.Status))
		if _, ok := seen[ev.ProviderMessageID]; !ok {
			seen[ev.ProviderMessageID] = struct{}{}
			pids = append(pids, ev.ProviderMessageID)
		}
	}
	for _, pid := range pids {
		s.bestEffortApplyStatus(ctx, pid)
	}

	return report
}

func (s *WebhookService) ingestMessage(ctx context.Context, m model.InboundMessage) (bool, error) {
	phone := model.NormalizePhone(m.From)
	if phone == "" {
		return false, fmt.Errorf("invalid sender %q", m.From)
	}
	if m.ProviderMessageID == "" {
		return false, errors.New("message without id")
	}

	key := "inbound:" + m.ProviderMessageID
	if s.guard != nil {
		fresh, err := s.guard.Claim(ctx, key)
		if err != nil {
			// the unique index still catches replays
			logger.Warn("Replay guard unavailable", "provider_message_id", m.ProviderMessageID, "error", err)
		} else if !fresh {
			return false, nil
		}
	}

	inserted, err := s.storeMessage(ctx, phone, m)
	if err != nil && s.guard != nil {
		if rerr := s.guard.Release(context.WithoutCancel(ctx), key); rerr != nil {
			logger.Warn("Replay guard release failed", "key", key, "error", rerr)
		}
	}
	return inserted, err
}

func (s *WebhookService) storeMessage(ctx context.Context, phone string, m model.InboundMessage) (bool, error) {
	conv, err := s.conversation(ctx, phone)
	if err != nil {
		return false, err
	}

	at := m.Timestamp
	if at.IsZero() {
		at = s.now()
	}

	metadata := m.Content.Metadata()
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["kind"] = string(m.Content.Kind())
	if m.ContactName != "" {
		metadata["contact_name"] = m.ContactName
	}
	if m.ContextID != "" {
		metadata["context_id"] = m.ContextID
	}

	pid := m.ProviderMessageID
	inserted := false
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		_, ok, err := s.messages.Create(ctx, &model.Message{
			ConversationID:    conv.ID,
			ProviderMessageID: &pid,
			Direction:         model.MessageDirectionInbound,
			Type:              string(m.Content.Kind()),
			Status:            model.MessageStatusReceived,
			Body:              m.Content.Body(),
			Metadata:          metadata,
			CreatedAt:         at,
		})
		if err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		if !ok {
			return nil
		}
		inserted = true

		if err := s.conversations.TouchInbound(ctx, conv.ID, at); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}

		next, isReply := ReplyStatus(m.Content)
		if conv.ClientID == nil || !isReply {
			return nil
		}
		n, err := s.replies.RecordReply(ctx, *conv.ClientID, next, at)
		if err != nil {
			return fmt.Errorf("record reply: %w", err)
		}
		if n > 0 {
			logger.Info("Reply recorded", "client_id", *conv.ClientID, "status", next, "reminders", n)
		}
		return nil
	})
	return inserted, err
}

// conversation returns the thread for phone, attaching a client when one
// matches and the thread has none yet.
func (s *WebhookService) conversation(ctx context.Context, phone string) (*model.Conversation, error) {
	conv, err := s.conversations.GetByPhone(ctx, phone)
	if err == nil && conv.ClientID != nil {
		return conv, nil
	}
	if err != nil && !errors.Is(err, repository.ErrConversationNotFound) {
		return nil, fmt.Errorf("find conversation: %w", err)
	}

	var clientID *int64
	client, err := s.clients.FindByPhone(ctx, phone)
	switch {
	case err == nil:
		clientID = &client.ID
	case errors.Is(err, repository.ErrClientNotFound):
	default:
		return nil, fmt.Errorf("find client: %w", err)
	}

	conv, err = s.conversations.FindOrCreate(ctx, phone, clientID)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// ReplyStatus maps inbound content to the reminder status it implies.
// Reactions are acknowledgements, not replies.
func ReplyStatus(c model.InboundContent) (model.ReminderStatus, bool) {
	var signal string
	switch v := c.(type) {
	case model.ReactionContent:
		return "", false
	case model.ButtonContent:
		signal = v.Payload + " " + v.Text
	case model.InteractiveContent:
		signal = v.ReplyID + " " + v.Title
	default:
		return model.ReminderStatusReplied, true
	}

	signal = strings.ToLower(signal)
	switch {
	case strings.Contains(signal, "confirm"):
		return model.ReminderStatusAppointmentConfirmed, true
	case strings.Contains(signal, "callback"), strings.Contains(signal, "call me"):
		return model.ReminderStatusCallbackRequested, true
	default:
		return model.ReminderStatusReplied, true
	}
}

func (s *WebhookService) appendStatus(ctx context.Context, ev model.StatusEvent) error {
	if ev.ProviderMessageID == "" {
		return errors.New("status without message id")
	}
	_, err := s.statusLog.Append(ctx, &model.StatusLogEntry{
		ProviderMessageID: ev.ProviderMessageID,
		Status:            ev.Status,
		Recipient:         ev.Recipient,
		ErrorPayload:      ev.Errors,
		ReportedAt:        ev.Timestamp,
		CreatedAt:         s.now(),
	})
	return err
}

// bestEffortApplyStatus reconciles right after logging. Anything it misses is
// picked up by the sweep.
func (s *WebhookService) bestEffortApplyStatus(ctx context.Context, pid string) {
	if s.reconciler == nil {
		return
	}
	if _, err := s.reconciler.ReconcileProviderMessage(ctx, pid); err != nil {
		logger.Warn("Immediate status apply failed", "provider_message_id", pid, "error", err)
	}
}
