package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gateway "github.com/nimasrn/visit-reminders/internal/gateways"
	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/internal/repository"
	"github.com/nimasrn/visit-reminders/pkg/logger"
	"github.com/nimasrn/visit-reminders/pkg/prom"
)

const (
	templateDateLayout = "02/01/2006"
	missingValue       = "-"
	serviceInterval    = 2 // years between visits when no due date is stored
)

var (
	ErrInvalidReminderID = errors.New("reminder id must be positive")
	ErrPhoneRequired     = errors.New("phone is required")
	ErrInvalidPhone      = errors.New("phone must have at least 10 digits")
)

type ReminderStore interface {
	GetByID(ctx context.Context, id int64) (*model.Reminder, error)
	RecordSend(ctx context.Context, id int64, status model.ReminderStatus, providerMessageID string, at time.Time) error
	RecordFailure(ctx context.Context, id int64, errText string, at time.Time) error
	AddNote(ctx context.Context, reminderID int64, body string) (*model.ReminderNote, error)
}

type ClientStore interface {
	GetByID(ctx context.Context, id int64) (*model.Client, error)
}

type ConversationStore interface {
	FindOrCreate(ctx context.Context, phone string, clientID *int64) (*model.Conversation, error)
	TouchOutbound(ctx context.Context, id int64, at time.Time) error
}

type MessageStore interface {
	Create(ctx context.Context, msg *model.Message) (*model.Message, bool, error)
}

type FacilityResolver interface {
	Resolve(ctx context.Context, name string) (*model.Facility, bool)
}

type TemplateSender interface {
	SendTemplate(ctx context.Context, msg *gateway.TemplateMessage) (*gateway.SendResponse, error)
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProviderReconciler applies logged provider callbacks for one message id.
type ProviderReconciler interface {
	ReconcileProviderMessage(ctx context.Context, providerMessageID string) (*model.ReconcileOutcome, error)
}

type SendConfig struct {
	DefaultTemplate      string
	TemplateLanguage     string
	DefaultFacilityName  string
	DefaultFacilityPhone string
	GatewayTimeout       time.Duration
}

type SendService struct {
	reminders     ReminderStore
	clients       ClientStore
	conversations ConversationStore
	messages      MessageStore
	facilities    FacilityResolver
	gateway       TemplateSender
	tx            Transactor
	reconciler    ProviderReconciler
	pacer         Pacer
	cfg           SendConfig
	now           func() time.Time
}

type SendServiceDeps struct {
	Reminders     ReminderStore
	Clients       ClientStore
	Conversations ConversationStore
	Messages      MessageStore
	Facilities    FacilityResolver
	Gateway       TemplateSender
	Tx            Transactor
	Reconciler    ProviderReconciler
	Pacer         Pacer
}

func NewSendService(deps SendServiceDeps, cfg SendConfig) *SendService {
	pacer := deps.Pacer
	if pacer == nil {
		pacer = noPacer{}
	}
	return &SendService{
		reminders:     deps.Reminders,
		clients:       deps.Clients,
		conversations: deps.Conversations,
		messages:      deps.Messages,
		facilities:    deps.Facilities,
		gateway:       deps.Gateway,
		tx:            deps.Tx,
		reconciler:    deps.Reconciler,
		pacer:         pacer,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Send delivers one reminder template. It never returns an error; every
// outcome is described by the result.
func (s *SendService) Send(ctx context.Context, req model.SendRequest) *model.SendResult {
	res := &model.SendResult{ReminderID: req.ReminderID, Phone: req.Phone}

	phone, err := validateSendRequest(req)
	if err != nil {
		return s.finish(res, model.SendErrorValidation, err)
	}
	res.Phone = phone

	reminder, client, err := s.load(ctx, req.ReminderID)
	if err != nil {
		kind := model.SendErrorPersistence
		if errors.Is(err, repository.ErrReminderNotFound) || errors.Is(err, repository.ErrClientNotFound) {
			kind = model.SendErrorNotFound
		}
		return s.finish(res, kind, err)
	}

	facility := s.resolveFacility(ctx, reminder, client)
	vars := BuildTemplateVariables(client, reminder, facility)

	msg := &gateway.TemplateMessage{
		To:       phone,
		Template: facility.TemplateName,
		Language: facility.TemplateLanguage,
	}
	for _, p := range vars.Params() {
		msg.Params = append(msg.Params, gateway.TemplateParam{Name: p[0], Value: p[1]})
	}

	sendCtx := ctx
	if s.cfg.GatewayTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()
	}

	resp, err := s.gateway.SendTemplate(sendCtx, msg)
	if err != nil {
		s.recordFailure(ctx, reminder.ID, err)
		res.ReminderStatus = model.ReminderStatusFailed
		return s.finish(res, model.SendErrorGateway, err)
	}

	res.Success = true
	res.ProviderMessageID = resp.MessageID
	res.ReminderStatus = model.ReminderStatusReminderSent
	if reminder.Status.IsSent() {
		res.ReminderStatus = model.ReminderStatusSecondReminderSent
	}

	// the provider already accepted the message, a cancelled caller must not
	// leave it unrecorded
	persistCtx := context.WithoutCancel(ctx)
	if err := s.recordSend(persistCtx, reminder, client, phone, msg, vars, res); err != nil {
		logger.Error("Send accepted but not recorded", "reminder_id", reminder.ID, "provider_message_id", resp.MessageID, "error", err)
		return s.finish(res, model.SendErrorPersistence, err)
	}
	res.StatusRecorded = true

	s.bestEffortReconcile(persistCtx, resp.MessageID)
	return s.finish(res, model.SendErrorNone, nil)
}

// SendBatch sends the requests one after another, paced by the configured
// delay. Every request gets exactly one result.
func (s *SendService) SendBatch(ctx context.Context, reqs []model.SendRequest) *model.BatchResult {
	out := &model.BatchResult{Results: make([]*model.SendResult, 0, len(reqs))}

	for i, req := range reqs {
		if err := s.pacer.Wait(ctx); err != nil {
			for _, rest := range reqs[i:] {
				res := &model.SendResult{ReminderID: rest.ReminderID, Phone: rest.Phone}
				out.Results = append(out.Results, s.finish(res, model.SendErrorCancelled, err))
				out.Failed++
			}
			logger.Warn("Batch cancelled", "sent", out.Sent, "failed", out.Failed, "remaining", len(reqs)-i, "error", err)
			break
		}

		res := s.Send(ctx, req)
		out.Results = append(out.Results, res)
		if res.Success {
			out.Sent++
		} else {
			out.Failed++
		}
	}

	logger.Info("Batch finished", "total", len(reqs), "sent", out.Sent, "failed", out.Failed)
	return out
}

func validateSendRequest(req model.SendRequest) (string, error) {
	if req.ReminderID <= 0 {
		return "", ErrInvalidReminderID
	}
	if strings.TrimSpace(req.Phone) == "" {
		return "", ErrPhoneRequired
	}
	phone := model.NormalizePhone(req.Phone)
	if !model.ValidPhone(phone) {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

func (s *SendService) load(ctx context.Context, reminderID int64) (*model.Reminder, *model.Client, error) {
	reminder, err := s.reminders.GetByID(ctx, reminderID)
	if err != nil {
		return nil, nil, err
	}
	if reminder.Client != nil {
		return reminder, reminder.Client, nil
	}
	client, err := s.clients.GetByID(ctx, reminder.ClientID)
	if err != nil {
		return nil, nil, err
	}
	return reminder, client, nil
}

func (s *SendService) resolveFacility(ctx context.Context, r *model.Reminder, c *model.Client) *model.Facility {
	name := r.FacilityName
	if name == "" {
		name = c.FacilityName
	}

	f := &model.Facility{
		Name:             s.cfg.DefaultFacilityName,
		Phone:            s.cfg.DefaultFacilityPhone,
		TemplateName:     s.cfg.DefaultTemplate,
		TemplateLanguage: s.cfg.TemplateLanguage,
	}
	if name != "" && s.facilities != nil {
		if found, ok := s.facilities.Resolve(ctx, name); ok {
			f.Name = found.Name
			if found.Phone != "" {
				f.Phone = found.Phone
			}
			if found.TemplateName != "" {
				f.TemplateName = found.TemplateName
			}
			if found.TemplateLanguage != "" {
				f.TemplateLanguage = found.TemplateLanguage
			}
			return f
		}
		logger.Debug("Facility not resolved, using defaults", "facility", name)
	}
	return f
}

// BuildTemplateVariables fills the reminder template from the client record.
func BuildTemplateVariables(c *model.Client, r *model.Reminder, f *model.Facility) model.TemplateVariables {
	vehicleMake, vehicleModel := c.VehicleMake, c.VehicleModel
	if vehicleMake == "" && vehicleModel == "" {
		vehicleMake, vehicleModel = splitVehicle(c.Vehicle)
	}

	due := r.DueDate
	if due == nil && c.LastVisitDate != nil {
		d := c.LastVisitDate.AddDate(serviceInterval, 0, 0)
		due = &d
	}

	return model.TemplateVariables{
		ClientName:    orMissing(strings.TrimSpace(c.Name)),
		VehicleMake:   orMissing(vehicleMake),
		VehicleModel:  orMissing(vehicleModel),
		LastVisitDate: formatDate(c.LastVisitDate),
		NextDueDate:   formatDate(due),
		FacilityName:  orMissing(f.Name),
		FacilityPhone: orMissing(f.Phone),
	}
}

// splitVehicle takes the first word as the make and the rest as the model.
func splitVehicle(vehicle string) (string, string) {
	fields := strings.Fields(vehicle)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return missingValue
	}
	return t.Format(templateDateLayout)
}

func orMissing(s string) string {
	if s == "" {
		return missingValue
	}
	return s
}

func (s *SendService) recordFailure(ctx context.Context, reminderID int64, sendErr error) {
	ctx = context.WithoutCancel(ctx)
	text := sendErr.Error()
	now := s.now()

	if err := s.reminders.RecordFailure(ctx, reminderID, text, now); err != nil {
		logger.Error("Failed to record send failure", "reminder_id", reminderID, "error", err)
		return
	}
	if _, err := s.reminders.AddNote(ctx, reminderID, "Send failed: "+text); err != nil {
		logger.Warn("Failed to add failure note", "reminder_id", reminderID, "error", err)
	}
}

func (s *SendService) recordSend(ctx context.Context, r *model.Reminder, c *model.Client, phone string, msg *gateway.TemplateMessage, vars model.TemplateVariables, res *model.SendResult) error {
	now := s.now()
	pid := res.ProviderMessageID

	params := make(map[string]any, len(msg.Params))
	for _, p := range msg.Params {
		params[p.Name] = p.Value
	}

	return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.reminders.RecordSend(ctx, r.ID, res.ReminderStatus, pid, now); err != nil {
			return fmt.Errorf("record send: %w", err)
		}

		clientID := c.ID
		conv, err := s.conversations.FindOrCreate(ctx, phone, &clientID)
		if err != nil {
			return fmt.Errorf("find conversation: %w", err)
		}

		reminderID := r.ID
		_, _, err = s.messages.Create(ctx, &model.Message{
			ConversationID:    conv.ID,
			ReminderID:        &reminderID,
			ProviderMessageID: &pid,
			Direction:         model.MessageDirectionOutbound,
			Type:              "template",
			Status:            model.MessageStatusSent,
			Body:              msg.Template,
			Metadata: map[string]any{
				"template": msg.Template,
				"language": msg.Language,
				"params":   params,
			},
			CreatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("create message: %w", err)
		}

		if err := s.conversations.TouchOutbound(ctx, conv.ID, now); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}

		note := fmt.Sprintf("Reminder sent: %s / %s %s / due %s", vars.ClientName, vars.VehicleMake, vars.VehicleModel, vars.NextDueDate)
		if _, err := s.reminders.AddNote(ctx, r.ID, note); err != nil {
			return fmt.Errorf("add note: %w", err)
		}
		return nil
	})
}

// bestEffortReconcile applies callbacks that may have arrived before the send
// was recorded. Failures are left to the sweep.
func (s *SendService) bestEffortReconcile(ctx context.Context, providerMessageID string) {
	if s.reconciler == nil {
		return
	}
	if _, err := s.reconciler.ReconcileProviderMessage(ctx, providerMessageID); err != nil {
		logger.Warn("Immediate reconciliation failed", "provider_message_id", providerMessageID, "error", err)
	}
}

func (s *SendService) finish(res *model.SendResult, kind model.SendErrorKind, err error) *model.SendResult {
	res.Kind = kind
	if err != nil {
		res.Error = err.Error()
	}

	outcome := "ok"
	if kind != model.SendErrorNone {
		outcome = string(kind)
	}
	prom.IncReminderSend(outcome)

	if kind != model.SendErrorNone && kind != model.SendErrorPersistence {
		logger.Warn("Reminder not sent", "reminder_id", res.ReminderID, "kind", kind, "error", res.Error)
	} else if kind == model.SendErrorNone {
		logger.Info("Reminder sent", "reminder_id", res.ReminderID, "provider_message_id", res.ProviderMessageID, "status", res.ReminderStatus)
	}
	return res
}
