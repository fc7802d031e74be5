package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/internal/queue"
	"github.com/nimasrn/visit-reminders/pkg/logger"
)

type Sender interface {
	Send(ctx context.Context, req model.SendRequest) *model.SendResult
}

type Pacer interface {
	Wait(ctx context.Context) error
}

// DispatchProcessor turns queued dispatch jobs into paced reminder sends.
type DispatchProcessor struct {
	sender      Sender
	pacer       Pacer
	idempotency *IdempotencyService
}

func NewDispatchProcessor(sender Sender, pacer Pacer, idempotency *IdempotencyService) *DispatchProcessor {
	return &DispatchProcessor{sender: sender, pacer: pacer, idempotency: idempotency}
}

func (p *DispatchProcessor) GetType() string {
	return "dispatch"
}

// Process returns nil when the job is finished for good and an error when the
// stream should redeliver it.
func (p *DispatchProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var job model.DispatchJob
	if err := msg.Decode(&job); err != nil {
		logger.Error("Malformed dispatch job", "stream_id", msg.ID, "error", err)
		return fmt.Errorf("decode dispatch job: %w", err)
	}
	if job.ID == "" {
		job.ID = msg.ID
	}

	claim, err := p.idempotency.Acquire(ctx, job.ID)
	switch {
	case errors.Is(err, ErrAlreadyDispatched):
		logger.Info("Dispatch job already handled", "job_id", job.ID)
		return nil
	case errors.Is(err, ErrRetriesExhausted):
		logger.Error("Giving up on dispatch job", "job_id", job.ID, "reminder_id", job.ReminderID, "error", err)
		return nil
	case err != nil:
		return err
	}
	defer p.idempotency.Release(ctx, claim)

	if err := p.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("pacing dispatch job %s: %w", job.ID, err)
	}

	res := p.sender.Send(ctx, model.SendRequest{ReminderID: job.ReminderID, Phone: job.Phone})

	switch res.Kind {
	case model.SendErrorGateway, model.SendErrorCancelled:
		sendErr := errors.New(res.Error)
		if err := p.idempotency.MarkFailure(ctx, claim, sendErr); err != nil {
			logger.Error("Failed to record dispatch failure", "job_id", job.ID, "attempt", claim.Attempt+1, "error", err)
		}
		return fmt.Errorf("dispatch job %s: %w", job.ID, sendErr)
	case model.SendErrorValidation, model.SendErrorNotFound:
		// retrying cannot fix these
		logger.Warn("Dropping dispatch job",
			"job_id", job.ID,
			"reminder_id", job.ReminderID,
			"kind", res.Kind,
			"error", res.Error)
	}

	// a persistence failure after the gateway accepted must not resend
	if err := p.idempotency.MarkSuccess(ctx, claim); err != nil {
		logger.Error("Failed to mark dispatch job done", "job_id", job.ID, "error", err)
	}
	logger.Info("Dispatch job handled",
		"job_id", job.ID,
		"reminder_id", job.ReminderID,
		"success", res.Success,
		"provider_message_id", res.ProviderMessageID,
		"attempt", claim.Attempt+1)
	return nil
}
