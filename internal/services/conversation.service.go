package services

import (
	"context"

	"github.com/nimasrn/visit-reminders/internal/model"
)

type ConversationReader interface {
	GetByID(ctx context.Context, id int64) (*model.Conversation, error)
	List(ctx context.Context, f model.ConversationFilter) ([]*model.Conversation, int64, error)
	MarkRead(ctx context.Context, id int64) error
}

type MessageReader interface {
	List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error)
}

type ConversationService struct {
	conversations ConversationReader
	messages      MessageReader
}

func NewConversationService(conversations ConversationReader, messages MessageReader) *ConversationService {
	return &ConversationService{conversations: conversations, messages: messages}
}

func (s *ConversationService) List(ctx context.Context, f model.ConversationFilter) ([]*model.Conversation, int64, error) {
	return s.conversations.List(ctx, f)
}

// Messages lists one thread. An unknown conversation id is reported as not
// found rather than an empty page.
func (s *ConversationService) Messages(ctx context.Context, conversationID int64, f model.MessageFilter) ([]*model.Message, int64, error) {
	if _, err := s.conversations.GetByID(ctx, conversationID); err != nil {
		return nil, 0, err
	}
	f.ConversationID = &conversationID
	return s.messages.List(ctx, f)
}

func (s *ConversationService) MarkRead(ctx context.Context, id int64) error {
	return s.conversations.MarkRead(ctx, id)
}
