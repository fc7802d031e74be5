package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/internal/repository"
	"github.com/nimasrn/visit-reminders/internal/services"
	xhttp "github.com/nimasrn/visit-reminders/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockSendService struct {
	mock.Mock
}

func (m *MockSendService) Send(ctx context.Context, req model.SendRequest) *model.SendResult {
	return m.Called(ctx, req).Get(0).(*model.SendResult)
}

func (m *MockSendService) SendBatch(ctx context.Context, reqs []model.SendRequest) *model.BatchResult {
	return m.Called(ctx, reqs).Get(0).(*model.BatchResult)
}

type MockReminderService struct {
	mock.Mock
}

func (m *MockReminderService) List(ctx context.Context, f model.ReminderFilter) ([]*model.Reminder, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Reminder), args.Get(1).(int64), args.Error(2)
}

func (m *MockReminderService) Get(ctx context.Context, id int64) (*services.ReminderDetail, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ReminderDetail), args.Error(1)
}

func (m *MockReminderService) UpdateStatus(ctx context.Context, id int64, u model.ReminderStatusUpdate) (*model.Reminder, error) {
	args := m.Called(ctx, id, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Reminder), args.Error(1)
}

func (m *MockReminderService) Enqueue(ctx context.Context, reqs []model.SendRequest) (*services.DispatchResult, error) {
	args := m.Called(ctx, reqs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.DispatchResult), args.Error(1)
}

type MockUrgencyService struct {
	mock.Mock
}

func (m *MockUrgencyService) Board(ctx context.Context, facility string) (*model.UrgencyBoard, error) {
	args := m.Called(ctx, facility)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UrgencyBoard), args.Error(1)
}

func TestReminderHandler_SendReminder(t *testing.T) {
	tests := []struct {
		name   string
		result *model.SendResult
		status int
	}{
		{"sent", &model.SendResult{Success: true, StatusRecorded: true, ProviderMessageID: "wamid.1"}, xhttp.StatusOK},
		{"sent but not recorded", &model.SendResult{Success: true, Kind: model.SendErrorPersistence}, xhttp.StatusOK},
		{"validation", &model.SendResult{Kind: model.SendErrorValidation, Error: "phone is required"}, xhttp.StatusBadRequest},
		{"not found", &model.SendResult{Kind: model.SendErrorNotFound}, xhttp.StatusNotFound},
		{"gateway", &model.SendResult{Kind: model.SendErrorGateway, Error: "Template name does not exist"}, xhttp.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send := new(MockSendService)
			h := NewReminderHandler(send, nil, nil)
			send.On("Send", mock.Anything, model.SendRequest{ReminderID: 5, Phone: "5511987654321"}).Return(tt.result).Once()

			ctx := setupTestContext("POST", "/reminders/5/send", []byte(`{"phone":"5511987654321"}`))
			ctx.SetUserValue("id", "5")
			h.SendReminder(ctx)

			assert.Equal(t, tt.status, ctx.Response.StatusCode())
			var got model.SendResult
			decodeBody(t, ctx, &got)
			assert.Equal(t, *tt.result, got)
			send.AssertExpectations(t)
		})
	}

	t.Run("bad id", func(t *testing.T) {
		h := NewReminderHandler(new(MockSendService), nil, nil)
		ctx := setupTestContext("POST", "/reminders/abc/send", []byte(`{}`))
		ctx.SetUserValue("id", "abc")
		h.SendReminder(ctx)
		assert.Equal(t, xhttp.StatusBadRequest, ctx.Response.StatusCode())
	})
}

func TestReminderHandler_SendBatch(t *testing.T) {
	send := new(MockSendService)
	h := NewReminderHandler(send, nil, nil)

	items := []model.SendRequest{{ReminderID: 1, Phone: "5511987654321"}, {ReminderID: 2, Phone: ""}}
	send.On("SendBatch", mock.Anything, items).Return(&model.BatchResult{
		Sent: 1, Failed: 1,
		Results: []*model.SendResult{{ReminderID: 1, Success: true}, {ReminderID: 2, Kind: model.SendErrorValidation}},
	}).Once()

	body, _ := json.Marshal(batchRequest{Items: items})
	ctx := setupTestContext("POST", "/reminders/send-batch", body)
	h.SendBatch(ctx)

	assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
	var got model.BatchResult
	decodeBody(t, ctx, &got)
	assert.Equal(t, 1, got.Sent)
	assert.Equal(t, 1, got.Failed)
	assert.Len(t, got.Results, 2)

	ctx = setupTestContext("POST", "/reminders/send-batch", []byte(`{"items":[]}`))
	h.SendBatch(ctx)
	assert.Equal(t, xhttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestReminderHandler_Dispatch(t *testing.T) {
	reminders := new(MockReminderService)
	h := NewReminderHandler(nil, reminders, nil)

	reminders.On("Enqueue", mock.Anything, []model.SendRequest{{ReminderID: 3, Phone: "5511987654321"}}).
		Return(&services.DispatchResult{Jobs: []*model.DispatchJob{{ID: "job-1", ReminderID: 3}}}, nil).Once()

	ctx := setupTestContext("POST", "/reminders/dispatch", []byte(`{"items":[{"reminder_id":3,"phone":"5511987654321"}]}`))
	h.Dispatch(ctx)
	assert.Equal(t, xhttp.StatusAccepted, ctx.Response.StatusCode())

	reminders.On("Enqueue", mock.Anything, []model.SendRequest(nil)).Return(nil, services.ErrNothingToDispatch).Once()
	ctx = setupTestContext("POST", "/reminders/dispatch", []byte(`{}`))
	h.Dispatch(ctx)
	assert.Equal(t, xhttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestReminderHandler_ListReminders(t *testing.T) {
	reminders := new(MockReminderService)
	h := NewReminderHandler(nil, reminders, nil)

	facility := "Lisboa Centro"
	reminders.On("List", mock.Anything, model.ReminderFilter{
		Statuses: []model.ReminderStatus{model.ReminderStatusReplied, model.ReminderStatusCallbackRequested},
		Facility: &facility,
		Limit:    20,
	}).Return([]*model.Reminder{{ID: 1}}, int64(1), nil).Once()

	ctx := setupTestContext("GET", "/reminders?status=replied,callback_requested&facility=Lisboa%20Centro&limit=20", nil)
	h.ListReminders(ctx)

	assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
	var got listResponse[*model.Reminder]
	decodeBody(t, ctx, &got)
	assert.Equal(t, int64(1), got.Total)
	reminders.AssertExpectations(t)

	ctx = setupTestContext("GET", "/reminders?status=bogus", nil)
	h.ListReminders(ctx)
	assert.Equal(t, xhttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestReminderHandler_GetReminder(t *testing.T) {
	reminders := new(MockReminderService)
	h := NewReminderHandler(nil, reminders, nil)
	reminders.On("Get", mock.Anything, int64(9)).Return(nil, repository.ErrReminderNotFound).Once()

	ctx := setupTestContext("GET", "/reminders/9", nil)
	ctx.SetUserValue("id", "9")
	h.GetReminder(ctx)
	assert.Equal(t, xhttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestReminderHandler_UpdateStatus(t *testing.T) {
	reminders := new(MockReminderService)
	h := NewReminderHandler(nil, reminders, nil)

	reminders.On("UpdateStatus", mock.Anything, int64(4), model.ReminderStatusUpdate{Status: model.ReminderStatusCompleted, Note: "done"}).
		Return(&model.Reminder{ID: 4, Status: model.ReminderStatusCompleted}, nil).Once()
	reminders.On("UpdateStatus", mock.Anything, int64(4), model.ReminderStatusUpdate{Status: "nope"}).
		Return(nil, model.ErrInvalidReminderStatus).Once()

	ctx := setupTestContext("POST", "/reminders/4/status", []byte(`{"status":"completed","note":"done"}`))
	ctx.SetUserValue("id", "4")
	h.UpdateStatus(ctx)
	assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())

	ctx = setupTestContext("POST", "/reminders/4/status", []byte(`{"status":"nope"}`))
	ctx.SetUserValue("id", "4")
	h.UpdateStatus(ctx)
	assert.Equal(t, xhttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestReminderHandler_GetUrgency(t *testing.T) {
	urgency := new(MockUrgencyService)
	h := NewReminderHandler(nil, nil, urgency)
	urgency.On("Board", mock.Anything, "Porto Norte").Return(&model.UrgencyBoard{Facility: "Porto Norte"}, nil).Once()

	ctx := setupTestContext("GET", "/reminders/urgency?facility=Porto+Norte", nil)
	h.GetUrgency(ctx)

	assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
	var board model.UrgencyBoard
	decodeBody(t, ctx, &board)
	assert.Equal(t, "Porto Norte", board.Facility)
}
