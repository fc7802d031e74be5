package services

import (
	"context"
	"testing"
	"time"

	gateway "github.com/nimasrn/visit-reminders/internal/gateways"
	"github.com/nimasrn/visit-reminders/internal/facility"
	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/internal/repository"
	"github.com/nimasrn/visit-reminders/pkg/pg"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) SendTemplate(ctx context.Context, msg *gateway.TemplateMessage) (*gateway.SendResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.SendResponse), args.Error(1)
}

type testEnv struct {
	db            *pg.DB
	clients       *repository.ClientRepository
	reminders     *repository.ReminderRepository
	conversations *repository.ConversationRepository
	messages      *repository.MessageRepository
	statusLog     *repository.StatusLogRepository
	gateway       *MockGateway
	reconciler    *ReconcileService
	send          *SendService
}

func setupTestDB(t *testing.T) *pg.DB {
	db := openTestGorm(t)
	return pg.New(db, db)
}

// openTestGorm opens a migrated, empty in-memory database.
func openTestGorm(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  logger.Default.LogMode(logger.Silent),

		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.AutoMigrate(db))
	return db
}

var testFacilities = []*model.Facility{
	{Name: "Lisboa Centro", TemplateName: "service_reminder_pt", TemplateLanguage: "pt_PT", Phone: "+351 210 000 000"},
	{Name: "Porto Norte", Phone: "+351 220 000 000"},
}

func newTestEnv(t *testing.T) *testEnv {
	db := setupTestDB(t)
	env := &testEnv{
		db:            db,
		clients:       repository.NewClientRepository(db),
		reminders:     repository.NewReminderRepository(db),
		conversations: repository.NewConversationRepository(db),
		messages:      repository.NewMessageRepository(db),
		statusLog:     repository.NewStatusLogRepository(db),
		gateway:       new(MockGateway),
	}
	env.reconciler = NewReconcileService(env.statusLog, env.messages, db, ReconcileConfig{Cutoff: time.Minute, BatchSize: 50})

	dir := facility.NewDirectory(facility.SourceFunc(func(context.Context) ([]*model.Facility, error) {
		return testFacilities, nil
	}), 0.6)

	env.send = NewSendService(SendServiceDeps{
		Reminders:     env.reminders,
		Clients:       env.clients,
		Conversations: env.conversations,
		Messages:      env.messages,
		Facilities:    dir,
		Gateway:       env.gateway,
		Tx:            db,
		Reconciler:    env.reconciler,
	}, SendConfig{
		DefaultTemplate:      "service_reminder",
		TemplateLanguage:     "pl",
		DefaultFacilityName:  "our service centre",
		DefaultFacilityPhone: "-",
		GatewayTimeout:       time.Second,
	})
	return env
}

func (e *testEnv) seed(t *testing.T, status model.ReminderStatus, facilityName string) (*model.Client, *model.Reminder) {
	ctx := context.Background()
	lastVisit := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	c, err := e.clients.Create(ctx, &model.Client{
		Name:          "Rui Costa",
		Phone:         "5511987654321",
		Vehicle:       "Fiat Palio Weekend",
		LastVisitDate: &lastVisit,
	})
	require.NoError(t, err)
	r, err := e.reminders.Create(ctx, &model.Reminder{ClientID: c.ID, Status: status, FacilityName: facilityName})
	require.NoError(t, err)
	return c, r
}

func (e *testEnv) appendStatus(t *testing.T, pid string, status model.MessageStatus, createdAt time.Time) {
	_, err := e.statusLog.Append(context.Background(), &model.StatusLogEntry{
		ProviderMessageID: pid,
		Status:            status,
		CreatedAt:         createdAt,
	})
	require.NoError(t, err)
}

func ptr[T any](v T) *T {
	return &v
}
