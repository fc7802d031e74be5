package helpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gateway "github.com/nimasrn/visit-reminders/internal/gateways"
	"github.com/nimasrn/visit-reminders/internal/model"
	"github.com/nimasrn/visit-reminders/internal/repository"
	"github.com/nimasrn/visit-reminders/pkg/pg"
	"github.com/nimasrn/visit-reminders/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB returns a migrated in-memory database. A single connection keeps
// every caller on the same in-memory schema.
func SetupTestDB(t *testing.T) *pg.DB {
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
	return pg.New(db, db)
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)

	// adapters are cached by name
	adapter, err := redis.NewRedisAdapter(fmt.Sprintf("%s-%s", t.Name(), mr.Addr()), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	return mr, adapter
}

// CreateClient stores a copy of c, so shared fixtures stay untouched.
func CreateClient(t *testing.T, db *pg.DB, c model.Client) *model.Client {
	out, err := repository.NewClientRepository(db).Create(context.Background(), &c)
	require.NoError(t, err)
	return out
}

func CreateReminder(t *testing.T, db *pg.DB, r *model.Reminder) *model.Reminder {
	out, err := repository.NewReminderRepository(db).Create(context.Background(), r)
	require.NoError(t, err)
	return out
}

// FakeGateway accepts every template and hands out sequential wamids.
type FakeGateway struct {
	mu    sync.Mutex
	sent  []*gateway.TemplateMessage
	seq   int
	FailN int
}

func (g *FakeGateway) SendTemplate(_ context.Context, msg *gateway.TemplateMessage) (*gateway.SendResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailN > 0 {
		g.FailN--
		return nil, &gateway.APIError{HTTPStatus: 503, Message: "Service temporarily unavailable", Code: 2}
	}
	g.seq++
	g.sent = append(g.sent, msg)
	return &gateway.SendResponse{MessageID: fmt.Sprintf("wamid.E2E%04d", g.seq), WaID: msg.To}, nil
}

func (g *FakeGateway) Sent() []*gateway.TemplateMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*gateway.TemplateMessage(nil), g.sent...)
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func Ptr[T any](v T) *T {
	return &v
}
