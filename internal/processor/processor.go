package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/visit-reminders/internal/config"
	"github.com/nimasrn/visit-reminders/internal/queue"
	"github.com/nimasrn/visit-reminders/pkg/logger"
	"github.com/nimasrn/visit-reminders/pkg/prom"
	"github.com/nimasrn/visit-reminders/pkg/redis"
)

const (
	ReportInterval  = 30 * time.Second
	ShutdownTimeout = time.Minute
	// HighBacklog is the pending count above which the health check warns.
	HighBacklog = 1000
)

type Processor interface {
	Process(ctx context.Context, msg *queue.Message) error
	GetType() string
}

// ProcessorService owns the dispatch consumer and the sweep loop of the
// processor binary.
type ProcessorService struct {
	adapter   redis.RedisAdapter
	queue     *queue.Queue
	processor Processor
	sweep     *SweepLoop
	metrics   *ServiceMetrics

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewProcessorService(adapter redis.RedisAdapter, processor Processor, sweep *SweepLoop) *ProcessorService {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter:   adapter,
		processor: processor,
		sweep:     sweep,
		metrics:   NewServiceMetrics(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// QueueConfigFromEnv builds the consumer settings from the loaded config.
func QueueConfigFromEnv() queue.QueueConfig {
	cfg := config.Get()
	return queue.QueueConfig{
		Name:              cfg.QueueName,
		ConsumerGroup:     cfg.QueueConsumerGroup,
		ConsumerName:      cfg.QueueConsumerName,
		MaxRetries:        cfg.QueueMaxRetries,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		PollInterval:      cfg.QueuePollInterval,
		BatchSize:         cfg.QueueBatchSize,
		MaxLen:            cfg.QueueMaxLen,
		EnableDLQ:         cfg.QueueEnableDLQ,
	}
}

// Start begins consuming with a single consumer, so the pacing delay holds
// across every job this process sends.
func (s *ProcessorService) Start(qcfg queue.QueueConfig) error {
	logger.Info("Starting processor service", "queue", qcfg.Name, "processor", s.processor.GetType())

	q, err := queue.NewQueue(s.adapter, qcfg)
	if err != nil {
		return fmt.Errorf("create dispatch queue: %w", err)
	}
	if err := q.Consume(s.handle); err != nil {
		return fmt.Errorf("start dispatch consumer: %w", err)
	}
	s.queue = q

	if s.sweep != nil {
		if err := s.sweep.Start(s.ctx); err != nil {
			return fmt.Errorf("start sweep loop: %w", err)
		}
	}

	s.wg.Add(1)
	go s.reporter()

	logger.Info("Processor service started")
	return nil
}

func (s *ProcessorService) handle(ctx context.Context, msg *queue.Message) error {
	start := time.Now()
	if err := s.processor.Process(ctx, msg); err != nil {
		s.metrics.RecordRetry()
		logger.Warn("Dispatch job will be redelivered", "stream_id", msg.ID, "attempts", msg.Attempts, "error", err)
		return err
	}
	s.metrics.RecordHandled(time.Since(start))
	return nil
}

func (s *ProcessorService) reporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.report()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) report() {
	m := s.metrics.Snapshot()
	logger.Info("Processor metrics",
		"handled", m.Handled,
		"retried", m.Retried,
		"rate_per_second", m.RatePerSecond,
		"avg_duration_ms", m.AvgDuration.Milliseconds(),
		"uptime", m.Uptime.Round(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.adapter.Ping(ctx); err != nil {
		logger.Error("Redis unreachable", "error", err)
		return
	}
	if s.queue == nil {
		return
	}
	stats, err := s.queue.GetStats()
	if err != nil {
		logger.Warn("Queue stats unavailable", "error", err)
		return
	}
	prom.SetDispatchPending(s.queue.Name(), stats.PendingMessages)
	if stats.PendingMessages > HighBacklog {
		logger.Warn("Dispatch backlog is high", "pending", stats.PendingMessages, "dead_letters", stats.DeadLetters)
	}
}

func (s *ProcessorService) Stop() {
	logger.Info("Shutting down processor service...")
	s.cancel()

	if s.sweep != nil {
		s.sweep.Stop()
	}
	if s.queue != nil {
		if err := s.queue.Stop(ShutdownTimeout); err != nil {
			logger.Error("Error stopping dispatch queue", "error", err)
		}
	}

	s.wg.Wait()
	s.report()
	logger.Info("Processor service stopped")
}
