package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nimasrn/visit-reminders/internal/config"
	"github.com/nimasrn/visit-reminders/internal/facility"
	gateway "github.com/nimasrn/visit-reminders/internal/gateways"
	"github.com/nimasrn/visit-reminders/internal/processor"
	"github.com/nimasrn/visit-reminders/internal/repository"
	"github.com/nimasrn/visit-reminders/internal/services"
	"github.com/nimasrn/visit-reminders/pkg/logger"
	"github.com/nimasrn/visit-reminders/pkg/pg"
	"github.com/nimasrn/visit-reminders/pkg/prom"
	"github.com/nimasrn/visit-reminders/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const sweepLeaseKey = "sweep:lease"

func main() {
	defer logger.Sync()

	if err := config.Load(envPathFromArgs()); err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.SetDefaultFields("app", cfg.AppName, "bin", "processor", "env", cfg.AppEnv)
	logger.Info("starting processor", "version", version, "commit", commit, "date", date)

	readConf := pg.Config{
		User:         cfg.PostgresReadUser,
		Host:         cfg.PostgresReadHost,
		Port:         cfg.PostgresReadPort,
		Password:     cfg.PostgresReadPassword,
		Database:     cfg.PostgresReadDatabase,
		MaxOpenConns: cfg.PostgresMaxOpenConns,
	}
	writeConf := pg.Config{
		User:         cfg.PostgresWriteUser,
		Host:         cfg.PostgresWriteHost,
		Port:         cfg.PostgresWritePort,
		Password:     cfg.PostgresWritePassword,
		Database:     cfg.PostgresWriteDatabase,
		MaxOpenConns: cfg.PostgresMaxOpenConns,
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, cfg.AppEnv == "dev")
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: cfg.AppName + "-processor",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	gw, err := gateway.NewClient(&gateway.Config{
		BaseURL:                 cfg.WhatsAppAPIBaseURL,
		APIVersion:              cfg.WhatsAppAPIVersion,
		PhoneNumberID:           cfg.WhatsAppPhoneNumberID,
		AccessToken:             cfg.WhatsAppAccessToken,
		Timeout:                 cfg.GatewayTimeout,
		MaxRetries:              cfg.GatewayMaxRetries,
		RetryDelay:              cfg.GatewayRetryDelay,
		MaxConns:                cfg.GatewayMaxConns,
		ReadBufferSize:          4 * 1024,
		WriteBufferSize:         4 * 1024,
		CircuitBreakerThreshold: cfg.GatewayCircuitBreakerThreshold,
		CircuitBreakerTimeout:   cfg.GatewayCircuitBreakerTimeout,
	})
	if err != nil {
		logger.Error("failed to create gateway", "error", err)
		return
	}
	defer gw.Close()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.MetricsListenAddr, cfg.MetricsURI)

	messageRepo := repository.NewMessageRepository(db)
	statusLogRepo := repository.NewStatusLogRepository(db)

	sources := facility.FallbackSource{facility.RepositorySource{Repo: repository.NewFacilityRepository(db)}}
	if cfg.FacilitySeedFile != "" {
		sources = append(sources, facility.FileSource{Path: cfg.FacilitySeedFile})
	}
	directory := facility.NewDirectory(sources, cfg.FacilityMatchThreshold)
	if err := directory.Reload(context.Background()); err != nil {
		logger.Warn("facility table not loaded, defaults apply", "error", err)
	}

	reconcileService := services.NewReconcileService(statusLogRepo, messageRepo, db, services.ReconcileConfig{
		Cutoff:    cfg.SweepCutoff,
		BatchSize: cfg.SweepBatchSize,
	})
	// queued jobs are paced here, so the send service itself does not wait
	sendService := services.NewSendService(services.SendServiceDeps{
		Reminders:     repository.NewReminderRepository(db),
		Clients:       repository.NewClientRepository(db),
		Conversations: repository.NewConversationRepository(db),
		Messages:      messageRepo,
		Facilities:    directory,
		Gateway:       gw,
		Tx:            db,
		Reconciler:    reconcileService,
	}, services.SendConfig{
		DefaultTemplate:      cfg.WhatsAppDefaultTemplate,
		TemplateLanguage:     cfg.WhatsAppTemplateLanguage,
		DefaultFacilityName:  cfg.DefaultFacilityName,
		DefaultFacilityPhone: cfg.DefaultFacilityPhone,
		GatewayTimeout:       cfg.GatewayTimeout,
	})

	idempotencyConfig := processor.DefaultIdempotencyConfig()
	idempotencyConfig.MaxRetries = cfg.QueueMaxRetries
	dispatch := processor.NewDispatchProcessor(
		sendService,
		services.NewFixedPacer(cfg.SendDelay),
		processor.NewIdempotencyService(redisAdap, idempotencyConfig),
	)
	sweep := processor.NewSweepLoop(reconcileService, processor.NewLease(redisAdap, sweepLeaseKey, cfg.SweepLeaseTTL), cfg.SweepInterval)

	service := processor.NewProcessorService(redisAdap, dispatch, sweep)
	if err := service.Start(processor.QueueConfigFromEnv()); err != nil {
		logger.Error("failed to start processor", "error", err)
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	service.Stop()
}

func envPathFromArgs() string {
	for _, v := range os.Args[1:] {
		path, ok := strings.CutPrefix(v, "--env=")
		if !ok {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			logger.Error("failed to open the passed env file", "path", path, "error", err)
			return ""
		}
		return path
	}
	return ""
}
