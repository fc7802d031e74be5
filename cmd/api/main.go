package main

import (
	"context"
	"os"
	"strings"

	"github.com/nimasrn/visit-reminders/internal/config"
	"github.com/nimasrn/visit-reminders/internal/facility"
	gateway "github.com/nimasrn/visit-reminders/internal/gateways"
	"github.com/nimasrn/visit-reminders/internal/handlers"
	"github.com/nimasrn/visit-reminders/internal/processor"
	"github.com/nimasrn/visit-reminders/internal/queue"
	"github.com/nimasrn/visit-reminders/internal/repository"
	"github.com/nimasrn/visit-reminders/internal/services"
	xhttp "github.com/nimasrn/visit-reminders/pkg/http"
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

func main() {
	defer logger.Sync()

	if err := config.Load(envPathFromArgs()); err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.SetDefaultFields("app", cfg.AppName, "bin", "api", "env", cfg.AppEnv)
	logger.Info("starting api", "version", version, "commit", commit, "date", date)

	db, err := pg.CreateReadWrite(readConfig(cfg), writeConfig(cfg), cfg.AppEnv == "dev")
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: cfg.AppName + "-api",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	dispatchQueue, err := queue.NewQueue(redisAdap, processor.QueueConfigFromEnv())
	if err != nil {
		logger.Error("failed creating dispatch queue", "error", err)
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

	if hostname, err := os.Hostname(); err == nil {
		if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
			logger.Error("failed to create prometheus metrics", "error", err)
			return
		}
		go prom.ListenAndServer(cfg.MetricsListenAddr, cfg.MetricsURI)
	}

	// repositories
	clientRepo := repository.NewClientRepository(db)
	facilityRepo := repository.NewFacilityRepository(db)
	reminderRepo := repository.NewReminderRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	statusLogRepo := repository.NewStatusLogRepository(db)

	directory := facility.NewDirectory(facilitySource(cfg, facilityRepo), cfg.FacilityMatchThreshold)
	if err := directory.Reload(context.Background()); err != nil {
		logger.Warn("facility table not loaded, defaults apply until refresh", "error", err)
	}

	// services
	reconcileService := services.NewReconcileService(statusLogRepo, messageRepo, db, services.ReconcileConfig{
		Cutoff:    cfg.SweepCutoff,
		BatchSize: cfg.SweepBatchSize,
	})
	sendService := services.NewSendService(services.SendServiceDeps{
		Reminders:     reminderRepo,
		Clients:       clientRepo,
		Conversations: conversationRepo,
		Messages:      messageRepo,
		Facilities:    directory,
		Gateway:       gw,
		Tx:            db,
		Reconciler:    reconcileService,
		Pacer:         services.NewFixedPacer(cfg.SendDelay),
	}, services.SendConfig{
		DefaultTemplate:      cfg.WhatsAppDefaultTemplate,
		TemplateLanguage:     cfg.WhatsAppTemplateLanguage,
		DefaultFacilityName:  cfg.DefaultFacilityName,
		DefaultFacilityPhone: cfg.DefaultFacilityPhone,
		GatewayTimeout:       cfg.GatewayTimeout,
	})
	webhookService := services.NewWebhookService(cfg.WhatsAppVerifyToken, services.WebhookServiceDeps{
		Conversations: conversationRepo,
		Clients:       clientRepo,
		Messages:      messageRepo,
		Replies:       reminderRepo,
		StatusLog:     statusLogRepo,
		Reconciler:    reconcileService,
		Guard:         processor.NewReplayGuard(redisAdap, cfg.InboundReplayTTL),
		Tx:            db,
	})
	reminderService := services.NewReminderService(reminderRepo, db, dispatchQueue)
	conversationService := services.NewConversationService(conversationRepo, messageRepo)
	urgencyService := services.NewUrgencyService(reminderRepo)
	healthService := services.NewHealthService(db, redisAdap, gw)

	// handlers
	webhookHandler, err := handlers.NewWebhookHandler(webhookService, handlers.WebhookConfig{
		AppSecret: cfg.WhatsAppAppSecret,
		Timeout:   cfg.WebhookTimeout,
	})
	if err != nil {
		logger.Error("failed to create webhook handler", "error", err)
		return
	}

	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout))

	v1 := s.Router.Group("/api/v1")
	handlers.RegisterReminderRoutes(v1, handlers.NewReminderHandler(sendService, reminderService, urgencyService))
	handlers.RegisterConversationRoutes(v1, handlers.NewConversationHandler(conversationService))
	handlers.RegisterReconcileRoutes(v1, handlers.NewReconcileHandler(reconcileService, directory))
	handlers.RegisterHealthRoutes(v1, handlers.NewHealthHandler(healthService))
	handlers.RegisterWebhookRoutes(s.Router.Group("/webhooks"), webhookHandler)

	go func() {
		listen := s.ListenAndServe
		if cfg.HttpPrefork {
			listen = s.PreforkListenAndServe
		}
		if err := listen(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	s.ShutdownOnSignal()
}

// facilitySource prefers the facilities table and falls back to the seed file.
func facilitySource(cfg *config.Config, repo *repository.FacilityRepository) facility.Source {
	src := facility.FallbackSource{facility.RepositorySource{Repo: repo}}
	if cfg.FacilitySeedFile != "" {
		src = append(src, facility.FileSource{Path: cfg.FacilitySeedFile})
	}
	return src
}

func readConfig(cfg *config.Config) pg.Config {
	return pg.Config{
		User:         cfg.PostgresReadUser,
		Host:         cfg.PostgresReadHost,
		Port:         cfg.PostgresReadPort,
		Password:     cfg.PostgresReadPassword,
		Database:     cfg.PostgresReadDatabase,
		MaxOpenConns: cfg.PostgresMaxOpenConns,
	}
}

func writeConfig(cfg *config.Config) pg.Config {
	return pg.Config{
		User:         cfg.PostgresWriteUser,
		Host:         cfg.PostgresWriteHost,
		Port:         cfg.PostgresWritePort,
		Password:     cfg.PostgresWritePassword,
		Database:     cfg.PostgresWriteDatabase,
		MaxOpenConns: cfg.PostgresMaxOpenConns,
	}
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
