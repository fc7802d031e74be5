package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TemplateRequest is the subset of the Cloud API template send body the mock reads.
type TemplateRequest struct {
	MessagingProduct string `json:"messaging_product" binding:"required"`
	To               string `json:"to" binding:"required"`
	Type             string `json:"type" binding:"required"`
	Template         struct {
		Name     string `json:"name" binding:"required"`
		Language struct {
			Code string `json:"code"`
		} `json:"language"`
	} `json:"template"`
}

type SendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type callbackStatus struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	RecipientID string            `json:"recipient_id"`
	Errors      []callbackFailure `json:"errors,omitempty"`
}

type callbackFailure struct {
	Code  int    `json:"code"`
	Title string `json:"title"`
}

// MockCloudAPI accepts template sends and later reports their lifecycle to
// the webhook, in random order, the way the real provider sometimes does.
type MockCloudAPI struct {
	mu           sync.Mutex
	acceptRate   float64
	deliveryRate float64
	minDelay     time.Duration
	maxDelay     time.Duration
	shuffle      bool
	rng          *rand.Rand

	accessToken string
	webhookURL  string
	appSecret   string
	client      *http.Client
}

func NewMockCloudAPI(acceptRate, deliveryRate float64, minDelay, maxDelay time.Duration) *MockCloudAPI {
	return &MockCloudAPI{
		acceptRate:   acceptRate,
		deliveryRate: deliveryRate,
		minDelay:     minDelay,
		maxDelay:     maxDelay,
		shuffle:      true,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *MockCloudAPI) randomDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxDelay <= m.minDelay {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(m.maxDelay-m.minDelay)))
}

// lifecycle returns the callbacks for one message, shuffled when enabled.
func (m *MockCloudAPI) lifecycle(wamid, to string) []callbackStatus {
	now := time.Now()
	ts := func(offset int) string { return strconv.FormatInt(now.Unix()+int64(offset), 10) }

	statuses := []callbackStatus{{ID: wamid, Status: "sent", Timestamp: ts(0), RecipientID: to}}
	m.mu.Lock()
	delivered := m.rng.Float64() < m.deliveryRate
	m.mu.Unlock()
	if delivered {
		statuses = append(statuses,
			callbackStatus{ID: wamid, Status: "delivered", Timestamp: ts(1), RecipientID: to},
			callbackStatus{ID: wamid, Status: "read", Timestamp: ts(2), RecipientID: to},
		)
	} else {
		statuses = append(statuses, callbackStatus{
			ID: wamid, Status: "failed", Timestamp: ts(1), RecipientID: to,
			Errors: []callbackFailure{{Code: 131026, Title: "Message undeliverable"}},
		})
	}

	m.mu.Lock()
	if m.shuffle {
		m.rng.Shuffle(len(statuses), func(i, j int) { statuses[i], statuses[j] = statuses[j], statuses[i] })
	}
	m.mu.Unlock()
	return statuses
}

func (m *MockCloudAPI) emit(wamid, to string) {
	if m.webhookURL == "" {
		return
	}
	for _, st := range m.lifecycle(wamid, to) {
		time.Sleep(m.randomDelay())
		if err := m.post(st); err != nil {
			log.Warn().Err(err).Str("wamid", wamid).Str("status", st.Status).Msg("Callback delivery failed")
			continue
		}
		log.Info().Str("wamid", wamid).Str("status", st.Status).Msg("Callback delivered")
	}
}

func (m *MockCloudAPI) post(st callbackStatus) error {
	body, err := json.Marshal(map[string]any{
		"object": "whatsapp_business_account",
		"entry": []any{map[string]any{
			"id": "mock-waba",
			"changes": []any{map[string]any{
				"field": "messages",
				"value": map[string]any{
					"messaging_product": "whatsapp",
					"metadata":          map[string]string{"display_phone_number": "000000000", "phone_number_id": "mock"},
					"statuses":          []callbackStatus{st},
				},
			}},
		}},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, m.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.appSecret != "" {
		mac := hmac.New(sha256.New, []byte(m.appSecret))
		mac.Write(body)
		req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook answered %d", resp.StatusCode)
	}
	return nil
}

type Handler struct {
	api *MockCloudAPI
}

func NewHandler(api *MockCloudAPI) *Handler {
	return &Handler{api: api}
}

func (h *Handler) SendMessage(c *gin.Context) {
	if h.api.accessToken != "" && c.GetHeader("Authorization") != "Bearer "+h.api.accessToken {
		c.JSON(http.StatusUnauthorized, gin.H{"error": apiError{Message: "Invalid OAuth access token", Type: "OAuthException", Code: 190}})
		return
	}

	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": apiError{Message: err.Error(), Type: "OAuthException", Code: 100}})
		return
	}
	if req.Type != "template" {
		c.JSON(http.StatusBadRequest, gin.H{"error": apiError{Message: "only template messages are supported", Type: "OAuthException", Code: 100}})
		return
	}

	h.api.mu.Lock()
	rejected := h.api.rng.Float64() >= h.api.acceptRate
	h.api.mu.Unlock()
	if rejected {
		log.Warn().Str("to", req.To).Str("template", req.Template.Name).Msg("Rejecting send")
		c.JSON(http.StatusBadRequest, gin.H{"error": apiError{Message: "(#131030) Recipient phone number not in allowed list", Type: "OAuthException", Code: 131030}})
		return
	}

	wamid := "wamid." + strings.ReplaceAll(uuid.NewString(), "-", "")
	var resp SendResponse
	resp.MessagingProduct = "whatsapp"
	resp.Contacts = append(resp.Contacts, struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	}{Input: req.To, WaID: req.To})
	resp.Messages = append(resp.Messages, struct {
		ID string `json:"id"`
	}{ID: wamid})

	log.Info().
		Str("to", req.To).
		Str("template", req.Template.Name).
		Str("language", req.Template.Language.Code).
		Str("wamid", wamid).
		Msg("Template accepted")

	go h.api.emit(wamid, req.To)
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	h.api.mu.Lock()
	out := gin.H{
		"status":        "healthy",
		"timestamp":     time.Now(),
		"accept_rate":   h.api.acceptRate,
		"delivery_rate": h.api.deliveryRate,
	}
	h.api.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

// UpdateConfig changes the simulated behaviour at runtime.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var cfg struct {
		AcceptRate   *float64 `json:"accept_rate"`
		DeliveryRate *float64 `json:"delivery_rate"`
		Shuffle      *bool    `json:"shuffle"`
	}
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	h.api.mu.Lock()
	if cfg.AcceptRate != nil && *cfg.AcceptRate >= 0 && *cfg.AcceptRate <= 1 {
		h.api.acceptRate = *cfg.AcceptRate
	}
	if cfg.DeliveryRate != nil && *cfg.DeliveryRate >= 0 && *cfg.DeliveryRate <= 1 {
		h.api.deliveryRate = *cfg.DeliveryRate
	}
	if cfg.Shuffle != nil {
		h.api.shuffle = *cfg.Shuffle
	}
	out := gin.H{"accept_rate": h.api.acceptRate, "delivery_rate": h.api.deliveryRate, "shuffle": h.api.shuffle}
	h.api.mu.Unlock()

	log.Info().Interface("config", out).Msg("Configuration updated")
	c.JSON(http.StatusOK, out)
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	router.POST("/:version/:phoneNumberId/messages", handler.SendMessage)
	router.GET("/health", handler.HealthCheck)
	router.PUT("/config", handler.UpdateConfig)
	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	api := NewMockCloudAPI(
		getEnvFloat("ACCEPT_RATE", 1),
		getEnvFloat("DELIVERY_RATE", 0.9),
		getEnvDuration("MIN_DELAY", 200*time.Millisecond),
		getEnvDuration("MAX_DELAY", 2*time.Second),
	)
	api.accessToken = os.Getenv("WHATSAPP_ACCESS_TOKEN")
	api.webhookURL = getEnv("WEBHOOK_URL", "http://localhost:8080/webhooks/whatsapp")
	api.appSecret = os.Getenv("WHATSAPP_APP_SECRET")

	log.Info().
		Str("port", port).
		Float64("accept_rate", api.acceptRate).
		Float64("delivery_rate", api.deliveryRate).
		Dur("min_delay", api.minDelay).
		Dur("max_delay", api.maxDelay).
		Str("webhook_url", api.webhookURL).
		Msg("Starting mock WhatsApp Cloud API")

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      SetupRouter(NewHandler(api)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
