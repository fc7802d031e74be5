package services

import (
	"context"
	"time"

	gateway "github.com/nimasrn/visit-reminders/internal/gateways"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type GatewayStats interface {
	Stats() gateway.Stats
}

type HealthReport struct {
	Healthy  bool              `json:"healthy"`
	Checks   map[string]string `json:"checks"`
	Gateway  *gateway.Stats    `json:"gateway,omitempty"`
	Duration string            `json:"duration"`
}

type HealthService struct {
	db      Pinger
	redis   Pinger
	gateway GatewayStats
}

func NewHealthService(db, redis Pinger, gw GatewayStats) *HealthService {
	return &HealthService{db: db, redis: redis, gateway: gw}
}

func (s *HealthService) Check(ctx context.Context) *HealthReport {
	start := time.Now()
	r := &HealthReport{Healthy: true, Checks: map[string]string{}}

	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			r.Healthy = false
			r.Checks[name] = err.Error()
			return
		}
		r.Checks[name] = "ok"
	}
	check("postgres", s.db)
	check("redis", s.redis)

	if s.gateway != nil {
		st := s.gateway.Stats()
		r.Gateway = &st
		if st.CircuitOpen {
			r.Checks["gateway"] = "circuit open"
		} else {
			r.Checks["gateway"] = "ok"
		}
	}

	r.Duration = time.Since(start).String()
	return r
}
