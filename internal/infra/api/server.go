package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"club-membership-gateway/internal/config"
	"club-membership-gateway/internal/usecase"
)

// Limiter is a fixed-window rate limiter.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Deps struct {
	Payments       usecase.PaymentUseCase
	Inbox          usecase.InboxUseCase
	Limiter        Limiter // nil disables purchase rate limiting
	RateLimit      config.RateLimitConfig
	Admin          config.AdminConfig
	RequestTimeout time.Duration
	// Health reports backing store reachability; nil means always healthy.
	Health func(ctx context.Context) error
}

// Server is the public and admin HTTP surface.
type Server struct {
	payments  usecase.PaymentUseCase
	inbox     usecase.InboxUseCase
	limiter   Limiter
	rateLimit config.RateLimitConfig
	auth      *AuthManager
	timeout   time.Duration
	health    func(ctx context.Context) error
	validate  *validator.Validate
	log       *zerolog.Logger
}

func NewServer(d Deps, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "HTTPServer").Logger()
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		payments:  d.Payments,
		inbox:     d.Inbox,
		limiter:   d.Limiter,
		rateLimit: d.RateLimit,
		auth:      NewAuthManager(d.Admin),
		timeout:   timeout,
		health:    d.Health,
		validate:  validator.New(),
		log:       &l,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log), Timeout(s.timeout))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/payment/success", s.handlePaymentSuccess)
	r.Get("/payment/fail", s.handlePaymentFail)

	r.Post("/api/payments", s.handlePurchase)
	r.Post("/api/payments/notification", s.handleNotification)

	if s.auth.Enabled() {
		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", s.handleAdminLogin)
			r.Post("/logout", s.handleAdminLogout)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/notifications", s.handleListNotifications)
				r.Post("/notifications/{id}/replay", s.handleReplayNotification)
			})
		})
	} else {
		s.log.Warn().Msg("admin api key or jwt secret missing; admin routes disabled")
	}
	return r
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "admin session required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
