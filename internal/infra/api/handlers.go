package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"club-membership-gateway/internal/domain"
	"club-membership-gateway/internal/domain/model"
	"club-membership-gateway/internal/infra/logging"
	"club-membership-gateway/internal/infra/metrics"
	redisinfra "club-membership-gateway/internal/infra/redis"
	"club-membership-gateway/internal/usecase"
)

const maxNotificationBytes = 64 << 10

type purchaseRequest struct {
	AccountID   string `json:"account_id" validate:"required,max=64"`
	Amount      int64  `json:"amount" validate:"omitempty,gte=1"`
	Description string `json:"description" validate:"omitempty,max=1000"`
}

type purchaseResponse struct {
	PaymentID  string `json:"payment_id"`
	OrderID    string `json:"order_id"`
	PaymentURL string `json:"payment_url"`
	Amount     int64  `json:"amount"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			logging.With(r.Context(), s.log).Warn().Err(err).Msg("health check failed")
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req purchaseRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, redisinfra.PurchaseKey(req.AccountID), s.rateLimit.Purchases, s.rateLimit.Window)
		switch {
		case err != nil:
			// fail open: the limiter protects the gateway quota, not correctness
			metrics.IncRateLimit("purchase", "error")
			logging.With(ctx, s.log).Warn().Err(err).Msg("rate limiter unavailable")
		case !ok:
			metrics.IncRateLimit("purchase", "limited")
			writeDomainError(w, domain.ErrRateLimited)
			return
		default:
			metrics.IncRateLimit("purchase", "allowed")
		}
	}

	p, url, err := s.payments.Purchase(ctx, usecase.PurchaseRequest{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := purchaseResponse{OrderID: p.OrderID, PaymentURL: url, Amount: p.Amount}
	if p.ExternalPaymentID != nil {
		resp.PaymentID = *p.ExternalPaymentID
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleNotification always answers OK: the gateway keeps retrying anything else, and every
// body worth keeping is already in the inbox by the time we answer.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	log := logging.With(r.Context(), s.log)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		log.Warn().Err(err).Msg("notification body unreadable")
	} else {
		s.receiveNotification(context.WithoutCancel(r.Context()), log, body)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// receiveNotification contains a panic in the inbox so the handler still acknowledges.
func (s *Server) receiveNotification(ctx context.Context, log *zerolog.Logger, body []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Int("bytes", len(body)).Msg("panic while storing notification")
		}
	}()
	if _, err := s.inbox.Receive(ctx, body); err != nil {
		log.Warn().Err(err).Msg("notification not accepted")
	}
}

type loginRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	_ = json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req)
	key := req.APIKey
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	if !s.auth.CheckKey(key) {
		metrics.IncAdminRequest("login", "unauthorized")
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
		return
	}
	token, err := s.auth.Mint(w)
	if err != nil {
		metrics.IncAdminRequest("login", "error")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	metrics.IncAdminRequest("login", "authorized")
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "expires_in": int(s.auth.ttl.Seconds())})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

type inboxEntryView struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	PaymentID     string    `json:"payment_id,omitempty"`
	Success       bool      `json:"success"`
	GatewayStatus string    `json:"gateway_status"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

func toView(e *model.InboxEntry) inboxEntryView {
	v := inboxEntryView{
		ID:            e.ID,
		OrderID:       e.OrderID,
		PaymentID:     e.ExternalPaymentID,
		Success:       e.Success,
		GatewayStatus: e.GatewayStatus,
		Status:        string(e.Status),
		Attempts:      e.Attempts,
		ReceivedAt:    e.ReceivedAt,
		NextAttemptAt: e.NextAttemptAt,
	}
	if e.LastError != nil {
		v.LastError = *e.LastError
	}
	return v
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	status := model.InboxStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.InboxStatusReceived, model.InboxStatusProcessed, model.InboxStatusFailed, model.InboxStatusRejected:
	default:
		metrics.IncAdminRequest("list_notifications", "error")
		writeError(w, http.StatusBadRequest, "validation_error", "unknown status")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := s.inbox.List(r.Context(), status, limit)
	if err != nil {
		metrics.IncAdminRequest("list_notifications", "error")
		writeDomainError(w, err)
		return
	}
	out := make([]inboxEntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, toView(e))
	}
	metrics.IncAdminRequest("list_notifications", "authorized")
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleReplayNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.inbox.Replay(r.Context(), id)
	switch {
	case err == nil:
		metrics.IncAdminRequest("replay_notification", "authorized")
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "queued"})
	case errors.Is(err, domain.ErrInvalidArgument):
		metrics.IncAdminRequest("replay_notification", "error")
		writeError(w, http.StatusConflict, "not_replayable", err.Error())
	default:
		metrics.IncAdminRequest("replay_notification", "error")
		writeDomainError(w, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

// writeDomainError maps use case errors onto status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		vErr *domain.ValidationError
		gErr *domain.GatewayRejectedError
		tErr *domain.TransportError
	)
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, "validation_error", vErr.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.As(err, &gErr):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "gateway_rejected", Message: gErr.Message, Code: gErr.Code})
	case errors.As(err, &tErr):
		writeError(w, http.StatusServiceUnavailable, "gateway_unavailable", "payment gateway unreachable")
	case errors.Is(err, domain.ErrAlreadyActive):
		writeError(w, http.StatusConflict, "already_active", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
