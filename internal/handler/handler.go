// Package handler содержит HTTP-обработчики вебхуков платёжных провайдеров.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/escrow-reconciliation/internal/middleware"
	"github.com/mmeshcher/escrow-reconciliation/internal/model"
	"github.com/mmeshcher/escrow-reconciliation/internal/provider"
	"github.com/mmeshcher/escrow-reconciliation/internal/service"
)

// Итоги, которые возвращаются провайдеру, но не пишутся в журнал доставок.
const (
	outcomeMalformed = "malformed"
	outcomeError     = "error"
)

// Service определяет контракт сверки, используемый HTTP-обработчиками.
type Service interface {
	Process(ctx context.Context, evt *model.PaymentEvent) (service.Result, error)
}

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler реализует HTTP-обработчики вебхуков.
type Handler struct {
	service Service
	pinger  Pinger
	logger  *zap.Logger
	timeout time.Duration
}

// NewHandler создаёт обработчик. timeout ограничивает обработку одного вебхука.
func NewHandler(s Service, pinger Pinger, logger *zap.Logger, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handler{
		service: s,
		pinger:  pinger,
		logger:  logger,
		timeout: timeout,
	}
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
	EscrowID string `json:"escrowId,omitempty"`
	OrderID  string `json:"orderId,omitempty"`
}

// Webhook возвращает обработчик вебхуков провайдера. Подпись к этому моменту уже
// проверена middleware. Провайдер получает 200 во всех случаях, кроме недоступного
// журнала доставок: иначе повторные доставки только умножают нагрузку.
func (h *Handler) Webhook(p provider.Parser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := h.logger.With(zap.String("provider", p.Name()))

		body, ok := middleware.RawBodyFromContext(r.Context())
		if !ok {
			var err error
			body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, middleware.MaxBodyBytes))
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		evt, err := p.Parse(ctx, body)
		if err != nil {
			if errors.Is(err, provider.ErrMalformedPayload) {
				log.Warn("malformed webhook payload", zap.Error(err))
				h.writeJSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: outcomeMalformed})
				return
			}
			log.Error("failed to parse webhook", zap.Error(err))
			h.writeJSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: outcomeError})
			return
		}

		res, err := h.service.Process(ctx, evt)
		if err != nil {
			if errors.Is(err, service.ErrDeliveryLog) {
				log.Error("delivery log unavailable", zap.String("event_id", evt.EventID), zap.Error(err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			log.Error("reconciliation failed",
				zap.String("event_id", evt.EventID),
				zap.String("alert", "operator_followup"),
				zap.Error(err),
			)
			h.writeJSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: outcomeError})
			return
		}

		h.writeJSON(w, http.StatusOK, webhookResponse{
			Received: true,
			Outcome:  string(res.Outcome),
			EscrowID: res.EscrowID,
			OrderID:  res.OrderID,
		})
	}
}

// Health сообщает о доступности сервиса и базы данных.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.pinger != nil {
		if err := h.pinger.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}
