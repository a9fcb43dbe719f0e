package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/escrow-reconciliation/internal/middleware"
	"github.com/mmeshcher/escrow-reconciliation/internal/provider"
	"github.com/mmeshcher/escrow-reconciliation/internal/signature"
)

// Provider связывает парсер вебхуков провайдера с проверкой его подписи.
type Provider struct {
	Parser   provider.Parser
	Verifier signature.Verifier
}

// WebhookPath возвращает путь вебхука провайдера, например /api/webhooks/revolut-merchant.
func WebhookPath(name string) string {
	return "/api/webhooks/" + strings.ReplaceAll(name, "_", "-")
}

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter(providers []Provider) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/api/health", h.Health)

	for _, p := range providers {
		sig := custommiddleware.NewSignatureMiddleware(p.Parser.Name(), p.Verifier, h.logger)
		r.With(sig.Middleware).Post(WebhookPath(p.Parser.Name()), h.Webhook(p.Parser))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
