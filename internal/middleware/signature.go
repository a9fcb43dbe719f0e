// Package middleware содержит HTTP middleware сервиса сверки.
package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/escrow-reconciliation/internal/signature"
)

type contextKey string

const rawBodyKey contextKey = "rawBody"

// MaxBodyBytes ограничивает размер тела вебхука.
const MaxBodyBytes = 1 << 20

// SignatureMiddleware проверяет подпись вебхука до передачи запроса обработчику.
type SignatureMiddleware struct {
	provider string
	verifier signature.Verifier
	logger   *zap.Logger
}

// NewSignatureMiddleware создаёт middleware проверки подписи для провайдера.
func NewSignatureMiddleware(provider string, verifier signature.Verifier, logger *zap.Logger) *SignatureMiddleware {
	return &SignatureMiddleware{
		provider: provider,
		verifier: verifier,
		logger:   logger,
	}
}

// Middleware читает тело целиком, проверяет подпись и кладёт исходные байты в контекст.
// Подпись считается по сырому телу, поэтому обработчик должен брать его из контекста.
func (m *SignatureMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		if err := m.verifier.Verify(body, r.Header); err != nil {
			m.logger.Warn("webhook signature rejected",
				zap.String("provider", m.provider),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := context.WithValue(r.Context(), rawBodyKey, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RawBodyFromContext возвращает проверенное тело запроса.
func RawBodyFromContext(ctx context.Context) ([]byte, bool) {
	body, ok := ctx.Value(rawBodyKey).([]byte)
	return body, ok
}
