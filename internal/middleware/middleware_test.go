package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/escrow-reconciliation/internal/signature"
)

type stubVerifier struct {
	err  error
	body []byte
}

func (s *stubVerifier) Verify(body []byte, header http.Header) error {
	s.body = body
	return s.err
}

func TestSignatureMiddleware_Valid(t *testing.T) {
	v := &stubVerifier{}
	m := NewSignatureMiddleware("revolut", v, zap.NewNop())

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		body, ok := RawBodyFromContext(r.Context())
		if !ok {
			t.Fatalf("raw body not in context")
		}
		if string(body) != `{"event":"x"}` {
			t.Fatalf("raw body = %q", body)
		}
		again, _ := io.ReadAll(r.Body)
		if string(again) != string(body) {
			t.Fatalf("request body not restored, got %q", again)
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/webhooks/revolut", strings.NewReader(`{"event":"x"}`))

	m.Middleware(next).ServeHTTP(w, r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
	if string(v.body) != `{"event":"x"}` {
		t.Fatalf("verifier got body %q", v.body)
	}
}

func TestSignatureMiddleware_Rejected(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"missing", signature.ErrMissingSignature},
		{"invalid", signature.ErrInvalidSignature},
		{"stale", signature.ErrTimestampOutOfRange},
		{"no secret", signature.ErrSecretNotConfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewSignatureMiddleware("stripe", &stubVerifier{err: tt.err}, zap.NewNop())
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(`{}`))
			m.Middleware(next).ServeHTTP(w, r)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestSignatureMiddleware_BodyTooLarge(t *testing.T) {
	m := NewSignatureMiddleware("stripe", &stubVerifier{err: errors.New("must not be called")}, zap.NewNop())
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(strings.Repeat("a", MaxBodyBytes+1)))
	m.Middleware(next).ServeHTTP(w, r)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	h := Logger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusAccepted) {
		t.Fatalf("status field = %v", fields["status"])
	}
	if fields["size"] != int64(2) {
		t.Fatalf("size field = %v", fields["size"])
	}
}
