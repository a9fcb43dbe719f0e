// Package signature проверяет подписи входящих вебхуков платёжных провайдеров.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrMissingSignature возвращается, если в запросе нет заголовков подписи.
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrInvalidSignature возвращается, если ни одна из подписей не совпала.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrTimestampOutOfRange возвращается, если метка времени вне допустимого окна.
	ErrTimestampOutOfRange = errors.New("webhook timestamp out of range")
	// ErrSecretNotConfigured возвращается в production, если секрет провайдера не задан.
	ErrSecretNotConfigured = errors.New("webhook secret not configured")
)

// Verifier проверяет, что тело вебхука отправлено заявленным провайдером.
type Verifier interface {
	Verify(body []byte, header http.Header) error
}

// unsignedPolicy решает судьбу запросов провайдера без настроенного секрета.
type unsignedPolicy struct {
	provider   string
	production bool
	logger     *zap.Logger
}

func newUnsignedPolicy(provider string, production bool, logger *zap.Logger) unsignedPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return unsignedPolicy{provider: provider, production: production, logger: logger}
}

func (p unsignedPolicy) announce() {
	if p.production {
		p.logger.Error("webhook secret not configured, rejecting all deliveries",
			zap.String("provider", p.provider))
		return
	}
	p.logger.Warn("webhook secret not configured, accepting unsigned deliveries outside production",
		zap.String("provider", p.provider))
}

func (p unsignedPolicy) check() error {
	if p.production {
		return ErrSecretNotConfigured
	}
	p.logger.Warn("unsigned webhook accepted", zap.String("provider", p.provider))
	return nil
}

// HMACConfig описывает схему подписи вида "{version}.{timestamp}.{body}".
type HMACConfig struct {
	Provider        string
	Version         string
	Secret          string
	SignatureHeader string
	TimestampHeader string
	Tolerance       time.Duration
	Production      bool
}

// RevolutConfig возвращает конфигурацию схемы подписи Revolut с указанным секретом.
func RevolutConfig(provider, secret string, tolerance time.Duration, production bool) HMACConfig {
	return HMACConfig{
		Provider:        provider,
		Version:         "v1",
		Secret:          secret,
		SignatureHeader: "Revolut-Signature",
		TimestampHeader: "Revolut-Request-Timestamp",
		Tolerance:       tolerance,
		Production:      production,
	}
}

// HMACVerifier проверяет подписи HMAC-SHA256 над канонической строкой.
type HMACVerifier struct {
	cfg    HMACConfig
	policy unsignedPolicy
	now    func() time.Time
}

// NewHMACVerifier создаёт верификатор и логирует политику для провайдера без секрета.
func NewHMACVerifier(cfg HMACConfig, logger *zap.Logger) *HMACVerifier {
	v := &HMACVerifier{
		cfg:    cfg,
		policy: newUnsignedPolicy(cfg.Provider, cfg.Production, logger),
		now:    time.Now,
	}
	if cfg.Secret == "" {
		v.policy.announce()
	}
	return v
}

// Verify проверяет подпись тела запроса.
func (v *HMACVerifier) Verify(body []byte, header http.Header) error {
	if v.cfg.Secret == "" {
		return v.policy.check()
	}

	signatures := header.Get(v.cfg.SignatureHeader)
	timestamp := header.Get(v.cfg.TimestampHeader)
	if signatures == "" || timestamp == "" {
		return ErrMissingSignature
	}

	if !Valid(v.cfg.Secret, v.cfg.Version, timestamp, body, signatures) {
		return ErrInvalidSignature
	}

	if v.cfg.Tolerance > 0 {
		sent, ok := parseTimestamp(timestamp)
		if !ok {
			return ErrTimestampOutOfRange
		}
		diff := v.now().Sub(sent)
		if diff < 0 {
			diff = -diff
		}
		if diff > v.cfg.Tolerance {
			return ErrTimestampOutOfRange
		}
	}

	return nil
}

// Sign вычисляет подпись "{version}={hex}" для тела и метки времени.
func Sign(secret, version, timestamp string, body []byte) string {
	return version + "=" + hex.EncodeToString(digest(secret, version, timestamp, body))
}

// Valid сообщает, совпадает ли хотя бы одна подпись из списка через запятую.
func Valid(secret, version, timestamp string, body []byte, signatures string) bool {
	expected := digest(secret, version, timestamp, body)

	ok := false
	for _, candidate := range strings.Split(signatures, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, version+"=")

		got, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		// hmac.Equal возвращает false для срезов разной длины.
		if hmac.Equal(got, expected) {
			ok = true
		}
	}
	return ok
}

func digest(secret, version, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(version))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// parseTimestamp принимает unix-время в секундах или миллисекундах.
func parseTimestamp(s string) (time.Time, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n > 1_000_000_000_000 {
		return time.UnixMilli(n), true
	}
	return time.Unix(n, 0), true
}
