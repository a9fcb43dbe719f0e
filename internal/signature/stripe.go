package signature

import (
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

// StripeSignatureHeader задаёт заголовок подписи Stripe.
const StripeSignatureHeader = "Stripe-Signature"

// StripeVerifier проверяет подписи Stripe средствами stripe-go.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
	policy    unsignedPolicy
}

// NewStripeVerifier создаёт верификатор Stripe.
func NewStripeVerifier(secret string, tolerance time.Duration, production bool, logger *zap.Logger) *StripeVerifier {
	v := &StripeVerifier{
		secret:    secret,
		tolerance: tolerance,
		policy:    newUnsignedPolicy("stripe", production, logger),
	}
	if secret == "" {
		v.policy.announce()
	}
	return v
}

// Verify проверяет заголовок Stripe-Signature.
func (v *StripeVerifier) Verify(body []byte, header http.Header) error {
	if v.secret == "" {
		return v.policy.check()
	}

	sig := header.Get(StripeSignatureHeader)
	if sig == "" {
		return ErrMissingSignature
	}

	var err error
	if v.tolerance > 0 {
		err = webhook.ValidatePayloadWithTolerance(body, sig, v.secret, v.tolerance)
	} else {
		err = webhook.ValidatePayloadIgnoringTolerance(body, sig, v.secret)
	}
	if err != nil {
		if err == webhook.ErrTooOld {
			return ErrTimestampOutOfRange
		}
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}
