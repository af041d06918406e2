package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/booklend/lending-engine/internal/config"
	apperrors "github.com/booklend/lending-engine/pkg/errors"
	"github.com/booklend/lending-engine/pkg/utils"
)

// SessionMetadata travels with the checkout session so the webhook side can
// correlate it back to our records.
type SessionMetadata struct {
	PaymentID   string
	BorrowingID string
	PaymentType string
}

// CheckoutSession is the externally hosted checkout instance a payment
// points at.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// WebhookEvent is an inbound payment-processor event after signature
// verification.
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
}

// Processor event types we act on.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
)

// CheckoutGateway creates hosted checkout sessions.
type CheckoutGateway interface {
	CreateSession(ctx context.Context, amount decimal.Decimal, meta SessionMetadata) (*CheckoutSession, error)
}

// WebhookVerifier authenticates and parses inbound processor events.
type WebhookVerifier interface {
	VerifyAndParse(payload []byte, signatureHeader string) (*WebhookEvent, error)
}

// StripeGateway wraps the Stripe checkout API behind a circuit breaker so a
// processor outage degrades to GatewayUnavailable instead of piling up
// blocked calls.
type StripeGateway struct {
	api           *client.API
	breaker       *gobreaker.CircuitBreaker
	webhookSecret string
	successURL    string
	cancelURL     string
	sessionTTL    time.Duration
	timeout       time.Duration
}

func NewStripeGateway(cfg *config.Config) *StripeGateway {
	api := &client.API{}
	api.Init(cfg.Stripe.SecretKey, nil)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "stripe-checkout",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
	})

	return &StripeGateway{
		api:           api,
		breaker:       breaker,
		webhookSecret: cfg.Stripe.WebhookSecret,
		successURL:    cfg.Stripe.SuccessURL,
		cancelURL:     cfg.Stripe.CancelURL,
		sessionTTL:    cfg.GetSessionTTL(),
		timeout:       cfg.GetGatewayTimeout(),
	}
}

func (g *StripeGateway) CreateSession(ctx context.Context, amount decimal.Decimal, meta SessionMetadata) (*CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(utils.ToCents(amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Book Borrowing Payment"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(g.successURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(g.cancelURL + "?session_id={CHECKOUT_SESSION_ID}"),
		ExpiresAt:  stripe.Int64(time.Now().Add(g.sessionTTL).Unix()),
	}
	params.Context = ctx
	params.AddMetadata("payment_id", meta.PaymentID)
	params.AddMetadata("borrowing_id", meta.BorrowingID)
	params.AddMetadata("payment_type", meta.PaymentType)

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.api.CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, apperrors.WrapGatewayUnavailable(err)
	}

	session := result.(*stripe.CheckoutSession)

	return &CheckoutSession{
		ID:        session.ID,
		URL:       session.URL,
		ExpiresAt: time.Unix(session.ExpiresAt, 0),
	}, nil
}

// VerifyAndParse checks the processor signature against the shared secret and
// extracts the session reference. No state is touched on a bad signature.
func (g *StripeGateway) VerifyAndParse(payload []byte, signatureHeader string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, g.webhookSecret)
	if err != nil {
		return nil, apperrors.WrapUnauthorized("webhook signature verification failed", errors.Join(apperrors.ErrInvalidSignature, err))
	}

	parsed := &WebhookEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}

	switch parsed.Type {
	case EventCheckoutCompleted, EventCheckoutExpired:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, err
		}
		parsed.SessionID = session.ID
	}

	return parsed, nil
}
