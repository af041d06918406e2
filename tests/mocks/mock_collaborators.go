package mocks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/booklend/lending-engine/internal/gateway"
)

type MockCheckoutGateway struct {
	mock.Mock
}

func (m *MockCheckoutGateway) CreateSession(ctx context.Context, amount decimal.Decimal, meta gateway.SessionMetadata) (*gateway.CheckoutSession, error) {
	args := m.Called(ctx, amount, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.CheckoutSession), args.Error(1)
}

type MockWebhookVerifier struct {
	mock.Mock
}

func (m *MockWebhookVerifier) VerifyAndParse(payload []byte, signatureHeader string) (*gateway.WebhookEvent, error) {
	args := m.Called(payload, signatureHeader)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.WebhookEvent), args.Error(1)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Send(ctx context.Context, chatID int64, kind, text string) error {
	args := m.Called(ctx, chatID, kind, text)
	return args.Error(0)
}

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockLocker) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
