package webhook

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/smallbiznis/gradewise/internal/clock"
	"github.com/smallbiznis/gradewise/internal/config"
	purchasedomain "github.com/smallbiznis/gradewise/internal/purchase/domain"
	"github.com/smallbiznis/gradewise/pkg/amount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "whsec_test"

type mockIntake struct {
	mock.Mock
}

func (m *mockIntake) Handle(ctx context.Context, event purchasedomain.PurchaseEvent) (purchasedomain.Result, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(purchasedomain.Result), args.Error(1)
}

var now = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func newWebhook(secret string, intake purchasedomain.Intake) *Service {
	return NewService(Params{
		Cfg:    config.Config{PaymentWebhookSecret: secret},
		Log:    zap.NewNop(),
		Intake: intake,
		Clock:  clock.NewFakeClock(now),
	})
}

func signedHeaders(secret string, payload []byte, at time.Time) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	h := http.Header{}
	h.Set(SignatureHeader, "t="+ts+",v1="+Sign(secret, ts, payload))
	return h
}

const payload = `{"id":"evt_1","provider":"stripe","type":"credits_purchased","created":1775030400,
"data":{"transaction_id":"pi_1","user_id":"u1","organization_id":"o1","credits":"25.5"}}`

func TestIngestForwardsVerifiedEvent(t *testing.T) {
	intake := &mockIntake{}
	intake.On("Handle", mock.Anything, mock.MatchedBy(func(e purchasedomain.PurchaseEvent) bool {
		return e.Provider == "stripe" &&
			e.ProviderEventID == "evt_1" &&
			e.TransactionID == "pi_1" &&
			e.UserID == "u1" &&
			e.OrganizationID == "o1" &&
			e.Credits == amount.MustParse("25.5")
	})).Return(purchasedomain.Result{Credits: amount.MustParse("25.5")}, nil).Once()

	svc := newWebhook(testSecret, intake)
	res, err := svc.Ingest(context.Background(), []byte(payload), signedHeaders(testSecret, []byte(payload), now))
	require.NoError(t, err)
	assert.Equal(t, amount.MustParse("25.5"), res.Credits)
	intake.AssertExpectations(t)
}

func TestVerifyRejects(t *testing.T) {
	svc := newWebhook(testSecret, &mockIntake{})
	body := []byte(payload)

	tests := []struct {
		name    string
		headers http.Header
	}{
		{name: "missing header", headers: http.Header{}},
		{name: "wrong secret", headers: signedHeaders("other", body, now)},
		{name: "stale timestamp", headers: signedHeaders(testSecret, body, now.Add(-10*time.Minute))},
		{name: "malformed", headers: http.Header{SignatureHeader: []string{"garbage"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, svc.Verify(body, tt.headers), purchasedomain.ErrInvalidSignature)
		})
	}

	assert.NoError(t, svc.Verify(body, signedHeaders(testSecret, body, now.Add(-time.Minute))))
}

func TestIngestWithoutSecretIsDisabled(t *testing.T) {
	intake := &mockIntake{}
	_, err := newWebhook("", intake).Ingest(context.Background(), []byte(payload), http.Header{})
	assert.ErrorIs(t, err, purchasedomain.ErrWebhookDisabled)
	intake.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
}

func TestParse(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.ErrorIs(t, err, purchasedomain.ErrInvalidPayload)

	_, err = Parse([]byte(`{"id":"evt","type":"customer.updated"}`))
	assert.ErrorIs(t, err, purchasedomain.ErrEventIgnored)

	_, err = Parse([]byte(`{"type":"credits_purchased"}`))
	assert.ErrorIs(t, err, purchasedomain.ErrInvalidEvent)

	event, err := Parse([]byte(`{"id":"evt","type":"credits_purchased","data":{"user_id":"u","credits":3}}`))
	require.NoError(t, err)
	assert.Equal(t, defaultProvider, event.Provider)
	assert.Equal(t, amount.FromCredits(3), event.Credits)
}
