package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/gradewise/internal/clock"
	"github.com/smallbiznis/gradewise/internal/config"
	purchasedomain "github.com/smallbiznis/gradewise/internal/purchase/domain"
	"github.com/smallbiznis/gradewise/pkg/amount"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	SignatureHeader    = "X-Gradewise-Signature"
	signatureTolerance = 5 * time.Minute
	defaultProvider    = "payments"
)

type Params struct {
	fx.In

	Cfg    config.Config
	Log    *zap.Logger
	Intake purchasedomain.Intake
	Clock  clock.Clock `optional:"true"`
}

type Service struct {
	secret string
	log    *zap.Logger
	intake purchasedomain.Intake
	clock  clock.Clock
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		secret: strings.TrimSpace(p.Cfg.PaymentWebhookSecret),
		log:    p.Log.Named("purchase.webhook"),
		intake: p.Intake,
		clock:  clk,
	}
}

// Ingest verifies, parses and hands one delivery to the intake.
func (s *Service) Ingest(ctx context.Context, payload []byte, headers http.Header) (purchasedomain.Result, error) {
	if s.secret == "" {
		return purchasedomain.Result{}, purchasedomain.ErrWebhookDisabled
	}
	if err := s.Verify(payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.Error(err))
		return purchasedomain.Result{}, err
	}
	event, err := Parse(payload)
	if err != nil {
		return purchasedomain.Result{}, err
	}
	return s.intake.Handle(ctx, *event)
}

// Verify checks a "t=<unix>,v1=<hex hmac-sha256 of t.payload>" header.
func (s *Service) Verify(payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHeader == "" {
		return purchasedomain.ErrInvalidSignature
	}
	timestamp, signatures, err := parseSignature(sigHeader)
	if err != nil {
		return purchasedomain.ErrInvalidSignature
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return purchasedomain.ErrInvalidSignature
	}
	age := s.clock.Now().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return purchasedomain.ErrInvalidSignature
	}

	expected := Sign(s.secret, timestamp, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return purchasedomain.ErrInvalidSignature
}

// Sign returns the hex signature for one timestamp and body.
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%s.%s", timestamp, string(payload))))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignature(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("malformed signature header")
	}
	return timestamp, signatures, nil
}

type webhookEvent struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Type     string `json:"type"`
	Created  int64  `json:"created"`
	Data     struct {
		TransactionID  string        `json:"transaction_id"`
		UserID         string        `json:"user_id"`
		OrganizationID string        `json:"organization_id"`
		Credits        amount.Amount `json:"credits"`
	} `json:"data"`
}

func Parse(payload []byte) (*purchasedomain.PurchaseEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, purchasedomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, purchasedomain.ErrInvalidEvent
	}
	if strings.TrimSpace(event.Type) != purchasedomain.EventTypeCreditsPurchased {
		return nil, purchasedomain.ErrEventIgnored
	}
	provider := strings.TrimSpace(event.Provider)
	if provider == "" {
		provider = defaultProvider
	}
	occurredAt := time.Now().UTC()
	if event.Created > 0 {
		occurredAt = time.Unix(event.Created, 0).UTC()
	}
	return &purchasedomain.PurchaseEvent{
		Provider:        provider,
		ProviderEventID: event.ID,
		Type:            purchasedomain.EventTypeCreditsPurchased,
		TransactionID:   event.Data.TransactionID,
		UserID:          event.Data.UserID,
		OrganizationID:  event.Data.OrganizationID,
		Credits:         event.Data.Credits,
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
}
