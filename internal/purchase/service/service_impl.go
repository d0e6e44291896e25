package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gradewise/internal/clock"
	creditdomain "github.com/smallbiznis/gradewise/internal/credit/domain"
	obslogger "github.com/smallbiznis/gradewise/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/gradewise/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/gradewise/internal/purchase/domain"
	"github.com/smallbiznis/gradewise/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Ledger     creditdomain.Service
	Repo       purchasedomain.Repository
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	ledger     creditdomain.Service
	repo       purchasedomain.Repository
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) purchasedomain.Intake {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("purchase.service"),
		genID:      p.GenID,
		ledger:     p.Ledger,
		repo:       p.Repo,
		clock:      clk,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Handle(ctx context.Context, event purchasedomain.PurchaseEvent) (purchasedomain.Result, error) {
	if err := validateEvent(&event); err != nil {
		return purchasedomain.Result{}, err
	}
	ctx, _ = correlation.EnsureCorrelationID(ctx)
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
	)

	payload := event.RawPayload
	if len(payload) == 0 || !json.Valid(payload) {
		payload = []byte("{}")
	}
	now := s.clock.Now()
	received := purchasedomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Credits:         event.Credits,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return purchasedomain.Result{}, err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return purchasedomain.Result{}, err
		}
		if stored == nil {
			return purchasedomain.Result{}, purchasedomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil && stored.AccountID != nil {
			log.Info("purchase event redelivered")
			return s.duplicateResult(ctx, *stored.AccountID, event)
		}
	}

	account, err := s.ledger.ResolveAccount(ctx, creditdomain.UserRef{
		UserID:         event.UserID,
		OrganizationID: event.OrganizationID,
	})
	if err != nil {
		return purchasedomain.Result{}, err
	}

	added, err := s.ledger.Add(ctx, creditdomain.AddRequest{
		AccountID:  account.ID,
		Amount:     event.Credits,
		Reason:     creditdomain.GrantReasonPurchase,
		ExternalID: event.ExternalID(),
	})
	duplicate := errors.Is(err, creditdomain.ErrDuplicateGrant)
	if err != nil && !duplicate {
		return purchasedomain.Result{}, err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, account.ID, now); err != nil {
		return purchasedomain.Result{}, err
	}
	if inserted {
		s.obsMetrics.RecordPurchaseEvent(ctx, event.Provider, event.Type)
	}

	if duplicate {
		log.Info("purchase already credited under another delivery", zap.String("external_id", event.ExternalID()))
		return s.duplicateResult(ctx, account.ID, event)
	}

	log.Info("credits purchased",
		zap.String("account_id", account.ID.String()),
		zap.String("credits", event.Credits.String()),
	)
	return purchasedomain.Result{
		AccountID: account.ID,
		Credits:   event.Credits,
		Balance:   added.NewBalance,
	}, nil
}

func (s *Service) duplicateResult(ctx context.Context, accountID snowflake.ID, event purchasedomain.PurchaseEvent) (purchasedomain.Result, error) {
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return purchasedomain.Result{}, err
	}
	return purchasedomain.Result{
		AccountID: accountID,
		Credits:   event.Credits,
		Balance:   account.Balance,
		Duplicate: true,
	}, nil
}

func validateEvent(event *purchasedomain.PurchaseEvent) error {
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	event.TransactionID = strings.TrimSpace(event.TransactionID)
	event.UserID = strings.TrimSpace(event.UserID)
	event.OrganizationID = strings.TrimSpace(event.OrganizationID)
	if event.Provider == "" || event.ProviderEventID == "" {
		return purchasedomain.ErrInvalidEvent
	}
	if event.Type != purchasedomain.EventTypeCreditsPurchased {
		return purchasedomain.ErrEventIgnored
	}
	if event.UserID == "" {
		return creditdomain.ErrAccountNotFound
	}
	if event.Credits <= 0 {
		return creditdomain.ErrInvalidAmount
	}
	return nil
}
