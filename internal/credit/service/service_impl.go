package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gradewise/internal/clock"
	"github.com/smallbiznis/gradewise/internal/config"
	creditdomain "github.com/smallbiznis/gradewise/internal/credit/domain"
	obslogger "github.com/smallbiznis/gradewise/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/gradewise/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/gradewise/internal/usage/domain"
	"github.com/smallbiznis/gradewise/pkg/amount"
	"github.com/smallbiznis/gradewise/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxCASAttempts bounds retries when another mutation bumps the row version
// between our read and our conditional update.
const maxCASAttempts = 8

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Recorder   usagedomain.Recorder
	Pricing    *config.PricingConfigHolder `optional:"true"`
	Clock      clock.Clock                 `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	recorder   usagedomain.Recorder
	pricing    *config.PricingConfigHolder
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) creditdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		genID:      p.GenID,
		recorder:   p.Recorder,
		pricing:    p.Pricing,
		clock:      clk,
		obsMetrics: p.ObsMetrics,
	}
}

// ResolveAccount maps the acting user to the organization pool when the user
// belongs to one, otherwise to the personal pool, creating it on first use.
func (s *Service) ResolveAccount(ctx context.Context, ref creditdomain.UserRef) (*creditdomain.Account, error) {
	ownerType, ownerID, err := ownerOf(ref)
	if err != nil {
		return nil, err
	}

	existing, err := s.findByOwner(ctx, ownerType, ownerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.clock.Now()
	account := creditdomain.Account{
		ID:              s.genID.Generate(),
		OwnerType:       ownerType,
		OwnerID:         ownerID,
		Balance:         amount.Zero,
		Plan:            creditdomain.PlanFree,
		PeriodUsage:     amount.Zero,
		PeriodStartedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&account)
	if result.Error != nil && !db.IsDuplicateKeyErr(result.Error) {
		return nil, result.Error
	}

	if result.Error == nil && result.RowsAffected == 1 {
		s.log.Info("credit account created",
			zap.String("owner_type", string(ownerType)),
			zap.String("owner_id", ownerID),
			zap.String("account_id", account.ID.String()),
		)
		if err := s.grantWelcomeBonus(ctx, account.ID); err != nil {
			return nil, err
		}
	}

	created, err := s.findByOwner(ctx, ownerType, ownerID)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, creditdomain.ErrAccountNotFound
	}
	return created, nil
}

func (s *Service) GetAccount(ctx context.Context, accountID snowflake.ID) (*creditdomain.Account, error) {
	return s.loadAccount(ctx, s.db, accountID)
}

// CheckSufficient is advisory. Deduct re-validates the balance on its own.
func (s *Service) CheckSufficient(ctx context.Context, accountID snowflake.ID, required amount.Amount) (creditdomain.CheckResult, error) {
	if required.IsNegative() {
		return creditdomain.CheckResult{}, creditdomain.ErrInvalidAmount
	}
	account, err := s.loadAccount(ctx, s.db, accountID)
	if err != nil {
		return creditdomain.CheckResult{}, err
	}
	return creditdomain.CheckResult{
		Sufficient: account.Balance >= required,
		Balance:    account.Balance,
		Required:   required,
	}, nil
}

// Deduct debits the account and appends the matching usage record in one
// transaction. The balance guard lives in the UPDATE itself, so no earlier
// check is relied upon.
func (s *Service) Deduct(ctx context.Context, req creditdomain.DeductRequest) (creditdomain.DeductResult, error) {
	if req.Amount.IsNegative() {
		return creditdomain.DeductResult{}, creditdomain.ErrInvalidAmount
	}
	feature := strings.TrimSpace(req.Feature)
	if feature == "" {
		return creditdomain.DeductResult{}, creditdomain.ErrInvalidFeature
	}

	log := obslogger.WithAccount(obslogger.WithContext(ctx, s.log), req.AccountID.Int64())

	var result creditdomain.DeductResult
	err := s.withCAS(ctx, req.AccountID, func(tx *gorm.DB, account *creditdomain.Account) error {
		if account.Balance < req.Amount {
			return &creditdomain.InsufficientCreditsError{Balance: account.Balance, Required: req.Amount}
		}
		newBalance, err := account.Balance.Sub(req.Amount)
		if err != nil {
			return err
		}
		newUsage, err := account.PeriodUsage.Add(req.Amount)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		update := tx.WithContext(ctx).Exec(
			`UPDATE credit_accounts
			 SET balance = ?, period_usage = ?, version = version + 1, updated_at = ?
			 WHERE id = ? AND version = ? AND balance >= ?`,
			newBalance,
			newUsage,
			now,
			account.ID,
			account.Version,
			req.Amount,
		)
		if db.IsCheckViolation(update.Error) {
			return &creditdomain.InsufficientCreditsError{Balance: account.Balance, Required: req.Amount}
		}
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return creditdomain.ErrConcurrentUpdate
		}

		rec := &usagedomain.UsageRecord{
			ID:           s.genID.Generate(),
			AccountID:    account.ID,
			Feature:      feature,
			Model:        strings.TrimSpace(req.Model),
			TokensInput:  req.TokensInput,
			TokensOutput: req.TokensOutput,
			Cost:         req.Amount,
			ProjectID:    req.ProjectID,
			SubmissionID: req.SubmissionID,
			Metadata:     datatypes.JSONMap(req.Metadata),
			CreatedAt:    now,
		}
		if err := s.recorder.Append(ctx, tx, rec); err != nil {
			return fmt.Errorf("append usage record: %w", err)
		}

		if req.Settle != nil {
			if err := req.Settle(ctx, tx); err != nil {
				return err
			}
		}

		result = creditdomain.DeductResult{NewBalance: newBalance, UsageRecordID: rec.ID}
		return nil
	})
	if err != nil {
		if errors.Is(err, creditdomain.ErrInsufficientCredits) {
			s.obsMetrics.RecordDenied(ctx, feature)
			log.Debug("deduct rejected", zap.String("feature", feature), zap.String("required", req.Amount.String()))
		}
		return creditdomain.DeductResult{}, err
	}

	s.obsMetrics.RecordDebit(ctx, feature, req.Amount.Float64())
	log.Debug("credits deducted",
		zap.String("feature", feature),
		zap.String("amount", req.Amount.String()),
		zap.String("new_balance", result.NewBalance.String()),
	)
	return result, nil
}

// Add credits the account and journals a grant. It never touches
// period usage and never writes a usage record.
func (s *Service) Add(ctx context.Context, req creditdomain.AddRequest) (creditdomain.AddResult, error) {
	if req.Amount <= 0 {
		return creditdomain.AddResult{}, creditdomain.ErrInvalidAmount
	}
	if !req.Reason.Valid() {
		return creditdomain.AddResult{}, creditdomain.ErrInvalidReason
	}
	var externalID *string
	if ext := strings.TrimSpace(req.ExternalID); ext != "" {
		externalID = &ext
	}

	var result creditdomain.AddResult
	err := s.withCAS(ctx, req.AccountID, func(tx *gorm.DB, account *creditdomain.Account) error {
		if externalID != nil {
			var count int64
			if err := tx.WithContext(ctx).Model(&creditdomain.Grant{}).
				Where("account_id = ? AND external_id = ?", account.ID, *externalID).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return creditdomain.ErrDuplicateGrant
			}
		}

		newBalance, err := account.Balance.Add(req.Amount)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		update := tx.WithContext(ctx).Exec(
			`UPDATE credit_accounts
			 SET balance = ?, version = version + 1, updated_at = ?
			 WHERE id = ? AND version = ?`,
			newBalance,
			now,
			account.ID,
			account.Version,
		)
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return creditdomain.ErrConcurrentUpdate
		}

		grant := creditdomain.Grant{
			ID:           s.genID.Generate(),
			AccountID:    account.ID,
			Amount:       req.Amount,
			BalanceAfter: newBalance,
			Reason:       req.Reason,
			ExternalID:   externalID,
			CreatedAt:    now,
		}
		if err := tx.WithContext(ctx).Create(&grant).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return creditdomain.ErrDuplicateGrant
			}
			return err
		}

		result = creditdomain.AddResult{NewBalance: newBalance, GrantID: grant.ID}
		return nil
	})
	if err != nil {
		return creditdomain.AddResult{}, err
	}

	s.obsMetrics.RecordGrant(ctx, string(req.Reason), req.Amount.Float64())
	obslogger.WithAccount(obslogger.WithContext(ctx, s.log), req.AccountID.Int64()).Info("credits added",
		zap.String("reason", string(req.Reason)),
		zap.String("amount", req.Amount.String()),
		zap.String("new_balance", result.NewBalance.String()),
	)
	return result, nil
}

func (s *Service) ChangePlan(ctx context.Context, accountID snowflake.ID, plan creditdomain.Plan) (*creditdomain.Account, error) {
	if !plan.Valid() {
		return nil, creditdomain.ErrInvalidPlan
	}
	err := s.withCAS(ctx, accountID, func(tx *gorm.DB, account *creditdomain.Account) error {
		if account.Plan == plan {
			return nil
		}
		update := tx.WithContext(ctx).Exec(
			`UPDATE credit_accounts SET plan = ?, version = version + 1, updated_at = ?
			 WHERE id = ? AND version = ?`,
			string(plan),
			s.clock.Now(),
			account.ID,
			account.Version,
		)
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return creditdomain.ErrConcurrentUpdate
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.loadAccount(ctx, s.db, accountID)
}

// ListPeriodExpired returns accounts whose billing period began before the cutoff.
func (s *Service) ListPeriodExpired(ctx context.Context, startedBefore time.Time, limit int) ([]creditdomain.Account, error) {
	if limit <= 0 {
		limit = 100
	}
	var accounts []creditdomain.Account
	err := s.db.WithContext(ctx).
		Where("period_started_at < ?", startedBefore.UTC()).
		Order("period_started_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

// RolloverPeriod zeroes period usage and starts a new period. It reports
// false when the account's period is not yet due.
func (s *Service) RolloverPeriod(ctx context.Context, accountID snowflake.ID, startedBefore time.Time) (bool, error) {
	rolled := false
	err := s.withCAS(ctx, accountID, func(tx *gorm.DB, account *creditdomain.Account) error {
		if !account.PeriodStartedAt.Before(startedBefore) {
			return nil
		}
		now := s.clock.Now()
		update := tx.WithContext(ctx).Exec(
			`UPDATE credit_accounts
			 SET period_usage = 0, period_started_at = ?, version = version + 1, updated_at = ?
			 WHERE id = ? AND version = ?`,
			now,
			now,
			account.ID,
			account.Version,
		)
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return creditdomain.ErrConcurrentUpdate
		}
		rolled = true
		return nil
	})
	return rolled, err
}

// withCAS reads the account, runs fn in a transaction and retries from a
// fresh read when fn reports a version conflict.
func (s *Service) withCAS(ctx context.Context, accountID snowflake.ID, fn func(tx *gorm.DB, account *creditdomain.Account) error) error {
	if accountID == 0 {
		return creditdomain.ErrAccountNotFound
	}
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			account, err := s.loadAccount(ctx, tx, accountID)
			if err != nil {
				return err
			}
			return fn(tx, account)
		})
		if errors.Is(err, creditdomain.ErrConcurrentUpdate) {
			s.log.Debug("credit account version conflict, retrying",
				zap.String("account_id", accountID.String()),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return err
	}
	return creditdomain.ErrConcurrentUpdate
}

func (s *Service) loadAccount(ctx context.Context, conn *gorm.DB, accountID snowflake.ID) (*creditdomain.Account, error) {
	if accountID == 0 {
		return nil, creditdomain.ErrAccountNotFound
	}
	var account creditdomain.Account
	err := conn.WithContext(ctx).Where("id = ?", accountID).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, creditdomain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Service) findByOwner(ctx context.Context, ownerType creditdomain.OwnerType, ownerID string) (*creditdomain.Account, error) {
	var account creditdomain.Account
	err := s.db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", string(ownerType), ownerID).
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (s *Service) grantWelcomeBonus(ctx context.Context, accountID snowflake.ID) error {
	if s.pricing == nil {
		return nil
	}
	bonus := amount.FromFloat(s.pricing.Get().WelcomeBonus)
	if bonus <= 0 {
		return nil
	}
	_, err := s.Add(ctx, creditdomain.AddRequest{
		AccountID:  accountID,
		Amount:     bonus,
		Reason:     creditdomain.GrantReasonWelcomeBonus,
		ExternalID: "welcome:" + accountID.String(),
	})
	if errors.Is(err, creditdomain.ErrDuplicateGrant) {
		return nil
	}
	return err
}

func ownerOf(ref creditdomain.UserRef) (creditdomain.OwnerType, string, error) {
	userID := strings.TrimSpace(ref.UserID)
	if userID == "" {
		return "", "", creditdomain.ErrAccountNotFound
	}
	if orgID := strings.TrimSpace(ref.OrganizationID); orgID != "" {
		return creditdomain.OwnerTypeOrganization, orgID, nil
	}
	return creditdomain.OwnerTypeUser, userID, nil
}
