package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gradewise/pkg/amount"
	"gorm.io/gorm"
)

// UserRef is the already-resolved identity of the acting user.
type UserRef struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id,omitempty"`
}

type CheckResult struct {
	Sufficient bool          `json:"sufficient"`
	Balance    amount.Amount `json:"balance"`
	Required   amount.Amount `json:"required"`
}

// SettleFunc runs inside the deduction transaction after the debit and its
// usage record are written. Returning an error rolls all three back.
type SettleFunc func(ctx context.Context, tx *gorm.DB) error

type DeductRequest struct {
	AccountID    snowflake.ID
	Amount       amount.Amount
	Feature      string
	Model        string
	TokensInput  int64
	TokensOutput int64
	ProjectID    *snowflake.ID
	SubmissionID *snowflake.ID
	Metadata     map[string]any
	Settle       SettleFunc
}

type DeductResult struct {
	NewBalance    amount.Amount `json:"new_balance"`
	UsageRecordID snowflake.ID  `json:"usage_record_id"`
}

type AddRequest struct {
	AccountID snowflake.ID
	Amount    amount.Amount
	Reason    GrantReason
	// ExternalID deduplicates provider deliveries of the same purchase.
	ExternalID string
}

type AddResult struct {
	NewBalance amount.Amount `json:"new_balance"`
	GrantID    snowflake.ID  `json:"grant_id"`
}

type Service interface {
	ResolveAccount(ctx context.Context, ref UserRef) (*Account, error)
	GetAccount(ctx context.Context, accountID snowflake.ID) (*Account, error)
	CheckSufficient(ctx context.Context, accountID snowflake.ID, required amount.Amount) (CheckResult, error)
	Deduct(ctx context.Context, req DeductRequest) (DeductResult, error)
	Add(ctx context.Context, req AddRequest) (AddResult, error)
	ChangePlan(ctx context.Context, accountID snowflake.ID, plan Plan) (*Account, error)
	ListPeriodExpired(ctx context.Context, startedBefore time.Time, limit int) ([]Account, error)
	RolloverPeriod(ctx context.Context, accountID snowflake.ID, startedBefore time.Time) (bool, error)
}

var (
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrAccountNotFound     = errors.New("account_not_found")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidFeature      = errors.New("invalid_feature")
	ErrInvalidPlan         = errors.New("invalid_plan")
	ErrInvalidReason       = errors.New("invalid_reason")
	ErrDuplicateGrant      = errors.New("duplicate_grant")
	ErrConcurrentUpdate    = errors.New("concurrent_update")
)

// InsufficientCreditsError reports the balance seen at deduction time.
type InsufficientCreditsError struct {
	Balance  amount.Amount
	Required amount.Amount
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient_credits: you need ~%s credits, you have %s",
		e.Required.Format(2), e.Balance.Format(2))
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// Shortfall is how many more credits would have been needed.
func (e *InsufficientCreditsError) Shortfall() amount.Amount {
	if e.Required <= e.Balance {
		return amount.Zero
	}
	return e.Required - e.Balance
}
