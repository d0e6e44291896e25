// Package domain holds the credit account model and ledger contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gradewise/pkg/amount"
)

// OwnerType says whose pool an account is.
type OwnerType string

const (
	OwnerTypeUser         OwnerType = "user"
	OwnerTypeOrganization OwnerType = "organization"
)

type Plan string

const (
	PlanFree         Plan = "free"
	PlanPayAsYouGo   Plan = "pay_as_you_go"
	PlanSubscription Plan = "subscription"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPayAsYouGo, PlanSubscription:
		return true
	default:
		return false
	}
}

// Account is a personal or organization-shared credit pool. Balance and
// PeriodUsage change only through the versioned updates in the ledger service.
type Account struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	OwnerType       OwnerType     `gorm:"type:text;not null;uniqueIndex:ux_credit_accounts_owner" json:"owner_type"`
	OwnerID         string        `gorm:"type:text;not null;uniqueIndex:ux_credit_accounts_owner" json:"owner_id"`
	Balance         amount.Amount `gorm:"not null;default:0" json:"balance"`
	Plan            Plan          `gorm:"type:text;not null;default:free" json:"plan"`
	PeriodUsage     amount.Amount `gorm:"not null;default:0" json:"period_usage"`
	PeriodStartedAt time.Time     `gorm:"not null" json:"period_started_at"`
	Version         int64         `gorm:"not null;default:0" json:"-"`
	CreatedAt       time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null" json:"last_updated"`
}

func (Account) TableName() string { return "credit_accounts" }

// Grant is the immutable journal row written by every add.
type Grant struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	AccountID    snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_credit_grants_external" json:"account_id"`
	Amount       amount.Amount `gorm:"not null" json:"amount"`
	BalanceAfter amount.Amount `gorm:"not null" json:"balance_after"`
	Reason       GrantReason   `gorm:"type:text;not null" json:"reason"`
	ExternalID   *string       `gorm:"type:text;uniqueIndex:ux_credit_grants_external" json:"external_id,omitempty"`
	CreatedAt    time.Time     `gorm:"not null" json:"created_at"`
}

func (Grant) TableName() string { return "credit_grants" }

type GrantReason string

const (
	GrantReasonPurchase     GrantReason = "purchase"
	GrantReasonWelcomeBonus GrantReason = "welcome_bonus"
	GrantReasonRefund       GrantReason = "refund"
	GrantReasonAdjustment   GrantReason = "adjustment"
)

func (r GrantReason) Valid() bool {
	switch r {
	case GrantReasonPurchase, GrantReasonWelcomeBonus, GrantReasonRefund, GrantReasonAdjustment:
		return true
	default:
		return false
	}
}
