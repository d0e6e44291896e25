// Package domain contains the append-only usage record written for every debit.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gradewise/pkg/amount"
	"gorm.io/datatypes"
)

// UsageRecord is the immutable fact of one successful credit deduction.
type UsageRecord struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID    snowflake.ID      `gorm:"not null;index:ix_usage_records_account_created,priority:1" json:"account_id"`
	Feature      string            `gorm:"type:text;not null" json:"feature"`
	Model        string            `gorm:"type:text" json:"model,omitempty"`
	TokensInput  int64             `gorm:"not null;default:0" json:"tokens_input"`
	TokensOutput int64             `gorm:"not null;default:0" json:"tokens_output"`
	Cost         amount.Amount     `gorm:"not null" json:"cost"`
	ProjectID    *snowflake.ID     `json:"related_project_id,omitempty"`
	SubmissionID *snowflake.ID     `json:"related_submission_id,omitempty"`
	Metadata     datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;index:ix_usage_records_account_created,priority:2" json:"timestamp"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }
