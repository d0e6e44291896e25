package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gradewise/pkg/amount"
	"github.com/smallbiznis/gradewise/pkg/db/pagination"
	"gorm.io/gorm"
)

// Recorder appends usage records. There is no update or delete.
type Recorder interface {
	// Append writes rec using tx so the record commits or rolls back
	// together with the debit it describes.
	Append(ctx context.Context, tx *gorm.DB, rec *UsageRecord) error
}

// QueryFilter bounds are inclusive.
type QueryFilter struct {
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Feature   string     `json:"feature,omitempty"`
	PageToken string     `json:"page_token,omitempty"`
	PageSize  int        `json:"page_size,omitempty"`
}

type QueryResponse struct {
	pagination.PageInfo
	UsageRecords []UsageRecord `json:"usage_records"`
}

type Bucket struct {
	Key          string        `json:"key"`
	Count        int           `json:"count"`
	Cost         amount.Amount `json:"cost"`
	TokensInput  int64         `json:"tokens_input"`
	TokensOutput int64         `json:"tokens_output"`
}

type Stats struct {
	Count        int           `json:"count"`
	TotalCost    amount.Amount `json:"total_cost"`
	TokensInput  int64         `json:"tokens_input"`
	TokensOutput int64         `json:"tokens_output"`
	ByFeature    []Bucket      `json:"by_feature"`
	ByModel      []Bucket      `json:"by_model"`
	ByDay        []Bucket      `json:"by_day"`
}

type Service interface {
	Recorder
	Query(ctx context.Context, accountID snowflake.ID, filter QueryFilter) (QueryResponse, error)
	Stats(ctx context.Context, accountID snowflake.ID, filter QueryFilter) (Stats, error)
}

var (
	ErrInvalidAccount   = errors.New("invalid_account")
	ErrInvalidFeature   = errors.New("invalid_feature")
	ErrInvalidTokens    = errors.New("invalid_tokens")
	ErrInvalidCost      = errors.New("invalid_cost")
	ErrInvalidDateRange = errors.New("invalid_date_range")
	ErrMissingTx        = errors.New("usage_append_requires_tx")
)
