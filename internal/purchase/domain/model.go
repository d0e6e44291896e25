// Package domain models payment provider events that buy credits.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gradewise/pkg/amount"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const EventTypeCreditsPurchased = "credits_purchased"

// EventRecord is the receipt of one provider delivery.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_purchase_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_purchase_events_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	AccountID       *snowflake.ID  `json:"account_id,omitempty" gorm:"index"`
	Credits         amount.Amount  `json:"credits" gorm:"not null;default:0"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "purchase_events" }

// PurchaseEvent is the canonical event every provider payload is parsed into.
type PurchaseEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	// TransactionID is the provider's purchase id; it keys the credit grant.
	TransactionID  string
	UserID         string
	OrganizationID string
	Credits        amount.Amount
	OccurredAt     time.Time
	RawPayload     []byte
}

// ExternalID is the dedupe key handed to the ledger.
func (e PurchaseEvent) ExternalID() string {
	key := e.TransactionID
	if key == "" {
		key = e.ProviderEventID
	}
	return e.Provider + ":" + key
}

type Result struct {
	AccountID snowflake.ID  `json:"account_id"`
	Credits   amount.Amount `json:"credits"`
	Balance   amount.Amount `json:"balance"`
	Duplicate bool          `json:"duplicate"`
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id, accountID snowflake.ID, processedAt time.Time) error
}

// Intake turns verified provider events into ledger credits. Redelivery of
// an already processed event is acknowledged with Duplicate set.
type Intake interface {
	Handle(ctx context.Context, event PurchaseEvent) (Result, error)
}

var (
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrWebhookDisabled  = errors.New("webhook_disabled")
)
