package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/gradewise/internal/clock"
	creditdomain "github.com/smallbiznis/gradewise/internal/credit/domain"
	creditservice "github.com/smallbiznis/gradewise/internal/credit/service"
	purchasedomain "github.com/smallbiznis/gradewise/internal/purchase/domain"
	"github.com/smallbiznis/gradewise/internal/purchase/repository"
	usagedomain "github.com/smallbiznis/gradewise/internal/usage/domain"
	usageservice "github.com/smallbiznis/gradewise/internal/usage/service"
	"github.com/smallbiznis/gradewise/pkg/amount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupIntake(t *testing.T) (purchasedomain.Intake, creditdomain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&creditdomain.Account{},
		&creditdomain.Grant{},
		&usagedomain.UsageRecord{},
		&purchasedomain.EventRecord{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))

	recorder := usageservice.NewService(usageservice.ServiceParam{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk})
	ledger := creditservice.NewService(creditservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Recorder: recorder, Clock: clk})
	intake := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Ledger: ledger,
		Repo:   repository.Provide(),
		Clock:  clk,
	})
	return intake, ledger, db
}

func purchase(eventID, txnID string, credits amount.Amount) purchasedomain.PurchaseEvent {
	return purchasedomain.PurchaseEvent{
		Provider:        "Stripe",
		ProviderEventID: eventID,
		Type:            purchasedomain.EventTypeCreditsPurchased,
		TransactionID:   txnID,
		UserID:          "user-7",
		OrganizationID:  "org-3",
		Credits:         credits,
		RawPayload:      []byte(`{"id":"` + eventID + `"}`),
	}
}

func TestHandleCreditsOrganizationAccount(t *testing.T) {
	intake, ledger, _ := setupIntake(t)
	ctx := context.Background()

	res, err := intake.Handle(ctx, purchase("evt_1", "txn_1", amount.FromCredits(50)))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, amount.FromCredits(50), res.Balance)

	account, err := ledger.ResolveAccount(ctx, creditdomain.UserRef{UserID: "someone-else", OrganizationID: "org-3"})
	require.NoError(t, err)
	assert.Equal(t, res.AccountID, account.ID)
	assert.Equal(t, amount.FromCredits(50), account.Balance)
	assert.True(t, account.PeriodUsage.IsZero())
}

func TestHandleAcknowledgesRedelivery(t *testing.T) {
	intake, _, db := setupIntake(t)
	ctx := context.Background()

	_, err := intake.Handle(ctx, purchase("evt_1", "txn_1", amount.FromCredits(20)))
	require.NoError(t, err)

	again, err := intake.Handle(ctx, purchase("evt_1", "txn_1", amount.FromCredits(20)))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, amount.FromCredits(20), again.Balance)

	// Same purchase delivered under a new event id.
	other, err := intake.Handle(ctx, purchase("evt_2", "txn_1", amount.FromCredits(20)))
	require.NoError(t, err)
	assert.True(t, other.Duplicate)
	assert.Equal(t, amount.FromCredits(20), other.Balance)

	var grants int64
	require.NoError(t, db.Model(&creditdomain.Grant{}).Count(&grants).Error)
	assert.Equal(t, int64(1), grants)

	var events int64
	require.NoError(t, db.Model(&purchasedomain.EventRecord{}).Where("processed_at IS NOT NULL").Count(&events).Error)
	assert.Equal(t, int64(2), events)
}

func TestHandleNeverWritesUsage(t *testing.T) {
	intake, _, db := setupIntake(t)
	_, err := intake.Handle(context.Background(), purchase("evt_9", "", amount.MustParse("12.5")))
	require.NoError(t, err)

	var n int64
	require.NoError(t, db.Model(&usagedomain.UsageRecord{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestHandleValidation(t *testing.T) {
	intake, _, _ := setupIntake(t)
	ctx := context.Background()

	ignored := purchase("evt_1", "txn", amount.FromCredits(1))
	ignored.Type = "credits_refunded"
	_, err := intake.Handle(ctx, ignored)
	assert.ErrorIs(t, err, purchasedomain.ErrEventIgnored)

	_, err = intake.Handle(ctx, purchase("", "txn", amount.FromCredits(1)))
	assert.ErrorIs(t, err, purchasedomain.ErrInvalidEvent)

	_, err = intake.Handle(ctx, purchase("evt_2", "txn", amount.Zero))
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)

	anonymous := purchase("evt_3", "txn", amount.FromCredits(1))
	anonymous.UserID = " "
	_, err = intake.Handle(ctx, anonymous)
	assert.ErrorIs(t, err, creditdomain.ErrAccountNotFound)
}

func TestExternalIDPrefersTransaction(t *testing.T) {
	assert.Equal(t, "stripe:txn_1", purchasedomain.PurchaseEvent{Provider: "stripe", ProviderEventID: "evt", TransactionID: "txn_1"}.ExternalID())
	assert.Equal(t, "stripe:evt", purchasedomain.PurchaseEvent{Provider: "stripe", ProviderEventID: "evt"}.ExternalID())
}
