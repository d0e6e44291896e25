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
	usagedomain "github.com/smallbiznis/gradewise/internal/usage/domain"
	"github.com/smallbiznis/gradewise/pkg/amount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupUsageService(t *testing.T) (usagedomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageRecord{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))

	svc := NewService(ServiceParam{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk})
	return svc, db, clk
}

func appendRecord(t *testing.T, svc usagedomain.Service, db *gorm.DB, rec usagedomain.UsageRecord) {
	t.Helper()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.Append(context.Background(), tx, &rec)
	}))
}

func TestAppendRequiresTransactionAndValidFields(t *testing.T) {
	svc, db, _ := setupUsageService(t)
	ctx := context.Background()

	err := svc.Append(ctx, nil, &usagedomain.UsageRecord{AccountID: 1, Feature: "ai_grading"})
	assert.ErrorIs(t, err, usagedomain.ErrMissingTx)

	tests := []struct {
		name string
		rec  usagedomain.UsageRecord
		want error
	}{
		{name: "no account", rec: usagedomain.UsageRecord{Feature: "ai_grading"}, want: usagedomain.ErrInvalidAccount},
		{name: "no feature", rec: usagedomain.UsageRecord{AccountID: 1}, want: usagedomain.ErrInvalidFeature},
		{name: "negative tokens", rec: usagedomain.UsageRecord{AccountID: 1, Feature: "f", TokensInput: -1}, want: usagedomain.ErrInvalidTokens},
		{name: "negative cost", rec: usagedomain.UsageRecord{AccountID: 1, Feature: "f", Cost: -1}, want: usagedomain.ErrInvalidCost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.rec
			err := svc.Append(ctx, db, &rec)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestQueryReturnsMostRecentFirstWithPaging(t *testing.T) {
	svc, db, clk := setupUsageService(t)
	ctx := context.Background()
	accountID := snowflake.ID(100)

	for i := 0; i < 5; i++ {
		appendRecord(t, svc, db, usagedomain.UsageRecord{
			AccountID:   accountID,
			Feature:     "ai_grading",
			TokensInput: int64(i),
			Cost:        amount.FromCredits(int64(i + 1)),
		})
		clk.Advance(time.Minute)
	}
	appendRecord(t, svc, db, usagedomain.UsageRecord{AccountID: snowflake.ID(200), Feature: "ai_grading", Cost: 1})

	first, err := svc.Query(ctx, accountID, usagedomain.QueryFilter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.UsageRecords, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, int64(4), first.UsageRecords[0].TokensInput)
	assert.Equal(t, int64(3), first.UsageRecords[1].TokensInput)

	second, err := svc.Query(ctx, accountID, usagedomain.QueryFilter{PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.UsageRecords, 2)
	assert.Equal(t, int64(2), second.UsageRecords[0].TokensInput)

	third, err := svc.Query(ctx, accountID, usagedomain.QueryFilter{PageSize: 2, PageToken: second.NextPageToken})
	require.NoError(t, err)
	require.Len(t, third.UsageRecords, 1)
	assert.False(t, third.HasMore)
	assert.Equal(t, int64(0), third.UsageRecords[0].TokensInput)
}

func TestQueryFilters(t *testing.T) {
	svc, db, clk := setupUsageService(t)
	ctx := context.Background()
	accountID := snowflake.ID(100)

	start := clk.Now()
	appendRecord(t, svc, db, usagedomain.UsageRecord{AccountID: accountID, Feature: "ai_grading", Cost: 1})
	clk.Advance(48 * time.Hour)
	appendRecord(t, svc, db, usagedomain.UsageRecord{AccountID: accountID, Feature: "ai_feedback", Cost: 2})
	clk.Advance(48 * time.Hour)
	appendRecord(t, svc, db, usagedomain.UsageRecord{AccountID: accountID, Feature: "ai_grading", Cost: 3})

	res, err := svc.Query(ctx, accountID, usagedomain.QueryFilter{Feature: "ai_grading"})
	require.NoError(t, err)
	assert.Len(t, res.UsageRecords, 2)

	from := start.Add(time.Hour)
	to := start.Add(72 * time.Hour)
	res, err = svc.Query(ctx, accountID, usagedomain.QueryFilter{StartDate: &from, EndDate: &to})
	require.NoError(t, err)
	require.Len(t, res.UsageRecords, 1)
	assert.Equal(t, "ai_feedback", res.UsageRecords[0].Feature)

	_, err = svc.Query(ctx, accountID, usagedomain.QueryFilter{StartDate: &to, EndDate: &from})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidDateRange)

	_, err = svc.Query(ctx, accountID, usagedomain.QueryFilter{PageToken: "not-a-token"})
	assert.Error(t, err)
}

func TestStatsBreakdowns(t *testing.T) {
	svc, db, clk := setupUsageService(t)
	ctx := context.Background()
	accountID := snowflake.ID(100)

	appendRecord(t, svc, db, usagedomain.UsageRecord{AccountID: accountID, Feature: "ai_grading", Model: "gpt-4o-mini", TokensInput: 1000, TokensOutput: 200, Cost: amount.MustParse("0.8")})
	appendRecord(t, svc, db, usagedomain.UsageRecord{AccountID: accountID, Feature: "ai_grading", Model: "gpt-4o", TokensInput: 500, TokensOutput: 100, Cost: amount.MustParse("0.4")})
	clk.Advance(24 * time.Hour)
	appendRecord(t, svc, db, usagedomain.UsageRecord{AccountID: accountID, Feature: "ai_feedback", Model: "gpt-4o-mini", TokensInput: 100, TokensOutput: 100, Cost: amount.MustParse("0.2")})

	stats, err := svc.Stats(ctx, accountID, usagedomain.QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, amount.MustParse("1.4"), stats.TotalCost)
	assert.Equal(t, int64(1600), stats.TokensInput)
	assert.Equal(t, int64(400), stats.TokensOutput)

	require.Len(t, stats.ByFeature, 2)
	assert.Equal(t, "ai_grading", stats.ByFeature[0].Key)
	assert.Equal(t, amount.MustParse("1.2"), stats.ByFeature[0].Cost)

	require.Len(t, stats.ByModel, 2)
	assert.Equal(t, "gpt-4o-mini", stats.ByModel[0].Key)
	assert.Equal(t, 2, stats.ByModel[0].Count)

	require.Len(t, stats.ByDay, 2)
	assert.Equal(t, "2026-05-10", stats.ByDay[0].Key)
	assert.Equal(t, "2026-05-11", stats.ByDay[1].Key)
	assert.Equal(t, 2, stats.ByDay[0].Count)
}
