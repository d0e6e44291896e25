package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/ecodeclub/ekit/slice"
	"github.com/smallbiznis/gradewise/internal/clock"
	usagedomain "github.com/smallbiznis/gradewise/internal/usage/domain"
	"github.com/smallbiznis/gradewise/pkg/amount"
	"github.com/smallbiznis/gradewise/pkg/db/option"
	"github.com/smallbiznis/gradewise/pkg/db/pagination"
	"github.com/smallbiznis/gradewise/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	clock     clock.Clock
	usagerepo repository.Repository[usagedomain.UsageRecord]
}

func NewService(p ServiceParam) usagedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:     p.GenID,
		clock:     clk,
		usagerepo: repository.ProvideStore[usagedomain.UsageRecord](p.DB),
	}
}

func (s *Service) Append(ctx context.Context, tx *gorm.DB, rec *usagedomain.UsageRecord) error {
	if tx == nil {
		return usagedomain.ErrMissingTx
	}
	if rec == nil || rec.AccountID == 0 {
		return usagedomain.ErrInvalidAccount
	}
	rec.Feature = strings.TrimSpace(rec.Feature)
	if rec.Feature == "" {
		return usagedomain.ErrInvalidFeature
	}
	if rec.TokensInput < 0 || rec.TokensOutput < 0 {
		return usagedomain.ErrInvalidTokens
	}
	if rec.Cost.IsNegative() {
		return usagedomain.ErrInvalidCost
	}
	if rec.ID == 0 {
		rec.ID = s.genID.Generate()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock.Now()
	}
	if rec.Metadata == nil {
		rec.Metadata = datatypes.JSONMap{}
	}

	return s.usagerepo.WithTrx(tx).Create(ctx, rec)
}

func (s *Service) Query(ctx context.Context, accountID snowflake.ID, filter usagedomain.QueryFilter) (usagedomain.QueryResponse, error) {
	opts, err := s.buildQueryOptions(accountID, filter)
	if err != nil {
		return usagedomain.QueryResponse{}, err
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	if pageSize > pagination.MaxPageSize {
		pageSize = pagination.MaxPageSize
	}
	opts = append(opts, option.ApplyPagination(pagination.Pagination{
		PageToken: filter.PageToken,
		PageSize:  pageSize,
	}))

	items, err := s.usagerepo.Find(ctx, &usagedomain.UsageRecord{AccountID: accountID}, opts...)
	if err != nil {
		return usagedomain.QueryResponse{}, err
	}

	page, pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(rec *usagedomain.UsageRecord) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        strconv.FormatInt(rec.ID.Int64(), 10),
			CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	return usagedomain.QueryResponse{
		PageInfo: pageInfo,
		UsageRecords: slice.Map(page, func(_ int, rec *usagedomain.UsageRecord) usagedomain.UsageRecord {
			return *rec
		}),
	}, nil
}

// Stats aggregates the filtered history at read time; nothing is stored.
func (s *Service) Stats(ctx context.Context, accountID snowflake.ID, filter usagedomain.QueryFilter) (usagedomain.Stats, error) {
	opts, err := s.buildQueryOptions(accountID, filter)
	if err != nil {
		return usagedomain.Stats{}, err
	}

	items, err := s.usagerepo.Find(ctx, &usagedomain.UsageRecord{AccountID: accountID}, opts...)
	if err != nil {
		return usagedomain.Stats{}, err
	}

	return aggregate(items), nil
}

func (s *Service) buildQueryOptions(accountID snowflake.ID, filter usagedomain.QueryFilter) ([]option.QueryOption, error) {
	if accountID == 0 {
		return nil, usagedomain.ErrInvalidAccount
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, usagedomain.ErrInvalidDateRange
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	}
	if filter.StartDate != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.GTE,
			Value:    filter.StartDate.UTC(),
		}))
	}
	if filter.EndDate != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.LTE,
			Value:    filter.EndDate.UTC(),
		}))
	}
	if feature := strings.TrimSpace(filter.Feature); feature != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "feature",
			Operator: option.EQ,
			Value:    feature,
		}))
	}
	return opts, nil
}

func aggregate(items []*usagedomain.UsageRecord) usagedomain.Stats {
	stats := usagedomain.Stats{}
	byFeature := map[string]*usagedomain.Bucket{}
	byModel := map[string]*usagedomain.Bucket{}
	byDay := map[string]*usagedomain.Bucket{}

	for _, rec := range items {
		if rec == nil {
			continue
		}
		stats.Count++
		stats.TotalCost += rec.Cost
		stats.TokensInput += rec.TokensInput
		stats.TokensOutput += rec.TokensOutput

		model := rec.Model
		if model == "" {
			model = "none"
		}
		addTo(byFeature, rec.Feature, rec)
		addTo(byModel, model, rec)
		addTo(byDay, rec.CreatedAt.UTC().Format(time.DateOnly), rec)
	}

	stats.ByFeature = sortedBuckets(byFeature, false)
	stats.ByModel = sortedBuckets(byModel, false)
	stats.ByDay = sortedBuckets(byDay, true)
	return stats
}

func addTo(buckets map[string]*usagedomain.Bucket, key string, rec *usagedomain.UsageRecord) {
	b, ok := buckets[key]
	if !ok {
		b = &usagedomain.Bucket{Key: key, Cost: amount.Zero}
		buckets[key] = b
	}
	b.Count++
	b.Cost += rec.Cost
	b.TokensInput += rec.TokensInput
	b.TokensOutput += rec.TokensOutput
}

// sortedBuckets orders by key when byKey is set, otherwise by cost descending.
func sortedBuckets(buckets map[string]*usagedomain.Bucket, byKey bool) []usagedomain.Bucket {
	out := make([]usagedomain.Bucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if byKey || out[i].Cost == out[j].Cost {
			return out[i].Key < out[j].Key
		}
		return out[i].Cost > out[j].Cost
	})
	return out
}
