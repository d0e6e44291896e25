package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	aigradingdomain "github.com/smallbiznis/gradewise/internal/aigrading/domain"
	assessmentdomain "github.com/smallbiznis/gradewise/internal/assessment/domain"
	"github.com/smallbiznis/gradewise/internal/authorization"
	bulkgradingdomain "github.com/smallbiznis/gradewise/internal/bulkgrading/domain"
	"github.com/smallbiznis/gradewise/internal/config"
	creditdomain "github.com/smallbiznis/gradewise/internal/credit/domain"
	purchasedomain "github.com/smallbiznis/gradewise/internal/purchase/domain"
	"github.com/smallbiznis/gradewise/internal/purchase/webhook"
	"github.com/smallbiznis/gradewise/pkg/amount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockCredit struct {
	creditdomain.Service
	mock.Mock
}

func (m *mockCredit) ResolveAccount(ctx context.Context, ref creditdomain.UserRef) (*creditdomain.Account, error) {
	args := m.Called(ctx, ref)
	account, _ := args.Get(0).(*creditdomain.Account)
	return account, args.Error(1)
}

func (m *mockCredit) Deduct(ctx context.Context, req creditdomain.DeductRequest) (creditdomain.DeductResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(creditdomain.DeductResult)
	return result, args.Error(1)
}

type mockBulkGrading struct {
	mock.Mock
}

func (m *mockBulkGrading) BulkGrade(ctx context.Context, req bulkgradingdomain.Request) (*bulkgradingdomain.Report, error) {
	args := m.Called(ctx, req)
	report, _ := args.Get(0).(*bulkgradingdomain.Report)
	return report, args.Error(1)
}

type harness struct {
	engine *gin.Engine
	credit *mockCredit
	bulk   *mockBulkGrading
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	h := &harness{
		engine: engine,
		credit: &mockCredit{},
		bulk:   &mockBulkGrading{},
	}
	NewServer(ServerParams{
		Gin:            engine,
		Cfg:            config.Config{},
		Log:            zap.NewNop(),
		AuthzSvc:       authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		CreditSvc:      h.credit,
		BulkGradingSvc: h.bulk,
		PurchaseHook:   webhook.NewService(webhook.Params{Cfg: config.Config{}, Log: zap.NewNop()}),
	})
	return h
}

func (h *harness) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func teacher() map[string]string {
	return map[string]string{HeaderUser: "u-1", HeaderRole: "teacher"}
}

func TestIdentityRequired(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/credits", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec)["type"])
	h.credit.AssertNotCalled(t, "ResolveAccount", mock.Anything, mock.Anything)
}

func TestGetCreditsResolvesCallerAccount(t *testing.T) {
	h := newHarness(t)
	account := &creditdomain.Account{
		ID:        snowflake.ID(42),
		OwnerType: creditdomain.OwnerTypeOrganization,
		OwnerID:   "org-9",
		Balance:   amount.FromCredits(150),
		Plan:      creditdomain.PlanSubscription,
	}
	h.credit.On("ResolveAccount", mock.Anything, creditdomain.UserRef{UserID: "u-1", OrganizationID: "org-9"}).
		Return(account, nil).Once()

	rec := h.do(http.MethodGet, "/api/credits", nil, map[string]string{
		HeaderUser: "u-1",
		HeaderOrg:  "org-9",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.EqualValues(t, 150, got["balance"])
	assert.Equal(t, "org-9", got["owner_id"])
	h.credit.AssertExpectations(t)
}

func TestDeductInsufficientReturnsShortfall(t *testing.T) {
	h := newHarness(t)
	account := &creditdomain.Account{ID: snowflake.ID(7), Balance: amount.FromCredits(3)}
	h.credit.On("ResolveAccount", mock.Anything, mock.Anything).Return(account, nil).Once()
	h.credit.On("Deduct", mock.Anything, mock.MatchedBy(func(req creditdomain.DeductRequest) bool {
		return req.AccountID == account.ID && req.Feature == "ai_grading"
	})).Return(creditdomain.DeductResult{}, &creditdomain.InsufficientCreditsError{
		Balance:  amount.FromCredits(3),
		Required: amount.FromCredits(10),
	}).Once()

	rec := h.do(http.MethodPost, "/api/credits/deduct", map[string]any{
		"amount":  10,
		"feature": " ai_grading ",
	}, teacher())

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "insufficient_credits", payload["type"])
	assert.EqualValues(t, 3, payload["balance"])
	assert.EqualValues(t, 10, payload["required"])
	assert.EqualValues(t, 7, payload["shortfall"])
	h.credit.AssertExpectations(t)
}

func TestStudentCannotDeduct(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/credits/deduct", map[string]any{"amount": 1, "feature": "ai_grading"},
		map[string]string{HeaderUser: "u-2"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	h.credit.AssertNotCalled(t, "Deduct", mock.Anything, mock.Anything)
}

func TestBulkGrade(t *testing.T) {
	account := &creditdomain.Account{ID: snowflake.ID(11), Balance: amount.FromCredits(100)}

	t.Run("student forbidden", func(t *testing.T) {
		h := newHarness(t)

		rec := h.do(http.MethodPost, "/api/submissions/5/bulk-grade", nil,
			map[string]string{HeaderUser: "u-3", HeaderRole: "student"})

		assert.Equal(t, http.StatusForbidden, rec.Code)
		h.bulk.AssertNotCalled(t, "BulkGrade", mock.Anything, mock.Anything)
	})

	t.Run("teacher receives report", func(t *testing.T) {
		h := newHarness(t)
		h.credit.On("ResolveAccount", mock.Anything, mock.Anything).Return(account, nil).Once()
		h.bulk.On("BulkGrade", mock.Anything, bulkgradingdomain.Request{
			SubmissionID: snowflake.ID(5),
			AccountID:    account.ID,
		}).Return(&bulkgradingdomain.Report{
			SubmissionID: snowflake.ID(5),
			GradedCount:  2,
			TotalCost:    amount.FromCredits(4),
		}, nil).Once()

		rec := h.do(http.MethodPost, "/api/submissions/5/bulk-grade", nil, teacher())

		require.Equal(t, http.StatusOK, rec.Code)
		var got map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.EqualValues(t, 2, got["graded_count"])
		assert.EqualValues(t, 4, got["total_cost"])
		h.bulk.AssertExpectations(t)
	})

	t.Run("batch already running", func(t *testing.T) {
		h := newHarness(t)
		h.credit.On("ResolveAccount", mock.Anything, mock.Anything).Return(account, nil).Once()
		h.bulk.On("BulkGrade", mock.Anything, mock.Anything).Return(nil, bulkgradingdomain.ErrBatchInProgress).Once()

		rec := h.do(http.MethodPost, "/api/submissions/5/bulk-grade", nil, teacher())

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "batch_in_progress", decodeError(t, rec)["type"])
	})

	t.Run("invalid id", func(t *testing.T) {
		h := newHarness(t)

		rec := h.do(http.MethodPost, "/api/submissions/abc/bulk-grade", nil, teacher())

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		h.bulk.AssertNotCalled(t, "BulkGrade", mock.Anything, mock.Anything)
	})
}

func TestOverrideMarkRequiresMarks(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPut, "/api/responses/9/mark", map[string]any{"feedback": "ok"}, teacher())

	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload["type"])
	errs, ok := payload["errors"].([]any)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "marks", errs[0].(map[string]any)["field"])
}

func TestPaymentWebhookDisabledWithoutSecret(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/webhooks/payments", map[string]any{"type": "checkout.completed"}, nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"nil", nil, http.StatusInternalServerError, "internal_error"},
		{"insufficient sentinel", creditdomain.ErrInsufficientCredits, http.StatusPaymentRequired, "insufficient_credits"},
		{"forbidden", authorization.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"bad signature", purchasedomain.ErrInvalidSignature, http.StatusUnauthorized, "unauthorized"},
		{"duplicate grant", creditdomain.ErrDuplicateGrant, http.StatusConflict, "conflict"},
		{"invalid transition", fmt.Errorf("submit: %w", assessmentdomain.ErrInvalidTransition), http.StatusConflict, "conflict"},
		{"account missing", creditdomain.ErrAccountNotFound, http.StatusNotFound, "not_found"},
		{"gorm missing", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"provider", fmt.Errorf("grade: %w", aigradingdomain.ErrGradingProvider), http.StatusBadGateway, "grading_provider_error"},
		{"webhook disabled", purchasedomain.ErrWebhookDisabled, http.StatusServiceUnavailable, "service_unavailable"},
		{"invalid amount", creditdomain.ErrInvalidAmount, http.StatusBadRequest, "validation_error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, payload.Type)
		})
	}
}
