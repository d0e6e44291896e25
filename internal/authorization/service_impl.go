package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	obslogger "github.com/smallbiznis/gradewise/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectCredit     = "credit"
	ObjectUsage      = "usage"
	ObjectSubmission = "submission"
	ObjectResponse   = "response"
)

const (
	ActionCreditView       = "credit.view"
	ActionCreditCheck      = "credit.check"
	ActionCreditDeduct     = "credit.deduct"
	ActionCreditAdd        = "credit.add"
	ActionCreditChangePlan = "credit.change_plan"

	ActionUsageView = "usage.view"

	ActionSubmissionSubmit    = "submission.submit"
	ActionSubmissionBulkGrade = "submission.bulk_grade"
	ActionSubmissionRecompute = "submission.recompute"
	ActionSubmissionReturn    = "submission.return"

	ActionResponseMark = "response.mark"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

// Authorize checks the actor's role against the seeded policies within the
// actor's domain, the organization when there is one, else the user itself.
func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, object string, action string) error {
	userID := strings.TrimSpace(actor.UserID)
	if userID == "" {
		return ErrInvalidActor
	}
	role := Role(strings.ToLower(strings.TrimSpace(string(actor.Role))))
	if !role.Valid() {
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("user:%s", userID)
	domain := domainOf(actor)
	roleName := fmt.Sprintf("role:%s", role)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		obslogger.WithContext(ctx, s.log).Info("authorization.denied",
			zap.String("subject", subject),
			zap.String("domain", domain),
			zap.String("role", string(role)),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func domainOf(actor Actor) string {
	if orgID := strings.TrimSpace(actor.OrgID); orgID != "" {
		return fmt.Sprintf("org:%s", orgID)
	}
	return fmt.Sprintf("user:%s", strings.TrimSpace(actor.UserID))
}

// ensureGrouping keeps a single role binding per subject and domain, replacing
// a stale one when the caller's role has changed.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Student permissions
		{"role:student", ObjectCredit, ActionCreditView},
		{"role:student", ObjectCredit, ActionCreditCheck},
		{"role:student", ObjectUsage, ActionUsageView},
		{"role:student", ObjectSubmission, ActionSubmissionSubmit},

		// Teacher permissions
		{"role:teacher", ObjectCredit, ActionCreditView},
		{"role:teacher", ObjectCredit, ActionCreditCheck},
		{"role:teacher", ObjectCredit, ActionCreditDeduct},
		{"role:teacher", ObjectUsage, ActionUsageView},
		{"role:teacher", ObjectSubmission, ActionSubmissionSubmit},
		{"role:teacher", ObjectSubmission, ActionSubmissionBulkGrade},
		{"role:teacher", ObjectSubmission, ActionSubmissionRecompute},
		{"role:teacher", ObjectSubmission, ActionSubmissionReturn},
		{"role:teacher", ObjectResponse, ActionResponseMark},

		// Admin permissions
		{"role:admin", ObjectCredit, ActionCreditView},
		{"role:admin", ObjectCredit, ActionCreditCheck},
		{"role:admin", ObjectCredit, ActionCreditDeduct},
		{"role:admin", ObjectCredit, ActionCreditAdd},
		{"role:admin", ObjectCredit, ActionCreditChangePlan},
		{"role:admin", ObjectUsage, ActionUsageView},
		{"role:admin", ObjectSubmission, ActionSubmissionSubmit},
		{"role:admin", ObjectSubmission, ActionSubmissionBulkGrade},
		{"role:admin", ObjectSubmission, ActionSubmissionRecompute},
		{"role:admin", ObjectSubmission, ActionSubmissionReturn},
		{"role:admin", ObjectResponse, ActionResponseMark},

		// System permissions (for automated processes)
		{"role:system", ObjectCredit, ActionCreditView},
		{"role:system", ObjectCredit, ActionCreditCheck},
		{"role:system", ObjectCredit, ActionCreditDeduct},
		{"role:system", ObjectCredit, ActionCreditAdd},
		{"role:system", ObjectCredit, ActionCreditChangePlan},
		{"role:system", ObjectSubmission, ActionSubmissionBulkGrade},
		{"role:system", ObjectSubmission, ActionSubmissionRecompute},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
