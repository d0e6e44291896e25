// Package assessmenttest builds in-memory assessments for tests.
package assessmenttest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/gradewise/internal/assessment/domain"
	"github.com/smallbiznis/gradewise/internal/assessment/repository"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// OpenDB opens a private in-memory SQLite database migrated with the
// assessment tables plus any extra models.
func OpenDB(t testing.TB, extra ...any) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	models := append([]any{&domain.Field{}, &domain.Submission{}, &domain.Response{}}, extra...)
	require.NoError(t, db.AutoMigrate(models...))
	return db
}

// Builder seeds one project worth of fields, submissions and responses.
type Builder struct {
	t         testing.TB
	Repo      domain.Repository
	Node      *snowflake.Node
	ProjectID snowflake.ID
	now       time.Time
	position  int
}

func NewBuilder(t testing.TB, db *gorm.DB, node *snowflake.Node) *Builder {
	t.Helper()
	return &Builder{
		t:         t,
		Repo:      repository.NewRepository(db),
		Node:      node,
		ProjectID: node.Generate(),
		now:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func Marks(v float64) *float64 { return &v }

// Field adds a field at the next position.
func (b *Builder) Field(fieldType domain.FieldType, marks *float64, correct domain.Value) *domain.Field {
	b.t.Helper()
	b.position++
	field := &domain.Field{
		ID:            b.Node.Generate(),
		ProjectID:     b.ProjectID,
		Type:          fieldType,
		Label:         fmt.Sprintf("Question %d", b.position),
		CorrectAnswer: correct,
		Marks:         marks,
		Position:      b.position,
		CreatedAt:     b.now,
		UpdatedAt:     b.now,
	}
	require.NoError(b.t, b.Repo.CreateField(context.Background(), field))
	return field
}

func (b *Builder) Submission(status domain.SubmissionStatus) *domain.Submission {
	b.t.Helper()
	submission := &domain.Submission{
		ID:           b.Node.Generate(),
		ProjectID:    b.ProjectID,
		RespondentID: "respondent-" + b.Node.Generate().String(),
		Status:       status,
		CreatedAt:    b.now,
		UpdatedAt:    b.now,
	}
	require.NoError(b.t, b.Repo.CreateSubmission(context.Background(), submission))
	return submission
}

func (b *Builder) Response(submission *domain.Submission, field *domain.Field, value domain.Value) *domain.Response {
	b.t.Helper()
	response := &domain.Response{
		ID:           b.Node.Generate(),
		SubmissionID: submission.ID,
		FieldID:      field.ID,
		Value:        value,
		CreatedAt:    b.now,
		UpdatedAt:    b.now,
	}
	require.NoError(b.t, b.Repo.CreateResponse(context.Background(), response))
	return response
}

// Mark writes a mark directly, bypassing every grading path.
func (b *Builder) Mark(response *domain.Response, marks float64, source domain.MarkSource) {
	b.t.Helper()
	require.NoError(b.t, b.Repo.ApplyMark(context.Background(), nil, response.ID, domain.Mark{
		MarksAwarded: marks,
		Source:       source,
		MarkedAt:     b.now,
	}))
}
