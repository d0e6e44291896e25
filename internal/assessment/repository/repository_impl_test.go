package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gradewise/internal/assessment/assessmenttest"
	"github.com/smallbiznis/gradewise/internal/assessment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMarkIfUngraded(t *testing.T) {
	db := assessmenttest.OpenDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	b := assessmenttest.NewBuilder(t, db, node)
	ctx := context.Background()

	sub := b.Submission(domain.SubmissionStatusSubmitted)
	field := b.Field(domain.FieldTypeLongText, assessmenttest.Marks(5), domain.Value{})
	resp := b.Response(sub, field, domain.TextValue("an answer"))

	ai := domain.Mark{
		MarksAwarded: 4,
		Source:       domain.MarkSourceAI,
		MarkedAt:     time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, b.Repo.ApplyMarkIfUngraded(ctx, nil, resp.ID, ai))

	got, err := b.Repo.GetResponse(ctx, resp.ID)
	require.NoError(t, err)
	require.NotNil(t, got.MarksAwarded)
	assert.Equal(t, 4.0, *got.MarksAwarded)

	ai.MarksAwarded = 1
	err = b.Repo.ApplyMarkIfUngraded(ctx, nil, resp.ID, ai)
	assert.ErrorIs(t, err, domain.ErrAlreadyMarked)

	got, err = b.Repo.GetResponse(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, *got.MarksAwarded)

	err = b.Repo.ApplyMarkIfUngraded(ctx, nil, node.Generate(), ai)
	assert.ErrorIs(t, err, domain.ErrResponseNotFound)
}

func TestResponseValueRoundTripsThroughColumn(t *testing.T) {
	db := assessmenttest.OpenDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	b := assessmenttest.NewBuilder(t, db, node)

	sub := b.Submission(domain.SubmissionStatusInProgress)
	choice := b.Field(domain.FieldTypeCheckbox, assessmenttest.Marks(1), domain.Value{})
	essay := b.Field(domain.FieldTypeLongText, nil, domain.Value{})
	picked := b.Response(sub, choice, domain.ChoicesValue("b", "a"))
	blank := b.Response(sub, essay, domain.Value{})

	got, err := b.Repo.GetResponse(context.Background(), picked.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ValueKindChoices, got.Value.Kind)
	assert.ElementsMatch(t, []string{"a", "b"}, got.Value.Choices)

	got, err = b.Repo.GetResponse(context.Background(), blank.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Value{}, got.Value)
}
