package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sctrcd/buspass/internal/memory"
	"github.com/sctrcd/buspass/internal/testutil"
)

// TestQuotaEnforcer_WithinLimit tests normal operation within quota.
func TestQuotaEnforcer_WithinLimit(t *testing.T) {
	q := NewQuotaEnforcer(10)

	for i := 0; i < 10; i++ {
		err := q.Check("session-1", "rule-a")
		assert.NoError(t, err, "step %d should be allowed", i+1)
	}

	assert.Equal(t, 10, q.Current())
	assert.Equal(t, 10, q.MaxSteps())
}

// TestQuotaEnforcer_ExceedsLimit tests quota exceeded error.
func TestQuotaEnforcer_ExceedsLimit(t *testing.T) {
	q := NewQuotaEnforcer(5)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Check("session-1", "rule-a"))
	}

	err := q.Check("session-1", "rule-b")
	require.Error(t, err)

	var ne *NonTerminationError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "session-1", ne.Session)
	assert.Equal(t, "rule-b", ne.RuleID)
	assert.Equal(t, 6, ne.Steps)
	assert.Equal(t, 5, ne.Limit)
}

func TestNonTerminationError_Error(t *testing.T) {
	err := &NonTerminationError{
		Session: "session-abc",
		RuleID:  "clone-person",
		Steps:   1001,
		Limit:   1000,
	}

	msg := err.Error()
	assert.Contains(t, msg, "session-abc")
	assert.Contains(t, msg, "clone-person")
	assert.Contains(t, msg, "1001")
	assert.Contains(t, msg, "1000")
	assert.Equal(t, ErrCodeNonTermination, err.Code())
}

func TestIsNonTermination(t *testing.T) {
	ne := &NonTerminationError{Session: "s", Steps: 10, Limit: 5}

	assert.True(t, IsNonTermination(ne))
	assert.True(t, IsNonTermination(fmt.Errorf("evaluate: %w", ne)))
	assert.False(t, IsNonTermination(nil))
	assert.False(t, IsNonTermination(assert.AnError))
}

func TestEngine_WithMaxSteps(t *testing.T) {
	e1, err := New(testutil.BusPassRuleSet())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxSteps, e1.MaxSteps())

	e2, err := New(testutil.BusPassRuleSet(), WithMaxSteps(500))
	require.NoError(t, err)
	assert.Equal(t, 500, e2.MaxSteps())
}

func TestEngine_WithMaxSteps_RejectsNonPositive(t *testing.T) {
	_, err := New(testutil.BusPassRuleSet(), WithMaxSteps(0))

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "max_steps", ce.Field)
}

// TestEngine_QuotaExceeded tests that a runaway rule set is stopped with a
// NonTerminationError instead of being truncated silently.
func TestEngine_QuotaExceeded(t *testing.T) {
	e, err := New(testutil.RunawayRuleSet(), WithMaxSteps(10))
	require.NoError(t, err)

	wm := memory.New("session-runaway")
	insertPerson(t, e, wm, 30, "local")

	err = e.Evaluate(context.Background(), wm)
	require.Error(t, err)
	assert.True(t, IsNonTermination(err))

	var ne *NonTerminationError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "session-runaway", ne.Session)
	assert.Equal(t, "clone-person", ne.RuleID)
	assert.Equal(t, 11, ne.Steps)
	assert.Equal(t, 10, ne.Limit)

	// Facts derived before the limit stay in working memory.
	assert.Equal(t, 11, wm.Len())
}

// TestEngine_QuotaPerEvaluation tests that each evaluation starts with a
// fresh quota.
func TestEngine_QuotaPerEvaluation(t *testing.T) {
	// The adult path fires exactly two rules.
	e, err := New(testutil.BusPassRuleSet(), WithMaxSteps(2))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		wm := memory.New(fmt.Sprintf("session-%d", i))
		insertPerson(t, e, wm, 30, "local")
		require.NoError(t, e.Evaluate(context.Background(), wm), "evaluation %d", i)
	}
}
