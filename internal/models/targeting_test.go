package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestTargetingRulesIsEmpty(t *testing.T) {
	var nilRules *TargetingRules
	assert.True(t, nilRules.IsEmpty())
	assert.True(t, (&TargetingRules{}).IsEmpty())
	assert.True(t, (&TargetingRules{AgeRange: &AgeRange{}}).IsEmpty())
	assert.True(t, (&TargetingRules{Behavior: &BehaviorRule{}}).IsEmpty())

	assert.False(t, (&TargetingRules{Roles: []string{"admin"}}).IsEmpty())
	assert.False(t, (&TargetingRules{AgeRange: &AgeRange{Min: intPtr(18)}}).IsEmpty())
	assert.False(t, (&TargetingRules{Behavior: &BehaviorRule{ActiveWithinDays: intPtr(7)}}).IsEmpty())
}

func TestAgeRangeContains(t *testing.T) {
	r := &AgeRange{Min: intPtr(18), Max: intPtr(30)}
	assert.True(t, r.Contains(18))
	assert.True(t, r.Contains(30))
	assert.False(t, r.Contains(17))
	assert.False(t, r.Contains(31))

	open := &AgeRange{Min: intPtr(65)}
	assert.True(t, open.Contains(90))
}

func TestBehaviorRuleKeepsUnknownKeys(t *testing.T) {
	raw := `{"enrolledCourseIds":[3,4],"activeWithinDays":14,"completedQuizzes":{"min":2}}`

	var b BehaviorRule
	require.NoError(t, json.Unmarshal([]byte(raw), &b))
	assert.Equal(t, []int64{3, 4}, b.EnrolledCourseIDs)
	require.NotNil(t, b.ActiveWithinDays)
	assert.Equal(t, 14, *b.ActiveWithinDays)
	assert.Contains(t, b.Unknown, "completedQuizzes")

	out, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestBehaviorRuleOnlyUnknownIsEmpty(t *testing.T) {
	var rules TargetingRules
	require.NoError(t, json.Unmarshal([]byte(`{"behavior":{"futureThing":true}}`), &rules))
	assert.True(t, rules.IsEmpty())
}
