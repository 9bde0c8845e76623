package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
)

func TestValidateTargetingRules(t *testing.T) {
	tests := []struct {
		name   string
		rules  *models.TargetingRules
		valid  bool
		errSub string
	}{
		{name: "nil rules", rules: nil, valid: true},
		{name: "empty rules", rules: &models.TargetingRules{}, valid: true},
		{
			name:  "well formed",
			rules: &models.TargetingRules{Roles: []string{"student"}, AgeRange: &models.AgeRange{Min: intPtr(18), Max: intPtr(30)}},
			valid: true,
		},
		{
			name:   "min above max",
			rules:  &models.TargetingRules{AgeRange: &models.AgeRange{Min: intPtr(40), Max: intPtr(30)}},
			errSub: "ageRange.min must be less than or equal",
		},
		{
			name:   "empty age range",
			rules:  &models.TargetingRules{AgeRange: &models.AgeRange{}},
			errSub: "ageRange requires min or max",
		},
		{
			name:   "blank role",
			rules:  &models.TargetingRules{Roles: []string{"admin", " "}},
			errSub: "roles[1] must not be blank",
		},
		{
			name:   "non positive plan",
			rules:  &models.TargetingRules{SubscriptionPlans: []int64{0}},
			errSub: "subscriptionPlans[0]",
		},
		{
			name:   "zero day window",
			rules:  &models.TargetingRules{Behavior: &models.BehaviorRule{ActiveWithinDays: intPtr(0)}},
			errSub: "behavior.activeWithinDays must be positive",
		},
		{
			name:   "day window too large",
			rules:  &models.TargetingRules{Behavior: &models.BehaviorRule{ActiveWithinDays: intPtr(200000)}},
			errSub: "behavior.activeWithinDays must be at most 36500",
		},
		{
			name:  "day window at cap",
			rules: &models.TargetingRules{Behavior: &models.BehaviorRule{ActiveWithinDays: intPtr(MaxActiveWithinDays)}},
			valid: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateTargetingRules(tt.rules)
			assert.Equal(t, tt.valid, res.Valid)
			assert.NotNil(t, res.Errors)
			if tt.errSub != "" {
				require.NotEmpty(t, res.Errors)
				assert.Contains(t, res.Error(), tt.errSub)
			}
		})
	}
}

func TestValidateTargetingRulesJSON(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		valid  bool
		errSub string
	}{
		{name: "null", raw: `null`, valid: true},
		{name: "empty object", raw: `{}`, valid: true},
		{name: "full document", raw: `{"roles":["student"],"subscriptionPlans":[1,2],"ageRange":{"min":18},"locations":["EG"],"interests":["go"],"behavior":{"activeWithinDays":7,"somethingNew":1}}`, valid: true},
		{name: "not an object", raw: `[1,2]`, errSub: "rules must be a JSON object"},
		{name: "roles wrong type", raw: `{"roles":"admin"}`, errSub: "roles must be an array of strings"},
		{name: "plans wrong type", raw: `{"subscriptionPlans":["gold"]}`, errSub: "subscriptionPlans must be an array of integers"},
		{name: "age wrong type", raw: `{"ageRange":{"min":"18"}}`, errSub: "ageRange must be an object"},
		{name: "behavior wrong type", raw: `{"behavior":"active"}`, errSub: "behavior must be an object"},
		{name: "present but empty list", raw: `{"interests":[]}`, errSub: "interests must not be empty"},
		{name: "unknown field", raw: `{"gender":["x"]}`, errSub: `unknown field "gender"`},
		{name: "min above max", raw: `{"ageRange":{"min":30,"max":20}}`, errSub: "ageRange.min"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, rules := ValidateTargetingRulesJSON([]byte(tt.raw))
			assert.Equal(t, tt.valid, res.Valid, res.Errors)
			if tt.errSub != "" {
				assert.Contains(t, res.Error(), tt.errSub)
				assert.Nil(t, rules)
			}
		})
	}
}

func TestParseTargetingRules(t *testing.T) {
	rules, err := ParseTargetingRules([]byte(`{"roles":["admin"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, rules.Roles)

	_, err = ParseTargetingRules([]byte(`{"roles":[]}`))
	assert.ErrorIs(t, err, ErrInvalidTargeting)
}

func TestSelectionTraceNilSafe(t *testing.T) {
	var tr *SelectionTrace
	tr.AddStep(StageCandidates, []models.Ad{{ID: 1}})

	tr = &SelectionTrace{}
	tr.AddStep(StageCandidates, []models.Ad{{ID: 1}, {ID: 2}})
	tr.AddStepWithDetails(StageTargeting, []models.Ad{{ID: 2}}, map[string]string{"1": ClauseRole})
	require.Len(t, tr.Steps, 2)
	assert.Equal(t, []int64{1, 2}, tr.Steps[0].AdIDs)
	assert.Equal(t, ClauseRole, tr.Steps[1].Details["1"])
}
