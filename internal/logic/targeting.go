package logic

import (
	"slices"
	"time"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
)

// Targeting clause names reported in Match.FailedClause.
const (
	ClauseRole         = "role"
	ClauseSubscription = "subscription"
	ClauseAge          = "age"
	ClauseLocation     = "location"
	ClauseInterests    = "interests"
	ClauseBehavior     = "behavior"
)

// Match is the outcome of evaluating one rule set against one profile.
// Score counts the restricting clauses the profile satisfied and is used as
// a ranking signal between ads of equal priority.
type Match struct {
	Matched      bool
	Score        int
	FailedClause string
}

// Matches reports whether profile satisfies rules at now. A nil or empty
// rule set always matches.
func Matches(rules *models.TargetingRules, profile models.UserProfile, now time.Time) bool {
	return Evaluate(rules, profile, now).Matched
}

// Evaluate checks each clause in a fixed order and stops at the first one
// that fails. Clauses with no configured restriction are skipped and do not
// score.
func Evaluate(rules *models.TargetingRules, profile models.UserProfile, now time.Time) Match {
	if rules.IsEmpty() {
		return Match{Matched: true}
	}
	m := Match{}
	fail := func(clause string) Match {
		return Match{FailedClause: clause, Score: m.Score}
	}

	if len(rules.Roles) > 0 {
		if !slices.Contains(rules.Roles, profile.Role) {
			return fail(ClauseRole)
		}
		m.Score++
	}

	if len(rules.SubscriptionPlans) > 0 {
		if profile.SubscriptionPlanID == nil || !slices.Contains(rules.SubscriptionPlans, *profile.SubscriptionPlanID) {
			return fail(ClauseSubscription)
		}
		m.Score++
	}

	if rules.AgeRange.IsSet() {
		// unknown age never satisfies an age restriction
		if profile.Age == nil || !rules.AgeRange.Contains(*profile.Age) {
			return fail(ClauseAge)
		}
		m.Score++
	}

	if len(rules.Locations) > 0 {
		if !slices.Contains(rules.Locations, profile.Location) {
			return fail(ClauseLocation)
		}
		m.Score++
	}

	if len(rules.Interests) > 0 {
		if !anyShared(rules.Interests, profile.Interests) {
			return fail(ClauseInterests)
		}
		m.Score++
	}

	if !rules.Behavior.IsEmpty() {
		if !matchesBehavior(rules.Behavior, profile, now) {
			return fail(ClauseBehavior)
		}
		m.Score++
	}

	m.Matched = true
	return m
}

// matchesBehavior evaluates the supported behaviour predicates. Keys kept in
// BehaviorRule.Unknown are not consulted.
func matchesBehavior(b *models.BehaviorRule, profile models.UserProfile, now time.Time) bool {
	if len(b.EnrolledCourseIDs) > 0 && !anyShared(b.EnrolledCourseIDs, profile.EnrolledCourseIDs) {
		return false
	}
	if b.ActiveWithinDays != nil {
		if profile.LastActiveAt == nil {
			return false
		}
		if profile.LastActiveAt.Before(now.AddDate(0, 0, -*b.ActiveWithinDays)) {
			return false
		}
	}
	return true
}

func anyShared[T comparable](allowed, have []T) bool {
	for _, v := range have {
		if slices.Contains(allowed, v) {
			return true
		}
	}
	return false
}
