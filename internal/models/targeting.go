package models

import (
	"encoding/json"
	"time"
)

// TargetingRules restrict which user profiles an ad may serve to. Every
// non-empty clause must match (AND); an absent or empty rule set places no
// restriction on the ad.
type TargetingRules struct {
	AdID int64 `json:"adId,omitempty"`

	Roles             []string      `json:"roles,omitempty"`
	SubscriptionPlans []int64       `json:"subscriptionPlans,omitempty"`
	AgeRange          *AgeRange     `json:"ageRange,omitempty"`
	Locations         []string      `json:"locations,omitempty"` // exact, case-sensitive
	Interests         []string      `json:"interests,omitempty"` // any one is enough
	Behavior          *BehaviorRule `json:"behavior,omitempty"`
}

// AgeRange is an inclusive age bound. Either side may be omitted.
type AgeRange struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

// IsSet reports whether at least one bound is present.
func (r *AgeRange) IsSet() bool {
	return r != nil && (r.Min != nil || r.Max != nil)
}

// Contains reports whether age falls inside the range.
func (r *AgeRange) Contains(age int) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && age < *r.Min {
		return false
	}
	if r.Max != nil && age > *r.Max {
		return false
	}
	return true
}

// BehaviorRule holds behavioural predicates evaluated against the profile's
// activity. Keys this version does not understand are kept in Unknown and
// ignored during evaluation.
type BehaviorRule struct {
	// EnrolledCourseIDs requires enrolment in at least one of the listed courses.
	EnrolledCourseIDs []int64 `json:"enrolledCourseIds,omitempty"`
	// ActiveWithinDays requires the user to have been active within N days.
	ActiveWithinDays *int `json:"activeWithinDays,omitempty"`

	Unknown map[string]json.RawMessage `json:"-"`
}

// Behaviour predicate keys understood by BehaviorRule.
const (
	BehaviorKeyEnrolledCourses  = "enrolledCourseIds"
	BehaviorKeyActiveWithinDays = "activeWithinDays"
)

// UnmarshalJSON decodes the known predicates and stashes the rest.
func (b *BehaviorRule) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = BehaviorRule{}
	for k, v := range raw {
		switch k {
		case BehaviorKeyEnrolledCourses:
			if err := json.Unmarshal(v, &b.EnrolledCourseIDs); err != nil {
				return err
			}
		case BehaviorKeyActiveWithinDays:
			if err := json.Unmarshal(v, &b.ActiveWithinDays); err != nil {
				return err
			}
		default:
			if b.Unknown == nil {
				b.Unknown = make(map[string]json.RawMessage)
			}
			b.Unknown[k] = v
		}
	}
	return nil
}

// MarshalJSON writes known predicates and round-trips unknown ones.
func (b BehaviorRule) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(b.Unknown)+2)
	for k, v := range b.Unknown {
		out[k] = v
	}
	if len(b.EnrolledCourseIDs) > 0 {
		out[BehaviorKeyEnrolledCourses] = b.EnrolledCourseIDs
	}
	if b.ActiveWithinDays != nil {
		out[BehaviorKeyActiveWithinDays] = *b.ActiveWithinDays
	}
	return json.Marshal(out)
}

// IsEmpty reports whether the behaviour rule has no supported predicate.
func (b *BehaviorRule) IsEmpty() bool {
	return b == nil || (len(b.EnrolledCourseIDs) == 0 && b.ActiveWithinDays == nil)
}

// IsEmpty reports whether the rule set carries no restriction at all.
func (r *TargetingRules) IsEmpty() bool {
	if r == nil {
		return true
	}
	return len(r.Roles) == 0 &&
		len(r.SubscriptionPlans) == 0 &&
		!r.AgeRange.IsSet() &&
		len(r.Locations) == 0 &&
		len(r.Interests) == 0 &&
		r.Behavior.IsEmpty()
}

// UserProfile is the caller-supplied view of the requesting user used to
// evaluate targeting. Pointer fields are nil when unknown.
type UserProfile struct {
	UserID             *int64     `json:"userId,omitempty"`
	Role               string     `json:"role,omitempty"`
	SubscriptionPlanID *int64     `json:"subscriptionPlanId,omitempty"`
	Age                *int       `json:"age,omitempty"`
	Location           string     `json:"location,omitempty"`
	Interests          []string   `json:"interests,omitempty"`
	EnrolledCourseIDs  []int64    `json:"enrolledCourseIds,omitempty"`
	LastActiveAt       *time.Time `json:"lastActiveAt,omitempty"`
}
