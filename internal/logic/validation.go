package logic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
)

// MaxActiveWithinDays caps behavior.activeWithinDays at roughly a century.
const MaxActiveWithinDays = 36500

// ValidationResult is the structural verdict on a targeting rule set.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Error implements error so an invalid result can be wrapped with
// ErrInvalidTargeting.
func (v ValidationResult) Error() string {
	return strings.Join(v.Errors, "; ")
}

func (v *ValidationResult) addf(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

func (v ValidationResult) done() ValidationResult {
	v.Valid = len(v.Errors) == 0
	if v.Errors == nil {
		v.Errors = []string{}
	}
	return v
}

// top-level keys and the type description used in error messages
var ruleFields = map[string]string{
	"roles":             "an array of strings",
	"subscriptionPlans": "an array of integers",
	"ageRange":          "an object with integer min/max",
	"locations":         "an array of strings",
	"interests":         "an array of strings",
	"behavior":          "an object",
}

// ValidateTargetingRulesJSON validates a raw rule document: field types,
// unknown top-level keys and present-but-empty lists, followed by the
// checks of ValidateTargetingRules. It never consults a user profile.
func ValidateTargetingRulesJSON(raw []byte) (ValidationResult, *models.TargetingRules) {
	var res ValidationResult
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return res.done(), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		res.addf("rules must be a JSON object")
		return res.done(), nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rules models.TargetingRules
	for _, k := range keys {
		v := fields[k]
		var err error
		switch k {
		case "adId":
			err = json.Unmarshal(v, &rules.AdID)
		case "roles":
			err = json.Unmarshal(v, &rules.Roles)
			if err == nil && isEmptyList(v) {
				res.addf("roles must not be empty when present")
			}
		case "subscriptionPlans":
			err = json.Unmarshal(v, &rules.SubscriptionPlans)
			if err == nil && isEmptyList(v) {
				res.addf("subscriptionPlans must not be empty when present")
			}
		case "ageRange":
			err = json.Unmarshal(v, &rules.AgeRange)
		case "locations":
			err = json.Unmarshal(v, &rules.Locations)
			if err == nil && isEmptyList(v) {
				res.addf("locations must not be empty when present")
			}
		case "interests":
			err = json.Unmarshal(v, &rules.Interests)
			if err == nil && isEmptyList(v) {
				res.addf("interests must not be empty when present")
			}
		case "behavior":
			err = json.Unmarshal(v, &rules.Behavior)
		default:
			res.addf("unknown field %q", k)
			continue
		}
		if err != nil {
			want := ruleFields[k]
			if want == "" {
				want = "an integer"
			}
			res.addf("%s must be %s", k, want)
		}
	}
	if len(res.Errors) > 0 {
		return res.done(), nil
	}

	res = ValidateTargetingRules(&rules)
	if !res.Valid {
		return res, nil
	}
	return res, &rules
}

// ValidateTargetingRules performs the structural checks that can be made on
// a decoded rule set. A nil rule set is valid.
func ValidateTargetingRules(rules *models.TargetingRules) ValidationResult {
	var res ValidationResult
	if rules == nil {
		return res.done()
	}

	checkStrings(&res, "roles", rules.Roles)
	checkStrings(&res, "locations", rules.Locations)
	checkStrings(&res, "interests", rules.Interests)
	for i, id := range rules.SubscriptionPlans {
		if id <= 0 {
			res.addf("subscriptionPlans[%d] must be a positive id", i)
		}
	}

	if r := rules.AgeRange; r != nil {
		if !r.IsSet() {
			res.addf("ageRange requires min or max")
		}
		if r.Min != nil && *r.Min < 0 {
			res.addf("ageRange.min must not be negative")
		}
		if r.Max != nil && *r.Max < 0 {
			res.addf("ageRange.max must not be negative")
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			res.addf("ageRange.min must be less than or equal to ageRange.max")
		}
	}

	if b := rules.Behavior; b != nil {
		for i, id := range b.EnrolledCourseIDs {
			if id <= 0 {
				res.addf("behavior.enrolledCourseIds[%d] must be a positive id", i)
			}
		}
		if d := b.ActiveWithinDays; d != nil {
			if *d <= 0 {
				res.addf("behavior.activeWithinDays must be positive")
			} else if *d > MaxActiveWithinDays {
				res.addf("behavior.activeWithinDays must be at most %d", MaxActiveWithinDays)
			}
		}
	}
	return res.done()
}

// ParseTargetingRules decodes and validates raw, returning an error wrapping
// ErrInvalidTargeting when the document is not acceptable.
func ParseTargetingRules(raw []byte) (*models.TargetingRules, error) {
	res, rules := ValidateTargetingRulesJSON(raw)
	if !res.Valid {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTargeting, res)
	}
	return rules, nil
}

func checkStrings(res *ValidationResult, field string, values []string) {
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			res.addf("%s[%d] must not be blank", field, i)
		}
	}
}

func isEmptyList(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("[]"))
}
