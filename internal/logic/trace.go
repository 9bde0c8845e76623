package logic

import "github.com/mohamedhabibwork/leap-system-sub004/internal/models"

// Selection trace stages.
const (
	StageCandidates = "candidates"
	StageTargeting  = "targeting"
	StageFallback   = "fallback"
	StageLimit      = "limit"
)

// TraceStep records the ads that survived one selection stage.
type TraceStep struct {
	Stage   string            `json:"stage"`
	AdIDs   []int64           `json:"adIds"`
	Details map[string]string `json:"details,omitempty"`
}

// SelectionTrace captures the ordered steps performed by a selector. A nil
// trace ignores every call, so selectors can record unconditionally.
type SelectionTrace struct {
	Steps []TraceStep `json:"steps"`
}

// AddStep appends a trace entry for stage listing the given ads.
func (t *SelectionTrace) AddStep(stage string, ads []models.Ad) {
	t.AddStepWithDetails(stage, ads, nil)
}

// AddStepWithDetails appends a trace entry with extra key/value details,
// such as why ads were dropped.
func (t *SelectionTrace) AddStepWithDetails(stage string, ads []models.Ad, details map[string]string) {
	if t == nil {
		return
	}
	step := TraceStep{Stage: stage, AdIDs: make([]int64, 0, len(ads)), Details: details}
	for _, ad := range ads {
		step.AdIDs = append(step.AdIDs, ad.ID)
	}
	t.Steps = append(t.Steps, step)
}
