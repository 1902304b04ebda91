package goal

import (
	"strings"
)

// Level classifies whether fetched data answers the original request.
type Level string

const (
	LevelSatisfied   Level = "satisfied"
	LevelPartial     Level = "partial"
	LevelUnsatisfied Level = "unsatisfied"
)

// Failure and absence reasons surfaced to the presentation layer.
const (
	ReasonMissingCriteria   = "missing_success_criteria"
	ReasonAmbiguousQuery    = "ambiguous_query"
	ReasonPermissionDenied  = "integration_permission_denied"
	ReasonIrrelevantOutput  = "irrelevant_output"
	ReasonNoFailedBuilds    = "no_failed_builds"
	ReasonEmailsNotRelated  = "emails_exist_not_related"
)

// Confidence levels per outcome. Partial sits exactly at the rendering
// threshold so partial results render (flagged) instead of collapsing
// into an explanation.
const (
	confidenceSatisfied   = 0.95
	confidencePartial     = 0.8
	confidenceUnsatisfied = 0.4
	confidenceAmbiguous   = 0.25
)

// GoalPlan is the upstream planner's description of what success means.
type GoalPlan struct {
	SuccessCriteria      []string `json:"success_criteria,omitempty"`
	RequiredIntegrations []string `json:"required_integrations,omitempty"`
}

// RelevanceReport is the relevance gate's verdict on the produced output.
type RelevanceReport struct {
	Empty           bool   `json:"empty"`
	HumanReadable   bool   `json:"human_readable"`
	ForbiddenPhrase string `json:"forbidden_phrase,omitempty"`
}

// Failed reports whether the output failed the relevance gate.
func (r RelevanceReport) Failed() bool {
	return r.Empty || !r.HumanReadable || r.ForbiddenPhrase != ""
}

// SatisfactionResult classifies one execution's outcome. It is computed
// fresh per execution and folded into the lifecycle view spec, never
// persisted independently.
type SatisfactionResult struct {
	Level               Level    `json:"level"`
	Confidence          float64  `json:"confidence"`
	FailureReason       string   `json:"failure_reason,omitempty"`
	AbsenceReason       string   `json:"absence_reason,omitempty"`
	MissingRequirements []string `json:"missing_requirements,omitempty"`
}

// Evaluation is the input to one goal-satisfaction check.
type Evaluation struct {
	Prompt   string
	Plan     GoalPlan
	Contract *Contract

	// Evidence carries counters extracted from the fetched data, such as
	// failed_commits, related_emails, total_emails.
	Evidence map[string]any

	Relevance RelevanceReport
	HasData   bool

	// PermissionFailures lists required integrations whose permission
	// checks failed.
	PermissionFailures []string
}

// EvaluateGoalSatisfaction runs the ordered, short-circuiting
// classification chain. Each check either settles the result or defers to
// the next; reaching the end means the goal is satisfied.
func EvaluateGoalSatisfaction(in Evaluation) SatisfactionResult {
	if len(in.Plan.SuccessCriteria) == 0 {
		return SatisfactionResult{
			Level:         LevelUnsatisfied,
			Confidence:    confidenceUnsatisfied,
			FailureReason: ReasonMissingCriteria,
		}
	}

	if AmbiguousPrompt(in.Prompt) {
		return SatisfactionResult{
			Level:         LevelUnsatisfied,
			Confidence:    confidenceAmbiguous,
			AbsenceReason: ReasonAmbiguousQuery,
		}
	}

	if len(in.PermissionFailures) > 0 {
		return SatisfactionResult{
			Level:               LevelUnsatisfied,
			Confidence:          confidenceUnsatisfied,
			FailureReason:       ReasonPermissionDenied,
			MissingRequirements: in.PermissionFailures,
		}
	}

	if in.Relevance.Failed() {
		return SatisfactionResult{
			Level:         LevelUnsatisfied,
			Confidence:    confidenceUnsatisfied,
			FailureReason: ReasonIrrelevantOutput,
		}
	}

	if result, settled := correlationCheck(in); settled {
		return result
	}

	return SatisfactionResult{
		Level:      LevelSatisfied,
		Confidence: confidenceSatisfied,
	}
}

// AmbiguousPrompt flags prompts that cannot be answered definitively:
// alternatives ("or"), hedging ("maybe"), or too few words to carry an
// intent. Three words is enough: "show failed builds" names a verb and a
// subject and must reach the correlation checks, not a clarification.
func AmbiguousPrompt(prompt string) bool {
	lower := strings.ToLower(prompt)
	words := strings.Fields(lower)
	if len(words) < 3 {
		return true
	}
	for _, word := range words {
		if word == "or" || word == "maybe" {
			return true
		}
	}
	return false
}

// correlationCheck applies domain-specific requirements that plain data
// presence cannot express. A failed-builds query needs failed commits to
// exist, and needs related notifications to corroborate them.
func correlationCheck(in Evaluation) (SatisfactionResult, bool) {
	if !strings.Contains(strings.ToLower(in.Prompt), "failed build") {
		return SatisfactionResult{}, false
	}

	failedCommits := evidenceInt(in.Evidence, "failed_commits")
	if failedCommits == 0 {
		return SatisfactionResult{
			Level:         LevelUnsatisfied,
			Confidence:    confidenceUnsatisfied,
			AbsenceReason: ReasonNoFailedBuilds,
		}, true
	}

	relatedEmails := evidenceInt(in.Evidence, "related_emails")
	totalEmails := evidenceInt(in.Evidence, "total_emails")
	if relatedEmails == 0 && totalEmails > 0 {
		return SatisfactionResult{
			Level:         LevelPartial,
			Confidence:    confidencePartial,
			AbsenceReason: ReasonEmailsNotRelated,
		}, true
	}

	return SatisfactionResult{}, false
}

func evidenceInt(evidence map[string]any, key string) int {
	switch n := evidence[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
