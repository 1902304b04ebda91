package goal

import (
	"strings"
	"testing"
)

func buildWatcherEvaluation() Evaluation {
	return Evaluation{
		Prompt: "show me failed builds from the last day",
		Plan: GoalPlan{
			SuccessCriteria:      []string{"failed commits listed", "related notifications linked"},
			RequiredIntegrations: []string{"github", "gmail"},
		},
		Evidence: map[string]any{
			"failed_commits": 3,
			"related_emails": 2,
			"total_emails":   5,
		},
		Relevance: RelevanceReport{HumanReadable: true},
		HasData:   true,
	}
}

func TestEvaluateGoalSatisfactionSatisfied(t *testing.T) {
	result := EvaluateGoalSatisfaction(buildWatcherEvaluation())
	if result.Level != LevelSatisfied {
		t.Errorf("level = %s, want %s", result.Level, LevelSatisfied)
	}
	if result.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", result.Confidence)
	}
	if result.FailureReason != "" || result.AbsenceReason != "" {
		t.Errorf("satisfied result carries reasons: %+v", result)
	}
}

func TestEvaluateGoalSatisfactionChain(t *testing.T) {
	tests := []struct {
		name           string
		mutate         func(in *Evaluation)
		wantLevel      Level
		wantFailure    string
		wantAbsence    string
		wantConfidence float64
	}{
		{
			name:           "missing success criteria",
			mutate:         func(in *Evaluation) { in.Plan.SuccessCriteria = nil },
			wantLevel:      LevelUnsatisfied,
			wantFailure:    ReasonMissingCriteria,
			wantConfidence: 0.4,
		},
		{
			name:           "ambiguous alternatives",
			mutate:         func(in *Evaluation) { in.Prompt = "show commits or maybe issues" },
			wantLevel:      LevelUnsatisfied,
			wantAbsence:    ReasonAmbiguousQuery,
			wantConfidence: 0.25,
		},
		{
			name:           "too short to carry intent",
			mutate:         func(in *Evaluation) { in.Prompt = "failed builds" },
			wantLevel:      LevelUnsatisfied,
			wantAbsence:    ReasonAmbiguousQuery,
			wantConfidence: 0.25,
		},
		{
			name:           "permission failure",
			mutate:         func(in *Evaluation) { in.PermissionFailures = []string{"gmail"} },
			wantLevel:      LevelUnsatisfied,
			wantFailure:    ReasonPermissionDenied,
			wantConfidence: 0.4,
		},
		{
			name:           "empty output fails relevance",
			mutate:         func(in *Evaluation) { in.Relevance.Empty = true },
			wantLevel:      LevelUnsatisfied,
			wantFailure:    ReasonIrrelevantOutput,
			wantConfidence: 0.4,
		},
		{
			name:           "forbidden phrase fails relevance",
			mutate:         func(in *Evaluation) { in.Relevance.ForbiddenPhrase = "as an ai" },
			wantLevel:      LevelUnsatisfied,
			wantFailure:    ReasonIrrelevantOutput,
			wantConfidence: 0.4,
		},
		{
			name:           "no failed builds exist",
			mutate:         func(in *Evaluation) { in.Evidence["failed_commits"] = 0 },
			wantLevel:      LevelUnsatisfied,
			wantAbsence:    ReasonNoFailedBuilds,
			wantConfidence: 0.4,
		},
		{
			name: "emails exist but none related",
			mutate: func(in *Evaluation) {
				in.Evidence["related_emails"] = 0
				in.Evidence["total_emails"] = 5
			},
			wantLevel:      LevelPartial,
			wantAbsence:    ReasonEmailsNotRelated,
			wantConfidence: 0.8,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := buildWatcherEvaluation()
			tt.mutate(&in)

			result := EvaluateGoalSatisfaction(in)
			if result.Level != tt.wantLevel {
				t.Errorf("level = %s, want %s", result.Level, tt.wantLevel)
			}
			if result.FailureReason != tt.wantFailure {
				t.Errorf("failure reason = %q, want %q", result.FailureReason, tt.wantFailure)
			}
			if result.AbsenceReason != tt.wantAbsence {
				t.Errorf("absence reason = %q, want %q", result.AbsenceReason, tt.wantAbsence)
			}
			if result.Confidence != tt.wantConfidence {
				t.Errorf("confidence = %v, want %v", result.Confidence, tt.wantConfidence)
			}
		})
	}
}

// A terse but well-formed query must flow through to the correlation
// checks and produce an explanation or a flagged render, never a
// clarification question.
func TestShortFailedBuildQueryReachesCorrelation(t *testing.T) {
	in := buildWatcherEvaluation()
	in.Prompt = "show failed builds"
	in.Evidence = map[string]any{"failed_commits": 0}

	result := EvaluateGoalSatisfaction(in)
	if result.Level != LevelUnsatisfied || result.AbsenceReason != ReasonNoFailedBuilds {
		t.Fatalf("result = %+v, want unsatisfied with %s", result, ReasonNoFailedBuilds)
	}
	if result.Confidence != 0.4 {
		t.Errorf("confidence = %v, want 0.4", result.Confidence)
	}

	decision := DecideRendering(in.Prompt, result)
	if decision.Kind != DecisionExplain {
		t.Errorf("decision = %s, want %s", decision.Kind, DecisionExplain)
	}
}

func TestShortFailedBuildQueryPartialRenders(t *testing.T) {
	in := buildWatcherEvaluation()
	in.Prompt = "show failed builds"
	in.Evidence = map[string]any{
		"failed_commits": 3,
		"related_emails": 0,
		"total_emails":   5,
	}

	result := EvaluateGoalSatisfaction(in)
	if result.Level != LevelPartial || result.AbsenceReason != ReasonEmailsNotRelated {
		t.Fatalf("result = %+v, want partial with %s", result, ReasonEmailsNotRelated)
	}

	decision := DecideRendering(in.Prompt, result)
	if decision.Kind != DecisionRender || !decision.Partial {
		t.Errorf("decision = %+v, want a flagged render", decision)
	}
}

func TestEvaluateGoalSatisfactionPermissionListsMissing(t *testing.T) {
	in := buildWatcherEvaluation()
	in.PermissionFailures = []string{"gmail", "github"}

	result := EvaluateGoalSatisfaction(in)
	if len(result.MissingRequirements) != 2 {
		t.Errorf("missing requirements = %v, want both integrations", result.MissingRequirements)
	}
}

func TestCorrelationOnlyAppliesToFailedBuildQueries(t *testing.T) {
	in := buildWatcherEvaluation()
	in.Prompt = "show me all commits from the last week"
	in.Evidence = map[string]any{"failed_commits": 0}

	result := EvaluateGoalSatisfaction(in)
	if result.Level != LevelSatisfied {
		t.Errorf("non-build query tripped the correlation check: %+v", result)
	}
}

func TestAmbiguousPrompt(t *testing.T) {
	tests := []struct {
		prompt string
		want   bool
	}{
		{"show me failed builds today", false},
		{"show failed builds", false},
		{"show commits or maybe issues", true},
		{"maybe show me the builds", true},
		{"failed builds", true},
		{"builds", true},
		{"", true},
		{"list all open pull requests", false},
	}
	for _, tt := range tests {
		if got := AmbiguousPrompt(tt.prompt); got != tt.want {
			t.Errorf("AmbiguousPrompt(%q) = %v, want %v", tt.prompt, got, tt.want)
		}
	}
}

func TestRelevanceReportFailed(t *testing.T) {
	tests := []struct {
		name   string
		report RelevanceReport
		want   bool
	}{
		{"clean", RelevanceReport{HumanReadable: true}, false},
		{"empty", RelevanceReport{Empty: true, HumanReadable: true}, true},
		{"not readable", RelevanceReport{}, true},
		{"forbidden phrase", RelevanceReport{HumanReadable: true, ForbiddenPhrase: "lorem ipsum"}, true},
	}
	for _, tt := range tests {
		if got := tt.report.Failed(); got != tt.want {
			t.Errorf("%s: Failed() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDecideRendering(t *testing.T) {
	prompt := "show me failed builds from the last day"

	tests := []struct {
		name        string
		result      SatisfactionResult
		wantKind    DecisionKind
		wantPartial bool
	}{
		{
			name:     "satisfied renders",
			result:   SatisfactionResult{Level: LevelSatisfied, Confidence: 0.95},
			wantKind: DecisionRender,
		},
		{
			name:        "partial renders flagged",
			result:      SatisfactionResult{Level: LevelPartial, Confidence: 0.8, AbsenceReason: ReasonEmailsNotRelated},
			wantKind:    DecisionRender,
			wantPartial: true,
		},
		{
			name:     "low confidence explains",
			result:   SatisfactionResult{Level: LevelUnsatisfied, Confidence: 0.4, AbsenceReason: ReasonNoFailedBuilds},
			wantKind: DecisionExplain,
		},
		{
			name:     "ambiguous asks",
			result:   SatisfactionResult{Level: LevelUnsatisfied, Confidence: 0.25, AbsenceReason: ReasonAmbiguousQuery},
			wantKind: DecisionAsk,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := DecideRendering(prompt, tt.result)
			if decision.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", decision.Kind, tt.wantKind)
			}
			if decision.Partial != tt.wantPartial {
				t.Errorf("partial = %v, want %v", decision.Partial, tt.wantPartial)
			}
		})
	}
}

func TestDecideRenderingAskCarriesQuestion(t *testing.T) {
	prompt := "show commits or maybe issues"
	decision := DecideRendering(prompt, SatisfactionResult{
		Level:         LevelUnsatisfied,
		Confidence:    0.25,
		AbsenceReason: ReasonAmbiguousQuery,
	})
	if decision.Kind != DecisionAsk {
		t.Fatalf("kind = %s, want %s", decision.Kind, DecisionAsk)
	}
	if !strings.Contains(decision.Question, prompt) {
		t.Errorf("question %q does not reference the prompt", decision.Question)
	}

	empty := DecideRendering("", SatisfactionResult{AbsenceReason: ReasonAmbiguousQuery})
	if empty.Question == "" {
		t.Error("empty prompt produced no question")
	}
}

func TestDecideRenderingExplanationsAreSpecific(t *testing.T) {
	tests := []struct {
		name   string
		result SatisfactionResult
		want   string
	}{
		{
			name:   "no failed builds",
			result: SatisfactionResult{Confidence: 0.4, AbsenceReason: ReasonNoFailedBuilds},
			want:   "No failed builds",
		},
		{
			name:   "permission denied",
			result: SatisfactionResult{Confidence: 0.4, FailureReason: ReasonPermissionDenied},
			want:   "not authorized",
		},
		{
			name:   "missing criteria",
			result: SatisfactionResult{Confidence: 0.4, FailureReason: ReasonMissingCriteria},
			want:   "did not define",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := DecideRendering("show me failed builds today", tt.result)
			if decision.Kind != DecisionExplain {
				t.Fatalf("kind = %s, want %s", decision.Kind, DecisionExplain)
			}
			if !strings.Contains(decision.Explanation, tt.want) {
				t.Errorf("explanation %q does not mention %q", decision.Explanation, tt.want)
			}
		})
	}
}
