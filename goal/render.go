package goal

import "fmt"

// ConfidenceThreshold is the fixed confidence below which a result is
// explained instead of rendered.
const ConfidenceThreshold = 0.8

// DecisionKind is how a result should be presented.
type DecisionKind string

const (
	DecisionAsk     DecisionKind = "ask"
	DecisionExplain DecisionKind = "explain"
	DecisionRender  DecisionKind = "render"
)

// RenderDecision maps a satisfaction result to a presentation decision.
// The lifecycle barrier treats this decision, not the raw satisfaction
// level, as the source of view-readiness.
type RenderDecision struct {
	Kind        DecisionKind `json:"kind"`
	Partial     bool         `json:"partial,omitempty"`
	Question    string       `json:"question,omitempty"`
	Explanation string       `json:"explanation,omitempty"`
}

// DecideRendering turns a satisfaction result into a presentation
// decision: ask a clarifying question for an ambiguous query, explain a
// low-confidence result, render a partial result flagged as such, render
// everything else.
func DecideRendering(prompt string, result SatisfactionResult) RenderDecision {
	if result.AbsenceReason == ReasonAmbiguousQuery {
		return RenderDecision{
			Kind:     DecisionAsk,
			Question: clarifyingQuestion(prompt),
		}
	}
	if result.Confidence < ConfidenceThreshold {
		return RenderDecision{
			Kind:        DecisionExplain,
			Explanation: explanation(result),
		}
	}
	if result.Level == LevelPartial {
		return RenderDecision{Kind: DecisionRender, Partial: true}
	}
	return RenderDecision{Kind: DecisionRender}
}

func clarifyingQuestion(prompt string) string {
	if prompt == "" {
		return "What would you like this tool to show?"
	}
	return fmt.Sprintf("Your request %q could mean more than one thing. Which result do you want to see?", prompt)
}

func explanation(result SatisfactionResult) string {
	switch {
	case result.AbsenceReason == ReasonNoFailedBuilds:
		return "No failed builds were found in the requested window."
	case result.AbsenceReason == ReasonEmailsNotRelated:
		return "Notifications exist but none relate to the failed builds found."
	case result.FailureReason == ReasonMissingCriteria:
		return "The request did not define what a successful answer looks like."
	case result.FailureReason == ReasonPermissionDenied:
		return "A required integration is not authorized for this tool."
	case result.FailureReason == ReasonIrrelevantOutput:
		return "The fetched data did not match the request."
	case result.FailureReason != "":
		return result.FailureReason
	case result.AbsenceReason != "":
		return result.AbsenceReason
	}
	return "The result could not be verified with enough confidence to display."
}
