// Package intent classifies free-text replies into phase-aware controlling
// intents. Classification is a pure function over an ordered rule table:
// the first rule whose pattern matches and whose phase mask includes the
// current phase wins. An unmatched message falls through to extraction.
package intent

import (
	"regexp"
	"strings"
)

// Intent is a controlling intent tag.
type Intent string

const (
	None    Intent = ""
	Cancel  Intent = "cancel"
	Reset   Intent = "reset"
	Confirm Intent = "confirm"
	Skip    Intent = "skip"
	Discuss Intent = "discuss"
	IDK     Intent = "idk"
	Nudge   Intent = "nudge"
)

// Phase is a bit in the rule applicability mask. The engine computes the
// single bit describing where the conversation currently is.
type Phase uint8

const (
	// PhaseNew is the first turn of a brand-new conversation.
	PhaseNew Phase = 1 << iota
	// PhaseGathering is a required field being asked.
	PhaseGathering
	// PhaseGatheringOptional is an optional field being asked.
	PhaseGatheringOptional
	// PhaseFollowUp is a generated follow-up question being asked.
	PhaseFollowUp
	// PhaseConfirming is the summary awaiting confirmation.
	PhaseConfirming
	// PhaseConfirmEdit is a correction mid-confirmation.
	PhaseConfirmEdit
)

const phaseAny = PhaseNew | PhaseGathering | PhaseGatheringOptional |
	PhaseFollowUp | PhaseConfirming | PhaseConfirmEdit

// asking covers any phase where a specific question is on the table.
const asking = PhaseGathering | PhaseGatheringOptional | PhaseFollowUp

type rule struct {
	phases  Phase
	pattern *regexp.Regexp
	intent  Intent
}

// Rule order is precedence: cancel and reset outrank everything, then
// confirm, then the per-question intents, then nudge.
//
// Confirm is an anchored-prefix family, not a semantic check, so a reply
// like "yep that's wrong, change X" still classifies as confirm. Known
// product behavior; tests pin it.
var rules = []rule{
	{phaseAny, regexp.MustCompile(`(?i)^\s*(cancel|nevermind|never mind|forget it|stop|quit|abort)[.!]?\s*$`), Cancel},
	{phaseAny, regexp.MustCompile(`(?i)^\s*(reset|start over|start again|restart|begin again)[.!]?\s*$`), Reset},
	{PhaseConfirming, regexp.MustCompile(`(?i)^\s*(yes|yep|yeah|yup|y|ok|okay|sure|confirm(ed)?|approved?|correct|perfect|great|looks good|lgtm|all good|that'?s right|sounds good|ship it|send it|submit( it)?|go ahead|do it|let'?s go)\b`), Confirm},
	{PhaseFollowUp, regexp.MustCompile(`(?i)^\s*(submit( it)?( as[- ]is)?|just submit|that'?s (everything|all)|nothing else|no more questions)[.!]?\s*$`), Confirm},
	{PhaseGatheringOptional | PhaseFollowUp, regexp.MustCompile(`(?i)^\s*(skip( (it|this|that))?|pass|n/?a|none|next( question)?|no thanks|nothing( for (this|that) one)?)[.!]?\s*$`), Skip},
	{PhaseGatheringOptional | PhaseFollowUp, regexp.MustCompile(`(?i)^\s*(discuss|let'?s (discuss|talk)( (it|this|that)( (over|later|live))?)?|we (can|should) (discuss|talk)( later| live)?|talk (it|this) (over|through)|circle back|tbd)\b`), Discuss},
	{asking, regexp.MustCompile(`(?i)^\s*(i\s*d(on'?t|o not)\s*know|idk|no idea|not sure( what| how| where)?|unsure|what do you mean|can you (explain|clarify)|huh)\??[.!]?\s*$`), IDK},
	{phaseAny &^ (PhaseNew | PhaseConfirmEdit), regexp.MustCompile(`(?i)^\s*(hello|hi( there)?|hey( there)?|yo|ping|are you (still )?there|still there|you there|anyone( there)?|knock knock|\?+)[?.!]*\s*$`), Nudge},
}

// Classify maps trimmed text plus the current phase to at most one
// controlling intent. It has no side effects and never errors.
func Classify(text string, phase Phase) Intent {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return None
	}
	for _, r := range rules {
		if r.phases&phase == 0 {
			continue
		}
		if r.pattern.MatchString(trimmed) {
			return r.intent
		}
	}
	return None
}

var hedgePattern = regexp.MustCompile(`(?i)\b(maybe|perhaps|i think|i guess|i believe|not( entirely| totally| 100%)? sure|might be|could be|probably|possibly|roughly|approximately|ish|something like)\b`)

// DetectHedge scans the whole message for uncertainty language,
// independently of what fields were extracted from it.
func DetectHedge(text string) bool {
	return hedgePattern.MatchString(text)
}

// IsSubstantive gates the raw-text fallback: the message has to carry real
// content and not itself be one of the short command forms.
func IsSubstantive(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 3 {
		return false
	}
	for _, r := range rules {
		if r.intent == Confirm {
			continue
		}
		if r.pattern.MatchString(trimmed) {
			return false
		}
	}
	return true
}
