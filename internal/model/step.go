package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StepKind discriminates the Step variant.
type StepKind uint8

const (
	// StepNone means no question is currently being asked.
	StepNone StepKind = iota
	// StepField means a named intake field is being asked.
	StepField
	// StepFollowUp means the follow-up question at Index is being asked.
	StepFollowUp
)

// Step identifies the question a conversation is currently waiting on.
// It persists as the legacy row shape: null, a field name, or "follow_up:N".
type Step struct {
	Kind  StepKind `json:"-"`
	Field string   `json:"-"`
	Index int      `json:"-"`
}

// NoStep is the zero Step.
var NoStep = Step{}

// FieldStep returns a Step asking the named field.
func FieldStep(field string) Step {
	return Step{Kind: StepField, Field: field}
}

// FollowUpStep returns a Step asking follow-up question i.
func FollowUpStep(i int) Step {
	return Step{Kind: StepFollowUp, Index: i}
}

const followUpPrefix = "follow_up:"

// String renders the persisted encoding.
func (s Step) String() string {
	switch s.Kind {
	case StepField:
		return s.Field
	case StepFollowUp:
		return followUpPrefix + strconv.Itoa(s.Index)
	default:
		return ""
	}
}

// MarshalJSON encodes null / "field" / "follow_up:N".
func (s Step) MarshalJSON() ([]byte, error) {
	if s.Kind == StepNone {
		return []byte("null"), nil
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the persisted encoding back into the variant.
func (s *Step) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = NoStep
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStep(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStep parses the string encoding of a step.
func ParseStep(raw string) (Step, error) {
	if raw == "" {
		return NoStep, nil
	}
	if rest, ok := strings.CutPrefix(raw, followUpPrefix); ok {
		i, err := strconv.Atoi(rest)
		if err != nil || i < 0 {
			return NoStep, fmt.Errorf("invalid follow-up step %q", raw)
		}
		return FollowUpStep(i), nil
	}
	return FieldStep(raw), nil
}
