package extract

import (
	"strings"

	"github.com/capitalize-ai/intake-engine/internal/model"
)

// Merge applies an extraction result onto collected data. A field is
// applied only when the extracted value is non-empty and either the stored
// field is still empty or editMode is set (confirmation-phase corrections).
//
// The return value is a count, and zero is an ordinary count: callers gate
// the raw-text fallback on it, never on truthiness.
func Merge(e model.ExtractedFields, data *model.CollectedData, editMode bool) int {
	applied := 0

	applyString := func(v *string, stored *string) {
		if v == nil || strings.TrimSpace(*v) == "" {
			return
		}
		if *stored != "" && !editMode {
			return
		}
		*stored = strings.TrimSpace(*v)
		applied++
	}

	applyList := func(v []string, stored *[]string) {
		v = cleanList(v)
		if len(v) == 0 {
			return
		}
		if len(*stored) > 0 && !editMode {
			return
		}
		*stored = v
		applied++
	}

	applyString(e.Department, &data.Department)
	applyString(e.Audience, &data.Audience)
	applyString(e.Background, &data.Background)
	applyString(e.Outcomes, &data.Outcomes)
	applyString(e.Approvals, &data.Approvals)
	applyString(e.Constraints, &data.Constraints)
	applyList(e.Deliverables, &data.Deliverables)
	applyList(e.Links, &data.Links)

	// The parsed calendar date rides along with the due date; it is not a
	// separately counted field.
	if e.DueDate != nil && strings.TrimSpace(*e.DueDate) != "" && (data.DueDate == "" || editMode) {
		data.DueDate = strings.TrimSpace(*e.DueDate)
		if e.DueDateParsed != nil {
			data.DueDateParsed = strings.TrimSpace(*e.DueDateParsed)
		}
		applied++
	}

	// Bookkeeping hints accumulate as a union rather than replacing.
	for _, a := range cleanList(e.ExistingAssets) {
		if appendUnique(&data.ExistingAssets, a) {
			applied++
		}
	}
	for _, p := range cleanList(e.RelatedProjects) {
		if appendUnique(&data.RelatedProjects, p) {
			applied++
		}
	}

	for key, answer := range e.Answers {
		answer = strings.TrimSpace(answer)
		if key == "" || answer == "" {
			continue
		}
		if _, exists := data.AdditionalDetails[key]; exists && !editMode {
			continue
		}
		data.AdditionalDetails[key] = answer
		applied++
	}

	return applied
}

// RawFallback stores the raw message text into the field currently being
// asked so a substantive answer that extraction could not parse still moves
// the conversation forward. It refuses to touch a field that already holds
// a value. field is either a canonical intake field name or a follow-up
// field key.
func RawFallback(data *model.CollectedData, field, text string) bool {
	text = strings.TrimSpace(text)
	if field == "" || text == "" {
		return false
	}

	if isIntakeField(field) {
		if data.FieldSet(field) {
			return false
		}
		data.SetRawField(field, text)
		return true
	}

	if _, exists := data.AdditionalDetails[field]; exists {
		return false
	}
	data.AdditionalDetails[field] = text
	return true
}

func isIntakeField(field string) bool {
	switch field {
	case model.FieldDepartment, model.FieldAudience, model.FieldBackground,
		model.FieldOutcomes, model.FieldDeliverables, model.FieldDueDate,
		model.FieldApprovals, model.FieldConstraints, model.FieldLinks:
		return true
	}
	return false
}

func cleanList(in []string) []string {
	out := in[:0:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func appendUnique(list *[]string, v string) bool {
	for _, have := range *list {
		if strings.EqualFold(have, v) {
			return false
		}
	}
	*list = append(*list, v)
	return true
}
