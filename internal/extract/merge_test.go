package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/intake-engine/internal/model"
)

func strptr(s string) *string { return &s }

func TestMergeFillsEmptyFields(t *testing.T) {
	data := model.NewCollectedData()

	applied := Merge(model.ExtractedFields{
		Audience:     strptr("Real estate agents"),
		Deliverables: []string{"one-pager", "slide deck"},
	}, &data, false)

	assert.Equal(t, 2, applied)
	assert.Equal(t, "Real estate agents", data.Audience)
	assert.Equal(t, []string{"one-pager", "slide deck"}, data.Deliverables)
}

func TestMergeNeverOverwritesOutsideEditMode(t *testing.T) {
	data := model.NewCollectedData()
	data.Audience = "Brokers"
	data.Deliverables = []string{"email copy"}

	applied := Merge(model.ExtractedFields{
		Audience:     strptr("Agents"),
		Deliverables: []string{"landing page"},
	}, &data, false)

	assert.Equal(t, 0, applied)
	assert.Equal(t, "Brokers", data.Audience)
	assert.Equal(t, []string{"email copy"}, data.Deliverables)
}

func TestMergeEditModeReplaces(t *testing.T) {
	data := model.NewCollectedData()
	data.Audience = "Brokers"

	applied := Merge(model.ExtractedFields{Audience: strptr("Agents")}, &data, true)

	assert.Equal(t, 1, applied)
	assert.Equal(t, "Agents", data.Audience)
}

func TestMergeDueDateCarriesParsedForm(t *testing.T) {
	data := model.NewCollectedData()

	applied := Merge(model.ExtractedFields{
		DueDate:       strptr("two weeks before the conference"),
		DueDateParsed: strptr("2026-03-01"),
	}, &data, false)

	assert.Equal(t, 1, applied, "due date and its parsed form count once")
	assert.Equal(t, "two weeks before the conference", data.DueDate)
	assert.Equal(t, "2026-03-01", data.DueDateParsed)
}

func TestMergeIgnoresEmptyValues(t *testing.T) {
	data := model.NewCollectedData()

	applied := Merge(model.ExtractedFields{
		Audience:     strptr("   "),
		Deliverables: []string{"", "  "},
		Answers:      map[string]string{"venue": ""},
	}, &data, false)

	assert.Equal(t, 0, applied)
	assert.Empty(t, data.Audience)
	assert.Empty(t, data.Deliverables)
	assert.Empty(t, data.AdditionalDetails)
}

func TestMergeBookkeepingUnions(t *testing.T) {
	data := model.NewCollectedData()
	data.ExistingAssets = []string{"2025 deck"}

	applied := Merge(model.ExtractedFields{
		ExistingAssets:  []string{"2025 Deck", "brand kit"},
		RelatedProjects: []string{"Spring campaign"},
	}, &data, false)

	assert.Equal(t, 2, applied, "case-insensitive duplicate not re-added")
	assert.Equal(t, []string{"2025 deck", "brand kit"}, data.ExistingAssets)
	assert.Equal(t, []string{"Spring campaign"}, data.RelatedProjects)
}

func TestMergeAnswersLookahead(t *testing.T) {
	data := model.NewCollectedData()
	data.AdditionalDetails["venue"] = "Austin"

	applied := Merge(model.ExtractedFields{
		Answers: map[string]string{
			"venue":    "Dallas",
			"headline": "Sell faster",
		},
	}, &data, false)

	assert.Equal(t, 1, applied)
	assert.Equal(t, "Austin", data.AdditionalDetails["venue"], "existing answer kept")
	assert.Equal(t, "Sell faster", data.AdditionalDetails["headline"])
}

func TestRawFallback(t *testing.T) {
	t.Run("fills empty intake field", func(t *testing.T) {
		data := model.NewCollectedData()
		assert.True(t, RawFallback(&data, model.FieldAudience, "folks who flip houses"))
		assert.Equal(t, "folks who flip houses", data.Audience)
	})

	t.Run("refuses populated intake field", func(t *testing.T) {
		data := model.NewCollectedData()
		data.Audience = "Brokers"
		assert.False(t, RawFallback(&data, model.FieldAudience, "someone else"))
		assert.Equal(t, "Brokers", data.Audience)
	})

	t.Run("follow-up field key goes to additional details", func(t *testing.T) {
		data := model.NewCollectedData()
		assert.True(t, RawFallback(&data, "venue", "the big hall downtown"))
		assert.Equal(t, "the big hall downtown", data.AdditionalDetails["venue"])

		assert.False(t, RawFallback(&data, "venue", "somewhere else"))
		assert.Equal(t, "the big hall downtown", data.AdditionalDetails["venue"])
	})

	t.Run("empty field or text is a no-op", func(t *testing.T) {
		data := model.NewCollectedData()
		assert.False(t, RawFallback(&data, "", "text"))
		assert.False(t, RawFallback(&data, model.FieldAudience, "   "))
	})

	t.Run("list fields wrap the raw text", func(t *testing.T) {
		data := model.NewCollectedData()
		assert.True(t, RawFallback(&data, model.FieldDeliverables, "a deck and an email"))
		assert.Equal(t, []string{"a deck and an email"}, data.Deliverables)
	})
}
