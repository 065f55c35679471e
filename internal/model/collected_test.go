package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextUnansweredField(t *testing.T) {
	d := NewCollectedData()
	assert.Equal(t, FieldDepartment, d.NextUnansweredField())

	d.Department = "Marketing"
	assert.Equal(t, FieldAudience, d.NextUnansweredField())

	d.Audience = "Real estate agents"
	d.Background = "Spring conference"
	d.Outcomes = "More qualified leads"
	d.Deliverables = []string{"one-pager"}
	assert.Equal(t, FieldDueDate, d.NextUnansweredField(), "due date is asked last")

	d.DueDate = "March 15"
	assert.Equal(t, "", d.NextUnansweredField())
}

func TestResetPreservesIdentity(t *testing.T) {
	d := NewCollectedData()
	d.RequesterName = "Jordan Lee"
	d.Department = "Sales"
	d.Audience = "Brokers"
	d.DueDate = "next month"
	d.AdditionalDetails["venue"] = "Austin"
	d.FlagDiscussion("budget")

	d.Reset()

	assert.Equal(t, "Jordan Lee", d.RequesterName)
	assert.Equal(t, "Sales", d.Department)
	assert.Empty(t, d.Audience)
	assert.Empty(t, d.DueDate)
	assert.Empty(t, d.AdditionalDetails)
	assert.Empty(t, d.DiscussionFlags)
	assert.NotNil(t, d.Deliverables, "collections stay allocated after reset")
}

func TestFlagDiscussionDeduplicates(t *testing.T) {
	d := NewCollectedData()
	d.FlagDiscussion("budget")
	d.FlagDiscussion("budget")
	d.FlagDiscussion("venue")
	assert.Equal(t, []string{"budget", "venue"}, d.DiscussionFlags)
}

func TestNormalizeRestoresCollections(t *testing.T) {
	var d CollectedData
	d.Normalize()
	assert.NotNil(t, d.Deliverables)
	assert.NotNil(t, d.Links)
	assert.NotNil(t, d.AdditionalDetails)
	assert.NotNil(t, d.FollowUps)
}
