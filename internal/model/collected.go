package model

import "strings"

// Canonical intake field names. RequiredFields is the order the gathering
// phase asks them in; due date is deliberately last so filling it triggers
// the follow-up phase.
const (
	FieldDepartment   = "department"
	FieldAudience     = "audience"
	FieldBackground   = "background"
	FieldOutcomes     = "outcomes"
	FieldDeliverables = "deliverables"
	FieldDueDate      = "due_date"

	FieldApprovals   = "approvals"
	FieldConstraints = "constraints"
	FieldLinks       = "links"
)

// RequiredFields in canonical asking order.
var RequiredFields = []string{
	FieldDepartment,
	FieldAudience,
	FieldBackground,
	FieldOutcomes,
	FieldDeliverables,
	FieldDueDate,
}

// FollowUpQuestion is one generated type-specific question, consumed
// strictly in list order via the conversation's step index.
type FollowUpQuestion struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	FieldKey string `json:"field_key"`
}

// CollectedData is the evolving answer set for a conversation.
//
// List-valued fields are never nil, only empty; scalar fields are empty
// until populated. A populated field is only ever replaced by an explicit
// edit during the confirmation phase.
type CollectedData struct {
	RequesterName string `json:"requester_name,omitempty"`

	Department   string   `json:"department,omitempty"`
	Audience     string   `json:"audience,omitempty"`
	Background   string   `json:"background,omitempty"`
	Outcomes     string   `json:"outcomes,omitempty"`
	Deliverables []string `json:"deliverables"`
	DueDate      string   `json:"due_date,omitempty"`
	// DueDateParsed is the calendar form (YYYY-MM-DD) resolved by the
	// extraction service; never re-parsed locally.
	DueDateParsed string `json:"due_date_parsed,omitempty"`

	Approvals   string   `json:"approvals,omitempty"`
	Constraints string   `json:"constraints,omitempty"`
	Links       []string `json:"links"`

	// RequestTypes is the comma-joined multi-label request type.
	RequestTypes string `json:"request_types,omitempty"`

	// AdditionalDetails holds follow-up answers keyed by field key.
	AdditionalDetails map[string]string `json:"additional_details"`

	ExistingAssets  []string           `json:"existing_assets"`
	DiscussionFlags []string           `json:"discussion_flags"`
	RelatedProjects []string           `json:"related_projects"`
	FollowUps       []FollowUpQuestion `json:"follow_ups"`
}

// NewCollectedData returns a CollectedData with all collections allocated.
func NewCollectedData() CollectedData {
	return CollectedData{
		Deliverables:      []string{},
		Links:             []string{},
		AdditionalDetails: map[string]string{},
		ExistingAssets:    []string{},
		DiscussionFlags:   []string{},
		RelatedProjects:   []string{},
		FollowUps:         []FollowUpQuestion{},
	}
}

// Normalize restores the never-nil collection invariant after a row has
// been decoded from storage.
func (c *CollectedData) Normalize() {
	if c.Deliverables == nil {
		c.Deliverables = []string{}
	}
	if c.Links == nil {
		c.Links = []string{}
	}
	if c.AdditionalDetails == nil {
		c.AdditionalDetails = map[string]string{}
	}
	if c.ExistingAssets == nil {
		c.ExistingAssets = []string{}
	}
	if c.DiscussionFlags == nil {
		c.DiscussionFlags = []string{}
	}
	if c.RelatedProjects == nil {
		c.RelatedProjects = []string{}
	}
	if c.FollowUps == nil {
		c.FollowUps = []FollowUpQuestion{}
	}
}

// FieldSet reports whether the named intake field already holds a value.
func (c *CollectedData) FieldSet(field string) bool {
	switch field {
	case FieldDepartment:
		return c.Department != ""
	case FieldAudience:
		return c.Audience != ""
	case FieldBackground:
		return c.Background != ""
	case FieldOutcomes:
		return c.Outcomes != ""
	case FieldDeliverables:
		return len(c.Deliverables) > 0
	case FieldDueDate:
		return c.DueDate != ""
	case FieldApprovals:
		return c.Approvals != ""
	case FieldConstraints:
		return c.Constraints != ""
	case FieldLinks:
		return len(c.Links) > 0
	}
	return false
}

// SetRawField stores verbatim message text into the named field. Used by
// the raw-text fallback when extraction produced nothing usable.
func (c *CollectedData) SetRawField(field, text string) {
	switch field {
	case FieldDepartment:
		c.Department = text
	case FieldAudience:
		c.Audience = text
	case FieldBackground:
		c.Background = text
	case FieldOutcomes:
		c.Outcomes = text
	case FieldDeliverables:
		c.Deliverables = []string{text}
	case FieldDueDate:
		c.DueDate = text
	case FieldApprovals:
		c.Approvals = text
	case FieldConstraints:
		c.Constraints = text
	case FieldLinks:
		c.Links = []string{text}
	}
}

// NextUnansweredField returns the first required field in canonical order
// without a value, or "" when all required fields are filled.
func (c *CollectedData) NextUnansweredField() string {
	for _, f := range RequiredFields {
		if !c.FieldSet(f) {
			return f
		}
	}
	return ""
}

// FlagDiscussion records that the requester wants to talk a field through
// rather than answer it now. Duplicate flags collapse.
func (c *CollectedData) FlagDiscussion(fieldKey string) {
	for _, f := range c.DiscussionFlags {
		if f == fieldKey {
			return
		}
	}
	c.DiscussionFlags = append(c.DiscussionFlags, fieldKey)
}

// Reset clears everything collected except who the requester is: name and
// department survive so the person is never re-asked their identity.
func (c *CollectedData) Reset() {
	name, dept := c.RequesterName, c.Department
	*c = NewCollectedData()
	c.RequesterName = name
	c.Department = dept
}

// JoinTypes comma-joins multi-label request types into the stored form.
func JoinTypes(types []string) string {
	return strings.Join(types, ", ")
}
