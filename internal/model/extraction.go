package model

// ExtractedFields is the ephemeral result of one extraction call: nullable
// mirrors of the collected-data fields plus service-level metadata. It is
// never persisted as-is, only merged into CollectedData.
type ExtractedFields struct {
	Department    *string  `json:"department"`
	Audience      *string  `json:"audience"`
	Background    *string  `json:"background"`
	Outcomes      *string  `json:"outcomes"`
	Deliverables  []string `json:"deliverables"`
	DueDate       *string  `json:"due_date"`
	DueDateParsed *string  `json:"due_date_parsed"`
	Approvals     *string  `json:"approvals"`
	Constraints   *string  `json:"constraints"`
	Links         []string `json:"links"`

	ExistingAssets  []string `json:"existing_assets"`
	RelatedProjects []string `json:"related_projects"`

	// Answers maps follow-up field keys to interpreted answers. The
	// interpretation call fills the current question's key and may also
	// fill upcoming ones (lookahead).
	Answers map[string]string `json:"answers"`

	// Confidence is the service's self-reported score in [0,1]. A
	// malformed payload degrades to zero confidence, never an error.
	Confidence float64 `json:"confidence"`

	// Acknowledgment is an optional human-readable sentence echoing what
	// was understood.
	Acknowledgment string `json:"acknowledgment"`

	Keywords []string `json:"keywords"`
}

// Empty reports whether the extraction populated no field at all.
func (e *ExtractedFields) Empty() bool {
	return e.Department == nil &&
		e.Audience == nil &&
		e.Background == nil &&
		e.Outcomes == nil &&
		len(e.Deliverables) == 0 &&
		e.DueDate == nil &&
		e.Approvals == nil &&
		e.Constraints == nil &&
		len(e.Links) == 0 &&
		len(e.ExistingAssets) == 0 &&
		len(e.RelatedProjects) == 0 &&
		len(e.Answers) == 0
}
