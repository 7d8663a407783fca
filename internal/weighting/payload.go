package weighting

// ObjectiveRef is one entry of the composite SLO create/update request body.
type ObjectiveRef struct {
	ServiceLevelObjectiveRef string  `json:"serviceLevelObjectiveRef"`
	WeightagePercentage      float64 `json:"weightagePercentage"`
	AccountID                string  `json:"accountId,omitempty"`
	OrgIdentifier            string  `json:"orgIdentifier,omitempty"`
	ProjectIdentifier        string  `json:"projectIdentifier,omitempty"`
}

// Payload converts ss into the list of objective references sent to the
// composite SLO API. Callers should Validate first.
func (ss SelectionSet) Payload() []ObjectiveRef {
	refs := make([]ObjectiveRef, 0, len(ss))
	for _, s := range ss {
		refs = append(refs, ObjectiveRef{
			ServiceLevelObjectiveRef: s.Identifier,
			WeightagePercentage:      s.WeightPercentage.InexactFloat64(),
			AccountID:                s.AccountID,
			OrgIdentifier:            s.OrgIdentifier,
			ProjectIdentifier:        s.ProjectIdentifier,
		})
	}
	return refs
}
