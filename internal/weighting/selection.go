package weighting

import (
	"github.com/shopspring/decimal"
)

// DefaultTotal is the weight budget a composite SLO distributes across its selections.
var DefaultTotal = decimal.NewFromInt(100)

// ErrorState tags a selection whose referenced SLO can no longer be used.
type ErrorState string

const (
	ErrorStateNone    ErrorState = ""
	ErrorStateDeleted ErrorState = "deleted"
	ErrorStateInvalid ErrorState = "invalid"
)

// Scope identifies where a composite SLO lives. Account-level composites have
// no org or project and may reference SLOs from any project in the account.
type Scope struct {
	AccountID         string `json:"account_id" validate:"required"`
	OrgIdentifier     string `json:"org_identifier,omitempty"`
	ProjectIdentifier string `json:"project_identifier,omitempty"`
}

func (s Scope) AccountLevel() bool {
	return s.OrgIdentifier == "" && s.ProjectIdentifier == ""
}

// Selection is one simple SLO included in a composite SLO.
type Selection struct {
	Identifier        string          `json:"identifier" validate:"required"`
	AccountID         string          `json:"account_id,omitempty"`
	OrgIdentifier     string          `json:"org_identifier,omitempty"`
	ProjectIdentifier string          `json:"project_identifier,omitempty"`
	DisplayName       string          `json:"display_name,omitempty"`
	WeightPercentage  decimal.Decimal `json:"weightage_percentage"`
	ManuallyPinned    bool            `json:"manually_pinned"`
	ErrorState        ErrorState      `json:"error_state,omitempty"`
}

// ScopedRef qualifies the identifier with its org and project so that SLOs
// sharing an identifier across projects stay distinct.
func (s Selection) ScopedRef() string {
	return s.OrgIdentifier + "." + s.ProjectIdentifier + "." + s.Identifier
}

// refFor returns the reference used to match s within a composite of the given scope.
func (s Selection) refFor(scope Scope) string {
	if scope.AccountLevel() {
		return s.ScopedRef()
	}
	return s.Identifier
}

// SelectionSet is the ordered list of selections of one composite SLO.
type SelectionSet []Selection

// Sum returns the total of all weights.
func (ss SelectionSet) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, s := range ss {
		total = total.Add(s.WeightPercentage)
	}
	return total
}

// Clone returns a copy that can be modified without touching ss.
func (ss SelectionSet) Clone() SelectionSet {
	if ss == nil {
		return nil
	}
	out := make(SelectionSet, len(ss))
	copy(out, ss)
	return out
}

// Stale returns the selections carrying an error state.
func (ss SelectionSet) Stale() SelectionSet {
	var out SelectionSet
	for _, s := range ss {
		if s.ErrorState != ErrorStateNone {
			out = append(out, s)
		}
	}
	return out
}

// Contains reports whether a selection with the same reference is already present.
func (ss SelectionSet) Contains(ref string, scope Scope) bool {
	for _, s := range ss {
		if s.refFor(scope) == ref {
			return true
		}
	}
	return false
}
