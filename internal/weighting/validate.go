package weighting

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptySelectionSet = errors.New("composite SLO needs at least one selection")
	ErrWeightOutOfRange  = errors.New("weight outside [0, 100]")
	ErrWeightSum         = errors.New("weights must sum to 100")
	ErrStaleSelection    = errors.New("selection references an unusable SLO")
)

// SumTolerance is how far a set may drift from 100 and still be saved.
var SumTolerance = decimal.RequireFromString("0.1")

// Validate checks that ss can be submitted: it is non-empty, every weight is
// within [0, 100], the weights sum to 100 and no selection is stale.
func (ss SelectionSet) Validate() error {
	if len(ss) == 0 {
		return ErrEmptySelectionSet
	}
	for _, s := range ss {
		if s.WeightPercentage.IsNegative() || s.WeightPercentage.GreaterThan(DefaultTotal) {
			return fmt.Errorf("%w: %s has weight %s", ErrWeightOutOfRange, s.Identifier, s.WeightPercentage)
		}
		if s.ErrorState != ErrorStateNone {
			return fmt.Errorf("%w: %s is %s", ErrStaleSelection, s.Identifier, s.ErrorState)
		}
	}
	if sum := ss.Sum(); sum.Sub(DefaultTotal).Abs().GreaterThan(SumTolerance) {
		return fmt.Errorf("%w: got %s", ErrWeightSum, sum)
	}
	return nil
}
