package weighting

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidWeight      = errors.New("weight must be below 100 with at most 2 decimal places")
	ErrIndexOutOfRange    = errors.New("selection index out of range")
	ErrDuplicateSelection = errors.New("selection already present")
)

var weightPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

// Engine keeps the weights of a composite SLO summing to 100 while the user
// edits, adds and removes selections. It never mutates its input: every
// operation returns a new set, and a rejected operation returns the input
// unchanged together with the reason.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger}
}

// EditWeight sets the weight of the selection at index and spreads what is
// left of the budget over the selections nobody pinned. With pin set, the
// edited selection becomes pinned; otherwise its pin flag is left as is.
//
// The share given to each unpinned selection is
//
//	(100 - weight - pinnedWeight) / (n - max(pinnedCount, 1))
//
// rounded to 2 places, and the last unpinned selection takes whatever keeps
// the total at exactly 100.
func (e *Engine) EditWeight(set SelectionSet, index int, weight decimal.Decimal, pin bool) (SelectionSet, error) {
	if err := e.checkEdit(set, index, weight); err != nil {
		return set, err
	}

	out := set.Clone()

	pinnedCount := 0
	pinnedWeight := decimal.Zero
	for i, s := range out {
		if i != index && s.ManuallyPinned {
			pinnedCount++
			pinnedWeight = pinnedWeight.Add(s.WeightPercentage)
		}
	}

	remaining := DefaultTotal.Sub(weight).Sub(pinnedWeight)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	divisor := len(out) - max(pinnedCount, 1)

	out[index].WeightPercentage = weight
	if pin {
		out[index].ManuallyPinned = true
	}

	var free []int
	for i, s := range out {
		if i != index && !s.ManuallyPinned {
			free = append(free, i)
		}
	}
	if len(free) == 0 || divisor <= 0 {
		return out, nil
	}

	derived := remaining.Div(decimal.NewFromInt(int64(divisor))).Round(2)
	if k := decimal.NewFromInt(int64(len(free) - 1)); k.IsPositive() && derived.Mul(k).GreaterThan(remaining) {
		derived = remaining.Div(k).RoundDown(2)
	}
	for _, i := range free[:len(free)-1] {
		out[i].WeightPercentage = derived
	}
	last := free[len(free)-1]
	others := out.Sum().Sub(out[last].WeightPercentage)
	out[last].WeightPercentage = clampWeight(DefaultTotal.Sub(others).Round(2))

	return out, nil
}

// EditImpact overwrites the weight at index without touching any other
// selection or the pin flag. Used to preview the impact of a weight before
// committing it.
func (e *Engine) EditImpact(set SelectionSet, index int, weight decimal.Decimal) (SelectionSet, error) {
	if err := e.checkEdit(set, index, weight); err != nil {
		return set, err
	}
	out := set.Clone()
	out[index].WeightPercentage = weight
	return out, nil
}

// Reset splits total evenly across set, rounded to one place, with the last
// selection absorbing the rounding remainder. The shares are capped so the
// first n-1 never exceed total; the remainder keeps two places so budgets left
// by two-place pins still add up exactly. All pins are cleared and the
// scope is stamped onto every selection.
func (e *Engine) Reset(set SelectionSet, scope Scope, total decimal.Decimal) SelectionSet {
	n := len(set)
	if n == 0 {
		return set.Clone()
	}
	if total.IsNegative() {
		total = decimal.Zero
	}

	rest := decimal.NewFromInt(int64(n - 1))
	share := total.Div(decimal.NewFromInt(int64(n))).Round(1)
	if share.Mul(rest).GreaterThan(total) {
		share = total.Div(rest).RoundDown(1)
	}
	lastShare := clampWeight(total.Sub(share.Mul(rest)).Round(2))

	out := make(SelectionSet, n)
	for i, s := range set {
		s = stampScope(s, scope)
		s.ManuallyPinned = false
		if i == n-1 {
			s.WeightPercentage = lastShare
		} else {
			s.WeightPercentage = share
		}
		out[i] = s
	}
	return out
}

// Remove drops the selection matching ref and rebalances the unpinned
// selections over the budget the pinned ones leave. In account-level scopes
// ref is the scoped reference (see Selection.ScopedRef), otherwise the bare
// identifier. The result lists pinned selections first.
func (e *Engine) Remove(set SelectionSet, ref string, scope Scope) SelectionSet {
	if !set.Contains(ref, scope) {
		return set
	}

	var pinned, free SelectionSet
	for _, s := range set {
		switch {
		case s.refFor(scope) == ref:
		case s.ManuallyPinned:
			pinned = append(pinned, s)
		default:
			free = append(free, s)
		}
	}

	budget := DefaultTotal.Sub(pinned.Sum())
	out := make(SelectionSet, 0, len(pinned)+len(free))
	out = append(out, pinned...)
	out = append(out, e.Reset(free, scope, budget)...)
	return out
}

// Add appends sel with a zero weight and redistributes the whole set evenly.
func (e *Engine) Add(set SelectionSet, sel Selection, scope Scope) (SelectionSet, error) {
	sel = stampScope(sel, scope)
	if set.Contains(sel.refFor(scope), scope) {
		e.logger.Debug("selection rejected", "identifier", sel.Identifier, "reason", ErrDuplicateSelection)
		return set, fmt.Errorf("%w: %s", ErrDuplicateSelection, sel.refFor(scope))
	}
	sel.WeightPercentage = decimal.Zero
	sel.ManuallyPinned = false

	out := append(set.Clone(), sel)
	return e.Reset(out, scope, DefaultTotal), nil
}

func (e *Engine) checkEdit(set SelectionSet, index int, weight decimal.Decimal) error {
	if index < 0 || index >= len(set) {
		e.logger.Debug("weight edit ignored", "index", index, "size", len(set))
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(set))
	}
	if !weight.LessThan(DefaultTotal) || !weightPattern.MatchString(weight.String()) {
		e.logger.Debug("weight edit ignored", "index", index, "weight", weight.String())
		return fmt.Errorf("%w: %s", ErrInvalidWeight, weight.String())
	}
	return nil
}

// stampScope copies the composite's scope onto s. In account-level scopes a
// selection keeps the org and project it was picked from.
func stampScope(s Selection, scope Scope) Selection {
	if scope.AccountID != "" {
		s.AccountID = scope.AccountID
	}
	if scope.AccountLevel() {
		return s
	}
	s.OrgIdentifier = scope.OrgIdentifier
	s.ProjectIdentifier = scope.ProjectIdentifier
	return s
}

func clampWeight(w decimal.Decimal) decimal.Decimal {
	if w.IsNegative() {
		return decimal.Zero
	}
	if w.GreaterThan(DefaultTotal) {
		return DefaultTotal
	}
	return w
}
