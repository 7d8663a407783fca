package weighting

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func weights(set SelectionSet) []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = s.WeightPercentage.String()
	}
	return out
}

func pins(set SelectionSet) []bool {
	out := make([]bool, len(set))
	for i, s := range set {
		out[i] = s.ManuallyPinned
	}
	return out
}

func sel(id, weight string, pinned bool) Selection {
	return Selection{Identifier: id, WeightPercentage: d(weight), ManuallyPinned: pinned}
}

var projectScope = Scope{AccountID: "acc", OrgIdentifier: "default", ProjectIdentifier: "checkout"}

func TestEditWeightKeepsSumAtHundred(t *testing.T) {
	e := NewEngine(discardLogger())
	set := SelectionSet{sel("a", "25", false), sel("b", "25", false), sel("c", "25", false), sel("d", "25", false)}

	set, err := e.EditWeight(set, 0, d("40"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"40", "20", "20", "20"}, weights(set))
	assert.Equal(t, []bool{true, false, false, false}, pins(set))

	set, err = e.EditWeight(set, 1, d("15.55"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"40", "15.55", "14.82", "29.63"}, weights(set))
	assert.Equal(t, "100", set.Sum().String())

	set, err = e.EditWeight(set, 3, d("33.33"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"40", "15.55", "11.12", "33.33"}, weights(set))
	assert.Equal(t, "100", set.Sum().String())
}

func TestEditWeightLeavesPinnedSelections(t *testing.T) {
	e := NewEngine(discardLogger())
	set := SelectionSet{sel("a", "30", true), sel("b", "50", false), sel("c", "20", true)}

	out, err := e.EditWeight(set, 1, d("25"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"30", "25", "20"}, weights(out))
	assert.Equal(t, []bool{true, true, true}, pins(out))
}

func TestEditWeightLastUnpinnedAbsorbsRemainder(t *testing.T) {
	e := NewEngine(discardLogger())
	set := SelectionSet{sel("a", "25", false), sel("b", "25", false), sel("c", "25", false), sel("d", "25", false)}

	out, err := e.EditWeight(set, 0, d("10"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "30", "30", "30"}, weights(out))

	out, err = e.EditWeight(set, 2, d("0.01"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"33.33", "33.33", "0.01", "33.33"}, weights(out))
	assert.Equal(t, "100", out.Sum().String())
}

func TestEditWeightWithoutPin(t *testing.T) {
	e := NewEngine(discardLogger())
	set := SelectionSet{sel("a", "50", false), sel("b", "50", false)}

	out, err := e.EditWeight(set, 0, d("70"), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"70", "30"}, weights(out))
	assert.Equal(t, []bool{false, false}, pins(out))
}

func TestEditWeightSingleSelection(t *testing.T) {
	e := NewEngine(discardLogger())
	set := SelectionSet{sel("a", "100", false)}

	out, err := e.EditWeight(set, 0, d("60"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"60"}, weights(out))
	assert.True(t, out[0].ManuallyPinned)
}

func TestEditWeightPinnedOverflowClampsAbsorber(t *testing.T) {
	e := NewEngine(discardLogger())
	set := SelectionSet{sel("a", "70", true), sel("b", "15", false), sel("c", "15", false)}

	out, err := e.EditWeight(set, 1, d("50"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"70", "50", "0"}, weights(out))
	assert.ErrorIs(t, out.Validate(), ErrWeightSum)
}

func TestEditWeightTinyRemainderStaysWithinBudget(t *testing.T) {
	e := NewEngine(discardLogger())
	set := make(SelectionSet, 10)
	for i := range set {
		set[i] = sel(fmt.Sprintf("s%d", i), "10", false)
	}

	out, err := e.EditWeight(set, 0, d("99.95"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"99.95", "0", "0", "0", "0", "0", "0", "0", "0", "0.05"}, weights(out))
	assert.Equal(t, "100", out.Sum().String())
}

func TestEditWeightRejectsInvalidInput(t *testing.T) {
	e := NewEngine(discardLogger())
	set := SelectionSet{sel("a", "50", false), sel("b", "50", false)}

	tests := []struct {
		name   string
		index  int
		weight string
		want   error
	}{
		{"hundred", 0, "100", ErrInvalidWeight},
		{"above hundred", 0, "150", ErrInvalidWeight},
		{"three decimals", 0, "12.345", ErrInvalidWeight},
		{"negative", 0, "-5", ErrInvalidWeight},
		{"negative index", -1, "10", ErrIndexOutOfRange},
		{"index past end", 2, "10", ErrIndexOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.EditWeight(set, tt.index, d(tt.weight), true)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, []string{"50", "50"}, weights(out))
			assert.Equal(t, []bool{false, false}, pins(out))
		})
	}
}

func TestEditWeightAcceptsTwoDecimals(t *testing.T) {
	e := NewEngine(discardLogger())
	set := SelectionSet{sel("a", "50", false), sel("b", "50", false)}

	out, err := e.EditWeight(set, 0, d("99.99"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"99.99", "0.01"}, weights(out))

	// trailing zeros are not significant
	out, err = e.EditWeight(set, 0, d("12.500"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"12.5", "87.5"}, weights(out))
}

func TestEditWeightDoesNotMutateInput(t *testing.T) {
	e := NewEngine(discardLogger())
	set := SelectionSet{sel("a", "50", false), sel("b", "50", false)}

	_, err := e.EditWeight(set, 0, d("20"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"50", "50"}, weights(set))
	assert.Equal(t, []bool{false, false}, pins(set))
}

func TestEditImpact(t *testing.T) {
	e := NewEngine(discardLogger())
	set := SelectionSet{sel("a", "50", false), sel("b", "50", true)}

	out, err := e.EditImpact(set, 0, d("10"))
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "50"}, weights(out))
	assert.Equal(t, []bool{false, true}, pins(out))

	out, err = e.EditImpact(set, 0, d("100"))
	assert.ErrorIs(t, err, ErrInvalidWeight)
	assert.Equal(t, []string{"50", "50"}, weights(out))

	_, err = e.EditImpact(nil, 0, d("10"))
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestReset(t *testing.T) {
	e := NewEngine(discardLogger())

	t.Run("three selections", func(t *testing.T) {
		set := SelectionSet{sel("a", "10", true), sel("b", "80", false), sel("c", "10", true)}
		out := e.Reset(set, projectScope, DefaultTotal)
		assert.Equal(t, []string{"33.3", "33.3", "33.4"}, weights(out))
		assert.Equal(t, []bool{false, false, false}, pins(out))
	})

	t.Run("six selections", func(t *testing.T) {
		set := make(SelectionSet, 6)
		out := e.Reset(set, projectScope, DefaultTotal)
		assert.Equal(t, []string{"16.7", "16.7", "16.7", "16.7", "16.7", "16.5"}, weights(out))
	})

	t.Run("single selection", func(t *testing.T) {
		out := e.Reset(SelectionSet{sel("a", "0", false)}, projectScope, DefaultTotal)
		assert.Equal(t, []string{"100"}, weights(out))
	})

	t.Run("partial budget", func(t *testing.T) {
		set := SelectionSet{sel("a", "0", false), sel("b", "0", false)}
		out := e.Reset(set, projectScope, d("45"))
		assert.Equal(t, []string{"22.5", "22.5"}, weights(out))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, e.Reset(nil, projectScope, DefaultTotal))
	})

	t.Run("tiny budget", func(t *testing.T) {
		out := e.Reset(make(SelectionSet, 6), projectScope, d("0.45"))
		assert.Equal(t, []string{"0", "0", "0", "0", "0", "0.45"}, weights(out))
		assert.Equal(t, "0.45", out.Sum().String())
	})

	t.Run("many selections", func(t *testing.T) {
		out := e.Reset(make(SelectionSet, 60), projectScope, DefaultTotal)
		assert.Equal(t, "1.6", out[0].WeightPercentage.String())
		assert.Equal(t, "5.6", out[59].WeightPercentage.String())
		assert.Equal(t, "100", out.Sum().String())
	})

	t.Run("idempotent", func(t *testing.T) {
		set := SelectionSet{sel("a", "10", true), sel("b", "80", false), sel("c", "10", false)}
		first := e.Reset(set, projectScope, DefaultTotal)
		second := e.Reset(first, projectScope, DefaultTotal)
		assert.Equal(t, weights(first), weights(second))
		assert.Equal(t, pins(first), pins(second))
	})
}

func TestResetStampsScope(t *testing.T) {
	e := NewEngine(discardLogger())
	set := SelectionSet{
		{Identifier: "latency", OrgIdentifier: "other", ProjectIdentifier: "payments"},
	}

	out := e.Reset(set, projectScope, DefaultTotal)
	assert.Equal(t, "acc", out[0].AccountID)
	assert.Equal(t, "default", out[0].OrgIdentifier)
	assert.Equal(t, "checkout", out[0].ProjectIdentifier)

	out = e.Reset(set, Scope{AccountID: "acc"}, DefaultTotal)
	assert.Equal(t, "acc", out[0].AccountID)
	assert.Equal(t, "other", out[0].OrgIdentifier)
	assert.Equal(t, "payments", out[0].ProjectIdentifier)
}

func TestRemove(t *testing.T) {
	e := NewEngine(discardLogger())

	t.Run("rebalances unpinned", func(t *testing.T) {
		set := SelectionSet{sel("a", "40", true), sel("b", "30", false), sel("c", "30", false)}
		out := e.Remove(set, "b", projectScope)
		require.Len(t, out, 2)
		assert.Equal(t, "a", out[0].Identifier)
		assert.Equal(t, "c", out[1].Identifier)
		assert.Equal(t, []string{"40", "60"}, weights(out))
		assert.Equal(t, []bool{true, false}, pins(out))
	})

	t.Run("pinned first", func(t *testing.T) {
		set := SelectionSet{sel("a", "20", false), sel("b", "20", false), sel("c", "50", true), sel("d", "10", false)}
		out := e.Remove(set, "d", projectScope)
		require.Len(t, out, 3)
		assert.Equal(t, "c", out[0].Identifier)
		assert.Equal(t, []string{"50", "25", "25"}, weights(out))
		assert.Equal(t, "100", out.Sum().String())
	})

	t.Run("missing reference", func(t *testing.T) {
		set := SelectionSet{sel("a", "40", true), sel("b", "60", false)}
		out := e.Remove(set, "zzz", projectScope)
		assert.Equal(t, []string{"40", "60"}, weights(out))
		assert.Equal(t, []bool{true, false}, pins(out))
	})

	t.Run("account level matches scoped reference", func(t *testing.T) {
		scope := Scope{AccountID: "acc"}
		set := SelectionSet{
			{Identifier: "latency", OrgIdentifier: "default", ProjectIdentifier: "p1", WeightPercentage: d("50")},
			{Identifier: "latency", OrgIdentifier: "default", ProjectIdentifier: "p2", WeightPercentage: d("50")},
		}
		out := e.Remove(set, "latency", scope)
		assert.Len(t, out, 2)

		out = e.Remove(set, "default.p1.latency", scope)
		require.Len(t, out, 1)
		assert.Equal(t, "p2", out[0].ProjectIdentifier)
		assert.Equal(t, []string{"100"}, weights(out))
	})

	t.Run("tiny budget", func(t *testing.T) {
		set := SelectionSet{sel("a", "99.8", true)}
		for _, id := range []string{"b", "c", "d", "e", "f"} {
			set = append(set, sel(id, "0.04", false))
		}
		out := e.Remove(set, "f", projectScope)
		assert.Equal(t, []string{"99.8", "0", "0", "0", "0.2"}, weights(out))
		assert.Equal(t, "100", out.Sum().String())
	})

	t.Run("pinned over budget", func(t *testing.T) {
		set := SelectionSet{sel("a", "70", true), sel("b", "60", true), sel("c", "0", false), sel("d", "0", false)}
		out := e.Remove(set, "d", projectScope)
		assert.Equal(t, []string{"70", "60", "0"}, weights(out))
	})
}

func TestAdd(t *testing.T) {
	e := NewEngine(discardLogger())

	set, err := e.Add(nil, Selection{Identifier: "a"}, projectScope)
	require.NoError(t, err)
	assert.Equal(t, []string{"100"}, weights(set))
	assert.Equal(t, "checkout", set[0].ProjectIdentifier)

	set, err = e.EditWeight(append(set, sel("b", "0", false)), 0, d("80"), true)
	require.NoError(t, err)

	set, err = e.Add(set, Selection{Identifier: "c", WeightPercentage: d("55"), ManuallyPinned: true}, projectScope)
	require.NoError(t, err)
	assert.Equal(t, []string{"33.3", "33.3", "33.4"}, weights(set))
	assert.Equal(t, []bool{false, false, false}, pins(set))

	out, err := e.Add(set, Selection{Identifier: "b"}, projectScope)
	assert.ErrorIs(t, err, ErrDuplicateSelection)
	assert.Len(t, out, 3)
}

func TestAddAccountLevelAllowsSameIdentifierAcrossProjects(t *testing.T) {
	e := NewEngine(discardLogger())
	scope := Scope{AccountID: "acc"}

	set, err := e.Add(nil, Selection{Identifier: "latency", OrgIdentifier: "default", ProjectIdentifier: "p1"}, scope)
	require.NoError(t, err)
	set, err = e.Add(set, Selection{Identifier: "latency", OrgIdentifier: "default", ProjectIdentifier: "p2"}, scope)
	require.NoError(t, err)
	assert.Equal(t, []string{"50", "50"}, weights(set))

	_, err = e.Add(set, Selection{Identifier: "latency", OrgIdentifier: "default", ProjectIdentifier: "p2"}, scope)
	assert.ErrorIs(t, err, ErrDuplicateSelection)
}

func TestStaleSelectionsDoNotBlockEdits(t *testing.T) {
	e := NewEngine(discardLogger())
	set := SelectionSet{sel("a", "50", false), sel("b", "50", false)}
	set[1].ErrorState = ErrorStateDeleted

	out, err := e.EditWeight(set, 0, d("30"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"30", "70"}, weights(out))
	assert.Equal(t, ErrorStateDeleted, out[1].ErrorState)
	assert.Len(t, out.Stale(), 1)
}

// Random mixes of edits, removals, additions and resets must keep every
// weight within [0, 100], and the total at exactly 100 while something is
// left unpinned to absorb the remainder.
func TestOperationSequencesKeepWeightsInRange(t *testing.T) {
	e := NewEngine(discardLogger())

	for seed := int64(1); seed <= 50; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			set := e.Reset(SelectionSet{sel("s0", "0", false), sel("s1", "0", false), sel("s2", "0", false)}, projectScope, DefaultTotal)
			next := 3

			for step := 0; step < 200; step++ {
				var op string
				switch r := rng.Intn(10); {
				case r < 6 && len(set) > 0:
					op = "edit"
					weight := decimal.New(int64(rng.Intn(10000)), -2)
					out, err := e.EditWeight(set, rng.Intn(len(set)), weight, true)
					require.NoError(t, err)
					set = out
				case r < 8 && len(set) > 0:
					op = "remove"
					set = e.Remove(set, set[rng.Intn(len(set))].Identifier, projectScope)
				case r < 9:
					op = "add"
					out, err := e.Add(set, Selection{Identifier: fmt.Sprintf("s%d", next)}, projectScope)
					require.NoError(t, err)
					next++
					set = out
				default:
					op = "reset"
					set = e.Reset(set, projectScope, DefaultTotal)
				}

				pinned := decimal.Zero
				unpinned := 0
				for _, s := range set {
					assert.False(t, s.WeightPercentage.IsNegative(), "step %d %s: %v", step, op, weights(set))
					assert.False(t, s.WeightPercentage.GreaterThan(DefaultTotal), "step %d %s: %v", step, op, weights(set))
					if s.ManuallyPinned {
						pinned = pinned.Add(s.WeightPercentage)
					} else {
						unpinned++
					}
				}
				if unpinned > 0 && !pinned.GreaterThan(DefaultTotal) {
					require.True(t, set.Sum().Equal(DefaultTotal), "step %d %s: sum %s of %v", step, op, set.Sum(), weights(set))
				}
			}
		})
	}
}
