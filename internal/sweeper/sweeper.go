package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/Weightage/internal/hermes"
	"github.com/MikeSquared-Agency/Weightage/internal/metrics"
	"github.com/MikeSquared-Agency/Weightage/internal/sloref"
	"github.com/MikeSquared-Agency/Weightage/internal/store"
	"github.com/MikeSquared-Agency/Weightage/internal/weighting"
)

const pageSize = 100

// Result summarises one sweep.
type Result struct {
	Composites int `json:"composites"`
	Checked    int `json:"checked"`
	Stale      int `json:"stale"`
	NewlyStale int `json:"newly_stale"`
	Recovered  int `json:"recovered"`
	Updated    int `json:"updated"`
}

// Sweeper periodically checks that every selection of every stored composite
// still points at an existing simple SLO and tags the ones that do not.
// Weights are left alone: a stale selection only blocks saving.
type Sweeper struct {
	store    store.Store
	hermes   hermes.Client
	refs     sloref.Client
	interval time.Duration
	logger   *slog.Logger

	sweepMu sync.Mutex
	trigger chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(s store.Store, h hermes.Client, r sloref.Client, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    s,
		hermes:   h,
		refs:     r,
		interval: interval,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

func (sw *Sweeper) Start(ctx context.Context) {
	sw.wg.Add(1)
	go sw.loop(ctx)
}

func (sw *Sweeper) Stop() {
	sw.stopOnce.Do(func() { close(sw.stopCh) })
	sw.wg.Wait()
}

// Trigger schedules a sweep as soon as the loop is free. Extra triggers
// while one is pending are dropped.
func (sw *Sweeper) Trigger() {
	select {
	case sw.trigger <- struct{}{}:
	default:
	}
}

// SetupSubscriptions sweeps early whenever the registry announces a deleted SLO.
func (sw *Sweeper) SetupSubscriptions() {
	if sw.hermes == nil {
		return
	}
	if err := sw.hermes.Subscribe(hermes.SubjectSimpleSLODeleted, func(subject string, _ []byte) {
		sw.logger.Info("simple slo deleted, scheduling sweep", "subject", subject)
		sw.Trigger()
	}); err != nil {
		sw.logger.Warn("failed to subscribe to slo deletions", "error", err)
	}
}

func (sw *Sweeper) loop(ctx context.Context) {
	defer sw.wg.Done()
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-sw.trigger:
		}
		if _, err := sw.SweepOnce(ctx); err != nil {
			sw.logger.Error("sweep failed", "error", err)
		}
	}
}

// SweepOnce checks every stored composite once. Only one sweep runs at a time.
func (sw *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	sw.sweepMu.Lock()
	defer sw.sweepMu.Unlock()

	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	var res Result
	for offset := 0; ; offset += pageSize {
		page, err := sw.store.ListComposites(ctx, store.CompositeFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return res, err
		}
		for _, c := range page {
			sw.sweepComposite(ctx, c, &res)
		}
		if len(page) < pageSize {
			break
		}
	}

	metrics.StaleSelections.Set(float64(res.Stale))
	sw.logger.Info("sweep complete",
		"composites", res.Composites,
		"checked", res.Checked,
		"stale", res.Stale,
		"recovered", res.Recovered,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (sw *Sweeper) sweepComposite(ctx context.Context, c *store.CompositeSLO, res *Result) {
	res.Composites++

	var stale, recovered []string
	selections := c.Selections.Clone()
	for i, sel := range selections {
		res.Checked++
		state, err := sw.resolve(ctx, sel, c.Scope())
		if err != nil {
			sw.logger.Warn("failed to resolve selection", "composite_id", c.ID, "identifier", sel.Identifier, "error", err)
			if sel.ErrorState != weighting.ErrorStateNone {
				res.Stale++
			}
			continue
		}
		if state != weighting.ErrorStateNone {
			res.Stale++
		}
		if state == sel.ErrorState {
			continue
		}
		if state == weighting.ErrorStateNone {
			recovered = append(recovered, sel.Identifier)
		} else {
			stale = append(stale, sel.Identifier)
		}
		selections[i].ErrorState = state
	}

	if len(stale) == 0 && len(recovered) == 0 {
		return
	}

	c.Selections = selections
	if err := sw.store.UpdateComposite(ctx, c); err != nil {
		if errors.Is(err, store.ErrRevisionConflict) {
			sw.logger.Info("composite changed during sweep, retrying next time", "composite_id", c.ID)
		} else {
			sw.logger.Error("failed to update composite", "composite_id", c.ID, "error", err)
		}
		return
	}
	res.Updated++
	res.NewlyStale += len(stale)
	res.Recovered += len(recovered)

	sw.logger.Warn("composite selections changed state", "composite_id", c.ID, "stale", stale, "recovered", recovered)
	if err := sw.store.CreateCompositeEvent(ctx, &store.CompositeEvent{
		CompositeID: c.ID,
		Event:       "selections_swept",
		Actor:       "sweeper",
		Payload: map[string]interface{}{
			"stale":     stale,
			"recovered": recovered,
		},
	}); err != nil {
		sw.logger.Warn("failed to record sweep event", "composite_id", c.ID, "error", err)
	}
	if sw.hermes != nil {
		_ = sw.hermes.Publish(ctx, hermes.SubjectCompositeStale(c.ID.String()), hermes.CompositeStaleEvent{
			CompositeID: c.ID.String(),
			Stale:       stale,
			Recovered:   recovered,
		})
	}
}

func (sw *Sweeper) resolve(ctx context.Context, sel weighting.Selection, scope weighting.Scope) (weighting.ErrorState, error) {
	slo, err := sw.refs.GetSLO(ctx, sloref.SelectionScope(sel, scope), sel.Identifier)
	if err != nil {
		return sel.ErrorState, err
	}
	switch {
	case slo == nil:
		return weighting.ErrorStateDeleted, nil
	case slo.Kind != "" && slo.Kind != sloref.KindSimple:
		return weighting.ErrorStateInvalid, nil
	default:
		return weighting.ErrorStateNone, nil
	}
}
