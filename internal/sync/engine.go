// Package sync keeps a dashboard-side cache of decisions fresh against the
// remote decision service. It owns three views (pending list, selected
// decision details, pipeline history), coalesces overlapping refreshes,
// serializes mutations per decision id, and exposes read-only snapshots.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pipeboard/api/internal/client"
	"pipeboard/api/internal/decision"
)

// DefaultPollInterval is how often the pending view refreshes when the
// caller does not configure one.
const DefaultPollInterval = 3 * time.Second

// ErrReasonRequired rejects a deferral with an empty reason before any
// network call is made.
var ErrReasonRequired = errors.New("defer reason is required")

// Snapshot is a read-only copy of the engine's cached state. The pending and
// history slices are owned by the caller.
type Snapshot struct {
	Pending  []decision.Decision
	Details  *decision.Details
	History  []decision.HistoryEntry
	LastErr  error
	Loading  bool
	Mutating bool
}

type refreshCall struct {
	done  chan struct{}
	items []decision.Decision
	err   error
}

// Engine is the synchronization engine for one pipeline's decisions.
type Engine struct {
	repo       client.Repository
	pipelineID string
	interval   time.Duration

	mu             sync.Mutex
	pending        []decision.Decision
	details        *decision.Details
	history        []decision.HistoryEntry
	selected       string
	selectGen      uint64
	lastErr        error
	loadingPending bool
	loadingDetails bool
	loadingHistory bool
	mutating       map[string]struct{}
	refresh        *refreshCall
	cancelDetails  context.CancelFunc

	done     chan struct{}
	stopOnce sync.Once
}

// New creates an engine for the given pipeline. interval <= 0 selects
// DefaultPollInterval. Call Start to begin polling; the engine is fully
// usable without polling for callers that refresh manually.
func New(repo client.Repository, pipelineID string, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Engine{
		repo:       repo,
		pipelineID: pipelineID,
		interval:   interval,
		mutating:   make(map[string]struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the background poll loop for the pending view.
func (e *Engine) Start() {
	go e.pollLoop()
}

// Close stops the poll loop and cancels any in-flight details fetch.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.done) })
	e.mu.Lock()
	if e.cancelDetails != nil {
		e.cancelDetails()
		e.cancelDetails = nil
	}
	e.mu.Unlock()
}

func (e *Engine) pollLoop() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			if _, err := e.RefreshPending(context.Background()); err != nil {
				log.Printf("sync: refresh pending for %s: %v", e.pipelineID, err)
			}
		}
	}
}

// RefreshPending replaces the pending view with the authority's latest list.
// Overlapping calls are coalesced: while a list query is in flight, new
// callers wait for that query's result instead of issuing another one. The
// cache is only replaced on success; any failure leaves the previous list in
// place and records the error.
func (e *Engine) RefreshPending(ctx context.Context) ([]decision.Decision, error) {
	e.mu.Lock()
	if inflight := e.refresh; inflight != nil {
		e.mu.Unlock()
		select {
		case <-inflight.done:
			return inflight.items, inflight.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	e.refresh = call
	e.loadingPending = true
	e.mu.Unlock()

	items, err := e.repo.ListPending(ctx, e.pipelineID)

	e.mu.Lock()
	e.refresh = nil
	e.loadingPending = false
	if err != nil {
		e.lastErr = err
		call.items = copyDecisions(e.pending)
		call.err = err
	} else {
		e.pending = items
		e.lastErr = nil
		call.items = copyDecisions(items)
	}
	e.mu.Unlock()
	close(call.done)
	return call.items, call.err
}

// RefreshHistory reloads the pipeline's decision history view.
func (e *Engine) RefreshHistory(ctx context.Context) ([]decision.HistoryEntry, error) {
	e.mu.Lock()
	e.loadingHistory = true
	e.mu.Unlock()

	entries, err := e.repo.GetHistory(ctx, e.pipelineID)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadingHistory = false
	if err != nil {
		e.lastErr = err
		return nil, err
	}
	e.history = entries
	e.lastErr = nil
	return copyHistory(entries), nil
}

// SelectDecision sets which decision's details are cached. An empty id
// releases the details slot. Selecting cancels interest in the previous
// selection: a late-arriving fetch result for an unselected id is discarded
// rather than written into the cache.
func (e *Engine) SelectDecision(decisionID string) {
	e.mu.Lock()
	if e.cancelDetails != nil {
		e.cancelDetails()
		e.cancelDetails = nil
	}
	e.selectGen++
	gen := e.selectGen
	e.selected = decisionID
	e.details = nil
	if decisionID == "" {
		e.loadingDetails = false
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelDetails = cancel
	e.loadingDetails = true
	e.mu.Unlock()

	go func() {
		details, err := e.repo.GetDetails(ctx, decisionID)
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.selectGen != gen {
			// Selection moved on while the fetch was in flight.
			return
		}
		e.loadingDetails = false
		if err != nil {
			if ctx.Err() == nil {
				e.lastErr = err
			}
			return
		}
		e.details = &details
		e.lastErr = nil
	}()
}

// MakeDecision resolves a pending decision with the chosen option. At most
// one mutation per decision id may be in flight; a second concurrent call
// fails fast with ErrOperationInProgress. On success exactly one pending
// refresh is triggered so the resolved decision drops out of the view.
func (e *Engine) MakeDecision(ctx context.Context, decisionID, optionID string, parameters map[string]string) error {
	if err := e.beginMutation(decisionID); err != nil {
		return err
	}
	defer e.endMutation(decisionID)

	if err := e.repo.MakeDecision(ctx, decisionID, optionID, parameters); err != nil {
		e.recordError(err)
		return err
	}
	e.clearError()
	if _, err := e.RefreshPending(ctx); err != nil {
		log.Printf("sync: refresh after decide %s: %v", decisionID, err)
	}
	return nil
}

// DeferDecision postpones a pending decision. An empty reason is rejected
// locally without a network call. Exclusivity and refresh semantics match
// MakeDecision.
func (e *Engine) DeferDecision(ctx context.Context, decisionID, reason string, deferUntil *time.Time) error {
	if reason == "" {
		return fmt.Errorf("defer %s: %w", decisionID, ErrReasonRequired)
	}
	if err := e.beginMutation(decisionID); err != nil {
		return err
	}
	defer e.endMutation(decisionID)

	if err := e.repo.DeferDecision(ctx, decisionID, reason, deferUntil); err != nil {
		e.recordError(err)
		return err
	}
	e.clearError()
	if _, err := e.RefreshPending(ctx); err != nil {
		log.Printf("sync: refresh after defer %s: %v", decisionID, err)
	}
	return nil
}

// AnalyzeImpact fetches the risk/benefit verdict for a decision/option pair.
// It is read-only: no exclusivity, no cache writes. When the decision is in
// the cache the option is validated locally and an unknown option fails
// without a round trip.
func (e *Engine) AnalyzeImpact(ctx context.Context, decisionID, optionID string) (decision.ImpactAnalysis, error) {
	if d, ok := e.cachedDecision(decisionID); ok {
		if verdict := decision.ValidateOption(d, optionID); !verdict.IsValid {
			return decision.ImpactAnalysis{}, fmt.Errorf("%s: %w", verdict.Reason, client.ErrInvalidOption)
		}
	}
	analysis, err := e.repo.AnalyzeImpact(ctx, decisionID, optionID)
	if err != nil {
		e.recordError(err)
		return decision.ImpactAnalysis{}, err
	}
	e.clearError()
	return analysis, nil
}

// Snapshot returns a copy of the cached views and status flags.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		Pending:  copyDecisions(e.pending),
		History:  copyHistory(e.history),
		LastErr:  e.lastErr,
		Loading:  e.loadingPending || e.loadingDetails || e.loadingHistory,
		Mutating: len(e.mutating) > 0,
	}
	if e.details != nil {
		details := *e.details
		snap.Details = &details
	}
	return snap
}

func (e *Engine) beginMutation(decisionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.mutating[decisionID]; busy {
		return fmt.Errorf("decision %s: %w", decisionID, client.ErrOperationInProgress)
	}
	e.mutating[decisionID] = struct{}{}
	return nil
}

func (e *Engine) endMutation(decisionID string) {
	e.mu.Lock()
	delete(e.mutating, decisionID)
	e.mu.Unlock()
}

func (e *Engine) recordError(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

func (e *Engine) clearError() {
	e.mu.Lock()
	e.lastErr = nil
	e.mu.Unlock()
}

func (e *Engine) cachedDecision(decisionID string) (decision.Decision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range e.pending {
		if d.ID == decisionID {
			return d, true
		}
	}
	if e.details != nil && e.details.ID == decisionID {
		return e.details.Decision, true
	}
	return decision.Decision{}, false
}

func copyDecisions(items []decision.Decision) []decision.Decision {
	out := make([]decision.Decision, len(items))
	copy(out, items)
	return out
}

func copyHistory(items []decision.HistoryEntry) []decision.HistoryEntry {
	out := make([]decision.HistoryEntry, len(items))
	copy(out, items)
	return out
}
