package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pipeboard/api/internal/client"
	"pipeboard/api/internal/decision"
)

type fakeRepo struct {
	listPendingFn   func(context.Context, string) ([]decision.Decision, error)
	getDetailsFn    func(context.Context, string) (decision.Details, error)
	getHistoryFn    func(context.Context, string) ([]decision.HistoryEntry, error)
	makeDecisionFn  func(context.Context, string, string, map[string]string) error
	deferDecisionFn func(context.Context, string, string, *time.Time) error
	analyzeImpactFn func(context.Context, string, string) (decision.ImpactAnalysis, error)
}

func (f *fakeRepo) ListPending(ctx context.Context, pipelineID string) ([]decision.Decision, error) {
	if f.listPendingFn != nil {
		return f.listPendingFn(ctx, pipelineID)
	}
	return []decision.Decision{}, nil
}

func (f *fakeRepo) GetDetails(ctx context.Context, decisionID string) (decision.Details, error) {
	if f.getDetailsFn != nil {
		return f.getDetailsFn(ctx, decisionID)
	}
	return decision.Details{}, client.ErrNoData
}

func (f *fakeRepo) GetHistory(ctx context.Context, pipelineID string) ([]decision.HistoryEntry, error) {
	if f.getHistoryFn != nil {
		return f.getHistoryFn(ctx, pipelineID)
	}
	return []decision.HistoryEntry{}, nil
}

func (f *fakeRepo) MakeDecision(ctx context.Context, decisionID, optionID string, parameters map[string]string) error {
	if f.makeDecisionFn != nil {
		return f.makeDecisionFn(ctx, decisionID, optionID, parameters)
	}
	return nil
}

func (f *fakeRepo) DeferDecision(ctx context.Context, decisionID, reason string, deferUntil *time.Time) error {
	if f.deferDecisionFn != nil {
		return f.deferDecisionFn(ctx, decisionID, reason, deferUntil)
	}
	return nil
}

func (f *fakeRepo) AnalyzeImpact(ctx context.Context, decisionID, optionID string) (decision.ImpactAnalysis, error) {
	if f.analyzeImpactFn != nil {
		return f.analyzeImpactFn(ctx, decisionID, optionID)
	}
	return decision.ImpactAnalysis{OptionID: optionID}, nil
}

func pendingOne() []decision.Decision {
	return []decision.Decision{
		{
			ID:         "decision-1",
			PipelineID: "pipeline-1",
			Status:     decision.StatusPending,
			Options:    []decision.Option{{ID: "option-1"}},
		},
	}
}

func TestRefreshPendingCoalescesOverlappingCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	repo := &fakeRepo{
		listPendingFn: func(context.Context, string) ([]decision.Decision, error) {
			calls.Add(1)
			<-release
			return pendingOne(), nil
		},
	}
	engine := New(repo, "pipeline-1", 0)
	defer engine.Close()

	type result struct {
		items []decision.Decision
		err   error
	}
	results := make(chan result, 2)
	var started sync.WaitGroup
	started.Add(1)
	go func() {
		started.Done()
		items, err := engine.RefreshPending(context.Background())
		results <- result{items, err}
	}()
	started.Wait()
	// Let the first caller reach the repository before the second arrives.
	waitFor(t, func() bool { return calls.Load() == 1 })

	go func() {
		items, err := engine.RefreshPending(context.Background())
		results <- result{items, err}
	}()
	// The second caller must be parked on the in-flight call, not issuing
	// its own.
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 in-flight list query, got %d", got)
	}

	close(release)
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("refresh failed: %v", r.err)
		}
		if len(r.items) != 1 || r.items[0].ID != "decision-1" {
			t.Fatalf("caller %d observed %+v", i, r.items)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly one underlying query, got %d", got)
	}
}

func TestMakeDecisionExclusivityPerID(t *testing.T) {
	var mutations atomic.Int32
	release := make(chan struct{})
	repo := &fakeRepo{
		makeDecisionFn: func(_ context.Context, decisionID, optionID string, _ map[string]string) error {
			mutations.Add(1)
			<-release
			return nil
		},
	}
	engine := New(repo, "pipeline-1", 0)
	defer engine.Close()

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- engine.MakeDecision(context.Background(), "decision-1", "option-1", nil)
	}()
	waitFor(t, func() bool { return mutations.Load() == 1 })

	if err := engine.MakeDecision(context.Background(), "decision-1", "option-1", nil); !errors.Is(err, client.ErrOperationInProgress) {
		t.Fatalf("expected ErrOperationInProgress, got %v", err)
	}
	// A different decision id is not blocked.
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- engine.MakeDecision(context.Background(), "decision-2", "option-1", nil)
	}()
	waitFor(t, func() bool { return mutations.Load() == 2 })

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first mutation failed: %v", err)
	}
	if err := <-secondDone; err != nil {
		t.Fatalf("second decision mutation failed: %v", err)
	}
	if got := mutations.Load(); got != 2 {
		t.Fatalf("expected 2 network mutations, got %d", got)
	}

	// After completion the id is free again.
	if err := engine.MakeDecision(context.Background(), "decision-1", "option-1", nil); err != nil {
		t.Fatalf("retry after completion failed: %v", err)
	}
}

func TestMakeDecisionRefreshesPendingOnce(t *testing.T) {
	var refreshes atomic.Int32
	var gotDecision, gotOption string
	var gotParams map[string]string
	resolved := atomic.Bool{}
	repo := &fakeRepo{
		listPendingFn: func(context.Context, string) ([]decision.Decision, error) {
			refreshes.Add(1)
			if resolved.Load() {
				return []decision.Decision{}, nil
			}
			return pendingOne(), nil
		},
		makeDecisionFn: func(_ context.Context, decisionID, optionID string, parameters map[string]string) error {
			gotDecision, gotOption, gotParams = decisionID, optionID, parameters
			resolved.Store(true)
			return nil
		},
	}
	engine := New(repo, "pipeline-1", 0)
	defer engine.Close()

	if _, err := engine.RefreshPending(context.Background()); err != nil {
		t.Fatalf("initial refresh failed: %v", err)
	}
	refreshes.Store(0)

	if err := engine.MakeDecision(context.Background(), "decision-1", "option-1", nil); err != nil {
		t.Fatalf("MakeDecision failed: %v", err)
	}
	if gotDecision != "decision-1" || gotOption != "option-1" || gotParams != nil {
		t.Fatalf("repository invoked with (%q, %q, %v)", gotDecision, gotOption, gotParams)
	}
	if got := refreshes.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh after success, got %d", got)
	}
	snap := engine.Snapshot()
	for _, d := range snap.Pending {
		if d.ID == "decision-1" {
			t.Fatal("resolved decision still in pending view")
		}
	}
}

func TestMakeDecisionFailureDoesNotRefresh(t *testing.T) {
	var refreshes atomic.Int32
	repo := &fakeRepo{
		listPendingFn: func(context.Context, string) ([]decision.Decision, error) {
			refreshes.Add(1)
			return pendingOne(), nil
		},
		makeDecisionFn: func(context.Context, string, string, map[string]string) error {
			return client.ErrAlreadyResolved
		},
	}
	engine := New(repo, "pipeline-1", 0)
	defer engine.Close()

	err := engine.MakeDecision(context.Background(), "decision-1", "option-1", nil)
	if !errors.Is(err, client.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if refreshes.Load() != 0 {
		t.Fatal("failed mutation must not trigger a refresh")
	}
	if snap := engine.Snapshot(); !errors.Is(snap.LastErr, client.ErrAlreadyResolved) {
		t.Fatalf("error slot not set, got %v", snap.LastErr)
	}
}

func TestDeferDecisionEmptyReasonRejectedLocally(t *testing.T) {
	var network atomic.Int32
	repo := &fakeRepo{
		deferDecisionFn: func(context.Context, string, string, *time.Time) error {
			network.Add(1)
			return nil
		},
	}
	engine := New(repo, "pipeline-1", 0)
	defer engine.Close()

	err := engine.DeferDecision(context.Background(), "decision-1", "", nil)
	if !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
	if network.Load() != 0 {
		t.Fatal("empty reason must be rejected without a network call")
	}
}

func TestDeferDecisionRefreshesOnSuccess(t *testing.T) {
	var refreshes atomic.Int32
	repo := &fakeRepo{
		listPendingFn: func(context.Context, string) ([]decision.Decision, error) {
			refreshes.Add(1)
			return []decision.Decision{}, nil
		},
	}
	engine := New(repo, "pipeline-1", 0)
	defer engine.Close()

	until := time.Now().Add(48 * time.Hour)
	if err := engine.DeferDecision(context.Background(), "decision-1", "blocked on vendor fix", &until); err != nil {
		t.Fatalf("DeferDecision failed: %v", err)
	}
	if got := refreshes.Load(); got != 1 {
		t.Fatalf("expected one refresh after defer, got %d", got)
	}
}

func TestSelectDecisionDiscardsStaleDetails(t *testing.T) {
	release := make(chan struct{})
	repo := &fakeRepo{
		getDetailsFn: func(_ context.Context, decisionID string) (decision.Details, error) {
			<-release
			return decision.Details{Decision: decision.Decision{ID: decisionID, Status: decision.StatusPending}}, nil
		},
	}
	engine := New(repo, "pipeline-1", 0)
	defer engine.Close()

	engine.SelectDecision("decision-1")
	engine.SelectDecision("")
	close(release)

	// The late result for decision-1 must never land in the cache.
	time.Sleep(30 * time.Millisecond)
	if snap := engine.Snapshot(); snap.Details != nil {
		t.Fatalf("stale details written for %s", snap.Details.ID)
	}
}

func TestSelectDecisionLoadsDetails(t *testing.T) {
	repo := &fakeRepo{
		getDetailsFn: func(_ context.Context, decisionID string) (decision.Details, error) {
			return decision.Details{
				Decision: decision.Decision{ID: decisionID, Status: decision.StatusPending},
				History:  []decision.HistoryEntry{{ID: "hist-1", DecisionID: decisionID, Action: decision.ActionCreate}},
			}, nil
		},
	}
	engine := New(repo, "pipeline-1", 0)
	defer engine.Close()

	engine.SelectDecision("decision-1")
	waitFor(t, func() bool {
		snap := engine.Snapshot()
		return snap.Details != nil && snap.Details.ID == "decision-1"
	})

	snap := engine.Snapshot()
	if len(snap.Details.History) != 1 || snap.Details.History[0].Action != decision.ActionCreate {
		t.Fatalf("unexpected details: %+v", snap.Details)
	}
}

func TestErrorSlotSetAndCleared(t *testing.T) {
	fail := atomic.Bool{}
	fail.Store(true)
	repo := &fakeRepo{
		listPendingFn: func(context.Context, string) ([]decision.Decision, error) {
			if fail.Load() {
				return nil, client.ErrUnreachable
			}
			return pendingOne(), nil
		},
	}
	engine := New(repo, "pipeline-1", 0)
	defer engine.Close()

	if _, err := engine.RefreshPending(context.Background()); !errors.Is(err, client.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if snap := engine.Snapshot(); !errors.Is(snap.LastErr, client.ErrUnreachable) {
		t.Fatal("error slot not recorded")
	}

	fail.Store(false)
	if _, err := engine.RefreshPending(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if snap := engine.Snapshot(); snap.LastErr != nil {
		t.Fatalf("error slot not cleared after success, got %v", snap.LastErr)
	}
}

func TestFailedRefreshLeavesCacheUnchanged(t *testing.T) {
	fail := atomic.Bool{}
	repo := &fakeRepo{
		listPendingFn: func(context.Context, string) ([]decision.Decision, error) {
			if fail.Load() {
				return nil, client.ErrNoData
			}
			return pendingOne(), nil
		},
	}
	engine := New(repo, "pipeline-1", 0)
	defer engine.Close()

	if _, err := engine.RefreshPending(context.Background()); err != nil {
		t.Fatalf("seed refresh failed: %v", err)
	}

	fail.Store(true)
	if _, err := engine.RefreshPending(context.Background()); !errors.Is(err, client.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	snap := engine.Snapshot()
	if len(snap.Pending) != 1 || snap.Pending[0].ID != "decision-1" {
		t.Fatalf("cache was disturbed by failed refresh: %+v", snap.Pending)
	}
}

func TestAnalyzeImpactValidatesLocally(t *testing.T) {
	var remote atomic.Int32
	repo := &fakeRepo{
		listPendingFn: func(context.Context, string) ([]decision.Decision, error) {
			return pendingOne(), nil
		},
		analyzeImpactFn: func(_ context.Context, _, optionID string) (decision.ImpactAnalysis, error) {
			remote.Add(1)
			return decision.ImpactAnalysis{OptionID: optionID}, nil
		},
	}
	engine := New(repo, "pipeline-1", 0)
	defer engine.Close()

	if _, err := engine.RefreshPending(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	_, err := engine.AnalyzeImpact(context.Background(), "decision-1", "non-existent")
	if !errors.Is(err, client.ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}
	if remote.Load() != 0 {
		t.Fatal("invalid option must not reach the repository")
	}

	analysis, err := engine.AnalyzeImpact(context.Background(), "decision-1", "option-1")
	if err != nil {
		t.Fatalf("AnalyzeImpact failed: %v", err)
	}
	if analysis.OptionID != "option-1" || remote.Load() != 1 {
		t.Fatalf("unexpected analysis %+v after %d remote calls", analysis, remote.Load())
	}
}

func TestPollLoopRefreshes(t *testing.T) {
	var calls atomic.Int32
	repo := &fakeRepo{
		listPendingFn: func(context.Context, string) ([]decision.Decision, error) {
			calls.Add(1)
			return pendingOne(), nil
		},
	}
	engine := New(repo, "pipeline-1", 10*time.Millisecond)
	engine.Start()
	defer engine.Close()

	waitFor(t, func() bool { return calls.Load() >= 2 })
	snap := engine.Snapshot()
	if len(snap.Pending) != 1 {
		t.Fatalf("poll loop did not populate pending view: %+v", snap.Pending)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
