package decision

import (
	"testing"
	"time"
)

func TestFiltersMatch(t *testing.T) {
	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	d := Decision{
		ID:         "decision-1",
		Type:       TypeSecurity,
		Status:     StatusPending,
		Urgency:    ImpactHigh,
		AssignedTo: "user-7",
		CreatedAt:  created,
		PipelineID: "pipeline-1",
	}

	tests := []struct {
		name    string
		filters Filters
		want    bool
	}{
		{"empty filters match all", Filters{}, true},
		{"type match", Filters{Types: []Type{TypeSecurity, TypeQuality}}, true},
		{"type mismatch", Filters{Types: []Type{TypePipeline}}, false},
		{"status match", Filters{Statuses: []Status{StatusPending}}, true},
		{"urgency mismatch", Filters{Urgencies: []ImpactLevel{ImpactLow}}, false},
		{"assignee match", Filters{Assignees: []string{"user-7"}}, true},
		{"assignee mismatch", Filters{Assignees: []string{"user-8"}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filters.Match(d); got != tc.want {
				t.Fatalf("Match = %v, want %v", got, tc.want)
			}
		})
	}

	before := created.Add(-time.Hour)
	after := created.Add(time.Hour)

	if !(Filters{Start: &before, End: &after}).Match(d) {
		t.Fatal("created within range must match")
	}
	if (Filters{Start: &after}).Match(d) {
		t.Fatal("created before start must not match")
	}
	if (Filters{End: &before}).Match(d) {
		t.Fatal("created after end must not match")
	}
}

func TestFiltersValid(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	if !(Filters{Start: &start, End: &end}).Valid() {
		t.Fatal("ordered range reported invalid")
	}
	if (Filters{Start: &end, End: &start}).Valid() {
		t.Fatal("inverted range reported valid")
	}
	if !(Filters{Start: &start}).Valid() {
		t.Fatal("open-ended range reported invalid")
	}
}

func TestOptionByID(t *testing.T) {
	d := Decision{Options: []Option{{ID: "option-1"}, {ID: "option-2"}}}

	opt, ok := d.OptionByID("option-2")
	if !ok || opt.ID != "option-2" {
		t.Fatalf("expected option-2, got %+v ok=%v", opt, ok)
	}
	if _, ok := d.OptionByID("option-3"); ok {
		t.Fatal("unknown id must not resolve")
	}
}

func TestImpactLevelRank(t *testing.T) {
	ordered := []ImpactLevel{ImpactLow, ImpactMedium, ImpactHigh, ImpactCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Rank() >= ordered[i].Rank() {
			t.Fatalf("%s must rank below %s", ordered[i-1], ordered[i])
		}
	}
	if ImpactLevel("bogus").Rank() >= ImpactLow.Rank() {
		t.Fatal("unknown level must rank below low")
	}
}
