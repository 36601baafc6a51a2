// Package decision defines the decision workflow model shared by the
// service and the client synchronization engine.
package decision

import "time"

type Type string

const (
	TypeQuality  Type = "quality"
	TypePipeline Type = "pipeline"
	TypeSecurity Type = "security"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusDeferred  Status = "deferred"
	StatusExpired   Status = "expired"
)

// ImpactLevel is shared between decision urgency and impact analysis.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "low"
	ImpactMedium   ImpactLevel = "medium"
	ImpactHigh     ImpactLevel = "high"
	ImpactCritical ImpactLevel = "critical"
)

var impactRank = map[ImpactLevel]int{
	ImpactLow:      0,
	ImpactMedium:   1,
	ImpactHigh:     2,
	ImpactCritical: 3,
}

// Rank returns the ordinal position of the level (low < medium < high < critical).
// Unknown levels rank below low.
func (l ImpactLevel) Rank() int {
	rank, ok := impactRank[l]
	if !ok {
		return -1
	}
	return rank
}

type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionVote    Action = "vote"
	ActionComment Action = "comment"
	ActionApply   Action = "apply"
)

type VoteValue string

const (
	VoteApprove VoteValue = "approve"
	VoteReject  VoteValue = "reject"
	VoteDefer   VoteValue = "defer"
)

// Option is one of the mutually exclusive resolutions available for a decision.
type Option struct {
	ID                  string      `json:"id"`
	Title               string      `json:"title"`
	Description         string      `json:"description"`
	Impact              ImpactLevel `json:"impact"`
	Consequences        []string    `json:"consequences"`
	Requirements        []string    `json:"requirements,omitempty"`
	EstimatedEffort     string      `json:"estimatedEffort,omitempty"`
	AutomaticApplicable bool        `json:"automaticApplicable"`
}

// Decision is a unit of human judgment raised by a pipeline. Status changes
// only through the transitions in state.go; SelectedOption is set once the
// decision leaves pending and must name one of Options.
type Decision struct {
	ID             string            `json:"id"`
	Type           Type              `json:"type"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Urgency        ImpactLevel       `json:"urgency"`
	Status         Status            `json:"status"`
	Context        map[string]string `json:"context,omitempty"`
	Deadline       *time.Time        `json:"deadline,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	CreatedBy      string            `json:"createdBy"`
	AssignedTo     string            `json:"assignedTo,omitempty"`
	PipelineID     string            `json:"pipelineId"`
	Options        []Option          `json:"options"`
	SelectedOption string            `json:"selectedOption,omitempty"`
}

// FieldChange records a single field-level diff on a history entry.
type FieldChange struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// HistoryEntry is an append-only audit record. Entries are never edited
// or removed once written.
type HistoryEntry struct {
	ID         string        `json:"id"`
	DecisionID string        `json:"decisionId"`
	Action     Action        `json:"action"`
	Actor      string        `json:"actor"`
	Timestamp  time.Time     `json:"timestamp"`
	Details    string        `json:"details,omitempty"`
	Changes    []FieldChange `json:"changes,omitempty"`
}

type Vote struct {
	Participant string    `json:"participant"`
	Value       VoteValue `json:"value"`
	CastAt      time.Time `json:"castAt"`
}

// Comment is a flat record; ReplyTo is a backward reference into the same
// decision's comments, not a nested tree.
type Comment struct {
	ID         string    `json:"id"`
	DecisionID string    `json:"decisionId"`
	Author     string    `json:"author"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	ReplyTo    string    `json:"replyTo,omitempty"`
}

// Analysis is the optional risk/benefit summary attached to decision details.
type Analysis struct {
	Risks        []string `json:"risks,omitempty"`
	Benefits     []string `json:"benefits,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Details extends Decision with its analysis, history, votes and comments.
type Details struct {
	Decision
	Analysis *Analysis      `json:"analysis,omitempty"`
	History  []HistoryEntry `json:"history"`
	Votes    []Vote         `json:"votes,omitempty"`
	Comments []Comment      `json:"comments,omitempty"`
}

// Risk is one hazard of applying an option.
type Risk struct {
	Description string      `json:"description"`
	Severity    ImpactLevel `json:"severity"`
	Probability float64     `json:"probability"`
	Mitigation  string      `json:"mitigation,omitempty"`
}

// Benefit is one gain from applying an option.
type Benefit struct {
	Description string      `json:"description"`
	Impact      ImpactLevel `json:"impact"`
	Confidence  float64     `json:"confidence"`
}

// ImpactAnalysis is the computed verdict for a decision/option pair. It is
// never persisted by the workflow core.
type ImpactAnalysis struct {
	OptionID        string             `json:"optionId"`
	Risks           []Risk             `json:"risks"`
	Benefits        []Benefit          `json:"benefits"`
	Metrics         map[string]float64 `json:"metrics"`
	Recommendations []string           `json:"recommendations"`
}

// Filters narrows a decision query. Nil or empty slices match everything;
// Start and End bound CreatedAt when set (Start <= End when both present).
type Filters struct {
	Types     []Type        `json:"types,omitempty"`
	Statuses  []Status      `json:"statuses,omitempty"`
	Urgencies []ImpactLevel `json:"urgencies,omitempty"`
	Assignees []string      `json:"assignees,omitempty"`
	Start     *time.Time    `json:"start,omitempty"`
	End       *time.Time    `json:"end,omitempty"`
}

// Valid reports whether the filter is internally consistent.
func (f Filters) Valid() bool {
	if f.Start != nil && f.End != nil && f.Start.After(*f.End) {
		return false
	}
	return true
}

// Match reports whether the decision satisfies every populated filter field.
func (f Filters) Match(d Decision) bool {
	if len(f.Types) > 0 && !containsType(f.Types, d.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, d.Status) {
		return false
	}
	if len(f.Urgencies) > 0 && !containsLevel(f.Urgencies, d.Urgency) {
		return false
	}
	if len(f.Assignees) > 0 && !containsString(f.Assignees, d.AssignedTo) {
		return false
	}
	if f.Start != nil && d.CreatedAt.Before(*f.Start) {
		return false
	}
	if f.End != nil && d.CreatedAt.After(*f.End) {
		return false
	}
	return true
}

// OptionByID returns the option with the given id, if any.
func (d Decision) OptionByID(optionID string) (Option, bool) {
	for _, opt := range d.Options {
		if opt.ID == optionID {
			return opt, true
		}
	}
	return Option{}, false
}

func containsType(list []Type, v Type) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsStatus(list []Status, v Status) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsLevel(list []ImpactLevel, v ImpactLevel) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
