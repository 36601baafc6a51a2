package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pipeboard/api/internal/decision"
	"pipeboard/api/internal/util"
)

var (
	// ErrNotFound reports an unknown decision id.
	ErrNotFound = errors.New("decision not found")
	// ErrNotPending reports a mutation against a decision that already left
	// the pending state.
	ErrNotPending = errors.New("decision is not pending")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const decisionColumns = `
	id, type, title, description, urgency, status, context, deadline,
	created_at, updated_at, created_by, assigned_to, pipeline_id, selected_option
`

// ListPendingDecisions returns a pipeline's pending decisions ordered by
// urgency (critical first) then creation time.
func (s *PostgresStore) ListPendingDecisions(ctx context.Context, pipelineID string) ([]decision.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+decisionColumns+`
		FROM decisions
		WHERE pipeline_id=$1 AND status='pending'
		ORDER BY
			CASE urgency
				WHEN 'critical' THEN 0
				WHEN 'high' THEN 1
				WHEN 'medium' THEN 2
				ELSE 3
			END,
			created_at ASC
	`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list pending decisions: %w", err)
	}
	defer rows.Close()

	items := make([]decision.Decision, 0)
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}

	for i := range items {
		options, err := s.listOptions(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Options = options
	}
	return items, nil
}

// GetDecision loads one decision with its options.
func (s *PostgresStore) GetDecision(ctx context.Context, decisionID string) (decision.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+decisionColumns+`
		FROM decisions
		WHERE id=$1
	`, decisionID)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return decision.Decision{}, ErrNotFound
	}
	if err != nil {
		return decision.Decision{}, err
	}
	options, err := s.listOptions(ctx, d.ID)
	if err != nil {
		return decision.Decision{}, err
	}
	d.Options = options
	return d, nil
}

// GetDecisionDetails loads a decision together with its history, votes and
// comments.
func (s *PostgresStore) GetDecisionDetails(ctx context.Context, decisionID string) (decision.Details, error) {
	d, err := s.GetDecision(ctx, decisionID)
	if err != nil {
		return decision.Details{}, err
	}

	history, err := s.listHistoryByDecision(ctx, decisionID)
	if err != nil {
		return decision.Details{}, err
	}
	votes, err := s.listVotes(ctx, decisionID)
	if err != nil {
		return decision.Details{}, err
	}
	comments, err := s.listComments(ctx, decisionID)
	if err != nil {
		return decision.Details{}, err
	}

	return decision.Details{
		Decision: d,
		History:  history,
		Votes:    votes,
		Comments: comments,
	}, nil
}

// ListHistory returns the append-only history for every decision of a
// pipeline, oldest first.
func (s *PostgresStore) ListHistory(ctx context.Context, pipelineID string) ([]decision.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, h.decision_id, h.action, h.actor, h.created_at, h.details, h.changes
		FROM decision_history h
		JOIN decisions d ON d.id = h.decision_id
		WHERE d.pipeline_id=$1
		ORDER BY h.created_at ASC, h.id ASC
	`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	return scanHistoryRows(rows)
}

// ResolveDecision completes a pending decision with the selected option and
// appends the apply history entry in the same transaction. The conditional
// update doubles as the already-resolved check.
func (s *PostgresStore) ResolveDecision(ctx context.Context, decisionID, optionID, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin resolve tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE decisions
		SET status='completed', selected_option=$2, updated_at=NOW()
		WHERE id=$1 AND status='pending'
	`, decisionID, optionID)
	if err != nil {
		return fmt.Errorf("resolve decision: %w", err)
	}
	if err := requireOneRow(ctx, tx, result, decisionID); err != nil {
		return err
	}

	if err := insertHistoryTx(ctx, tx, decision.HistoryEntry{
		ID:         util.NewID("hist"),
		DecisionID: decisionID,
		Action:     decision.ActionApply,
		Actor:      actor,
		Details:    "selected option " + optionID,
		Changes: []decision.FieldChange{
			{Field: "status", From: string(decision.StatusPending), To: string(decision.StatusCompleted)},
			{Field: "selectedOption", From: "", To: optionID},
		},
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit resolve: %w", err)
	}
	return nil
}

// DeferDecision marks a pending decision deferred and records the reason in
// the history.
func (s *PostgresStore) DeferDecision(ctx context.Context, decisionID, reason string, deferUntil *time.Time, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin defer tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE decisions
		SET status='deferred', defer_reason=$2, defer_until=$3, updated_at=NOW()
		WHERE id=$1 AND status='pending'
	`, decisionID, reason, deferUntil)
	if err != nil {
		return fmt.Errorf("defer decision: %w", err)
	}
	if err := requireOneRow(ctx, tx, result, decisionID); err != nil {
		return err
	}

	if err := insertHistoryTx(ctx, tx, decision.HistoryEntry{
		ID:         util.NewID("hist"),
		DecisionID: decisionID,
		Action:     decision.ActionUpdate,
		Actor:      actor,
		Details:    "deferred: " + reason,
		Changes: []decision.FieldChange{
			{Field: "status", From: string(decision.StatusPending), To: string(decision.StatusDeferred)},
		},
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit defer: %w", err)
	}
	return nil
}

// ExpireOverdueDecisions reconciles the stored status of pending decisions
// whose deadline has passed. Returns the ids it expired.
func (s *PostgresStore) ExpireOverdueDecisions(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE decisions
		SET status='expired', updated_at=NOW()
		WHERE status='pending' AND deadline IS NOT NULL AND deadline < $1
		RETURNING id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("expire overdue decisions: %w", err)
	}
	defer rows.Close()

	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired id: %w", err)
		}
		expired = append(expired, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired ids: %w", err)
	}

	for _, id := range expired {
		if err := s.InsertHistory(ctx, decision.HistoryEntry{
			ID:         util.NewID("hist"),
			DecisionID: id,
			Action:     decision.ActionUpdate,
			Actor:      "system",
			Details:    "deadline passed",
			Changes: []decision.FieldChange{
				{Field: "status", From: string(decision.StatusPending), To: string(decision.StatusExpired)},
			},
		}); err != nil {
			return nil, err
		}
	}
	return expired, nil
}

// InsertDecision creates a decision with its options and the create history
// entry. Used by the pipeline ingest path and seeding.
func (s *PostgresStore) InsertDecision(ctx context.Context, d decision.Decision) error {
	contextJSON, err := json.Marshal(d.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO decisions (id, type, title, description, urgency, status, context,
			deadline, created_by, assigned_to, pipeline_id)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, d.ID, d.Type, d.Title, d.Description, d.Urgency, contextJSON,
		d.Deadline, d.CreatedBy, nullable(d.AssignedTo), d.PipelineID)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}

	for position, opt := range d.Options {
		consequences, err := json.Marshal(opt.Consequences)
		if err != nil {
			return fmt.Errorf("encode consequences: %w", err)
		}
		requirements, err := json.Marshal(opt.Requirements)
		if err != nil {
			return fmt.Errorf("encode requirements: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO decision_options (id, decision_id, position, title, description,
				impact, consequences, requirements, estimated_effort, automatic_applicable)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING
		`, opt.ID, d.ID, position, opt.Title, opt.Description, opt.Impact,
			consequences, requirements, nullable(opt.EstimatedEffort), opt.AutomaticApplicable)
		if err != nil {
			return fmt.Errorf("insert option %s: %w", opt.ID, err)
		}
	}

	if err := insertHistoryTx(ctx, tx, decision.HistoryEntry{
		ID:         util.NewID("hist"),
		DecisionID: d.ID,
		Action:     decision.ActionCreate,
		Actor:      d.CreatedBy,
		Details:    "decision raised by pipeline " + d.PipelineID,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// InsertHistory appends a standalone history entry.
func (s *PostgresStore) InsertHistory(ctx context.Context, entry decision.HistoryEntry) error {
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decision_history (id, decision_id, action, actor, details, changes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.DecisionID, entry.Action, entry.Actor, entry.Details, changes)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// CastVote records or replaces a participant's vote and appends the vote
// history entry.
func (s *PostgresStore) CastVote(ctx context.Context, decisionID, participant string, value decision.VoteValue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_votes (decision_id, participant, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (decision_id, participant)
		DO UPDATE SET value=EXCLUDED.value, cast_at=NOW()
	`, decisionID, participant, value)
	if err != nil {
		return fmt.Errorf("cast vote: %w", err)
	}
	return s.InsertHistory(ctx, decision.HistoryEntry{
		ID:         util.NewID("hist"),
		DecisionID: decisionID,
		Action:     decision.ActionVote,
		Actor:      participant,
		Details:    "voted " + string(value),
	})
}

// AddComment appends a comment and its history entry. ReplyTo, when set,
// must reference an existing comment on the same decision.
func (s *PostgresStore) AddComment(ctx context.Context, c decision.Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_comments (id, decision_id, author, content, reply_to)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.DecisionID, c.Author, c.Content, nullable(c.ReplyTo))
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return s.InsertHistory(ctx, decision.HistoryEntry{
		ID:         util.NewID("hist"),
		DecisionID: c.DecisionID,
		Action:     decision.ActionComment,
		Actor:      c.Author,
		Details:    "commented",
	})
}

func (s *PostgresStore) listOptions(ctx context.Context, decisionID string) ([]decision.Option, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, impact, consequences, requirements,
			estimated_effort, automatic_applicable
		FROM decision_options
		WHERE decision_id=$1
		ORDER BY position ASC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	defer rows.Close()

	options := make([]decision.Option, 0)
	for rows.Next() {
		var opt decision.Option
		var consequences, requirements []byte
		var effort sql.NullString
		if err := rows.Scan(&opt.ID, &opt.Title, &opt.Description, &opt.Impact,
			&consequences, &requirements, &effort, &opt.AutomaticApplicable); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		if err := json.Unmarshal(consequences, &opt.Consequences); err != nil {
			return nil, fmt.Errorf("decode consequences: %w", err)
		}
		if len(requirements) > 0 {
			if err := json.Unmarshal(requirements, &opt.Requirements); err != nil {
				return nil, fmt.Errorf("decode requirements: %w", err)
			}
		}
		opt.EstimatedEffort = effort.String
		options = append(options, opt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate options: %w", err)
	}
	return options, nil
}

func (s *PostgresStore) listHistoryByDecision(ctx context.Context, decisionID string) ([]decision.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, action, actor, created_at, details, changes
		FROM decision_history
		WHERE decision_id=$1
		ORDER BY created_at ASC, id ASC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list decision history: %w", err)
	}
	defer rows.Close()
	return scanHistoryRows(rows)
}

func (s *PostgresStore) listVotes(ctx context.Context, decisionID string) ([]decision.Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT participant, value, cast_at
		FROM decision_votes
		WHERE decision_id=$1
		ORDER BY cast_at ASC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var votes []decision.Vote
	for rows.Next() {
		var v decision.Vote
		if err := rows.Scan(&v.Participant, &v.Value, &v.CastAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return votes, nil
}

func (s *PostgresStore) listComments(ctx context.Context, decisionID string) ([]decision.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, author, content, created_at, reply_to
		FROM decision_comments
		WHERE decision_id=$1
		ORDER BY created_at ASC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []decision.Comment
	for rows.Next() {
		var c decision.Comment
		var replyTo sql.NullString
		if err := rows.Scan(&c.ID, &c.DecisionID, &c.Author, &c.Content, &c.Timestamp, &replyTo); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.ReplyTo = replyTo.String
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return comments, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (decision.Decision, error) {
	var d decision.Decision
	var contextJSON []byte
	var deadline sql.NullTime
	var assignedTo, selectedOption sql.NullString
	err := row.Scan(&d.ID, &d.Type, &d.Title, &d.Description, &d.Urgency, &d.Status,
		&contextJSON, &deadline, &d.CreatedAt, &d.UpdatedAt, &d.CreatedBy,
		&assignedTo, &d.PipelineID, &selectedOption)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decision.Decision{}, err
		}
		return decision.Decision{}, fmt.Errorf("scan decision: %w", err)
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &d.Context); err != nil {
			return decision.Decision{}, fmt.Errorf("decode context: %w", err)
		}
	}
	if deadline.Valid {
		t := deadline.Time
		d.Deadline = &t
	}
	d.AssignedTo = assignedTo.String
	d.SelectedOption = selectedOption.String
	return d, nil
}

func scanHistoryRows(rows *sql.Rows) ([]decision.HistoryEntry, error) {
	entries := make([]decision.HistoryEntry, 0)
	for rows.Next() {
		var entry decision.HistoryEntry
		var changes []byte
		if err := rows.Scan(&entry.ID, &entry.DecisionID, &entry.Action, &entry.Actor,
			&entry.Timestamp, &entry.Details, &changes); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &entry.Changes); err != nil {
				return nil, fmt.Errorf("decode history changes: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

func insertHistoryTx(ctx context.Context, tx *sql.Tx, entry decision.HistoryEntry) error {
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO decision_history (id, decision_id, action, actor, details, changes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.DecisionID, entry.Action, entry.Actor, entry.Details, changes)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// requireOneRow distinguishes unknown ids from already-resolved decisions
// after a conditional update matched nothing.
func requireOneRow(ctx context.Context, tx *sql.Tx, result sql.Result, decisionID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM decisions WHERE id=$1)`, decisionID).Scan(&exists); err != nil {
		return fmt.Errorf("check decision exists: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrNotPending
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
