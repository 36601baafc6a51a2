package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches decisions with PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole service is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the decisions table with ts_headline
// snippets, ranked by ts_rank.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "d.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	if q.FilterPipelineID != "" {
		where += fmt.Sprintf(" AND d.pipeline_id = $%d", argN)
		args = append(args, q.FilterPipelineID)
		argN++
	}
	if q.FilterStatus != "" {
		where += fmt.Sprintf(" AND d.status = $%d", argN)
		args = append(args, q.FilterStatus)
		argN++
	}
	if q.FilterType != "" {
		where += fmt.Sprintf(" AND d.type = $%d", argN)
		args = append(args, q.FilterType)
		argN++
	}

	ctx := context.Background()

	var total int
	countSQL := "SELECT count(*) FROM decisions d WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.title,
			ts_headline('english', coalesce(d.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			d.pipeline_id, d.status, d.urgency
		FROM decisions d
		WHERE %s
		ORDER BY ts_rank(d.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.PipelineID, &r.Status, &r.Urgency); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all decisions for full reindexing into Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.description, coalesce(d.defer_reason, ''),
			d.pipeline_id, d.type, d.status, d.urgency
		FROM decisions d
	`)
	if err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Resolution,
			&r.PipelineID, &r.Type, &r.Status, &r.Urgency); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return records, nil
}
