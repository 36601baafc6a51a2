package export

import (
	"context"
	"fmt"
	"time"

	"pipeboard/api/internal/decision"
)

// DecisionSource loads the full decision record to export.
type DecisionSource interface {
	GetDecisionDetails(ctx context.Context, decisionID string) (decision.Details, error)
}

// Service renders decision records into downloadable reports.
type Service struct {
	source DecisionSource
}

// NewService creates a new export service
func NewService(source DecisionSource) *Service {
	return &Service{source: source}
}

// Export generates an export of the decision record in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Format != FormatPDF {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	details, err := s.source.GetDecisionDetails(ctx, req.DecisionID)
	if err != nil {
		return nil, fmt.Errorf("load decision: %w", err)
	}

	html, err := RenderRecordHTML(BuildTemplateData(details, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return renderPDF(html, details.Title)
}

// BuildTemplateData flattens a decision record into template-friendly form.
func BuildTemplateData(d decision.Details, now time.Time) TemplateData {
	data := TemplateData{
		Title:       d.Title,
		Description: d.Description,
		PipelineID:  d.PipelineID,
		Type:        string(d.Type),
		Status:      string(d.Status),
		Urgency:     string(d.Urgency),
		Assignee:    d.AssignedTo,
		CreatedAt:   d.CreatedAt,
		Deadline:    d.Deadline,
		GeneratedAt: now,
	}

	if d.SelectedOption != "" {
		if opt, ok := d.OptionByID(d.SelectedOption); ok {
			data.Resolution = opt.Title
		} else {
			data.Resolution = d.SelectedOption
		}
	}
	if d.Status == decision.StatusDeferred {
		// The defer reason is recorded on the update entry that deferred it.
		for i := len(d.History) - 1; i >= 0; i-- {
			if d.History[i].Action == decision.ActionUpdate && d.History[i].Details != "" {
				data.DeferReason = d.History[i].Details
				break
			}
		}
	}

	for _, opt := range d.Options {
		data.Options = append(data.Options, TemplateOption{
			Title:        opt.Title,
			Description:  opt.Description,
			Impact:       string(opt.Impact),
			Effort:       opt.EstimatedEffort,
			Selected:     opt.ID == d.SelectedOption,
			Automatic:    opt.AutomaticApplicable,
			Consequences: opt.Consequences,
			Requirements: opt.Requirements,
		})
	}
	for _, entry := range d.History {
		data.History = append(data.History, TemplateHistoryEntry{
			Timestamp: entry.Timestamp,
			User:      entry.Actor,
			Action:    string(entry.Action),
			Comment:   entry.Details,
		})
	}
	for _, vote := range d.Votes {
		data.Votes = append(data.Votes, TemplateVote{
			User:      vote.Participant,
			Value:     string(vote.Value),
			Timestamp: vote.CastAt,
		})
	}
	for _, c := range d.Comments {
		data.Comments = append(data.Comments, TemplateComment{
			User:      c.Author,
			Content:   c.Content,
			Timestamp: c.Timestamp,
			IsReply:   c.ReplyTo != "",
		})
	}
	return data
}
