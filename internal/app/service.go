package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"pipeboard/api/internal/artifact"
	"pipeboard/api/internal/cache"
	"pipeboard/api/internal/config"
	"pipeboard/api/internal/decision"
	"pipeboard/api/internal/export"
	"pipeboard/api/internal/impact"
	"pipeboard/api/internal/search"
	"pipeboard/api/internal/store"
	"pipeboard/api/internal/util"
)

type CreateDecisionInput struct {
	Type        string              `json:"type"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Urgency     string              `json:"urgency"`
	Context     map[string]string   `json:"context"`
	Deadline    *time.Time          `json:"deadline"`
	PipelineID  string              `json:"pipelineId"`
	AssignedTo  string              `json:"assignedTo"`
	Options     []CreateOptionInput `json:"options"`
}

type CreateOptionInput struct {
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	Impact              string   `json:"impact"`
	Consequences        []string `json:"consequences"`
	Requirements        []string `json:"requirements"`
	EstimatedEffort     string   `json:"estimatedEffort"`
	AutomaticApplicable bool     `json:"automaticApplicable"`
}

type DecideInput struct {
	OptionID   string            `json:"optionId"`
	Parameters map[string]string `json:"parameters"`
	Actor      string            `json:"actor"`
}

type DeferInput struct {
	Reason     string     `json:"reason"`
	DeferUntil *time.Time `json:"deferUntil"`
	Actor      string     `json:"actor"`
}

type ImpactInput struct {
	OptionID string `json:"optionId"`
}

type VoteInput struct {
	Participant string `json:"participant"`
	Value       string `json:"value"`
}

type CommentInput struct {
	Author  string `json:"author"`
	Content string `json:"content"`
	ReplyTo string `json:"replyTo"`
}

var allowedDecisionTypes = map[decision.Type]struct{}{
	decision.TypeQuality:  {},
	decision.TypePipeline: {},
	decision.TypeSecurity: {},
}

var allowedVoteValues = map[decision.VoteValue]struct{}{
	decision.VoteApprove: {},
	decision.VoteReject:  {},
	decision.VoteDefer:   {},
}

type dataStore interface {
	ListPendingDecisions(ctx context.Context, pipelineID string) ([]decision.Decision, error)
	GetDecision(ctx context.Context, decisionID string) (decision.Decision, error)
	GetDecisionDetails(ctx context.Context, decisionID string) (decision.Details, error)
	ListHistory(ctx context.Context, pipelineID string) ([]decision.HistoryEntry, error)
	ResolveDecision(ctx context.Context, decisionID, optionID, actor string) error
	DeferDecision(ctx context.Context, decisionID, reason string, deferUntil *time.Time, actor string) error
	ExpireOverdueDecisions(ctx context.Context, now time.Time) ([]string, error)
	InsertDecision(ctx context.Context, d decision.Decision) error
	CastVote(ctx context.Context, decisionID, participant string, value decision.VoteValue) error
	AddComment(ctx context.Context, c decision.Comment) error
	Ping(ctx context.Context) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexDecision(r search.Record)
}

type reportExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type reportArchive interface {
	PutReport(ctx context.Context, decisionID, filename string, data []byte, contentType string) (string, error)
	ListReports(ctx context.Context, decisionID string) ([]artifact.Report, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// reportLinkTTL bounds how long an archived report download link stays valid.
const reportLinkTTL = 15 * time.Minute

// Service implements the decision workflow operations behind the HTTP API.
// The cache, search index and report archive are optional; the service
// degrades to store-only behavior when they are absent.
type Service struct {
	cfg      config.Config
	store    dataStore
	cache    *cache.PendingCache
	search   searchService
	exporter reportExporter
	archive  reportArchive
}

func New(cfg config.Config, dataStore *store.PostgresStore, pendingCache *cache.PendingCache, searchSvc *search.Service, exporter *export.Service, archive *artifact.Store) *Service {
	s := &Service{
		cfg:   cfg,
		store: dataStore,
		cache: pendingCache,
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if exporter != nil {
		s.exporter = exporter
	}
	if archive != nil {
		s.archive = archive
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ListPending returns a pipeline's open decisions. Decisions whose deadline
// has passed are expired before the listing so callers never see an
// actionable decision that is past its deadline.
func (s *Service) ListPending(ctx context.Context, pipelineID string) ([]decision.Decision, error) {
	expired, err := s.store.ExpireOverdueDecisions(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	if len(expired) > 0 {
		s.invalidatePending(ctx, pipelineID)
	}

	if s.cache != nil {
		items, hit, err := s.cache.GetPending(ctx, pipelineID)
		if err != nil {
			log.Printf("app: pending cache read for %s: %v", pipelineID, err)
		} else if hit {
			return items, nil
		}
	}

	items, err := s.store.ListPendingDecisions(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetPending(ctx, pipelineID, items); err != nil {
			log.Printf("app: pending cache write for %s: %v", pipelineID, err)
		}
	}
	return items, nil
}

func (s *Service) GetDetails(ctx context.Context, decisionID string) (decision.Details, error) {
	details, err := s.store.GetDecisionDetails(ctx, decisionID)
	if err != nil {
		return decision.Details{}, err
	}
	return details, nil
}

func (s *Service) History(ctx context.Context, pipelineID string) ([]decision.HistoryEntry, error) {
	return s.store.ListHistory(ctx, pipelineID)
}

// Decide applies an option to a pending decision. The option must belong to
// the decision; resolving a non-pending decision fails with ALREADY_RESOLVED.
func (s *Service) Decide(ctx context.Context, decisionID string, input DecideInput) (decision.Details, error) {
	optionID := strings.TrimSpace(input.OptionID)
	if optionID == "" {
		return decision.Details{}, domainError(http.StatusUnprocessableEntity, "INVALID_OPTION", "optionId is required", nil)
	}

	d, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return decision.Details{}, err
	}
	if _, ok := d.OptionByID(optionID); !ok {
		return decision.Details{}, domainError(http.StatusUnprocessableEntity, "INVALID_OPTION", "option does not belong to this decision", map[string]any{
			"optionId": optionID,
		})
	}

	actor := firstNonBlank(strings.TrimSpace(input.Actor), "api")
	if err := s.store.ResolveDecision(ctx, decisionID, optionID, actor); err != nil {
		return decision.Details{}, err
	}

	s.invalidatePending(ctx, d.PipelineID)
	s.indexDecision(ctx, decisionID)
	return s.store.GetDecisionDetails(ctx, decisionID)
}

// Defer postpones a pending decision. A reason is always required.
func (s *Service) Defer(ctx context.Context, decisionID string, input DeferInput) (decision.Details, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return decision.Details{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reason is required", nil)
	}

	d, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return decision.Details{}, err
	}

	actor := firstNonBlank(strings.TrimSpace(input.Actor), "api")
	if err := s.store.DeferDecision(ctx, decisionID, reason, input.DeferUntil, actor); err != nil {
		return decision.Details{}, err
	}

	s.invalidatePending(ctx, d.PipelineID)
	s.indexDecision(ctx, decisionID)
	return s.store.GetDecisionDetails(ctx, decisionID)
}

// AnalyzeImpact computes the risk/benefit verdict for a decision/option
// pair. The analysis is computed on demand and never persisted.
func (s *Service) AnalyzeImpact(ctx context.Context, decisionID, optionID string) (decision.ImpactAnalysis, error) {
	d, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return decision.ImpactAnalysis{}, err
	}
	if check := decision.ValidateOption(d, optionID); !check.IsValid {
		return decision.ImpactAnalysis{}, domainError(http.StatusUnprocessableEntity, "INVALID_OPTION", check.Reason, map[string]any{
			"optionId": optionID,
		})
	}
	analysis, err := impact.Analyze(d, optionID, time.Now())
	if err != nil {
		return decision.ImpactAnalysis{}, err
	}
	return analysis, nil
}

// CreateDecision registers a new decision raised by a pipeline.
func (s *Service) CreateDecision(ctx context.Context, input CreateDecisionInput) (decision.Details, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return decision.Details{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	pipelineID := strings.TrimSpace(input.PipelineID)
	if pipelineID == "" {
		return decision.Details{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pipelineId is required", nil)
	}
	decisionType := decision.Type(strings.TrimSpace(input.Type))
	if _, ok := allowedDecisionTypes[decisionType]; !ok {
		return decision.Details{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be one of quality, pipeline, security", nil)
	}
	urgency := decision.ImpactLevel(strings.TrimSpace(input.Urgency))
	if urgency.Rank() < 0 {
		return decision.Details{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "urgency must be one of low, medium, high, critical", nil)
	}
	if len(input.Options) == 0 {
		return decision.Details{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "at least one option is required", nil)
	}

	now := time.Now().UTC()
	d := decision.Decision{
		ID:          util.NewID("dec"),
		Type:        decisionType,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Urgency:     urgency,
		Status:      decision.StatusPending,
		Context:     input.Context,
		Deadline:    input.Deadline,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   "pipeline",
		AssignedTo:  strings.TrimSpace(input.AssignedTo),
		PipelineID:  pipelineID,
	}
	for _, opt := range input.Options {
		optionTitle := strings.TrimSpace(opt.Title)
		if optionTitle == "" {
			return decision.Details{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "option title is required", nil)
		}
		level := decision.ImpactLevel(strings.TrimSpace(opt.Impact))
		if level.Rank() < 0 {
			level = decision.ImpactLow
		}
		d.Options = append(d.Options, decision.Option{
			ID:                  util.NewID("opt"),
			Title:               optionTitle,
			Description:         strings.TrimSpace(opt.Description),
			Impact:              level,
			Consequences:        opt.Consequences,
			Requirements:        opt.Requirements,
			EstimatedEffort:     strings.TrimSpace(opt.EstimatedEffort),
			AutomaticApplicable: opt.AutomaticApplicable,
		})
	}

	if err := s.store.InsertDecision(ctx, d); err != nil {
		return decision.Details{}, err
	}

	s.invalidatePending(ctx, pipelineID)
	s.indexDecision(ctx, d.ID)
	return s.store.GetDecisionDetails(ctx, d.ID)
}

func (s *Service) CastVote(ctx context.Context, decisionID string, input VoteInput) (decision.Details, error) {
	participant := strings.TrimSpace(input.Participant)
	if participant == "" {
		return decision.Details{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "participant is required", nil)
	}
	value := decision.VoteValue(strings.ToLower(strings.TrimSpace(input.Value)))
	if _, ok := allowedVoteValues[value]; !ok {
		return decision.Details{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "value must be one of approve, reject, defer", nil)
	}

	d, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return decision.Details{}, err
	}
	if !decision.Actionable(d, time.Now()) {
		return decision.Details{}, domainError(http.StatusConflict, "ALREADY_RESOLVED", "decision is no longer open for votes", nil)
	}

	if err := s.store.CastVote(ctx, decisionID, participant, value); err != nil {
		return decision.Details{}, err
	}
	return s.store.GetDecisionDetails(ctx, decisionID)
}

func (s *Service) AddComment(ctx context.Context, decisionID string, input CommentInput) (decision.Details, error) {
	author := strings.TrimSpace(input.Author)
	if author == "" {
		return decision.Details{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "author is required", nil)
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return decision.Details{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}

	if _, err := s.store.GetDecision(ctx, decisionID); err != nil {
		return decision.Details{}, err
	}

	comment := decision.Comment{
		ID:         util.NewID("cmt"),
		DecisionID: decisionID,
		Author:     author,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		ReplyTo:    strings.TrimSpace(input.ReplyTo),
	}
	if err := s.store.AddComment(ctx, comment); err != nil {
		return decision.Details{}, err
	}
	return s.store.GetDecisionDetails(ctx, decisionID)
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(q), nil
}

// ExportRecord renders a decision record as PDF. When object storage is
// configured the report is also archived there.
func (s *Service) ExportRecord(ctx context.Context, decisionID string, format export.Format) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "export is not configured", nil)
	}
	result, err := s.exporter.Export(ctx, export.Request{DecisionID: decisionID, Format: format})
	if err != nil {
		return nil, err
	}
	if s.archive != nil {
		if key, err := s.archive.PutReport(ctx, decisionID, result.Filename, result.Data, result.MimeType); err != nil {
			log.Printf("app: archive report for %s: %v", decisionID, err)
		} else {
			log.Printf("app: archived report %s", key)
		}
	}
	return result, nil
}

// ListReports lists a decision's archived report exports, newest first, each
// with a temporary download link.
func (s *Service) ListReports(ctx context.Context, decisionID string) ([]artifact.Report, error) {
	if s.archive == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "report archive is not configured", nil)
	}
	if _, err := s.store.GetDecision(ctx, decisionID); err != nil {
		return nil, err
	}

	reports, err := s.archive.ListReports(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if reports == nil {
		reports = []artifact.Report{}
	}
	for i := range reports {
		url, err := s.archive.PresignedURL(ctx, reports[i].Key, reportLinkTTL)
		if err != nil {
			log.Printf("app: presign report %s: %v", reports[i].Key, err)
			continue
		}
		reports[i].URL = url
	}
	return reports, nil
}

// SweepExpired marks overdue pending decisions expired. The HTTP layer runs
// this in the background so deadlines are honored even on idle pipelines.
func (s *Service) SweepExpired(ctx context.Context) {
	expired, err := s.store.ExpireOverdueDecisions(ctx, time.Now())
	if err != nil {
		log.Printf("app: expiry sweep: %v", err)
		return
	}
	for _, id := range expired {
		s.indexDecision(ctx, id)
	}
	if len(expired) > 0 {
		log.Printf("app: expired %d overdue decisions", len(expired))
	}
}

func (s *Service) invalidatePending(ctx context.Context, pipelineID string) {
	if s.cache == nil || pipelineID == "" {
		return
	}
	if err := s.cache.Invalidate(ctx, pipelineID); err != nil {
		log.Printf("app: invalidate pending cache for %s: %v", pipelineID, err)
	}
}

func (s *Service) indexDecision(ctx context.Context, decisionID string) {
	if s.search == nil {
		return
	}
	d, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("app: load decision %s for indexing: %v", decisionID, err)
		}
		return
	}
	s.search.IndexDecision(search.Record{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Resolution:  d.SelectedOption,
		PipelineID:  d.PipelineID,
		Type:        string(d.Type),
		Status:      string(d.Status),
		Urgency:     string(d.Urgency),
	})
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
