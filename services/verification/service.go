package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"fulfillment-controlplane/pkg/celengine"
	"fulfillment-controlplane/pkg/db/option"
	"fulfillment-controlplane/pkg/errutil"
	"fulfillment-controlplane/pkg/logger"
	"fulfillment-controlplane/pkg/money"
	"fulfillment-controlplane/pkg/repository"
	"fulfillment-controlplane/services/opportunity"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("fulfillment-controlplane/services/verification")

// Dispatcher turns a completed engagement into durable fulfillment work.
// Dispatch runs inside the transaction that commits the completion; Kick is a
// best-effort nudge after commit.
type Dispatcher interface {
	Dispatch(ctx context.Context, tx *gorm.DB, e *Engagement) error
	Kick(ctx context.Context, engagementID string)
}

type OpportunityReader interface {
	Get(ctx context.Context, tx *gorm.DB, id string) (*opportunity.Opportunity, error)
}

type Service struct {
	db            *gorm.DB
	node          *snowflake.Node
	opportunities OpportunityReader
	rule          *celengine.EvidenceRule
	dispatcher    Dispatcher

	engagement repository.Repository[Engagement]
	evidence   repository.Repository[Evidence]
}

type ServiceParams struct {
	fx.In
	DB            *gorm.DB
	Node          *snowflake.Node
	Opportunities OpportunityReader
	Rule          *celengine.EvidenceRule
	Dispatcher    Dispatcher
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:            p.DB,
		node:          p.Node,
		opportunities: p.Opportunities,
		rule:          p.Rule,
		dispatcher:    p.Dispatcher,

		engagement: repository.ProvideStore[Engagement](p.DB),
		evidence:   repository.ProvideStore[Evidence](p.DB),
	}
}

type EvidenceInput struct {
	Type      EvidenceType    `json:"type"`
	Reference string          `json:"reference,omitempty"`
	Geometry  json.RawMessage `json:"geometry,omitempty"`
}

type SubmitParams struct {
	UserID        string
	OpportunityID string
	Evidence      []EvidenceInput
	Now           time.Time
}

func (p SubmitParams) validate() error {
	details := []errutil.Detail{}
	if p.UserID == "" {
		details = append(details, errutil.Detail{Field: "user_id", Message: "is required"})
	}
	if p.OpportunityID == "" {
		details = append(details, errutil.Detail{Field: "opportunity_id", Message: "is required"})
	}

	seen := map[EvidenceType]bool{}
	for i, ev := range p.Evidence {
		field := fmt.Sprintf("evidence[%d]", i)
		switch {
		case !ev.Type.Valid():
			details = append(details, errutil.Detail{Field: field + ".type", Message: "unknown evidence type"})
		case seen[ev.Type]:
			details = append(details, errutil.Detail{Field: field + ".type", Message: "supplied more than once"})
		case ev.Reference == "" && len(ev.Geometry) == 0:
			details = append(details, errutil.Detail{Field: field, Message: "reference or geometry is required"})
		case len(ev.Geometry) > 0 && !json.Valid(ev.Geometry):
			details = append(details, errutil.Detail{Field: field + ".geometry", Message: "must be valid JSON"})
		}
		seen[ev.Type] = true
	}

	if len(details) > 0 {
		return errutil.ValidationFailed("invalid verification submission", nil, errutil.WithDetails(details...))
	}
	return nil
}

// Submit records a verification claim with its evidence. Opportunities that
// verify automatically are completed in the same transaction.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (*Engagement, error) {
	ctx, span := tracer.Start(ctx, "verification.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", p.UserID), attribute.String("opportunity_id", p.OpportunityID))

	log := logger.FromContext(ctx).With(zap.String("user_id", p.UserID), zap.String("opportunity_id", p.OpportunityID))

	if err := p.validate(); err != nil {
		return nil, err
	}

	opp, err := s.opportunities.Get(ctx, nil, p.OpportunityID)
	if err != nil {
		return nil, err
	}

	now := p.Now.UTC()
	var engagement *Engagement
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.findClaim(ctx, tx, p.UserID, p.OpportunityID)
		if err != nil {
			return err
		}
		if existing != nil && existing.StatusValue() != StatusRejected {
			return duplicateClaim(existing)
		}

		if err := s.checkEvidence(opp, p.Evidence); err != nil {
			return err
		}

		if existing == nil {
			engagement, err = s.createClaim(ctx, tx, p, now)
		} else {
			engagement, err = s.reopenClaim(ctx, tx, existing, now)
		}
		if err != nil {
			return err
		}

		if err := s.createEvidence(ctx, tx, engagement, p.Evidence, now); err != nil {
			return err
		}

		if opp.IsAutomatic() {
			return s.complete(ctx, tx, engagement, StatusCompleted, "", SystemReviewer, now)
		}
		return nil
	})
	if err != nil {
		var be errutil.BaseError
		if !errors.As(err, &be) {
			log.Error("failed to submit verification", zap.Error(err))
		}
		return nil, err
	}

	log.Info("verification submitted", zap.String("engagement_id", engagement.ID), zap.Int("attempt", engagement.Attempt), zap.String("status", string(engagement.StatusValue())))

	if engagement.StatusValue() == StatusCompleted {
		s.dispatcher.Kick(ctx, engagement.ID)
	}
	return engagement, nil
}

func duplicateClaim(e *Engagement) error {
	return errutil.Conflict("verification already submitted", ErrDuplicateClaim, errutil.WithDetails(
		errutil.Detail{Field: "engagement_id", Message: e.ID},
		errutil.Detail{Field: "status", Message: string(e.StatusValue())},
	))
}

func (s *Service) findClaim(ctx context.Context, tx *gorm.DB, userID, opportunityID string) (*Engagement, error) {
	return s.engagement.WithTrx(tx).FindOne(ctx, &Engagement{
		UserID:        userID,
		OpportunityID: opportunityID,
		Action:        ActionVerification,
	}, option.WithLockingUpdate())
}

func (s *Service) checkEvidence(opp *opportunity.Opportunity, evidence []EvidenceInput) error {
	supplied := make([]string, 0, len(evidence))
	for _, ev := range evidence {
		supplied = append(supplied, string(ev.Type))
	}
	required := []string(opp.RequiredEvidence)

	ok, err := s.rule.Satisfied(required, supplied)
	if err != nil {
		return errutil.Internal("failed to evaluate evidence rule", err)
	}
	if ok {
		return nil
	}

	details := []errutil.Detail{}
	for _, missing := range missingTypes(required, supplied) {
		details = append(details, errutil.Detail{Field: "evidence", Message: "missing " + missing})
	}
	return errutil.UnprocessableEntity("evidence incomplete", ErrEvidenceIncomplete, errutil.WithDetails(details...))
}

func missingTypes(required, supplied []string) []string {
	have := map[string]bool{}
	for _, t := range supplied {
		have[t] = true
	}
	missing := []string{}
	for _, t := range required {
		if !have[t] {
			missing = append(missing, t)
		}
	}
	sort.Strings(missing)
	return missing
}

func (s *Service) createClaim(ctx context.Context, tx *gorm.DB, p SubmitParams, now time.Time) (*Engagement, error) {
	status := StatusPending
	engagement := &Engagement{
		ID:            s.node.Generate().String(),
		UserID:        p.UserID,
		OpportunityID: p.OpportunityID,
		Action:        ActionVerification,
		Status:        &status,
		Attempt:       1,
		StartedAt:     &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// a concurrent submit that won the unique index shows up as zero rows
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(engagement)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		winner, err := s.findClaim(ctx, tx, p.UserID, p.OpportunityID)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, errutil.Conflict("verification already submitted", ErrDuplicateClaim)
		}
		return nil, duplicateClaim(winner)
	}
	return engagement, nil
}

// reopenClaim turns a rejected claim back into a pending one. Earlier
// evidence is kept under its own attempt number.
func (s *Service) reopenClaim(ctx context.Context, tx *gorm.DB, e *Engagement, now time.Time) (*Engagement, error) {
	res := tx.WithContext(ctx).Model(&Engagement{}).
		Where("id = ? AND status = ? AND attempt = ?", e.ID, StatusRejected, e.Attempt).
		Updates(map[string]any{
			"status":           StatusPending,
			"attempt":          e.Attempt + 1,
			"reviewer_comment": "",
			"reviewer_id":      "",
			"started_at":       now,
			"ended_at":         nil,
			"completed_at":     nil,
			"updated_at":       now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, duplicateClaim(e)
	}

	status := StatusPending
	e.Status = &status
	e.Attempt++
	e.ReviewerComment = ""
	e.ReviewerID = ""
	e.StartedAt = &now
	e.EndedAt = nil
	e.CompletedAt = nil
	e.UpdatedAt = now
	return e, nil
}

func (s *Service) createEvidence(ctx context.Context, tx *gorm.DB, e *Engagement, inputs []EvidenceInput, now time.Time) error {
	if len(inputs) == 0 {
		return nil
	}

	rows := make([]*Evidence, 0, len(inputs))
	for _, in := range inputs {
		row := &Evidence{
			ID:           s.node.Generate().String(),
			EngagementID: e.ID,
			Attempt:      e.Attempt,
			Type:         in.Type,
			Reference:    in.Reference,
			CreatedAt:    now,
		}
		if len(in.Geometry) > 0 {
			row.Geometry = datatypes.JSON(in.Geometry)
		}
		rows = append(rows, row)
	}
	return s.evidence.WithTrx(tx).BatchCreate(ctx, rows)
}

type FinalizeParams struct {
	EngagementID string
	Decision     Status
	Comment      string
	ReviewerID   string
	Now          time.Time
}

func (p FinalizeParams) validate() error {
	details := []errutil.Detail{}
	if p.EngagementID == "" {
		details = append(details, errutil.Detail{Field: "engagement_id", Message: "is required"})
	}
	if p.Decision != StatusCompleted && p.Decision != StatusRejected {
		details = append(details, errutil.Detail{Field: "decision", Message: "must be completed or rejected"})
	}
	if strings.TrimSpace(p.ReviewerID) == "" {
		details = append(details, errutil.Detail{Field: "reviewer_id", Message: "is required"})
	}
	if len(details) > 0 {
		return errutil.ValidationFailed("invalid verification decision", nil, errutil.WithDetails(details...))
	}
	return nil
}

// Finalize moves a pending verification to completed or rejected. Completion
// dispatches fulfillment in the same transaction.
func (s *Service) Finalize(ctx context.Context, p FinalizeParams) (*Engagement, error) {
	ctx, span := tracer.Start(ctx, "verification.Finalize")
	defer span.End()
	span.SetAttributes(attribute.String("engagement_id", p.EngagementID), attribute.String("decision", string(p.Decision)))

	if err := p.validate(); err != nil {
		return nil, err
	}

	now := p.Now.UTC()
	var engagement *Engagement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := s.engagement.WithTrx(tx).FindOne(ctx, &Engagement{ID: p.EngagementID, Action: ActionVerification}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if e == nil {
			return errutil.NotFound("engagement not found", ErrNotFound)
		}

		if err := s.complete(ctx, tx, e, p.Decision, p.Comment, p.ReviewerID, now); err != nil {
			return err
		}
		engagement = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("verification finalized",
		zap.String("engagement_id", engagement.ID),
		zap.String("status", string(engagement.StatusValue())),
		zap.String("reviewer_id", p.ReviewerID),
	)

	if engagement.StatusValue() == StatusCompleted {
		s.dispatcher.Kick(ctx, engagement.ID)
	}
	return engagement, nil
}

// complete applies the one-way pending transition inside tx.
func (s *Service) complete(ctx context.Context, tx *gorm.DB, e *Engagement, decision Status, comment, reviewerID string, now time.Time) error {
	if e.StatusValue() != StatusPending {
		return errutil.UnprocessableEntity(
			fmt.Sprintf("cannot finalize a %s verification", e.StatusValue()),
			ErrInvalidTransition,
		)
	}

	updates := map[string]any{
		"status":           decision,
		"reviewer_comment": comment,
		"reviewer_id":      reviewerID,
		"ended_at":         now,
		"updated_at":       now,
	}
	if decision == StatusCompleted {
		updates["completed_at"] = now
	}

	res := tx.WithContext(ctx).Model(&Engagement{}).
		Where("id = ? AND status = ? AND attempt = ?", e.ID, StatusPending, e.Attempt).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.UnprocessableEntity("verification is no longer pending", ErrInvalidTransition)
	}

	e.Status = &decision
	e.ReviewerComment = comment
	e.ReviewerID = reviewerID
	e.EndedAt = &now
	e.UpdatedAt = now
	if decision == StatusCompleted {
		e.CompletedAt = &now
		return s.dispatcher.Dispatch(ctx, tx, e)
	}
	return nil
}

type BatchParams struct {
	EngagementIDs []string
	Decision      Status
	Comment       string
	ReviewerID    string
	Now           time.Time
}

type BatchFailure struct {
	EngagementID string             `json:"engagement_id"`
	Code         errutil.CoreStatus `json:"code"`
	Reason       string             `json:"reason"`
}

type BatchResult struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

// FinalizeBatch finalizes each id in its own transaction and reports
// per-item outcomes. One bad id never fails the batch. Every input id,
// repeats included, appears in exactly one of Succeeded or Failed.
func (s *Service) FinalizeBatch(ctx context.Context, p BatchParams) *BatchResult {
	result := &BatchResult{Succeeded: []string{}, Failed: []BatchFailure{}}

	seen := map[string]bool{}
	for _, id := range p.EngagementIDs {
		if seen[id] {
			result.Failed = append(result.Failed, BatchFailure{
				EngagementID: id,
				Code:         errutil.StatusBadRequest,
				Reason:       "duplicate id in batch",
			})
			continue
		}
		seen[id] = true

		_, err := s.Finalize(ctx, FinalizeParams{
			EngagementID: id,
			Decision:     p.Decision,
			Comment:      p.Comment,
			ReviewerID:   p.ReviewerID,
			Now:          p.Now,
		})
		if err == nil {
			result.Succeeded = append(result.Succeeded, id)
			continue
		}

		failure := BatchFailure{EngagementID: id, Code: errutil.StatusInternal, Reason: err.Error()}
		var be errutil.BaseError
		if errors.As(err, &be) {
			failure.Code = be.Code
			failure.Reason = be.Message
		}
		result.Failed = append(result.Failed, failure)
	}

	return result
}

type StatusView struct {
	EngagementID    string        `json:"engagement_id"`
	Status          Status        `json:"status"`
	Attempt         int           `json:"attempt"`
	ReviewerComment string        `json:"reviewer_comment,omitempty"`
	RewardAmount    *money.Amount `json:"reward_amount,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (s *Service) GetStatus(ctx context.Context, userID, opportunityID string) (*StatusView, error) {
	e, err := s.engagement.FindOne(ctx, &Engagement{UserID: userID, OpportunityID: opportunityID, Action: ActionVerification})
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errutil.NotFound("verification not found", ErrNotFound)
	}

	return &StatusView{
		EngagementID:    e.ID,
		Status:          e.StatusValue(),
		Attempt:         e.Attempt,
		ReviewerComment: e.ReviewerComment,
		RewardAmount:    e.RewardAmount,
		CompletedAt:     e.CompletedAt,
		UpdatedAt:       e.UpdatedAt,
	}, nil
}

// GetEngagement loads an engagement through tx when one is given.
func (s *Service) GetEngagement(ctx context.Context, tx *gorm.DB, id string) (*Engagement, error) {
	e, err := s.engagement.WithTrx(tx).FindOne(ctx, &Engagement{ID: id})
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errutil.NotFound("engagement not found", ErrNotFound)
	}
	return e, nil
}

// ListEvidence returns the evidence of the engagement's current attempt.
func (s *Service) ListEvidence(ctx context.Context, tx *gorm.DB, e *Engagement) ([]*Evidence, error) {
	return s.evidence.WithTrx(tx).Find(ctx, &Evidence{EngagementID: e.ID, Attempt: e.Attempt},
		option.WithSortBy(option.QuerySortBy{SortBy: "type", OrderBy: "asc"}),
	)
}

// RecordReward stores the credited amount on the engagement for display.
func (s *Service) RecordReward(ctx context.Context, tx *gorm.DB, engagementID string, amount money.Amount, now time.Time) error {
	return s.engagement.WithTrx(tx).Update(ctx, engagementID, map[string]any{
		"reward_amount": amount,
		"updated_at":    now,
	})
}

// RecordAction records a non-verification engagement. Repeating an action is
// a no-op that returns the existing row.
func (s *Service) RecordAction(ctx context.Context, userID, opportunityID string, action Action, now time.Time) (*Engagement, error) {
	if action == ActionVerification || action.String() == "" {
		return nil, errutil.BadRequest("unsupported action", nil, errutil.WithDetails(errutil.Detail{Field: "action", Message: string(action)}))
	}
	if userID == "" || opportunityID == "" {
		return nil, errutil.BadRequest("user_id and opportunity_id are required", nil)
	}
	if _, err := s.opportunities.Get(ctx, nil, opportunityID); err != nil {
		return nil, err
	}

	now = now.UTC()
	e := &Engagement{
		ID:            s.node.Generate().String(),
		UserID:        userID,
		OpportunityID: opportunityID,
		Action:        action,
		StartedAt:     &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e).Error; err != nil {
		return nil, err
	}

	return s.engagement.FindOne(ctx, &Engagement{UserID: userID, OpportunityID: opportunityID, Action: action})
}
