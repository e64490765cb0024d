package backoffice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/review"
	"fleetinspect/internal/domain/scoring"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
)

type ReviewInput struct {
	InspectionID string
	Action       string
	Comment      string
	Edits        *review.Edits
	Actor        string
}

type OverrideInput struct {
	InspectionID  string
	ItemID        string
	Verdict       string
	Justification string
	Actor         string
}

type OverrideResult struct {
	Item       review.Item
	Entry      inspection.HistoryEntry
	Inspection review.Submitted
}

// ReviewInspection applies an admin decision to a completed inspection and
// records it in the review log.
func (s *Service) ReviewInspection(ctx context.Context, input ReviewInput) (review.Submitted, error) {
	if err := s.check(ctx); err != nil {
		return review.Submitted{}, err
	}
	action, err := review.ParseAction(input.Action)
	if err != nil {
		return review.Submitted{}, err
	}

	var reviewed review.Submitted
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.store.GetSubmitted(txCtx, input.InspectionID)
		if err != nil {
			return err
		}
		decision, err := review.Decide(current.Estado, action, input.Comment, input.Edits)
		if err != nil {
			return err
		}

		now := s.now()
		prior := current.ReviewState
		current.ReviewState = decision.ReviewState
		current.Estado = decision.Estado
		current.ReviewComment = decision.Comment
		current.ReviewedBy = strings.TrimSpace(input.Actor)
		current.ReviewedAt = &now
		if decision.Score != nil {
			current.Score = decision.Score
		}
		if decision.Result != nil {
			current.Result = *decision.Result
		}
		if err := s.store.UpdateSubmitted(txCtx, current); err != nil {
			return err
		}
		if _, err := s.store.AppendReview(txCtx, review.Record{
			InspectionID: current.ID,
			Action:       decision.Action,
			Comment:      decision.Comment,
			Actor:        current.ReviewedBy,
			PriorState:   prior,
			NewState:     decision.ReviewState,
			At:           now,
		}); err != nil {
			return err
		}
		reviewed = current
		return nil
	}); err != nil {
		return review.Submitted{}, err
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.backoffice"), slog.String("inspection_id", reviewed.ID))
	logging.Info(logCtx, "inspection reviewed",
		slog.String("action", string(action)),
		slog.String("review_state", string(reviewed.ReviewState)),
		slog.String("estado", string(reviewed.Estado)),
	)
	s.publish(ctx, ports.EventInspectionReviewed, reviewed.ID, reviewed.InspectorID)
	return reviewed, nil
}

// OverrideItem replaces the effective verdict of one submitted item. The
// history entry, the override and the recomputed score commit together.
func (s *Service) OverrideItem(ctx context.Context, input OverrideInput) (OverrideResult, error) {
	if err := s.check(ctx); err != nil {
		return OverrideResult{}, err
	}
	justification, err := review.ValidateJustification(input.Justification)
	if err != nil {
		return OverrideResult{}, err
	}
	verdict, err := inspection.ParseVerdict(input.Verdict)
	if err != nil {
		return OverrideResult{}, err
	}
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return OverrideResult{}, errs.Validation("actor", "is required")
	}

	var result OverrideResult
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.store.GetSubmitted(txCtx, input.InspectionID)
		if err != nil {
			return err
		}
		if current.Estado != review.EstadoDone && current.Estado != review.EstadoInCorrection {
			return fmt.Errorf("%w: inspection %s is %s, not submitted", errs.ErrInvalidState, current.ID, current.Estado)
		}
		item, err := s.store.GetItem(txCtx, current.ID, input.ItemID)
		if err != nil {
			return err
		}

		prior := item.Effective()
		entry, err := s.store.AppendItemHistory(txCtx, inspection.HistoryEntry{
			ItemVerdictID: item.ID,
			At:            s.now(),
			Actor:         actor,
			Action:        inspection.HistoryActionOverride,
			PriorVerdict:  &prior,
			NewVerdict:    verdict,
			Justification: justification,
		})
		if err != nil {
			return err
		}
		if err := s.store.SetItemOverride(txCtx, item.ID, verdict); err != nil {
			return err
		}
		item.OverrideVerdict = &verdict
		item.Overridden = true

		if err := s.rescore(txCtx, &current); err != nil {
			return err
		}

		result = OverrideResult{Item: item, Entry: entry, Inspection: current}
		return nil
	}); err != nil {
		return OverrideResult{}, err
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.backoffice"), slog.String("inspection_id", result.Inspection.ID))
	logging.Info(logCtx, "item overridden",
		slog.String("item_id", result.Item.ItemID),
		slog.String("verdict", string(verdict)),
		slog.Int("score", *result.Inspection.Score),
		slog.String("result", string(result.Inspection.Result)),
	)
	s.publish(ctx, ports.EventItemOverridden, result.Inspection.ID, result.Inspection.InspectorID)
	return result, nil
}

// rescore recomputes score and result from the stored items, overrides
// included, and saves them on current.
func (s *Service) rescore(ctx context.Context, current *review.Submitted) error {
	items, err := s.store.ListItems(ctx, current.ID)
	if err != nil {
		return err
	}
	template, err := s.catalog.Get(current.TemplateCode)
	if err != nil {
		return err
	}
	verdicts := make([]inspection.ItemVerdict, 0, len(items))
	for _, stored := range items {
		verdicts = append(verdicts, stored.AsVerdict())
	}
	outcome := scoring.ComputeScore(verdicts, template)
	score := outcome.Score
	current.Score = &score
	current.Result = outcome.Result
	return s.store.UpdateSubmitted(ctx, *current)
}

// ReviewDetail is the audit view of one inspection.
func (s *Service) ReviewDetail(ctx context.Context, id string) (ports.ReviewDetail, error) {
	if err := s.check(ctx); err != nil {
		return ports.ReviewDetail{}, err
	}
	current, err := s.store.GetSubmitted(ctx, id)
	if err != nil {
		return ports.ReviewDetail{}, err
	}
	items, err := s.auditedItems(ctx, current.ID)
	if err != nil {
		return ports.ReviewDetail{}, err
	}
	photos, err := s.store.ListPhotos(ctx, current.ID)
	if err != nil {
		return ports.ReviewDetail{}, err
	}

	detail := ports.ReviewDetail{
		ID:            current.ID,
		InspectorID:   current.InspectorID,
		SystemPlate:   current.SystemPlate,
		ObservedPlate: current.ObservedPlate,
		Discrepancy:   current.Discrepancy,
		VehicleType:   current.VehicleType,
		ClientName:    current.ClientName,
		TemplateCode:  current.TemplateCode,
		Estado:        string(current.Estado),
		ReviewState:   string(current.ReviewState),
		ReviewComment: current.ReviewComment,
		Score:         current.Score,
		Result:        string(current.Result),
		Observations:  current.Observations,
		FinishedAt:    current.FinishedAt,
		Items:         items,
	}
	for _, photo := range photos {
		if photo.ItemID == nil {
			detail.PhotoRefs = append(detail.PhotoRefs, photo.Ref)
		}
	}
	return detail, nil
}

// ItemHistory returns every recorded change of one item, oldest first.
func (s *Service) ItemHistory(ctx context.Context, inspectionID string, itemID string) ([]inspection.HistoryEntry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	item, err := s.store.GetItem(ctx, inspectionID, itemID)
	if err != nil {
		return nil, err
	}
	return s.store.ListItemHistory(ctx, item.ID)
}

func (s *Service) Reviews(ctx context.Context, inspectionID string) ([]review.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if _, err := s.store.GetSubmitted(ctx, inspectionID); err != nil {
		return nil, err
	}
	return s.store.ListReviews(ctx, inspectionID)
}

func (s *Service) ListSubmitted(ctx context.Context, filter ports.SubmittedFilter) ([]review.Submitted, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.store.ListSubmitted(ctx, filter)
}

// template resolves a checklist code, reporting an unknown one as bad input.
func (s *Service) template(code string) (scoring.Template, error) {
	template, err := s.catalog.Get(code)
	if errors.Is(err, errs.ErrNotFound) {
		return scoring.Template{}, errs.Validation("template_code", fmt.Sprintf("unknown template %q", code))
	}
	return template, err
}
