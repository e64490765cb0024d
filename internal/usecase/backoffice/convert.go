package backoffice

import (
	"context"
	"strconv"

	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/review"
	"fleetinspect/internal/ports"
)

func (s *Service) auditedItems(ctx context.Context, inspectionID string) ([]ports.AuditedItem, error) {
	items, err := s.store.ListItems(ctx, inspectionID)
	if err != nil {
		return nil, err
	}
	out := make([]ports.AuditedItem, 0, len(items))
	for _, item := range items {
		history, err := s.store.ListItemHistory(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, AuditedItem(item, history))
	}
	return out, nil
}

// AuditedItem is the wire view of a submitted item with its change history.
func AuditedItem(item review.Item, history []inspection.HistoryEntry) ports.AuditedItem {
	out := ports.AuditedItem{
		ItemID:      item.ItemID,
		Verdict:     string(item.Verdict),
		Overridden:  item.Overridden,
		Description: item.Description,
		NAReason:    item.NAReason,
		Tier:        string(item.Tier),
		PhotoRefs:   item.PhotoRefs,
	}
	if item.OverrideVerdict != nil {
		out.OverrideVerdict = string(*item.OverrideVerdict)
	}
	for _, entry := range history {
		out.History = append(out.History, HistoryRecord(entry))
	}
	return out
}

// HistoryRecord is the wire view of one history entry. Its ID is the
// back office primary key, which devices use to dedupe pulled history.
func HistoryRecord(entry inspection.HistoryEntry) ports.HistoryRecord {
	record := ports.HistoryRecord{
		ID:            strconv.FormatUint(entry.ID, 10),
		At:            entry.At,
		Actor:         entry.Actor,
		Action:        entry.Action,
		NewVerdict:    string(entry.NewVerdict),
		Justification: entry.Justification,
	}
	if entry.PriorVerdict != nil {
		record.PriorVerdict = string(*entry.PriorVerdict)
	}
	return record
}

func assignmentOf(submitted review.Submitted, items []ports.AuditedItem) ports.Assignment {
	out := ports.Assignment{
		ID:            submitted.ID,
		Plate:         submitted.SystemPlate,
		VehicleType:   submitted.VehicleType,
		BodyClass:     submitted.BodyClass,
		ClientName:    submitted.ClientName,
		TemplateCode:  submitted.TemplateCode,
		Estado:        string(submitted.Estado),
		ReviewState:   string(submitted.ReviewState),
		ReviewComment: submitted.ReviewComment,
		Score:         submitted.Score,
		Result:        string(submitted.Result),
		Items:         items,
	}
	if submitted.ScheduledAt != nil {
		out.ScheduledAt = *submitted.ScheduledAt
	}
	return out
}
