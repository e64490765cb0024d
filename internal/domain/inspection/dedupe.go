package inspection

import "sort"

// ResolveVerdict picks the authoritative record of two rows for the same
// (inspection, item). A row carrying an override wins; otherwise the most
// recently created row wins, with the higher id breaking ties.
func ResolveVerdict(a ItemVerdict, b ItemVerdict) ItemVerdict {
	aOverride := a.OverrideVerdict != nil
	bOverride := b.OverrideVerdict != nil
	if aOverride != bOverride {
		if aOverride {
			return a
		}
		return b
	}
	if a.CreatedAt.Equal(b.CreatedAt) {
		if a.ID >= b.ID {
			return a
		}
		return b
	}
	if a.CreatedAt.After(b.CreatedAt) {
		return a
	}
	return b
}

type verdictKey struct {
	inspectionID uint64
	itemID       string
}

// DedupeVerdicts folds ResolveVerdict over rows grouped by (inspection, item).
// It returns the surviving rows ordered by id and the ids of the losers.
func DedupeVerdicts(rows []ItemVerdict) ([]ItemVerdict, []uint64) {
	winners := make(map[verdictKey]ItemVerdict, len(rows))
	order := make([]verdictKey, 0, len(rows))
	for _, row := range rows {
		key := verdictKey{inspectionID: row.InspectionID, itemID: row.ItemID}
		current, ok := winners[key]
		if !ok {
			winners[key] = row
			order = append(order, key)
			continue
		}
		winners[key] = ResolveVerdict(current, row)
	}

	keep := make([]ItemVerdict, 0, len(winners))
	kept := make(map[uint64]struct{}, len(winners))
	for _, key := range order {
		winner := winners[key]
		keep = append(keep, winner)
		kept[winner.ID] = struct{}{}
	}
	sort.Slice(keep, func(i, j int) bool { return keep[i].ID < keep[j].ID })

	drop := make([]uint64, 0, len(rows)-len(keep))
	for _, row := range rows {
		if _, ok := kept[row.ID]; !ok {
			drop = append(drop, row.ID)
		}
	}
	sort.Slice(drop, func(i, j int) bool { return drop[i] < drop[j] })
	return keep, drop
}
