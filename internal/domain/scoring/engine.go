package scoring

import "fleetinspect/internal/domain/inspection"

type Outcome struct {
	Score        int
	Result       inspection.Result
	CriticalFail bool
	Answered     int
	Failed       int
	Deductions   map[inspection.Tier]int
}

// ComputeScore deducts the tier weight of every failed item from 100 and
// classifies the result. It has no side effects and does not modify verdicts.
func ComputeScore(verdicts []inspection.ItemVerdict, template Template) Outcome {
	out := Outcome{
		Score:      100,
		Deductions: make(map[inspection.Tier]int, 4),
	}

	for _, verdict := range verdicts {
		effective := verdict.Effective()
		if effective == "" {
			continue
		}
		out.Answered++
		if effective != inspection.VerdictFail {
			continue
		}
		out.Failed++

		tier := resolveTier(verdict, template)
		if tier == inspection.TierCritical {
			out.CriticalFail = true
		}
		weight := template.Weight(tier)
		out.Deductions[tier] += weight
		out.Score -= weight
	}

	if out.Score < 0 {
		out.Score = 0
	}
	if out.Score > 100 {
		out.Score = 100
	}
	out.Result = Classify(out.Score, out.CriticalFail, template)
	return out
}

// Classify maps a score to a result; any critical failure rejects.
func Classify(score int, criticalFail bool, template Template) inspection.Result {
	if criticalFail {
		return inspection.ResultRejected
	}
	th := template.thresholds()
	switch {
	case score >= th.Approve:
		return inspection.ResultApproved
	case score >= th.Observe:
		return inspection.ResultObserved
	default:
		return inspection.ResultRejected
	}
}

func resolveTier(verdict inspection.ItemVerdict, template Template) inspection.Tier {
	if item, ok := template.Item(verdict.ItemID); ok && item.Tier != "" {
		return item.Tier
	}
	if verdict.Tier != "" {
		return verdict.Tier
	}
	return inspection.TierMinor
}
