package inspection

import (
	"fmt"
	"strings"
	"time"

	"fleetinspect/internal/errs"
)

type Verdict string

const (
	VerdictPass          Verdict = "pass"
	VerdictFail          Verdict = "fail"
	VerdictNotApplicable Verdict = "not_applicable"
)

// ParseVerdict accepts the canonical tokens plus the checklist's Spanish labels.
func ParseVerdict(raw string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pass", "ok", "cumple":
		return VerdictPass, nil
	case "fail", "no_cumple", "no cumple":
		return VerdictFail, nil
	case "not_applicable", "na", "n/a", "no_aplica", "no aplica":
		return VerdictNotApplicable, nil
	}
	return "", errs.Validation("verdict", fmt.Sprintf("unknown value %q", raw))
}

type Tier string

const (
	TierCritical    Tier = "critical"
	TierSafety      Tier = "safety"
	TierOperational Tier = "operational"
	TierMinor       Tier = "minor"
)

var tierOrder = []Tier{TierCritical, TierSafety, TierOperational, TierMinor}

// Tiers lists severity tiers from most to least severe.
func Tiers() []Tier {
	out := make([]Tier, len(tierOrder))
	copy(out, tierOrder)
	return out
}

func ParseTier(raw string) (Tier, error) {
	tier := Tier(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range tierOrder {
		if tier == known {
			return tier, nil
		}
	}
	return "", errs.Validation("tier", fmt.Sprintf("unknown value %q", raw))
}

type Result string

const (
	ResultApproved Result = "APROBADO"
	ResultObserved Result = "OBSERVADO"
	ResultRejected Result = "RECHAZADO"
)

func ParseResult(raw string) (Result, error) {
	result := Result(strings.ToUpper(strings.TrimSpace(raw)))
	switch result {
	case ResultApproved, ResultObserved, ResultRejected:
		return result, nil
	}
	return "", errs.Validation("result", fmt.Sprintf("unknown value %q", raw))
}

type Inspection struct {
	ID            uint64
	RemoteID      *string
	ClientRef     string
	AssignmentID  *string
	InspectorID   string
	SystemPlate   string
	ObservedPlate string
	Discrepancy   bool
	VehicleType   string
	BodyClass     string
	ClientName    string
	TemplateCode  string
	ScheduledAt   *time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	SyncState     SyncState
	Revision      int
	Result        Result
	Score         *int
	Signature     []byte
	Observations  string
	ReviewState   string
	ReviewComment string
	SyncedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ItemVerdict struct {
	ID              uint64
	InspectionID    uint64
	ItemID          string
	Verdict         Verdict
	OverrideVerdict *Verdict
	Overridden      bool
	Observation     string
	NAReason        string
	Tier            Tier
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Effective is the verdict used for scoring and display: the override wins.
func (v ItemVerdict) Effective() Verdict {
	if v.OverrideVerdict != nil && *v.OverrideVerdict != "" {
		return *v.OverrideVerdict
	}
	return v.Verdict
}

type Photo struct {
	ID           uint64
	ClientRef    string
	InspectionID uint64
	ItemID       *string
	Slot         string
	BlobKey      string
	ContentType  string
	Thumbnail    []byte
	CapturedAt   time.Time
	Latitude     float64
	Longitude    float64
	GPSAvailable bool
	Superseded   bool
	RemoteRef    *string
	CreatedAt    time.Time
}

const (
	HistoryActionRecord   = "record"
	HistoryActionOverride = "override"
)

type HistoryEntry struct {
	ID            uint64
	ItemVerdictID uint64
	At            time.Time
	Actor         string
	Action        string
	PriorVerdict  *Verdict
	NewVerdict    Verdict
	Justification string
	RemoteID      *string
}

// SubmissionRef identifies one finalized revision of an inspection to the
// back office, so a correction resubmission is not mistaken for a retry.
func (i Inspection) SubmissionRef() string {
	return fmt.Sprintf("%s#%d", i.ClientRef, i.Revision)
}

// ItemSlot is the retake slot for an item-level photo.
func ItemSlot(itemID string) string {
	return "item:" + strings.TrimSpace(itemID)
}

// PhotoBlobKey is the blob store key of a photo payload.
func PhotoBlobKey(clientRef string) string {
	return "photos/" + strings.TrimSpace(clientRef) + ".jpg"
}
