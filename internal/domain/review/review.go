package review

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/errs"
)

// MinJustificationLength is counted in runes after trimming.
const MinJustificationLength = 20

type Action string

const (
	ActionAccept     Action = "ACEPTAR"
	ActionReject     Action = "RECHAZAR"
	ActionCorrection Action = "CORRECCION"
)

func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToUpper(strings.TrimSpace(raw)))
	switch action {
	case ActionAccept, ActionReject, ActionCorrection:
		return action, nil
	}
	return "", fmt.Errorf("%w: %q", errs.ErrInvalidAction, raw)
}

// State is the admin review state of a submitted inspection.
type State string

const (
	StatePending            State = "PENDIENTE"
	StateAccepted           State = "ACEPTADA"
	StateRejected           State = "RECHAZADA"
	StateCorrectionRequired State = "CORRECCION_SOLICITADA"
)

// Estado is the operational state of an inspection on the back office.
type Estado string

const (
	EstadoScheduled    Estado = "PROGRAMADA"
	EstadoDone         Estado = "REALIZADA"
	EstadoInCorrection Estado = "EN_CORRECCION"
	EstadoCancelled    Estado = "CANCELADA"
)

type Edits struct {
	Score  *int
	Result *inspection.Result
}

// Decision is the state change a review action produces.
type Decision struct {
	Action      Action
	ReviewState State
	Estado      Estado
	Comment     string
	Score       *int
	Result      *inspection.Result
}

// Decide validates a review action against the current estado and returns
// the resulting states. It does not touch storage.
func Decide(current Estado, action Action, comment string, edits *Edits) (Decision, error) {
	if current != EstadoDone && current != EstadoInCorrection {
		return Decision{}, fmt.Errorf("%w: inspection is %s, not submitted", errs.ErrInvalidState, current)
	}
	comment = strings.TrimSpace(comment)

	decision := Decision{Action: action, Estado: current, Comment: comment}
	switch action {
	case ActionAccept:
		decision.ReviewState = StateAccepted
		if edits != nil {
			if edits.Score != nil {
				if *edits.Score < 0 || *edits.Score > 100 {
					return Decision{}, errs.Validation("edits.score", "must be between 0 and 100")
				}
				score := *edits.Score
				decision.Score = &score
			}
			if edits.Result != nil {
				result, err := inspection.ParseResult(string(*edits.Result))
				if err != nil {
					return Decision{}, err
				}
				decision.Result = &result
			}
		}
	case ActionReject:
		if comment == "" {
			return Decision{}, errs.Validation("comment", "is required to reject")
		}
		decision.ReviewState = StateRejected
	case ActionCorrection:
		if comment == "" {
			return Decision{}, errs.Validation("comment", "is required to request a correction")
		}
		decision.ReviewState = StateCorrectionRequired
		decision.Estado = EstadoInCorrection
	default:
		return Decision{}, fmt.Errorf("%w: %q", errs.ErrInvalidAction, action)
	}
	return decision, nil
}

// ValidateJustification enforces the minimum override justification length.
func ValidateJustification(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < MinJustificationLength {
		return "", errs.Validation("justification", fmt.Sprintf("must be at least %d characters", MinJustificationLength))
	}
	return trimmed, nil
}

type Submitted struct {
	ID            string
	AssignmentRef string
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
	Estado        Estado
	ReviewState   State
	ReviewComment string
	ReviewedBy    string
	ReviewedAt    *time.Time
	Score         *int
	Result        inspection.Result
	Observations  string
	Signature     []byte
	ClientRef     string
	SubmissionRef string
	CompletedAt   *time.Time
	UpdatedAt     time.Time
}

type Item struct {
	ID              uint64
	InspectionID    string
	ItemID          string
	Verdict         inspection.Verdict
	OverrideVerdict *inspection.Verdict
	Overridden      bool
	Description     string
	NAReason        string
	Tier            inspection.Tier
	PhotoRefs       []string
}

// Effective returns the verdict the back office scores and displays.
func (i Item) Effective() inspection.Verdict {
	return i.AsVerdict().Effective()
}

func (i Item) AsVerdict() inspection.ItemVerdict {
	return inspection.ItemVerdict{
		ID:              i.ID,
		ItemID:          i.ItemID,
		Verdict:         i.Verdict,
		OverrideVerdict: i.OverrideVerdict,
		Overridden:      i.Overridden,
		Observation:     i.Description,
		NAReason:        i.NAReason,
		Tier:            i.Tier,
	}
}

type Record struct {
	ID           uint64
	InspectionID string
	Action       Action
	Comment      string
	Actor        string
	PriorState   State
	NewState     State
	At           time.Time
}

type Photo struct {
	ID                  uint64
	Ref                 string
	ClientRef           string
	InspectionClientRef string
	InspectionID        string
	ItemID              *string
	Slot                string
	BlobKey             string
	ContentType         string
	Size                int64
	CapturedAt          time.Time
	Latitude            float64
	Longitude           float64
	GPSAvailable        bool
	CreatedAt           time.Time
}
