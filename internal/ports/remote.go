package ports

import (
	"context"
	"time"
)

// Wire shapes shared by the remote client and the back office HTTP handlers.

type HistoryRecord struct {
	ID            string    `json:"id"`
	At            time.Time `json:"at"`
	Actor         string    `json:"actor"`
	Action        string    `json:"action"`
	PriorVerdict  string    `json:"prior_verdict,omitempty"`
	NewVerdict    string    `json:"new_verdict"`
	Justification string    `json:"justification"`
}

type AuditedItem struct {
	ItemID          string          `json:"item_id"`
	Verdict         string          `json:"verdict"`
	OverrideVerdict string          `json:"override_verdict,omitempty"`
	Overridden      bool            `json:"overridden"`
	Description     string          `json:"description,omitempty"`
	NAReason        string          `json:"na_reason,omitempty"`
	Tier            string          `json:"tier,omitempty"`
	PhotoRefs       []string        `json:"photo_refs,omitempty"`
	History         []HistoryRecord `json:"history,omitempty"`
}

type Assignment struct {
	ID            string        `json:"id"`
	Plate         string        `json:"plate"`
	VehicleType   string        `json:"vehicle_type"`
	BodyClass     string        `json:"body_class,omitempty"`
	ClientName    string        `json:"client_name"`
	TemplateCode  string        `json:"template_code"`
	ScheduledAt   time.Time     `json:"scheduled_at"`
	Estado        string        `json:"estado"`
	ReviewState   string        `json:"review_state,omitempty"`
	ReviewComment string        `json:"review_comment,omitempty"`
	Score         *int          `json:"score,omitempty"`
	Result        string        `json:"result,omitempty"`
	Items         []AuditedItem `json:"items,omitempty"`
}

type AssignmentsResponse struct {
	Date        string       `json:"date"`
	InspectorID string       `json:"inspector_id"`
	Assignments []Assignment `json:"assignments"`
}

type CompletionItem struct {
	ItemID      string   `json:"item_id"`
	Verdict     string   `json:"verdict"`
	Description string   `json:"description,omitempty"`
	NAReason    string   `json:"na_reason,omitempty"`
	Tier        string   `json:"tier,omitempty"`
	PhotoRefs   []string `json:"photo_refs,omitempty"`
}

type CompletionRequest struct {
	ClientRef     string           `json:"client_ref"`
	SubmissionRef string           `json:"submission_ref"`
	InspectorID   string           `json:"inspector_id"`
	TemplateCode  string           `json:"template_code"`
	SystemPlate   string           `json:"system_plate"`
	ObservedPlate string           `json:"observed_plate,omitempty"`
	Discrepancy   bool             `json:"discrepancy"`
	VehicleType   string           `json:"vehicle_type,omitempty"`
	BodyClass     string           `json:"body_class,omitempty"`
	ClientName    string           `json:"client_name,omitempty"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
	Score         int              `json:"score"`
	Result        string           `json:"result"`
	Observations  string           `json:"observations,omitempty"`
	Signature     []byte           `json:"signature"`
	Items         []CompletionItem `json:"items"`
	PhotoRefs     []string         `json:"photo_refs,omitempty"`
}

type CompletionResponse struct {
	InspectionID string    `json:"inspection_id"`
	Estado       string    `json:"estado"`
	Duplicate    bool      `json:"duplicate"`
	AcceptedAt   time.Time `json:"accepted_at"`
}

type PhotoUpload struct {
	ClientRef           string    `json:"client_ref"`
	InspectionClientRef string    `json:"inspection_client_ref"`
	InspectionID        string    `json:"inspection_id,omitempty"`
	ItemID              *string   `json:"item_id,omitempty"`
	Slot                string    `json:"slot"`
	CapturedAt          time.Time `json:"captured_at"`
	Latitude            float64   `json:"latitude"`
	Longitude           float64   `json:"longitude"`
	GPSAvailable        bool      `json:"gps_available"`
	ContentType         string    `json:"content_type"`
	Data                []byte    `json:"data"`
}

type PhotoUploadResponse struct {
	Ref       string `json:"ref"`
	Duplicate bool   `json:"duplicate"`
}

type ReviewEdits struct {
	Score  *int    `json:"score,omitempty"`
	Result *string `json:"result,omitempty"`
}

type ReviewRequest struct {
	Action  string       `json:"action"`
	Comment string       `json:"comment"`
	Edits   *ReviewEdits `json:"edits,omitempty"`
}

type ReviewDetail struct {
	ID            string        `json:"id"`
	InspectorID   string        `json:"inspector_id"`
	SystemPlate   string        `json:"system_plate"`
	ObservedPlate string        `json:"observed_plate,omitempty"`
	Discrepancy   bool          `json:"discrepancy"`
	VehicleType   string        `json:"vehicle_type"`
	ClientName    string        `json:"client_name"`
	TemplateCode  string        `json:"template_code"`
	Estado        string        `json:"estado"`
	ReviewState   string        `json:"review_state"`
	ReviewComment string        `json:"review_comment,omitempty"`
	Score         *int          `json:"score,omitempty"`
	Result        string        `json:"result,omitempty"`
	Observations  string        `json:"observations,omitempty"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	PhotoRefs     []string      `json:"photo_refs,omitempty"`
	Items         []AuditedItem `json:"items"`
}

type OverrideRequest struct {
	Verdict       string `json:"verdict"`
	Justification string `json:"justification"`
}

// Event is pushed to inspectors when the back office changes one of their inspections.
type Event struct {
	Type         string    `json:"type"`
	InspectionID string    `json:"inspection_id"`
	InspectorID  string    `json:"inspector_id"`
	At           time.Time `json:"at"`
}

const (
	EventInspectionReviewed = "inspection.reviewed"
	EventItemOverridden     = "item.overridden"
	EventAssignmentCreated  = "assignment.created"
)

// RemoteAPI is the back office as seen by the sync engine.
type RemoteAPI interface {
	FetchAssignments(ctx context.Context) (AssignmentsResponse, error)
	UploadPhoto(ctx context.Context, upload PhotoUpload) (PhotoUploadResponse, error)
	// CompleteInspection posts to the ad-hoc endpoint when remoteID is empty.
	CompleteInspection(ctx context.Context, remoteID string, req CompletionRequest) (CompletionResponse, error)
	Ping(ctx context.Context) error
}

// CredentialSource attaches the current staff session to outbound calls.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// EventPublisher fans back office changes out to connected inspectors.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}
