package model

import "time"

type BackOfficeInspection struct {
	ID            string     `gorm:"column:id;type:text;primaryKey"`
	AssignmentRef string     `gorm:"column:assignment_ref;type:text;not null;default:''"`
	InspectorID   string     `gorm:"column:inspector_id;type:text;not null;index"`
	SystemPlate   string     `gorm:"column:system_plate;type:text;not null"`
	ObservedPlate string     `gorm:"column:observed_plate;type:text;not null;default:''"`
	Discrepancy   bool       `gorm:"column:discrepancy;not null;default:false"`
	VehicleType   string     `gorm:"column:vehicle_type;type:text;not null;default:''"`
	BodyClass     string     `gorm:"column:body_class;type:text;not null;default:''"`
	ClientName    string     `gorm:"column:client_name;type:text;not null;default:''"`
	TemplateCode  string     `gorm:"column:template_code;type:text;not null"`
	ScheduledAt   *time.Time `gorm:"column:scheduled_at;index"`
	StartedAt     *time.Time `gorm:"column:started_at"`
	FinishedAt    *time.Time `gorm:"column:finished_at"`
	Estado        string     `gorm:"column:estado;type:text;not null;index"`
	ReviewState   string     `gorm:"column:review_state;type:text;not null;default:''"`
	ReviewComment string     `gorm:"column:review_comment;type:text;not null;default:''"`
	ReviewedBy    string     `gorm:"column:reviewed_by;type:text;not null;default:''"`
	ReviewedAt    *time.Time `gorm:"column:reviewed_at"`
	Score         *int       `gorm:"column:score"`
	Result        string     `gorm:"column:result;type:text;not null;default:''"`
	Observations  string     `gorm:"column:observations;type:text;not null;default:''"`
	Signature     []byte     `gorm:"column:signature"`
	ClientRef     *string    `gorm:"column:client_ref;type:text;uniqueIndex"`
	SubmissionRef *string    `gorm:"column:submission_ref;type:text"`
	CompletedAt   *time.Time `gorm:"column:completed_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;not null"`
}

func (BackOfficeInspection) TableName() string {
	return "bo_inspections"
}

type BackOfficeItem struct {
	ID              uint64  `gorm:"column:id;primaryKey;autoIncrement"`
	InspectionID    string  `gorm:"column:inspection_id;type:text;not null;uniqueIndex:idx_bo_items_inspection_item"`
	ItemID          string  `gorm:"column:item_id;type:text;not null;uniqueIndex:idx_bo_items_inspection_item"`
	Verdict         string  `gorm:"column:verdict;type:text;not null"`
	OverrideVerdict *string `gorm:"column:override_verdict;type:text"`
	Overridden      bool    `gorm:"column:overridden;not null;default:false"`
	Description     string  `gorm:"column:description;type:text;not null;default:''"`
	NAReason        string  `gorm:"column:na_reason;type:text;not null;default:''"`
	Tier            string  `gorm:"column:tier;type:text;not null;default:''"`
	PhotoRefs       string  `gorm:"column:photo_refs;type:text;not null;default:''"`
}

func (BackOfficeItem) TableName() string {
	return "bo_items"
}

type BackOfficeItemHistory struct {
	ID            uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	ItemPK        uint64    `gorm:"column:item_pk;not null;index"`
	At            time.Time `gorm:"column:at;not null"`
	Actor         string    `gorm:"column:actor;type:text;not null"`
	Action        string    `gorm:"column:action;type:text;not null"`
	PriorVerdict  *string   `gorm:"column:prior_verdict;type:text"`
	NewVerdict    string    `gorm:"column:new_verdict;type:text;not null"`
	Justification string    `gorm:"column:justification;type:text;not null"`
}

func (BackOfficeItemHistory) TableName() string {
	return "bo_item_history"
}

type BackOfficeReview struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	InspectionID string    `gorm:"column:inspection_id;type:text;not null;index"`
	Action       string    `gorm:"column:action;type:text;not null"`
	Comment      string    `gorm:"column:comment;type:text;not null;default:''"`
	Actor        string    `gorm:"column:actor;type:text;not null"`
	PriorState   string    `gorm:"column:prior_state;type:text;not null;default:''"`
	NewState     string    `gorm:"column:new_state;type:text;not null"`
	At           time.Time `gorm:"column:at;not null"`
}

func (BackOfficeReview) TableName() string {
	return "bo_reviews"
}

type BackOfficePhoto struct {
	ID                  uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Ref                 string    `gorm:"column:ref;type:text;not null;uniqueIndex"`
	ClientRef           string    `gorm:"column:client_ref;type:text;not null;uniqueIndex"`
	InspectionClientRef string    `gorm:"column:inspection_client_ref;type:text;not null;index"`
	InspectionID        string    `gorm:"column:inspection_id;type:text;not null;default:'';index"`
	ItemID              *string   `gorm:"column:item_id;type:text"`
	Slot                string    `gorm:"column:slot;type:text;not null"`
	BlobKey             string    `gorm:"column:blob_key;type:text;not null"`
	ContentType         string    `gorm:"column:content_type;type:text;not null"`
	Size                int64     `gorm:"column:size;not null"`
	CapturedAt          time.Time `gorm:"column:captured_at;not null"`
	Latitude            float64   `gorm:"column:latitude;not null"`
	Longitude           float64   `gorm:"column:longitude;not null"`
	GPSAvailable        bool      `gorm:"column:gps_available;not null"`
	CreatedAt           time.Time `gorm:"column:created_at;not null"`
}

func (BackOfficePhoto) TableName() string {
	return "bo_photos"
}
