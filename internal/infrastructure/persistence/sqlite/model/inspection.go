package model

import "time"

type Inspection struct {
	ID            uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	RemoteID      *string    `gorm:"column:remote_id;type:text;uniqueIndex"`
	ClientRef     string     `gorm:"column:client_ref;type:text;not null;uniqueIndex"`
	AssignmentID  *string    `gorm:"column:assignment_id;type:text;index"`
	InspectorID   string     `gorm:"column:inspector_id;type:text;not null;index"`
	SystemPlate   string     `gorm:"column:system_plate;type:text;not null"`
	ObservedPlate string     `gorm:"column:observed_plate;type:text;not null;default:''"`
	Discrepancy   bool       `gorm:"column:discrepancy;not null;default:false"`
	VehicleType   string     `gorm:"column:vehicle_type;type:text;not null;default:''"`
	BodyClass     string     `gorm:"column:body_class;type:text;not null;default:''"`
	ClientName    string     `gorm:"column:client_name;type:text;not null;default:''"`
	TemplateCode  string     `gorm:"column:template_code;type:text;not null"`
	ScheduledAt   *time.Time `gorm:"column:scheduled_at"`
	StartedAt     *time.Time `gorm:"column:started_at"`
	FinishedAt    *time.Time `gorm:"column:finished_at"`
	SyncState     string     `gorm:"column:sync_state;type:text;not null;index"`
	Revision      int        `gorm:"column:revision;not null;default:0"`
	Result        string     `gorm:"column:result;type:text;not null;default:''"`
	Score         *int       `gorm:"column:score"`
	Signature     []byte     `gorm:"column:signature"`
	Observations  string     `gorm:"column:observations;type:text;not null;default:''"`
	ReviewState   string     `gorm:"column:review_state;type:text;not null;default:''"`
	ReviewComment string     `gorm:"column:review_comment;type:text;not null;default:''"`
	SyncedAt      *time.Time `gorm:"column:synced_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;not null"`
}

func (Inspection) TableName() string {
	return "inspections"
}

// ItemVerdict's unique (inspection_id, item_id) index is created by the
// schema_v2 migration after duplicates are folded.
type ItemVerdict struct {
	ID              uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	InspectionID    uint64    `gorm:"column:inspection_id;not null;index"`
	ItemID          string    `gorm:"column:item_id;type:text;not null"`
	Verdict         string    `gorm:"column:verdict;type:text;not null"`
	OverrideVerdict *string   `gorm:"column:override_verdict;type:text"`
	Overridden      bool      `gorm:"column:overridden;not null;default:false"`
	Observation     string    `gorm:"column:observation;type:text;not null;default:''"`
	NAReason        string    `gorm:"column:na_reason;type:text;not null;default:''"`
	Tier            string    `gorm:"column:tier;type:text;not null;default:''"`
	CreatedAt       time.Time `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null"`
}

func (ItemVerdict) TableName() string {
	return "item_verdicts"
}

type Photo struct {
	ID           uint64  `gorm:"column:id;primaryKey;autoIncrement"`
	ClientRef    string  `gorm:"column:client_ref;type:text;not null;uniqueIndex"`
	InspectionID uint64  `gorm:"column:inspection_id;not null;index"`
	ItemID       *string `gorm:"column:item_id;type:text"`
	Slot         string  `gorm:"column:slot;type:text;not null"`
	// Data is the legacy inline payload; schema_v3 moves it to the blob store.
	Data         []byte    `gorm:"column:data"`
	BlobKey      string    `gorm:"column:blob_key;type:text;not null;default:''"`
	ContentType  string    `gorm:"column:content_type;type:text;not null;default:'image/jpeg'"`
	Thumbnail    []byte    `gorm:"column:thumbnail"`
	CapturedAt   time.Time `gorm:"column:captured_at;not null"`
	Latitude     float64   `gorm:"column:latitude;not null;default:0"`
	Longitude    float64   `gorm:"column:longitude;not null;default:0"`
	GPSAvailable bool      `gorm:"column:gps_available;not null;default:false"`
	Superseded   bool      `gorm:"column:superseded;not null;default:false;index"`
	RemoteRef    *string   `gorm:"column:remote_ref;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

func (Photo) TableName() string {
	return "photos"
}

type HistoryEntry struct {
	ID            uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	ItemVerdictID uint64    `gorm:"column:item_verdict_id;not null;index"`
	At            time.Time `gorm:"column:at;not null"`
	Actor         string    `gorm:"column:actor;type:text;not null"`
	Action        string    `gorm:"column:action;type:text;not null"`
	PriorVerdict  *string   `gorm:"column:prior_verdict;type:text"`
	NewVerdict    string    `gorm:"column:new_verdict;type:text;not null"`
	Justification string    `gorm:"column:justification;type:text;not null;default:''"`
	RemoteID      *string   `gorm:"column:remote_id;type:text;uniqueIndex"`
}

func (HistoryEntry) TableName() string {
	return "history_entries"
}
