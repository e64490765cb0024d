package model

import "time"

type SchemaVersion struct {
	Version   int       `gorm:"column:version;primaryKey;autoIncrement:false"`
	Name      string    `gorm:"column:name;type:text;not null"`
	AppliedAt time.Time `gorm:"column:applied_at;not null"`
}

func (SchemaVersion) TableName() string {
	return "schema_versions"
}
