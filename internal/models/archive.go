package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// ArchivedRecord is the append-only postgres copy of a terminal record.
type ArchivedRecord struct {
	ID      string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	JobID   string         `gorm:"column:job_id;type:uuid;index" json:"job_id"`
	Status  string         `gorm:"column:status;type:text;index" json:"status"`
	Reason  string         `gorm:"column:reason;type:text" json:"reason,omitempty"`
	Urgency string         `gorm:"column:urgency;type:text" json:"urgency,omitempty"`
	Signals pq.StringArray `gorm:"column:signals;type:text[]" json:"signals"`

	// JSONB (full record and debug block as produced by the gate)
	Record datatypes.JSON `gorm:"column:record;type:jsonb" json:"record"`
	Debug  datatypes.JSON `gorm:"column:debug;type:jsonb" json:"debug"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
}

func (ArchivedRecord) TableName() string { return "clinical_records" }
