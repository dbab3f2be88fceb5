package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

type ScanType string

const (
	ScanTypePort          ScanType = "port"
	ScanTypeVulnerability ScanType = "vulnerability"
	ScanTypeSSL           ScanType = "ssl"
)

// Scan is the persisted form of a scan record. Scans are never soft deleted:
// a failed scan stays queryable with its reason.
type Scan struct {
	ID       uuid.UUID  `gorm:"type:uuid;primaryKey"`
	OwnerID  uuid.UUID  `gorm:"type:uuid;not null;index:idx_scans_owner_created,priority:1"`
	Target   string     `gorm:"not null"`
	ScanType ScanType   `gorm:"not null;index"`
	Status   ScanStatus `gorm:"not null;index;default:'pending'"`

	// Options (JSON), e.g. {"ports":"1-1000"}
	Options string `gorm:"type:jsonb;default:'{}'"`

	// Results hold the backend payload, age-sealed when ResultsSealed is set.
	Results       []byte `gorm:"type:bytea"`
	ResultsSealed bool   `gorm:"default:false"`

	ErrorKind    string `gorm:"size:32"`
	ErrorMessage string `gorm:"type:text"`

	CreatedAt   time.Time  `gorm:"not null;index:idx_scans_owner_created,priority:2,sort:desc"`
	StartedAt   *time.Time `gorm:"index"`
	CompletedAt *time.Time
	UpdatedAt   time.Time

	Owner *User `gorm:"foreignKey:OwnerID" json:"-"`
}

func (Scan) TableName() string {
	return "scans"
}

func (s *Scan) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
