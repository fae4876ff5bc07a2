package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobKind identifies a background job. Each kind owns one progress row.
type JobKind string

const (
	JobLegacyStatusMigration    JobKind = "legacy_status_migration"
	JobMultiStepMigration       JobKind = "multi_step_migration"
	JobAnalysisAggregateRebuild JobKind = "analysis_aggregate_rebuild"
	JobLearnerAggregateRebuild  JobKind = "learner_aggregate_rebuild"
)

// AllJobKinds lists every kind seeded on initialization.
var AllJobKinds = []JobKind{
	JobLegacyStatusMigration,
	JobMultiStepMigration,
	JobAnalysisAggregateRebuild,
	JobLearnerAggregateRebuild,
}

// ParseJobKind validates a kind received from outside.
func ParseJobKind(s string) (JobKind, bool) {
	for _, k := range AllJobKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// JobStatus is the lifecycle state of a progress document.
type JobStatus string

const (
	JobStatusNotStarted JobStatus = "not_started"
	JobStatusRunning    JobStatus = "running"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// IsTerminal reports whether no further updates are expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// StepStatus is the state of one orchestrator step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// StepProgress is one entry of a multi-step progress document.
type StepProgress struct {
	Name      string     `json:"name"`
	Status    StepStatus `json:"status"`
	Processed int64      `json:"processed"`
	Total     int64      `json:"total"`
}

// StepList is stored as a JSON array.
type StepList []StepProgress

// Value implements driver.Valuer.
func (s StepList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal([]StepProgress(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *StepList) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported step list type %T", value)
	}
	if len(raw) == 0 || string(raw) == "null" {
		*s = nil
		return nil
	}
	var steps []StepProgress
	if err := json.Unmarshal(raw, &steps); err != nil {
		return fmt.Errorf("failed to decode step list: %w", err)
	}
	*s = steps
	return nil
}

// JobProgress is the progress document of one job kind. The lease columns
// give mutual exclusion: only the holder of LeaseOwner writes progress.
type JobProgress struct {
	Kind          JobKind   `gorm:"primaryKey;type:varchar(64)" json:"kind"`
	Status        JobStatus `gorm:"type:varchar(20);not null;default:'not_started'" json:"status"`
	Processed     int64     `gorm:"default:0" json:"processed"`
	Total         int64     `gorm:"default:0" json:"total"`
	CurrentBatch  int64     `gorm:"default:0" json:"current_batch"`
	CurrentStep   string    `gorm:"type:varchar(64)" json:"current_step,omitempty"`
	MigratedCount int64     `gorm:"default:0" json:"migrated_count"`
	SkippedCount  int64     `gorm:"default:0" json:"skipped_count"`
	Error         *string   `gorm:"type:text" json:"error"`
	Steps         StepList  `gorm:"type:text" json:"steps,omitempty"`

	LeaseOwner  string     `gorm:"type:varchar(64)" json:"-"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (JobProgress) TableName() string {
	return "job_progress"
}

// Percent returns processed/total as a percentage (0-100).
func (p *JobProgress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Processed) / float64(p.Total) * 100
}
