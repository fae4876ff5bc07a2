package entities

import "time"

// Learner is an entry of the store-backed user directory.
type Learner struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	DisplayName string `gorm:"type:varchar(255)"`
	CreatedAt   time.Time
}

// TableName returns the table name for GORM.
func (Learner) TableName() string {
	return "learners"
}

// LearnerAggregate holds the per-level word counts of one learner.
// A missing row means the aggregate has not been computed.
type LearnerAggregate struct {
	OwnerID   string       `gorm:"primaryKey;type:varchar(64)"`
	Counts    StatusCounts `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (LearnerAggregate) TableName() string {
	return "learner_aggregates"
}
