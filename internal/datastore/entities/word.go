package entities

import "time"

// Word is one vocabulary entry owned by a learner.
// Membership in analyses is recorded in AnalysisMember.
type Word struct {
	ID        string      `gorm:"primaryKey;type:varchar(64)"`
	OwnerID   string      `gorm:"type:varchar(64);not null;index:idx_words_owner_status,priority:1"`
	Text      string      `gorm:"type:varchar(255)"`
	Status    StatusValue `gorm:"type:varchar(32);not null;index:idx_words_owner_status,priority:2"`
	OldStatus *string     `gorm:"type:varchar(32)"` // legacy tag kept for audit after migration
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (Word) TableName() string {
	return "words"
}
