package entities

import "time"

// Analysis is a saved text analysis. StatusCounts is its aggregate;
// NULL means it has not been computed.
type Analysis struct {
	ID           string       `gorm:"primaryKey;type:varchar(64)"`
	OwnerID      string       `gorm:"type:varchar(64);not null;index"`
	Title        string       `gorm:"type:varchar(255)"`
	StatusCounts StatusCounts `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName returns the table name for GORM.
func (Analysis) TableName() string {
	return "analyses"
}

// AnalysisMember links a word to an analysis it appears in.
// The word_id index serves word-to-analyses lookups.
type AnalysisMember struct {
	AnalysisID string `gorm:"primaryKey;type:varchar(64)"`
	WordID     string `gorm:"primaryKey;type:varchar(64);index:idx_analysis_members_word"`
}

// TableName returns the table name for GORM.
func (AnalysisMember) TableName() string {
	return "analysis_members"
}
