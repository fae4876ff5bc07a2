package repository

import (
	"context"

	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// analysisRepository implements AnalysisRepository.
type analysisRepository struct {
	db *gorm.DB
}

// NewAnalysisRepository creates a new AnalysisRepository.
func NewAnalysisRepository(db *gorm.DB) AnalysisRepository {
	return &analysisRepository{db: db}
}

func (r *analysisRepository) WithTx(tx *gorm.DB) AnalysisRepository {
	return &analysisRepository{db: tx}
}

func (r *analysisRepository) Ensure(ctx context.Context, id, ownerID, title string) error {
	analysis := entities.Analysis{ID: id, OwnerID: ownerID, Title: title}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&analysis).Error
}

func (r *analysisRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&entities.Analysis{}).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *analysisRepository) AddMembers(ctx context.Context, analysisID string, wordIDs []string) error {
	if len(wordIDs) == 0 {
		return nil
	}
	members := make([]entities.AnalysisMember, 0, len(wordIDs))
	for _, wordID := range wordIDs {
		members = append(members, entities.AnalysisMember{AnalysisID: analysisID, WordID: wordID})
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(members, maxBatchInsert).Error
}

func (r *analysisRepository) MemberWordIDs(ctx context.Context, analysisID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&entities.AnalysisMember{}).
		Where("analysis_id = ?", analysisID).
		Order("word_id ASC").
		Pluck("word_id", &ids).Error
	return ids, err
}

func (r *analysisRepository) AnalysisIDsForWord(ctx context.Context, wordID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&entities.AnalysisMember{}).
		Where("word_id = ?", wordID).
		Order("analysis_id ASC").
		Pluck("analysis_id", &ids).Error
	return ids, err
}

func (r *analysisRepository) GetAggregate(ctx context.Context, analysisID string) (entities.StatusCounts, error) {
	counts, err := r.loadAggregate(r.db.WithContext(ctx), analysisID)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		return nil, ErrAggregateNotComputed
	}
	return counts, nil
}

func (r *analysisRepository) GetAggregateForUpdate(ctx context.Context, analysisID string) (entities.StatusCounts, error) {
	return r.loadAggregate(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), analysisID)
}

func (r *analysisRepository) loadAggregate(db *gorm.DB, analysisID string) (entities.StatusCounts, error) {
	var analysis entities.Analysis
	err := db.Select("id", "status_counts").Where("id = ?", analysisID).First(&analysis).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAnalysisNotFound
	}
	if err != nil {
		return nil, err
	}
	return analysis.StatusCounts, nil
}

func (r *analysisRepository) SetAggregate(ctx context.Context, analysisID string, counts entities.StatusCounts) error {
	result := r.db.WithContext(ctx).Model(&entities.Analysis{}).
		Where("id = ?", analysisID).
		Update("status_counts", counts)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAnalysisNotFound
	}
	return nil
}

func (r *analysisRepository) ClearAggregate(ctx context.Context, analysisID string) error {
	return r.db.WithContext(ctx).Model(&entities.Analysis{}).
		Where("id = ?", analysisID).
		Update("status_counts", gorm.Expr("NULL")).Error
}

func (r *analysisRepository) ClearAllAggregates(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&entities.Analysis{}).
		Where("status_counts IS NOT NULL").
		Update("status_counts", gorm.Expr("NULL"))
	return result.RowsAffected, result.Error
}
