package repository

import (
	"context"

	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// wordRepository implements WordRepository.
type wordRepository struct {
	db *gorm.DB
}

// NewWordRepository creates a new WordRepository.
func NewWordRepository(db *gorm.DB) WordRepository {
	return &wordRepository{db: db}
}

func (r *wordRepository) WithTx(tx *gorm.DB) WordRepository {
	return &wordRepository{db: tx}
}

func (r *wordRepository) GetByID(ctx context.Context, id string) (*entities.Word, error) {
	var word entities.Word
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&word).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &word, nil
}

func (r *wordRepository) Upsert(ctx context.Context, word *entities.Word) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner_id", "text", "status", "updated_at"}),
		}).
		Create(word).Error
}

func (r *wordRepository) UpdateStatus(ctx context.Context, id string, status entities.StatusValue) (entities.StatusValue, error) {
	var word entities.Word
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "status").
		Where("id = ?", id).
		First(&word).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrWordNotFound
	}
	if err != nil {
		return "", err
	}

	if err := r.db.WithContext(ctx).Model(&entities.Word{}).
		Where("id = ?", id).
		Update("status", status).Error; err != nil {
		return "", err
	}
	return word.Status, nil
}

func (r *wordRepository) MigrateStatus(ctx context.Context, id string, status entities.StatusValue, legacyTag string) error {
	return r.db.WithContext(ctx).Model(&entities.Word{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"old_status": legacyTag,
		}).Error
}

func (r *wordRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Word{}).Count(&count).Error
	return count, err
}

func (r *wordRepository) ListAfter(ctx context.Context, startAfter string, limit int) ([]entities.Word, error) {
	query := r.db.WithContext(ctx).Order("id ASC").Limit(limit)
	if startAfter != "" {
		query = query.Where("id > ?", startAfter)
	}

	var words []entities.Word
	if err := query.Find(&words).Error; err != nil {
		return nil, err
	}
	return words, nil
}

func (r *wordRepository) StatusesByOwner(ctx context.Context, ownerID string) ([]entities.StatusValue, error) {
	var statuses []entities.StatusValue
	err := r.db.WithContext(ctx).Model(&entities.Word{}).
		Where("owner_id = ?", ownerID).
		Pluck("status", &statuses).Error
	return statuses, err
}

func (r *wordRepository) CountByStatusIn(ctx context.Context, ids []string, status entities.StatusValue) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Word{}).
		Where("id IN ? AND status = ?", ids, status).
		Count(&count).Error
	return count, err
}
