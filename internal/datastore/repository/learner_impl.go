package repository

import (
	"context"
	"time"

	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// learnerRepository implements LearnerRepository.
type learnerRepository struct {
	db *gorm.DB
}

// NewLearnerRepository creates a new LearnerRepository.
func NewLearnerRepository(db *gorm.DB) LearnerRepository {
	return &learnerRepository{db: db}
}

func (r *learnerRepository) WithTx(tx *gorm.DB) LearnerRepository {
	return &learnerRepository{db: tx}
}

func (r *learnerRepository) Ensure(ctx context.Context, id, displayName string) error {
	learner := entities.Learner{ID: id, DisplayName: displayName}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&learner).Error
}

func (r *learnerRepository) ListIDsAfter(ctx context.Context, startAfter string, limit int) ([]string, error) {
	query := r.db.WithContext(ctx).Model(&entities.Learner{}).Order("id ASC").Limit(limit)
	if startAfter != "" {
		query = query.Where("id > ?", startAfter)
	}
	var ids []string
	err := query.Pluck("id", &ids).Error
	return ids, err
}

func (r *learnerRepository) GetAggregate(ctx context.Context, ownerID string) (entities.StatusCounts, error) {
	counts, err := r.loadAggregate(r.db.WithContext(ctx), ownerID)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		return nil, ErrAggregateNotComputed
	}
	return counts, nil
}

func (r *learnerRepository) GetAggregateForUpdate(ctx context.Context, ownerID string) (entities.StatusCounts, error) {
	return r.loadAggregate(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), ownerID)
}

func (r *learnerRepository) loadAggregate(db *gorm.DB, ownerID string) (entities.StatusCounts, error) {
	var aggregate entities.LearnerAggregate
	err := db.Where("owner_id = ?", ownerID).First(&aggregate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if aggregate.Counts == nil {
		return entities.NewStatusCounts(), nil
	}
	return aggregate.Counts, nil
}

func (r *learnerRepository) PutAggregate(ctx context.Context, ownerID string, counts entities.StatusCounts) error {
	aggregate := entities.LearnerAggregate{
		OwnerID:   ownerID,
		Counts:    counts,
		UpdatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"counts", "updated_at"}),
		}).
		Create(&aggregate).Error
}

func (r *learnerRepository) DeleteOrphanAggregates(ctx context.Context) (int64, error) {
	owners := r.db.Model(&entities.Word{}).Distinct("owner_id")
	result := r.db.WithContext(ctx).
		Where("owner_id NOT IN (?)", owners).
		Delete(&entities.LearnerAggregate{})
	return result.RowsAffected, result.Error
}
