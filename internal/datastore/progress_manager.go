package datastore

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/errors"
)

// ProgressManager owns the job progress documents. Starting a job takes a
// lease on its row through one conditional UPDATE, so two processes sharing
// the store cannot run the same kind concurrently. A lease whose heartbeat is
// older than the TTL is treated as abandoned and may be taken over.
type ProgressManager struct {
	db       *gorm.DB
	leaseTTL time.Duration
	now      func() time.Time
}

// NewProgressManager creates a progress manager with the given lease TTL.
func NewProgressManager(db *gorm.DB, leaseTTL time.Duration) *ProgressManager {
	return &ProgressManager{
		db:       db,
		leaseTTL: leaseTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the progress document of kind. A missing row reads as not_started.
func (m *ProgressManager) Get(ctx context.Context, kind entities.JobKind) (*entities.JobProgress, error) {
	var progress entities.JobProgress
	err := m.db.WithContext(ctx).Where("kind = ?", kind).First(&progress).Error
	if err == nil {
		return &progress, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &entities.JobProgress{Kind: kind, Status: entities.JobStatusNotStarted}, nil
	}
	return nil, dbError(err, "get_job_progress", "", "kind", string(kind))
}

// IsLeaseHeld reports whether kind is running under a non-stale lease.
func (m *ProgressManager) IsLeaseHeld(ctx context.Context, kind entities.JobKind) (bool, error) {
	progress, err := m.Get(ctx, kind)
	if err != nil {
		return false, err
	}
	return m.isLive(progress), nil
}

func (m *ProgressManager) isLive(p *entities.JobProgress) bool {
	if p.Status != entities.JobStatusRunning || p.HeartbeatAt == nil {
		return false
	}
	return !p.HeartbeatAt.Before(m.now().Add(-m.leaseTTL))
}

// AcquireLease marks kind as running under a fresh owner token and resets its
// counters. It fails with ErrLeaseHeld while another non-stale lease exists.
func (m *ProgressManager) AcquireLease(ctx context.Context, kind entities.JobKind) (*Lease, error) {
	db := m.db.WithContext(ctx)

	seed := entities.JobProgress{Kind: kind, Status: entities.JobStatusNotStarted}
	if err := db.Where(entities.JobProgress{Kind: kind}).FirstOrCreate(&seed).Error; err != nil {
		return nil, dbError(err, "seed_job_progress", "", "kind", string(kind))
	}

	token := uuid.NewString()
	now := m.now()
	updates := map[string]any{
		"status":         entities.JobStatusRunning,
		"lease_owner":    token,
		"heartbeat_at":   now,
		"started_at":     now,
		"completed_at":   nil,
		"error":          nil,
		"processed":      0,
		"total":          0,
		"current_batch":  0,
		"current_step":   "",
		"migrated_count": 0,
		"skipped_count":  0,
		"steps":          nil,
	}

	result := db.Model(&entities.JobProgress{}).
		Where("kind = ? AND (status <> ? OR heartbeat_at IS NULL OR heartbeat_at < ?)",
			kind, entities.JobStatusRunning, now.Add(-m.leaseTTL)).
		Updates(updates)
	if result.Error != nil {
		return nil, dbError(result.Error, "acquire_lease", "", "kind", string(kind))
	}

	if result.RowsAffected == 0 {
		return nil, conflictError(ErrLeaseHeld, "acquire_lease", "kind", string(kind))
	}

	return &Lease{Kind: kind, Token: token, manager: m}, nil
}

// Lease is the right to write one job's progress document.
type Lease struct {
	Kind  entities.JobKind
	Token string

	manager *ProgressManager
}

// Update writes fields to the progress document and refreshes the heartbeat.
// It fails with ErrLeaseLost once the lease has been taken over or released.
func (l *Lease) Update(ctx context.Context, fields map[string]any) error {
	updates := make(map[string]any, len(fields)+1)
	maps.Copy(updates, fields)
	updates["heartbeat_at"] = l.manager.now()
	return l.write(ctx, "update_progress", updates)
}

// Heartbeat refreshes the lease without changing progress.
func (l *Lease) Heartbeat(ctx context.Context) error {
	return l.Update(ctx, nil)
}

// Complete writes the completed status with fields and releases the lease.
func (l *Lease) Complete(ctx context.Context, fields map[string]any) error {
	updates := make(map[string]any, len(fields)+4)
	maps.Copy(updates, fields)
	updates["status"] = entities.JobStatusCompleted
	updates["error"] = nil
	updates["completed_at"] = l.manager.now()
	updates["lease_owner"] = ""
	return l.write(ctx, "complete_job", updates)
}

// Fail writes the error status with message and releases the lease.
// Progress written so far is kept.
func (l *Lease) Fail(ctx context.Context, message string) error {
	return l.write(ctx, "fail_job", map[string]any{
		"status":       entities.JobStatusError,
		"error":        message,
		"completed_at": l.manager.now(),
		"lease_owner":  "",
	})
}

func (l *Lease) write(ctx context.Context, operation string, updates map[string]any) error {
	result := l.manager.db.WithContext(ctx).
		Model(&entities.JobProgress{}).
		Where("kind = ? AND lease_owner = ?", l.Kind, l.Token).
		Updates(updates)
	if result.Error != nil {
		return dbError(result.Error, operation, "", "kind", string(l.Kind))
	}
	if result.RowsAffected == 0 {
		return stateError(ErrLeaseLost, operation, "kind", string(l.Kind))
	}
	return nil
}

// IsLeaseConflict reports whether err means the job kind is already running.
func IsLeaseConflict(err error) bool {
	return errors.Is(err, ErrLeaseHeld)
}
