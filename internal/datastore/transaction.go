package datastore

import (
	"context"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/logger"
)

// MySQL server error numbers that are safe to retry as a whole transaction.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// RetryObserver is notified of every retried transaction.
type RetryObserver interface {
	RecordTransactionRetry(operation, reason string)
}

// TxOptions configures transaction retry.
type TxOptions struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is doubled after every retry.
	BaseDelay time.Duration
	Observer  RetryObserver
	Logger    logger.Logger
}

// Transactor runs read-modify-write transactions and retries them when the
// store reports lock contention. Any other error is returned unchanged.
type Transactor struct {
	db         *gorm.DB
	maxRetries int
	baseDelay  time.Duration
	observer   RetryObserver
	log        logger.Logger
}

// NewTransactor creates a Transactor on db.
func NewTransactor(db *gorm.DB, opts TxOptions) *Transactor {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 20 * time.Millisecond
	}
	return &Transactor{
		db:         db,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		observer:   opts.Observer,
		log:        opts.Logger,
	}
}

// DB returns the database the transactor runs on.
func (t *Transactor) DB() *gorm.DB {
	return t.db
}

// Do runs fn in a transaction. fn may run more than once and must not keep
// side effects outside tx between attempts.
func (t *Transactor) Do(ctx context.Context, operation string, fn func(tx *gorm.DB) error) error {
	for attempt := 0; ; attempt++ {
		err := t.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}

		reason, retryable := retryReason(err)
		if !retryable || attempt >= t.maxRetries {
			return err
		}

		if t.observer != nil {
			t.observer.RecordTransactionRetry(operation, reason)
		}
		delay := t.baseDelay * time.Duration(1<<attempt)
		if t.log != nil {
			t.log.Debug("retrying transaction",
				logger.String("operation", operation),
				logger.String("reason", reason),
				logger.Int("attempt", attempt+1),
				logger.Duration("delay", delay))
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.New(ctx.Err()).
				Component("datastore").
				Category(errors.CategoryCancellation).
				Context("operation", operation).
				Build()
		case <-timer.C:
		}
	}
}

// retryReason classifies lock contention errors.
func retryReason(err error) (string, bool) {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy:
			return "sqlite_busy", true
		case sqlite3.ErrLocked:
			return "sqlite_locked", true
		}
		return "", false
	}

	var mysqlErr *mysqldriver.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDeadlock:
			return "deadlock", true
		case mysqlErrLockWaitTimeout:
			return "lock_wait_timeout", true
		}
		return "", false
	}

	// Errors that lost their driver type on the way up still carry the message
	if strings.Contains(strings.ToLower(err.Error()), "database is locked") {
		return "sqlite_busy", true
	}
	return "", false
}
