package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/sheetsync/internal/job"
	"github.com/zulandar/sheetsync/internal/models"
)

// InterruptedMessage is recorded on runs whose job was still locked when
// its execution path ended.
const InterruptedMessage = "interrupted or timed out"

var (
	// ErrLocked reports that another execution of the job holds the lock.
	ErrLocked = errors.New("scheduler: job is already running")
	// ErrJobNotFound reports an unknown job.
	ErrJobNotFound = job.ErrNotFound
)

// Locker guards job execution with an in-process set backed by a
// compare-and-set on the job's persisted status.
type Locker struct {
	db         *gorm.DB
	instanceID string
	now        func() time.Time

	mu   sync.Mutex
	held map[uint]bool
}

// NewLocker creates a Locker that stamps locks with instanceID.
func NewLocker(db *gorm.DB, instanceID string, now func() time.Time) *Locker {
	if now == nil {
		now = time.Now
	}
	return &Locker{db: db, instanceID: instanceID, now: now, held: make(map[uint]bool)}
}

// Held reports whether this process holds the lock of job id.
func (l *Locker) Held(id uint) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[id]
}

func (l *Locker) forget(id uint) {
	l.mu.Lock()
	delete(l.held, id)
	l.mu.Unlock()
}

// Acquire takes the execution lock of job id. It returns ErrLocked when
// this or another process already runs the job.
func (l *Locker) Acquire(ctx context.Context, id uint) (*Lease, error) {
	l.mu.Lock()
	if l.held[id] {
		l.mu.Unlock()
		return nil, ErrLocked
	}
	l.held[id] = true
	l.mu.Unlock()

	now := l.now()
	res := l.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status <> ?", id, models.StatusRunning).
		Updates(map[string]interface{}{
			"status":    models.StatusRunning,
			"locked_by": l.instanceID,
			"locked_at": now,
		})
	if res.Error != nil {
		l.forget(id)
		return nil, fmt.Errorf("scheduler: acquire lock on job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		l.forget(id)
		var count int64
		if err := l.db.WithContext(ctx).Model(&models.SyncJob{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("scheduler: acquire lock on job %d: %w", id, err)
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: id %d", ErrJobNotFound, id)
		}
		return nil, ErrLocked
	}
	return &Lease{locker: l, JobID: id, AcquiredAt: now}, nil
}

// Lease is a held job lock.
type Lease struct {
	locker     *Locker
	JobID      uint
	AcquiredAt time.Time

	once sync.Once
	err  error
}

// Release drops the lock. If the job row is still running under this
// instance, the execution ended without finalizing: the job goes back to
// idle and its running log is failed. Release is safe to call more than once.
func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		defer l.locker.forget(l.JobID)
		db := l.locker.db.WithContext(context.WithoutCancel(ctx))
		now := l.locker.now()
		res := db.Model(&models.SyncJob{}).
			Where("id = ? AND status = ? AND locked_by = ?", l.JobID, models.StatusRunning, l.locker.instanceID).
			Updates(map[string]interface{}{
				"status":     models.StatusIdle,
				"last_error": InterruptedMessage,
				"locked_by":  "",
				"locked_at":  nil,
			})
		if res.Error != nil {
			l.err = fmt.Errorf("scheduler: release lock on job %d: %w", l.JobID, res.Error)
			return
		}
		if res.RowsAffected > 0 {
			if _, err := job.FailRunning(db, l.JobID, InterruptedMessage, now); err != nil {
				l.err = err
			}
		}
	})
	return l.err
}
