package jobguard

import (
	"context"
	"fmt"
	"log"
	"time"

	"twmarket_backend/models"
	"twmarket_backend/syncerr"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Lease is the observed dedup state handed back by AttemptRun. The caller
// passes it to MarkSuccess so the completion write is a compare-and-swap
// against exactly what was read, never a blind overwrite.
type Lease struct {
	Signature   string
	ObservedRun *time.Time
	StartedAt   time.Time
}

// Publisher receives finished job history entries. Failures inside a
// publisher must never affect the job result, so implementations are
// expected to swallow their own errors.
type Publisher interface {
	PublishJobEntry(entry models.JobHistoryEntry)
}

// Guard is the persisted, cross-process dedup gate plus the append-only job
// history recorder. All coordination state lives in the shared database:
// worker processes hold no in-memory run flags.
type Guard struct {
	db         *gorm.DB
	publishers []Publisher
	now        func() time.Time
}

// NewGuard creates a guard over the shared metadata tables
func NewGuard(db *gorm.DB) *Guard {
	return &Guard{db: db, now: time.Now}
}

// AddPublisher registers a fire-and-forget consumer of finished entries
// (notification channel, websocket feed, archive mirror).
func (g *Guard) AddPublisher(p Publisher) {
	g.publishers = append(g.publishers, p)
}

// LastRun returns the last successful completion time for a signature.
func (g *Guard) LastRun(ctx context.Context, signature string) (time.Time, bool, error) {
	var state models.JobRunState
	err := g.db.WithContext(ctx).Where("job_signature = ?", signature).First(&state).Error
	if err == gorm.ErrRecordNotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, syncerr.Storage("jobguard.LastRun", err)
	}
	if state.LastSuccessfulRunAt == nil {
		return time.Time{}, false, nil
	}
	return *state.LastSuccessfulRunAt, true, nil
}

// AttemptRun decides whether a job may execute. Inside the cooldown the
// second return is false and the caller must record a skipped history entry
// and exit without side effects. force bypasses the cooldown but still goes
// through the lease/CAS sequence.
func (g *Guard) AttemptRun(ctx context.Context, signature string, minInterval time.Duration, force bool) (Lease, bool, error) {
	now := g.now()

	// Make sure the state row exists before reading it, so the later CAS has
	// a row to compare against even on the very first run.
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.JobRunState{JobSignature: signature}).Error
	if err != nil {
		return Lease{}, false, syncerr.Storage("jobguard.AttemptRun", err)
	}

	var state models.JobRunState
	if err := g.db.WithContext(ctx).Where("job_signature = ?", signature).First(&state).Error; err != nil {
		return Lease{}, false, syncerr.Storage("jobguard.AttemptRun", err)
	}

	lease := Lease{Signature: signature, ObservedRun: state.LastSuccessfulRunAt, StartedAt: now}
	if !force && state.LastSuccessfulRunAt != nil && now.Sub(*state.LastSuccessfulRunAt) < minInterval {
		return lease, false, nil
	}
	return lease, true, nil
}

// MarkSuccess advances the last-successful timestamp with a single
// conditional write. It returns false when another process completed the same
// job between AttemptRun and now: that run's timestamp stands and this one is
// discarded, so two racing triggers can never both record a completion.
func (g *Guard) MarkSuccess(ctx context.Context, lease Lease, finishedAt time.Time) (bool, error) {
	query := g.db.WithContext(ctx).
		Model(&models.JobRunState{}).
		Where("job_signature = ?", lease.Signature)
	if lease.ObservedRun == nil {
		query = query.Where("last_successful_run_at IS NULL")
	} else {
		query = query.Where("last_successful_run_at = ?", *lease.ObservedRun)
	}
	result := query.Update("last_successful_run_at", finishedAt)
	if result.Error != nil {
		return false, syncerr.Storage("jobguard.MarkSuccess", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// AppendHistory writes one append-only audit entry and fans it out to the
// registered publishers.
func (g *Guard) AppendHistory(ctx context.Context, entry models.JobHistoryEntry) error {
	if err := g.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return syncerr.Storage("jobguard.AppendHistory", err)
	}
	for _, p := range g.publishers {
		p.PublishJobEntry(entry)
	}
	return nil
}

// Run executes body under the dedup gate and records the attempt in job
// history whatever happens. On success the completion timestamp is advanced
// by CAS; on failure or skip it is left untouched so the next schedule tick
// retries. body returns a one-line summary for the history entry.
func (g *Guard) Run(ctx context.Context, signature string, minInterval time.Duration, force bool, body func(context.Context) (string, error)) (models.JobHistoryEntry, error) {
	lease, proceed, err := g.AttemptRun(ctx, signature, minInterval, force)
	if err != nil {
		return models.JobHistoryEntry{}, err
	}

	if !proceed {
		entry := models.JobHistoryEntry{
			JobSignature: signature,
			StartedAt:    lease.StartedAt,
			FinishedAt:   lease.StartedAt,
			Status:       models.JobStatusSkipped,
			Summary:      fmt.Sprintf("within cooldown %s", minInterval),
		}
		if err := g.AppendHistory(ctx, entry); err != nil {
			return entry, err
		}
		log.Printf("Job %s skipped: last run within %s", signature, minInterval)
		return entry, nil
	}

	summary, bodyErr := body(ctx)
	finishedAt := g.now()

	entry := models.JobHistoryEntry{
		JobSignature: signature,
		StartedAt:    lease.StartedAt,
		FinishedAt:   finishedAt,
		Summary:      summary,
	}

	if bodyErr != nil {
		entry.Status = models.JobStatusFailed
		entry.ErrorDetail = fmt.Sprintf("%s: %v", syncerr.Message(syncerr.KindOf(bodyErr)), bodyErr)
		if err := g.AppendHistory(ctx, entry); err != nil {
			log.Printf("Error recording failed run of %s: %v", signature, err)
		}
		return entry, bodyErr
	}

	won, err := g.MarkSuccess(ctx, lease, finishedAt)
	if err != nil {
		entry.Status = models.JobStatusFailed
		entry.ErrorDetail = err.Error()
		if histErr := g.AppendHistory(ctx, entry); histErr != nil {
			log.Printf("Error recording run of %s: %v", signature, histErr)
		}
		return entry, err
	}
	if !won {
		log.Printf("Job %s finished but lost the completion race, keeping the other run's timestamp", signature)
	}

	entry.Status = models.JobStatusSuccess
	if err := g.AppendHistory(ctx, entry); err != nil {
		return entry, err
	}
	return entry, nil
}

// History returns the newest history entries, optionally filtered by
// signature.
func (g *Guard) History(ctx context.Context, signature string, limit int) ([]models.JobHistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := g.db.WithContext(ctx).Order("started_at DESC").Limit(limit)
	if signature != "" {
		query = query.Where("job_signature = ?", signature)
	}
	var entries []models.JobHistoryEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, syncerr.Storage("jobguard.History", err)
	}
	return entries, nil
}
