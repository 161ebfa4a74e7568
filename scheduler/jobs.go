package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"twmarket_backend/config"
	"twmarket_backend/models"
	"twmarket_backend/services/archive"
	"twmarket_backend/services/calendar"
	"twmarket_backend/services/futures"
	"twmarket_backend/services/ingest"
	"twmarket_backend/services/integrity"
	"twmarket_backend/services/jobguard"
	"twmarket_backend/services/marketstore"
	"twmarket_backend/services/vendor"

	"github.com/go-co-op/gocron"
	"gorm.io/gorm"
)

// Job cooldowns. The guard's minimum interval doubles as the vendor
// rate-limit policy per job signature.
const (
	DailyCooldown     = 20 * time.Hour
	MinuteCooldown    = 4 * time.Minute
	IntegrityCooldown = 23 * time.Hour
	IntegrityLookback = 30 * 24 * time.Hour
	JobBodyTimeout    = 30 * time.Minute
)

// Job is one guarded, triggerable unit of work.
type Job struct {
	Name        string
	Signature   string
	MinInterval time.Duration
	Body        func(ctx context.Context) (string, error)
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron    *gocron.Scheduler
	guard   *jobguard.Guard
	checker *integrity.Checker
	jobs    map[string]Job
}

// NewScheduler creates a scheduler instance with the full sync pipeline
// behind it.
func NewScheduler(db *gorm.DB) *Scheduler {
	store := marketstore.NewStore(db)
	client := vendor.NewClient(config.AppConfig.VendorBaseURL, config.AppConfig.VendorToken)
	stitcher := futures.NewStitcher(futures.Method(config.AppConfig.StitchMethod))

	dailyWorker := ingest.NewDailyPriceWorker(store, client)
	minuteWorker := ingest.NewMinutePriceWorker(store, client)
	flowWorker := ingest.NewFlowWorker(store, client)
	optionWorker := ingest.NewOptionFactorWorker(store, client)
	futuresWorker := ingest.NewFuturesWorker(store, client, stitcher)

	checker := integrity.NewChecker(store, calendar.NewTaiwanCalendar(db), map[string]integrity.Refetcher{
		models.DomainDailyPrice: dailyWorker,
		models.DomainInstFlow:   flowWorker,
	})

	s := &Scheduler{
		cron:    gocron.NewScheduler(time.UTC),
		guard:   jobguard.NewGuard(db),
		checker: checker,
		jobs:    make(map[string]Job),
	}

	s.addWorkerJob("sync_daily_price", DailyCooldown, dailyWorker.Run)
	s.addWorkerJob("sync_minute_price", MinuteCooldown, minuteWorker.Run)
	s.addWorkerJob("sync_institutional_flow", DailyCooldown, flowWorker.Run)
	s.addWorkerJob("sync_option_factor", DailyCooldown, optionWorker.Run)
	s.addWorkerJob("sync_futures", DailyCooldown, futuresWorker.Run)

	s.addJob(Job{
		Name:        "integrity_check",
		Signature:   "integrity_check",
		MinInterval: IntegrityCooldown,
		Body:        s.integrityBody,
	})

	return s
}

// Guard exposes the dedup guard so callers can attach publishers and read
// job history.
func (s *Scheduler) Guard() *jobguard.Guard {
	return s.guard
}

// Checker exposes the integrity checker for the operator API.
func (s *Scheduler) Checker() *integrity.Checker {
	return s.checker
}

// JobNames lists the registered job names, sorted.
func (s *Scheduler) JobNames() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) addJob(job Job) {
	s.jobs[job.Name] = job
}

func (s *Scheduler) addWorkerJob(name string, cooldown time.Duration, run func(context.Context, ingest.Window) (ingest.Summary, error)) {
	s.addJob(Job{
		Name:        name,
		Signature:   name,
		MinInterval: cooldown,
		Body: func(ctx context.Context) (string, error) {
			summary, err := run(ctx, ingest.Window{})
			return summary.String(), err
		},
	})
}

// integrityWindow returns the date range the nightly check covers. The run
// fires at 02:00, before the current date can have data, so the window ends
// at yesterday: today must never count as a gap.
func integrityWindow(now time.Time) (start, end time.Time) {
	end = models.DateOnly(now).AddDate(0, 0, -1)
	start = end.Add(-IntegrityLookback)
	return start, end
}

// integrityBody runs the nightly coverage check over the recent window for
// the daily price and order-flow domains, with auto-repair enabled.
func (s *Scheduler) integrityBody(ctx context.Context) (string, error) {
	start, end := integrityWindow(time.Now())

	var total, fixed int
	for _, domain := range []string{models.DomainDailyPrice, models.DomainInstFlow} {
		reports, err := s.checker.Check(ctx, domain, nil, start, end, true)
		if err != nil {
			return fmt.Sprintf("gaps=%d auto_fixed=%d", total, fixed), err
		}
		for _, r := range reports {
			total += r.GapCount
			fixed += r.FixedCount
		}
		if archive.GlobalArchive != nil {
			archive.GlobalArchive.ArchiveReports(reports)
		}
	}
	return fmt.Sprintf("gaps=%d auto_fixed=%d", total, fixed), nil
}

// RunJob triggers a named job immediately. The dedup guard still applies
// unless force is set. Used by the operator API and the sync CLI command.
func (s *Scheduler) RunJob(ctx context.Context, name string, force bool) (models.JobHistoryEntry, error) {
	job, ok := s.jobs[name]
	if !ok {
		return models.JobHistoryEntry{}, fmt.Errorf("unknown job %q", name)
	}
	runCtx, cancel := context.WithTimeout(ctx, JobBodyTimeout)
	defer cancel()
	return s.guard.Run(runCtx, job.Signature, job.MinInterval, force, job.Body)
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Daily bars after the TWSE settlement files land
	s.cron.Every(1).Day().At("16:30").Do(func() {
		s.tick("sync_daily_price")
	})

	// Minute bars during the trading session
	s.cron.Every(5).Minutes().Do(func() {
		if isMarketOpen() {
			s.tick("sync_minute_price")
		}
	})

	// Institutional flow is published after the close
	s.cron.Every(1).Day().At("17:00").Do(func() {
		s.tick("sync_institutional_flow")
	})

	// Option factors and futures settlements
	s.cron.Every(1).Day().At("17:30").Do(func() {
		s.tick("sync_option_factor")
	})
	s.cron.Every(1).Day().At("18:00").Do(func() {
		s.tick("sync_futures")
	})

	// Nightly coverage check with auto-repair
	s.cron.Every(1).Day().At("02:00").Do(func() {
		s.tick("integrity_check")
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

func (s *Scheduler) tick(name string) {
	entry, err := s.RunJob(context.Background(), name, false)
	if err != nil {
		log.Printf("Job %s failed: %v", name, err)
		return
	}
	log.Printf("Job %s finished: status=%s %s", name, entry.Status, entry.Summary)
}

// isMarketOpen checks if the Taiwan stock exchange is currently in session
func isMarketOpen() bool {
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	now := time.Now().In(loc)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}

	// TWSE session: 09:00 - 13:30
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= 9*60 && minutes <= 13*60+30
}
