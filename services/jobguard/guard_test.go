package jobguard

import (
	"context"
	"errors"
	"testing"
	"time"

	"twmarket_backend/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := models.MigrateJobModels(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return NewGuard(db)
}

func TestRunExecutesOnceWithinCooldown(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	calls := 0
	body := func(context.Context) (string, error) {
		calls++
		return "ok", nil
	}

	entry, err := g.Run(ctx, "sync_daily_price", time.Hour, false, body)
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if entry.Status != models.JobStatusSuccess {
		t.Errorf("Expected success, got %s", entry.Status)
	}

	entry, err = g.Run(ctx, "sync_daily_price", time.Hour, false, body)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if entry.Status != models.JobStatusSkipped {
		t.Errorf("Expected skip within cooldown, got %s", entry.Status)
	}
	if calls != 1 {
		t.Errorf("Expected body to run once, ran %d times", calls)
	}
}

func TestRunForceBypassesCooldown(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	calls := 0
	body := func(context.Context) (string, error) {
		calls++
		return "ok", nil
	}

	if _, err := g.Run(ctx, "sync_daily_price", time.Hour, false, body); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	entry, err := g.Run(ctx, "sync_daily_price", time.Hour, true, body)
	if err != nil {
		t.Fatalf("Forced run failed: %v", err)
	}
	if entry.Status != models.JobStatusSuccess {
		t.Errorf("Expected forced run to succeed, got %s", entry.Status)
	}
	if calls != 2 {
		t.Errorf("Expected body to run twice, ran %d times", calls)
	}
}

func TestRunAfterCooldownExpires(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	clock := time.Date(2024, 12, 2, 16, 30, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }

	calls := 0
	body := func(context.Context) (string, error) {
		calls++
		return "ok", nil
	}

	if _, err := g.Run(ctx, "sync_daily_price", 20*time.Hour, false, body); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	clock = clock.Add(21 * time.Hour)
	entry, err := g.Run(ctx, "sync_daily_price", 20*time.Hour, false, body)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if entry.Status != models.JobStatusSuccess {
		t.Errorf("Expected run after cooldown to execute, got %s", entry.Status)
	}
	if calls != 2 {
		t.Errorf("Expected body to run twice, ran %d times", calls)
	}
}

func TestFailureLeavesTimestampUnset(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	failing := func(context.Context) (string, error) {
		return "", errors.New("vendor down")
	}
	entry, err := g.Run(ctx, "sync_daily_price", time.Hour, false, failing)
	if err == nil {
		t.Fatal("Expected the failure to surface")
	}
	if entry.Status != models.JobStatusFailed {
		t.Errorf("Expected failed status, got %s", entry.Status)
	}

	// The dedup timestamp was not advanced, so a retry runs immediately
	if _, seen, err := g.LastRun(ctx, "sync_daily_price"); err != nil || seen {
		t.Errorf("Expected no recorded success (seen=%v, err=%v)", seen, err)
	}
	calls := 0
	entry, err = g.Run(ctx, "sync_daily_price", time.Hour, false, func(context.Context) (string, error) {
		calls++
		return "recovered", nil
	})
	if err != nil || entry.Status != models.JobStatusSuccess || calls != 1 {
		t.Errorf("Expected retry to execute after failure (status=%s calls=%d err=%v)", entry.Status, calls, err)
	}
}

func TestMarkSuccessLosesRace(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	// Two triggers read the same observed state before either completes
	leaseA, proceed, err := g.AttemptRun(ctx, "sync_futures", time.Hour, false)
	if err != nil || !proceed {
		t.Fatalf("AttemptRun A failed (proceed=%v, err=%v)", proceed, err)
	}
	leaseB, proceed, err := g.AttemptRun(ctx, "sync_futures", time.Hour, false)
	if err != nil || !proceed {
		t.Fatalf("AttemptRun B failed (proceed=%v, err=%v)", proceed, err)
	}

	won, err := g.MarkSuccess(ctx, leaseA, time.Now())
	if err != nil || !won {
		t.Fatalf("Expected first completion to win (won=%v, err=%v)", won, err)
	}
	won, err = g.MarkSuccess(ctx, leaseB, time.Now())
	if err != nil {
		t.Fatalf("MarkSuccess B failed: %v", err)
	}
	if won {
		t.Error("Expected second completion to lose the compare-and-swap")
	}
}

func TestHistoryRecordedForEveryOutcome(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	ok := func(context.Context) (string, error) { return "ok", nil }
	g.Run(ctx, "sync_daily_price", time.Hour, false, ok)
	g.Run(ctx, "sync_daily_price", time.Hour, false, ok) // skipped
	g.Run(ctx, "sync_daily_price", time.Hour, true, func(context.Context) (string, error) {
		return "", errors.New("boom")
	})

	entries, err := g.History(ctx, "sync_daily_price", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 history entries, got %d", len(entries))
	}
	seen := map[string]int{}
	for _, e := range entries {
		seen[e.Status]++
	}
	if seen[models.JobStatusSuccess] != 1 || seen[models.JobStatusSkipped] != 1 || seen[models.JobStatusFailed] != 1 {
		t.Errorf("Expected one of each outcome, got %v", seen)
	}
}

type captivePublisher struct {
	entries []models.JobHistoryEntry
}

func (p *captivePublisher) PublishJobEntry(entry models.JobHistoryEntry) {
	p.entries = append(p.entries, entry)
}

func TestPublishersReceiveEntries(t *testing.T) {
	g := newTestGuard(t)
	pub := &captivePublisher{}
	g.AddPublisher(pub)

	g.Run(context.Background(), "sync_daily_price", time.Hour, false, func(context.Context) (string, error) {
		return "ok", nil
	})
	if len(pub.entries) != 1 {
		t.Fatalf("Expected 1 published entry, got %d", len(pub.entries))
	}
	if pub.entries[0].Status != models.JobStatusSuccess {
		t.Errorf("Expected published success entry, got %s", pub.entries[0].Status)
	}
}
