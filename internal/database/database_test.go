package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(context.Background(), filepath.Join(t.TempDir(), "converter.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return db
}

func TestRecordQuery(t *testing.T) {
	// Must not panic for either status.
	recordQuery("test_operation", time.Now(), nil)
	recordQuery("test_operation", time.Now(), errors.New("test error"))
}

func TestNewReopensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "converter.db")
	ctx := context.Background()

	db, err := New(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.RecordUsage(ctx, "1.2.3.4", 1); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = New(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()

	u, err := db.GetUsage(ctx, "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if u.JobCount != 1 {
		t.Errorf("JobCount = %d, want 1", u.JobCount)
	}
}

func TestRecordUsage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.RecordUsage(ctx, "10.0.0.1", 1.25); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordUsage(ctx, "10.0.0.1", 2.5); err != nil {
		t.Fatal(err)
	}

	u, err := db.GetUsage(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if u.JobCount != 2 {
		t.Errorf("JobCount = %d, want 2", u.JobCount)
	}
	if u.Megabytes != 3.75 {
		t.Errorf("Megabytes = %v, want 3.75", u.Megabytes)
	}

	if _, err := db.GetUsage(ctx, "10.0.0.2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUsage(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestRecordUsageConcurrent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if err := db.RecordUsage(ctx, "192.168.1.10", 0.5); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("RecordUsage() error = %v", err)
	}

	u, err := db.GetUsage(ctx, "192.168.1.10")
	if err != nil {
		t.Fatal(err)
	}
	if u.JobCount != workers*perWorker {
		t.Errorf("JobCount = %d, want %d (lost updates)", u.JobCount, workers*perWorker)
	}
	if u.Megabytes != 40 {
		t.Errorf("Megabytes = %v, want 40", u.Megabytes)
	}
}

func TestListAndCountUsage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for addr, mb := range map[string]float64{"a": 1, "b": 30, "c": 5} {
		if err := db.RecordUsage(ctx, addr, mb); err != nil {
			t.Fatal(err)
		}
	}

	list, err := db.ListUsage(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Address != "b" || list[1].Address != "c" {
		t.Errorf("ListUsage() = %+v", list)
	}

	n, err := db.CountUsage(ctx)
	if err != nil || n != 3 {
		t.Errorf("CountUsage() = %d, %v; want 3", n, err)
	}
}

func TestJobLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := JobRecord{Token: "tok-1", Pipeline: "conversion", Operation: "mp3", Address: "10.0.0.1"}
	if err := db.CreateJob(ctx, rec); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	got, err := db.GetJob(ctx, "tok-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != JobRunning || got.FinishedAt != nil {
		t.Errorf("new job = %+v", got)
	}

	err = db.FinishJob(ctx, "tok-1", JobOutcome{
		State:        JobSucceeded,
		ArtifactPath: "conversions/tok-1/song.mp3",
		DisplayName:  "song.mp3",
		Megabytes:    3.2,
	})
	if err != nil {
		t.Fatalf("FinishJob() error = %v", err)
	}

	got, err = db.GetJob(ctx, "tok-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != JobSucceeded || got.ArtifactPath != "conversions/tok-1/song.mp3" || got.FinishedAt == nil {
		t.Errorf("finished job = %+v", got)
	}

	if err := db.FinishJob(ctx, "missing", JobOutcome{State: JobFailed}); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishJob(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := db.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListJobsAndPrune(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, tok := range []string{"t1", "t2", "t3"} {
		addr := "a"
		if tok == "t3" {
			addr = "b"
		}
		rec := JobRecord{Token: tok, Pipeline: "download", Operation: "mp4", Address: addr,
			StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := db.CreateJob(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.FinishJob(ctx, "t1", JobOutcome{State: JobFailed, FailureKind: "external_tool", Diagnostic: "boom"}); err != nil {
		t.Fatal(err)
	}

	all, err := db.ListJobs(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Token != "t3" {
		t.Errorf("ListJobs() order = %+v", all)
	}

	mine, err := db.ListJobs(ctx, "a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 {
		t.Errorf("ListJobs(a) = %d records, want 2", len(mine))
	}

	n, err := db.PruneJobs(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("PruneJobs() = %d, want 1 (only finished jobs)", n)
	}

	n, err = db.FailRunningJobs(ctx, "canceled", "server restarted")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("FailRunningJobs() = %d, want 2", n)
	}
	got, _ := db.GetJob(ctx, "t2")
	if got.State != JobFailed || got.FailureKind != "canceled" {
		t.Errorf("t2 after FailRunningJobs = %+v", got)
	}
}

func TestLiveTokens(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, tok := range []string{"running", "fresh", "failed", "stale"} {
		if err := db.CreateJob(ctx, JobRecord{Token: tok, Pipeline: "download", Operation: "mp4"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.FinishJob(ctx, "fresh", JobOutcome{State: JobSucceeded, ArtifactPath: "downloads/fresh/a.mp4"}); err != nil {
		t.Fatal(err)
	}
	if err := db.FinishJob(ctx, "failed", JobOutcome{State: JobFailed, FailureKind: "timeout"}); err != nil {
		t.Fatal(err)
	}
	if err := db.FinishJob(ctx, "stale", JobOutcome{State: JobSucceeded, ArtifactPath: "downloads/stale/a.mp4"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.db.ExecContext(ctx, "UPDATE jobs SET finished_at = ? WHERE token = 'stale'",
		time.Now().Add(-2*time.Hour).Unix()); err != nil {
		t.Fatal(err)
	}

	got, err := db.LiveTokens(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("LiveTokens() error = %v", err)
	}
	if len(got) != 2 || got[0] != "fresh" || got[1] != "running" {
		t.Errorf("LiveTokens() = %v, want [fresh running]", got)
	}
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	db.UpdateDBMetrics()
}
