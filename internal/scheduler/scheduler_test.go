package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/pointswallet/pkg/wallet"
	"github.com/shopspring/decimal"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (clock *manualClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *manualClock) Set(now time.Time) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = now
}

type recordingSweeps struct {
	mu    sync.Mutex
	calls []string
	asOf  []time.Time
	err   error
}

func (sweeps *recordingSweeps) UnlockDue(_ context.Context, asOf time.Time) (wallet.SweepReport, error) {
	return sweeps.record(JobUnlock, asOf, nil)
}

func (sweeps *recordingSweeps) ExpireDue(_ context.Context, asOf time.Time) (wallet.SweepReport, error) {
	return sweeps.record(JobExpire, asOf, sweeps.err)
}

func (sweeps *recordingSweeps) record(job string, asOf time.Time, err error) (wallet.SweepReport, error) {
	sweeps.mu.Lock()
	defer sweeps.mu.Unlock()
	sweeps.calls = append(sweeps.calls, job)
	sweeps.asOf = append(sweeps.asOf, asOf)
	return wallet.SweepReport{Scanned: 1, Processed: 1, Points: decimal.NewFromInt(5)}, err
}

func (sweeps *recordingSweeps) snapshot() []string {
	sweeps.mu.Lock()
	defer sweeps.mu.Unlock()
	return append([]string(nil), sweeps.calls...)
}

type recordingObserver struct {
	jobs   []string
	errors int
}

func (observer *recordingObserver) ObserveSweep(job string, _ wallet.SweepReport, err error) {
	observer.jobs = append(observer.jobs, job)
	if err != nil {
		observer.errors++
	}
}

func TestRunDueRespectsTimeOfDayAndRunsOncePerDay(test *testing.T) {
	test.Parallel()
	clock := &manualClock{now: time.Date(2024, time.May, 10, 0, 1, 0, 0, time.UTC)}
	sweeps := &recordingSweeps{}
	runner := mustRunner(test, MaintenanceJobs(sweeps, 5*time.Minute, 30*time.Minute), clock.Now)
	ctx := context.Background()

	if results := runner.RunDue(ctx); len(results) != 0 {
		test.Fatalf("expected nothing due at 00:01, got %+v", results)
	}
	clock.Set(time.Date(2024, time.May, 10, 0, 10, 0, 0, time.UTC))
	if results := runner.RunDue(ctx); len(results) != 1 || results[0].Job != JobUnlock {
		test.Fatalf("expected unlock only, got %+v", results)
	}
	clock.Set(time.Date(2024, time.May, 10, 6, 0, 0, 0, time.UTC))
	if results := runner.RunDue(ctx); len(results) != 1 || results[0].Job != JobExpire {
		test.Fatalf("expected expire only, got %+v", results)
	}
	if results := runner.RunDue(ctx); len(results) != 0 {
		test.Fatalf("expected no repeat runs, got %+v", results)
	}
	clock.Set(time.Date(2024, time.May, 11, 1, 0, 0, 0, time.UTC))
	results := runner.RunDue(ctx)
	if len(results) != 2 || results[0].Job != JobUnlock || results[1].Job != JobExpire {
		test.Fatalf("expected unlock then expire on the next day, got %+v", results)
	}
	if !results[0].AsOf.Equal(time.Date(2024, time.May, 11, 1, 0, 0, 0, time.UTC)) {
		test.Fatalf("unexpected asOf %s", results[0].AsOf)
	}
}

func TestRunDueRecordsFailuresAndKeepsGoing(test *testing.T) {
	test.Parallel()
	clock := &manualClock{now: time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)}
	sweeps := &recordingSweeps{err: errors.New("list failed")}
	observer := &recordingObserver{}
	runner := mustRunner(test, MaintenanceJobs(sweeps, 0, 0), clock.Now, WithRecorder(observer))

	results := runner.RunDue(context.Background())
	if len(results) != 2 || results[1].Err == nil {
		test.Fatalf("expected expire failure to be reported, got %+v", results)
	}
	if len(observer.jobs) != 2 || observer.errors != 1 {
		test.Fatalf("unexpected observations %+v", observer)
	}
	if results := runner.RunDue(context.Background()); len(results) != 0 {
		test.Fatalf("failed jobs wait for the next day, got %+v", results)
	}
}

func TestRunAllIgnoresSchedule(test *testing.T) {
	test.Parallel()
	clock := &manualClock{now: time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC)}
	sweeps := &recordingSweeps{}
	runner := mustRunner(test, MaintenanceJobs(sweeps, 23*time.Hour, 23*time.Hour), clock.Now)
	asOf := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	results := runner.RunAll(context.Background(), asOf)
	if len(results) != 2 || !results[0].AsOf.Equal(asOf) {
		test.Fatalf("unexpected results %+v", results)
	}
	clock.Set(time.Date(2024, time.May, 10, 23, 30, 0, 0, time.UTC))
	if results := runner.RunDue(context.Background()); len(results) != 2 {
		test.Fatalf("manual runs must not consume the scheduled run, got %+v", results)
	}
}

func TestRunStopsOnCancel(test *testing.T) {
	test.Parallel()
	clock := &manualClock{now: time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)}
	sweeps := &recordingSweeps{}
	runner := mustRunner(test, MaintenanceJobs(sweeps, 0, 0), clock.Now, WithPollInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(sweeps.snapshot()) < 2 {
		select {
		case <-deadline:
			test.Fatalf("jobs did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			test.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		test.Fatalf("runner did not stop")
	}
	if calls := sweeps.snapshot(); len(calls) != 2 {
		test.Fatalf("expected one run per job, got %v", calls)
	}
}

func TestNewRunnerValidation(test *testing.T) {
	test.Parallel()
	sweep := func(context.Context, time.Time) (wallet.SweepReport, error) { return wallet.SweepReport{}, nil }
	testCases := []struct {
		name  string
		jobs  []Job
		clock func() time.Time
	}{
		{name: "no clock", jobs: []Job{{Name: "a", Sweep: sweep}}},
		{name: "no jobs", clock: time.Now},
		{name: "missing sweep", jobs: []Job{{Name: "a"}}, clock: time.Now},
		{name: "outside day", jobs: []Job{{Name: "a", At: 25 * time.Hour, Sweep: sweep}}, clock: time.Now},
		{name: "duplicate", jobs: []Job{{Name: "a", Sweep: sweep}, {Name: "a", Sweep: sweep}}, clock: time.Now},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if _, err := NewRunner(testCase.jobs, testCase.clock); !errors.Is(err, ErrInvalidSchedule) {
				test.Fatalf("expected ErrInvalidSchedule, got %v", err)
			}
		})
	}
}

func TestParseTimeOfDay(test *testing.T) {
	test.Parallel()
	offset, err := ParseTimeOfDay(" 02:30 ")
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if offset != 2*time.Hour+30*time.Minute {
		test.Fatalf("unexpected offset %s", offset)
	}
	if _, err := ParseTimeOfDay("25:00"); !errors.Is(err, ErrInvalidSchedule) {
		test.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}

func mustRunner(test *testing.T, jobs []Job, now func() time.Time, options ...Option) *Runner {
	test.Helper()
	runner, err := NewRunner(jobs, now, options...)
	if err != nil {
		test.Fatalf("runner: %v", err)
	}
	return runner
}
