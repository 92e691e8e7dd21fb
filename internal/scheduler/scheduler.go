package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/pointswallet/pkg/wallet"
	"go.uber.org/zap"
)

const (
	// JobUnlock promotes pending earn entries whose unlock date arrived.
	JobUnlock = "unlock"
	// JobExpire retires active earn entries whose expiry date arrived.
	JobExpire = "expire"

	defaultPollInterval = time.Minute
	timeOfDayLayout     = "15:04"
)

// ErrInvalidSchedule reports a malformed job definition or time of day.
var ErrInvalidSchedule = errors.New("invalid schedule")

// SweepFunc runs one maintenance pass for the given day.
type SweepFunc func(ctx context.Context, asOf time.Time) (wallet.SweepReport, error)

// Job runs once per UTC day, on the first poll at or after At past midnight.
type Job struct {
	Name  string
	At    time.Duration
	Sweep SweepFunc
}

// Maintainer is the part of the wallet service the scheduler drives.
type Maintainer interface {
	UnlockDue(ctx context.Context, asOf time.Time) (wallet.SweepReport, error)
	ExpireDue(ctx context.Context, asOf time.Time) (wallet.SweepReport, error)
}

// Recorder observes finished jobs.
type Recorder interface {
	ObserveSweep(job string, report wallet.SweepReport, err error)
}

// Result is the outcome of one job run.
type Result struct {
	Job    string
	AsOf   time.Time
	Report wallet.SweepReport
	Err    error
}

// MaintenanceJobs returns the daily unlock and expiry jobs in run order.
func MaintenanceJobs(maintainer Maintainer, unlockAt time.Duration, expireAt time.Duration) []Job {
	return []Job{
		{Name: JobUnlock, At: unlockAt, Sweep: maintainer.UnlockDue},
		{Name: JobExpire, At: expireAt, Sweep: maintainer.ExpireDue},
	}
}

// ParseTimeOfDay parses "HH:MM" into an offset from midnight.
func ParseTimeOfDay(raw string) (time.Duration, error) {
	parsed, err := time.Parse(timeOfDayLayout, strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: time of day %q must be HH:MM", ErrInvalidSchedule, raw)
	}
	return time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute, nil
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger *zap.Logger) Option {
	return func(runner *Runner) {
		if logger != nil {
			runner.logger = logger
		}
	}
}

// WithRecorder wires job metrics.
func WithRecorder(recorder Recorder) Option {
	return func(runner *Runner) {
		runner.recorder = recorder
	}
}

// WithPollInterval sets how often Run checks for due jobs.
func WithPollInterval(interval time.Duration) Option {
	return func(runner *Runner) {
		if interval > 0 {
			runner.pollInterval = interval
		}
	}
}

type jobState struct {
	job     Job
	lastDay time.Time
}

// Runner executes daily jobs sequentially against an injectable clock.
type Runner struct {
	mu           sync.Mutex
	jobs         []*jobState
	nowFn        func() time.Time
	pollInterval time.Duration
	logger       *zap.Logger
	recorder     Recorder
}

// NewRunner validates the jobs and returns a Runner.
func NewRunner(jobs []Job, now func() time.Time, options ...Option) (*Runner, error) {
	if now == nil {
		return nil, fmt.Errorf("%w: clock is nil", ErrInvalidSchedule)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: no jobs", ErrInvalidSchedule)
	}
	runner := &Runner{
		nowFn:        now,
		pollInterval: defaultPollInterval,
		logger:       zap.NewNop(),
	}
	seen := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		if job.Name == "" || job.Sweep == nil {
			return nil, fmt.Errorf("%w: job needs a name and a sweep", ErrInvalidSchedule)
		}
		if job.At < 0 || job.At >= 24*time.Hour {
			return nil, fmt.Errorf("%w: job %s must run within the day", ErrInvalidSchedule, job.Name)
		}
		if _, duplicate := seen[job.Name]; duplicate {
			return nil, fmt.Errorf("%w: duplicate job %s", ErrInvalidSchedule, job.Name)
		}
		seen[job.Name] = struct{}{}
		runner.jobs = append(runner.jobs, &jobState{job: job})
	}
	for _, option := range options {
		if option != nil {
			option(runner)
		}
	}
	return runner, nil
}

// Run polls for due jobs until ctx is cancelled.
func (runner *Runner) Run(ctx context.Context) error {
	runner.RunDue(ctx)
	ticker := time.NewTicker(runner.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runner.RunDue(ctx)
		}
	}
}

// RunDue runs every job whose time has come today and that has not run today.
func (runner *Runner) RunDue(ctx context.Context) []Result {
	runner.mu.Lock()
	defer runner.mu.Unlock()
	now := runner.nowFn().UTC()
	today := wallet.StartOfDay(now)
	var results []Result
	for _, state := range runner.jobs {
		if ctx.Err() != nil {
			break
		}
		if !state.lastDay.Before(today) || now.Before(today.Add(state.job.At)) {
			continue
		}
		results = append(results, runner.execute(ctx, state, now))
		state.lastDay = today
	}
	return results
}

// RunAll runs every job for asOf regardless of schedule. It does not change
// when the scheduled runs happen.
func (runner *Runner) RunAll(ctx context.Context, asOf time.Time) []Result {
	runner.mu.Lock()
	defer runner.mu.Unlock()
	results := make([]Result, 0, len(runner.jobs))
	for _, state := range runner.jobs {
		if ctx.Err() != nil {
			break
		}
		results = append(results, runner.execute(ctx, state, asOf.UTC()))
	}
	return results
}

func (runner *Runner) execute(ctx context.Context, state *jobState, asOf time.Time) Result {
	started := runner.nowFn()
	report, err := state.job.Sweep(ctx, asOf)
	if runner.recorder != nil {
		runner.recorder.ObserveSweep(state.job.Name, report, err)
	}
	fields := []zap.Field{
		zap.String("job", state.job.Name),
		zap.Time("as_of", asOf),
		zap.Int("scanned", report.Scanned),
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.String("points", report.Points.String()),
		zap.Duration("elapsed", runner.nowFn().Sub(started)),
	}
	if err != nil {
		runner.logger.Error("maintenance job failed", append(fields, zap.Error(err))...)
	} else {
		runner.logger.Info("maintenance job finished", fields...)
	}
	return Result{Job: state.job.Name, AsOf: asOf, Report: report, Err: err}
}
