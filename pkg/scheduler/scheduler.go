package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/panfm/panfm/pkg/log"
	"github.com/panfm/panfm/pkg/metrics"
	"github.com/panfm/panfm/pkg/types"
)

// Package variables rather than constants so tests can shrink the timing.
var (
	tickInterval = time.Second
	drainTimeout = 30 * time.Second
)

const (
	workerCount         = 3
	defaultMisfireGrace = 60 * time.Second
)

// Job is one unit of recurring work. Exactly one of Every or DailyAt must be
// set: Every runs the job on a fixed interval starting immediately, DailyAt
// runs it once per day at the given UTC wall time in "15:04" layout.
type Job struct {
	Name    string
	Every   time.Duration
	DailyAt string

	// MisfireGrace bounds how late a firing may start. A firing that cannot
	// begin within the grace of its scheduled time is skipped and counted as
	// a misfire instead of running late. Zero means 60 seconds.
	MisfireGrace time.Duration

	Run func(ctx context.Context) error
}

// JobStatus is a point-in-time snapshot of one job's schedule and counters.
type JobStatus struct {
	Name           string         `json:"name"`
	Schedule       string         `json:"schedule"`
	NextRun        types.ISOTime  `json:"next_run"`
	LastRun        *types.ISOTime `json:"last_run,omitempty"`
	LastDurationMS int64          `json:"last_duration_ms,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	Running        bool           `json:"running"`
	Runs           int64          `json:"runs"`
	Errors         int64          `json:"errors"`
	Misfires       int64          `json:"misfires"`
}

type jobState struct {
	Job

	next     time.Time
	inFlight bool

	runs         int64
	errors       int64
	misfires     int64
	lastRun      time.Time
	lastErr      string
	lastDuration time.Duration
}

// Scheduler runs registered jobs on their schedules through a small worker
// pool. At most one instance of a job runs at a time; firings that pile up
// behind a slow run coalesce into a single run once the job frees up.
type Scheduler struct {
	logger zerolog.Logger

	mu       sync.Mutex
	jobs     map[string]*jobState
	order    []string
	started  bool
	stopping bool

	workCh chan *jobState
	stopCh chan struct{}
	cancel context.CancelFunc

	loopWG sync.WaitGroup
	workWG sync.WaitGroup

	now func() time.Time
}

// New creates an empty scheduler. Register jobs with Add, then call Start.
func New() *Scheduler {
	return &Scheduler{
		logger: log.WithComponent("scheduler"),
		jobs:   make(map[string]*jobState),
		workCh: make(chan *jobState, 16),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Add registers a job. Jobs may be added before or after Start.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return errors.New("scheduler: job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %s has no run function", job.Name)
	}
	if (job.Every > 0) == (job.DailyAt != "") {
		return fmt.Errorf("scheduler: job %s must set exactly one of an interval or a daily time", job.Name)
	}
	if job.DailyAt != "" {
		if _, err := time.Parse("15:04", job.DailyAt); err != nil {
			return fmt.Errorf("scheduler: job %s: invalid daily time %q", job.Name, job.DailyAt)
		}
	}
	if job.MisfireGrace < 0 {
		return fmt.Errorf("scheduler: job %s has negative misfire grace", job.Name)
	}
	if job.MisfireGrace == 0 {
		job.MisfireGrace = defaultMisfireGrace
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("scheduler: job %s already registered", job.Name)
	}
	st := &jobState{Job: job}
	if s.started {
		st.next = firstFire(job, s.now())
	}
	s.jobs[job.Name] = st
	s.order = append(s.order, job.Name)
	return nil
}

// Reschedule changes the interval of a registered interval job in place. The
// next firing is one new interval from now.
func (s *Scheduler) Reschedule(name string, every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %s", every)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("scheduler: unknown job %s", name)
	}
	if j.Every <= 0 {
		return fmt.Errorf("scheduler: job %s runs on a daily schedule", name)
	}
	if every == j.Every {
		return nil
	}
	old := j.Every
	j.Every = every
	if s.started {
		j.next = s.now().Add(every)
	}
	s.logger.Info().Str("job", name).Dur("from", old).Dur("to", every).Msg("Job rescheduled")
	return nil
}

// Start begins the scheduling loop and the worker pool. Jobs receive
// contexts derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler: already started")
	}
	s.started = true
	now := s.now()
	for _, name := range s.order {
		j := s.jobs[name]
		j.next = firstFire(j.Job, now)
	}
	n := len(s.jobs)
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < workerCount; i++ {
		s.workWG.Add(1)
		go s.worker(runCtx)
	}
	s.loopWG.Add(1)
	go s.run()

	s.logger.Info().Int("jobs", n).Msg("Scheduler started")
	return nil
}

// Stop halts dispatch and waits for in-flight runs to finish. Runs that do
// not finish within the drain window are abandoned with their context
// canceled, and Stop reports an error.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopping {
		s.mu.Unlock()
		return errors.New("scheduler: not running")
	}
	s.stopping = true
	s.mu.Unlock()

	close(s.stopCh)
	s.loopWG.Wait()
	close(s.workCh)

	done := make(chan struct{})
	go func() {
		s.workWG.Wait()
		close(done)
	}()

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		s.cancel()
		s.logger.Info().Msg("Scheduler stopped")
		return nil
	case <-timer.C:
		s.cancel()
		return errors.New("scheduler: shutdown timed out with jobs still running")
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("scheduler: shutdown interrupted: %w", ctx.Err())
	}
}

// Status reports every job in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		j := s.jobs[name]
		st := JobStatus{
			Name:      j.Name,
			NextRun:   types.NewISOTime(j.next),
			LastError: j.lastErr,
			Running:   j.inFlight,
			Runs:      j.runs,
			Errors:    j.errors,
			Misfires:  j.misfires,
		}
		if j.Every > 0 {
			st.Schedule = fmt.Sprintf("every %s", j.Every)
		} else {
			st.Schedule = fmt.Sprintf("daily at %s UTC", j.DailyAt)
		}
		if !j.lastRun.IsZero() {
			lr := types.NewISOTime(j.lastRun)
			st.LastRun = &lr
			st.LastDurationMS = j.lastDuration.Milliseconds()
		}
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) run() {
	defer s.loopWG.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(s.now())
		case <-s.stopCh:
			return
		}
	}
}

// tick dispatches every due job. A due job whose previous run is still in
// flight stays due and fires once when the job frees up; a due job that is
// already past its misfire grace is skipped and counted instead.
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.order {
		j := s.jobs[name]
		if j.next.IsZero() || now.Before(j.next) {
			continue
		}
		if now.Sub(j.next) > j.MisfireGrace {
			j.misfires++
			metrics.JobMisfiresTotal.WithLabelValues(j.Name).Inc()
			s.logger.Warn().
				Str("job", j.Name).
				Time("scheduled", j.next).
				Dur("late", now.Sub(j.next)).
				Msg("Job misfired, skipping run")
			j.advance(now)
			continue
		}
		if j.inFlight {
			continue
		}
		select {
		case s.workCh <- j:
			j.inFlight = true
			j.advance(now)
		default:
			// Queue full. Retry next tick while still within grace.
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.workWG.Done()
	for j := range s.workCh {
		s.runJob(ctx, j)
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *jobState) {
	start := time.Now()
	err := invoke(ctx, j.Run)
	elapsed := time.Since(start)

	metrics.JobRunsTotal.WithLabelValues(j.Name).Inc()
	metrics.JobDuration.WithLabelValues(j.Name).Observe(elapsed.Seconds())
	if err != nil {
		metrics.JobErrorsTotal.WithLabelValues(j.Name).Inc()
	}

	s.mu.Lock()
	j.inFlight = false
	j.runs++
	j.lastRun = start
	j.lastDuration = elapsed
	if err != nil {
		j.errors++
		j.lastErr = err.Error()
	} else {
		j.lastErr = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("job", j.Name).Dur("elapsed", elapsed).Msg("Job failed")
		return
	}
	s.logger.Debug().Str("job", j.Name).Dur("elapsed", elapsed).Msg("Job completed")
}

// invoke runs the job function, converting a panic into an error so one bad
// job cannot take down the daemon.
func invoke(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return run(ctx)
}

// advance moves the job's next fire time past now. Interval jobs keep their
// original cadence, so several missed periods collapse into one firing.
func (j *jobState) advance(now time.Time) {
	if j.Every > 0 {
		if j.next.IsZero() {
			j.next = now.Add(j.Every)
			return
		}
		for !j.next.After(now) {
			j.next = j.next.Add(j.Every)
		}
		return
	}
	j.next = nextDaily(j.DailyAt, now)
}

func firstFire(job Job, now time.Time) time.Time {
	if job.Every > 0 {
		// Interval jobs fire on the first tick after Start.
		return now
	}
	return nextDaily(job.DailyAt, now)
}

func nextDaily(at string, now time.Time) time.Time {
	wall, err := time.Parse("15:04", at)
	if err != nil {
		// Validated in Add; unreachable for registered jobs.
		return now.Add(24 * time.Hour)
	}
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), wall.Hour(), wall.Minute(), 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
