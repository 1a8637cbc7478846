package schedule

import (
	"context"
	"log"
	"sync"
	"time"
)

const defaultJobTimeout = 30 * time.Second

// Job is one registered digest and its run bookkeeping. NextRun and
// LastRun are written only by the scheduler between runs; a handler may
// read them freely because a job never overlaps itself.
type Job struct {
	ID      string
	Every   *Every
	NextRun time.Time
	LastRun *time.Time
	Enabled bool
	Handler JobHandler

	running bool // guarded by Cron.mu
}

// JobHandler is called when a job is due. The context carries the
// per-run timeout.
type JobHandler func(ctx context.Context, job *Job) error

// Cron manages scheduled jobs and their execution timing.
type Cron struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	location   *time.Location
	jobTimeout time.Duration
	done       chan struct{}
	loopDone   chan struct{}
	running    bool
	wg         sync.WaitGroup // in-flight job goroutines

	// For testing: allows injecting a custom time source
	nowFunc func() time.Time
}

// NewCron creates a new cron scheduler with the specified timezone.
func NewCron(location *time.Location) *Cron {
	if location == nil {
		location = time.Local
	}
	return &Cron{
		jobs:       make(map[string]*Job),
		location:   location,
		jobTimeout: defaultJobTimeout,
		nowFunc:    time.Now,
	}
}

// SetTimeFunc sets a custom time function (for testing).
func (c *Cron) SetTimeFunc(fn func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowFunc = fn
}

// SetJobTimeout sets the per-run timeout applied to each handler.
func (c *Cron) SetJobTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.jobTimeout = d
	}
}

// now returns the current time using the configured time function.
func (c *Cron) now() time.Time {
	return c.nowFunc().In(c.location)
}

// AddJob registers a new job with the scheduler. NextRun is computed
// from the schedule unless the job already carries one.
func (c *Cron) AddJob(job *Job) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if job.NextRun.IsZero() && job.Every != nil {
		job.NextRun = job.Every.Next(c.now(), c.location)
	}
	job.Enabled = true
	c.jobs[job.ID] = job
}

// RemoveJob removes a job from the scheduler.
func (c *Cron) RemoveJob(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.jobs, id)
}

// GetJob returns a job by ID.
func (c *Cron) GetJob(id string) *Job {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jobs[id]
}

// GetJobs returns all registered jobs.
func (c *Cron) GetJobs() []*Job {
	c.mu.RLock()
	defer c.mu.RUnlock()

	jobs := make([]*Job, 0, len(c.jobs))
	for _, job := range c.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// RestoreRun overwrites a job's run bookkeeping with state restored
// from disk. Must not be called once the scheduler is started.
func (c *Cron) RestoreRun(id string, nextRun time.Time, lastRun *time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[id]
	if !ok {
		return false
	}
	if !nextRun.IsZero() {
		job.NextRun = nextRun
	}
	if lastRun != nil {
		job.LastRun = lastRun
	}
	return true
}

// Start begins the scheduler loop. The first check fires on the next
// minute boundary so clock schedules trigger close to their nominal
// time, then once a minute after that.
func (c *Cron) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.done = make(chan struct{})
	c.loopDone = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)
}

// Stop halts the scheduler and waits for the loop and any in-flight
// jobs to finish. Safe to call more than once.
func (c *Cron) Stop() {
	c.mu.Lock()
	if c.loopDone == nil {
		c.mu.Unlock()
		return
	}
	if c.running {
		c.running = false
		close(c.done)
	}
	loopDone := c.loopDone
	c.mu.Unlock()

	<-loopDone
	c.wg.Wait()
}

// run is the main ticker loop.
func (c *Cron) run(ctx context.Context) {
	defer close(c.loopDone)

	first := time.NewTimer(c.untilNextMinute())
	defer first.Stop()

	select {
	case <-ctx.Done():
		c.markStopped()
		return
	case <-c.done:
		return
	case <-first.C:
	}

	c.checkAndExecute()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.markStopped()
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.checkAndExecute()
		}
	}
}

func (c *Cron) markStopped() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *Cron) untilNextMinute() time.Duration {
	now := c.now()
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}

// checkAndExecute dispatches every due job in its own goroutine. A job
// that is still running from a previous tick is skipped, never
// overlapped.
func (c *Cron) checkAndExecute() {
	now := c.now()

	c.mu.Lock()
	var due []*Job
	for _, job := range c.jobs {
		if job.Enabled && !job.running && !job.NextRun.After(now) {
			job.running = true
			due = append(due, job)
		}
	}
	c.mu.Unlock()

	for _, job := range due {
		c.wg.Add(1)
		go func(job *Job) {
			defer c.wg.Done()
			c.executeJob(job, now)
		}(job)
	}
}

// executeJob runs a single job and updates its schedule. LastRun only
// advances on success so a failed digest re-covers its window on the
// next run.
func (c *Cron) executeJob(job *Job, now time.Time) {
	var err error
	if job.Handler != nil {
		c.mu.RLock()
		timeout := c.jobTimeout
		c.mu.RUnlock()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err = job.Handler(ctx, job)
		cancel()
		if err != nil {
			log.Printf("[schedule] %s: %v", job.ID, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	job.running = false
	if err == nil {
		job.LastRun = &now
	}
	if job.Every != nil {
		job.NextRun = job.Every.Next(c.now(), c.location)
	}
}

// Tick runs one check cycle and waits for the jobs it dispatched
// (for testing).
func (c *Cron) Tick() {
	c.checkAndExecute()
	c.wg.Wait()
}

// IsRunning returns whether the scheduler is currently running.
func (c *Cron) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// JobCount returns the number of registered jobs.
func (c *Cron) JobCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.jobs)
}

// EnableJob enables a previously disabled job and recomputes its next
// run so a long pause does not fire immediately.
func (c *Cron) EnableJob(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[id]
	if !ok {
		return false
	}

	job.Enabled = true
	if job.Every != nil {
		job.NextRun = job.Every.Next(c.now(), c.location)
	}
	return true
}

// DisableJob disables a job without removing it.
func (c *Cron) DisableJob(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[id]
	if !ok {
		return false
	}

	job.Enabled = false
	return true
}
