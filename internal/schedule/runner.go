package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const stateFile = "digest_state.json"

// SignupCounter is the slice of the user store a digest needs.
type SignupCounter interface {
	CountUsersSince(ctx context.Context, since time.Time) (int, error)
}

// Sender delivers a digest message to named outputs. An empty name
// list means every registered output.
type Sender interface {
	SendTo(ctx context.Context, names []string, message string) error
}

// Runner executes configured signup digests on their schedules.
type Runner struct {
	cron     *Cron
	location *time.Location
	stateDir string
	counter  SignupCounter
	sender   Sender
}

// RunnerConfig configures a new Runner.
type RunnerConfig struct {
	Location *time.Location
	StateDir string // directory for run-state persistence (optional)
	Store    SignupCounter
	Outputs  Sender
	Timeout  time.Duration // per-run timeout, defaults to 30s
}

// NewRunner creates a new digest runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	cron := NewCron(cfg.Location)
	cron.SetJobTimeout(cfg.Timeout)

	return &Runner{
		cron:     cron,
		location: cfg.Location,
		stateDir: cfg.StateDir,
		counter:  cfg.Store,
		sender:   cfg.Outputs,
	}
}

// Add registers a digest. The reporting window opens at registration,
// so the first run covers signups from now until the first fire.
func (r *Runner) Add(name, every string, outputs []string) error {
	if name == "" {
		return fmt.Errorf("digest name is required")
	}

	ev, err := ParseEvery(every)
	if err != nil {
		return fmt.Errorf("digest %q: %w", name, err)
	}

	if r.cron.GetJob(name) != nil {
		return fmt.Errorf("digest %q already registered", name)
	}

	start := r.cron.now()
	r.cron.AddJob(&Job{
		ID:      name,
		Every:   ev,
		LastRun: &start,
		Handler: r.digestHandler(name, outputs),
	})
	return nil
}

// digestHandler builds the handler that counts signups in the job's
// window and pushes a one-line summary to the outputs.
func (r *Runner) digestHandler(name string, outputs []string) JobHandler {
	return func(ctx context.Context, job *Job) error {
		if r.counter == nil || r.sender == nil {
			return nil
		}

		var since time.Time
		if job.LastRun != nil {
			since = *job.LastRun
		}

		n, err := r.counter.CountUsersSince(ctx, since)
		if err != nil {
			return fmt.Errorf("count signups: %w", err)
		}
		if n == 0 {
			// Quiet window, nothing worth a ping.
			return nil
		}

		if err := r.sender.SendTo(ctx, outputs, digestMessage(name, n, since)); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		return nil
	}
}

// digestMessage formats the one-line summary sent to outputs.
func digestMessage(name string, count int, since time.Time) string {
	noun := "signups"
	if count == 1 {
		noun = "signup"
	}
	return fmt.Sprintf("[%s] %d new %s since %s", name, count, noun, since.UTC().Format("Jan 2 15:04 MST"))
}

// Start restores persisted run state and begins the schedule loop.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.loadState(); err != nil {
		log.Printf("[schedule] could not restore digest state: %v", err)
	}

	r.cron.Start(ctx)
	return nil
}

// Stop halts the loop, waits for in-flight digests and persists run
// state so a restart keeps its reporting windows.
func (r *Runner) Stop() error {
	r.cron.Stop()

	if r.stateDir == "" {
		return nil
	}
	if err := r.saveState(); err != nil {
		return fmt.Errorf("save digest state: %w", err)
	}
	return nil
}

// Jobs returns all registered digest jobs.
func (r *Runner) Jobs() []*Job {
	return r.cron.GetJobs()
}

// SetTimeFunc sets a custom time function (for testing).
func (r *Runner) SetTimeFunc(fn func() time.Time) {
	r.cron.SetTimeFunc(fn)
}

// Tick manually triggers a schedule check (for testing).
func (r *Runner) Tick() {
	r.cron.Tick()
}

// State persistence

// persistedState is the saved run state for restarts.
type persistedState struct {
	Digests []persistedDigest `json:"digests"`
}

type persistedDigest struct {
	Name    string     `json:"name"`
	Every   string     `json:"every"`
	NextRun time.Time  `json:"next_run"`
	LastRun *time.Time `json:"last_run,omitempty"`
}

// saveState persists the current run state to disk.
func (r *Runner) saveState() error {
	jobs := r.cron.GetJobs()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })

	state := persistedState{
		Digests: make([]persistedDigest, len(jobs)),
	}
	for i, job := range jobs {
		every := ""
		if job.Every != nil {
			every = job.Every.Raw
		}
		state.Digests[i] = persistedDigest{
			Name:    job.ID,
			Every:   every,
			NextRun: job.NextRun,
			LastRun: job.LastRun,
		}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(r.stateDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.stateDir, stateFile), data, 0600)
}

// loadState restores run state from disk. Configuration wins: state
// for digests that were removed or rescheduled is dropped, and a
// next-run in the past is recomputed rather than fired retroactively.
func (r *Runner) loadState() error {
	if r.stateDir == "" {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(r.stateDir, stateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}

	now := r.cron.now()
	for _, pd := range state.Digests {
		job := r.cron.GetJob(pd.Name)
		if job == nil || job.Every == nil || job.Every.Raw != pd.Every {
			continue
		}

		next := pd.NextRun
		if !next.After(now) {
			next = job.Every.Next(now, r.location)
		}
		r.cron.RestoreRun(pd.Name, next, pd.LastRun)
	}
	return nil
}
