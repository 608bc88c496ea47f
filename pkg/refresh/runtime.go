// Package refresh keeps stored query results current by re-running their commands on a
// schedule. Runs that target the same destination are serialized through a LockProvider,
// so several refresher instances can share one keyspace.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nimburion/tabular/pkg/config"
	"github.com/nimburion/tabular/pkg/engine"
	"github.com/nimburion/tabular/pkg/observability/logger"
	"github.com/nimburion/tabular/pkg/resilience"
)

const (
	DefaultDispatchTimeout = 30 * time.Second
	DefaultLockTTL         = 30 * time.Second
	DefaultRatePerSecond   = 10
	DefaultFailureCooldown = time.Minute

	lockKeyPrefix        = "refresh:"
	releaseTimeout       = 3 * time.Second
	minimumRenewInterval = 10 * time.Millisecond
)

// Config controls refresh runtime behavior.
type Config struct {
	DispatchTimeout time.Duration
	DefaultLockTTL  time.Duration
	// RatePerSecond caps how many runs start per second across all tasks.
	RatePerSecond float64
	Burst         int
	// FailureThreshold pauses a task's schedule after that many consecutive failed runs,
	// for FailureCooldown. Zero disables pausing. Manual runs are never paused.
	FailureThreshold int
	FailureCooldown  time.Duration
	Metrics          *Metrics
}

// ConfigFromSettings maps the refresh section of the service configuration.
func ConfigFromSettings(cfg config.RefreshConfig, m *Metrics) Config {
	return Config{
		DispatchTimeout:  cfg.DispatchTimeout,
		DefaultLockTTL:   cfg.LockTTL,
		RatePerSecond:    cfg.RatePerSecond,
		Burst:            cfg.Burst,
		FailureThreshold: cfg.FailureThreshold,
		FailureCooldown:  cfg.FailureCooldown,
		Metrics:          m,
	}
}

func (c *Config) normalize() {
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
	if c.DefaultLockTTL <= 0 {
		c.DefaultLockTTL = DefaultLockTTL
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = DefaultRatePerSecond
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.FailureThreshold > 0 && c.FailureCooldown <= 0 {
		c.FailureCooldown = DefaultFailureCooldown
	}
}

// TaskStatus is a snapshot of one task's recent history.
type TaskStatus struct {
	Name        string    `json:"name" yaml:"name"`
	Destination string    `json:"destination" yaml:"destination"`
	Runs        int64     `json:"runs" yaml:"runs"`
	Failures    int64     `json:"failures" yaml:"failures"`
	Skipped     int64     `json:"skipped" yaml:"skipped"`
	Paused      int64     `json:"paused" yaml:"paused"`
	LastRun     time.Time `json:"last_run,omitempty" yaml:"last_run,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty" yaml:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// Failing reports whether the most recent run ended in error.
func (s TaskStatus) Failing() bool {
	return s.LastError != ""
}

// Runtime runs registered tasks on their schedules.
type Runtime struct {
	exec    Executor
	lock    LockProvider
	log     logger.Logger
	limiter *rate.Limiter
	metrics *Metrics

	config Config

	mu       sync.Mutex
	tasks    map[string]*Task
	status   map[string]*TaskStatus
	breakers map[string]*resilience.CircuitBreaker
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewRuntime creates a refresh runtime.
func NewRuntime(exec Executor, lockProvider LockProvider, log logger.Logger, cfg Config) (*Runtime, error) {
	if exec == nil {
		return nil, refreshError(ErrInvalidArgument, "executor is required")
	}
	if lockProvider == nil {
		return nil, refreshError(ErrInvalidArgument, "lock provider is required")
	}
	if log == nil {
		return nil, refreshError(ErrInvalidArgument, "logger is required")
	}

	cfg.normalize()
	return &Runtime{
		exec:     exec,
		lock:     lockProvider,
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		metrics:  cfg.Metrics,
		config:   cfg,
		tasks:    map[string]*Task{},
		status:   map[string]*TaskStatus{},
		breakers: map[string]*resilience.CircuitBreaker{},
	}, nil
}

// Register validates and adds a task.
func (r *Runtime) Register(task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.Name]; exists {
		return refreshError(ErrConflict, fmt.Sprintf("task %q is already registered", task.Name))
	}
	r.tasks[task.Name] = &task
	r.status[task.Name] = &TaskStatus{Name: task.Name, Destination: task.Destination()}
	if r.config.FailureThreshold > 0 {
		r.breakers[task.Name] = resilience.NewCircuitBreaker(r.config.FailureThreshold, r.config.FailureCooldown)
	}
	return nil
}

// RegisterAll registers every configured task, reporting all invalid ones together.
func (r *Runtime) RegisterAll(tasks []config.RefreshTaskConfig) error {
	var errs []error
	for _, cfg := range tasks {
		if err := r.Register(TaskFromConfig(cfg)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tasks returns the registered task names, sorted.
func (r *Runtime) Tasks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Status returns a snapshot of every task, sorted by name.
func (r *Runtime) Status() []TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskStatus, 0, len(r.status))
	for _, s := range r.status {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b TaskStatus) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Start runs all registered tasks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil {
		return refreshError(ErrNotInitialized, "refresh runtime is not initialized")
	}
	if ctx == nil {
		return refreshError(ErrInvalidArgument, "context is required")
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return refreshError(ErrConflict, "refresh runtime already running")
	}
	if len(r.tasks) == 0 {
		r.mu.Unlock()
		return refreshError(ErrValidation, "no refresh tasks registered")
	}
	runningCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	tasks := make([]*Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		tasks = append(tasks, task)
	}
	r.mu.Unlock()

	r.log.Info("refresh runtime started", "tasks", len(tasks))
	for _, task := range tasks {
		r.wg.Add(1)
		go r.runTaskLoop(runningCtx, task)
	}

	<-runningCtx.Done()
	return r.Stop(context.Background())
}

// Stop requests shutdown and waits for active loops.
func (r *Runtime) Stop(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.cancel = nil
	r.running = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
		r.log.Info("refresh runtime stopped")
		return nil
	}
}

// RunNow executes one task immediately, outside its schedule.
func (r *Runtime) RunNow(ctx context.Context, name string) error {
	r.mu.Lock()
	task, ok := r.tasks[name]
	r.mu.Unlock()
	if !ok {
		return refreshError(ErrNotFound, name)
	}
	return r.runTask(ctx, task)
}

// runTaskLoop fires task at each scheduled slot. A slot that passed while the previous run
// was still executing is a misfire: skip drops it, fire_once runs it immediately once and
// then resumes from the present.
func (r *Runtime) runTaskLoop(ctx context.Context, task *Task) {
	defer r.wg.Done()

	last := time.Now().UTC()
	for {
		nextRun, err := task.nextRun(last)
		if err != nil {
			r.log.Error("refresh task has invalid schedule", "task", task.Name, "error", err)
			return
		}

		now := time.Now().UTC()
		misfired := nextRun.Before(now)
		if misfired && task.MisfirePolicy == MisfirePolicySkip {
			r.log.Warn("refresh slot missed, skipping", "task", task.Name, "slot", nextRun)
			last = now
			continue
		}

		timer := time.NewTimer(max(time.Until(nextRun), 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if breaker := r.breaker(task.Name); breaker != nil && !breaker.Allow() {
			r.pause(task)
		} else if err := r.runTask(ctx, task); err != nil && ctx.Err() == nil {
			r.log.Error("refresh run failed", "task", task.Name, "error", err)
		}

		if misfired {
			last = time.Now().UTC()
		} else {
			last = nextRun
		}
	}
}

func (r *Runtime) breaker(name string) *resilience.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakers[name]
}

// pause accounts for a scheduled slot dropped while the task backs off.
func (r *Runtime) pause(task *Task) {
	r.log.Warn("refresh task paused after repeated failures", "task", task.Name, "cooldown", r.config.FailureCooldown)
	r.metrics.recordRun(task.Name, statusPaused, time.Now().UTC())

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.status[task.Name]; ok {
		s.Paused++
	}
}

func lockKey(destination string) string {
	return lockKeyPrefix + destination
}

func (r *Runtime) runTask(ctx context.Context, task *Task) error {
	if err := r.limiter.Wait(ctx); err != nil {
		if breaker := r.breaker(task.Name); breaker != nil {
			breaker.Abandon()
		}
		return err
	}

	runID := uuid.NewString()
	started := time.Now().UTC()
	log := r.log.With("task", task.Name, "destination", task.Destination(), "run_id", runID)

	ttl := task.LockTTL
	if ttl <= 0 {
		ttl = r.config.DefaultLockTTL
	}

	lease, acquired, err := r.lock.Acquire(ctx, lockKey(task.Destination()), ttl)
	if err != nil {
		err = fmt.Errorf("acquire lock failed: %w", err)
		r.finish(task, started, err, false)
		return err
	}
	if !acquired {
		log.Debug("destination locked by another refresher, skipping run")
		r.finish(task, started, nil, true)
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, r.config.DispatchTimeout)
	defer cancel()
	stopRenew := r.keepAlive(runCtx, cancel, task, lease, ttl)

	r.metrics.incInFlight(task.Name)
	reply, execErr := r.exec.Run(logger.ContextWithQueryID(runCtx, runID), task.Query())
	r.metrics.decInFlight(task.Name)
	lost := stopRenew()

	releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer releaseCancel()
	releaseErr := r.lock.Release(releaseCtx, lease)
	if lost != nil {
		// the lease is already gone; a rejected release is expected
		releaseErr = nil
		execErr = errors.Join(lost, execErr)
	}

	runErr := errors.Join(execErr, releaseErr)
	r.finish(task, started, runErr, false)
	if runErr != nil {
		return runErr
	}

	if reply.Kind == engine.ReplyNil {
		log.Info("refresh found no qualifying rows, destination left unchanged", "elapsed", time.Since(started))
	} else {
		log.Info("refresh completed", "elapsed", time.Since(started))
	}
	return nil
}

// keepAlive renews the lease at half its TTL until the returned stop func is called. A
// rejected renewal means another instance may now own the destination, so the run is
// cancelled. stop returns the renewal error that caused a cancellation, if any.
func (r *Runtime) keepAlive(ctx context.Context, cancel context.CancelFunc, task *Task, lease *LockLease, ttl time.Duration) func() error {
	done := make(chan struct{})
	var (
		once sync.Once
		lost error
		wg   sync.WaitGroup
	)

	interval := max(ttl/2, minimumRenewInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.lock.Renew(ctx, lease, ttl); err != nil {
					if ctx.Err() != nil {
						return
					}
					r.metrics.recordLockRenew(task.Name, statusError)
					r.log.Warn("refresh lock renewal failed, cancelling run", "task", task.Name, "error", err)
					lost = errors.Join(refreshError(ErrConflict, "destination lock lost"), err)
					cancel()
					return
				}
				r.metrics.recordLockRenew(task.Name, statusOK)
			}
		}
	}()

	return func() error {
		once.Do(func() { close(done) })
		wg.Wait()
		return lost
	}
}

func (r *Runtime) finish(task *Task, at time.Time, err error, skipped bool) {
	status := statusOK
	switch {
	case skipped:
		status = statusSkipped
	case err != nil:
		status = statusError
	}
	r.metrics.recordRun(task.Name, status, at)

	r.mu.Lock()
	defer r.mu.Unlock()
	if breaker := r.breakers[task.Name]; breaker != nil {
		if skipped {
			breaker.Abandon()
		} else {
			breaker.Record(err)
		}
	}
	s, ok := r.status[task.Name]
	if !ok {
		return
	}
	s.LastRun = at
	switch {
	case skipped:
		s.Skipped++
	case err != nil:
		s.Runs++
		s.Failures++
		s.LastError = err.Error()
	default:
		s.Runs++
		s.LastSuccess = at
		s.LastError = ""
	}
}
