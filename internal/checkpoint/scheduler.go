package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nexus-orchestrator/nexus/internal/core"
	"github.com/nexus-orchestrator/nexus/internal/events"
	"github.com/nexus-orchestrator/nexus/internal/logging"
)

// SchedulerConfig controls when automatic checkpoints fire. The boolean
// toggles are pointers so an explicit false survives defaults merging;
// nil selects the default.
type SchedulerConfig struct {
	// Interval is the periodic checkpoint cadence for watched projects.
	// Zero selects the default; negative disables the timer, leaving
	// event triggers live.
	Interval time.Duration

	// OnFeatureComplete checkpoints a project whenever one of its
	// features finishes. Defaults to true.
	OnFeatureComplete *bool

	// OnRiskyOps captures a safety checkpoint before operations that
	// may corrupt project state. Defaults to true.
	OnRiskyOps *bool
}

// EffectiveConfig is the scheduler's resolved configuration: defaults
// merged with explicit overrides, plus the checkpoint manager's
// retention limit.
type EffectiveConfig struct {
	Interval          time.Duration
	OnFeatureComplete bool
	OnRiskyOps        bool
	MaxCheckpoints    int
}

// DefaultSchedulerConfig returns the scheduler defaults.
func DefaultSchedulerConfig() EffectiveConfig {
	return EffectiveConfig{
		Interval:          10 * time.Minute,
		OnFeatureComplete: true,
		OnRiskyOps:        true,
		MaxCheckpoints:    DefaultMaxCheckpoints,
	}
}

// merged resolves the configuration against the defaults.
func (c SchedulerConfig) merged() EffectiveConfig {
	eff := DefaultSchedulerConfig()
	if c.Interval != 0 {
		eff.Interval = c.Interval
	}
	if c.OnFeatureComplete != nil {
		eff.OnFeatureComplete = *c.OnFeatureComplete
	}
	if c.OnRiskyOps != nil {
		eff.OnRiskyOps = *c.OnRiskyOps
	}
	return eff
}

// Scheduler drives automatic checkpoints: a periodic timer per watched
// project plus reactions to feature-completion and task-escalation
// events. Escalations additionally open a human review.
type Scheduler struct {
	mgr      *Manager
	bus      *events.Bus
	reviewer core.Reviewer
	log      *logging.Logger
	cfg      EffectiveConfig

	mu       sync.Mutex
	running  bool
	cron     *cron.Cron
	projects map[string]cron.EntryID
	sub      <-chan events.Event
	done     chan struct{}
	wg       sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithReviewer attaches the human-review collaborator notified on task
// escalation.
func WithReviewer(r core.Reviewer) SchedulerOption {
	return func(s *Scheduler) { s.reviewer = r }
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(mgr *Manager, bus *events.Bus, log *logging.Logger, cfg SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	if log == nil {
		log = logging.NewNop()
	}
	s := &Scheduler{
		mgr:      mgr,
		bus:      bus,
		log:      log,
		cfg:      cfg.merged(),
		projects: make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetConfig returns the effective configuration after defaults merging.
func (s *Scheduler) GetConfig() EffectiveConfig {
	cfg := s.cfg
	if s.mgr != nil {
		cfg.MaxCheckpoints = s.mgr.MaxCheckpoints()
	}
	return cfg
}

// Running reports whether the scheduler is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start transitions the scheduler to running: the periodic timer starts
// and bus subscriptions become live. Starting a running scheduler is an
// error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.cron = cron.New()
	s.done = make(chan struct{})
	s.running = true

	// Re-register projects watched before this start.
	for projectID := range s.projects {
		id, err := s.addEntry(projectID)
		if err != nil {
			s.log.Warn("re-registering watched project failed", "project_id", projectID, "error", err)
			continue
		}
		s.projects[projectID] = id
	}
	s.cron.Start()

	if s.bus != nil {
		s.sub = s.bus.Subscribe(events.TypeFeatureCompleted, events.TypeTaskEscalated)
		s.wg.Add(1)
		go s.eventLoop(s.sub)
	}

	s.log.Info("checkpoint scheduler started", "interval", s.cfg.Interval)
	return nil
}

// Stop halts the timer and event handling. Idempotent; a stopped
// scheduler can be started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	sub := s.sub
	s.sub = nil
	cronStop := s.cron.Stop()
	s.mu.Unlock()

	// Deregister from the bus so a stopped scheduler's buffer does not
	// keep absorbing events.
	if s.bus != nil && sub != nil {
		s.bus.Unsubscribe(sub)
	}

	<-cronStop.Done()
	s.wg.Wait()
	s.log.Info("checkpoint scheduler stopped")
}

// Watch registers a project for periodic checkpoints. Watching an
// already-watched project is a no-op.
func (s *Scheduler) Watch(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[projectID]; ok {
		return nil
	}
	if !s.running {
		// Remembered and registered on the next Start.
		s.projects[projectID] = 0
		return nil
	}
	id, err := s.addEntry(projectID)
	if err != nil {
		return err
	}
	s.projects[projectID] = id
	return nil
}

// Unwatch removes a project's periodic checkpoint entry.
func (s *Scheduler) Unwatch(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.projects[projectID]
	if !ok {
		return
	}
	delete(s.projects, projectID)
	if s.running && id != 0 {
		s.cron.Remove(id)
	}
}

// CheckpointBeforeRiskyOp captures a safety checkpoint ahead of an
// operation that may corrupt project state, such as a bulk delete or a
// history rewrite. Returns (nil, nil) when the risky-op toggle is off.
func (s *Scheduler) CheckpointBeforeRiskyOp(ctx context.Context, projectID, operation string) (*core.Checkpoint, error) {
	if !s.cfg.OnRiskyOps {
		return nil, nil
	}
	name := fmt.Sprintf("pre-%s-%s", operation, time.Now().Format("20060102-150405"))
	return s.mgr.CreateCheckpoint(ctx, projectID, name, "before "+operation)
}

func (s *Scheduler) addEntry(projectID string) (cron.EntryID, error) {
	if s.cfg.Interval <= 0 {
		return 0, nil
	}
	return s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.Interval), func() {
		s.periodicCheckpoint(projectID)
	})
}

func (s *Scheduler) periodicCheckpoint(projectID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.mgr.CreateAutoCheckpoint(ctx, projectID, TriggerScheduled); err != nil {
		s.log.Warn("scheduled checkpoint failed", "project_id", projectID, "error", err)
	}
}

func (s *Scheduler) eventLoop(ch <-chan events.Event) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Scheduler) handleEvent(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch e := ev.(type) {
	case events.FeatureCompletedEvent:
		if !s.cfg.OnFeatureComplete {
			return
		}
		if _, err := s.mgr.CreateAutoCheckpoint(ctx, e.ProjectID(), TriggerFeatureComplete); err != nil {
			s.log.Warn("feature-complete checkpoint failed",
				"project_id", e.ProjectID(), "feature_id", e.FeatureID, "error", err)
		}

	case events.TaskEscalatedEvent:
		s.handleEscalation(ctx, e)
	}
}

// handleEscalation checkpoints the project unconditionally so the state
// at the moment of failure survives, then opens a human review carrying
// the exhausted QA context.
func (s *Scheduler) handleEscalation(ctx context.Context, e events.TaskEscalatedEvent) {
	cp, err := s.mgr.CreateAutoCheckpoint(ctx, e.ProjectID(), TriggerQAExhausted)
	if err != nil {
		s.log.Error("escalation checkpoint failed",
			"project_id", e.ProjectID(), "task_id", e.TaskID, "error", err)
	}

	if s.reviewer == nil {
		s.log.Warn("task escalated with no reviewer configured",
			"project_id", e.ProjectID(), "task_id", e.TaskID)
		return
	}

	reviewCtx := map[string]any{
		"qa_iterations": e.Iterations,
	}
	if e.LastError != "" {
		reviewCtx["last_error"] = e.LastError
	}
	if cp != nil {
		reviewCtx["checkpoint_id"] = cp.ID
	}

	if _, err := s.reviewer.RequestReview(ctx, core.ReviewRequest{
		TaskID:    e.TaskID,
		ProjectID: e.ProjectID(),
		Reason:    e.Reason,
		Context:   reviewCtx,
	}); err != nil {
		s.log.Error("opening review for escalated task failed",
			"project_id", e.ProjectID(), "task_id", e.TaskID, "error", err)
	}
}
