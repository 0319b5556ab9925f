// Package scheduler drives the discovery engine on two cadences: a cheap
// quick check of one result page and a guaranteed periodic full scrape.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/listing-radar/internal/discovery"
)

// Default cadences.
const (
	DefaultQuickCheckInterval = 2 * time.Minute
	DefaultFullScrapeInterval = 30 * time.Minute
)

var (
	// ErrBusy is returned by a tick that found a scrape in progress.
	ErrBusy = eris.New("scheduler: scrape in progress")
	// ErrRunning is returned by Start on a running scheduler.
	ErrRunning = eris.New("scheduler: already running")
)

// State is the scheduler's position in its state machine.
type State int32

const (
	Idle State = iota
	QuickChecking
	FullScraping
)

// States lists every State.
var States = []State{Idle, QuickChecking, FullScraping}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case QuickChecking:
		return "quick_checking"
	case FullScraping:
		return "full_scraping"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// QuickOutcome is the result of one quick check tick.
type QuickOutcome string

const (
	QuickFirstRun  QuickOutcome = "first_run"
	QuickNoChange  QuickOutcome = "no_change"
	QuickTriggered QuickOutcome = "triggered"
	QuickBusy      QuickOutcome = "skipped_busy"
	QuickError     QuickOutcome = "error"
)

// Engine is the discovery work the scheduler drives.
type Engine interface {
	FullScrape(ctx context.Context, trigger discovery.Trigger) (discovery.CycleReport, error)
	QuickCheck(ctx context.Context, category string) ([]string, error)
	Halt()
	Resume()
	CurrentCycle() *discovery.CycleInfo
}

// Config sets the cadences.
type Config struct {
	QuickCheckInterval time.Duration
	FullScrapeInterval time.Duration
	QuickCheckCategory string
	// MaxSafetyPages is reported in Status; the paginator enforces it.
	MaxSafetyPages int
	// ScrapeOnStart runs one full scrape as soon as Start is called.
	ScrapeOnStart bool
}

// Hooks observe the scheduler. Every hook is optional.
type Hooks struct {
	OnCycle      func(discovery.CycleReport)
	OnQuickCheck func(QuickOutcome)
	OnState      func(State)
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	IsRunning          bool                   `json:"is_running"`
	State              State                  `json:"state"`
	CurrentCycle       *discovery.CycleInfo   `json:"current_cycle,omitempty"`
	LastQuickCheckTime *time.Time             `json:"last_quick_check_time,omitempty"`
	LastFullScrapeTime *time.Time             `json:"last_full_scrape_time,omitempty"`
	MutexHeld          bool                   `json:"mutex_held"`
	LastCycle          *discovery.CycleReport `json:"last_cycle,omitempty"`
	LastError          string                 `json:"last_error,omitempty"`
	QuickCheckInterval string                 `json:"quick_check_interval"`
	FullScrapeInterval string                 `json:"full_scrape_interval"`
	MaxSafetyPages     int                    `json:"max_safety_pages"`
}

// Scheduler owns both cadences. At most one scrape runs at a time; a tick
// that finds the lock held is skipped, never queued.
type Scheduler struct {
	engine Engine
	cfg    Config
	clock  Clock
	hooks  Hooks
	log    *zap.Logger

	lock  *semaphore.Weighted
	held  atomic.Bool
	state atomic.Int32

	mu         sync.Mutex
	running    bool
	stop       chan struct{}
	done       chan struct{}
	lastQuick  time.Time
	lastFull   time.Time
	lastReport *discovery.CycleReport
	lastErr    string
	snapshots  map[string]map[string]struct{}
}

// New creates a Scheduler. A nil clock uses the wall clock.
func New(engine Engine, cfg Config, clock Clock, hooks Hooks) *Scheduler {
	if cfg.QuickCheckInterval <= 0 {
		cfg.QuickCheckInterval = DefaultQuickCheckInterval
	}
	if cfg.FullScrapeInterval <= 0 {
		cfg.FullScrapeInterval = DefaultFullScrapeInterval
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		engine:    engine,
		cfg:       cfg,
		clock:     clock,
		hooks:     hooks,
		log:       zap.L().With(zap.String("component", "scheduler")),
		lock:      semaphore.NewWeighted(1),
		snapshots: make(map[string]map[string]struct{}),
	}
}

// Start arms both cadences. Ticks run until Stop is called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	s.engine.Resume()
	s.setState(Idle)
	s.log.Info("scheduler started",
		zap.Duration("quick_check_interval", s.cfg.QuickCheckInterval),
		zap.Duration("full_scrape_interval", s.cfg.FullScrapeInterval),
		zap.String("quick_check_category", s.cfg.QuickCheckCategory),
	)

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.QuickCheckCategory != "" {
		g.Go(func() error {
			return s.loop(gctx, stop, s.cfg.QuickCheckInterval, func(ctx context.Context) {
				s.TickQuick(ctx) //nolint:errcheck
			})
		})
	}
	g.Go(func() error {
		if s.cfg.ScrapeOnStart {
			s.tickFull(gctx, discovery.TriggerSchedule)
		}
		return s.loop(gctx, stop, s.cfg.FullScrapeInterval, func(ctx context.Context) {
			s.tickFull(ctx, discovery.TriggerSchedule)
		})
	})

	go func() {
		if err := g.Wait(); err != nil {
			s.log.Error("scheduler loop failed", zap.Error(err))
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
		s.log.Info("scheduler stopped")
	}()
	return nil
}

// Stop halts the engine, lets the in-flight request finish and waits for
// both loops to exit. It is a no-op on a stopped scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stop, done := s.stop, s.done
	select {
	case <-stop:
	default:
		close(stop)
	}
	s.mu.Unlock()

	s.engine.Halt()
	<-done
}

// Done is closed when the loops of the current run have exited.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, every time.Duration, tick func(context.Context)) error {
	t := s.clock.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case <-t.C():
			select {
			case <-stop:
				return nil
			default:
			}
			tick(ctx)
		}
	}
}

// TickQuick polls page 1 of the quick check category and compares its ids
// with the previous poll. Any unseen id starts a full scrape immediately,
// without releasing the lock. The first poll only records a baseline.
func (s *Scheduler) TickQuick(ctx context.Context) (outcome QuickOutcome, err error) {
	if !s.acquire() {
		s.quickOutcome(QuickBusy)
		s.log.Debug("quick check skipped, scrape in progress")
		return QuickBusy, ErrBusy
	}
	defer s.release()
	defer s.recoverCycle(&err)

	category := s.cfg.QuickCheckCategory
	s.setState(QuickChecking)
	ids, err := s.engine.QuickCheck(ctx, category)

	s.mu.Lock()
	s.lastQuick = s.clock.Now()
	if err != nil {
		s.lastErr = err.Error()
		s.mu.Unlock()
		s.quickOutcome(QuickError)
		s.log.Warn("quick check failed", zap.String("category", category), zap.Error(err))
		return QuickError, err
	}
	prev, seen := s.snapshots[category]
	next := make(map[string]struct{}, len(ids))
	var fresh []string
	for _, id := range ids {
		next[id] = struct{}{}
		if _, ok := prev[id]; seen && !ok {
			fresh = append(fresh, id)
		}
	}
	s.snapshots[category] = next
	s.mu.Unlock()

	switch {
	case !seen:
		s.quickOutcome(QuickFirstRun)
		s.log.Info("quick check baseline recorded", zap.String("category", category), zap.Int("ids", len(ids)))
		return QuickFirstRun, nil
	case len(fresh) == 0:
		s.quickOutcome(QuickNoChange)
		return QuickNoChange, nil
	}

	s.quickOutcome(QuickTriggered)
	s.log.Info("quick check found new listings", zap.String("category", category), zap.Strings("new_ids", fresh))
	_, err = s.runFull(ctx, discovery.TriggerQuickCheck)
	return QuickTriggered, err
}

// TickFull runs a full scrape unless one is already in progress.
func (s *Scheduler) TickFull(ctx context.Context, trigger discovery.Trigger) (report discovery.CycleReport, err error) {
	if !s.acquire() {
		s.log.Info("full scrape skipped, scrape in progress", zap.String("trigger", string(trigger)))
		return discovery.CycleReport{}, ErrBusy
	}
	defer s.release()
	defer s.recoverCycle(&err)
	return s.runFull(ctx, trigger)
}

func (s *Scheduler) tickFull(ctx context.Context, trigger discovery.Trigger) {
	if _, err := s.TickFull(ctx, trigger); err != nil && !eris.Is(err, ErrBusy) {
		s.log.Error("full scrape failed, scheduler stays armed", zap.Error(err))
	}
}

func (s *Scheduler) runFull(ctx context.Context, trigger discovery.Trigger) (discovery.CycleReport, error) {
	s.setState(FullScraping)
	report, err := s.engine.FullScrape(ctx, trigger)

	s.mu.Lock()
	s.lastFull = s.clock.Now()
	s.lastReport = &report
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()

	if s.hooks.OnCycle != nil {
		s.hooks.OnCycle(report)
	}
	return report, err
}

// recoverCycle turns a panic inside a tick into an error so the lock is
// released and the scheduler stays armed.
func (s *Scheduler) recoverCycle(err *error) {
	if r := recover(); r != nil {
		*err = eris.Errorf("scheduler: cycle panicked: %v", r)
		s.mu.Lock()
		s.lastErr = (*err).Error()
		s.mu.Unlock()
		s.log.Error("cycle panicked", zap.Any("panic", r))
	}
}

func (s *Scheduler) acquire() bool {
	if !s.lock.TryAcquire(1) {
		return false
	}
	s.held.Store(true)
	return true
}

func (s *Scheduler) release() {
	s.setState(Idle)
	s.held.Store(false)
	s.lock.Release(1)
}

func (s *Scheduler) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	if s.hooks.OnState != nil {
		s.hooks.OnState(st)
	}
}

func (s *Scheduler) quickOutcome(o QuickOutcome) {
	if s.hooks.OnQuickCheck != nil {
		s.hooks.OnQuickCheck(o)
	}
}

// State returns the current state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Status returns a snapshot for the status endpoint.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		IsRunning:          s.running,
		State:              s.State(),
		CurrentCycle:       s.engine.CurrentCycle(),
		MutexHeld:          s.held.Load(),
		LastCycle:          s.lastReport,
		LastError:          s.lastErr,
		QuickCheckInterval: s.cfg.QuickCheckInterval.String(),
		FullScrapeInterval: s.cfg.FullScrapeInterval.String(),
		MaxSafetyPages:     s.cfg.MaxSafetyPages,
	}
	if !s.lastQuick.IsZero() {
		t := s.lastQuick
		st.LastQuickCheckTime = &t
	}
	if !s.lastFull.IsZero() {
		t := s.lastFull
		st.LastFullScrapeTime = &t
	}
	return st
}
