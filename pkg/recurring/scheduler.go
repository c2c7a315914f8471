package recurring

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Clock abstracts time.Now so tests can drive the scheduler with a fake
// clock instead of waiting on wall time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock used outside tests.
var SystemClock Clock = systemClock{}

// Scheduler periodically evaluates active rules and drives the Materializer.
// One scheduler runs per process. Ticks are not re-entrant: if a pass is
// still running when the next tick fires, that tick is skipped. Passes for
// the same owner are serialized so two Materializer invocations never race on
// the same rule's watermark; different owners may be evaluated concurrently.
type Scheduler struct {
	// Clock and Interval may be replaced before Start. Defaults: wall
	// clock, one minute (matching how often the UI used to poll).
	Clock    Clock
	Interval time.Duration

	store        RuleStore
	materializer *Materializer
	log          zerolog.Logger

	ticking   atomic.Bool
	mu        sync.Mutex
	ownerLock map[uint]*sync.Mutex

	closeCh  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(store RuleStore, ledger Ledger, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		Clock:        SystemClock,
		Interval:     time.Minute,
		store:        store,
		materializer: NewMaterializer(store, ledger, log),
		log:          log,
		ownerLock:    map[uint]*sync.Mutex{},
		closeCh:      make(chan struct{}),
	}
}

// Start launches the background tick loop. It returns immediately; use Stop
// for a clean shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closeCh:
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	s.log.Info().Dur("interval", s.Interval).Msg("recurring scheduler started")
}

// Stop halts future ticks and waits for an in-flight pass to finish, or until
// ctx expires. An occurrence already inside the Materializer always runs to
// completion; stopping only ever lands between rules.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.closeCh) })
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Msg("recurring scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick runs one evaluation pass over every owner with active rules. A pass
// still in progress causes the tick to be skipped rather than queued.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		s.log.Debug().Msg("previous pass still running, skipping tick")
		return
	}
	defer s.ticking.Store(false)

	owners, err := s.store.ActiveOwners(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("listing owners with active rules failed, retrying next tick")
		return
	}
	for _, owner := range owners {
		if _, err := s.RunOnce(ctx, owner); err != nil {
			s.log.Warn().Err(err).Uint("owner_id", owner).Msg("evaluation pass failed")
		}
	}
}

// RunOnce evaluates all active rules of one owner and materializes every due
// occurrence. It is also the entry point for event-driven evaluation right
// after a rule is created. One broken rule does not block the others; its
// error is logged and the pass continues. The returned slice holds the
// transactions created during this pass.
func (s *Scheduler) RunOnce(ctx context.Context, ownerID uint) ([]Transaction, error) {
	lock := s.lockFor(ownerID)
	lock.Lock()
	defer lock.Unlock()

	rules, err := s.store.ActiveRules(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	var materialized []Transaction
	for _, r := range rules {
		d := Evaluate(r, now)
		if !d.Due {
			continue
		}
		tx, err := s.materializer.Apply(ctx, r, d.OccurrenceDate)
		if err != nil {
			if _, ok := err.(*WatermarkError); ok {
				// Ledger entry exists; keep it in the result and
				// carry on. Already logged at error level.
				materialized = append(materialized, tx)
				continue
			}
			s.log.Warn().Err(err).Str("rule_id", r.ID).Msg("materialization failed, will retry next tick")
			continue
		}
		materialized = append(materialized, tx)
	}
	return materialized, nil
}

func (s *Scheduler) lockFor(ownerID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ownerLock[ownerID]
	if !ok {
		l = &sync.Mutex{}
		s.ownerLock[ownerID] = l
	}
	return l
}
