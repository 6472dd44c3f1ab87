/*
scheduler.go - Daily ledger maintenance

PURPOSE:
  Runs two jobs on an independent timer:
  1. The overdue sweep (stale unpaid fees become OVERDUE)
  2. The social-event fee scan: events starting within +/-24 hours get
     their RSVP fees issued if the explicit trigger never fired

BOOKKEEPING:
  The last-run timestamp is recorded for display only. Duplicate prevention
  rests entirely on the issuer's per-(member, event, type) existence check,
  never on scheduler state.

USAGE:
  scheduler := NewScheduler(engine, eventSource)
  scheduler.Start()
  // ... later
  scheduler.Stop()
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/clubledger/finance-engine/engine"
	"github.com/clubledger/finance-engine/ledger"
)

// EventSource lets the scheduler discover upcoming events and their RSVPs.
// Nil disables the social-event scan (the explicit trigger still works).
type EventSource interface {
	EventsInWindow(ctx context.Context, from, to time.Time) ([]engine.Event, error)
	RSVPs(ctx context.Context, eventID ledger.EventID) ([]engine.RSVP, error)
}

// Scheduler runs the sweep and event scan on a fixed interval.
type Scheduler struct {
	Engine        *engine.Engine
	Events        EventSource
	CheckInterval time.Duration

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

func NewScheduler(eng *engine.Engine, events EventSource) *Scheduler {
	return &Scheduler{
		Engine:        eng,
		Events:        events,
		CheckInterval: 24 * time.Hour,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler. The first run happens immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)
	go s.run()

	log.Printf("[Scheduler] Started with check interval: %v", s.CheckInterval)
}

// Stop stops the scheduler. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	ticker := s.ticker
	s.ticker = nil
	s.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

// LastRun returns when the scheduler last completed a pass (display only).
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	s.runOnce()

	for {
		select {
		case <-s.ticker.C:
			s.runOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) runOnce() {
	ctx := context.Background()
	now := time.Now()

	promoted, err := s.Engine.SweepOverdue(ctx, now)
	if err != nil {
		log.Printf("[Scheduler] overdue sweep failed: %v", err)
	} else if promoted > 0 {
		overdueSwept.Add(float64(promoted))
		log.Printf("[Scheduler] promoted %d entries to OVERDUE", promoted)
	}

	s.scanUpcomingEvents(ctx, now)

	s.mu.Lock()
	s.lastRun = now
	s.mu.Unlock()
}

// scanUpcomingEvents issues social-event fees for events starting within
// +/-24 hours. Safe to repeat: issuance is idempotent per (member, event).
func (s *Scheduler) scanUpcomingEvents(ctx context.Context, now time.Time) {
	if s.Events == nil {
		return
	}

	events, err := s.Events.EventsInWindow(ctx, now.Add(-24*time.Hour), now.Add(24*time.Hour))
	if err != nil {
		log.Printf("[Scheduler] event scan failed: %v", err)
		return
	}

	for _, ev := range events {
		rsvps, err := s.Events.RSVPs(ctx, ev.ID)
		if err != nil {
			log.Printf("[Scheduler] RSVPs for event %s failed: %v", ev.ID, err)
			continue
		}
		issued := s.Engine.IssueEventFees(ctx, ev, rsvps)
		if len(issued) > 0 {
			feesIssued.WithLabelValues(string(ledger.FeeSocialEvent)).Add(float64(len(issued)))
			log.Printf("[Scheduler] issued %d fees for event %s", len(issued), ev.ID)
		}
	}
}
