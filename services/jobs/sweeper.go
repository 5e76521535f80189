package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"permit_flow_app_go/services"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// Clock tells the sweeper what time it is
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock
type SystemClock struct{}

// Now returns the current time
func (SystemClock) Now() time.Time { return time.Now() }

// Sweeper periodically cancels permits whose end time passed while they
// were still waiting for the supervisor
type Sweeper struct {
	DB       *gorm.DB
	Clock    Clock
	Interval time.Duration
	// Notifier, when set, hears about every expired permit
	Notifier services.Notifier

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a sweeper on the wall clock
func NewSweeper(database *gorm.DB, interval time.Duration) *Sweeper {
	return &Sweeper{DB: database, Clock: SystemClock{}, Interval: interval}
}

// Tick runs one sweep. An incomplete state catalog skips the cycle; the
// next scheduled tick tries again.
func (s *Sweeper) Tick(ctx context.Context) (int64, error) {
	expired, err := services.ExpireOverdue(ctx, s.DB, s.Clock.Now())
	if errors.Is(err, services.ErrCatalogIncomplete) {
		log.Printf("[SWEEP] Skipping cycle: %v", err)
		return 0, err
	}
	if err != nil {
		log.Printf("[SWEEP] Sweep failed: %v", err)
		return 0, err
	}

	if s.Notifier != nil {
		for _, p := range expired {
			permit, err := services.GetPermit(s.DB.WithContext(ctx), p.ID)
			if err != nil {
				log.Printf("[SWEEP] Failed to reload %s: %v", p.Number(), err)
				continue
			}
			if err := s.Notifier.Notify(ctx, permit, services.EventExpired); err != nil {
				log.Printf("[WARNING] Failed to notify expiry of %s: %v", permit.Number(), err)
			}
		}
	}
	return int64(len(expired)), nil
}

// Start sweeps once right away and then every Interval
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	if s.Interval <= 0 {
		return fmt.Errorf("invalid sweep interval %s", s.Interval)
	}

	s.Tick(context.Background())

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Schedule(cron.Every(s.Interval), cron.FuncJob(func() {
		s.Tick(context.Background())
	}))
	c.Start()
	s.cron = c

	log.Printf("[SWEEP] Sweeper started, every %s", s.Interval)
	return nil
}

// Stop halts the schedule. The returned context is done once a running
// tick finishes.
func (s *Sweeper) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	ctx := s.cron.Stop()
	s.cron = nil
	return ctx
}
