// Package scheduler runs the periodic background jobs: SLA escalation,
// anchor sweeps, analytics flushes, view refreshes and outbox dispatch.
// Every job takes a Postgres advisory lock first, so running multiple
// service instances never doubles the work.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Locker is the advisory-lock surface of the database layer. A nil release
// func means the lock is held elsewhere; a non-nil one must be called to
// free the lock and its underlying session.
type Locker interface {
	TryAdvisoryLock(ctx context.Context, name string) (func(context.Context) error, error)
}

// Job is one unit of periodic work.
type Job struct {
	// Name doubles as the advisory lock key.
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	// Exclusive jobs take the advisory lock; per-process jobs (like the
	// analytics buffer flush) skip it.
	Exclusive bool
}

type Scheduler struct {
	locker Locker
	jobs   []Job

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(locker Locker) *Scheduler {
	return &Scheduler{locker: locker}
}

func (s *Scheduler) Add(j Job) {
	s.jobs = append(s.jobs, j)
}

// Start launches one goroutine per job. Each job also runs once shortly
// after boot rather than waiting a full interval.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		if j.Interval <= 0 || j.Run == nil {
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	log.Printf("scheduler: started %d jobs", len(s.jobs))
}

// Stop cancels all jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	defer s.wg.Done()

	// Stagger the first run to avoid a thundering herd at boot.
	first := time.NewTimer(j.Interval / 4)
	defer first.Stop()
	select {
	case <-ctx.Done():
		return
	case <-first.C:
		s.runOnce(ctx, j)
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j Job) {
	if j.Exclusive {
		release, err := s.locker.TryAdvisoryLock(ctx, "job:"+j.Name)
		if err != nil {
			log.Printf("scheduler: %s lock failed: %v", j.Name, err)
			return
		}
		if release == nil {
			return
		}
		defer func() {
			if err := release(ctx); err != nil {
				log.Printf("scheduler: %s unlock failed: %v", j.Name, err)
			}
		}()
	}

	start := time.Now()
	if err := j.Run(ctx); err != nil {
		log.Printf("scheduler: %s failed after %s: %v", j.Name, time.Since(start).Round(time.Millisecond), err)
		return
	}
}
