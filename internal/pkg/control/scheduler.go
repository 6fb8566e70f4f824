package control

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jake-scott/bravia-control/internal/pkg/logging"
	"github.com/jake-scott/bravia-control/internal/pkg/metrics"
)

// fixed-interval schedule; cron.Every() rounds to whole seconds
type intervalSchedule time.Duration

func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(time.Duration(s))
}

// scheduler runs a job at a fixed interval and makes sure only one job, or
// one on-demand operation, runs at a time.  Ticks that arrive while busy are
// dropped, not queued.
type scheduler struct {
	name string
	busy chan struct{}
	cron *cron.Cron
	wg   sync.WaitGroup
}

func newScheduler(name string) *scheduler {
	return &scheduler{
		name: name,
		busy: make(chan struct{}, 1),
	}
}

func (s *scheduler) tryAcquire() bool {
	select {
	case s.busy <- struct{}{}:
		return true
	default:
		return false
	}
}

// acquire waits until nothing else is running
func (s *scheduler) acquire(ctx context.Context) error {
	select {
	case s.busy <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *scheduler) release() {
	<-s.busy
}

// run job now unless busy
func (s *scheduler) tick(job func()) {
	if !s.tryAcquire() {
		metrics.ObservePoll(s.name, metrics.OutcomeDropped)
		logging.Logger(nil).Debugf("%s: busy, skipping tick", s.name)
		return
	}
	defer s.release()

	job()
}

// start runs job every interval and once straight away.  An interval of
// zero only runs the initial job.
func (s *scheduler) start(interval time.Duration, job func()) {
	if interval > 0 {
		cl := logging.CronLogger{Name: s.name}
		s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))
		s.cron.Schedule(intervalSchedule(interval), cron.FuncJob(func() {
			s.tick(job)
		}))
		s.cron.Start()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick(job)
	}()
}

// stop removes the schedule and waits for running jobs to finish
func (s *scheduler) stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}

	s.wg.Wait()
}
