package roles

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// PeriodicJob runs a task on a fixed interval between Start and Stop.
type PeriodicJob struct {
	name       string
	interval   time.Duration
	runAtStart bool
	task       func(ctx context.Context) error
	logger     *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPeriodicJob builds a job. When runAtStart is set the first run happens
// immediately, otherwise after one interval.
func NewPeriodicJob(name string, interval time.Duration, runAtStart bool, task func(ctx context.Context) error, logger *log.Logger) *PeriodicJob {
	if logger == nil {
		logger = log.Default()
	}
	return &PeriodicJob{
		name:       name,
		interval:   interval,
		runAtStart: runAtStart,
		task:       task,
		logger:     logger,
	}
}

// GuildRecheckJob wraps Sweeper.RecheckQueued.
func GuildRecheckJob(s *Sweeper, interval time.Duration) *PeriodicJob {
	return NewPeriodicJob("guild-recheck", interval, true, func(ctx context.Context) error {
		dequeued, err := s.RecheckQueued(ctx)
		if len(dequeued) > 0 {
			s.logger.Printf("sweep: %d guild(s) reachable again: %v", len(dequeued), dequeued)
		}
		return err
	}, s.logger)
}

// ConsistencySweepJob wraps Sweeper.FullSweep.
func ConsistencySweepJob(s *Sweeper, interval time.Duration) *PeriodicJob {
	return NewPeriodicJob("consistency-sweep", interval, true, func(ctx context.Context) error {
		_, err := s.FullSweep(ctx)
		return err
	}, s.logger)
}

// Name identifies the job in logs and the module manager.
func (j *PeriodicJob) Name() string { return j.name }

// Start launches the loop. It fails if the job is already running.
func (j *PeriodicJob) Start(ctx context.Context) error {
	if j.interval <= 0 {
		return fmt.Errorf("%s: interval must be positive", j.name)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return fmt.Errorf("%s: already started", j.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	go j.loop(runCtx, j.done)
	j.logger.Printf("%s: started (interval=%v)", j.name, j.interval)
	return nil
}

// Stop cancels the loop and waits for an in-flight run to return.
func (j *PeriodicJob) Stop(ctx context.Context) {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (j *PeriodicJob) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	if j.runAtStart {
		j.runOnce(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *PeriodicJob) runOnce(ctx context.Context) {
	if err := j.task(ctx); err != nil && ctx.Err() == nil {
		j.logger.Printf("%s: run failed: %v", j.name, err)
	}
}

// RunNow executes the task synchronously, outside the schedule.
func (j *PeriodicJob) RunNow(ctx context.Context) error {
	return j.task(ctx)
}
