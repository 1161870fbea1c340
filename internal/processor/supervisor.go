package processor

import (
	"context"
	"sync"
	"time"

	"slot-ledger-go/internal/lease"
	"slot-ledger-go/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SupervisorConfig holds the dependencies shared by every scheduled job
type SupervisorConfig struct {
	Lease   lease.Lease
	Metrics *metrics.Metrics
	// TickTimeout bounds a single tick; zero means the job's own interval.
	TickTimeout time.Duration
}

// Supervisor runs each job on its own interval. A job never overlaps itself
// and, with a shared lease, never runs on two instances at once.
type Supervisor struct {
	config SupervisorConfig
	cron   *cron.Cron
	chain  cron.Chain
	jobs   []scheduledJob

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

type scheduledJob struct {
	job      Job
	interval time.Duration
	run      cron.Job
}

func NewSupervisor(config SupervisorConfig) *Supervisor {
	if config.Lease == nil {
		config.Lease = lease.Noop{}
	}
	logger := cronLogger{zap.L().Sugar()}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		config: config,
		cron:   cron.New(cron.WithLogger(logger)),
		chain:  cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job. Must be called before Start.
func (s *Supervisor) Add(job Job, interval time.Duration) {
	sj := scheduledJob{job: job, interval: interval}
	sj.run = s.chain.Then(cron.FuncJob(func() { s.runTick(sj) }))
	s.jobs = append(s.jobs, sj)
}

// Start schedules every job and fires one immediate tick each
func (s *Supervisor) Start() {
	s.startOnce.Do(func() {
		for _, sj := range s.jobs {
			s.cron.Schedule(cron.Every(sj.interval), sj.run)
			zap.L().Info("Processor scheduled",
				zap.String("processor", sj.job.Name()),
				zap.Duration("interval", sj.interval))
		}
		s.cron.Start()

		for _, sj := range s.jobs {
			s.wg.Add(1)
			go func(run cron.Job) {
				defer s.wg.Done()
				run.Run()
			}(sj.run)
		}
		zap.L().Info("Processor supervisor started", zap.Int("jobs", len(s.jobs)))
	})
}

// Stop cancels in-flight ticks and waits for them to return
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		zap.L().Info("Stopping processor supervisor")
		s.cancel()
		<-s.cron.Stop().Done()
		s.wg.Wait()
		zap.L().Info("Processor supervisor stopped")
	})
}

func (s *Supervisor) runTick(sj scheduledJob) {
	name := sj.job.Name()

	timeout := s.config.TickTimeout
	if timeout <= 0 {
		timeout = sj.interval
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	if ctx.Err() != nil {
		return
	}

	release, ok, err := s.config.Lease.Acquire(ctx, name)
	if err != nil {
		s.config.Metrics.ObserveTickSkipped(name)
		zap.L().Warn("Failed to acquire processor lease", zap.String("processor", name), zap.Error(err))
		return
	}
	if !ok {
		s.config.Metrics.ObserveTickSkipped(name)
		zap.L().Debug("Processor lease held elsewhere", zap.String("processor", name))
		return
	}
	defer release()

	start := time.Now()
	result, err := sj.job.Tick(ctx)
	took := time.Since(start)
	s.config.Metrics.ObserveTick(name, took, err)

	fields := append(result.fields(), zap.String("processor", name), zap.Duration("took", took))
	if err != nil {
		zap.L().Error("Processor tick failed", append(fields, zap.Error(err))...)
		return
	}
	if result.Updated > 0 || result.Failed > 0 {
		zap.L().Info("Processor tick complete", fields...)
	} else {
		zap.L().Debug("Processor tick complete", fields...)
	}
}

// cronLogger routes cron's internal logging through zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
