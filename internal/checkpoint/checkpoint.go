// Package checkpoint periodically flushes tracking state to the store.
package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "friendwatch/pkg/logx"
)

const DefaultSpec = "@every 10m"

// Flusher is the state that gets checkpointed.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Scheduler runs Flush on a cron schedule. The schedule can be swapped at
// runtime with Reschedule.
type Scheduler struct {
	mu      sync.Mutex
	c       *cron.Cron
	entry   cron.EntryID
	spec    string
	parser  cron.Parser
	target  Flusher
	timeout time.Duration
	log     logx.Logger

	runs     atomic.Uint64
	failures atomic.Uint64
	lastRun  atomic.Int64 // unix nanos
}

type Stats struct {
	Spec     string
	Runs     uint64
	Failures uint64
	LastRun  time.Time
	Next     time.Time
}

func New(target Flusher, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := cronParser()
	return &Scheduler{
		parser:  p,
		c:       cron.New(cron.WithParser(p), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		target:  target,
		timeout: 30 * time.Second,
		log:     log,
	}
}

// Reschedule replaces the schedule. An empty spec uses DefaultSpec and "off"
// disables checkpoints.
// Validate checks a schedule spec without installing it.
func Validate(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.EqualFold(spec, "off") {
		return nil
	}
	if _, err := cronParser().Parse(spec); err != nil {
		return fmt.Errorf("checkpoint schedule %q: %w", spec, err)
	}
	return nil
}

func cronParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

func (s *Scheduler) Reschedule(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultSpec
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if spec == s.spec {
		return nil
	}
	if strings.EqualFold(spec, "off") {
		if s.entry != 0 {
			s.c.Remove(s.entry)
			s.entry = 0
		}
		s.spec = "off"
		return nil
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("checkpoint schedule %q: %w", spec, err)
	}
	if s.entry != 0 {
		s.c.Remove(s.entry)
	}
	s.entry = s.c.Schedule(sched, cron.FuncJob(s.run))
	s.spec = spec
	s.log.Info("checkpoint scheduled", logx.String("spec", spec))
	return nil
}

func (s *Scheduler) Start() { s.c.Start() }

// Stop waits for a running checkpoint, then runs a final one.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.RunNow(ctx)
}

// RunNow flushes immediately.
func (s *Scheduler) RunNow(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	err := s.target.Flush(cctx)
	s.runs.Add(1)
	s.lastRun.Store(start.UnixNano())
	if err != nil {
		s.failures.Add(1)
		s.log.Warn("checkpoint failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return err
	}
	s.log.Debug("checkpoint written", logx.Duration("took", time.Since(start)))
	return nil
}

func (s *Scheduler) run() { _ = s.RunNow(context.Background()) }

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	st := Stats{Spec: s.spec}
	if s.entry != 0 {
		st.Next = s.c.Entry(s.entry).Next
	}
	s.mu.Unlock()
	st.Runs = s.runs.Load()
	st.Failures = s.failures.Load()
	if n := s.lastRun.Load(); n != 0 {
		st.LastRun = time.Unix(0, n)
	}
	return st
}
