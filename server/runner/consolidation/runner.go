// Package consolidation runs the post-turn pipeline in the background:
// the conversation summary is updated first, then the facts it extracted
// become memory records.
package consolidation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hrygo/calliope/plugin/ai/memory"
	"github.com/hrygo/calliope/plugin/ai/summary"
	"github.com/hrygo/calliope/server/internal/observability"
)

const (
	defaultQueueSize    = 64
	defaultConcurrency  = 2
	defaultDrainTimeout = 30 * time.Second
)

// Job is one completed turn waiting for consolidation.
type Job struct {
	OwnerID        int32
	ConversationID int32
	// TurnID is the persisted assistant message of the turn.
	TurnID        *int32
	UserTurn      string
	AssistantTurn string
}

// Summarizer folds a turn into the conversation summary.
type Summarizer interface {
	Update(ctx context.Context, conversationID int32, userTurn, assistantTurn string) (*summary.UpdateResult, error)
}

// Extractor stores extracted facts as memories.
type Extractor interface {
	Extract(ctx context.Context, req memory.ExtractionRequest) *memory.ExtractionReport
}

// Runner consolidates turns off the request path. Jobs are processed
// concurrently up to a fixed limit; jobs of one conversation are still
// serialized by the summarizer.
type Runner struct {
	summarizer Summarizer
	extractor  Extractor
	jobs       chan Job
	sem        *semaphore.Weighted
	metrics    *observability.Metrics
	wg         sync.WaitGroup

	drainTimeout time.Duration
}

// NewRunner creates a consolidation runner. workers <= 0 uses the default.
func NewRunner(summarizer Summarizer, extractor Extractor, workers int) *Runner {
	if workers <= 0 {
		workers = defaultConcurrency
	}
	return &Runner{
		summarizer: summarizer,
		extractor:  extractor,
		jobs:       make(chan Job, defaultQueueSize),
		sem:        semaphore.NewWeighted(int64(workers)),
		metrics:    observability.GlobalMetrics(),

		drainTimeout: defaultDrainTimeout,
	}
}

// SetDrainTimeout bounds how long Run keeps working after ctx is done.
func (r *Runner) SetDrainTimeout(d time.Duration) {
	if d > 0 {
		r.drainTimeout = d
	}
}

// Enqueue schedules a job without blocking. It returns false when the
// queue is full and the job was dropped.
func (r *Runner) Enqueue(job Job) bool {
	select {
	case r.jobs <- job:
		return true
	default:
		slog.Warn("consolidation queue full, dropping turn",
			"conversation_id", job.ConversationID,
			"queue_size", cap(r.jobs))
		return false
	}
}

// Pending returns the number of queued jobs not yet started.
func (r *Runner) Pending() int {
	return len(r.jobs)
}

// Run processes queued jobs until ctx is done, then drains the queue.
// Started jobs are not cut by ctx; they run until the drain deadline.
func (r *Runner) Run(ctx context.Context) {
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	for {
		select {
		case <-ctx.Done():
			r.drain(workCtx, stopWork, nil)
			return
		case job := <-r.jobs:
			if err := r.sem.Acquire(ctx, 1); err != nil {
				r.drain(workCtx, stopWork, &job)
				return
			}
			r.spawn(workCtx, job)
		}
	}
}

func (r *Runner) spawn(ctx context.Context, job Job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)
		r.Process(ctx, job)
	}()
}

// drain processes the held job and everything still queued. Once the drain
// timeout passes, work is cancelled and the remaining jobs are dropped.
func (r *Runner) drain(ctx context.Context, stopWork context.CancelFunc, held *Job) {
	timer := time.AfterFunc(r.drainTimeout, stopWork)
	defer timer.Stop()

	drained, dropped := 0, 0
	next := func() (Job, bool) {
		if held != nil {
			job := *held
			held = nil
			return job, true
		}
		select {
		case job := <-r.jobs:
			return job, true
		default:
			return Job{}, false
		}
	}
	for job, ok := next(); ok; job, ok = next() {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			dropped++
			slog.Warn("consolidation drain timed out, dropping turn", "conversation_id", job.ConversationID)
			continue
		}
		drained++
		r.spawn(ctx, job)
	}
	r.wg.Wait()
	slog.Info("consolidation runner stopped", "drained", drained, "dropped", dropped)
}

// Process consolidates one job synchronously. A failed summary update
// skips extraction; nothing is returned because the turn already succeeded.
func (r *Runner) Process(ctx context.Context, job Job) {
	start := time.Now()
	rc := observability.NewRequestContext(slog.Default(), observability.StageConsolidation, job.OwnerID)
	convAttr := slog.Int64(observability.LogFieldConversationID, int64(job.ConversationID))

	result, err := r.summarizer.Update(ctx, job.ConversationID, job.UserTurn, job.AssistantTurn)
	r.metrics.Record(observability.StageSummary, time.Since(start), err)
	if err != nil {
		rc.Error("summary update failed", err, convAttr)
		return
	}
	if !result.Updated || len(result.NewFacts) == 0 {
		rc.Debug("no new facts to extract", convAttr, slog.String("skipped", string(result.Skipped)))
		return
	}

	extractStart := time.Now()
	report := r.extractor.Extract(ctx, memory.ExtractionRequest{
		OwnerID:        job.OwnerID,
		ConversationID: job.ConversationID,
		TurnID:         job.TurnID,
		Facts:          result.NewFacts,
	})
	r.metrics.Record(observability.StageMemory, time.Since(extractStart), nil)
	rc.Info("turn consolidated",
		convAttr,
		slog.Int("summary_version", int(result.Summary.Version)),
		slog.Int("facts", len(result.NewFacts)),
		slog.Int("memories_created", len(report.Created)),
		slog.Int64(observability.LogFieldDuration, rc.DurationMs()))
}
