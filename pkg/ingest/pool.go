package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/logger"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/metrics"
	"github.com/RPBTwisted/RuneScape-Player-Count/pkg/store"
)

// RunWriter persists whole collection runs
type RunWriter interface {
	WriteRun(ctx context.Context, run store.CollectionRun) error
}

// Pool writes collection runs off the scraper's hot path. Runs that fail to
// write land in the spool and are retried on the flush ticker, so a store
// outage shorter than the spool capacity loses nothing.
type Pool struct {
	logger        *logger.Logger
	writer        RunWriter
	numWorkers    int
	flushInterval time.Duration
	inputChan     chan store.CollectionRun
	spool         *Spool
	wg            sync.WaitGroup
}

// NewPool creates a Pool instance
func NewPool(l *logger.Logger, w RunWriter, numWorkers, spoolCapacity int, flushInterval time.Duration) *Pool {
	return &Pool{
		logger:        l,
		writer:        w,
		numWorkers:    numWorkers,
		flushInterval: flushInterval,
		inputChan:     make(chan store.CollectionRun, numWorkers*2),
		spool:         NewSpool(spoolCapacity),
	}
}

// Start initializes the worker goroutines
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
}

// Submit hands a run to the pool for writing
func (p *Pool) Submit(ctx context.Context, run store.CollectionRun) error {
	select {
	case p.inputChan <- run:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Spooled returns the number of runs waiting for a retry
func (p *Pool) Spooled() int {
	return p.spool.Size()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debug("ingest worker started", zap.Int("worker_id", id))

	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case run, ok := <-p.inputChan:
			if !ok {
				p.retrySpooled(ctx)
				return
			}
			p.write(ctx, run)

		case <-ticker.C:
			if p.spool.ShouldDrain(p.flushInterval) {
				p.retrySpooled(ctx)
			}

		case <-ctx.Done():
			// Final attempt for anything still spooled before exit.
			p.retrySpooled(context.Background())
			return
		}
	}
}

func (p *Pool) write(ctx context.Context, run store.CollectionRun) {
	start := time.Now()
	if err := p.writer.WriteRun(ctx, run); err != nil {
		p.logger.Error("failed to write run", err, zap.Time("collected_at", run.Timestamp))
		metrics.IngestWriteErrorsTotal.Inc()
		metrics.IngestSpooledRunsTotal.Inc()
		if p.spool.Add(run) {
			p.logger.Warn("spool full, dropped oldest run")
			metrics.IngestDroppedRunsTotal.Inc()
		}
		return
	}
	metrics.IngestWriteLatency.Observe(time.Since(start).Seconds())
	metrics.IngestRunsWrittenTotal.Inc()
}

// retrySpooled re-attempts every spooled run once; failures go back to the
// spool via write, so one bad run cannot loop hot.
func (p *Pool) retrySpooled(ctx context.Context) {
	runs := p.spool.Drain()
	if len(runs) == 0 {
		return
	}
	p.logger.Info("retrying spooled runs", zap.Int("count", len(runs)))
	for _, run := range runs {
		p.write(ctx, run)
	}
}

// Shutdown stops all workers and waits for them to finish
func (p *Pool) Shutdown(ctx context.Context) error {
	close(p.inputChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
