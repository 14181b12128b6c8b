package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"simpleflow-sandbox/internal/monitor"
)

// RunRecorder persists audit records. *DB implements it.
type RunRecorder interface {
	LogRun(ctx context.Context, run *Run) error
}

// AuditWriter decouples request handling from database latency: Log never
// blocks, and records are written by a single background goroutine.
type AuditWriter struct {
	rec     RunRecorder
	metrics *monitor.Metrics
	ch      chan *Run
	wg      sync.WaitGroup
	done    chan struct{}
	once    sync.Once

	backoff time.Duration
}

func NewAuditWriter(rec RunRecorder, bufferSize int, metrics *monitor.Metrics) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		rec:     rec,
		metrics: metrics,
		ch:      make(chan *Run, bufferSize),
		done:    make(chan struct{}),
		backoff: 100 * time.Millisecond,
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Log enqueues a record, dropping it if the buffer is full.
func (w *AuditWriter) Log(run *Run) {
	select {
	case w.ch <- run:
	default:
		w.metrics.RecordAuditDropped()
		log.Warn().Str("exec_id", run.ID).Msg("audit buffer full, dropping log entry")
	}
}

// Flush stops the writer after draining what is buffered, waiting at most timeout.
func (w *AuditWriter) Flush(timeout time.Duration) {
	w.once.Do(func() { close(w.done) })

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case run := <-w.ch:
			w.writeWithRetry(run)
		case <-w.done:
			for {
				select {
				case run := <-w.ch:
					w.writeWithRetry(run)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) writeWithRetry(run *Run) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.rec.LogRun(ctx, run)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * w.backoff
			log.Warn().
				Err(err).
				Str("exec_id", run.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("exec_id", run.ID).
				Msg("audit write failed permanently after retries")
		}
	}
}
