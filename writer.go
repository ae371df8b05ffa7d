// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package bulkwriter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type writerState int

const (
	writerOpen writerState = iota
	writerClosing
	writerClosed
)

// Writer provides a buffering, batching API for writing documents to
// Elasticsearch through the bulk API.
//
// Writer queues records until the configured BatchSize is reached, at
// which point the submitting Add call flushes the queue as a single bulk
// request and observes its outcome. With a FlushInterval configured, a
// partially filled queue is flushed after that duration of inactivity;
// errors from such flushes are delivered on the Failures channel as no
// caller is waiting for them.
//
// A Writer's queue mutation, timer arming and lifecycle transitions are
// serialized internally, and at most one bulk request is in flight at a
// time. Records accepted while a flush is in flight accumulate for the
// next batch; they are never spliced into the outgoing request.
type Writer struct {
	config Config
	client esapi.Transport

	// mu guards queue, timer and state.
	mu    sync.Mutex
	state writerState
	queue []Record
	timer *time.Timer

	// flushMu serializes flushes so at most one bulk request is in flight.
	flushMu sync.Mutex

	group    errgroup.Group
	failures chan error

	written atomic.Int64
	metrics metrics
	tracer  trace.Tracer
}

// New returns a new Writer that writes documents to Elasticsearch.
// It is only tested with the v8 go-elasticsearch client. Use other
// clients at your own risk.
func New(client esapi.Transport, cfg Config) (*Writer, error) {
	cfg = defaultConfig(cfg)
	if client == nil {
		return nil, errors.New("client is nil")
	}
	if cfg.CompressionLevel < -1 || cfg.CompressionLevel > 9 {
		return nil, fmt.Errorf(
			"expected CompressionLevel in range [-1,9], got %d",
			cfg.CompressionLevel,
		)
	}
	ms, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		config:   cfg,
		client:   client,
		metrics:  ms,
		failures: make(chan error, cfg.FailureBufferSize),
	}
	if cfg.TracerProvider != nil {
		w.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-bulkwriter")
	}
	return w, nil
}

// Add validates and enqueues one record for writing.
//
// Records failing validation are rejected with a *ValidationError and
// never reach Elasticsearch. Records with ActionUpdateByQuery bypass the
// queue and are dispatched before Add returns. Otherwise, Add returns
// once the record is queued, except when the record fills the queue to
// BatchSize, in which case Add returns the outcome of the resulting
// flush.
func (w *Writer) Add(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	attrs := metric.WithAttributeSet(w.config.MetricAttributes)

	if rec.action() == ActionUpdateByQuery {
		w.mu.Lock()
		if w.state != writerOpen {
			w.mu.Unlock()
			return ErrClosed
		}
		w.mu.Unlock()
		w.metrics.recordsAdded.Add(context.Background(), 1, attrs)
		return w.updateByQuery(ctx, rec)
	}

	w.mu.Lock()
	if w.state != writerOpen {
		w.mu.Unlock()
		return ErrClosed
	}
	w.queue = append(w.queue, rec)
	w.metrics.recordsAdded.Add(context.Background(), 1, attrs)
	w.metrics.recordsQueued.Add(context.Background(), 1, attrs)
	if len(w.queue) >= w.config.BatchSize {
		w.stopTimerLocked()
		batch := w.queue
		w.queue = nil
		w.mu.Unlock()
		return w.flush(ctx, batch)
	}
	if w.config.FlushInterval > 0 {
		w.armTimerLocked()
	}
	w.mu.Unlock()
	return nil
}

// Flush writes any queued records immediately, without waiting for the
// queue to fill or the inactivity timer to fire. If the queue is empty,
// no request is made.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if w.state == writerClosed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.stopTimerLocked()
	batch := w.queue
	w.queue = nil
	w.mu.Unlock()
	return w.flush(ctx, batch)
}

// Close flushes any queued records and closes the writer. Further Add
// calls return ErrClosed. Close waits for any in-flight interval
// triggered flush to complete, and returns the final flush's outcome.
// Closing an already closed writer is a no-op.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.state != writerOpen {
		w.mu.Unlock()
		return w.group.Wait()
	}
	w.state = writerClosing
	w.stopTimerLocked()
	batch := w.queue
	w.queue = nil
	w.mu.Unlock()

	err := w.flush(ctx, batch)

	w.group.Wait()
	w.mu.Lock()
	w.state = writerClosed
	w.mu.Unlock()
	close(w.failures)
	return err
}

// Failures returns the channel carrying errors from interval-triggered
// flushes, which have no submitting caller to report to. The channel is
// closed when the writer is closed. If nothing drains the channel and
// its buffer fills up, further errors are logged and not delivered.
func (w *Writer) Failures() <-chan error {
	return w.failures
}

// Written returns the cumulative number of source records successfully
// written, counting the backend-reported updated count for
// update_by_query records.
func (w *Writer) Written() int64 {
	return w.written.Load()
}

func (w *Writer) armTimerLocked() {
	if w.timer == nil {
		w.timer = time.AfterFunc(w.config.FlushInterval, w.onFlushInterval)
		return
	}
	w.timer.Reset(w.config.FlushInterval)
}

func (w *Writer) stopTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Writer) onFlushInterval() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != writerOpen || len(w.queue) == 0 {
		return
	}
	batch := w.queue
	w.queue = nil
	// Spawned under mu so the goroutine is tracked before Close can
	// start waiting.
	w.group.Go(func() error {
		if err := w.flush(context.Background(), batch); err != nil {
			w.reportFailure(err)
		}
		return nil
	})
}

func (w *Writer) reportFailure(err error) {
	select {
	case w.failures <- err:
	default:
		w.config.Logger.Error("failure channel full, dropping flush error", zap.Error(err))
	}
}

// flush encodes records into a bulk request and interprets the response.
// Once records have been handed to flush they are not restored on
// failure; the failed batch travels inside the returned error instead.
func (w *Writer) flush(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	logger := w.config.Logger
	if w.config.Tracer != nil {
		tx := w.config.Tracer.StartTransaction("bulkwriter.flush", "output")
		tx.Context.SetLabel("records", len(records))
		defer tx.End()
		ctx = apm.ContextWithTransaction(ctx, tx)

		// Add trace IDs to logger, to associate any per-item errors
		// below with the trace.
		logger = logger.With(apmzap.TraceContext(ctx)...)
	}
	var span trace.Span
	if w.tracer != nil {
		ctx, span = w.tracer.Start(ctx, "bulkwriter.flush", trace.WithAttributes(
			attribute.Int("records", len(records)),
		))
		defer span.End()
	}

	flushCtx := ctx
	if w.config.FlushTimeout != 0 {
		var flushCancel context.CancelFunc
		flushCtx, flushCancel = context.WithTimeout(ctx, w.config.FlushTimeout)
		defer flushCancel()
	}

	indexer := newBulkIndexer(w.config.CompressionLevel)
	for _, rec := range records {
		if err := indexer.add(rec); err != nil {
			return err
		}
	}

	n := int64(len(records))
	attrs := metric.WithAttributeSet(w.config.MetricAttributes)
	defer w.metrics.bulkRequests.Add(context.Background(), 1, attrs)
	defer w.metrics.recordsQueued.Add(context.Background(), -n, attrs)

	var resp bulkResponse
	var flushedBytes int
	var err error
	took := timeFunc(func() {
		resp, flushedBytes, err = indexer.flush(flushCtx, w.client, w.config.Pipeline)
	})
	w.metrics.flushDuration.Record(context.Background(), took.Seconds(), attrs)
	if flushedBytes > 0 {
		w.metrics.bytesTotal.Add(context.Background(), int64(flushedBytes), attrs)
	}

	if err != nil {
		dispatchErr := &BulkDispatchError{Records: records, Err: err}
		w.metrics.addWritten(n, "Failed", w.config.MetricAttributes)
		logger.Error("bulk request failed", zap.Error(dispatchErr))
		if w.config.Tracer != nil {
			apm.CaptureError(ctx, dispatchErr).Send()
		}
		if span != nil && span.IsRecording() {
			span.RecordError(dispatchErr)
			span.SetStatus(codes.Error, "bulk request failed")
		}
		return dispatchErr
	}

	if failed, reasons := resp.failedItems(); len(failed) > 0 {
		partialErr := &BulkPartialFailureError{
			Reasons: reasons,
			Records: records,
			Items:   failed,
		}
		w.metrics.addWritten(n, "Failed", w.config.MetricAttributes)
		failedCount := make(map[BulkResponseItem]int, len(failed))
		for _, item := range failed {
			failedCount[item]++
		}
		for key, count := range failedCount {
			logger.Error(fmt.Sprintf("failed to write documents in '%s': %s",
				key.Index, key.Error,
			), zap.Int("documents", count))
			if w.config.Tracer != nil {
				apm.CaptureError(ctx, errors.New(key.Error.String())).Send()
			}
			if span != nil && span.IsRecording() {
				e := errors.New(key.Error.String())
				span.RecordError(e)
				span.SetStatus(codes.Error, e.Error())
			}
		}
		return partialErr
	}

	w.written.Add(n)
	w.metrics.addWritten(n, "Success", w.config.MetricAttributes)
	logger.Debug("bulk request completed",
		zap.Int64("docs_written", n),
		zap.Int("wire_items", indexer.items()),
	)
	if span != nil && span.IsRecording() {
		span.SetStatus(codes.Ok, "")
	}
	return nil
}

func timeFunc(f func()) time.Duration {
	t0 := time.Now()
	if f != nil {
		f()
	}
	return time.Since(t0)
}
