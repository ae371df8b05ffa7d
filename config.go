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
	"time"

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds configuration for Writer.
type Config struct {
	// Logger holds an optional Logger to use for logging bulk requests.
	//
	// All Elasticsearch errors will be logged at error level, so in cases
	// where the writer is used for high throughput indexing, it is
	// recommended that a rate-limited logger is used.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Tracer holds an optional apm.Tracer to use for tracing bulk requests
	// to Elasticsearch. Each bulk request is traced as a transaction.
	//
	// If Tracer is nil, requests will not be traced.
	Tracer *apm.Tracer

	// TracerProvider allows specifying a custom otel tracer provider to
	// record flush spans with.
	//
	// If TracerProvider is nil, flushes are not traced with OTel.
	TracerProvider trace.TracerProvider

	// BatchSize holds the number of queued records at which a flush is
	// forced. A submission that fills the queue to BatchSize flushes
	// synchronously and observes the flush outcome.
	//
	// If BatchSize is zero, the default of 16 will be used.
	BatchSize int

	// FlushInterval holds the inactivity duration after which a partially
	// filled queue is flushed. The timer is re-armed on every submission
	// that does not itself trigger a flush. Errors from interval-triggered
	// flushes are delivered on the Failures channel.
	//
	// If FlushInterval is zero, no inactivity flushing takes place.
	FlushInterval time.Duration

	// FlushTimeout holds the timeout applied to each bulk request.
	//
	// If FlushTimeout is zero, no timeout will be used.
	FlushTimeout time.Duration

	// CompressionLevel holds the gzip compression level, from 0 (gzip.NoCompression)
	// to 9 (gzip.BestCompression). Higher values provide greater compression, at a
	// greater cost of CPU. The special value -1 (gzip.DefaultCompression) selects the
	// default compression level.
	CompressionLevel int

	// Pipeline holds the ingest pipeline ID.
	//
	// If Pipeline is empty, no ingest pipeline will be specified in the Bulk request.
	Pipeline string

	// FailureBufferSize holds the capacity of the Failures channel, which
	// carries errors from interval-triggered flushes. When the channel is
	// full, further failures are logged and dropped from the channel.
	//
	// If FailureBufferSize is zero, the default of 16 will be used.
	FailureBufferSize int

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record writer metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set
}

func defaultConfig(cfg Config) Config {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.FailureBufferSize <= 0 {
		cfg.FailureBufferSize = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}
