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
	"bytes"
	"context"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.uber.org/zap"
)

// UpdateByQueryFailure describes one document that an update_by_query
// request failed to update.
type UpdateByQueryFailure struct {
	Index  string `json:"index"`
	ID     string `json:"id"`
	Status int    `json:"status"`
	Cause  struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"cause"`
}

type updateByQueryResponse struct {
	Updated  int64                  `json:"updated"`
	Failures []UpdateByQueryFailure `json:"failures"`
}

// updateByQuery dispatches a single update_by_query record, bypassing
// the bulk queue. The action field is implied by the endpoint; only the
// script and query are forwarded as the request body.
func (w *Writer) updateByQuery(ctx context.Context, rec Record) error {
	logger := w.config.Logger
	if w.config.Tracer != nil {
		tx := w.config.Tracer.StartTransaction("bulkwriter.update_by_query", "output")
		defer tx.End()
		ctx = apm.ContextWithTransaction(ctx, tx)
		logger = logger.With(apmzap.TraceContext(ctx)...)
	}

	body, err := json.Marshal(map[string]any{
		"script": rec.Body["script"],
		"query":  rec.Body["query"],
	})
	if err != nil {
		return fmt.Errorf("failed to encode update by query body: %w", err)
	}

	if w.config.FlushTimeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.FlushTimeout)
		defer cancel()
	}

	req := esapi.UpdateByQueryRequest{
		Index: []string{rec.Index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, w.client)
	if err != nil {
		err = &BulkDispatchError{Records: []Record{rec}, Err: err}
		logger.Error("update by query request failed", zap.Error(err))
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		err = &BulkDispatchError{
			Records: []Record{rec},
			Err:     fmt.Errorf("update by query failed: %s", res.String()),
		}
		logger.Error("update by query request failed", zap.Error(err))
		return err
	}

	var resp updateByQueryResponse
	if err := jsoniter.NewDecoder(res.Body).Decode(&resp); err != nil {
		return fmt.Errorf("error decoding update by query response: %w", err)
	}
	if len(resp.Failures) > 0 {
		for _, failure := range resp.Failures {
			logger.Error(fmt.Sprintf("failed to update document in '%s' (%s): %s",
				failure.Index, failure.Cause.Type, failure.Cause.Reason,
			), zap.String("document_id", failure.ID))
		}
		return &PartialUpdateFailureError{Record: rec, Failures: resp.Failures}
	}

	w.written.Add(resp.Updated)
	w.metrics.addWritten(resp.Updated, "Success", w.config.MetricAttributes)
	logger.Debug("update by query completed", zap.Int64("docs_updated", resp.Updated))
	return nil
}
