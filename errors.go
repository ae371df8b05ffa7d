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
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned from methods of closed Writers.
var ErrClosed = errors.New("bulk writer closed")

// ValidationError reports a record that failed local validation. The
// record was never queued or sent to Elasticsearch.
type ValidationError struct {
	// Field names the missing or invalid record field, e.g. "index" or
	// "body.script".
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: missing or invalid field %q", e.Field)
}

// BulkDispatchError reports a bulk request that failed at the transport
// or protocol level. None of the records in the batch were applied;
// callers wishing to retry can resubmit Records.
type BulkDispatchError struct {
	// Records holds the batch that was attempted, in submission order.
	Records []Record

	// Err holds the underlying transport or protocol error.
	Err error
}

func (e *BulkDispatchError) Error() string {
	return fmt.Sprintf("bulk request failed: %v", e.Err)
}

func (e *BulkDispatchError) Unwrap() error {
	return e.Err
}

// BulkPartialFailureError reports a bulk request that Elasticsearch
// accepted but for which one or more items failed.
type BulkPartialFailureError struct {
	// Reasons holds the distinct item failure descriptions, in order of
	// first occurrence.
	Reasons []string

	// Records holds the batch that was attempted, in submission order.
	Records []Record

	// Items holds the failed item results from the bulk response.
	Items []BulkResponseItem
}

func (e *BulkPartialFailureError) Error() string {
	return "bulk request partially failed: " + strings.Join(e.Reasons, ", ")
}

// PartialUpdateFailureError reports an update_by_query request for which
// Elasticsearch reported per-document failures.
type PartialUpdateFailureError struct {
	// Record holds the update_by_query record that was attempted.
	Record Record

	// Failures holds the per-document failure descriptors.
	Failures []UpdateByQueryFailure
}

func (e *PartialUpdateFailureError) Error() string {
	return fmt.Sprintf(
		"update by query on %q failed for %d documents",
		e.Record.Index, len(e.Failures),
	)
}
