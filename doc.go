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

// Package bulkwriter provides a buffering, batching write adapter for
// indexing, updating and deleting documents in Elasticsearch through the
// bulk API.
//
// Records submitted to a Writer are validated and accumulated in memory,
// and flushed as a single bulk request once the configured batch size is
// reached, once the configured inactivity interval elapses, or when the
// writer is flushed or closed. Per-item failures reported in a bulk
// response are collapsed into a single error carrying the distinct
// failure descriptions and the batch that was attempted; the writer
// itself never retries.
//
// Records with the update_by_query action are not expressible in the
// bulk wire protocol and are dispatched individually, bypassing the
// queue.
package bulkwriter
