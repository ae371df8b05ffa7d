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

// Action identifies the bulk operation a Record maps to.
type Action string

const (
	// ActionIndex indexes the document, replacing any existing document
	// with the same ID. It is the default action.
	ActionIndex Action = "index"

	// ActionCreate indexes the document, failing if a document with the
	// same ID already exists.
	ActionCreate Action = "create"

	// ActionUpdate applies a partial document or script update.
	ActionUpdate Action = "update"

	// ActionDelete removes the document. Delete records carry no body.
	ActionDelete Action = "delete"

	// ActionUpdateByQuery updates all documents matching a query via a
	// script. It is not part of the bulk wire protocol and is dispatched
	// as an individual request.
	ActionUpdateByQuery Action = "update_by_query"
)

// Record is the unit of work submitted to a Writer.
type Record struct {
	// Index holds the name of the target index. Required.
	Index string

	// DocumentType holds the logical document type. When empty, no type
	// tag is emitted in the bulk action metadata (typeless backends).
	DocumentType string

	// ID holds the document ID. When empty, Elasticsearch assigns one.
	ID string

	// Parent holds a parent/routing reference for join-type documents.
	Parent string

	// Action holds the operation to perform. Empty defaults to ActionIndex.
	Action Action

	// Body holds the document payload. Required for every action except
	// ActionDelete. For ActionUpdateByQuery it must contain "script" and
	// "query" fields.
	Body map[string]any
}

// action resolves the default.
func (r *Record) action() Action {
	if r.Action == "" {
		return ActionIndex
	}
	return r.Action
}

// validate checks the record invariants locally, before anything is
// queued or sent to Elasticsearch.
func (r *Record) validate() error {
	if r.Index == "" {
		return &ValidationError{Field: "index"}
	}
	switch r.action() {
	case ActionIndex, ActionCreate, ActionUpdate, ActionDelete, ActionUpdateByQuery:
	default:
		return &ValidationError{Field: "action"}
	}
	if r.action() == ActionDelete {
		return nil
	}
	if r.Body == nil {
		return &ValidationError{Field: "body"}
	}
	if r.action() == ActionUpdateByQuery {
		if _, ok := r.Body["script"]; !ok {
			return &ValidationError{Field: "body.script"}
		}
		if _, ok := r.Body["query"]; !ok {
			return &ValidationError{Field: "body.query"}
		}
	}
	return nil
}
