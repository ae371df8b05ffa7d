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

// Package bulkwritertest provides a mock Elasticsearch server for testing
// bulkwriter against the _bulk and _update_by_query endpoints.
package bulkwritertest

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/module/apmelasticsearch/v2"

	"github.com/elastic/go-elasticsearch/v8"
)

// BulkAction holds the decoded action metadata line of one bulk entry.
type BulkAction struct {
	Type         string
	Index        string
	DocumentType string
	ID           string
	Parent       string
}

// BulkEntry holds one decoded operation from a _bulk request body: the
// action metadata and, except for deletes, the document source.
type BulkEntry struct {
	Action   BulkAction
	Document json.RawMessage
}

// BulkResponseBody is the JSON shape of a _bulk response. The Error field
// of an item may be set to a map for structured errors or to a plain
// string for the raw form.
type BulkResponseBody struct {
	Errors bool                              `json:"errors"`
	Items  []map[string]BulkResponseItemBody `json:"items"`
}

// BulkResponseItemBody is one item result within a BulkResponseBody.
type BulkResponseItemBody struct {
	Index  string `json:"_index"`
	Status int    `json:"status"`
	Error  any    `json:"error,omitempty"`
}

type actionMeta struct {
	Index        string `json:"_index"`
	DocumentType string `json:"_type"`
	ID           string `json:"_id"`
	Parent       string `json:"parent"`
}

// DecodeBulkRequest decodes a /_bulk request's body, returning the decoded
// entries and a canned all-success response body.
func DecodeBulkRequest(r *http.Request) ([]BulkEntry, BulkResponseBody) {
	body := r.Body
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		gr, err := gzip.NewReader(body)
		if err != nil {
			panic(err)
		}
		defer gr.Close()
		body = gr
	}

	scanner := bufio.NewScanner(body)
	var entries []BulkEntry
	var result BulkResponseBody
	for scanner.Scan() {
		action := make(map[string]actionMeta)
		if err := json.NewDecoder(strings.NewReader(scanner.Text())).Decode(&action); err != nil {
			panic(err)
		}
		var actionType string
		var meta actionMeta
		for actionType, meta = range action {
		}

		entry := BulkEntry{Action: BulkAction{
			Type:         actionType,
			Index:        meta.Index,
			DocumentType: meta.DocumentType,
			ID:           meta.ID,
			Parent:       meta.Parent,
		}}
		if actionType != "delete" {
			if !scanner.Scan() {
				panic("expected source")
			}
			doc := append([]byte{}, scanner.Bytes()...)
			if !json.Valid(doc) {
				panic(fmt.Errorf("invalid JSON: %s", doc))
			}
			entry.Document = doc
		}
		entries = append(entries, entry)

		item := BulkResponseItemBody{Index: meta.Index, Status: http.StatusCreated}
		result.Items = append(result.Items, map[string]BulkResponseItemBody{actionType: item})
	}
	return entries, result
}

// DecodeUpdateByQueryRequest decodes an _update_by_query request,
// returning the target index and the decoded body.
func DecodeUpdateByQueryRequest(r *http.Request) (string, map[string]any) {
	body := make(map[string]any)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		panic(err)
	}
	return r.PathValue("index"), body
}

// UpdateByQueryResponseBody is the JSON shape of an _update_by_query
// response.
type UpdateByQueryResponseBody struct {
	Updated  int64 `json:"updated"`
	Failures []any `json:"failures"`
}

// NewMockElasticsearchClient returns an elasticsearch.Client which sends
// /_bulk requests to bulkHandler. Requests to _update_by_query respond
// with an empty success unless a handler is registered with
// NewMockElasticsearchClientWithUpdateByQuery.
func NewMockElasticsearchClient(t testing.TB, bulkHandler http.HandlerFunc) *elasticsearch.Client {
	return NewMockElasticsearchClientWithUpdateByQuery(t, bulkHandler, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(UpdateByQueryResponseBody{})
	})
}

// NewMockElasticsearchClientWithUpdateByQuery returns an
// elasticsearch.Client which sends /_bulk requests to bulkHandler and
// /{index}/_update_by_query requests to updateByQueryHandler.
func NewMockElasticsearchClientWithUpdateByQuery(t testing.TB, bulkHandler, updateByQueryHandler http.HandlerFunc) *elasticsearch.Client {
	mux := http.NewServeMux()
	HandleBulk(mux, bulkHandler)
	HandleUpdateByQuery(mux, updateByQueryHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	config := elasticsearch.Config{}
	config.Addresses = []string{srv.URL}
	config.DisableRetry = true
	config.Transport = apmelasticsearch.WrapRoundTripper(http.DefaultTransport)

	client, err := elasticsearch.NewClient(config)
	require.NoError(t, err)
	return client
}

// HandleBulk registers bulkHandler with mux for handling /_bulk requests,
// wrapping bulkHandler to conform with go-elasticsearch version checking.
func HandleBulk(mux *http.ServeMux, bulkHandler http.HandlerFunc) {
	mux.HandleFunc("/_bulk", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		bulkHandler.ServeHTTP(w, r)
	})
}

// HandleUpdateByQuery registers updateByQueryHandler with mux for handling
// /{index}/_update_by_query requests.
func HandleUpdateByQuery(mux *http.ServeMux, updateByQueryHandler http.HandlerFunc) {
	mux.HandleFunc("/{index}/_update_by_query", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		updateByQueryHandler.ServeHTTP(w, r)
	})
}
