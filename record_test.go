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

package bulkwriter_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-bulkwriter"
	"github.com/elastic/go-bulkwriter/bulkwritertest"
)

func TestRecordValidation(t *testing.T) {
	for _, tc := range []struct {
		Name  string
		Rec   bulkwriter.Record
		Field string
	}{
		{
			Name:  "missing_index",
			Rec:   bulkwriter.Record{Body: map[string]any{"foo": "bar"}},
			Field: "index",
		},
		{
			Name:  "missing_body",
			Rec:   bulkwriter.Record{Index: "testidx"},
			Field: "body",
		},
		{
			Name:  "missing_update_body",
			Rec:   bulkwriter.Record{Index: "testidx", Action: bulkwriter.ActionUpdate},
			Field: "body",
		},
		{
			Name: "unknown_action",
			Rec: bulkwriter.Record{
				Index:  "testidx",
				Action: "foobar",
				Body:   map[string]any{"foo": "bar"},
			},
			Field: "action",
		},
		{
			Name: "update_by_query_missing_script",
			Rec: bulkwriter.Record{
				Index:  "testidx",
				Action: bulkwriter.ActionUpdateByQuery,
				Body:   map[string]any{"query": map[string]any{}},
			},
			Field: "body.script",
		},
		{
			Name: "update_by_query_missing_query",
			Rec: bulkwriter.Record{
				Index:  "testidx",
				Action: bulkwriter.ActionUpdateByQuery,
				Body:   map[string]any{"script": map[string]any{}},
			},
			Field: "body.query",
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			client := bulkwritertest.NewMockElasticsearchClientWithUpdateByQuery(t,
				func(w http.ResponseWriter, r *http.Request) {
					t.Error("unexpected _bulk request")
				},
				func(w http.ResponseWriter, r *http.Request) {
					t.Error("unexpected _update_by_query request")
				},
			)
			writer, err := bulkwriter.New(client, bulkwriter.Config{BatchSize: 1})
			require.NoError(t, err)
			defer writer.Close(context.Background())

			err = writer.Add(context.Background(), tc.Rec)
			require.Error(t, err)
			var validationErr *bulkwriter.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tc.Field, validationErr.Field)
		})
	}
}

func TestRecordDeleteWithoutBody(t *testing.T) {
	var deleted bool
	client := bulkwritertest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		entries, result := bulkwritertest.DecodeBulkRequest(r)
		require.Len(t, entries, 1)
		assert.Equal(t, "delete", entries[0].Action.Type)
		assert.Nil(t, entries[0].Document)
		deleted = true
		json.NewEncoder(w).Encode(result)
	})
	writer, err := bulkwriter.New(client, bulkwriter.Config{BatchSize: 1})
	require.NoError(t, err)
	defer writer.Close(context.Background())

	err = writer.Add(context.Background(), bulkwriter.Record{
		Index:  "testidx",
		ID:     "42",
		Action: bulkwriter.ActionDelete,
	})
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestRecordDefaultAction(t *testing.T) {
	client := bulkwritertest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		entries, result := bulkwritertest.DecodeBulkRequest(r)
		require.Len(t, entries, 1)
		assert.Equal(t, "index", entries[0].Action.Type)
		json.NewEncoder(w).Encode(result)
	})
	writer, err := bulkwriter.New(client, bulkwriter.Config{BatchSize: 1})
	require.NoError(t, err)
	defer writer.Close(context.Background())

	require.NoError(t, writer.Add(context.Background(), minimalRecord("testidx")))
}
