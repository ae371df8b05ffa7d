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
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-bulkwriter"
	"github.com/elastic/go-bulkwriter/bulkwritertest"
)

func TestBulkWireFormat(t *testing.T) {
	var lines []string
	client := bulkwritertest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		lines = strings.Split(strings.TrimSuffix(string(body), "\n"), "\n")

		// Replay through the decoder for the canned response.
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		_, result := bulkwritertest.DecodeBulkRequest(r)
		json.NewEncoder(w).Encode(result)
	})
	writer, err := bulkwriter.New(client, bulkwriter.Config{BatchSize: 3})
	require.NoError(t, err)
	defer writer.Close(context.Background())

	require.NoError(t, writer.Add(context.Background(), bulkwriter.Record{
		Index: "testidx",
		Body:  map[string]any{"foo": "bar"},
	}))
	require.NoError(t, writer.Add(context.Background(), bulkwriter.Record{
		Index:        "testidx",
		DocumentType: "doc",
		ID:           "1",
		Parent:       "p1",
		Action:       bulkwriter.ActionUpdate,
		Body:         map[string]any{"doc": map[string]any{"foo": "baz"}},
	}))
	require.NoError(t, writer.Add(context.Background(), bulkwriter.Record{
		Index:  "testidx",
		ID:     "2",
		Action: bulkwriter.ActionDelete,
	}))

	// Three records: two action+body pairs, one header-only delete.
	require.Equal(t, []string{
		`{"index":{"_index":"testidx"}}`,
		`{"foo":"bar"}`,
		`{"update":{"_index":"testidx","_type":"doc","_id":"1","parent":"p1"}}`,
		`{"doc":{"foo":"baz"}}`,
		`{"delete":{"_index":"testidx","_id":"2"}}`,
	}, lines)

	// The written counter counts source records, not wire entries.
	assert.Equal(t, int64(3), writer.Written())
}

func TestBulkWireFormatDecoded(t *testing.T) {
	var entries []bulkwritertest.BulkEntry
	client := bulkwritertest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		var result bulkwritertest.BulkResponseBody
		entries, result = bulkwritertest.DecodeBulkRequest(r)
		json.NewEncoder(w).Encode(result)
	})
	writer, err := bulkwriter.New(client, bulkwriter.Config{BatchSize: 2})
	require.NoError(t, err)
	defer writer.Close(context.Background())

	require.NoError(t, writer.Add(context.Background(), bulkwriter.Record{
		Index:  "testidx",
		Parent: "p1",
		Body:   map[string]any{"foo": "bar"},
	}))
	require.NoError(t, writer.Add(context.Background(), bulkwriter.Record{
		Index: "testidx",
		Body:  map[string]any{"foo": "baz"},
	}))

	require.Len(t, entries, 2)
	assert.Equal(t, bulkwritertest.BulkAction{
		Type:   "index",
		Index:  "testidx",
		Parent: "p1",
	}, entries[0].Action)
	// No parent reference on the second record.
	assert.Empty(t, entries[1].Action.Parent)
	assert.JSONEq(t, `{"foo":"baz"}`, string(entries[1].Document))
}

func TestBulkCompression(t *testing.T) {
	for _, tc := range []struct {
		Name             string
		CompressionLevel int
	}{
		{Name: "no_compression", CompressionLevel: gzip.NoCompression},
		{Name: "default_compression", CompressionLevel: gzip.DefaultCompression},
		{Name: "most_compression", CompressionLevel: gzip.BestCompression},
		{Name: "speed_compression", CompressionLevel: gzip.BestSpeed},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			var entries []bulkwritertest.BulkEntry
			client := bulkwritertest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
				var result bulkwritertest.BulkResponseBody
				entries, result = bulkwritertest.DecodeBulkRequest(r)
				if tc.CompressionLevel != gzip.NoCompression {
					require.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
				}
				json.NewEncoder(w).Encode(result)
			})
			writer, err := bulkwriter.New(client, bulkwriter.Config{
				BatchSize:        4,
				CompressionLevel: tc.CompressionLevel,
			})
			require.NoError(t, err)

			for i := 0; i < 4; i++ {
				require.NoError(t, writer.Add(context.Background(), minimalRecord("testidx")))
			}
			require.NoError(t, writer.Close(context.Background()))
			assert.Len(t, entries, 4)
			assert.Equal(t, int64(4), writer.Written())
		})
	}
}

func TestBulkRawStringError(t *testing.T) {
	client := bulkwritertest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Older backend variants report item errors as bare strings.
		io.WriteString(w, `{"errors":true,"items":[`+
			`{"index":{"_index":"testidx","status":400,"error":"MapperParsingException[failed to parse]"}}`+
			`]}`)
	})
	writer, err := bulkwriter.New(client, bulkwriter.Config{BatchSize: 1})
	require.NoError(t, err)
	defer writer.Close(context.Background())

	err = writer.Add(context.Background(), minimalRecord("testidx"))
	require.Error(t, err)

	var partial *bulkwriter.BulkPartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"MapperParsingException[failed to parse]"}, partial.Reasons)
	require.Len(t, partial.Items, 1)
	assert.Equal(t, "testidx", partial.Items[0].Index)
	assert.Equal(t, 400, partial.Items[0].Status)
}

func TestBulkPipeline(t *testing.T) {
	client := bulkwritertest.NewMockElasticsearchClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-pipeline", r.URL.Query().Get("pipeline"))
		_, result := bulkwritertest.DecodeBulkRequest(r)
		json.NewEncoder(w).Encode(result)
	})
	writer, err := bulkwriter.New(client, bulkwriter.Config{
		BatchSize: 1,
		Pipeline:  "test-pipeline",
	})
	require.NoError(t, err)
	defer writer.Close(context.Background())

	require.NoError(t, writer.Add(context.Background(), minimalRecord("testidx")))
}
