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
	"io"
	"net/http"
	"unsafe"

	"github.com/klauspost/compress/gzip"
	"go.elastic.co/fastjson"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// bulkIndexer encodes a batch of records into a single bulk request body.
// One bulkIndexer is constructed per flush and discarded after the
// request returns: the writer owns batching, the indexer owns the wire
// format.
type bulkIndexer struct {
	itemsAdded int
	jsonw      fastjson.Writer
	writer     io.Writer
	gzipw      *gzip.Writer
	buf        bytes.Buffer
}

func newBulkIndexer(compressionLevel int) *bulkIndexer {
	b := &bulkIndexer{}
	if compressionLevel != gzip.NoCompression {
		b.gzipw, _ = gzip.NewWriterLevel(&b.buf, compressionLevel)
		b.writer = b.gzipw
	} else {
		b.writer = &b.buf
	}
	return b
}

// items returns the number of wire entries written, counting an action
// metadata line and its body line as one item.
func (b *bulkIndexer) items() int {
	return b.itemsAdded
}

// add encodes one validated record: an action metadata line, followed by
// the document body unless the action is a delete.
func (b *bulkIndexer) add(rec Record) error {
	b.writeMeta(rec)
	if rec.action() == ActionDelete {
		b.itemsAdded++
		return nil
	}
	// A second line of defense only: validation at submission time
	// guarantees a body for non-delete actions.
	if rec.Body == nil {
		return fmt.Errorf("record for index %q has no body", rec.Index)
	}
	body, err := json.Marshal(rec.Body)
	if err != nil {
		return fmt.Errorf("failed to encode document body: %w", err)
	}
	if _, err := b.writer.Write(body); err != nil {
		return fmt.Errorf("failed to write bulk item: %w", err)
	}
	if _, err := b.writer.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	b.itemsAdded++
	return nil
}

func (b *bulkIndexer) writeMeta(rec Record) {
	b.jsonw.RawString(`{"`)
	b.jsonw.RawString(string(rec.action()))
	b.jsonw.RawString(`":{"_index":`)
	b.jsonw.String(rec.Index)
	if rec.DocumentType != "" {
		b.jsonw.RawString(`,"_type":`)
		b.jsonw.String(rec.DocumentType)
	}
	if rec.ID != "" {
		b.jsonw.RawString(`,"_id":`)
		b.jsonw.String(rec.ID)
	}
	if rec.Parent != "" {
		b.jsonw.RawString(`,"parent":`)
		b.jsonw.String(rec.Parent)
	}
	b.jsonw.RawString("}}\n")
	b.writer.Write(b.jsonw.Bytes())
	b.jsonw.Reset()
}

// flush executes the bulk request. It returns the decoded response and
// the number of body bytes sent.
func (b *bulkIndexer) flush(ctx context.Context, client esapi.Transport, pipeline string) (bulkResponse, int, error) {
	var resp bulkResponse
	if b.itemsAdded == 0 {
		return resp, 0, nil
	}
	if b.gzipw != nil {
		if err := b.gzipw.Close(); err != nil {
			return resp, 0, fmt.Errorf("failed closing the gzip writer: %w", err)
		}
	}

	req := esapi.BulkRequest{
		Body:       &b.buf,
		Header:     make(http.Header),
		FilterPath: []string{"errors", "items.*._index", "items.*.status", "items.*.error"},
		Pipeline:   pipeline,
	}
	if b.gzipw != nil {
		req.Header.Set("Content-Encoding", "gzip")
	}

	bytesFlushed := b.buf.Len()
	res, err := req.Do(ctx, client)
	if err != nil {
		return resp, 0, fmt.Errorf("failed to execute the request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return resp, bytesFlushed, fmt.Errorf("flush failed: %s", res.String())
	}
	if err := jsoniter.NewDecoder(res.Body).Decode(&resp); err != nil {
		return resp, bytesFlushed, fmt.Errorf("error decoding bulk response: %w", err)
	}
	return resp, bytesFlushed, nil
}

// BulkError holds the error reported for a single bulk response item.
// Elasticsearch reports either a structured {type, reason} object or,
// in older variants, a bare string which is kept in Raw.
type BulkError struct {
	Type   string
	Reason string
	Raw    string
}

func (e BulkError) isZero() bool {
	return e.Type == "" && e.Raw == ""
}

// String renders the error as "type[reason]" when structured, falling
// back to the raw string form.
func (e BulkError) String() string {
	if e.Type != "" {
		return fmt.Sprintf("%s[%s]", e.Type, e.Reason)
	}
	return e.Raw
}

// BulkResponseItem represents a single item result in a bulk response.
type BulkResponseItem struct {
	Action string
	Index  string
	Status int
	Error  BulkError
}

type bulkResponse struct {
	Errors bool
	Items  []BulkResponseItem
}

// failedItems returns the items carrying an error, and the distinct
// error descriptions in order of first occurrence.
func (r *bulkResponse) failedItems() ([]BulkResponseItem, []string) {
	var failed []BulkResponseItem
	var reasons []string
	seen := make(map[string]struct{})
	for _, item := range r.Items {
		if item.Error.isZero() {
			continue
		}
		failed = append(failed, item)
		desc := item.Error.String()
		if _, ok := seen[desc]; !ok {
			seen[desc] = struct{}{}
			reasons = append(reasons, desc)
		}
	}
	return failed, reasons
}

func init() {
	jsoniter.RegisterTypeDecoderFunc("bulkwriter.bulkResponse", func(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
		resp := (*bulkResponse)(ptr)
		iter.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
			switch field {
			case "errors":
				resp.Errors = i.ReadBool()
			case "items":
				i.ReadArrayCB(func(i *jsoniter.Iterator) bool {
					return i.ReadMapCB(func(i *jsoniter.Iterator, action string) bool {
						item := BulkResponseItem{Action: action}
						i.ReadObjectCB(func(i *jsoniter.Iterator, s string) bool {
							switch s {
							case "_index":
								item.Index = i.ReadString()
							case "status":
								item.Status = i.ReadInt()
							case "error":
								switch i.WhatIsNext() {
								case jsoniter.StringValue:
									item.Error.Raw = i.ReadString()
								case jsoniter.ObjectValue:
									i.ReadObjectCB(func(i *jsoniter.Iterator, s string) bool {
										switch s {
										case "type":
											item.Error.Type = i.ReadString()
										case "reason":
											item.Error.Reason = i.ReadString()
										default:
											i.Skip()
										}
										return true
									})
								default:
									i.Skip()
								}
							default:
								i.Skip()
							}
							return true
						})
						resp.Items = append(resp.Items, item)
						return true
					})
				})
			default:
				i.Skip()
			}
			return true
		})
	})
}
