// Copyright (c) 2021 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mdtpipe/mdtpipe/logger"
	mpath "github.com/mdtpipe/mdtpipe/path"
	"github.com/mdtpipe/mdtpipe/telemetry"
)

// ElasticsearchSink bulk-uploads records as ndjson to an
// Elasticsearch/OpenSearch-compatible `_bulk` endpoint, creating an
// index with a `@timestamp: date` mapping the first time each index
// name is seen.
type ElasticsearchSink struct {
	URL      string
	Username string
	Password string
	Log      logger.Logger

	mu           sync.Mutex
	knownIndices map[string]struct{}
	loadOnce     sync.Once
}

// NewElasticsearchSink constructs a sink targeting baseURL (e.g.
// "http://es:9200").
func NewElasticsearchSink(baseURL, username, password string, log logger.Logger) *ElasticsearchSink {
	return &ElasticsearchSink{
		URL:          baseURL,
		Username:     username,
		Password:     password,
		Log:          log,
		knownIndices: map[string]struct{}{},
	}
}

// Name implements Sink.
func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) headers(contentType string) map[string]string {
	h := map[string]string{"Content-Type": contentType}
	if auth := basicAuthHeader(s.Username, s.Password); auth != "" {
		h["Authorization"] = auth
	}
	return h
}

// loadExistingIndices seeds the known-indices cache with the indices
// the server already has, so a restarted collector doesn't re-PUT an
// index for every path it has seen before. Hidden indices (leading
// ".") are the server's own; they are skipped. A failed fetch is not
// fatal: the cache just starts empty and index creation stays
// idempotent.
func (s *ElasticsearchSink) loadExistingIndices(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+"/*", nil)
	if err != nil {
		return
	}
	if auth := basicAuthHeader(s.Username, s.Password); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		s.Log.Errorf("elasticsearch: list indices: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.Log.Errorf("elasticsearch: list indices: status %d", resp.StatusCode)
		return
	}
	var indices map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&indices); err != nil {
		s.Log.Errorf("elasticsearch: list indices: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range indices {
		if strings.HasPrefix(name, ".") {
			continue
		}
		s.knownIndices[name] = struct{}{}
	}
	s.Log.Infof("elasticsearch: seeded %d existing indices", len(s.knownIndices))
}

// Upload implements Sink.
func (s *ElasticsearchSink) Upload(ctx context.Context, records []*telemetry.ParsedResponse) Result {
	if len(records) == 0 {
		return Result{Ok: true}
	}
	s.loadOnce.Do(func() { s.loadExistingIndices(ctx) })
	now := time.Now().UTC()
	var buf bytes.Buffer
	for _, r := range records {
		index := mpath.IndexName(r.YangPath, now)
		if res := s.ensureIndex(ctx, index); !res.Ok {
			return res
		}

		enc := json.NewEncoder(&buf)
		if err := enc.Encode(map[string]interface{}{"index": map[string]string{"_index": index}}); err != nil {
			return Result{Permanent: true, Err: err}
		}
		doc := map[string]interface{}{
			"hostname":   r.Hostname,
			"version":    r.Version,
			"ip":         r.IP,
			"yang_path":  r.YangPath,
			"@timestamp": r.TimestampNs / int64(time.Millisecond),
		}
		for k, v := range r.Keys {
			doc[k] = v
		}
		for k, v := range r.Content {
			doc[k] = v
		}
		if err := enc.Encode(doc); err != nil {
			return Result{Permanent: true, Err: err}
		}
	}
	return doUpload(ctx, s.Log, s.Name(), s.URL+"/_bulk?timeout=120s", s.headers("application/x-ndjson"), buf.Bytes())
}

// ensureIndex creates index if it has not already been created by
// this process, tolerating the "resource_already_exists_exception"
// response idempotently.
func (s *ElasticsearchSink) ensureIndex(ctx context.Context, index string) Result {
	s.mu.Lock()
	_, known := s.knownIndices[index]
	s.mu.Unlock()
	if known {
		return Result{Ok: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check under the lock: another goroutine may have created it
	// while we waited.
	if _, known := s.knownIndices[index]; known {
		return Result{Ok: true}
	}

	body := []byte(`{"mappings":{"properties":{"@timestamp":{"type":"date"}}}}`)
	res := doRequestPlain(ctx, s.Log, s.Name(), "PUT", fmt.Sprintf("%s/%s", s.URL, index),
		s.headers("application/json"), body)
	if res.Ok || res.Status == http.StatusBadRequest {
		// A 400 here means the index already exists
		// (resource_already_exists_exception); anything else
		// permanent, like a 403 from missing create privileges, is a
		// real failure and must not be cached as a known index.
		s.knownIndices[index] = struct{}{}
		return Result{Ok: true}
	}
	return res
}
