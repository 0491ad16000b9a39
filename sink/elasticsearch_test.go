// Copyright (c) 2021 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package sink

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mdtpipe/mdtpipe/logger"
	mpath "github.com/mdtpipe/mdtpipe/path"
	"github.com/mdtpipe/mdtpipe/telemetry"
)

type nopLogger struct{}

func (nopLogger) Info(args ...interface{})                 {}
func (nopLogger) Infof(format string, args ...interface{}) {}
func (nopLogger) Error(args ...interface{})                {}
func (nopLogger) Errorf(format string, args ...interface{}) {
}
func (nopLogger) Fatal(args ...interface{})                 {}
func (nopLogger) Fatalf(format string, args ...interface{}) {}

var _ logger.Logger = nopLogger{}

func TestElasticsearchSinkCreatesIndexOnce(t *testing.T) {
	var putCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			atomic.AddInt32(&putCount, 1)
			w.WriteHeader(http.StatusOK)
		case http.MethodPost:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	s := NewElasticsearchSink(srv.URL, "", "", nopLogger{})
	rec := &telemetry.ParsedResponse{
		YangPath: "/interfaces/interface[name=Ethernet1]/state",
		Content:  map[string]interface{}{"oper-status": "UP"},
	}
	res1 := s.Upload(context.Background(), []*telemetry.ParsedResponse{rec})
	require.True(t, res1.Ok)
	res2 := s.Upload(context.Background(), []*telemetry.ParsedResponse{rec})
	require.True(t, res2.Ok)
	require.EqualValues(t, 1, atomic.LoadInt32(&putCount))
}

func TestElasticsearchSinkRetryableOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewElasticsearchSink(srv.URL, "", "", nopLogger{})
	rec := &telemetry.ParsedResponse{YangPath: "/a/b", Content: map[string]interface{}{"x": 1}}
	res := s.Upload(context.Background(), []*telemetry.ParsedResponse{rec})
	require.False(t, res.Ok)
	require.True(t, res.Retryable)
}

func TestElasticsearchSinkSeedsExistingIndices(t *testing.T) {
	yangPath := "/interfaces/interface[name=Ethernet1]/state"
	existing := mpath.IndexName(yangPath, time.Now().UTC())

	var putCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"%s":{},".kibana":{}}`, existing)
		case http.MethodPut:
			atomic.AddInt32(&putCount, 1)
			w.WriteHeader(http.StatusOK)
		case http.MethodPost:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	s := NewElasticsearchSink(srv.URL, "", "", nopLogger{})
	rec := &telemetry.ParsedResponse{
		YangPath: yangPath,
		Content:  map[string]interface{}{"oper-status": "UP"},
	}
	res := s.Upload(context.Background(), []*telemetry.ParsedResponse{rec})
	require.True(t, res.Ok)
	require.EqualValues(t, 0, atomic.LoadInt32(&putCount))

	// The hidden index was skipped, not cached.
	s.mu.Lock()
	_, hidden := s.knownIndices[".kibana"]
	s.mu.Unlock()
	require.False(t, hidden)
}

func TestElasticsearchSinkIndexExists400IsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"type":"resource_already_exists_exception"}}`)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	s := NewElasticsearchSink(srv.URL, "", "", nopLogger{})
	rec := &telemetry.ParsedResponse{YangPath: "/a/b", Content: map[string]interface{}{"x": int64(1)}}
	res := s.Upload(context.Background(), []*telemetry.ParsedResponse{rec})
	require.True(t, res.Ok)
}

func TestElasticsearchSinkIndexCreateForbiddenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	s := NewElasticsearchSink(srv.URL, "", "", nopLogger{})
	rec := &telemetry.ParsedResponse{YangPath: "/a/b", Content: map[string]interface{}{"x": int64(1)}}
	res := s.Upload(context.Background(), []*telemetry.ParsedResponse{rec})
	require.False(t, res.Ok)
	require.True(t, res.Permanent)

	// The rejected index must not be cached as known.
	s.mu.Lock()
	require.Empty(t, s.knownIndices)
	s.mu.Unlock()
}
