// Copyright (C) 2016  Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package supervisor

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cisco-ie/nx-telemetry-proto/telemetry_bis"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/mdtpipe/mdtpipe/dialout"
	"github.com/mdtpipe/mdtpipe/metrics"
	"github.com/mdtpipe/mdtpipe/sink"
	"github.com/mdtpipe/mdtpipe/telemetry"
)

// TestDialOutToElasticsearchPipeline drives the full path a dial-out
// message takes: a framed Telemetry payload written to the TCP
// listener, through the raw queue and a worker's decode/parse, out to
// a bulk upload against a stand-in Elasticsearch.
func TestDialOutToElasticsearchPipeline(t *testing.T) {
	tele := &telemetry_bis.Telemetry{
		NodeId:       &telemetry_bis.Telemetry_NodeIdStr{NodeIdStr: "r9"},
		EncodingPath: "Cisco-IOS-XR-infra-statsd-oper:infra-statistics",
		DataGpbkv: []*telemetry_bis.TelemetryField{{
			Timestamp: 1700000000000,
			Fields: []*telemetry_bis.TelemetryField{
				{Name: "keys", Fields: []*telemetry_bis.TelemetryField{
					{Name: "interface-name",
						ValueByType: &telemetry_bis.TelemetryField_StringValue{StringValue: "Gi0/0/0/0"}},
				}},
				{Name: "content", Fields: []*telemetry_bis.TelemetryField{
					{Name: "packets-sent",
						ValueByType: &telemetry_bis.TelemetryField_Uint64Value{Uint64Value: 77}},
				}},
			},
		}},
	}
	payload, err := proto.Marshal(tele)
	require.NoError(t, err)

	bulkBodies := make(chan string, 1)
	es := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/_bulk"):
			require.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
			gz, err := gzip.NewReader(r.Body)
			require.NoError(t, err)
			body, err := io.ReadAll(gz)
			require.NoError(t, err)
			select {
			case bulkBodies <- string(body):
			default:
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer es.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := DefaultConfig()
	cfg.BatchSize = 1
	cfg.BatchInterval = time.Hour
	cfg.Workers = 1
	esSink := sink.NewElasticsearchSink(es.URL, "", "", nopLogger{})
	sup := New(cfg, []sink.Sink{esSink}, metrics.NewCollector(), nopLogger{})
	supDone := make(chan error, 1)
	go func() { supDone <- sup.Run(ctx) }()

	srv := dialout.New(dialout.Config{Name: "dialout", Addr: "127.0.0.1:0"}, nopLogger{})
	require.NoError(t, srv.Listen(ctx))
	raw := make(chan telemetry.RawRecord, 8)
	go srv.Run(ctx, raw)
	go func() {
		for rec := range raw {
			if err := sup.Submit(ctx, rec); err != nil {
				return
			}
		}
	}()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var buf bytes.Buffer
	var hdr [12]byte
	binary.BigEndian.PutUint16(hdr[2:4], 1) // encode_type gpb
	binary.BigEndian.PutUint16(hdr[4:6], 1)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(payload)))
	buf.Write(hdr[:])
	buf.Write(payload)
	_, err = conn.Write(buf.Bytes())
	require.NoError(t, err)

	select {
	case body := <-bulkBodies:
		require.Contains(t, body, `"yang_path":"Cisco-IOS-XR-infra-statsd-oper:infra-statistics"`)
		require.Contains(t, body, `"interface-name":"Gi0/0/0/0"`)
		require.Contains(t, body, `"packets-sent":77`)
		require.Contains(t, body, `"hostname":"r9"`)
	case <-time.After(5 * time.Second):
		t.Fatal("no bulk upload observed")
	}

	cancel()
	<-supDone
}
