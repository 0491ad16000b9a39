// Copyright (c) 2021 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package sink

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/mdtpipe/mdtpipe/logger"
	"github.com/mdtpipe/mdtpipe/telemetry"
)

// InfluxDBSink writes records as line-protocol text to an InfluxDB
// bucket using the v2 write API with v1-style basic-auth
// credentials.
type InfluxDBSink struct {
	URL      string
	Bucket   string
	Username string
	Password string
	Log      logger.Logger
}

// NewInfluxDBSink constructs a sink targeting baseURL (e.g.
// "http://influx:8086").
func NewInfluxDBSink(baseURL, bucket, username, password string, log logger.Logger) *InfluxDBSink {
	return &InfluxDBSink{URL: baseURL, Bucket: bucket, Username: username, Password: password, Log: log}
}

// Name implements Sink.
func (s *InfluxDBSink) Name() string { return "influxdb" }

// Upload implements Sink.
func (s *InfluxDBSink) Upload(ctx context.Context, records []*telemetry.ParsedResponse) Result {
	if len(records) == 0 {
		return Result{Ok: true}
	}
	body := encodeLineProtocol(records)
	headers := map[string]string{"Content-Type": "text/plain"}
	if auth := basicAuthHeader(s.Username, s.Password); auth != "" {
		headers["Authorization"] = auth
	}
	url := fmt.Sprintf("%s/api/v2/write?precision=ns&bucket=%s", s.URL, s.Bucket)
	return doUpload(ctx, s.Log, s.Name(), url, headers, body)
}

// InfluxDBV2Sink writes records as line-protocol text to an InfluxDB
// v2 bucket using token authentication.
type InfluxDBV2Sink struct {
	URL    string
	Org    string
	Bucket string
	Token  string
	Log    logger.Logger
}

// NewInfluxDBV2Sink constructs a token-authenticated InfluxDB v2 sink.
func NewInfluxDBV2Sink(baseURL, org, bucket, token string, log logger.Logger) *InfluxDBV2Sink {
	return &InfluxDBV2Sink{URL: baseURL, Org: org, Bucket: bucket, Token: token, Log: log}
}

// Name implements Sink.
func (s *InfluxDBV2Sink) Name() string { return "influxdbv2" }

// Upload implements Sink.
func (s *InfluxDBV2Sink) Upload(ctx context.Context, records []*telemetry.ParsedResponse) Result {
	if len(records) == 0 {
		return Result{Ok: true}
	}
	body := encodeLineProtocol(records)
	headers := map[string]string{
		"Content-Type":  "text/plain",
		"Authorization": "Token " + s.Token,
	}
	url := fmt.Sprintf("%s/api/v2/write?precision=ns&org=%s&bucket=%s", s.URL, s.Org, s.Bucket)
	return doUpload(ctx, s.Log, s.Name(), url, headers, body)
}

// encodeLineProtocol renders records as InfluxDB line-protocol text,
// one line per record, deduplicating same-nanosecond timestamps
// within a batch by incrementing a per-batch monotonic counter the
// way a single sink process guarantees unique points per upload.
//
// The encoder requires tags in lexical order, so the record's list
// keys, the fixed provenance tags, and any empty-string content
// values (promoted to tags, since line protocol cannot express an
// empty field value) are merged into one map and sorted before
// emission. Reserved-character escaping is the encoder's job; this
// code only collapses whitespace and strips double quotes.
func encodeLineProtocol(records []*telemetry.ParsedResponse) []byte {
	enc := &lineprotocol.Encoder{}
	enc.SetPrecision(lineprotocol.Nanosecond)

	for i, r := range records {
		tags := make(map[string]string, len(r.Keys)+4)
		for k, v := range r.Keys {
			tags[k] = v
		}
		tags["encoding"] = r.Encoding
		tags["hostname"] = r.Hostname
		tags["ip"] = r.IP
		tags["version"] = r.Version

		fields := make(map[string]interface{}, len(r.Content))
		for k, v := range r.Content {
			if s, ok := v.(string); ok && s == "" {
				tags[k] = ""
				continue
			}
			fields[k] = v
		}
		if len(fields) == 0 {
			// A line with no fields is illegal; record presence
			// instead of dropping the point.
			fields["present"] = true
		}

		enc.StartLine(r.YangPath)
		for _, k := range sortedKeys(tags) {
			enc.AddTag(k, tagValue(tags[k]))
		}
		for _, k := range sortedFieldKeys(fields) {
			addField(enc, k, fields[k])
		}
		enc.EndLine(influxTime(r.TimestampNs + int64(i)))
	}
	return enc.Bytes()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFieldKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// tagValue collapses internal whitespace and strips double quotes; an
// empty result becomes the literal `""` since line protocol cannot
// express an empty tag value.
func tagValue(v string) string {
	v = strings.Join(strings.Fields(v), " ")
	v = strings.ReplaceAll(v, `"`, "")
	if v == "" {
		return `""`
	}
	return v
}

// fieldString collapses internal whitespace and strips double quotes
// from a string field value before the encoder quotes it.
func fieldString(v string) string {
	v = strings.Join(strings.Fields(v), " ")
	return strings.ReplaceAll(v, `"`, "")
}

func addField(enc *lineprotocol.Encoder, key string, value interface{}) {
	switch v := value.(type) {
	case bool:
		enc.AddField(key, lineprotocol.BoolValue(v))
	case int64:
		enc.AddField(key, lineprotocol.IntValue(v))
	case uint64:
		enc.AddField(key, lineprotocol.UintValue(v))
	case float64:
		if val, ok := lineprotocol.FloatValue(v); ok {
			enc.AddField(key, val)
			return
		}
		addStringField(enc, key, fmt.Sprint(v))
	case float32:
		addField(enc, key, float64(v))
	case string:
		addStringField(enc, key, v)
	default:
		// Nested JSON values and anything else non-scalar render as
		// their string form.
		addStringField(enc, key, fmt.Sprint(v))
	}
}

func addStringField(enc *lineprotocol.Encoder, key, v string) {
	if val, ok := lineprotocol.StringValue(fieldString(v)); ok {
		enc.AddField(key, val)
	}
}

func influxTime(ns int64) time.Time {
	return time.Unix(0, ns)
}
