// Copyright (C) 2015  Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package metrics provides the supervisor's Prometheus counters and
// gauges, and the embedded HTTP server that exposes them.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mdtpipe/mdtpipe/logger"
)

// Collector holds every metric the supervisor updates as records
// flow through the queue, batcher and worker pool, registered
// against a private registry rather than the global default so a
// process can own more than one collector (e.g. in tests) without
// colliding on metric names.
type Collector struct {
	Registry        *prometheus.Registry
	QueueDepth      prometheus.Gauge
	BatchesUploaded *prometheus.CounterVec
	RecordsDropped  *prometheus.CounterVec
	DecodeDropped   *prometheus.CounterVec
	UploadLatency   *prometheus.HistogramVec
}

// NewCollector registers and returns the collector's metrics against
// a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Collector{
		Registry: reg,
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mdtpipe_queue_depth",
			Help: "Number of raw records buffered waiting for batching.",
		}),
		BatchesUploaded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mdtpipe_batches_uploaded_total",
			Help: "Batches successfully uploaded, by sink.",
		}, []string{"sink"}),
		RecordsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mdtpipe_records_dropped_total",
			Help: "Records dropped after exhausting retries, by sink and reason.",
		}, []string{"sink", "reason"}),
		DecodeDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mdtpipe_decode_dropped_total",
			Help: "Raw records dropped before upload due to a decode or parse error, by error kind.",
		}, []string{"kind"}),
		UploadLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "mdtpipe_sink_upload_seconds",
			Help: "Sink upload latency.",
		}, []string{"sink"}),
	}
}

// Server exposes /metrics and a small /debug index over HTTP.
type Server struct {
	Addr string
	Log  logger.Logger
	Coll *Collector
}

// NewServer constructs a metrics server bound to addr (e.g.
// ":9273"), serving coll's registry.
func NewServer(addr string, coll *Collector, log logger.Logger) *Server {
	return &Server{Addr: addr, Coll: coll, Log: log}
}

// Run starts the HTTP server and blocks until ctx is canceled or the
// server fails to start.
func (s *Server) Run(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug", debugHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.Coll.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: s.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.Log.Errorf("metrics server on %s exited: %v", s.Addr, err)
	}
}

func debugHandler(w http.ResponseWriter, r *http.Request) {
	const indexTmpl = `<html>
	<head>
	<title>/debug</title>
	</head>
	<body>
	<p>/debug</p>
	<div><a href="/metrics">metrics</a></div>
	</body>
	</html>
	`
	w.Write([]byte(indexTmpl))
}
