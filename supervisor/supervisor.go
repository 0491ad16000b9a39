// Copyright (C) 2016  Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package supervisor owns the pipeline between raw records and sinks:
// a bounded queue, a batcher that groups raw records by size or by a
// time budget, and a fixed worker pool that decodes, parses and
// uploads batches with bounded retries.
package supervisor

import (
	"context"
	"time"

	"github.com/cisco-ie/nx-telemetry-proto/telemetry_bis"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mdtpipe/mdtpipe/decode"
	"github.com/mdtpipe/mdtpipe/errs"
	"github.com/mdtpipe/mdtpipe/logger"
	"github.com/mdtpipe/mdtpipe/metrics"
	"github.com/mdtpipe/mdtpipe/parse"
	"github.com/mdtpipe/mdtpipe/sink"
	"github.com/mdtpipe/mdtpipe/telemetry"
)

// Config bounds the supervisor's queueing, batching and retry
// behavior.
type Config struct {
	QueueDepth    int
	BatchSize     int
	BatchInterval time.Duration
	Workers       int64
	MaxRetries    int
	// DrainTimeout bounds how long in-flight batches may keep
	// uploading after shutdown is requested.
	DrainTimeout time.Duration
}

// DefaultConfig returns the collector's default batching and
// concurrency bounds.
func DefaultConfig() Config {
	return Config{
		QueueDepth:    10000,
		BatchSize:     1000,
		BatchInterval: 10 * time.Second,
		Workers:       4,
		MaxRetries:    3,
		DrainTimeout:  5 * time.Second,
	}
}

// Supervisor drains raw records off a bounded queue, batches them by
// size or time, and hands each batch to a worker in a fixed-size
// pool. Each worker is stateless: it decodes and parses its own batch
// before invoking every configured sink.
type Supervisor struct {
	cfg   Config
	log   logger.Logger
	coll  *metrics.Collector
	sinks []sink.Sink
	queue chan telemetry.RawRecord
}

// New constructs a supervisor that forwards every record it receives
// to each of sinks.
func New(cfg Config, sinks []sink.Sink, coll *metrics.Collector, log logger.Logger) *Supervisor {
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}
	return &Supervisor{
		cfg:   cfg,
		log:   log,
		coll:  coll,
		sinks: sinks,
		queue: make(chan telemetry.RawRecord, cfg.QueueDepth),
	}
}

// Submit enqueues a raw record, blocking until the queue has room or
// ctx is canceled. Returns ctx.Err() if canceled first.
func (s *Supervisor) Submit(ctx context.Context, rec telemetry.RawRecord) error {
	select {
	case s.queue <- rec:
		s.coll.QueueDepth.Set(float64(len(s.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run batches records off the queue and drives the worker pool until
// ctx is canceled, after which it drains any partial batch and gives
// in-flight uploads up to DrainTimeout to finish before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	// Workers run against their own context so a shutdown doesn't
	// abort uploads mid-flight; the drain timer cancels it if they
	// take too long.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	var g errgroup.Group
	sem := semaphore.NewWeighted(s.cfg.Workers)

	batch := make([]telemetry.RawRecord, 0, s.cfg.BatchSize)
	timer := time.NewTimer(s.cfg.BatchInterval)
	defer timer.Stop()

	flush := func(records []telemetry.RawRecord) {
		if len(records) == 0 {
			return
		}
		batchCopy := records
		g.Go(func() error {
			if err := sem.Acquire(workCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			s.processBatch(workCtx, batchCopy)
			return nil
		})
	}

	drain := func(records []telemetry.RawRecord) error {
		flush(records)
		deadline := time.AfterFunc(s.cfg.DrainTimeout, cancelWork)
		defer deadline.Stop()
		return g.Wait()
	}

	for {
		select {
		case rec, ok := <-s.queue:
			if !ok {
				return drain(batch)
			}
			batch = append(batch, rec)
			s.coll.QueueDepth.Set(float64(len(s.queue)))
			if len(batch) >= s.cfg.BatchSize {
				flush(batch)
				batch = make([]telemetry.RawRecord, 0, s.cfg.BatchSize)
				timer.Reset(s.cfg.BatchInterval)
			}
		case <-timer.C:
			flush(batch)
			batch = make([]telemetry.RawRecord, 0, s.cfg.BatchSize)
			timer.Reset(s.cfg.BatchInterval)
		case <-ctx.Done():
			return drain(batch)
		}
	}
}

// processBatch is the worker body: it constructs a Parser over the
// batch, decoding and normalizing every raw record (dropping
// record-local decode/parse failures with a logged warning rather
// than aborting the batch), then invokes every configured sink in
// order against the resulting flat records.
func (s *Supervisor) processBatch(ctx context.Context, raws []telemetry.RawRecord) {
	var records []*telemetry.ParsedResponse
	for _, rr := range raws {
		parsed, err := s.decodeAndParse(rr)
		if err != nil {
			s.coll.DecodeDropped.WithLabelValues(string(errs.KindOf(err))).Inc()
			s.log.Errorf("supervisor: %s: dropping record: %v", rr.ConnectorName, err)
			continue
		}
		records = append(records, parsed...)
	}
	if len(records) > 0 {
		s.uploadBatch(ctx, records)
	}
}

// decodeAndParse decodes a single raw record per its wire encoding
// and normalizes it into zero or more ParsedResponses, attributing
// hostname/version/IP from the record's own provenance. EMS messages
// carry their own node_id_str, so the parser gets first claim on an
// unset hostname there; gNMI responses carry none, so those fall back
// to the peer address directly.
func (s *Supervisor) decodeAndParse(rr telemetry.RawRecord) ([]*telemetry.ParsedResponse, error) {
	p := &parse.Parser{Hostname: rr.Hostname, Version: rr.Version, IP: rr.PeerAddr}

	if rr.Encoding == telemetry.EncodingGNMI {
		if p.Hostname == "" {
			p.Hostname = rr.PeerAddr
		}
		resp, err := decode.GNMI(rr.Payload)
		if err != nil {
			return nil, err
		}
		return p.ParseGNMI(resp)
	}

	var tele *telemetry_bis.Telemetry
	var err error
	if rr.Encoding == telemetry.EncodingJSON {
		tele, err = decode.EMSJSON(rr.Payload)
	} else {
		tele, err = decode.EMS(rr.Payload)
	}
	if err != nil {
		return nil, err
	}
	return p.ParseEMS(tele)
}

// uploadBatch uploads records to every sink, retrying each sink
// independently up to cfg.MaxRetries times on a retryable failure.
func (s *Supervisor) uploadBatch(ctx context.Context, records []*telemetry.ParsedResponse) {
	for _, sk := range s.sinks {
		start := time.Now()
		var res sink.Result
		for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
			res = sk.Upload(ctx, records)
			if res.Ok || res.Permanent {
				break
			}
			if !res.Retryable {
				break
			}
			if attempt < s.cfg.MaxRetries {
				s.log.Infof("supervisor: retrying upload to %s (attempt %d): %v", sk.Name(), attempt+1, res.Err)
			}
		}
		s.coll.UploadLatency.WithLabelValues(sk.Name()).Observe(time.Since(start).Seconds())
		if res.Ok {
			s.coll.BatchesUploaded.WithLabelValues(sk.Name()).Inc()
			continue
		}
		reason := "permanent"
		if res.Retryable {
			reason = "retries-exhausted"
		}
		s.coll.RecordsDropped.WithLabelValues(sk.Name(), reason).Add(float64(len(records)))
		if res.Err != nil {
			s.log.Errorf("supervisor: upload to %s failed (%s): %v", sk.Name(), reason, res.Err)
		}
	}
}

// ValidateConfig rejects a Config that would make the supervisor
// unable to make progress.
func ValidateConfig(cfg Config) error {
	if cfg.Workers <= 0 {
		return errs.New(errs.KindConfig, "supervisor", "workers must be positive", nil)
	}
	if cfg.BatchSize <= 0 {
		return errs.New(errs.KindConfig, "supervisor", "batch size must be positive", nil)
	}
	return nil
}
