// Copyright (C) 2016  Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Command mdtpipe is the model-driven telemetry collector: it dials
// into or accepts dial-out connections from network devices, parses
// gNMI and Cisco EMS telemetry into a flat record model, and uploads
// batches of records to one or more time-series/search sinks.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristanetworks/glog"
	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
	"golang.org/x/sync/errgroup"

	"github.com/mdtpipe/mdtpipe/config"
	"github.com/mdtpipe/mdtpipe/dialin"
	"github.com/mdtpipe/mdtpipe/dialout"
	"github.com/mdtpipe/mdtpipe/logger"
	"github.com/mdtpipe/mdtpipe/metrics"
	"github.com/mdtpipe/mdtpipe/sink"
	"github.com/mdtpipe/mdtpipe/supervisor"
	"github.com/mdtpipe/mdtpipe/telemetry"
)

var (
	configPath = flag.String("config", "", "path to the collector's YAML configuration")
	verbosity  = flag.Int("v", 0, "log verbosity level")
)

func main() {
	flag.Parse()
	log := &logger.Glog{InfoLevel: glog.Level(*verbosity)}

	if *configPath == "" {
		log.Fatal("mdtpipe: -config is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("mdtpipe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("mdtpipe: shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil && ctx.Err() == nil {
		log.Errorf("mdtpipe: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	coll := metrics.NewCollector()
	sinks, err := buildSinks(cfg, log)
	if err != nil {
		return err
	}

	supCfg := supervisor.Config{
		QueueDepth:    cfg.Supervisor.QueueDepth,
		BatchSize:     cfg.Supervisor.BatchSize,
		BatchInterval: time.Duration(cfg.Supervisor.BatchInterval) * time.Second,
		Workers:       cfg.Supervisor.Workers,
		MaxRetries:    cfg.Supervisor.MaxRetries,
		DrainTimeout:  time.Duration(cfg.Supervisor.DrainTimeout) * time.Second,
	}
	if err := supervisor.ValidateConfig(supCfg); err != nil {
		return err
	}
	sup := supervisor.New(supCfg, sinks, coll, log)

	g, gctx := errgroup.WithContext(ctx)

	metricsSrv := metrics.NewServer(cfg.Metrics.Addr, coll, log)
	g.Go(func() error {
		metricsSrv.Run(gctx)
		return nil
	})

	g.Go(func() error { return sup.Run(gctx) })

	raw := make(chan telemetry.RawRecord, cfg.Supervisor.QueueDepth)
	for _, d := range cfg.DialIn {
		d := d
		conn, err := buildDialIn(d, log)
		if err != nil {
			return err
		}
		g.Go(func() error { return conn.Run(gctx, raw) })
	}
	for _, d := range cfg.DialOut {
		d := d
		srv := dialout.New(dialout.Config{
			Name:    d.Name,
			Addr:    d.Addr,
			Timeout: time.Duration(d.Timeout) * time.Second,
		}, log)
		g.Go(func() error { return srv.Run(gctx, raw) })
	}

	g.Go(func() error {
		return forwardRawRecords(gctx, raw, sup)
	})

	return g.Wait()
}

// forwardRawRecords hands every raw record straight to the
// supervisor's queue; decoding and parsing happen inside the worker
// pool once a batch is assembled, per the supervisor's design.
func forwardRawRecords(ctx context.Context, raw <-chan telemetry.RawRecord, sup *supervisor.Supervisor) error {
	for {
		select {
		case rr, ok := <-raw:
			if !ok {
				return nil
			}
			if err := sup.Submit(ctx, rr); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func buildSinks(cfg *config.Config, log logger.Logger) ([]sink.Sink, error) {
	var sinks []sink.Sink
	for _, s := range cfg.Sinks {
		switch s.Type {
		case "elasticsearch":
			sinks = append(sinks, sink.NewElasticsearchSink(s.URL, s.Username, s.Password, log))
		case "influxdb":
			sinks = append(sinks, sink.NewInfluxDBSink(s.URL, s.Bucket, s.Username, s.Password, log))
		case "influxdbv2":
			sinks = append(sinks, sink.NewInfluxDBV2Sink(s.URL, s.Org, s.Bucket, s.Token, log))
		}
	}
	return sinks, nil
}

func buildDialIn(d config.DialInDevice, log logger.Logger) (*dialin.Connector, error) {
	var pem []byte
	if d.PEMFile != "" {
		b, err := os.ReadFile(d.PEMFile)
		if err != nil {
			return nil, err
		}
		pem = b
	}
	dcfg := dialin.Config{
		Name:             d.Name,
		Address:          d.Address,
		Port:             d.Port,
		Username:         d.Username,
		Password:         d.Password,
		PEM:              pem,
		Compression:      d.Compression,
		Format:           dialin.Format(d.Format),
		Encoding:         d.Encoding,
		Sensors:          d.Sensors,
		SampleIntervalNs: int64(d.SampleInterval) * int64(time.Second),
		SubscriptionMode: subscriptionListMode(d.SubscriptionMode),
		StreamMode:       subscriptionMode(d.StreamMode),
		Subscriptions:    d.Subscriptions,
	}
	if d.QosMarking != nil {
		dcfg.HasQos = true
		dcfg.QosMarking = *d.QosMarking
	}
	if d.Retry != nil && !*d.Retry {
		dcfg.NoRetry = true
	}
	return dialin.New(dcfg, log), nil
}

func subscriptionListMode(name string) gnmipb.SubscriptionList_Mode {
	switch name {
	case "ONCE":
		return gnmipb.SubscriptionList_ONCE
	case "POLL":
		return gnmipb.SubscriptionList_POLL
	default:
		return gnmipb.SubscriptionList_STREAM
	}
}

func subscriptionMode(name string) gnmipb.SubscriptionMode {
	switch name {
	case "ON_CHANGE":
		return gnmipb.SubscriptionMode_ON_CHANGE
	case "TARGET_DEFINED":
		return gnmipb.SubscriptionMode_TARGET_DEFINED
	default:
		return gnmipb.SubscriptionMode_SAMPLE
	}
}
