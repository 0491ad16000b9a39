// Copyright (C) 2016  Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package config loads the collector's declarative YAML
// configuration: which devices to dial in or out, which sinks to
// upload to, and the supervisor's batching and concurrency bounds.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mdtpipe/mdtpipe/errs"
)

// DialInDevice configures one dial-in connector.
type DialInDevice struct {
	Name        string `yaml:"name"`
	Address     string `yaml:"address"`
	Port        string `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	PEMFile     string `yaml:"pem_file"`
	Compression string `yaml:"compression"`
	Format      string `yaml:"format"` // "gnmi" or "cisco-ems"
	Encoding    string `yaml:"encoding"`
	Retry       *bool  `yaml:"retry"` // nil means retry forever

	Sensors []string `yaml:"sensors"`
	// SampleInterval is in whole seconds.
	SampleInterval   int    `yaml:"sample_interval"`
	SubscriptionMode string `yaml:"subscription_mode"`
	StreamMode       string `yaml:"stream_mode"`

	Subscriptions []string `yaml:"subscriptions"`
	QosMarking    *uint32  `yaml:"qos_marking"`
}

// DialOutListener configures one dial-out TCP listener.
type DialOutListener struct {
	Name string `yaml:"name"`
	Addr string `yaml:"addr"`
	// Timeout is the per-connection read timeout in whole seconds.
	Timeout int `yaml:"timeout"`
}

// SinkConfig configures one upload destination.
type SinkConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // "elasticsearch", "influxdb", "influxdbv2"
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
	Org      string `yaml:"org"`
	Bucket   string `yaml:"bucket"`
}

// SupervisorConfig bounds queueing, batching and retries. Interval
// fields are in whole seconds.
type SupervisorConfig struct {
	QueueDepth    int   `yaml:"queue_depth"`
	BatchSize     int   `yaml:"batch_size"`
	BatchInterval int   `yaml:"batch_interval"`
	Workers       int64 `yaml:"workers"`
	MaxRetries    int   `yaml:"max_retries"`
	DrainTimeout  int   `yaml:"drain_timeout"`
}

// MetricsConfig configures the embedded Prometheus server.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the collector's full declarative configuration, loaded
// from a single YAML file at startup.
type Config struct {
	DialIn     []DialInDevice    `yaml:"dial_in"`
	DialOut    []DialOutListener `yaml:"dial_out"`
	Sinks      []SinkConfig      `yaml:"sinks"`
	Supervisor SupervisorConfig  `yaml:"supervisor"`
	Metrics    MetricsConfig     `yaml:"metrics"`
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.KindConfig, "config", "read "+path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.New(errs.KindConfig, "config", "parse "+path, err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Supervisor.QueueDepth == 0 {
		cfg.Supervisor.QueueDepth = 10000
	}
	if cfg.Supervisor.BatchSize == 0 {
		cfg.Supervisor.BatchSize = 1000
	}
	if cfg.Supervisor.BatchInterval == 0 {
		cfg.Supervisor.BatchInterval = 10
	}
	if cfg.Supervisor.Workers == 0 {
		cfg.Supervisor.Workers = 4
	}
	if cfg.Supervisor.MaxRetries == 0 {
		cfg.Supervisor.MaxRetries = 3
	}
	if cfg.Supervisor.DrainTimeout == 0 {
		cfg.Supervisor.DrainTimeout = 5
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9273"
	}
	for i := range cfg.DialOut {
		if cfg.DialOut[i].Timeout == 0 {
			cfg.DialOut[i].Timeout = 60
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.DialIn) == 0 && len(cfg.DialOut) == 0 {
		return errs.New(errs.KindConfig, "config", "at least one dial_in or dial_out source is required", nil)
	}
	if len(cfg.Sinks) == 0 {
		return errs.New(errs.KindConfig, "config", "at least one sink is required", nil)
	}
	names := map[string]struct{}{}
	for _, d := range cfg.DialIn {
		if d.Name == "" {
			return errs.New(errs.KindConfig, "config", "dial_in entry missing name", nil)
		}
		if _, dup := names[d.Name]; dup {
			return errs.New(errs.KindConfig, "config", "duplicate connector name "+d.Name, nil)
		}
		names[d.Name] = struct{}{}
		if d.Format != "gnmi" && d.Format != "cisco-ems" {
			return errs.New(errs.KindConfig, "config", "dial_in "+d.Name+": unknown format "+d.Format, nil)
		}
		if err := validateEncoding(d); err != nil {
			return err
		}
	}
	for _, d := range cfg.DialOut {
		if d.Name == "" {
			return errs.New(errs.KindConfig, "config", "dial_out entry missing name", nil)
		}
		if _, dup := names[d.Name]; dup {
			return errs.New(errs.KindConfig, "config", "duplicate connector name "+d.Name, nil)
		}
		names[d.Name] = struct{}{}
	}
	for _, s := range cfg.Sinks {
		if err := validateSink(s); err != nil {
			return err
		}
	}
	return nil
}

// validateEncoding checks the per-format encoding enum: gNMI inputs
// take the gNMI wire encodings, EMS inputs take the CreateSubs encode
// names. An empty encoding falls back to the format's default.
func validateEncoding(d DialInDevice) error {
	if d.Encoding == "" {
		return nil
	}
	var allowed []string
	if d.Format == "gnmi" {
		allowed = []string{"PROTO", "JSON", "JSON_IETF", "BYTES", "ASCII"}
	} else {
		allowed = []string{"gpb", "self-describing-gpb", "json"}
	}
	for _, a := range allowed {
		if d.Encoding == a {
			return nil
		}
	}
	return errs.New(errs.KindConfig, "config",
		"dial_in "+d.Name+": encoding "+d.Encoding+" not valid for format "+d.Format, nil)
}

func validateSink(s SinkConfig) error {
	switch s.Type {
	case "elasticsearch":
	case "influxdb":
		if s.Bucket == "" {
			return errs.New(errs.KindConfig, "config", "sink "+s.Name+": influxdb requires a bucket (database)", nil)
		}
	case "influxdbv2":
		if s.Token == "" || s.Bucket == "" {
			return errs.New(errs.KindConfig, "config", "sink "+s.Name+": influxdbv2 requires token and bucket", nil)
		}
	default:
		return errs.New(errs.KindConfig, "config", "sink "+s.Name+": unknown type "+s.Type, nil)
	}
	return nil
}
