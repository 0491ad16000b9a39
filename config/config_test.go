// Copyright (C) 2016  Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validYAML = `
dial_in:
  - name: router1
    address: 10.0.0.1
    port: "57400"
    format: gnmi
    sensors:
      - /interfaces/interface/state
sinks:
  - name: es
    type: elasticsearch
    url: http://localhost:9200
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.EqualValues(t, 1000, cfg.Supervisor.BatchSize)
	require.EqualValues(t, 4, cfg.Supervisor.Workers)
	require.Equal(t, ":9273", cfg.Metrics.Addr)
}

func TestLoadRejectsMissingSinks(t *testing.T) {
	path := writeTemp(t, `
dial_in:
  - name: router1
    address: 10.0.0.1
    port: "57400"
    format: gnmi
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	path := writeTemp(t, `
dial_in:
  - name: router1
    address: 10.0.0.1
    port: "57400"
    format: carrier-pigeon
sinks:
  - name: es
    type: elasticsearch
    url: http://localhost:9200
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	path := writeTemp(t, `
dial_in:
  - name: router1
    address: 10.0.0.1
    port: "57400"
    format: gnmi
dial_out:
  - name: router1
    addr: ":57500"
sinks:
  - name: es
    type: elasticsearch
    url: http://localhost:9200
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMismatchedEncoding(t *testing.T) {
	path := writeTemp(t, `
dial_in:
  - name: router1
    address: 10.0.0.1
    port: "57400"
    format: gnmi
    encoding: gpb
sinks:
  - name: es
    type: elasticsearch
    url: http://localhost:9200
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadAcceptsEMSEncodings(t *testing.T) {
	path := writeTemp(t, `
dial_in:
  - name: router1
    address: 10.0.0.1
    port: "57400"
    format: cisco-ems
    encoding: self-describing-gpb
    subscriptions: [sub1]
sinks:
  - name: es
    type: elasticsearch
    url: http://localhost:9200
`)
	_, err := Load(path)
	require.NoError(t, err)
}

func TestLoadRejectsInfluxWithoutBucket(t *testing.T) {
	path := writeTemp(t, `
dial_in:
  - name: router1
    address: 10.0.0.1
    port: "57400"
    format: gnmi
sinks:
  - name: metrics
    type: influxdb
    url: http://localhost:8086
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadParsesRetryFlag(t *testing.T) {
	path := writeTemp(t, `
dial_in:
  - name: router1
    address: 10.0.0.1
    port: "57400"
    format: gnmi
    retry: false
sinks:
  - name: es
    type: elasticsearch
    url: http://localhost:9200
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.DialIn[0].Retry)
	require.False(t, *cfg.DialIn[0].Retry)
}

func TestLoadIntervalFieldsAreSeconds(t *testing.T) {
	path := writeTemp(t, `
dial_in:
  - name: router1
    address: 10.0.0.1
    port: "57400"
    format: gnmi
    sample_interval: 30
supervisor:
  batch_interval: 15
dial_out:
  - name: tcp1
    addr: ":57500"
    timeout: 120
sinks:
  - name: es
    type: elasticsearch
    url: http://localhost:9200
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 30, cfg.DialIn[0].SampleInterval)
	require.Equal(t, 15, cfg.Supervisor.BatchInterval)
	require.Equal(t, 120, cfg.DialOut[0].Timeout)
}
