// Copyright (C) 2015  Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsMetrics(t *testing.T) {
	c := NewCollector()

	c.QueueDepth.Set(3)
	c.BatchesUploaded.WithLabelValues("elasticsearch").Inc()
	c.RecordsDropped.WithLabelValues("influxdb", "retries-exhausted").Inc()
	c.UploadLatency.WithLabelValues("elasticsearch").Observe(0.25)

	require.Equal(t, float64(3), testutil.ToFloat64(c.QueueDepth))
	require.Equal(t, float64(1), testutil.ToFloat64(c.BatchesUploaded.WithLabelValues("elasticsearch")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.RecordsDropped.WithLabelValues("influxdb", "retries-exhausted")))
}
