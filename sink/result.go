// Copyright (c) 2021 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package sink uploads batches of telemetry.ParsedResponse records to
// a downstream store. Every sink implementation is stateless between
// calls to Upload except for whatever connection pooling or
// known-index caching it keeps internally.
package sink

import (
	"context"

	"github.com/mdtpipe/mdtpipe/telemetry"
)

// Result reports the outcome of an Upload call.
type Result struct {
	// Ok is true when every record in the batch was accepted.
	Ok bool
	// Retryable is true when the failure is expected to clear on
	// retry (e.g. a 5xx response, a connection reset).
	Retryable bool
	// Permanent is true when retrying will not help (e.g. a 4xx
	// response caused by a malformed request).
	Permanent bool
	// Status is the HTTP status code of the response, or 0 when the
	// request never produced one.
	Status int
	// Err carries the underlying error when Ok is false.
	Err error
}

// Sink uploads a batch of records to a downstream store.
type Sink interface {
	Upload(ctx context.Context, records []*telemetry.ParsedResponse) Result
	// Name identifies the sink for logging and metrics.
	Name() string
}
