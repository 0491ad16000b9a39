// Copyright (c) 2021 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package telemetry

// ParsedResponse is the flat, sink-agnostic record produced by the
// parser for every group of leaf values that share a path in a
// subscription update. Every sink consumes records of this shape;
// nothing downstream of the parser is aware of gNMI or EMS.
type ParsedResponse struct {
	// YangPath is the full slash-joined path to the subtree holding
	// the Content leaves, prefix and subpath already merged; the leaf
	// names themselves are the Content keys.
	YangPath string
	// Encoding names the wire encoding the value originated from.
	Encoding string
	// Hostname is the device's reported hostname, falling back to the
	// record's peer address when the device did not report one.
	Hostname string
	// Version is the device's reported software version, empty when
	// unavailable.
	Version string
	// IP is the device's peer address.
	IP string
	// TimestampNs is the notification timestamp in nanoseconds since
	// the Unix epoch.
	TimestampNs int64
	// Keys holds the list-key name/value pairs found in the path.
	Keys map[string]string
	// Content holds the leaf name/value pairs for this path.
	Content map[string]interface{}
	// Delete is true when this record represents the deletion of
	// YangPath rather than an update.
	Delete bool
}
