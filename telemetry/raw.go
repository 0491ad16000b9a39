// Copyright (c) 2021 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package telemetry defines the record types that flow through the
// collector: the raw bytes read off a dial-in stream or a dial-out
// connection, and the normalized record produced by the parser.
package telemetry

import "time"

// Encoding identifies the wire encoding a RawRecord was captured with.
type Encoding int

// Supported wire encodings.
const (
	EncodingUnknown Encoding = iota
	EncodingGNMI
	EncodingGPB
	EncodingSelfDescribingGPB
	EncodingJSON
)

func (e Encoding) String() string {
	switch e {
	case EncodingGNMI:
		return "gnmi"
	case EncodingGPB:
		return "gpb"
	case EncodingSelfDescribingGPB:
		return "self-describing-gpb"
	case EncodingJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Source identifies which connector produced a RawRecord.
type Source int

// Supported sources.
const (
	SourceDialIn Source = iota
	SourceDialOut
)

// RawRecord is the undecoded payload captured from either a dial-in
// gRPC stream or a dial-out TCP connection, tagged with enough
// context to decode and attribute it. It is immutable once enqueued:
// Payload decodes as exactly one SubscribeResponse or one Telemetry
// message and is never decoded by the collector that produced it.
type RawRecord struct {
	// Source identifies which connector produced this record.
	Source Source
	// Encoding identifies how Payload should be decoded.
	Encoding Encoding
	// Payload is the raw message bytes, stripped of any framing.
	Payload []byte
	// Hostname is the device's reported hostname, resolved once by a
	// gNMI dial-in connector and cached across reconnects; EMS
	// dial-in connectors and the dial-out server leave this empty.
	Hostname string
	// Version is the device's reported software version; empty when
	// unavailable or unresolved.
	Version string
	// PeerAddr is the source IP as text: the dial-out remote
	// address, or the dial-in target address.
	PeerAddr string
	// ReceivedAt is the time the collector read the record off the
	// wire. The parser does not consult it: record timestamps come
	// from the decoded message only.
	ReceivedAt time.Time
	// ConnectorName is the configured name of the input stanza this
	// record came from.
	ConnectorName string
}
