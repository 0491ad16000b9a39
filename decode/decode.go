// Copyright (c) 2021 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package decode unmarshals the raw bytes captured by a connector
// into the wire message types the parser understands: gNMI
// SubscribeResponse for dial-in gNMI streams, and Cisco EMS
// Telemetry for dial-in/dial-out model-driven telemetry streams.
package decode

import (
	"fmt"

	"github.com/cisco-ie/nx-telemetry-proto/telemetry_bis"
	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/mdtpipe/mdtpipe/errs"
)

// GNMI unmarshals a gNMI SubscribeResponse.
func GNMI(payload []byte) (*gnmipb.SubscribeResponse, error) {
	resp := &gnmipb.SubscribeResponse{}
	if err := proto.Unmarshal(payload, resp); err != nil {
		return nil, errs.New(errs.KindDecode, "decode", "gnmi subscribe response", err)
	}
	return resp, nil
}

// EMS unmarshals a Cisco EMS Telemetry message encoded as binary
// protobuf (gpb and self-describing-gpb encode_types).
func EMS(payload []byte) (*telemetry_bis.Telemetry, error) {
	tele := &telemetry_bis.Telemetry{}
	if err := proto.Unmarshal(payload, tele); err != nil {
		return nil, errs.New(errs.KindDecode, "decode", "ems telemetry message", err)
	}
	return tele, nil
}

// EMSJSON unmarshals a Cisco EMS Telemetry message encoded as the
// protobuf's canonical JSON mapping, used when a dial-in or dial-out
// subscription is configured with encode_type json rather than the
// binary gpb wire format.
func EMSJSON(payload []byte) (*telemetry_bis.Telemetry, error) {
	tele := &telemetry_bis.Telemetry{}
	if err := protojson.Unmarshal(payload, tele); err != nil {
		return nil, errs.New(errs.KindDecode, "decode", "ems telemetry json message", err)
	}
	return tele, nil
}

// ByEncoding dispatches to GNMI, EMS or EMSJSON based on the encoding
// the record was captured with, returning the decoded message as
// `interface{}` for the parser to type-switch on.
func ByEncoding(encodingName string, payload []byte) (interface{}, error) {
	switch encodingName {
	case "gnmi":
		return GNMI(payload)
	case "ems", "gpb", "self-describing-gpb":
		return EMS(payload)
	case "json":
		return EMSJSON(payload)
	default:
		return nil, errs.New(errs.KindDecode, "decode",
			fmt.Sprintf("unsupported encoding %q", encodingName), nil)
	}
}
