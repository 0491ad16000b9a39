// Copyright (c) 2021 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package decode

import (
	"testing"

	"github.com/cisco-ie/nx-telemetry-proto/telemetry_bis"
	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

func TestGNMIRoundTrip(t *testing.T) {
	want := &gnmipb.SubscribeResponse{
		Response: &gnmipb.SubscribeResponse_SyncResponse{SyncResponse: true},
	}
	payload, err := proto.Marshal(want)
	require.NoError(t, err)

	got, err := GNMI(payload)
	require.NoError(t, err)
	require.True(t, got.GetSyncResponse())
}

func TestGNMIDecodeError(t *testing.T) {
	_, err := GNMI([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestEMSRoundTrip(t *testing.T) {
	want := &telemetry_bis.Telemetry{EncodingPath: "foo/bar"}
	payload, err := proto.Marshal(want)
	require.NoError(t, err)

	got, err := EMS(payload)
	require.NoError(t, err)
	require.Equal(t, "foo/bar", got.GetEncodingPath())
}

func TestEMSDecodeError(t *testing.T) {
	_, err := EMS([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestEMSJSONRoundTrip(t *testing.T) {
	want := &telemetry_bis.Telemetry{EncodingPath: "foo/bar", NodeId: &telemetry_bis.Telemetry_NodeIdStr{NodeIdStr: "r1"}}
	payload, err := protojson.Marshal(want)
	require.NoError(t, err)

	got, err := EMSJSON(payload)
	require.NoError(t, err)
	require.Equal(t, "foo/bar", got.GetEncodingPath())
	require.Equal(t, "r1", got.GetNodeIdStr())
}

func TestEMSJSONDecodeError(t *testing.T) {
	_, err := EMSJSON([]byte("not json"))
	require.Error(t, err)
}

func TestByEncodingDispatch(t *testing.T) {
	gnmiPayload, err := proto.Marshal(&gnmipb.SubscribeResponse{
		Response: &gnmipb.SubscribeResponse_SyncResponse{SyncResponse: true},
	})
	require.NoError(t, err)
	msg, err := ByEncoding("gnmi", gnmiPayload)
	require.NoError(t, err)
	_, ok := msg.(*gnmipb.SubscribeResponse)
	require.True(t, ok)

	emsPayload, err := proto.Marshal(&telemetry_bis.Telemetry{EncodingPath: "x"})
	require.NoError(t, err)
	msg, err = ByEncoding("gpb", emsPayload)
	require.NoError(t, err)
	_, ok = msg.(*telemetry_bis.Telemetry)
	require.True(t, ok)

	emsJSONPayload, err := protojson.Marshal(&telemetry_bis.Telemetry{EncodingPath: "y"})
	require.NoError(t, err)
	msg, err = ByEncoding("json", emsJSONPayload)
	require.NoError(t, err)
	tele, ok := msg.(*telemetry_bis.Telemetry)
	require.True(t, ok)
	require.Equal(t, "y", tele.GetEncodingPath())

	_, err = ByEncoding("unknown", nil)
	require.Error(t, err)
}
