// Copyright (c) 2021 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package emspb is a minimal, hand-written gRPC client for Cisco IOS
// XR's EMS model-driven telemetry dial-in service
// (gRPCConfigOper.CreateSubs). No publicly vendored Go stub exists
// for this service's .proto definition, so this package reproduces
// just the request/reply shape and RPC method the dial-in connector
// needs, wire-encoded with protowire the way generated protobuf code
// would encode it.
package emspb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"
)

const codecName = "emspb"

// QOSMarking carries the optional DSCP marking for a subscription
// session.
type QOSMarking struct {
	Marking uint32
}

// CreateSubsArgs is the request message for CreateSubs.
type CreateSubsArgs struct {
	ReqID    int64
	Encode   int64
	Subidstr string
	Qos      *QOSMarking
}

// CreateSubsReply is one message in the CreateSubs response stream.
// Data holds a single encoded Telemetry message; Errors is set
// instead of Data when the device reports a subscription error.
type CreateSubsReply struct {
	Data   []byte
	Errors string
}

func (a *CreateSubsArgs) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.ReqID))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.Encode))
	if a.Subidstr != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, a.Subidstr)
	}
	if a.Qos != nil {
		var qb []byte
		qb = protowire.AppendTag(qb, 1, protowire.VarintType)
		qb = protowire.AppendVarint(qb, uint64(a.Qos.Marking))
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, qb)
	}
	return b
}

func (r *CreateSubsReply) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Data = append([]byte(nil), v...)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Errors = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

// codec is a minimal grpc.encoding.Codec that knows how to marshal
// *CreateSubsArgs and unmarshal *CreateSubsReply; it is registered
// under codecName and selected per-call via grpc.CallContentSubtype.
type codec struct{}

func (codec) Name() string { return codecName }

func (codec) Marshal(v interface{}) ([]byte, error) {
	return v.(*CreateSubsArgs).marshal(), nil
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	return v.(*CreateSubsReply).unmarshal(data)
}

func init() {
	encoding.RegisterCodec(codec{})
}

// GRPCConfigOperClient issues the CreateSubs RPC against the Cisco
// EMS gRPCConfigOper service.
type GRPCConfigOperClient struct {
	cc *grpc.ClientConn
}

// NewGRPCConfigOperClient wraps an established connection.
func NewGRPCConfigOperClient(cc *grpc.ClientConn) *GRPCConfigOperClient {
	return &GRPCConfigOperClient{cc: cc}
}

// CreateSubsClient is the server-streaming response handle returned
// by CreateSubs.
type CreateSubsClient struct {
	grpc.ClientStream
}

// Recv blocks for the next reply in the subscription stream.
func (c *CreateSubsClient) Recv() (*CreateSubsReply, error) {
	reply := new(CreateSubsReply)
	if err := c.ClientStream.RecvMsg(reply); err != nil {
		return nil, err
	}
	return reply, nil
}

const createSubsMethod = "/IOSXRExtensibleManagabilityService.gRPCConfigOper/CreateSubs"

// CreateSubs opens the dial-in subscription stream.
func (c *GRPCConfigOperClient) CreateSubs(
	ctx context.Context, args *CreateSubsArgs,
) (*CreateSubsClient, error) {
	stream, err := c.cc.NewStream(
		ctx,
		&grpc.StreamDesc{StreamName: "CreateSubs", ServerStreams: true},
		createSubsMethod,
		grpc.CallContentSubtype(codecName),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(args); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &CreateSubsClient{ClientStream: stream}, nil
}
