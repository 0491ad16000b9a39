// Copyright (c) 2017 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package dialin implements the collector's dial-in connector: it
// dials a device's gRPC endpoint, issues either a gNMI Subscribe or a
// Cisco EMS CreateSubs request, and republishes every message it
// receives as a telemetry.RawRecord, reconnecting with exponential
// backoff on any failure.
package dialin

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	_ "google.golang.org/grpc/encoding/gzip" // registers the gzip compressor
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/proto"

	"github.com/mdtpipe/mdtpipe/emspb"
	"github.com/mdtpipe/mdtpipe/errs"
	"github.com/mdtpipe/mdtpipe/logger"
	mpath "github.com/mdtpipe/mdtpipe/path"
	"github.com/mdtpipe/mdtpipe/telemetry"
)

// Format names the input's subscription shape.
type Format string

// Supported formats.
const (
	FormatGNMI     Format = "gnmi"
	FormatCiscoEMS Format = "cisco-ems"
)

// State is the connector's connection lifecycle state, per the
// dial-reconnect state diagram.
type State int

// Connector states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateBackingOff
	StateClosed
)

// Config configures one dial-in connector instance.
type Config struct {
	Name        string
	Address     string
	Port        string
	Username    string
	Password    string
	PEM         []byte // nil for an insecure connection
	Compression string // "", "gzip"
	NoRetry     bool   // close instead of backing off on a terminal error

	Format   Format
	Encoding string // gnmi encoding name, or one of gpb/self-describing-gpb/json for EMS

	// gNMI-only fields.
	Sensors          []string
	SampleIntervalNs int64
	SubscriptionMode gnmipb.SubscriptionList_Mode
	StreamMode       gnmipb.SubscriptionMode

	// EMS-only fields.
	Subscriptions []string
	QosMarking    uint32
	HasQos        bool
}

const (
	minBackoff = 1 * time.Second
	maxBackoff = 128 * time.Second

	// rpcTimeout bounds the identity Get calls (the dial itself does
	// not block); subscription streams are bounded only by
	// cancellation.
	rpcTimeout = 10 * time.Second
)

// sslTargetNameOverride is the server name EMS devices present in
// their default certificate.
const sslTargetNameOverride = "ems.cisco.com"

// hostPaths are queried, in order, to resolve a device's hostname
// when the subscription itself doesn't carry one; the first
// successful response wins.
var hostPaths = []string{
	"/Cisco-IOS-XR-shellutil-cfg:host-names/host-name",
	"/system/state/hostname",
	"/system/config/hostname",
}

var versionPaths = []string{
	"/Cisco-IOS-XR-install-oper:install/version/label",
	"/openconfig-platform:components/component/state/software-version",
}

// Connector manages one dial-in subscription's lifecycle.
type Connector struct {
	cfg Config
	log logger.Logger

	mu       sync.Mutex
	state    State
	hostname string
	version  string
}

// New constructs a connector for the given configuration.
func New(cfg Config, log logger.Logger) *Connector {
	return &Connector{cfg: cfg, log: log, state: StateDisconnected}
}

// State returns the connector's current lifecycle state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run dials, subscribes, and streams RawRecords onto out until ctx is
// canceled, retrying transient failures with exponential backoff
// starting at 1s and doubling up to 128s, with jitter, resetting to
// 1s after any successful subscription. With NoRetry set it returns
// the first terminal error instead of backing off. Either way the
// connector ends in StateClosed.
func (c *Connector) Run(ctx context.Context, out chan<- telemetry.RawRecord) error {
	bo := newBackOff()
	attempt := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return ctx.Err()
		}
		err := c.runOnce(ctx, out)
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return ctx.Err()
		}
		if c.State() == StateSubscribed {
			// The subscription was established before this stream
			// ended, so the next failure starts a fresh backoff
			// schedule.
			bo.Reset()
			attempt = 0
		}
		if err == nil {
			// runOnce only returns nil when the stream ended cleanly
			// (EOF); reconnect immediately.
			continue
		}
		if c.cfg.NoRetry {
			c.log.Errorf("dialin %s: %v, closing (retry disabled)", c.cfg.Name, err)
			c.setState(StateClosed)
			return err
		}
		attempt++
		wait := bo.NextBackOff() + time.Duration(rand.Int63n(int64(time.Second)))
		c.log.Errorf("dialin %s: %v, reconnect attempt %d in %s", c.cfg.Name, err, attempt, wait)
		c.setState(StateBackingOff)
		select {
		case <-ctx.Done():
			c.setState(StateClosed)
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// newBackOff builds the reconnect schedule: starting at minBackoff,
// doubling each attempt, capped at maxBackoff, running forever until
// Reset. The schedule itself is not randomized; Run adds up to 1s of
// uniform jitter to each wait.
func newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = minBackoff
	bo.Multiplier = 2
	bo.MaxInterval = maxBackoff
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0
	bo.Reset()
	return bo
}

func (c *Connector) runOnce(ctx context.Context, out chan<- telemetry.RawRecord) error {
	c.setState(StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil {
		return errs.New(errs.KindConnect, "dialin", "dial", err)
	}
	defer conn.Close()

	c.resolveIdentity(ctx, conn)

	switch c.cfg.Format {
	case FormatCiscoEMS:
		return c.streamEMS(ctx, conn, out)
	default:
		return c.streamGNMI(ctx, conn, out)
	}
}

func (c *Connector) dial(ctx context.Context) (*grpc.ClientConn, error) {
	target := c.cfg.Address + ":" + c.cfg.Port
	var opts []grpc.DialOption

	if len(c.cfg.PEM) > 0 {
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(c.cfg.PEM)
		opts = append(opts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{
				RootCAs:    pool,
				ServerName: sslTargetNameOverride,
			})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:    60 * time.Second,
		Timeout: 10 * time.Second,
	}))
	opts = append(opts, grpc.WithPerRPCCredentials(passwordCreds{
		username: c.cfg.Username,
		password: c.cfg.Password,
		insecure: len(c.cfg.PEM) == 0,
	}))
	if c.cfg.Compression == "gzip" {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.UseCompressor("gzip")))
	}
	return grpc.DialContext(ctx, target, opts...)
}

// passwordCreds injects username/password as gRPC metadata the way
// EMS and gNMI devices expect on every RPC.
type passwordCreds struct {
	username, password string
	insecure           bool
}

func (p passwordCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"username": p.username, "password": p.password}, nil
}

func (p passwordCreds) RequireTransportSecurity() bool { return !p.insecure }

// resolveIdentity queries hostPaths/versionPaths on each connection
// until a hostname has been resolved, then caches the result on the
// connector and skips the queries on later reconnects, since it does
// not change unless the device itself is replaced.
func (c *Connector) resolveIdentity(ctx context.Context, conn *grpc.ClientConn) {
	c.mu.Lock()
	alreadyResolved := c.hostname != ""
	c.mu.Unlock()
	if alreadyResolved || c.cfg.Format != FormatGNMI {
		return
	}
	client := gnmipb.NewGNMIClient(conn)
	getCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	hostname := c.getFirst(getCtx, client, hostPaths)
	version := c.getFirst(getCtx, client, versionPaths)
	if hostname == "" {
		// Leave the cache empty so the next reconnect tries again;
		// identity() falls back to the configured address meanwhile.
		return
	}
	c.mu.Lock()
	c.hostname = hostname
	c.version = version
	c.mu.Unlock()
}

func (c *Connector) getFirst(ctx context.Context, client gnmipb.GNMIClient, paths []string) string {
	for _, p := range paths {
		gp, err := mpath.ParseString(p)
		if err != nil {
			continue
		}
		resp, err := client.Get(ctx, &gnmipb.GetRequest{Path: []*gnmipb.Path{gp}})
		if err != nil || len(resp.GetNotification()) == 0 {
			continue
		}
		for _, n := range resp.GetNotification() {
			for _, u := range n.GetUpdate() {
				if s := u.GetVal().GetStringVal(); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func (c *Connector) identity() (hostname, version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hostname == "" {
		return c.cfg.Address, c.version
	}
	return c.hostname, c.version
}

func (c *Connector) streamGNMI(ctx context.Context, conn *grpc.ClientConn, out chan<- telemetry.RawRecord) error {
	client := gnmipb.NewGNMIClient(conn)
	req, err := c.subscribeRequest()
	if err != nil {
		return errs.New(errs.KindConfig, "dialin", "build subscribe request", err)
	}
	stream, err := client.Subscribe(ctx)
	if err != nil {
		return errs.New(errs.KindRPC, "dialin", "subscribe", err)
	}
	if err := stream.Send(req); err != nil {
		return errs.New(errs.KindRPC, "dialin", "send subscribe request", err)
	}
	c.setState(StateSubscribed)
	hostname, version := c.identity()
	for {
		resp, err := stream.Recv()
		if err != nil {
			return err
		}
		if errResp := resp.GetError(); errResp != nil {
			return errs.New(errs.KindRPC, "dialin", "device error: "+errResp.GetMessage(), nil)
		}
		if resp.GetSyncResponse() {
			// Sync markers are signal only; nothing downstream
			// consumes them.
			continue
		}
		payload, err := proto.Marshal(resp)
		if err != nil {
			c.log.Errorf("dialin %s: marshal subscribe response: %v", c.cfg.Name, err)
			continue
		}
		rec := telemetry.RawRecord{
			Source:        telemetry.SourceDialIn,
			Encoding:      telemetry.EncodingGNMI,
			Payload:       payload,
			Hostname:      hostname,
			Version:       version,
			PeerAddr:      c.cfg.Address,
			ReceivedAt:    time.Now(),
			ConnectorName: c.cfg.Name,
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connector) subscribeRequest() (*gnmipb.SubscribeRequest, error) {
	var subs []*gnmipb.Subscription
	for _, s := range c.cfg.Sensors {
		p, err := mpath.ParseString(s)
		if err != nil {
			return nil, err
		}
		subs = append(subs, &gnmipb.Subscription{
			Path:           p,
			Mode:           c.cfg.StreamMode,
			SampleInterval: uint64(c.cfg.SampleIntervalNs),
		})
	}
	return &gnmipb.SubscribeRequest{
		Request: &gnmipb.SubscribeRequest_Subscribe{
			Subscribe: &gnmipb.SubscriptionList{
				Subscription: subs,
				Mode:         c.cfg.SubscriptionMode,
				Encoding:     gnmiEncoding(c.cfg.Encoding),
			},
		},
	}, nil
}

// gnmiEncoding maps a configured gNMI encoding name to the wire enum,
// defaulting to JSON_IETF (the encoding every IOS-XR/openconfig
// device supports) when unset or unrecognized.
func gnmiEncoding(name string) gnmipb.Encoding {
	switch name {
	case "PROTO":
		return gnmipb.Encoding_PROTO
	case "JSON":
		return gnmipb.Encoding_JSON
	case "BYTES":
		return gnmipb.Encoding_BYTES
	case "ASCII":
		return gnmipb.Encoding_ASCII
	default:
		return gnmipb.Encoding_JSON_IETF
	}
}

// emsRecordEncoding maps a configured EMS encoding name to the
// RawRecord.Encoding tag the decoder dispatches on, so a
// self-describing-gpb or json subscription is decoded with the
// matching decoder rather than always assumed to be plain gpb.
func emsRecordEncoding(name string) telemetry.Encoding {
	switch name {
	case "self-describing-gpb":
		return telemetry.EncodingSelfDescribingGPB
	case "json":
		return telemetry.EncodingJSON
	default:
		return telemetry.EncodingGPB
	}
}

func (c *Connector) streamEMS(ctx context.Context, conn *grpc.ClientConn, out chan<- telemetry.RawRecord) error {
	client := emspb.NewGRPCConfigOperClient(conn)
	encodings := map[string]int64{"gpb": 2, "self-describing-gpb": 3, "json": 4}
	encName := c.cfg.Encoding
	if encName == "" {
		encName = "gpb"
	}
	encode, ok := encodings[encName]
	if !ok {
		return errs.New(errs.KindConfig, "dialin", "unsupported ems encoding "+c.cfg.Encoding, nil)
	}
	recEncoding := emsRecordEncoding(encName)
	var qos *emspb.QOSMarking
	if c.cfg.HasQos {
		qos = &emspb.QOSMarking{Marking: c.cfg.QosMarking}
	}

	c.setState(StateSubscribed)
	var wg sync.WaitGroup
	errCh := make(chan error, len(c.cfg.Subscriptions))
	for i, sub := range c.cfg.Subscriptions {
		args := &emspb.CreateSubsArgs{
			ReqID:    int64(i) + 1,
			Encode:   encode,
			Subidstr: sub,
			Qos:      qos,
		}
		stream, err := client.CreateSubs(ctx, args)
		if err != nil {
			return errs.New(errs.KindRPC, "dialin", "create subs "+sub, err)
		}
		wg.Add(1)
		go func(sub string) {
			defer wg.Done()
			for {
				reply, err := stream.Recv()
				if err != nil {
					errCh <- err
					return
				}
				if reply.Errors != "" {
					errCh <- errs.New(errs.KindRPC, "dialin", "subscription "+sub+": "+reply.Errors, nil)
					return
				}
				rec := telemetry.RawRecord{
					Source:        telemetry.SourceDialIn,
					Encoding:      recEncoding,
					Payload:       reply.Data,
					PeerAddr:      c.cfg.Address,
					ReceivedAt:    time.Now(),
					ConnectorName: c.cfg.Name,
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}
	go func() { wg.Wait(); close(errCh) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
