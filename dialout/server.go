// Copyright (c) 2017 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package dialout implements the collector's dial-out TCP server: it
// accepts connections initiated by devices configured for dial-out
// telemetry, reads the fixed 12-byte framing header Cisco devices
// prepend to every message, and republishes the payload as a
// telemetry.RawRecord.
package dialout

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/mdtpipe/mdtpipe/errs"
	"github.com/mdtpipe/mdtpipe/logger"
	"github.com/mdtpipe/mdtpipe/telemetry"
)

// header is the 12-byte big-endian frame Cisco's dial-out client
// prepends to every message: msg_type, encode_type, msg_version,
// flags (all int16), followed by msg_length (int32).
type header struct {
	MsgType    int16
	EncodeType int16
	MsgVersion int16
	Flags      int16
	MsgLength  int32
}

const headerSize = 12

// encodeNames maps the header's encode_type field to the encoding
// name the rest of the pipeline uses.
var encodeNames = map[int16]telemetry.Encoding{
	1: telemetry.EncodingGPB,
	2: telemetry.EncodingJSON,
}

// Config configures the dial-out listener.
type Config struct {
	Name    string
	Addr    string // host:port to listen on
	Timeout time.Duration
}

// Server accepts dial-out connections and emits a RawRecord per
// framed message, one goroutine per connection.
type Server struct {
	cfg Config
	log logger.Logger

	mu sync.Mutex
	ln net.Listener
}

// New constructs a dial-out server for the given configuration.
func New(cfg Config, log logger.Logger) *Server {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Server{cfg: cfg, log: log}
}

// Listen binds cfg.Addr with SO_REUSEADDR set. Run calls it if it
// hasn't been called yet; calling it first lets the caller learn the
// bound address (e.g. when cfg.Addr specifies port 0).
func (s *Server) Listen(ctx context.Context) error {
	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return errs.New(errs.KindConnect, "dialout", "listen on "+s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the listener's bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run listens on cfg.Addr (unless Listen was already called) and
// serves connections until ctx is canceled.
func (s *Server) Run(ctx context.Context, out chan<- telemetry.RawRecord) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		if err := s.Listen(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.ln
		s.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Errorf("dialout %s: accept: %v", s.cfg.Name, err)
			continue
		}
		go s.serve(ctx, conn, out)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn, out chan<- telemetry.RawRecord) {
	defer conn.Close()
	peer := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	s.log.Infof("dialout %s: accepted connection from %s", s.cfg.Name, peer)

	for {
		if s.cfg.Timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout))
		}
		hdr, err := readHeader(conn)
		if err != nil {
			if err != io.EOF {
				s.log.Errorf("dialout %s: %s: read header: %v", s.cfg.Name, peer, err)
			}
			return
		}
		if hdr.MsgLength < 0 {
			s.log.Errorf("dialout %s: %s: malformed header: negative msg_length %d", s.cfg.Name, peer, hdr.MsgLength)
			return
		}
		payload := make([]byte, hdr.MsgLength)
		if _, err := io.ReadFull(conn, payload); err != nil {
			s.log.Errorf("dialout %s: %s: read payload: %v", s.cfg.Name, peer, err)
			return
		}
		enc, ok := encodeNames[hdr.EncodeType]
		if !ok {
			s.log.Errorf("dialout %s: %s: unknown encode_type %d", s.cfg.Name, peer, hdr.EncodeType)
			continue
		}
		rec := telemetry.RawRecord{
			Source:        telemetry.SourceDialOut,
			Encoding:      enc,
			Payload:       payload,
			PeerAddr:      peer,
			ReceivedAt:    time.Now(),
			ConnectorName: s.cfg.Name,
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return
		}
	}
}

func readHeader(r io.Reader) (header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return header{}, err
	}
	return header{
		MsgType:    int16(binary.BigEndian.Uint16(buf[0:2])),
		EncodeType: int16(binary.BigEndian.Uint16(buf[2:4])),
		MsgVersion: int16(binary.BigEndian.Uint16(buf[4:6])),
		Flags:      int16(binary.BigEndian.Uint16(buf[6:8])),
		MsgLength:  int32(binary.BigEndian.Uint32(buf[8:12])),
	}, nil
}

// setReuseAddr sets SO_REUSEADDR on the listening socket so the
// collector can restart and rebind immediately after a crash, without
// waiting out TIME_WAIT on the previous listener.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
