// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/rob-gra/go-fix42/errs"
	"github.com/rob-gra/go-fix42/fix"
)

// Transport is the network boundary a Session reads frames from and
// writes frames to. A real implementation wraps a TCP or TLS
// connection; tests substitute an in-memory pipe.
type Transport interface {
	// ReadFrame blocks until one complete FIX frame has been read, or
	// ctx is done, or the transport is closed.
	ReadFrame(ctx context.Context) ([]byte, error)
	// WriteFrame writes one complete, already-serialized frame.
	WriteFrame(ctx context.Context, frame []byte) error
	Close() error
}

// connTransport is the Transport implementation used outside tests:
// a buffered reader over a net.Conn, framing inbound bytes with
// fix.ExtractFrame the same way the teacher's cs104 reader framed
// APDUs off startFrame/length bytes.
type connTransport struct {
	conn net.Conn
	r    *bufio.Reader
	buf  []byte
}

func newConnTransport(conn net.Conn, bufferSize int) *connTransport {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &connTransport{conn: conn, r: bufio.NewReaderSize(conn, bufferSize)}
}

// Dial opens an Initiator-side transport, wrapping the connection in
// TLS when cfg.Transport.UseSSL is set.
func Dial(ctx context.Context, cfg Config) (Transport, error) {
	dialer := net.Dialer{Timeout: cfg.Transport.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.TargetAddr)
	if err != nil {
		return nil, errs.ConnectionWrap(err, "dial %s", cfg.TargetAddr)
	}
	if cfg.Transport.UseSSL {
		tlsConn, err := upgradeClientTLS(conn, cfg)
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}
	return newConnTransport(conn, cfg.Transport.BufferSize), nil
}

// WrapAccepted wraps an Acceptor-side net.Conn, already handed off by
// a listener's Accept loop, as a Transport.
func WrapAccepted(conn net.Conn, cfg Config) Transport {
	return newConnTransport(conn, cfg.Transport.BufferSize)
}

func upgradeClientTLS(conn net.Conn, cfg Config) (net.Conn, error) {
	cert, err := tls.LoadX509KeyPair(cfg.Transport.CertFile, cfg.Transport.KeyFile)
	if err != nil {
		return nil, errs.CertificateWrap(err, "load client key pair for session %s", cfg.SessionID())
	}
	tlsCfg := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: !cfg.Transport.VerifyPeer,
	}
	return tls.Client(conn, tlsCfg), nil
}

func (t *connTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetReadDeadline(deadline)
	}
	for {
		if frame, consumed, ok := fix.ExtractFrame(t.buf); ok {
			t.buf = t.buf[consumed:]
			return frame, nil
		}
		chunk := make([]byte, 4096)
		n, err := t.r.Read(chunk)
		if n > 0 {
			t.buf = append(t.buf, chunk[:n]...)
		}
		if err != nil {
			return nil, errs.TransportWrap(err, "read frame")
		}
	}
}

func (t *connTransport) WriteFrame(ctx context.Context, frame []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
	}
	if _, err := t.conn.Write(frame); err != nil {
		return errs.TransportWrap(err, "write frame")
	}
	return nil
}

func (t *connTransport) Close() error {
	return t.conn.Close()
}

// withTimeout is a small helper mirroring how the teacher bounds every
// transport operation by connectionTimeout (§5 Cancellation and
// timeouts).
func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
