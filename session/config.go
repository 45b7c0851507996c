// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package session implements the FIX session protocol engine: the
// logon/heartbeat/resend state machine of §4.4, built the way the
// teacher's cs104 package builds its APCI/U-format state machine —
// an immutable Config validated up front, a mutable state struct
// guarded by a single mutex, and a background ticker driving
// liveness checks.
package session

import (
	"time"

	"github.com/rob-gra/go-fix42/errs"
)

// Role identifies which side of the session initiates the TCP
// connection and the Logon exchange.
type Role int

const (
	RoleInitiator Role = iota
	RoleAcceptor
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "Initiator"
	}
	return "Acceptor"
}

// TransportConfig carries the optional TLS settings of §6 EXTERNAL
// INTERFACES. Left zero-valued, the session dials or accepts plain
// TCP.
type TransportConfig struct {
	UseSSL            bool
	CertFile          string
	KeyFile           string
	CAFile            string
	VerifyPeer        bool
	BufferSize        int
	ConnectionTimeout time.Duration
}

// Config is the immutable description of one session, mirroring the
// teacher's cs104.Config: a flat struct with a Valid() method and a
// DefaultConfig() constructor for the fields that have sane defaults.
type Config struct {
	BeginString       string
	SenderCompID      string
	TargetCompID      string
	TargetAddr        string
	HeartBtInt        time.Duration
	ResetOnLogon      bool
	ResetOnLogout     bool
	ResetOnDisconnect bool
	Role              Role
	Transport         TransportConfig

	// LogonTimeout bounds how long InitiateLogon waits for the peer's
	// Logon before shouldDisconnect() fires.
	LogonTimeout time.Duration

	// TestRequestDelay is the grace period added to HeartBtInt before
	// a silent peer earns a TestRequest.
	TestRequestDelay time.Duration
}

// SessionID is the conventional local identifier for a session,
// derived from its CompIDs and used as the Store's session key.
func (c Config) SessionID() string {
	return c.SenderCompID + "_" + c.TargetCompID
}

// DefaultConfig returns a Config with every optional field set to its
// specification default (BeginString is "FIX.4.2"); callers still must
// set SenderCompID, TargetCompID and Role.
func DefaultConfig() Config {
	return Config{
		BeginString:       "FIX.4.2",
		HeartBtInt:        30 * time.Second,
		ResetOnLogon:      false,
		ResetOnLogout:     false,
		ResetOnDisconnect: false,
		LogonTimeout:      30 * time.Second,
		TestRequestDelay:  2 * time.Second,
		Transport: TransportConfig{
			BufferSize:        4096,
			ConnectionTimeout: 10 * time.Second,
		},
	}
}

// Valid range-checks c the way cs104.Config.Valid does, returning an
// errs.KindConfig error naming the first violation found.
func (c Config) Valid() error {
	if c.BeginString == "" {
		return errs.Config("BeginString must not be empty")
	}
	if c.SenderCompID == "" || c.TargetCompID == "" {
		return errs.Config("SenderCompID and TargetCompID are required")
	}
	if c.HeartBtInt <= 0 {
		return errs.Config("session %s: HeartBtInt must be > 0", c.SessionID())
	}
	if c.Role == RoleInitiator && c.TargetAddr == "" {
		return errs.Config("session %s: initiator requires TargetAddr", c.SessionID())
	}
	if c.LogonTimeout <= 0 {
		return errs.Config("session %s: LogonTimeout must be > 0", c.SessionID())
	}
	if c.TestRequestDelay <= 0 {
		return errs.Config("session %s: TestRequestDelay must be > 0", c.SessionID())
	}
	if c.Transport.UseSSL {
		if c.Transport.CertFile == "" || c.Transport.KeyFile == "" {
			return errs.Config("session %s: use_ssl requires cert_file and key_file", c.SessionID())
		}
		if c.Transport.VerifyPeer && c.Transport.CAFile == "" {
			return errs.Config("session %s: verify_peer requires ca_file", c.SessionID())
		}
	}
	return nil
}
