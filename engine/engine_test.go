// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rob-gra/go-fix42/clog"
	"github.com/rob-gra/go-fix42/session"
	"github.com/rob-gra/go-fix42/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return New(st, clog.Clog{}, nil, nil)
}

func acceptorConfig(sender, target, addr string) session.Config {
	cfg := session.DefaultConfig()
	cfg.SenderCompID = sender
	cfg.TargetCompID = target
	cfg.Role = session.RoleAcceptor
	cfg.TargetAddr = addr
	return cfg
}

func initiatorConfig(sender, target, addr string) session.Config {
	cfg := session.DefaultConfig()
	cfg.SenderCompID = sender
	cfg.TargetCompID = target
	cfg.Role = session.RoleInitiator
	cfg.TargetAddr = addr
	return cfg
}

func TestAddSessionRejectsDuplicateID(t *testing.T) {
	e := newTestEngine(t)
	cfg := acceptorConfig("SRV", "CLI", "127.0.0.1:0")

	if err := e.AddSession(cfg); err != nil {
		t.Fatalf("AddSession: %v", err)
	}
	if err := e.AddSession(cfg); err == nil {
		t.Error("AddSession accepted a duplicate session id")
	}
}

func TestAddSessionRejectsInvalidConfig(t *testing.T) {
	e := newTestEngine(t)
	cfg := session.DefaultConfig() // missing SenderCompID/TargetCompID
	if err := e.AddSession(cfg); err == nil {
		t.Error("AddSession accepted an invalid Config")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.GetSession("NOPE_NOPE"); err == nil {
		t.Error("GetSession found a session that was never registered")
	}
}

func TestGetSessionAndSessionsListing(t *testing.T) {
	e := newTestEngine(t)
	cfg1 := acceptorConfig("SRV", "CLI1", "127.0.0.1:0")
	cfg2 := acceptorConfig("SRV", "CLI2", "127.0.0.1:0")
	if err := e.AddSession(cfg1); err != nil {
		t.Fatalf("AddSession 1: %v", err)
	}
	if err := e.AddSession(cfg2); err != nil {
		t.Fatalf("AddSession 2: %v", err)
	}

	ids := e.Sessions()
	if len(ids) != 2 {
		t.Fatalf("Sessions() returned %d ids, want 2", len(ids))
	}

	sess, err := e.GetSession(cfg1.SessionID())
	if err != nil {
		t.Fatalf("GetSession(%s): %v", cfg1.SessionID(), err)
	}
	if sess == nil {
		t.Fatal("GetSession returned a nil session with no error")
	}
}

func TestStartBindsAcceptorListenerAndStopClosesIt(t *testing.T) {
	e := newTestEngine(t)
	cfg := acceptorConfig("SRV", "CLI", "127.0.0.1:0")
	if err := e.AddSession(cfg); err != nil {
		t.Fatalf("AddSession: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	e.mu.Lock()
	numListeners := len(e.listeners)
	e.mu.Unlock()
	if numListeners != 1 {
		t.Fatalf("listeners = %d, want 1", numListeners)
	}

	// Stop must close the listener and return without hanging even
	// though nothing ever connected.
	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStartWithNoSessionsIsANoop(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start on an empty engine: %v", err)
	}
	e.Stop()
}

func TestStartRejectsUnreachableInitiatorWithoutFailingStart(t *testing.T) {
	e := newTestEngine(t)
	cfg := initiatorConfig("CLI", "SRV", "127.0.0.1:1")
	cfg.Transport.ConnectionTimeout = 50 * time.Millisecond
	if err := e.AddSession(cfg); err != nil {
		t.Fatalf("AddSession: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// A dial failure for one initiator is logged, not returned: Start
	// must still bring up every other session.
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Stop()
}
