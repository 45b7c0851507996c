// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package engine owns a set of Sessions partitioned by role, mirroring
// §4.5: Initiator sessions dial out at Start, Acceptor sessions are
// constructed as connections land on a listening socket.
package engine

import (
	"context"
	"net"
	"sync"

	"github.com/rob-gra/go-fix42/clog"
	"github.com/rob-gra/go-fix42/errs"
	"github.com/rob-gra/go-fix42/session"
	"github.com/rob-gra/go-fix42/store"
)

// Engine owns every Session in the process plus the shared Store and
// logger infrastructure they're built from (§9: sessions hold
// non-owning handles to shared infrastructure; the Engine owns the
// Sessions).
type Engine struct {
	store   *store.Store
	log     clog.Clog
	handler session.ApplicationHandler
	metrics session.Metrics

	mu           sync.Mutex
	sessions     map[string]*session.Session
	acceptorCfgs map[string]session.Config
	listeners    []net.Listener

	wg sync.WaitGroup
}

// New constructs an Engine backed by st, logging through log.
func New(st *store.Store, log clog.Clog, handler session.ApplicationHandler, metrics session.Metrics) *Engine {
	return &Engine{
		store:        st,
		log:          log,
		handler:      handler,
		metrics:      metrics,
		sessions:     make(map[string]*session.Session),
		acceptorCfgs: make(map[string]session.Config),
	}
}

// AddSession registers cfg with the Engine. It does not start
// anything; call Start to bring every registered session up.
func (e *Engine) AddSession(cfg session.Config) error {
	if err := cfg.Valid(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	id := cfg.SessionID()
	if _, exists := e.sessions[id]; exists {
		return errs.Config("session %s already registered", id)
	}

	sess, err := session.NewSession(cfg, e.store, e.log, e.handler, e.metrics)
	if err != nil {
		return err
	}
	e.sessions[id] = sess
	if cfg.Role == session.RoleAcceptor {
		e.acceptorCfgs[id] = cfg
	}
	return nil
}

// Start dials every Initiator session and binds a listener per unique
// Acceptor target address, accepting connections into a per-address
// accept-loop goroutine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	acceptorsByAddr := make(map[string][]string)
	initiators := make([]string, 0)
	for id, sess := range e.sessions {
		cfg := e.acceptorCfgs[id]
		if cfg.Role == session.RoleAcceptor {
			acceptorsByAddr[cfg.TargetAddr] = append(acceptorsByAddr[cfg.TargetAddr], id)
		} else {
			initiators = append(initiators, id)
		}
	}
	e.mu.Unlock()

	for addr, ids := range acceptorsByAddr {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return errs.ConnectionWrap(err, "listen on %s", addr)
		}
		e.mu.Lock()
		e.listeners = append(e.listeners, ln)
		e.mu.Unlock()

		e.wg.Add(1)
		go e.acceptLoop(ctx, ln, ids)
	}

	for _, id := range initiators {
		sess := e.getSessionLocked(id)
		if sess == nil {
			continue
		}
		if err := sess.Start(ctx, nil); err != nil {
			e.log.Error("engine: start initiator session %s: %v", id, err)
		}
	}
	return nil
}

// acceptLoop runs one accept-loop task per listening address, handing
// accepted connections to the Acceptor sessions configured for that
// address in turn (round-robin). It does not check whether the chosen
// session is already connected.
func (e *Engine) acceptLoop(ctx context.Context, ln net.Listener, ids []string) {
	defer e.wg.Done()
	defer ln.Close()

	idx := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			e.log.Error("engine: accept on %s: %v", ln.Addr(), err)
			return
		}

		id := ids[idx%len(ids)]
		idx++

		sess := e.getSessionLocked(id)
		if sess == nil {
			conn.Close()
			continue
		}
		cfg := e.acceptorCfgs[id]
		transport := session.WrapAccepted(conn, cfg)
		if err := sess.Start(ctx, transport); err != nil {
			e.log.Error("engine: start acceptor session %s: %v", id, err)
			conn.Close()
		}
	}
}

func (e *Engine) getSessionLocked(id string) *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[id]
}

// GetSession performs the linear lookup described by §4.5.
func (e *Engine) GetSession(id string) (*session.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for sid, sess := range e.sessions {
		if sid == id {
			return sess, nil
		}
	}
	return nil, errs.SessionNotFound(id)
}

// Sessions returns every registered session id, for admin inspection.
func (e *Engine) Sessions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Stop halts every listener and requests cooperative shutdown on
// every session, then waits for the accept-loops to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	listeners := e.listeners
	sessions := make([]*session.Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, ln := range listeners {
		ln.Close()
	}
	for _, s := range sessions {
		s.Stop()
	}
	e.wg.Wait()
}
