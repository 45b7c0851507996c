// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rob-gra/go-fix42/clog"
	"github.com/rob-gra/go-fix42/errs"
	"github.com/rob-gra/go-fix42/fix"
	"github.com/rob-gra/go-fix42/store"
)

// ApplicationHandler receives application-level (non-administrative)
// messages delivered by a Session once they've passed sequence
// reconciliation.
type ApplicationHandler interface {
	HandleApplicationMessage(sessionID string, msg *fix.Message)
}

// Metrics is the narrow surface a Session reports protocol events to.
// Accepting an interface here (rather than importing the metrics
// package directly) keeps session free of a dependency on Prometheus;
// metrics.Recorder implements it.
type Metrics interface {
	SessionConnected(sessionID string)
	SessionDisconnected(sessionID string)
	HeartbeatSent(sessionID string)
	TestRequestSent(sessionID string)
	ResendRequestSent(sessionID string)
	GapFilled(sessionID string)
	MessagePersisted(sessionID string)
}

type noopMetrics struct{}

func (noopMetrics) SessionConnected(string)    {}
func (noopMetrics) SessionDisconnected(string) {}
func (noopMetrics) HeartbeatSent(string)       {}
func (noopMetrics) TestRequestSent(string)     {}
func (noopMetrics) ResendRequestSent(string)   {}
func (noopMetrics) GapFilled(string)           {}
func (noopMetrics) MessagePersisted(string)    {}

// Session is the protocol state machine of one logical FIX
// connection. State mutation is guarded by a single mutex (stateMu);
// the transport handle has its own mutex; the Store is independently
// thread-safe. Lock order, when more than one is held, is always
// state -> transport -> store, matching the fixed order mandated for
// this engine.
type Session struct {
	cfg     Config
	store   *store.Store
	log     clog.Clog
	handler ApplicationHandler
	metrics Metrics

	stateMu sync.Mutex
	state   *store.SessionState

	transportMu sync.Mutex
	transport   Transport

	consecutiveInvalidFrames int
	pendingTestReqID         string

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSession constructs a Session for cfg, loading any persisted
// message log and state snapshot. A session found on disk resumes
// with status Recovering, per §6 Persisted state / §4.4 Recovery.
func NewSession(cfg Config, st *store.Store, log clog.Clog, handler ApplicationHandler, metrics Metrics) (*Session, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	id := cfg.SessionID()
	if err := st.Load(id); err != nil {
		return nil, err
	}

	state, found, err := st.LoadState(id)
	if err != nil {
		return nil, err
	}
	if !found {
		state = store.NewSessionState()
	} else {
		state.Status = store.StatusRecovering
	}

	return &Session{
		cfg:     cfg,
		store:   st,
		log:     log,
		handler: handler,
		metrics: metrics,
		state:   state,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

func (s *Session) id() string { return s.cfg.SessionID() }

func (s *Session) setStatus(status store.Status) {
	s.stateMu.Lock()
	s.state.Status = status
	err := s.store.SaveState(s.id(), s.state)
	s.stateMu.Unlock()
	if err != nil {
		s.log.Error("session %s: persist state after status -> %s: %v", s.id(), status, err)
	}
}

func (s *Session) status() store.Status {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state.Status
}

// Start brings the session from Created (or Recovering) through
// connection establishment and into the steady-state heartbeat and
// inbound processing loops. For an Initiator, transport may be nil —
// Start dials cfg.TargetAddr itself. For an Acceptor, transport is the
// already-accepted connection handed in by the Engine.
func (s *Session) Start(ctx context.Context, transport Transport) error {
	if st := s.status(); st == store.StatusError || st == store.StatusDisconnected {
		return errs.Session("session %s: cannot Start from status %s; use Recover", s.id(), st)
	}
	s.setStatus(store.StatusConnecting)

	if transport == nil {
		if s.cfg.Role != RoleInitiator {
			return errs.Session("session %s: acceptor sessions require a transport", s.id())
		}
		dialCtx, cancel := withTimeout(ctx, s.cfg.Transport.ConnectionTimeout)
		defer cancel()
		t, err := Dial(dialCtx, s.cfg)
		if err != nil {
			s.setStatus(store.StatusError)
			return err
		}
		transport = t
	}

	s.transportMu.Lock()
	s.transport = transport
	s.transportMu.Unlock()

	s.setStatus(store.StatusInitiateLogon)
	s.touchSend()

	if s.cfg.Role == RoleInitiator {
		if err := s.sendLogon(ctx); err != nil {
			s.setStatus(store.StatusError)
			return err
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.heartbeatLoop(ctx) }()
	go func() { defer wg.Done(); s.inboundLoop(ctx) }()

	go func() {
		wg.Wait()
		close(s.doneCh)
	}()

	return nil
}

// Stop requests cooperative shutdown: the heartbeat loop observes it
// as soon as it is waiting for its next tick, the processor loop on
// the next read boundary.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Done is closed once both the heartbeat and inbound loops have
// exited.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

func (s *Session) closeTransport() {
	s.transportMu.Lock()
	t := s.transport
	s.transport = nil
	s.transportMu.Unlock()
	if t != nil {
		t.Close()
	}
}

// touchSend/touchReceive update the liveness clocks under stateMu.
func (s *Session) touchSend() {
	s.stateMu.Lock()
	s.state.LastSendTimeUnix = time.Now().Unix()
	s.stateMu.Unlock()
}

func (s *Session) touchReceive() {
	s.stateMu.Lock()
	s.state.LastReceiveTimeUnix = time.Now().Unix()
	s.stateMu.Unlock()
}

// heartbeatLoop implements the §4.4 heartbeat protocol: a timer fires
// every HeartBtInt; shouldDisconnect() is checked first, then silence
// beyond HeartBtInt+TestRequestDelay earns a TestRequest, otherwise a
// Heartbeat is sent.
func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartBtInt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.shouldDisconnect() {
				s.beginDisconnect(ctx, "liveness check failed")
				return
			}
			s.stateMu.Lock()
			lastRecv := s.state.LastReceiveTimeUnix
			s.stateMu.Unlock()

			if lastRecv != 0 && time.Since(time.Unix(lastRecv, 0)) > s.cfg.HeartBtInt+s.cfg.TestRequestDelay {
				s.sendTestRequest(ctx)
			} else if s.status() == store.StatusConnected {
				s.sendHeartbeat(ctx, "")
			}
		}
	}
}

// shouldDisconnect implements §4.4's liveness predicate.
func (s *Session) shouldDisconnect() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	now := time.Now()
	switch s.state.Status {
	case store.StatusInitiateLogon:
		return s.state.LastSendTimeUnix != 0 &&
			now.Sub(time.Unix(s.state.LastSendTimeUnix, 0)) > s.cfg.LogonTimeout
	case store.StatusConnected:
		if s.state.TestRequestCounter >= 2 {
			return true
		}
		return s.state.LastReceiveTimeUnix != 0 &&
			now.Sub(time.Unix(s.state.LastReceiveTimeUnix, 0)) > 2*s.cfg.HeartBtInt
	default:
		return false
	}
}

func (s *Session) sendTestRequest(ctx context.Context) {
	id := fmt.Sprintf("TEST_%s", uuid.NewString())
	s.stateMu.Lock()
	s.pendingTestReqID = id
	s.state.TestRequestCounter++
	s.stateMu.Unlock()

	msg := fix.NewMessage(s.cfg.BeginString, fix.MsgTypeTestRequest)
	msg.Set(fix.TagTestReqID, id)
	if err := s.sendAdministrative(ctx, msg); err != nil {
		s.log.Error("session %s: send TestRequest: %v", s.id(), err)
		return
	}
	s.metrics.TestRequestSent(s.id())
}

func (s *Session) sendHeartbeat(ctx context.Context, echoTestReqID string) {
	msg := fix.NewMessage(s.cfg.BeginString, fix.MsgTypeHeartbeat)
	if echoTestReqID != "" {
		msg.Set(fix.TagTestReqID, echoTestReqID)
	}
	if err := s.sendAdministrative(ctx, msg); err != nil {
		s.log.Error("session %s: send Heartbeat: %v", s.id(), err)
		return
	}
	s.metrics.HeartbeatSent(s.id())
}

func (s *Session) sendLogon(ctx context.Context) error {
	msg := fix.NewMessage(s.cfg.BeginString, fix.MsgTypeLogon)
	msg.Set(fix.TagEncryptMethod, "0")
	msg.Set(fix.TagHeartBtInt, fmt.Sprintf("%d", int(s.cfg.HeartBtInt.Seconds())))
	if s.cfg.ResetOnLogon {
		msg.Set(fix.TagResetSeqNumFlag, "Y")
	}
	return s.sendAdministrative(ctx, msg)
}

// sendAdministrative acquires a sequence number, persists, and writes
// the message without going through the application handler. Used
// for Logon/Heartbeat/TestRequest/ResendRequest/SequenceReset/Logout.
func (s *Session) sendAdministrative(ctx context.Context, msg *fix.Message) error {
	return s.send(ctx, msg)
}

// Send submits an application-level message (NewOrderSingle,
// ExecutionReport, MarketDataRequest, Quote, ...) for sequencing,
// persistence and transmission. Callers must not set MsgSeqNum,
// SenderCompID, TargetCompID or SendingTime; Send stamps those.
func (s *Session) Send(ctx context.Context, msg *fix.Message) error {
	if s.status() != store.StatusConnected {
		return errs.Session("session %s: cannot send application message while not Connected", s.id())
	}
	return s.send(ctx, msg)
}

// send implements the §4.4 outbound path: acquire the next sequence
// number, stamp headers, serialize, persist, then write to the wire.
func (s *Session) send(ctx context.Context, msg *fix.Message) error {
	id := s.id()
	seq := s.store.AllocSeq(id)

	msg.Set(fix.TagMsgSeqNum, fmt.Sprintf("%d", seq))
	msg.Set(fix.TagSenderCompID, s.cfg.SenderCompID)
	msg.Set(fix.TagTargetCompID, s.cfg.TargetCompID)
	msg.Set(fix.TagSendingTime, time.Now().UTC().Format("20060102-15:04:05.000"))

	frame, err := fix.Serialize(msg)
	if err != nil {
		return errs.ParseWrap(err, "session %s: serialize outbound seq %d", id, seq)
	}

	if err := s.store.Append(id, seq, msg); err != nil {
		return err
	}
	s.metrics.MessagePersisted(id)

	s.transportMu.Lock()
	t := s.transport
	s.transportMu.Unlock()
	if t == nil {
		return errs.Transport("session %s: no transport attached", id)
	}

	writeCtx, cancel := withTimeout(ctx, s.cfg.Transport.ConnectionTimeout)
	defer cancel()
	if err := t.WriteFrame(writeCtx, frame); err != nil {
		s.setStatus(store.StatusError)
		return err
	}
	s.touchSend()
	return nil
}

func (s *Session) beginDisconnect(ctx context.Context, reason string) {
	s.log.Warn("session %s: disconnecting: %s", s.id(), reason)
	s.setStatus(store.StatusDisconnecting)

	logout := fix.NewMessage(s.cfg.BeginString, fix.MsgTypeLogout)
	logout.Set(fix.TagText, reason)
	_ = s.sendAdministrative(ctx, logout)

	s.closeTransport()
	s.setStatus(store.StatusDisconnected)
	s.metrics.SessionDisconnected(s.id())
}
