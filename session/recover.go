// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package session

import (
	"context"
	"sync"

	"github.com/rob-gra/go-fix42/fix"
	"github.com/rob-gra/go-fix42/store"
)

// Recover implements §4.4's recover(): best-effort Logout, drop the
// transport, mark the session Recovering, optionally reset sequence
// numbers, and re-enter the connection/heartbeat/processor cycle from
// InitiateLogon. The in-memory SessionState and message index are kept
// as they are; Recover does not re-read the state file or the message
// log from disk. Only Recover (not Start) is permitted to bring an
// Error or Disconnected session back to Connected.
//
// newTransport is nil for an Initiator (Recover redials cfg.TargetAddr
// itself) and must be the freshly accepted connection for an Acceptor.
func (s *Session) Recover(ctx context.Context, newTransport Transport) error {
	s.transportMu.Lock()
	hasTransport := s.transport != nil
	s.transportMu.Unlock()
	if hasTransport {
		logout := fix.NewMessage(s.cfg.BeginString, fix.MsgTypeLogout)
		logout.Set(fix.TagText, "recovering")
		_ = s.sendAdministrative(ctx, logout)
	}
	s.closeTransport()

	s.setStatus(store.StatusRecovering)

	if s.cfg.ResetOnDisconnect {
		if err := s.store.ResetSequence(s.id()); err != nil {
			s.log.Error("session %s: reset sequence on recover: %v", s.id(), err)
		}
		s.stateMu.Lock()
		s.state.NextIncomingSeq = 1
		s.state.NextOutgoingSeq = 1
		s.stateMu.Unlock()
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.stopOnce = sync.Once{}

	return s.Start(ctx, newTransport)
}
