// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rob-gra/go-fix42/fix"
	"github.com/rob-gra/go-fix42/store"
)

const maxConsecutiveInvalidFrames = 3

// inboundLoop blocks on transport reads and feeds each frame through
// validation and sequence reconciliation (§4.4 Inbound message
// processing).
func (s *Session) inboundLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		s.transportMu.Lock()
		t := s.transport
		s.transportMu.Unlock()
		if t == nil {
			return
		}

		frame, err := t.ReadFrame(ctx)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.log.Error("session %s: transport read failed: %v", s.id(), err)
			s.setStatus(store.StatusError)
			return
		}

		msg, err := fix.Parse(frame)
		if err != nil {
			s.consecutiveInvalidFrames++
			s.log.Warn("session %s: discarding unparseable frame (%d/%d): %v",
				s.id(), s.consecutiveInvalidFrames, maxConsecutiveInvalidFrames, err)
			if s.consecutiveInvalidFrames >= maxConsecutiveInvalidFrames {
				s.log.Error("session %s: %d consecutive invalid frames, entering Error", s.id(), maxConsecutiveInvalidFrames)
				s.setStatus(store.StatusError)
				return
			}
			continue
		}
		s.consecutiveInvalidFrames = 0

		if err := fix.Validate(msg); err != nil {
			s.log.Warn("session %s: discarding invalid message: %v", s.id(), err)
			continue
		}

		s.processInbound(ctx, msg)
	}
}

// processInbound implements sequence reconciliation followed by
// dispatch by MsgType.
func (s *Session) processInbound(ctx context.Context, msg *fix.Message) {
	seqStr, _ := msg.GetString(fix.TagMsgSeqNum)
	var seq int
	if _, err := fmt.Sscanf(seqStr, "%d", &seq); err != nil {
		s.log.Warn("session %s: message missing numeric MsgSeqNum, discarding", s.id())
		return
	}

	s.stateMu.Lock()
	expected := s.state.NextIncomingSeq
	s.stateMu.Unlock()

	possDup, _ := msg.GetString(fix.TagPossDupFlag)

	switch {
	case seq == expected:
		s.stateMu.Lock()
		s.state.NextIncomingSeq++
		s.state.TestRequestCounter = 0
		s.stateMu.Unlock()
	case seq > expected:
		s.requestResend(ctx, expected, seq)
		// nextIncomingSeq is not advanced; the gap-filling resend will
		// re-deliver this message, so it must not be dispatched now.
		s.touchReceive()
		return
	case possDup == "Y":
		// tolerate and skip: §4.4 rule, §9 open question (c). A
		// tolerated duplicate was already dispatched the first time it
		// arrived, so it is not dispatched again here.
		s.touchReceive()
		return
	default:
		s.log.Error("session %s: fatal sequence error: got %d, expected %d, no PossDupFlag", s.id(), seq, expected)
		s.setStatus(store.StatusError)
		return
	}

	s.touchReceive()
	s.dispatch(ctx, msg, seq, expected)
}

func (s *Session) requestResend(ctx context.Context, begin, got int) {
	req := fix.NewMessage(s.cfg.BeginString, fix.MsgTypeResendRequest)
	req.Set(fix.TagBeginSeqNo, fmt.Sprintf("%d", begin))
	req.Set(fix.TagEndSeqNo, fmt.Sprintf("%d", got))
	if err := s.sendAdministrative(ctx, req); err != nil {
		s.log.Error("session %s: send ResendRequest: %v", s.id(), err)
		return
	}
	s.metrics.ResendRequestSent(s.id())
}

func (s *Session) dispatch(ctx context.Context, msg *fix.Message, seq, wasExpected int) {
	switch msg.MsgType {
	case fix.MsgTypeLogon:
		s.handleLogon(ctx, msg)
	case fix.MsgTypeTestRequest:
		id, _ := msg.GetString(fix.TagTestReqID)
		s.sendHeartbeat(ctx, id)
	case fix.MsgTypeHeartbeat:
		s.stateMu.Lock()
		s.state.TestRequestCounter = 0
		s.stateMu.Unlock()
	case fix.MsgTypeResendRequest:
		s.handleResendRequest(ctx, msg)
	case fix.MsgTypeSequenceReset:
		s.handleSequenceReset(msg)
	case fix.MsgTypeLogout:
		s.handleLogout(ctx, msg)
	default:
		if s.handler != nil {
			s.handler.HandleApplicationMessage(s.id(), msg)
		}
	}
}

func (s *Session) handleLogon(ctx context.Context, msg *fix.Message) {
	status := s.status()
	if status != store.StatusInitiateLogon && status != store.StatusLogonReceived && status != store.StatusRecovering {
		return
	}

	peerReset, _ := msg.GetString(fix.TagResetSeqNumFlag)
	if s.cfg.ResetOnLogon {
		if peerReset != "Y" {
			s.log.Warn("session %s: local reset_on_logon is set but peer's 141 disagrees (%q); local setting wins", s.id(), peerReset)
		}
	} else if peerReset == "Y" {
		s.log.Warn("session %s: peer sent 141=Y but local reset_on_logon is not set; local setting wins", s.id())
	}
	if s.cfg.ResetOnLogon {
		if err := s.store.ResetSequence(s.id()); err != nil {
			s.log.Error("session %s: reset sequence on logon: %v", s.id(), err)
		}
		s.stateMu.Lock()
		s.state.NextIncomingSeq = 1
		s.state.NextOutgoingSeq = 1
		s.stateMu.Unlock()
	}

	s.stateMu.Lock()
	s.state.TestRequestCounter = 0
	s.stateMu.Unlock()
	s.setStatus(store.StatusConnected)
	s.metrics.SessionConnected(s.id())

	if s.cfg.Role == RoleAcceptor && status == store.StatusInitiateLogon {
		if err := s.sendLogon(ctx); err != nil {
			s.log.Error("session %s: reply Logon: %v", s.id(), err)
		}
	}
}

// handleResendRequest replays [begin, end] from the Store, replacing
// each run of consecutive administrative messages with one
// SequenceReset-GapFill as specified in §4.4.
func (s *Session) handleResendRequest(ctx context.Context, msg *fix.Message) {
	beginStr, _ := msg.GetString(fix.TagBeginSeqNo)
	endStr, _ := msg.GetString(fix.TagEndSeqNo)
	var begin, end int
	fmt.Sscanf(beginStr, "%d", &begin)
	fmt.Sscanf(endStr, "%d", &end)
	if end == 0 {
		// EndSeqNo=0 means "infinity": substitute the outbound
		// high-water mark (§9 open question (a)).
		end = s.store.HighWaterMark(s.id())
	}

	records := s.store.GetRange(s.id(), begin, end)

	gapStart := 0
	flushGap := func(upTo int) {
		if gapStart == 0 {
			return
		}
		s.sendGapFill(ctx, gapStart, upTo)
		gapStart = 0
	}

	for _, rec := range records {
		if fix.IsAdministrative(rec.Message.MsgType) {
			if gapStart == 0 {
				gapStart = rec.Seq
			}
			continue
		}
		flushGap(rec.Seq)
		s.retransmit(ctx, rec)
	}
	flushGap(end + 1)
	s.metrics.GapFilled(s.id())
}

func (s *Session) sendGapFill(ctx context.Context, begin, newSeqNo int) {
	reset := fix.NewMessage(s.cfg.BeginString, fix.MsgTypeSequenceReset)
	reset.Set(fix.TagGapFillFlag, "Y")
	reset.Set(fix.TagMsgSeqNum, fmt.Sprintf("%d", begin))
	reset.Set(fix.TagNewSeqNo, fmt.Sprintf("%d", newSeqNo))
	if err := s.sendAdministrative(ctx, reset); err != nil {
		s.log.Error("session %s: send SequenceReset-GapFill: %v", s.id(), err)
		return
	}
	s.metrics.GapFilled(s.id())
}

func (s *Session) retransmit(ctx context.Context, rec store.Record) {
	// rec.Message is the *fix.Message aliased from the store's
	// in-memory index; clone before stamping so a resend never
	// corrupts the persisted record (§8 scenario 5).
	msg := rec.Message.Clone()
	origSendingTime, _ := msg.GetString(fix.TagSendingTime)
	msg.Set(fix.TagPossDupFlag, "Y")
	if origSendingTime != "" {
		msg.Set(fix.TagOrigSendingTime, origSendingTime)
	}
	msg.Set(fix.TagMsgSeqNum, fmt.Sprintf("%d", rec.Seq))
	msg.Set(fix.TagSendingTime, time.Now().UTC().Format("20060102-15:04:05.000"))

	frame, err := fix.Serialize(msg)
	if err != nil {
		s.log.Error("session %s: re-serialize seq %d for resend: %v", s.id(), rec.Seq, err)
		return
	}
	s.transportMu.Lock()
	t := s.transport
	s.transportMu.Unlock()
	if t == nil {
		return
	}
	writeCtx, cancel := withTimeout(ctx, s.cfg.Transport.ConnectionTimeout)
	defer cancel()
	if err := t.WriteFrame(writeCtx, frame); err != nil {
		s.log.Error("session %s: retransmit seq %d: %v", s.id(), rec.Seq, err)
	}
}

func (s *Session) handleSequenceReset(msg *fix.Message) {
	newSeqStr, ok := msg.GetString(fix.TagNewSeqNo)
	if !ok {
		return
	}
	var newSeq int
	fmt.Sscanf(newSeqStr, "%d", &newSeq)

	s.stateMu.Lock()
	s.state.NextIncomingSeq = newSeq
	s.stateMu.Unlock()
}

func (s *Session) handleLogout(ctx context.Context, msg *fix.Message) {
	text, _ := msg.GetString(fix.TagText)
	s.beginDisconnect(ctx, fmt.Sprintf("peer logout: %s", text))
}
