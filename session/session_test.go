// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rob-gra/go-fix42/clog"
	"github.com/rob-gra/go-fix42/fix"
	"github.com/rob-gra/go-fix42/store"
)

// fakeTransport records every written frame; its ReadFrame blocks until
// a frame is queued on readCh, Close is called, or ctx is done, letting
// tests drive the session's outbound path without a real socket.
type fakeTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	readCh chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{readCh: make(chan []byte, 16)}
}

func (f *fakeTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-f.readCh:
		if !ok {
			return nil, context.Canceled
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) WriteFrame(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), frame...)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.readCh)
	}
	return nil
}

func (f *fakeTransport) lastSent() *fix.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	msg, err := fix.Parse(f.sent[len(f.sent)-1])
	if err != nil {
		return nil
	}
	return msg
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SenderCompID = "A"
	cfg.TargetCompID = "B"
	cfg.Role = RoleInitiator
	cfg.TargetAddr = "127.0.0.1:0"
	cfg.HeartBtInt = time.Hour // disarm the ticker for unit tests
	return cfg
}

func newTestSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	sess, err := NewSession(testConfig(t), st, clog.Clog{}, nil, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	ft := newFakeTransport()
	sess.transport = ft
	return sess, ft
}

func TestShouldDisconnectFalseAtStartForFreshlyConnected(t *testing.T) {
	sess, _ := newTestSession(t)
	sess.state.Status = store.StatusConnected
	sess.state.LastReceiveTimeUnix = time.Now().Unix()
	if sess.shouldDisconnect() {
		t.Error("shouldDisconnect() = true for a freshly Connected session at t=0")
	}
}

func TestShouldDisconnectAfterTwoTestRequests(t *testing.T) {
	sess, _ := newTestSession(t)
	sess.state.Status = store.StatusConnected
	sess.state.LastReceiveTimeUnix = time.Now().Unix()
	sess.state.TestRequestCounter = 2
	if !sess.shouldDisconnect() {
		t.Error("shouldDisconnect() = false with TestRequestCounter >= 2")
	}
}

func TestSendAssignsSequentialSeqNumbers(t *testing.T) {
	sess, ft := newTestSession(t)
	sess.state.Status = store.StatusConnected
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := fix.NewMessage(sess.cfg.BeginString, fix.MsgTypeNewOrderSingle)
		msg.Set(fix.TagClOrdID, "ORD-1")
		msg.Set(fix.TagSymbol, "MSFT")
		msg.Set(fix.TagSide, "1")
		msg.Set(fix.TagOrdType, fix.OrdTypeMarket)
		msg.Set(fix.TagOrderQty, "10")
		msg.Set(fix.TagTimeInForce, "0")
		if err := sess.Send(ctx, msg); err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
	}

	if got := ft.sentCount(); got != 3 {
		t.Fatalf("sentCount = %d, want 3", got)
	}
	for i := 0; i < 3; i++ {
		msg, err := fix.Parse(ft.sent[i])
		if err != nil {
			t.Fatalf("Parse sent[%d]: %v", i, err)
		}
		seq, _ := msg.GetString(fix.TagMsgSeqNum)
		wantSeq := itoaTest(i + 1)
		if seq != wantSeq {
			t.Errorf("sent[%d] MsgSeqNum = %q, want %q", i, seq, wantSeq)
		}
	}
	if got := sess.store.NextOutgoingSeq(sess.id()); got != 4 {
		t.Errorf("NextOutgoingSeq = %d, want 4", got)
	}
}

func TestSendRejectedWhenNotConnected(t *testing.T) {
	sess, _ := newTestSession(t)
	sess.state.Status = store.StatusInitiateLogon
	msg := fix.NewMessage(sess.cfg.BeginString, fix.MsgTypeNewOrderSingle)
	if err := sess.Send(context.Background(), msg); err == nil {
		t.Error("Send succeeded while not Connected")
	}
}

func inboundFrame(t *testing.T, cfg Config, msgType string, seq int, set func(*fix.Message)) *fix.Message {
	t.Helper()
	m := fix.NewMessage(cfg.BeginString, msgType)
	m.Set(fix.TagMsgSeqNum, itoaTest(seq))
	m.Set(fix.TagSenderCompID, cfg.TargetCompID)
	m.Set(fix.TagTargetCompID, cfg.SenderCompID)
	m.Set(fix.TagSendingTime, "20260101-00:00:00.000")
	if set != nil {
		set(m)
	}
	return m
}

func TestProcessInboundAcceptsExpectedSeq(t *testing.T) {
	sess, _ := newTestSession(t)
	sess.state.Status = store.StatusConnected
	msg := inboundFrame(t, sess.cfg, fix.MsgTypeHeartbeat, 1, nil)

	sess.processInbound(context.Background(), msg)

	if sess.state.NextIncomingSeq != 2 {
		t.Errorf("NextIncomingSeq = %d, want 2", sess.state.NextIncomingSeq)
	}
}

func TestProcessInboundGapTriggersResendRequest(t *testing.T) {
	sess, ft := newTestSession(t)
	sess.state.Status = store.StatusConnected
	msg := inboundFrame(t, sess.cfg, fix.MsgTypeNewOrderSingle, 5, func(m *fix.Message) {
		m.Set(fix.TagClOrdID, "ORD-1")
		m.Set(fix.TagSymbol, "MSFT")
		m.Set(fix.TagSide, "1")
		m.Set(fix.TagOrdType, fix.OrdTypeMarket)
		m.Set(fix.TagOrderQty, "10")
		m.Set(fix.TagTimeInForce, "0")
	})

	sess.processInbound(context.Background(), msg)

	if sess.state.NextIncomingSeq != 1 {
		t.Errorf("NextIncomingSeq advanced to %d on a gap, want unchanged (1)", sess.state.NextIncomingSeq)
	}
	resend := ft.lastSent()
	if resend == nil || resend.MsgType != fix.MsgTypeResendRequest {
		t.Fatalf("expected a ResendRequest to be sent, got %v", resend)
	}
	begin, _ := resend.GetString(fix.TagBeginSeqNo)
	end, _ := resend.GetString(fix.TagEndSeqNo)
	if begin != "1" || end != "5" {
		t.Errorf("ResendRequest BeginSeqNo/EndSeqNo = %s/%s, want 1/5", begin, end)
	}
}

func TestProcessInboundTreatsLowerSeqWithPossDupAsTolerated(t *testing.T) {
	sess, _ := newTestSession(t)
	sess.state.Status = store.StatusConnected
	sess.state.NextIncomingSeq = 5

	msg := inboundFrame(t, sess.cfg, fix.MsgTypeHeartbeat, 3, func(m *fix.Message) {
		m.Set(fix.TagPossDupFlag, "Y")
	})
	sess.processInbound(context.Background(), msg)

	if sess.state.NextIncomingSeq != 5 {
		t.Errorf("NextIncomingSeq = %d, want unchanged at 5 for tolerated duplicate", sess.state.NextIncomingSeq)
	}
	if sess.status() == store.StatusError {
		t.Error("session entered Error on a tolerated possible-duplicate")
	}
}

func TestProcessInboundFatalSeqErrorWithoutPossDup(t *testing.T) {
	sess, _ := newTestSession(t)
	sess.state.Status = store.StatusConnected
	sess.state.NextIncomingSeq = 5

	msg := inboundFrame(t, sess.cfg, fix.MsgTypeHeartbeat, 3, nil)
	sess.processInbound(context.Background(), msg)

	if sess.status() != store.StatusError {
		t.Errorf("status = %s, want Error after an unexplained low sequence number", sess.status())
	}
}

func TestHandleSequenceResetGapFillSetsNextIncomingSeq(t *testing.T) {
	sess, _ := newTestSession(t)
	sess.state.NextIncomingSeq = 5

	msg := fix.NewMessage(sess.cfg.BeginString, fix.MsgTypeSequenceReset)
	msg.Set(fix.TagGapFillFlag, "Y")
	msg.Set(fix.TagNewSeqNo, "13")

	sess.handleSequenceReset(msg)

	if sess.state.NextIncomingSeq != 13 {
		t.Errorf("NextIncomingSeq = %d, want 13", sess.state.NextIncomingSeq)
	}
}

func itoaTest(n int) string {
	digits := "0123456789"
	if n == 0 {
		return "0"
	}
	var out []byte
	for n > 0 {
		out = append([]byte{digits[n%10]}, out...)
		n /= 10
	}
	return string(out)
}
