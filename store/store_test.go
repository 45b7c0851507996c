// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package store

import (
	"testing"

	"github.com/rob-gra/go-fix42/fix"
)

func newMsg(t *testing.T, seq int) *fix.Message {
	t.Helper()
	m := fix.NewMessage("FIX.4.2", fix.MsgTypeHeartbeat)
	m.Set(fix.TagMsgSeqNum, itoa(seq))
	m.Set(fix.TagSenderCompID, "A")
	m.Set(fix.TagTargetCompID, "B")
	m.Set(fix.TagSendingTime, "20260101-00:00:00.000")
	return m
}

func itoa(n int) string {
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

func TestAppendWithoutTransactionPersistsImmediately(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	const sid = "A_B"
	if err := st.Load(sid); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := st.Append(sid, 1, newMsg(t, 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	rec, ok := st.Get(sid, 1)
	if !ok {
		t.Fatalf("Get(1): not found")
	}
	if rec.Seq != 1 {
		t.Errorf("Seq = %d, want 1", rec.Seq)
	}
	if got := st.NextOutgoingSeq(sid); got != 2 {
		t.Errorf("NextOutgoingSeq = %d, want 2", got)
	}
}

func TestTransactionCommitMakesRecordsObservable(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	const sid = "A_B"
	if err := st.Load(sid); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := st.Begin(sid); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := st.Begin(sid); err == nil {
		t.Errorf("second Begin on an open transaction should fail")
	}

	for seq := 1; seq <= 3; seq++ {
		if err := st.Append(sid, seq, newMsg(t, seq)); err != nil {
			t.Fatalf("Append(%d): %v", seq, err)
		}
	}
	if _, ok := st.Get(sid, 1); ok {
		t.Errorf("Get(1) visible before commit")
	}

	if err := st.Commit(sid); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	for seq := 1; seq <= 3; seq++ {
		rec, ok := st.Get(sid, seq)
		if !ok {
			t.Fatalf("Get(%d): not found after commit", seq)
		}
		if rec.Version == 0 {
			t.Errorf("seq %d: version not assigned", seq)
		}
	}
	if got := st.NextOutgoingSeq(sid); got != 4 {
		t.Errorf("NextOutgoingSeq = %d, want 4", got)
	}
}

func TestRollbackDiscardsPendingRecords(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	const sid = "A_B"
	st.Load(sid)

	if _, err := st.Begin(sid); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := st.Append(sid, 1, newMsg(t, 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Rollback(sid); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, ok := st.Get(sid, 1); ok {
		t.Errorf("Get(1) visible after rollback")
	}
	// A fresh transaction must be allowed after rollback.
	if _, err := st.Begin(sid); err != nil {
		t.Errorf("Begin after Rollback: %v", err)
	}
}

func TestGetRangeOmitsGaps(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	const sid = "A_B"
	st.Load(sid)

	for _, seq := range []int{1, 2, 4, 5} {
		if err := st.Append(sid, seq, newMsg(t, seq)); err != nil {
			t.Fatalf("Append(%d): %v", seq, err)
		}
	}

	got := st.GetRange(sid, 1, 5)
	if len(got) != 4 {
		t.Fatalf("GetRange returned %d records, want 4 (gap at 3 omitted)", len(got))
	}
	seqs := []int{got[0].Seq, got[1].Seq, got[2].Seq, got[3].Seq}
	want := []int{1, 2, 4, 5}
	for i, s := range seqs {
		if s != want[i] {
			t.Errorf("GetRange[%d] = %d, want %d", i, s, want[i])
		}
	}
}

func TestLoadAfterCommitRecoversNextOutgoingSeq(t *testing.T) {
	dir := t.TempDir()
	const sid = "A_B"

	st1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	st1.Load(sid)
	if _, err := st1.Begin(sid); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for seq := 50; seq <= 52; seq++ {
		if err := st1.Append(sid, seq, newMsg(t, seq)); err != nil {
			t.Fatalf("Append(%d): %v", seq, err)
		}
	}
	if err := st1.Commit(sid); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Simulate a crash + restart: a fresh Store reloads from disk.
	st2, err := Open(dir)
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	if err := st2.Load(sid); err != nil {
		t.Fatalf("re-Load: %v", err)
	}
	if got := st2.NextOutgoingSeq(sid); got != 53 {
		t.Errorf("NextOutgoingSeq after reload = %d, want 53", got)
	}
	records := st2.GetRange(sid, 50, 52)
	if len(records) != 3 {
		t.Fatalf("GetRange after reload returned %d records, want 3", len(records))
	}
}

func TestResetSequenceClearsIndexAndTruncatesLog(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	const sid = "A_B"
	st.Load(sid)
	for seq := 1; seq <= 3; seq++ {
		st.Append(sid, seq, newMsg(t, seq))
	}

	if err := st.ResetSequence(sid); err != nil {
		t.Fatalf("ResetSequence: %v", err)
	}
	if got := st.NextOutgoingSeq(sid); got != 1 {
		t.Errorf("NextOutgoingSeq after reset = %d, want 1", got)
	}
	if _, ok := st.Get(sid, 1); ok {
		t.Errorf("Get(1) still visible after ResetSequence")
	}
}

func TestHighWaterMarkResolvesInfiniteEndSeqNo(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	const sid = "A_B"
	st.Load(sid)
	for seq := 1; seq <= 10; seq++ {
		st.Append(sid, seq, newMsg(t, seq))
	}
	if got := st.HighWaterMark(sid); got != 10 {
		t.Errorf("HighWaterMark = %d, want 10", got)
	}
}
