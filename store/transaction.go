// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package store

import (
	"os"
	"strconv"
	"strings"

	"github.com/rob-gra/go-fix42/errs"
	"github.com/rob-gra/go-fix42/fix"
)

// Begin opens a transaction for sessionID, allocating a new version.
// Fails with errs.KindStore if a transaction is already open.
func (s *Store) Begin(sessionID string) (uint64, error) {
	sl := s.sessionLog(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.open != nil {
		return 0, errs.Store("session %s: transaction already open", sessionID)
	}
	v := s.nextVersion()
	sl.open = &txn{version: v}
	return v, nil
}

// AllocSeq atomically allocates and consumes the next outgoing
// sequence number for sessionID, bumping nextOutgoingSeq before
// returning. Concurrent callers (the heartbeat loop, inbound replies,
// and application Send all run on separate goroutines) each observe a
// distinct, strictly increasing value, per §4.4's "acquire the next
// sequence number ... pre-increment under lock."
func (s *Store) AllocSeq(sessionID string) int {
	sl := s.sessionLog(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	seq := sl.nextOutgoingSeq
	sl.nextOutgoingSeq++
	return seq
}

// Append persists (seq, msg). If a transaction is open for the
// session it buffers the record; otherwise it appends immediately
// under a fresh version and advances nextOutgoingSeq.
func (s *Store) Append(sessionID string, seq int, msg *fix.Message) error {
	sl := s.sessionLog(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.open != nil {
		sl.open.pending = append(sl.open.pending, Record{Seq: seq, Version: sl.open.version, Message: msg})
		return nil
	}

	v := s.nextVersion()
	rec := Record{Seq: seq, Version: v, Message: msg}
	line, err := encodeLine(rec)
	if err != nil {
		return err
	}
	if err := appendLine(s.messagesPath(sessionID), line); err != nil {
		return errs.IOWrap(err, "session %s: append seq %d", sessionID, seq)
	}
	sl.index[seq] = rec
	if seq >= sl.nextOutgoingSeq {
		sl.nextOutgoingSeq = seq + 1
	}
	return nil
}

// Commit writes every buffered record of the open transaction to a
// temp file and atomically renames it over the session file — the
// rename is the linearization point (§4.3 Operations). On success the
// in-memory index reflects every committed record.
func (s *Store) Commit(sessionID string) error {
	sl := s.sessionLog(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.open == nil {
		return errs.Store("session %s: commit with no open transaction", sessionID)
	}
	t := sl.open

	path := s.messagesPath(sessionID)
	existing, err := readLines(path)
	if err != nil {
		return errs.IOWrap(err, "session %s: read existing log before commit", sessionID)
	}

	for _, rec := range t.pending {
		line, err := encodeLine(rec)
		if err != nil {
			return err
		}
		existing = append(existing, line)
	}

	if err := writeAtomic(path, existing); err != nil {
		return errs.IOWrap(err, "session %s: commit transaction", sessionID)
	}

	for _, rec := range t.pending {
		sl.index[rec.Seq] = rec
		if rec.Seq >= sl.nextOutgoingSeq {
			sl.nextOutgoingSeq = rec.Seq + 1
		}
	}
	sl.open = nil
	return nil
}

// Rollback discards the open transaction without touching the file.
func (s *Store) Rollback(sessionID string) error {
	sl := s.sessionLog(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.open == nil {
		return errs.Store("session %s: rollback with no open transaction", sessionID)
	}
	sl.open = nil
	return nil
}

// Get returns the record at seq, if present.
func (s *Store) Get(sessionID string, seq int) (Record, bool) {
	sl := s.sessionLog(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	rec, ok := sl.index[seq]
	return rec, ok
}

// GetRange returns the dense [lo, hi] subsequence present in the
// index; gaps are omitted, never interpolated.
func (s *Store) GetRange(sessionID string, lo, hi int) []Record {
	sl := s.sessionLog(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var out []Record
	for seq := lo; seq <= hi; seq++ {
		if rec, ok := sl.index[seq]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// NextOutgoingSeq returns the sequence number the next Append should
// use for this session.
func (s *Store) NextOutgoingSeq(sessionID string) int {
	sl := s.sessionLog(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.nextOutgoingSeq
}

// HighWaterMark returns the highest sequence number ever assigned,
// used to resolve ResendRequest EndSeqNo=0 ("infinity", §9.a).
func (s *Store) HighWaterMark(sessionID string) int {
	return s.NextOutgoingSeq(sessionID) - 1
}

// ResetSequence clears the in-memory index, truncates the session
// file, and resets nextOutgoingSeq to 1.
func (s *Store) ResetSequence(sessionID string) error {
	sl := s.sessionLog(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if err := os.Remove(s.messagesPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return errs.IOWrap(err, "session %s: truncate log", sessionID)
	}
	sl.index = make(map[int]Record)
	sl.nextOutgoingSeq = 1
	sl.open = nil
	return nil
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return err
	}
	return f.Sync()
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

func writeAtomic(path string, lines []string) error {
	tmp := path + ".tmp-" + strconv.Itoa(os.Getpid())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
