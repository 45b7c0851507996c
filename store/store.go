// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package store implements the durable per-session message log and
// sequence-number authority (§4.3 Store). Each session gets an
// append-structured "<sessionId>.messages" file plus a sibling
// "<sessionId>_state.json" snapshot; a process-wide version counter
// tags every persisted transaction.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rob-gra/go-fix42/errs"
	"github.com/rob-gra/go-fix42/fix"
)

// Record is one persisted (sequence, version, message) triple.
type Record struct {
	Seq     int
	Version uint64
	Message *fix.Message
}

type txn struct {
	version uint64
	pending []Record
}

type sessionLog struct {
	mu              sync.Mutex
	index           map[int]Record
	nextOutgoingSeq int
	open            *txn
}

// Store is the sequenced, versioned, crash-safe message log described
// by §4.3. One Store instance is shared by every Session in a process;
// its version counter is process-wide.
type Store struct {
	dir     string
	version uint64 // atomic, process-wide monotonic counter

	mu       sync.Mutex
	sessions map[string]*sessionLog
}

// Open returns a Store rooted at dir, creating the directory if
// necessary. It does not load any session — call Load per session id
// once sessions are known.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.IOWrap(err, "create store directory %s", dir)
	}
	return &Store{dir: dir, sessions: make(map[string]*sessionLog)}, nil
}

func (s *Store) messagesPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".messages")
}

func (s *Store) statePath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+"_state.json")
}

func (s *Store) sessionLog(sessionID string) *sessionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.sessions[sessionID]
	if !ok {
		sl = &sessionLog{index: make(map[int]Record), nextOutgoingSeq: 1}
		s.sessions[sessionID] = sl
	}
	return sl
}

// Load replays the session's message file, populating the in-memory
// index and deriving nextOutgoingSeq = max(seq) + 1. Safe to call
// again to reload from disk.
func (s *Store) Load(sessionID string) error {
	sl := s.sessionLog(sessionID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	data, err := os.ReadFile(s.messagesPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			sl.index = make(map[int]Record)
			sl.nextOutgoingSeq = 1
			return nil
		}
		return errs.IOWrap(err, "load session %s", sessionID)
	}

	sl.index = make(map[int]Record)
	maxSeq := 0
	var maxVersion uint64
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		rec, err := decodeLine(line)
		if err != nil {
			return errs.StoreWrap(err, "session %s: corrupt log line", sessionID)
		}
		sl.index[rec.Seq] = rec
		if rec.Seq > maxSeq {
			maxSeq = rec.Seq
		}
		if rec.Version > maxVersion {
			maxVersion = rec.Version
		}
	}
	sl.nextOutgoingSeq = maxSeq + 1
	s.bumpVersion(maxVersion)
	return nil
}

func (s *Store) bumpVersion(seen uint64) {
	for {
		cur := atomic.LoadUint64(&s.version)
		if seen <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&s.version, cur, seen) {
			return
		}
	}
}

func (s *Store) nextVersion() uint64 {
	return atomic.AddUint64(&s.version, 1)
}

func encodeLine(rec Record) (string, error) {
	frame, err := fix.Serialize(rec.Message)
	if err != nil {
		return "", errs.SerializationWrap(err, "serialize seq %d for store", rec.Seq)
	}
	return fmt.Sprintf("%d|%d|%s", rec.Seq, rec.Version, frame), nil
}

func decodeLine(line string) (Record, error) {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) != 3 {
		return Record{}, errs.Store("malformed record: expected 3 '|'-separated fields, got %d", len(parts))
	}
	seq, err := strconv.Atoi(parts[0])
	if err != nil {
		return Record{}, errs.StoreWrap(err, "malformed sequence number %q", parts[0])
	}
	version, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Record{}, errs.StoreWrap(err, "malformed version %q", parts[1])
	}
	frame, _, ok := fix.ExtractFrame([]byte(parts[2]))
	if !ok {
		return Record{}, errs.Store("stored frame for seq %d does not terminate cleanly", seq)
	}
	msg, err := fix.Parse(frame)
	if err != nil {
		return Record{}, errs.StoreWrap(err, "parse stored frame for seq %d", seq)
	}
	return Record{Seq: seq, Version: version, Message: msg}, nil
}
