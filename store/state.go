// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package store

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rob-gra/go-fix42/errs"
)

// Status is the Session's lifecycle status (§3 DATA MODEL).
type Status string

const (
	StatusCreated        Status = "Created"
	StatusConnecting     Status = "Connecting"
	StatusInitiateLogon  Status = "InitiateLogon"
	StatusLogonReceived  Status = "LogonReceived"
	StatusConnected      Status = "Connected"
	StatusResendRequest  Status = "ResendRequest"
	StatusDisconnecting  Status = "Disconnecting"
	StatusDisconnected   Status = "Disconnected"
	StatusRecovering     Status = "Recovering"
	StatusError          Status = "Error"
)

// SessionState is the mutable, serializable protocol state persisted
// after every mutation (§3 DATA MODEL).
type SessionState struct {
	Status              Status `json:"status"`
	NextOutgoingSeq     int    `json:"next_outgoing_seq"`
	NextIncomingSeq     int    `json:"next_incoming_seq"`
	LastSendTimeUnix    int64  `json:"last_send_time_unix"`
	LastReceiveTimeUnix int64  `json:"last_receive_time_unix"`
	TestRequestCounter  int    `json:"test_request_counter"`
}

// NewSessionState returns the state of a freshly created, never
// persisted session: both sequence numbers start at 1.
func NewSessionState() *SessionState {
	return &SessionState{
		Status:          StatusCreated,
		NextOutgoingSeq: 1,
		NextIncomingSeq: 1,
	}
}

// SaveState writes state for sessionID atomically (temp file + rename,
// same linearization discipline as Commit).
func (s *Store) SaveState(sessionID string, state *SessionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errs.SerializationWrap(err, "session %s: marshal state", sessionID)
	}

	path := s.statePath(sessionID)
	tmp := path + ".tmp-" + strconv.Itoa(os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.IOWrap(err, "session %s: write state temp file", sessionID)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.IOWrap(err, "session %s: rename state file", sessionID)
	}
	return nil
}

// LoadState reads the persisted SessionState for sessionID, if any. As
// required by §3 Lifecycle, the caller (Session registration) is
// responsible for forcing Status to Recovering after a successful
// load — LoadState itself returns the state exactly as stored.
func (s *Store) LoadState(sessionID string) (*SessionState, bool, error) {
	data, err := os.ReadFile(s.statePath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errs.IOWrap(err, "session %s: read state file", sessionID)
	}
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, false, errs.SerializationWrap(err, "session %s: unmarshal state", sessionID)
	}
	return &state, true, nil
}
