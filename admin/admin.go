// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package admin exposes a read-only HTTP inspection surface over the
// Engine's sessions and their persisted messages, routed with
// github.com/gorilla/mux as glennswest-ipmiserial's own HTTP server
// does.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/rob-gra/go-fix42/engine"
	"github.com/rob-gra/go-fix42/store"
)

// Server wraps the Engine and Store behind a mux.Router.
type Server struct {
	eng    *engine.Engine
	store  *store.Store
	router *mux.Router
}

// NewServer builds the router: GET /sessions, GET /sessions/{id},
// GET /sessions/{id}/messages?lo=&hi=.
func NewServer(eng *engine.Engine, st *store.Store) *Server {
	s := &Server{eng: eng, store: st, router: mux.NewRouter()}
	s.router.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}/messages", s.getMessages).Methods(http.MethodGet)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Sessions())
}

type sessionView struct {
	ID              string       `json:"id"`
	Status          store.Status `json:"status"`
	NextOutgoingSeq int          `json:"next_outgoing_seq"`
	NextIncomingSeq int          `json:"next_incoming_seq"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.eng.GetSession(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	state, found, err := s.store.LoadState(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "no persisted state for session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sessionView{
		ID:              id,
		Status:          state.Status,
		NextOutgoingSeq: state.NextOutgoingSeq,
		NextIncomingSeq: state.NextIncomingSeq,
	})
}

type messageView struct {
	Seq     int    `json:"seq"`
	Version uint64 `json:"version"`
	MsgType string `json:"msg_type"`
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.eng.GetSession(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	lo, err := strconv.Atoi(r.URL.Query().Get("lo"))
	if err != nil {
		http.Error(w, "lo must be an integer", http.StatusBadRequest)
		return
	}
	hi, err := strconv.Atoi(r.URL.Query().Get("hi"))
	if err != nil {
		http.Error(w, "hi must be an integer", http.StatusBadRequest)
		return
	}

	records := s.store.GetRange(id, lo, hi)
	views := make([]messageView, 0, len(records))
	for _, rec := range records {
		views = append(views, messageView{Seq: rec.Seq, Version: rec.Version, MsgType: rec.Message.MsgType})
	}
	writeJSON(w, http.StatusOK, views)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
