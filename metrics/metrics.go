// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package metrics exposes the Prometheus counters the engine reports
// protocol events to, grounded on marmos91-dittofs's use of
// github.com/prometheus/client_golang for its own storage-layer
// instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder implements session.Metrics and engine-level counters with
// a "session_id" label on each protocol-event counter.
type Recorder struct {
	sessionsConnected  *prometheus.GaugeVec
	heartbeatsSent     *prometheus.CounterVec
	testRequestsSent   *prometheus.CounterVec
	resendRequestsSent *prometheus.CounterVec
	gapFillsSent       *prometheus.CounterVec
	messagesPersisted  *prometheus.CounterVec
}

// NewRecorder creates and registers every counter/gauge against reg.
// Pass prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		sessionsConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fixengine",
			Name:      "sessions_connected",
			Help:      "1 if the session is currently Connected, else 0.",
		}, []string{"session_id"}),
		heartbeatsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fixengine",
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat messages sent per session.",
		}, []string{"session_id"}),
		testRequestsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fixengine",
			Name:      "test_requests_sent_total",
			Help:      "TestRequest messages sent per session.",
		}, []string{"session_id"}),
		resendRequestsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fixengine",
			Name:      "resend_requests_sent_total",
			Help:      "ResendRequest messages sent per session.",
		}, []string{"session_id"}),
		gapFillsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fixengine",
			Name:      "gap_fills_total",
			Help:      "SequenceReset-GapFill substitutions sent per session.",
		}, []string{"session_id"}),
		messagesPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fixengine",
			Name:      "messages_persisted_total",
			Help:      "Messages appended to the store per session.",
		}, []string{"session_id"}),
	}

	reg.MustRegister(
		r.sessionsConnected,
		r.heartbeatsSent,
		r.testRequestsSent,
		r.resendRequestsSent,
		r.gapFillsSent,
		r.messagesPersisted,
	)
	return r
}

func (r *Recorder) SessionConnected(sessionID string) {
	r.sessionsConnected.WithLabelValues(sessionID).Set(1)
}

func (r *Recorder) SessionDisconnected(sessionID string) {
	r.sessionsConnected.WithLabelValues(sessionID).Set(0)
}

func (r *Recorder) HeartbeatSent(sessionID string) {
	r.heartbeatsSent.WithLabelValues(sessionID).Inc()
}

func (r *Recorder) TestRequestSent(sessionID string) {
	r.testRequestsSent.WithLabelValues(sessionID).Inc()
}

func (r *Recorder) ResendRequestSent(sessionID string) {
	r.resendRequestsSent.WithLabelValues(sessionID).Inc()
}

func (r *Recorder) GapFilled(sessionID string) {
	r.gapFillsSent.WithLabelValues(sessionID).Inc()
}

func (r *Recorder) MessagePersisted(sessionID string) {
	r.messagesPersisted.WithLabelValues(sessionID).Inc()
}
