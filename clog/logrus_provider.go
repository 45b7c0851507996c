// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package clog

import (
	"github.com/sirupsen/logrus"
)

// LogrusProvider adapts a *logrus.Logger to the LogProvider interface
// so Session, Store and Engine can log through the same structured
// pipeline the rest of the process uses (grounded on
// glennswest-ipmiserial, which logs via github.com/sirupsen/logrus
// instead of the bare standard-library logger the teacher defaults to).
type LogrusProvider struct {
	Entry *logrus.Entry
}

var _ LogProvider = LogrusProvider{}

// NewLogrusLogger builds a Clog backed by logrus, pre-tagged with a
// "component" field so session/store/engine output can be filtered.
func NewLogrusLogger(logger *logrus.Logger, component string) Clog {
	c := Clog{}
	c.SetLogProvider(LogrusProvider{Entry: logger.WithField("component", component)})
	c.LogMode(true)
	return c
}

func (p LogrusProvider) Critical(format string, v ...interface{}) {
	p.Entry.Errorf("CRITICAL: "+format, v...)
}
func (p LogrusProvider) Error(format string, v ...interface{})    { p.Entry.Errorf(format, v...) }
func (p LogrusProvider) Warn(format string, v ...interface{})     { p.Entry.Warnf(format, v...) }
func (p LogrusProvider) Debug(format string, v ...interface{})    { p.Entry.Debugf(format, v...) }
