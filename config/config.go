// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package config loads the process-level YAML configuration: the
// store directory, the admin HTTP listener, and the list of sessions
// the Engine should own. Grounded on glennswest-ipmiserial/config,
// which loads a defaulted struct with gopkg.in/yaml.v3 the same way.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rob-gra/go-fix42/errs"
)

// Config is the top-level process configuration.
type Config struct {
	StoreDir string         `yaml:"store_dir"`
	LogLevel string         `yaml:"log_level"`
	Admin    AdminConfig    `yaml:"admin"`
	Sessions []SessionEntry `yaml:"sessions"`
}

// AdminConfig configures the read-only HTTP inspection surface (see
// SPEC_FULL.md's "Admin/inspection surface" supplement).
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TransportEntry mirrors the optional TLS settings of §6 EXTERNAL
// INTERFACES "Session configuration".
type TransportEntry struct {
	UseSSL                bool   `yaml:"use_ssl"`
	CertFile              string `yaml:"cert_file"`
	KeyFile               string `yaml:"key_file"`
	CAFile                string `yaml:"ca_file"`
	VerifyPeer            bool   `yaml:"verify_peer"`
	BufferSize            int    `yaml:"buffer_size"`
	ConnectionTimeoutSecs int    `yaml:"connection_timeout_secs"`
}

// SessionEntry is one immutable SessionConfig as loaded from YAML.
type SessionEntry struct {
	BeginString       string         `yaml:"begin_string"`
	SenderCompID      string         `yaml:"sender_comp_id"`
	TargetCompID      string         `yaml:"target_comp_id"`
	TargetAddr        string         `yaml:"target_addr"`
	HeartBtInt        int            `yaml:"heart_bt_int"`
	ResetOnLogon      bool           `yaml:"reset_on_logon"`
	ResetOnLogout     bool           `yaml:"reset_on_logout"`
	ResetOnDisconnect bool           `yaml:"reset_on_disconnect"`
	Role              string         `yaml:"role"` // "initiator" | "acceptor"
	Transport         TransportEntry `yaml:"transport"`
}

// Load reads and validates the YAML configuration at path, applying
// the same pre-populate-defaults-then-unmarshal idiom as
// glennswest-ipmiserial/config.Load.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.ConfigWrap(err, "read config file %s", path)
	}

	cfg := &Config{
		StoreDir: "./data/sessions",
		LogLevel: "info",
		Admin: AdminConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8090",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.ConfigWrap(err, "parse config file %s", path)
	}

	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Valid checks every session entry and the store directory, mirroring
// the teacher's cs104.Config.Valid() range-checking style.
func (c *Config) Valid() error {
	if c.StoreDir == "" {
		return errs.Config("store_dir must not be empty")
	}
	seen := make(map[string]bool)
	for i, s := range c.Sessions {
		if s.SenderCompID == "" || s.TargetCompID == "" {
			return errs.Config("session[%d]: sender_comp_id and target_comp_id are required", i)
		}
		id := s.SenderCompID + "_" + s.TargetCompID
		if seen[id] {
			return errs.Config("session[%d]: duplicate session id %q", i, id)
		}
		seen[id] = true
		if s.HeartBtInt <= 0 {
			return errs.Config("session[%d] (%s): heart_bt_int must be > 0", i, id)
		}
		if s.Role != "initiator" && s.Role != "acceptor" {
			return errs.Config("session[%d] (%s): role must be \"initiator\" or \"acceptor\", got %q", i, id, s.Role)
		}
		if s.Role == "initiator" && s.TargetAddr == "" {
			return errs.Config("session[%d] (%s): initiator requires target_addr", i, id)
		}
	}
	return nil
}

// HeartbeatInterval returns the entry's heartbeat interval as a
// time.Duration for session.Config construction.
func (s SessionEntry) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartBtInt) * time.Second
}
