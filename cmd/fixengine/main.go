// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Command fixengine wires configuration, logging, the store, the
// engine and the admin HTTP surface together and runs until a
// termination signal is received.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rob-gra/go-fix42/admin"
	"github.com/rob-gra/go-fix42/clog"
	appconfig "github.com/rob-gra/go-fix42/config"
	"github.com/rob-gra/go-fix42/engine"
	"github.com/rob-gra/go-fix42/metrics"
	"github.com/rob-gra/go-fix42/session"
	"github.com/rob-gra/go-fix42/store"
)

func main() {
	configPath := flag.String("config", "fixengine.yaml", "path to the YAML configuration file")
	flag.Parse()

	logger := logrus.New()
	log := clog.NewLogrusLogger(logger, "main")

	cfg, err := appconfig.Load(*configPath)
	if err != nil {
		log.Critical("load config: %v", err)
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	st, err := store.Open(cfg.StoreDir)
	if err != nil {
		log.Critical("open store: %v", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)

	eng := engine.New(st, clog.NewLogrusLogger(logger, "engine"), nil, recorder)
	for _, entry := range cfg.Sessions {
		sc := toSessionConfig(entry)
		if err := eng.AddSession(sc); err != nil {
			log.Critical("register session %s: %v", sc.SessionID(), err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Critical("start engine: %v", err)
		os.Exit(1)
	}

	if cfg.Admin.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/", admin.NewServer(eng, st))
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Admin.Addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("admin server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Debug("shutting down")
	eng.Stop()
}

func toSessionConfig(entry appconfig.SessionEntry) session.Config {
	sc := session.DefaultConfig()
	sc.BeginString = entry.BeginString
	if sc.BeginString == "" {
		sc.BeginString = "FIX.4.2"
	}
	sc.SenderCompID = entry.SenderCompID
	sc.TargetCompID = entry.TargetCompID
	sc.TargetAddr = entry.TargetAddr
	sc.HeartBtInt = entry.HeartbeatInterval()
	sc.ResetOnLogon = entry.ResetOnLogon
	sc.ResetOnLogout = entry.ResetOnLogout
	sc.ResetOnDisconnect = entry.ResetOnDisconnect
	if entry.Role == "initiator" {
		sc.Role = session.RoleInitiator
	} else {
		sc.Role = session.RoleAcceptor
	}
	sc.Transport = session.TransportConfig{
		UseSSL:            entry.Transport.UseSSL,
		CertFile:          entry.Transport.CertFile,
		KeyFile:           entry.Transport.KeyFile,
		CAFile:            entry.Transport.CAFile,
		VerifyPeer:        entry.Transport.VerifyPeer,
		BufferSize:        entry.Transport.BufferSize,
		ConnectionTimeout: time.Duration(entry.Transport.ConnectionTimeoutSecs) * time.Second,
	}
	if sc.Transport.BufferSize == 0 {
		sc.Transport.BufferSize = 4096
	}
	if sc.Transport.ConnectionTimeout == 0 {
		sc.Transport.ConnectionTimeout = 10 * time.Second
	}
	return sc
}
