// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// Copyright (c) 2014-2017 by Brocade Communications Systems, Inc.
// All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

/*
infinoted is the directory daemon: it loads its static settings from an
ini-style settings file, opens its Unix-domain socket (adopting a
systemd-activated one when present), and runs the single-threaded
directory event loop until terminated.

Usage:

	-settings=<filename>
		Ini-style settings file (default: /etc/infinoted/infinoted.ini).

	-socket=<filename>
		Path to the Unix-domain socket clients connect to (default:
		/run/infinoted/infinoted.sock), ignored when a systemd socket
		is handed in via activation.

	-pidfile=<filename>
		Write the daemon's pid to this file.

	-storage=<dir>
		Root directory for the filesystem storage backend. Omit to run
		with no persistent storage (notes exist only as long as the
		daemon is up).

	-logfile=<filename>
		Redirect stdout/stderr to this file before switching to syslog.
*/
package main

import (
	"flag"
	"fmt"
	"log"
	"log/syslog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-ini/ini"

	"github.com/gobby/infinoted/account"
	"github.com/gobby/infinoted/gobbyd"
	"github.com/gobby/infinoted/plugin"
	"github.com/gobby/infinoted/server"
	"github.com/gobby/infinoted/storage"
)

var basepath = "/run/infinoted"

var (
	settingsFile = flag.String("settings", "/etc/infinoted/infinoted.ini", "Ini-style settings file.")
	socketPath   = flag.String("socket", basepath+"/infinoted.sock", "Path to the Unix-domain socket.")
	pidFile      = flag.String("pidfile", basepath+"/infinoted.pid", "Write pid to supplied file.")
	storageRoot  = flag.String("storage", "", "Root directory for persistent storage (empty disables it).")
	logFile      = flag.String("logfile", "", "Redirect std{out,err} to supplied file.")
	chatEnabled  = flag.Bool("chat", true, "Enable the chat subscription group.")
)

var elog, dlog, wlog *log.Logger

func fatal(err error) {
	if err != nil {
		elog.Fatal(err)
	}
}

func openLogfile() {
	if *logFile == "" {
		return
	}
	f, err := os.OpenFile(*logFile, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0640)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return
	}
	defer f.Close()
	syscall.Dup2(int(f.Fd()), 1)
	syscall.Dup2(int(f.Fd()), 2)
}

func initLogging() {
	openLogfile()
	if *logFile == "" {
		elog = log.New(os.Stderr, "", log.LstdFlags)
		dlog = log.New(os.Stderr, "debug: ", log.LstdFlags)
		wlog = log.New(os.Stderr, "warning: ", log.LstdFlags)
		return
	}
	var err error
	for i := 0; i < 5; i++ {
		elog, err = gobbyd.NewLogger(syslog.LOG_ERR|syslog.LOG_DAEMON, 0)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		elog = log.New(os.Stderr, "", log.LstdFlags)
	}
	dlog, err = gobbyd.NewLogger(syslog.LOG_DEBUG|syslog.LOG_DAEMON, 0)
	if err != nil {
		dlog = gobbyd.DiscardLogger()
	}
	wlog, err = gobbyd.NewLogger(syslog.LOG_WARNING|syslog.LOG_DAEMON, 0)
	if err != nil {
		wlog = elog
	}
}

func writePid() {
	f, err := os.OpenFile(*pidFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%d\n", os.Getpid())
}

// loadConfig reads the ini settings file into a gobbyd.Config,
// falling back to the flag defaults for anything the file doesn't
// set.
func loadConfig(path string) gobbyd.Config {
	cfg := gobbyd.Config{
		Socket:          *socketPath,
		PidFile:         *pidFile,
		LogFile:         *logFile,
		StorageRoot:     *storageRoot,
		IdleSaveSeconds: 60,
	}
	f, err := ini.Load(path)
	if err != nil {
		return cfg
	}
	sec := f.Section("")
	cfg.Socket = sec.Key("socket").MustString(cfg.Socket)
	cfg.StorageRoot = sec.Key("storage-root").MustString(cfg.StorageRoot)
	cfg.SettingsFile = path
	cfg.SignKeyFile = sec.Key("sign-key-file").MustString("")
	cfg.SignCertFile = sec.Key("sign-cert-file").MustString("")
	cfg.IdleSaveSeconds = sec.Key("idle-save-seconds").MustInt(cfg.IdleSaveSeconds)
	return cfg
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	initLogging()
	cfg := loadConfig(*settingsFile)

	var backend storage.Backend
	if cfg.StorageRoot != "" {
		fatal(os.MkdirAll(cfg.StorageRoot, 0755))
		backend = storage.NewFSBackend(cfg.StorageRoot)
	}

	plugins := plugin.NewRegistry()
	plugins.Register(plugin.TextPlugin{})

	var ca *account.CertAuthority
	if cfg.SignKeyFile != "" && cfg.SignCertFile != "" {
		var caErr error
		ca, caErr = account.LoadCertAuthority(cfg.SignCertFile, cfg.SignKeyFile)
		if caErr != nil {
			elog.Printf("infinoted: loading signing keypair: %v (create-acl-account disabled)", caErr)
			ca = nil
		}
	}

	srv := server.NewServer(server.Config{
		Backend:      backend,
		AccountStore: account.NewMemStorage(),
		Plugins:      plugins,
		CA:           ca,
		Daemon:       &cfg,
		ChatEnabled:  *chatEnabled,
		Dlog:         dlog,
		Elog:         elog,
		Wlog:         wlog,
	})
	if cfg.IdleSaveSeconds > 0 {
		srv.Sessions.SetIdleTimeout(time.Duration(cfg.IdleSaveSeconds) * time.Second)
	}

	l, err := server.Listen(cfg.Socket)
	fatal(err)
	defer l.Close()

	writePid()

	stop := make(chan struct{})
	go srv.Run(stop)

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigch
		close(stop)
		l.Close()
	}()

	if err := srv.Serve(l); err != nil {
		elog.Printf("infinoted: listener closed: %v", err)
	}
}
