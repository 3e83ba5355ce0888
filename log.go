// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
	"github.com/kiirocoin/kiirowallet/chain"
	"github.com/kiirocoin/kiirowallet/keystore"
	"github.com/kiirocoin/kiirowallet/masternode"
	"github.com/kiirocoin/kiirowallet/privatesend"
	"github.com/kiirocoin/kiirowallet/rpc/legacyrpc"
	"github.com/kiirocoin/kiirowallet/txstore"
	"github.com/kiirocoin/kiirowallet/wallet"
	"github.com/kiirocoin/kiirowallet/walletdb/migration"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	logRotator.Write(p)
	return len(p), nil
}

// Loggers per subsystem.  A single backend logger is created and all
// subsystem loggers created from it will write to the backend.  When adding
// new subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file.  This must be performed early during application startup by
// calling initLogRotator.
var (
	// backendLog is the logging backend used to create all subsystem
	// loggers.  The backend must not be used before the log rotator has
	// been initialized, or data races and/or nil pointer dereferences will
	// occur.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	log          = backendLog.Logger("KIIR")
	walletLog    = backendLog.Logger("WLLT")
	chainLog     = backendLog.Logger("CHNS")
	keystoreLog  = backendLog.Logger("KEYS")
	txstoreLog   = backendLog.Logger("TXST")
	mnodeLog     = backendLog.Logger("MNOD")
	psendLog     = backendLog.Logger("PSND")
	legacyRPCLog = backendLog.Logger("RPCS")
	migrationLog = backendLog.Logger("MIGR")
)

// Initialize package-global logger variables.
func init() {
	wallet.UseLogger(walletLog)
	chain.UseLogger(chainLog)
	keystore.UseLogger(keystoreLog)
	txstore.UseLogger(txstoreLog)
	masternode.UseLogger(mnodeLog)
	privatesend.UseLogger(psendLog)
	legacyrpc.UseLogger(legacyRPCLog)
	migration.UseLogger(migrationLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"KIIR": log,
	"WLLT": walletLog,
	"CHNS": chainLog,
	"KEYS": keystoreLog,
	"TXST": txstoreLog,
	"MNOD": mnodeLog,
	"PSND": psendLog,
	"RPCS": legacyRPCLog,
	"MIGR": migrationLog,
}

// initLogRotator initializes the logging rotator to write logs to logFile and
// create roll files in the same directory.  It must be called before the
// package-global log rotator variables are used.
func initLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}

	logRotator = r
}

// setLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.  Uninitialized subsystems are dynamically created
// as needed.
func setLogLevel(subsystemID string, logLevel string) {
	// Ignore invalid subsystems.
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.  It also dynamically creates the subsystem loggers as needed, so it
// can be used to initialize the logging system.
func setLogLevels(logLevel string) {
	// Configure all sub-systems with the new logging level.  Dynamically
	// create loggers as needed.
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}
