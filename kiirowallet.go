// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/kiirocoin/kiirowallet/chain"
	"github.com/kiirocoin/kiirowallet/rpc/legacyrpc"
	"github.com/kiirocoin/kiirowallet/wallet"
)

// zmqPollInterval is how often the ZMQ sockets of a local node are polled for
// new events.
const zmqPollInterval = 100 * time.Millisecond

var cfg *config

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := walletMain(); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called by way of calling os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func walletMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Show version at startup.
	log.Infof("Version %s", version())

	if cfg.Profile != "" {
		go func() {
			listenAddr := net.JoinHostPort("", cfg.Profile)
			log.Infof("Profile server listening on %s", listenAddr)
			profileRedirect := http.RedirectHandler("/debug/pprof",
				http.StatusSeeOther)
			http.Handle("/", profileRedirect)
			log.Errorf("%v", http.ListenAndServe(listenAddr, nil))
		}()
	}

	dbDir := networkDir(cfg.AppDataDir.Value, activeNet)
	loader := wallet.NewLoader(activeNet, dbDir)

	// Create and start the RPC server to serve wallet client connections.
	// The wallet and Electrum client are associated with the server after
	// each is created below.
	legacyRPCServer, err := startRPCServer(loader)
	if err != nil {
		log.Errorf("Unable to create RPC server: %v", err)
		return err
	}

	// Apply configured wallet policies and register RPC services once the
	// wallet is loaded.
	loader.RunAfterLoad(func(w *wallet.Wallet) {
		w.SetRelayFee(cfg.MinRelayTxFee.Amount)
		startWalletRPCServices(w, legacyRPCServer)
	})

	// Create and start the Electrum client so that it can connect to the
	// wallet when the wallet is loaded.
	if !cfg.NoInitialLoad {
		go electrumConnectLoop(legacyRPCServer, loader)
	}

	if !cfg.NoInitialLoad {
		// Load the wallet database.  It must have been created already
		// or this will return an appropriate error.
		_, err = loader.OpenExistingWallet([]byte(cfg.WalletPass))
		if err != nil {
			log.Error(err)
			return err
		}
	}

	// Add interrupt handlers to shutdown the various process components
	// before exiting.  Interrupt handlers run in LIFO order, so the wallet
	// (which should be closed last) is added first.
	addInterruptHandler(func() {
		err := loader.UnloadWallet()
		if err != nil && err != wallet.ErrNotLoaded {
			log.Errorf("Failed to close wallet: %v", err)
		}
	})
	if legacyRPCServer != nil {
		addInterruptHandler(func() {
			log.Warn("Stopping RPC server...")
			legacyRPCServer.Stop()
			log.Info("RPC server shutdown")
		})
		go func() {
			<-legacyRPCServer.RequestProcessShutdown()
			simulateInterrupt()
		}()
	}

	<-interruptHandlersDone
	log.Info("Shutdown complete")
	return nil
}

// electrumConnectLoop starts the ElectrumX client and associates it with the
// loaded wallet.  The client reconnects on its own, so the loop only exits
// when the client is explicitly stopped.
func electrumConnectLoop(legacyRPCServer *legacyrpc.Server, loader *wallet.Loader) {
	chainClient := chain.NewElectrumClient(&chain.ElectrumConfig{
		Server: cfg.ElectrumServer,
		TLS:    !cfg.ElectrumNoTLS,
		Params: activeNet,
	})
	if err := chainClient.Start(); err != nil {
		log.Errorf("Unable to connect to ElectrumX server %v: %v",
			cfg.ElectrumServer, err)
		return
	}
	addInterruptHandler(func() {
		chainClient.Stop()
		chainClient.WaitForShutdown()
	})

	// Start the event listener of a local node when both ZMQ addresses are
	// configured.  Mempool transactions then reach the wallet without
	// waiting on server notifications.
	var nodeEvents *chain.KiirodEvents
	if cfg.ZMQPubRawBlock != "" && cfg.ZMQPubRawTx != "" {
		nodeEvents = chain.NewKiirodEvents(cfg.ZMQPubRawBlock,
			cfg.ZMQPubRawTx, zmqPollInterval)
		if err := nodeEvents.Start(); err != nil {
			log.Errorf("Unable to start node event listener: %v", err)
			nodeEvents = nil
		} else {
			addInterruptHandler(nodeEvents.Stop)
		}
	}

	// Instead of associating the wallet with the client directly in the
	// loader callback, a function variable guarded by a mutex is used so
	// the callback cannot associate a wallet loaded at a later time with
	// an already stopped client.
	associateClient := func(w *wallet.Wallet) {
		w.SynchronizeRPC(chainClient)
		if legacyRPCServer != nil {
			legacyRPCServer.SetChainServer(chainClient)
		}
		if nodeEvents != nil {
			go forwardNodeEvents(nodeEvents, w)
		}
	}
	mu := new(sync.Mutex)
	loader.RunAfterLoad(func(w *wallet.Wallet) {
		mu.Lock()
		associate := associateClient
		mu.Unlock()
		if associate != nil {
			associate(w)
		}
	})

	chainClient.WaitForShutdown()

	mu.Lock()
	associateClient = nil
	mu.Unlock()
}

// forwardNodeEvents delivers raw transaction events of a local node to the
// wallet.  Block events only announce what the ElectrumX header subscription
// already delivers, so they are logged and dropped.
func forwardNodeEvents(events *chain.KiirodEvents, w *wallet.Wallet) {
	for {
		select {
		case tx, ok := <-events.TxNtfns():
			if !ok {
				return
			}
			if err := w.NotifyMempoolTx(tx); err != nil {
				log.Errorf("Cannot record mempool transaction "+
					"%v: %v", tx.TxHash(), err)
			}
		case block, ok := <-events.BlockNtfns():
			if !ok {
				return
			}
			log.Debugf("Node announced a block of %d bytes",
				len(block))
		}
	}
}
