// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"crypto/tls"
	"errors"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/internal/cfgutil"
	"github.com/kiirocoin/kiirowallet/rpc/legacyrpc"
	"github.com/kiirocoin/kiirowallet/wallet"
)

// openRPCKeyPair creates or opens the RPC TLS keypair configured by the
// application config.  This function respects the cfg.OneTimeTLSKey setting.
func openRPCKeyPair() (tls.Certificate, error) {
	// Check for existence of the TLS key file.  If one time TLS keys are
	// enabled but a key already exists, this function should error since
	// it's possible that a persistent certificate was copied to a remote
	// machine.  Otherwise, generate a new keypair when the key is missing.
	// When the key exists but the certificate does not, return an error.
	// The connection can only be server authenticated when both exist.
	keyExists, err := cfgutil.FileExists(cfg.RPCKey.Value)
	if err != nil {
		return tls.Certificate{}, err
	}
	certExists, err := cfgutil.FileExists(cfg.RPCCert.Value)
	if err != nil {
		return tls.Certificate{}, err
	}
	switch {
	case cfg.OneTimeTLSKey && keyExists:
		err := errors.New("one time TLS keys are enabled, but TLS key " +
			"file already exists")
		return tls.Certificate{}, err
	case !keyExists && certExists:
		err := errors.New("TLS certificate exists without matching key")
		return tls.Certificate{}, err
	case !keyExists || !certExists:
		return generateRPCKeyPair(!cfg.OneTimeTLSKey)
	default:
		return tls.LoadX509KeyPair(cfg.RPCCert.Value, cfg.RPCKey.Value)
	}
}

// generateRPCKeyPair generates a new RPC TLS keypair and writes the cert and
// possibly also the key in PEM format to the paths specified by the config.
// If successful, the new keypair is returned.
func generateRPCKeyPair(writeKey bool) (tls.Certificate, error) {
	log.Infof("Generating TLS certificates...")

	// Create directories for cert and key files if they do not yet exist.
	certDir, _ := filepath.Split(cfg.RPCCert.Value)
	keyDir, _ := filepath.Split(cfg.RPCKey.Value)
	err := os.MkdirAll(certDir, 0700)
	if err != nil {
		return tls.Certificate{}, err
	}
	err = os.MkdirAll(keyDir, 0700)
	if err != nil {
		return tls.Certificate{}, err
	}

	// Generate cert pair.
	org := "kiirowallet autogenerated cert"
	validUntil := time.Now().Add(time.Hour * 24 * 365 * 10)
	cert, key, err := btcutil.NewTLSCertPair(org, validUntil, nil)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPair, err := tls.X509KeyPair(cert, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	// Write cert and (potentially) the key files.
	err = ioutil.WriteFile(cfg.RPCCert.Value, cert, 0600)
	if err != nil {
		return tls.Certificate{}, err
	}
	if writeKey {
		err = ioutil.WriteFile(cfg.RPCKey.Value, key, 0600)
		if err != nil {
			rmErr := os.Remove(cfg.RPCCert.Value)
			if rmErr != nil {
				log.Warnf("Cannot remove written certificates: %v",
					rmErr)
			}
			return tls.Certificate{}, err
		}
	}

	log.Info("Done generating TLS certificates")
	return keyPair, nil
}

// startRPCServer creates and starts the legacy JSON-RPC server configured by
// the application config.  A nil server is returned when no listeners are
// configured.
func startRPCServer(walletLoader *wallet.Loader) (*legacyrpc.Server, error) {
	if len(cfg.LegacyRPCListeners) == 0 {
		return nil, nil
	}
	if cfg.Username == "" || cfg.Password == "" {
		log.Info("Legacy RPC server disabled (requires username and password)")
		return nil, nil
	}

	listen := net.Listen
	if !cfg.DisableServerTLS {
		keyPair, err := openRPCKeyPair()
		if err != nil {
			return nil, err
		}
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{keyPair},
			MinVersion:   tls.VersionTLS12,
		}
		// Change the standard net.Listen function to the tls one.
		listen = func(net string, laddr string) (net.Listener, error) {
			return tls.Listen(net, laddr, tlsConfig)
		}
	} else {
		log.Info("Server TLS is disabled.  Only legacy RPC may be used")
	}

	listeners := makeListeners(cfg.LegacyRPCListeners, listen)
	if len(listeners) == 0 {
		return nil, errors.New("failed to create listeners for legacy " +
			"RPC server")
	}
	opts := legacyrpc.Options{
		Username:            cfg.Username,
		Password:            cfg.Password,
		MaxPOSTClients:      cfg.LegacyRPCMaxClients,
		MaxWebsocketClients: cfg.LegacyRPCMaxWebsockets,
	}
	server := legacyrpc.NewServer(&opts, walletLoader, listeners)
	return server, nil
}

// startWalletRPCServices associates each of the (optionally-nil) RPC servers
// with a wallet to enable remote wallet access.
func startWalletRPCServices(w *wallet.Wallet, legacyServer *legacyrpc.Server) {
	if legacyServer != nil {
		legacyServer.RegisterWallet(w)
	}
}

// makeListeners splits the normalized listen addresses into IPv4 and IPv6
// addresses and creates new net.Listeners for each with the passed listen
// func.  Invalid addresses are logged and skipped.
func makeListeners(normalizedListenAddrs []string, listen listenFunc) []net.Listener {
	ipv4Addrs := make([]string, 0, len(normalizedListenAddrs)*2)
	ipv6Addrs := make([]string, 0, len(normalizedListenAddrs)*2)
	for _, addr := range normalizedListenAddrs {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			// Shouldn't happen due to already being normalized.
			log.Errorf("`%s` is not a normalized "+
				"listener address", addr)
			continue
		}

		// Empty host or host of * on plan9 is both IPv4 and IPv6.
		if host == "" || (host == "*" && runtime.GOOS == "plan9") {
			ipv4Addrs = append(ipv4Addrs, addr)
			ipv6Addrs = append(ipv6Addrs, addr)
			continue
		}

		// Remove the IPv6 zone from the host, if present.  The zone
		// prevents ParseIP from correctly parsing the IP address.
		// ResolveIPAddr is intentionally not used here due to the
		// possibility of leaking a DNS query over Tor if the host is a
		// hostname and not an IP address.
		zoneIndex := strings.LastIndex(host, "%")
		if zoneIndex != -1 {
			host = host[:zoneIndex]
		}

		ip := net.ParseIP(host)
		switch {
		case ip == nil:
			log.Warnf("`%s` is not a valid IP address", host)
		case ip.To4() == nil:
			ipv6Addrs = append(ipv6Addrs, addr)
		default:
			ipv4Addrs = append(ipv4Addrs, addr)
		}
	}
	listeners := make([]net.Listener, 0, len(ipv6Addrs)+len(ipv4Addrs))
	for _, addr := range ipv4Addrs {
		listener, err := listen("tcp4", addr)
		if err != nil {
			log.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, listener)
	}
	for _, addr := range ipv6Addrs {
		listener, err := listen("tcp6", addr)
		if err != nil {
			log.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, listener)
	}
	return listeners
}

// listenFunc is the signature of the listener creation function used by
// makeListeners, matching net.Listen and tls.Listen after currying the TLS
// config.
type listenFunc func(net string, laddr string) (net.Listener, error)
