// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/kiirocoin/kiirowallet/keystore"
	"github.com/kiirocoin/kiirowallet/masternode"
	"github.com/kiirocoin/kiirowallet/netparams"
	"github.com/kiirocoin/kiirowallet/privatesend"
	"github.com/kiirocoin/kiirowallet/txstore"
	"github.com/kiirocoin/kiirowallet/walletdb"
)

// Top level buckets of the wallet database.  Each subsystem receives its own
// namespace and never touches the others.
var (
	keystoreNamespaceKey    = []byte("keystore")
	txstoreNamespaceKey     = []byte("txstore")
	masternodeNamespaceKey  = []byte("masternode")
	privatesendNamespaceKey = []byte("privatesend")
)

// Create initializes all namespaces of a new wallet database from the wallet
// generation seed.  If seed is nil, CreateWatchingOnly must be used instead.
func Create(db walletdb.DB, pubPass, privPass, seed []byte,
	params *netparams.Params) error {

	return walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ks, err := tx.CreateTopLevelBucket(keystoreNamespaceKey)
		if err != nil {
			return err
		}
		if err := keystore.Create(ks, seed, pubPass, privPass,
			params, nil); err != nil {
			return err
		}
		return createCommonNamespaces(tx, params)
	})
}

// CreateWatchingOnly initializes all namespaces of a new watching-only wallet
// database from an exported account extended public key.
func CreateWatchingOnly(db walletdb.DB, acctXPub string, pubPass []byte,
	params *netparams.Params) error {

	return walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ks, err := tx.CreateTopLevelBucket(keystoreNamespaceKey)
		if err != nil {
			return err
		}
		if err := keystore.CreateWatchingOnly(ks, acctXPub, pubPass,
			params, nil); err != nil {
			return err
		}
		return createCommonNamespaces(tx, params)
	})
}

func createCommonNamespaces(tx walletdb.ReadWriteTx,
	params *netparams.Params) error {

	ts, err := tx.CreateTopLevelBucket(txstoreNamespaceKey)
	if err != nil {
		return err
	}
	if err := txstore.Create(ts); err != nil {
		return err
	}
	mn, err := tx.CreateTopLevelBucket(masternodeNamespaceKey)
	if err != nil {
		return err
	}
	if err := masternode.Create(mn); err != nil {
		return err
	}
	ps, err := tx.CreateTopLevelBucket(privatesendNamespaceKey)
	if err != nil {
		return err
	}
	return privatesend.Create(ps)
}
