// Copyright (c) 2014-2017 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keystore

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/kiirocoin/kiirowallet/netparams"
	"github.com/kiirocoin/kiirowallet/walletdb"
	_ "github.com/kiirocoin/kiirowallet/walletdb/bdb"
)

var (
	// testSeed is the hex decoded seed used throughout the tests.
	testSeed = bytes.Repeat([]byte{0x2a}, 32)

	pubPass  = []byte("public")
	privPass = []byte("private")

	// fastScrypt are the scrypt options used to avoid spending too much
	// time deriving keys in tests.
	fastScrypt = &Options{ScryptN: 16, ScryptR: 8, ScryptP: 1}

	nsKey = []byte("keystore")
)

// testDB creates a new walletdb database in a temp directory.
func testDB(t *testing.T) walletdb.DB {
	t.Helper()

	dir, err := ioutil.TempDir("", "keystore")
	if err != nil {
		t.Fatalf("unable to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := walletdb.Create("bdb", filepath.Join(dir, "wallet.db"))
	if err != nil {
		t.Fatalf("unable to create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// testManager creates a keystore and returns an opened manager for it.
func testManager(t *testing.T) (walletdb.DB, *Manager) {
	t.Helper()

	db := testDB(t)
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(nsKey)
		if err != nil {
			return err
		}
		return Create(ns, testSeed, pubPass, privPass,
			&netparams.RegTestParams, fastScrypt)
	})
	if err != nil {
		t.Fatalf("unable to create keystore: %v", err)
	}

	var mgr *Manager
	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		var err error
		mgr, err = Open(tx.ReadBucket(nsKey), pubPass,
			&netparams.RegTestParams)
		return err
	})
	if err != nil {
		t.Fatalf("unable to open keystore: %v", err)
	}
	return db, mgr
}

func TestCreateOpenAddresses(t *testing.T) {
	db, mgr := testManager(t)

	// Derive a handful of addresses on both branches.
	var external, internal []string
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(nsKey)
		for i := 0; i < 5; i++ {
			addr, err := mgr.NextAddress(ns, ExternalBranch)
			if err != nil {
				return err
			}
			external = append(external, addr.String())

			addr, err = mgr.NextAddress(ns, InternalBranch)
			if err != nil {
				return err
			}
			internal = append(internal, addr.String())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("derive addresses: %v", err)
	}

	// A reopened manager must derive the exact same addresses.
	var mgr2 *Manager
	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		var err error
		mgr2, err = Open(tx.ReadBucket(nsKey), pubPass,
			&netparams.RegTestParams)
		return err
	})
	if err != nil {
		t.Fatalf("reopen keystore: %v", err)
	}
	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(nsKey)
		infos, err := mgr2.ActiveAddresses(ns)
		if err != nil {
			return err
		}
		if len(infos) != 10 {
			t.Fatalf("active addresses: got %d, want 10",
				len(infos))
		}
		for _, info := range infos {
			if !mgr2.OwnsAddress(ns, info.Address) {
				t.Errorf("address %v not owned after reopen",
					info.Address)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("check addresses: %v", err)
	}

	if external[0] == internal[0] {
		t.Fatal("external and internal branches derived the same address")
	}
}

func TestCreateTwiceFails(t *testing.T) {
	db, _ := testManager(t)

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(nsKey)
		return Create(ns, testSeed, pubPass, privPass,
			&netparams.RegTestParams, fastScrypt)
	})
	if !IsError(err, ErrAlreadyExists) {
		t.Fatalf("second create: got %v, want ErrAlreadyExists", err)
	}
}

func TestUnusedAddress(t *testing.T) {
	db, mgr := testManager(t)

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(nsKey)

		first, err := mgr.UnusedAddress(ns)
		if err != nil {
			return err
		}
		again, err := mgr.UnusedAddress(ns)
		if err != nil {
			return err
		}
		if first.String() != again.String() {
			t.Fatalf("unused address changed without use: %v != %v",
				first, again)
		}

		if err := mgr.MarkUsed(ns, first); err != nil {
			return err
		}
		next, err := mgr.UnusedAddress(ns)
		if err != nil {
			return err
		}
		if next.String() == first.String() {
			t.Fatal("used address handed out again")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unused address: %v", err)
	}
}

func TestLockUnlock(t *testing.T) {
	db, mgr := testManager(t)

	if !mgr.IsLocked() {
		t.Fatal("new manager must start locked")
	}

	// Private operations fail while locked.
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(nsKey)
		addr, err := mgr.NextAddress(ns, ExternalBranch)
		if err != nil {
			return err
		}
		if _, err := mgr.PrivKeyForAddress(ns, addr); !IsError(err, ErrLocked) {
			t.Fatalf("locked priv key: got %v, want ErrLocked", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := mgr.Unlock([]byte("wrong")); !IsError(err, ErrWrongPassphrase) {
		t.Fatalf("wrong passphrase: got %v, want ErrWrongPassphrase", err)
	}
	if err := mgr.Unlock(privPass); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(nsKey)
		if err := mgr.UnlockAccountKey(ns); err != nil {
			return err
		}

		infos, err := mgr.ActiveAddresses(ns)
		if err != nil {
			return err
		}
		addr := infos[0].Address

		privKey, err := mgr.PrivKeyForAddress(ns, addr)
		if err != nil {
			return err
		}
		pubKey, err := mgr.PubKeyForAddress(ns, addr)
		if err != nil {
			return err
		}
		if !privKey.PubKey().IsEqual(pubKey) {
			t.Fatal("derived private key does not match public key")
		}

		seed, err := mgr.Seed(ns)
		if err != nil {
			return err
		}
		if !bytes.Equal(seed, testSeed) {
			t.Fatal("seed round trip mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unlocked ops: %v", err)
	}

	mgr.Lock()
	if !mgr.IsLocked() {
		t.Fatal("manager still unlocked after Lock")
	}
}

func TestChangePrivatePassphrase(t *testing.T) {
	db, mgr := testManager(t)

	if err := mgr.Unlock(privPass); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	newPass := []byte("different")
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return mgr.ChangePrivatePassphrase(tx.ReadWriteBucket(nsKey),
			newPass, fastScrypt)
	})
	if err != nil {
		t.Fatalf("change passphrase: %v", err)
	}

	mgr.Lock()
	if err := mgr.Unlock(privPass); !IsError(err, ErrWrongPassphrase) {
		t.Fatalf("old passphrase still works: %v", err)
	}
	if err := mgr.Unlock(newPass); err != nil {
		t.Fatalf("new passphrase rejected: %v", err)
	}
}

func TestWatchingOnly(t *testing.T) {
	db, mgr := testManager(t)

	// Create a watching-only keystore from the account xpub in a second
	// namespace and verify it derives the same addresses but refuses
	// private operations.
	woKey := []byte("watchingonly")
	acctXPub := mgr.AccountPubKey().String()
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(woKey)
		if err != nil {
			return err
		}
		return CreateWatchingOnly(ns, acctXPub, pubPass,
			&netparams.RegTestParams, fastScrypt)
	})
	if err != nil {
		t.Fatalf("create watching-only: %v", err)
	}

	var woMgr *Manager
	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		var err error
		woMgr, err = Open(tx.ReadBucket(woKey), pubPass,
			&netparams.RegTestParams)
		return err
	})
	if err != nil {
		t.Fatalf("open watching-only: %v", err)
	}
	if !woMgr.WatchingOnly() {
		t.Fatal("watching-only flag not set")
	}

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		fullAddr, err := mgr.NextAddress(tx.ReadWriteBucket(nsKey),
			ExternalBranch)
		if err != nil {
			return err
		}
		woAddr, err := woMgr.NextAddress(tx.ReadWriteBucket(woKey),
			ExternalBranch)
		if err != nil {
			return err
		}
		if fullAddr.String() != woAddr.String() {
			t.Fatalf("watching-only derived %v, full keystore %v",
				woAddr, fullAddr)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	if err := woMgr.Unlock(privPass); !IsError(err, ErrWatchingOnly) {
		t.Fatalf("unlock watching-only: got %v, want ErrWatchingOnly",
			err)
	}
}

func TestScanOverGap(t *testing.T) {
	db, mgr := testManager(t)

	// Pretend the address at external index 25, beyond a lookahead window
	// of 10, has history.  First derive its address string.
	var target string
	err := walletdb.View(db, func(tx walletdb.ReadTx) error {
		addr, err := mgr.deriveAddress(ExternalBranch, 25)
		if err != nil {
			return err
		}
		target = addr.String()
		return nil
	})
	if err != nil {
		t.Fatalf("derive target: %v", err)
	}

	// A scan with a lookahead of 10 must not reach index 25.
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(nsKey)
		results, err := mgr.ScanOverGap(ns, 10,
			func(addr string, scriptHash []byte) (bool, error) {
				return addr == target, nil
			})
		if err != nil {
			return err
		}
		if len(results) != 0 {
			t.Fatalf("short scan found %d addresses, want 0",
				len(results))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("short scan: %v", err)
	}

	// A scan with a lookahead of 30 must find it and advance the
	// derivation frontier past it.
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(nsKey)
		results, err := mgr.ScanOverGap(ns, 30,
			func(addr string, scriptHash []byte) (bool, error) {
				return addr == target, nil
			})
		if err != nil {
			return err
		}
		if len(results) != 1 {
			t.Fatalf("scan found %d addresses, want 1", len(results))
		}
		if results[0].Branch != ExternalBranch || results[0].Index != 25 {
			t.Fatalf("scan found branch %d index %d, want 0/25",
				results[0].Branch, results[0].Index)
		}
		if next := fetchNextIndex(ns, ExternalBranch); next != 26 {
			t.Fatalf("frontier: got %d, want 26", next)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
}
