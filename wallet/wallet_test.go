// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"io/ioutil"
	"os"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/keystore"
	"github.com/kiirocoin/kiirowallet/netparams"
	_ "github.com/kiirocoin/kiirowallet/walletdb/bdb"
)

var (
	testPubPass  = []byte("public")
	testPrivPass = []byte("private")
)

// testSeed is a fixed seed so failures reproduce deterministically.
var testSeed = bytes.Repeat([]byte{0x2a}, 32)

// testWallet creates a wallet in a temporary directory.  The returned cleanup
// function unloads the wallet and removes the directory.
func testWallet(t *testing.T) (*Wallet, *Loader, func()) {
	t.Helper()

	dir, err := ioutil.TempDir("", "kiirowallet_test")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	loader := NewLoader(&netparams.RegTestParams, dir)
	w, err := loader.CreateNewWallet(testPubPass, testPrivPass, testSeed)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("CreateNewWallet: %v", err)
	}
	return w, loader, func() {
		if err := loader.UnloadWallet(); err != nil && err != ErrNotLoaded {
			t.Errorf("UnloadWallet: %v", err)
		}
		os.RemoveAll(dir)
	}
}

func TestCreateAndReopenWallet(t *testing.T) {
	w, loader, cleanup := testWallet(t)
	defer cleanup()

	addr, err := w.CurrentAddress()
	if err != nil {
		t.Fatalf("CurrentAddress: %v", err)
	}

	if err := loader.UnloadWallet(); err != nil {
		t.Fatalf("UnloadWallet: %v", err)
	}

	w2, err := loader.OpenExistingWallet(testPubPass)
	if err != nil {
		t.Fatalf("OpenExistingWallet: %v", err)
	}
	addr2, err := w2.CurrentAddress()
	if err != nil {
		t.Fatalf("CurrentAddress after reopen: %v", err)
	}
	if addr.EncodeAddress() != addr2.EncodeAddress() {
		t.Fatalf("unused address changed across reopen: %v != %v",
			addr, addr2)
	}
}

func TestAddressBranches(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	ext, err := w.NewAddress()
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	change, err := w.NewChangeAddress()
	if err != nil {
		t.Fatalf("NewChangeAddress: %v", err)
	}
	if ext.EncodeAddress() == change.EncodeAddress() {
		t.Fatal("external and change branches returned the same address")
	}

	for _, addr := range []btcutil.Address{ext, change} {
		owned, err := w.HaveAddress(addr)
		if err != nil {
			t.Fatalf("HaveAddress: %v", err)
		}
		if !owned {
			t.Errorf("wallet does not own derived address %v", addr)
		}
	}

	infos, err := w.AllAddresses()
	if err != nil {
		t.Fatalf("AllAddresses: %v", err)
	}
	branches := map[uint32]bool{}
	for _, info := range infos {
		branches[info.Branch] = true
	}
	if !branches[keystore.ExternalBranch] || !branches[keystore.InternalBranch] {
		t.Fatalf("expected addresses on both branches, got %v", branches)
	}
}

func TestUnlockLock(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	if !w.Locked() {
		t.Fatal("new wallet is not locked")
	}

	err := w.Unlock([]byte("wrong"), nil)
	if !keystore.IsError(err, keystore.ErrWrongPassphrase) {
		t.Fatalf("wrong passphrase: got %v, want ErrWrongPassphrase", err)
	}
	if !w.Locked() {
		t.Fatal("wallet unlocked by wrong passphrase")
	}

	if err := w.Unlock(testPrivPass, nil); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if w.Locked() {
		t.Fatal("wallet still locked after Unlock")
	}

	w.Lock()
	if !w.Locked() {
		t.Fatal("wallet not locked after Lock")
	}
}

func TestDumpPrivKeyRequiresUnlock(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	addr, err := w.NewAddress()
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}

	_, err = w.DumpWIFPrivateKey(addr)
	if !keystore.IsError(err, keystore.ErrLocked) {
		t.Fatalf("locked wallet: got %v, want ErrLocked", err)
	}

	if err := w.Unlock(testPrivPass, nil); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	wifStr, err := w.DumpWIFPrivateKey(addr)
	if err != nil {
		t.Fatalf("DumpWIFPrivateKey: %v", err)
	}
	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		t.Fatalf("DecodeWIF: %v", err)
	}
	pkHash := btcutil.Hash160(wif.PrivKey.PubKey().SerializeCompressed())
	derived, err := btcutil.NewAddressPubKeyHash(pkHash,
		netparams.RegTestParams.Params)
	if err != nil {
		t.Fatalf("NewAddressPubKeyHash: %v", err)
	}
	if derived.EncodeAddress() != addr.EncodeAddress() {
		t.Fatalf("dumped key derives %v, want %v", derived, addr)
	}
}

func TestSignAndVerifyMessage(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	addr, err := w.NewAddress()
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	if err := w.Unlock(testPrivPass, nil); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	const message = "squeamish ossifrage"
	sig, err := w.SignMessage(addr, message)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}

	ok, err := VerifyMessage(addr, sig, message, &netparams.RegTestParams)
	if err != nil {
		t.Fatalf("VerifyMessage: %v", err)
	}
	if !ok {
		t.Fatal("valid signature did not verify")
	}

	ok, err = VerifyMessage(addr, sig, message+"!", &netparams.RegTestParams)
	if err == nil && ok {
		t.Fatal("signature verified against a different message")
	}

	other, err := w.NewAddress()
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	ok, err = VerifyMessage(other, sig, message, &netparams.RegTestParams)
	if err != nil {
		t.Fatalf("VerifyMessage with other address: %v", err)
	}
	if ok {
		t.Fatal("signature verified against a different address")
	}
}

func TestSeedRoundTrip(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	_, err := w.Seed()
	if !keystore.IsError(err, keystore.ErrLocked) {
		t.Fatalf("locked wallet: got %v, want ErrLocked", err)
	}

	if err := w.Unlock(testPrivPass, nil); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	seed, err := w.Seed()
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if !bytes.Equal(seed, testSeed) {
		t.Fatal("stored seed does not round trip")
	}
}

func TestLockedOutpoints(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	op := wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 3}
	if w.LockedOutpoint(op) {
		t.Fatal("outpoint locked before LockOutpoint")
	}
	w.LockOutpoint(op)
	if !w.LockedOutpoint(op) {
		t.Fatal("outpoint not locked after LockOutpoint")
	}
	locked := w.LockedOutpoints()
	if len(locked) != 1 || locked[0] != op {
		t.Fatalf("LockedOutpoints: got %v", locked)
	}
	w.UnlockOutpoint(op)
	if w.LockedOutpoint(op) {
		t.Fatal("outpoint still locked after UnlockOutpoint")
	}

	w.LockOutpoint(op)
	w.ResetLockedOutpoints()
	if len(w.LockedOutpoints()) != 0 {
		t.Fatal("ResetLockedOutpoints left outpoints locked")
	}
}

func TestCalculateBalanceEmpty(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	bal, err := w.CalculateBalance(1)
	if err != nil {
		t.Fatalf("CalculateBalance: %v", err)
	}
	if bal != 0 {
		t.Fatalf("new wallet balance: got %v, want 0", bal)
	}
}
