// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"sort"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/txstore"
	"github.com/kiirocoin/kiirowallet/wallet/txauthor"
	"github.com/kiirocoin/kiirowallet/walletdb"
)

func makeTestCredits(amounts ...btcutil.Amount) []txstore.Credit {
	credits := make([]txstore.Credit, len(amounts))
	for i, amt := range amounts {
		credits[i] = txstore.Credit{
			OutPoint: wire.OutPoint{
				Hash:  chainhash.Hash{byte(i + 1)},
				Index: uint32(i),
			},
			Amount:   amt,
			PkScript: []byte{byte(i)},
		}
	}
	return credits
}

func TestByAmountSort(t *testing.T) {
	credits := makeTestCredits(3e8, 1e8, 2e8)
	sort.Sort(byAmount(credits))
	for i := 1; i < len(credits); i++ {
		if credits[i-1].Amount > credits[i].Amount {
			t.Fatalf("credits not sorted ascending: %v > %v",
				credits[i-1].Amount, credits[i].Amount)
		}
	}
}

func TestMakeInputSource(t *testing.T) {
	credits := makeTestCredits(1e8, 2e8, 3e8)
	source := makeInputSource(credits)

	// Inputs are added largest first until the target is reached.
	total, inputs, inputValues, scripts, err := source(25e7)
	if err != nil {
		t.Fatalf("input source: %v", err)
	}
	if total != 5e8 {
		t.Fatalf("total: got %v, want %v", total, btcutil.Amount(5e8))
	}
	if len(inputs) != 2 || len(inputValues) != 2 || len(scripts) != 2 {
		t.Fatalf("selected %d inputs, want 2", len(inputs))
	}
	if inputValues[0] != 3e8 || inputValues[1] != 2e8 {
		t.Fatalf("input values: got %v, want [3e8 2e8]", inputValues)
	}

	// Repeated calls with a higher target continue from the accumulated
	// state rather than restarting.
	total, inputs, _, _, err = source(55e7)
	if err != nil {
		t.Fatalf("input source: %v", err)
	}
	if total != 6e8 || len(inputs) != 3 {
		t.Fatalf("total %v with %d inputs, want 6e8 with 3", total,
			len(inputs))
	}

	// An unreachable target returns everything without error.  Detecting
	// insufficient funds is the caller's job.
	total, inputs, _, _, err = source(1e12)
	if err != nil {
		t.Fatalf("input source: %v", err)
	}
	if total != 6e8 || len(inputs) != 3 {
		t.Fatalf("exhausted source returned total %v with %d inputs",
			total, len(inputs))
	}
}

func TestValidateMsgTxSigned(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	if err := w.Unlock(testPrivPass, nil); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	// Build and sign a 1-in 1-out transaction spending a fake credit that
	// pays a wallet address, then check the engine accepts the input
	// script.
	addr, err := w.NewAddress()
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatalf("PayToAddrScript: %v", err)
	}

	prevValue := btcutil.Amount(1e8)
	tx := wire.NewMsgTx(wire.TxVersion)
	prevOut := wire.OutPoint{Hash: chainhash.Hash{0xaa}, Index: 0}
	tx.AddTxIn(wire.NewTxIn(&prevOut, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(prevValue)-1e4, pkScript))

	err = walletdb.View(w.Database(), func(dbtx walletdb.ReadTx) error {
		ns := dbtx.ReadBucket(keystoreNamespaceKey)
		return txauthor.AddAllInputScripts(tx, [][]byte{pkScript},
			[]btcutil.Amount{prevValue},
			secretSource{w.KeyStore, ns})
	})
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	err = validateMsgTx(tx, [][]byte{pkScript}, []btcutil.Amount{prevValue})
	if err != nil {
		t.Fatalf("validateMsgTx rejected a correctly signed input: %v", err)
	}

	// Corrupting the signature script must fail validation.
	tx.TxIn[0].SignatureScript[10] ^= 0xff
	err = validateMsgTx(tx, [][]byte{pkScript}, []btcutil.Amount{prevValue})
	if err == nil {
		t.Fatal("validateMsgTx accepted a corrupted signature")
	}
}

func TestCoinbaseMaturityEligibility(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: ^uint32(0)},
		SignatureScript:  []byte{0x03, 0x64, 0x00, 0x00},
	})
	coinbase.AddTxOut(wire.NewTxOut(15e8, []byte{0x51}))
	rec, err := txstore.NewTxRecordFromMsgTx(coinbase, time.Now())
	if err != nil {
		t.Fatalf("NewTxRecordFromMsgTx: %v", err)
	}
	block := &txstore.BlockMeta{
		Block: txstore.Block{Height: 100},
		Time:  time.Now(),
	}
	err = walletdb.Update(w.Database(), func(dbtx walletdb.ReadWriteTx) error {
		txNs := dbtx.ReadWriteBucket(txstoreNamespaceKey)
		if err := w.TxStore.InsertTx(txNs, rec, block); err != nil {
			return err
		}
		return w.TxStore.AddCredit(txNs, rec, 0, false, txstore.RoundsNone)
	})
	if err != nil {
		t.Fatalf("inserting coinbase credit: %v", err)
	}

	eligibleAt := func(tip int32) int {
		var n int
		err := walletdb.View(w.Database(), func(dbtx walletdb.ReadTx) error {
			eligible, err := w.findEligibleOutputs(dbtx, 1, tip)
			if err != nil {
				return err
			}
			n = len(eligible)
			return nil
		})
		if err != nil {
			t.Fatalf("findEligibleOutputs at tip %d: %v", tip, err)
		}
		return n
	}

	// 51 confirmations is well past minconf but short of coinbase
	// maturity.
	if n := eligibleAt(150); n != 0 {
		t.Fatalf("immature coinbase eligible: got %d outputs, want 0", n)
	}
	// At 100 confirmations the output matures.
	if n := eligibleAt(199); n != 1 {
		t.Fatalf("mature coinbase not eligible: got %d outputs, want 1", n)
	}
}
