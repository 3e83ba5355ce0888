// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/privatesend"
	"github.com/kiirocoin/kiirowallet/txstore"
	"github.com/kiirocoin/kiirowallet/walletdb"
)

func TestNewWorkflowID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := newWorkflowID()
		if len(id) != 32 {
			t.Fatalf("workflow id length %d, want 32", len(id))
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate workflow id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestMatchOutput(t *testing.T) {
	outputs := []*wire.TxOut{
		wire.NewTxOut(100, []byte{0x01}),
		wire.NewTxOut(200, []byte{0x02}),
		wire.NewTxOut(200, []byte{0x03}),
	}

	if i := matchOutput(outputs, wire.NewTxOut(200, []byte{0x03})); i != 2 {
		t.Fatalf("matchOutput: got %d, want 2", i)
	}
	// Value alone is not enough, the script must match too.
	if i := matchOutput(outputs, wire.NewTxOut(200, []byte{0x04})); i != -1 {
		t.Fatalf("matchOutput: got %d, want -1", i)
	}
	if i := matchOutput(nil, wire.NewTxOut(100, []byte{0x01})); i != -1 {
		t.Fatalf("matchOutput on empty slice: got %d, want -1", i)
	}
}

func TestStartMixingRequiresBackend(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	if err := w.StartMixing(); err == nil {
		t.Fatal("StartMixing succeeded without a backend connection")
	}
	if err := w.StopMixing(); err != ErrMixingNotRunning {
		t.Fatalf("StopMixing: got %v, want ErrMixingNotRunning", err)
	}
}

func TestPSOptionDefaultsAndUpdates(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	rounds, keepAmount, sessions, err := w.PSOptions()
	if err != nil {
		t.Fatalf("PSOptions: %v", err)
	}
	if rounds <= 0 {
		t.Fatalf("default rounds: got %d", rounds)
	}
	if keepAmount <= 0 {
		t.Fatalf("default keep amount: got %v", keepAmount)
	}
	if sessions <= 0 {
		t.Fatalf("default sessions: got %d", sessions)
	}

	if err := w.SetPSRounds(8); err != nil {
		t.Fatalf("SetPSRounds: %v", err)
	}
	if err := w.SetPSKeepAmount(3 * btcutil.SatoshiPerBitcoin); err != nil {
		t.Fatalf("SetPSKeepAmount: %v", err)
	}

	rounds, keepAmount, _, err = w.PSOptions()
	if err != nil {
		t.Fatalf("PSOptions: %v", err)
	}
	if rounds != 8 {
		t.Fatalf("rounds: got %d, want 8", rounds)
	}
	if keepAmount != 3*btcutil.SatoshiPerBitcoin {
		t.Fatalf("keep amount: got %v, want 3 KIIRO", keepAmount)
	}
}

func TestDenomSessionRoundsLifecycle(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	if err := w.Unlock(testPrivPass, nil); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	addr, err := w.NewAddress()
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatalf("PayToAddrScript: %v", err)
	}

	// A denomination at round zero is ready to mix.  The second output
	// carries the mix origin tag of new denoms change and must never be
	// offered to a session.
	fundTx := wire.NewMsgTx(wire.TxVersion)
	fundPrev := wire.OutPoint{Hash: chainhash.Hash{0xf0}, Index: 0}
	fundTx.AddTxIn(wire.NewTxIn(&fundPrev, nil, nil))
	fundTx.AddTxOut(wire.NewTxOut(int64(privatesend.MinDenomVal), pkScript))
	fundTx.AddTxOut(wire.NewTxOut(int64(privatesend.MinDenomVal), pkScript))
	rec, err := txstore.NewTxRecordFromMsgTx(fundTx, time.Now())
	if err != nil {
		t.Fatalf("NewTxRecordFromMsgTx: %v", err)
	}
	err = walletdb.Update(w.Database(), func(dbtx walletdb.ReadWriteTx) error {
		txNs := dbtx.ReadWriteBucket(txstoreNamespaceKey)
		if err := w.TxStore.InsertTx(txNs, rec, nil); err != nil {
			return err
		}
		if err := w.TxStore.AddCredit(txNs, rec, 0, false, 0); err != nil {
			return err
		}
		return w.TxStore.AddCredit(txNs, rec, 1, false,
			txstore.RoundsMixOrigin)
	})
	if err != nil {
		t.Fatalf("fund credits: %v", err)
	}

	if err := w.prepareDenominateWorkflows(); err != nil {
		t.Fatalf("prepareDenominateWorkflows: %v", err)
	}

	var wfs []*privatesend.DenominateWorkflow
	err = walletdb.View(w.Database(), func(dbtx walletdb.ReadTx) error {
		psNs := dbtx.ReadBucket(privatesendNamespaceKey)
		return privatesend.ForEachDenomWorkflow(psNs,
			func(wf *privatesend.DenominateWorkflow) error {
				wfs = append(wfs, wf)
				return nil
			})
	})
	if err != nil {
		t.Fatalf("reading workflows: %v", err)
	}
	if len(wfs) != 1 {
		t.Fatalf("prepared %d sessions, want 1", len(wfs))
	}
	wf := wfs[0]
	denomOp := wire.OutPoint{Hash: rec.Hash, Index: 0}
	if len(wf.Inputs) != 1 || wf.Inputs[0] != denomOp {
		t.Fatalf("session reserved %v, want only %v", wf.Inputs, denomOp)
	}
	if len(wf.Outputs) != 1 {
		t.Fatalf("session reserved %d output addresses, want 1",
			len(wf.Outputs))
	}
	if !w.LockedOutpoint(denomOp) {
		t.Fatal("reserved denomination not locked against spends")
	}

	// The denominate transaction arrives, spending the reserved input and
	// paying the session's fresh address.
	outAddr, err := btcutil.DecodeAddress(wf.Outputs[0], w.chainParams.Params)
	if err != nil {
		t.Fatalf("DecodeAddress: %v", err)
	}
	outScript, err := txscript.PayToAddrScript(outAddr)
	if err != nil {
		t.Fatalf("PayToAddrScript: %v", err)
	}
	denomTx := wire.NewMsgTx(wire.TxVersion)
	denomTx.AddTxIn(wire.NewTxIn(&denomOp, nil, nil))
	denomTx.AddTxOut(wire.NewTxOut(int64(privatesend.MinDenomVal), outScript))
	rec2, err := txstore.NewTxRecordFromMsgTx(denomTx, time.Now())
	if err != nil {
		t.Fatalf("NewTxRecordFromMsgTx: %v", err)
	}
	err = walletdb.Update(w.Database(), func(dbtx walletdb.ReadWriteTx) error {
		txNs := dbtx.ReadWriteBucket(txstoreNamespaceKey)
		if err := w.TxStore.InsertTx(txNs, rec2, nil); err != nil {
			return err
		}
		return w.TxStore.AddCredit(txNs, rec2, 0, false,
			txstore.RoundsNone)
	})
	if err != nil {
		t.Fatalf("denominate credits: %v", err)
	}

	if err := w.reconcileDenomWorkflows(); err != nil {
		t.Fatalf("reconcileDenomWorkflows: %v", err)
	}

	remaining := 0
	err = walletdb.View(w.Database(), func(dbtx walletdb.ReadTx) error {
		psNs := dbtx.ReadBucket(privatesendNamespaceKey)
		return privatesend.ForEachDenomWorkflow(psNs,
			func(*privatesend.DenominateWorkflow) error {
				remaining++
				return nil
			})
	})
	if err != nil {
		t.Fatalf("reading workflows: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("%d sessions left after completion, want 0", remaining)
	}
	if w.LockedOutpoint(denomOp) {
		t.Error("spent session input still locked")
	}

	// The session output advanced one mixing round.
	mixedOp := wire.OutPoint{Hash: rec2.Hash, Index: 0}
	rounds := txstore.RoundsNone
	err = walletdb.View(w.Database(), func(dbtx walletdb.ReadTx) error {
		txNs := dbtx.ReadBucket(txstoreNamespaceKey)
		unspent, err := w.TxStore.UnspentOutputs(txNs)
		if err != nil {
			return err
		}
		for i := range unspent {
			if unspent[i].OutPoint == mixedOp {
				rounds = unspent[i].PSRounds
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("reading unspent: %v", err)
	}
	if rounds != int64(wf.Rounds)+1 {
		t.Fatalf("mixed output at %d rounds, want %d", rounds,
			wf.Rounds+1)
	}
}

func TestMixingProgressEmptyWallet(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	progress, err := w.MixingProgress()
	if err != nil {
		t.Fatalf("MixingProgress: %v", err)
	}
	if progress != 0 {
		t.Fatalf("progress of empty wallet: got %d, want 0", progress)
	}
}

func TestPrivateSendBalancesEmptyWallet(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	denominated, anonymized, err := w.PrivateSendBalances()
	if err != nil {
		t.Fatalf("PrivateSendBalances: %v", err)
	}
	if denominated != 0 || anonymized != 0 {
		t.Fatalf("balances of empty wallet: got %v, %v", denominated,
			anonymized)
	}

	if state := w.PrivateSend.State(); state != privatesend.StateDisabled {
		t.Fatalf("initial mixing state: got %v", state)
	}
}
