// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package privatesend

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/kiirocoin/kiirowallet/walletdb"
	_ "github.com/kiirocoin/kiirowallet/walletdb/bdb"
)

var namespaceKey = []byte("privatesend")

func testDB(t *testing.T) walletdb.DB {
	dir, err := ioutil.TempDir("", "privatesend_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := walletdb.Create("bdb", filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(namespaceKey)
		if err != nil {
			return err
		}
		return Create(ns)
	})
	if err != nil {
		t.Fatalf("failed to create buckets: %v", err)
	}
	return db
}

func update(t *testing.T, db walletdb.DB, f func(walletdb.ReadWriteBucket) error) {
	t.Helper()
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return f(tx.ReadWriteBucket(namespaceKey))
	})
	if err != nil {
		t.Fatal(err)
	}
}

func view(t *testing.T, db walletdb.DB, f func(walletdb.ReadBucket) error) {
	t.Helper()
	err := walletdb.View(db, func(tx walletdb.ReadTx) error {
		return f(tx.ReadBucket(namespaceKey))
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTxWorkflowOrder(t *testing.T) {
	w := NewTxWorkflow("6a5f0e2b-1d27-48c9-9f3a-000000000001")
	if w.LID() != "6a5f0e2b" {
		t.Errorf("lid: got %q", w.LID())
	}

	var txid1, txid2 chainhash.Hash
	txid1[0] = 1
	txid2[0] = 2
	w.AddTx(txid1, TxNewCollateral, []byte{0x01})
	w.AddTx(txid2, TxPayCollateral, []byte{0x02})

	alwaysLocal := func(*chainhash.Hash) bool { return true }
	next := w.NextToSend(alwaysLocal)
	if next == nil || next.TxID != txid1 {
		t.Fatalf("next to send is not the first created tx")
	}
	next.Sent = time.Now()
	next = w.NextToSend(alwaysLocal)
	if next == nil || next.TxID != txid2 {
		t.Fatalf("next to send did not advance to the second tx")
	}

	popped := w.PopTx(txid1)
	if popped == nil || popped.TxType != TxNewCollateral {
		t.Fatalf("pop returned wrong tx data")
	}
	if len(w.TxOrder()) != 1 || w.TxOrder()[0] != txid2 {
		t.Errorf("tx order not updated by pop")
	}
	if w.PopTx(txid1) != nil {
		t.Errorf("second pop of same txid returned data")
	}
}

func TestTxDataSend(t *testing.T) {
	data := &TxData{
		UUID:   "test",
		TxType: TxPayCollateral,
		RawTx:  []byte{0x01, 0x02},
	}

	broadcastErr := errors.New("connection refused")
	sent, err := data.Send(func([]byte) error { return broadcastErr })
	if sent || err != broadcastErr {
		t.Fatalf("failed broadcast: sent=%v err=%v", sent, err)
	}
	if data.NextSend.IsZero() {
		t.Fatalf("retry delay not armed after failed broadcast")
	}

	// Inside the retry delay nothing is sent and no error reported.
	sent, err = data.Send(func([]byte) error { return nil })
	if sent || err != nil {
		t.Fatalf("send inside retry delay: sent=%v err=%v", sent, err)
	}

	data.NextSend = time.Now().Add(-time.Second)
	sent, err = data.Send(func([]byte) error { return nil })
	if !sent || err != nil {
		t.Fatalf("send after retry delay: sent=%v err=%v", sent, err)
	}
	if data.Sent.IsZero() {
		t.Fatalf("sent time not recorded")
	}

	// Already sent transactions are not rebroadcast.
	sent, err = data.Send(func([]byte) error {
		t.Fatal("broadcast called for sent tx")
		return nil
	})
	if sent || err != nil {
		t.Fatalf("resend of sent tx: sent=%v err=%v", sent, err)
	}
}

func TestTxWorkflowPersistence(t *testing.T) {
	db := testDB(t)

	w := NewTxWorkflow("c0ffee00-0000-4000-8000-000000000002")
	var txid1, txid2 chainhash.Hash
	txid1[31] = 1
	txid2[31] = 2
	w.AddTx(txid1, TxNewDenoms, []byte{0xde, 0xad})
	data2 := w.AddTx(txid2, TxPayCollateral, []byte{0xbe, 0xef})
	data2.Sent = time.Unix(1700000000, 0)
	w.Completed = true

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return PutTxWorkflow(ns, w)
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		got, err := FetchTxWorkflow(ns, w.UUID)
		if err != nil {
			return err
		}
		if !got.Completed {
			t.Errorf("completed flag lost")
		}
		if !reflect.DeepEqual(got.TxOrder(), w.TxOrder()) {
			t.Errorf("tx order not preserved")
		}
		gotData := got.TxData(txid2)
		if gotData == nil {
			t.Fatalf("second tx data missing")
		}
		if gotData.TxType != TxPayCollateral {
			t.Errorf("tx type: got %v", gotData.TxType)
		}
		if !gotData.Sent.Equal(data2.Sent) {
			t.Errorf("sent time: got %v, want %v", gotData.Sent,
				data2.Sent)
		}
		gotData = got.TxData(txid1)
		if gotData == nil || !gotData.Sent.IsZero() {
			t.Errorf("unsent tx did not stay unsent")
		}

		_, err = FetchTxWorkflow(ns, "missing")
		if err != ErrWorkflowNotFound {
			t.Errorf("missing workflow lookup: got %v", err)
		}
		return nil
	})

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return DeleteTxWorkflow(ns, w.UUID)
	})
	view(t, db, func(ns walletdb.ReadBucket) error {
		_, err := FetchTxWorkflow(ns, w.UUID)
		if err != ErrWorkflowNotFound {
			t.Errorf("deleted workflow still loads: %v", err)
		}
		return nil
	})
}

func TestDenomWorkflowPersistence(t *testing.T) {
	db := testDB(t)

	w := &DenominateWorkflow{
		UUID:      "deadbeef-0000-4000-8000-000000000003",
		Denom:     DenomVals[1],
		Rounds:    3,
		Completed: time.Unix(1700000100, 0),
	}
	var prev chainhash.Hash
	prev[0] = 7
	w.Inputs = []wire.OutPoint{{Hash: prev, Index: 1}, {Hash: prev, Index: 4}}
	w.Outputs = []string{"addr one", "addr two"}

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return PutDenomWorkflow(ns, w)
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		got, err := FetchDenomWorkflow(ns, w.UUID)
		if err != nil {
			return err
		}
		if got.Denom != w.Denom || got.Rounds != w.Rounds {
			t.Errorf("denom/rounds not preserved")
		}
		if !got.Completed.Equal(w.Completed) {
			t.Errorf("completed time not preserved")
		}
		if !reflect.DeepEqual(got.Inputs, w.Inputs) {
			t.Errorf("inputs not preserved")
		}
		if !reflect.DeepEqual(got.Outputs, w.Outputs) {
			t.Errorf("outputs not preserved")
		}
		return nil
	})

	// ForEach sees the saved workflow.
	var seen int
	view(t, db, func(ns walletdb.ReadBucket) error {
		return ForEachDenomWorkflow(ns, func(dw *DenominateWorkflow) error {
			seen++
			if dw.UUID != w.UUID {
				t.Errorf("unexpected workflow uuid %q", dw.UUID)
			}
			return nil
		})
	})
	if seen != 1 {
		t.Errorf("for each visited %d workflows, want 1", seen)
	}
}
