// Copyright (c) 2015-2017 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txstore

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/walletdb"
	_ "github.com/kiirocoin/kiirowallet/walletdb/bdb"
)

var namespaceKey = []byte("txstore")

func testStore(t *testing.T) (*Store, walletdb.DB) {
	dir, err := ioutil.TempDir("", "txstore_test")
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
		t.Fatalf("failed to create store: %v", err)
	}
	return &Store{}, db
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

// spendTx creates a transaction spending the given outpoint and creating
// outputs with the passed values in duffs.
func spendTx(prevHash *chainhash.Hash, prevIndex uint32, values ...int64) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: *prevHash, Index: prevIndex},
		SignatureScript:  []byte{0x01, 0x51},
	})
	for _, v := range values {
		tx.AddTxOut(&wire.TxOut{Value: v, PkScript: []byte{0x51}})
	}
	return tx
}

func makeBlockMeta(height int32) *BlockMeta {
	b := &BlockMeta{
		Block: Block{Height: height},
		Time:  time.Unix(1630000000+int64(height), 0),
	}
	b.Hash[0] = byte(height)
	b.Hash[1] = byte(height >> 8)
	return b
}

func TestInsertCreditSpend(t *testing.T) {
	s, db := testStore(t)

	var fundingHash chainhash.Hash
	fundingHash[0] = 0xaa

	recA, err := NewTxRecordFromMsgTx(spendTx(&fundingHash, 0, 2e8), time.Now())
	if err != nil {
		t.Fatal(err)
	}

	// Insert A mined at height 100 with a credit on output 0.
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := s.InsertTx(ns, recA, makeBlockMeta(100)); err != nil {
			return err
		}
		return s.AddCredit(ns, recA, 0, false, RoundsNone)
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		bal, err := s.Balance(ns, 1, 100)
		if err != nil {
			return err
		}
		if bal != btcutil.Amount(2e8) {
			t.Errorf("confirmed balance: got %v, want %v", bal,
				btcutil.Amount(2e8))
		}

		unspent, err := s.UnspentOutputs(ns)
		if err != nil {
			return err
		}
		if len(unspent) != 1 {
			t.Fatalf("unspent outputs: got %d, want 1", len(unspent))
		}
		if unspent[0].Hash != recA.Hash || unspent[0].Index != 0 {
			t.Errorf("wrong unspent outpoint: %v:%d",
				unspent[0].Hash, unspent[0].Index)
		}
		return nil
	})

	// Spend A:0 with an unmined transaction B which pays back change.
	recB, err := NewTxRecordFromMsgTx(spendTx(&recA.Hash, 0, 15e7), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := s.InsertTx(ns, recB, nil); err != nil {
			return err
		}
		return s.AddCredit(ns, recB, 0, true, RoundsNone)
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		unspent, err := s.UnspentOutputs(ns)
		if err != nil {
			return err
		}
		if len(unspent) != 1 {
			t.Fatalf("unspent outputs after spend: got %d, want 1",
				len(unspent))
		}
		if unspent[0].Hash != recB.Hash {
			t.Errorf("expected only B's change to be unspent")
		}
		if !unspent[0].Change {
			t.Errorf("change flag not set")
		}

		// The unmined change has zero confirmations.
		bal, err := s.Balance(ns, 1, 100)
		if err != nil {
			return err
		}
		if bal != 0 {
			t.Errorf("confirmed balance after spend: got %v, want 0", bal)
		}
		bal, err = s.Balance(ns, 0, 100)
		if err != nil {
			return err
		}
		if bal != btcutil.Amount(15e7) {
			t.Errorf("unconfirmed balance: got %v, want %v", bal,
				btcutil.Amount(15e7))
		}
		return nil
	})
}

func TestRollback(t *testing.T) {
	s, db := testStore(t)

	var fundingHash chainhash.Hash
	fundingHash[0] = 0xbb

	rec, err := NewTxRecordFromMsgTx(spendTx(&fundingHash, 0, 1e8), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := s.InsertTx(ns, rec, makeBlockMeta(200)); err != nil {
			return err
		}
		return s.AddCredit(ns, rec, 0, false, RoundsNone)
	})

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return s.Rollback(ns, 200)
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		_, block, err := s.TxDetails(ns, &rec.Hash)
		if err != nil {
			return err
		}
		if block != nil {
			t.Errorf("transaction still mined after rollback")
		}
		txs, err := s.UnminedTxs(ns)
		if err != nil {
			return err
		}
		if len(txs) != 1 {
			t.Errorf("unmined txs: got %d, want 1", len(txs))
		}
		return nil
	})
}

func TestRemoveUnminedTx(t *testing.T) {
	s, db := testStore(t)

	var fundingHash chainhash.Hash
	fundingHash[0] = 0xcc

	recA, err := NewTxRecordFromMsgTx(spendTx(&fundingHash, 0, 1e8), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	recB, err := NewTxRecordFromMsgTx(spendTx(&recA.Hash, 0, 9e7), time.Now())
	if err != nil {
		t.Fatal(err)
	}

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := s.InsertTx(ns, recA, makeBlockMeta(300)); err != nil {
			return err
		}
		if err := s.AddCredit(ns, recA, 0, false, RoundsNone); err != nil {
			return err
		}
		if err := s.InsertTx(ns, recB, nil); err != nil {
			return err
		}
		return s.AddCredit(ns, recB, 0, true, RoundsNone)
	})

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return s.RemoveUnminedTx(ns, recB)
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		unspent, err := s.UnspentOutputs(ns)
		if err != nil {
			return err
		}
		if len(unspent) != 1 {
			t.Fatalf("unspent outputs: got %d, want 1", len(unspent))
		}
		if unspent[0].Hash != recA.Hash {
			t.Errorf("A's credit was not unspent by removal")
		}
		rec, _, err := s.TxDetails(ns, &recB.Hash)
		if err != nil {
			return err
		}
		if rec != nil {
			t.Errorf("removed transaction still present")
		}
		return nil
	})
}

func TestBalanceMinRounds(t *testing.T) {
	s, db := testStore(t)

	var fundingHash chainhash.Hash
	fundingHash[0] = 0xdd

	rec, err := NewTxRecordFromMsgTx(
		spendTx(&fundingHash, 0, 100001, 100001, 40000, 5e7), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := s.InsertTx(ns, rec, makeBlockMeta(400)); err != nil {
			return err
		}
		if err := s.AddCredit(ns, rec, 0, false, 2); err != nil {
			return err
		}
		if err := s.AddCredit(ns, rec, 1, false, 0); err != nil {
			return err
		}
		if err := s.AddCredit(ns, rec, 2, false, RoundsCollateral); err != nil {
			return err
		}
		return s.AddCredit(ns, rec, 3, false, RoundsNone)
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		bal, err := s.BalanceMinRounds(ns, 0, 1, 400)
		if err != nil {
			return err
		}
		if bal != btcutil.Amount(200002) {
			t.Errorf("denominated balance: got %v, want %v", bal,
				btcutil.Amount(200002))
		}
		bal, err = s.BalanceMinRounds(ns, 2, 1, 400)
		if err != nil {
			return err
		}
		if bal != btcutil.Amount(100001) {
			t.Errorf("anonymized balance: got %v, want %v", bal,
				btcutil.Amount(100001))
		}
		return nil
	})
}

func TestUnminedTxsSorted(t *testing.T) {
	s, db := testStore(t)

	var fundingHash chainhash.Hash
	fundingHash[0] = 0xee

	recA, err := NewTxRecordFromMsgTx(spendTx(&fundingHash, 0, 3e8), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	recB, err := NewTxRecordFromMsgTx(spendTx(&recA.Hash, 0, 2e8), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	recC, err := NewTxRecordFromMsgTx(spendTx(&recB.Hash, 0, 1e8), time.Now())
	if err != nil {
		t.Fatal(err)
	}

	// Insert out of dependency order.
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		for _, rec := range []*TxRecord{recC, recA, recB} {
			if err := s.InsertTx(ns, rec, nil); err != nil {
				return err
			}
		}
		return nil
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		txs, err := s.UnminedTxs(ns)
		if err != nil {
			return err
		}
		if len(txs) != 3 {
			t.Fatalf("unmined txs: got %d, want 3", len(txs))
		}
		pos := make(map[chainhash.Hash]int)
		for i, tx := range txs {
			pos[tx.TxHash()] = i
		}
		if pos[recA.Hash] > pos[recB.Hash] || pos[recB.Hash] > pos[recC.Hash] {
			t.Errorf("unmined txs not in dependency order")
		}
		return nil
	})
}

func TestCoinbaseCredit(t *testing.T) {
	s, db := testStore(t)

	coinbase := wire.NewMsgTx(1)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: ^uint32(0)},
		SignatureScript:  []byte{0x03, 0x01, 0x02, 0x03},
	})
	coinbase.AddTxOut(&wire.TxOut{Value: 15e8, PkScript: []byte{0x51}})
	rec, err := NewTxRecordFromMsgTx(coinbase, time.Now())
	if err != nil {
		t.Fatalf("NewTxRecordFromMsgTx: %v", err)
	}
	block := &BlockMeta{Block: Block{Height: 100}, Time: time.Now()}
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := s.InsertTx(ns, rec, block); err != nil {
			return err
		}
		return s.AddCredit(ns, rec, 0, false, RoundsNone)
	})

	spend := spendTx(&rec.Hash, 0, 14e8)
	rec2, err := NewTxRecordFromMsgTx(spend, time.Now())
	if err != nil {
		t.Fatalf("NewTxRecordFromMsgTx: %v", err)
	}
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := s.InsertTx(ns, rec2, nil); err != nil {
			return err
		}
		return s.AddCredit(ns, rec2, 0, false, RoundsNone)
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		unspent, err := s.UnspentOutputs(ns)
		if err != nil {
			return err
		}
		if len(unspent) != 1 {
			t.Fatalf("unspent outputs: got %d, want 1", len(unspent))
		}
		if unspent[0].FromCoinBase {
			t.Error("ordinary spend flagged as coinbase output")
		}
		return nil
	})

	// Remove the spender so the coinbase output itself is reported again.
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return s.RemoveUnminedTx(ns, rec2)
	})
	view(t, db, func(ns walletdb.ReadBucket) error {
		unspent, err := s.UnspentOutputs(ns)
		if err != nil {
			return err
		}
		if len(unspent) != 1 {
			t.Fatalf("unspent outputs: got %d, want 1", len(unspent))
		}
		if !unspent[0].FromCoinBase {
			t.Error("coinbase output not flagged")
		}
		return nil
	})
}
