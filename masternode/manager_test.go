// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/netparams"
	"github.com/kiirocoin/kiirowallet/walletdb"
	_ "github.com/kiirocoin/kiirowallet/walletdb/bdb"
)

var namespaceKey = []byte("masternode")

func testManager(t *testing.T) (*Manager, walletdb.DB) {
	dir, err := ioutil.TempDir("", "masternode_test")
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
	return NewManager(&netparams.RegTestParams), db
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

// testWIF returns a deterministic valid regtest WIF.
func testWIF(t *testing.T, b byte) *btcutil.WIF {
	t.Helper()
	var keyBytes [32]byte
	for i := range keyBytes {
		keyBytes[i] = b
	}
	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), keyBytes[:])
	wif, err := btcutil.NewWIF(priv, netparams.RegTestParams.Params, true)
	if err != nil {
		t.Fatalf("failed to create test wif: %v", err)
	}
	return wif
}

func testTxid(b byte) string {
	return strings.Repeat("0", 62) + string([]byte{'0' + b/10, '0' + b%10})
}

func TestParseConf(t *testing.T) {
	wif := testWIF(t, 0x11)
	conf := "# masternode.conf\n" +
		"\n" +
		"mn1 192.168.1.10:8168 " + wif.String() + " " + testTxid(1) + " 0\n" +
		"mn2 10.0.0.5:8168 " + wif.String() + " " + testTxid(2) + " 1\n"

	entries, err := ParseConf(strings.NewReader(conf), &netparams.RegTestParams)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	if entries[0].Alias != "mn1" || entries[0].Addr != "192.168.1.10:8168" {
		t.Errorf("first entry parsed wrong: %+v", entries[0])
	}
	if entries[1].CollateralPoint.Index != 1 {
		t.Errorf("collateral index: got %d, want 1",
			entries[1].CollateralPoint.Index)
	}
}

func TestParseConfRejects(t *testing.T) {
	wif := testWIF(t, 0x22)
	mainWIF := func() string {
		var keyBytes [32]byte
		keyBytes[0] = 0x33
		priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), keyBytes[:])
		w, err := btcutil.NewWIF(priv, netparams.MainNetParams.Params, true)
		if err != nil {
			t.Fatal(err)
		}
		return w.String()
	}()

	tests := []struct {
		name string
		line string
	}{
		{"missing fields", "mn1 192.168.1.10:8168 " + wif.String()},
		{"bad ip", "mn1 not-an-ip:8168 " + wif.String() + " " + testTxid(1) + " 0"},
		{"no port", "mn1 192.168.1.10 " + wif.String() + " " + testTxid(1) + " 0"},
		{"bad wif", "mn1 192.168.1.10:8168 notawif " + testTxid(1) + " 0"},
		{"wrong net wif", "mn1 192.168.1.10:8168 " + mainWIF + " " + testTxid(1) + " 0"},
		{"bad txid", "mn1 192.168.1.10:8168 " + wif.String() + " nothex 0"},
		{"bad index", "mn1 192.168.1.10:8168 " + wif.String() + " " + testTxid(1) + " x"},
		{"dup alias", "mn1 192.168.1.10:8168 " + wif.String() + " " + testTxid(1) + " 0\n" +
			"mn1 192.168.1.11:8168 " + wif.String() + " " + testTxid(2) + " 0"},
	}
	for _, test := range tests {
		_, err := ParseConf(strings.NewReader(test.line),
			&netparams.RegTestParams)
		if !IsError(err, ErrInvalidConf) {
			t.Errorf("%s: got %v, want ErrInvalidConf", test.name, err)
		}
	}
}

func TestRegisterAndList(t *testing.T) {
	m, db := testManager(t)
	wif := testWIF(t, 0x44)

	entry := ConfEntry{
		Alias:       "mn1",
		Addr:        "192.168.1.10:8168",
		DelegateWIF: wif,
	}
	entry.CollateralPoint.Hash[0] = 0x01

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return m.Register(ns, entry)
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		mn, err := m.Fetch(ns, "mn1")
		if err != nil {
			return err
		}
		if mn.Addr != entry.Addr || mn.DelegateWIF != wif.String() {
			t.Errorf("stored masternode mismatch: %+v", mn)
		}
		if mn.CollateralPoint != entry.CollateralPoint {
			t.Errorf("collateral outpoint mismatch")
		}

		alias, locked := m.CollateralAlias(ns, &entry.CollateralPoint)
		if !locked || alias != "mn1" {
			t.Errorf("collateral not locked to mn1: %q %v", alias, locked)
		}
		other := wire.OutPoint{Index: 5}
		if _, locked := m.CollateralAlias(ns, &other); locked {
			t.Errorf("unrelated outpoint reported locked")
		}

		mns, err := m.List(ns)
		if err != nil {
			return err
		}
		if len(mns) != 1 || mns[0].Alias != "mn1" {
			t.Errorf("list: got %d masternodes", len(mns))
		}
		return nil
	})

	// Same alias and same collateral are both rejected.
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return m.Register(tx.ReadWriteBucket(namespaceKey), entry)
	})
	if !IsError(err, ErrDuplicateAlias) {
		t.Errorf("duplicate alias: got %v", err)
	}
	entry2 := entry
	entry2.Alias = "mn2"
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return m.Register(tx.ReadWriteBucket(namespaceKey), entry2)
	})
	if !IsError(err, ErrDuplicateCollateral) {
		t.Errorf("duplicate collateral: got %v", err)
	}
}

func TestRemoveReleasesCollateral(t *testing.T) {
	m, db := testManager(t)
	wif := testWIF(t, 0x55)

	entry := ConfEntry{
		Alias:       "mn1",
		Addr:        "192.168.1.10:8168",
		DelegateWIF: wif,
	}
	entry.CollateralPoint.Hash[0] = 0x02

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return m.Register(ns, entry)
	})
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return m.Remove(ns, "mn1")
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		if _, err := m.Fetch(ns, "mn1"); !IsError(err, ErrNoExist) {
			t.Errorf("removed masternode still fetchable: %v", err)
		}
		if _, locked := m.CollateralAlias(ns, &entry.CollateralPoint); locked {
			t.Errorf("collateral still locked after removal")
		}
		return nil
	})

	// A released collateral may fund a new registration.
	entry.Alias = "mn1b"
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return m.Register(ns, entry)
	})
}

func TestUpdateStatus(t *testing.T) {
	m, db := testManager(t)
	wif := testWIF(t, 0x66)

	entry := ConfEntry{
		Alias:       "mn1",
		Addr:        "192.168.1.10:8168",
		DelegateWIF: wif,
	}
	entry.CollateralPoint.Hash[0] = 0x03

	var protx chainhash.Hash
	protx[0] = 0xaa
	st := &StatusUpdate{
		ProTxHash:        protx,
		Status:           "ENABLED",
		PoSePenalty:      0,
		LastPaidHeight:   12000,
		RegisteredHeight: 9000,
	}
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := m.Register(ns, entry); err != nil {
			return err
		}
		return m.UpdateStatus(ns, "mn1", st)
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		mn, err := m.Fetch(ns, "mn1")
		if err != nil {
			return err
		}
		if mn.ProTxHash != protx || mn.Status != "ENABLED" {
			t.Errorf("status not updated: %+v", mn)
		}
		if mn.LastPaidHeight != 12000 || mn.RegisteredHeight != 9000 {
			t.Errorf("heights not updated: %+v", mn)
		}
		return nil
	})
}

func TestCheckCollateralValue(t *testing.T) {
	if err := CheckCollateralValue(CollateralAmount); err != nil {
		t.Errorf("exact collateral rejected: %v", err)
	}
	for _, bad := range []btcutil.Amount{
		CollateralAmount - 1, CollateralAmount + 1, 0,
	} {
		if err := CheckCollateralValue(bad); !IsError(err, ErrCollateralValue) {
			t.Errorf("collateral %v accepted", bad)
		}
	}
}

func TestProRegTxSerialization(t *testing.T) {
	protx := &ProRegTx{
		Version:        ProRegTxVersion,
		Port:           8168,
		OperatorReward: 150,
		ScriptPayout:   []byte{0x76, 0xa9, 0x14},
	}
	protx.Collateral.Hash[0] = 0x01
	protx.Collateral.Index = 1
	copy(protx.IPAddress[:], []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0xff, 0xff, 192, 168, 1, 10})
	protx.KeyIDOwner[0] = 0x02
	protx.PubKeyOperator[0] = 0x03
	protx.KeyIDVoting[0] = 0x04
	protx.InputsHash[0] = 0x05
	protx.PayloadSig = []byte{0x1f, 0x01, 0x02}

	var buf bytes.Buffer
	if err := protx.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	var got ProRegTx
	if err := got.Deserialize(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if !reflect.DeepEqual(&got, protx) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", &got, protx)
	}
}

func TestProRegTxSign(t *testing.T) {
	var keyBytes [32]byte
	keyBytes[0] = 0x77
	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), keyBytes[:])

	protx := &ProRegTx{Version: ProRegTxVersion, Port: 8168}
	unsignedHash, err := protx.SigningHash()
	if err != nil {
		t.Fatal(err)
	}
	if err := protx.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(protx.PayloadSig) != 65 {
		t.Fatalf("compact signature length: got %d, want 65",
			len(protx.PayloadSig))
	}

	// The signing hash excludes the signature itself.
	signedHash, err := protx.SigningHash()
	if err != nil {
		t.Fatal(err)
	}
	if signedHash != unsignedHash {
		t.Errorf("signing hash changed by signing")
	}

	// The signature recovers the owner public key.
	pub, _, err := btcec.RecoverCompact(btcec.S256(), protx.PayloadSig,
		unsignedHash[:])
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !pub.IsEqual(priv.PubKey()) {
		t.Errorf("recovered key does not match owner key")
	}
}

func TestBuildProRegTxGating(t *testing.T) {
	m, db := testManager(t)
	wif := testWIF(t, 0x88)

	entry := ConfEntry{
		Alias:       "mn1",
		Addr:        "192.168.1.10:8168",
		DelegateWIF: wif,
	}
	entry.CollateralPoint.Hash[0] = 0x04
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return m.Register(ns, entry)
	})

	var owner, voting [20]byte
	var operator [48]byte
	var inputsHash chainhash.Hash
	payout := []byte{0x76, 0xa9}

	view(t, db, func(ns walletdb.ReadBucket) error {
		_, err := m.BuildProRegTx(ns, "mn1", 4999, owner, voting,
			operator, payout, inputsHash)
		if !IsError(err, ErrBelowDIP3) {
			t.Errorf("build below DIP3 height: got %v", err)
		}

		protx, err := m.BuildProRegTx(ns, "mn1", 5000, owner, voting,
			operator, payout, inputsHash)
		if err != nil {
			t.Fatalf("build at DIP3 height: %v", err)
		}
		if protx.Version != ProRegTxVersion || protx.Port != 8168 {
			t.Errorf("payload fields wrong: %+v", protx)
		}
		if protx.Collateral != entry.CollateralPoint {
			t.Errorf("collateral outpoint not carried over")
		}
		want := [16]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0xff, 0xff, 192, 168, 1, 10}
		if protx.IPAddress != want {
			t.Errorf("ip address mapping wrong: %v", protx.IPAddress)
		}
		return nil
	})
}
