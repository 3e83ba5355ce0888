// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/masternode"
	"github.com/kiirocoin/kiirowallet/netparams"
)

// testConfLine builds a valid masternode.conf line for the regression test
// network.
func testConfLine(t *testing.T, alias string) string {
	t.Helper()

	keyBytes := bytes.Repeat([]byte{0x11}, 32)
	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), keyBytes)
	wif, err := btcutil.NewWIF(priv, netparams.RegTestParams.Params, true)
	if err != nil {
		t.Fatalf("NewWIF: %v", err)
	}
	txid := chainhash.Hash{0x77}
	return fmt.Sprintf("%s 198.51.100.7:8168 %s %s 1",
		alias, wif.String(), txid.String())
}

func TestImportListRemoveMasternode(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	conf := strings.Join([]string{
		"# masternode.conf",
		"",
		testConfLine(t, "mn1"),
	}, "\n")

	n, err := w.ImportMasternodeConf(strings.NewReader(conf))
	if err != nil {
		t.Fatalf("ImportMasternodeConf: %v", err)
	}
	if n != 1 {
		t.Fatalf("imported %d masternodes, want 1", n)
	}

	mns, err := w.ListMasternodes()
	if err != nil {
		t.Fatalf("ListMasternodes: %v", err)
	}
	if len(mns) != 1 || mns[0].Alias != "mn1" {
		t.Fatalf("ListMasternodes: got %v", mns)
	}
	if mns[0].Addr != "198.51.100.7:8168" {
		t.Fatalf("address: got %v", mns[0].Addr)
	}

	// Status of a masternode without a registration is returned without
	// querying the backend.
	mn, err := w.MasternodeStatus("mn1")
	if err != nil {
		t.Fatalf("MasternodeStatus: %v", err)
	}
	if mn.ProTxHash != (chainhash.Hash{}) {
		t.Fatalf("unexpected ProTxHash %v", mn.ProTxHash)
	}

	if err := w.RemoveMasternode("mn1"); err != nil {
		t.Fatalf("RemoveMasternode: %v", err)
	}
	err = w.RemoveMasternode("mn1")
	if !masternode.IsError(err, masternode.ErrNoExist) {
		t.Fatalf("second remove: got %v, want ErrNoExist", err)
	}
}

func TestImportMasternodeConfInvalid(t *testing.T) {
	w, _, cleanup := testWallet(t)
	defer cleanup()

	_, err := w.ImportMasternodeConf(strings.NewReader("mn1 not enough fields"))
	if !masternode.IsError(err, masternode.ErrInvalidConf) {
		t.Fatalf("invalid conf: got %v, want ErrInvalidConf", err)
	}
}

func TestInputsHash(t *testing.T) {
	tx := wire.NewMsgTx(wire.TxVersion)
	op1 := wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0}
	op2 := wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 0x01020304}
	tx.AddTxIn(wire.NewTxIn(&op1, nil, nil))
	tx.AddTxIn(wire.NewTxIn(&op2, nil, nil))

	var buf bytes.Buffer
	buf.Write(op1.Hash[:])
	buf.Write([]byte{0x00, 0x00, 0x00, 0x00})
	buf.Write(op2.Hash[:])
	buf.Write([]byte{0x04, 0x03, 0x02, 0x01})
	want := chainhash.DoubleHashH(buf.Bytes())

	if got := inputsHash(tx); got != want {
		t.Fatalf("inputsHash: got %v, want %v", got, want)
	}

	// Input order changes the commitment.
	tx2 := wire.NewMsgTx(wire.TxVersion)
	tx2.AddTxIn(wire.NewTxIn(&op2, nil, nil))
	tx2.AddTxIn(wire.NewTxIn(&op1, nil, nil))
	if inputsHash(tx2) == want {
		t.Fatal("inputsHash ignores input order")
	}
}
