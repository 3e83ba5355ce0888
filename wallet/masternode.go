// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/chain"
	"github.com/kiirocoin/kiirowallet/keystore"
	"github.com/kiirocoin/kiirowallet/masternode"
	"github.com/kiirocoin/kiirowallet/txstore"
	"github.com/kiirocoin/kiirowallet/wallet/txauthor"
	"github.com/kiirocoin/kiirowallet/walletdb"
)

// proRegTxVersion is the transaction version of a provider registration
// special transaction: version 3 with the special transaction type in the
// upper 16 bits.
const proRegTxVersion = int32(3) | int32(1)<<16

// ImportMasternodeConf parses masternode.conf content from r and registers
// every entry.  Each collateral outpoint is locked against spending.  When a
// collateral outpoint belongs to the wallet, its value is verified to hold
// the exact collateral amount.
func (w *Wallet) ImportMasternodeConf(r io.Reader) (int, error) {
	var imported int
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		mnNs := tx.ReadWriteBucket(masternodeNamespaceKey)
		txNs := tx.ReadBucket(txstoreNamespaceKey)

		n, err := w.Masternodes.ImportConf(mnNs, r)
		if err != nil {
			return err
		}
		imported = n

		mns, err := w.Masternodes.List(mnNs)
		if err != nil {
			return err
		}
		unspent, err := w.TxStore.UnspentOutputs(txNs)
		if err != nil {
			return err
		}
		for _, mn := range mns {
			for i := range unspent {
				if unspent[i].OutPoint != mn.CollateralPoint {
					continue
				}
				err := masternode.CheckCollateralValue(
					unspent[i].Amount)
				if err != nil {
					return err
				}
			}
			w.LockOutpoint(mn.CollateralPoint)
		}
		return nil
	})
	return imported, err
}

// ListMasternodes returns all masternodes registered with the wallet.  When
// a backend is available, registrations that have dropped out of the
// deterministic masternode list are reported with a REMOVED status.
func (w *Wallet) ListMasternodes() ([]*masternode.Masternode, error) {
	var mns []*masternode.Masternode
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		mnNs := tx.ReadBucket(masternodeNamespaceKey)
		var err error
		mns, err = w.Masternodes.List(mnNs)
		return err
	})
	if err != nil {
		return nil, err
	}

	ec, ok := w.ChainClient().(*chain.ElectrumClient)
	if !ok {
		return mns, nil
	}
	hashes, err := ec.ProtxList()
	if err != nil {
		log.Warnf("Unable to fetch deterministic masternode list: %v",
			err)
		return mns, nil
	}
	registered := make(map[string]struct{}, len(hashes))
	for _, hash := range hashes {
		registered[hash] = struct{}{}
	}
	for _, mn := range mns {
		if mn.ProTxHash == (chainhash.Hash{}) {
			continue
		}
		if _, ok := registered[mn.ProTxHash.String()]; !ok {
			mn.Status = "REMOVED"
		}
	}
	return mns, nil
}

// RemoveMasternode removes the masternode registered under alias and releases
// its collateral lock.
func (w *Wallet) RemoveMasternode(alias string) error {
	return walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		mnNs := tx.ReadWriteBucket(masternodeNamespaceKey)
		mn, err := w.Masternodes.Fetch(mnNs, alias)
		if err != nil {
			return err
		}
		if err := w.Masternodes.Remove(mnNs, alias); err != nil {
			return err
		}
		w.UnlockOutpoint(mn.CollateralPoint)
		return nil
	})
}

// protxState is the deterministic list state of a masternode as reported by a
// protx.info result.
type protxState struct {
	Service          string `json:"service"`
	RegisteredHeight int32  `json:"registeredHeight"`
	LastPaidHeight   int32  `json:"lastPaidHeight"`
	PoSePenalty      int32  `json:"PoSePenalty"`
	PoSeBanHeight    int32  `json:"PoSeBanHeight"`
}

type protxInfoResult struct {
	ProTxHash     string     `json:"proTxHash"`
	Confirmations int32      `json:"confirmations"`
	State         protxState `json:"state"`
}

// MasternodeStatus returns the masternode registered under alias with its
// deterministic list state refreshed from the backend.  A masternode whose
// registration has not been broadcast yet is returned unchanged.
func (w *Wallet) MasternodeStatus(alias string) (*masternode.Masternode, error) {
	var mn *masternode.Masternode
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		mnNs := tx.ReadBucket(masternodeNamespaceKey)
		var err error
		mn, err = w.Masternodes.Fetch(mnNs, alias)
		return err
	})
	if err != nil {
		return nil, err
	}
	if mn.ProTxHash == (chainhash.Hash{}) {
		return mn, nil
	}

	ec, ok := w.ChainClient().(*chain.ElectrumClient)
	if !ok {
		return mn, nil
	}
	raw, err := ec.ProtxInfo(mn.ProTxHash.String())
	if err != nil {
		return nil, err
	}
	var info protxInfoResult
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("malformed protx info result: %s", err)
	}

	status := "ENABLED"
	switch {
	case info.State.PoSeBanHeight > 0:
		status = "POSE_BANNED"
	case info.Confirmations <= 0:
		status = "PRE_ENABLED"
	}
	update := &masternode.StatusUpdate{
		ProTxHash:        mn.ProTxHash,
		Status:           status,
		PoSePenalty:      info.State.PoSePenalty,
		LastPaidHeight:   info.State.LastPaidHeight,
		RegisteredHeight: info.State.RegisteredHeight,
		PoSeBanHeight:    info.State.PoSeBanHeight,
	}
	err = walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		mnNs := tx.ReadWriteBucket(masternodeNamespaceKey)
		if err := w.Masternodes.UpdateStatus(mnNs, alias, update); err != nil {
			return err
		}
		mn, err = w.Masternodes.Fetch(mnNs, alias)
		return err
	})
	if err != nil {
		return nil, err
	}
	return mn, nil
}

// RegisterMasternode creates, signs and broadcasts a provider registration
// transaction for the masternode registered under alias.  Owner and voting
// keys and the payout script are derived from fresh wallet addresses.  The
// operator BLS public key is passed hex encoded.  The wallet must be unlocked.
func (w *Wallet) RegisterMasternode(alias, operatorPubKeyHex string) (*chainhash.Hash, error) {
	chainClient, err := w.requireChainClient()
	if err != nil {
		return nil, err
	}
	if !w.ChainSynced() {
		return nil, ErrNotSynced
	}

	operatorKey, err := hex.DecodeString(operatorPubKeyHex)
	if err != nil {
		return nil, errors.New("operator public key is not hex")
	}
	if len(operatorKey) != 48 {
		return nil, errors.New("operator public key must be 48 bytes")
	}
	var pubKeyOperator [48]byte
	copy(pubKeyOperator[:], operatorKey)

	heldUnlock, err := w.holdUnlock()
	if err != nil {
		return nil, err
	}
	defer heldUnlock.release()

	// Owner and voting key IDs and the payout script come from fresh
	// wallet addresses.
	ownerAddr, err := w.nextAddress(keystore.ExternalBranch)
	if err != nil {
		return nil, err
	}
	votingAddr, err := w.nextAddress(keystore.ExternalBranch)
	if err != nil {
		return nil, err
	}
	payoutAddr, err := w.nextAddress(keystore.ExternalBranch)
	if err != nil {
		return nil, err
	}
	for _, addr := range []btcutil.Address{ownerAddr, votingAddr, payoutAddr} {
		w.watchAddress(addr, keystore.ExternalBranch)
	}
	var keyIDOwner, keyIDVoting [20]byte
	copy(keyIDOwner[:], ownerAddr.ScriptAddress())
	copy(keyIDVoting[:], votingAddr.ScriptAddress())
	scriptPayout, err := txscript.PayToAddrScript(payoutAddr)
	if err != nil {
		return nil, err
	}

	var rawTx []byte
	err = walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		ksNs := dbtx.ReadWriteBucket(keystoreNamespaceKey)
		mnNs := dbtx.ReadBucket(masternodeNamespaceKey)

		// The registration transaction only pays the fee.  All selected
		// funds return as change.
		eligible, err := w.findEligibleOutputs(dbtx, 1, w.SyncedTo())
		if err != nil {
			return err
		}
		inputSource := makeInputSource(eligible)
		changeSource := func() ([]byte, error) {
			changeAddr, err := w.KeyStore.NextAddress(ksNs,
				keystore.InternalBranch)
			if err != nil {
				return nil, err
			}
			w.watchAddress(changeAddr, keystore.InternalBranch)
			return txscript.PayToAddrScript(changeAddr)
		}
		tx, err := txauthor.NewUnsignedTransaction(nil, w.RelayFee(),
			inputSource, changeSource)
		if err != nil {
			return err
		}
		tx.Tx.Version = proRegTxVersion

		protx, err := w.Masternodes.BuildProRegTx(mnNs, alias,
			w.SyncedTo(), keyIDOwner, keyIDVoting, pubKeyOperator,
			scriptPayout, inputsHash(tx.Tx))
		if err != nil {
			return err
		}
		ownerKey, err := w.KeyStore.PrivKeyForAddress(ksNs, ownerAddr)
		if err != nil {
			return err
		}
		if err := protx.Sign(ownerKey); err != nil {
			return err
		}

		err = tx.AddAllInputScripts(secretSource{w.KeyStore, ksNs})
		if err != nil {
			return err
		}

		var payload bytes.Buffer
		if err := protx.Serialize(&payload); err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := tx.Tx.Serialize(&buf); err != nil {
			return err
		}
		err = wire.WriteVarBytes(&buf, 0, payload.Bytes())
		if err != nil {
			return err
		}
		rawTx = buf.Bytes()
		return nil
	})
	if err != nil {
		return nil, err
	}

	txHash, err := chainClient.BroadcastRawTransaction(rawTx)
	if err != nil {
		return nil, err
	}

	rec, err := txstore.NewTxRecord(rawTx, time.Now())
	if err != nil {
		return nil, err
	}
	err = walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		if err := w.addRelevantTx(dbtx, rec, nil); err != nil {
			return err
		}
		mnNs := dbtx.ReadWriteBucket(masternodeNamespaceKey)
		return w.Masternodes.UpdateStatus(mnNs, alias,
			&masternode.StatusUpdate{
				ProTxHash: rec.Hash,
				Status:    "PRE_ENABLED",
			})
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Broadcast masternode registration %v for %s", txHash, alias)
	return txHash, nil
}

// inputsHash computes the double SHA-256 hash of the concatenated serialized
// outpoints redeemed by tx, as committed to by a provider registration
// payload.
func inputsHash(tx *wire.MsgTx) chainhash.Hash {
	var buf bytes.Buffer
	var scratch [4]byte
	for _, txIn := range tx.TxIn {
		buf.Write(txIn.PreviousOutPoint.Hash[:])
		binary.LittleEndian.PutUint32(scratch[:],
			txIn.PreviousOutPoint.Index)
		buf.Write(scratch[:])
	}
	return chainhash.DoubleHashH(buf.Bytes())
}
