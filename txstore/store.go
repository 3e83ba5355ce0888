// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txstore

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/walletdb"
)

var (
	bucketTxRecords = []byte("txrecords")
	bucketCredits   = []byte("credits")
	rootVersion     = []byte("version")
)

const (
	// unminedHeight is the sentinel height recorded for transactions that
	// are not yet mined into a block.
	unminedHeight int32 = -1

	// RoundsNone marks a credit that has no PrivateSend rounds
	// bookkeeping at all.  It sorts below every other rounds value.
	RoundsNone int64 = -1e9

	// RoundsOther marks a credit of a PrivateSend transaction that is
	// neither a denomination nor a collateral, such as change.
	RoundsOther int64 = -3

	// RoundsMixOrigin marks a credit created by a new-denoms or
	// new-collateral transaction from regular coins.
	RoundsMixOrigin int64 = -2

	// RoundsCollateral marks a PrivateSend collateral credit.
	RoundsCollateral int64 = -1
)

// Block contains the minimum amount of data to uniquely identify any block on
// either the best or side chain.
type Block struct {
	Hash   chainhash.Hash
	Height int32
}

// BlockMeta contains the unique identification for a block and any metadata
// pertaining to the block.
type BlockMeta struct {
	Block
	Time time.Time
}

// TxRecord represents a transaction managed by the Store.
type TxRecord struct {
	MsgTx        wire.MsgTx
	Hash         chainhash.Hash
	Received     time.Time
	SerializedTx []byte
}

// NewTxRecord creates a new transaction record that may be inserted into the
// store.  It uses memoization to save the transaction hash and the serialized
// transaction.
func NewTxRecord(serializedTx []byte, received time.Time) (*TxRecord, error) {
	rec := &TxRecord{
		Received:     received,
		SerializedTx: serializedTx,
	}
	err := rec.MsgTx.Deserialize(bytes.NewReader(serializedTx))
	if err != nil {
		return nil, storeError(ErrInput, "failed to deserialize transaction", err)
	}
	copy(rec.Hash[:], chainhash.DoubleHashB(serializedTx))
	return rec, nil
}

// NewTxRecordFromMsgTx creates a new transaction record that may be inserted
// into the store.
func NewTxRecordFromMsgTx(msgTx *wire.MsgTx, received time.Time) (*TxRecord, error) {
	buf := bytes.NewBuffer(make([]byte, 0, msgTx.SerializeSize()))
	err := msgTx.Serialize(buf)
	if err != nil {
		return nil, storeError(ErrInput, "failed to serialize transaction", err)
	}
	rec := &TxRecord{
		MsgTx:        *msgTx,
		Received:     received,
		SerializedTx: buf.Bytes(),
	}
	copy(rec.Hash[:], chainhash.DoubleHashB(rec.SerializedTx))
	return rec, nil
}

// Credit is the type representing a transaction output which was spent or is
// still spendable by wallet.  A UTXO is an unspent Credit, but not all Credits
// are UTXOs.
type Credit struct {
	wire.OutPoint
	BlockMeta
	Amount       btcutil.Amount
	PkScript     []byte
	Received     time.Time
	Change       bool
	PSRounds     int64
	FromCoinBase bool
}

// Store implements a transaction store for storing and managing wallet
// transactions.
type Store struct{}

// Open opens the wallet transaction store from a walletdb namespace.  If the
// store does not exist, ErrNoExist is returned.
func Open(ns walletdb.ReadBucket) (*Store, error) {
	if ns.NestedReadBucket(bucketTxRecords) == nil {
		return nil, storeError(ErrNoExist, "transaction store does not exist", nil)
	}
	return &Store{}, nil
}

// Create creates a new persistent transaction store in the walletdb namespace.
// Creating an already existing store is an error.
func Create(ns walletdb.ReadWriteBucket) error {
	if ns.NestedReadWriteBucket(bucketTxRecords) != nil {
		return storeError(ErrDatabase, "transaction store already exists", nil)
	}
	_, err := ns.CreateBucket(bucketTxRecords)
	if err != nil {
		return storeError(ErrDatabase, "failed to create transaction bucket", err)
	}
	_, err = ns.CreateBucket(bucketCredits)
	if err != nil {
		return storeError(ErrDatabase, "failed to create credits bucket", err)
	}
	return putVersion(ns, getLatestVersion())
}

// Transaction record value layout:
//
//   [0:4]   Block height (int32, -1 if unmined)
//   [4:36]  Block hash (zero if unmined)
//   [36:44] Received unix time (int64)
//   [44:52] Block unix time (int64, 0 if unmined)
//   [52:]   Serialized transaction

func valueTxRecord(rec *TxRecord, block *BlockMeta) ([]byte, error) {
	tx := rec.SerializedTx
	if tx == nil {
		buf := bytes.NewBuffer(make([]byte, 0, rec.MsgTx.SerializeSize()))
		err := rec.MsgTx.Serialize(buf)
		if err != nil {
			return nil, storeError(ErrInput, "failed to serialize transaction", err)
		}
		tx = buf.Bytes()
	}
	v := make([]byte, 52, 52+len(tx))
	if block != nil {
		byteOrder.PutUint32(v[0:4], uint32(block.Height))
		copy(v[4:36], block.Hash[:])
		byteOrder.PutUint64(v[44:52], uint64(block.Time.Unix()))
	} else {
		height := unminedHeight
		byteOrder.PutUint32(v[0:4], uint32(height))
	}
	byteOrder.PutUint64(v[36:44], uint64(rec.Received.Unix()))
	return append(v, tx...), nil
}

func readTxRecord(txHash *chainhash.Hash, v []byte, rec *TxRecord,
	block *BlockMeta) error {

	if len(v) < 52 {
		return storeError(ErrData, "short transaction record value", nil)
	}
	block.Height = int32(byteOrder.Uint32(v[0:4]))
	copy(block.Hash[:], v[4:36])
	rec.Received = time.Unix(int64(byteOrder.Uint64(v[36:44])), 0)
	block.Time = time.Unix(int64(byteOrder.Uint64(v[44:52])), 0)
	rec.Hash = *txHash
	rec.SerializedTx = v[52:]
	err := rec.MsgTx.Deserialize(bytes.NewReader(rec.SerializedTx))
	if err != nil {
		return storeError(ErrData, "failed to deserialize stored transaction", err)
	}
	return nil
}

// Credit value layout:
//
//   [0:8]   Amount (int64)
//   [8]     Flags (0x01: change)
//   [9:17]  PrivateSend rounds (int64)
//   [17:49] Spender transaction hash (zero if unspent)

func valueCredit(amount btcutil.Amount, change bool, psRounds int64,
	spender *chainhash.Hash) []byte {

	v := make([]byte, 49)
	byteOrder.PutUint64(v[0:8], uint64(amount))
	if change {
		v[8] |= 0x01
	}
	byteOrder.PutUint64(v[9:17], uint64(psRounds))
	if spender != nil {
		copy(v[17:49], spender[:])
	}
	return v
}

var byteOrder = binary.BigEndian

func keyCredit(txHash *chainhash.Hash, index uint32) []byte {
	k := make([]byte, 36)
	copy(k, txHash[:])
	byteOrder.PutUint32(k[32:36], index)
	return k
}

func creditSpent(v []byte) bool {
	for _, b := range v[17:49] {
		if b != 0 {
			return true
		}
	}
	return false
}

// InsertTx records a transaction as belonging to a wallet's transaction
// history.  If block is nil, the transaction is considered unspent and the
// transaction's outputs may not be credited until the transaction confirms.
// Inserting an already inserted transaction updates its block association,
// which moves confirmed transactions back to unmined during reorganizations
// and unmined transactions into blocks when they confirm.
//
// Credits of the wallet spent by the transaction's inputs are marked spent by
// this transaction.
func (s *Store) InsertTx(ns walletdb.ReadWriteBucket, rec *TxRecord,
	block *BlockMeta) error {

	v, err := valueTxRecord(rec, block)
	if err != nil {
		return err
	}
	txBucket := ns.NestedReadWriteBucket(bucketTxRecords)
	err = txBucket.Put(rec.Hash[:], v)
	if err != nil {
		return storeError(ErrDatabase, "failed to store transaction record", err)
	}

	// Mark every previously recorded credit spent by this transaction's
	// inputs.  Inputs referencing unknown outputs are not ours and are
	// ignored.
	credits := ns.NestedReadWriteBucket(bucketCredits)
	for _, txIn := range rec.MsgTx.TxIn {
		prev := &txIn.PreviousOutPoint
		k := keyCredit(&prev.Hash, prev.Index)
		cv := credits.Get(k)
		if cv == nil {
			continue
		}
		nv := make([]byte, len(cv))
		copy(nv, cv)
		copy(nv[17:49], rec.Hash[:])
		err = credits.Put(k, nv)
		if err != nil {
			return storeError(ErrDatabase, "failed to mark credit spent", err)
		}
	}
	return nil
}

// AddCredit marks a transaction record as containing a transaction output
// spendable by wallet.  The output is added unspent, and is marked spent when
// a new transaction spending the output is inserted into the store.  The
// psRounds value records the PrivateSend classification of the output and is
// RoundsNone for ordinary credits.
func (s *Store) AddCredit(ns walletdb.ReadWriteBucket, rec *TxRecord,
	index uint32, change bool, psRounds int64) error {

	if int(index) >= len(rec.MsgTx.TxOut) {
		return storeError(ErrInput, "transaction output does not exist", nil)
	}

	credits := ns.NestedReadWriteBucket(bucketCredits)
	k := keyCredit(&rec.Hash, index)
	if cv := credits.Get(k); cv != nil {
		// Duplicate credit insertion happens during rescans.  Preserve
		// the spender but allow the rounds tag to be updated, as mixing
		// bookkeeping may reclassify an output after the fact.
		nv := make([]byte, len(cv))
		copy(nv, cv)
		byteOrder.PutUint64(nv[9:17], uint64(psRounds))
		err := credits.Put(k, nv)
		if err != nil {
			return storeError(ErrDatabase, "failed to update credit", err)
		}
		return nil
	}

	amount := btcutil.Amount(rec.MsgTx.TxOut[index].Value)
	err := credits.Put(k, valueCredit(amount, change, psRounds, nil))
	if err != nil {
		return storeError(ErrDatabase, "failed to store credit", err)
	}
	return nil
}

// SetCreditRounds updates the PrivateSend rounds tag of a previously recorded
// credit.
func (s *Store) SetCreditRounds(ns walletdb.ReadWriteBucket,
	op *wire.OutPoint, psRounds int64) error {

	credits := ns.NestedReadWriteBucket(bucketCredits)
	k := keyCredit(&op.Hash, op.Index)
	cv := credits.Get(k)
	if cv == nil {
		return storeError(ErrNoExist, "no credit for outpoint", nil)
	}
	nv := make([]byte, len(cv))
	copy(nv, cv)
	byteOrder.PutUint64(nv[9:17], uint64(psRounds))
	err := credits.Put(k, nv)
	if err != nil {
		return storeError(ErrDatabase, "failed to update credit", err)
	}
	return nil
}

// TxDetails looks up a stored transaction record and its mined block, if any.
// A nil record with no error is returned when the transaction is unknown.
func (s *Store) TxDetails(ns walletdb.ReadBucket,
	txHash *chainhash.Hash) (*TxRecord, *BlockMeta, error) {

	v := ns.NestedReadBucket(bucketTxRecords).Get(txHash[:])
	if v == nil {
		return nil, nil, nil
	}
	var rec TxRecord
	var block BlockMeta
	err := readTxRecord(txHash, v, &rec, &block)
	if err != nil {
		return nil, nil, err
	}
	if block.Height == unminedHeight {
		return &rec, nil, nil
	}
	return &rec, &block, nil
}

// UnspentOutputs returns all unspent received transaction outputs.
func (s *Store) UnspentOutputs(ns walletdb.ReadBucket) ([]Credit, error) {
	var unspent []Credit

	txBucket := ns.NestedReadBucket(bucketTxRecords)
	credits := ns.NestedReadBucket(bucketCredits)
	err := credits.ForEach(func(k, v []byte) error {
		if len(k) != 36 || len(v) < 49 {
			return storeError(ErrData, "malformed credit entry", nil)
		}
		if creditSpent(v) {
			return nil
		}

		var txHash chainhash.Hash
		copy(txHash[:], k[0:32])
		index := byteOrder.Uint32(k[32:36])

		tv := txBucket.Get(txHash[:])
		if tv == nil {
			return storeError(ErrData, "credit for missing transaction", nil)
		}
		var rec TxRecord
		var block BlockMeta
		err := readTxRecord(&txHash, tv, &rec, &block)
		if err != nil {
			return err
		}

		cred := Credit{
			OutPoint:     wire.OutPoint{Hash: txHash, Index: index},
			Amount:       btcutil.Amount(byteOrder.Uint64(v[0:8])),
			PkScript:     rec.MsgTx.TxOut[index].PkScript,
			Received:     rec.Received,
			Change:       v[8]&0x01 != 0,
			PSRounds:     int64(byteOrder.Uint64(v[9:17])),
			FromCoinBase: blockchain.IsCoinBaseTx(&rec.MsgTx),
		}
		if block.Height != unminedHeight {
			cred.BlockMeta = block
		} else {
			cred.BlockMeta.Height = unminedHeight
		}
		unspent = append(unspent, cred)
		return nil
	})
	if err != nil {
		if _, ok := err.(TxStoreError); ok {
			return nil, err
		}
		return nil, storeError(ErrDatabase, "failed to iterate credits", err)
	}
	return unspent, nil
}

// Balance returns the spendable wallet balance (total value of all unspent
// transaction outputs) given a minimum of minConf confirmations, calculated
// at a current chain height of curHeight.
func (s *Store) Balance(ns walletdb.ReadBucket, minConf int32,
	curHeight int32) (btcutil.Amount, error) {

	unspent, err := s.UnspentOutputs(ns)
	if err != nil {
		return 0, err
	}
	var bal btcutil.Amount
	for i := range unspent {
		if confirms(unspent[i].Height, curHeight) >= minConf {
			bal += unspent[i].Amount
		}
	}
	return bal, nil
}

// BalanceMinRounds returns the total value of unspent outputs carrying a
// PrivateSend rounds tag of at least minRounds.  It is used for denominated
// and anonymized balance reporting.
func (s *Store) BalanceMinRounds(ns walletdb.ReadBucket, minRounds int64,
	minConf, curHeight int32) (btcutil.Amount, error) {

	unspent, err := s.UnspentOutputs(ns)
	if err != nil {
		return 0, err
	}
	var bal btcutil.Amount
	for i := range unspent {
		if unspent[i].PSRounds < minRounds {
			continue
		}
		if confirms(unspent[i].Height, curHeight) >= minConf {
			bal += unspent[i].Amount
		}
	}
	return bal, nil
}

// Rollback removes all blocks at height onwards, moving any transactions
// within each block to the unconfirmed pool.
func (s *Store) Rollback(ns walletdb.ReadWriteBucket, height int32) error {
	txBucket := ns.NestedReadWriteBucket(bucketTxRecords)

	type update struct {
		k, v []byte
	}
	var updates []update
	err := txBucket.ForEach(func(k, v []byte) error {
		if len(v) < 52 {
			return storeError(ErrData, "short transaction record value", nil)
		}
		txHeight := int32(byteOrder.Uint32(v[0:4]))
		if txHeight == unminedHeight || txHeight < height {
			return nil
		}
		nv := make([]byte, len(v))
		copy(nv, v)
		unmined := unminedHeight
		byteOrder.PutUint32(nv[0:4], uint32(unmined))
		for i := 4; i < 36; i++ {
			nv[i] = 0
		}
		byteOrder.PutUint64(nv[44:52], 0)
		nk := make([]byte, len(k))
		copy(nk, k)
		updates = append(updates, update{nk, nv})
		return nil
	})
	if err != nil {
		if _, ok := err.(TxStoreError); ok {
			return err
		}
		return storeError(ErrDatabase, "failed to iterate transactions", err)
	}

	for _, u := range updates {
		err := txBucket.Put(u.k, u.v)
		if err != nil {
			return storeError(ErrDatabase, "failed to unmine transaction", err)
		}
	}
	if len(updates) != 0 {
		log.Infof("Rolled back %d transactions at height %d onwards",
			len(updates), height)
	}
	return nil
}

// RemoveUnminedTx attempts to remove an unmined transaction from the
// transaction store.  Credits of the transaction are removed, and credits
// previously marked spent by the transaction are unmarked.  This is used to
// evict conflicting or double spent transactions.
func (s *Store) RemoveUnminedTx(ns walletdb.ReadWriteBucket, rec *TxRecord) error {
	txBucket := ns.NestedReadWriteBucket(bucketTxRecords)
	v := txBucket.Get(rec.Hash[:])
	if v == nil {
		return storeError(ErrNoExist, "no transaction record to remove", nil)
	}
	if int32(byteOrder.Uint32(v[0:4])) != unminedHeight {
		return storeError(ErrInput, "transaction is mined", nil)
	}

	credits := ns.NestedReadWriteBucket(bucketCredits)
	for i := range rec.MsgTx.TxOut {
		err := credits.Delete(keyCredit(&rec.Hash, uint32(i)))
		if err != nil {
			return storeError(ErrDatabase, "failed to remove credit", err)
		}
	}
	for _, txIn := range rec.MsgTx.TxIn {
		prev := &txIn.PreviousOutPoint
		k := keyCredit(&prev.Hash, prev.Index)
		cv := credits.Get(k)
		if cv == nil {
			continue
		}
		if !bytes.Equal(cv[17:49], rec.Hash[:]) {
			continue
		}
		nv := make([]byte, len(cv))
		copy(nv, cv)
		for i := 17; i < 49; i++ {
			nv[i] = 0
		}
		err := credits.Put(k, nv)
		if err != nil {
			return storeError(ErrDatabase, "failed to unspend credit", err)
		}
	}

	err := txBucket.Delete(rec.Hash[:])
	if err != nil {
		return storeError(ErrDatabase, "failed to remove transaction record", err)
	}
	return nil
}

// UnminedTxs returns the underlying transactions for all unmined transactions
// which are not known to have been mined in a block.  Transactions are
// guaranteed to be sorted by their dependency order.
func (s *Store) UnminedTxs(ns walletdb.ReadBucket) ([]*wire.MsgTx, error) {
	recSet := make(map[chainhash.Hash]*TxRecord)
	txBucket := ns.NestedReadBucket(bucketTxRecords)
	err := txBucket.ForEach(func(k, v []byte) error {
		if len(v) < 52 {
			return storeError(ErrData, "short transaction record value", nil)
		}
		if int32(byteOrder.Uint32(v[0:4])) != unminedHeight {
			return nil
		}
		var txHash chainhash.Hash
		copy(txHash[:], k)
		var rec TxRecord
		var block BlockMeta
		err := readTxRecord(&txHash, v, &rec, &block)
		if err != nil {
			return err
		}
		recSet[txHash] = &rec
		return nil
	})
	if err != nil {
		if _, ok := err.(TxStoreError); ok {
			return nil, err
		}
		return nil, storeError(ErrDatabase, "failed to iterate transactions", err)
	}

	recs := dependencySort(recSet)
	txs := make([]*wire.MsgTx, 0, len(recs))
	for _, rec := range recs {
		txs = append(txs, &rec.MsgTx)
	}
	return txs, nil
}

// confirms returns the number of confirmations for a transaction in a block
// at height txHeight (or -1 for an unconfirmed tx) given the chain height
// curHeight.
func confirms(txHeight, curHeight int32) int32 {
	switch {
	case txHeight == unminedHeight:
		return 0
	case txHeight > curHeight:
		return 0
	default:
		return curHeight - txHeight + 1
	}
}
