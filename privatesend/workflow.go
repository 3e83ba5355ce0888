// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package privatesend

import (
	"bytes"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/walletdb"
)

// SendRetryDelay is the minimum time between broadcast attempts of a
// workflow transaction.
const SendRetryDelay = 10 * time.Second

// TxData is a transaction tracked by a workflow from creation until it has
// been broadcast to the network.
type TxData struct {
	UUID     string
	TxType   TxType
	TxID     chainhash.Hash
	RawTx    []byte
	Sent     time.Time
	NextSend time.Time
}

// Send attempts to broadcast the transaction with the passed broadcast
// function.  An already sent transaction and a transaction inside its retry
// delay are skipped without error.  A failed broadcast arms the retry delay.
func (d *TxData) Send(broadcast func(rawTx []byte) error) (bool, error) {
	if !d.Sent.IsZero() {
		return false, nil
	}
	now := time.Now()
	if !d.NextSend.IsZero() && d.NextSend.After(now) {
		return false, nil
	}
	if err := broadcast(d.RawTx); err != nil {
		d.NextSend = now.Add(SendRetryDelay)
		return false, err
	}
	d.Sent = time.Now()
	return true, nil
}

// TxWorkflow tracks a group of dependent mixing transactions (for example a
// pay collateral chain or a new denoms chain) from creation through
// broadcast.  The uuid also reserves the addresses used by the workflow.
type TxWorkflow struct {
	UUID      string
	Completed bool

	txData  map[chainhash.Hash]*TxData
	txOrder []chainhash.Hash
}

// NewTxWorkflow creates an empty transaction workflow with the given uuid.
func NewTxWorkflow(uuid string) *TxWorkflow {
	return &TxWorkflow{
		UUID:   uuid,
		txData: make(map[chainhash.Hash]*TxData),
	}
}

// LID is a shortened uuid used in log output.
func (w *TxWorkflow) LID() string {
	if len(w.UUID) > 8 {
		return w.UUID[:8]
	}
	return w.UUID
}

// AddTx appends a transaction to the workflow.
func (w *TxWorkflow) AddTx(txid chainhash.Hash, txType TxType, rawTx []byte) *TxData {
	data := &TxData{
		UUID:   w.UUID,
		TxType: txType,
		TxID:   txid,
		RawTx:  rawTx,
	}
	w.txData[txid] = data
	w.txOrder = append(w.txOrder, txid)
	return data
}

// PopTx removes a transaction from the workflow, returning its data or nil if
// the workflow does not track the transaction.
func (w *TxWorkflow) PopTx(txid chainhash.Hash) *TxData {
	data, ok := w.txData[txid]
	if !ok {
		data = nil
	}
	delete(w.txData, txid)
	order := w.txOrder[:0]
	for _, tid := range w.txOrder {
		if tid != txid {
			order = append(order, tid)
		}
	}
	w.txOrder = order
	return data
}

// TxData returns the tracked data for a transaction, or nil.
func (w *TxWorkflow) TxData(txid chainhash.Hash) *TxData {
	return w.txData[txid]
}

// TxOrder returns the transaction ids in creation order.
func (w *TxWorkflow) TxOrder() []chainhash.Hash {
	return w.txOrder
}

// NextToSend determines which transaction should be broadcast next.  Only
// transactions still local to the wallet (not seen in the network mempool)
// are considered.
func (w *TxWorkflow) NextToSend(isLocal func(txid *chainhash.Hash) bool) *TxData {
	for _, txid := range w.txOrder {
		data := w.txData[txid]
		if data.Sent.IsZero() && isLocal(&data.TxID) {
			return data
		}
	}
	return nil
}

// Transaction workflow value layout:
//
//   [0]  Completed flag
//   [1:5]  Transaction count
//   For each transaction, in creation order:
//     txid (32) || tx type (2) || sent unix (8) || next send unix (8) ||
//     raw length (4) || raw tx

func serializeTxWorkflow(w *TxWorkflow) []byte {
	var buf bytes.Buffer
	var b8 [8]byte
	if w.Completed {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	byteOrder.PutUint32(b8[:4], uint32(len(w.txOrder)))
	buf.Write(b8[:4])
	for _, txid := range w.txOrder {
		data := w.txData[txid]
		buf.Write(txid[:])
		byteOrder.PutUint16(b8[:2], uint16(data.TxType))
		buf.Write(b8[:2])
		byteOrder.PutUint64(b8[:], uint64(unixOrZero(data.Sent)))
		buf.Write(b8[:])
		byteOrder.PutUint64(b8[:], uint64(unixOrZero(data.NextSend)))
		buf.Write(b8[:])
		byteOrder.PutUint32(b8[:4], uint32(len(data.RawTx)))
		buf.Write(b8[:4])
		buf.Write(data.RawTx)
	}
	return buf.Bytes()
}

func deserializeTxWorkflow(uuid string, v []byte) (*TxWorkflow, error) {
	if len(v) < 5 {
		return nil, ErrCorruptData
	}
	w := NewTxWorkflow(uuid)
	w.Completed = v[0] == 1
	count := byteOrder.Uint32(v[1:5])
	off := 5
	for i := uint32(0); i < count; i++ {
		if len(v) < off+54 {
			return nil, ErrCorruptData
		}
		var txid chainhash.Hash
		copy(txid[:], v[off:off+32])
		off += 32
		txType := TxType(byteOrder.Uint16(v[off : off+2]))
		off += 2
		sent := int64(byteOrder.Uint64(v[off : off+8]))
		off += 8
		nextSend := int64(byteOrder.Uint64(v[off : off+8]))
		off += 8
		rawLen := int(byteOrder.Uint32(v[off : off+4]))
		off += 4
		if len(v) < off+rawLen {
			return nil, ErrCorruptData
		}
		raw := make([]byte, rawLen)
		copy(raw, v[off:off+rawLen])
		off += rawLen

		data := w.AddTx(txid, txType, raw)
		data.Sent = timeOrZero(sent)
		data.NextSend = timeOrZero(nextSend)
	}
	return w, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// PutTxWorkflow saves a transaction workflow.
func PutTxWorkflow(ns walletdb.ReadWriteBucket, w *TxWorkflow) error {
	bucket := ns.NestedReadWriteBucket(bucketTxWorkflows)
	return bucket.Put([]byte(w.UUID), serializeTxWorkflow(w))
}

// FetchTxWorkflow loads the transaction workflow with the given uuid.
func FetchTxWorkflow(ns walletdb.ReadBucket, uuid string) (*TxWorkflow, error) {
	v := ns.NestedReadBucket(bucketTxWorkflows).Get([]byte(uuid))
	if v == nil {
		return nil, ErrWorkflowNotFound
	}
	return deserializeTxWorkflow(uuid, v)
}

// DeleteTxWorkflow removes the transaction workflow with the given uuid.
func DeleteTxWorkflow(ns walletdb.ReadWriteBucket, uuid string) error {
	return ns.NestedReadWriteBucket(bucketTxWorkflows).Delete([]byte(uuid))
}

// ForEachTxWorkflow invokes f for every saved transaction workflow.
func ForEachTxWorkflow(ns walletdb.ReadBucket, f func(*TxWorkflow) error) error {
	return ns.NestedReadBucket(bucketTxWorkflows).ForEach(func(k, v []byte) error {
		w, err := deserializeTxWorkflow(string(k), v)
		if err != nil {
			return err
		}
		return f(w)
	})
}

// DenominateWorkflow tracks the wallet's participation in a single mixing
// session: the denomination mixed, the spent denom inputs and the reserved
// output addresses.
type DenominateWorkflow struct {
	UUID      string
	Denom     btcutil.Amount
	Rounds    int32
	Inputs    []wire.OutPoint
	Outputs   []string
	Completed time.Time
}

// LID is a shortened uuid used in log output.
func (w *DenominateWorkflow) LID() string {
	if len(w.UUID) > 8 {
		return w.UUID[:8]
	}
	return w.UUID
}

// Denominate workflow value layout:
//
//   denom (8) || rounds (4) || completed unix (8) ||
//   input count (4) || inputs (36 each) ||
//   output count (4) || outputs (1 byte length || address)

func serializeDenomWorkflow(w *DenominateWorkflow) []byte {
	var buf bytes.Buffer
	var b8 [8]byte
	byteOrder.PutUint64(b8[:], uint64(w.Denom))
	buf.Write(b8[:])
	byteOrder.PutUint32(b8[:4], uint32(w.Rounds))
	buf.Write(b8[:4])
	byteOrder.PutUint64(b8[:], uint64(unixOrZero(w.Completed)))
	buf.Write(b8[:])
	byteOrder.PutUint32(b8[:4], uint32(len(w.Inputs)))
	buf.Write(b8[:4])
	for i := range w.Inputs {
		buf.Write(w.Inputs[i].Hash[:])
		byteOrder.PutUint32(b8[:4], w.Inputs[i].Index)
		buf.Write(b8[:4])
	}
	byteOrder.PutUint32(b8[:4], uint32(len(w.Outputs)))
	buf.Write(b8[:4])
	for _, addr := range w.Outputs {
		buf.WriteByte(byte(len(addr)))
		buf.WriteString(addr)
	}
	return buf.Bytes()
}

func deserializeDenomWorkflow(uuid string, v []byte) (*DenominateWorkflow, error) {
	if len(v) < 24 {
		return nil, ErrCorruptData
	}
	w := &DenominateWorkflow{UUID: uuid}
	w.Denom = btcutil.Amount(byteOrder.Uint64(v[0:8]))
	w.Rounds = int32(byteOrder.Uint32(v[8:12]))
	w.Completed = timeOrZero(int64(byteOrder.Uint64(v[12:20])))
	inCount := byteOrder.Uint32(v[20:24])
	off := 24
	for i := uint32(0); i < inCount; i++ {
		if len(v) < off+36 {
			return nil, ErrCorruptData
		}
		var op wire.OutPoint
		copy(op.Hash[:], v[off:off+32])
		op.Index = byteOrder.Uint32(v[off+32 : off+36])
		w.Inputs = append(w.Inputs, op)
		off += 36
	}
	if len(v) < off+4 {
		return nil, ErrCorruptData
	}
	outCount := byteOrder.Uint32(v[off : off+4])
	off += 4
	for i := uint32(0); i < outCount; i++ {
		if len(v) < off+1 {
			return nil, ErrCorruptData
		}
		addrLen := int(v[off])
		off++
		if len(v) < off+addrLen {
			return nil, ErrCorruptData
		}
		w.Outputs = append(w.Outputs, string(v[off:off+addrLen]))
		off += addrLen
	}
	return w, nil
}

// PutDenomWorkflow saves a denominate workflow.
func PutDenomWorkflow(ns walletdb.ReadWriteBucket, w *DenominateWorkflow) error {
	bucket := ns.NestedReadWriteBucket(bucketDenomWorkflows)
	return bucket.Put([]byte(w.UUID), serializeDenomWorkflow(w))
}

// FetchDenomWorkflow loads the denominate workflow with the given uuid.
func FetchDenomWorkflow(ns walletdb.ReadBucket, uuid string) (*DenominateWorkflow, error) {
	v := ns.NestedReadBucket(bucketDenomWorkflows).Get([]byte(uuid))
	if v == nil {
		return nil, ErrWorkflowNotFound
	}
	return deserializeDenomWorkflow(uuid, v)
}

// DeleteDenomWorkflow removes the denominate workflow with the given uuid.
func DeleteDenomWorkflow(ns walletdb.ReadWriteBucket, uuid string) error {
	return ns.NestedReadWriteBucket(bucketDenomWorkflows).Delete([]byte(uuid))
}

// ForEachDenomWorkflow invokes f for every saved denominate workflow.
func ForEachDenomWorkflow(ns walletdb.ReadBucket, f func(*DenominateWorkflow) error) error {
	return ns.NestedReadBucket(bucketDenomWorkflows).ForEach(func(k, v []byte) error {
		w, err := deserializeDenomWorkflow(string(k), v)
		if err != nil {
			return err
		}
		return f(w)
	})
}
