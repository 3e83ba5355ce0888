// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// HistoryItem is one confirmed or mempool transaction in a script hash
// history.  A height of 0 means the transaction is in the mempool, -1 that it
// is in the mempool with unconfirmed parents.
type HistoryItem struct {
	TxHash chainhash.Hash
	Height int32
	Fee    int64
}

// UnspentItem is one unspent output of a script hash.
type UnspentItem struct {
	TxHash chainhash.Hash
	Index  uint32
	Height int32
	Value  int64
}

// Interface allows more than one backing blockchain source, such as an
// ElectrumX server or a local kiirod node, as long as we adhere to the
// interface expected by the wallet's synchronizer.
type Interface interface {
	Start() error
	Stop()
	WaitForShutdown()
	BestBlock() (int32, []byte, error)
	GetHeader(height int32) ([]byte, error)
	SubscribeScriptHash(scriptHash string) (string, error)
	ScriptHashHistory(scriptHash string) ([]HistoryItem, error)
	ScriptHashUnspent(scriptHash string) ([]UnspentItem, error)
	GetTransaction(txHash *chainhash.Hash) ([]byte, error)
	SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error)
	BroadcastRawTransaction(rawTx []byte) (*chainhash.Hash, error)
	RelayFee() (float64, error)
	EstimateFee(target int) (float64, error)
	Notifications() <-chan interface{}
	BackEnd() string
}

// Notification types.  These are defined here and processed from reading a
// notification channel to avoid running wallet code directly in network
// client callbacks, which would risk blocking the client's read loop.
type (
	// ClientConnected is a notification for when a client connection is
	// opened or reestablished to the chain server.  Subscriptions are
	// replayed by the client after this notification, so the wallet only
	// needs to reconcile its synced state.
	ClientConnected struct{}

	// HeaderConnected is a notification for a newly announced chain tip.
	HeaderConnected struct {
		Height    int32
		RawHeader []byte
	}

	// ScriptHashChanged is a notification that the history status of a
	// subscribed script hash changed.
	ScriptHashChanged struct {
		ScriptHash string
		Status     string
	}
)
