// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"time"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/chain"
	"github.com/kiirocoin/kiirowallet/headerstore"
	"github.com/kiirocoin/kiirowallet/keystore"
	"github.com/kiirocoin/kiirowallet/txstore"
	"github.com/kiirocoin/kiirowallet/walletdb"
)

// headerBatchLogInterval controls how often progress is logged while catching
// up stored headers.
const headerBatchLogInterval = 10000

// handleChainNotifications reads notifications from the consensus server
// client and applies them to the wallet's stores.
//
// NOTE: This must be run as a goroutine.
func (w *Wallet) handleChainNotifications() {
	defer w.wg.Done()

	chainClient, err := w.requireChainClient()
	if err != nil {
		log.Errorf("handleChainNotifications called without RPC client")
		return
	}

	quit := w.quitChan()
	for {
		select {
		case n, ok := <-chainClient.Notifications():
			if !ok {
				return
			}
			var err error
			switch n := n.(type) {
			case chain.ClientConnected:
				go func() {
					err := w.syncWithChain()
					if err != nil && !w.ShuttingDown() {
						log.Errorf("Unable to synchronize "+
							"wallet to chain: %v", err)
					}
				}()
			case chain.HeaderConnected:
				err = w.connectHeader(n.Height, n.RawHeader)
			case chain.ScriptHashChanged:
				err = w.reconcileScriptHash(n.ScriptHash)
			}
			if err != nil {
				log.Errorf("Unable to process chain server "+
					"notification: %v", err)
			}
		case <-quit:
			return
		}
	}
}

// syncWithChain brings the wallet up to date with the current chain server
// connection.  It subscribes every wallet address for history notifications,
// downloads all block headers past the stored tip, and reconciles the
// transaction history of each subscribed address.
func (w *Wallet) syncWithChain() error {
	chainClient, err := w.requireChainClient()
	if err != nil {
		return err
	}

	// Adopt the server's relay fee policy for authored transactions.
	if relayFee, err := chainClient.RelayFee(); err == nil {
		if fee, err := btcutil.NewAmount(relayFee); err == nil && fee > 0 {
			w.SetRelayFee(fee)
		}
	}

	if err := w.catchUpHeaders(); err != nil {
		return err
	}

	// Keep a gap limit of derived lookahead addresses on both branches,
	// then subscribe every stored address.
	if err := w.ensureGapLimit(); err != nil {
		return err
	}
	infos, err := w.AllAddresses()
	if err != nil {
		return err
	}
	for _, info := range infos {
		if err := w.watchAddress(info.Address, info.Branch); err != nil {
			return err
		}
	}

	w.SetChainSynced(true)
	log.Infof("Wallet synchronized to height %d with %d watched "+
		"addresses", w.SyncedTo(), len(infos))

	go w.resendUnminedTxs()
	return nil
}

// catchUpHeaders downloads and stores every header between the stored tip and
// the server's best block.
func (w *Wallet) catchUpHeaders() error {
	chainClient, err := w.requireChainClient()
	if err != nil {
		return err
	}
	best, _, err := chainClient.BestBlock()
	if err != nil {
		return err
	}
	start := w.Headers.Height() + 1
	if start > best {
		return nil
	}
	log.Infof("Catching up block headers from height %d to %d", start,
		best)
	for height := start; height <= best; height++ {
		if w.ShuttingDown() {
			return nil
		}
		raw, err := chainClient.GetHeader(height)
		if err != nil {
			return err
		}
		if err := w.Headers.PutHeader(height, raw); err != nil {
			return err
		}
		if height%headerBatchLogInterval == 0 {
			log.Infof("Fetched headers through height %d", height)
		}
	}
	log.Infof("Block header catch up complete (height %d)", best)
	return nil
}

// connectHeader stores a newly announced tip header.  An announcement at or
// below the stored tip indicates a reorganize, in which case the stale
// headers are dropped and all transactions mined in them are returned to the
// unmined pool to be confirmed again in the new chain.
func (w *Wallet) connectHeader(height int32, raw []byte) error {
	tip := w.Headers.Height()
	if height <= tip {
		log.Infof("Chain reorganize detected at height %d (old tip "+
			"%d)", height, tip)
		if err := w.Headers.Rollback(height - 1); err != nil {
			return err
		}
		err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
			ns := tx.ReadWriteBucket(txstoreNamespaceKey)
			return w.TxStore.Rollback(ns, height)
		})
		if err != nil {
			return err
		}
	} else if height > tip+1 {
		// Headers between the stored tip and the announcement were
		// missed while disconnected.
		if err := w.catchUpHeaders(); err != nil {
			return err
		}
	}
	if !headerstore.CheckHeaderSize(w.chainParams, raw) {
		return headerstore.ErrHeaderSize
	}
	if err := w.Headers.PutHeader(height, raw); err != nil {
		return err
	}
	w.NtfnServer.notifyAttachedBlock(height, headerHash(raw),
		headerstore.HeaderTime(raw))
	return nil
}

// watchAddress indexes the address under its ElectrumX script hash and, when
// a chain server is associated, subscribes it for history status
// notifications.  A non-empty subscription status triggers an immediate
// history reconciliation.
func (w *Wallet) watchAddress(addr btcutil.Address, branch uint32) error {
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}
	scriptHash := chain.ScriptHashForScript(pkScript)

	w.watchedMtx.Lock()
	_, seen := w.watched[scriptHash]
	w.watched[scriptHash] = watchedAddress{addr: addr, branch: branch}
	w.watchedMtx.Unlock()
	if seen {
		return nil
	}

	chainClient := w.ChainClient()
	if chainClient == nil {
		return nil
	}
	status, err := chainClient.SubscribeScriptHash(scriptHash)
	if err != nil {
		return err
	}
	if status != "" {
		return w.reconcileScriptHash(scriptHash)
	}
	return nil
}

// watchedAddr resolves a script hash back to the wallet address it was
// subscribed for.
func (w *Wallet) watchedAddr(scriptHash string) (watchedAddress, bool) {
	w.watchedMtx.Lock()
	wa, ok := w.watched[scriptHash]
	w.watchedMtx.Unlock()
	return wa, ok
}

// reconcileScriptHash fetches the full history of a subscribed script hash
// and records every transaction (and the outputs paying the wallet) that is
// not yet tracked, or whose mined height changed.
func (w *Wallet) reconcileScriptHash(scriptHash string) error {
	chainClient, err := w.requireChainClient()
	if err != nil {
		return err
	}
	wa, ok := w.watchedAddr(scriptHash)
	if !ok {
		log.Warnf("Received status for unknown script hash %v",
			scriptHash)
		return nil
	}

	history, err := chainClient.ScriptHashHistory(scriptHash)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}

	// The address has history, so it is used.  Mark it and keep the gap
	// limit of lookahead addresses ahead of it.
	err = walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(keystoreNamespaceKey)
		return w.KeyStore.MarkUsed(ns, wa.addr)
	})
	if err != nil {
		return err
	}
	if err := w.ensureGapLimit(); err != nil {
		return err
	}

	for _, item := range history {
		if err := w.recordHistoryItem(chainClient, &item); err != nil {
			return err
		}
	}
	return nil
}

// recordHistoryItem ensures a single script hash history entry is reflected
// in the transaction store.
func (w *Wallet) recordHistoryItem(chainClient chain.Interface,
	item *chain.HistoryItem) error {

	var meta *txstore.BlockMeta
	if item.Height > 0 {
		raw, err := w.Headers.GetHeader(item.Height)
		if err != nil {
			// The header is past the stored tip.  Fetch it
			// directly so mempool transactions confirmed during a
			// catch up are not lost.
			raw, err = chainClient.GetHeader(item.Height)
			if err != nil {
				return err
			}
		}
		meta = &txstore.BlockMeta{
			Block: txstore.Block{
				Hash:   headerHash(raw),
				Height: item.Height,
			},
			Time: headerTimestamp(raw),
		}
	}

	// Skip transactions which are already recorded at the same height.
	var known bool
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(txstoreNamespaceKey)
		rec, block, err := w.TxStore.TxDetails(ns, &item.TxHash)
		if err != nil {
			return err
		}
		switch {
		case rec == nil:
		case block == nil:
			known = meta == nil
		default:
			known = meta != nil && block.Height == meta.Height
		}
		return nil
	})
	if err != nil || known {
		return err
	}

	rawTx, err := chainClient.GetTransaction(&item.TxHash)
	if err != nil {
		return err
	}
	received := time.Now()
	if meta != nil {
		received = meta.Time
	}
	rec, err := txstore.NewTxRecord(rawTx, received)
	if err != nil {
		return err
	}
	return walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		return w.addRelevantTx(tx, rec, meta)
	})
}

// addRelevantTx inserts the transaction record and adds a credit for every
// output paying a wallet address.  Outputs paying internal branch addresses
// are marked as change.
func (w *Wallet) addRelevantTx(dbtx walletdb.ReadWriteTx, rec *txstore.TxRecord,
	meta *txstore.BlockMeta) error {

	txNs := dbtx.ReadWriteBucket(txstoreNamespaceKey)
	ksNs := dbtx.ReadWriteBucket(keystoreNamespaceKey)

	if err := w.TxStore.InsertTx(txNs, rec, meta); err != nil {
		return err
	}
	for i, output := range rec.MsgTx.TxOut {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(
			output.PkScript, w.chainParams.Params)
		if err != nil {
			// Non-standard outputs are not ours.
			continue
		}
		for _, addr := range addrs {
			if !w.KeyStore.OwnsAddress(ksNs, addr) {
				continue
			}
			change := w.addrBranch(addr) == keystore.InternalBranch
			err = w.TxStore.AddCredit(txNs, rec, uint32(i),
				change, txstore.RoundsNone)
			if err != nil {
				return err
			}
			if err := w.KeyStore.MarkUsed(ksNs, addr); err != nil {
				return err
			}
			break
		}
	}

	w.NtfnServer.notifyTransaction(rec, meta)
	return nil
}

// addrBranch returns the derivation branch of a watched address, defaulting
// to the external branch when the address is not indexed yet.
func (w *Wallet) addrBranch(addr btcutil.Address) uint32 {
	w.watchedMtx.Lock()
	defer w.watchedMtx.Unlock()
	for _, wa := range w.watched {
		if wa.addr.EncodeAddress() == addr.EncodeAddress() {
			return wa.branch
		}
	}
	return keystore.ExternalBranch
}

// ensureGapLimit derives fresh addresses on both branches until the number of
// trailing unused addresses reaches the gap limit, and watches every address
// it derives.
func (w *Wallet) ensureGapLimit() error {
	var derived []keystore.AddrInfo
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(keystoreNamespaceKey)
		infos, err := w.KeyStore.ActiveAddresses(ns)
		if err != nil {
			return err
		}
		for _, branch := range []uint32{keystore.ExternalBranch,
			keystore.InternalBranch} {

			unused := uint32(0)
			for _, info := range infos {
				if info.Branch == branch && !info.Used {
					unused++
				}
			}
			for unused < keystore.DefaultGapLimit {
				addr, err := w.KeyStore.NextAddress(ns, branch)
				if err != nil {
					return err
				}
				derived = append(derived, keystore.AddrInfo{
					Address: addr,
					Branch:  branch,
				})
				unused++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, info := range derived {
		if err := w.watchAddress(info.Address, info.Branch); err != nil {
			return err
		}
	}
	return nil
}

// ScanOverGap probes addresses beyond the derivation frontier against the
// chain server and recovers any which have history.  Recovered addresses are
// subscribed and reconciled like any other wallet address.
func (w *Wallet) ScanOverGap(lookahead uint32) ([]keystore.ScanResult, error) {
	chainClient, err := w.requireChainClient()
	if err != nil {
		return nil, err
	}

	isUsed := func(addrStr string, pubKeyHash []byte) (bool, error) {
		// Probe the P2PKH script of the candidate address.
		script := make([]byte, 0, 25)
		script = append(script, txscript.OP_DUP, txscript.OP_HASH160,
			txscript.OP_DATA_20)
		script = append(script, pubKeyHash...)
		script = append(script, txscript.OP_EQUALVERIFY,
			txscript.OP_CHECKSIG)
		history, err := chainClient.ScriptHashHistory(
			chain.ScriptHashForScript(script))
		if err != nil {
			return false, err
		}
		return len(history) > 0, nil
	}

	var results []keystore.ScanResult
	err = walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(keystoreNamespaceKey)
		var err error
		results, err = w.KeyStore.ScanOverGap(ns, lookahead, isUsed)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		if err := w.watchAddress(res.Address, res.Branch); err != nil {
			return results, err
		}
	}
	if len(results) > 0 {
		if err := w.ensureGapLimit(); err != nil {
			return results, err
		}
	}
	return results, nil
}

// NotifyMempoolTx records a transaction observed in the mempool of a local
// node when any of its outputs pays a wallet address.  Transactions arriving
// this way are recorded unmined and reconciled against the server history
// once a block confirms them.
func (w *Wallet) NotifyMempoolTx(tx *wire.MsgTx) error {
	relevant := false
	err := walletdb.View(w.db, func(dbtx walletdb.ReadTx) error {
		ns := dbtx.ReadBucket(keystoreNamespaceKey)
		for _, output := range tx.TxOut {
			_, addrs, _, err := txscript.ExtractPkScriptAddrs(
				output.PkScript, w.chainParams.Params)
			if err != nil {
				continue
			}
			for _, addr := range addrs {
				if w.KeyStore.OwnsAddress(ns, addr) {
					relevant = true
					return nil
				}
			}
		}
		return nil
	})
	if err != nil || !relevant {
		return err
	}

	rec, err := txstore.NewTxRecordFromMsgTx(tx, time.Now())
	if err != nil {
		return err
	}
	log.Debugf("Recording mempool transaction %v from node events",
		rec.Hash)
	return walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		return w.addRelevantTx(dbtx, rec, nil)
	})
}

// resendUnminedTxs iterates through all transactions that spend from wallet
// credits that are not known to have been mined into a block, and attempts to
// send each to the chain server for relay.
func (w *Wallet) resendUnminedTxs() {
	chainClient, err := w.requireChainClient()
	if err != nil {
		log.Errorf("No chain server available to resend unmined "+
			"transactions: %v", err)
		return
	}

	var txs []*wire.MsgTx
	err = walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(txstoreNamespaceKey)
		var err error
		txs, err = w.TxStore.UnminedTxs(ns)
		return err
	})
	if err != nil {
		log.Errorf("Cannot load unmined transactions for resending: %v",
			err)
		return
	}

	for _, tx := range txs {
		resp, err := chainClient.SendRawTransaction(tx)
		if err != nil {
			// The server already knowing the transaction is not an
			// error worth acting on.
			log.Debugf("Could not resend transaction %v: %v",
				tx.TxHash(), err)
			continue
		}
		log.Debugf("Resent unmined transaction %v", resp)
	}
}
