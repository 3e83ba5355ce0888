// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/keystore"
	"github.com/kiirocoin/kiirowallet/privatesend"
	"github.com/kiirocoin/kiirowallet/txstore"
	"github.com/kiirocoin/kiirowallet/wallet/txauthor"
	"github.com/kiirocoin/kiirowallet/walletdb"
)

const (
	// mixerInterval is how often the mixer goroutine wakes up to maintain
	// denominations and retry workflow broadcasts.
	mixerInterval = 30 * time.Second

	// maxNewDenomOutputs bounds the denomination outputs created by a
	// single new denoms transaction.
	maxNewDenomOutputs = 30
)

var (
	// ErrMixingUnsupported is returned when mixing is started on a wallet
	// that cannot mix, such as a watching-only wallet.
	ErrMixingUnsupported = errors.New("mixing is not supported by this wallet")

	// ErrMixingAlreadyRunning is returned when mixing is started while a
	// mixing process is already active.
	ErrMixingAlreadyRunning = errors.New("mixing is already running")

	// ErrMixingNotRunning is returned when mixing is stopped while no
	// mixing process is active.
	ErrMixingNotRunning = errors.New("mixing is not running")
)

// newWorkflowID generates the uuid naming a new mixing workflow.
func newWorkflowID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// StartMixing begins the PrivateSend mixing process.  The wallet must be
// unlocked and connected to a backend.  Mixing continues in the background
// until StopMixing is called or the wallet shuts down.
func (w *Wallet) StartMixing() error {
	if _, err := w.requireChainClient(); err != nil {
		return err
	}
	if w.Locked() {
		return errors.New("wallet must be unlocked to mix")
	}

	ps := w.PrivateSend
	switch ps.State() {
	case privatesend.StateUnsupported:
		return ErrMixingUnsupported
	case privatesend.StateDisabled:
		if err := ps.SetState(privatesend.StateInitializing); err != nil {
			return err
		}
		if err := ps.SetState(privatesend.StateReady); err != nil {
			return err
		}
	case privatesend.StateReady:
	case privatesend.StateStartMixing, privatesend.StateMixing:
		return ErrMixingAlreadyRunning
	default:
		return fmt.Errorf("cannot start mixing from state %v", ps.State())
	}

	if err := ps.ClearMixStats(); err != nil {
		return err
	}
	if err := ps.SetState(privatesend.StateStartMixing); err != nil {
		return err
	}
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		psNs := tx.ReadWriteBucket(privatesendNamespaceKey)
		return ps.SetLastMixStart(psNs, time.Now())
	})
	if err != nil {
		return err
	}

	w.mixMtx.Lock()
	w.mixQuit = make(chan struct{})
	quit := w.mixQuit
	w.mixMtx.Unlock()

	w.wg.Add(1)
	go w.mixer(quit)

	log.Infof("PrivateSend mixing started")
	return ps.SetState(privatesend.StateMixing)
}

// StopMixing stops the PrivateSend mixing process.  Collateral and
// denominate transactions from masternodes may still arrive for a short time
// after mixing stops.
func (w *Wallet) StopMixing() error {
	ps := w.PrivateSend
	if !ps.State().IsMixingRun() {
		return ErrMixingNotRunning
	}

	w.mixMtx.Lock()
	if w.mixQuit != nil {
		close(w.mixQuit)
		w.mixQuit = nil
	}
	w.mixMtx.Unlock()

	if err := ps.SetState(privatesend.StateStopMixing); err != nil {
		return err
	}
	var kpTimeout int
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		psNs := tx.ReadWriteBucket(privatesendNamespaceKey)
		kpTimeout = ps.KPTimeout(psNs)
		return ps.SetLastMixStop(psNs, time.Now())
	})
	if err != nil {
		return err
	}

	// Private keys were kept unlocked for mixing.  Lock them again after
	// the configured timeout.
	if kpTimeout > 0 && !w.Locked() {
		log.Infof("Wallet locks %d minutes after mixing stop", kpTimeout)
		time.AfterFunc(time.Duration(kpTimeout)*time.Minute, w.Lock)
	}

	log.Infof("PrivateSend mixing stopped")
	log.Info(ps.MixStats.String())
	return ps.SetState(privatesend.StateReady)
}

// MixingProgress estimates the mixing completion percentage for the
// configured target rounds.
func (w *Wallet) MixingProgress() (int, error) {
	var progress int
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		txNs := tx.ReadBucket(txstoreNamespaceKey)
		psNs := tx.ReadBucket(privatesendNamespaceKey)
		rounds := w.PrivateSend.MixRounds(psNs)
		balance := func(minRounds int64) btcutil.Amount {
			bal, err := w.TxStore.BalanceMinRounds(txNs, minRounds,
				0, w.SyncedTo())
			if err != nil {
				return 0
			}
			return bal
		}
		progress = privatesend.MixingProgress(balance, rounds)
		return nil
	})
	return progress, err
}

// SetPSRounds sets the target number of mixing rounds.  Changing the target
// is refused while mixing runs.
func (w *Wallet) SetPSRounds(rounds int) error {
	return walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		psNs := tx.ReadWriteBucket(privatesendNamespaceKey)
		return w.PrivateSend.SetMixRounds(psNs, rounds)
	})
}

// SetPSKeepAmount sets the denominated balance threshold at which mixing
// stops creating new denominations.
func (w *Wallet) SetPSKeepAmount(amount btcutil.Amount) error {
	return walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		psNs := tx.ReadWriteBucket(privatesendNamespaceKey)
		return w.PrivateSend.SetKeepAmount(psNs, amount)
	})
}

// PSOptions returns the current mixing preferences.
func (w *Wallet) PSOptions() (rounds int, keepAmount btcutil.Amount,
	sessions int, err error) {

	err = walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		psNs := tx.ReadBucket(privatesendNamespaceKey)
		rounds = w.PrivateSend.MixRounds(psNs)
		keepAmount = w.PrivateSend.KeepAmount(psNs)
		sessions = w.PrivateSend.Sessions(psNs)
		return nil
	})
	return rounds, keepAmount, sessions, err
}

// MixingTimes returns when mixing was last started and when the last new
// denoms and denominate transactions were observed.  Zero times mean the
// event never happened.
func (w *Wallet) MixingTimes() (mixStart, denomsTx, mixedTx time.Time, err error) {
	err = walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		psNs := tx.ReadBucket(privatesendNamespaceKey)
		mixStart = w.PrivateSend.LastMixStart(psNs)
		denomsTx = w.PrivateSend.LastDenomsTxTime(psNs)
		mixedTx = w.PrivateSend.LastMixedTxTime(psNs)
		return nil
	})
	return mixStart, denomsTx, mixedTx, err
}

// mixer runs until quit is closed, periodically creating the collateral and
// denomination outputs mixing needs and retrying unsent workflow
// transactions.
func (w *Wallet) mixer(quit chan struct{}) {
	defer w.wg.Done()

	ticker := time.NewTicker(mixerInterval)
	defer ticker.Stop()

	w.maintainMixing()
	for {
		select {
		case <-ticker.C:
			w.maintainMixing()
		case <-quit:
			return
		case <-w.quitChan():
			return
		}
	}
}

// maintainMixing performs one pass of mixing upkeep.  Errors are logged but
// never stop the mixer.
func (w *Wallet) maintainMixing() {
	if err := w.resendWorkflowTxs(); err != nil {
		log.Errorf("Unable to send workflow transactions: %v", err)
	}

	var (
		haveCollateral  bool
		pendingWorkflow bool
		neededDenoms    []btcutil.Amount
	)
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		txNs := tx.ReadBucket(txstoreNamespaceKey)
		psNs := tx.ReadBucket(privatesendNamespaceKey)

		unspent, err := w.TxStore.UnspentOutputs(txNs)
		if err != nil {
			return err
		}
		for i := range unspent {
			if unspent[i].PSRounds == txstore.RoundsCollateral {
				haveCollateral = true
				break
			}
		}

		err = privatesend.ForEachTxWorkflow(psNs,
			func(wf *privatesend.TxWorkflow) error {
				if !wf.Completed {
					pendingWorkflow = true
				}
				return nil
			})
		if err != nil {
			return err
		}

		neededDenoms, err = w.calcNeededDenoms(tx)
		return err
	})
	if err != nil {
		log.Errorf("Unable to check mixing state: %v", err)
		return
	}

	// Unconfirmed workflow transactions may already create the outputs a
	// new transaction would duplicate.  Wait for them to complete first.
	if pendingWorkflow {
		return
	}

	if !haveCollateral {
		if _, err := w.CreateNewCollateralTx(); err != nil {
			log.Errorf("Unable to create collateral: %v", err)
		}
		return
	}

	if len(neededDenoms) != 0 {
		if _, err := w.CreateNewDenomsTx(); err != nil {
			log.Errorf("Unable to create denominations: %v", err)
		}
		return
	}

	if err := w.reconcileDenomWorkflows(); err != nil {
		log.Errorf("Unable to reconcile mixing sessions: %v", err)
		return
	}
	if err := w.prepareDenominateWorkflows(); err != nil {
		log.Errorf("Unable to prepare mixing sessions: %v", err)
	}
}

// prepareDenominateWorkflows reserves denominated inputs and fresh output
// addresses for upcoming mixing sessions.  One workflow is kept per
// denomination with coins below the target rounds, bounded by the configured
// session limit.  Reserved inputs are locked so ordinary spends cannot take
// them while a session is pending.
func (w *Wallet) prepareDenominateWorkflows() error {
	type group struct {
		denom  btcutil.Amount
		rounds int64
	}

	var prepared []*privatesend.DenominateWorkflow
	err := walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		txNs := dbtx.ReadBucket(txstoreNamespaceKey)
		psNs := dbtx.ReadWriteBucket(privatesendNamespaceKey)
		ksNs := dbtx.ReadWriteBucket(keystoreNamespaceKey)

		targetRounds := int64(w.PrivateSend.MixRounds(psNs))
		maxSessions := w.PrivateSend.Sessions(psNs)

		active := 0
		reserved := make(map[wire.OutPoint]struct{})
		activeDenoms := make(map[btcutil.Amount]struct{})
		err := privatesend.ForEachDenomWorkflow(psNs,
			func(wf *privatesend.DenominateWorkflow) error {
				active++
				activeDenoms[wf.Denom] = struct{}{}
				for _, op := range wf.Inputs {
					reserved[op] = struct{}{}
				}
				return nil
			})
		if err != nil {
			return err
		}

		unspent, err := w.TxStore.UnspentOutputs(txNs)
		if err != nil {
			return err
		}
		groups := make(map[group][]wire.OutPoint)
		for i := range unspent {
			output := &unspent[i]
			if output.PSRounds < 0 || output.PSRounds >= targetRounds {
				continue
			}
			if !privatesend.IsDenomVal(output.Amount) {
				continue
			}
			if _, ok := reserved[output.OutPoint]; ok {
				continue
			}
			if w.LockedOutpoint(output.OutPoint) {
				continue
			}
			g := group{output.Amount, output.PSRounds}
			groups[g] = append(groups[g], output.OutPoint)
		}

		for g, inputs := range groups {
			if active >= maxSessions {
				break
			}
			if _, ok := activeDenoms[g.denom]; ok {
				continue
			}
			wf := &privatesend.DenominateWorkflow{
				UUID:   newWorkflowID(),
				Denom:  g.denom,
				Rounds: int32(g.rounds),
				Inputs: inputs,
			}
			for range inputs {
				addr, err := w.KeyStore.NextAddress(ksNs,
					keystore.InternalBranch)
				if err != nil {
					return err
				}
				w.watchAddress(addr, keystore.InternalBranch)
				wf.Outputs = append(wf.Outputs,
					addr.EncodeAddress())
			}
			if err := privatesend.PutDenomWorkflow(psNs, wf); err != nil {
				return err
			}
			prepared = append(prepared, wf)
			activeDenoms[g.denom] = struct{}{}
			active++
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, wf := range prepared {
		w.PrivateSend.MixStats.Dsa.SendMsg()
		for _, op := range wf.Inputs {
			w.LockOutpoint(op)
		}
		log.Infof("Prepared mixing session %s: %s", wf.LID(),
			privatesend.FilterLogLine(fmt.Sprintf(
				"denom %v, %d inputs at %d rounds", wf.Denom,
				len(wf.Inputs), wf.Rounds),
				w.chainParams.Params))
	}
	return nil
}

// reconcileDenomWorkflows completes sessions whose reserved inputs have all
// been spent, releasing their outpoint locks and removing the records.
func (w *Wallet) reconcileDenomWorkflows() error {
	var completed []*privatesend.DenominateWorkflow
	err := walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		txNs := dbtx.ReadWriteBucket(txstoreNamespaceKey)
		psNs := dbtx.ReadWriteBucket(privatesendNamespaceKey)

		unspent, err := w.TxStore.UnspentOutputs(txNs)
		if err != nil {
			return err
		}
		stillUnspent := make(map[wire.OutPoint]struct{}, len(unspent))
		for i := range unspent {
			stillUnspent[unspent[i].OutPoint] = struct{}{}
		}

		err = privatesend.ForEachDenomWorkflow(psNs,
			func(wf *privatesend.DenominateWorkflow) error {
				for _, op := range wf.Inputs {
					if _, ok := stillUnspent[op]; ok {
						return nil
					}
				}
				wf.Completed = time.Now()
				completed = append(completed, wf)
				return nil
			})
		if err != nil {
			return err
		}
		for _, wf := range completed {
			err := privatesend.DeleteDenomWorkflow(psNs, wf.UUID)
			if err != nil {
				return err
			}

			// The denominate transaction paid the session's
			// reserved addresses.  Those outputs have one more
			// completed round than the inputs had.
			scripts := make(map[string]struct{}, len(wf.Outputs))
			for _, addrStr := range wf.Outputs {
				addr, err := btcutil.DecodeAddress(addrStr,
					w.chainParams.Params)
				if err != nil {
					return err
				}
				pkScript, err := txscript.PayToAddrScript(addr)
				if err != nil {
					return err
				}
				scripts[string(pkScript)] = struct{}{}
			}
			for i := range unspent {
				_, ok := scripts[string(unspent[i].PkScript)]
				if !ok {
					continue
				}
				op := unspent[i].OutPoint
				err := w.TxStore.SetCreditRounds(txNs, &op,
					int64(wf.Rounds)+1)
				if err != nil {
					return err
				}
			}
		}
		if len(completed) != 0 {
			err := w.PrivateSend.SetLastMixedTxTime(psNs,
				time.Now())
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, wf := range completed {
		w.PrivateSend.MixStats.Dsa.OnReadMsg()
		for _, op := range wf.Inputs {
			w.UnlockOutpoint(op)
		}
		log.Infof("Completed mixing session %s: %s", wf.LID(),
			privatesend.FilterLogLine(fmt.Sprintf(
				"denom %v mixed to %d rounds", wf.Denom,
				wf.Rounds+1), w.chainParams.Params))
	}
	return nil
}

// calcNeededDenoms determines the denomination outputs a new denoms
// transaction should create, honoring the configured calculation method.
func (w *Wallet) calcNeededDenoms(dbtx walletdb.ReadTx) ([]btcutil.Amount, error) {
	txNs := dbtx.ReadBucket(txstoreNamespaceKey)
	psNs := dbtx.ReadBucket(privatesendNamespaceKey)

	unspent, err := w.TxStore.UnspentOutputs(txNs)
	if err != nil {
		return nil, err
	}
	haveDenoms := make(map[btcutil.Amount]int)
	var denominated btcutil.Amount
	for i := range unspent {
		if unspent[i].PSRounds < txstore.RoundsMixOrigin {
			continue
		}
		if !privatesend.IsDenomVal(unspent[i].Amount) {
			continue
		}
		haveDenoms[unspent[i].Amount]++
		denominated += unspent[i].Amount
	}

	var needed []btcutil.Amount
	if w.PrivateSend.CalcDenomsMethod(psNs) == privatesend.CalcDenomsAbsolute {
		absCnt := w.PrivateSend.AbsDenomsCnt(psNs)
		for _, dval := range privatesend.DenomVals {
			for n := haveDenoms[dval]; n < int(absCnt[dval]); n++ {
				needed = append(needed, dval)
			}
		}
		return needed, nil
	}

	target := w.PrivateSend.KeepAmount(psNs) - denominated
	if target < privatesend.MinDenomVal {
		return nil, nil
	}

	// Largest denominations first, always leaving room for at least one
	// output of every smaller denomination.
	for i := len(privatesend.DenomVals) - 1; i >= 0; i-- {
		dval := privatesend.DenomVals[i]
		for target >= dval && len(needed) < maxNewDenomOutputs {
			needed = append(needed, dval)
			target -= dval
		}
	}
	return needed, nil
}

// CreateNewCollateralTx creates and broadcasts a transaction funding a new
// mixing fee collateral output.  The output value covers four collateral
// payments.
func (w *Wallet) CreateNewCollateralTx() (*chainhash.Hash, error) {
	addr, err := w.nextAddress(keystore.InternalBranch)
	if err != nil {
		return nil, err
	}
	w.watchAddress(addr, keystore.InternalBranch)
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	outputs := []*wire.TxOut{
		wire.NewTxOut(int64(privatesend.CreateCollateralVal), pkScript),
	}

	hash, err := w.createMixingTx(outputs, privatesend.TxNewCollateral,
		txstore.RoundsCollateral)
	if err != nil {
		return nil, err
	}

	log.Infof("Created new collateral transaction %v", hash)
	return hash, nil
}

// CreateNewDenomsTx creates and broadcasts a transaction funding the
// denomination outputs mixing currently needs.  It returns without error and
// with a nil hash when no denominations are needed.
func (w *Wallet) CreateNewDenomsTx() (*chainhash.Hash, error) {
	var needed []btcutil.Amount
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		var err error
		needed, err = w.calcNeededDenoms(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(needed) == 0 {
		return nil, nil
	}

	outputs := make([]*wire.TxOut, 0, len(needed))
	for _, dval := range needed {
		addr, err := w.nextAddress(keystore.InternalBranch)
		if err != nil {
			return nil, err
		}
		w.watchAddress(addr, keystore.InternalBranch)
		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, wire.NewTxOut(int64(dval), pkScript))
	}

	// Fresh denominations enter the mixing pipeline at round zero.
	hash, err := w.createMixingTx(outputs, privatesend.TxNewDenoms, 0)
	if err != nil {
		return nil, err
	}

	err = walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		psNs := tx.ReadWriteBucket(privatesendNamespaceKey)
		return w.PrivateSend.SetLastDenomsTxTime(psNs, time.Now())
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Created new denoms transaction %v with %d outputs", hash,
		len(outputs))
	return hash, nil
}

// createMixingTx authors a transaction paying to the passed outputs, tags the
// created outputs with the passed rounds value and records the transaction in
// a new workflow before attempting to broadcast it.
func (w *Wallet) createMixingTx(outputs []*wire.TxOut,
	txType privatesend.TxType, rounds int64) (*chainhash.Hash, error) {

	tx, err := w.txToOutputs(outputs, 1, w.RelayFee())
	if err != nil {
		return nil, err
	}
	rec, err := txstore.NewTxRecordFromMsgTx(tx.Tx, time.Now())
	if err != nil {
		return nil, err
	}

	err = walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		if err := w.addRelevantTx(dbtx, rec, nil); err != nil {
			return err
		}

		// Tag the requested outputs.  Output order was shuffled during
		// authoring, so requested outputs are matched by script and
		// value.  Change carries the mix origin tag so it is never
		// offered to a mixing session.
		txNs := dbtx.ReadWriteBucket(txstoreNamespaceKey)
		remaining := make([]*wire.TxOut, len(outputs))
		copy(remaining, outputs)
		for i, txOut := range rec.MsgTx.TxOut {
			op := wire.OutPoint{Hash: rec.Hash, Index: uint32(i)}
			m := matchOutput(remaining, txOut)
			if m < 0 {
				err := w.TxStore.SetCreditRounds(txNs, &op,
					txstore.RoundsMixOrigin)
				if err != nil && !txstore.IsError(err,
					txstore.ErrNoExist) {

					return err
				}
				continue
			}
			remaining = append(remaining[:m], remaining[m+1:]...)
			err := w.TxStore.SetCreditRounds(txNs, &op, rounds)
			if err != nil {
				return err
			}
		}
		if len(remaining) != 0 {
			return fmt.Errorf("authored transaction is missing %d "+
				"requested outputs", len(remaining))
		}

		psNs := dbtx.ReadWriteBucket(privatesendNamespaceKey)
		wf := privatesend.NewTxWorkflow(newWorkflowID())
		wf.AddTx(rec.Hash, txType, rec.SerializedTx)
		return privatesend.PutTxWorkflow(psNs, wf)
	})
	if err != nil {
		return nil, err
	}

	if err := w.resendWorkflowTxs(); err != nil {
		log.Warnf("Unable to send workflow transaction %v: %v", rec.Hash,
			err)
	}
	return &rec.Hash, nil
}

// matchOutput returns the index in outputs of an output equal to txOut, or -1.
func matchOutput(outputs []*wire.TxOut, txOut *wire.TxOut) int {
	for i, out := range outputs {
		if out.Value == txOut.Value &&
			string(out.PkScript) == string(txOut.PkScript) {
			return i
		}
	}
	return -1
}

// resendWorkflowTxs broadcasts the next unsent transaction of every pending
// workflow, marking workflows completed once all of their transactions have
// been sent.
func (w *Wallet) resendWorkflowTxs() error {
	chainClient, err := w.requireChainClient()
	if err != nil {
		return err
	}
	broadcast := func(rawTx []byte) error {
		_, err := chainClient.BroadcastRawTransaction(rawTx)
		return err
	}

	var workflows []*privatesend.TxWorkflow
	err = walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		psNs := tx.ReadBucket(privatesendNamespaceKey)
		return privatesend.ForEachTxWorkflow(psNs,
			func(wf *privatesend.TxWorkflow) error {
				if !wf.Completed {
					workflows = append(workflows, wf)
				}
				return nil
			})
	})
	if err != nil {
		return err
	}

	var firstErr error
	for _, wf := range workflows {
		data := wf.NextToSend(func(*chainhash.Hash) bool { return true })
		if data != nil {
			sent, err := data.Send(broadcast)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if sent {
				log.Debugf("Sent workflow %s transaction %v",
					wf.LID(), data.TxID)
			}
		}

		completed := true
		for _, txid := range wf.TxOrder() {
			if wf.TxData(txid).Sent.IsZero() {
				completed = false
				break
			}
		}
		wf.Completed = completed

		err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
			psNs := tx.ReadWriteBucket(privatesendNamespaceKey)
			return privatesend.PutTxWorkflow(psNs, wf)
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SendPSCoins creates, signs and broadcasts a transaction spending mixed
// coins to the passed outputs.  Only coins mixed for at least the configured
// number of rounds are selected.  Spending is refused while masternode
// transactions from a recent mixing run may still arrive, since those could
// double spend the selected coins.
func (w *Wallet) SendPSCoins(outputs []*wire.TxOut) (*wire.MsgTx, error) {
	chainClient, err := w.requireChainClient()
	if err != nil {
		return nil, err
	}
	if !w.ChainSynced() {
		return nil, ErrNotSynced
	}
	for _, output := range outputs {
		if output.Value <= 0 {
			return nil, errors.New("amount must be positive")
		}
	}

	heldUnlock, err := w.holdUnlock()
	if err != nil {
		return nil, err
	}
	defer heldUnlock.release()

	var tx *txauthor.AuthoredTx
	err = walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		txNs := dbtx.ReadWriteBucket(txstoreNamespaceKey)
		psNs := dbtx.ReadBucket(privatesendNamespaceKey)
		ksNs := dbtx.ReadWriteBucket(keystoreNamespaceKey)

		if w.PrivateSend.MixRecentlyRun(psNs) {
			return privatesend.ErrPossibleDoubleSpend
		}
		minRounds := int64(w.PrivateSend.MixRounds(psNs))

		unspent, err := w.TxStore.UnspentOutputs(txNs)
		if err != nil {
			return err
		}
		eligible := make([]txstore.Credit, 0, len(unspent))
		for i := range unspent {
			output := &unspent[i]
			if output.PSRounds < minRounds {
				continue
			}
			if !confirmed(1, output.Height, w.SyncedTo()) {
				continue
			}
			if w.LockedOutpoint(output.OutPoint) {
				continue
			}
			eligible = append(eligible, *output)
		}
		if err := privatesend.CheckMinRounds(eligible, minRounds); err != nil {
			return err
		}

		// Smallest coins first to grind down the denominated balance.
		sort.Sort(byAmount(eligible))
		inputSource := func(target btcutil.Amount) (btcutil.Amount,
			[]*wire.TxIn, []btcutil.Amount, [][]byte, error) {

			var total btcutil.Amount
			var inputs []*wire.TxIn
			var inputValues []btcutil.Amount
			var scripts [][]byte
			for i := range eligible {
				if total >= target {
					break
				}
				c := &eligible[i]
				inputs = append(inputs,
					wire.NewTxIn(&c.OutPoint, nil, nil))
				inputValues = append(inputValues, c.Amount)
				scripts = append(scripts, c.PkScript)
				total += c.Amount
			}
			return total, inputs, inputValues, scripts, nil
		}
		changeSource := func() ([]byte, error) {
			changeAddr, err := w.KeyStore.NextAddress(ksNs,
				keystore.InternalBranch)
			if err != nil {
				return nil, err
			}
			w.watchAddress(changeAddr, keystore.InternalBranch)
			return txscript.PayToAddrScript(changeAddr)
		}
		tx, err = txauthor.NewUnsignedTransaction(outputs, w.RelayFee(),
			inputSource, changeSource)
		if err != nil {
			return err
		}
		if tx.ChangeIndex >= 0 {
			tx.RandomizeChangePosition()
		}
		return tx.AddAllInputScripts(secretSource{w.KeyStore, ksNs})
	})
	if err != nil {
		return nil, err
	}
	err = validateMsgTx(tx.Tx, tx.PrevScripts, tx.PrevInputValues)
	if err != nil {
		return nil, err
	}

	rec, err := txstore.NewTxRecordFromMsgTx(tx.Tx, time.Now())
	if err != nil {
		return nil, err
	}
	err = walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		if err := w.addRelevantTx(dbtx, rec, nil); err != nil {
			return err
		}
		// Change of a PrivateSend spend is no longer a clean
		// denomination and must not mix further.
		if tx.ChangeIndex >= 0 {
			txNs := dbtx.ReadWriteBucket(txstoreNamespaceKey)
			op := wire.OutPoint{
				Hash:  rec.Hash,
				Index: uint32(tx.ChangeIndex),
			}
			return w.TxStore.SetCreditRounds(txNs, &op,
				txstore.RoundsOther)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := chainClient.SendRawTransaction(tx.Tx); err != nil {
		return nil, err
	}
	return tx.Tx, nil
}
