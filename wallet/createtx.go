// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/keystore"
	"github.com/kiirocoin/kiirowallet/txstore"
	"github.com/kiirocoin/kiirowallet/wallet/txauthor"
	"github.com/kiirocoin/kiirowallet/walletdb"
)

// byAmount defines the methods needed to satisify sort.Interface to sort
// credits by their output amount.
type byAmount []txstore.Credit

func (s byAmount) Len() int           { return len(s) }
func (s byAmount) Less(i, j int) bool { return s[i].Amount < s[j].Amount }
func (s byAmount) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

func makeInputSource(eligible []txstore.Credit) txauthor.InputSource {
	// Pick largest outputs first.  This is only done for compatibility with
	// previous tx creation code, not because it's a good idea.
	sort.Sort(sort.Reverse(byAmount(eligible)))

	// Current inputs and their total value.  These are closed over by the
	// returned input source and reused across multiple calls.
	currentTotal := btcutil.Amount(0)
	currentInputs := make([]*wire.TxIn, 0, len(eligible))
	currentScripts := make([][]byte, 0, len(eligible))
	currentInputValues := make([]btcutil.Amount, 0, len(eligible))

	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn,
		[]btcutil.Amount, [][]byte, error) {

		for currentTotal < target && len(eligible) != 0 {
			nextCredit := &eligible[0]
			eligible = eligible[1:]
			nextInput := wire.NewTxIn(&nextCredit.OutPoint, nil, nil)
			currentTotal += nextCredit.Amount
			currentInputs = append(currentInputs, nextInput)
			currentScripts = append(currentScripts, nextCredit.PkScript)
			currentInputValues = append(currentInputValues, nextCredit.Amount)
		}
		return currentTotal, currentInputs, currentInputValues, currentScripts, nil
	}
}

// secretSource is an implementation of txauthor.SecretSource for the wallet's
// keystore.
type secretSource struct {
	*keystore.Manager
	ksNs walletdb.ReadBucket
}

func (s secretSource) GetKey(addr btcutil.Address) (*btcec.PrivateKey, bool, error) {
	privKey, err := s.PrivKeyForAddress(s.ksNs, addr)
	if err != nil {
		return nil, false, err
	}
	return privKey, true, nil
}

func (s secretSource) GetScript(addr btcutil.Address) ([]byte, error) {
	return nil, fmt.Errorf("no redeem script for address %v", addr)
}

func (s secretSource) ChainParams() *chaincfg.Params {
	return s.Manager.ChainParams().Params
}

// txToOutputs creates a signed transaction which includes each output from
// outputs.  Previous outputs to redeem are chosen from the wallet's utxo set
// and minconf policy.  An additional output may be added to return change to
// the wallet.  An appropriate fee is included based on the wallet's current
// relay fee.  The wallet must be unlocked to create the transaction.
//
// Outputs used as masternode collateral and outputs tagged by PrivateSend
// mixing are never selected.
func (w *Wallet) txToOutputs(outputs []*wire.TxOut, minconf int32,
	feeSatPerKb btcutil.Amount) (tx *txauthor.AuthoredTx, err error) {

	if _, err := w.requireChainClient(); err != nil {
		return nil, err
	}

	err = walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		ksNs := dbtx.ReadWriteBucket(keystoreNamespaceKey)

		eligible, err := w.findEligibleOutputs(dbtx, minconf,
			w.SyncedTo())
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
		tx, err = txauthor.NewUnsignedTransaction(outputs, feeSatPerKb,
			inputSource, changeSource)
		if err != nil {
			return err
		}

		// Randomize change position, if change exists, before signing.
		// This doesn't affect the serialize size, so the change amount
		// will still be valid.
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

	return tx, nil
}

// findEligibleOutputs returns the wallet's unspent outputs which may fund a
// regular spend.  Confirmation policy, locked outpoints, masternode
// collateral and PrivateSend tagged outputs all filter the set.
func (w *Wallet) findEligibleOutputs(dbtx walletdb.ReadTx, minconf int32,
	tipHeight int32) ([]txstore.Credit, error) {

	txNs := dbtx.ReadBucket(txstoreNamespaceKey)
	mnNs := dbtx.ReadBucket(masternodeNamespaceKey)

	unspent, err := w.TxStore.UnspentOutputs(txNs)
	if err != nil {
		return nil, err
	}

	eligible := make([]txstore.Credit, 0, len(unspent))
	for i := range unspent {
		output := &unspent[i]

		// Only include this output if it meets the required number of
		// confirmations.  Coinbase transactions must have reached
		// maturity before their outputs may be spent.
		if !confirmed(minconf, output.Height, tipHeight) {
			continue
		}
		if output.FromCoinBase {
			target := int32(w.chainParams.CoinbaseMaturity)
			if !confirmed(target, output.Height, tipHeight) {
				continue
			}
		}

		// Locked unspent outputs are skipped.
		if w.LockedOutpoint(output.OutPoint) {
			continue
		}

		// Outputs locked as masternode collateral must never be spent
		// or the masternode drops off the network.
		if _, isCollateral := w.Masternodes.CollateralAlias(mnNs,
			&output.OutPoint); isCollateral {
			continue
		}

		// Mixed and mixing outputs are only spendable through the
		// PrivateSend spend path.
		if output.PSRounds != txstore.RoundsNone {
			continue
		}

		eligible = append(eligible, *output)
	}
	return eligible, nil
}

// validateMsgTx verifies transaction input scripts for tx.  All previous
// output scripts from outputs redeemed by the transaction, in the same order
// they are spent, must be passed in the prevScripts slice.
func validateMsgTx(tx *wire.MsgTx, prevScripts [][]byte, inputValues []btcutil.Amount) error {
	hashCache := txscript.NewTxSigHashes(tx)
	for i, prevScript := range prevScripts {
		vm, err := txscript.NewEngine(prevScript, tx, i,
			txscript.StandardVerifyFlags, nil, hashCache, int64(inputValues[i]))
		if err != nil {
			return fmt.Errorf("cannot create script engine: %s", err)
		}
		err = vm.Execute()
		if err != nil {
			return fmt.Errorf("cannot validate transaction: %s", err)
		}
	}
	return nil
}
