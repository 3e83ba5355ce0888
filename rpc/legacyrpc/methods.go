// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package legacyrpc

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/chain"
	"github.com/kiirocoin/kiirowallet/keystore"
	"github.com/kiirocoin/kiirowallet/masternode"
	"github.com/kiirocoin/kiirowallet/netparams"
	"github.com/kiirocoin/kiirowallet/privatesend"
	"github.com/kiirocoin/kiirowallet/txstore"
	"github.com/kiirocoin/kiirowallet/wallet"
	"github.com/kiirocoin/kiirowallet/wallet/txrules"
)

// confirmed checks whether a transaction at height txHeight has met minconf
// confirmations for a blockchain at height curHeight.
func confirmed(minconf, txHeight, curHeight int32) bool {
	return confirms(txHeight, curHeight) >= minconf
}

// confirms returns the number of confirmations for a transaction in a block
// at height txHeight (or -1 for an unconfirmed tx) given the chain height
// curHeight.
func confirms(txHeight, curHeight int32) int32 {
	switch {
	case txHeight == -1, txHeight > curHeight:
		return 0
	default:
		return curHeight - txHeight + 1
	}
}

// requestHandler is a handler function to handle an unmarshaled and parsed
// request into a marshalable response.  If the error is a *btcjson.RPCError
// or any of the above special error classes, the server will respond with
// the JSON-RPC appropriate error code.  All other errors use the wallet
// catch-all error code, btcjson.ErrRPCWallet.
type requestHandler func(interface{}, *wallet.Wallet) (interface{}, error)

var rpcHandlers = map[string]struct {
	handler requestHandler

	// Function variables cannot be compared against anything but nil, so
	// use a boolean to record whether help generation is necessary.  This
	// is used by the tests to ensure that help can be generated for every
	// implemented method.
	noHelp bool
}{
	// Reference implementation wallet methods (implemented)
	"dumpprivkey":            {handler: dumpPrivKey},
	"estimatefee":            {handler: estimateFee},
	"getbalance":             {handler: getBalance},
	"getblockcount":          {handler: getBlockCount},
	"getinfo":                {handler: getInfo},
	"getnewaddress":          {handler: getNewAddress},
	"getrawchangeaddress":    {handler: getRawChangeAddress},
	"help":                   {handler: help},
	"listlockunspent":        {handler: listLockUnspent},
	"listunspent":            {handler: listUnspent},
	"lockunspent":            {handler: lockUnspent},
	"sendmany":               {handler: sendMany},
	"sendtoaddress":          {handler: sendToAddress},
	"signmessage":            {handler: signMessage},
	"validateaddress":        {handler: validateAddress},
	"verifymessage":          {handler: verifyMessage},
	"walletlock":             {handler: walletLock},
	"walletpassphrase":       {handler: walletPassphrase},
	"walletpassphrasechange": {handler: walletPassphraseChange},

	// Extensions to the reference client JSON-RPC API
	"getalladdresses":  {handler: getAllAddresses},
	"getseed":          {handler: getSeed},
	"getunusedaddress": {handler: getUnusedAddress},
	"importmasternode": {handler: importMasternode},
	"listmasternodes":  {handler: listMasternodes},
	"masternodestatus": {handler: masternodeStatus},
	"protxregister":    {handler: protxRegister},
	"psinfo":           {handler: psInfo},
	"scanovergap":      {handler: scanOverGap},
	"setpskeepamount":  {handler: setPSKeepAmount},
	"setpsrounds":      {handler: setPSRounds},
	"startmixing":      {handler: startMixing},
	"stopmixing":       {handler: stopMixing},
	"walletislocked":   {handler: walletIsLocked},
}

// lazyHandler is a closure over a requestHandler or passthrough request with
// the RPC server's wallet and chain server variables as part of the closure
// context.
type lazyHandler func() (interface{}, *btcjson.RPCError)

// lazyApplyHandler looks up the best request handler func for the method,
// returning a closure that will execute it with the (required) wallet.
func lazyApplyHandler(request *btcjson.Request, w *wallet.Wallet, chainClient chain.Interface) lazyHandler {
	handlerData, ok := rpcHandlers[request.Method]
	if ok && handlerData.handler != nil {
		return func() (interface{}, *btcjson.RPCError) {
			if w == nil {
				return nil, &ErrUnloadedWallet
			}
			cmd, err := btcjson.UnmarshalCmd(request)
			if err != nil {
				return nil, btcjson.ErrRPCInvalidRequest
			}
			resp, err := handlerData.handler(cmd, w)
			if err != nil {
				return nil, jsonError(err)
			}
			return resp, nil
		}
	}

	return func() (interface{}, *btcjson.RPCError) {
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCMethodNotFound.Code,
			Message: "Method not found",
		}
	}
}

// makeResponse makes the JSON-RPC response struct for the result and error
// returned by a requestHandler.  The returned response is not ready for
// marshaling and sending off to a client, but must be.
func makeResponse(id, result interface{}, err error) btcjson.Response {
	idPtr := idPointer(id)
	if err != nil {
		return btcjson.Response{
			ID:    idPtr,
			Error: jsonError(err),
		}
	}
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return btcjson.Response{
			ID: idPtr,
			Error: &btcjson.RPCError{
				Code:    btcjson.ErrRPCInternal.Code,
				Message: "Unexpected error marshalling result",
			},
		}
	}
	return btcjson.Response{
		ID:     idPtr,
		Result: json.RawMessage(resultBytes),
	}
}

// jsonError creates a JSON-RPC error from the Go error.
func jsonError(err error) *btcjson.RPCError {
	if err == nil {
		return nil
	}

	code := btcjson.ErrRPCWallet
	switch e := err.(type) {
	case btcjson.RPCError:
		return &e
	case *btcjson.RPCError:
		return e
	case DeserializationError:
		code = btcjson.ErrRPCDeserialization
	case InvalidParameterError:
		code = btcjson.ErrRPCInvalidParameter
	case ParseError:
		code = btcjson.ErrRPCParse.Code
	case keystore.KeystoreError:
		switch e.ErrorCode {
		case keystore.ErrWrongPassphrase:
			code = btcjson.ErrRPCWalletPassphraseIncorrect
		case keystore.ErrLocked:
			code = btcjson.ErrRPCWalletUnlockNeeded
		}
	}
	return &btcjson.RPCError{
		Code:    code,
		Message: err.Error(),
	}
}

func decodeAddress(s string, params *netparams.Params) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(s, params.Params)
	if err != nil {
		msg := fmt.Sprintf("Invalid address %q: decode failed with %#q", s, err)
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCInvalidAddressOrKey,
			Message: msg,
		}
	}
	if !addr.IsForNet(params.Params) {
		msg := fmt.Sprintf("Invalid address %q: not intended for use on %s",
			addr, params.Name)
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCInvalidAddressOrKey,
			Message: msg,
		}
	}
	return addr, nil
}

// dumpPrivKey handles a dumpprivkey request with the private key for a single
// address, or an appropriate error if the wallet is locked.
func dumpPrivKey(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.DumpPrivKeyCmd)

	addr, err := decodeAddress(cmd.Address, w.ChainParams())
	if err != nil {
		return nil, err
	}

	key, err := w.DumpWIFPrivateKey(addr)
	if keystore.IsError(err, keystore.ErrLocked) {
		// The address is found, but the private key isn't accessible.
		return nil, &ErrWalletUnlockNeeded
	}
	return key, err
}

// getBalance handles a getbalance request by returning the wallet's spendable
// balance.  Accounts are not supported.
func getBalance(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.GetBalanceCmd)

	if cmd.Account != nil && *cmd.Account != "*" {
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCInvalidParameter,
			Message: "Accounts are not supported",
		}
	}
	minConf := int32(*cmd.MinConf)
	if minConf < 0 {
		return nil, ErrNeedPositiveMinconf
	}
	balance, err := w.CalculateBalance(minConf)
	if err != nil {
		return nil, err
	}
	return balance.ToBTC(), nil
}

// getBlockCount handles a getblockcount request by returning the chain height
// of the most recently processed block header.
func getBlockCount(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	return w.SyncedTo(), nil
}

// estimateFee handles an estimatefee request by forwarding it to the chain
// backend.  The estimate is in coins per kilobyte, or -1 when the backend
// cannot provide one.
func estimateFee(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.EstimateFeeCmd)

	chainClient := w.ChainClient()
	if chainClient == nil {
		return nil, &ErrClientNotConnected
	}
	fee, err := chainClient.EstimateFee(int(cmd.NumBlocks))
	if err != nil {
		return nil, err
	}
	return fee, nil
}

// getInfo handles a getinfo request by returning a structure containing
// information about the current state of the wallet.
func getInfo(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	bal, err := w.CalculateBalance(1)
	if err != nil {
		return nil, err
	}

	params := w.ChainParams()
	info := &btcjson.InfoWalletResult{
		WalletVersion: 1,
		Balance:       bal.ToBTC(),
		Blocks:        w.SyncedTo(),
		KeypoolSize:   int32(keystore.DefaultGapLimit),
		PaytxFee:      w.RelayFee().ToBTC(),
		RelayFee:      w.RelayFee().ToBTC(),
		TestNet:       params.Name != "mainnet",
	}
	return info, nil
}

// getNewAddress handles a getnewaddress request by deriving and returning a
// new external address.
func getNewAddress(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	addr, err := w.NewAddress()
	if err != nil {
		return nil, err
	}
	return addr.EncodeAddress(), nil
}

// getRawChangeAddress handles a getrawchangeaddress request by deriving and
// returning a new internal address.
func getRawChangeAddress(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	addr, err := w.NewChangeAddress()
	if err != nil {
		return nil, err
	}
	return addr.EncodeAddress(), nil
}

// getUnusedAddress handles a getunusedaddress request by returning the first
// external address without recorded history, deriving a new address only when
// every stored one has been used.
func getUnusedAddress(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	addr, err := w.CurrentAddress()
	if err != nil {
		return nil, err
	}
	return addr.EncodeAddress(), nil
}

// getAllAddressesResult describes one address of a getalladdresses result.
type getAllAddressesResult struct {
	Address string `json:"address"`
	Change  bool   `json:"change"`
	Index   uint32 `json:"index"`
	Used    bool   `json:"used"`
}

// getAllAddresses handles a getalladdresses request by listing every stored
// address along with its derivation info.
func getAllAddresses(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*GetAllAddressesCmd)

	infos, err := w.AllAddresses()
	if err != nil {
		return nil, err
	}
	results := make([]getAllAddressesResult, 0, len(infos))
	for _, info := range infos {
		change := info.Branch == keystore.InternalBranch
		if change && !*cmd.Change {
			continue
		}
		if !change && !*cmd.Receiving {
			continue
		}
		if *cmd.UsedOnly && !info.Used {
			continue
		}
		results = append(results, getAllAddressesResult{
			Address: info.Address.EncodeAddress(),
			Change:  change,
			Index:   info.Index,
			Used:    info.Used,
		})
	}
	return results, nil
}

// getSeed handles a getseed request by returning the hex-encoded wallet seed.
// The wallet must be unlocked.
func getSeed(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	seed, err := w.Seed()
	if keystore.IsError(err, keystore.ErrLocked) {
		return nil, &ErrWalletUnlockNeeded
	}
	if err != nil {
		return nil, err
	}
	return hex.EncodeToString(seed), nil
}

// listLockUnspent handles a listlockunspent request by returning a slice of
// all locked outpoints.
func listLockUnspent(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	locked := w.LockedOutpoints()
	results := make([]btcjson.TransactionInput, len(locked))
	for i, op := range locked {
		results[i] = btcjson.TransactionInput{
			Txid: op.Hash.String(),
			Vout: op.Index,
		}
	}
	return results, nil
}

// listUnspent handles the listunspent command.
func listUnspent(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.ListUnspentCmd)

	var filter map[string]struct{}
	if cmd.Addresses != nil {
		filter = make(map[string]struct{})
		// Confirm that all of them are good:
		for _, as := range *cmd.Addresses {
			a, err := decodeAddress(as, w.ChainParams())
			if err != nil {
				return nil, err
			}
			filter[a.EncodeAddress()] = struct{}{}
		}
	}
	minConf := int32(*cmd.MinConf)
	maxConf := int32(*cmd.MaxConf)

	unspent, err := w.UnspentOutputs()
	if err != nil {
		return nil, err
	}
	syncHeight := w.SyncedTo()
	params := w.ChainParams().Params

	results := make([]*btcjson.ListUnspentResult, 0, len(unspent))
	for i := range unspent {
		output := &unspent[i]
		confs := confirms(output.Height, syncHeight)
		if confs < minConf || confs > maxConf {
			continue
		}
		if w.LockedOutpoint(output.OutPoint) {
			continue
		}

		var addrStr string
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(
			output.PkScript, params)
		if err == nil && len(addrs) == 1 {
			addrStr = addrs[0].EncodeAddress()
		}
		if filter != nil {
			if _, ok := filter[addrStr]; !ok {
				continue
			}
		}

		results = append(results, &btcjson.ListUnspentResult{
			TxID:          output.Hash.String(),
			Vout:          output.Index,
			Address:       addrStr,
			ScriptPubKey:  hex.EncodeToString(output.PkScript),
			Amount:        output.Amount.ToBTC(),
			Confirmations: int64(confs),
			Spendable:     output.PSRounds == txstore.RoundsNone,
		})
	}
	return results, nil
}

// lockUnspent handles the lockunspent command.
func lockUnspent(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.LockUnspentCmd)

	switch {
	case cmd.Unlock && len(cmd.Transactions) == 0:
		w.ResetLockedOutpoints()
	default:
		for _, input := range cmd.Transactions {
			txHash, err := chainhash.NewHashFromStr(input.Txid)
			if err != nil {
				return nil, ParseError{err}
			}
			op := wire.OutPoint{Hash: *txHash, Index: input.Vout}
			if cmd.Unlock {
				w.UnlockOutpoint(op)
			} else {
				w.LockOutpoint(op)
			}
		}
	}
	return true, nil
}

// makeOutputs creates a slice of transaction outputs from a pair of address
// strings to amounts.  This is used to create the outputs to include in newly
// created transactions from a JSON object describing the output destinations
// and amounts.
func makeOutputs(pairs map[string]btcutil.Amount, chainParams *netparams.Params) ([]*wire.TxOut, error) {
	outputs := make([]*wire.TxOut, 0, len(pairs))
	for addrStr, amt := range pairs {
		addr, err := btcutil.DecodeAddress(addrStr, chainParams.Params)
		if err != nil {
			return nil, fmt.Errorf("cannot decode address: %s", err)
		}

		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, fmt.Errorf("cannot create txout script: %s", err)
		}

		outputs = append(outputs, wire.NewTxOut(int64(amt), pkScript))
	}
	return outputs, nil
}

// sendPairs creates and sends payment transactions.
// It returns the transaction hash in string format upon success
// All errors are returned in btcjson.RPCError format
func sendPairs(w *wallet.Wallet, amounts map[string]btcutil.Amount,
	minconf int32, feeSatPerKb btcutil.Amount) (string, error) {

	outputs, err := makeOutputs(amounts, w.ChainParams())
	if err != nil {
		return "", err
	}
	tx, err := w.SendOutputs(outputs, minconf, feeSatPerKb)
	if err != nil {
		if err == txrules.ErrAmountNegative {
			return "", ErrNeedPositiveAmount
		}
		if keystore.IsError(err, keystore.ErrLocked) {
			return "", &ErrWalletUnlockNeeded
		}
		switch err.(type) {
		case btcjson.RPCError:
			return "", err
		}

		return "", &btcjson.RPCError{
			Code:    btcjson.ErrRPCInternal.Code,
			Message: err.Error(),
		}
	}

	txHashStr := tx.TxHash().String()
	log.Infof("Successfully sent transaction %v", txHashStr)
	return txHashStr, nil
}

func isNilOrEmpty(s *string) bool {
	return s == nil || *s == ""
}

// sendMany handles a sendmany RPC request by creating a new transaction
// spending unspent transaction outputs of a wallet to any number of payment
// addresses.  Leftover inputs not sent to the payment address or a fee for
// the miner are sent back to a new address in the wallet.  Upon success, the
// TxID for the created transaction is returned.
func sendMany(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.SendManyCmd)

	// Transaction comments are not yet supported.  Error instead of
	// pretending to save them.
	if !isNilOrEmpty(cmd.Comment) {
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCUnimplemented,
			Message: "Transaction comments are not yet supported",
		}
	}

	// Check that signed integer parameters are positive.
	minConf := int32(*cmd.MinConf)
	if minConf < 0 {
		return nil, ErrNeedPositiveMinconf
	}

	// Recreate address/amount pairs, using btcutil.Amount.
	pairs := make(map[string]btcutil.Amount, len(cmd.Amounts))
	for k, v := range cmd.Amounts {
		amt, err := btcutil.NewAmount(v)
		if err != nil {
			return nil, err
		}
		pairs[k] = amt
	}

	return sendPairs(w, pairs, minConf, txrules.DefaultRelayFeePerKb)
}

// sendToAddress handles a sendtoaddress RPC request by creating a new
// transaction spending unspent transaction outputs of a wallet to another
// payment address.  Leftover inputs not sent to the payment address or a fee
// for the miner are sent back to a new address in the wallet.  Upon success,
// the TxID for the created transaction is returned.
func sendToAddress(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.SendToAddressCmd)

	// Transaction comments are not yet supported.  Error instead of
	// pretending to save them.
	if !isNilOrEmpty(cmd.Comment) || !isNilOrEmpty(cmd.CommentTo) {
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCUnimplemented,
			Message: "Transaction comments are not yet supported",
		}
	}

	amt, err := btcutil.NewAmount(cmd.Amount)
	if err != nil {
		return nil, err
	}

	// Check that signed integer parameters are positive.
	if amt < 0 {
		return nil, ErrNeedPositiveAmount
	}

	// Mock up map of address and amount pairs.
	pairs := map[string]btcutil.Amount{
		cmd.Address: amt,
	}

	return sendPairs(w, pairs, 1, txrules.DefaultRelayFeePerKb)
}

// signMessage signs the given message with the private key for the given
// address.
func signMessage(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.SignMessageCmd)

	addr, err := decodeAddress(cmd.Address, w.ChainParams())
	if err != nil {
		return nil, err
	}

	sig, err := w.SignMessage(addr, cmd.Message)
	if keystore.IsError(err, keystore.ErrLocked) {
		return nil, &ErrWalletUnlockNeeded
	}
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// validateAddress handles the validateaddress command.
func validateAddress(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.ValidateAddressCmd)

	result := btcjson.ValidateAddressWalletResult{}
	addr, err := decodeAddress(cmd.Address, w.ChainParams())
	if err != nil {
		// Use result zero value (IsValid=false).
		return result, nil
	}

	// We could put whether or not the address is a script here,
	// by checking the type of "addr", however, the reference
	// implementation only puts that information if the script is
	// "ismine", and we follow that behaviour.
	result.Address = addr.EncodeAddress()
	result.IsValid = true

	mine, err := w.HaveAddress(addr)
	if err != nil {
		return nil, err
	}
	result.IsMine = mine
	return result, nil
}

// verifyMessage handles the verifymessage command by verifying the provided
// compact signature for the given address and message.
func verifyMessage(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.VerifyMessageCmd)

	addr, err := decodeAddress(cmd.Address, w.ChainParams())
	if err != nil {
		return nil, err
	}

	// decode base64 signature
	sig, err := base64.StdEncoding.DecodeString(cmd.Signature)
	if err != nil {
		return nil, err
	}

	return wallet.VerifyMessage(addr, sig, cmd.Message, w.ChainParams())
}

// walletIsLocked handles the walletislocked extension request by
// returning the current lock state (false for unlocked, true for locked)
// of the wallet.
func walletIsLocked(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	return w.Locked(), nil
}

// walletLock handles a walletlock request by locking the wallet, returning an
// error if the wallet is already locked.
func walletLock(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	w.Lock()
	return nil, nil
}

// walletPassphrase responds to the walletpassphrase request by unlocking the
// wallet.  The decryption key is saved in the wallet until timeout seconds
// expires, after which the wallet is locked.
func walletPassphrase(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.WalletPassphraseCmd)

	timeout := time.Second * time.Duration(cmd.Timeout)
	var unlockAfter <-chan time.Time
	if timeout != 0 {
		unlockAfter = time.After(timeout)
	}
	err := w.Unlock([]byte(cmd.Passphrase), unlockAfter)
	return nil, err
}

// walletPassphraseChange responds to the walletpassphrasechange request by
// unlocking the wallet with the old passphrase and re-encrypting the account
// key with a key derived from the new passphrase.
//
// If the old passphrase is correct and the passphrase is changed, the wallet
// is immediately locked.
func walletPassphraseChange(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.WalletPassphraseChangeCmd)

	err := w.Unlock([]byte(cmd.OldPassphrase), nil)
	if keystore.IsError(err, keystore.ErrWrongPassphrase) {
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCWalletPassphraseIncorrect,
			Message: "Incorrect passphrase",
		}
	}
	if err != nil {
		return nil, err
	}
	defer w.Lock()
	return nil, w.ChangePrivatePassphrase([]byte(cmd.NewPassphrase))
}

// importMasternode handles an importmasternode request by registering every
// masternode.conf entry passed in the conf parameter.
func importMasternode(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*ImportMasternodeCmd)

	n, err := w.ImportMasternodeConf(strings.NewReader(cmd.Conf))
	if err != nil {
		return nil, err
	}
	return n, nil
}

// masternodeResult describes one masternode of a listmasternodes or
// masternodestatus result.
type masternodeResult struct {
	Alias            string `json:"alias"`
	Address          string `json:"address"`
	Collateral       string `json:"collateral"`
	ProTxHash        string `json:"protxhash,omitempty"`
	Status           string `json:"status"`
	PoSePenalty      int32  `json:"posepenalty"`
	LastPaidHeight   int32  `json:"lastpaidheight"`
	RegisteredHeight int32  `json:"registeredheight"`
}

func makeMasternodeResult(mn *masternode.Masternode) masternodeResult {
	res := masternodeResult{
		Alias: mn.Alias,
		Address: mn.Addr,
		Collateral: fmt.Sprintf("%v:%d", mn.CollateralPoint.Hash,
			mn.CollateralPoint.Index),
		Status:           mn.Status,
		PoSePenalty:      mn.PoSePenalty,
		LastPaidHeight:   mn.LastPaidHeight,
		RegisteredHeight: mn.RegisteredHeight,
	}
	if mn.ProTxHash != (chainhash.Hash{}) {
		res.ProTxHash = mn.ProTxHash.String()
	}
	if res.Status == "" {
		res.Status = "UNREGISTERED"
	}
	return res
}

// listMasternodes handles a listmasternodes request by returning all
// masternodes registered with the wallet.
func listMasternodes(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	mns, err := w.ListMasternodes()
	if err != nil {
		return nil, err
	}
	results := make([]masternodeResult, len(mns))
	for i, mn := range mns {
		results[i] = makeMasternodeResult(mn)
	}
	return results, nil
}

// masternodeStatus handles a masternodestatus request by returning one
// masternode with its deterministic list state refreshed from the backend.
func masternodeStatus(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*MasternodeStatusCmd)

	mn, err := w.MasternodeStatus(cmd.Alias)
	if masternode.IsError(err, masternode.ErrNoExist) {
		return nil, &ErrNoMasternode
	}
	if err != nil {
		return nil, err
	}
	return makeMasternodeResult(mn), nil
}

// protxRegister handles a protxregister request by creating, signing and
// broadcasting a provider registration transaction for a previously imported
// masternode.
func protxRegister(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*ProtxRegisterCmd)

	txHash, err := w.RegisterMasternode(cmd.Alias, cmd.OperatorPubKey)
	if masternode.IsError(err, masternode.ErrNoExist) {
		return nil, &ErrNoMasternode
	}
	if keystore.IsError(err, keystore.ErrLocked) {
		return nil, &ErrWalletUnlockNeeded
	}
	if err != nil {
		return nil, err
	}
	return txHash.String(), nil
}

// psInfoResult describes a psinfo result.  The timestamps are unix times and
// zero when the event never happened.
type psInfoResult struct {
	State           string  `json:"state"`
	Rounds          int     `json:"rounds"`
	KeepAmount      float64 `json:"keepamount"`
	Sessions        int     `json:"sessions"`
	MinParticipants int     `json:"minparticipants"`
	Denominated     float64 `json:"denominated"`
	Anonymized      float64 `json:"anonymized"`
	Progress        int     `json:"progress"`
	LastMixStart    int64   `json:"lastmixstart"`
	LastDenomsTx    int64   `json:"lastdenomstx"`
	LastMixedTx     int64   `json:"lastmixedtx"`
}

// psInfo handles a psinfo request by returning the mixing state, preferences
// and balances.
func psInfo(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	rounds, keepAmount, sessions, err := w.PSOptions()
	if err != nil {
		return nil, err
	}
	denominated, anonymized, err := w.PrivateSendBalances()
	if err != nil {
		return nil, err
	}
	progress, err := w.MixingProgress()
	if err != nil {
		return nil, err
	}
	mixStart, denomsTx, mixedTx, err := w.MixingTimes()
	if err != nil {
		return nil, err
	}
	result := &psInfoResult{
		State:           w.PrivateSend.State().String(),
		Rounds:          rounds,
		KeepAmount:      keepAmount.ToBTC(),
		Sessions:        sessions,
		MinParticipants: w.PrivateSend.PoolMinParticipantsAllowed(),
		Denominated:     denominated.ToBTC(),
		Anonymized:      anonymized.ToBTC(),
		Progress:        progress,
	}
	if !mixStart.IsZero() {
		result.LastMixStart = mixStart.Unix()
	}
	if !denomsTx.IsZero() {
		result.LastDenomsTx = denomsTx.Unix()
	}
	if !mixedTx.IsZero() {
		result.LastMixedTx = mixedTx.Unix()
	}
	return result, nil
}

// setPSRounds handles a setpsrounds request.
func setPSRounds(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*SetPSRoundsCmd)

	if err := w.SetPSRounds(cmd.Rounds); err != nil {
		if err == privatesend.ErrMixingRunning {
			return nil, &btcjson.RPCError{
				Code:    btcjson.ErrRPCWallet,
				Message: "Mixing preferences cannot change while mixing runs",
			}
		}
		return nil, err
	}
	return true, nil
}

// setPSKeepAmount handles a setpskeepamount request.
func setPSKeepAmount(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*SetPSKeepAmountCmd)

	amt, err := btcutil.NewAmount(cmd.Amount)
	if err != nil {
		return nil, err
	}
	if amt < 0 {
		return nil, ErrNeedPositiveAmount
	}
	if err := w.SetPSKeepAmount(amt); err != nil {
		return nil, err
	}
	return true, nil
}

// startMixing handles a startmixing request.
func startMixing(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	if err := w.StartMixing(); err != nil {
		return nil, err
	}
	return true, nil
}

// stopMixing handles a stopmixing request.
func stopMixing(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	if err := w.StopMixing(); err != nil {
		return nil, err
	}
	return true, nil
}

// scanOverGap handles a scanovergap request by probing addresses beyond the
// gap limit for history, storing and returning every used address found.
func scanOverGap(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*ScanOverGapCmd)

	results, err := w.ScanOverGap(*cmd.Lookahead)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, len(results))
	for i, res := range results {
		addrs[i] = res.Address.EncodeAddress()
	}
	return addrs, nil
}

// helpDescs contains the help text for every implemented request method.
var helpDescs = map[string]string{
	"dumpprivkey":            "dumpprivkey \"address\" - Return the WIF private key of an owned address.",
	"getalladdresses":        "getalladdresses (receiving change usedonly) - List stored addresses with derivation info.",
	"getbalance":             "getbalance (\"*\" minconf) - Return the spendable balance.",
	"estimatefee":            "estimatefee numblocks - Estimate the fee per kilobyte for confirmation within numblocks blocks.",
	"getblockcount":          "getblockcount - Return the synced header height.",
	"getinfo":                "getinfo - Return wallet state information.",
	"getnewaddress":          "getnewaddress - Derive and return a new receiving address.",
	"getrawchangeaddress":    "getrawchangeaddress - Derive and return a new change address.",
	"getseed":                "getseed - Return the hex-encoded wallet seed (wallet must be unlocked).",
	"getunusedaddress":       "getunusedaddress - Return the first unused receiving address.",
	"help":                   "help (\"method\") - Return help for all or a single method.",
	"importmasternode":       "importmasternode \"conf\" - Register masternodes from masternode.conf content.",
	"listlockunspent":        "listlockunspent - List locked outpoints.",
	"listmasternodes":        "listmasternodes - List the wallet's masternodes.",
	"listunspent":            "listunspent (minconf maxconf [\"address\",...]) - List unspent outputs.",
	"lockunspent":            "lockunspent unlock [{\"txid\":\"hash\",\"vout\":n},...] - Lock or unlock outpoints.",
	"masternodestatus":       "masternodestatus \"alias\" - Return one masternode with refreshed status.",
	"protxregister":          "protxregister \"alias\" \"operatorpubkey\" - Broadcast a provider registration transaction.",
	"psinfo":                 "psinfo - Return mixing state, preferences and balances.",
	"scanovergap":            "scanovergap (lookahead) - Search for used addresses beyond the gap limit.",
	"sendmany":               "sendmany \"\" {\"address\":amount,...} (minconf) - Send to multiple addresses.",
	"sendtoaddress":          "sendtoaddress \"address\" amount - Send to an address.",
	"setpskeepamount":        "setpskeepamount amount - Set the mixing keep amount.",
	"setpsrounds":            "setpsrounds rounds - Set the target number of mixing rounds.",
	"signmessage":            "signmessage \"address\" \"message\" - Sign a message with an address key.",
	"startmixing":            "startmixing - Start PrivateSend mixing.",
	"stopmixing":             "stopmixing - Stop PrivateSend mixing.",
	"validateaddress":        "validateaddress \"address\" - Return information about an address.",
	"verifymessage":          "verifymessage \"address\" \"signature\" \"message\" - Verify a signed message.",
	"walletislocked":         "walletislocked - Return whether the wallet is locked.",
	"walletlock":             "walletlock - Lock the wallet.",
	"walletpassphrase":       "walletpassphrase \"passphrase\" timeout - Unlock the wallet.",
	"walletpassphrasechange": "walletpassphrasechange \"old\" \"new\" - Change the wallet passphrase.",
}

// help handles the help request by returning one line usage for all available
// methods, or full help for a specific method when provided.
func help(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.HelpCmd)

	if cmd.Command == nil || *cmd.Command == "" {
		methods := make([]string, 0, len(helpDescs))
		for method := range helpDescs {
			methods = append(methods, method)
		}
		sort.Strings(methods)
		usages := make([]string, len(methods))
		for i, method := range methods {
			usages[i] = helpDescs[method]
		}
		return strings.Join(usages, "\n"), nil
	}

	desc, ok := helpDescs[*cmd.Command]
	if !ok {
		return nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCInvalidParameter,
			Message: fmt.Sprintf("No help for method '%s'", *cmd.Command),
		}
	}
	return desc, nil
}
