// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/kiirocoin/kiirowallet/chain"
	"github.com/kiirocoin/kiirowallet/headerstore"
	"github.com/kiirocoin/kiirowallet/keystore"
	"github.com/kiirocoin/kiirowallet/masternode"
	"github.com/kiirocoin/kiirowallet/netparams"
	"github.com/kiirocoin/kiirowallet/privatesend"
	"github.com/kiirocoin/kiirowallet/txstore"
	"github.com/kiirocoin/kiirowallet/wallet/txauthor"
	"github.com/kiirocoin/kiirowallet/wallet/txrules"
	"github.com/kiirocoin/kiirowallet/walletdb"
	"github.com/kiirocoin/kiirowallet/walletdb/migration"
)

const (
	// InsecurePubPassphrase is the default outer encryption passphrase used
	// for public data.  Using a non-default public passphrase can prevent
	// an attacker without the public passphrase from discovering all past
	// and future wallet addresses if they gain access to the wallet
	// database.
	//
	// NOTE: at time of writing, public encryption only applies to public
	// data in the keystore namespace.  Transactions are not yet encrypted.
	InsecurePubPassphrase = "public"

	// messageSignatureHeader is the magic prepended to messages before
	// hashing and signing them with a wallet key.  Kiiro inherits the
	// Zcoin magic from its ancestor chain.
	messageSignatureHeader = "Zcoin Signed Message:\n"
)

// ErrNotSynced describes an error where an operation cannot complete due to
// the wallet not being synchronized with the chain server.
var ErrNotSynced = errors.New("wallet is not synchronized with the chain server")

// ErrWatchingOnly describes an error for operations requiring private key
// material from a watching-only wallet.
var ErrWatchingOnly = errors.New("wallet is watching-only")

// watchedAddress pairs a subscribed address with its derivation branch, which
// determines whether outputs paying it are change.
type watchedAddress struct {
	addr   btcutil.Address
	branch uint32
}

// Wallet is a structure containing all the components for a complete wallet.
// It contains the Armory-style key store addresses and keys.
type Wallet struct {
	publicPassphrase []byte

	// Data stores
	db          walletdb.DB
	KeyStore    *keystore.Manager
	TxStore     *txstore.Store
	Headers     *headerstore.Store
	Masternodes *masternode.Manager
	PrivateSend *privatesend.Manager

	chainClient        chain.Interface
	chainClientLock    sync.Mutex
	chainClientSynced  bool
	chainClientSyncMtx sync.Mutex

	lockedOutpoints map[wire.OutPoint]struct{}

	// watched indexes every subscribed script hash back to its address.
	watchedMtx sync.Mutex
	watched    map[string]watchedAddress

	relayFeeMtx sync.Mutex
	relayFee    btcutil.Amount

	// Channel for transaction creation requests.
	createTxRequests chan createTxRequest

	// Channels for the keystore locker.
	unlockRequests     chan unlockRequest
	lockRequests       chan struct{}
	holdUnlockRequests chan chan heldUnlock
	lockState          chan bool
	changePassphrase   chan changePassphraseRequest

	NtfnServer *NotificationServer

	// Mixer goroutine lifetime.
	mixMtx  sync.Mutex
	mixQuit chan struct{}

	chainParams *netparams.Params
	wg          sync.WaitGroup

	headersClose sync.Once

	started bool
	quit    chan struct{}
	quitMu  sync.Mutex
}

// Open loads an already-created wallet from the passed database and the
// header store file path.
func Open(db walletdb.DB, pubPass []byte, params *netparams.Params,
	headersPath string) (*Wallet, error) {

	// Before opening the wallet, bring the database up to the latest
	// version of each store.  The upgrades happen within a single
	// transaction so a failed migration never leaves a store half
	// upgraded.
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ksUpgrader := keystore.NewMigrationManager(
			tx.ReadWriteBucket(keystoreNamespaceKey))
		tsUpgrader := txstore.NewMigrationManager(
			tx.ReadWriteBucket(txstoreNamespaceKey))
		return migration.Upgrade(tsUpgrader, ksUpgrader)
	})
	if err != nil {
		return nil, err
	}

	var ks *keystore.Manager
	var ts *txstore.Store
	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		var err error
		ks, err = keystore.Open(tx.ReadBucket(keystoreNamespaceKey),
			pubPass, params)
		if err != nil {
			return err
		}
		ts, err = txstore.Open(tx.ReadBucket(txstoreNamespaceKey))
		return err
	})
	if err != nil {
		return nil, err
	}

	headers, err := headerstore.Open(headersPath, params)
	if err != nil {
		return nil, err
	}

	testnet := params.Name != "mainnet"
	w := &Wallet{
		publicPassphrase:   pubPass,
		db:                 db,
		KeyStore:           ks,
		TxStore:            ts,
		Headers:            headers,
		Masternodes:        masternode.NewManager(params),
		PrivateSend:        privatesend.NewManager(testnet, ks.WatchingOnly()),
		lockedOutpoints:    map[wire.OutPoint]struct{}{},
		watched:            map[string]watchedAddress{},
		relayFee:           defaultRelayFee,
		createTxRequests:   make(chan createTxRequest),
		unlockRequests:     make(chan unlockRequest),
		lockRequests:       make(chan struct{}),
		holdUnlockRequests: make(chan chan heldUnlock),
		lockState:          make(chan bool),
		changePassphrase:   make(chan changePassphraseRequest),
		chainParams:        params,
		quit:               make(chan struct{}),
	}
	w.NtfnServer = newNotificationServer(w)
	return w, nil
}

// Start starts the goroutines necessary to manage a wallet.
func (w *Wallet) Start() {
	w.quitMu.Lock()
	select {
	case <-w.quit:
		// Restart the wallet goroutines after shutdown finishes.
		w.WaitForShutdown()
		w.quit = make(chan struct{})
	default:
		// Ignore when the wallet is still running.
		if w.started {
			w.quitMu.Unlock()
			return
		}
		w.started = true
	}
	w.quitMu.Unlock()

	w.wg.Add(2)
	go w.txCreator()
	go w.walletLocker()
}

// SynchronizeRPC associates the wallet with the consensus RPC client,
// synchronizes the wallet with the latest changes to the blockchain, and
// continuously updates the wallet through RPC notifications.
func (w *Wallet) SynchronizeRPC(chainClient chain.Interface) {
	w.quitMu.Lock()
	select {
	case <-w.quit:
		w.quitMu.Unlock()
		return
	default:
	}
	w.quitMu.Unlock()

	w.chainClientLock.Lock()
	if w.chainClient != nil {
		w.chainClientLock.Unlock()
		return
	}
	w.chainClient = chainClient
	w.chainClientLock.Unlock()

	log.Infof("Synchronizing wallet with the %s backend",
		chainClient.BackEnd())

	w.wg.Add(1)
	go w.handleChainNotifications()
}

// requireChainClient marks that a wallet method can only be completed when the
// consensus RPC server is set.  This function and all functions that call it
// are unstable and will need to be moved when the syncing code is moved out of
// the wallet.
func (w *Wallet) requireChainClient() (chain.Interface, error) {
	w.chainClientLock.Lock()
	chainClient := w.chainClient
	w.chainClientLock.Unlock()
	if chainClient == nil {
		return nil, errors.New("blockchain RPC is inactive")
	}
	return chainClient, nil
}

// ChainClient returns the optional consensus RPC client associated with the
// wallet.
func (w *Wallet) ChainClient() chain.Interface {
	w.chainClientLock.Lock()
	chainClient := w.chainClient
	w.chainClientLock.Unlock()
	return chainClient
}

// quitChan atomically reads the quit channel.
func (w *Wallet) quitChan() <-chan struct{} {
	w.quitMu.Lock()
	c := w.quit
	w.quitMu.Unlock()
	return c
}

// Stop signals all wallet goroutines to shutdown.
func (w *Wallet) Stop() {
	w.quitMu.Lock()
	quit := w.quit
	w.quitMu.Unlock()

	select {
	case <-quit:
	default:
		close(quit)
		w.chainClientLock.Lock()
		if w.chainClient != nil {
			w.chainClient.Stop()
			w.chainClient = nil
		}
		w.chainClientLock.Unlock()
	}
}

// ShuttingDown returns whether the wallet is currently in the process of
// shutting down or not.
func (w *Wallet) ShuttingDown() bool {
	select {
	case <-w.quitChan():
		return true
	default:
		return false
	}
}

// WaitForShutdown blocks until all wallet goroutines have finished executing.
func (w *Wallet) WaitForShutdown() {
	w.chainClientLock.Lock()
	if w.chainClient != nil {
		w.chainClient.WaitForShutdown()
	}
	w.chainClientLock.Unlock()
	w.wg.Wait()
	w.headersClose.Do(func() {
		if err := w.Headers.Close(); err != nil {
			log.Warnf("Error closing header store: %v", err)
		}
	})
}

// ChainSynced returns whether the wallet has been attached to a chain server
// and synced up to the best block on the main chain.
func (w *Wallet) ChainSynced() bool {
	w.chainClientSyncMtx.Lock()
	synced := w.chainClientSynced
	w.chainClientSyncMtx.Unlock()
	return synced
}

// SetChainSynced marks whether the wallet is connected to and currently in
// sync with the latest block notified by the chain server.
func (w *Wallet) SetChainSynced(synced bool) {
	w.chainClientSyncMtx.Lock()
	w.chainClientSynced = synced
	w.chainClientSyncMtx.Unlock()
}

// Database returns the underlying walletdb database.  This method is provided
// so the database can be referenced by the RPC servers.
func (w *Wallet) Database() walletdb.DB {
	return w.db
}

// ChainParams returns the network parameters for the blockchain the wallet
// belongs to.
func (w *Wallet) ChainParams() *netparams.Params {
	return w.chainParams
}

// SyncedTo returns the height the header store has been synchronized through.
func (w *Wallet) SyncedTo() int32 {
	return w.Headers.Height()
}

// defaultRelayFee mirrors the relay fee used before the first relayfee
// response from the server arrives.
const defaultRelayFee = btcutil.Amount(1e3)

// RelayFee returns the current minimum relay fee in duffs per kilobyte.
func (w *Wallet) RelayFee() btcutil.Amount {
	w.relayFeeMtx.Lock()
	fee := w.relayFee
	w.relayFeeMtx.Unlock()
	return fee
}

// SetRelayFee sets the minimum relay fee in duffs per kilobyte.
func (w *Wallet) SetRelayFee(fee btcutil.Amount) {
	w.relayFeeMtx.Lock()
	w.relayFee = fee
	w.relayFeeMtx.Unlock()
}

type (
	createTxRequest struct {
		outputs     []*wire.TxOut
		minconf     int32
		feeSatPerKB btcutil.Amount
		resp        chan createTxResponse
	}
	createTxResponse struct {
		tx  *txauthor.AuthoredTx
		err error
	}
)

// txCreator is responsible for the input selection and creation of
// transactions.  These functions are the responsibility of this method
// (designed to be run as its own goroutine) since input selection must be
// serialized, or else it is possible to create double spends by choosing the
// same inputs for multiple transactions.  Along with input selection, this
// method is also responsible for the signing of transactions, since we don't
// want to end up in a situation where we run out of inputs as multiple
// transactions are being created.  In this situation, it would then be
// possible for both requests, rather than just one, to fail due to not enough
// available inputs.
func (w *Wallet) txCreator() {
	quit := w.quitChan()
out:
	for {
		select {
		case txr := <-w.createTxRequests:
			heldUnlock, err := w.holdUnlock()
			if err != nil {
				txr.resp <- createTxResponse{nil, err}
				continue
			}
			tx, err := w.txToOutputs(txr.outputs, txr.minconf,
				txr.feeSatPerKB)
			heldUnlock.release()
			txr.resp <- createTxResponse{tx, err}
		case <-quit:
			break out
		}
	}
	w.wg.Done()
}

// CreateSimpleTx creates a new signed transaction spending unspent P2PKH
// outputs with at least minconf confirmations spending to any number of
// address/amount pairs.  Change and an appropriate transaction fee are
// automatically included, if necessary.  All transaction creation through this
// function is serialized to prevent the creation of many transactions which
// spend the same outputs.
func (w *Wallet) CreateSimpleTx(outputs []*wire.TxOut, minconf int32,
	satPerKb btcutil.Amount) (*txauthor.AuthoredTx, error) {

	req := createTxRequest{
		outputs:     outputs,
		minconf:     minconf,
		feeSatPerKB: satPerKb,
		resp:        make(chan createTxResponse),
	}
	w.createTxRequests <- req
	resp := <-req.resp
	return resp.tx, resp.err
}

type (
	unlockRequest struct {
		passphrase []byte
		lockAfter  <-chan time.Time // nil prevents the timeout.
		err        chan error
	}

	changePassphraseRequest struct {
		new []byte
		err chan error
	}

	// heldUnlock is a tool to prevent the wallet from automatically
	// locking after some timeout before an operation which needed
	// the unlocked wallet has finished.  Any acquired heldUnlock
	// *must* be released (preferably with a defer) or the wallet
	// will forever remain unlocked.
	heldUnlock chan struct{}
)

// walletLocker manages the locked/unlocked state of a wallet.
func (w *Wallet) walletLocker() {
	var timeout <-chan time.Time
	holdChan := make(heldUnlock)
	quit := w.quitChan()
out:
	for {
		select {
		case req := <-w.unlockRequests:
			err := w.KeyStore.Unlock(req.passphrase)
			if err == nil {
				err = walletdb.View(w.db, func(tx walletdb.ReadTx) error {
					ns := tx.ReadBucket(keystoreNamespaceKey)
					return w.KeyStore.UnlockAccountKey(ns)
				})
			}
			if err != nil {
				req.err <- err
				continue
			}
			timeout = req.lockAfter
			if timeout == nil {
				log.Info("The wallet has been unlocked without a time limit")
			} else {
				log.Info("The wallet has been temporarily unlocked")
			}
			req.err <- nil
			continue

		case req := <-w.changePassphrase:
			err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
				ns := tx.ReadWriteBucket(keystoreNamespaceKey)
				return w.KeyStore.ChangePrivatePassphrase(
					ns, req.new, nil,
				)
			})
			req.err <- err
			continue

		case req := <-w.holdUnlockRequests:
			if w.KeyStore.IsLocked() {
				close(req)
				continue
			}

			req <- holdChan
			<-holdChan // Block until the lock is released.

			// If, after holding onto the unlocked wallet for some
			// time, the timeout has expired, lock it now instead
			// of hoping it gets unlocked next time the top level
			// select runs.
			select {
			case <-timeout:
				// Let the top level select fallthrough so the
				// wallet is locked.
			default:
				continue
			}

		case w.lockState <- w.KeyStore.IsLocked():
			continue

		case <-quit:
			break out

		case <-w.lockRequests:
		case <-timeout:
		}

		// Select statement fell through by an explicit lock or the
		// timer expiring.  Lock the manager here.
		timeout = nil
		w.KeyStore.Lock()
		log.Info("The wallet has been locked")
	}
	w.wg.Done()
}

// Unlock unlocks the wallet's key store and relocks it after timeout has
// expired.  If the wallet is already unlocked and the new passphrase is
// correct, the current timeout is replaced with the new one.  The wallet will
// be locked if the passphrase is incorrect or any other error occurs during
// the unlock.
func (w *Wallet) Unlock(passphrase []byte, lock <-chan time.Time) error {
	err := make(chan error, 1)
	w.unlockRequests <- unlockRequest{
		passphrase: passphrase,
		lockAfter:  lock,
		err:        err,
	}
	return <-err
}

// Lock locks the wallet's key store.
func (w *Wallet) Lock() {
	w.lockRequests <- struct{}{}
}

// Locked returns whether the wallet's key store is locked.
func (w *Wallet) Locked() bool {
	return <-w.lockState
}

// holdUnlock prevents the wallet from being locked.  The heldUnlock object
// *must* be released, or the wallet will forever remain unlocked.
func (w *Wallet) holdUnlock() (heldUnlock, error) {
	req := make(chan heldUnlock)
	w.holdUnlockRequests <- req
	hl, ok := <-req
	if !ok {
		return nil, keystore.KeystoreError{
			ErrorCode:   keystore.ErrLocked,
			Description: "keystore is locked",
		}
	}
	return hl, nil
}

// release releases the hold on the unlocked-state of the wallet and allows the
// wallet to be locked again.  If a lock timeout has already expired, the
// wallet is locked again as soon as release is called.
func (c heldUnlock) release() {
	c <- struct{}{}
}

// ChangePrivatePassphrase attempts to change the passphrase for a wallet from
// old to new.  Changing the passphrase is synchronized with all other keystore
// locking and unlocking, and the wallet must already be unlocked with the old
// passphrase.
func (w *Wallet) ChangePrivatePassphrase(new []byte) error {
	err := make(chan error, 1)
	w.changePassphrase <- changePassphraseRequest{
		new: new,
		err: err,
	}
	return <-err
}

// CalculateBalance sums the amounts of all unspent transaction outputs to
// addresses of a wallet and returns the balance.
func (w *Wallet) CalculateBalance(confirms int32) (btcutil.Amount, error) {
	var balance btcutil.Amount
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(txstoreNamespaceKey)
		var err error
		balance, err = w.TxStore.Balance(ns, confirms, w.SyncedTo())
		return err
	})
	return balance, err
}

// PrivateSendBalances returns the denominated and anonymized balances of the
// wallet.  An output is considered anonymized once it has been mixed for at
// least the configured number of rounds.
func (w *Wallet) PrivateSendBalances() (denominated, anonymized btcutil.Amount, err error) {
	err = walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		txNs := tx.ReadBucket(txstoreNamespaceKey)
		psNs := tx.ReadBucket(privatesendNamespaceKey)
		rounds := w.PrivateSend.MixRounds(psNs)
		var err error
		denominated, err = w.TxStore.BalanceMinRounds(txNs, 0, 0,
			w.SyncedTo())
		if err != nil {
			return err
		}
		anonymized, err = w.TxStore.BalanceMinRounds(txNs,
			int64(rounds), 0, w.SyncedTo())
		return err
	})
	return denominated, anonymized, err
}

// CurrentAddress gets the most recently requested payment address from the
// wallet, deriving a fresh one when every stored address has received a
// payment.  The address is subscribed with the chain server when one is
// associated.
func (w *Wallet) CurrentAddress() (btcutil.Address, error) {
	var addr btcutil.Address
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(keystoreNamespaceKey)
		var err error
		addr, err = w.KeyStore.UnusedAddress(ns)
		return err
	})
	if err != nil {
		return nil, err
	}
	w.watchAddress(addr, keystore.ExternalBranch)
	return addr, nil
}

// NewAddress returns the next external chained address for the wallet.
func (w *Wallet) NewAddress() (btcutil.Address, error) {
	return w.nextAddress(keystore.ExternalBranch)
}

// NewChangeAddress returns a new change address for the wallet.
func (w *Wallet) NewChangeAddress() (btcutil.Address, error) {
	return w.nextAddress(keystore.InternalBranch)
}

func (w *Wallet) nextAddress(branch uint32) (btcutil.Address, error) {
	var addr btcutil.Address
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(keystoreNamespaceKey)
		var err error
		addr, err = w.KeyStore.NextAddress(ns, branch)
		return err
	})
	if err != nil {
		return nil, err
	}
	w.watchAddress(addr, branch)
	return addr, nil
}

// AllAddresses returns every address stored by the wallet along with its
// derivation info.
func (w *Wallet) AllAddresses() ([]keystore.AddrInfo, error) {
	var infos []keystore.AddrInfo
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(keystoreNamespaceKey)
		var err error
		infos, err = w.KeyStore.ActiveAddresses(ns)
		return err
	})
	return infos, err
}

// SortedActivePaymentAddresses returns a slice of all active payment
// addresses in a wallet.
func (w *Wallet) SortedActivePaymentAddresses() ([]string, error) {
	infos, err := w.AllAddresses()
	if err != nil {
		return nil, err
	}
	addrStrs := make([]string, 0, len(infos))
	for _, info := range infos {
		addrStrs = append(addrStrs, info.Address.EncodeAddress())
	}
	sort.Strings(addrStrs)
	return addrStrs, nil
}

// HaveAddress returns whether the wallet is the owner of the address a.
func (w *Wallet) HaveAddress(a btcutil.Address) (bool, error) {
	var owned bool
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(keystoreNamespaceKey)
		owned = w.KeyStore.OwnsAddress(ns, a)
		return nil
	})
	return owned, err
}

// PubKeyForAddress looks up the associated public key for a P2PKH address.
func (w *Wallet) PubKeyForAddress(a btcutil.Address) (*btcec.PublicKey, error) {
	var pubKey *btcec.PublicKey
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(keystoreNamespaceKey)
		var err error
		pubKey, err = w.KeyStore.PubKeyForAddress(ns, a)
		return err
	})
	return pubKey, err
}

// PrivKeyForAddress looks up the associated private key for a P2PKH address.
// The wallet must be unlocked.
func (w *Wallet) PrivKeyForAddress(a btcutil.Address) (*btcec.PrivateKey, error) {
	var privKey *btcec.PrivateKey
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(keystoreNamespaceKey)
		var err error
		privKey, err = w.KeyStore.PrivKeyForAddress(ns, a)
		return err
	})
	return privKey, err
}

// DumpWIFPrivateKey returns the WIF encoded private key for a single wallet
// address.
func (w *Wallet) DumpWIFPrivateKey(addr btcutil.Address) (string, error) {
	privKey, err := w.PrivKeyForAddress(addr)
	if err != nil {
		return "", err
	}
	wif, err := btcutil.NewWIF(privKey, w.chainParams.Params, true)
	if err != nil {
		return "", err
	}
	return wif.String(), nil
}

// Seed returns the wallet generation seed.  The wallet must be unlocked.
func (w *Wallet) Seed() ([]byte, error) {
	var seed []byte
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(keystoreNamespaceKey)
		var err error
		seed, err = w.KeyStore.Seed(ns)
		return err
	})
	return seed, err
}

// SignMessage signs a message with the private key of a wallet address,
// prefixing it with the network's message magic.  The wallet must be
// unlocked.
func (w *Wallet) SignMessage(addr btcutil.Address, message string) ([]byte, error) {
	privKey, err := w.PrivKeyForAddress(addr)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	wire.WriteVarString(&buf, 0, messageSignatureHeader)
	wire.WriteVarString(&buf, 0, message)
	messageHash := chainhash.DoubleHashB(buf.Bytes())
	return btcec.SignCompact(btcec.S256(), privKey, messageHash, true)
}

// VerifyMessage recovers the public key from a compact message signature and
// checks it matches the given address.
func VerifyMessage(addr btcutil.Address, sig []byte, message string,
	params *netparams.Params) (bool, error) {

	var buf bytes.Buffer
	wire.WriteVarString(&buf, 0, messageSignatureHeader)
	wire.WriteVarString(&buf, 0, message)
	messageHash := chainhash.DoubleHashB(buf.Bytes())
	pk, wasCompressed, err := btcec.RecoverCompact(btcec.S256(), sig,
		messageHash)
	if err != nil {
		return false, err
	}
	var serialized []byte
	if wasCompressed {
		serialized = pk.SerializeCompressed()
	} else {
		serialized = pk.SerializeUncompressed()
	}
	recovered, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(serialized), params.Params)
	if err != nil {
		return false, err
	}
	return recovered.EncodeAddress() == addr.EncodeAddress(), nil
}

// LockedOutpoint returns whether an outpoint has been marked as locked and
// should not be used as an input for created transactions.
func (w *Wallet) LockedOutpoint(op wire.OutPoint) bool {
	_, locked := w.lockedOutpoints[op]
	return locked
}

// LockOutpoint marks an outpoint as locked, that is, it should not be used as
// an input for newly created transactions.
func (w *Wallet) LockOutpoint(op wire.OutPoint) {
	w.lockedOutpoints[op] = struct{}{}
}

// UnlockOutpoint marks an outpoint as unlocked, that is, it may be used as an
// input for newly created transactions.
func (w *Wallet) UnlockOutpoint(op wire.OutPoint) {
	delete(w.lockedOutpoints, op)
}

// ResetLockedOutpoints resets the set of locked outpoints so all may be used
// as inputs for new transactions.
func (w *Wallet) ResetLockedOutpoints() {
	w.lockedOutpoints = map[wire.OutPoint]struct{}{}
}

// LockedOutpoints returns a slice of currently locked outpoints.
func (w *Wallet) LockedOutpoints() []wire.OutPoint {
	locked := make([]wire.OutPoint, 0, len(w.lockedOutpoints))
	for op := range w.lockedOutpoints {
		locked = append(locked, op)
	}
	return locked
}

// UnspentOutputs returns the unspent outputs tracked by the wallet, sorted in
// no particular order.
func (w *Wallet) UnspentOutputs() ([]txstore.Credit, error) {
	var credits []txstore.Credit
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(txstoreNamespaceKey)
		var err error
		credits, err = w.TxStore.UnspentOutputs(ns)
		return err
	})
	return credits, err
}

// PublishTransaction stores the transaction as unmined and sends it to the
// consensus RPC server so it can be propagated to other nodes.  If the
// server rejects the transaction, the wallet's record of it is removed again
// so the outputs it spends are not treated as double spent.
func (w *Wallet) PublishTransaction(tx *wire.MsgTx) (*chainhash.Hash, error) {
	chainClient, err := w.requireChainClient()
	if err != nil {
		return nil, err
	}

	rec, err := txstore.NewTxRecordFromMsgTx(tx, time.Now())
	if err != nil {
		return nil, err
	}
	err = walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		return w.addRelevantTx(dbtx, rec, nil)
	})
	if err != nil {
		return nil, err
	}

	txHash, err := chainClient.SendRawTransaction(tx)
	if err != nil {
		dbErr := walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
			ns := dbtx.ReadWriteBucket(txstoreNamespaceKey)
			return w.TxStore.RemoveUnminedTx(ns, rec)
		})
		if dbErr != nil {
			log.Warnf("Failed to remove rejected transaction %v: "+
				"%v", rec.Hash, dbErr)
		} else {
			log.Infof("Removed rejected tx: %v", spew.Sdump(tx))
		}
		return nil, err
	}
	return txHash, nil
}

// SendOutputs creates and sends payment transactions.  It returns the
// transaction upon success.
func (w *Wallet) SendOutputs(outputs []*wire.TxOut, minconf int32,
	satPerKb btcutil.Amount) (*wire.MsgTx, error) {

	// Ensure the outputs to be created adhere to the network's consensus
	// rules.
	relayFee := w.RelayFee()
	for _, output := range outputs {
		if err := txrules.CheckOutput(output, relayFee); err != nil {
			return nil, err
		}
	}

	// Create the transaction and broadcast it to the network.  The
	// transaction will be added to the database in order to ensure that we
	// continue to re-broadcast the transaction upon restarts until it has
	// been confirmed.
	createdTx, err := w.CreateSimpleTx(outputs, minconf, satPerKb)
	if err != nil {
		return nil, err
	}
	if _, err := w.PublishTransaction(createdTx.Tx); err != nil {
		return nil, err
	}
	return createdTx.Tx, nil
}

// headerTimestamp extracts the timestamp from a raw header.  All Kiiro header
// formats begin with the 80 byte core layout, placing the timestamp at byte
// offset 68.
func headerTimestamp(raw []byte) time.Time {
	if len(raw) < 72 {
		return time.Time{}
	}
	ts := binary.LittleEndian.Uint32(raw[68:72])
	return time.Unix(int64(ts), 0)
}

// headerHash computes the hash of a raw header.  Only the core 80 byte layout
// participates in hashing for the formats that extend it.
func headerHash(raw []byte) chainhash.Hash {
	if len(raw) > 80 {
		raw = raw[:80]
	}
	return chainhash.DoubleHashH(raw)
}

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
