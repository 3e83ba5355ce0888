// Copyright (c) 2014-2017 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keystore provides the encrypted BIP44 account keystore used by the
// wallet.  A single standard account is derived from the wallet generation
// seed at the path m/44'/coin'/0'.  All private material is encrypted with a
// crypto key which is itself wrapped by a passphrase-derived master key, so
// the keystore can serve addresses and public keys while locked and only
// requires the private passphrase for signing and seed export.
package keystore

import (
	"sync"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/kiirocoin/kiirowallet/internal/zero"
	"github.com/kiirocoin/kiirowallet/netparams"
	"github.com/kiirocoin/kiirowallet/snacl"
	"github.com/kiirocoin/kiirowallet/walletdb"
)

const (
	// ExternalBranch is the child number used to derive external
	// (receiving) addresses.
	ExternalBranch uint32 = 0

	// InternalBranch is the child number used to derive internal (change)
	// addresses.
	InternalBranch uint32 = 1

	// DefaultGapLimit is the number of consecutive unused addresses the
	// wallet keeps derived and subscribed past the last used one.
	DefaultGapLimit uint32 = 20

	// bip44Purpose is the BIP43 purpose field for BIP44 derivation.
	bip44Purpose = 44
)

// Options holds the scrypt options used when deriving the master keys.  They
// exist so tests can lower the parameters.
type Options struct {
	ScryptN int
	ScryptR int
	ScryptP int
}

// DefaultOptions returns the scrypt options used in production.
func DefaultOptions() *Options {
	return &Options{
		ScryptN: snacl.DefaultN,
		ScryptR: snacl.DefaultR,
		ScryptP: snacl.DefaultP,
	}
}

// Manager represents an open keystore.  All of its methods are safe for
// concurrent access.
type Manager struct {
	mtx sync.RWMutex

	chainParams *netparams.Params

	// Master key parameters.  masterKeyPriv only holds derived key
	// material while the keystore is unlocked.
	masterKeyPub  *snacl.SecretKey
	masterKeyPriv *snacl.SecretKey

	cryptoKeyPub     *snacl.CryptoKey
	cryptoKeyPrivEnc []byte
	cryptoKeyPriv    *snacl.CryptoKey

	// acctPubKey is the neutered account key.  acctPrivKey is only
	// populated while unlocked on a non watching-only keystore.
	acctPubKey  *hdkeychain.ExtendedKey
	acctPrivKey *hdkeychain.ExtendedKey

	// Cached neutered branch keys.
	branchPubKeys map[uint32]*hdkeychain.ExtendedKey

	watchingOnly bool
	locked       bool
}

// deriveAccountKey derives the BIP44 account key m/44'/coin'/0' from the
// master node.
func deriveAccountKey(root *hdkeychain.ExtendedKey, coinType uint32) (*hdkeychain.ExtendedKey, error) {
	purpose, err := root.Child(bip44Purpose + hdkeychain.HardenedKeyStart)
	if err != nil {
		return nil, err
	}
	defer purpose.Zero()
	coin, err := purpose.Child(coinType + hdkeychain.HardenedKeyStart)
	if err != nil {
		return nil, err
	}
	defer coin.Zero()
	return coin.Child(0 + hdkeychain.HardenedKeyStart)
}

// Create creates a new keystore in the given namespace from the wallet
// generation seed.  Both the public and private passphrases are required; the
// public passphrase may be a hardcoded default when no additional public data
// encryption is desired.
func Create(ns walletdb.ReadWriteBucket, seed, pubPass, privPass []byte,
	params *netparams.Params, opts *Options) error {

	if opts == nil {
		opts = DefaultOptions()
	}
	if err := createBuckets(ns); err != nil {
		return err
	}

	root, err := hdkeychain.NewMaster(seed, params.Params)
	if err != nil {
		return keystoreError(ErrKeyChain,
			"failed to derive master key", err)
	}
	defer root.Zero()
	acctKey, err := deriveAccountKey(root, params.HDCoinType)
	if err != nil {
		return keystoreError(ErrKeyChain,
			"failed to derive account key", err)
	}
	defer acctKey.Zero()
	acctPubKey, err := acctKey.Neuter()
	if err != nil {
		return keystoreError(ErrKeyChain,
			"failed to neuter account key", err)
	}

	return create(ns, acctPubKey, acctKey, seed, pubPass, privPass, opts)
}

// CreateWatchingOnly creates a new watching-only keystore in the given
// namespace from an exported account public key.  No private material is
// stored and all signing operations will fail with ErrWatchingOnly.
func CreateWatchingOnly(ns walletdb.ReadWriteBucket, acctXPub string,
	pubPass []byte, params *netparams.Params, opts *Options) error {

	if opts == nil {
		opts = DefaultOptions()
	}
	if err := createBuckets(ns); err != nil {
		return err
	}

	acctPubKey, err := hdkeychain.NewKeyFromString(acctXPub)
	if err != nil {
		return keystoreError(ErrKeyChain,
			"failed to parse account key", err)
	}
	if acctPubKey.IsPrivate() {
		return keystoreError(ErrKeyChain,
			"account key must be an extended public key", nil)
	}

	return create(ns, acctPubKey, nil, nil, pubPass, pubPass, opts)
}

// create stores the master keys, crypto keys, account keys, and seed for a
// new keystore.  acctPrivKey and seed are nil for watching-only keystores.
func create(ns walletdb.ReadWriteBucket, acctPubKey,
	acctPrivKey *hdkeychain.ExtendedKey, seed, pubPass, privPass []byte,
	opts *Options) error {

	// Generate the master keys from the passphrases.
	masterKeyPub, err := snacl.NewSecretKey(&pubPass, opts.ScryptN,
		opts.ScryptR, opts.ScryptP)
	if err != nil {
		return keystoreError(ErrCrypto,
			"failed to derive master public key", err)
	}
	defer masterKeyPub.Zero()
	masterKeyPriv, err := snacl.NewSecretKey(&privPass, opts.ScryptN,
		opts.ScryptR, opts.ScryptP)
	if err != nil {
		return keystoreError(ErrCrypto,
			"failed to derive master private key", err)
	}
	defer masterKeyPriv.Zero()

	// Generate the crypto keys that protect the account keys and seed.
	cryptoKeyPub, err := snacl.GenerateCryptoKey()
	if err != nil {
		return keystoreError(ErrCrypto,
			"failed to generate crypto public key", err)
	}
	defer cryptoKeyPub.Zero()
	cryptoKeyPriv, err := snacl.GenerateCryptoKey()
	if err != nil {
		return keystoreError(ErrCrypto,
			"failed to generate crypto private key", err)
	}
	defer cryptoKeyPriv.Zero()

	cryptoKeyPubEnc, err := masterKeyPub.Encrypt(cryptoKeyPub[:])
	if err != nil {
		return keystoreError(ErrCrypto,
			"failed to encrypt crypto public key", err)
	}
	cryptoKeyPrivEnc, err := masterKeyPriv.Encrypt(cryptoKeyPriv[:])
	if err != nil {
		return keystoreError(ErrCrypto,
			"failed to encrypt crypto private key", err)
	}

	acctPubEnc, err := cryptoKeyPub.Encrypt([]byte(acctPubKey.String()))
	if err != nil {
		return keystoreError(ErrCrypto,
			"failed to encrypt account public key", err)
	}
	var acctPrivEnc []byte
	if acctPrivKey != nil {
		acctPrivEnc, err = cryptoKeyPriv.Encrypt(
			[]byte(acctPrivKey.String()))
		if err != nil {
			return keystoreError(ErrCrypto,
				"failed to encrypt account private key", err)
		}
	}

	err = putMasterKeyParams(ns, masterKeyPub.Marshal(),
		masterKeyPriv.Marshal())
	if err != nil {
		return err
	}
	if err := putCryptoKeys(ns, cryptoKeyPubEnc, cryptoKeyPrivEnc); err != nil {
		return err
	}
	if err := putAccountKeys(ns, acctPubEnc, acctPrivEnc); err != nil {
		return err
	}
	if seed != nil {
		seedEnc, err := cryptoKeyPriv.Encrypt(seed)
		if err != nil {
			return keystoreError(ErrCrypto,
				"failed to encrypt seed", err)
		}
		if err := putEncryptedSeed(ns, seedEnc); err != nil {
			return err
		}
	}
	return putWatchingOnly(ns, acctPrivKey == nil)
}

// Open loads an existing keystore from the given namespace.  The public
// passphrase is required to decrypt the public account key.  The keystore is
// returned locked.
func Open(ns walletdb.ReadBucket, pubPass []byte, params *netparams.Params) (*Manager, error) {
	if ns.Get(versionName) == nil {
		return nil, keystoreError(ErrNoExist,
			"keystore does not exist", nil)
	}

	masterPubParams, masterPrivParams, err := fetchMasterKeyParams(ns)
	if err != nil {
		return nil, err
	}
	var masterKeyPub snacl.SecretKey
	if err := masterKeyPub.Unmarshal(masterPubParams); err != nil {
		return nil, keystoreError(ErrCrypto,
			"failed to unmarshal master public key", err)
	}
	if err := masterKeyPub.DeriveKey(&pubPass); err != nil {
		if err == snacl.ErrInvalidPassword {
			return nil, keystoreError(ErrWrongPassphrase,
				"invalid public passphrase", err)
		}
		return nil, keystoreError(ErrCrypto,
			"failed to derive master public key", err)
	}
	var masterKeyPriv snacl.SecretKey
	if err := masterKeyPriv.Unmarshal(masterPrivParams); err != nil {
		return nil, keystoreError(ErrCrypto,
			"failed to unmarshal master private key", err)
	}

	cryptoKeyPubEnc, cryptoKeyPrivEnc, err := fetchCryptoKeys(ns)
	if err != nil {
		return nil, err
	}
	cryptoKeyPubBytes, err := masterKeyPub.Decrypt(cryptoKeyPubEnc)
	if err != nil {
		return nil, keystoreError(ErrCrypto,
			"failed to decrypt crypto public key", err)
	}
	var cryptoKeyPub snacl.CryptoKey
	copy(cryptoKeyPub[:], cryptoKeyPubBytes)
	zero.Bytes(cryptoKeyPubBytes)

	acctPubEnc, _, err := fetchAccountKeys(ns)
	if err != nil {
		return nil, err
	}
	acctPubStr, err := cryptoKeyPub.Decrypt(acctPubEnc)
	if err != nil {
		return nil, keystoreError(ErrCrypto,
			"failed to decrypt account public key", err)
	}
	acctPubKey, err := hdkeychain.NewKeyFromString(string(acctPubStr))
	if err != nil {
		return nil, keystoreError(ErrKeyChain,
			"failed to parse account public key", err)
	}
	watchingOnly, err := fetchWatchingOnly(ns)
	if err != nil {
		return nil, err
	}

	return &Manager{
		chainParams:      params,
		masterKeyPub:     &masterKeyPub,
		masterKeyPriv:    &masterKeyPriv,
		cryptoKeyPub:     &cryptoKeyPub,
		cryptoKeyPrivEnc: cryptoKeyPrivEnc,
		acctPubKey:       acctPubKey,
		branchPubKeys:    make(map[uint32]*hdkeychain.ExtendedKey),
		watchingOnly:     watchingOnly,
		locked:           true,
	}, nil
}

// ChainParams returns the network parameters of the keystore.
func (m *Manager) ChainParams() *netparams.Params {
	return m.chainParams
}

// WatchingOnly returns whether the keystore holds no private material.
func (m *Manager) WatchingOnly() bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.watchingOnly
}

// IsLocked returns whether the keystore is locked.
func (m *Manager) IsLocked() bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.locked
}

// AccountPubKey returns the extended public key of the wallet account.
func (m *Manager) AccountPubKey() *hdkeychain.ExtendedKey {
	return m.acctPubKey
}

// Lock zeroes all private key material held in memory.  It is a no-op on an
// already locked keystore.
func (m *Manager) Lock() {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.locked || m.watchingOnly {
		return
	}
	m.locked = true
	if m.cryptoKeyPriv != nil {
		m.cryptoKeyPriv.Zero()
		m.cryptoKeyPriv = nil
	}
	if m.acctPrivKey != nil {
		m.acctPrivKey.Zero()
		m.acctPrivKey = nil
	}
	m.masterKeyPriv.Zero()
}

// Unlock derives the master private key from the passphrase and decrypts the
// account private key.  ErrWrongPassphrase is returned for an invalid
// passphrase and ErrWatchingOnly when the keystore has no private material.
func (m *Manager) Unlock(privPass []byte) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.watchingOnly {
		return keystoreError(ErrWatchingOnly,
			"keystore is watching-only", nil)
	}

	if err := m.masterKeyPriv.DeriveKey(&privPass); err != nil {
		if err == snacl.ErrInvalidPassword {
			return keystoreError(ErrWrongPassphrase,
				"invalid private passphrase", err)
		}
		return keystoreError(ErrCrypto,
			"failed to derive master private key", err)
	}

	cryptoKeyPrivBytes, err := m.masterKeyPriv.Decrypt(m.cryptoKeyPrivEnc)
	if err != nil {
		return keystoreError(ErrCrypto,
			"failed to decrypt crypto private key", err)
	}
	var cryptoKeyPriv snacl.CryptoKey
	copy(cryptoKeyPriv[:], cryptoKeyPrivBytes)
	zero.Bytes(cryptoKeyPrivBytes)
	m.cryptoKeyPriv = &cryptoKeyPriv

	m.locked = false
	return nil
}

// UnlockAccountKey decrypts the account private key within a database view.
// It must be called after Unlock before any signing operation.  Separating
// the database read lets Unlock itself remain database-free.
func (m *Manager) UnlockAccountKey(ns walletdb.ReadBucket) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.locked {
		return keystoreError(ErrLocked, "keystore is locked", nil)
	}
	if m.acctPrivKey != nil {
		return nil
	}

	_, acctPrivEnc, err := fetchAccountKeys(ns)
	if err != nil {
		return err
	}
	if acctPrivEnc == nil {
		return keystoreError(ErrWatchingOnly,
			"no account private key stored", nil)
	}
	acctPrivStr, err := m.cryptoKeyPriv.Decrypt(acctPrivEnc)
	if err != nil {
		return keystoreError(ErrCrypto,
			"failed to decrypt account private key", err)
	}
	acctPrivKey, err := hdkeychain.NewKeyFromString(string(acctPrivStr))
	zero.Bytes(acctPrivStr)
	if err != nil {
		return keystoreError(ErrKeyChain,
			"failed to parse account private key", err)
	}
	m.acctPrivKey = acctPrivKey
	return nil
}

// branchPubKey returns the neutered branch key for the given branch, deriving
// and caching it on first use.
func (m *Manager) branchPubKey(branch uint32) (*hdkeychain.ExtendedKey, error) {
	if key, ok := m.branchPubKeys[branch]; ok {
		return key, nil
	}
	key, err := m.acctPubKey.Child(branch)
	if err != nil {
		return nil, keystoreError(ErrKeyChain,
			"failed to derive branch key", err)
	}
	m.branchPubKeys[branch] = key
	return key, nil
}

// deriveAddress derives the address public key at branch/index.  Invalid
// children are reported so callers can skip the index.
func (m *Manager) deriveAddress(branch, index uint32) (*btcutil.AddressPubKeyHash, error) {
	branchKey, err := m.branchPubKey(branch)
	if err != nil {
		return nil, err
	}
	childKey, err := branchKey.Child(index)
	if err != nil {
		return nil, keystoreError(ErrKeyChain,
			"failed to derive child key", err)
	}
	return childKey.Address(m.chainParams.Params)
}

// NextAddress derives, stores, and returns the next address of the given
// branch.  Indexes which fail child derivation are skipped, matching BIP32.
func (m *Manager) NextAddress(ns walletdb.ReadWriteBucket, branch uint32) (btcutil.Address, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.nextAddress(ns, branch)
}

func (m *Manager) nextAddress(ns walletdb.ReadWriteBucket, branch uint32) (btcutil.Address, error) {
	index := fetchNextIndex(ns, branch)
	for {
		addr, err := m.deriveAddress(branch, index)
		if err != nil {
			if IsError(err, ErrKeyChain) &&
				err.(KeystoreError).Err == hdkeychain.ErrInvalidChild {
				index++
				continue
			}
			return nil, err
		}

		row := &addrRow{branch: branch, index: index}
		if err := putAddr(ns, addr.Hash160()[:], row); err != nil {
			return nil, err
		}
		if err := putNextIndex(ns, branch, index+1); err != nil {
			return nil, err
		}
		return addr, nil
	}
}

// UnusedAddress returns the first stored external address which has not been
// marked used, deriving a fresh one when every stored address is used.
func (m *Manager) UnusedAddress(ns walletdb.ReadWriteBucket) (btcutil.Address, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	var (
		bestIndex uint32
		found     bool
	)
	err := forEachAddr(ns, func(pubKeyHash []byte, row *addrRow) error {
		if row.branch != ExternalBranch || row.used {
			return nil
		}
		if !found || row.index < bestIndex {
			bestIndex = row.index
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return m.nextAddress(ns, ExternalBranch)
	}
	return m.deriveAddress(ExternalBranch, bestIndex)
}

// MarkUsed marks the address as used.  Used addresses are never handed out
// again by UnusedAddress.
func (m *Manager) MarkUsed(ns walletdb.ReadWriteBucket, addr btcutil.Address) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	pubKeyHash := addr.ScriptAddress()
	row, err := fetchAddr(ns, pubKeyHash)
	if err != nil {
		return err
	}
	if row.used {
		return nil
	}
	row.used = true
	return putAddr(ns, pubKeyHash, row)
}

// OwnsAddress returns whether the address belongs to the keystore.
func (m *Manager) OwnsAddress(ns walletdb.ReadBucket, addr btcutil.Address) bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	_, err := fetchAddr(ns, addr.ScriptAddress())
	return err == nil
}

// AddrInfo describes a stored address.
type AddrInfo struct {
	Address btcutil.Address
	Branch  uint32
	Index   uint32
	Used    bool
}

// ActiveAddresses returns every stored address along with its derivation
// info, ordered by branch and index.
func (m *Manager) ActiveAddresses(ns walletdb.ReadBucket) ([]AddrInfo, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	var infos []AddrInfo
	err := forEachAddr(ns, func(pubKeyHash []byte, row *addrRow) error {
		addr, err := btcutil.NewAddressPubKeyHash(pubKeyHash,
			m.chainParams.Params)
		if err != nil {
			return keystoreError(ErrKeyChain,
				"stored address invalid", err)
		}
		infos = append(infos, AddrInfo{
			Address: addr,
			Branch:  row.branch,
			Index:   row.index,
			Used:    row.used,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// PubKeyForAddress returns the public key of a stored address.
func (m *Manager) PubKeyForAddress(ns walletdb.ReadBucket, addr btcutil.Address) (*btcec.PublicKey, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	row, err := fetchAddr(ns, addr.ScriptAddress())
	if err != nil {
		return nil, err
	}
	branchKey, err := m.branchPubKey(row.branch)
	if err != nil {
		return nil, err
	}
	childKey, err := branchKey.Child(row.index)
	if err != nil {
		return nil, keystoreError(ErrKeyChain,
			"failed to derive child key", err)
	}
	return childKey.ECPubKey()
}

// PrivKeyForAddress returns the private key of a stored address.  The
// keystore must be unlocked.
func (m *Manager) PrivKeyForAddress(ns walletdb.ReadBucket, addr btcutil.Address) (*btcec.PrivateKey, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.watchingOnly {
		return nil, keystoreError(ErrWatchingOnly,
			"keystore is watching-only", nil)
	}
	if m.locked || m.acctPrivKey == nil {
		return nil, keystoreError(ErrLocked, "keystore is locked", nil)
	}

	row, err := fetchAddr(ns, addr.ScriptAddress())
	if err != nil {
		return nil, err
	}
	branchKey, err := m.acctPrivKey.Child(row.branch)
	if err != nil {
		return nil, keystoreError(ErrKeyChain,
			"failed to derive branch key", err)
	}
	defer branchKey.Zero()
	childKey, err := branchKey.Child(row.index)
	if err != nil {
		return nil, keystoreError(ErrKeyChain,
			"failed to derive child key", err)
	}
	defer childKey.Zero()
	return childKey.ECPrivKey()
}

// Seed returns the wallet generation seed.  The keystore must be unlocked,
// and keystores restored from an account key have no seed to return.
func (m *Manager) Seed(ns walletdb.ReadBucket) ([]byte, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.watchingOnly {
		return nil, keystoreError(ErrWatchingOnly,
			"keystore is watching-only", nil)
	}
	if m.locked {
		return nil, keystoreError(ErrLocked, "keystore is locked", nil)
	}
	seedEnc := fetchEncryptedSeed(ns)
	if seedEnc == nil {
		return nil, keystoreError(ErrNoExist, "no seed stored", nil)
	}
	seed, err := m.cryptoKeyPriv.Decrypt(seedEnc)
	if err != nil {
		return nil, keystoreError(ErrCrypto, "failed to decrypt seed",
			err)
	}
	return seed, nil
}

// ChangePrivatePassphrase re-wraps the crypto private key under a master key
// derived from the new passphrase.  The keystore must be unlocked.
func (m *Manager) ChangePrivatePassphrase(ns walletdb.ReadWriteBucket,
	newPass []byte, opts *Options) error {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.watchingOnly {
		return keystoreError(ErrWatchingOnly,
			"keystore is watching-only", nil)
	}
	if m.locked {
		return keystoreError(ErrLocked, "keystore is locked", nil)
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	newMasterKey, err := snacl.NewSecretKey(&newPass, opts.ScryptN,
		opts.ScryptR, opts.ScryptP)
	if err != nil {
		return keystoreError(ErrCrypto,
			"failed to derive new master private key", err)
	}
	cryptoKeyPrivEnc, err := newMasterKey.Encrypt(m.cryptoKeyPriv[:])
	if err != nil {
		newMasterKey.Zero()
		return keystoreError(ErrCrypto,
			"failed to encrypt crypto private key", err)
	}

	pubParams, _, err := fetchMasterKeyParams(ns)
	if err != nil {
		newMasterKey.Zero()
		return err
	}
	err = putMasterKeyParams(ns, pubParams, newMasterKey.Marshal())
	if err != nil {
		newMasterKey.Zero()
		return err
	}
	err = putCryptoKeys(ns, ns.Get(cryptoPubKeyName), cryptoKeyPrivEnc)
	if err != nil {
		newMasterKey.Zero()
		return err
	}

	m.masterKeyPriv.Zero()
	m.masterKeyPriv = newMasterKey
	m.cryptoKeyPrivEnc = cryptoKeyPrivEnc
	return nil
}
