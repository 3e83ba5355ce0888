// Copyright (c) 2014-2017 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keystore

import (
	"encoding/binary"

	"github.com/kiirocoin/kiirowallet/walletdb"
)

// Key and bucket names used within the keystore namespace.  All values are
// little endian where applicable.
var (
	// addrBucketName holds one row per derived address keyed by the
	// address' pubkey hash.
	addrBucketName = []byte("addrs")

	masterPubParamsName  = []byte("masterpubparams")
	masterPrivParamsName = []byte("masterprivparams")
	cryptoPubKeyName     = []byte("cryptopub")
	cryptoPrivKeyName    = []byte("cryptopriv")
	acctPubKeyName       = []byte("acctpub")
	acctPrivKeyName      = []byte("acctpriv")
	seedName             = []byte("seed")
	watchingOnlyName     = []byte("watchingonly")
	nextExternalName     = []byte("nextext")
	nextInternalName     = []byte("nextint")
	versionName          = []byte("version")
)

// latestDbVersion is the most recent database version.
const latestDbVersion = 1

// addrRow houses the stored data of a single derived address.
type addrRow struct {
	branch uint32
	index  uint32
	used   bool
}

// serializeAddrRow returns the serialization of the passed address row.
//
// The serialized format is:
//   <branch><index><used>
//
//   4 bytes branch + 4 bytes index + 1 byte used
func serializeAddrRow(row *addrRow) []byte {
	serialized := make([]byte, 9)
	binary.LittleEndian.PutUint32(serialized[0:4], row.branch)
	binary.LittleEndian.PutUint32(serialized[4:8], row.index)
	if row.used {
		serialized[8] = 1
	}
	return serialized
}

// deserializeAddrRow deserializes the passed serialized address row.
func deserializeAddrRow(serialized []byte) (*addrRow, error) {
	if len(serialized) != 9 {
		return nil, keystoreError(ErrDatabase,
			"malformed serialized address row", nil)
	}
	return &addrRow{
		branch: binary.LittleEndian.Uint32(serialized[0:4]),
		index:  binary.LittleEndian.Uint32(serialized[4:8]),
		used:   serialized[8] != 0,
	}, nil
}

// fetchValue retrieves the value for the given key, returning an ErrDatabase
// wrapped error when it is missing.
func fetchValue(ns walletdb.ReadBucket, key []byte) ([]byte, error) {
	value := ns.Get(key)
	if value == nil {
		return nil, keystoreError(ErrNoExist,
			"required value "+string(key)+" not stored", nil)
	}
	return value, nil
}

// putValue stores the value under the given key.
func putValue(ns walletdb.ReadWriteBucket, key, value []byte) error {
	if err := ns.Put(key, value); err != nil {
		return keystoreError(ErrDatabase,
			"failed to store "+string(key), err)
	}
	return nil
}

// putMasterKeyParams stores the master key scrypt parameters.
func putMasterKeyParams(ns walletdb.ReadWriteBucket, pubParams, privParams []byte) error {
	if err := putValue(ns, masterPubParamsName, pubParams); err != nil {
		return err
	}
	return putValue(ns, masterPrivParamsName, privParams)
}

// fetchMasterKeyParams retrieves the master key scrypt parameters.
func fetchMasterKeyParams(ns walletdb.ReadBucket) (pubParams, privParams []byte, err error) {
	pubParams, err = fetchValue(ns, masterPubParamsName)
	if err != nil {
		return nil, nil, err
	}
	privParams, err = fetchValue(ns, masterPrivParamsName)
	if err != nil {
		return nil, nil, err
	}
	return pubParams, privParams, nil
}

// putCryptoKeys stores the encrypted crypto keys.
func putCryptoKeys(ns walletdb.ReadWriteBucket, pubKeyEnc, privKeyEnc []byte) error {
	if err := putValue(ns, cryptoPubKeyName, pubKeyEnc); err != nil {
		return err
	}
	return putValue(ns, cryptoPrivKeyName, privKeyEnc)
}

// fetchCryptoKeys retrieves the encrypted crypto keys.
func fetchCryptoKeys(ns walletdb.ReadBucket) (pubKeyEnc, privKeyEnc []byte, err error) {
	pubKeyEnc, err = fetchValue(ns, cryptoPubKeyName)
	if err != nil {
		return nil, nil, err
	}
	privKeyEnc, err = fetchValue(ns, cryptoPrivKeyName)
	if err != nil {
		return nil, nil, err
	}
	return pubKeyEnc, privKeyEnc, nil
}

// putAccountKeys stores the encrypted account extended keys.  The private key
// may be nil for watching-only keystores.
func putAccountKeys(ns walletdb.ReadWriteBucket, pubKeyEnc, privKeyEnc []byte) error {
	if err := putValue(ns, acctPubKeyName, pubKeyEnc); err != nil {
		return err
	}
	if privKeyEnc == nil {
		return nil
	}
	return putValue(ns, acctPrivKeyName, privKeyEnc)
}

// fetchAccountKeys retrieves the encrypted account extended keys.  The
// private key is nil for watching-only keystores.
func fetchAccountKeys(ns walletdb.ReadBucket) (pubKeyEnc, privKeyEnc []byte, err error) {
	pubKeyEnc, err = fetchValue(ns, acctPubKeyName)
	if err != nil {
		return nil, nil, err
	}
	return pubKeyEnc, ns.Get(acctPrivKeyName), nil
}

// putEncryptedSeed stores the encrypted wallet generation seed.
func putEncryptedSeed(ns walletdb.ReadWriteBucket, seedEnc []byte) error {
	return putValue(ns, seedName, seedEnc)
}

// fetchEncryptedSeed retrieves the encrypted wallet generation seed.  It may
// be nil for keystores restored from an account key.
func fetchEncryptedSeed(ns walletdb.ReadBucket) []byte {
	return ns.Get(seedName)
}

// putWatchingOnly stores the watching-only flag.
func putWatchingOnly(ns walletdb.ReadWriteBucket, watchingOnly bool) error {
	var value [1]byte
	if watchingOnly {
		value[0] = 1
	}
	return putValue(ns, watchingOnlyName, value[:])
}

// fetchWatchingOnly retrieves the watching-only flag.
func fetchWatchingOnly(ns walletdb.ReadBucket) (bool, error) {
	value, err := fetchValue(ns, watchingOnlyName)
	if err != nil {
		return false, err
	}
	return value[0] != 0, nil
}

// nextIndexKey maps a branch to the key its next child index is stored under.
func nextIndexKey(branch uint32) []byte {
	if branch == InternalBranch {
		return nextInternalName
	}
	return nextExternalName
}

// putNextIndex stores the next child index to derive for a branch.
func putNextIndex(ns walletdb.ReadWriteBucket, branch, index uint32) error {
	var value [4]byte
	binary.LittleEndian.PutUint32(value[:], index)
	return putValue(ns, nextIndexKey(branch), value[:])
}

// fetchNextIndex retrieves the next child index to derive for a branch.  A
// missing value means no addresses have been derived yet.
func fetchNextIndex(ns walletdb.ReadBucket, branch uint32) uint32 {
	value := ns.Get(nextIndexKey(branch))
	if value == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(value)
}

// putAddr stores the row for the address with the given pubkey hash.
func putAddr(ns walletdb.ReadWriteBucket, pubKeyHash []byte, row *addrRow) error {
	bucket := ns.NestedReadWriteBucket(addrBucketName)
	if err := bucket.Put(pubKeyHash, serializeAddrRow(row)); err != nil {
		return keystoreError(ErrDatabase, "failed to store address", err)
	}
	return nil
}

// fetchAddr retrieves the row for the address with the given pubkey hash.
func fetchAddr(ns walletdb.ReadBucket, pubKeyHash []byte) (*addrRow, error) {
	value := ns.NestedReadBucket(addrBucketName).Get(pubKeyHash)
	if value == nil {
		return nil, keystoreError(ErrAddressNotFound,
			"address not found", nil)
	}
	return deserializeAddrRow(value)
}

// forEachAddr invokes fn with every stored address row.
func forEachAddr(ns walletdb.ReadBucket, fn func(pubKeyHash []byte, row *addrRow) error) error {
	bucket := ns.NestedReadBucket(addrBucketName)
	err := bucket.ForEach(func(k, v []byte) error {
		row, err := deserializeAddrRow(v)
		if err != nil {
			return err
		}
		return fn(k, row)
	})
	if err != nil {
		if _, ok := err.(KeystoreError); ok {
			return err
		}
		return keystoreError(ErrDatabase, "failed to iterate addresses",
			err)
	}
	return nil
}

// createBuckets creates the buckets and version for a new keystore namespace.
func createBuckets(ns walletdb.ReadWriteBucket) error {
	if ns.Get(versionName) != nil {
		return keystoreError(ErrAlreadyExists,
			"keystore already exists", nil)
	}
	if _, err := ns.CreateBucketIfNotExists(addrBucketName); err != nil {
		return keystoreError(ErrDatabase,
			"failed to create address bucket", err)
	}
	var version [4]byte
	binary.LittleEndian.PutUint32(version[:], latestDbVersion)
	return putValue(ns, versionName, version[:])
}
