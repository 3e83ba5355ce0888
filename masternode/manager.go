// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import (
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/netparams"
	"github.com/kiirocoin/kiirowallet/walletdb"
)

var (
	// bucketMasternodes holds masternode records keyed by alias.
	bucketMasternodes = []byte("masternodes")

	// bucketCollaterals maps collateral outpoints to the alias they fund.
	// It enforces one masternode per collateral outpoint and backs the
	// collateral spend protection in transaction authoring.
	bucketCollaterals = []byte("collaterals")
)

var byteOrder = binary.BigEndian

// CollateralAmount is the exact value a masternode collateral output must
// hold.
const CollateralAmount = 1000 * btcutil.SatoshiPerBitcoin

// Masternode is a masternode managed by this wallet.
type Masternode struct {
	Alias           string
	Addr            string
	DelegateWIF     string
	OperatorPubKey  []byte
	CollateralPoint wire.OutPoint

	// Deterministic list state, updated from protx list results.  The
	// ProTxHash is zero until the registration transaction confirms.
	ProTxHash        chainhash.Hash
	Status           string
	PoSePenalty      int32
	LastPaidHeight   int32
	RegisteredHeight int32
	PoSeBanHeight    int32
}

// StatusUpdate carries the deterministic masternode list state of one
// masternode as reported by a protx list result.
type StatusUpdate struct {
	ProTxHash        chainhash.Hash
	Status           string
	PoSePenalty      int32
	LastPaidHeight   int32
	RegisteredHeight int32
	PoSeBanHeight    int32
}

// Manager provides access to the wallet's masternodes.
type Manager struct {
	params *netparams.Params
}

// NewManager creates a masternode manager for the given network.
func NewManager(params *netparams.Params) *Manager {
	return &Manager{params: params}
}

// Create creates the database buckets used by the manager.  It may be called
// on every startup as existing buckets are left untouched.
func Create(ns walletdb.ReadWriteBucket) error {
	for _, bucket := range [][]byte{bucketMasternodes, bucketCollaterals} {
		_, err := ns.CreateBucketIfNotExists(bucket)
		if err != nil {
			return managerError(ErrDatabase,
				"failed to create masternode buckets", err)
		}
	}
	return nil
}

// Masternode record value layout:
//
//   addr (1 byte length || string) ||
//   delegate wif (1 byte length || string) ||
//   operator pubkey (1 byte length || bytes) ||
//   collateral outpoint (36) || protx hash (32) ||
//   status (1 byte length || string) ||
//   pose penalty (4) || last paid height (4) || registered height (4) ||
//   pose ban height (4)

func serializeMasternode(mn *Masternode) []byte {
	v := make([]byte, 0, 3+len(mn.Addr)+len(mn.DelegateWIF)+
		len(mn.OperatorPubKey)+36+32+1+len(mn.Status)+16)
	v = append(v, byte(len(mn.Addr)))
	v = append(v, mn.Addr...)
	v = append(v, byte(len(mn.DelegateWIF)))
	v = append(v, mn.DelegateWIF...)
	v = append(v, byte(len(mn.OperatorPubKey)))
	v = append(v, mn.OperatorPubKey...)
	v = append(v, mn.CollateralPoint.Hash[:]...)
	var b4 [4]byte
	byteOrder.PutUint32(b4[:], mn.CollateralPoint.Index)
	v = append(v, b4[:]...)
	v = append(v, mn.ProTxHash[:]...)
	v = append(v, byte(len(mn.Status)))
	v = append(v, mn.Status...)
	for _, h := range []int32{
		mn.PoSePenalty, mn.LastPaidHeight, mn.RegisteredHeight,
		mn.PoSeBanHeight,
	} {
		byteOrder.PutUint32(b4[:], uint32(h))
		v = append(v, b4[:]...)
	}
	return v
}

func deserializeMasternode(alias string, v []byte) (*Masternode, error) {
	mn := &Masternode{Alias: alias}
	corrupt := managerError(ErrDatabase, "corrupt masternode record", nil)

	readStr := func() (string, bool) {
		if len(v) < 1 {
			return "", false
		}
		n := int(v[0])
		if len(v) < 1+n {
			return "", false
		}
		s := string(v[1 : 1+n])
		v = v[1+n:]
		return s, true
	}

	var ok bool
	if mn.Addr, ok = readStr(); !ok {
		return nil, corrupt
	}
	if mn.DelegateWIF, ok = readStr(); !ok {
		return nil, corrupt
	}
	opKey, ok := readStr()
	if !ok {
		return nil, corrupt
	}
	if opKey != "" {
		mn.OperatorPubKey = []byte(opKey)
	}
	if len(v) < 36+32 {
		return nil, corrupt
	}
	copy(mn.CollateralPoint.Hash[:], v[0:32])
	mn.CollateralPoint.Index = byteOrder.Uint32(v[32:36])
	copy(mn.ProTxHash[:], v[36:68])
	v = v[68:]
	if mn.Status, ok = readStr(); !ok {
		return nil, corrupt
	}
	if len(v) < 16 {
		return nil, corrupt
	}
	mn.PoSePenalty = int32(byteOrder.Uint32(v[0:4]))
	mn.LastPaidHeight = int32(byteOrder.Uint32(v[4:8]))
	mn.RegisteredHeight = int32(byteOrder.Uint32(v[8:12]))
	mn.PoSeBanHeight = int32(byteOrder.Uint32(v[12:16]))
	return mn, nil
}

func collateralKey(op *wire.OutPoint) []byte {
	k := make([]byte, 36)
	copy(k, op.Hash[:])
	byteOrder.PutUint32(k[32:36], op.Index)
	return k
}

// Register stores a new masternode from a conf entry.  The alias and the
// collateral outpoint must both be unused.
func (m *Manager) Register(ns walletdb.ReadWriteBucket, entry ConfEntry) error {
	mns := ns.NestedReadWriteBucket(bucketMasternodes)
	if mns.Get([]byte(entry.Alias)) != nil {
		return managerError(ErrDuplicateAlias,
			"alias "+entry.Alias+" already registered", nil)
	}
	collaterals := ns.NestedReadWriteBucket(bucketCollaterals)
	ck := collateralKey(&entry.CollateralPoint)
	if owner := collaterals.Get(ck); owner != nil {
		return managerError(ErrDuplicateCollateral,
			"collateral already funds masternode "+string(owner), nil)
	}

	mn := &Masternode{
		Alias:           entry.Alias,
		Addr:            entry.Addr,
		DelegateWIF:     entry.DelegateWIF.String(),
		CollateralPoint: entry.CollateralPoint,
	}
	err := mns.Put([]byte(entry.Alias), serializeMasternode(mn))
	if err != nil {
		return managerError(ErrDatabase, "failed to store masternode", err)
	}
	err = collaterals.Put(ck, []byte(entry.Alias))
	if err != nil {
		return managerError(ErrDatabase, "failed to lock collateral", err)
	}
	log.Infof("Registered masternode %s at %s (collateral %v)",
		entry.Alias, entry.Addr, entry.CollateralPoint)
	return nil
}

// ImportConf parses masternode.conf content and registers every entry,
// returning the number of imported masternodes.  Import is all-or-nothing
// when run inside a single database transaction.
func (m *Manager) ImportConf(ns walletdb.ReadWriteBucket, r io.Reader) (int, error) {
	entries, err := ParseConf(r, m.params)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if err := m.Register(ns, entry); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

// Fetch returns the masternode registered under alias.
func (m *Manager) Fetch(ns walletdb.ReadBucket, alias string) (*Masternode, error) {
	v := ns.NestedReadBucket(bucketMasternodes).Get([]byte(alias))
	if v == nil {
		return nil, managerError(ErrNoExist,
			"no masternode with alias "+alias, nil)
	}
	return deserializeMasternode(alias, v)
}

// List returns all registered masternodes in alias order.
func (m *Manager) List(ns walletdb.ReadBucket) ([]*Masternode, error) {
	var mns []*Masternode
	err := ns.NestedReadBucket(bucketMasternodes).ForEach(func(k, v []byte) error {
		mn, err := deserializeMasternode(string(k), v)
		if err != nil {
			return err
		}
		mns = append(mns, mn)
		return nil
	})
	if err != nil {
		if _, ok := err.(MasternodeError); ok {
			return nil, err
		}
		return nil, managerError(ErrDatabase,
			"failed to iterate masternodes", err)
	}
	return mns, nil
}

// Remove deletes the masternode registered under alias and releases its
// collateral lock.
func (m *Manager) Remove(ns walletdb.ReadWriteBucket, alias string) error {
	mn, err := m.Fetch(ns, alias)
	if err != nil {
		return err
	}
	err = ns.NestedReadWriteBucket(bucketCollaterals).
		Delete(collateralKey(&mn.CollateralPoint))
	if err != nil {
		return managerError(ErrDatabase, "failed to release collateral", err)
	}
	err = ns.NestedReadWriteBucket(bucketMasternodes).Delete([]byte(alias))
	if err != nil {
		return managerError(ErrDatabase, "failed to remove masternode", err)
	}
	return nil
}

// UpdateStatus stores the deterministic list state reported for a
// masternode.
func (m *Manager) UpdateStatus(ns walletdb.ReadWriteBucket, alias string,
	update *StatusUpdate) error {

	mn, err := m.Fetch(ns, alias)
	if err != nil {
		return err
	}
	mn.ProTxHash = update.ProTxHash
	mn.Status = update.Status
	mn.PoSePenalty = update.PoSePenalty
	mn.LastPaidHeight = update.LastPaidHeight
	mn.RegisteredHeight = update.RegisteredHeight
	mn.PoSeBanHeight = update.PoSeBanHeight
	err = ns.NestedReadWriteBucket(bucketMasternodes).
		Put([]byte(alias), serializeMasternode(mn))
	if err != nil {
		return managerError(ErrDatabase, "failed to update masternode", err)
	}
	return nil
}

// CollateralAlias returns the alias of the masternode funded by the
// outpoint, if any.  Transaction authoring uses this to refuse spending a
// locked collateral.
func (m *Manager) CollateralAlias(ns walletdb.ReadBucket, op *wire.OutPoint) (string, bool) {
	v := ns.NestedReadBucket(bucketCollaterals).Get(collateralKey(op))
	if v == nil {
		return "", false
	}
	return string(v), true
}

// CheckCollateralValue verifies an output holds exactly the masternode
// collateral amount.
func CheckCollateralValue(value btcutil.Amount) error {
	if value != CollateralAmount {
		return managerError(ErrCollateralValue,
			"collateral output must hold exactly 1000 KIIRO", nil)
	}
	return nil
}
