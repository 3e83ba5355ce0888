// Copyright (c) 2018 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txstore

import (
	"github.com/kiirocoin/kiirowallet/walletdb"
	"github.com/kiirocoin/kiirowallet/walletdb/migration"
)

// versions includes all of the database versions of the transaction store
// along with the migrations needed to reach each one.  The initial version
// requires no migration.
var versions = []migration.Version{
	{
		Number:    1,
		Migration: nil,
	},
}

// getLatestVersion returns the version number of the latest database version.
func getLatestVersion() uint32 {
	return versions[len(versions)-1].Number
}

// putVersion stores the database version under its root key.
func putVersion(ns walletdb.ReadWriteBucket, version uint32) error {
	var v [4]byte
	byteOrder.PutUint32(v[:], version)
	if err := ns.Put(rootVersion, v[:]); err != nil {
		return storeError(ErrDatabase, "failed to store version", err)
	}
	return nil
}

// fetchVersion fetches the database version from its root key.
func fetchVersion(ns walletdb.ReadBucket) (uint32, error) {
	v := ns.Get(rootVersion)
	if len(v) != 4 {
		// Stores written before versioning are all at the initial
		// version.
		return 1, nil
	}
	return byteOrder.Uint32(v), nil
}

// MigrationManager is an implementation of the migration.Manager interface
// that will be used to handle migrations of the transaction store.  It
// exposes the necessary parameters required to successfully perform
// migrations.
type MigrationManager struct {
	ns walletdb.ReadWriteBucket
}

// A compile-time assertion to ensure that MigrationManager implements the
// migration.Manager interface.
var _ migration.Manager = (*MigrationManager)(nil)

// NewMigrationManager creates a new migration manager for the transaction
// store.  The given bucket should reflect the top-level bucket in which all
// of the transaction store's data is contained within.
func NewMigrationManager(ns walletdb.ReadWriteBucket) *MigrationManager {
	return &MigrationManager{ns: ns}
}

// Name returns the name of the service we'll be attempting to upgrade.
func (m *MigrationManager) Name() string {
	return "transaction store"
}

// Namespace returns the top-level bucket of the service.
func (m *MigrationManager) Namespace() walletdb.ReadWriteBucket {
	return m.ns
}

// CurrentVersion returns the current version of the service's database.
func (m *MigrationManager) CurrentVersion(ns walletdb.ReadBucket) (uint32, error) {
	if ns == nil {
		ns = m.ns
	}
	return fetchVersion(ns)
}

// SetVersion sets the version of the service's database.
func (m *MigrationManager) SetVersion(ns walletdb.ReadWriteBucket, version uint32) error {
	if ns == nil {
		ns = m.ns
	}
	return putVersion(ns, version)
}

// Versions returns all of the available database versions of the service.
func (m *MigrationManager) Versions() []migration.Version {
	return versions
}
