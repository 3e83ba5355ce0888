// Copyright (c) 2018 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keystore

import (
	"encoding/binary"

	"github.com/kiirocoin/kiirowallet/walletdb"
	"github.com/kiirocoin/kiirowallet/walletdb/migration"
)

// versions includes all of the database versions of the keystore along with
// the migrations needed to reach each one.  The initial version requires no
// migration.
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

// MigrationManager is an implementation of the migration.Manager interface
// that will be used to handle migrations of the keystore.  It exposes the
// necessary parameters required to successfully perform migrations.
type MigrationManager struct {
	ns walletdb.ReadWriteBucket
}

// A compile-time assertion to ensure that MigrationManager implements the
// migration.Manager interface.
var _ migration.Manager = (*MigrationManager)(nil)

// NewMigrationManager creates a new migration manager for the keystore.  The
// given bucket should reflect the top-level bucket in which all of the
// keystore's data is contained within.
func NewMigrationManager(ns walletdb.ReadWriteBucket) *MigrationManager {
	return &MigrationManager{ns: ns}
}

// Name returns the name of the service we'll be attempting to upgrade.
func (m *MigrationManager) Name() string {
	return "keystore"
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
	v := ns.Get(versionName)
	if len(v) != 4 {
		return 0, keystoreError(ErrDatabase, "malformed keystore version", nil)
	}
	return binary.LittleEndian.Uint32(v), nil
}

// SetVersion sets the version of the service's database.
func (m *MigrationManager) SetVersion(ns walletdb.ReadWriteBucket, version uint32) error {
	if ns == nil {
		ns = m.ns
	}
	var v [4]byte
	binary.LittleEndian.PutUint32(v[:], version)
	return putValue(ns, versionName, v[:])
}

// Versions returns all of the available database versions of the service.
func (m *MigrationManager) Versions() []migration.Version {
	return versions
}
