// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package privatesend

import (
	"encoding/binary"
	"errors"

	"github.com/kiirocoin/kiirowallet/walletdb"
)

var (
	// bucketPSData holds scalar mixing preferences and timestamps.
	bucketPSData = []byte("psdata")

	// bucketTxWorkflows holds in-progress transaction workflows keyed by
	// their uuid.
	bucketTxWorkflows = []byte("txworkflows")

	// bucketDenomWorkflows holds in-progress denominate workflows keyed
	// by their uuid.
	bucketDenomWorkflows = []byte("denomworkflows")
)

var byteOrder = binary.BigEndian

// ErrWorkflowNotFound describes a lookup of an unknown workflow uuid.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrCorruptData describes mixing data in the database that cannot be
// deserialized.
var ErrCorruptData = errors.New("corrupt mixing data")

// Create creates the database buckets used for mixing bookkeeping.  It may be
// called on every startup as existing buckets are left untouched.
func Create(ns walletdb.ReadWriteBucket) error {
	for _, bucket := range [][]byte{
		bucketPSData, bucketTxWorkflows, bucketDenomWorkflows,
	} {
		_, err := ns.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
	}
	return nil
}

func fetchPSDataUint64(ns walletdb.ReadBucket, key []byte, def uint64) uint64 {
	v := ns.NestedReadBucket(bucketPSData).Get(key)
	if len(v) != 8 {
		return def
	}
	return byteOrder.Uint64(v)
}

func putPSDataUint64(ns walletdb.ReadWriteBucket, key []byte, val uint64) error {
	v := make([]byte, 8)
	byteOrder.PutUint64(v, val)
	return ns.NestedReadWriteBucket(bucketPSData).Put(key, v)
}
