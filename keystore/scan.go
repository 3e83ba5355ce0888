// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keystore

import (
	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/kiirocoin/kiirowallet/walletdb"
)

// ScanResult describes an address discovered beyond the gap limit.
type ScanResult struct {
	Address btcutil.Address
	Branch  uint32
	Index   uint32
}

// ScanOverGap derives addresses past the current derivation frontier of both
// branches and probes them with isUsed, which typically queries an ElectrumX
// server for script history.  Scanning a branch stops once lookahead
// consecutive unused addresses have been probed.  Every used address found is
// stored, the derivation frontier is advanced past it, and the address is
// reported so the caller can subscribe it and rescan.
//
// This recovers coins sent to addresses beyond the gap limit, which a normal
// restore-from-seed synchronization would miss.
func (m *Manager) ScanOverGap(ns walletdb.ReadWriteBucket, lookahead uint32,
	isUsed func(addr string, scriptHash []byte) (bool, error)) ([]ScanResult, error) {

	if lookahead == 0 {
		lookahead = DefaultGapLimit
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	var results []ScanResult
	for _, branch := range []uint32{ExternalBranch, InternalBranch} {
		found, err := m.scanBranch(ns, branch, lookahead, isUsed)
		if err != nil {
			return results, err
		}
		results = append(results, found...)
	}
	return results, nil
}

func (m *Manager) scanBranch(ns walletdb.ReadWriteBucket, branch,
	lookahead uint32,
	isUsed func(addr string, scriptHash []byte) (bool, error)) ([]ScanResult, error) {

	var results []ScanResult
	index := fetchNextIndex(ns, branch)
	unused := uint32(0)
	for unused < lookahead {
		addr, err := m.deriveAddress(branch, index)
		if err != nil {
			if IsError(err, ErrKeyChain) &&
				err.(KeystoreError).Err == hdkeychain.ErrInvalidChild {
				index++
				continue
			}
			return results, err
		}

		used, err := isUsed(addr.String(), addr.ScriptAddress())
		if err != nil {
			return results, err
		}
		if !used {
			unused++
			index++
			continue
		}

		log.Infof("Scan over gap found used address %v (branch %d "+
			"index %d)", addr, branch, index)
		row := &addrRow{branch: branch, index: index, used: true}
		if err := putAddr(ns, addr.Hash160()[:], row); err != nil {
			return results, err
		}
		if err := putNextIndex(ns, branch, index+1); err != nil {
			return results, err
		}
		results = append(results, ScanResult{
			Address: addr,
			Branch:  branch,
			Index:   index,
		})
		unused = 0
		index++
	}
	return results, nil
}
