// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/netparams"
)

// ConfEntry is one masternode.conf line:
//
//	alias IP:port delegateWIF collateralTxid collateralIndex
//
// The delegate key authorizes mixing and governance actions on behalf of the
// collateral owner without exposing the owner key on the masternode host.
type ConfEntry struct {
	Alias           string
	Addr            string
	DelegateWIF     *btcutil.WIF
	CollateralPoint wire.OutPoint
}

// ParseConf parses masternode.conf content.  Empty lines and lines starting
// with '#' are skipped.  Every field of every remaining line is validated
// against the network parameters.
func ParseConf(r io.Reader, params *netparams.Params) ([]ConfEntry, error) {
	var entries []ConfEntry
	aliases := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry, err := parseConfLine(line, lineNo, params)
		if err != nil {
			return nil, err
		}
		if _, ok := aliases[entry.Alias]; ok {
			return nil, managerError(ErrInvalidConf,
				"duplicate alias "+entry.Alias+" on line "+
					strconv.Itoa(lineNo), nil)
		}
		aliases[entry.Alias] = struct{}{}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, managerError(ErrInvalidConf, "failed to read conf", err)
	}
	return entries, nil
}

func parseConfLine(line string, lineNo int, params *netparams.Params) (ConfEntry, error) {
	var entry ConfEntry
	lineRef := " on line " + strconv.Itoa(lineNo)

	fields := strings.Fields(line)
	if len(fields) != 5 {
		return entry, managerError(ErrInvalidConf,
			"expected 5 fields"+lineRef, nil)
	}
	entry.Alias = fields[0]

	host, portStr, err := net.SplitHostPort(fields[1])
	if err != nil {
		return entry, managerError(ErrInvalidConf,
			"invalid address"+lineRef, err)
	}
	if net.ParseIP(host) == nil {
		return entry, managerError(ErrInvalidConf,
			"invalid IP address"+lineRef, nil)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return entry, managerError(ErrInvalidConf,
			"invalid port"+lineRef, err)
	}
	entry.Addr = fields[1]

	wif, err := btcutil.DecodeWIF(fields[2])
	if err != nil {
		return entry, managerError(ErrInvalidConf,
			"invalid delegate key"+lineRef, err)
	}
	if !wif.IsForNet(params.Params) {
		return entry, managerError(ErrInvalidConf,
			"delegate key is for the wrong network"+lineRef, nil)
	}
	entry.DelegateWIF = wif

	txHash, err := chainhash.NewHashFromStr(fields[3])
	if err != nil {
		return entry, managerError(ErrInvalidConf,
			"invalid collateral txid"+lineRef, err)
	}
	index, err := strconv.ParseUint(fields[4], 10, 32)
	if err != nil {
		return entry, managerError(ErrInvalidConf,
			"invalid collateral index"+lineRef, err)
	}
	entry.CollateralPoint = wire.OutPoint{Hash: *txHash, Index: uint32(index)}
	return entry, nil
}
