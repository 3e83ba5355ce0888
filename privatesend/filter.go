// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package privatesend

import (
	"bytes"
	"regexp"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
)

const (
	filteredTxID = "<filtered txid>"
	filteredAddr = "<filtered address>"
)

var (
	txidPattern = regexp.MustCompile("[0123456789ABCDEFabcdef]{64}")
	addrPattern = regexp.MustCompile("[123456789ABCDEFGHJKLMNPQRSTUVWXYZ" +
		"abcdefghijkmnopqrstuvwxyz]{20,80}")
)

// FilterLogLine replaces transaction ids and wallet addresses in a log line
// with placeholders.  Mixing logs may be shared for debugging and must not
// leak which coins belong to the wallet.
func FilterLogLine(line string, params *chaincfg.Params) string {
	var out bytes.Buffer
	pos := 0
	for pos < len(line) {
		if loc := txidPattern.FindStringIndex(line[pos:]); loc != nil {
			out.WriteString(line[pos : pos+loc[0]])
			out.WriteString(filteredTxID)
			pos += loc[1]
			continue
		}
		if loc := addrPattern.FindStringIndex(line[pos:]); loc != nil {
			addr := line[pos+loc[0] : pos+loc[1]]
			if _, err := btcutil.DecodeAddress(addr, params); err == nil {
				out.WriteString(line[pos : pos+loc[0]])
				out.WriteString(filteredAddr)
				pos += loc[1]
				continue
			}
		}
		out.WriteString(line[pos:])
		break
	}
	return out.String()
}
