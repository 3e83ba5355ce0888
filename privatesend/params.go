// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package privatesend

import (
	"math"

	"github.com/btcsuite/btcutil"
)

// PrivateSend mixing denominations in duffs, smallest first.  Each
// denomination is ten times the previous one plus a marker duff that makes
// denominated outputs recognizable on chain.
var DenomVals = []btcutil.Amount{
	100001,     // 0.00100001
	1000010,    // 0.0100001
	10000100,   // 0.100001
	100001000,  // 1.00001
	1000010000, // 10.0001
}

const (
	// MinDenomVal is the smallest mixing denomination.
	MinDenomVal btcutil.Amount = 100001

	// CollateralVal is the value offered to a masternode as a mixing fee
	// collateral.
	CollateralVal btcutil.Amount = 10000

	// CreateCollateralVal is the preferred value of a newly created
	// collateral output, allowing four collateral payments before a new
	// collateral transaction is needed.
	CreateCollateralVal = CollateralVal * 4
)

// CreateCollateralVals lists all output values that are recognized as
// collateral outputs, from one to ten collateral payments worth.
var CreateCollateralVals = func() []btcutil.Amount {
	vals := make([]btcutil.Amount, 10)
	for i := range vals {
		vals[i] = CollateralVal * btcutil.Amount(i+1)
	}
	return vals
}()

// IsDenomVal returns whether val is exactly a mixing denomination.
func IsDenomVal(val btcutil.Amount) bool {
	for _, dval := range DenomVals {
		if val == dval {
			return true
		}
	}
	return false
}

// IsCollateralVal returns whether val is recognized as a collateral amount.
func IsCollateralVal(val btcutil.Amount) bool {
	for _, cval := range CreateCollateralVals {
		if val == cval {
			return true
		}
	}
	return false
}

// VarIntSize returns the serialized size of a Bitcoin variable-length
// integer.
func VarIntSize(val uint64) int {
	switch {
	case val < 253:
		return 1
	case val <= math.MaxUint16:
		return 3
	case val <= math.MaxUint32:
		return 5
	default:
		return 9
	}
}

// CalcTxSize calculates a P2PKH transaction size from its input and output
// counts.  Signature sizes vary by a byte, so maxSize selects the worst case.
func CalcTxSize(inCnt, outCnt int, maxSize bool) int {
	// Base size is 4 bytes version plus 4 bytes lock time.
	size := 4 + 4

	// Each input is a 36 byte outpoint, script length byte, signature
	// script and 4 byte sequence.  The signature script is a push of a
	// 71-73 byte signature followed by a push of the 33 byte compressed
	// pubkey, so an input totals 148 bytes, or 149 worst case.
	inSize := 148
	if maxSize {
		inSize = 149
	}
	size += VarIntSize(uint64(inCnt)) + inCnt*inSize

	// Each output is an 8 byte value, script length byte and 25 byte
	// P2PKH script.
	size += VarIntSize(uint64(outCnt)) + outCnt*34
	return size
}

// CalcTxFee calculates a P2PKH transaction fee from its input and output
// counts and a fee rate in duffs per kilobyte.  Fractional duffs round half
// to even.
func CalcTxFee(inCnt, outCnt int, feePerKB btcutil.Amount, maxSize bool) btcutil.Amount {
	size := CalcTxSize(inCnt, outCnt, maxSize)
	fee := math.RoundToEven(float64(size) * float64(feePerKB) / 1000)
	return btcutil.Amount(fee)
}
