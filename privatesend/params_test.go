// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package privatesend

import (
	"testing"

	"github.com/btcsuite/btcutil"
)

func TestVarIntSize(t *testing.T) {
	tests := []struct {
		val  uint64
		size int
	}{
		{0, 1},
		{252, 1},
		{253, 3},
		{65535, 3},
		{65536, 5},
		{4294967295, 5},
		{4294967296, 9},
	}
	for _, test := range tests {
		if size := VarIntSize(test.val); size != test.size {
			t.Errorf("VarIntSize(%d): got %d, want %d",
				test.val, size, test.size)
		}
	}
}

func TestCalcTxSize(t *testing.T) {
	tests := []struct {
		inCnt, outCnt int
		maxSize       bool
		size          int
	}{
		{1, 1, false, 192},
		{1, 2, false, 226},
		{1, 2, true, 227},
		{2, 1, false, 340},
		{253, 2, false, 37524},
	}
	for _, test := range tests {
		size := CalcTxSize(test.inCnt, test.outCnt, test.maxSize)
		if size != test.size {
			t.Errorf("CalcTxSize(%d, %d, %v): got %d, want %d",
				test.inCnt, test.outCnt, test.maxSize, size,
				test.size)
		}
	}
}

func TestCalcTxFee(t *testing.T) {
	// A 226 byte transaction at 1000 duffs/kB pays exactly its size.
	fee := CalcTxFee(1, 2, 1000, false)
	if fee != 226 {
		t.Errorf("fee at 1000 duffs/kB: got %v, want 226", fee)
	}

	// Fractional fees round to the nearest duff.
	fee = CalcTxFee(1, 2, 226, false)
	if fee != 51 {
		t.Errorf("fee at 226 duffs/kB: got %v, want 51", fee)
	}

	// An exact half duff rounds to even: 226 bytes at 250 duffs/kB is
	// 56.5 duffs, which rounds down to 56, not up to 57.
	fee = CalcTxFee(1, 2, 250, false)
	if fee != 56 {
		t.Errorf("fee at 250 duffs/kB: got %v, want 56", fee)
	}

	// 227 bytes at 2500 duffs/kB is 567.5 duffs, which rounds up to the
	// even 568.
	fee = CalcTxFee(1, 2, 2500, true)
	if fee != 568 {
		t.Errorf("fee at 2500 duffs/kB: got %v, want 568", fee)
	}
}

func TestDenomVals(t *testing.T) {
	for _, dval := range DenomVals {
		if !IsDenomVal(dval) {
			t.Errorf("denomination %v not recognized", dval)
		}
	}
	if IsDenomVal(100000) {
		t.Errorf("plain round amount recognized as denomination")
	}
	if !IsCollateralVal(CreateCollateralVal) {
		t.Errorf("created collateral value not recognized")
	}
	if !IsCollateralVal(CollateralVal * 10) {
		t.Errorf("ten collateral payments value not recognized")
	}
	if IsCollateralVal(CollateralVal * 11) {
		t.Errorf("value above collateral range recognized")
	}
	if MinDenomVal != DenomVals[0] {
		t.Errorf("minimum denomination mismatch")
	}
}

func TestDenomChecks(t *testing.T) {
	if CheckEnoughSmallDenoms(nil) {
		t.Errorf("empty denoms reported as enough")
	}
	enough := map[btcutil.Amount]int{
		DenomVals[0]: 5, DenomVals[1]: 4, DenomVals[2]: 3,
		DenomVals[3]: 2, DenomVals[4]: 1,
	}
	if !CheckEnoughSmallDenoms(enough) {
		t.Errorf("descending denom counts reported as not enough")
	}
	lacking := map[btcutil.Amount]int{
		DenomVals[0]: 1, DenomVals[1]: 4, DenomVals[2]: 3,
		DenomVals[3]: 2, DenomVals[4]: 1,
	}
	if CheckEnoughSmallDenoms(lacking) {
		t.Errorf("outnumbered small denoms reported as enough")
	}

	if CheckBigDenomsPresented(map[btcutil.Amount]int{DenomVals[0]: 10}) {
		t.Errorf("only minimal denoms reported as big")
	}
	if !CheckBigDenomsPresented(map[btcutil.Amount]int{DenomVals[2]: 1}) {
		t.Errorf("big denom not detected")
	}
}
