// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headerstore

import (
	"encoding/binary"
	"testing"

	"github.com/kiirocoin/kiirowallet/netparams"
)

// TestStaticOffset ensures header file offsets are computed correctly across
// the format transition heights of each network.
func TestStaticOffset(t *testing.T) {
	tests := []struct {
		name   string
		params *netparams.Params
		height int32
		offset int64
	}{
		{"mainnet genesis", &netparams.MainNetParams, 0, 0},
		{"mainnet first mtp", &netparams.MainNetParams, 1, 80},
		{"mainnet first progpow", &netparams.MainNetParams, 2, 200},
		{"mainnet later", &netparams.MainNetParams, 5, 560},

		{"testnet genesis", &netparams.TestNetParams, 0, 0},
		{"testnet first mtp", &netparams.TestNetParams, 1, 80},
		{"testnet second mtp", &netparams.TestNetParams, 2, 260},
		{"testnet progpow boundary", &netparams.TestNetParams,
			37305, 6714800},
		{"testnet first progpow", &netparams.TestNetParams,
			37306, 6714920},

		{"regtest genesis", &netparams.RegTestParams, 0, 0},
		{"regtest always 80", &netparams.RegTestParams, 1000, 80000},
	}

	for _, test := range tests {
		offset := StaticOffset(test.params, test.height)
		if offset != test.offset {
			t.Errorf("%s: offset mismatch: got %d, want %d",
				test.name, offset, test.offset)
		}
	}
}

// TestFileSizeToHeight ensures the offset computation inverts, including for
// file sizes with trailing partial headers.
func TestFileSizeToHeight(t *testing.T) {
	tests := []struct {
		name   string
		params *netparams.Params
		size   int64
		height int32
	}{
		{"empty", &netparams.TestNetParams, 0, 0},
		{"one header", &netparams.TestNetParams, 80, 1},
		{"partial mtp", &netparams.TestNetParams, 259, 1},
		{"two headers", &netparams.TestNetParams, 260, 2},
		{"progpow boundary", &netparams.TestNetParams, 6714800, 37305},
		{"partial progpow", &netparams.TestNetParams, 6714919, 37305},
		{"first progpow", &netparams.TestNetParams, 6714920, 37306},
		{"regtest", &netparams.RegTestParams, 80000, 1000},
		{"regtest partial", &netparams.RegTestParams, 80079, 1000},
	}

	for _, test := range tests {
		height := FileSizeToHeight(test.params, test.size)
		if height != test.height {
			t.Errorf("%s: height mismatch: got %d, want %d",
				test.name, height, test.height)
		}
	}
}

// TestOffsetRoundTrip checks the invariant that a file holding exactly n
// headers maps back to n for heights around every transition.
func TestOffsetRoundTrip(t *testing.T) {
	params := &netparams.TestNetParams
	heights := []int32{0, 1, 2, 100, 37304, 37305, 37306, 50000}
	for _, height := range heights {
		size := StaticOffset(params, height)
		got := FileSizeToHeight(params, size)
		if got != height {
			t.Errorf("height %d: round trip produced %d", height,
				got)
		}
	}
}

// fakeHeader returns an 80 byte header prefix with the given version and
// timestamp fields set.
func fakeHeader(version uint32, nTime uint32) []byte {
	raw := make([]byte, 80)
	binary.LittleEndian.PutUint32(raw[0:4], version)
	binary.LittleEndian.PutUint32(raw[68:72], nTime)
	return raw
}

// TestHeaderSize ensures the header format is detected from the raw contents.
func TestHeaderSize(t *testing.T) {
	params := &netparams.TestNetParams

	tests := []struct {
		name string
		raw  []byte
		size int
	}{
		{
			name: "legacy header",
			raw:  fakeHeader(2, 1544000000),
			size: PreMTPHeaderSize,
		},
		{
			name: "mtp version bit",
			raw:  fakeHeader(0x1002, 1544000000),
			size: MTPHeaderSize,
		},
		{
			name: "progpow by timestamp",
			raw:  fakeHeader(2, 1630069200),
			size: ProgPowHeaderSize,
		},
		{
			name: "progpow overrides version bit",
			raw:  fakeHeader(0x1002, 1700000000),
			size: ProgPowHeaderSize,
		},
	}

	for _, test := range tests {
		size := HeaderSize(params, test.raw)
		if size != test.size {
			t.Errorf("%s: size mismatch: got %d, want %d",
				test.name, size, test.size)
		}
	}
}

// TestHeaderSizeAtHeight checks format selection by height, including the
// activation boundaries themselves.
func TestHeaderSizeAtHeight(t *testing.T) {
	tests := []struct {
		name   string
		params *netparams.Params
		height int32
		size   int
	}{
		{"testnet genesis", &netparams.TestNetParams, 0, 80},
		{"testnet mtp start", &netparams.TestNetParams, 1, 180},
		{"testnet pre progpow", &netparams.TestNetParams, 37304, 180},
		{"testnet progpow start", &netparams.TestNetParams, 37305, 120},
		{"mainnet progpow start", &netparams.MainNetParams, 1, 120},
		{"regtest stays legacy", &netparams.RegTestParams, 500000, 80},
	}

	for _, test := range tests {
		size := HeaderSizeAtHeight(test.params, test.height)
		if size != test.size {
			t.Errorf("%s: size mismatch: got %d, want %d",
				test.name, size, test.size)
		}
	}
}
