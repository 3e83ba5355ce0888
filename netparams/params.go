// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"math"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.  In addition to the chain parameters it carries
// the default ElectrumX server ports, the listen port of the wallet's own RPC
// server, and the heights controlling Kiiro's header format transitions.
type Params struct {
	*chaincfg.Params

	// ElectrumTCPPort and ElectrumSSLPort are the default ports ElectrumX
	// servers for this network listen on for plain TCP and TLS
	// connections.
	ElectrumTCPPort string
	ElectrumSSLPort string

	// RPCServerPort is the default port the wallet RPC server listens on.
	RPCServerPort string

	// PreMTPBlocks is the height below which block headers use the
	// original 80 byte format.  Headers at or above this height use the
	// 180 byte MTP format until ProgPow activates.
	PreMTPBlocks int32

	// ProgPowHeight is the height after which block headers use the 120
	// byte ProgPow format.
	ProgPowHeight int32

	// ProgPowStartTime is the header timestamp at or after which a raw
	// header is interpreted as a ProgPow header.
	ProgPowStartTime int64

	// DIP3ActivationHeight is the height at which deterministic masternode
	// lists (DIP3) activate.  ProRegTx construction is refused below it.
	DIP3ActivationHeight int32
}

// noMTPHeight disables the MTP and ProgPow header formats on networks that
// never activate them.
const noMTPHeight = math.MaxInt32

// MainNetParams contains parameters specific to running kiirowallet on the
// main Kiiro network.
var MainNetParams = Params{
	Params:               &mainNetParams,
	ElectrumTCPPort:      "50001",
	ElectrumSSLPort:      "50002",
	RPCServerPort:        "8332",
	PreMTPBlocks:         1,
	ProgPowHeight:        1,
	ProgPowStartTime:     1635228000,
	DIP3ActivationHeight: 5000,
}

// TestNetParams contains parameters specific to running kiirowallet on the
// Kiiro test network.
var TestNetParams = Params{
	Params:               &testNetParams,
	ElectrumTCPPort:      "51001",
	ElectrumSSLPort:      "51002",
	RPCServerPort:        "18332",
	PreMTPBlocks:         1,
	ProgPowHeight:        37305,
	ProgPowStartTime:     1630069200,
	DIP3ActivationHeight: 5000,
}

// RegTestParams contains parameters specific to running kiirowallet against a
// local regression test kiirod.  MTP and ProgPow never activate on regtest.
var RegTestParams = Params{
	Params:               &regTestParams,
	ElectrumTCPPort:      "50001",
	ElectrumSSLPort:      "50002",
	RPCServerPort:        "18443",
	PreMTPBlocks:         noMTPHeight,
	ProgPowHeight:        noMTPHeight,
	ProgPowStartTime:     noMTPHeight,
	DIP3ActivationHeight: 5000,
}

// mainNetParams defines the chain parameters for the main Kiiro network.
var mainNetParams = chaincfg.Params{
	Name: "mainnet",
	Net:  wire.BitcoinNet(0xe3d9fef1),

	// Address encoding magics
	PubKeyHashAddrID: 0x2d, // 45, starts with K
	ScriptHashAddrID: 0x07,
	PrivateKeyID:     0xd2, // 210

	// BIP32 hierarchical deterministic extended key magics
	HDPrivateKeyID: [4]byte{0x04, 0x88, 0xad, 0xe4}, // starts with xprv
	HDPublicKeyID:  [4]byte{0x04, 0x88, 0xb2, 0x1e}, // starts with xpub

	// BIP44 coin type used in the hierarchical deterministic path for
	// address generation.
	HDCoinType: 136,

	GenesisHash: newHashFromStr("4381deb85b1b2c9843c222944b616d99" +
		"7516dcbd6a964e1eaf0def0830695233"),

	CoinbaseMaturity: 100,

	RelayNonStdTxs: false,
}

// testNetParams defines the chain parameters for the Kiiro test network.
var testNetParams = chaincfg.Params{
	Name: "testnet",
	Net:  wire.BitcoinNet(0xcffcbeea),

	// Address encoding magics
	PubKeyHashAddrID: 0x41, // 65
	ScriptHashAddrID: 0xb2, // 178
	PrivateKeyID:     0xb9, // 185

	// BIP32 hierarchical deterministic extended key magics
	HDPrivateKeyID: [4]byte{0x04, 0x35, 0x83, 0x94}, // starts with tprv
	HDPublicKeyID:  [4]byte{0x04, 0x35, 0x87, 0xcf}, // starts with tpub

	HDCoinType: 136,

	GenesisHash: newHashFromStr("aa22adcc12becaf436027ffe62a8fb21" +
		"b234c58c23865291e5dc52cf53f64fca"),

	CoinbaseMaturity: 100,

	RelayNonStdTxs: true,
}

// regTestParams defines the chain parameters for the Kiiro regression test
// network.
var regTestParams = chaincfg.Params{
	Name: "regtest",
	Net:  wire.BitcoinNet(0xfabfb5da),

	// Address encoding magics
	PubKeyHashAddrID: 0x41, // 65
	ScriptHashAddrID: 0xb2, // 178
	PrivateKeyID:     0xef, // 239

	// BIP32 hierarchical deterministic extended key magics
	HDPrivateKeyID: [4]byte{0x04, 0x35, 0x83, 0x94}, // starts with tprv
	HDPublicKeyID:  [4]byte{0x04, 0x35, 0x87, 0xcf}, // starts with tpub

	HDCoinType: 136,

	GenesisHash: newHashFromStr("a42b98f04cc2916e8adfb5d9db8a2227" +
		"c4629bc205748ed2f33180b636ee885b"),

	CoinbaseMaturity: 100,

	RelayNonStdTxs: true,
}

// newHashFromStr converts the passed big-endian hex string into a
// chainhash.Hash.  It only differs from the one available in chainhash in
// that it panics on an error since it will only be called with hard-coded,
// and therefore known good, hashes.
func newHashFromStr(hexStr string) *chainhash.Hash {
	hash, err := chainhash.NewHashFromStr(hexStr)
	if err != nil {
		panic(err)
	}
	return hash
}

func init() {
	// Register the networks with chaincfg so address and extended key
	// decoding recognize them.  Registration can only happen once per
	// network magic, which is fine since this package is the single place
	// the Kiiro networks are defined.
	for _, params := range []*chaincfg.Params{
		&mainNetParams, &testNetParams, &regTestParams,
	} {
		if err := chaincfg.Register(params); err != nil {
			panic(err)
		}
	}
}
