// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package legacyrpc

import "github.com/btcsuite/btcd/btcjson"

// Wallet extension commands not defined by the reference client.  They cover
// Kiirocoin masternode management, PrivateSend mixing and the Electrum-style
// address model of this wallet.

// GetUnusedAddressCmd returns the first unused external address, deriving a
// new one only when every stored address has been used.
type GetUnusedAddressCmd struct{}

// GetAllAddressesCmd lists the wallet's derived addresses.  Receiving and
// change addresses may be filtered individually.
type GetAllAddressesCmd struct {
	Receiving *bool `jsonrpcdefault:"true"`
	Change    *bool `jsonrpcdefault:"true"`
	UsedOnly  *bool `jsonrpcdefault:"false"`
}

// GetSeedCmd returns the wallet seed.  The wallet must be unlocked.
type GetSeedCmd struct{}

// ImportMasternodeCmd registers masternodes from masternode.conf content.
type ImportMasternodeCmd struct {
	Conf string
}

// ListMasternodesCmd lists the wallet's masternodes.
type ListMasternodesCmd struct{}

// MasternodeStatusCmd returns one masternode with its deterministic list
// state refreshed from the backend.
type MasternodeStatusCmd struct {
	Alias string
}

// ProtxRegisterCmd creates and broadcasts a provider registration
// transaction for a previously imported masternode.
type ProtxRegisterCmd struct {
	Alias          string
	OperatorPubKey string
}

// PSInfoCmd returns the PrivateSend mixing state, preferences and balances.
type PSInfoCmd struct{}

// SetPSRoundsCmd sets the target number of mixing rounds.
type SetPSRoundsCmd struct {
	Rounds int
}

// SetPSKeepAmountCmd sets the balance threshold at which mixing stops.
type SetPSKeepAmountCmd struct {
	Amount float64
}

// StartMixingCmd starts the PrivateSend mixing process.
type StartMixingCmd struct{}

// StopMixingCmd stops the PrivateSend mixing process.
type StopMixingCmd struct{}

// ScanOverGapCmd searches for used addresses beyond the gap limit.
type ScanOverGapCmd struct {
	Lookahead *uint32 `jsonrpcdefault:"50"`
}

func init() {
	flags := btcjson.UFWalletOnly

	btcjson.MustRegisterCmd("getunusedaddress", (*GetUnusedAddressCmd)(nil), flags)
	btcjson.MustRegisterCmd("getalladdresses", (*GetAllAddressesCmd)(nil), flags)
	btcjson.MustRegisterCmd("getseed", (*GetSeedCmd)(nil), flags)
	btcjson.MustRegisterCmd("importmasternode", (*ImportMasternodeCmd)(nil), flags)
	btcjson.MustRegisterCmd("listmasternodes", (*ListMasternodesCmd)(nil), flags)
	btcjson.MustRegisterCmd("masternodestatus", (*MasternodeStatusCmd)(nil), flags)
	btcjson.MustRegisterCmd("protxregister", (*ProtxRegisterCmd)(nil), flags)
	btcjson.MustRegisterCmd("psinfo", (*PSInfoCmd)(nil), flags)
	btcjson.MustRegisterCmd("setpsrounds", (*SetPSRoundsCmd)(nil), flags)
	btcjson.MustRegisterCmd("setpskeepamount", (*SetPSKeepAmountCmd)(nil), flags)
	btcjson.MustRegisterCmd("startmixing", (*StartMixingCmd)(nil), flags)
	btcjson.MustRegisterCmd("stopmixing", (*StopMixingCmd)(nil), flags)
	btcjson.MustRegisterCmd("scanovergap", (*ScanOverGapCmd)(nil), flags)
}
