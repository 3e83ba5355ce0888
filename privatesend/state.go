// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package privatesend

import "fmt"

// State describes the current phase of the mixing manager.
type State uint8

const (
	// StateUnsupported indicates mixing cannot run on this wallet, for
	// example because it is watching-only.
	StateUnsupported State = iota

	// StateDisabled indicates mixing has not been enabled yet.
	StateDisabled

	// StateInitializing indicates mixing data is being checked and
	// untracked transactions searched for.
	StateInitializing

	// StateReady indicates the manager is ready to start mixing.
	StateReady

	// StateStartMixing indicates the mixing process is starting up.
	StateStartMixing

	// StateMixing indicates mixing sessions are running.
	StateMixing

	// StateStopMixing indicates the mixing process is shutting down.
	StateStopMixing

	// StateFindingUntracked indicates a search for untracked mixing
	// transactions is in progress.
	StateFindingUntracked

	// StateErrored indicates an error was encountered while checking or
	// adding mixing data.
	StateErrored

	// StateCleaning indicates mixing data is being removed.
	StateCleaning
)

var stateStrings = map[State]string{
	StateUnsupported:      "Unsupported",
	StateDisabled:         "Disabled",
	StateInitializing:     "Initializing",
	StateReady:            "Ready",
	StateStartMixing:      "StartMixing",
	StateMixing:           "Mixing",
	StateStopMixing:       "StopMixing",
	StateFindingUntracked: "FindingUntracked",
	StateErrored:          "Errored",
	StateCleaning:         "Cleaning",
}

// String returns the State as a human-readable name.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("State(%d)", s)
}

// IsMixingRun returns whether the state is one of the states a mixing process
// runs through.  Option changes are rejected in these states.
func (s State) IsMixingRun() bool {
	switch s {
	case StateStartMixing, StateMixing, StateStopMixing:
		return true
	}
	return false
}

// TxType classifies a wallet transaction with respect to mixing.
type TxType uint16

const (
	// TxStandard is a transaction with no mixing significance.
	TxStandard TxType = iota

	// TxNewDenoms creates denominated outputs from regular coins.
	TxNewDenoms

	// TxNewCollateral creates collateral outputs from regular coins.
	TxNewCollateral

	// TxPayCollateral pays a collateral fee to a masternode.
	TxPayCollateral

	// TxDenominate is a mixing round transaction assembled by a
	// masternode from the denominated inputs of multiple participants.
	TxDenominate

	// TxPrivateSendPayment spends mixed coins to an outside destination.
	TxPrivateSendPayment

	// TxSpendPSCoins spends mixed coins in a regular transaction.
	TxSpendPSCoins

	// TxOtherPSCoins records coins that arrived on a mixing address from
	// a transaction of no mixing type.
	TxOtherPSCoins
)

var txTypeStrings = map[TxType]string{
	TxStandard:           "Standard",
	TxNewDenoms:          "New Denoms",
	TxNewCollateral:      "New Collateral",
	TxPayCollateral:      "Pay Collateral",
	TxDenominate:         "Denominate",
	TxPrivateSendPayment: "PrivateSend",
	TxSpendPSCoins:       "Spend PS Coins",
	TxOtherPSCoins:       "Other PS Coins",
}

// String returns the TxType as a human-readable name.
func (t TxType) String() string {
	if str, ok := txTypeStrings[t]; ok {
		return str
	}
	return fmt.Sprintf("TxType(%d)", t)
}

// IsMixing returns whether the transaction type is created by the mixing
// process itself.
func (t TxType) IsMixing() bool {
	switch t {
	case TxNewDenoms, TxNewCollateral, TxPayCollateral, TxDenominate:
		return true
	}
	return false
}
