// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package privatesend

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/txstore"
)

// ErrMinRounds is returned when coins selected for spending have not been
// mixed for the required minimum number of rounds.
var ErrMinRounds = errors.New("minimum mixing rounds check failed")

// ErrPossibleDoubleSpend is returned when spending mixed coins while
// masternode transactions may still arrive.
var ErrPossibleDoubleSpend = errors.New("possible double spend of recently mixed coins")

// Manager coordinates PrivateSend mixing for a wallet.  It owns the manager
// state machine, the user mixing preferences and the session statistics.
// Workflows and preferences are persisted through the walletdb namespace
// passed to its methods.
type Manager struct {
	mtx      sync.Mutex
	state    State
	testnet  bool
	MixStats *MixingStats
}

// validTransitions lists for every state the states it may move to.
var validTransitions = map[State][]State{
	StateDisabled:         {StateInitializing},
	StateInitializing:     {StateFindingUntracked, StateReady, StateErrored},
	StateFindingUntracked: {StateReady, StateErrored},
	StateReady:            {StateStartMixing, StateFindingUntracked, StateCleaning},
	StateStartMixing:      {StateMixing, StateStopMixing, StateErrored},
	StateMixing:           {StateStopMixing, StateErrored},
	StateStopMixing:       {StateReady, StateErrored},
	StateErrored:          {StateCleaning},
	StateCleaning:         {StateDisabled, StateErrored},
}

// NewManager creates a mixing manager.  Watching-only wallets cannot mix and
// start in the unsupported state.
func NewManager(testnet, watchingOnly bool) *Manager {
	state := StateDisabled
	if watchingOnly {
		state = StateUnsupported
	}
	return &Manager{
		state:    state,
		testnet:  testnet,
		MixStats: NewMixingStats(),
	}
}

// State returns the current manager state.
func (m *Manager) State() State {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.state
}

// SetState moves the manager to a new state.  Only transitions of the mixing
// state machine are allowed.
func (m *Manager) SetState(state State) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, next := range validTransitions[m.state] {
		if next == state {
			log.Debugf("Mixing state %v -> %v", m.state, state)
			m.state = state
			return nil
		}
	}
	return fmt.Errorf("invalid mixing state transition %v -> %v",
		m.state, state)
}

// ClearMixStats resets the gathered mixing session statistics.  Statistics
// cannot be reset while mixing runs.
func (m *Manager) ClearMixStats() error {
	if m.State().IsMixingRun() {
		return ErrMixingRunning
	}
	m.mtx.Lock()
	m.MixStats = NewMixingStats()
	m.mtx.Unlock()
	return nil
}

// BalanceFunc reports the wallet balance of denominated coins mixed for at
// least minRounds rounds.
type BalanceFunc func(minRounds int64) btcutil.Amount

// MixingProgress estimates mixing progress in percent for the given target
// rounds.  Each achieved round of every denominated coin contributes its
// share.  To avoid showing completion too early on small amount differences,
// 100 is only reported once the fully mixed balance equals the denominated
// balance.
func MixingProgress(balance BalanceFunc, rounds int) int {
	dnBalance := balance(0)
	if dnBalance == 0 {
		return 0
	}
	if balance(int64(rounds)) == dnBalance {
		return 100
	}
	var res float64
	for i := 1; i <= rounds; i++ {
		res += float64(balance(int64(i))) / float64(dnBalance) / float64(rounds)
	}
	progress := int(math.Round(res * 100))
	if progress < 100 {
		return progress
	}
	return 99
}

// CheckMinRounds verifies that every coin has been mixed for at least
// minRounds rounds.
func CheckMinRounds(coins []txstore.Credit, minRounds int64) error {
	for i := range coins {
		if coins[i].PSRounds < minRounds {
			return ErrMinRounds
		}
	}
	return nil
}

// CheckEnoughSmallDenoms reports whether the denominated coins contain enough
// small denominations, that is, whether no denomination is outnumbered by the
// next bigger one.
func CheckEnoughSmallDenoms(denomsByVal map[btcutil.Amount]int) bool {
	if len(denomsByVal) == 0 {
		return false
	}
	for _, dval := range DenomVals[:len(DenomVals)-1] {
		if denomsByVal[dval] < denomsByVal[dval*10] {
			return false
		}
	}
	return true
}

// CheckBigDenomsPresented reports whether any non-minimal denominations are
// present.
func CheckBigDenomsPresented(denomsByVal map[btcutil.Amount]int) bool {
	for _, dval := range DenomVals[1:] {
		if denomsByVal[dval] > 0 {
			return true
		}
	}
	return false
}
