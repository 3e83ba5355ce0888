// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package privatesend

import (
	"errors"
	"time"

	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/walletdb"
)

// Mixing preference bounds.  Setters clamp values into these ranges.
const (
	DefaultKeepAmount btcutil.Amount = 2 * btcutil.SatoshiPerBitcoin
	MinKeepAmount     btcutil.Amount = 2 * btcutil.SatoshiPerBitcoin
	MaxKeepAmount     btcutil.Amount = 21000000 * btcutil.SatoshiPerBitcoin

	DefaultMixRounds    = 4
	MinMixRounds        = 2
	MaxMixRounds        = 16
	MaxMixRoundsTestnet = 256

	DefaultSessions = 4
	MinSessions     = 1
	MaxSessions     = 10

	// Keypairs cache cleanup timeout in minutes after mixing stops.
	DefaultKPTimeout = 0
	MinKPTimeout     = 0
	MaxKPTimeout     = 5

	PoolMinParticipants        = 3
	PoolMinParticipantsTestnet = 2
	PoolMaxParticipants        = 20

	// WaitForMnTxsTime is how long to await collateral and denominate
	// transactions from masternodes after mixing stops.
	WaitForMnTxsTime = 120 * time.Second

	// Delay bounds between new denoms transactions.
	MinNewDenomsDelay = 30 * time.Second
	MaxNewDenomsDelay = 300 * time.Second
)

// CalcDenomsMethod selects how the needed denoms count is calculated.
type CalcDenomsMethod uint8

const (
	// CalcDenomsDefault derives the needed denoms count from the keep
	// amount.
	CalcDenomsDefault CalcDenomsMethod = iota

	// CalcDenomsAbsolute uses an absolute per-denomination count set by
	// the user.
	CalcDenomsAbsolute
)

// ErrMixingRunning is returned by preference setters that are not allowed
// while a mixing process is active.
var ErrMixingRunning = errors.New("mixing process is running")

var (
	keyKeepAmount       = []byte("keepamount")
	keyMixRounds        = []byte("mixrounds")
	keySessions         = []byte("sessions")
	keyKPTimeout        = []byte("kptimeout")
	keyCalcDenomsMethod = []byte("calcdenomsmethod")
	keyAbsDenomsCnt     = []byte("absdenomscnt")
	keyLastMixStart     = []byte("lastmixstart")
	keyLastMixStop      = []byte("lastmixstop")
	keyLastDenomsTx     = []byte("lastdenomstx")
	keyLastMixedTx      = []byte("lastmixedtx")
)

// KeepAmount returns the balance threshold at which mixing stops.  With the
// absolute denoms count method the threshold is the total value of the
// configured denoms.
func (m *Manager) KeepAmount(ns walletdb.ReadBucket) btcutil.Amount {
	if m.CalcDenomsMethod(ns) == CalcDenomsAbsolute {
		var total btcutil.Amount
		cnt := m.AbsDenomsCnt(ns)
		for _, dval := range DenomVals {
			total += dval * btcutil.Amount(cnt[dval])
		}
		return total
	}
	return btcutil.Amount(fetchPSDataUint64(ns, keyKeepAmount,
		uint64(DefaultKeepAmount)))
}

// SetKeepAmount sets the balance threshold at which mixing stops.  The value
// is clamped into the allowed range.  Setting is a no-op with the absolute
// denoms count method.
func (m *Manager) SetKeepAmount(ns walletdb.ReadWriteBucket, amount btcutil.Amount) error {
	if m.State().IsMixingRun() {
		return ErrMixingRunning
	}
	if m.CalcDenomsMethod(ns) == CalcDenomsAbsolute {
		return nil
	}
	if amount < MinKeepAmount {
		amount = MinKeepAmount
	}
	if amount > MaxKeepAmount {
		amount = MaxKeepAmount
	}
	return putPSDataUint64(ns, keyKeepAmount, uint64(amount))
}

// MixRounds returns the number of mixing rounds a denom goes through before
// it counts as anonymized.
func (m *Manager) MixRounds(ns walletdb.ReadBucket) int {
	return int(fetchPSDataUint64(ns, keyMixRounds, DefaultMixRounds))
}

// MaxMixRoundsAllowed returns the upper bound for the mix rounds preference
// on the manager's network.
func (m *Manager) MaxMixRoundsAllowed() int {
	if m.testnet {
		return MaxMixRoundsTestnet
	}
	return MaxMixRounds
}

// SetMixRounds sets the number of mixing rounds, clamped into the allowed
// range.
func (m *Manager) SetMixRounds(ns walletdb.ReadWriteBucket, rounds int) error {
	if m.State().IsMixingRun() {
		return ErrMixingRunning
	}
	if rounds < MinMixRounds {
		rounds = MinMixRounds
	}
	if max := m.MaxMixRoundsAllowed(); rounds > max {
		rounds = max
	}
	return putPSDataUint64(ns, keyMixRounds, uint64(rounds))
}

// Sessions returns the number of concurrent mixing sessions.
func (m *Manager) Sessions(ns walletdb.ReadBucket) int {
	return int(fetchPSDataUint64(ns, keySessions, DefaultSessions))
}

// SetSessions sets the number of concurrent mixing sessions, clamped into the
// allowed range.
func (m *Manager) SetSessions(ns walletdb.ReadWriteBucket, sessions int) error {
	if sessions < MinSessions {
		sessions = MinSessions
	}
	if sessions > MaxSessions {
		sessions = MaxSessions
	}
	return putPSDataUint64(ns, keySessions, uint64(sessions))
}

// KPTimeout returns the keypairs cache cleanup timeout in minutes.
func (m *Manager) KPTimeout(ns walletdb.ReadBucket) int {
	return int(fetchPSDataUint64(ns, keyKPTimeout, DefaultKPTimeout))
}

// SetKPTimeout sets the keypairs cache cleanup timeout in minutes, clamped
// into the allowed range.
func (m *Manager) SetKPTimeout(ns walletdb.ReadWriteBucket, minutes int) error {
	if minutes < MinKPTimeout {
		minutes = MinKPTimeout
	}
	if minutes > MaxKPTimeout {
		minutes = MaxKPTimeout
	}
	return putPSDataUint64(ns, keyKPTimeout, uint64(minutes))
}

// PoolMinParticipantsAllowed returns the minimum mixing pool participants on
// the manager's network.
func (m *Manager) PoolMinParticipantsAllowed() int {
	if m.testnet {
		return PoolMinParticipantsTestnet
	}
	return PoolMinParticipants
}

// CalcDenomsMethod returns the configured needed denoms calculation method.
func (m *Manager) CalcDenomsMethod(ns walletdb.ReadBucket) CalcDenomsMethod {
	return CalcDenomsMethod(fetchPSDataUint64(ns, keyCalcDenomsMethod,
		uint64(CalcDenomsDefault)))
}

// SetCalcDenomsMethod sets the needed denoms calculation method.
func (m *Manager) SetCalcDenomsMethod(ns walletdb.ReadWriteBucket,
	method CalcDenomsMethod) error {

	if m.State().IsMixingRun() {
		return ErrMixingRunning
	}
	if method != CalcDenomsDefault && method != CalcDenomsAbsolute {
		return errors.New("unknown denoms calculation method")
	}
	return putPSDataUint64(ns, keyCalcDenomsMethod, uint64(method))
}

// AbsDenomsCnt returns the absolute needed denoms count by denomination
// value.  Every denomination is present in the returned map.
func (m *Manager) AbsDenomsCnt(ns walletdb.ReadBucket) map[btcutil.Amount]uint32 {
	cnt := make(map[btcutil.Amount]uint32, len(DenomVals))
	for _, dval := range DenomVals {
		cnt[dval] = 0
	}
	v := ns.NestedReadBucket(bucketPSData).Get(keyAbsDenomsCnt)
	if len(v) != 4*len(DenomVals) {
		return cnt
	}
	for i, dval := range DenomVals {
		cnt[dval] = byteOrder.Uint32(v[i*4 : i*4+4])
	}
	return cnt
}

// SetAbsDenomsCnt sets the absolute needed denoms count.  The map must have
// an entry for every denomination value.
func (m *Manager) SetAbsDenomsCnt(ns walletdb.ReadWriteBucket,
	cnt map[btcutil.Amount]uint32) error {

	if m.State().IsMixingRun() {
		return ErrMixingRunning
	}
	if len(cnt) != len(DenomVals) {
		return errors.New("denoms count must cover every denomination")
	}
	v := make([]byte, 4*len(DenomVals))
	for i, dval := range DenomVals {
		c, ok := cnt[dval]
		if !ok {
			return errors.New("denoms count must cover every denomination")
		}
		byteOrder.PutUint32(v[i*4:i*4+4], c)
	}
	return ns.NestedReadWriteBucket(bucketPSData).Put(keyAbsDenomsCnt, v)
}

// LastMixStart returns when mixing was last started.
func (m *Manager) LastMixStart(ns walletdb.ReadBucket) time.Time {
	return timeOrZero(int64(fetchPSDataUint64(ns, keyLastMixStart, 0)))
}

// SetLastMixStart records when mixing was last started.
func (m *Manager) SetLastMixStart(ns walletdb.ReadWriteBucket, t time.Time) error {
	return putPSDataUint64(ns, keyLastMixStart, uint64(unixOrZero(t)))
}

// LastMixStop returns when mixing was last stopped.
func (m *Manager) LastMixStop(ns walletdb.ReadBucket) time.Time {
	return timeOrZero(int64(fetchPSDataUint64(ns, keyLastMixStop, 0)))
}

// SetLastMixStop records when mixing was last stopped.
func (m *Manager) SetLastMixStop(ns walletdb.ReadWriteBucket, t time.Time) error {
	return putPSDataUint64(ns, keyLastMixStop, uint64(unixOrZero(t)))
}

// LastDenomsTxTime returns when the last new denoms transaction was created.
func (m *Manager) LastDenomsTxTime(ns walletdb.ReadBucket) time.Time {
	return timeOrZero(int64(fetchPSDataUint64(ns, keyLastDenomsTx, 0)))
}

// SetLastDenomsTxTime records when the last new denoms transaction was
// created.
func (m *Manager) SetLastDenomsTxTime(ns walletdb.ReadWriteBucket, t time.Time) error {
	return putPSDataUint64(ns, keyLastDenomsTx, uint64(unixOrZero(t)))
}

// LastMixedTxTime returns when the last denominate transaction arrived.
func (m *Manager) LastMixedTxTime(ns walletdb.ReadBucket) time.Time {
	return timeOrZero(int64(fetchPSDataUint64(ns, keyLastMixedTx, 0)))
}

// SetLastMixedTxTime records when the last denominate transaction arrived.
func (m *Manager) SetLastMixedTxTime(ns walletdb.ReadWriteBucket, t time.Time) error {
	return putPSDataUint64(ns, keyLastMixedTx, uint64(unixOrZero(t)))
}

// MixRecentlyRun returns whether mixing stopped recently enough that
// denominate or pay collateral transactions may still arrive from
// masternodes.  Spending mixed coins in that window risks a double spend.
func (m *Manager) MixRecentlyRun(ns walletdb.ReadBucket) bool {
	return time.Since(m.LastMixStop(ns)) < WaitForMnTxsTime
}
