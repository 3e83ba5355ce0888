// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package privatesend

import (
	"testing"

	"github.com/btcsuite/btcutil"
	"github.com/kiirocoin/kiirowallet/walletdb"
)

func TestOptionDefaults(t *testing.T) {
	db := testDB(t)
	m := NewManager(false, false)

	view(t, db, func(ns walletdb.ReadBucket) error {
		if amt := m.KeepAmount(ns); amt != DefaultKeepAmount {
			t.Errorf("keep amount default: got %v, want %v", amt,
				DefaultKeepAmount)
		}
		if rounds := m.MixRounds(ns); rounds != DefaultMixRounds {
			t.Errorf("mix rounds default: got %d", rounds)
		}
		if sessions := m.Sessions(ns); sessions != DefaultSessions {
			t.Errorf("sessions default: got %d", sessions)
		}
		if kp := m.KPTimeout(ns); kp != DefaultKPTimeout {
			t.Errorf("kp timeout default: got %d", kp)
		}
		if method := m.CalcDenomsMethod(ns); method != CalcDenomsDefault {
			t.Errorf("calc denoms method default: got %d", method)
		}
		return nil
	})
}

func TestOptionClamps(t *testing.T) {
	db := testDB(t)
	m := NewManager(false, false)

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := m.SetKeepAmount(ns, 1*btcutil.SatoshiPerBitcoin); err != nil {
			return err
		}
		if amt := m.KeepAmount(ns); amt != MinKeepAmount {
			t.Errorf("keep amount below min: got %v, want %v", amt,
				MinKeepAmount)
		}
		if err := m.SetKeepAmount(ns, MaxKeepAmount+1); err != nil {
			return err
		}
		if amt := m.KeepAmount(ns); amt != MaxKeepAmount {
			t.Errorf("keep amount above max: got %v, want %v", amt,
				MaxKeepAmount)
		}

		if err := m.SetMixRounds(ns, 1); err != nil {
			return err
		}
		if rounds := m.MixRounds(ns); rounds != MinMixRounds {
			t.Errorf("mix rounds below min: got %d", rounds)
		}
		if err := m.SetMixRounds(ns, 100); err != nil {
			return err
		}
		if rounds := m.MixRounds(ns); rounds != MaxMixRounds {
			t.Errorf("mix rounds above max: got %d", rounds)
		}

		if err := m.SetSessions(ns, 0); err != nil {
			return err
		}
		if sessions := m.Sessions(ns); sessions != MinSessions {
			t.Errorf("sessions below min: got %d", sessions)
		}
		if err := m.SetSessions(ns, 50); err != nil {
			return err
		}
		if sessions := m.Sessions(ns); sessions != MaxSessions {
			t.Errorf("sessions above max: got %d", sessions)
		}

		if err := m.SetKPTimeout(ns, 30); err != nil {
			return err
		}
		if kp := m.KPTimeout(ns); kp != MaxKPTimeout {
			t.Errorf("kp timeout above max: got %d", kp)
		}
		return nil
	})
}

func TestMixRoundsTestnetBound(t *testing.T) {
	db := testDB(t)
	m := NewManager(true, false)

	if m.MaxMixRoundsAllowed() != MaxMixRoundsTestnet {
		t.Fatalf("testnet max rounds: got %d", m.MaxMixRoundsAllowed())
	}
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := m.SetMixRounds(ns, 100); err != nil {
			return err
		}
		if rounds := m.MixRounds(ns); rounds != 100 {
			t.Errorf("testnet mix rounds: got %d, want 100", rounds)
		}
		return nil
	})
}

func TestAbsDenomsKeepAmount(t *testing.T) {
	db := testDB(t)
	m := NewManager(false, false)

	cnt := map[btcutil.Amount]uint32{
		DenomVals[0]: 10,
		DenomVals[1]: 0,
		DenomVals[2]: 0,
		DenomVals[3]: 0,
		DenomVals[4]: 2,
	}
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := m.SetAbsDenomsCnt(ns, cnt); err != nil {
			return err
		}
		return m.SetCalcDenomsMethod(ns, CalcDenomsAbsolute)
	})

	want := DenomVals[0]*10 + DenomVals[4]*2
	view(t, db, func(ns walletdb.ReadBucket) error {
		if amt := m.KeepAmount(ns); amt != want {
			t.Errorf("abs keep amount: got %v, want %v", amt, want)
		}
		return nil
	})

	// With the absolute method the keep amount setter is a no-op.
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return m.SetKeepAmount(ns, 5*btcutil.SatoshiPerBitcoin)
	})
	view(t, db, func(ns walletdb.ReadBucket) error {
		if amt := m.KeepAmount(ns); amt != want {
			t.Errorf("keep amount changed under abs method: %v", amt)
		}
		return nil
	})

	// A partial denoms count map is rejected.
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(namespaceKey)
		return m.SetAbsDenomsCnt(ns, map[btcutil.Amount]uint32{
			DenomVals[0]: 1,
		})
	})
	if err == nil {
		t.Errorf("partial denoms count map accepted")
	}
}

func TestSettersRejectedWhileMixing(t *testing.T) {
	db := testDB(t)
	m := NewManager(false, false)

	for _, state := range []State{
		StateInitializing, StateReady, StateStartMixing, StateMixing,
	} {
		if err := m.SetState(state); err != nil {
			t.Fatalf("transition to %v: %v", state, err)
		}
	}

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := m.SetKeepAmount(ns, 5*btcutil.SatoshiPerBitcoin); err != ErrMixingRunning {
			t.Errorf("keep amount setter while mixing: %v", err)
		}
		if err := m.SetMixRounds(ns, 8); err != ErrMixingRunning {
			t.Errorf("mix rounds setter while mixing: %v", err)
		}
		if err := m.SetCalcDenomsMethod(ns, CalcDenomsAbsolute); err != ErrMixingRunning {
			t.Errorf("calc denoms method setter while mixing: %v", err)
		}
		return nil
	})

	if err := m.ClearMixStats(); err != ErrMixingRunning {
		t.Errorf("mix stats reset while mixing: %v", err)
	}
}
