// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"strconv"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/kiirocoin/kiirowallet/walletdb"
)

// ProRegTxVersion is the only payload version currently defined.
const ProRegTxVersion uint16 = 1

// ProRegTx is the payload of a DIP3 provider registration special
// transaction.  It announces a masternode to the deterministic list,
// referencing the collateral outpoint and the owner, operator and voting
// keys.
type ProRegTx struct {
	Version    uint16
	Type       uint16
	Mode       uint16
	Collateral wire.OutPoint

	// IPAddress is stored as a 16 byte address, IPv4 mapped.  The port
	// uses network byte order on the wire.
	IPAddress [16]byte
	Port      uint16

	KeyIDOwner     [20]byte
	PubKeyOperator [48]byte
	KeyIDVoting    [20]byte
	OperatorReward uint16
	ScriptPayout   []byte
	InputsHash     chainhash.Hash
	PayloadSig     []byte
}

// Serialize writes the payload in its wire encoding.
func (p *ProRegTx) Serialize(w io.Writer) error {
	return p.serialize(w, false)
}

func (p *ProRegTx) serialize(w io.Writer, forSigning bool) error {
	var scratch [8]byte

	le := binary.LittleEndian
	le.PutUint16(scratch[0:2], p.Version)
	le.PutUint16(scratch[2:4], p.Type)
	le.PutUint16(scratch[4:6], p.Mode)
	if _, err := w.Write(scratch[0:6]); err != nil {
		return err
	}
	if _, err := w.Write(p.Collateral.Hash[:]); err != nil {
		return err
	}
	le.PutUint32(scratch[0:4], p.Collateral.Index)
	if _, err := w.Write(scratch[0:4]); err != nil {
		return err
	}
	if _, err := w.Write(p.IPAddress[:]); err != nil {
		return err
	}
	// The service port is serialized in network byte order.
	binary.BigEndian.PutUint16(scratch[0:2], p.Port)
	if _, err := w.Write(scratch[0:2]); err != nil {
		return err
	}
	if _, err := w.Write(p.KeyIDOwner[:]); err != nil {
		return err
	}
	if _, err := w.Write(p.PubKeyOperator[:]); err != nil {
		return err
	}
	if _, err := w.Write(p.KeyIDVoting[:]); err != nil {
		return err
	}
	le.PutUint16(scratch[0:2], p.OperatorReward)
	if _, err := w.Write(scratch[0:2]); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, p.ScriptPayout); err != nil {
		return err
	}
	if _, err := w.Write(p.InputsHash[:]); err != nil {
		return err
	}
	sig := p.PayloadSig
	if forSigning {
		sig = nil
	}
	return wire.WriteVarBytes(w, 0, sig)
}

// Deserialize reads the payload from its wire encoding.
func (p *ProRegTx) Deserialize(r io.Reader) error {
	var scratch [8]byte

	le := binary.LittleEndian
	if _, err := io.ReadFull(r, scratch[0:6]); err != nil {
		return err
	}
	p.Version = le.Uint16(scratch[0:2])
	p.Type = le.Uint16(scratch[2:4])
	p.Mode = le.Uint16(scratch[4:6])
	if _, err := io.ReadFull(r, p.Collateral.Hash[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, scratch[0:4]); err != nil {
		return err
	}
	p.Collateral.Index = le.Uint32(scratch[0:4])
	if _, err := io.ReadFull(r, p.IPAddress[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, scratch[0:2]); err != nil {
		return err
	}
	p.Port = binary.BigEndian.Uint16(scratch[0:2])
	if _, err := io.ReadFull(r, p.KeyIDOwner[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, p.PubKeyOperator[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, p.KeyIDVoting[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, scratch[0:2]); err != nil {
		return err
	}
	p.OperatorReward = le.Uint16(scratch[0:2])
	script, err := wire.ReadVarBytes(r, 0, 10000, "payout script")
	if err != nil {
		return err
	}
	p.ScriptPayout = script
	if _, err := io.ReadFull(r, p.InputsHash[:]); err != nil {
		return err
	}
	sig, err := wire.ReadVarBytes(r, 0, 10000, "payload signature")
	if err != nil {
		return err
	}
	if len(sig) == 0 {
		sig = nil
	}
	p.PayloadSig = sig
	return nil
}

// SigningHash returns the double SHA-256 hash of the payload with an empty
// signature.  This is the message the collateral owner key signs.
func (p *ProRegTx) SigningHash() (chainhash.Hash, error) {
	var buf bytes.Buffer
	if err := p.serialize(&buf, true); err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.DoubleHashH(buf.Bytes()), nil
}

// Sign signs the payload with the collateral owner key, producing a compact
// recoverable signature.
func (p *ProRegTx) Sign(ownerKey *btcec.PrivateKey) error {
	hash, err := p.SigningHash()
	if err != nil {
		return err
	}
	sig, err := btcec.SignCompact(btcec.S256(), ownerKey, hash[:], true)
	if err != nil {
		return err
	}
	p.PayloadSig = sig
	return nil
}

// BuildProRegTx assembles an unsigned provider registration payload for the
// masternode registered under alias.  Registration is refused before the
// DIP3 activation height.
func (m *Manager) BuildProRegTx(ns walletdb.ReadBucket, alias string,
	tipHeight int32, keyIDOwner, keyIDVoting [20]byte,
	pubKeyOperator [48]byte, scriptPayout []byte,
	inputsHash chainhash.Hash) (*ProRegTx, error) {

	if tipHeight < m.params.DIP3ActivationHeight {
		return nil, managerError(ErrBelowDIP3,
			"deterministic masternode lists activate at height "+
				strconv.Itoa(int(m.params.DIP3ActivationHeight)),
			nil)
	}

	mn, err := m.Fetch(ns, alias)
	if err != nil {
		return nil, err
	}
	host, portStr, err := net.SplitHostPort(mn.Addr)
	if err != nil {
		return nil, managerError(ErrInvalidConf,
			"invalid masternode address", err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, managerError(ErrInvalidConf,
			"invalid masternode IP address", nil)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, managerError(ErrInvalidConf,
			"invalid masternode port", err)
	}

	protx := &ProRegTx{
		Version:        ProRegTxVersion,
		Collateral:     mn.CollateralPoint,
		Port:           uint16(port),
		KeyIDOwner:     keyIDOwner,
		PubKeyOperator: pubKeyOperator,
		KeyIDVoting:    keyIDVoting,
		ScriptPayout:   scriptPayout,
		InputsHash:     inputsHash,
	}
	copy(protx.IPAddress[:], ip.To16())
	return protx, nil
}
