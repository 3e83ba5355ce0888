// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import "fmt"

// ErrorCode identifies a category of error.
type ErrorCode uint8

// These constants are used to identify a specific MasternodeError.
const (
	// ErrDatabase indicates an error with the underlying database.
	ErrDatabase ErrorCode = iota

	// ErrInvalidConf describes a malformed masternode.conf line.
	ErrInvalidConf

	// ErrDuplicateAlias indicates registration under an alias that is
	// already in use.
	ErrDuplicateAlias

	// ErrDuplicateCollateral indicates registration of a collateral
	// outpoint that already funds another masternode.
	ErrDuplicateCollateral

	// ErrNoExist describes a lookup of an unknown alias.
	ErrNoExist

	// ErrBelowDIP3 indicates an attempt to build a ProRegTx before
	// deterministic masternode lists are active.
	ErrBelowDIP3

	// ErrCollateralValue indicates a collateral output that does not hold
	// exactly the required collateral amount.
	ErrCollateralValue
)

var errStrs = [...]string{
	ErrDatabase:            "ErrDatabase",
	ErrInvalidConf:         "ErrInvalidConf",
	ErrDuplicateAlias:      "ErrDuplicateAlias",
	ErrDuplicateCollateral: "ErrDuplicateCollateral",
	ErrNoExist:             "ErrNoExist",
	ErrBelowDIP3:           "ErrBelowDIP3",
	ErrCollateralValue:     "ErrCollateralValue",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if e < ErrorCode(len(errStrs)) {
		return errStrs[e]
	}
	return fmt.Sprintf("ErrorCode(%d)", e)
}

// MasternodeError provides a single type for errors that can happen during
// masternode management.
type MasternodeError struct {
	Code ErrorCode
	Desc string
	Err  error
}

// Error satisfies the error interface.
func (e MasternodeError) Error() string {
	if e.Err != nil {
		return e.Desc + ": " + e.Err.Error()
	}
	return e.Desc
}

func managerError(c ErrorCode, desc string, err error) MasternodeError {
	return MasternodeError{Code: c, Desc: desc, Err: err}
}

// IsError returns whether the error is a MasternodeError with a matching
// error code.
func IsError(err error, code ErrorCode) bool {
	e, ok := err.(MasternodeError)
	return ok && e.Code == code
}
