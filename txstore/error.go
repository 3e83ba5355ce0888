// Copyright (c) 2015 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txstore

import "fmt"

// ErrorCode identifies a category of error.
type ErrorCode uint8

// These constants are used to identify a specific TxStoreError.
const (
	// ErrDatabase indicates an error with the underlying database.
	ErrDatabase ErrorCode = iota

	// ErrData describes an error where data stored in the transaction
	// database is incorrect.  This may be due to missing values, values of
	// wrong sizes, or data in the wrong buckets.
	ErrData

	// ErrInput describes an error where the caller passed in invalid
	// parameters.
	ErrInput

	// ErrNoExist describes a lookup failure for a transaction or credit.
	ErrNoExist
)

var errStrs = [...]string{
	ErrDatabase: "ErrDatabase",
	ErrData:     "ErrData",
	ErrInput:    "ErrInput",
	ErrNoExist:  "ErrNoExist",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if e < ErrorCode(len(errStrs)) {
		return errStrs[e]
	}
	return fmt.Sprintf("ErrorCode(%d)", e)
}

// TxStoreError provides a single type for errors that can happen during store
// operation.
type TxStoreError struct {
	Code ErrorCode
	Desc string
	Err  error
}

// Error satisfies the error interface.
func (e TxStoreError) Error() string {
	if e.Err != nil {
		return e.Desc + ": " + e.Err.Error()
	}
	return e.Desc
}

func storeError(c ErrorCode, desc string, err error) TxStoreError {
	return TxStoreError{Code: c, Desc: desc, Err: err}
}

// IsError returns whether the error is a TxStoreError with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	e, ok := err.(TxStoreError)
	return ok && e.Code == code
}
