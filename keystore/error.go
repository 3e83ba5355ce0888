// Copyright (c) 2014 The btcsuite developers
// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keystore

import "fmt"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific KeystoreError.
const (
	// ErrDatabase indicates an error with the underlying database.  When
	// this error code is set, the Err field of the KeystoreError will be
	// set to the underlying error returned from the database.
	ErrDatabase ErrorCode = iota

	// ErrKeyChain indicates an error with the key chain typically either
	// due to the inability to create an extended key or deriving a child
	// extended key.  When this error code is set, the Err field of the
	// KeystoreError will be set to the underlying error.
	ErrKeyChain

	// ErrCrypto indicates an error with the cryptography related code.
	// When this error code is set, the Err field of the KeystoreError
	// will be set to the underlying error.
	ErrCrypto

	// ErrNoExist indicates that the specified database does not exist.
	ErrNoExist

	// ErrAlreadyExists indicates that the specified database already
	// exists.
	ErrAlreadyExists

	// ErrLocked indicates that an operation, which requires the keystore
	// to be unlocked, was requested on a locked keystore.
	ErrLocked

	// ErrWatchingOnly indicates that an operation, which requires private
	// key material, was requested on a watching-only keystore.
	ErrWatchingOnly

	// ErrAddressNotFound indicates that the requested address is not
	// known to the keystore.
	ErrAddressNotFound

	// ErrWrongPassphrase indicates that the specified passphrase is
	// incorrect.  This could be for either public or private master keys.
	ErrWrongPassphrase
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:        "ErrDatabase",
	ErrKeyChain:        "ErrKeyChain",
	ErrCrypto:          "ErrCrypto",
	ErrNoExist:         "ErrNoExist",
	ErrAlreadyExists:   "ErrAlreadyExists",
	ErrLocked:          "ErrLocked",
	ErrWatchingOnly:    "ErrWatchingOnly",
	ErrAddressNotFound: "ErrAddressNotFound",
	ErrWrongPassphrase: "ErrWrongPassphrase",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// KeystoreError provides a single type for errors that can happen during
// keystore operation.  It is used to indicate several types of failures
// including errors with caller requests such as invalid passphrases, errors
// with the database, and errors with key chain derivation.
type KeystoreError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e KeystoreError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// keystoreError creates a KeystoreError given a set of arguments.
func keystoreError(c ErrorCode, desc string, err error) KeystoreError {
	return KeystoreError{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether the error is a KeystoreError with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	e, ok := err.(KeystoreError)
	return ok && e.ErrorCode == code
}
