// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package headerstore implements a flat file store for the Kiiro block header
// chain.  Headers are kept at fixed offsets computed from the network's
// format transition heights, so random access never requires scanning the
// file.
package headerstore

import (
	"errors"
	"os"
	"sync"

	"github.com/kiirocoin/kiirowallet/netparams"
)

var (
	// ErrHeaderGap is returned when a header is stored more than one
	// height above the current tip.
	ErrHeaderGap = errors.New("header store: non-contiguous header")

	// ErrHeaderSize is returned when a raw header does not have the
	// expected size for its height.
	ErrHeaderSize = errors.New("header store: unexpected header size")

	// ErrNoHeader is returned when a requested header is above the tip.
	ErrNoHeader = errors.New("header store: no header at height")
)

// Store provides concurrent safe access to the header file.  The file always
// holds a contiguous run of headers starting at height 0; its length is an
// invariant equal to StaticOffset(count).
type Store struct {
	mtx    sync.Mutex
	params *netparams.Params
	file   *os.File

	// count is the number of headers in the file.  The chain tip is at
	// height count-1.
	count int32
}

// Open opens or creates the header file at the given path.  Any partial
// trailing header, for example from a crash mid-write, is dropped.
func Open(path string, params *netparams.Params) (*Store, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	count := FileSizeToHeight(params, fi.Size())
	wantSize := StaticOffset(params, count)
	if fi.Size() != wantSize {
		if err := file.Truncate(wantSize); err != nil {
			file.Close()
			return nil, err
		}
	}

	return &Store{params: params, file: file, count: count}, nil
}

// Close closes the underlying header file.
func (s *Store) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.file.Close()
}

// Height returns the height of the chain tip, or -1 when the store is empty.
func (s *Store) Height() int32 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.count - 1
}

// GetHeader returns the raw header stored at the given height.
func (s *Store) GetHeader(height int32) ([]byte, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if height < 0 || height >= s.count {
		return nil, ErrNoHeader
	}

	raw := make([]byte, HeaderSizeAtHeight(s.params, height))
	_, err := s.file.ReadAt(raw, StaticOffset(s.params, height))
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// PutHeader stores the raw header at the given height.  The height must be at
// or below one past the current tip.  Storing a header below the tip is a
// reorganization: all headers above it are dropped.
func (s *Store) PutHeader(height int32, raw []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if height < 0 || height > s.count {
		return ErrHeaderGap
	}
	want := HeaderSizeAtHeight(s.params, height)
	if len(raw) != want {
		return ErrHeaderSize
	}

	offset := StaticOffset(s.params, height)
	if _, err := s.file.WriteAt(raw, offset); err != nil {
		return err
	}

	newCount := height + 1
	if newCount < s.count {
		if err := s.file.Truncate(offset + int64(want)); err != nil {
			return err
		}
	}
	s.count = newCount
	return nil
}

// Rollback drops all headers above the given height.  A negative height
// empties the store.
func (s *Store) Rollback(height int32) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if height >= s.count-1 {
		return nil
	}
	newCount := height + 1
	if newCount < 0 {
		newCount = 0
	}
	if err := s.file.Truncate(StaticOffset(s.params, newCount)); err != nil {
		return err
	}
	s.count = newCount
	return nil
}
