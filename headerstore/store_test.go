// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package headerstore

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/kiirocoin/kiirowallet/netparams"
)

// testStore returns an empty store backed by a file in a temporary directory.
func testStore(t *testing.T, params *netparams.Params) (*Store, string) {
	t.Helper()

	dir, err := ioutil.TempDir("", "headerstore")
	if err != nil {
		t.Fatalf("unable to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "headers")
	store, err := Open(path, params)
	if err != nil {
		t.Fatalf("unable to open store: %v", err)
	}
	return store, path
}

// testHeaderBytes returns a header filled with the given byte, sized for the
// height.
func testHeaderBytes(params *netparams.Params, height int32, fill byte) []byte {
	raw := make([]byte, HeaderSizeAtHeight(params, height))
	for i := range raw {
		raw[i] = fill
	}
	return raw
}

func TestStorePutGet(t *testing.T) {
	params := &netparams.RegTestParams
	store, _ := testStore(t, params)
	defer store.Close()

	if height := store.Height(); height != -1 {
		t.Fatalf("empty store height: got %d, want -1", height)
	}

	for height := int32(0); height < 10; height++ {
		raw := testHeaderBytes(params, height, byte(height))
		if err := store.PutHeader(height, raw); err != nil {
			t.Fatalf("put header %d: %v", height, err)
		}
	}
	if height := store.Height(); height != 9 {
		t.Fatalf("store height: got %d, want 9", height)
	}

	for height := int32(0); height < 10; height++ {
		raw, err := store.GetHeader(height)
		if err != nil {
			t.Fatalf("get header %d: %v", height, err)
		}
		want := testHeaderBytes(params, height, byte(height))
		if !bytes.Equal(raw, want) {
			t.Fatalf("header %d mismatch", height)
		}
	}

	if _, err := store.GetHeader(10); err != ErrNoHeader {
		t.Fatalf("get above tip: got %v, want ErrNoHeader", err)
	}
}

func TestStoreRejectsGapAndBadSize(t *testing.T) {
	params := &netparams.RegTestParams
	store, _ := testStore(t, params)
	defer store.Close()

	if err := store.PutHeader(1, testHeaderBytes(params, 1, 1)); err != ErrHeaderGap {
		t.Fatalf("gap put: got %v, want ErrHeaderGap", err)
	}
	if err := store.PutHeader(0, make([]byte, 79)); err != ErrHeaderSize {
		t.Fatalf("short put: got %v, want ErrHeaderSize", err)
	}
}

func TestStoreReorgTruncates(t *testing.T) {
	params := &netparams.RegTestParams
	store, _ := testStore(t, params)
	defer store.Close()

	for height := int32(0); height < 10; height++ {
		raw := testHeaderBytes(params, height, byte(height))
		if err := store.PutHeader(height, raw); err != nil {
			t.Fatalf("put header %d: %v", height, err)
		}
	}

	// Rewrite height 5 as a reorg.  Headers 6-9 must be dropped.
	reorged := testHeaderBytes(params, 5, 0xff)
	if err := store.PutHeader(5, reorged); err != nil {
		t.Fatalf("reorg put: %v", err)
	}
	if height := store.Height(); height != 5 {
		t.Fatalf("post-reorg height: got %d, want 5", height)
	}
	raw, err := store.GetHeader(5)
	if err != nil {
		t.Fatalf("get reorged header: %v", err)
	}
	if !bytes.Equal(raw, reorged) {
		t.Fatal("reorged header mismatch")
	}
	if _, err := store.GetHeader(6); err != ErrNoHeader {
		t.Fatalf("dropped header still present: %v", err)
	}
}

func TestStoreRollback(t *testing.T) {
	params := &netparams.RegTestParams
	store, _ := testStore(t, params)
	defer store.Close()

	for height := int32(0); height < 4; height++ {
		raw := testHeaderBytes(params, height, byte(height))
		if err := store.PutHeader(height, raw); err != nil {
			t.Fatalf("put header %d: %v", height, err)
		}
	}
	if err := store.Rollback(1); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if height := store.Height(); height != 1 {
		t.Fatalf("post-rollback height: got %d, want 1", height)
	}
	if err := store.Rollback(-1); err != nil {
		t.Fatalf("rollback to empty: %v", err)
	}
	if height := store.Height(); height != -1 {
		t.Fatalf("post-empty height: got %d, want -1", height)
	}
}

// TestStoreTruncationRecovery ensures a partially written trailing header is
// dropped on open.
func TestStoreTruncationRecovery(t *testing.T) {
	params := &netparams.RegTestParams
	store, path := testStore(t, params)

	for height := int32(0); height < 3; height++ {
		raw := testHeaderBytes(params, height, byte(height))
		if err := store.PutHeader(height, raw); err != nil {
			t.Fatalf("put header %d: %v", height, err)
		}
	}
	store.Close()

	// Simulate a crash mid-write by appending half a header.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	if _, err := f.Write(make([]byte, 40)); err != nil {
		t.Fatalf("append partial: %v", err)
	}
	f.Close()

	store, err = Open(path, params)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	if height := store.Height(); height != 2 {
		t.Fatalf("recovered height: got %d, want 2", height)
	}
}
