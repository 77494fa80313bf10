// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestArchiveStoreFinalizeReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sca")
	addrTable := newCompleteAddressTable()

	w, err := OpenForWrite(Config{Path: path, AddressTable: addrTable})
	if err != nil {
		t.Fatalf("OpenForWrite() failed: %v", err)
	}
	if w.State() != StateWriteReady {
		t.Fatalf("State() = %v, want StateWriteReady", w.State())
	}

	release := w.BeginCompile()
	store, buf, err := w.Store()
	if err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	art := CodeArtifact{}
	art.Sections[SectionInsts] = CodeSectionSource{Origin: 0x1000, Bytes: []byte{0xC3}}
	if ok, err := store.StoreStub(buf, 1, "entry_stub", art); err != nil || !ok {
		t.Fatalf("StoreStub() = (%v, %v), want (true, nil)", ok, err)
	}
	release()

	if ok, err := w.Finalize(); err != nil || !ok {
		t.Fatalf("Finalize() = (%v, %v), want (true, nil)", ok, err)
	}
	if w.State() != StateClosed {
		t.Fatalf("State() after Finalize = %v, want StateClosed", w.State())
	}

	r, err := OpenForRead(Config{Path: path, AddressTable: addrTable})
	if err != nil {
		t.Fatalf("OpenForRead() failed: %v", err)
	}
	if r.State() != StateReadReady {
		t.Fatalf("State() = %v, want StateReadReady", r.State())
	}
	if r.Header().EntriesCount != 1 {
		t.Fatalf("Header().EntriesCount = %d, want 1", r.Header().EntriesCount)
	}
	if len(r.Entries()) != 1 {
		t.Fatalf("len(Entries()) = %d, want 1", len(r.Entries()))
	}

	rstore, rbuf, err := r.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead() failed: %v", err)
	}
	loaded, found, err := rstore.LoadStub(rbuf, 1, "entry_stub", nil, fakeObjectRecorder{})
	r.EndRead()
	if err != nil {
		t.Fatalf("LoadStub() failed: %v", err)
	}
	if !found || loaded.Name != "entry_stub" {
		t.Fatalf("LoadStub() = (%+v, %v), want entry_stub found", loaded, found)
	}

	if err := r.Close(time.Second); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if r.State() != StateClosed {
		t.Fatalf("State() after Close = %v, want StateClosed", r.State())
	}
}

func TestArchiveOpenForReadRejectsVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad_version.sca")
	addrTable := newCompleteAddressTable()

	w, err := OpenForWrite(Config{Path: path, AddressTable: addrTable})
	if err != nil {
		t.Fatalf("OpenForWrite() failed: %v", err)
	}
	if ok, err := w.Finalize(); err != nil || !ok {
		t.Fatalf("Finalize() = (%v, %v), want (true, nil)", ok, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	header, err := DecodeHeader(data[:HeaderSize])
	if err != nil {
		t.Fatalf("DecodeHeader() failed: %v", err)
	}

	header.Version = ArchiveVersion + 1
	copy(data[:HeaderSize], header.Encode())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if _, err := OpenForRead(Config{Path: path, AddressTable: addrTable}); err != ErrVersionMismatch {
		t.Fatalf("OpenForRead() error = %v, want ErrVersionMismatch", err)
	}
}

func TestArchiveFailPoisonsStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fail.sca")
	addrTable := newCompleteAddressTable()

	w, err := OpenForWrite(Config{Path: path, AddressTable: addrTable})
	if err != nil {
		t.Fatalf("OpenForWrite() failed: %v", err)
	}
	w.Fail(ErrArchiveFailed)
	if w.State() != StateFailed {
		t.Fatalf("State() = %v, want StateFailed", w.State())
	}
	if _, _, err := w.Store(); err != ErrArchiveFailed {
		t.Fatalf("Store() after Fail() error = %v, want ErrArchiveFailed", err)
	}
}

func TestArchiveCloseTimesOutWithActiveReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active_reader.sca")
	addrTable := newCompleteAddressTable()

	w, err := OpenForWrite(Config{Path: path, AddressTable: addrTable})
	if err != nil {
		t.Fatalf("OpenForWrite() failed: %v", err)
	}
	if ok, err := w.Finalize(); err != nil || !ok {
		t.Fatalf("Finalize() = (%v, %v), want (true, nil)", ok, err)
	}

	r, err := OpenForRead(Config{Path: path, AddressTable: addrTable})
	if err != nil {
		t.Fatalf("OpenForRead() failed: %v", err)
	}
	if _, _, err := r.BeginRead(); err != nil {
		t.Fatalf("BeginRead() failed: %v", err)
	}

	if err := r.Close(10 * time.Millisecond); err != ErrReadersStillActive {
		t.Fatalf("Close() with an active reader error = %v, want ErrReadersStillActive", err)
	}
	if r.State() != StateReadReady {
		t.Fatalf("State() after a failed Close = %v, want StateReadReady (rejection undone)", r.State())
	}

	r.EndRead()
	if err := r.Close(time.Second); err != nil {
		t.Fatalf("Close() after EndRead() failed: %v", err)
	}
}
