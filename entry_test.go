// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import "testing"

func TestEntryRoundTrip(t *testing.T) {
	in := Entry{
		Offset: 16, Size: 256,
		NameOffset: 16, NameSize: 12,
		CodeOffset: 64, CodeSize: 128,
		RelocOffset: 192, RelocSize: 32,
		Kind: KindCode, ID: 42, Idx: 3, Decompile: 2, NotEntrant: 0,
	}
	buf := in.Encode()
	if len(buf) != EntrySize {
		t.Fatalf("Encode() length = %d, want %d", len(buf), EntrySize)
	}
	got, err := DecodeEntry(buf)
	if err != nil {
		t.Fatalf("DecodeEntry() failed: %v", err)
	}
	if got != in {
		t.Fatalf("DecodeEntry() = %+v, want %+v", got, in)
	}
}

func TestEntryTableFindSkipsNotEntrant(t *testing.T) {
	table := &EntryTable{}
	e1 := table.Append(Entry{Kind: KindCode, ID: 7, Decompile: 0})
	table.Append(Entry{Kind: KindCode, ID: 7, Decompile: 1})

	if !table.Invalidate(e1.Idx) {
		t.Fatalf("Invalidate(%d) = false, want true", e1.Idx)
	}

	got, ok := table.Find(KindCode, 7, 0)
	if ok {
		t.Fatalf("Find() after invalidation = %+v, true; want not found", got)
	}

	got, ok = table.Find(KindCode, 7, 1)
	if !ok {
		t.Fatal("Find() for the live decompile generation failed")
	}
	if got.Decompile != 1 {
		t.Fatalf("Find() returned decompile %d, want 1", got.Decompile)
	}
}

func TestEntryTableFindMissing(t *testing.T) {
	table := &EntryTable{}
	table.Append(Entry{Kind: KindStub, ID: 1})
	if _, ok := table.Find(KindStub, 99, 0); ok {
		t.Fatal("Find() found an entry that was never appended")
	}
}

func TestDecodeEntryTableRejectsIdxMismatch(t *testing.T) {
	table := &EntryTable{}
	table.Append(Entry{Kind: KindStub, ID: 1})
	table.Append(Entry{Kind: KindStub, ID: 2})
	buf := table.Encode()

	// Corrupt the second entry's idx field (index 10, the 11th u32 word).
	const idxFieldOffset = 10 * 4
	buf[EntrySize+idxFieldOffset] = 0xFF

	if _, err := DecodeEntryTable(buf, 0, 2); err != ErrMalformedEntry {
		t.Fatalf("DecodeEntryTable() error = %v, want ErrMalformedEntry", err)
	}
}

func TestDecodeEntryTableRoundTrip(t *testing.T) {
	table := &EntryTable{}
	table.Append(Entry{Kind: KindStub, ID: 1, NameOffset: 0, NameSize: 4})
	table.Append(Entry{Kind: KindBlob, ID: BlobSentinelID, NameOffset: 4, NameSize: 8})
	buf := table.Encode()

	decoded, err := DecodeEntryTable(buf, 0, uint32(table.Len()))
	if err != nil {
		t.Fatalf("DecodeEntryTable() failed: %v", err)
	}
	if decoded.Len() != table.Len() {
		t.Fatalf("decoded.Len() = %d, want %d", decoded.Len(), table.Len())
	}
	for i, e := range decoded.All() {
		if e.Idx != uint32(i) {
			t.Fatalf("entry %d has Idx %d", i, e.Idx)
		}
	}
}
