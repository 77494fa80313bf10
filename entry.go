// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import (
	"encoding/binary"
	"sync"
)

// Kind identifies what an Entry archives. Extensible; KindNone is reserved
// and never appears in a finalized archive.
type Kind uint32

const (
	KindNone Kind = iota
	KindStub
	KindBlob
	KindCode
)

func (k Kind) String() string {
	switch k {
	case KindStub:
		return "Stub"
	case KindBlob:
		return "Blob"
	case KindCode:
		return "Code"
	default:
		return "None"
	}
}

// BlobSentinelID is the literal id every Blob entry carries. Only one
// exception blob is modeled; see spec.md §4.9 Open Questions.
const BlobSentinelID = 999

// EntrySize is the fixed, on-disk size of one Entry record: thirteen
// little-endian u32 fields.
const EntrySize = 13 * 4

// Entry is an immutable positional record describing one archived
// artifact. Every field but NotEntrant is write-once; NotEntrant is the one
// permitted mutation (monotone false->true).
type Entry struct {
	Offset, Size           uint32
	NameOffset, NameSize   uint32
	CodeOffset, CodeSize   uint32
	RelocOffset, RelocSize uint32
	Kind                   Kind
	ID                     uint32
	Idx                    uint32
	Decompile              uint32
	NotEntrant             uint32 // 0 or 1 on disk; see IsNotEntrant
}

// IsNotEntrant reports the sticky not-entrant bit.
func (e Entry) IsNotEntrant() bool { return e.NotEntrant != 0 }

// Encode serializes e into its fixed EntrySize-byte wire form.
func (e Entry) Encode() []byte {
	buf := make([]byte, EntrySize)
	fields := []uint32{
		e.Offset, e.Size, e.NameOffset, e.NameSize,
		e.CodeOffset, e.CodeSize, e.RelocOffset, e.RelocSize,
		uint32(e.Kind), e.ID, e.Idx, e.Decompile, e.NotEntrant,
	}
	for i, v := range fields {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], v)
	}
	return buf
}

// DecodeEntry reads one Entry from the first EntrySize bytes of buf.
func DecodeEntry(buf []byte) (Entry, error) {
	if len(buf) < EntrySize {
		return Entry{}, ErrOutsideBoundary
	}
	u32 := func(i int) uint32 { return binary.LittleEndian.Uint32(buf[i*4 : i*4+4]) }
	return Entry{
		Offset: u32(0), Size: u32(1),
		NameOffset: u32(2), NameSize: u32(3),
		CodeOffset: u32(4), CodeSize: u32(5),
		RelocOffset: u32(6), RelocSize: u32(7),
		Kind: Kind(u32(8)), ID: u32(9), Idx: u32(10),
		Decompile: u32(11), NotEntrant: u32(12),
	}, nil
}

// EntryTable is the append-only catalog of archived artifacts. During
// write, entries accumulate here and are flushed, aligned, at finalize.
// During read, it is constructed once from the archive's entries region.
type EntryTable struct {
	mu      sync.RWMutex
	entries []Entry
}

// Append records e, assigning Idx to the next insertion index (spec.md §3
// invariant: entries[i].idx == i).
func (t *EntryTable) Append(e Entry) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.Idx = uint32(len(t.entries))
	t.entries = append(t.entries, e)
	return e
}

// Len returns the number of entries.
func (t *EntryTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// All returns a copy of the entries slice, in insertion order.
func (t *EntryTable) All() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Find scans linearly for an entry matching kind and id, skipping
// not-entrant entries. For KindCode, decompile must also match (spec.md §3:
// two Code entries sharing an id must differ in decompile, or one must be
// not-entrant). Linear scan is acceptable: archives hold at most a few
// thousand entries (spec.md §4.3).
func (t *EntryTable) Find(kind Kind, id uint32, decompile uint32) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if e.Kind != kind || e.ID != id {
			continue
		}
		if e.IsNotEntrant() {
			continue
		}
		if kind == KindCode && e.Decompile != decompile {
			continue
		}
		return e, true
	}
	return Entry{}, false
}

// Invalidate sets idx's not-entrant bit. Monotone: once set, Find never
// returns this entry again in this process (spec.md §8 invariant).
func (t *EntryTable) Invalidate(idx uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(idx) >= len(t.entries) {
		return false
	}
	t.entries[idx].NotEntrant = 1
	return true
}

// DecodeEntryTable parses count consecutive Entry records starting at
// offset within buf, as found during load via the header's entries_offset.
// A record whose idx is not its position, or whose entry, name, code or
// relocation block extends past the end of buf, is rejected with
// ErrMalformedEntry.
func DecodeEntryTable(buf []byte, offset, count uint32) (*EntryTable, error) {
	t := &EntryTable{entries: make([]Entry, 0, count)}
	for i := uint32(0); i < count; i++ {
		start := offset + i*EntrySize
		if uint64(start)+EntrySize > uint64(len(buf)) {
			return nil, ErrOutsideBoundary
		}
		e, err := DecodeEntry(buf[start : start+EntrySize])
		if err != nil {
			return nil, err
		}
		if e.Idx != i {
			return nil, ErrMalformedEntry
		}
		for _, r := range [...][2]uint32{{e.Offset, e.Size}, {e.NameOffset, e.NameSize}, {e.CodeOffset, e.CodeSize}, {e.RelocOffset, e.RelocSize}} {
			if uint64(r[0])+uint64(r[1]) > uint64(len(buf)) {
				return nil, ErrMalformedEntry
			}
		}
		t.entries = append(t.entries, e)
	}
	return t, nil
}

// Encode serializes all entries, in insertion order, for the final
// entries-table append at finalize.
func (t *EntryTable) Encode() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	buf := make([]byte, 0, len(t.entries)*EntrySize)
	for _, e := range t.entries {
		buf = append(buf, e.Encode()...)
	}
	return buf
}
