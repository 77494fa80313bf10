// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import (
	"encoding/binary"
	"unsafe"
)

// StringPoolWriter accumulates the ordered list of strings referenced by
// relocations during store. The teacher's COFF string table
// (symbol.go's ParseCOFFSymbolTable/COFFStringTable) is laid out exactly
// this way on disk: a size prefix per entry, then the concatenated
// NUL-terminated bytes; StringPoolWriter/DecodeStringPool reproduce that
// shape for scarchive's own string pool.
//
// The teacher dedupes COFF strings by their on-disk offset; scarchive's
// caller-facing dedup key is the AddressTable identity of the C string, so
// this writer itself just dedupes by content (an adaptation: Go strings
// carry no native pointer identity to key on, spec.md §4.4/§9).
type StringPoolWriter struct {
	order []string
	index map[string]int
}

// NewStringPoolWriter returns an empty pool builder.
func NewStringPoolWriter() *StringPoolWriter {
	return &StringPoolWriter{index: make(map[string]int)}
}

// Intern returns the index s is stored at, adding it if not already
// present.
func (p *StringPoolWriter) Intern(s string) int {
	if i, ok := p.index[s]; ok {
		return i
	}
	i := len(p.order)
	p.order = append(p.order, s)
	p.index[s] = i
	return i
}

// Len returns the number of distinct strings interned so far.
func (p *StringPoolWriter) Len() int { return len(p.order) }

// Encode serializes the pool: a uint32 size per entry (content length,
// NUL excluded) followed by the concatenated NUL-terminated bytes, per
// spec.md §6's file layout for the strings region.
func (p *StringPoolWriter) Encode() []byte {
	var sizes []byte
	var payload []byte
	for _, s := range p.order {
		var sz [4]byte
		binary.LittleEndian.PutUint32(sz[:], uint32(len(s)))
		sizes = append(sizes, sz[:]...)
		payload = append(payload, s...)
		payload = append(payload, 0)
	}
	return append(sizes, payload...)
}

// StringPool is the load-side, zero-copy view of a persisted string pool:
// string slices reference the archive's mmap-backed buffer directly and
// are never copied (spec.md §3, §9 "borrowed slices with archive-bound
// lifetime").
type StringPool struct {
	values []string
}

// DecodeStringPool parses count size-prefixed, NUL-terminated strings
// starting at offset within buf.
func DecodeStringPool(buf []byte, offset, count uint32) (*StringPool, error) {
	if uint64(offset)+uint64(count)*4 > uint64(len(buf)) {
		return nil, ErrOutsideBoundary
	}
	sizes := make([]uint32, count)
	cursor := offset
	for i := uint32(0); i < count; i++ {
		sizes[i] = binary.LittleEndian.Uint32(buf[cursor : cursor+4])
		cursor += 4
	}
	values := make([]string, count)
	for i, sz := range sizes {
		end := cursor + sz
		if uint64(end)+1 > uint64(len(buf)) {
			return nil, ErrOutsideBoundary
		}
		values[i] = unsafeString(buf[cursor:end])
		cursor = end + 1 // skip trailing NUL
	}
	return &StringPool{values: values}, nil
}

// unsafeString borrows b's bytes as a string without copying, valid for as
// long as the archive's backing mmap region stays mapped.
func unsafeString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// String returns the i-th pooled string.
func (p *StringPool) String(i int) (string, bool) {
	if i < 0 || i >= len(p.values) {
		return "", false
	}
	return p.values[i], true
}

// Len returns the number of pooled strings.
func (p *StringPool) Len() int { return len(p.values) }
