// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import "encoding/binary"

// HeaderSize is the fixed, on-disk size of Header: six little-endian u32
// fields, byte-exact per spec.md §6.
const HeaderSize = 6 * 4

// Header sits at offset 0 of every archive. It is written first when an
// archive is opened for write (with entries_count/total_size/offsets all
// zero) and rewritten, in full, at finalize once the entries table and
// string pool locations are known.
type Header struct {
	Version       uint32
	EntriesCount  uint32
	TotalSize     uint32
	EntriesOffset uint32
	StringsCount  uint32
	StringsOffset uint32
}

// Encode serializes h into its fixed HeaderSize-byte wire form.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	binary.LittleEndian.PutUint32(buf[4:8], h.EntriesCount)
	binary.LittleEndian.PutUint32(buf[8:12], h.TotalSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.EntriesOffset)
	binary.LittleEndian.PutUint32(buf[16:20], h.StringsCount)
	binary.LittleEndian.PutUint32(buf[20:24], h.StringsOffset)
	return buf
}

// DecodeHeader reads a Header from the first HeaderSize bytes of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrOutsideBoundary
	}
	return Header{
		Version:       binary.LittleEndian.Uint32(buf[0:4]),
		EntriesCount:  binary.LittleEndian.Uint32(buf[4:8]),
		TotalSize:     binary.LittleEndian.Uint32(buf[8:12]),
		EntriesOffset: binary.LittleEndian.Uint32(buf[12:16]),
		StringsCount:  binary.LittleEndian.Uint32(buf[16:20]),
		StringsOffset: binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}
