// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import (
	"encoding/binary"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// DataAlignment is the fixed alignment every code and debug-info block is
// padded to. Word-sized (8 bytes) is conforming per spec.md §3.
const DataAlignment = 8

type ioMode int

const (
	ioModeLoad ioMode = iota
	ioModeStore
)

// IoBuffer is the single contiguous load/store buffer backing an archive.
// In load mode it is a memory-mapped view of the whole file (pe.File.data
// is the same shape: mmap once, then pure pointer/offset arithmetic). In
// store mode it is a size-capped staging slice that is written to the file
// in one syscall at Flush.
type IoBuffer struct {
	mode   ioMode
	data   []byte
	region mmap.MMap
	f      *os.File
	cursor uint32
	limit  uint32
}

// OpenIoBufferForLoad memory-maps path read-only and returns a buffer whose
// entire content is available for random-access reads.
func OpenIoBufferForLoad(path string) (*IoBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	region, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &IoBuffer{
		mode:   ioModeLoad,
		data:   region,
		region: region,
		f:      f,
		limit:  uint32(len(region)),
	}, nil
}

// NewIoBufferForStore reserves an in-memory staging buffer of reservedSize
// bytes. append fails once the reservation is exceeded.
func NewIoBufferForStore(reservedSize uint32) *IoBuffer {
	return &IoBuffer{
		mode:  ioModeStore,
		data:  make([]byte, 0, reservedSize),
		limit: reservedSize,
	}
}

// Size returns the number of live bytes: file size in load mode, write
// cursor in store mode.
func (b *IoBuffer) Size() uint32 {
	if b.mode == ioModeLoad {
		return uint32(len(b.data))
	}
	return b.cursor
}

// AlignWrite pads the store cursor up to DataAlignment. Idempotent when
// already aligned.
func (b *IoBuffer) AlignWrite() error {
	pad := alignUp(b.cursor, DataAlignment) - b.cursor
	if pad == 0 {
		return nil
	}
	_, err := b.Append(make([]byte, pad))
	return err
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

// Append copies p into the staging buffer at the current write cursor and
// advances it, failing if the reservation would be exceeded. Returns the
// offset p was written at.
func (b *IoBuffer) Append(p []byte) (uint32, error) {
	if b.mode != ioModeStore {
		panic("scarchive: Append called on a load-mode IoBuffer")
	}
	offset := b.cursor
	need := offset + uint32(len(p))
	if need < offset || need > b.limit {
		return 0, ErrReservedSizeExceeded
	}
	b.data = append(b.data, p...)
	b.cursor = need
	return offset, nil
}

// WriteAt overwrites len(p) bytes at offset with p. It backfills records
// whose contents are known only after later data is appended: the
// section-header, relocation-directory and debug-info stream-directory
// records, and the archive header at finalize. offset+len(p) must already lie within the written region.
func (b *IoBuffer) WriteAt(offset uint32, p []byte) error {
	if offset+uint32(len(p)) > uint32(len(b.data)) {
		return ErrOutsideBoundary
	}
	copy(b.data[offset:], p)
	return nil
}

// Rewind truncates the store cursor back to offset, discarding everything
// written after it. ArtifactStore's Store* methods do not call it: a
// failed store leaves the bytes it already appended in place.
func (b *IoBuffer) Rewind(offset uint32) {
	if offset > uint32(len(b.data)) {
		return
	}
	b.data = b.data[:offset]
	b.cursor = offset
}

// bounds reports whether [offset, offset+size) lies within the live data,
// guarding against integer overflow the way helper.go's structUnpack does.
func (b *IoBuffer) bounds(offset, size uint32) error {
	end := offset + size
	if (end > offset) != (size > 0) {
		return ErrOutsideBoundary
	}
	if offset > b.Size() || end > b.Size() {
		return ErrOutsideBoundary
	}
	return nil
}

// ReadAt returns a slice of size bytes at offset. In load mode the slice is
// a view into the mmap-backed buffer; no copy is made.
func (b *IoBuffer) ReadAt(offset, size uint32) ([]byte, error) {
	if err := b.bounds(offset, size); err != nil {
		return nil, err
	}
	return b.data[offset : offset+size], nil
}

// ReadUint8 reads a uint8 at offset.
func (b *IoBuffer) ReadUint8(offset uint32) (uint8, error) {
	if err := b.bounds(offset, 1); err != nil {
		return 0, err
	}
	return b.data[offset], nil
}

// ReadUint16 reads a little-endian uint16 at offset.
func (b *IoBuffer) ReadUint16(offset uint32) (uint16, error) {
	if err := b.bounds(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b.data[offset:]), nil
}

// ReadUint32 reads a little-endian uint32 at offset.
func (b *IoBuffer) ReadUint32(offset uint32) (uint32, error) {
	if err := b.bounds(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b.data[offset:]), nil
}

// ReadUint64 reads a little-endian uint64 at offset.
func (b *IoBuffer) ReadUint64(offset uint32) (uint64, error) {
	if err := b.bounds(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b.data[offset:]), nil
}

// AppendUint32 appends v in little-endian form, returning its offset.
func (b *IoBuffer) AppendUint32(v uint32) (uint32, error) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return b.Append(buf[:])
}

// AppendUint64 appends v in little-endian form, returning its offset.
func (b *IoBuffer) AppendUint64(v uint64) (uint32, error) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return b.Append(buf[:])
}

// Flush writes the staging buffer to path in one syscall. Valid only in
// store mode.
func (b *IoBuffer) Flush(path string) error {
	if b.mode != ioModeStore {
		panic("scarchive: Flush called on a load-mode IoBuffer")
	}
	return os.WriteFile(path, b.data, 0o644)
}

// Close releases the backing resources: unmaps in load mode, closes the
// file descriptor either way.
func (b *IoBuffer) Close() error {
	if b.region != nil {
		_ = b.region.Unmap()
		b.region = nil
	}
	if b.f != nil {
		err := b.f.Close()
		b.f = nil
		return err
	}
	return nil
}
