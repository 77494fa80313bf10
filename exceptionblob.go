// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import "sort"

// ExceptionCodec persists the two small side tables a shared exception
// handler blob needs at revive time: its null-check fast-path sites and its
// PC-range-to-handler table. Both are exactly the shape the teacher's
// exception.go parses out of a PE image's x64 exception directory: a table
// of RUNTIME_FUNCTION triples {BeginAddress, EndAddress,
// UnwindInfoAddress} keyed by PC range, looked up by binary search over a
// sorted begin-address column. ExceptionCodec reuses that same sorted
// PC-range-lookup shape for a blob's exception ranges, and a single sorted
// offset column for its null-check sites.

// ExceptionRange is one {begin, end) PC range within a blob's code and the
// offset of the handler that services it.
type ExceptionRange struct {
	Begin, End    uint32
	HandlerOffset uint32
}

const exceptionRangeSize = 4 + 4 + 4

// EncodeExceptionBlob writes a blob's null-check offsets (sorted ascending)
// and exception ranges (sorted ascending by Begin), returning the block's
// offset and size.
func EncodeExceptionBlob(w *IoBuffer, nullCheckOffsets []uint32, ranges []ExceptionRange) (offset, size uint32, err error) {
	if err = w.AlignWrite(); err != nil {
		return 0, 0, err
	}
	start := w.Size()

	sorted := append([]uint32(nil), nullCheckOffsets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if err = WriteUint32Slice(w, sorted); err != nil {
		return 0, 0, err
	}

	sortedRanges := append([]ExceptionRange(nil), ranges...)
	sort.Slice(sortedRanges, func(i, j int) bool { return sortedRanges[i].Begin < sortedRanges[j].Begin })

	if _, err = w.AppendUint32(uint32(len(sortedRanges))); err != nil {
		return 0, 0, err
	}
	for _, r := range sortedRanges {
		buf := make([]byte, exceptionRangeSize)
		putUint32(buf[0:4], r.Begin)
		putUint32(buf[4:8], r.End)
		putUint32(buf[8:12], r.HandlerOffset)
		if _, err = w.Append(buf); err != nil {
			return 0, 0, err
		}
	}

	return start, w.Size() - start, nil
}

// DecodedExceptionBlob is one blob's exception side tables as read back by
// DecodeExceptionBlob, with lookups supported directly over the decoded
// (already-sorted) slices.
type DecodedExceptionBlob struct {
	NullCheckOffsets []uint32
	Ranges           []ExceptionRange
}

// DecodeExceptionBlob reads a block written by EncodeExceptionBlob.
func DecodeExceptionBlob(b *IoBuffer, offset uint32) (DecodedExceptionBlob, uint32, error) {
	offsets, next, err := ReadUint32Slice(b, offset)
	if err != nil {
		return DecodedExceptionBlob{}, 0, err
	}

	count, err := b.ReadUint32(next)
	if err != nil {
		return DecodedExceptionBlob{}, 0, err
	}
	cursor := next + 4
	ranges := make([]ExceptionRange, count)
	for i := uint32(0); i < count; i++ {
		raw, err := b.ReadAt(cursor, exceptionRangeSize)
		if err != nil {
			return DecodedExceptionBlob{}, 0, err
		}
		ranges[i] = ExceptionRange{
			Begin:         leUint32(raw[0:4]),
			End:           leUint32(raw[4:8]),
			HandlerOffset: leUint32(raw[8:12]),
		}
		cursor += exceptionRangeSize
	}

	return DecodedExceptionBlob{NullCheckOffsets: offsets, Ranges: ranges}, cursor, nil
}

// IsNullCheckSite reports whether pcOffset is a recorded null-check
// fast-path site, via binary search over the sorted offset column.
func (d DecodedExceptionBlob) IsNullCheckSite(pcOffset uint32) bool {
	i := sort.Search(len(d.NullCheckOffsets), func(i int) bool { return d.NullCheckOffsets[i] >= pcOffset })
	return i < len(d.NullCheckOffsets) && d.NullCheckOffsets[i] == pcOffset
}

// FindHandler returns the handler offset whose range contains pcOffset, via
// binary search over the ranges sorted by Begin.
func (d DecodedExceptionBlob) FindHandler(pcOffset uint32) (uint32, bool) {
	i := sort.Search(len(d.Ranges), func(i int) bool { return d.Ranges[i].Begin > pcOffset }) - 1
	if i < 0 || i >= len(d.Ranges) {
		return 0, false
	}
	r := d.Ranges[i]
	if pcOffset >= r.Begin && pcOffset < r.End {
		return r.HandlerOffset, true
	}
	return 0, false
}
