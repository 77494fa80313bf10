// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

// This file implements CodecCore (spec.md §2, §4): typed encode/decode of
// the primitive sequences every higher-level codec builds on — raw bytes,
// aligned blocks, and length-prefixed (NUL-terminated) strings — layered
// directly on IoBuffer the way helper.go's ReadUint*/structUnpack/
// ReadBytesAtOffset trio layers on pe.File's mmap-backed data slice.

// WriteBytes appends p verbatim, returning its offset.
func WriteBytes(w *IoBuffer, p []byte) (uint32, error) {
	return w.Append(p)
}

// WriteAlignedBlock aligns the write cursor, then appends p, returning the
// (post-alignment) offset and the number of content bytes written (padding
// is not included in size, matching spec.md §3's "size of the block"
// accounting).
func WriteAlignedBlock(w *IoBuffer, p []byte) (offset, size uint32, err error) {
	if err = w.AlignWrite(); err != nil {
		return 0, 0, err
	}
	offset, err = w.Append(p)
	if err != nil {
		return 0, 0, err
	}
	return offset, uint32(len(p)), nil
}

// WriteCString appends s followed by a trailing NUL, returning its offset
// and size including that NUL (matching Entry.NameSize semantics).
func WriteCString(w *IoBuffer, s string) (offset, size uint32, err error) {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	offset, err = w.Append(buf)
	if err != nil {
		return 0, 0, err
	}
	return offset, uint32(len(buf)), nil
}

// ReadCString reads a NUL-terminated string of the given on-disk size
// (trailing NUL included) at offset, trimming the NUL.
func ReadCString(b *IoBuffer, offset, size uint32) (string, error) {
	if size == 0 {
		return "", nil
	}
	raw, err := b.ReadAt(offset, size)
	if err != nil {
		return "", err
	}
	n := len(raw)
	if n > 0 && raw[n-1] == 0 {
		n--
	}
	return string(raw[:n]), nil
}

// WriteLengthPrefixedBytes appends a uint32 length prefix followed by p.
func WriteLengthPrefixedBytes(w *IoBuffer, p []byte) error {
	if _, err := w.AppendUint32(uint32(len(p))); err != nil {
		return err
	}
	_, err := w.Append(p)
	return err
}

// ReadLengthPrefixedBytes reads a uint32 length prefix followed by that
// many bytes, starting at offset, returning the payload and the offset of
// the byte immediately following it.
func ReadLengthPrefixedBytes(b *IoBuffer, offset uint32) (payload []byte, next uint32, err error) {
	n, err := b.ReadUint32(offset)
	if err != nil {
		return nil, 0, err
	}
	payload, err = b.ReadAt(offset+4, n)
	if err != nil {
		return nil, 0, err
	}
	return payload, offset + 4 + n, nil
}

// WriteUint32Slice appends a uint32 count prefix followed by the values.
func WriteUint32Slice(w *IoBuffer, values []uint32) error {
	if _, err := w.AppendUint32(uint32(len(values))); err != nil {
		return err
	}
	for _, v := range values {
		if _, err := w.AppendUint32(v); err != nil {
			return err
		}
	}
	return nil
}

// ReadUint32Slice is the inverse of WriteUint32Slice.
func ReadUint32Slice(b *IoBuffer, offset uint32) (values []uint32, next uint32, err error) {
	count, err := b.ReadUint32(offset)
	if err != nil {
		return nil, 0, err
	}
	offset += 4
	values = make([]uint32, count)
	for i := range values {
		v, err := b.ReadUint32(offset)
		if err != nil {
			return nil, 0, err
		}
		values[i] = v
		offset += 4
	}
	return values, offset, nil
}
