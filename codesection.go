// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

// CodeSectionCodec encodes and decodes the fixed-count tuple of code
// sections (instructions, stubs, constants — NumCodeSections, spec.md
// §4.6). Its on-disk shape — a fixed header-of-sections array of {size,
// origin, offset} records followed by aligned content blocks — is
// grounded directly on the teacher's section.go ImageSectionHeader array
// (VirtualSize/VirtualAddress/SizeOfRawData/PointerToRawData per section,
// stored in a fixed-count table ahead of the section bytes themselves).

// sectionHeaderSize is the on-disk size of one per-section header record:
// {u32 size; u64 origin; u32 offset}.
const sectionHeaderSize = 4 + 8 + 4

// CodeSectionSource is what the store side hands CodeSectionCodec for one
// section.
type CodeSectionSource struct {
	Origin Address
	Bytes  []byte
}

// EncodeCodeSections writes the header-of-sections array followed by one
// aligned content block per non-empty section, returning the block's
// overall offset and total size (including header and alignment padding,
// matching Entry.CodeOffset/CodeSize).
func EncodeCodeSections(w *IoBuffer, sections [NumCodeSections]CodeSectionSource) (offset, size uint32, err error) {
	if err = w.AlignWrite(); err != nil {
		return 0, 0, err
	}
	start := w.Size()

	headerOffsets := make([]uint32, NumCodeSections)
	for i := range sections {
		off, err := w.Append(make([]byte, sectionHeaderSize))
		if err != nil {
			return 0, 0, err
		}
		headerOffsets[i] = off
	}

	contentOffsets := make([]uint32, NumCodeSections)
	contentSizes := make([]uint32, NumCodeSections)
	for i, s := range sections {
		if len(s.Bytes) == 0 {
			continue
		}
		off, sz, err := WriteAlignedBlock(w, s.Bytes)
		if err != nil {
			return 0, 0, err
		}
		contentOffsets[i] = off
		contentSizes[i] = sz
	}

	for i, s := range sections {
		if err := encodeSectionHeader(w, headerOffsets[i], contentSizes[i], s.Origin, contentOffsets[i]); err != nil {
			return 0, 0, err
		}
	}

	return start, w.Size() - start, nil
}

func encodeSectionHeader(w *IoBuffer, at uint32, size uint32, origin Address, contentOffset uint32) error {
	buf := make([]byte, sectionHeaderSize)
	putUint32(buf[0:4], size)
	putUint64(buf[4:12], uint64(origin))
	putUint32(buf[12:16], contentOffset)
	return w.WriteAt(at, buf)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// DecodedSection is one section as read back by DecodeCodeSections.
type DecodedSection struct {
	OriginalOrigin Address
	Bytes          []byte
}

// DecodeCodeSections reads the header-of-sections array and content blocks
// written by EncodeCodeSections, materializing each non-empty section's
// bytes as a fresh copy, so relocation fix-up can patch them without
// writing into the archive's read-only mapping. The original per-section origin addresses are preserved solely so
// relocation fix-up can compute inter-section deltas via a "fake original
// buffer" (spec.md §4.6) — DecodeCodeSections does not itself install
// anything into a live CodeBuffer; ArtifactStore does that via
// CodeBuffer.SetSectionBytes.
func DecodeCodeSections(b *IoBuffer, offset uint32) ([NumCodeSections]DecodedSection, error) {
	var out [NumCodeSections]DecodedSection

	headers := make([]struct {
		size, contentOffset uint32
		origin              Address
	}, NumCodeSections)

	cursor := offset
	for i := 0; i < NumCodeSections; i++ {
		sizeField, err := b.ReadUint32(cursor)
		if err != nil {
			return out, err
		}
		originField, err := b.ReadUint64(cursor + 4)
		if err != nil {
			return out, err
		}
		offsetField, err := b.ReadUint32(cursor + 12)
		if err != nil {
			return out, err
		}
		headers[i].size = sizeField
		headers[i].origin = Address(originField)
		headers[i].contentOffset = offsetField
		cursor += sectionHeaderSize
	}

	for i, h := range headers {
		out[i].OriginalOrigin = h.origin
		if h.size == 0 {
			continue
		}
		raw, err := b.ReadAt(h.contentOffset, h.size)
		if err != nil {
			return out, err
		}
		out[i].Bytes = append([]byte(nil), raw...)
	}

	return out, nil
}
