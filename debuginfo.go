// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

// DebugInfoCodec persists an nmethod's debug-info side tables: the PcDesc
// array and the two opaque encoded streams (scope/variable decode data and
// the oop-map set) a DebugInfoStream/OopMapSet collaborator produces
// (spec.md §4.6, §6). scarchive never interprets a PcDesc's decode offsets
// or the stream contents; it only round-trips them byte-for-byte, the same
// "copy the directory, copy the payload, never parse the payload" shape the
// teacher's debug.go uses for IMAGE_DEBUG_DIRECTORY entries: a fixed-size
// directory record array describing {type, size, pointer}, each entry's
// raw bytes copied through untouched unless its Type is one the parser
// explicitly knows how to decode.

// pcDescRecordSize is the fixed on-disk size of one PcDesc record:
// {u32 pcOffset; u32 scopeDecodeOffset; u32 objDecodeOffset}.
const pcDescRecordSize = 4 + 4 + 4

// PcDescRecord is one compiled safepoint's description: the native-code
// offset it corresponds to, and where in the scope stream its decode data
// begins. obj_decode_offset is -1-equivalent (encoded as 0xFFFFFFFF) when a
// safepoint carries no reference-map decode data of its own.
type PcDescRecord struct {
	PcOffset          uint32
	ScopeDecodeOffset uint32
	ObjDecodeOffset   uint32
}

// noObjDecodeOffset is PcDescRecord's "no object decode data" sentinel.
const noObjDecodeOffset uint32 = 0xFFFFFFFF

func (r PcDescRecord) encode(buf []byte) {
	putUint32(buf[0:4], r.PcOffset)
	putUint32(buf[4:8], r.ScopeDecodeOffset)
	putUint32(buf[8:12], r.ObjDecodeOffset)
}

func decodePcDescRecord(buf []byte) PcDescRecord {
	return PcDescRecord{
		PcOffset:          leUint32(buf[0:4]),
		ScopeDecodeOffset: leUint32(buf[4:8]),
		ObjDecodeOffset:   leUint32(buf[8:12]),
	}
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// DebugInfoSource is what the store side hands DebugInfoCodec for one
// nmethod.
type DebugInfoSource struct {
	PcDescs      []PcDescRecord
	ScopesStream []byte // DebugInfoStream.Bytes()
	OopMapStream []byte // OopMapSet.Bytes()
}

// EncodeDebugInfo writes the PcDesc count, the fixed-size PcDesc array, a
// {scopesOff, scopesSize, oopMapOff, oopMapSize} directory, and the two
// opaque streams as aligned blocks, returning the block's overall offset
// and size.
func EncodeDebugInfo(w *IoBuffer, src DebugInfoSource) (offset, size uint32, err error) {
	if err = w.AlignWrite(); err != nil {
		return 0, 0, err
	}
	start := w.Size()

	if _, err = w.AppendUint32(uint32(len(src.PcDescs))); err != nil {
		return 0, 0, err
	}
	for _, d := range src.PcDescs {
		buf := make([]byte, pcDescRecordSize)
		d.encode(buf)
		if _, err = w.Append(buf); err != nil {
			return 0, 0, err
		}
	}

	dirOff, err := w.Append(make([]byte, 16))
	if err != nil {
		return 0, 0, err
	}
	scopesOff, scopesSize, err := WriteAlignedBlock(w, src.ScopesStream)
	if err != nil {
		return 0, 0, err
	}
	oopMapOff, oopMapSize, err := WriteAlignedBlock(w, src.OopMapStream)
	if err != nil {
		return 0, 0, err
	}

	dir := make([]byte, 16)
	putUint32(dir[0:4], scopesOff)
	putUint32(dir[4:8], scopesSize)
	putUint32(dir[8:12], oopMapOff)
	putUint32(dir[12:16], oopMapSize)
	if err = w.WriteAt(dirOff, dir); err != nil {
		return 0, 0, err
	}

	return start, w.Size() - start, nil
}

// DecodedDebugInfo is one nmethod's debug info as read back by
// DecodeDebugInfo.
type DecodedDebugInfo struct {
	PcDescs      []PcDescRecord
	ScopesStream []byte
	OopMapStream []byte
}

// DecodeDebugInfo reads a block written by EncodeDebugInfo. Both streams
// are returned as zero-copy views into the archive's backing buffer in
// load mode (spec.md §9's "borrowed slices with archive-bound lifetime").
func DecodeDebugInfo(b *IoBuffer, offset uint32) (DecodedDebugInfo, uint32, error) {
	count, err := b.ReadUint32(offset)
	if err != nil {
		return DecodedDebugInfo{}, 0, err
	}
	cursor := offset + 4

	descs := make([]PcDescRecord, count)
	for i := uint32(0); i < count; i++ {
		raw, err := b.ReadAt(cursor, pcDescRecordSize)
		if err != nil {
			return DecodedDebugInfo{}, 0, err
		}
		descs[i] = decodePcDescRecord(raw)
		cursor += pcDescRecordSize
	}

	scopesOff, err := b.ReadUint32(cursor)
	if err != nil {
		return DecodedDebugInfo{}, 0, err
	}
	scopesSize, err := b.ReadUint32(cursor + 4)
	if err != nil {
		return DecodedDebugInfo{}, 0, err
	}
	oopMapOff, err := b.ReadUint32(cursor + 8)
	if err != nil {
		return DecodedDebugInfo{}, 0, err
	}
	oopMapSize, err := b.ReadUint32(cursor + 12)
	if err != nil {
		return DecodedDebugInfo{}, 0, err
	}
	cursor += 16

	var scopes, oopMap []byte
	if scopesSize > 0 {
		if scopes, err = b.ReadAt(scopesOff, scopesSize); err != nil {
			return DecodedDebugInfo{}, 0, err
		}
	}
	if oopMapSize > 0 {
		if oopMap, err = b.ReadAt(oopMapOff, oopMapSize); err != nil {
			return DecodedDebugInfo{}, 0, err
		}
	}

	return DecodedDebugInfo{PcDescs: descs, ScopesStream: scopes, OopMapStream: oopMap}, cursor, nil
}

// FindPcDesc returns the PcDesc whose PcOffset matches pcOffset exactly,
// the way the host's PcDesc table lookup does for exception unwinding and
// deoptimization (spec.md §6).
func FindPcDesc(descs []PcDescRecord, pcOffset uint32) (PcDescRecord, bool) {
	for _, d := range descs {
		if d.PcOffset == pcOffset {
			return d, true
		}
	}
	return PcDescRecord{}, false
}
