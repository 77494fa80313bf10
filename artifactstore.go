// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import (
	"github.com/gojit/scarchive/log"
)

// ArtifactStore is the per-kind store/load orchestrator sitting above the
// lower-level codecs (CodeSectionCodec, RelocationCodec, MetadataCodec,
// DebugInfoCodec, ExceptionCodec). Its Store*/Load* methods are a direct,
// one-for-one analogue of the teacher's File.Parse/ParseDataDirectories:
// Parse walks a small fixed sequence of sub-parsers in a known order,
// tolerating an individual sub-parser's failure without aborting the whole
// file where the format allows it, and dispatches by a table keyed on a
// directory-entry kind (file.go's funcMaps keyed by ImageDirectoryEntry).
// ArtifactStore plays the same role keyed on Kind, except scarchive has
// only three kinds and each is small enough to inline rather than route
// through a map of closures.
type ArtifactStore struct {
	entries   *EntryTable
	addrTable *AddressTable
	meta      *MetadataCodec
	verify    bool
	log       *log.Helper
}

// NewArtifactStore returns a store bound to entries/addrTable/meta. verify
// puts every Load* call into validation mode (spec.md §6 "verify: bool"):
// decoding still happens in full, but the call reports the artifact as not
// found so the caller recompiles it instead of reviving it.
func NewArtifactStore(entries *EntryTable, addrTable *AddressTable, meta *MetadataCodec, verify bool, logger *log.Helper) *ArtifactStore {
	if logger == nil {
		logger = log.NewHelper(nil)
	}
	return &ArtifactStore{entries: entries, addrTable: addrTable, meta: meta, verify: verify, log: logger}
}

// CodeArtifact bundles everything Store{Stub,Blob,Nmethod} needs to persist
// a compiled artifact's code and relocations.
type CodeArtifact struct {
	Sections         [NumCodeSections]CodeSectionSource
	Relocs           [NumCodeSections][]RelocStoreEntry
	LocsPointOffsets [NumCodeSections]uint32
}

// relocDirHeaderSize is one section's entry in the combined relocation
// directory written ahead of the per-section relocation blocks: {u32
// offset; u32 size}.
const relocDirHeaderSize = 4 + 4

func encodeRelocDirectory(w *IoBuffer, addrTable *AddressTable, meta *MetadataCodec, art CodeArtifact) (offset, size uint32, err error) {
	if err = w.AlignWrite(); err != nil {
		return 0, 0, err
	}
	start := w.Size()

	headerOffsets := make([]uint32, NumCodeSections)
	for i := 0; i < NumCodeSections; i++ {
		off, err := w.Append(make([]byte, relocDirHeaderSize))
		if err != nil {
			return 0, 0, err
		}
		headerOffsets[i] = off
	}

	for i := 0; i < NumCodeSections; i++ {
		secOff, secSize, err := EncodeRelocSection(w, addrTable, meta, art.LocsPointOffsets[i], art.Relocs[i])
		if err != nil {
			return 0, 0, err
		}
		buf := make([]byte, relocDirHeaderSize)
		putUint32(buf[0:4], secOff)
		putUint32(buf[4:8], secSize)
		if err := w.WriteAt(headerOffsets[i], buf); err != nil {
			return 0, 0, err
		}
	}

	// Pad to DataAlignment so that a Kind-specific trailer, whose encoder
	// also aligns first, begins exactly at offset+size.
	if err = w.AlignWrite(); err != nil {
		return 0, 0, err
	}
	return start, w.Size() - start, nil
}

// decodeRelocDirectory applies every section's relocation fix-ups directly
// to sections (already-decoded code bytes), in section order.
func decodeRelocDirectory(
	b *IoBuffer, offset uint32,
	addrTable *AddressTable, meta *MetadataCodec,
	symtab SymbolTable, resolver ClassResolver, ctx CompilingContext,
	recorder ObjectRecorder,
	sections [NumCodeSections][]byte,
	origins [NumCodeSections]sectionOrigins,
	logger *log.Helper,
) (next uint32, err error) {
	cursor := offset
	for i := 0; i < NumCodeSections; i++ {
		secOff, err := b.ReadUint32(cursor)
		if err != nil {
			return 0, err
		}
		// secSize occupies the next 4 bytes but the section's own
		// reloc_count/header makes it self-delimiting; only the offset is
		// needed to locate it.
		cursor += relocDirHeaderSize

		_, _, relocNext, err := DecodeRelocSection(b, secOff, addrTable, meta, symtab, resolver, ctx, recorder, sections, CodeBufferSection(i), origins, logger)
		if err != nil {
			return 0, err
		}
		_ = relocNext
	}
	return cursor, nil
}

// storeCodeAndRelocs writes the name, the code-sections block, and the
// relocation directory, in that fixed order, returning the Entry fields
// that describe them plus the offset immediately following the whole
// block (where a Kind-specific trailer, if any, continues).
func (s *ArtifactStore) storeCodeAndRelocs(w *IoBuffer, name string, art CodeArtifact) (e Entry, trailerStart uint32, err error) {
	nameOff, nameSize, err := WriteCString(w, name)
	if err != nil {
		return Entry{}, 0, err
	}
	codeOff, codeSize, err := EncodeCodeSections(w, art.Sections)
	if err != nil {
		return Entry{}, 0, err
	}
	relocOff, relocSize, err := encodeRelocDirectory(w, s.addrTable, s.meta, art)
	if err != nil {
		return Entry{}, 0, err
	}
	e = Entry{
		Offset:     nameOff,
		NameOffset: nameOff,
		NameSize:   nameSize,
		CodeOffset: codeOff,
		CodeSize:   codeSize,
		RelocOffset: relocOff,
		RelocSize:   relocSize,
	}
	return e, w.Size(), nil
}

// StoreStub persists a shared runtime stub under id. Stubs carry no debug
// info or exception table.
func (s *ArtifactStore) StoreStub(w *IoBuffer, id uint32, name string, art CodeArtifact) (bool, error) {
	e, trailerEnd, err := s.storeCodeAndRelocs(w, name, art)
	if err != nil {
		return false, err
	}
	e.Kind = KindStub
	e.ID = id
	e.Size = trailerEnd - e.Offset
	s.entries.Append(e)
	return true, nil
}

// StoreBlob persists the single shared exception-handler blob. Per spec.md
// §4.9 Open Questions, exactly one blob is modeled and it always carries
// BlobSentinelID.
func (s *ArtifactStore) StoreBlob(w *IoBuffer, name string, art CodeArtifact, nullCheckOffsets []uint32, ranges []ExceptionRange) (bool, error) {
	e, _, err := s.storeCodeAndRelocs(w, name, art)
	if err != nil {
		return false, err
	}
	_, excSize, err := EncodeExceptionBlob(w, nullCheckOffsets, ranges)
	if err != nil {
		return false, err
	}
	e.Kind = KindBlob
	e.ID = BlobSentinelID
	e.Size = w.Size() - e.Offset
	_ = excSize
	s.entries.Append(e)
	return true, nil
}

// StoreNmethod persists one compiled method under (id, decompile). A
// second Store for the same id must use a strictly greater decompile, or
// must first invalidate the prior entry (spec.md §3). Gated per spec.md
// §4.8: only a non-OSR (entryBCI == InvocationEntryBCI), optimizing-tier
// (compiler == CompilerC2) compile is archived; any other combination is
// reported as a no-op skip, not an error.
func (s *ArtifactStore) StoreNmethod(w *IoBuffer, id, decompile uint32, name string, entryBCI int32, compiler CompilerKind, art CodeArtifact, debugInfo DebugInfoSource) (bool, error) {
	if entryBCI != InvocationEntryBCI || compiler != CompilerC2 {
		s.log.Debugf("skipping store_nmethod for %s: entryBCI=%d compiler=%v (only non-OSR optimizing-tier compiles are archived)", name, entryBCI, compiler)
		return false, nil
	}

	e, _, err := s.storeCodeAndRelocs(w, name, art)
	if err != nil {
		return false, err
	}
	if _, _, err := EncodeDebugInfo(w, debugInfo); err != nil {
		return false, err
	}
	e.Kind = KindCode
	e.ID = id
	e.Decompile = decompile
	e.Size = w.Size() - e.Offset
	s.entries.Append(e)
	return true, nil
}

// LoadArtifact is the decoded, ready-to-install result of a Load call.
type LoadArtifact struct {
	Name     string
	Sections [NumCodeSections]DecodedSection
}

// loadCodeAndRelocs resolves an Entry matching (kind, id, decompile),
// checks its name against expectedName, decodes its sections, and applies
// every relocation fix-up in place. A name mismatch or missing entry is an
// artifact-local failure (ErrLookupFailed-adjacent axis): the caller
// discards this one lookup, the archive stays usable.
func (s *ArtifactStore) loadCodeAndRelocs(
	b *IoBuffer, kind Kind, id, decompile uint32, expectedName string,
	symtab SymbolTable, resolver ClassResolver, ctx CompilingContext,
	recorder ObjectRecorder, cb CodeBuffer,
) (LoadArtifact, error) {
	entry, ok := s.entries.Find(kind, id, decompile)
	if !ok {
		return LoadArtifact{}, ErrNotFound
	}

	name, err := ReadCString(b, entry.NameOffset, entry.NameSize)
	if err != nil {
		return LoadArtifact{}, err
	}
	if name != expectedName {
		s.log.Warnf("name mismatch for %s id=%d: archive has %q, caller expected %q", kind, id, name, expectedName)
		return LoadArtifact{}, ErrNameMismatch
	}

	sections, err := DecodeCodeSections(b, entry.CodeOffset)
	if err != nil {
		return LoadArtifact{}, err
	}

	var sectionBytes [NumCodeSections][]byte
	var origins [NumCodeSections]sectionOrigins
	for i, sec := range sections {
		sectionBytes[i] = sec.Bytes
		newOrigin := sec.OriginalOrigin
		if cb != nil {
			newOrigin = cb.SectionOrigin(CodeBufferSection(i))
		}
		origins[i] = sectionOrigins{Old: sec.OriginalOrigin, New: newOrigin}
	}

	if _, err := decodeRelocDirectory(b, entry.RelocOffset, s.addrTable, s.meta, symtab, resolver, ctx, recorder, sectionBytes, origins, s.log); err != nil {
		return LoadArtifact{}, err
	}

	if cb != nil {
		for i, sec := range sectionBytes {
			if sec != nil {
				cb.SetSectionBytes(CodeBufferSection(i), sec)
			}
		}
		cb.FinalizeOopReferences(recorder)
	}

	return LoadArtifact{Name: name, Sections: sections}, nil
}

// LoadStub loads the stub named expectedName under id.
func (s *ArtifactStore) LoadStub(b *IoBuffer, id uint32, expectedName string, cb CodeBuffer, recorder ObjectRecorder) (LoadArtifact, bool, error) {
	art, err := s.loadCodeAndRelocs(b, KindStub, id, 0, expectedName, noopSymbolTable{}, noopClassResolver{}, CompilingContext{}, recorder, cb)
	switch classifyResult(err) {
	case ResultOK:
		if s.verify {
			return LoadArtifact{}, false, nil
		}
		return art, true, nil
	case ResultArtifactSkip:
		return LoadArtifact{}, false, nil
	default:
		return LoadArtifact{}, false, err
	}
}

// LoadBlob loads the single shared exception-handler blob.
func (s *ArtifactStore) LoadBlob(b *IoBuffer, expectedName string, cb CodeBuffer, recorder ObjectRecorder) (LoadArtifact, DecodedExceptionBlob, bool, error) {
	entry, ok := s.entries.Find(KindBlob, BlobSentinelID, 0)
	if !ok {
		return LoadArtifact{}, DecodedExceptionBlob{}, false, nil
	}
	art, err := s.loadCodeAndRelocs(b, KindBlob, BlobSentinelID, 0, expectedName, noopSymbolTable{}, noopClassResolver{}, CompilingContext{}, recorder, cb)
	switch classifyResult(err) {
	case ResultArtifactSkip:
		return LoadArtifact{}, DecodedExceptionBlob{}, false, nil
	case ResultArchiveFailed:
		return LoadArtifact{}, DecodedExceptionBlob{}, false, err
	}
	excOffset := entry.RelocOffset + entry.RelocSize
	exc, _, err := DecodeExceptionBlob(b, excOffset)
	if err != nil {
		return LoadArtifact{}, DecodedExceptionBlob{}, false, err
	}
	if s.verify {
		return LoadArtifact{}, DecodedExceptionBlob{}, false, nil
	}
	return art, exc, true, nil
}

// LoadNmethod loads the compiled method matching (id, decompile), resolving
// symbolic class/method/object references via symtab/resolver/ctx. Gated
// per spec.md §4.8: only a non-OSR, optimizing-tier lookup is honored; any
// other combination is reported as a plain miss, not an error, the same
// outcome as a gated-out store_nmethod.
func (s *ArtifactStore) LoadNmethod(
	b *IoBuffer, id, decompile uint32, expectedName string, entryBCI int32, compiler CompilerKind,
	symtab SymbolTable, resolver ClassResolver, ctx CompilingContext,
	recorder ObjectRecorder, cb CodeBuffer,
) (LoadArtifact, DecodedDebugInfo, bool, error) {
	if entryBCI != InvocationEntryBCI || compiler != CompilerC2 {
		return LoadArtifact{}, DecodedDebugInfo{}, false, nil
	}

	entry, ok := s.entries.Find(KindCode, id, decompile)
	if !ok {
		return LoadArtifact{}, DecodedDebugInfo{}, false, nil
	}
	art, err := s.loadCodeAndRelocs(b, KindCode, id, decompile, expectedName, symtab, resolver, ctx, recorder, cb)
	switch classifyResult(err) {
	case ResultArtifactSkip:
		return LoadArtifact{}, DecodedDebugInfo{}, false, nil
	case ResultArchiveFailed:
		return LoadArtifact{}, DecodedDebugInfo{}, false, err
	}
	debugOffset := entry.RelocOffset + entry.RelocSize
	debugInfo, _, err := DecodeDebugInfo(b, debugOffset)
	if err != nil {
		return LoadArtifact{}, DecodedDebugInfo{}, false, err
	}
	// spec.md §6 "verify: bool": the decode above still ran in full (so a
	// corrupt archive is still detected) but the caller must be told to
	// recompile fresh rather than revive this artifact.
	if s.verify {
		return LoadArtifact{}, DecodedDebugInfo{}, false, nil
	}
	return art, debugInfo, true, nil
}

// FindEntry exposes a raw (kind, id, decompile) lookup for callers that
// only need entry metadata (scadump, invalidation).
func (s *ArtifactStore) FindEntry(kind Kind, id, decompile uint32) (Entry, bool) {
	return s.entries.Find(kind, id, decompile)
}

// Invalidate sets the not-entrant bit on the entry at idx.
func (s *ArtifactStore) Invalidate(idx uint32) bool {
	return s.entries.Invalidate(idx)
}

// noopSymbolTable/noopClassResolver satisfy stub/blob loads, which never
// carry symbolic object references (only KindCode artifacts do).
type noopSymbolTable struct{}

func (noopSymbolTable) Probe([]byte) (Symbol, bool) { return "", false }

type noopClassResolver struct{}

func (noopClassResolver) FindInstanceOrArrayKlass(Symbol, LoaderRef, interface{}) (Klass, bool) {
	return nil, false
}
func (noopClassResolver) FindMethod(Klass, Symbol, Symbol) (Method, bool) { return nil, false }
