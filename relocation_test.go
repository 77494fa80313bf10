// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import (
	"encoding/binary"
	"testing"
)

type fakeObjectRecorder struct {
	oops  []interface{}
	metas []interface{}
}

func (f fakeObjectRecorder) OopCount() int                       { return len(f.oops) }
func (f fakeObjectRecorder) OopAt(i int) interface{}             { return f.oops[i] }
func (f fakeObjectRecorder) MetadataCount() int                  { return len(f.metas) }
func (f fakeObjectRecorder) MetadataAt(i int) interface{}        { return f.metas[i] }
func (f fakeObjectRecorder) FindIndex(v interface{}) (int, bool) { return 0, false }

func sameOrigins() [NumCodeSections]sectionOrigins {
	var o [NumCodeSections]sectionOrigins
	for i := range o {
		o[i] = sectionOrigins{Old: 0, New: 0}
	}
	return o
}

func TestRelocationCallTargetRoundTrip(t *testing.T) {
	addrTable := newCompleteAddressTable()
	meta := NewMetadataCodec(nil)

	w := NewIoBufferForStore(512)
	entries := []RelocStoreEntry{
		{Record: RelocRecord{SectionOffset: 0, Type: RelocStaticCall}, Target: 200}, // the registered stub
	}
	_, _, err := EncodeRelocSection(w, addrTable, meta, 0, entries)
	if err != nil {
		t.Fatalf("EncodeRelocSection() failed: %v", err)
	}

	b := &IoBuffer{mode: ioModeLoad, data: w.data, limit: uint32(len(w.data))}
	section := make([]byte, 16)
	var sections [NumCodeSections][]byte
	sections[SectionInsts] = section

	_, results, _, err := DecodeRelocSection(b, 0, addrTable, meta, nil, nil, CompilingContext{}, fakeObjectRecorder{}, sections, SectionInsts, sameOrigins(), nil)
	if err != nil {
		t.Fatalf("DecodeRelocSection() failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].ResolvedAddress != 200 {
		t.Fatalf("ResolvedAddress = %d, want 200", results[0].ResolvedAddress)
	}
	patched := Address(binary.LittleEndian.Uint64(section[0:8]))
	if patched != 200 {
		t.Fatalf("patched section bytes decode to %d, want 200", patched)
	}
}

func TestRelocationNoFixupSentinel(t *testing.T) {
	addrTable := newCompleteAddressTable()
	meta := NewMetadataCodec(nil)

	w := NewIoBufferForStore(512)
	entries := []RelocStoreEntry{
		{Record: RelocRecord{SectionOffset: 0, Type: RelocRuntimeCall}, Target: NoFixupAddress},
	}
	if _, _, err := EncodeRelocSection(w, addrTable, meta, 0, entries); err != nil {
		t.Fatalf("EncodeRelocSection() failed: %v", err)
	}

	b := &IoBuffer{mode: ioModeLoad, data: w.data, limit: uint32(len(w.data))}
	section := make([]byte, 16)
	for i := range section {
		section[i] = 0xAB // sentinel fill, must remain untouched
	}
	var sections [NumCodeSections][]byte
	sections[SectionInsts] = section

	_, results, _, err := DecodeRelocSection(b, 0, addrTable, meta, nil, nil, CompilingContext{}, fakeObjectRecorder{}, sections, SectionInsts, sameOrigins(), nil)
	if err != nil {
		t.Fatalf("DecodeRelocSection() failed: %v", err)
	}
	if !results[0].NoFixup {
		t.Fatal("NoFixup = false, want true")
	}
	for i, by := range section {
		if by != 0xAB {
			t.Fatalf("section byte %d = %#x, want untouched 0xAB (no-fixup must not patch)", i, by)
		}
	}
}

func TestRelocationExternalWordRepackOverflow(t *testing.T) {
	addrTable := newCompleteAddressTable()
	meta := NewMetadataCodec(nil)

	// blob_a's address (300) packs into two bytes; force an artificially
	// tiny datalen of 0 so no packed form can possibly fit.
	w := NewIoBufferForStore(512)
	entries := []RelocStoreEntry{
		{Record: RelocRecord{SectionOffset: 0, Type: RelocExternalWord, DataLen: 0}, Target: 300},
	}
	if _, _, err := EncodeRelocSection(w, addrTable, meta, 0, entries); err != nil {
		t.Fatalf("EncodeRelocSection() failed: %v", err)
	}

	b := &IoBuffer{mode: ioModeLoad, data: w.data, limit: uint32(len(w.data))}
	section := make([]byte, 16)
	original := append([]byte(nil), section...)
	var sections [NumCodeSections][]byte
	sections[SectionInsts] = section

	_, _, _, err := DecodeRelocSection(b, 0, addrTable, meta, nil, nil, CompilingContext{}, fakeObjectRecorder{}, sections, SectionInsts, sameOrigins(), nil)
	if err != ErrExternalWordRepackOverflow {
		t.Fatalf("DecodeRelocSection() error = %v, want ErrExternalWordRepackOverflow", err)
	}
	for i := range section {
		if section[i] != original[i] {
			t.Fatalf("section byte %d mutated despite repack failure", i)
		}
	}
}

func TestRelocationOopImmediateRoundTrip(t *testing.T) {
	addrTable := newCompleteAddressTable()
	meta := NewMetadataCodec(nil)

	w := NewIoBufferForStore(512)
	entries := []RelocStoreEntry{
		{
			Record:          RelocRecord{SectionOffset: 0, Type: RelocOop, Immediate: true},
			ImmediateObject: ObjectRef{Kind: ObjPrimitive, Primitive: BasicTypeInt},
		},
	}
	if _, _, err := EncodeRelocSection(w, addrTable, meta, 0, entries); err != nil {
		t.Fatalf("EncodeRelocSection() failed: %v", err)
	}

	b := &IoBuffer{mode: ioModeLoad, data: w.data, limit: uint32(len(w.data))}
	var sections [NumCodeSections][]byte
	sections[SectionInsts] = make([]byte, 16)

	_, results, _, err := DecodeRelocSection(b, 0, addrTable, meta, nil, nil, CompilingContext{}, fakeObjectRecorder{}, sections, SectionInsts, sameOrigins(), nil)
	if err != nil {
		t.Fatalf("DecodeRelocSection() failed: %v", err)
	}
	if results[0].ResolvedObject.Kind != ObjPrimitive || results[0].ResolvedObject.Primitive != BasicTypeInt {
		t.Fatalf("ResolvedObject = %+v, want ObjPrimitive/Int", results[0].ResolvedObject)
	}
}

func TestRelocationUnhandledTypeIsFatal(t *testing.T) {
	addrTable := newCompleteAddressTable()
	meta := NewMetadataCodec(nil)

	w := NewIoBufferForStore(512)
	entries := []RelocStoreEntry{{Record: RelocRecord{Type: RelocRuntimeCallWCP}}}
	if _, _, err := EncodeRelocSection(w, addrTable, meta, 0, entries); err != ErrUnhandledRelocationType {
		t.Fatalf("EncodeRelocSection() error = %v, want ErrUnhandledRelocationType", err)
	}
}
