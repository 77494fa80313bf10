// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import (
	"bytes"
	"testing"
)

func TestCodeSectionRoundTrip(t *testing.T) {
	w := NewIoBufferForStore(4096)

	var sections [NumCodeSections]CodeSectionSource
	sections[SectionInsts] = CodeSectionSource{Origin: 0x1000, Bytes: []byte{0xC3, 0x90, 0x90}}
	sections[SectionStubs] = CodeSectionSource{Origin: 0x2000, Bytes: []byte{0xE9, 0x00, 0x00, 0x00, 0x00}}
	// SectionConsts left empty on purpose.

	offset, _, err := EncodeCodeSections(w, sections)
	if err != nil {
		t.Fatalf("EncodeCodeSections() failed: %v", err)
	}

	loadBuf := &IoBuffer{mode: ioModeLoad, data: w.data, limit: uint32(len(w.data))}
	decoded, err := DecodeCodeSections(loadBuf, offset)
	if err != nil {
		t.Fatalf("DecodeCodeSections() failed: %v", err)
	}

	if decoded[SectionInsts].OriginalOrigin != 0x1000 {
		t.Fatalf("insts origin = %#x, want 0x1000", decoded[SectionInsts].OriginalOrigin)
	}
	if !bytes.Equal(decoded[SectionInsts].Bytes, sections[SectionInsts].Bytes) {
		t.Fatalf("insts bytes = %v, want %v", decoded[SectionInsts].Bytes, sections[SectionInsts].Bytes)
	}
	if !bytes.Equal(decoded[SectionStubs].Bytes, sections[SectionStubs].Bytes) {
		t.Fatalf("stubs bytes = %v, want %v", decoded[SectionStubs].Bytes, sections[SectionStubs].Bytes)
	}
	if decoded[SectionConsts].Bytes != nil {
		t.Fatalf("consts bytes = %v, want nil (empty section)", decoded[SectionConsts].Bytes)
	}
}
