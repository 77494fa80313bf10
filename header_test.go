// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Header
	}{
		{"zero", Header{}},
		{"typical", Header{
			Version:       ArchiveVersion,
			EntriesCount:  3,
			TotalSize:     4096,
			EntriesOffset: 128,
			StringsCount:  7,
			StringsOffset: 512,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.in.Encode()
			if len(buf) != HeaderSize {
				t.Fatalf("Encode() length = %d, want %d", len(buf), HeaderSize)
			}
			got, err := DecodeHeader(buf)
			if err != nil {
				t.Fatalf("DecodeHeader() failed: %v", err)
			}
			if got != tt.in {
				t.Fatalf("DecodeHeader() = %+v, want %+v", got, tt.in)
			}
		})
	}
}

func TestDecodeHeaderTooShort(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HeaderSize-1))
	if err != ErrOutsideBoundary {
		t.Fatalf("DecodeHeader() error = %v, want ErrOutsideBoundary", err)
	}
}
