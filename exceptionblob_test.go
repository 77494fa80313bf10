// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import "testing"

func TestExceptionBlobRoundTrip(t *testing.T) {
	w := NewIoBufferForStore(512)
	nullChecks := []uint32{40, 8, 24}
	ranges := []ExceptionRange{
		{Begin: 64, End: 128, HandlerOffset: 512},
		{Begin: 0, End: 64, HandlerOffset: 400},
	}

	offset, _, err := EncodeExceptionBlob(w, nullChecks, ranges)
	if err != nil {
		t.Fatalf("EncodeExceptionBlob() failed: %v", err)
	}

	b := &IoBuffer{mode: ioModeLoad, data: w.data, limit: uint32(len(w.data))}
	decoded, _, err := DecodeExceptionBlob(b, offset)
	if err != nil {
		t.Fatalf("DecodeExceptionBlob() failed: %v", err)
	}

	wantOffsets := []uint32{8, 24, 40}
	for i, want := range wantOffsets {
		if decoded.NullCheckOffsets[i] != want {
			t.Fatalf("NullCheckOffsets[%d] = %d, want %d (sorted)", i, decoded.NullCheckOffsets[i], want)
		}
	}

	if !decoded.IsNullCheckSite(24) {
		t.Fatal("IsNullCheckSite(24) = false, want true")
	}
	if decoded.IsNullCheckSite(25) {
		t.Fatal("IsNullCheckSite(25) = true, want false")
	}

	handler, ok := decoded.FindHandler(100)
	if !ok || handler != 512 {
		t.Fatalf("FindHandler(100) = (%d, %v), want (512, true)", handler, ok)
	}
	handler, ok = decoded.FindHandler(10)
	if !ok || handler != 400 {
		t.Fatalf("FindHandler(10) = (%d, %v), want (400, true)", handler, ok)
	}
	if _, ok := decoded.FindHandler(200); ok {
		t.Fatal("FindHandler(200) found a handler outside every range")
	}
}
