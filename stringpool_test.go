// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import "testing"

func TestStringPoolWriterInternDedupesByContent(t *testing.T) {
	w := NewStringPoolWriter()
	i1 := w.Intern("hello")
	i2 := w.Intern("world")
	i3 := w.Intern("hello")

	if i1 != i3 {
		t.Fatalf("Intern(\"hello\") returned %d then %d, want equal", i1, i3)
	}
	if i2 == i1 {
		t.Fatalf("Intern(\"world\") collided with Intern(\"hello\")'s index %d", i1)
	}
	if w.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", w.Len())
	}
}

func TestStringPoolRoundTrip(t *testing.T) {
	w := NewStringPoolWriter()
	w.Intern("alpha")
	w.Intern("beta")
	w.Intern("")

	buf := w.Encode()
	pool, err := DecodeStringPool(buf, 0, uint32(w.Len()))
	if err != nil {
		t.Fatalf("DecodeStringPool() failed: %v", err)
	}
	if pool.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", pool.Len())
	}

	want := []string{"alpha", "beta", ""}
	for i, w := range want {
		got, ok := pool.String(i)
		if !ok {
			t.Fatalf("String(%d) not found", i)
		}
		if got != w {
			t.Fatalf("String(%d) = %q, want %q", i, got, w)
		}
	}
}

func TestStringPoolOutOfRange(t *testing.T) {
	pool, err := DecodeStringPool(nil, 0, 0)
	if err != nil {
		t.Fatalf("DecodeStringPool(empty) failed: %v", err)
	}
	if _, ok := pool.String(0); ok {
		t.Fatal("String(0) on an empty pool returned ok=true")
	}
}

func TestDecodeStringPoolBoundsChecked(t *testing.T) {
	// A count claiming more entries than the buffer can hold must fail
	// rather than read out of bounds.
	if _, err := DecodeStringPool(make([]byte, 4), 0, 5); err != ErrOutsideBoundary {
		t.Fatalf("DecodeStringPool() error = %v, want ErrOutsideBoundary", err)
	}
}
