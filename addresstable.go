// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import (
	"sync"

	"github.com/gojit/scarchive/log"
)

// Address is an opaque code/data address as seen by the host runtime. In a
// real embedding this is a native pointer value handed across a narrow
// collaborator boundary (spec.md §6); scarchive never dereferences it, it
// only compares and ranges over it, so a signed 64-bit integer models it
// without requiring unsafe.Pointer plumbing through this package.
type Address int64

// NoFixupAddress is the reserved "same as at store time, no fix-up needed"
// sentinel (spec.md §3).
const NoFixupAddress Address = -1

// addressTableID wire form: the value stored in a relocation's auxiliary
// payload. NoFixupID round-trips bit-for-bit with int32(-1) so that the
// on-disk uint32 for "no fix-up" is 0xFFFFFFFF regardless of whether the
// producer treats it as a signed id or an unsigned wire word.
const (
	noFixupID      uint32 = 0xFFFFFFFF
	distanceIDFlag uint32 = 1 << 31
	distanceIDMask uint32 = distanceIDFlag - 1
)

type namedAddress struct {
	addr Address
	name string
}

// AddressTable is the process-global directory giving every externally
// addressable entity (runtime routines, stubs, call blobs, interned
// C-strings) a stable small integer id used inside archived relocations.
// It partitions ids into four disjoint, contiguous ranges (spec.md §3).
type AddressTable struct {
	log *log.Helper

	mu      sync.RWMutex
	funcs   []namedAddress
	stubs   []namedAddress
	blobs   []namedAddress
	strings []namedAddress

	funcBase, stubBase, blobBase, stringBase uint32

	basePhaseComplete      bool
	compilerPhaseComplete  bool
	maxStrings             int
	anchor                 Address
	resolveLibrarySymbol   func(Address) (lib string, offset int64, ok bool)
}

// MaxAddressTableStrings bounds the interned-string pool. The pool is
// small (~200 entries in a typical JVM process, spec.md §4.1 rationale) and
// kept cache-resident; this cap is generous headroom above that.
const MaxAddressTableStrings = 4096

// NewAddressTable constructs an empty table. anchor is the process anchor
// used to reconstruct unbounded-distance addresses; resolveLibrarySymbol is
// the narrow collaborator used for the "resolves to a library symbol with a
// non-zero offset" fallback (spec.md §4.1).
func NewAddressTable(anchor Address, resolveLibrarySymbol func(Address) (string, int64, bool), logger *log.Helper) *AddressTable {
	if logger == nil {
		logger = log.NewHelper(nil)
	}
	return &AddressTable{
		log:                  logger,
		maxStrings:           MaxAddressTableStrings,
		anchor:               anchor,
		resolveLibrarySymbol: resolveLibrarySymbol,
	}
}

// RegisterRuntimeFunction records one base-phase external runtime function.
// Must be called before MarkBasePhaseComplete.
func (t *AddressTable) RegisterRuntimeFunction(addr Address, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.funcs = append(t.funcs, namedAddress{addr, name})
}

// RegisterStub records one base-phase shared stub.
func (t *AddressTable) RegisterStub(addr Address, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stubs = append(t.stubs, namedAddress{addr, name})
}

// RegisterBlob records one base-phase shared call blob.
func (t *AddressTable) RegisterBlob(addr Address, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blobs = append(t.blobs, namedAddress{addr, name})
}

// MarkBasePhaseComplete finalizes the compiler-independent registration
// phase and fixes the id-range bases. Called once at process startup.
func (t *AddressTable) MarkBasePhaseComplete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.funcBase = 0
	t.stubBase = t.funcBase + uint32(len(t.funcs))
	t.blobBase = t.stubBase + uint32(len(t.stubs))
	t.stringBase = ALLMAX
	t.basePhaseComplete = true
}

// MarkCompilerPhaseComplete finalizes the optional optimizing-compiler
// registration phase (additional runtime blobs). id_for_address refuses to
// operate until both phases are marked complete when the workload needs
// them (spec.md §4.1).
func (t *AddressTable) MarkCompilerPhaseComplete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.compilerPhaseComplete = true
}

// ALLMAX is the fixed base at which the interned-C-string id range begins,
// chosen far above any plausible combined count of runtime functions,
// stubs, and blobs so the four ranges never collide.
const ALLMAX = 1 << 20

// ready reports whether both registration phases have completed.
func (t *AddressTable) ready() bool {
	return t.basePhaseComplete && t.compilerPhaseComplete
}

// AddString adds ptr's identity to the interned string pool if not already
// present, returning the index it was (or already is) stored at. Dedupes
// by identity (the Address), not by string content, matching spec.md §4.1.
// Silently drops (returns false) once the table is not yet complete or the
// pool is full.
func (t *AddressTable) AddString(addr Address, value string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready() {
		return 0, false
	}
	for i, s := range t.strings {
		if s.addr == addr {
			return i, true
		}
	}
	if len(t.strings) >= t.maxStrings {
		return 0, false
	}
	t.strings = append(t.strings, namedAddress{addr, value})
	return len(t.strings) - 1, true
}

func findAddress(list []namedAddress, addr Address) (int, bool) {
	for i, e := range list {
		if e.addr == addr {
			return i, true
		}
	}
	return 0, false
}

// IDForAddress encodes addr as the uint32 wire value stored in a
// relocation's auxiliary payload (spec.md §4.1, §4.7). NoFixupAddress maps
// to the no-fix-up sentinel; a hit in any of the four ranges maps to that
// range's base-relative id; an address outside every range but resolvable
// to a named dynamic-library symbol at a non-zero offset is encoded as its
// distance from the process anchor, provided that distance is non-negative
// and below 0x7FFFFFFF (the wire form holds 31 bits and 0x7FFFFFFF would
// collide with the no-fix-up id); any other distance is a miss. Any miss
// is fatal: the table is incomplete and the store must abort.
func (t *AddressTable) IDForAddress(addr Address) (uint32, error) {
	if addr == NoFixupAddress {
		return noFixupID, nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.ready() {
		return 0, ErrAddressTableIncomplete
	}

	if i, ok := findAddress(t.strings, addr); ok {
		return t.stringBase + uint32(i), nil
	}
	if i, ok := findAddress(t.stubs, addr); ok {
		return t.stubBase + uint32(i), nil
	}
	if i, ok := findAddress(t.blobs, addr); ok {
		return t.blobBase + uint32(i), nil
	}
	if i, ok := findAddress(t.funcs, addr); ok {
		return t.funcBase + uint32(i), nil
	}

	if t.resolveLibrarySymbol != nil {
		if _, offset, ok := t.resolveLibrarySymbol(addr); ok && offset != 0 {
			distance := int64(addr) - int64(t.anchor)
			if distance >= 0 && distance < int64(distanceIDMask) {
				return distanceIDFlag | uint32(distance), nil
			}
		}
	}

	t.log.Errorf("address table miss for %#x: table incomplete or address unregistered", addr)
	return 0, ErrUnknownAddress
}

// AddressForID is the inverse of IDForAddress: given an on-disk auxiliary
// payload, reconstruct the current process's address. Invalid ids are
// fatal.
func (t *AddressTable) AddressForID(id uint32) (Address, error) {
	if id == noFixupID {
		return NoFixupAddress, nil
	}
	if id&distanceIDFlag != 0 {
		distance := int64(id & distanceIDMask)
		return t.anchor + Address(distance), nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	switch {
	case id >= t.stringBase:
		i := int(id - t.stringBase)
		if i >= len(t.strings) {
			return 0, ErrInvalidAddressID
		}
		return t.strings[i].addr, nil
	case id >= t.blobBase:
		i := int(id - t.blobBase)
		if i >= len(t.blobs) {
			return 0, ErrInvalidAddressID
		}
		return t.blobs[i].addr, nil
	case id >= t.stubBase:
		i := int(id - t.stubBase)
		if i >= len(t.stubs) {
			return 0, ErrInvalidAddressID
		}
		return t.stubs[i].addr, nil
	default:
		i := int(id - t.funcBase)
		if i < 0 || i >= len(t.funcs) {
			return 0, ErrInvalidAddressID
		}
		return t.funcs[i].addr, nil
	}
}

// StringAt returns the interned string value recorded alongside the
// id-th (stringBase-relative) pool entry, used by MetadataCodec when
// decoding an ObjString immediate that was store-side interned by
// identity rather than by value.
func (t *AddressTable) StringAt(i int) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.strings) {
		return "", false
	}
	return t.strings[i].name, true
}

// Stats reports pool sizes for diagnostics.
func (t *AddressTable) Stats() (funcs, stubs, blobs, strings int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.funcs), len(t.stubs), len(t.blobs), len(t.strings)
}
