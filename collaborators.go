// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

// This file declares the narrow interfaces scarchive consumes from the
// surrounding compiler/runtime (spec.md §1, §6). scarchive never
// implements these; it is handed implementations by its embedder. Keeping
// them this narrow is what lets the core stay ignorant of the compiler
// front-end, the class loader, and the debug-info producers.

// BasicType enumerates the primitive-type class mirrors an ObjectRef of
// kind ObjPrimitive can name (spec.md §4.5).
type BasicType uint8

const (
	BasicTypeBoolean BasicType = iota
	BasicTypeByte
	BasicTypeChar
	BasicTypeShort
	BasicTypeInt
	BasicTypeLong
	BasicTypeFloat
	BasicTypeDouble
	BasicTypeVoid
)

// Symbol is an interned, loader-independent name (class name, method name,
// or method signature) as produced by the host's symbol table.
type Symbol string

// LoaderRef identifies a class loader well enough to drive
// FindInstanceOrArrayKlass, without scarchive needing to know anything
// about loader internals.
type LoaderRef struct {
	// System is true for the system class loader (spec.md ObjSysLoader).
	System bool
	// Platform is true for the platform class loader (ObjPlaLoader).
	Platform bool
	// Opaque optionally identifies a custom loader understood only by the
	// embedder; scarchive never branches on it; custom loaders fall into
	// the "unsupported object kind" hard bailout on store (spec.md §4.5).
	Opaque interface{}
}

// Klass is an opaque handle to a resolved class, returned by ClassResolver
// and consumed only by Method lookups and by the caller.
type Klass interface{}

// Method is an opaque handle to a resolved method.
type Method interface{}

// SymbolTable is the host's interned-symbol table (spec.md §6
// "SymbolTable::probe").
type SymbolTable interface {
	// Probe returns the interned Symbol equal to the given bytes, if one
	// exists. It never creates a new symbol: a miss means the name was
	// never interned and the current artifact must be discarded.
	Probe(name []byte) (Symbol, bool)
}

// ClassResolver is the host's loader-graph lookup surface (spec.md §6
// "SystemDictionary::find_instance_or_array_klass",
// "InstanceKlass::find_method").
type ClassResolver interface {
	// FindInstanceOrArrayKlass resolves name under loader/protectionDomain.
	FindInstanceOrArrayKlass(name Symbol, loader LoaderRef, protectionDomain interface{}) (Klass, bool)
	// FindMethod resolves (name, signature) within holder.
	FindMethod(holder Klass, name, signature Symbol) (Method, bool)
}

// CompilingContext carries the loader/protection-domain identity of the
// method currently being compiled, used as the first resolution attempt
// before the null-loader/domain retry (spec.md §4.5).
type CompilingContext struct {
	Loader           LoaderRef
	ProtectionDomain interface{}
}

// InvocationEntryBCI is the sentinel entry_bci value identifying a normal,
// non-OSR compile (spec.md §4.8 "store_nmethod ... gated on: non-OSR
// (entry_bci is the invocation sentinel)"). Any other entry_bci names an
// on-stack-replacement entry point, which this core never archives
// (spec.md §1 Non-goals: "no on-stack replacement (OSR) entries").
const InvocationEntryBCI int32 = -1

// CompilerKind identifies which compiler produced a method, gating
// store_nmethod/load_nmethod to the optimizing tier only (spec.md §4.8).
type CompilerKind int

const (
	// CompilerC1 is the fast, non-optimizing tier. Methods compiled here
	// are never archived.
	CompilerC1 CompilerKind = iota
	// CompilerC2 is the optimizing tier. Only its output is eligible for
	// store_nmethod/load_nmethod.
	CompilerC2
)

// Blob is an opaque handle to a call blob or stub, identified by name.
type Blob interface {
	Name() string
}

// CodeCache is the host's compiled-code directory (spec.md §6
// "CodeCache::find_blob").
type CodeCache interface {
	FindBlob(addr Address) (Blob, bool)
}

// StubRoutinesTable is the host's shared-stub directory (spec.md §6
// "StubRoutines::contains").
type StubRoutinesTable interface {
	Contains(addr Address) bool
	Lookup(addr Address) (Blob, bool)
}

// ObjectRecorder is the host's oop/metadata table: compile-time object
// handles mapped to small indices embedded directly in code (spec.md §6
// "OopRecorder").
type ObjectRecorder interface {
	OopCount() int
	OopAt(index int) interface{}
	MetadataCount() int
	MetadataAt(index int) interface{}
	FindIndex(value interface{}) (int, bool)
}

// DebugInfoStream is the host's serialized PcDesc/scope-data stream
// (spec.md §6 "DebugInformationRecorder"). scarchive only ever copies this
// stream; it never interprets PcDesc contents.
type DebugInfoStream interface {
	Bytes() []byte
}

// OopMapSet is the host's per-safepoint oop-map collection (spec.md §6).
// scarchive persists and restores the serialized stream only; the decoded
// OopMap is expected to keep referencing the same CompressedWriteStream it
// was built from, so no re-encoding happens on load.
type OopMapSet interface {
	Bytes() []byte
}

// CodeBufferSection identifies one of a CodeBuffer's N parallel sections
// (spec.md §4.6): instructions, stubs, constants.
type CodeBufferSection int

const (
	SectionInsts CodeBufferSection = iota
	SectionStubs
	SectionConsts
)

// NumCodeSections is the number of parallel code sections. It is an int
// constant so that it serves both as an array length and as an int loop
// bound.
const NumCodeSections = int(SectionConsts) + 1

// CodeBuffer is the host's in-progress or target code buffer (spec.md §6).
type CodeBuffer interface {
	// SectionBytes returns the live bytes of section s.
	SectionBytes(s CodeBufferSection) []byte
	// SectionOrigin returns the address section s was originally emitted
	// at (compile time) or currently lives at (revive time).
	SectionOrigin(s CodeBufferSection) Address
	// SetSectionBytes installs decoded bytes into section s at revive
	// time, advancing that section's end.
	SetSectionBytes(s CodeBufferSection, data []byte)
	// FinalizeOopReferences lets the buffer fix up any oop-recorder-side
	// bookkeeping once all sections and relocations are installed.
	FinalizeOopReferences(rec ObjectRecorder)
}
