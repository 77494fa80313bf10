// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import (
	"github.com/gojit/scarchive/log"
)

// ObjectKind tags every persisted object reference so it can be
// re-resolved symbolically after a loader-graph change (spec.md §4.5). The
// concrete layout below is grounded on how the teacher's .NET metadata
// tables (dotnet.go, dotnet_metadata_tables.go) encode coded, symbolic
// cross-table references (TypeRef/MethodDef/MemberRef rows resolved
// through a string heap) rather than raw pointers — the same shape
// MetadataCodec needs for class/method references that must survive a
// process restart.
type ObjectKind uint8

const (
	ObjNull ObjectKind = iota
	ObjNoData
	ObjKlass
	ObjMethod
	ObjPrimitive
	ObjString
	ObjSysLoader
	ObjPlaLoader
	ObjArray
)

func (k ObjectKind) String() string {
	switch k {
	case ObjNull:
		return "Null"
	case ObjNoData:
		return "NoData"
	case ObjKlass:
		return "Klass"
	case ObjMethod:
		return "Method"
	case ObjPrimitive:
		return "Primitive"
	case ObjString:
		return "String"
	case ObjSysLoader:
		return "SysLoader"
	case ObjPlaLoader:
		return "PlaLoader"
	case ObjArray:
		return "Array"
	default:
		return "Unknown"
	}
}

// ObjectRef is the store-side description of a reference to encode.
type ObjectRef struct {
	Kind ObjectKind

	ClassName string // ObjKlass

	Holder    string // ObjMethod
	Name      string // ObjMethod
	Signature string // ObjMethod

	Primitive BasicType // ObjPrimitive

	StringValue string // ObjString
}

// ResolvedObject is the load-side result of decoding an ObjectRef.
type ResolvedObject struct {
	Kind ObjectKind

	Klass  Klass
	Method Method

	Primitive   BasicType
	StringValue string

	SystemLoader   bool
	PlatformLoader bool
}

// MetadataCodec encodes and decodes symbolic object/class/method
// references (spec.md §4.5).
type MetadataCodec struct {
	log *log.Helper
}

// NewMetadataCodec returns a codec logging through logger (nil is fine).
func NewMetadataCodec(logger *log.Helper) *MetadataCodec {
	if logger == nil {
		logger = log.NewHelper(nil)
	}
	return &MetadataCodec{log: logger}
}

// Encode writes ref's tag and payload to w. Any object kind this codec
// cannot round-trip (a module, a custom loader, or ObjArray, whose payload
// spec.md §4.5 leaves "reserved") is a hard bailout: it returns
// ErrLookupFailed and the caller must discard the staged artifact.
func (c *MetadataCodec) Encode(w *IoBuffer, ref ObjectRef) error {
	if _, err := w.Append([]byte{byte(ref.Kind)}); err != nil {
		return err
	}
	switch ref.Kind {
	case ObjNull, ObjNoData, ObjSysLoader, ObjPlaLoader:
		return nil
	case ObjKlass:
		_, _, err := WriteCString(w, ref.ClassName)
		return err
	case ObjMethod:
		if _, _, err := WriteCString(w, ref.Holder); err != nil {
			return err
		}
		if _, _, err := WriteCString(w, ref.Name); err != nil {
			return err
		}
		_, _, err := WriteCString(w, ref.Signature)
		return err
	case ObjPrimitive:
		_, err := w.Append([]byte{byte(ref.Primitive)})
		return err
	case ObjString:
		return WriteLengthPrefixedBytes(w, []byte(ref.StringValue))
	default:
		c.log.Warnf("unsupported object kind %s: bailing out of this artifact", ref.Kind)
		return ErrLookupFailed
	}
}

// Decode reads one ObjectRef's wire form at offset and symbolically
// re-resolves it through symtab/resolver/ctx, following spec.md §4.5's
// resolution order: try the compiling method's loader/protection domain
// first, then retry with the null loader/domain, then bail with
// ErrLookupFailed. Returns the byte offset immediately following the
// decoded record.
func (c *MetadataCodec) Decode(b *IoBuffer, offset uint32, symtab SymbolTable, resolver ClassResolver, ctx CompilingContext) (ResolvedObject, uint32, error) {
	tagByte, err := b.ReadUint8(offset)
	if err != nil {
		return ResolvedObject{}, 0, err
	}
	kind := ObjectKind(tagByte)
	offset++

	switch kind {
	case ObjNull, ObjNoData:
		return ResolvedObject{Kind: kind}, offset, nil
	case ObjSysLoader:
		return ResolvedObject{Kind: kind, SystemLoader: true}, offset, nil
	case ObjPlaLoader:
		return ResolvedObject{Kind: kind, PlatformLoader: true}, offset, nil
	case ObjKlass:
		klass, next, err := c.decodeKlass(b, offset, symtab, resolver, ctx)
		if err != nil {
			return ResolvedObject{}, 0, err
		}
		return ResolvedObject{Kind: kind, Klass: klass}, next, nil
	case ObjMethod:
		holder, next, err := c.decodeKlass(b, offset, symtab, resolver, ctx)
		if err != nil {
			return ResolvedObject{}, 0, err
		}
		name, next3, err := readCStringField(b, next)
		if err != nil {
			return ResolvedObject{}, 0, err
		}
		sig, next4, err := readCStringField(b, next3)
		if err != nil {
			return ResolvedObject{}, 0, err
		}
		nameSym, ok := symtab.Probe([]byte(name))
		if !ok {
			c.log.Debugf("method name symbol %q not interned", name)
			return ResolvedObject{}, 0, ErrLookupFailed
		}
		sigSym, ok := symtab.Probe([]byte(sig))
		if !ok {
			c.log.Debugf("method signature symbol %q not interned", sig)
			return ResolvedObject{}, 0, ErrLookupFailed
		}
		method, ok := resolver.FindMethod(holder, nameSym, sigSym)
		if !ok {
			return ResolvedObject{}, 0, ErrLookupFailed
		}
		return ResolvedObject{Kind: kind, Method: method}, next4, nil
	case ObjPrimitive:
		bt, err := b.ReadUint8(offset)
		if err != nil {
			return ResolvedObject{}, 0, err
		}
		return ResolvedObject{Kind: kind, Primitive: BasicType(bt)}, offset + 1, nil
	case ObjString:
		payload, next, err := ReadLengthPrefixedBytes(b, offset)
		if err != nil {
			return ResolvedObject{}, 0, err
		}
		return ResolvedObject{Kind: kind, StringValue: string(payload)}, next, nil
	default:
		c.log.Warnf("unsupported object kind %s on decode", kind)
		return ResolvedObject{}, 0, ErrLookupFailed
	}
}

// decodeKlass reads one NUL-terminated class-name string at offset and
// resolves it, retrying with the null loader/protection domain before
// giving up.
func (c *MetadataCodec) decodeKlass(b *IoBuffer, offset uint32, symtab SymbolTable, resolver ClassResolver, ctx CompilingContext) (Klass, uint32, error) {
	name, next, err := readCStringField(b, offset)
	if err != nil {
		return nil, 0, err
	}
	sym, ok := symtab.Probe([]byte(name))
	if !ok {
		c.log.Debugf("class symbol %q not interned", name)
		return nil, 0, ErrLookupFailed
	}
	if klass, ok := resolver.FindInstanceOrArrayKlass(sym, ctx.Loader, ctx.ProtectionDomain); ok {
		return klass, next, nil
	}
	if klass, ok := resolver.FindInstanceOrArrayKlass(sym, LoaderRef{}, nil); ok {
		return klass, next, nil
	}
	c.log.Debugf("class %q unresolvable under compiling loader or null loader", name)
	return nil, 0, ErrLookupFailed
}

// readCStringField reads a length-implicit, NUL-terminated string that was
// written with WriteCString, scanning for the terminator rather than
// relying on a stored size (the method/holder/signature trio is encoded
// back-to-back with no length prefix between entries).
func readCStringField(b *IoBuffer, offset uint32) (string, uint32, error) {
	start := offset
	for {
		by, err := b.ReadUint8(offset)
		if err != nil {
			return "", 0, err
		}
		if by == 0 {
			s, err := ReadCString(b, start, offset-start+1)
			return s, offset + 1, err
		}
		offset++
	}
}
