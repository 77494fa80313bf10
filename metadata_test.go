// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scarchive

import "testing"

type fakeKlass struct{ name string }
type fakeMethod struct{ holder, name, sig string }

type fakeSymbolTable struct {
	known map[string]bool
}

func (f fakeSymbolTable) Probe(name []byte) (Symbol, bool) {
	s := string(name)
	if !f.known[s] {
		return "", false
	}
	return Symbol(s), true
}

type fakeClassResolver struct {
	klasses map[string]*fakeKlass
	methods map[string]*fakeMethod
}

func (f fakeClassResolver) FindInstanceOrArrayKlass(name Symbol, loader LoaderRef, domain interface{}) (Klass, bool) {
	k, ok := f.klasses[string(name)]
	if !ok {
		return nil, false
	}
	return k, true
}

func (f fakeClassResolver) FindMethod(holder Klass, name, signature Symbol) (Method, bool) {
	h, ok := holder.(*fakeKlass)
	if !ok {
		return nil, false
	}
	key := h.name + "#" + string(name) + string(signature)
	m, ok := f.methods[key]
	if !ok {
		return nil, false
	}
	return m, true
}

func TestMetadataCodecKlassRoundTrip(t *testing.T) {
	symtab := fakeSymbolTable{known: map[string]bool{"java/lang/String": true}}
	resolver := fakeClassResolver{klasses: map[string]*fakeKlass{
		"java/lang/String": {name: "java/lang/String"},
	}}
	ctx := CompilingContext{}
	codec := NewMetadataCodec(nil)

	w := NewIoBufferForStore(256)
	if err := codec.Encode(w, ObjectRef{Kind: ObjKlass, ClassName: "java/lang/String"}); err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	b := &IoBuffer{mode: ioModeLoad, data: w.data, limit: uint32(len(w.data))}
	resolved, _, err := codec.Decode(b, 0, symtab, resolver, ctx)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if resolved.Kind != ObjKlass {
		t.Fatalf("Kind = %v, want ObjKlass", resolved.Kind)
	}
	k, ok := resolved.Klass.(*fakeKlass)
	if !ok || k.name != "java/lang/String" {
		t.Fatalf("Klass = %+v, want java/lang/String", resolved.Klass)
	}
}

func TestMetadataCodecMethodRoundTrip(t *testing.T) {
	symtab := fakeSymbolTable{known: map[string]bool{
		"java/lang/String": true, "length": true, "()I": true,
	}}
	holder := &fakeKlass{name: "java/lang/String"}
	resolver := fakeClassResolver{
		klasses: map[string]*fakeKlass{"java/lang/String": holder},
		methods: map[string]*fakeMethod{
			"java/lang/String#length()I": {holder: "java/lang/String", name: "length", sig: "()I"},
		},
	}
	codec := NewMetadataCodec(nil)

	w := NewIoBufferForStore(256)
	ref := ObjectRef{Kind: ObjMethod, Holder: "java/lang/String", Name: "length", Signature: "()I"}
	if err := codec.Encode(w, ref); err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	b := &IoBuffer{mode: ioModeLoad, data: w.data, limit: uint32(len(w.data))}
	resolved, _, err := codec.Decode(b, 0, symtab, resolver, CompilingContext{})
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	m, ok := resolved.Method.(*fakeMethod)
	if !ok || m.name != "length" {
		t.Fatalf("Method = %+v, want length()I", resolved.Method)
	}
}

func TestMetadataCodecUnresolvableSymbolFails(t *testing.T) {
	symtab := fakeSymbolTable{known: map[string]bool{}}
	resolver := fakeClassResolver{klasses: map[string]*fakeKlass{}}
	codec := NewMetadataCodec(nil)

	w := NewIoBufferForStore(256)
	if err := codec.Encode(w, ObjectRef{Kind: ObjKlass, ClassName: "gone/Class"}); err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	b := &IoBuffer{mode: ioModeLoad, data: w.data, limit: uint32(len(w.data))}
	if _, _, err := codec.Decode(b, 0, symtab, resolver, CompilingContext{}); err != ErrLookupFailed {
		t.Fatalf("Decode() error = %v, want ErrLookupFailed", err)
	}
}

func TestMetadataCodecNullAndPrimitive(t *testing.T) {
	codec := NewMetadataCodec(nil)
	w := NewIoBufferForStore(64)

	if err := codec.Encode(w, ObjectRef{Kind: ObjNull}); err != nil {
		t.Fatalf("Encode(Null) failed: %v", err)
	}
	nullEnd := w.Size()
	if err := codec.Encode(w, ObjectRef{Kind: ObjPrimitive, Primitive: BasicTypeInt}); err != nil {
		t.Fatalf("Encode(Primitive) failed: %v", err)
	}

	b := &IoBuffer{mode: ioModeLoad, data: w.data, limit: uint32(len(w.data))}

	resolved, next, err := codec.Decode(b, 0, nil, nil, CompilingContext{})
	if err != nil {
		t.Fatalf("Decode(Null) failed: %v", err)
	}
	if resolved.Kind != ObjNull || next != nullEnd {
		t.Fatalf("Decode(Null) = (%+v, %d), want (ObjNull, %d)", resolved, next, nullEnd)
	}

	resolved, _, err = codec.Decode(b, next, nil, nil, CompilingContext{})
	if err != nil {
		t.Fatalf("Decode(Primitive) failed: %v", err)
	}
	if resolved.Kind != ObjPrimitive || resolved.Primitive != BasicTypeInt {
		t.Fatalf("Decode(Primitive) = %+v, want Int", resolved)
	}
}
