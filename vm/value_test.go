package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// ZVal accessor tests
// ---------------------------------------------------------------------------

func TestNumericAccessors(t *testing.T) {
	var z ZVal

	z.SetInt(-42)
	if z.Int() != -42 {
		t.Errorf("Int = %d, want -42", z.Int())
	}

	z.SetCount(99)
	if z.Count() != 99 {
		t.Errorf("Count = %d, want 99", z.Count())
	}

	z.SetDouble(2.5)
	if z.Double() != 2.5 {
		t.Errorf("Double = %f, want 2.5", z.Double())
	}

	z.SetBool(true)
	if !z.Bool() {
		t.Errorf("Bool = false, want true")
	}
	z.SetBool(false)
	if z.Bool() {
		t.Errorf("Bool = true, want false")
	}
}

func TestManagedRelease(t *testing.T) {
	before := NumLiveVals()

	sv := NewStringVal("hello")
	if NumLiveVals() != before+1 {
		t.Fatalf("live vals = %d, want %d", NumLiveVals(), before+1)
	}

	z := ManagedZVal(sv)
	z.Release(TypeString)

	if NumLiveVals() != before {
		t.Errorf("live vals after release = %d, want %d", NumLiveVals(), before)
	}
}

func TestReleaseUnmanagedNoOp(t *testing.T) {
	z := IntZVal(7)
	z.Release(TypeInt) // must not panic
	if z.Int() != 7 {
		t.Errorf("value clobbered by release")
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	sv := NewStringVal("x")
	sv.Release()

	defer func() {
		if recover() == nil {
			t.Errorf("second release did not panic")
		}
	}()
	sv.Release()
}

func TestRefExtendsLifetime(t *testing.T) {
	before := NumLiveVals()

	sv := NewStringVal("shared")
	sv.Ref()

	sv.Release()
	if NumLiveVals() != before+1 {
		t.Errorf("value freed while a reference remained")
	}

	sv.Release()
	if NumLiveVals() != before {
		t.Errorf("value not freed after final release")
	}
}

// ---------------------------------------------------------------------------
// Aggregate value tests
// ---------------------------------------------------------------------------

func TestTableInsertLookup(t *testing.T) {
	tt := TableType([]*Type{TypeCount}, TypeCount)
	tv := NewTableVal(tt)

	tv.Insert([]Val{CountVal(1)}, CountVal(10))
	tv.Insert([]Val{CountVal(2)}, CountVal(20))

	if tv.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tv.Len())
	}

	v, ok := tv.Lookup([]Val{CountVal(1)})
	if !ok || v.Z.Count() != 10 {
		t.Errorf("Lookup(1) = %v/%v, want 10", v.Z.Count(), ok)
	}

	if !tv.Contains([]Val{CountVal(2)}) {
		t.Errorf("Contains(2) = false")
	}
	if tv.Contains([]Val{CountVal(3)}) {
		t.Errorf("Contains(3) = true")
	}

	// Replacement keeps a single entry.
	tv.Insert([]Val{CountVal(1)}, CountVal(11))
	if tv.Len() != 2 {
		t.Errorf("Len after replace = %d, want 2", tv.Len())
	}
	v, _ = tv.Lookup([]Val{CountVal(1)})
	if v.Z.Count() != 11 {
		t.Errorf("Lookup after replace = %d, want 11", v.Z.Count())
	}

	tv.Release()
}

func TestTableReleasesEntries(t *testing.T) {
	before := NumLiveVals()

	tt := TableType([]*Type{TypeString}, TypeString)
	tv := NewTableVal(tt)

	k := StringValOf("k")
	v := StringValOf("v")
	tv.Insert([]Val{k}, v)
	k.ReleaseVal()
	v.ReleaseVal()

	tv.Release()

	if NumLiveVals() != before {
		t.Errorf("live vals = %d, want %d", NumLiveVals(), before)
	}
}

func TestRecordFields(t *testing.T) {
	rt := RecordType("conn", []RecordField{
		{Name: "n", T: TypeCount},
		{Name: "label", T: TypeString},
	})

	rv := NewRecordVal(rt)
	if rv.IsSet[0] || rv.IsSet[1] {
		t.Fatalf("fresh record has set fields")
	}

	rv.SetField(0, CountZVal(3))
	if !rv.IsSet[0] || rv.Fields[0].Count() != 3 {
		t.Errorf("field 0 = %d, want 3", rv.Fields[0].Count())
	}

	before := NumLiveVals()
	rv.SetField(1, ManagedZVal(NewStringVal("a")))
	rv.SetField(1, ManagedZVal(NewStringVal("b")))

	// The overwritten string must have been released.
	if NumLiveVals() != before+1 {
		t.Errorf("live vals = %d, want %d", NumLiveVals(), before+1)
	}

	// Teardown frees the record itself, which was already live when
	// before was taken, along with its string field.
	rv.Release()
	if NumLiveVals() != before-1 {
		t.Errorf("live vals after teardown = %d, want %d", NumLiveVals(), before-1)
	}
}

func TestVectorSetElemGrows(t *testing.T) {
	vt := VectorType(TypeCount)
	vv := NewVectorVal(vt)

	vv.SetElem(2, CountZVal(5))
	if vv.Len() != 3 {
		t.Errorf("Len = %d, want 3", vv.Len())
	}
	if vv.Elems[2].Count() != 5 {
		t.Errorf("elem 2 = %d, want 5", vv.Elems[2].Count())
	}

	vv.Release()
}

func TestSubString(t *testing.T) {
	sv := NewStringVal("hello")

	tests := []struct {
		start uint64
		n     int64
		want  string
	}{
		{0, 2, "he"},
		{1, 3, "ell"},
		{4, 10, "o"},
		{9, 1, ""},
		{1, -1, "ello"},
	}

	for _, tt := range tests {
		got := sv.SubString(tt.start, tt.n)
		if got.String() != tt.want {
			t.Errorf("SubString(%d, %d) = %q, want %q",
				tt.start, tt.n, got.String(), tt.want)
		}
		got.Release()
	}

	sv.Release()
}

func TestPortPacking(t *testing.T) {
	p := MakePort(443, ProtoTCP)
	if PortNumber(p) != 443 {
		t.Errorf("PortNumber = %d, want 443", PortNumber(p))
	}
	if PortProto(p) != ProtoTCP {
		t.Errorf("PortProto = %d, want TCP", PortProto(p))
	}
}

func TestTypeTagNormalization(t *testing.T) {
	tests := []struct {
		tag  TypeTag
		want TypeTag
	}{
		{TagBool, TagInt},
		{TagEnum, TagInt},
		{TagCounter, TagCount},
		{TagPort, TagCount},
		{TagTime, TagDouble},
		{TagInterval, TagDouble},
		{TagInt, TagInt},
		{TagString, TagString},
	}

	for _, tt := range tests {
		if got := tt.tag.InternalTag(); got != tt.want {
			t.Errorf("InternalTag(%s) = %s, want %s", tt.tag, got, tt.want)
		}
	}
}

func TestIsManagedType(t *testing.T) {
	managed := []*Type{TypeString, TypePattern, TypeAddr, TypeSubNet, TypeAny,
		VectorType(TypeCount), TableType([]*Type{TypeCount}, TypeCount)}
	unmanaged := []*Type{TypeInt, TypeCount, TypeDouble, TypeBool, TypePort,
		TypeTime, TypeInterval}

	for _, ty := range managed {
		if !IsManagedType(ty) {
			t.Errorf("IsManagedType(%s) = false", ty.Tag)
		}
	}
	for _, ty := range unmanaged {
		if IsManagedType(ty) {
			t.Errorf("IsManagedType(%s) = true", ty.Tag)
		}
	}
}
