package vm

import (
	"fmt"
	"math"
	"net/netip"
	"regexp"
)

// ---------------------------------------------------------------------------
// ZVal: the fixed-width frame value
// ---------------------------------------------------------------------------

// ZVal is the tagged payload held in one frame slot.  Numeric variants
// live in the raw 64-bit word; managed variants hold the sole owning
// handle to heap storage.  The variant in use is determined by the type
// descriptor carried in the instruction operating on the slot, never by
// inspecting the value itself.
type ZVal struct {
	num  uint64
	ptr  ManagedVal
	iter *IterInfo
}

// ManagedVal is heap storage whose lifetime the engine manages
// explicitly: one Ref per owning handle, one Release per overwrite or
// frame teardown.
type ManagedVal interface {
	Ref()
	Release()
}

// Live-value accounting, used as the leak/double-free oracle by tests.
// Execution is single-threaded (see the engine), so plain counters do.
var (
	numVals    int
	numDelVals int
)

// NumLiveVals returns the number of managed values currently allocated
// and not yet fully released.
func NumLiveVals() int { return numVals - numDelVals }

// refs is the common refcount core of every managed value.
type refs struct {
	n int
}

func newRefs() refs {
	numVals++
	return refs{n: 1}
}

func (r *refs) Ref() { r.n++ }

func (r *refs) Release() {
	if r.n <= 0 {
		panic("managed value released after free")
	}
	r.n--
	if r.n == 0 {
		numDelVals++
	}
}

// Refs exposes the current reference count; test use only.
func (r *refs) Refs() int { return r.n }

// ---------------------------------------------------------------------------
// Numeric accessors
// ---------------------------------------------------------------------------

func (z ZVal) Int() int64         { return int64(z.num) }
func (z ZVal) Count() uint64      { return z.num }
func (z ZVal) Double() float64    { return math.Float64frombits(z.num) }
func (z ZVal) Bool() bool         { return z.num != 0 }
func (z *ZVal) SetInt(v int64)    { z.num = uint64(v) }
func (z *ZVal) SetCount(v uint64) { z.num = v }
func (z *ZVal) SetDouble(v float64) {
	z.num = math.Float64bits(v)
}
func (z *ZVal) SetBool(v bool) {
	if v {
		z.num = 1
	} else {
		z.num = 0
	}
}

// IntZVal and friends build numeric ZVals.
func IntZVal(v int64) ZVal      { return ZVal{num: uint64(v)} }
func CountZVal(v uint64) ZVal   { return ZVal{num: v} }
func DoubleZVal(v float64) ZVal { return ZVal{num: math.Float64bits(v)} }
func BoolZVal(v bool) ZVal {
	var z ZVal
	z.SetBool(v)
	return z
}

// ---------------------------------------------------------------------------
// Managed accessors
// ---------------------------------------------------------------------------

// Managed returns the owned handle, or nil if the slot holds none.
func (z ZVal) Managed() ManagedVal { return z.ptr }

func (z ZVal) StringVal() *StringVal   { return z.ptr.(*StringVal) }
func (z ZVal) PatternVal() *PatternVal { return z.ptr.(*PatternVal) }
func (z ZVal) AddrVal() *AddrVal       { return z.ptr.(*AddrVal) }
func (z ZVal) SubNetVal() *SubNetVal   { return z.ptr.(*SubNetVal) }
func (z ZVal) RecordVal() *RecordVal   { return z.ptr.(*RecordVal) }
func (z ZVal) TableVal() *TableVal     { return z.ptr.(*TableVal) }
func (z ZVal) VectorVal() *VectorVal   { return z.ptr.(*VectorVal) }
func (z ZVal) FileVal() *FileVal       { return z.ptr.(*FileVal) }
func (z ZVal) FuncVal() *FuncVal       { return z.ptr.(*FuncVal) }
func (z ZVal) AnyVal() *AnyVal         { return z.ptr.(*AnyVal) }

// Iter returns the iterator block held by a loop-state slot.  Iterator
// state is deliberately not a managed value.
func (z ZVal) Iter() *IterInfo { return z.iter }

// SetIter stores iterator state in the slot.
func (z *ZVal) SetIter(it *IterInfo) { z.iter = it }

// ManagedZVal wraps an owned handle; the caller transfers its reference.
func ManagedZVal(m ManagedVal) ZVal { return ZVal{ptr: m} }

// Release drops the slot's owned handle if its type is managed; it is a
// no-op for unmanaged variants and for the nil sentinel.
func (z *ZVal) Release(t *Type) {
	if t != nil && !IsManagedType(t) {
		return
	}
	if z.ptr != nil {
		z.ptr.Release()
		z.ptr = nil
	}
}

// ---------------------------------------------------------------------------
// Managed value kinds
// ---------------------------------------------------------------------------

// StringVal owns an immutable byte string.
type StringVal struct {
	refs
	B []byte
}

func NewStringVal(s string) *StringVal {
	return &StringVal{refs: newRefs(), B: []byte(s)}
}

func NewStringValBytes(b []byte) *StringVal {
	return &StringVal{refs: newRefs(), B: b}
}

func (s *StringVal) String() string { return string(s.B) }
func (s *StringVal) Len() int       { return len(s.B) }

// SubString returns the 0-based substring of length n, clamped to the
// string; n < 0 means "to the end".
func (s *StringVal) SubString(start uint64, n int64) *StringVal {
	if start >= uint64(len(s.B)) {
		return NewStringVal("")
	}
	rest := s.B[start:]
	if n < 0 || n > int64(len(rest)) {
		n = int64(len(rest))
	}
	return NewStringValBytes(append([]byte(nil), rest[:n]...))
}

// PatternVal owns a compiled pattern.
type PatternVal struct {
	refs
	Src string
	RE  *regexp.Regexp
}

func NewPatternVal(src string) (*PatternVal, error) {
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, err
	}
	return &PatternVal{refs: newRefs(), Src: src, RE: re}, nil
}

// MustPattern compiles a pattern or panics; for literals in tests.
func MustPattern(src string) *PatternVal {
	p, err := NewPatternVal(src)
	if err != nil {
		panic(err)
	}
	return p
}

// AddrVal owns an address.
type AddrVal struct {
	refs
	A netip.Addr
}

func NewAddrVal(a netip.Addr) *AddrVal { return &AddrVal{refs: newRefs(), A: a} }

// SubNetVal owns a subnet.
type SubNetVal struct {
	refs
	P netip.Prefix
}

func NewSubNetVal(p netip.Prefix) *SubNetVal { return &SubNetVal{refs: newRefs(), P: p} }

// RecordVal owns a record's field values.
type RecordVal struct {
	refs
	T      *Type
	Fields []ZVal
	IsSet  []bool
}

func NewRecordVal(t *Type) *RecordVal {
	return &RecordVal{
		refs:   newRefs(),
		T:      t,
		Fields: make([]ZVal, len(t.Fields)),
		IsSet:  make([]bool, len(t.Fields)),
	}
}

// SetField latches a new field value, releasing any prior managed one.
func (r *RecordVal) SetField(i int, v ZVal) {
	ft := r.T.Fields[i].T
	if r.IsSet[i] {
		r.Fields[i].Release(ft)
	}
	r.Fields[i] = v
	r.IsSet[i] = true
}

func (r *RecordVal) Release() {
	r.refs.Release()
	if r.n == 0 {
		for i := range r.Fields {
			if r.IsSet[i] {
				r.Fields[i].Release(r.T.Fields[i].T)
				r.IsSet[i] = false
			}
		}
	}
}

// tableEntry is one table element: its index values and its yield.
type tableEntry struct {
	keys []Val
	val  Val
	set  bool
}

// TableVal owns a table or set.  Entries iterate in insertion order so
// compiled loops are deterministic.
type TableVal struct {
	refs
	T       *Type
	entries map[string]*tableEntry
	order   []string
}

func NewTableVal(t *Type) *TableVal {
	return &TableVal{refs: newRefs(), T: t, entries: make(map[string]*tableEntry)}
}

func (t *TableVal) Len() int { return len(t.order) }

func indexKey(keys []Val) string {
	k := ""
	for _, v := range keys {
		k += v.IndexKey() + "\x00"
	}
	return k
}

// Insert adds or replaces an entry.  The table takes its own references
// to the keys and value.
func (t *TableVal) Insert(keys []Val, val Val) {
	ik := indexKey(keys)
	if old, ok := t.entries[ik]; ok {
		for _, k := range old.keys {
			k.ReleaseVal()
		}
		if old.set {
			old.val.ReleaseVal()
		}
	} else {
		t.order = append(t.order, ik)
	}
	held := make([]Val, len(keys))
	for i, k := range keys {
		held[i] = k.RefVal()
	}
	e := &tableEntry{keys: held}
	if val.T != nil {
		e.val = val.RefVal()
		e.set = true
	}
	t.entries[ik] = e
}

// Lookup returns the yield for keys, if present.
func (t *TableVal) Lookup(keys []Val) (Val, bool) {
	e, ok := t.entries[indexKey(keys)]
	if !ok || !e.set {
		return Val{}, ok
	}
	return e.val, true
}

// Contains reports membership of the index.
func (t *TableVal) Contains(keys []Val) bool {
	_, ok := t.entries[indexKey(keys)]
	return ok
}

func (t *TableVal) Release() {
	t.refs.Release()
	if t.n == 0 {
		for _, e := range t.entries {
			for _, k := range e.keys {
				k.ReleaseVal()
			}
			if e.set {
				e.val.ReleaseVal()
			}
		}
		t.entries = nil
		t.order = nil
	}
}

// VectorVal owns a vector of elements of the yield type.
type VectorVal struct {
	refs
	T     *Type // the vector type
	Elems []ZVal
}

func NewVectorVal(t *Type) *VectorVal {
	return &VectorVal{refs: newRefs(), T: t}
}

func (v *VectorVal) Len() int { return len(v.Elems) }

// SetElem latches an element, growing the vector as needed.
func (v *VectorVal) SetElem(i int, e ZVal) {
	yt := v.T.Yield
	for i >= len(v.Elems) {
		v.Elems = append(v.Elems, ZVal{})
	}
	v.Elems[i].Release(yt)
	v.Elems[i] = e
}

func (v *VectorVal) Release() {
	v.refs.Release()
	if v.n == 0 {
		for i := range v.Elems {
			v.Elems[i].Release(v.T.Yield)
		}
		v.Elems = nil
	}
}

// FileVal owns an open file handle.
type FileVal struct {
	refs
	Name string
}

func NewFileVal(name string) *FileVal { return &FileVal{refs: newRefs(), Name: name} }

// FuncVal owns a reference to a callable function value.
type FuncVal struct {
	refs
	F Func
}

func NewFuncVal(f Func) *FuncVal { return &FuncVal{refs: newRefs(), F: f} }

// AnyVal boxes a value together with its dynamic type.
type AnyVal struct {
	refs
	V Val
}

func NewAnyVal(v Val) *AnyVal {
	return &AnyVal{refs: newRefs(), V: v.RefVal()}
}

func (a *AnyVal) Release() {
	a.refs.Release()
	if a.n == 0 {
		a.V.ReleaseVal()
	}
}

// ---------------------------------------------------------------------------
// Val: the general (typed) value used across call boundaries
// ---------------------------------------------------------------------------

// Val pairs a ZVal with its type; the representation the AST
// interpreter, globals, and function calls traffic in.
type Val struct {
	T *Type
	Z ZVal
}

// NewVal builds a Val, taking over the caller's reference for managed
// variants.
func NewVal(t *Type, z ZVal) Val { return Val{T: t, Z: z} }

// RefVal returns v with an additional reference on any managed handle.
func (v Val) RefVal() Val {
	if IsManagedType(v.T) && v.Z.ptr != nil {
		v.Z.ptr.Ref()
	}
	return v
}

// ReleaseVal drops v's reference on its managed handle, if any.
func (v Val) ReleaseVal() {
	v.Z.Release(v.T)
}

// ToZVal converts the general value into a frame value, taking a fresh
// reference on managed storage.
func (v Val) ToZVal() ZVal {
	return v.RefVal().Z
}

// ZValToVal converts a frame value back to a general value, taking a
// fresh reference on managed storage.
func ZValToVal(z ZVal, t *Type) Val {
	return Val{T: t, Z: z}.RefVal()
}

// IndexKey renders v as a table-index key.  Managed index types hash by
// content, numerics by raw payload.
func (v Val) IndexKey() string {
	switch v.T.Tag.InternalTag() {
	case TagString:
		return "s:" + v.Z.StringVal().String()
	case TagAddr:
		return "a:" + v.Z.AddrVal().A.String()
	case TagSubNet:
		return "n:" + v.Z.SubNetVal().P.String()
	case TagPattern:
		return "p:" + v.Z.PatternVal().Src
	case TagDouble:
		return fmt.Sprintf("d:%x", v.Z.num)
	default:
		return fmt.Sprintf("i:%x", v.Z.num)
	}
}

// Equal compares two general values of the same type.
func (v Val) Equal(o Val) bool {
	if v.T == nil || o.T == nil {
		return v.T == o.T
	}
	return v.IndexKey() == o.IndexKey()
}

// Convenience constructors for host code and tests.
func IntVal(v int64) Val       { return Val{T: TypeInt, Z: IntZVal(v)} }
func CountVal(v uint64) Val    { return Val{T: TypeCount, Z: CountZVal(v)} }
func DoubleVal(v float64) Val  { return Val{T: TypeDouble, Z: DoubleZVal(v)} }
func BoolVal(v bool) Val       { return Val{T: TypeBool, Z: BoolZVal(v)} }
func StringValOf(s string) Val { return Val{T: TypeString, Z: ManagedZVal(NewStringVal(s))} }
func AddrValOf(s string) Val {
	return Val{T: TypeAddr, Z: ManagedZVal(NewAddrVal(netip.MustParseAddr(s)))}
}
func SubNetValOf(s string) Val {
	return Val{T: TypeSubNet, Z: ManagedZVal(NewSubNetVal(netip.MustParsePrefix(s)))}
}
func PatternValOf(s string) Val { return Val{T: TypePattern, Z: ManagedZVal(MustPattern(s))} }
