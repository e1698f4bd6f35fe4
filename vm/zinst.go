package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Auxiliary operand blocks
// ---------------------------------------------------------------------------

// AuxElem is one entry of an aux block: either a frame slot or an
// embedded constant, together with its type.
type AuxElem struct {
	Slot  int // -1 when the element is a constant
	Const ZVal
	T     *Type
}

// ZInstAux carries the variable-length operands used by calls,
// constructor literals and "in"-list tests, plus iterator layout for
// loop-initiating opcodes.  Its lifetime is that of its instruction.
type ZInstAux struct {
	Elems []AuxElem
	Iter  *IterInfo
}

// NewZInstAux allocates an aux block with n element triples.
func NewZInstAux(n int) *ZInstAux {
	a := &ZInstAux{Elems: make([]AuxElem, n)}
	for i := range a.Elems {
		a.Elems[i].Slot = -1
	}
	return a
}

// AddSlot records a frame-slot element at position i.
func (a *ZInstAux) AddSlot(i, slot int, t *Type) {
	a.Elems[i] = AuxElem{Slot: slot, T: t}
}

// AddConst records a constant element at position i.
func (a *ZInstAux) AddConst(i int, c ZVal, t *Type) {
	a.Elems[i] = AuxElem{Slot: -1, Const: c, T: t}
}

// N returns the number of elements.
func (a *ZInstAux) N() int { return len(a.Elems) }

// IterInfo describes one loop's iteration: the slots receiving the
// iterator outputs, their types, and per-invocation cursor state.
type IterInfo struct {
	LoopVars     []int
	LoopVarTypes []*Type
	VecType      *Type
	YieldType    *Type

	// Run-time state, populated by the INIT opcode of the loop.
	tbl     *TableVal
	tblKeys []string
	vec     *VectorVal
	str     *StringVal
	next    int
}

// clone copies the static layout into a fresh block with cleared state,
// so concurrent invocations of the same body do not share cursors.
func (ii *IterInfo) clone() *IterInfo {
	return &IterInfo{
		LoopVars:     ii.LoopVars,
		LoopVarTypes: ii.LoopVarTypes,
		VecType:      ii.VecType,
		YieldType:    ii.YieldType,
	}
}

// ---------------------------------------------------------------------------
// ZInst
// ---------------------------------------------------------------------------

// ZInst is one abstract ZAM instruction.  During compilation branch
// destinations are identities (Target pointers); concretization writes
// the final instruction indices into the integer operand named by
// TargetSlot and drops the pointers.
type ZInst struct {
	Op             Op
	V1, V2, V3, V4 int
	C              ZVal  // embedded constant
	CType          *Type // type of C
	T              *Type // type reference for the operation
	T2             *Type // secondary type (cast/test source)
	Aux            *ZInstAux
	OpType         OpType

	// IsManaged marks instructions whose destination slot owns heap
	// storage that must be released before the store.
	IsManaged bool

	// Func is the direct callee for non-indirect calls.
	Func Func

	// Event is the handler for event/schedule instructions.
	Event EventHandler

	// CondExpr is the deferred condition of a "when" instruction,
	// evaluated by the host's trigger subsystem.
	CondExpr any

	// Branch bookkeeping, used only before concretization.
	Target, Target2         *ZInst
	TargetSlot, Target2Slot int

	Live      bool
	NumLabels int
	InstNum   int
	LoopDepth int
	LoopStart bool
}

// NewInst builds an instruction over up to four integer operands,
// with the opcode's default operand form.
func NewInst(op Op, vs ...int) *ZInst {
	z := &ZInst{Op: op, OpType: op.DefaultOpType(), Live: true}
	switch len(vs) {
	case 4:
		z.V4 = vs[3]
		fallthrough
	case 3:
		z.V3 = vs[2]
		fallthrough
	case 2:
		z.V2 = vs[1]
		fallthrough
	case 1:
		z.V1 = vs[0]
	}
	return z
}

// NewInstC builds an instruction carrying an embedded constant.
func NewInstC(op Op, c ZVal, ct *Type, vs ...int) *ZInst {
	z := NewInst(op, vs...)
	z.C = c
	z.CType = ct
	return z
}

// SetType attaches the operation's type reference and classifies the
// destination's management needs.
func (z *ZInst) SetType(t *Type) {
	z.T = t
	z.CheckIfManaged(t)
}

// CheckIfManaged marks the instruction if assignments through it must
// release the destination's prior value.
func (z *ZInst) CheckIfManaged(t *Type) {
	if IsManagedType(t) {
		z.IsManaged = true
	}
}

// slotOperand returns a pointer to the k-th integer operand (1-based).
func (z *ZInst) slotOperand(k int) *int {
	switch k {
	case 1:
		return &z.V1
	case 2:
		return &z.V2
	case 3:
		return &z.V3
	case 4:
		return &z.V4
	}
	panic("bad operand index")
}

// UsesSlot reports whether the instruction reads the given frame slot.
func (z *ZInst) UsesSlot(slot int) bool {
	s1, s2, s3, s4, ok := z.UsesSlots()
	if !ok {
		return false
	}
	return s1 == slot || s2 == slot || s3 == slot || s4 == slot
}

// UsesSlots returns the frame slots the instruction reads, packed into
// s1, s2, ... in operand order, with -1 for the remaining results.  The
// assignment destination is not a use.
func (z *ZInst) UsesSlots() (s1, s2, s3, s4 int, any bool) {
	s1, s2, s3, s4 = -1, -1, -1, -1

	if z.Op.IsGlobalLoad() || z.OpType == OTVVFrame && z.Op.IsLoad() {
		// v2 is not a frame slot for these.
		return -1, -1, -1, -1, false
	}

	info := z.OpType.Info()
	if info.n == 0 {
		return -1, -1, -1, -1, false
	}

	first := 1
	if z.Op.AssignsToSlot1() {
		first = 2
	}

	out := []*int{&s1, &s2, &s3, &s4}
	j := 0
	for k := first; k <= info.n; k++ {
		if info.imm[k-1] {
			continue
		}
		*out[j] = *z.slotOperand(k)
		j++
		any = true
	}
	return s1, s2, s3, s4, any
}

// UpdateSlots rewrites the instruction's slot operands through a
// frame-remapping table.  Immediates and non-slot operands are left
// alone; the caller handles globals and iterator variables.
func (z *ZInst) UpdateSlots(frame1ToFrame2 []int) {
	info := z.OpType.Info()
	first := 1
	if z.Op.AssignsToSlot1() {
		// v1 was already remapped by the caller.
		first = 2
	}
	for k := first; k <= info.n; k++ {
		if info.imm[k-1] {
			continue
		}
		p := z.slotOperand(k)
		if *p >= 0 && *p < len(frame1ToFrame2) {
			*p = frame1ToFrame2[*p]
		}
	}
	if z.Aux != nil {
		for i := range z.Aux.Elems {
			if s := z.Aux.Elems[i].Slot; s >= 0 {
				z.Aux.Elems[i].Slot = frame1ToFrame2[s]
			}
		}
	}
}

// Dump renders the instruction for debug output.  The leading token is
// the mnemonic, so a dump line round-trips through OpByName.
func (z *ZInst) Dump() string {
	var b strings.Builder
	b.WriteString(z.Op.Name())

	info := z.OpType.Info()
	for k := 1; k <= info.n; k++ {
		v := *z.slotOperand(k)
		if info.imm[k-1] {
			fmt.Fprintf(&b, " %d", v)
		} else {
			fmt.Fprintf(&b, " [%d]", v)
		}
	}
	if z.T != nil {
		fmt.Fprintf(&b, " (%s)", z.T.Tag)
	}
	if z.Aux != nil && len(z.Aux.Elems) > 0 {
		b.WriteString(" {")
		for i, e := range z.Aux.Elems {
			if i > 0 {
				b.WriteString(", ")
			}
			if e.Slot >= 0 {
				fmt.Fprintf(&b, "[%d]", e.Slot)
			} else {
				b.WriteString("const")
			}
		}
		b.WriteString("}")
	}
	return b.String()
}
