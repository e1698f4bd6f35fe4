package vm

import (
	"bytes"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Execution engine
// ---------------------------------------------------------------------------

// Exec runs the compiled body against a host interpreter frame (which
// supplies parameters and receives stored locals).  Execution is
// single-threaded and synchronous: a tight dispatch loop in PC order
// with no suspension points.  Runtime failures come back as an explicit
// error together with a zero Val.
func (b *CompiledBody) Exec(host *Host, f *InterpFrame) (Val, Flow, error) {
	return b.doExec(host, f, 0, nil)
}

// ExecProfiled runs the body while accumulating opcode counts and CPU
// times into the caller-supplied sink.
func (b *CompiledBody) ExecProfiled(host *Host, f *InterpFrame, p *ProfileSink) (Val, Flow, error) {
	return b.doExec(host, f, 0, p)
}

// refZ returns v carrying a fresh reference on its managed handle.
func refZ(v ZVal) ZVal {
	if v.ptr != nil {
		v.ptr.Ref()
	}
	return v
}

// assignManaged latches v (whose reference the caller transfers) into a
// managed slot: the new value is read first, then the prior owner is
// released, then the store happens.
func assignManaged(frame []ZVal, slot int, v ZVal) {
	frame[slot].Release(nil)
	frame[slot] = v
}

// auxZVal fetches an aux element's raw value, borrowed.
func auxZVal(frame []ZVal, e AuxElem) ZVal {
	if e.Slot >= 0 {
		return frame[e.Slot]
	}
	return e.Const
}

// auxVal fetches an aux element as a typed, borrowed Val.
func auxVal(frame []ZVal, e AuxElem) Val {
	return Val{T: e.T, Z: auxZVal(frame, e)}
}

// auxVals materializes an aux block as owned argument values.
func auxVals(frame []ZVal, aux *ZInstAux) []Val {
	args := make([]Val, aux.N())
	for i, e := range aux.Elems {
		args[i] = auxVal(frame, e).RefVal()
	}
	return args
}

func releaseVals(vals []Val) {
	for _, v := range vals {
		v.ReleaseVal()
	}
}

func (b *CompiledBody) doExec(host *Host, f *InterpFrame, startPC int, prof *ProfileSink) (Val, Flow, error) {
	numGlobals := len(b.Globals)
	var globalState []GlobalState
	if numGlobals > 0 {
		// All globals start out unloaded.
		globalState = make([]GlobalState, numGlobals)
	}

	var frame []ZVal
	var err error
	if b.fixedFrame != nil {
		frame, err = b.acquireFixedFrame()
		if err != nil {
			return Val{}, FlowReturn, err
		}
		defer b.releaseFixedFrame()
	} else {
		frame = make([]ZVal, b.FrameSize)
	}

	var retZ ZVal
	var retType *Type
	flow := FlowReturn

	pc := startPC
	end := len(b.Insts)
	var execStart time.Time
	if prof != nil {
		execStart = time.Now()
	}

	syncGlobals := func() {
		for i := range b.Globals {
			if globalState[i] == GlobalDirty {
				g := &b.Globals[i]
				g.Var.Set(Val{T: g.Var.T, Z: frame[g.Slot]})
				globalState[i] = GlobalClean
			}
		}
	}

	for pc < end && err == nil {
		z := b.Insts[pc]
		next := pc + 1

		var instStart time.Time
		if prof != nil {
			instStart = time.Now()
		}

		switch z.Op {
		case OpNop:
			// nothing

		case OpGotoV:
			next = z.V1

		case OpSyncGlobalsX:
			syncGlobals()

		case OpDirtyGlobalV:
			globalState[z.V1] = GlobalDirty

		case OpHookBreakX:
			flow = FlowBreak
			next = end

		case OpReturnX:
			next = end

		case OpReturnV:
			retZ, retType = frame[z.V1], z.T
			next = end

		case OpReturnC:
			retZ, retType = z.C, z.CType
			next = end

		// --- Conditional branches ---
		case OpIfVV, OpIfElseVV:
			if !frame[z.V1].Bool() {
				next = z.V2
			}

		case OpIfNotVV:
			if frame[z.V1].Bool() {
				next = z.V2
			}

		case OpHasFieldCondVVV:
			if !frame[z.V1].RecordVal().IsSet[z.V2] {
				next = z.V3
			}
		case OpNotHasFieldCondVVV:
			if frame[z.V1].RecordVal().IsSet[z.V2] {
				next = z.V3
			}

		case OpValIsInTableCondVVV:
			if !frame[z.V2].TableVal().Contains([]Val{{T: z.T, Z: frame[z.V1]}}) {
				next = z.V3
			}
		case OpValIsNotInTableCondVVV:
			if frame[z.V2].TableVal().Contains([]Val{{T: z.T, Z: frame[z.V1]}}) {
				next = z.V3
			}

		case OpConstIsInTableCondVVC:
			if !frame[z.V1].TableVal().Contains([]Val{{T: z.CType, Z: z.C}}) {
				next = z.V2
			}
		case OpConstIsNotInTableCondVVC:
			if frame[z.V1].TableVal().Contains([]Val{{T: z.CType, Z: z.C}}) {
				next = z.V2
			}

		case OpVal2IsInTableCondVVVV, OpVal2IsNotInTableCondVVVV:
			t := frame[z.V3].TableVal()
			in := t.Contains([]Val{
				{T: t.T.Indices[0], Z: frame[z.V1]},
				{T: t.T.Indices[1], Z: frame[z.V2]},
			})
			if in == (z.Op == OpVal2IsNotInTableCondVVVV) {
				next = z.V4
			}

		case OpVal2IsInTableCondVVVC, OpVal2IsNotInTableCondVVVC:
			t := frame[z.V2].TableVal()
			in := t.Contains([]Val{
				{T: t.T.Indices[0], Z: frame[z.V1]},
				{T: t.T.Indices[1], Z: z.C},
			})
			if in == (z.Op == OpVal2IsNotInTableCondVVVC) {
				next = z.V3
			}

		case OpVal2IsInTableCondVVCV, OpVal2IsNotInTableCondVVCV:
			t := frame[z.V2].TableVal()
			in := t.Contains([]Val{
				{T: t.T.Indices[0], Z: z.C},
				{T: t.T.Indices[1], Z: frame[z.V1]},
			})
			if in == (z.Op == OpVal2IsNotInTableCondVVCV) {
				next = z.V3
			}

		// --- Switches ---
		case OpSwitchIVVV:
			if t, ok := b.IntCases[z.V2][frame[z.V1].Int()]; ok {
				next = t
			} else {
				next = z.V3
			}
		case OpSwitchUVVV:
			if t, ok := b.UintCases[z.V2][frame[z.V1].Count()]; ok {
				next = t
			} else {
				next = z.V3
			}
		case OpSwitchDVVV:
			if t, ok := b.DoubleCases[z.V2][frame[z.V1].Double()]; ok {
				next = t
			} else {
				next = z.V3
			}
		case OpSwitchSVVV:
			if t, ok := b.StrCases[z.V2][frame[z.V1].StringVal().String()]; ok {
				next = t
			} else {
				next = z.V3
			}
		case OpSwitchAVVV:
			if t, ok := b.StrCases[z.V2][frame[z.V1].AddrVal().A.String()]; ok {
				next = t
			} else {
				next = z.V3
			}
		case OpSwitchNVVV:
			if t, ok := b.StrCases[z.V2][frame[z.V1].SubNetVal().P.String()]; ok {
				next = t
			} else {
				next = z.V3
			}

		// --- Iteration ---
		case OpInitTableLoopVVc:
			ii := z.Aux.Iter.clone()
			tv := frame[z.V2].TableVal()
			ii.tbl = tv
			ii.tblKeys = append([]string(nil), tv.order...)
			frame[z.V1].SetIter(ii)

		case OpInitVectorLoopVV:
			ii := z.Aux.Iter.clone()
			ii.vec = frame[z.V2].VectorVal()
			frame[z.V1].SetIter(ii)

		case OpInitStringLoopVV:
			ii := z.Aux.Iter.clone()
			ii.str = frame[z.V2].StringVal()
			frame[z.V1].SetIter(ii)

		case OpNextTableIterVV:
			ii := frame[z.V1].Iter()
			if ii.next >= len(ii.tblKeys) {
				next = z.V2
				break
			}
			e := ii.tbl.entries[ii.tblKeys[ii.next]]
			ii.next++
			for j, slot := range ii.LoopVars {
				v := refZ(e.keys[j].Z)
				if IsManagedType(ii.LoopVarTypes[j]) {
					assignManaged(frame, slot, v)
				} else {
					frame[slot] = v
				}
			}

		case OpNextTableIterValVarVVV:
			ii := frame[z.V2].Iter()
			if ii.next >= len(ii.tblKeys) {
				next = z.V3
				break
			}
			e := ii.tbl.entries[ii.tblKeys[ii.next]]
			ii.next++
			for j, slot := range ii.LoopVars {
				v := refZ(e.keys[j].Z)
				if IsManagedType(ii.LoopVarTypes[j]) {
					assignManaged(frame, slot, v)
				} else {
					frame[slot] = v
				}
			}
			v := refZ(e.val.Z)
			if z.IsManaged {
				assignManaged(frame, z.V1, v)
			} else {
				frame[z.V1] = v
			}

		case OpNextVectorIterVVV:
			ii := frame[z.V2].Iter()
			if ii.next >= ii.vec.Len() {
				next = z.V3
				break
			}
			frame[z.V1].SetCount(uint64(ii.next))
			ii.next++

		case OpNextStringIterVVV:
			ii := frame[z.V2].Iter()
			if ii.next >= ii.str.Len() {
				next = z.V3
				break
			}
			ch := NewStringValBytes([]byte{ii.str.B[ii.next]})
			ii.next++
			assignManaged(frame, z.V1, ManagedZVal(ch))

		case OpEndLoopV:
			frame[z.V1].SetIter(nil)

		// --- Assignment ---
		case OpAssignVV:
			frame[z.V1].num = frame[z.V2].num

		case OpAssignManagedVV:
			assignManaged(frame, z.V1, refZ(frame[z.V2]))

		case OpAssignConstVC:
			frame[z.V1].num = z.C.num

		case OpAssignManagedConstVC:
			assignManaged(frame, z.V1, refZ(z.C))

		case OpAssignAnyVV:
			av := NewAnyVal(Val{T: z.T, Z: frame[z.V2]})
			assignManaged(frame, z.V1, ManagedZVal(av))

		case OpAssignAnyVC:
			av := NewAnyVal(Val{T: z.CType, Z: z.C})
			assignManaged(frame, z.V1, ManagedZVal(av))

		case OpCastAnyVV:
			av := frame[z.V2].AnyVal()
			if !SameType(av.V.T, z.T) {
				err = fmt.Errorf("run-time type clash (%s/%s)",
					av.V.T.Tag, z.T.Tag)
				break
			}
			v := refZ(av.V.Z)
			if z.IsManaged {
				assignManaged(frame, z.V1, v)
			} else {
				frame[z.V1] = v
			}

		case OpBranchIfNotTypeVV:
			av := frame[z.V1].AnyVal()
			if !SameType(av.V.T, z.T) {
				next = z.V2
			}

		// --- Interpreter-frame transfer ---
		case OpLoadValVV:
			frame[z.V1].num = f.Slots[z.V2].Z.num

		case OpLoadManagedValVV:
			assignManaged(frame, z.V1, refZ(f.Slots[z.V2].Z))

		case OpStoreValVV:
			f.SetSlot(z.V2, Val{T: z.T, Z: frame[z.V1]})

		case OpStoreAnyValVV:
			av := frame[z.V1].AnyVal()
			f.SetSlot(z.V2, av.V)

		// --- Globals ---
		case OpLoadGlobalVi:
			if globalState[z.V2] == GlobalUnloaded {
				frame[z.V1].num = b.Globals[z.V2].Var.Get().Z.num
				globalState[z.V2] = GlobalClean
			}

		case OpLoadManagedGlobalVi:
			if globalState[z.V2] == GlobalUnloaded {
				assignManaged(frame, z.V1, refZ(b.Globals[z.V2].Var.Get().Z))
				globalState[z.V2] = GlobalClean
			}

		// --- Integer arithmetic ---
		case OpAddIntVVV:
			frame[z.V1].SetInt(frame[z.V2].Int() + frame[z.V3].Int())
		case OpAddIntVVC:
			frame[z.V1].SetInt(frame[z.V2].Int() + z.C.Int())
		case OpSubIntVVV:
			frame[z.V1].SetInt(frame[z.V2].Int() - frame[z.V3].Int())
		case OpSubIntVVC:
			frame[z.V1].SetInt(frame[z.V2].Int() - z.C.Int())
		case OpSubIntVCV:
			frame[z.V1].SetInt(z.C.Int() - frame[z.V2].Int())
		case OpMulIntVVV:
			frame[z.V1].SetInt(frame[z.V2].Int() * frame[z.V3].Int())
		case OpMulIntVVC:
			frame[z.V1].SetInt(frame[z.V2].Int() * z.C.Int())
		case OpDivIntVVV:
			if frame[z.V3].Int() == 0 {
				err = fmt.Errorf("division by zero")
				break
			}
			frame[z.V1].SetInt(frame[z.V2].Int() / frame[z.V3].Int())
		case OpDivIntVVC:
			if z.C.Int() == 0 {
				err = fmt.Errorf("division by zero")
				break
			}
			frame[z.V1].SetInt(frame[z.V2].Int() / z.C.Int())
		case OpDivIntVCV:
			if frame[z.V2].Int() == 0 {
				err = fmt.Errorf("division by zero")
				break
			}
			frame[z.V1].SetInt(z.C.Int() / frame[z.V2].Int())
		case OpModIntVVV:
			if frame[z.V3].Int() == 0 {
				err = fmt.Errorf("modulo by zero")
				break
			}
			frame[z.V1].SetInt(frame[z.V2].Int() % frame[z.V3].Int())
		case OpModIntVVC:
			if z.C.Int() == 0 {
				err = fmt.Errorf("modulo by zero")
				break
			}
			frame[z.V1].SetInt(frame[z.V2].Int() % z.C.Int())
		case OpModIntVCV:
			if frame[z.V2].Int() == 0 {
				err = fmt.Errorf("modulo by zero")
				break
			}
			frame[z.V1].SetInt(z.C.Int() % frame[z.V2].Int())

		// --- Count arithmetic ---
		case OpAddCountVVV:
			frame[z.V1].SetCount(frame[z.V2].Count() + frame[z.V3].Count())
		case OpAddCountVVC:
			frame[z.V1].SetCount(frame[z.V2].Count() + z.C.Count())
		case OpSubCountVVV:
			frame[z.V1].SetCount(frame[z.V2].Count() - frame[z.V3].Count())
		case OpSubCountVVC:
			frame[z.V1].SetCount(frame[z.V2].Count() - z.C.Count())
		case OpSubCountVCV:
			frame[z.V1].SetCount(z.C.Count() - frame[z.V2].Count())
		case OpMulCountVVV:
			frame[z.V1].SetCount(frame[z.V2].Count() * frame[z.V3].Count())
		case OpMulCountVVC:
			frame[z.V1].SetCount(frame[z.V2].Count() * z.C.Count())
		case OpDivCountVVV:
			if frame[z.V3].Count() == 0 {
				err = fmt.Errorf("division by zero")
				break
			}
			frame[z.V1].SetCount(frame[z.V2].Count() / frame[z.V3].Count())
		case OpDivCountVVC:
			if z.C.Count() == 0 {
				err = fmt.Errorf("division by zero")
				break
			}
			frame[z.V1].SetCount(frame[z.V2].Count() / z.C.Count())
		case OpDivCountVCV:
			if frame[z.V2].Count() == 0 {
				err = fmt.Errorf("division by zero")
				break
			}
			frame[z.V1].SetCount(z.C.Count() / frame[z.V2].Count())
		case OpModCountVVV:
			if frame[z.V3].Count() == 0 {
				err = fmt.Errorf("modulo by zero")
				break
			}
			frame[z.V1].SetCount(frame[z.V2].Count() % frame[z.V3].Count())
		case OpModCountVVC:
			if z.C.Count() == 0 {
				err = fmt.Errorf("modulo by zero")
				break
			}
			frame[z.V1].SetCount(frame[z.V2].Count() % z.C.Count())
		case OpModCountVCV:
			if frame[z.V2].Count() == 0 {
				err = fmt.Errorf("modulo by zero")
				break
			}
			frame[z.V1].SetCount(z.C.Count() % frame[z.V2].Count())

		// --- Double arithmetic ---
		case OpAddDoubleVVV:
			frame[z.V1].SetDouble(frame[z.V2].Double() + frame[z.V3].Double())
		case OpAddDoubleVVC:
			frame[z.V1].SetDouble(frame[z.V2].Double() + z.C.Double())
		case OpSubDoubleVVV:
			frame[z.V1].SetDouble(frame[z.V2].Double() - frame[z.V3].Double())
		case OpSubDoubleVVC:
			frame[z.V1].SetDouble(frame[z.V2].Double() - z.C.Double())
		case OpSubDoubleVCV:
			frame[z.V1].SetDouble(z.C.Double() - frame[z.V2].Double())
		case OpMulDoubleVVV:
			frame[z.V1].SetDouble(frame[z.V2].Double() * frame[z.V3].Double())
		case OpMulDoubleVVC:
			frame[z.V1].SetDouble(frame[z.V2].Double() * z.C.Double())
		case OpDivDoubleVVV:
			frame[z.V1].SetDouble(frame[z.V2].Double() / frame[z.V3].Double())
		case OpDivDoubleVVC:
			frame[z.V1].SetDouble(frame[z.V2].Double() / z.C.Double())
		case OpDivDoubleVCV:
			frame[z.V1].SetDouble(z.C.Double() / frame[z.V2].Double())

		case OpNegIntVV:
			frame[z.V1].SetInt(-frame[z.V2].Int())
		case OpNegDoubleVV:
			frame[z.V1].SetDouble(-frame[z.V2].Double())
		case OpNotVV:
			frame[z.V1].SetBool(!frame[z.V2].Bool())

		// --- Vectorized arithmetic ---
		case OpAddVecIntVVV, OpAddVecCountVVV, OpAddVecDoubleVVV,
			OpSubVecIntVVV, OpSubVecCountVVV, OpSubVecDoubleVVV,
			OpMulVecIntVVV, OpMulVecCountVVV, OpMulVecDoubleVVV:
			res := vecExec(z.Op, z.T, frame[z.V2].VectorVal(), frame[z.V3].VectorVal())
			assignManaged(frame, z.V1, ManagedZVal(res))

		// --- Numeric coercions ---
		case OpCoerceDIVV:
			frame[z.V1].SetDouble(float64(frame[z.V2].Int()))
		case OpCoerceDUVV:
			frame[z.V1].SetDouble(float64(frame[z.V2].Count()))
		case OpCoerceIDVV:
			frame[z.V1].SetInt(int64(frame[z.V2].Double()))
		case OpCoerceIUVV:
			frame[z.V1].SetInt(int64(frame[z.V2].Count()))
		case OpCoerceUDVV:
			frame[z.V1].SetCount(uint64(frame[z.V2].Double()))
		case OpCoerceUIVV:
			frame[z.V1].SetCount(uint64(frame[z.V2].Int()))

		case OpCoerceDIVecVV, OpCoerceDUVecVV, OpCoerceIDVecVV,
			OpCoerceIUVecVV, OpCoerceUDVecVV, OpCoerceUIVecVV:
			res := vecCoerce(z.Op, z.T, frame[z.V2].VectorVal())
			assignManaged(frame, z.V1, ManagedZVal(res))

		// --- Comparisons ---
		case OpEqIntVVV:
			frame[z.V1].SetBool(frame[z.V2].Int() == frame[z.V3].Int())
		case OpEqIntVVC:
			frame[z.V1].SetBool(frame[z.V2].Int() == z.C.Int())
		case OpNeIntVVV:
			frame[z.V1].SetBool(frame[z.V2].Int() != frame[z.V3].Int())
		case OpNeIntVVC:
			frame[z.V1].SetBool(frame[z.V2].Int() != z.C.Int())
		case OpLtIntVVV:
			frame[z.V1].SetBool(frame[z.V2].Int() < frame[z.V3].Int())
		case OpLtIntVVC:
			frame[z.V1].SetBool(frame[z.V2].Int() < z.C.Int())
		case OpLtIntVCV:
			frame[z.V1].SetBool(z.C.Int() < frame[z.V2].Int())
		case OpLeIntVVV:
			frame[z.V1].SetBool(frame[z.V2].Int() <= frame[z.V3].Int())
		case OpLeIntVVC:
			frame[z.V1].SetBool(frame[z.V2].Int() <= z.C.Int())
		case OpLeIntVCV:
			frame[z.V1].SetBool(z.C.Int() <= frame[z.V2].Int())

		case OpEqCountVVV:
			frame[z.V1].SetBool(frame[z.V2].Count() == frame[z.V3].Count())
		case OpEqCountVVC:
			frame[z.V1].SetBool(frame[z.V2].Count() == z.C.Count())
		case OpNeCountVVV:
			frame[z.V1].SetBool(frame[z.V2].Count() != frame[z.V3].Count())
		case OpNeCountVVC:
			frame[z.V1].SetBool(frame[z.V2].Count() != z.C.Count())
		case OpLtCountVVV:
			frame[z.V1].SetBool(frame[z.V2].Count() < frame[z.V3].Count())
		case OpLtCountVVC:
			frame[z.V1].SetBool(frame[z.V2].Count() < z.C.Count())
		case OpLtCountVCV:
			frame[z.V1].SetBool(z.C.Count() < frame[z.V2].Count())
		case OpLeCountVVV:
			frame[z.V1].SetBool(frame[z.V2].Count() <= frame[z.V3].Count())
		case OpLeCountVVC:
			frame[z.V1].SetBool(frame[z.V2].Count() <= z.C.Count())
		case OpLeCountVCV:
			frame[z.V1].SetBool(z.C.Count() <= frame[z.V2].Count())

		case OpEqDoubleVVV:
			frame[z.V1].SetBool(frame[z.V2].Double() == frame[z.V3].Double())
		case OpEqDoubleVVC:
			frame[z.V1].SetBool(frame[z.V2].Double() == z.C.Double())
		case OpNeDoubleVVV:
			frame[z.V1].SetBool(frame[z.V2].Double() != frame[z.V3].Double())
		case OpNeDoubleVVC:
			frame[z.V1].SetBool(frame[z.V2].Double() != z.C.Double())
		case OpLtDoubleVVV:
			frame[z.V1].SetBool(frame[z.V2].Double() < frame[z.V3].Double())
		case OpLtDoubleVVC:
			frame[z.V1].SetBool(frame[z.V2].Double() < z.C.Double())
		case OpLtDoubleVCV:
			frame[z.V1].SetBool(z.C.Double() < frame[z.V2].Double())
		case OpLeDoubleVVV:
			frame[z.V1].SetBool(frame[z.V2].Double() <= frame[z.V3].Double())
		case OpLeDoubleVVC:
			frame[z.V1].SetBool(frame[z.V2].Double() <= z.C.Double())
		case OpLeDoubleVCV:
			frame[z.V1].SetBool(z.C.Double() <= frame[z.V2].Double())

		case OpEqStrVVV:
			frame[z.V1].SetBool(bytes.Equal(frame[z.V2].StringVal().B, frame[z.V3].StringVal().B))
		case OpEqStrVVC:
			frame[z.V1].SetBool(bytes.Equal(frame[z.V2].StringVal().B, z.C.StringVal().B))
		case OpNeStrVVV:
			frame[z.V1].SetBool(!bytes.Equal(frame[z.V2].StringVal().B, frame[z.V3].StringVal().B))
		case OpNeStrVVC:
			frame[z.V1].SetBool(!bytes.Equal(frame[z.V2].StringVal().B, z.C.StringVal().B))
		case OpLtStrVVV:
			frame[z.V1].SetBool(bytes.Compare(frame[z.V2].StringVal().B, frame[z.V3].StringVal().B) < 0)
		case OpLtStrVVC:
			frame[z.V1].SetBool(bytes.Compare(frame[z.V2].StringVal().B, z.C.StringVal().B) < 0)
		case OpLtStrVCV:
			frame[z.V1].SetBool(bytes.Compare(z.C.StringVal().B, frame[z.V2].StringVal().B) < 0)
		case OpLeStrVVV:
			frame[z.V1].SetBool(bytes.Compare(frame[z.V2].StringVal().B, frame[z.V3].StringVal().B) <= 0)
		case OpLeStrVVC:
			frame[z.V1].SetBool(bytes.Compare(frame[z.V2].StringVal().B, z.C.StringVal().B) <= 0)
		case OpLeStrVCV:
			frame[z.V1].SetBool(bytes.Compare(z.C.StringVal().B, frame[z.V2].StringVal().B) <= 0)

		// --- String concatenation ---
		case OpCatStrVVV:
			assignManaged(frame, z.V1, ManagedZVal(catStr(frame[z.V2].StringVal(), frame[z.V3].StringVal())))
		case OpCatStrVVC:
			assignManaged(frame, z.V1, ManagedZVal(catStr(frame[z.V2].StringVal(), z.C.StringVal())))
		case OpCatStrVCV:
			assignManaged(frame, z.V1, ManagedZVal(catStr(z.C.StringVal(), frame[z.V2].StringVal())))

		// --- Membership ---
		case OpPInSVVV:
			frame[z.V1].SetBool(frame[z.V2].PatternVal().RE.Match(frame[z.V3].StringVal().B))
		case OpPInSVVC:
			frame[z.V1].SetBool(frame[z.V2].PatternVal().RE.Match(z.C.StringVal().B))
		case OpPInSVCV:
			frame[z.V1].SetBool(z.C.PatternVal().RE.Match(frame[z.V2].StringVal().B))
		case OpSInSVVV:
			frame[z.V1].SetBool(bytes.Contains(frame[z.V3].StringVal().B, frame[z.V2].StringVal().B))
		case OpSInSVVC:
			frame[z.V1].SetBool(bytes.Contains(z.C.StringVal().B, frame[z.V2].StringVal().B))
		case OpSInSVCV:
			frame[z.V1].SetBool(bytes.Contains(frame[z.V2].StringVal().B, z.C.StringVal().B))
		case OpAInSVVV:
			frame[z.V1].SetBool(frame[z.V3].SubNetVal().P.Contains(frame[z.V2].AddrVal().A))
		case OpAInSVVC:
			frame[z.V1].SetBool(z.C.SubNetVal().P.Contains(frame[z.V2].AddrVal().A))
		case OpAInSVCV:
			frame[z.V1].SetBool(frame[z.V2].SubNetVal().P.Contains(z.C.AddrVal().A))

		case OpValIsInTableVVV:
			frame[z.V1].SetBool(frame[z.V3].TableVal().Contains([]Val{{T: z.T, Z: frame[z.V2]}}))
		case OpConstIsInTableVCV:
			frame[z.V1].SetBool(frame[z.V2].TableVal().Contains([]Val{{T: z.CType, Z: z.C}}))

		case OpVal2IsInTableVVVV:
			t := frame[z.V4].TableVal()
			frame[z.V1].SetBool(t.Contains([]Val{
				{T: t.T.Indices[0], Z: frame[z.V2]},
				{T: t.T.Indices[1], Z: frame[z.V3]},
			}))
		case OpVal2IsInTableVVVC:
			t := frame[z.V3].TableVal()
			frame[z.V1].SetBool(t.Contains([]Val{
				{T: t.T.Indices[0], Z: frame[z.V2]},
				{T: t.T.Indices[1], Z: z.C},
			}))
		case OpVal2IsInTableVVCV:
			t := frame[z.V3].TableVal()
			frame[z.V1].SetBool(t.Contains([]Val{
				{T: t.T.Indices[0], Z: z.C},
				{T: t.T.Indices[1], Z: frame[z.V2]},
			}))

		case OpListIsInTableVV:
			t := frame[z.V2].TableVal()
			frame[z.V1].SetBool(t.Contains(auxBorrowedVals(frame, z.Aux)))
		case OpListIsInTableVC:
			t := z.C.TableVal()
			frame[z.V1].SetBool(t.Contains(auxBorrowedVals(frame, z.Aux)))
		case OpIndexIsInVectorVV:
			idx := auxZVal(frame, z.Aux.Elems[0]).Count()
			frame[z.V1].SetBool(idx < uint64(frame[z.V2].VectorVal().Len()))
		case OpIndexIsInVectorVC:
			idx := auxZVal(frame, z.Aux.Elems[0]).Count()
			frame[z.V1].SetBool(idx < uint64(z.C.VectorVal().Len()))

		// --- Indexing ---
		case OpTableIndex1VVV, OpTableIndex1ManagedVVV:
			v, ok := frame[z.V2].TableVal().Lookup([]Val{{T: z.T, Z: frame[z.V3]}})
			if !ok {
				err = fmt.Errorf("no such index")
				break
			}
			if z.Op == OpTableIndex1ManagedVVV {
				assignManaged(frame, z.V1, refZ(v.Z))
			} else {
				frame[z.V1].num = v.Z.num
			}

		case OpTableIndex1VVC, OpTableIndex1ManagedVVC:
			v, ok := frame[z.V2].TableVal().Lookup([]Val{{T: z.CType, Z: z.C}})
			if !ok {
				err = fmt.Errorf("no such index")
				break
			}
			if z.Op == OpTableIndex1ManagedVVC {
				assignManaged(frame, z.V1, refZ(v.Z))
			} else {
				frame[z.V1].num = v.Z.num
			}

		case OpTableIndexVV:
			v, ok := frame[z.V2].TableVal().Lookup(auxBorrowedVals(frame, z.Aux))
			if !ok {
				err = fmt.Errorf("no such index")
				break
			}
			if z.IsManaged {
				assignManaged(frame, z.V1, refZ(v.Z))
			} else {
				frame[z.V1].num = v.Z.num
			}

		case OpIndexVecVVV, OpIndexVecCVVV:
			vec := frame[z.V2].VectorVal()
			var idx uint64
			if z.Op == OpIndexVecVVV {
				idx = frame[z.V3].Count()
			} else {
				idx = uint64(z.V3)
			}
			if idx >= uint64(vec.Len()) {
				err = fmt.Errorf("index out of bounds")
				break
			}
			if z.IsManaged {
				assignManaged(frame, z.V1, refZ(vec.Elems[idx]))
			} else {
				frame[z.V1].num = vec.Elems[idx].num
			}

		case OpIndexVecSliceVV:
			vec := frame[z.V2].VectorVal()
			lo, hi := sliceBounds(frame, z.Aux, vec.Len())
			res := NewVectorVal(vec.T)
			for i := lo; i < hi; i++ {
				et := vec.T.Yield
				v := vec.Elems[i]
				if IsManagedType(et) {
					v = refZ(v)
				}
				res.Elems = append(res.Elems, v)
			}
			assignManaged(frame, z.V1, ManagedZVal(res))

		case OpIndexStringVVV, OpIndexStringCVVV:
			s := frame[z.V2].StringVal()
			var idx uint64
			if z.Op == OpIndexStringVVV {
				idx = frame[z.V3].Count()
			} else {
				idx = uint64(z.V3)
			}
			var res *StringVal
			if idx < uint64(s.Len()) {
				res = NewStringValBytes([]byte{s.B[idx]})
			} else {
				res = NewStringVal("")
			}
			assignManaged(frame, z.V1, ManagedZVal(res))

		case OpIndexStringSliceVV:
			s := frame[z.V2].StringVal()
			lo, hi := sliceBounds(frame, z.Aux, s.Len())
			assignManaged(frame, z.V1,
				ManagedZVal(NewStringValBytes(append([]byte(nil), s.B[lo:hi]...))))

		// --- Record fields ---
		case OpFieldVVi:
			r := frame[z.V2].RecordVal()
			if !r.IsSet[z.V3] {
				err = fmt.Errorf("field value missing: $%s", r.T.Fields[z.V3].Name)
				break
			}
			if z.IsManaged {
				assignManaged(frame, z.V1, refZ(r.Fields[z.V3]))
			} else {
				frame[z.V1].num = r.Fields[z.V3].num
			}

		case OpHasFieldVVi:
			frame[z.V1].SetBool(frame[z.V2].RecordVal().IsSet[z.V3])

		case OpFieldAssignViV:
			r := frame[z.V1].RecordVal()
			v := frame[z.V3]
			if IsManagedType(r.T.Fields[z.V2].T) {
				v = refZ(v)
			}
			r.SetField(z.V2, v)

		case OpFieldAssignViC:
			r := frame[z.V1].RecordVal()
			v := z.C
			if IsManagedType(r.T.Fields[z.V2].T) {
				v = refZ(v)
			}
			r.SetField(z.V2, v)

		// --- Aggregate element assignment ---
		case OpVectorElemAssignVVV:
			vecElemAssign(frame[z.V1].VectorVal(), frame[z.V2].Count(), frame[z.V3])
		case OpVectorElemAssignVVC:
			vecElemAssign(frame[z.V1].VectorVal(), frame[z.V2].Count(), z.C)
		case OpVectorElemAssignViV:
			vecElemAssign(frame[z.V1].VectorVal(), uint64(z.V2), frame[z.V3])

		case OpVectorSliceAssignVV:
			dst := frame[z.V1].VectorVal()
			src := frame[z.V2].VectorVal()
			lo, hi := sliceBounds(frame, z.Aux, dst.Len())
			for i := lo; i < hi && i-lo < src.Len(); i++ {
				v := src.Elems[i-lo]
				if IsManagedType(dst.T.Yield) {
					v = refZ(v)
				}
				dst.SetElem(i, v)
			}

		case OpTableElemAssignVV:
			frame[z.V1].TableVal().Insert(auxBorrowedVals(frame, z.Aux),
				Val{T: z.T, Z: frame[z.V2]})
		case OpTableElemAssignVC:
			frame[z.V1].TableVal().Insert(auxBorrowedVals(frame, z.Aux),
				Val{T: z.CType, Z: z.C})

		// --- Construction ---
		case OpConstructTableVV:
			tv := NewTableVal(z.T)
			width := z.V2
			for i := 0; i+width < z.Aux.N(); i += width + 1 {
				keys := make([]Val, width)
				for j := 0; j < width; j++ {
					keys[j] = auxVal(frame, z.Aux.Elems[i+j])
				}
				tv.Insert(keys, auxVal(frame, z.Aux.Elems[i+width]))
			}
			assignManaged(frame, z.V1, ManagedZVal(tv))

		case OpConstructSetV:
			tv := NewTableVal(z.T)
			width := len(z.T.Indices)
			for i := 0; i+width-1 < z.Aux.N(); i += width {
				keys := make([]Val, width)
				for j := 0; j < width; j++ {
					keys[j] = auxVal(frame, z.Aux.Elems[i+j])
				}
				tv.Insert(keys, Val{})
			}
			assignManaged(frame, z.V1, ManagedZVal(tv))

		case OpConstructRecordV:
			rv := NewRecordVal(z.T)
			for i, e := range z.Aux.Elems {
				v := auxZVal(frame, e)
				if IsManagedType(z.T.Fields[i].T) {
					v = refZ(v)
				}
				rv.SetField(i, v)
			}
			assignManaged(frame, z.V1, ManagedZVal(rv))

		case OpConstructVectorV:
			vv := NewVectorVal(z.T)
			for i, e := range z.Aux.Elems {
				v := auxZVal(frame, e)
				if IsManagedType(z.T.Yield) {
					v = refZ(v)
				}
				vv.SetElem(i, v)
			}
			assignManaged(frame, z.V1, ManagedZVal(vv))

		case OpInitRecordV:
			assignManaged(frame, z.V1, ManagedZVal(NewRecordVal(z.T)))
		case OpInitVectorV:
			assignManaged(frame, z.V1, ManagedZVal(NewVectorVal(z.T)))
		case OpInitTableV:
			assignManaged(frame, z.V1, ManagedZVal(NewTableVal(z.T)))

		// --- Aggregate coercions and type tests ---
		case OpRecordCoerceVVV:
			src := frame[z.V2].RecordVal()
			dst := NewRecordVal(z.T)
			for i := 0; i < z.V3 && i < len(z.Aux.Elems); i++ {
				from := z.Aux.Elems[i].Slot
				if from < 0 || !src.IsSet[from] {
					continue
				}
				v := src.Fields[from]
				if IsManagedType(z.T.Fields[i].T) {
					v = refZ(v)
				}
				dst.SetField(i, v)
			}
			assignManaged(frame, z.V1, ManagedZVal(dst))

		case OpTableCoerceVV:
			src := frame[z.V2].TableVal()
			dst := NewTableVal(z.T)
			for _, k := range src.order {
				e := src.entries[k]
				dst.Insert(e.keys, e.val)
			}
			assignManaged(frame, z.V1, ManagedZVal(dst))

		case OpVectorCoerceVV:
			src := frame[z.V2].VectorVal()
			dst := NewVectorVal(z.T)
			for i := range src.Elems {
				v := src.Elems[i]
				if IsManagedType(z.T.Yield) {
					v = refZ(v)
				}
				dst.SetElem(i, v)
			}
			assignManaged(frame, z.V1, ManagedZVal(dst))

		case OpIsVV:
			if IsAny(z.T2) {
				frame[z.V1].SetBool(SameType(frame[z.V2].AnyVal().V.T, z.T))
			} else {
				frame[z.V1].SetBool(SameType(z.T2, z.T))
			}

		// --- Calls ---
		case OpCall0X:
			var res Val
			res, err = z.Func.Call(nil)
			if err == nil {
				res.ReleaseVal()
			}
		case OpCall0V, OpCall0ManagedV:
			var res Val
			res, err = z.Func.Call(nil)
			if err == nil {
				storeCallResult(frame, z, z.V1, res, z.Op == OpCall0ManagedV)
			}
		case OpCall1V:
			var res Val
			res, err = z.Func.Call([]Val{Val{T: z.T, Z: frame[z.V1]}.RefVal()})
			if err == nil {
				res.ReleaseVal()
			}
		case OpCall1C:
			var res Val
			res, err = z.Func.Call([]Val{Val{T: z.CType, Z: z.C}.RefVal()})
			if err == nil {
				res.ReleaseVal()
			}
		case OpCall1VV, OpCall1ManagedVV:
			var res Val
			res, err = z.Func.Call([]Val{Val{T: z.T, Z: frame[z.V2]}.RefVal()})
			if err == nil {
				storeCallResult(frame, z, z.V1, res, z.Op == OpCall1ManagedVV)
			}
		case OpCall1VC, OpCall1ManagedVC:
			var res Val
			res, err = z.Func.Call([]Val{Val{T: z.CType, Z: z.C}.RefVal()})
			if err == nil {
				storeCallResult(frame, z, z.V1, res, z.Op == OpCall1ManagedVC)
			}
		case OpCall2c, OpCall3c, OpCall4c, OpCall5c, OpCallNc:
			args := auxVals(frame, z.Aux)
			var res Val
			res, err = z.Func.Call(args)
			releaseVals(args)
			if err == nil {
				res.ReleaseVal()
			}
		case OpCall2Vc, OpCall3Vc, OpCall4Vc, OpCall5Vc, OpCallNVc,
			OpCall2ManagedVc, OpCall3ManagedVc, OpCall4ManagedVc,
			OpCall5ManagedVc, OpCallNManagedVc:
			args := auxVals(frame, z.Aux)
			var res Val
			res, err = z.Func.Call(args)
			releaseVals(args)
			if err == nil {
				storeCallResult(frame, z, z.V1, res, z.IsManaged)
			}
		case OpIndCallNVc:
			args := auxVals(frame, z.Aux)
			var res Val
			res, err = frame[z.V1].FuncVal().F.Call(args)
			releaseVals(args)
			if err == nil {
				res.ReleaseVal()
			}
		case OpIndCallNVVc, OpIndCallNManagedVVc:
			args := auxVals(frame, z.Aux)
			var res Val
			res, err = frame[z.V2].FuncVal().F.Call(args)
			releaseVals(args)
			if err == nil {
				storeCallResult(frame, z, z.V1, res, z.Op == OpIndCallNManagedVVc)
			}

		// --- Built-in intrinsics ---
		case OpToLowerVV:
			assignManaged(frame, z.V1, ManagedZVal(zamToLower(frame[z.V2].StringVal())))

		case OpSubBytesVVVV:
			assignManaged(frame, z.V1, ManagedZVal(
				zamSubBytes(frame[z.V2].StringVal(), frame[z.V3].Count(), frame[z.V4].Int())))
		case OpSubBytesVVVi:
			assignManaged(frame, z.V1, ManagedZVal(
				zamSubBytes(frame[z.V2].StringVal(), frame[z.V3].Count(), int64(z.V4))))
		case OpSubBytesVViV:
			assignManaged(frame, z.V1, ManagedZVal(
				zamSubBytes(frame[z.V2].StringVal(), uint64(z.V4), frame[z.V3].Int())))
		case OpSubBytesVVii:
			assignManaged(frame, z.V1, ManagedZVal(
				zamSubBytes(frame[z.V2].StringVal(), uint64(z.V3), int64(z.V4))))
		case OpSubBytesVVVC:
			assignManaged(frame, z.V1, ManagedZVal(
				zamSubBytes(z.C.StringVal(), frame[z.V2].Count(), frame[z.V3].Int())))
		case OpSubBytesVViC:
			assignManaged(frame, z.V1, ManagedZVal(
				zamSubBytes(z.C.StringVal(), frame[z.V2].Count(), int64(z.V3))))
		case OpSubBytesViVC:
			assignManaged(frame, z.V1, ManagedZVal(
				zamSubBytes(z.C.StringVal(), uint64(z.V3), frame[z.V2].Int())))
		case OpSubBytesViiC:
			assignManaged(frame, z.V1, ManagedZVal(
				zamSubBytes(z.C.StringVal(), uint64(z.V2), int64(z.V3))))

		case OpStrStrVVV:
			frame[z.V1].SetCount(zamStrStr(frame[z.V2].StringVal(), frame[z.V3].StringVal()))
		case OpStrStrVVC:
			frame[z.V1].SetCount(zamStrStr(frame[z.V2].StringVal(), z.C.StringVal()))
		case OpStrStrVCV:
			frame[z.V1].SetCount(zamStrStr(z.C.StringVal(), frame[z.V2].StringVal()))

		case OpLogWriteVVV:
			ok := false
			ok, err = logWrite(host, Val{T: BaseType(TagEnum), Z: frame[z.V2]},
				Val{T: z.T, Z: frame[z.V3]})
			frame[z.V1].SetBool(ok)
		case OpLogWriteVVC:
			ok := false
			ok, err = logWrite(host, Val{T: z.CType, Z: z.C}, Val{T: z.T, Z: frame[z.V2]})
			frame[z.V1].SetBool(ok)
		case OpLogWriteVV:
			_, err = logWrite(host, Val{T: BaseType(TagEnum), Z: frame[z.V1]},
				Val{T: z.T, Z: frame[z.V2]})
		case OpLogWriteVC:
			_, err = logWrite(host, Val{T: z.CType, Z: z.C}, Val{T: z.T, Z: frame[z.V1]})

		case OpBrokerFlushLogsV:
			if host == nil || host.Log == nil {
				err = fmt.Errorf("no log manager")
				break
			}
			frame[z.V1].SetCount(uint64(host.Log.FlushLogs()))
		case OpBrokerFlushLogsX:
			if host == nil || host.Log == nil {
				err = fmt.Errorf("no log manager")
				break
			}
			host.Log.FlushLogs()

		case OpGetPortTransportProtoVV:
			frame[z.V1].SetInt(int64(PortProto(frame[z.V2].Count())))

		case OpReadingLiveTrafficV:
			frame[z.V1].SetBool(host != nil && host.Net != nil && host.Net.ReadingLiveTraffic())
		case OpReadingTracesV:
			frame[z.V1].SetBool(host != nil && host.Net != nil && host.Net.ReadingTraces())

		// --- Deferred evaluation, scheduling, events ---
		case OpWhenVV:
			if host == nil || host.Trigger == nil {
				err = fmt.Errorf("no trigger manager")
				break
			}
			host.Trigger.Defer(z.CondExpr, f, z.V1 != 0)
		case OpWhenVVVC, OpWhenVVVV:
			if host == nil || host.Trigger == nil {
				err = fmt.Errorf("no trigger manager")
				break
			}
			isReturn := z.V3 != 0
			if z.Op == OpWhenVVVV {
				isReturn = z.V4 != 0
			}
			host.Trigger.Defer(z.CondExpr, f, isReturn)

		case OpSchedule0ViH, OpScheduleViHL:
			if host == nil || host.Events == nil {
				err = fmt.Errorf("no event sink")
				break
			}
			var args []Val
			if z.Aux != nil {
				args = auxVals(frame, z.Aux)
			}
			host.Events.Schedule(frame[z.V1].Double(), z.V2 != 0, z.Event, args)
		case OpSchedule0CiH, OpScheduleCiHL:
			if host == nil || host.Events == nil {
				err = fmt.Errorf("no event sink")
				break
			}
			var args []Val
			if z.Aux != nil {
				args = auxVals(frame, z.Aux)
			}
			host.Events.Schedule(z.C.Double(), z.V1 != 0, z.Event, args)
		case OpEventHL:
			if host == nil || host.Events == nil {
				err = fmt.Errorf("no event sink")
				break
			}
			host.Events.Enqueue(z.Event, auxVals(frame, z.Aux))

		default:
			err = fmt.Errorf("unknown opcode %s", z.Op)
		}

		if prof != nil {
			prof.record(pc, z.Op, time.Since(instStart))
		}

		pc = next
	}

	// Flush dirty globals on natural exit; the compiler emits a final
	// sync, but a runtime error can leave entries dirty.
	if err == nil {
		syncGlobals()
	}

	var result Val
	if err == nil && retType != nil {
		result = ZValToVal(retZ, retType)
	}

	if b.fixedFrame == nil {
		// Free those slots for which we do explicit memory management.
		for _, s := range b.ManagedSlots {
			frame[s].Release(nil)
		}
	}

	if prof != nil {
		prof.CPUTime += time.Since(execStart)
	}

	if err != nil {
		return Val{}, flow, fmt.Errorf("%s: %w", b.FuncName, err)
	}
	return result, flow, nil
}

// auxBorrowedVals materializes an aux block as borrowed values.
func auxBorrowedVals(frame []ZVal, aux *ZInstAux) []Val {
	vals := make([]Val, aux.N())
	for i, e := range aux.Elems {
		vals[i] = auxVal(frame, e)
	}
	return vals
}

// storeCallResult latches a call's returned value (whose reference the
// engine now owns) into the destination slot.
func storeCallResult(frame []ZVal, z *ZInst, slot int, res Val, managed bool) {
	if managed {
		assignManaged(frame, slot, res.Z)
	} else {
		frame[slot].num = res.Z.num
	}
}

// vecElemAssign latches an element into a vector, growing it on demand.
func vecElemAssign(vec *VectorVal, idx uint64, v ZVal) {
	if IsManagedType(vec.T.Yield) {
		v = refZ(v)
	}
	vec.SetElem(int(idx), v)
}

// sliceBounds decodes a two-element aux block as [lo, hi) clamped to n.
func sliceBounds(frame []ZVal, aux *ZInstAux, n int) (int, int) {
	lo, hi := 0, n
	if aux != nil && aux.N() >= 1 {
		lo = int(auxZVal(frame, aux.Elems[0]).Count())
	}
	if aux != nil && aux.N() >= 2 {
		hi = int(auxZVal(frame, aux.Elems[1]).Count())
	}
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

func catStr(a, b *StringVal) *StringVal {
	out := make([]byte, 0, len(a.B)+len(b.B))
	out = append(out, a.B...)
	out = append(out, b.B...)
	return NewStringValBytes(out)
}

func logWrite(host *Host, id, columns Val) (bool, error) {
	if host == nil || host.Log == nil {
		return false, fmt.Errorf("no log manager")
	}
	return host.Log.Write(id, columns), nil
}

// vecExec evaluates a binary vectorized operation element-wise,
// returning a fresh result vector of type vt.
func vecExec(op Op, vt *Type, v2, v3 *VectorVal) *VectorVal {
	res := NewVectorVal(vt)
	n := v2.Len()
	if v3.Len() < n {
		n = v3.Len()
	}
	res.Elems = make([]ZVal, n)
	for i := 0; i < n; i++ {
		a, b := &v2.Elems[i], &v3.Elems[i]
		var out ZVal
		switch op {
		case OpAddVecIntVVV:
			out.SetInt(a.Int() + b.Int())
		case OpAddVecCountVVV:
			out.SetCount(a.Count() + b.Count())
		case OpAddVecDoubleVVV:
			out.SetDouble(a.Double() + b.Double())
		case OpSubVecIntVVV:
			out.SetInt(a.Int() - b.Int())
		case OpSubVecCountVVV:
			out.SetCount(a.Count() - b.Count())
		case OpSubVecDoubleVVV:
			out.SetDouble(a.Double() - b.Double())
		case OpMulVecIntVVV:
			out.SetInt(a.Int() * b.Int())
		case OpMulVecCountVVV:
			out.SetCount(a.Count() * b.Count())
		case OpMulVecDoubleVVV:
			out.SetDouble(a.Double() * b.Double())
		}
		res.Elems[i] = out
	}
	return res
}

// vecCoerce maps a numeric coercion over a vector.
func vecCoerce(op Op, vt *Type, src *VectorVal) *VectorVal {
	res := NewVectorVal(vt)
	res.Elems = make([]ZVal, src.Len())
	for i := range src.Elems {
		v := &src.Elems[i]
		var out ZVal
		switch op {
		case OpCoerceDIVecVV:
			out.SetDouble(float64(v.Int()))
		case OpCoerceDUVecVV:
			out.SetDouble(float64(v.Count()))
		case OpCoerceIDVecVV:
			out.SetInt(int64(v.Double()))
		case OpCoerceIUVecVV:
			out.SetInt(int64(v.Count()))
		case OpCoerceUDVecVV:
			out.SetCount(uint64(v.Double()))
		case OpCoerceUIVecVV:
			out.SetCount(uint64(v.Int()))
		}
		res.Elems[i] = out
	}
	return res
}
