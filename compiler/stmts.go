package compiler

import (
	"github.com/wkleinhenz/zeek/vm"
)

// ---------------------------------------------------------------------------
// Statement lowering
// ---------------------------------------------------------------------------

func (c *ZAM) compileStmt(s Stmt) CompiledStmt {
	switch st := s.(type) {
	case *StmtList:
		last := c.emptyStmt()
		for _, sub := range st.Stmts {
			last = c.compileStmt(sub)
		}
		return last

	case *NullStmt:
		return c.emptyStmt()

	case *ExprStmt:
		return c.compileExprStmt(st)

	case *IfStmt:
		return c.ifElse(st.Cond, st.S1, st.S2)

	case *WhileStmt:
		return c.while(st.CondStmt, st.Cond, st.Body)

	case *LoopStmt:
		return c.loop(st.Body)

	case *ForStmt:
		return c.forLoop(st)

	case *SwitchStmt:
		return c.switchStmt(st)

	case *ReturnStmt:
		return c.returnStmt(st)

	case *CatchReturnStmt:
		return c.catchReturn(st)

	case *BreakStmt:
		if len(c.breaks) == 0 {
			c.errorf("\"break\" used without an enclosing \"for\" or \"switch\"")
			return c.errorStmt()
		}
		return c.genGoTo(&c.breaks)

	case *NextStmt:
		if len(c.nexts) == 0 {
			c.errorf("\"next\" used without an enclosing \"for\"")
			return c.errorStmt()
		}
		return c.genGoTo(&c.nexts)

	case *FallthroughStmt:
		if len(c.fallthroughs) == 0 {
			c.errorf("\"fallthrough\" used without an enclosing \"switch\"")
			return c.errorStmt()
		}
		return c.genGoTo(&c.fallthroughs)

	case *InitStmt:
		return c.initStmt(st)

	case *WhenStmt:
		return c.when(st)

	case *ScheduleStmt:
		return c.schedule(st)

	case *EventStmt:
		return c.event(st)

	default:
		c.internalError("unknown statement type %T", s)
		return c.errorStmt()
	}
}

func (c *ZAM) initStmt(st *InitStmt) CompiledStmt {
	id := st.ID
	var op vm.Op
	switch id.T.Tag {
	case vm.TagRecord:
		op = vm.OpInitRecordV
	case vm.TagVector:
		op = vm.OpInitVectorV
	case vm.TagTable:
		op = vm.OpInitTableV
	default:
		c.internalError("bad aggregate type in initialization")
		return c.errorStmt()
	}

	z := vm.NewInst(op, c.frameSlotID(id))
	z.SetType(id.T)
	return c.addInst(z)
}

// ---------------------------------------------------------------------------
// Conditionals
// ---------------------------------------------------------------------------

// condNegation pairs each specialized predicate branch with its twin,
// so inverting a conditional is a single opcode swap.
var condNegation = map[vm.Op]vm.Op{
	vm.OpIfVV:    vm.OpIfNotVV,
	vm.OpIfNotVV: vm.OpIfVV,

	vm.OpHasFieldCondVVV:    vm.OpNotHasFieldCondVVV,
	vm.OpNotHasFieldCondVVV: vm.OpHasFieldCondVVV,

	vm.OpValIsInTableCondVVV:    vm.OpValIsNotInTableCondVVV,
	vm.OpValIsNotInTableCondVVV: vm.OpValIsInTableCondVVV,

	vm.OpConstIsInTableCondVVC:    vm.OpConstIsNotInTableCondVVC,
	vm.OpConstIsNotInTableCondVVC: vm.OpConstIsInTableCondVVC,

	vm.OpVal2IsInTableCondVVVV:    vm.OpVal2IsNotInTableCondVVVV,
	vm.OpVal2IsNotInTableCondVVVV: vm.OpVal2IsInTableCondVVVV,

	vm.OpVal2IsInTableCondVVVC:    vm.OpVal2IsNotInTableCondVVVC,
	vm.OpVal2IsNotInTableCondVVVC: vm.OpVal2IsInTableCondVVVC,

	vm.OpVal2IsInTableCondVVCV:    vm.OpVal2IsNotInTableCondVVCV,
	vm.OpVal2IsNotInTableCondVVCV: vm.OpVal2IsInTableCondVVCV,
}

func (c *ZAM) ifElse(e Expr, s1, s2 Stmt) CompiledStmt {
	condStmt := c.emptyStmt()
	branchV := 0

	if n, ok := e.(*NameExpr); ok {
		var op vm.Op
		switch {
		case s1 != nil && s2 != nil:
			op = vm.OpIfElseVV
		case s1 != nil:
			op = vm.OpIfVV
		default:
			op = vm.OpIfNotVV
		}
		condStmt = c.addInst(vm.NewInst(op, c.frameSlot(n), 0))
		branchV = 2
	} else {
		condStmt, branchV = c.genCond(e)
	}

	if s1 != nil {
		s1End := c.compileStmt(s1)
		if s2 != nil {
			branchAfterS1 := c.goToStub()
			s2End := c.compileStmt(s2)
			c.setV(condStmt, c.goToTargetBeyond(branchAfterS1), branchV)
			c.setGoTo(branchAfterS1, c.goToTargetBeyond(s2End))
			return s2End
		}
		c.setV(condStmt, c.goToTargetBeyond(s1End), branchV)
		return s1End
	}

	s2End := c.compileStmt(s2)

	// With only an else branch the conditional's sense inverts; the
	// negated twins make this a single opcode swap.
	z := c.insts1[condStmt.stmtNum]
	switch z.Op {
	case vm.OpIfElseVV, vm.OpIfVV, vm.OpIfNotVV:
		// Generated with the right sense above.
	default:
		neg, ok := condNegation[z.Op]
		if !ok {
			c.internalError("inconsistency inverting conditional")
			return c.errorStmt()
		}
		z.Op = neg
	}

	c.setV(condStmt, c.goToTargetBeyond(s2End), branchV)
	return s2End
}

// genCond lowers a conditional expression, preferring specialized
// predicate-branch opcodes; anything else computes into a temporary
// tested by a plain conditional branch.  Returns the emitted branch
// and the operand slot that receives its target.
func (c *ZAM) genCond(e Expr) (CompiledStmt, int) {
	switch ce := e.(type) {
	case *HasFieldExpr:
		z := vm.NewInst(vm.OpHasFieldCondVVV, c.frameSlot(ce.Op), ce.Field, 0)
		return c.addInst(z), 3

	case *InExpr:
		if cond, branchV, ok := c.genInCond(ce); ok {
			return cond, branchV
		}
	}

	// General case: materialize the condition and branch on it.
	tmp := c.newTempID(vm.TypeBool)
	c.compileAssignExpr(&NameExpr{ID: tmp}, e)
	cond := c.addInst(vm.NewInst(vm.OpIfVV, c.rawSlot(tmp), 0))
	return cond, 2
}

// genInCond lowers "x in t" conditionals over tables to their
// specialized branch forms.
func (c *ZAM) genInCond(e *InExpr) (CompiledStmt, int, bool) {
	op2, ok := e.Op2.(*NameExpr)
	if !ok || op2.Type().Tag != vm.TagTable {
		return CompiledStmt{}, 0, false
	}

	op1 := e.Op1
	if l, ok := op1.(*ListExpr); ok && len(l.Exprs) == 1 {
		op1 = l.Exprs[0]
	}

	switch o := op1.(type) {
	case *NameExpr:
		z := vm.NewInst(vm.OpValIsInTableCondVVV, c.frameSlot(o), c.frameSlot(op2), 0)
		z.T = o.Type()
		return c.addInst(z), 3, true

	case *ConstExpr:
		z := vm.NewInstC(vm.OpConstIsInTableCondVVC, o.V.Z, o.V.T, c.frameSlot(op2), 0)
		return c.addInst(z), 2, true
	}

	l, ok := op1.(*ListExpr)
	if !ok || len(l.Exprs) != 2 {
		return CompiledStmt{}, 0, false
	}

	n0, name0 := l.Exprs[0].(*NameExpr)
	n1, name1 := l.Exprs[1].(*NameExpr)

	switch {
	case name0 && name1:
		z := vm.NewInst(vm.OpVal2IsInTableCondVVVV,
			c.frameSlot(n0), c.frameSlot(n1), c.frameSlot(op2), 0)
		z.T = n0.Type()
		return c.addInst(z), 4, true

	case name0:
		c1 := l.Exprs[1].(*ConstExpr)
		z := vm.NewInstC(vm.OpVal2IsInTableCondVVVC, c1.V.Z, c1.V.T,
			c.frameSlot(n0), c.frameSlot(op2), 0)
		z.T = n0.Type()
		return c.addInst(z), 3, true

	case name1:
		c0 := l.Exprs[0].(*ConstExpr)
		z := vm.NewInstC(vm.OpVal2IsInTableCondVVCV, c0.V.Z, c0.V.T,
			c.frameSlot(n1), c.frameSlot(op2), 0)
		z.T = n1.Type()
		return c.addInst(z), 3, true

	default:
		// Both constants: assign the first to a temporary.
		c0 := l.Exprs[0].(*ConstExpr)
		c1 := l.Exprs[1].(*ConstExpr)
		slot := c.newSlot(vm.IsManagedType(c0.V.T))
		z := vm.NewInstC(vm.OpAssignConstVC, c0.V.Z, c0.V.T, slot)
		z.CheckIfManaged(c0.V.T)
		if z.IsManaged {
			z.Op = vm.OpAssignManagedConstVC
		}
		c.addInst(z)

		z = vm.NewInstC(vm.OpVal2IsInTableCondVVVC, c1.V.Z, c1.V.T,
			slot, c.frameSlot(op2), 0)
		z.T = c0.V.T
		return c.addInst(z), 3, true
	}
}

// ---------------------------------------------------------------------------
// Loops
// ---------------------------------------------------------------------------

func (c *ZAM) while(condStmt Stmt, cond Expr, body Stmt) CompiledStmt {
	head := c.startingBlock()

	if condStmt != nil {
		c.compileStmt(condStmt)
	}

	var condIF CompiledStmt
	branchV := 0

	if n, ok := cond.(*NameExpr); ok {
		condIF = c.addInst(vm.NewInst(vm.OpIfVV, c.frameSlot(n), 0))
		branchV = 2
	} else {
		condIF, branchV = c.genCond(cond)
	}

	c.pushNexts()
	c.pushBreaks()

	if body != nil {
		if _, isNull := body.(*NullStmt); !isNull {
			c.compileStmt(body)
		}
	}

	tail := c.goTo(c.goToTarget(head))

	beyondTail := c.goToTargetBeyond(tail)
	c.setV(condIF, beyondTail, branchV)

	c.resolveNexts(c.goToTarget(head))
	c.resolveBreaks(beyondTail)

	return tail
}

func (c *ZAM) loop(body Stmt) CompiledStmt {
	c.pushNexts()
	c.pushBreaks()

	head := c.startingBlock()
	c.compileStmt(body)
	tail := c.goTo(c.goToTarget(head))

	c.resolveNexts(c.goToTarget(head))
	c.resolveBreaks(c.goToTargetBeyond(tail))

	return tail
}

func (c *ZAM) forLoop(f *ForStmt) CompiledStmt {
	c.pushNexts()
	c.pushBreaks()

	switch f.LoopExpr.Type().Tag {
	case vm.TagTable:
		return c.loopOverTable(f)
	case vm.TagVector:
		return c.loopOverVector(f)
	case vm.TagString:
		return c.loopOverString(f)
	default:
		c.internalError("bad \"for\" loop-over value when compiling")
		return c.errorStmt()
	}
}

func (c *ZAM) loopOverTable(f *ForStmt) CompiledStmt {
	ii := &vm.IterInfo{}
	for _, id := range f.LoopVars {
		ii.LoopVars = append(ii.LoopVars, c.frameSlotID(id))
		ii.LoopVarTypes = append(ii.LoopVarTypes, id.T)
	}

	info := c.newSlot(false) // IterInfo isn't managed
	z := vm.NewInst(vm.OpInitTableLoopVVc, info, c.frameSlot(f.LoopExpr))
	z.Aux = &vm.ZInstAux{Iter: ii}
	if f.ValueVar != nil {
		z.T = f.ValueVar.T
	}
	c.addInst(z)

	iterHead := c.startingBlock()
	if f.ValueVar != nil {
		z = vm.NewInst(vm.OpNextTableIterValVarVVV, c.frameSlotID(f.ValueVar), info, 0)
		z.CheckIfManaged(f.ValueVar.T)
	} else {
		z = vm.NewInst(vm.OpNextTableIterVV, info, 0)
	}
	z.Aux = &vm.ZInstAux{Iter: ii}

	return c.finishLoop(iterHead, z, f.Body, info)
}

func (c *ZAM) loopOverVector(f *ForStmt) CompiledStmt {
	ii := &vm.IterInfo{
		VecType:   f.LoopExpr.Type(),
		YieldType: f.LoopExpr.Type().Yield,
	}

	info := c.newSlot(false)
	z := vm.NewInst(vm.OpInitVectorLoopVV, info, c.frameSlot(f.LoopExpr))
	z.Aux = &vm.ZInstAux{Iter: ii}
	c.addInst(z)

	iterHead := c.startingBlock()
	z = vm.NewInst(vm.OpNextVectorIterVVV, c.frameSlotID(f.LoopVars[0]), info, 0)

	return c.finishLoop(iterHead, z, f.Body, info)
}

func (c *ZAM) loopOverString(f *ForStmt) CompiledStmt {
	ii := &vm.IterInfo{}

	info := c.newSlot(false)
	z := vm.NewInst(vm.OpInitStringLoopVV, info, c.frameSlot(f.LoopExpr))
	z.Aux = &vm.ZInstAux{Iter: ii}
	c.addInst(z)

	iterHead := c.startingBlock()
	loopVar := f.LoopVars[0]
	z = vm.NewInst(vm.OpNextStringIterVVV, c.frameSlotID(loopVar), info, 0)
	z.CheckIfManaged(loopVar.T)

	return c.finishLoop(iterHead, z, f.Body, info)
}

func (c *ZAM) finishLoop(iterHead CompiledStmt, iter *vm.ZInst, body Stmt, infoSlot int) CompiledStmt {
	exitSlot := 3
	if iter.Op == vm.OpNextTableIterVV {
		exitSlot = 2
	}

	loopIter := c.addInst(iter)
	c.compileStmt(body)

	c.goTo(c.goToTarget(iterHead))
	finalStmt := c.addInst(vm.NewInst(vm.OpEndLoopV, infoSlot))

	c.setV(loopIter, c.goToTarget(finalStmt), exitSlot)

	c.resolveNexts(c.goToTarget(iterHead))
	c.resolveBreaks(c.goToTarget(finalStmt))

	return finalStmt
}

// ---------------------------------------------------------------------------
// Switches
// ---------------------------------------------------------------------------

func (c *ZAM) switchStmt(sw *SwitchStmt) CompiledStmt {
	c.pushBreaks()

	if sw.TypeCases {
		return c.typeSwitch(sw)
	}
	return c.valueSwitch(sw)
}

func (c *ZAM) valueSwitch(sw *SwitchStmt) CompiledStmt {
	var slot int

	switch e := sw.E.(type) {
	case *NameExpr:
		slot = c.frameSlot(e)
	case *ConstExpr:
		// A constant switch expression is odd enough not to be worth
		// optimizing: park it in a temporary.
		slot = c.newSlot(vm.IsManagedType(e.V.T))
		z := vm.NewInstC(vm.OpAssignConstVC, e.V.Z, e.V.T, slot)
		z.CheckIfManaged(e.V.T)
		if z.IsManaged {
			z.Op = vm.OpAssignManagedConstVC
		}
		c.addInst(z)
	default:
		c.internalError("unreduced switch expression")
		return c.errorStmt()
	}

	// Pick the jump table matching the key's internal type.
	keyTag := sw.E.Type().Tag.InternalTag()
	var op vm.Op
	var tbl int

	switch keyTag {
	case vm.TagInt:
		op, tbl = vm.OpSwitchIVVV, len(c.intCases)
	case vm.TagCount:
		op, tbl = vm.OpSwitchUVVV, len(c.uintCases)
	case vm.TagDouble:
		op, tbl = vm.OpSwitchDVVV, len(c.doubleCases)
	case vm.TagString:
		op, tbl = vm.OpSwitchSVVV, len(c.strCases)
	case vm.TagAddr:
		op, tbl = vm.OpSwitchAVVV, len(c.strCases)
	case vm.TagSubNet:
		op, tbl = vm.OpSwitchNVVV, len(c.strCases)
	default:
		c.internalError("bad switch type")
		return c.errorStmt()
	}

	swHead := c.addInst(vm.NewInst(op, slot, tbl, 0))
	bodyEnd := swHead

	// Generate the case bodies sequentially, with fallthrough
	// patching between them.
	var caseStart []InstLabel
	c.pushFallThroughs()
	for _, cs := range sw.Cases {
		start := c.goToTargetBeyond(bodyEnd)
		c.resolveFallThroughs(start)
		caseStart = append(caseStart, start)
		c.pushFallThroughs()
		bodyEnd = c.compileStmt(cs.Body)
	}

	swEnd := c.goToTargetBeyond(bodyEnd)
	c.resolveFallThroughs(swEnd)
	c.resolveBreaks(swEnd)

	if sw.DefaultIdx >= 0 {
		c.setV3(swHead, caseStart[sw.DefaultIdx])
	} else {
		c.setV3(swHead, swEnd)
	}

	// Fill out the jump table for the key type.
	newIntCases := make(map[int64]InstLabel)
	newUintCases := make(map[uint64]InstLabel)
	newDoubleCases := make(map[float64]InstLabel)
	newStrCases := make(map[string]InstLabel)

	for i, cs := range sw.Cases {
		for _, cv := range cs.Vals {
			start := caseStart[i]
			switch cv.T.Tag.InternalTag() {
			case vm.TagInt:
				newIntCases[cv.Z.Int()] = start
			case vm.TagCount:
				newUintCases[cv.Z.Count()] = start
			case vm.TagDouble:
				newDoubleCases[cv.Z.Double()] = start
			case vm.TagString:
				newStrCases[cv.Z.StringVal().String()] = start
			case vm.TagAddr:
				newStrCases[cv.Z.AddrVal().A.String()] = start
			case vm.TagSubNet:
				newStrCases[cv.Z.SubNetVal().P.String()] = start
			default:
				c.internalError("bad case type when compiling switch")
			}
		}
	}

	switch keyTag {
	case vm.TagInt:
		c.intCases = append(c.intCases, newIntCases)
	case vm.TagCount:
		c.uintCases = append(c.uintCases, newUintCases)
	case vm.TagDouble:
		c.doubleCases = append(c.doubleCases, newDoubleCases)
	case vm.TagString, vm.TagAddr, vm.TagSubNet:
		c.strCases = append(c.strCases, newStrCases)
	}

	return bodyEnd
}

func (c *ZAM) typeSwitch(sw *SwitchStmt) CompiledStmt {
	bodyEnd := c.emptyStmt()

	tmp := c.newSlot(true) // "any" is managed

	var slot int
	switch e := sw.E.(type) {
	case *NameExpr:
		slot = c.frameSlot(e)
		if !vm.IsAny(e.Type()) {
			z := vm.NewInst(vm.OpAssignAnyVV, tmp, slot)
			z.T = e.Type()
			bodyEnd = c.addInst(z)
			slot = tmp
		}
	case *ConstExpr:
		z := vm.NewInstC(vm.OpAssignAnyVC, e.V.Z, e.V.T, tmp)
		bodyEnd = c.addInst(z)
		slot = tmp
	default:
		c.internalError("unreduced switch expression")
		return c.errorStmt()
	}

	defInd := sw.DefaultIdx
	var defSucc CompiledStmt
	sawDefSucc := false

	c.pushFallThroughs()
	for i, cs := range sw.Cases {
		if i == defInd {
			continue
		}

		z := vm.NewInst(vm.OpBranchIfNotTypeVV, slot, 0)
		z.T = cs.TypeID.T
		caseTest := c.addInst(z)

		// Type cases without "as" bindings carry a placeholder ID
		// with an empty name.
		if cs.TypeID.Name != "" {
			idSlot := c.frame1SlotID(cs.TypeID, op1Write)
			z = vm.NewInst(vm.OpCastAnyVV, idSlot, slot)
			z.SetType(cs.TypeID.T)
			bodyEnd = c.addInst(z)
		} else {
			bodyEnd = caseTest
		}

		c.resolveFallThroughs(c.goToTargetBeyond(bodyEnd))
		bodyEnd = c.compileStmt(cs.Body)
		c.setV2(caseTest, c.goToTargetBeyond(bodyEnd))

		if defInd >= 0 && i == defInd+1 {
			defSucc = caseTest
			sawDefSucc = true
		}

		c.pushFallThroughs()
	}

	c.resolveFallThroughs(c.goToTargetBeyond(bodyEnd))

	if defInd >= 0 {
		c.pushFallThroughs()
		bodyEnd = c.compileStmt(sw.Cases[defInd].Body)

		if sawDefSucc {
			c.resolveFallThroughs(c.goToTargetBeyond(defSucc))
		} else {
			c.resolveFallThroughs(c.goToTargetBeyond(bodyEnd))
		}
	}

	c.resolveBreaks(c.goToTargetBeyond(bodyEnd))

	return bodyEnd
}

// ---------------------------------------------------------------------------
// Returns
// ---------------------------------------------------------------------------

func (c *ZAM) returnStmt(r *ReturnStmt) CompiledStmt {
	// Sync here rather than deferring: it keeps modified globals
	// visible across the return and opens opportunities to share the
	// global's frame slot.
	c.syncGlobals()

	if len(c.retvars) == 0 {
		// A "true" return.
		if r.E == nil {
			return c.addInst(vm.NewInst(vm.OpReturnX))
		}
		switch e := r.E.(type) {
		case *NameExpr:
			z := vm.NewInst(vm.OpReturnV, c.frameSlot(e))
			z.T = e.Type()
			return c.addInst(z)
		case *ConstExpr:
			z := vm.NewInstC(vm.OpReturnC, e.V.Z, e.V.T)
			return c.addInst(z)
		default:
			c.internalError("unreduced return expression")
			return c.errorStmt()
		}
	}

	rv := c.retvars[len(c.retvars)-1]
	if r.E != nil && rv == nil {
		c.internalError("unexpected returned value inside inlined block")
	}
	if r.E == nil && rv != nil {
		c.internalError("expected returned value inside inlined block but none provided")
	}

	if r.E != nil {
		c.compileAssignExpr(rv, r.E)
	}

	if len(c.catches) == 0 {
		c.internalError("untargeted inline return")
		return c.errorStmt()
	}
	return c.genGoTo(&c.catches)
}

func (c *ZAM) catchReturn(cr *CatchReturnStmt) CompiledStmt {
	c.retvars = append(c.retvars, cr.RetVar)

	c.pushCatchReturns()

	blockEnd := c.compileStmt(cr.Block)
	c.retvars = c.retvars[:len(c.retvars)-1]

	c.resolveCatchReturns(c.goToTargetBeyond(blockEnd))

	return blockEnd
}

// ---------------------------------------------------------------------------
// when / schedule / event
// ---------------------------------------------------------------------------

func (c *ZAM) when(w *WhenStmt) CompiledStmt {
	// The condition is evaluated by the host, so its variables must be
	// visible outside the ZAM frame.
	c.flushVars(nil, w.FlushLocals)

	var z *vm.ZInst

	isReturn := 0
	if w.IsReturn {
		isReturn = 1
	}

	if w.Timeout != nil {
		switch t := w.Timeout.(type) {
		case *ConstExpr:
			z = vm.NewInstC(vm.OpWhenVVVC, t.V.Z, t.V.T, 0, 0, isReturn)
		case *NameExpr:
			z = vm.NewInst(vm.OpWhenVVVV, c.frameSlot(t), 0, 0, isReturn)
		default:
			c.internalError("unreduced \"when\" timeout")
			return c.errorStmt()
		}
	} else {
		z = vm.NewInst(vm.OpWhenVV, isReturn, 0)
	}

	z.CondExpr = w.Cond

	whenEval := c.addInst(z)

	branchPastBlocks := c.goToStub()

	c.compileStmt(w.Body)
	whenDone := c.addInst(vm.NewInst(vm.OpReturnX))

	if w.Timeout != nil {
		c.compileStmt(w.TimeoutBody)
		tDone := c.addInst(vm.NewInst(vm.OpReturnX))

		if _, isConst := w.Timeout.(*ConstExpr); isConst {
			c.setV1(whenEval, c.goToTargetBeyond(branchPastBlocks))
			c.setV2(whenEval, c.goToTargetBeyond(whenDone))
		} else {
			c.setV2(whenEval, c.goToTargetBeyond(branchPastBlocks))
			c.setV3(whenEval, c.goToTargetBeyond(whenDone))
		}

		c.setGoTo(branchPastBlocks, c.goToTargetBeyond(tDone))
		return tDone
	}

	c.setV2(whenEval, c.goToTargetBeyond(branchPastBlocks))
	c.setGoTo(branchPastBlocks, c.goToTargetBeyond(whenDone))

	return whenDone
}

func (c *ZAM) schedule(s *ScheduleStmt) CompiledStmt {
	isInterval := 0
	if s.IsInterval {
		isInterval = 1
	}

	var z *vm.ZInst
	noArgs := s.Args == nil || len(s.Args.Exprs) == 0

	switch w := s.When.(type) {
	case *NameExpr:
		if noArgs {
			z = vm.NewInst(vm.OpSchedule0ViH, c.frameSlot(w), isInterval)
		} else {
			z = vm.NewInst(vm.OpScheduleViHL, c.frameSlot(w), isInterval)
		}
	case *ConstExpr:
		if noArgs {
			z = vm.NewInstC(vm.OpSchedule0CiH, w.V.Z, w.V.T, isInterval)
		} else {
			z = vm.NewInstC(vm.OpScheduleCiHL, w.V.Z, w.V.T, isInterval)
		}
	default:
		c.internalError("unreduced schedule timing expression")
		return c.errorStmt()
	}

	if !noArgs {
		z.Aux = c.internalBuildVals(s.Args, 1)
	}
	z.Event = s.Handler

	return c.addInst(z)
}

func (c *ZAM) event(e *EventStmt) CompiledStmt {
	z := vm.NewInst(vm.OpEventHL)
	z.Aux = c.internalBuildVals(e.Args, 1)
	z.Event = e.Handler
	return c.addInst(z)
}
