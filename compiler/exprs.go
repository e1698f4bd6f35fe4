package compiler

import (
	"github.com/wkleinhenz/zeek/vm"
)

// ---------------------------------------------------------------------------
// Expression statements
// ---------------------------------------------------------------------------

func (c *ZAM) compileExprStmt(st *ExprStmt) CompiledStmt {
	switch e := st.E.(type) {
	case *CallExpr:
		if c.isZAMBuiltIn(nil, e) {
			return c.lastInst()
		}
		return c.doCall(e, nil)

	case *AssignExpr:
		if call, ok := e.RHS.(*CallExpr); ok {
			if c.isZAMBuiltIn(e.LHS, call) {
				return c.lastInst()
			}
			return c.doCall(call, e.LHS)
		}
		return c.compileAssignExpr(e.LHS, e.RHS)

	case *IndexAssignExpr:
		switch e.Op1.Type().Tag {
		case vm.TagVector:
			return c.assignVecElems(e)
		case vm.TagTable:
			return c.assignTableElem(e)
		default:
			c.internalError("bad aggregate type when compiling index assignment")
			return c.errorStmt()
		}

	case *FieldAssignExpr:
		return c.assignField(e)

	default:
		c.internalError("expression statement of type %T has no effect", st.E)
		return c.errorStmt()
	}
}

// ---------------------------------------------------------------------------
// Assignments
// ---------------------------------------------------------------------------

// compileAssignExpr lowers "n = rhs" for a reduced right-hand side,
// emitting one instruction whose opcode variant is selected by the
// operand kinds and the element type.
func (c *ZAM) compileAssignExpr(n *NameExpr, rhs Expr) CompiledStmt {
	switch e := rhs.(type) {
	case *ConstExpr:
		return c.assignConst(n, e)

	case *NameExpr:
		return c.assignVar(n, e)

	case *BinaryExpr:
		return c.genBinary(n, e)

	case *NegExpr:
		op := vm.OpNegIntVV
		if n.Type().Tag.InternalTag() == vm.TagDouble {
			op = vm.OpNegDoubleVV
		}
		src := e.Op.(*NameExpr)
		srcSlot := c.frameSlot(src)
		return c.addInst(vm.NewInst(op, c.frame1Slot(n, op1Write), srcSlot))

	case *NotExpr:
		src := e.Op.(*NameExpr)
		srcSlot := c.frameSlot(src)
		return c.addInst(vm.NewInst(vm.OpNotVV, c.frame1Slot(n, op1Write), srcSlot))

	case *InExpr:
		return c.compileInExpr(n, e)

	case *HasFieldExpr:
		recSlot := c.frameSlot(e.Op)
		z := vm.NewInst(vm.OpHasFieldVVi, c.frame1Slot(n, op1Write),
			recSlot, e.Field)
		return c.addInst(z)

	case *FieldExpr:
		recSlot := c.frameSlot(e.Rec)
		z := vm.NewInst(vm.OpFieldVVi, c.frame1Slot(n, op1Write),
			recSlot, e.Field)
		z.SetType(e.Type())
		return c.addInst(z)

	case *IndexExpr:
		return c.compileIndex(n, e)

	case *CallExpr:
		if c.isZAMBuiltIn(n, e) {
			return c.lastInst()
		}
		return c.doCall(e, n)

	case *ConstructorExpr:
		return c.construct(n, e)

	case *CoerceExpr:
		return c.coerce(n, e)

	case *IsExpr:
		src := e.Op.(*NameExpr)
		srcSlot := c.frameSlot(src)
		z := vm.NewInst(vm.OpIsVV, c.frame1Slot(n, op1Write), srcSlot)
		z.T = e.TestType
		z.T2 = src.Type()
		return c.addInst(z)

	default:
		c.internalError("unknown expression type %T in assignment", rhs)
		return c.errorStmt()
	}
}

func (c *ZAM) assignConst(n *NameExpr, e *ConstExpr) CompiledStmt {
	op, err := vm.AssignmentFlavor(vm.OpAssignConstVC, n.Type().Tag)
	if err != nil {
		c.internalError("%v", err)
		return c.errorStmt()
	}

	z := vm.NewInstC(op, e.V.Z, e.V.T, c.frame1Slot(n, op1Write))
	z.SetType(n.Type())
	return c.addInst(z)
}

func (c *ZAM) assignVar(n, src *NameExpr) CompiledStmt {
	op, err := vm.AssignmentFlavor(vm.OpAssignVV, n.Type().Tag)
	if err != nil {
		c.internalError("%v", err)
		return c.errorStmt()
	}

	srcSlot := c.frameSlot(src)
	z := vm.NewInst(op, c.frame1Slot(n, op1Write), srcSlot)
	z.SetType(n.Type())
	return c.addInst(z)
}

// ---------------------------------------------------------------------------
// Binary operators
// ---------------------------------------------------------------------------

// opForms lists the operand-form variants of one type-specialized
// operator family.  A zero vcv means the operator commutes and the
// generator swaps the operands into the vvc form instead.
type opForms struct {
	vvv, vvc, vcv vm.Op
}

var arithForms = map[BinOp]map[vm.TypeTag]opForms{
	OpAdd: {
		vm.TagInt:    {vm.OpAddIntVVV, vm.OpAddIntVVC, 0},
		vm.TagCount:  {vm.OpAddCountVVV, vm.OpAddCountVVC, 0},
		vm.TagDouble: {vm.OpAddDoubleVVV, vm.OpAddDoubleVVC, 0},
	},
	OpSub: {
		vm.TagInt:    {vm.OpSubIntVVV, vm.OpSubIntVVC, vm.OpSubIntVCV},
		vm.TagCount:  {vm.OpSubCountVVV, vm.OpSubCountVVC, vm.OpSubCountVCV},
		vm.TagDouble: {vm.OpSubDoubleVVV, vm.OpSubDoubleVVC, vm.OpSubDoubleVCV},
	},
	OpMul: {
		vm.TagInt:    {vm.OpMulIntVVV, vm.OpMulIntVVC, 0},
		vm.TagCount:  {vm.OpMulCountVVV, vm.OpMulCountVVC, 0},
		vm.TagDouble: {vm.OpMulDoubleVVV, vm.OpMulDoubleVVC, 0},
	},
	OpDiv: {
		vm.TagInt:    {vm.OpDivIntVVV, vm.OpDivIntVVC, vm.OpDivIntVCV},
		vm.TagCount:  {vm.OpDivCountVVV, vm.OpDivCountVVC, vm.OpDivCountVCV},
		vm.TagDouble: {vm.OpDivDoubleVVV, vm.OpDivDoubleVVC, vm.OpDivDoubleVCV},
	},
	OpMod: {
		vm.TagInt:   {vm.OpModIntVVV, vm.OpModIntVVC, vm.OpModIntVCV},
		vm.TagCount: {vm.OpModCountVVV, vm.OpModCountVVC, vm.OpModCountVCV},
	},
	OpCat: {
		vm.TagString: {vm.OpCatStrVVV, vm.OpCatStrVVC, vm.OpCatStrVCV},
	},
}

var cmpForms = map[BinOp]map[vm.TypeTag]opForms{
	OpEq: {
		vm.TagInt:    {vm.OpEqIntVVV, vm.OpEqIntVVC, 0},
		vm.TagCount:  {vm.OpEqCountVVV, vm.OpEqCountVVC, 0},
		vm.TagDouble: {vm.OpEqDoubleVVV, vm.OpEqDoubleVVC, 0},
		vm.TagString: {vm.OpEqStrVVV, vm.OpEqStrVVC, 0},
	},
	OpNe: {
		vm.TagInt:    {vm.OpNeIntVVV, vm.OpNeIntVVC, 0},
		vm.TagCount:  {vm.OpNeCountVVV, vm.OpNeCountVVC, 0},
		vm.TagDouble: {vm.OpNeDoubleVVV, vm.OpNeDoubleVVC, 0},
		vm.TagString: {vm.OpNeStrVVV, vm.OpNeStrVVC, 0},
	},
	OpLt: {
		vm.TagInt:    {vm.OpLtIntVVV, vm.OpLtIntVVC, vm.OpLtIntVCV},
		vm.TagCount:  {vm.OpLtCountVVV, vm.OpLtCountVVC, vm.OpLtCountVCV},
		vm.TagDouble: {vm.OpLtDoubleVVV, vm.OpLtDoubleVVC, vm.OpLtDoubleVCV},
		vm.TagString: {vm.OpLtStrVVV, vm.OpLtStrVVC, vm.OpLtStrVCV},
	},
	OpLe: {
		vm.TagInt:    {vm.OpLeIntVVV, vm.OpLeIntVVC, vm.OpLeIntVCV},
		vm.TagCount:  {vm.OpLeCountVVV, vm.OpLeCountVVC, vm.OpLeCountVCV},
		vm.TagDouble: {vm.OpLeDoubleVVV, vm.OpLeDoubleVVC, vm.OpLeDoubleVCV},
		vm.TagString: {vm.OpLeStrVVV, vm.OpLeStrVVC, vm.OpLeStrVCV},
	},
}

var vecForms = map[BinOp]map[vm.TypeTag]vm.Op{
	OpAdd: {
		vm.TagInt:    vm.OpAddVecIntVVV,
		vm.TagCount:  vm.OpAddVecCountVVV,
		vm.TagDouble: vm.OpAddVecDoubleVVV,
	},
	OpSub: {
		vm.TagInt:    vm.OpSubVecIntVVV,
		vm.TagCount:  vm.OpSubVecCountVVV,
		vm.TagDouble: vm.OpSubVecDoubleVVV,
	},
	OpMul: {
		vm.TagInt:    vm.OpMulVecIntVVV,
		vm.TagCount:  vm.OpMulVecCountVVV,
		vm.TagDouble: vm.OpMulVecDoubleVVV,
	},
}

func (c *ZAM) genBinary(n *NameExpr, e *BinaryExpr) CompiledStmt {
	if n.Type().Tag == vm.TagVector {
		return c.genVecBinary(n, e)
	}

	op1, op2 := e.N1, e.N2

	// Relational > and >= are the flipped < and <=.
	binOp := e.Op
	switch binOp {
	case OpGt:
		binOp = OpLt
		op1, op2 = op2, op1
	case OpGe:
		binOp = OpLe
		op1, op2 = op2, op1
	}

	var forms opForms
	var ok bool

	if fm, isCmp := cmpForms[binOp]; isCmp {
		opT := op1.Type()
		if _, isConst := op1.(*ConstExpr); isConst {
			opT = op2.Type()
		}
		forms, ok = fm[normalizeCmpTag(opT.Tag)]
	} else {
		fm, have := arithForms[binOp]
		if !have {
			c.internalError("unknown binary operator")
			return c.errorStmt()
		}
		forms, ok = fm[normalizeCmpTag(e.T.Tag)]
	}
	if !ok {
		c.internalError("no opcode family for operand type")
		return c.errorStmt()
	}

	n1, name1 := op1.(*NameExpr)
	n2, name2 := op2.(*NameExpr)

	var z *vm.ZInst

	switch {
	case name1 && name2:
		s2 := c.frameSlot(n1)
		s3 := c.frameSlot(n2)
		z = vm.NewInst(forms.vvv, c.frame1Slot(n, op1Write), s2, s3)

	case name1:
		cv := op2.(*ConstExpr)
		s2 := c.frameSlot(n1)
		z = vm.NewInstC(forms.vvc, cv.V.Z, cv.V.T, c.frame1Slot(n, op1Write), s2)

	case name2:
		cv := op1.(*ConstExpr)
		s2 := c.frameSlot(n2)
		op := forms.vcv
		if op == 0 {
			// Commutative: the constant folds into the VVC form.
			op = forms.vvc
		}
		z = vm.NewInstC(op, cv.V.Z, cv.V.T, c.frame1Slot(n, op1Write), s2)

	default:
		c.internalError("binary operation on two constants was not folded")
		return c.errorStmt()
	}

	z.SetType(e.T)
	return c.addInst(z)
}

// normalizeCmpTag collapses string-like tags onto string and numerics
// onto their internal class.
func normalizeCmpTag(tag vm.TypeTag) vm.TypeTag {
	it := tag.InternalTag()
	if it == vm.TagString {
		return vm.TagString
	}
	return it
}

func (c *ZAM) genVecBinary(n *NameExpr, e *BinaryExpr) CompiledStmt {
	fm, ok := vecForms[e.Op]
	if !ok {
		c.internalError("unsupported vectorized operator")
		return c.errorStmt()
	}
	op, ok := fm[e.T.Yield.Tag.InternalTag()]
	if !ok {
		c.internalError("no vectorized opcode for yield type")
		return c.errorStmt()
	}

	n1 := e.N1.(*NameExpr)
	n2 := e.N2.(*NameExpr)
	s2 := c.frameSlot(n1)
	s3 := c.frameSlot(n2)
	z := vm.NewInst(op, c.frame1Slot(n, op1Write), s2, s3)
	z.SetType(e.T)
	return c.addInst(z)
}

// ---------------------------------------------------------------------------
// "in" expressions
// ---------------------------------------------------------------------------

func (c *ZAM) compileInExpr(n *NameExpr, e *InExpr) CompiledStmt {
	if l, ok := e.Op1.(*ListExpr); ok {
		return c.compileListInExpr(n, l, e.Op2)
	}

	op2 := e.Op1 // LHS of "in"
	op3 := e.Op2 // RHS of "in"

	n2, _ := op2.(*NameExpr)
	c2, _ := op2.(*ConstExpr)
	n3, _ := op3.(*NameExpr)
	c3, _ := op3.(*ConstExpr)

	var forms opForms

	switch {
	case op2.Type().Tag == vm.TagPattern:
		forms = opForms{vm.OpPInSVVV, vm.OpPInSVVC, vm.OpPInSVCV}
	case op2.Type().Tag == vm.TagString:
		forms = opForms{vm.OpSInSVVV, vm.OpSInSVVC, vm.OpSInSVCV}
	case op2.Type().Tag == vm.TagAddr && op3.Type().Tag == vm.TagSubNet:
		forms = opForms{vm.OpAInSVVV, vm.OpAInSVVC, vm.OpAInSVCV}
	case op3.Type().Tag == vm.TagTable:
		var z *vm.ZInst
		if n2 != nil {
			s2 := c.frameSlot(n2)
			s3 := c.frameSlot(n3)
			z = vm.NewInst(vm.OpValIsInTableVVV, c.frame1Slot(n, op1Write), s2, s3)
			z.T = n2.Type()
		} else {
			s3 := c.frameSlot(n3)
			z = vm.NewInstC(vm.OpConstIsInTableVCV, c2.V.Z, c2.V.T,
				c.frame1Slot(n, op1Write), s3)
		}
		return c.addInst(z)
	default:
		c.internalError("bad types when compiling \"in\"")
		return c.errorStmt()
	}

	var z *vm.ZInst
	switch {
	case n2 != nil && n3 != nil:
		s2 := c.frameSlot(n2)
		s3 := c.frameSlot(n3)
		z = vm.NewInst(forms.vvv, c.frame1Slot(n, op1Write), s2, s3)
		z.T = n2.Type()
	case n2 != nil:
		s2 := c.frameSlot(n2)
		z = vm.NewInstC(forms.vvc, c3.V.Z, c3.V.T,
			c.frame1Slot(n, op1Write), s2)
		z.T = c3.V.T
	default:
		s3 := c.frameSlot(n3)
		z = vm.NewInstC(forms.vcv, c2.V.Z, c2.V.T,
			c.frame1Slot(n, op1Write), s3)
		z.T = c2.V.T
	}

	return c.addInst(z)
}

func (c *ZAM) compileListInExpr(n *NameExpr, l *ListExpr, aggr Expr) CompiledStmt {
	n2, _ := aggr.(*NameExpr)
	cAgg, _ := aggr.(*ConstExpr)

	// The common special case: a single-element list against a named
	// table; no need to build out an aux value vector.
	if len(l.Exprs) == 1 && n2 != nil && n2.Type().Tag == vm.TagTable {
		var z *vm.ZInst
		switch e0 := l.Exprs[0].(type) {
		case *NameExpr:
			s2 := c.frameSlot(e0)
			s3 := c.frameSlot(n2)
			z = vm.NewInst(vm.OpValIsInTableVVV, c.frame1Slot(n, op1Write), s2, s3)
			z.T = e0.Type()
		case *ConstExpr:
			s3 := c.frameSlot(n2)
			z = vm.NewInstC(vm.OpConstIsInTableVCV, e0.V.Z, e0.V.T,
				c.frame1Slot(n, op1Write), s3)
		}
		return c.addInst(z)
	}

	// A 2-element index with at least one name.
	if len(l.Exprs) == 2 && n2 != nil {
		e0n, name0 := l.Exprs[0].(*NameExpr)
		e1n, name1 := l.Exprs[1].(*NameExpr)

		if name0 || name1 {
			var z *vm.ZInst

			switch {
			case name0 && name1:
				s2 := c.frameSlot(e0n)
				s3 := c.frameSlot(e1n)
				s4 := c.frameSlot(n2)
				z = vm.NewInst(vm.OpVal2IsInTableVVVV,
					c.frame1Slot(n, op1Write), s2, s3, s4)
				z.T = e0n.Type()

			case name0:
				e1c := l.Exprs[1].(*ConstExpr)
				s2 := c.frameSlot(e0n)
				s3 := c.frameSlot(n2)
				z = vm.NewInstC(vm.OpVal2IsInTableVVVC, e1c.V.Z, e1c.V.T,
					c.frame1Slot(n, op1Write), s2, s3)
				z.T = e0n.Type()

			default:
				e0c := l.Exprs[0].(*ConstExpr)
				s2 := c.frameSlot(e1n)
				s3 := c.frameSlot(n2)
				z = vm.NewInstC(vm.OpVal2IsInTableVVCV, e0c.V.Z, e0c.V.T,
					c.frame1Slot(n, op1Write), s2, s3)
				z.T = e1n.Type()
			}

			return c.addInst(z)
		}
	}

	var op vm.Op
	aggrT := aggr.Type()
	if aggrT.Tag == vm.TagVector {
		if n2 != nil {
			op = vm.OpIndexIsInVectorVV
		} else {
			op = vm.OpIndexIsInVectorVC
		}
	} else {
		if n2 != nil {
			op = vm.OpListIsInTableVV
		} else {
			op = vm.OpListIsInTableVC
		}
	}

	aux := c.internalBuildVals(l, 1)

	var z *vm.ZInst
	if n2 != nil {
		s2 := c.frameSlot(n2)
		z = vm.NewInst(op, c.frame1Slot(n, op1Write), s2)
	} else {
		z = vm.NewInstC(op, cAgg.V.Z, cAgg.V.T, c.frame1Slot(n, op1Write))
	}
	z.Aux = aux

	return c.addInst(z)
}

// ---------------------------------------------------------------------------
// Indexing
// ---------------------------------------------------------------------------

func (c *ZAM) compileIndex(n1 *NameExpr, e *IndexExpr) CompiledStmt {
	n2 := e.Agg
	l := e.Indices
	n2tag := n2.Type().Tag

	if len(l.Exprs) == 1 {
		ind := l.Exprs[0]
		n3, varInd := ind.(*NameExpr)
		c3, _ := ind.(*ConstExpr)

		var cIdx uint64
		if !varInd {
			switch ind.Type().Tag {
			case vm.TagCount:
				cIdx = c3.V.Z.Count()
			case vm.TagInt:
				cIdx = uint64(c3.V.Z.Int())
			}
		}

		n2slot := c.frameSlot(n2)

		switch n2tag {
		case vm.TagString:
			var z *vm.ZInst
			if n3 != nil {
				n3slot := c.frameSlot(n3)
				z = vm.NewInst(vm.OpIndexStringVVV, c.frame1Slot(n1, op1Write),
					n2slot, n3slot)
			} else {
				z = vm.NewInst(vm.OpIndexStringCVVV, c.frame1Slot(n1, op1Write),
					n2slot, int(cIdx))
			}
			return c.addInst(z)

		case vm.TagVector:
			var z *vm.ZInst
			if n3 != nil {
				n3slot := c.frameSlot(n3)
				z = vm.NewInst(vm.OpIndexVecVVV, c.frame1Slot(n1, op1Write),
					n2slot, n3slot)
			} else {
				z = vm.NewInst(vm.OpIndexVecCVVV, c.frame1Slot(n1, op1Write),
					n2slot, int(cIdx))
			}
			z.SetType(n1.Type())
			return c.addInst(z)

		case vm.TagTable:
			var z *vm.ZInst
			if n3 != nil {
				op, err := vm.AssignmentFlavor(vm.OpTableIndex1VVV, n1.Type().Tag)
				if err != nil {
					c.internalError("%v", err)
					return c.errorStmt()
				}
				n3slot := c.frameSlot(n3)
				z = vm.NewInst(op, c.frame1Slot(n1, op1Write), n2slot, n3slot)
				z.T = n3.Type()
			} else {
				op, err := vm.AssignmentFlavor(vm.OpTableIndex1VVC, n1.Type().Tag)
				if err != nil {
					c.internalError("%v", err)
					return c.errorStmt()
				}
				z = vm.NewInstC(op, c3.V.Z, c3.V.T, c.frame1Slot(n1, op1Write), n2slot)
			}
			return c.addInst(z)
		}
	}

	n2slot := c.frameSlot(n2)
	aux := c.internalBuildVals(l, 1)
	var z *vm.ZInst

	switch n2tag {
	case vm.TagVector:
		z = vm.NewInst(vm.OpIndexVecSliceVV, c.frame1Slot(n1, op1Write), n2slot)
		z.T = n2.Type()
	case vm.TagTable:
		z = vm.NewInst(vm.OpTableIndexVV, c.frame1Slot(n1, op1Write), n2slot)
		z.T = n1.Type()
	case vm.TagString:
		z = vm.NewInst(vm.OpIndexStringSliceVV, c.frame1Slot(n1, op1Write), n2slot)
		z.T = n1.Type()
	default:
		c.internalError("bad aggregate type when compiling index")
		return c.errorStmt()
	}

	z.Aux = aux
	z.CheckIfManaged(n1.Type())

	return c.addInst(z)
}

// ---------------------------------------------------------------------------
// Aggregate element and field assignment
// ---------------------------------------------------------------------------

func (c *ZAM) assignVecElems(e *IndexAssignExpr) CompiledStmt {
	lhs := e.Op1
	indexes := e.Op2.Exprs
	op3 := e.Op3

	if len(indexes) > 1 {
		// Vector slice assignment.
		src := op3.(*NameExpr)
		srcSlot := c.frameSlot(src)
		aux := c.internalBuildVals(e.Op2, 1)
		z := vm.NewInst(vm.OpVectorSliceAssignVV,
			c.frame1Slot(lhs, op1ReadWrite), srcSlot)
		z.Aux = aux
		return c.addInst(z)
	}

	op2 := indexes[0]
	n2, idxIsName := op2.(*NameExpr)
	n3, valIsName := op3.(*NameExpr)

	if !idxIsName && !valIsName {
		// Both constant: park the index in a temporary to get a VVC
		// assignment.
		c2 := op2.(*ConstExpr)
		tmp := c.newSlot(false)
		z := vm.NewInstC(vm.OpAssignConstVC, c2.V.Z, c2.V.T, tmp)
		c.addInst(z)

		c3 := op3.(*ConstExpr)
		z = vm.NewInstC(vm.OpVectorElemAssignVVC, c3.V.Z, c3.V.T,
			c.frame1Slot(lhs, op1ReadWrite), tmp)
		z.T = c3.V.T
		return c.addInst(z)
	}

	if idxIsName {
		var z *vm.ZInst
		idxSlot := c.frameSlot(n2)
		if valIsName {
			valSlot := c.frameSlot(n3)
			z = vm.NewInst(vm.OpVectorElemAssignVVV,
				c.frame1Slot(lhs, op1ReadWrite), idxSlot, valSlot)
		} else {
			c3 := op3.(*ConstExpr)
			z = vm.NewInstC(vm.OpVectorElemAssignVVC, c3.V.Z, c3.V.T,
				c.frame1Slot(lhs, op1ReadWrite), idxSlot)
		}
		z.T = op3.Type()
		return c.addInst(z)
	}

	c2 := op2.(*ConstExpr)
	valSlot := c.frameSlot(n3)
	z := vm.NewInst(vm.OpVectorElemAssignViV,
		c.frame1Slot(lhs, op1ReadWrite), int(c2.V.Z.Count()), valSlot)
	z.T = op3.Type()
	return c.addInst(z)
}

func (c *ZAM) assignTableElem(e *IndexAssignExpr) CompiledStmt {
	aux := c.internalBuildVals(e.Op2, 1)
	var z *vm.ZInst

	switch v := e.Op3.(type) {
	case *NameExpr:
		valSlot := c.frameSlot(v)
		z = vm.NewInst(vm.OpTableElemAssignVV,
			c.frame1Slot(e.Op1, op1ReadWrite), valSlot)
	case *ConstExpr:
		z = vm.NewInstC(vm.OpTableElemAssignVC, v.V.Z, v.V.T,
			c.frame1Slot(e.Op1, op1ReadWrite))
	default:
		c.internalError("unreduced table element assignment")
		return c.errorStmt()
	}

	z.Aux = aux
	z.T = e.Op3.Type()

	return c.addInst(z)
}

func (c *ZAM) assignField(e *FieldAssignExpr) CompiledStmt {
	var z *vm.ZInst

	switch v := e.RHS.(type) {
	case *NameExpr:
		valSlot := c.frameSlot(v)
		z = vm.NewInst(vm.OpFieldAssignViV,
			c.frame1Slot(e.Rec, op1ReadWrite), e.Field, valSlot)
	case *ConstExpr:
		z = vm.NewInstC(vm.OpFieldAssignViC, v.V.Z, v.V.T,
			c.frame1Slot(e.Rec, op1ReadWrite), e.Field)
	default:
		c.internalError("unreduced field assignment")
		return c.errorStmt()
	}

	z.T = e.RHS.Type()
	return c.addInst(z)
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func (c *ZAM) construct(n *NameExpr, e *ConstructorExpr) CompiledStmt {
	var z *vm.ZInst

	switch e.Kind {
	case CtorTable:
		width := len(n.Type().Indices)
		aux := c.internalBuildVals(e.Elems, width+1)
		z = vm.NewInst(vm.OpConstructTableVV, c.frame1Slot(n, op1Write), width)
		z.Aux = aux

	case CtorSet:
		width := len(n.Type().Indices)
		aux := c.internalBuildVals(e.Elems, width)
		z = vm.NewInst(vm.OpConstructSetV, c.frame1Slot(n, op1Write))
		z.Aux = aux

	case CtorRecord:
		aux := c.internalBuildVals(e.Elems, 1)
		z = vm.NewInst(vm.OpConstructRecordV, c.frame1Slot(n, op1Write))
		z.Aux = aux

	case CtorVector:
		aux := c.internalBuildVals(e.Elems, 1)
		z = vm.NewInst(vm.OpConstructVectorV, c.frame1Slot(n, op1Write))
		z.Aux = aux
	}

	z.SetType(e.T)
	return c.addInst(z)
}

// internalBuildVals flattens an expression list into an aux block;
// nested lists (table-constructor elements) contribute stride entries.
func (c *ZAM) internalBuildVals(l *ListExpr, stride int) *vm.ZInstAux {
	aux := vm.NewZInstAux(len(l.Exprs) * stride)

	offset := 0
	for _, e := range l.Exprs {
		n := c.internalAddVal(aux, offset, e)
		if n != stride {
			c.internalError("bad stride while building aux operands")
		}
		offset += n
	}

	return aux
}

func (c *ZAM) internalAddVal(aux *vm.ZInstAux, i int, e Expr) int {
	if le, ok := e.(*ListExpr); ok {
		// A table-constructor element: indices followed by the value.
		for j, sub := range le.Exprs {
			c.internalAddVal(aux, i+j, sub)
		}
		return len(le.Exprs)
	}

	switch ee := e.(type) {
	case *NameExpr:
		aux.AddSlot(i, c.frameSlot(ee), ee.Type())
	case *ConstExpr:
		aux.AddConst(i, ee.V.Z, ee.V.T)
	default:
		c.internalError("unreduced aux operand of type %T", e)
	}
	return 1
}

// ---------------------------------------------------------------------------
// Coercions
// ---------------------------------------------------------------------------

func (c *ZAM) coerce(n *NameExpr, e *CoerceExpr) CompiledStmt {
	switch e.Kind {
	case CoerceArith:
		return c.arithCoerce(n, e)

	case CoerceRecord:
		op := e.Op.(*NameExpr)
		opSlot := c.frameSlot(op)
		z := vm.NewInst(vm.OpRecordCoerceVVV, c.frame1Slot(n, op1Write),
			opSlot, len(e.Map))
		z.SetType(e.T)
		z.Aux = vm.NewZInstAux(len(e.Map))
		for i, from := range e.Map {
			z.Aux.AddSlot(i, from, nil)
		}
		return c.addInst(z)

	case CoerceTable:
		op := e.Op.(*NameExpr)
		opSlot := c.frameSlot(op)
		z := vm.NewInst(vm.OpTableCoerceVV, c.frame1Slot(n, op1Write), opSlot)
		z.SetType(e.T)
		return c.addInst(z)

	case CoerceVector:
		op := e.Op.(*NameExpr)
		opSlot := c.frameSlot(op)
		z := vm.NewInst(vm.OpVectorCoerceVV, c.frame1Slot(n, op1Write), opSlot)
		z.SetType(e.T)
		return c.addInst(z)

	case CoerceAny:
		switch op := e.Op.(type) {
		case *NameExpr:
			opSlot := c.frameSlot(op)
			if vm.IsAny(op.Type()) {
				z := vm.NewInst(vm.OpCastAnyVV, c.frame1Slot(n, op1Write), opSlot)
				z.SetType(n.Type())
				return c.addInst(z)
			}
			z := vm.NewInst(vm.OpAssignAnyVV, c.frame1Slot(n, op1Write), opSlot)
			z.T = op.Type()
			z.IsManaged = true
			return c.addInst(z)
		case *ConstExpr:
			z := vm.NewInstC(vm.OpAssignAnyVC, op.V.Z, op.V.T, c.frame1Slot(n, op1Write))
			z.IsManaged = true
			return c.addInst(z)
		}
	}

	c.internalError("unknown coercion")
	return c.errorStmt()
}

func (c *ZAM) arithCoerce(n *NameExpr, e *CoerceExpr) CompiledStmt {
	nt := n.Type()
	ntIsVec := nt.Tag == vm.TagVector

	op, isName := e.Op.(*NameExpr)
	if !isName {
		c.internalError("coercion wasn't folded")
		return c.errorStmt()
	}

	opT := op.Type()
	opIsVec := opT.Tag == vm.TagVector

	eT := e.T
	etIsVec := eT.Tag == vm.TagVector

	if ntIsVec || opIsVec || etIsVec {
		if !(ntIsVec && opIsVec && etIsVec) {
			c.internalError("vector confusion compiling coercion")
			return c.errorStmt()
		}
		opT = opT.Yield
		eT = eT.Yield
	}

	targIt := eT.Tag.InternalTag()
	opIt := opT.Tag.InternalTag()

	if targIt == opIt {
		c.internalError("coercion wasn't folded")
		return c.errorStmt()
	}

	var a vm.Op

	switch targIt {
	case vm.TagDouble:
		if opIt == vm.TagInt {
			a = pick(ntIsVec, vm.OpCoerceDIVecVV, vm.OpCoerceDIVV)
		} else {
			a = pick(ntIsVec, vm.OpCoerceDUVecVV, vm.OpCoerceDUVV)
		}
	case vm.TagInt:
		if opIt == vm.TagCount {
			a = pick(ntIsVec, vm.OpCoerceIUVecVV, vm.OpCoerceIUVV)
		} else {
			a = pick(ntIsVec, vm.OpCoerceIDVecVV, vm.OpCoerceIDVV)
		}
	case vm.TagCount:
		if opIt == vm.TagInt {
			a = pick(ntIsVec, vm.OpCoerceUIVecVV, vm.OpCoerceUIVV)
		} else {
			a = pick(ntIsVec, vm.OpCoerceUDVecVV, vm.OpCoerceUDVV)
		}
	default:
		c.internalError("bad target internal type in coercion")
		return c.errorStmt()
	}

	opSlot := c.frameSlot(op)
	z := vm.NewInst(a, c.frame1Slot(n, op1Write), opSlot)
	if ntIsVec {
		z.SetType(n.Type())
	}
	return c.addInst(z)
}

func pick(cond bool, a, b vm.Op) vm.Op {
	if cond {
		return a
	}
	return b
}
