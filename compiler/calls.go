package compiler

import (
	"github.com/wkleinhenz/zeek/vm"
)

// ---------------------------------------------------------------------------
// Call lowering
// ---------------------------------------------------------------------------

// doCall lowers a call, with specialized 0-5-argument forms, an N-ary
// form beyond that, and separate opcodes for indirect callees.  A sync
// point precedes every call so the callee observes stored globals.
func (c *ZAM) doCall(call *CallExpr, n *NameExpr) CompiledStmt {
	c.syncGlobals()

	fn, ok := call.Func.(*NameExpr)
	if !ok {
		c.internalError("unreduced callee expression")
		return c.errorStmt()
	}

	args := call.Args.Exprs
	nargs := len(args)
	callCase := nargs

	indirect := !fn.ID.IsGlobal()
	if indirect {
		callCase = -1 // force the default of CallN
	}

	nt := vm.TagVoid
	if n != nil {
		nt = n.Type().Tag
	}

	var z *vm.ZInst

	switch callCase {
	case 0:
		if n != nil {
			op := c.flavorOrFail(vm.OpCall0V, nt)
			z = vm.NewInst(op, c.frame1Slot(n, op1Write))
		} else {
			z = vm.NewInst(vm.OpCall0X)
		}

	case 1:
		arg0 := args[0]
		n0, _ := arg0.(*NameExpr)
		c0, _ := arg0.(*ConstExpr)

		if n != nil {
			if n0 != nil {
				op := c.flavorOrFail(vm.OpCall1VV, nt)
				argSlot := c.frameSlot(n0)
				z = vm.NewInst(op, c.frame1Slot(n, op1Write), argSlot)
			} else {
				op := c.flavorOrFail(vm.OpCall1VC, nt)
				z = vm.NewInstC(op, c0.V.Z, c0.V.T, c.frame1Slot(n, op1Write))
			}
		} else {
			if n0 != nil {
				z = vm.NewInst(vm.OpCall1V, c.frameSlot(n0))
			} else {
				z = vm.NewInstC(vm.OpCall1C, c0.V.Z, c0.V.T)
			}
		}

		z.T = arg0.Type()

	default:
		aux := c.internalBuildVals(call.Args, 1)

		var op vm.Op
		switch callCase {
		case 2:
			op = pick(n != nil, vm.OpCall2Vc, vm.OpCall2c)
		case 3:
			op = pick(n != nil, vm.OpCall3Vc, vm.OpCall3c)
		case 4:
			op = pick(n != nil, vm.OpCall4Vc, vm.OpCall4c)
		case 5:
			op = pick(n != nil, vm.OpCall5Vc, vm.OpCall5c)
		default:
			if indirect {
				op = pick(n != nil, vm.OpIndCallNVVc, vm.OpIndCallNVc)
			} else {
				op = pick(n != nil, vm.OpCallNVc, vm.OpCallNc)
			}
		}

		if n != nil {
			op = c.flavorOrFail(op, nt)
			if indirect {
				fnSlot := c.frameSlot(fn)
				z = vm.NewInst(op, c.frame1Slot(n, op1Write), fnSlot)
			} else {
				z = vm.NewInst(op, c.frame1Slot(n, op1Write))
			}
		} else {
			if indirect {
				z = vm.NewInst(op, c.frameSlot(fn))
			} else {
				z = vm.NewInst(op)
			}
		}

		z.Aux = aux
	}

	if !indirect {
		z.Func = c.calleeFunc(fn.ID)
	}

	if n != nil {
		z.CheckIfManaged(n.Type())
	}

	return c.addInst(z)
}

func (c *ZAM) flavorOrFail(op vm.Op, tag vm.TypeTag) vm.Op {
	flavored, err := vm.AssignmentFlavor(op, tag)
	if err != nil {
		c.internalError("%v", err)
		return op
	}
	return flavored
}

// calleeFunc resolves a global callee to its function value.
func (c *ZAM) calleeFunc(id *ID) vm.Func {
	if id.Global == nil {
		c.internalError("callee %s has no function value", id.Name)
		return nil
	}
	v := id.Global.Get()
	if v.T == nil || v.T.Tag != vm.TagFunc {
		c.internalError("callee %s has no function value", id.Name)
		return nil
	}
	return v.Z.FuncVal().F
}

// ---------------------------------------------------------------------------
// Built-in intrinsics
// ---------------------------------------------------------------------------

// isZAMBuiltIn recognizes calls to built-in functions by name and
// lowers them to intrinsic opcodes; returns false to fall back to a
// generic call.
func (c *ZAM) isZAMBuiltIn(n *NameExpr, call *CallExpr) bool {
	fn, ok := call.Func.(*NameExpr)
	if !ok || !fn.ID.IsGlobal() || fn.ID.Global == nil {
		return false
	}

	fv := fn.ID.Global.Get()
	if fv.T == nil || fv.T.Tag != vm.TagFunc {
		return false
	}

	bf, ok := fv.Z.FuncVal().F.(vm.BuiltinFunc)
	if !ok || bf.Kind() != vm.KindBuiltinFunc {
		return false
	}

	args := call.Args.Exprs

	switch bf.Name() {
	case "sub_bytes":
		return c.builtInSubBytes(n, args)
	case "to_lower":
		return c.builtInToLower(n, args)
	case "Log::__write":
		return c.builtInLogWrite(n, args)
	case "Broker::__flush_logs":
		return c.builtInFlushLogs(n, args)
	case "get_port_transport_proto":
		return c.builtInGetPortProto(n, args)
	case "reading_live_traffic":
		return c.builtInReadingLiveTraffic(n, args)
	case "reading_traces":
		return c.builtInReadingTraces(n, args)
	case "strstr":
		return c.builtInStrStr(n, args)
	}

	return false
}

// constArgsMask builds a bitmask of which arguments are constants,
// with the first argument in the highest bit.
func (c *ZAM) constArgsMask(args []Expr, nargs int) uint64 {
	var mask uint64
	for i := 0; i < nargs; i++ {
		mask <<= 1
		if _, isConst := args[i].(*ConstExpr); isConst {
			mask |= 1
		}
	}
	return mask
}

func (c *ZAM) builtInToLower(n *NameExpr, args []Expr) bool {
	if n == nil {
		c.rep.Warning("return value from built-in function ignored")
		return true
	}

	argS := args[0].(*NameExpr)
	argSlot := c.frameSlot(argS)
	nslot := c.frame1Slot(n, op1Write)

	z := vm.NewInst(vm.OpToLowerVV, nslot, argSlot)
	c.addInst(z)

	return true
}

func (c *ZAM) builtInSubBytes(n *NameExpr, args []Expr) bool {
	if n == nil {
		c.rep.Warning("return value from built-in function ignored")
		return true
	}

	argS := args[0]
	argStart := args[1]
	argN := args[2]

	v2 := c.frameSlotIfName(argS)
	v3 := c.slotOrImmCount(argStart)
	v4 := c.slotOrImmInt(argN)

	nslot := c.frame1Slot(n, op1Write)

	var cv *ConstExpr
	if sc, ok := argS.(*ConstExpr); ok {
		cv = sc
	}

	var z *vm.ZInst

	switch c.constArgsMask(args, 3) {
	case 0x0: // all variable
		z = vm.NewInst(vm.OpSubBytesVVVV, nslot, v2, v3, v4)
	case 0x1: // last argument a constant
		z = vm.NewInst(vm.OpSubBytesVVVi, nslot, v2, v3, v4)
	case 0x2: // 2nd argument a constant; flip!
		z = vm.NewInst(vm.OpSubBytesVViV, nslot, v2, v4, v3)
	case 0x3: // both 2nd and third are constants
		z = vm.NewInst(vm.OpSubBytesVVii, nslot, v2, v3, v4)
	case 0x4: // first argument a constant
		z = vm.NewInstC(vm.OpSubBytesVVVC, cv.V.Z, cv.V.T, nslot, v3, v4)
	case 0x5: // first and third constant
		z = vm.NewInstC(vm.OpSubBytesVViC, cv.V.Z, cv.V.T, nslot, v3, v4)
	case 0x6: // first and second constant - flip!
		z = vm.NewInstC(vm.OpSubBytesViVC, cv.V.Z, cv.V.T, nslot, v4, v3)
	case 0x7: // whole shebang
		z = vm.NewInstC(vm.OpSubBytesViiC, cv.V.Z, cv.V.T, nslot, v3, v4)
	default:
		c.internalError("bad constant mask")
		return true
	}

	c.addInst(z)

	return true
}

func (c *ZAM) builtInLogWrite(n *NameExpr, args []Expr) bool {
	id := args[0]
	columns, ok := args[1].(*NameExpr)
	if !ok {
		return false
	}

	colSlot := c.frameSlot(columns)

	var z *vm.ZInst

	if n != nil {
		if idc, isConst := id.(*ConstExpr); isConst {
			z = vm.NewInstC(vm.OpLogWriteVVC, idc.V.Z, idc.V.T,
				c.frame1Slot(n, op1Write), colSlot)
		} else {
			idSlot := c.frameSlot(id.(*NameExpr))
			z = vm.NewInst(vm.OpLogWriteVVV, c.frame1Slot(n, op1Write),
				idSlot, colSlot)
		}
	} else {
		if idc, isConst := id.(*ConstExpr); isConst {
			z = vm.NewInstC(vm.OpLogWriteVC, idc.V.Z, idc.V.T, colSlot)
		} else {
			z = vm.NewInst(vm.OpLogWriteVV, c.frameSlot(id.(*NameExpr)), colSlot)
		}
	}

	z.T = columns.Type()

	c.addInst(z)

	return true
}

func (c *ZAM) builtInFlushLogs(n *NameExpr, args []Expr) bool {
	if n != nil {
		c.addInst(vm.NewInst(vm.OpBrokerFlushLogsV, c.frame1Slot(n, op1Write)))
	} else {
		c.addInst(vm.NewInst(vm.OpBrokerFlushLogsX))
	}
	return true
}

func (c *ZAM) builtInGetPortProto(n *NameExpr, args []Expr) bool {
	if n == nil {
		c.rep.Warning("return value from built-in function ignored")
		return true
	}

	p, ok := args[0].(*NameExpr)
	if !ok {
		return false
	}

	pSlot := c.frameSlot(p)
	nslot := c.frame1Slot(n, op1Write)
	c.addInst(vm.NewInst(vm.OpGetPortTransportProtoVV, nslot, pSlot))

	return true
}

func (c *ZAM) builtInReadingLiveTraffic(n *NameExpr, args []Expr) bool {
	if n == nil {
		c.rep.Warning("return value from built-in function ignored")
		return true
	}

	c.addInst(vm.NewInst(vm.OpReadingLiveTrafficV, c.frame1Slot(n, op1Write)))
	return true
}

func (c *ZAM) builtInReadingTraces(n *NameExpr, args []Expr) bool {
	if n == nil {
		c.rep.Warning("return value from built-in function ignored")
		return true
	}

	c.addInst(vm.NewInst(vm.OpReadingTracesV, c.frame1Slot(n, op1Write)))
	return true
}

func (c *ZAM) builtInStrStr(n *NameExpr, args []Expr) bool {
	if n == nil {
		c.rep.Warning("return value from built-in function ignored")
		return true
	}

	big := args[0]
	little := args[1]

	bigN, _ := big.(*NameExpr)
	littleN, _ := little.(*NameExpr)

	var z *vm.ZInst

	switch {
	case bigN != nil && littleN != nil:
		s2 := c.frameSlot(bigN)
		s3 := c.frameSlot(littleN)
		z = vm.NewInst(vm.OpStrStrVVV, c.frame1Slot(n, op1Write), s2, s3)
	case bigN != nil:
		lc := little.(*ConstExpr)
		s2 := c.frameSlot(bigN)
		z = vm.NewInstC(vm.OpStrStrVVC, lc.V.Z, lc.V.T, c.frame1Slot(n, op1Write), s2)
	case littleN != nil:
		bc := big.(*ConstExpr)
		s2 := c.frameSlot(littleN)
		z = vm.NewInstC(vm.OpStrStrVCV, bc.V.Z, bc.V.T, c.frame1Slot(n, op1Write), s2)
	default:
		return false
	}

	c.addInst(z)

	return true
}

// frameSlotIfName returns the slot of a name operand, 0 otherwise.
func (c *ZAM) frameSlotIfName(e Expr) int {
	if n, ok := e.(*NameExpr); ok {
		return c.frameSlot(n)
	}
	return 0
}

// slotOrImmCount resolves a count operand to its slot, or its constant
// value as an immediate.
func (c *ZAM) slotOrImmCount(e Expr) int {
	if n, ok := e.(*NameExpr); ok {
		return c.frameSlot(n)
	}
	return int(e.(*ConstExpr).V.Z.Count())
}

// slotOrImmInt resolves an int operand to its slot, or its constant
// value as an immediate.
func (c *ZAM) slotOrImmInt(e Expr) int {
	if n, ok := e.(*NameExpr); ok {
		return c.frameSlot(n)
	}
	return int(e.(*ConstExpr).V.Z.Int())
}
