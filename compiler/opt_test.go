package compiler

import (
	"bytes"
	"strings"
	"testing"

	"github.com/wkleinhenz/zeek/vm"
)

// ---------------------------------------------------------------------------
// Optimizer properties
// ---------------------------------------------------------------------------

func TestDeadCodeEliminated(t *testing.T) {
	a := localID("a", vm.TypeCount)

	tf := &testFunc{
		locals: []*ID{a},
		body: stmts(
			ret(cCount(1)),
			assign(a, cCount(2)), // unreachable
		),
	}

	body := tf.compile(t)

	for i, z := range body.Insts {
		if !z.Live {
			t.Errorf("inst %d in final code is dead", i)
		}
	}
	if got := countOps(body, "assign"); got != 0 {
		body.Dump(testWriter{t})
		t.Errorf("unreachable assignment survived (%d assigns)", got)
	}
}

func TestUnusedAssignmentPruned(t *testing.T) {
	a := localID("a", vm.TypeCount)
	b := localID("b", vm.TypeCount)

	tf := &testFunc{
		locals: []*ID{a, b},
		body: stmts(
			assign(a, cCount(1)), // never used
			assign(b, cCount(2)),
			ret(nm(b)),
		),
	}

	body := tf.compile(t)

	if got := countOps(body, "assign_const"); got != 1 {
		body.Dump(testWriter{t})
		t.Errorf("assign_const ops = %d, want 1 (dead store kept)", got)
	}
	if body.FrameSize != 1 {
		t.Errorf("frame size = %d, want 1", body.FrameSize)
	}
}

func TestNoBranchToNextInstruction(t *testing.T) {
	x := paramID("x", vm.TypeCount, 0)
	r := localID("r", vm.TypeCount)
	cond := localID("#0", vm.TypeBool)

	tf := &testFunc{
		params: []*ID{x},
		locals: []*ID{r, cond},
		body: stmts(
			assign(cond, &BinaryExpr{Op: OpLt, N1: nm(x), N2: cCount(5), T: vm.TypeBool}),
			&IfStmt{Cond: nm(cond), S1: assign(r, cCount(1)), S2: assign(r, cCount(2))},
			ret(nm(r)),
		),
	}

	body := tf.compile(t)

	for i, z := range body.Insts {
		if z.Op == vm.OpGotoV && z.V1 == i+1 {
			body.Dump(testWriter{t})
			t.Errorf("inst %d branches to its successor", i)
		}
	}
}

func TestBranchResolution(t *testing.T) {
	x := paramID("x", vm.TypeCount, 0)
	i := localID("i", vm.TypeCount)

	tf := &testFunc{
		params: []*ID{x},
		locals: []*ID{i},
		body: stmts(
			assign(i, cCount(0)),
			&WhileStmt{
				Cond: &BinaryExpr{Op: OpLt, N1: nm(i), N2: nm(x), T: vm.TypeBool},
				Body: stmts(
					assign(i, &BinaryExpr{Op: OpAdd, N1: nm(i), N2: cCount(1), T: vm.TypeCount}),
				),
			},
			&SwitchStmt{
				E: nm(i),
				Cases: []*SwitchCase{
					{Vals: []vm.Val{vm.CountVal(0)}, Body: ret(cCount(100))},
					{Body: ret(nm(i))},
				},
				DefaultIdx: 1,
			},
		),
	}

	body := tf.compile(t)

	n := len(body.Insts)

	for idx, z := range body.Insts {
		if z.Target != nil {
			got := branchOperand(z, z.TargetSlot)
			if got < 0 || got > n {
				t.Errorf("inst %d: branch operand %d out of range", idx, got)
			}
			if z.Target.Live && got != z.Target.InstNum {
				t.Errorf("inst %d: operand %d != target inst_num %d",
					idx, got, z.Target.InstNum)
			}
		}
		if z.Target2 != nil {
			got := branchOperand(z, z.Target2Slot)
			if got < 0 || got > n {
				t.Errorf("inst %d: secondary branch operand %d out of range", idx, got)
			}
		}
	}

	for _, m := range body.UintCases {
		for k, target := range m {
			if target < 0 || target > n {
				t.Errorf("case %d: target %d out of range", k, target)
			}
		}
	}
}

func branchOperand(z *vm.ZInst, slot int) int {
	switch slot {
	case 1:
		return z.V1
	case 2:
		return z.V2
	case 3:
		return z.V3
	case 4:
		return z.V4
	}
	return -1
}

func TestLabelAccounting(t *testing.T) {
	x := paramID("x", vm.TypeCount, 0)
	r := localID("r", vm.TypeCount)
	cond := localID("#0", vm.TypeBool)

	tf := &testFunc{
		params: []*ID{x},
		locals: []*ID{r, cond},
		body: stmts(
			assign(cond, &BinaryExpr{Op: OpLt, N1: nm(x), N2: cCount(5), T: vm.TypeBool}),
			&IfStmt{Cond: nm(cond), S1: assign(r, cCount(1)), S2: assign(r, cCount(2))},
			ret(nm(r)),
		),
	}

	body := tf.compile(t)

	refs := make(map[*vm.ZInst]int)
	for _, z := range body.Insts {
		if z.Target != nil && z.Target.Live {
			refs[z.Target]++
		}
		if z.Target2 != nil && z.Target2.Live {
			refs[z.Target2]++
		}
	}

	for _, z := range body.Insts {
		if z.NumLabels != refs[z] {
			t.Errorf("inst %d: num_labels = %d, references = %d",
				z.InstNum, z.NumLabels, refs[z])
		}
	}
}

func TestFrameMinimality(t *testing.T) {
	// Five locals, but at most two are live at once.
	a := localID("a", vm.TypeCount)
	b := localID("b", vm.TypeCount)
	c := localID("c", vm.TypeCount)
	d := localID("d", vm.TypeCount)
	e := localID("e", vm.TypeCount)

	tf := &testFunc{
		locals: []*ID{a, b, c, d, e},
		body: stmts(
			assign(a, cCount(1)),
			assign(b, &BinaryExpr{Op: OpAdd, N1: nm(a), N2: cCount(1), T: vm.TypeCount}),
			assign(c, &BinaryExpr{Op: OpAdd, N1: nm(b), N2: cCount(1), T: vm.TypeCount}),
			assign(d, &BinaryExpr{Op: OpAdd, N1: nm(c), N2: cCount(1), T: vm.TypeCount}),
			assign(e, &BinaryExpr{Op: OpAdd, N1: nm(d), N2: cCount(1), T: vm.TypeCount}),
			ret(nm(e)),
		),
	}

	body := tf.compile(t)

	if body.FrameSize > 2 {
		body.Dump(testWriter{t})
		t.Errorf("frame size = %d, want <= 2", body.FrameSize)
	}

	if v := exec(t, body); v.Z.Count() != 5 {
		t.Errorf("chain = %d, want 5", v.Z.Count())
	}
}

func TestOptimizationDeterministic(t *testing.T) {
	build := func() *testFunc {
		a := localID("a", vm.TypeCount)
		b := localID("b", vm.TypeCount)
		c := localID("c", vm.TypeCount)
		return &testFunc{
			locals: []*ID{a, b, c},
			body: stmts(
				assign(a, cCount(1)),
				assign(b, cCount(2)),
				assign(c, &BinaryExpr{Op: OpAdd, N1: nm(a), N2: nm(b), T: vm.TypeCount}),
				ret(nm(c)),
			),
		}
	}

	var first, second bytes.Buffer
	build().compile(t).Dump(&first)
	build().compile(t).Dump(&second)

	if first.String() != second.String() {
		t.Errorf("same input compiled to different streams:\n%s\n---\n%s",
			first.String(), second.String())
	}
}

func TestNoOptStillExecutes(t *testing.T) {
	x := paramID("x", vm.TypeCount, 0)
	tmp := localID("#0", vm.TypeCount)

	tf := &testFunc{
		params: []*ID{x},
		locals: []*ID{tmp},
		opts:   &Options{NoOpt: true},
		body: stmts(
			assign(tmp, &BinaryExpr{Op: OpAdd, N1: nm(x), N2: cCount(1), T: vm.TypeCount}),
			ret(nm(tmp)),
		),
	}

	body := tf.compile(t)

	if v := exec(t, body, vm.CountVal(41)); v.Z.Count() != 42 {
		t.Errorf("unoptimized f(41) = %d, want 42", v.Z.Count())
	}
}

// ---------------------------------------------------------------------------
// Dump round-trip
// ---------------------------------------------------------------------------

func TestDumpRoundTrip(t *testing.T) {
	x := paramID("x", vm.TypeCount, 0)
	tmp := localID("#0", vm.TypeCount)

	tf := &testFunc{
		params: []*ID{x},
		locals: []*ID{tmp},
		body: stmts(
			assign(tmp, &BinaryExpr{Op: OpAdd, N1: nm(x), N2: cCount(1), T: vm.TypeCount}),
			ret(nm(tmp)),
		),
	}

	body := tf.compile(t)

	var buf bytes.Buffer
	body.Dump(&buf)

	inFinal := false
	parsed := 0

	for _, line := range strings.Split(buf.String(), "\n") {
		if line == "Final code:" {
			inFinal = true
			continue
		}
		if !inFinal || line == "" || strings.Contains(line, "switch table") {
			continue
		}

		_, rest, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		mnemonic := strings.Fields(rest)[0]

		if _, ok := vm.OpByName(mnemonic); !ok {
			t.Errorf("dump mnemonic %q does not resolve", mnemonic)
		}
		parsed++
	}

	if parsed != len(body.Insts) {
		t.Errorf("parsed %d final instructions, want %d", parsed, len(body.Insts))
	}
}

// ---------------------------------------------------------------------------
// Interpreter-frame finalization
// ---------------------------------------------------------------------------

func TestFinalizeFunctions(t *testing.T) {
	x := paramID("x", vm.TypeCount, 0)
	tmp := localID("#0", vm.TypeCount)

	fn := &ScriptFunc{FName: "sized", Flavor: FlavorFunction}
	tf := &testFunc{
		fn:     fn,
		params: []*ID{x},
		locals: []*ID{tmp},
		body: stmts(
			assign(tmp, &BinaryExpr{Op: OpAdd, N1: nm(x), N2: cCount(1), T: vm.TypeCount}),
			ret(nm(tmp)),
		),
	}

	tf.compile(t)

	FinalizeFunctions([]*ScriptFunc{fn})

	// One parameter, no interpreter-resident locals.
	if fn.FrameSize() != 1 {
		t.Errorf("finalized frame size = %d, want 1", fn.FrameSize())
	}
}
