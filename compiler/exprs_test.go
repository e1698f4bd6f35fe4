package compiler

import (
	"strings"
	"testing"

	"github.com/wkleinhenz/zeek/vm"
)

// ---------------------------------------------------------------------------
// Operator grid: name and constant operands across element types
// ---------------------------------------------------------------------------

func TestArithmeticGrid(t *testing.T) {
	type result struct {
		count uint64
		isInt bool
		i     int64
		isDbl bool
		d     float64
	}

	tests := []struct {
		name   string
		t      *vm.Type
		op     BinOp
		a, b   vm.Val
		bConst bool
		aConst bool
		want   result
	}{
		{"add_count_vars", vm.TypeCount, OpAdd, vm.CountVal(2), vm.CountVal(3), false, false, result{count: 5}},
		{"add_count_const", vm.TypeCount, OpAdd, vm.CountVal(2), vm.CountVal(3), true, false, result{count: 5}},
		{"add_count_const_first", vm.TypeCount, OpAdd, vm.CountVal(2), vm.CountVal(3), false, true, result{count: 5}},
		{"sub_count_const_first", vm.TypeCount, OpSub, vm.CountVal(9), vm.CountVal(4), false, true, result{count: 5}},
		{"sub_int_vars", vm.TypeInt, OpSub, vm.IntVal(3), vm.IntVal(10), false, false, result{isInt: true, i: -7}},
		{"mul_int_const", vm.TypeInt, OpMul, vm.IntVal(-3), vm.IntVal(4), true, false, result{isInt: true, i: -12}},
		{"div_count_vars", vm.TypeCount, OpDiv, vm.CountVal(17), vm.CountVal(5), false, false, result{count: 3}},
		{"mod_count_const", vm.TypeCount, OpMod, vm.CountVal(17), vm.CountVal(5), true, false, result{count: 2}},
		{"add_double_vars", vm.TypeDouble, OpAdd, vm.DoubleVal(1.5), vm.DoubleVal(2.25), false, false, result{isDbl: true, d: 3.75}},
		{"div_double_const_first", vm.TypeDouble, OpDiv, vm.DoubleVal(10), vm.DoubleVal(4), false, true, result{isDbl: true, d: 2.5}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pa := paramID("a", tc.t, 0)
			pb := paramID("b", tc.t, 1)
			tmp := localID("#0", tc.t)

			var n1, n2 Expr = nm(pa), nm(pb)
			params := []*ID{pa, pb}
			args := []vm.Val{tc.a, tc.b}

			if tc.aConst {
				n1 = &ConstExpr{V: tc.a}
				params = []*ID{pb}
				pb.Offset = 0
				args = []vm.Val{tc.b}
			}
			if tc.bConst {
				n2 = &ConstExpr{V: tc.b}
				params = []*ID{pa}
				args = []vm.Val{tc.a}
			}

			tf := &testFunc{
				params: params,
				locals: []*ID{tmp},
				body: stmts(
					assign(tmp, &BinaryExpr{Op: tc.op, N1: n1, N2: n2, T: tc.t}),
					ret(nm(tmp)),
				),
			}

			v := exec(t, tf.compile(t), args...)

			switch {
			case tc.want.isInt:
				if v.Z.Int() != tc.want.i {
					t.Errorf("got %d, want %d", v.Z.Int(), tc.want.i)
				}
			case tc.want.isDbl:
				if v.Z.Double() != tc.want.d {
					t.Errorf("got %f, want %f", v.Z.Double(), tc.want.d)
				}
			default:
				if v.Z.Count() != tc.want.count {
					t.Errorf("got %d, want %d", v.Z.Count(), tc.want.count)
				}
			}
		})
	}
}

func TestComparisonGrid(t *testing.T) {
	tests := []struct {
		name   string
		t      *vm.Type
		op     BinOp
		a, b   vm.Val
		bConst bool
		want   bool
	}{
		{"lt_count_true", vm.TypeCount, OpLt, vm.CountVal(2), vm.CountVal(3), false, true},
		{"lt_count_false", vm.TypeCount, OpLt, vm.CountVal(3), vm.CountVal(3), false, false},
		{"le_count_const", vm.TypeCount, OpLe, vm.CountVal(3), vm.CountVal(3), true, true},
		{"gt_int", vm.TypeInt, OpGt, vm.IntVal(5), vm.IntVal(-2), false, true},
		{"ge_int_const", vm.TypeInt, OpGe, vm.IntVal(-2), vm.IntVal(5), true, false},
		{"eq_double", vm.TypeDouble, OpEq, vm.DoubleVal(1.5), vm.DoubleVal(1.5), false, true},
		{"ne_double_const", vm.TypeDouble, OpNe, vm.DoubleVal(1.5), vm.DoubleVal(2.5), true, true},
		{"eq_string", vm.TypeString, OpEq, vm.StringValOf("abc"), vm.StringValOf("abc"), false, true},
		{"lt_string_const", vm.TypeString, OpLt, vm.StringValOf("abc"), vm.StringValOf("abd"), true, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pa := paramID("a", tc.t, 0)
			pb := paramID("b", tc.t, 1)
			tmp := localID("#0", vm.TypeBool)

			var n2 Expr = nm(pb)
			params := []*ID{pa, pb}
			args := []vm.Val{tc.a, tc.b}

			if tc.bConst {
				n2 = &ConstExpr{V: tc.b}
				params = []*ID{pa}
				args = []vm.Val{tc.a}
			}

			tf := &testFunc{
				params: params,
				locals: []*ID{tmp},
				body: stmts(
					assign(tmp, &BinaryExpr{Op: tc.op, N1: nm(pa), N2: n2, T: vm.TypeBool}),
					ret(nm(tmp)),
				),
			}

			v := exec(t, tf.compile(t), args...)
			if v.Z.Bool() != tc.want {
				t.Errorf("got %v, want %v", v.Z.Bool(), tc.want)
			}
		})
	}
}

func TestStringConcat(t *testing.T) {
	a := paramID("a", vm.TypeString, 0)
	tmp := localID("#0", vm.TypeString)

	tf := &testFunc{
		params: []*ID{a},
		locals: []*ID{tmp},
		body: stmts(
			assign(tmp, &BinaryExpr{Op: OpCat, N1: nm(a), N2: cStr("!"), T: vm.TypeString}),
			ret(nm(tmp)),
		),
	}

	body := tf.compile(t)

	arg := vm.StringValOf("hi")
	v := exec(t, body, arg)
	arg.ReleaseVal()

	if got := v.Z.StringVal().String(); got != "hi!" {
		t.Errorf("concat = %q, want %q", got, "hi!")
	}
	v.ReleaseVal()
}

// ---------------------------------------------------------------------------
// Membership and pattern tests
// ---------------------------------------------------------------------------

func TestMembershipForms(t *testing.T) {
	tests := []struct {
		name string
		lhs  vm.Val
		rhs  vm.Val
		want bool
	}{
		{"pattern_in_string", vm.PatternValOf("foo+"), vm.StringValOf("xfooox"), true},
		{"pattern_not_in_string", vm.PatternValOf("^bar"), vm.StringValOf("xbar"), false},
		{"string_in_string", vm.StringValOf("ell"), vm.StringValOf("hello"), true},
		{"addr_in_subnet", vm.AddrValOf("10.1.2.3"), vm.SubNetValOf("10.1.0.0/16"), true},
		{"addr_not_in_subnet", vm.AddrValOf("10.2.2.3"), vm.SubNetValOf("10.1.0.0/16"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pa := paramID("a", tc.lhs.T, 0)
			pb := paramID("b", tc.rhs.T, 1)
			tmp := localID("#0", vm.TypeBool)

			tf := &testFunc{
				params: []*ID{pa, pb},
				locals: []*ID{tmp},
				body: stmts(
					assign(tmp, &InExpr{Op1: nm(pa), Op2: nm(pb)}),
					ret(nm(tmp)),
				),
			}

			v := exec(t, tf.compile(t), tc.lhs, tc.rhs)
			if v.Z.Bool() != tc.want {
				t.Errorf("got %v, want %v", v.Z.Bool(), tc.want)
			}
			tc.lhs.ReleaseVal()
			tc.rhs.ReleaseVal()
		})
	}
}

func TestInTableCond(t *testing.T) {
	st := vm.SetType([]*vm.Type{vm.TypeCount})

	x := paramID("x", vm.TypeCount, 0)
	tp := paramID("t", st, 1)

	tf := &testFunc{
		params: []*ID{x, tp},
		body: stmts(
			&IfStmt{
				Cond: &InExpr{Op1: nm(x), Op2: nm(tp)},
				S1:   ret(cCount(1)),
				S2:   ret(cCount(0)),
			},
		),
	}

	body := tf.compile(t)

	if got := countOps(body, "val_is_in_table_cond"); got != 1 {
		body.Dump(testWriter{t})
		t.Fatalf("val_is_in_table_cond ops = %d, want 1", got)
	}

	tv := vm.NewTableVal(st)
	tv.Insert([]vm.Val{vm.CountVal(7)}, vm.Val{})
	arg := vm.NewVal(st, vm.ManagedZVal(tv))

	if v := exec(t, body, vm.CountVal(7), arg); v.Z.Count() != 1 {
		t.Errorf("7 in t = %d, want 1", v.Z.Count())
	}
	if v := exec(t, body, vm.CountVal(8), arg); v.Z.Count() != 0 {
		t.Errorf("8 in t = %d, want 0", v.Z.Count())
	}

	arg.ReleaseVal()
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

func TestRecordFieldAccess(t *testing.T) {
	rt := vm.RecordType("info", []vm.RecordField{
		{Name: "n", T: vm.TypeCount},
		{Name: "label", T: vm.TypeString},
	})

	r := paramID("r", rt, 0)
	out := localID("out", vm.TypeCount)

	tf := &testFunc{
		params: []*ID{r},
		locals: []*ID{out},
		body: stmts(
			&IfStmt{
				Cond: &HasFieldExpr{Op: nm(r), Field: 0},
				S1:   assign(out, &FieldExpr{Rec: nm(r), Field: 0}),
				S2:   assign(out, cCount(0)),
			},
			ret(nm(out)),
		),
	}

	body := tf.compile(t)

	if got := countOps(body, "has_field_cond") + countOps(body, "not_has_field_cond"); got != 1 {
		body.Dump(testWriter{t})
		t.Fatalf("has_field_cond ops = %d, want 1", got)
	}

	rv := vm.NewRecordVal(rt)
	rv.SetField(0, vm.CountZVal(7))
	arg := vm.NewVal(rt, vm.ManagedZVal(rv))

	if v := exec(t, body, arg); v.Z.Count() != 7 {
		t.Errorf("r$n = %d, want 7", v.Z.Count())
	}

	empty := vm.NewVal(rt, vm.ManagedZVal(vm.NewRecordVal(rt)))
	if v := exec(t, body, empty); v.Z.Count() != 0 {
		t.Errorf("missing field path = %d, want 0", v.Z.Count())
	}

	arg.ReleaseVal()
	empty.ReleaseVal()
}

func TestRecordFieldAssign(t *testing.T) {
	rt := vm.RecordType("pair", []vm.RecordField{
		{Name: "n", T: vm.TypeCount},
	})

	r := paramID("r", rt, 0)
	out := localID("#0", vm.TypeCount)

	tf := &testFunc{
		params: []*ID{r},
		locals: []*ID{out},
		body: stmts(
			&ExprStmt{E: &FieldAssignExpr{Rec: nm(r), Field: 0, RHS: cCount(9)}},
			assign(out, &FieldExpr{Rec: nm(r), Field: 0}),
			ret(nm(out)),
		),
	}

	body := tf.compile(t)

	arg := vm.NewVal(rt, vm.ManagedZVal(vm.NewRecordVal(rt)))
	v := exec(t, body, arg)
	arg.ReleaseVal()

	if v.Z.Count() != 9 {
		t.Errorf("r$n = %d, want 9", v.Z.Count())
	}
}

// ---------------------------------------------------------------------------
// Vectors
// ---------------------------------------------------------------------------

func TestVectorizedAddAndIndex(t *testing.T) {
	vt := vm.VectorType(vm.TypeCount)

	v1 := paramID("v1", vt, 0)
	w := localID("#0", vt)
	x := localID("#1", vm.TypeCount)

	tf := &testFunc{
		params: []*ID{v1},
		locals: []*ID{w, x},
		body: stmts(
			assign(w, &BinaryExpr{Op: OpAdd, N1: nm(v1), N2: nm(v1), T: vt}),
			assign(x, &IndexExpr{Agg: nm(w),
				Indices: &ListExpr{Exprs: []Expr{cCount(1)}}, T: vm.TypeCount}),
			ret(nm(x)),
		),
	}

	body := tf.compile(t)

	if got := countOps(body, "add_vec_count"); got != 1 {
		t.Fatalf("add_vec_count ops = %d, want 1", got)
	}

	vec := vm.NewVectorVal(vt)
	vec.SetElem(0, vm.CountZVal(10))
	vec.SetElem(1, vm.CountZVal(20))
	arg := vm.NewVal(vt, vm.ManagedZVal(vec))

	v := exec(t, body, arg)
	arg.ReleaseVal()

	if v.Z.Count() != 40 {
		t.Errorf("(v+v)[1] = %d, want 40", v.Z.Count())
	}
}

func TestVectorElemAssign(t *testing.T) {
	vt := vm.VectorType(vm.TypeCount)

	v1 := paramID("v1", vt, 0)
	x := localID("#0", vm.TypeCount)

	tf := &testFunc{
		params: []*ID{v1},
		locals: []*ID{x},
		body: stmts(
			&ExprStmt{E: &IndexAssignExpr{
				Op1: nm(v1),
				Op2: &ListExpr{Exprs: []Expr{cCount(0)}},
				Op3: cCount(99),
			}},
			assign(x, &IndexExpr{Agg: nm(v1),
				Indices: &ListExpr{Exprs: []Expr{cCount(0)}}, T: vm.TypeCount}),
			ret(nm(x)),
		),
	}

	body := tf.compile(t)

	vec := vm.NewVectorVal(vt)
	vec.SetElem(0, vm.CountZVal(1))
	arg := vm.NewVal(vt, vm.ManagedZVal(vec))

	v := exec(t, body, arg)
	arg.ReleaseVal()

	if v.Z.Count() != 99 {
		t.Errorf("v[0] = %d, want 99", v.Z.Count())
	}
}

// ---------------------------------------------------------------------------
// Constructors and coercions
// ---------------------------------------------------------------------------

func TestTableConstructorAndIndex(t *testing.T) {
	tt := vm.TableType([]*vm.Type{vm.TypeCount}, vm.TypeString)

	tbl := localID("#0", tt)
	out := localID("#1", vm.TypeString)

	tf := &testFunc{
		locals: []*ID{tbl, out},
		body: stmts(
			assign(tbl, &ConstructorExpr{
				Kind: CtorTable,
				Elems: &ListExpr{Exprs: []Expr{
					&ListExpr{Exprs: []Expr{cCount(1), cStr("one")}},
					&ListExpr{Exprs: []Expr{cCount(2), cStr("two")}},
				}},
				T: tt,
			}),
			assign(out, &IndexExpr{Agg: nm(tbl),
				Indices: &ListExpr{Exprs: []Expr{cCount(2)}}, T: vm.TypeString}),
			ret(nm(out)),
		),
	}

	body := tf.compile(t)

	v := exec(t, body)
	if got := v.Z.StringVal().String(); got != "two" {
		t.Errorf("t[2] = %q, want %q", got, "two")
	}
	v.ReleaseVal()
}

func TestArithCoercions(t *testing.T) {
	tests := []struct {
		name string
		from *vm.Type
		to   *vm.Type
		in   vm.Val
		want vm.Val
	}{
		{"count_to_double", vm.TypeCount, vm.TypeDouble, vm.CountVal(3), vm.DoubleVal(3)},
		{"int_to_double", vm.TypeInt, vm.TypeDouble, vm.IntVal(-2), vm.DoubleVal(-2)},
		{"double_to_int", vm.TypeDouble, vm.TypeInt, vm.DoubleVal(-2.75), vm.IntVal(-2)},
		{"count_to_int", vm.TypeCount, vm.TypeInt, vm.CountVal(9), vm.IntVal(9)},
		{"int_to_count", vm.TypeInt, vm.TypeCount, vm.IntVal(9), vm.CountVal(9)},
		{"double_to_count", vm.TypeDouble, vm.TypeCount, vm.DoubleVal(7.9), vm.CountVal(7)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := paramID("x", tc.from, 0)
			tmp := localID("#0", tc.to)

			tf := &testFunc{
				params: []*ID{p},
				locals: []*ID{tmp},
				body: stmts(
					assign(tmp, &CoerceExpr{Kind: CoerceArith, Op: nm(p), T: tc.to}),
					ret(nm(tmp)),
				),
			}

			v := exec(t, tf.compile(t), tc.in)
			if v.Z != tc.want.Z {
				t.Errorf("coerce = %+v, want %+v", v.Z, tc.want.Z)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Built-in intrinsics
// ---------------------------------------------------------------------------

func builtinGlobal(name string) *ID {
	id := globalID(name, vm.FuncType(vm.TypeString))
	id.Global.Set(vm.NewVal(id.T, vm.ManagedZVal(vm.NewFuncVal(
		&vm.NativeFunc{FName: name}))))
	return id
}

func TestSubBytesConstForms(t *testing.T) {
	subBytes := builtinGlobal("sub_bytes")

	s := paramID("s", vm.TypeString, 0)
	r := localID("#0", vm.TypeString)

	tf := &testFunc{
		params:  []*ID{s},
		locals:  []*ID{r},
		globals: []*ID{subBytes},
		body: stmts(
			assign(r, &CallExpr{
				Func: nm(subBytes),
				Args: &ListExpr{Exprs: []Expr{nm(s), cCount(2), cInt(2)}},
				T:    vm.TypeString,
			}),
			ret(nm(r)),
		),
	}

	body := tf.compile(t)

	if got := countOps(body, "sub_bytes"); got != 1 {
		t.Fatalf("sub_bytes ops = %d, want 1", got)
	}

	arg := vm.StringValOf("hello")
	v := exec(t, body, arg)
	arg.ReleaseVal()

	if got := v.Z.StringVal().String(); got != "el" {
		t.Errorf("sub_bytes(hello, 2, 2) = %q, want %q", got, "el")
	}
	v.ReleaseVal()
}

func TestStrStrIntrinsic(t *testing.T) {
	strstr := builtinGlobal("strstr")

	big := paramID("big", vm.TypeString, 0)
	r := localID("#0", vm.TypeCount)

	tf := &testFunc{
		params:  []*ID{big},
		locals:  []*ID{r},
		globals: []*ID{strstr},
		body: stmts(
			assign(r, &CallExpr{
				Func: nm(strstr),
				Args: &ListExpr{Exprs: []Expr{nm(big), cStr("lo")}},
				T:    vm.TypeCount,
			}),
			ret(nm(r)),
		),
	}

	body := tf.compile(t)

	if got := countOps(body, "strstr"); got != 1 {
		t.Fatalf("strstr ops = %d, want 1", got)
	}

	arg := vm.StringValOf("hello")
	v := exec(t, body, arg)
	arg.ReleaseVal()

	if v.Z.Count() != 4 {
		t.Errorf("strstr(hello, lo) = %d, want 4", v.Z.Count())
	}
}

// ---------------------------------------------------------------------------
// Runtime errors and resource safety
// ---------------------------------------------------------------------------

func TestDivisionByZeroErrors(t *testing.T) {
	x := paramID("x", vm.TypeCount, 0)
	tmp := localID("#0", vm.TypeCount)

	tf := &testFunc{
		params: []*ID{x},
		locals: []*ID{tmp},
		body: stmts(
			assign(tmp, &BinaryExpr{Op: OpDiv, N1: cCount(10), N2: nm(x), T: vm.TypeCount}),
			ret(nm(tmp)),
		),
	}

	body := tf.compile(t)

	if v := exec(t, body, vm.CountVal(2)); v.Z.Count() != 5 {
		t.Errorf("10/2 = %d, want 5", v.Z.Count())
	}

	_, _, err := execFlow(t, body, vm.CountVal(0))
	if err == nil {
		t.Fatalf("10/0 did not error")
	}
	if !strings.Contains(err.Error(), "division by zero") {
		t.Errorf("error = %v, want division by zero", err)
	}
}

func TestManagedSlotsReleasedOnExit(t *testing.T) {
	toLower := builtinGlobal("to_lower")

	s := paramID("s", vm.TypeString, 0)
	r := localID("#0", vm.TypeString)

	tf := &testFunc{
		params:  []*ID{s},
		locals:  []*ID{r},
		globals: []*ID{toLower},
		body: stmts(
			assign(r, &CallExpr{
				Func: nm(toLower),
				Args: &ListExpr{Exprs: []Expr{nm(s)}},
				T:    vm.TypeString,
			}),
			ret(nm(r)),
		),
	}

	body := tf.compile(t)

	arg := vm.StringValOf("LEAK CHECK")
	f := vm.NewInterpFrame(1)
	f.SetSlot(0, arg)
	arg.ReleaseVal()

	before := vm.NumLiveVals()

	for i := 0; i < 3; i++ {
		v, _, err := body.Exec(&vm.Host{}, f)
		if err != nil {
			t.Fatalf("exec: %v", err)
		}
		v.ReleaseVal()
	}

	if after := vm.NumLiveVals(); after != before {
		t.Errorf("live vals %d -> %d: managed slots leaked", before, after)
	}
}

func TestFixedFrameReuse(t *testing.T) {
	x := paramID("x", vm.TypeCount, 0)
	tmp := localID("#0", vm.TypeCount)

	tf := &testFunc{
		fn:     &ScriptFunc{FName: "nonrec", Flavor: FlavorFunction, NonRecursive: true},
		params: []*ID{x},
		locals: []*ID{tmp},
		body: stmts(
			assign(tmp, &BinaryExpr{Op: OpMul, N1: nm(x), N2: cCount(2), T: vm.TypeCount}),
			ret(nm(tmp)),
		),
	}

	body := tf.compile(t)

	if !body.HasFixedFrame() {
		t.Fatalf("non-recursive body did not get a fixed frame")
	}

	for i := uint64(1); i <= 3; i++ {
		if v := exec(t, body, vm.CountVal(i)); v.Z.Count() != 2*i {
			t.Errorf("f(%d) = %d, want %d", i, v.Z.Count(), 2*i)
		}
	}

	body.ReleaseFrame()
}
