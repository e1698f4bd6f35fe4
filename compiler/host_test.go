package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wkleinhenz/zeek/vm"
)

// ---------------------------------------------------------------------------
// Host-facing behavior: events, triggers, logging, profiling
// ---------------------------------------------------------------------------

type recordingEvents struct {
	enqueued  []string
	scheduled []float64
}

func (r *recordingEvents) Enqueue(h vm.EventHandler, args []vm.Val) {
	r.enqueued = append(r.enqueued, h.HandlerName())
}

func (r *recordingEvents) Schedule(when float64, isInterval bool, h vm.EventHandler, args []vm.Val) {
	r.scheduled = append(r.scheduled, when)
}

type recordingTrigger struct {
	deferred int
	isReturn bool
}

func (r *recordingTrigger) Defer(cond any, f *vm.InterpFrame, isReturn bool) {
	r.deferred++
	r.isReturn = isReturn
}

type recordingLog struct {
	writes  int
	flushes int
}

func (r *recordingLog) Write(id, columns vm.Val) bool {
	r.writes++
	return true
}

func (r *recordingLog) FlushLogs() int {
	r.flushes++
	return r.writes
}

type namedHandler string

func (h namedHandler) HandlerName() string { return string(h) }

func TestEventGeneration(t *testing.T) {
	x := paramID("x", vm.TypeCount, 0)

	tf := &testFunc{
		params: []*ID{x},
		body: stmts(
			&EventStmt{
				Handler: namedHandler("connection_seen"),
				Args:    &ListExpr{Exprs: []Expr{nm(x)}},
			},
			ret(cCount(0)),
		),
	}

	body := tf.compile(t)

	events := &recordingEvents{}
	f := vm.NewInterpFrame(1)
	f.SetSlot(0, vm.CountVal(1))

	if _, _, err := body.Exec(&vm.Host{Events: events}, f); err != nil {
		t.Fatalf("exec: %v", err)
	}

	if len(events.enqueued) != 1 || events.enqueued[0] != "connection_seen" {
		t.Errorf("enqueued = %v, want [connection_seen]", events.enqueued)
	}
}

func TestScheduleGeneration(t *testing.T) {
	tf := &testFunc{
		body: stmts(
			&ScheduleStmt{
				When:       cDouble(5.0),
				IsInterval: true,
				Handler:    namedHandler("timeout_check"),
			},
			ret(cCount(0)),
		),
	}

	body := tf.compile(t)

	events := &recordingEvents{}
	if _, _, err := body.Exec(&vm.Host{Events: events}, vm.NewInterpFrame(0)); err != nil {
		t.Fatalf("exec: %v", err)
	}

	if len(events.scheduled) != 1 || events.scheduled[0] != 5.0 {
		t.Errorf("scheduled = %v, want [5]", events.scheduled)
	}
}

func TestWhenDefersCondition(t *testing.T) {
	cond := &ID{Name: "c", T: vm.TypeBool, Scope: ScopeLocal, Offset: 0}

	tf := &testFunc{
		locals: []*ID{cond},
		body: stmts(
			assign(cond, &ConstExpr{V: vm.BoolVal(true)}),
			&WhenStmt{
				Cond:        nm(cond),
				Body:        ret(cCount(1)),
				IsReturn:    true,
				FlushLocals: []*ID{cond},
			},
			ret(cCount(0)),
		),
	}

	body := tf.compile(t)

	trig := &recordingTrigger{}
	v, _, err := body.Exec(&vm.Host{Trigger: trig}, vm.NewInterpFrame(4))
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	if trig.deferred != 1 {
		t.Errorf("deferred = %d, want 1", trig.deferred)
	}
	if !trig.isReturn {
		t.Errorf("isReturn not propagated")
	}
	// Execution falls past the inline blocks.
	if v.Z.Count() != 0 {
		t.Errorf("result = %d, want 0", v.Z.Count())
	}
}

func TestLogWriteIntrinsic(t *testing.T) {
	rt := vm.RecordType("log_rec", []vm.RecordField{
		{Name: "msg", T: vm.TypeString},
	})

	logWrite := globalID("Log::__write", vm.FuncType(vm.TypeBool))
	logWrite.Global.Set(vm.NewVal(logWrite.T, vm.ManagedZVal(vm.NewFuncVal(
		&vm.NativeFunc{FName: "Log::__write"}))))

	cols := paramID("cols", rt, 0)
	idVal := vm.Val{T: vm.BaseType(vm.TagEnum), Z: vm.IntZVal(1)}

	tf := &testFunc{
		params:  []*ID{cols},
		globals: []*ID{logWrite},
		body: stmts(
			&ExprStmt{E: &CallExpr{
				Func: nm(logWrite),
				Args: &ListExpr{Exprs: []Expr{&ConstExpr{V: idVal}, nm(cols)}},
				T:    vm.TypeBool,
			}},
			ret(cCount(0)),
		),
	}

	body := tf.compile(t)

	if got := countOps(body, "log_write"); got != 1 {
		body.Dump(testWriter{t})
		t.Fatalf("log_write ops = %d, want 1", got)
	}

	rv := vm.NewRecordVal(rt)
	rv.SetField(0, vm.ManagedZVal(vm.NewStringVal("hello")))
	arg := vm.NewVal(rt, vm.ManagedZVal(rv))

	log := &recordingLog{}
	f := vm.NewInterpFrame(1)
	f.SetSlot(0, arg)
	arg.ReleaseVal()

	if _, _, err := body.Exec(&vm.Host{Log: log}, f); err != nil {
		t.Fatalf("exec: %v", err)
	}

	if log.writes != 1 {
		t.Errorf("log writes = %d, want 1", log.writes)
	}
}

func TestExecutionProfiling(t *testing.T) {
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

	sink := vm.NewProfileSink(body)
	f := vm.NewInterpFrame(1)
	f.SetSlot(0, vm.CountVal(1))

	if _, _, err := body.ExecProfiled(&vm.Host{}, f, sink); err != nil {
		t.Fatalf("exec: %v", err)
	}

	total := 0
	for _, n := range sink.OpCount {
		total += n
	}
	if total != len(body.Insts) {
		t.Errorf("profiled ops = %d, want %d", total, len(body.Insts))
	}
	if sink.OpCount[vm.OpAddCountVVC] != 1 {
		t.Errorf("add count = %d, want 1", sink.OpCount[vm.OpAddCountVVC])
	}
	for i, n := range sink.InstCount {
		if n != 1 {
			t.Errorf("inst %d count = %d, want 1", i, n)
		}
	}
}

func TestResumption(t *testing.T) {
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

	f := vm.NewInterpFrame(1)
	f.SetSlot(0, vm.CountVal(41))

	res := &vm.Resumption{Body: body, PC: 0}
	v, flow, err := res.Exec(&vm.Host{}, f)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if flow != vm.FlowReturn || v.Z.Count() != 42 {
		t.Errorf("resumed result = %d/%v, want 42/return", v.Z.Count(), flow)
	}
}

// ---------------------------------------------------------------------------
// Options loading
// ---------------------------------------------------------------------------

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zam.toml")
	content := "no_opt = true\nreport_profile = true\ndump_code = false\n"

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	opts, err := LoadOptions(path)
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}

	if !opts.NoOpt || !opts.ReportProfile || opts.DumpCode || opts.Inliner {
		t.Errorf("opts = %+v", opts)
	}
}

func TestLoadOptionsMissingFile(t *testing.T) {
	if _, err := LoadOptions(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Errorf("expected error for missing file")
	}
}
